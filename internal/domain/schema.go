package domain

import "fmt"

// Schema selects the column set of a record log. It is fixed for the
// lifetime of a log file.
type Schema string

const (
	// SchemaBasic is the minimal environmental column set.
	SchemaBasic Schema = "basic"
	// SchemaExtended adds humidity and the cooler actuator columns.
	SchemaExtended Schema = "extended"
)

// ParseSchema maps a configuration string onto a Schema.
func ParseSchema(s string) (Schema, error) {
	switch Schema(s) {
	case SchemaBasic, SchemaExtended:
		return Schema(s), nil
	default:
		return "", fmt.Errorf("unknown log schema %q (want %q or %q)", s, SchemaBasic, SchemaExtended)
	}
}

// Columns returns the CSV header for the schema, in write order.
func (s Schema) Columns() []string {
	switch s {
	case SchemaExtended:
		return []string{
			"timestamp_received", "timestamp_device", "device",
			"temperature", "humidity", "pressure",
			"cooler_running", "cooler_runtime", "total_elapsed_time",
			"cooler_ever_started", "manual_override",
		}
	default:
		return []string{
			"timestamp_received", "timestamp_device", "device",
			"temperature", "pressure", "altitude",
		}
	}
}
