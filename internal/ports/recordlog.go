package ports

import "github.com/DJA-prog/MCU/internal/domain"

// RecordWriter appends one committed reading at a time to the durable log.
type RecordWriter interface {
	Append(r *domain.Reading) error
}

// RecordScanner streams the durable log in append order. A log that does
// not exist yet scans as empty. Returning an error from fn aborts the scan.
type RecordScanner interface {
	Scan(fn func(r *domain.Reading) error) error
}
