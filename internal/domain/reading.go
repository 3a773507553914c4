package domain

import "time"

// DeviceUnknown is the device identity recorded when a frame carries none.
const DeviceUnknown = "unknown"

// Reading is one accepted environmental sample. ReceivedAt is assigned by
// the ingestion loop and is the only ordering-significant timestamp;
// DeviceAt is kept verbatim as reported by the device and never parsed.
// Nil measurement pointers mean the field was absent on the wire, which
// is distinct from a measured zero.
type Reading struct {
	ReceivedAt  time.Time `json:"timestamp_received"`
	DeviceAt    string    `json:"timestamp_device,omitempty"`
	Device      string    `json:"device"`
	Temperature *float64  `json:"temperature,omitempty"`
	Humidity    *float64  `json:"humidity,omitempty"`
	Pressure    *float64  `json:"pressure,omitempty"`
	Altitude    *float64  `json:"altitude,omitempty"`

	ActuatorState
}

// ActuatorState mirrors the cooler telemetry of the extended wire schema.
// Every field is independently optional.
type ActuatorState struct {
	CoolerRunning     *bool    `json:"cooler_running,omitempty"`
	CoolerRuntime     *float64 `json:"cooler_runtime,omitempty"`
	TotalElapsedTime  *float64 `json:"total_elapsed_time,omitempty"`
	CoolerEverStarted *bool    `json:"cooler_ever_started,omitempty"`
	ManualOverride    *bool    `json:"manual_override,omitempty"`
}
