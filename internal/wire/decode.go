// Package wire classifies raw frames coming off a transport. Decoding is
// pure: no I/O, no state, identical input always yields identical output.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/DJA-prog/MCU/internal/domain"
)

type Kind int

const (
	// KindReading carries a decoded measurement frame.
	KindReading Kind = iota
	// KindIgnored marks frames that are valid but carry nothing to record
	// (empty lines, JSON without any measurement field).
	KindIgnored
	// KindStatus carries a device status line.
	KindStatus
	// KindAck is the bare OK / ERROR command acknowledgement.
	KindAck
	// KindUnrecognized is anything that matches no known shape.
	KindUnrecognized
	// KindInvalid marks frames that look like JSON but fail to parse.
	KindInvalid
)

const (
	statusPrefix = "STATUS:"
	errorPrefix  = "ERROR:"
)

// StatusEvent is a human-readable line reported by the device. Error is
// set when the device used the ERROR: prefix.
type StatusEvent struct {
	Text  string
	Error bool
}

// Result is the outcome of decoding one frame. Exactly one of the
// kind-specific fields is meaningful, selected by Kind. Raw holds the
// trimmed frame text for logging.
type Result struct {
	Kind    Kind
	Raw     string
	Reading *domain.Reading
	Status  StatusEvent
	AckOK   bool
	Err     error
}

// frame mirrors the JSON the firmware emits. Unknown keys, including the
// PID diagnostic fields, fall away on unmarshal.
type frame struct {
	Device            string          `json:"device"`
	Timestamp         json.RawMessage `json:"timestamp"`
	Temperature       *float64        `json:"temperature"`
	Humidity          *float64        `json:"humidity"`
	Pressure          *float64        `json:"pressure"`
	Altitude          *float64        `json:"altitude"`
	CoolerRunning     *bool           `json:"cooler_running"`
	CoolerRuntime     *float64        `json:"cooler_runtime"`
	TotalElapsedTime  *float64        `json:"total_elapsed_time"`
	CoolerEverStarted *bool           `json:"cooler_ever_started"`
	ManualOverride    *bool           `json:"manual_override"`
}

// Decode classifies one raw frame.
func Decode(raw []byte) Result {
	text := bytes.TrimSpace(raw)
	res := Result{Raw: string(text)}

	if len(text) == 0 {
		res.Kind = KindIgnored
		return res
	}
	if text[0] == '{' && text[len(text)-1] == '}' {
		return decodeJSON(text, res)
	}

	s := res.Raw
	switch {
	case strings.HasPrefix(s, statusPrefix):
		res.Kind = KindStatus
		res.Status = StatusEvent{Text: strings.TrimSpace(strings.TrimPrefix(s, statusPrefix))}
	case strings.HasPrefix(s, errorPrefix):
		res.Kind = KindStatus
		res.Status = StatusEvent{Text: strings.TrimSpace(strings.TrimPrefix(s, errorPrefix)), Error: true}
	case s == "OK":
		res.Kind = KindAck
		res.AckOK = true
	case s == "ERROR":
		res.Kind = KindAck
	default:
		res.Kind = KindUnrecognized
	}
	return res
}

func decodeJSON(text []byte, res Result) Result {
	var f frame
	if err := json.Unmarshal(text, &f); err != nil {
		res.Kind = KindInvalid
		res.Err = fmt.Errorf("malformed frame: %w", err)
		return res
	}

	if f.Temperature == nil && f.Humidity == nil && f.Pressure == nil && f.Altitude == nil {
		res.Kind = KindIgnored
		return res
	}

	r := &domain.Reading{
		Device:      f.Device,
		DeviceAt:    rawScalar(f.Timestamp),
		Temperature: f.Temperature,
		Humidity:    f.Humidity,
		Pressure:    f.Pressure,
		Altitude:    f.Altitude,
		ActuatorState: domain.ActuatorState{
			CoolerRunning:     f.CoolerRunning,
			CoolerRuntime:     f.CoolerRuntime,
			TotalElapsedTime:  f.TotalElapsedTime,
			CoolerEverStarted: f.CoolerEverStarted,
			ManualOverride:    f.ManualOverride,
		},
	}
	if r.Device == "" {
		r.Device = domain.DeviceUnknown
	}

	res.Kind = KindReading
	res.Reading = r
	return res
}

// rawScalar keeps the device timestamp in its lexical wire form. Builds
// differ on what the field holds (uptime millis, strings), so the value
// is never interpreted, only stored.
func rawScalar(m json.RawMessage) string {
	if len(m) == 0 || string(m) == "null" {
		return ""
	}
	if m[0] == '"' {
		if s, err := strconv.Unquote(string(m)); err == nil {
			return s
		}
	}
	return string(m)
}
