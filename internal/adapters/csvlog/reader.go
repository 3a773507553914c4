package csvlog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/DJA-prog/MCU/internal/domain"
	"github.com/DJA-prog/MCU/internal/ports"
)

// Reader streams a record log in append order. Every Scan opens its own
// read-only handle, so scans run concurrently with appends; a log that
// does not exist yet scans as empty.
type Reader struct {
	path string
}

var _ ports.RecordScanner = (*Reader)(nil)

func NewReader(path string) *Reader {
	return &Reader{path: path}
}

func (rd *Reader) Scan(fn func(r *domain.Reading) error) error {
	f, err := os.Open(rd.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open record log: %w", err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}

	for {
		rec, err := cr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read record: %w", err)
		}

		get := func(name string) string {
			i, ok := col[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		r, ok := rowToReading(get)
		if !ok {
			// rows with an unparseable received timestamp are skipped,
			// not fatal: the rest of the log is still served
			continue
		}
		if err := fn(r); err != nil {
			return err
		}
	}
}

func rowToReading(get func(string) string) (*domain.Reading, bool) {
	received, err := time.Parse(timestampLayout, get("timestamp_received"))
	if err != nil {
		return nil, false
	}

	r := &domain.Reading{
		ReceivedAt:  received,
		DeviceAt:    get("timestamp_device"),
		Device:      get("device"),
		Temperature: floatField(get("temperature")),
		Humidity:    floatField(get("humidity")),
		Pressure:    floatField(get("pressure")),
		Altitude:    floatField(get("altitude")),
		ActuatorState: domain.ActuatorState{
			CoolerRunning:     boolField(get("cooler_running")),
			CoolerRuntime:     floatField(get("cooler_runtime")),
			TotalElapsedTime:  floatField(get("total_elapsed_time")),
			CoolerEverStarted: boolField(get("cooler_ever_started")),
			ManualOverride:    boolField(get("manual_override")),
		},
	}
	return r, true
}

func floatField(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func boolField(s string) *bool {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return nil
	}
	return &v
}
