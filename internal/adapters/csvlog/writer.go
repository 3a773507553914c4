// Package csvlog persists readings as an append-only CSV file, one row
// per committed reading, and reads them back with the same column
// mapping. It is the single durable store of the recorder.
package csvlog

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/DJA-prog/MCU/internal/domain"
	"github.com/DJA-prog/MCU/internal/ports"
)

// timestampLayout is the lexical form of timestamp_received. Rows are
// ordered by append position, not by parsing this column.
const timestampLayout = time.RFC3339Nano

// Writer appends one reading at a time. Each append opens the file,
// writes exactly one row and closes again, so a crash between appends
// never leaves the log in a half-written state. Only one Writer may
// exist per log file.
type Writer struct {
	mu     sync.Mutex
	path   string
	schema domain.Schema
}

var _ ports.RecordWriter = (*Writer)(nil)

func NewWriter(path string, schema domain.Schema) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create record log dir: %w", err)
		}
	}
	return &Writer{path: path, schema: schema}, nil
}

// Append commits one reading. The header row is written when the file is
// new or empty. The row (and header, when present) go out in a single
// write call, so concurrent scans never observe part of a row.
func (w *Writer) Append(r *domain.Reading) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open record log: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat record log: %w", err)
	}

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if stat.Size() == 0 {
		if err := cw.Write(w.schema.Columns()); err != nil {
			f.Close()
			return fmt.Errorf("encode header: %w", err)
		}
	}
	if err := cw.Write(w.row(r)); err != nil {
		f.Close()
		return fmt.Errorf("encode record: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		f.Close()
		return fmt.Errorf("encode record: %w", err)
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("append record: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close record log: %w", err)
	}
	return nil
}

func (w *Writer) row(r *domain.Reading) []string {
	received := r.ReceivedAt.Format(timestampLayout)
	switch w.schema {
	case domain.SchemaExtended:
		return []string{
			received, r.DeviceAt, r.Device,
			floatCell(r.Temperature), floatCell(r.Humidity), floatCell(r.Pressure),
			boolCell(r.CoolerRunning), floatCell(r.CoolerRuntime), floatCell(r.TotalElapsedTime),
			boolCell(r.CoolerEverStarted), boolCell(r.ManualOverride),
		}
	default:
		return []string{
			received, r.DeviceAt, r.Device,
			floatCell(r.Temperature), floatCell(r.Pressure), floatCell(r.Altitude),
		}
	}
}

// Absent fields persist as empty cells. A measured zero is "0", never "".
func floatCell(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

func boolCell(v *bool) string {
	if v == nil {
		return ""
	}
	return strconv.FormatBool(*v)
}
