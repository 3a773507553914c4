package query

import (
	"fmt"
	"time"

	"github.com/DJA-prog/MCU/internal/app/recorder"
	"github.com/DJA-prog/MCU/internal/domain"
	"github.com/DJA-prog/MCU/internal/ports"
)

// Session is the live half of the query surface: state the recorder
// keeps in memory, answered without touching the log file.
type Session interface {
	Status() recorder.Status
	Latest() (domain.Reading, bool)
	Recent(limit int) []domain.Reading
}

// Filter bounds a history read. The zero value keeps everything.
type Filter struct {
	// Limit keeps only the newest Limit rows after time filtering.
	// Zero keeps all rows.
	Limit int
	// Start and End bound received_at inclusively. A zero time leaves
	// that side unbounded.
	Start time.Time
	End   time.Time
}

// FieldStats aggregates one numeric column. Min, max and avg are nil
// when no row carried the field.
type FieldStats struct {
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
	Avg   *float64 `json:"avg,omitempty"`
	Count int      `json:"count"`
}

// Statistics summarizes the whole record log in one scan.
type Statistics struct {
	TotalReadings    int        `json:"total_readings"`
	FirstReadingTime *time.Time `json:"first_reading_time,omitempty"`
	LastReadingTime  *time.Time `json:"last_reading_time,omitempty"`
	Temperature      FieldStats `json:"temperature"`
	Humidity         FieldStats `json:"humidity"`
	Pressure         FieldStats `json:"pressure"`
	Altitude         FieldStats `json:"altitude"`
}

// Service answers read-only questions about the session and the record
// log. Log reads open the file fresh on every call, so they run
// concurrently with an active session and never block ingestion.
type Service struct {
	session Session
	scanner ports.RecordScanner
}

func NewService(session Session, scanner ports.RecordScanner) *Service {
	return &Service{session: session, scanner: scanner}
}

// Status reports the live session fields. It reflects readings that
// are committed in memory even when their log append failed.
func (s *Service) Status() recorder.Status { return s.session.Status() }

// Latest returns the most recently committed reading, if any.
func (s *Service) Latest() (domain.Reading, bool) { return s.session.Latest() }

// Recent returns up to limit buffered readings, oldest first, without
// touching the log. Zero or negative limit returns the whole buffer.
func (s *Service) Recent(limit int) []domain.Reading { return s.session.Recent(limit) }

// Readings scans the record log in append order and returns the rows
// inside the filter window. A log that does not exist yet yields an
// empty result.
func (s *Service) Readings(f Filter) ([]domain.Reading, error) {
	var out []domain.Reading
	err := s.scanner.Scan(func(r *domain.Reading) error {
		if !f.Start.IsZero() && r.ReceivedAt.Before(f.Start) {
			return nil
		}
		if !f.End.IsZero() && r.ReceivedAt.After(f.End) {
			return nil
		}
		out = append(out, *r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan record log: %w", err)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = append([]domain.Reading(nil), out[len(out)-f.Limit:]...)
	}
	return out, nil
}

// Statistics aggregates every row of the record log in a single linear
// scan.
func (s *Service) Statistics() (Statistics, error) {
	var (
		stats       Statistics
		temperature fieldAcc
		humidity    fieldAcc
		pressure    fieldAcc
		altitude    fieldAcc
		first, last time.Time
	)
	err := s.scanner.Scan(func(r *domain.Reading) error {
		if stats.TotalReadings == 0 {
			first = r.ReceivedAt
		}
		last = r.ReceivedAt
		stats.TotalReadings++
		temperature.add(r.Temperature)
		humidity.add(r.Humidity)
		pressure.add(r.Pressure)
		altitude.add(r.Altitude)
		return nil
	})
	if err != nil {
		return Statistics{}, fmt.Errorf("scan record log: %w", err)
	}
	if stats.TotalReadings > 0 {
		stats.FirstReadingTime = &first
		stats.LastReadingTime = &last
	}
	stats.Temperature = temperature.stats()
	stats.Humidity = humidity.stats()
	stats.Pressure = pressure.stats()
	stats.Altitude = altitude.stats()
	return stats, nil
}

type fieldAcc struct {
	min, max, sum float64
	count         int
}

func (a *fieldAcc) add(v *float64) {
	if v == nil {
		return
	}
	if a.count == 0 || *v < a.min {
		a.min = *v
	}
	if a.count == 0 || *v > a.max {
		a.max = *v
	}
	a.sum += *v
	a.count++
}

func (a *fieldAcc) stats() FieldStats {
	if a.count == 0 {
		return FieldStats{}
	}
	min, max, avg := a.min, a.max, a.sum/float64(a.count)
	return FieldStats{Min: &min, Max: &max, Avg: &avg, Count: a.count}
}

var _ Session = (*recorder.Session)(nil)
