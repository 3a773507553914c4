package ports

import "github.com/DJA-prog/MCU/internal/domain"

// ReadingBuffer keeps the most recent committed readings for fast
// display refresh. It is never authoritative; the record log is.
type ReadingBuffer interface {
	Push(r domain.Reading)
	Snapshot() []domain.Reading
	Len() int
}
