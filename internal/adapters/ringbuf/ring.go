package ringbuf

import (
	"sync"

	"github.com/DJA-prog/MCU/internal/domain"
	"github.com/DJA-prog/MCU/internal/ports"
)

// Ring keeps the most recent readings in arrival order and overwrites
// the oldest once full. Snapshots copy, so callers never alias the
// ingestion loop's storage.
type Ring struct {
	mu    sync.Mutex
	data  []domain.Reading
	head  int
	count int
}

func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{data: make([]domain.Reading, capacity)}
}

func (b *Ring) Push(r domain.Reading) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[b.head] = r
	b.head = (b.head + 1) % len(b.data)
	if b.count < len(b.data) {
		b.count++
	}
}

// Snapshot returns the buffered readings oldest first.
func (b *Ring) Snapshot() []domain.Reading {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Reading, 0, b.count)
	start := b.head - b.count
	if start < 0 {
		start += len(b.data)
	}
	for i := 0; i < b.count; i++ {
		out = append(out, b.data[(start+i)%len(b.data)])
	}
	return out
}

func (b *Ring) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

var _ ports.ReadingBuffer = (*Ring)(nil)
