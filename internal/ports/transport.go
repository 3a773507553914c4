package ports

import "context"

type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventFrame
	EventError
)

// Event is what a transport delivers to the ingestion loop. Frame is set
// for EventFrame, Reason for EventDisconnected, Err for EventError.
type Event struct {
	Kind   EventKind
	Frame  []byte
	Reason string
	Err    error
}

// Transport is one link to the sensor device. Open starts delivery and
// returns once the link is being established; connection progress and
// every subsequent frame arrive on Events. Implementations keep retrying
// after failures until Close is called.
type Transport interface {
	Open(ctx context.Context) error
	Events() <-chan Event
	Send(cmd Command) error
	Close() error
	Name() string
}
