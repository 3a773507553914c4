// Package serialport implements the polled transport: the recorder owns
// the line, reads line-delimited frames on a fixed cadence and keeps
// retrying the port while it is unavailable.
package serialport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/DJA-prog/MCU/internal/ports"
)

// maxPending caps the line reassembly buffer. A stream this long with
// no terminator is garbage, not a frame.
const maxPending = 64 * 1024

// Config captures the serial line parameters.
type Config struct {
	Port          string        `yaml:"port" env:"SERIAL_PORT"`
	Baud          int           `yaml:"baud" env:"SERIAL_BAUD"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

func (c *Config) ApplyDefaults() {
	if c.Port == "" {
		c.Port = "/dev/ttyUSB0"
	}
	if c.Baud <= 0 {
		c.Baud = 115200
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 5 * time.Second
	}
}

func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}
	if c.Baud <= 0 {
		return fmt.Errorf("baud %d out of range", c.Baud)
	}
	return nil
}

// Transport polls one serial port. A single goroutine owns the port
// handle for reading; Send shares it under the mutex.
type Transport struct {
	cfg    Config
	obs    ports.Observability
	events chan ports.Event

	mu      sync.Mutex
	port    serial.Port
	opened  bool
	done    chan struct{}
	wg      sync.WaitGroup
	pending []byte
}

func NewTransport(cfg Config, obs ports.Observability) (*Transport, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Transport{
		cfg:    cfg,
		obs:    obs,
		events: make(chan ports.Event, 256),
	}, nil
}

func (t *Transport) Name() string { return "serial" }

func (t *Transport) Events() <-chan ports.Event { return t.events }

// Open starts the poll goroutine and returns. The first connect attempt,
// every retry and every frame are reported through Events.
func (t *Transport) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.opened {
		return errors.New("serial transport already open")
	}
	t.opened = true
	t.done = make(chan struct{})

	// A reopened transport starts with a clean stream; events buffered
	// before the previous Close are stale.
drain:
	for {
		select {
		case <-t.events:
		default:
			break drain
		}
	}

	t.wg.Add(1)
	go t.run()

	t.obs.LogInfo("serial_opening",
		ports.Field{Key: "port", Value: t.cfg.Port},
		ports.Field{Key: "baud", Value: t.cfg.Baud})
	return nil
}

// Send writes one command line. The device replies, if at all, through
// the regular frame stream. A write failure means the line just broke,
// so it is also reported as an error event; the session hears about it
// before the next poll does.
func (t *Transport) Send(cmd ports.Command) error {
	t.mu.Lock()
	port := t.port
	t.mu.Unlock()
	if port == nil {
		return errors.New("serial port not open")
	}
	if _, err := port.Write([]byte(string(cmd) + "\n")); err != nil {
		werr := fmt.Errorf("serial write: %w", err)
		t.obs.IncCounter("recorder_transport_errors_total", 1)
		t.emit(ports.Event{Kind: ports.EventError, Err: werr})
		return werr
	}
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if !t.opened {
		t.mu.Unlock()
		return nil
	}
	t.opened = false
	close(t.done)
	port := t.port
	t.port = nil
	t.mu.Unlock()

	// Closing the handle unblocks a pending Read in the poll goroutine.
	var err error
	if port != nil {
		err = port.Close()
	}
	t.wg.Wait()
	return err
}

func (t *Transport) run() {
	defer t.wg.Done()

	for {
		select {
		case <-t.done:
			return
		default:
		}

		t.mu.Lock()
		port := t.port
		t.mu.Unlock()

		if port == nil {
			p, err := t.connect()
			if err != nil {
				t.obs.IncCounter("recorder_transport_errors_total", 1)
				t.obs.LogWarn("serial_connect_failed", err, ports.Field{Key: "port", Value: t.cfg.Port})
				t.emit(ports.Event{Kind: ports.EventError, Err: fmt.Errorf("serial connect: %w", err)})
				select {
				case <-t.done:
					return
				case <-time.After(t.cfg.RetryInterval):
				}
				continue
			}
			port = p
			t.emit(ports.Event{Kind: ports.EventConnected})
			// Ask for a sample right away instead of waiting for the
			// device's own report cadence.
			if err := t.Send(ports.CmdDataRequest); err != nil {
				t.obs.LogDebug("serial_poke_failed", ports.Field{Key: "err", Value: err.Error()})
			}
		}

		if err := t.readOnce(port); err != nil {
			select {
			case <-t.done:
				return
			default:
			}
			t.obs.IncCounter("recorder_transport_errors_total", 1)
			t.emit(ports.Event{Kind: ports.EventDisconnected, Reason: err.Error()})
			t.dropPort(port)
			select {
			case <-t.done:
				return
			case <-time.After(t.cfg.RetryInterval):
			}
		}
	}
}

func (t *Transport) connect() (serial.Port, error) {
	mode := &serial.Mode{BaudRate: t.cfg.Baud}
	port, err := serial.Open(t.cfg.Port, mode)
	if err != nil {
		return nil, err
	}
	// The read timeout doubles as the poll cadence: Read returns empty
	// after one interval when the line is silent.
	if err := port.SetReadTimeout(t.cfg.PollInterval); err != nil {
		port.Close()
		return nil, err
	}

	t.mu.Lock()
	t.port = port
	t.pending = t.pending[:0]
	t.mu.Unlock()
	return port, nil
}

func (t *Transport) dropPort(port serial.Port) {
	t.mu.Lock()
	if t.port == port {
		t.port = nil
	}
	t.pending = t.pending[:0]
	t.mu.Unlock()
	port.Close()
}

// readOnce pulls whatever arrived within one poll interval and emits
// every completed line as a frame. Partial lines stay pending until
// their terminator arrives and are discarded on reconnect.
func (t *Transport) readOnce(port serial.Port) error {
	buf := make([]byte, 4096)
	n, err := port.Read(buf)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}

	t.pending = append(t.pending, buf[:n]...)
	for {
		i := bytes.IndexByte(t.pending, '\n')
		if i < 0 {
			break
		}
		line := make([]byte, i)
		copy(line, t.pending[:i])
		t.pending = t.pending[i+1:]
		t.emit(ports.Event{Kind: ports.EventFrame, Frame: line})
	}
	if len(t.pending) > maxPending {
		t.obs.LogWarn("serial_input_discarded", nil, ports.Field{Key: "bytes", Value: len(t.pending)})
		t.pending = t.pending[:0]
	}
	return nil
}

func (t *Transport) emit(ev ports.Event) {
	select {
	case t.events <- ev:
	default:
		t.obs.IncCounter("recorder_transport_errors_total", 1)
		t.obs.LogWarn("serial_event_dropped", nil, ports.Field{Key: "kind", Value: int(ev.Kind)})
	}
}

var _ ports.Transport = (*Transport)(nil)
