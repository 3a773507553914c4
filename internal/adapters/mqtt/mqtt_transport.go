// Package mqtt implements the push transport: the device publishes
// frames to a broker topic and the recorder subscribes.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/DJA-prog/MCU/internal/ports"
)

// Config captures the runtime details required to reach the broker.
type Config struct {
	Broker        string        `yaml:"broker" env:"MQTT_BROKER"`
	Port          int           `yaml:"port" env:"MQTT_PORT"`
	Topic         string        `yaml:"topic" env:"MQTT_TOPIC"`
	CommandTopic  string        `yaml:"command_topic" env:"MQTT_COMMAND_TOPIC"`
	ClientID      string        `yaml:"client_id" env:"MQTT_CLIENT_ID"`
	Username      string        `yaml:"username" env:"MQTT_USERNAME"`
	Password      string        `yaml:"password" env:"MQTT_PASSWORD"`
	Keepalive     time.Duration `yaml:"keepalive"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

func (c *Config) ApplyDefaults() {
	if c.Broker == "" {
		c.Broker = "localhost"
	}
	if c.Port == 0 {
		c.Port = 1883
	}
	if c.Topic == "" {
		c.Topic = "sensors/cooler"
	}
	if c.CommandTopic == "" {
		c.CommandTopic = c.Topic + "/cmd"
	}
	if c.ClientID == "" {
		c.ClientID = fmt.Sprintf("mcu-recorder-%d", time.Now().Unix())
	}
	if c.Keepalive <= 0 {
		c.Keepalive = 60 * time.Second
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 5 * time.Second
	}
}

func (c *Config) Validate() error {
	if c.Broker == "" {
		return errors.New("broker is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.Topic == "" {
		return errors.New("topic is required")
	}
	return nil
}

// Transport adapts a paho client to the transport port. The broker
// callbacks only forward into the event channel; all interpretation
// happens in the ingestion loop.
type Transport struct {
	cfg    Config
	obs    ports.Observability
	events chan ports.Event

	mu     sync.Mutex
	client paho.Client
	opened bool
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

func (t *Transport) Name() string { return "mqtt" }

func (t *Transport) Events() <-chan ports.Event { return t.events }

// Open starts the connect handshake and returns. Connection progress,
// broker disconnects and every received frame arrive on Events; the
// client keeps retrying until Close.
func (t *Transport) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.opened {
		return errors.New("mqtt transport already open")
	}

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

	opts := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", t.cfg.Broker, t.cfg.Port)).
		SetClientID(t.cfg.ClientID).
		SetKeepAlive(t.cfg.Keepalive).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(t.cfg.RetryInterval).
		SetMaxReconnectInterval(t.cfg.RetryInterval)
	if t.cfg.Username != "" {
		opts.SetUsername(t.cfg.Username)
		opts.SetPassword(t.cfg.Password)
	}

	opts.SetOnConnectHandler(func(c paho.Client) {
		// Subscriptions do not survive reconnects, so renew here.
		tok := c.Subscribe(t.cfg.Topic, 1, t.onMessage)
		go func() {
			tok.Wait()
			if err := tok.Error(); err != nil {
				t.obs.LogError("mqtt_subscribe_failed", err, ports.Field{Key: "topic", Value: t.cfg.Topic})
				t.emit(ports.Event{Kind: ports.EventError, Err: fmt.Errorf("subscribe %s: %w", t.cfg.Topic, err)})
				return
			}
			t.emit(ports.Event{Kind: ports.EventConnected})
		}()
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		reason := ""
		if err != nil {
			reason = err.Error()
		}
		t.emit(ports.Event{Kind: ports.EventDisconnected, Reason: reason})
	})

	client := paho.NewClient(opts)
	t.client = client
	t.opened = true

	tok := client.Connect()
	go func() {
		tok.Wait()
		if err := tok.Error(); err != nil {
			t.emit(ports.Event{Kind: ports.EventError, Err: fmt.Errorf("mqtt connect: %w", err)})
		}
	}()

	t.obs.LogInfo("mqtt_opening",
		ports.Field{Key: "broker", Value: t.cfg.Broker},
		ports.Field{Key: "port", Value: t.cfg.Port},
		ports.Field{Key: "topic", Value: t.cfg.Topic})
	return nil
}

// Send publishes one command line, fire and forget. A failed publish is
// logged and counted; link loss itself arrives through the lost handler.
func (t *Transport) Send(cmd ports.Command) error {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client == nil {
		return errors.New("mqtt transport not open")
	}

	tok := client.Publish(t.cfg.CommandTopic, 1, false, string(cmd))
	go func() {
		tok.Wait()
		if err := tok.Error(); err != nil {
			// Not a link failure; connection loss arrives through the
			// lost handler. Log and count, nothing else.
			t.obs.IncCounter("recorder_transport_errors_total", 1)
			t.obs.LogWarn("mqtt_publish_failed", err, ports.Field{Key: "command", Value: string(cmd)})
		}
	}()
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.opened = false
	t.mu.Unlock()

	if client == nil {
		return nil
	}
	if client.IsConnectionOpen() {
		if tok := client.Unsubscribe(t.cfg.Topic); tok.WaitTimeout(time.Second) {
			if err := tok.Error(); err != nil {
				t.obs.LogWarn("mqtt_unsubscribe_failed", err)
			}
		}
	}
	client.Disconnect(250)
	return nil
}

func (t *Transport) onMessage(_ paho.Client, msg paho.Message) {
	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())
	t.emit(ports.Event{Kind: ports.EventFrame, Frame: payload})
}

// emit never blocks a paho callback. A full channel means the consumer
// is gone or stalled; dropping and counting beats deadlocking the client.
func (t *Transport) emit(ev ports.Event) {
	select {
	case t.events <- ev:
	default:
		t.obs.IncCounter("recorder_transport_errors_total", 1)
		t.obs.LogWarn("mqtt_event_dropped", nil, ports.Field{Key: "kind", Value: int(ev.Kind)})
	}
}

var _ ports.Transport = (*Transport)(nil)
