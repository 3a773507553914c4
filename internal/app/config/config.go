package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"

	"github.com/DJA-prog/MCU/internal/adapters/mqtt"
	"github.com/DJA-prog/MCU/internal/adapters/serialport"
	"github.com/DJA-prog/MCU/internal/domain"
)

const (
	TransportMQTT   = "mqtt"
	TransportSerial = "serial"
)

type Config struct {
	Transport string            `yaml:"transport" env:"TRANSPORT"`
	MQTT      mqtt.Config       `yaml:"mqtt"`
	Serial    serialport.Config `yaml:"serial"`
	Record    RecordConfig      `yaml:"record"`
	Session   SessionConfig     `yaml:"session"`
	API       APIConfig         `yaml:"api"`
}

type RecordConfig struct {
	Path   string `yaml:"path" env:"CSV_FILE"`
	Schema string `yaml:"schema" env:"CSV_SCHEMA"`
}

type SessionConfig struct {
	BufferSize  int           `yaml:"buffer_size"`
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

type APIConfig struct {
	Addr         string  `yaml:"addr" env:"API_ADDR"`
	CommandRate  float64 `yaml:"command_rate"`
	CommandBurst int     `yaml:"command_burst"`
}

// Load reads the YAML file, overlays environment variables and fills in
// defaults. An empty path skips the file and configures from environment
// and defaults alone.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Transport == "" {
		c.Transport = TransportMQTT
	}
	if c.Record.Path == "" {
		c.Record.Path = "sensor_readings.csv"
	}
	if c.Record.Schema == "" {
		c.Record.Schema = string(domain.SchemaBasic)
	}
	if c.Session.BufferSize == 0 {
		c.Session.BufferSize = 500
	}
	if c.Session.StopTimeout <= 0 {
		c.Session.StopTimeout = 5 * time.Second
	}
	if c.API.Addr == "" {
		c.API.Addr = ":5002"
	}
	if c.API.CommandRate <= 0 {
		c.API.CommandRate = 5
	}
	if c.API.CommandBurst <= 0 {
		c.API.CommandBurst = 5
	}

	c.MQTT.ApplyDefaults()
	c.Serial.ApplyDefaults()
}

func (c *Config) validate() error {
	switch c.Transport {
	case TransportMQTT:
		if err := c.MQTT.Validate(); err != nil {
			return fmt.Errorf("mqtt config: %w", err)
		}
	case TransportSerial:
		if err := c.Serial.Validate(); err != nil {
			return fmt.Errorf("serial config: %w", err)
		}
	default:
		return fmt.Errorf("transport %q unknown (want %q or %q)", c.Transport, TransportMQTT, TransportSerial)
	}

	if _, err := domain.ParseSchema(c.Record.Schema); err != nil {
		return fmt.Errorf("record config: %w", err)
	}
	if c.Session.BufferSize < 1 {
		return fmt.Errorf("session.buffer_size must be positive")
	}
	return nil
}

// RecordSchema returns the validated schema selector.
func (c *Config) RecordSchema() domain.Schema {
	s, err := domain.ParseSchema(c.Record.Schema)
	if err != nil {
		return domain.SchemaBasic
	}
	return s
}

// Public is the configuration view served over the API. Credentials
// never appear here.
type Public struct {
	Transport  string `json:"transport"`
	MQTTBroker string `json:"mqtt_broker"`
	MQTTPort   int    `json:"mqtt_port"`
	MQTTTopic  string `json:"mqtt_topic"`
	SerialPort string `json:"serial_port"`
	SerialBaud int    `json:"serial_baud"`
	CSVFile    string `json:"csv_file"`
	Schema     string `json:"schema"`
	BufferSize int    `json:"buffer_size"`
}

func (c *Config) Public() Public {
	return Public{
		Transport:  c.Transport,
		MQTTBroker: c.MQTT.Broker,
		MQTTPort:   c.MQTT.Port,
		MQTTTopic:  c.MQTT.Topic,
		SerialPort: c.Serial.Port,
		SerialBaud: c.Serial.Baud,
		CSVFile:    c.Record.Path,
		Schema:     c.Record.Schema,
		BufferSize: c.Session.BufferSize,
	}
}
