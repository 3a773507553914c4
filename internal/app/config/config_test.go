package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	data := `
transport: mqtt
mqtt:
  broker: broker.lan
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.MQTT.Broker != "broker.lan" {
		t.Fatalf("expected broker from file, got %s", cfg.MQTT.Broker)
	}
	if cfg.MQTT.Port != 1883 {
		t.Fatalf("expected default mqtt port 1883, got %d", cfg.MQTT.Port)
	}
	if cfg.Record.Path != "sensor_readings.csv" {
		t.Fatalf("expected default record path, got %s", cfg.Record.Path)
	}
	if cfg.Record.Schema != "basic" {
		t.Fatalf("expected default schema basic, got %s", cfg.Record.Schema)
	}
	if cfg.Session.BufferSize != 500 {
		t.Fatalf("expected default buffer size 500, got %d", cfg.Session.BufferSize)
	}
	if cfg.Session.StopTimeout != 5*time.Second {
		t.Fatalf("expected default stop timeout 5s, got %s", cfg.Session.StopTimeout)
	}
	if cfg.API.Addr != ":5002" {
		t.Fatalf("expected default api addr :5002, got %s", cfg.API.Addr)
	}
	if cfg.Serial.PollInterval != 100*time.Millisecond {
		t.Fatalf("expected default poll interval 100ms, got %s", cfg.Serial.PollInterval)
	}
}

func TestLoadWithoutFileUsesEnvironment(t *testing.T) {
	t.Setenv("MQTT_BROKER", "env-broker")
	t.Setenv("CSV_FILE", "/var/lib/mcu/readings.csv")
	t.Setenv("TRANSPORT", "serial")
	t.Setenv("SERIAL_PORT", "/dev/ttyACM1")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Transport != "serial" {
		t.Fatalf("expected transport from env, got %s", cfg.Transport)
	}
	if cfg.MQTT.Broker != "env-broker" {
		t.Fatalf("expected broker from env, got %s", cfg.MQTT.Broker)
	}
	if cfg.Record.Path != "/var/lib/mcu/readings.csv" {
		t.Fatalf("expected record path from env, got %s", cfg.Record.Path)
	}
	if cfg.Serial.Port != "/dev/ttyACM1" {
		t.Fatalf("expected serial port from env, got %s", cfg.Serial.Port)
	}
}

func TestLoadRejectsUnknownTransport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("transport: carrier-pigeon\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatalf("expected unknown transport to be rejected")
	}
}

func TestLoadRejectsUnknownSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
record:
  schema: compact
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatalf("expected unknown schema to be rejected")
	}
}

func TestPublicViewOmitsCredentials(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.MQTT.Username = "u"
	cfg.MQTT.Password = "secret"

	pub := cfg.Public()
	if pub.MQTTBroker != cfg.MQTT.Broker || pub.CSVFile != cfg.Record.Path {
		t.Fatalf("public view lost fields: %+v", pub)
	}
}
