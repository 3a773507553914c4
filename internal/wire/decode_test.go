package wire

import (
	"testing"

	"github.com/DJA-prog/MCU/internal/domain"
)

func TestDecodeMeasurementFrame(t *testing.T) {
	raw := []byte(`{"temperature":21.5,"pressure":1013.2,"altitude":44.1,"device":"bme280-lab","timestamp":1755}`)

	res := Decode(raw)
	if res.Kind != KindReading {
		t.Fatalf("expected KindReading, got %v (err=%v)", res.Kind, res.Err)
	}
	r := res.Reading
	if r.Device != "bme280-lab" {
		t.Fatalf("expected device bme280-lab, got %q", r.Device)
	}
	if r.DeviceAt != "1755" {
		t.Fatalf("expected device timestamp kept verbatim, got %q", r.DeviceAt)
	}
	if r.Temperature == nil || *r.Temperature != 21.5 {
		t.Fatalf("expected temperature 21.5, got %v", r.Temperature)
	}
	if r.Pressure == nil || *r.Pressure != 1013.2 {
		t.Fatalf("expected pressure 1013.2, got %v", r.Pressure)
	}
	if r.Altitude == nil || *r.Altitude != 44.1 {
		t.Fatalf("expected altitude 44.1, got %v", r.Altitude)
	}
	if r.Humidity != nil {
		t.Fatalf("expected absent humidity to stay nil, got %v", *r.Humidity)
	}
}

func TestDecodeDefaultsDeviceWhenMissing(t *testing.T) {
	res := Decode([]byte(`{"temperature":19.0}`))
	if res.Kind != KindReading {
		t.Fatalf("expected KindReading, got %v", res.Kind)
	}
	if res.Reading.Device != domain.DeviceUnknown {
		t.Fatalf("expected device %q, got %q", domain.DeviceUnknown, res.Reading.Device)
	}
	if res.Reading.DeviceAt != "" {
		t.Fatalf("expected empty device timestamp, got %q", res.Reading.DeviceAt)
	}
}

func TestDecodeExtendedFrame(t *testing.T) {
	raw := []byte(`{"device":"ESP8266_BME280","timestamp":120,"temperature":18.2,"humidity":55.1,` +
		`"pressure":1009.4,"cooler_running":true,"cooler_runtime":42.5,"total_elapsed_time":600.0,` +
		`"cooler_ever_started":true,"manual_override":false,` +
		`"pid_enabled":true,"pid_setpoint":18.0,"pid_output":0.6}`)

	res := Decode(raw)
	if res.Kind != KindReading {
		t.Fatalf("expected KindReading, got %v (err=%v)", res.Kind, res.Err)
	}
	r := res.Reading
	if r.Humidity == nil || *r.Humidity != 55.1 {
		t.Fatalf("expected humidity 55.1, got %v", r.Humidity)
	}
	if r.CoolerRunning == nil || !*r.CoolerRunning {
		t.Fatalf("expected cooler_running true, got %v", r.CoolerRunning)
	}
	if r.CoolerRuntime == nil || *r.CoolerRuntime != 42.5 {
		t.Fatalf("expected cooler_runtime 42.5, got %v", r.CoolerRuntime)
	}
	if r.ManualOverride == nil || *r.ManualOverride {
		t.Fatalf("expected manual_override false, got %v", r.ManualOverride)
	}
}

func TestDecodeJSONWithoutMeasurementIsIgnored(t *testing.T) {
	res := Decode([]byte(`{"result":"ok","uptime":993}`))
	if res.Kind != KindIgnored {
		t.Fatalf("expected KindIgnored, got %v", res.Kind)
	}
	if res.Reading != nil {
		t.Fatalf("ignored frame must not produce a reading")
	}
}

func TestDecodeMalformedJSON(t *testing.T) {
	for _, raw := range []string{`{"temperature":}`, `{"temperature":"warm"}`, `{broken}`} {
		res := Decode([]byte(raw))
		if res.Kind != KindInvalid {
			t.Fatalf("frame %q: expected KindInvalid, got %v", raw, res.Kind)
		}
		if res.Err == nil {
			t.Fatalf("frame %q: expected a decode error", raw)
		}
	}
}

func TestDecodeStatusLines(t *testing.T) {
	res := Decode([]byte("STATUS: Cooling ON, temp=17.9\r\n"))
	if res.Kind != KindStatus {
		t.Fatalf("expected KindStatus, got %v", res.Kind)
	}
	if res.Status.Error {
		t.Fatalf("STATUS line must not be marked as error")
	}
	if res.Status.Text != "Cooling ON, temp=17.9" {
		t.Fatalf("unexpected status text %q", res.Status.Text)
	}

	res = Decode([]byte("ERROR: BME280 not found"))
	if res.Kind != KindStatus || !res.Status.Error {
		t.Fatalf("expected error status, got kind=%v error=%v", res.Kind, res.Status.Error)
	}
	if res.Status.Text != "BME280 not found" {
		t.Fatalf("unexpected status text %q", res.Status.Text)
	}
}

func TestDecodeAcks(t *testing.T) {
	res := Decode([]byte("OK\r\n"))
	if res.Kind != KindAck || !res.AckOK {
		t.Fatalf("expected positive ack, got kind=%v ok=%v", res.Kind, res.AckOK)
	}

	res = Decode([]byte("ERROR"))
	if res.Kind != KindAck || res.AckOK {
		t.Fatalf("expected negative ack, got kind=%v ok=%v", res.Kind, res.AckOK)
	}
}

func TestDecodeUnrecognizedAndEmpty(t *testing.T) {
	res := Decode([]byte("warmup junk 0x3f"))
	if res.Kind != KindUnrecognized {
		t.Fatalf("expected KindUnrecognized, got %v", res.Kind)
	}

	res = Decode([]byte("   \r\n"))
	if res.Kind != KindIgnored {
		t.Fatalf("expected empty line to be ignored, got %v", res.Kind)
	}
}

func TestDecodeStringDeviceTimestamp(t *testing.T) {
	res := Decode([]byte(`{"temperature":20.0,"timestamp":"12:30:01"}`))
	if res.Kind != KindReading {
		t.Fatalf("expected KindReading, got %v", res.Kind)
	}
	if res.Reading.DeviceAt != "12:30:01" {
		t.Fatalf("expected unquoted timestamp, got %q", res.Reading.DeviceAt)
	}
}
