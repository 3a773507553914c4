// Simulated cooler device: publishes sensor frames over MQTT and
// answers the recorder's command vocabulary, so the full pipeline can
// be exercised without hardware on the bench.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/spf13/pflag"
)

type device struct {
	mu          sync.Mutex
	name        string
	extended    bool
	startTemp   float64
	stopTemp    float64
	override    string // "ON", "OFF" or "" for auto
	running     bool
	everStarted bool
	runtime     float64
	booted      time.Time
	lastTick    time.Time
}

// sample advances the simulation one tick and returns the frame to
// publish plus any status lines the transition produced.
func (d *device) sample(now time.Time) ([]byte, []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	elapsed := now.Sub(d.booted).Seconds()
	temp := 4.0 + 1.5*math.Sin(elapsed/90) + rand.Float64()*0.2

	running := d.running
	switch d.override {
	case "ON":
		running = true
	case "OFF":
		running = false
	default:
		if !d.running && temp >= d.startTemp {
			running = true
		} else if d.running && temp <= d.stopTemp {
			running = false
		}
	}

	var events []string
	if running && !d.running {
		d.everStarted = true
		events = append(events, "STATUS: Cooler STARTED!")
	} else if !running && d.running {
		events = append(events, "STATUS: Cooler STOPPED!")
	}
	if d.running && !d.lastTick.IsZero() {
		d.runtime += now.Sub(d.lastTick).Seconds()
	}
	d.running = running
	d.lastTick = now

	frame := map[string]any{
		"timestamp":   now.UnixMilli(),
		"device":      d.name,
		"temperature": round2(temp),
		"humidity":    round2(40 + 5*math.Sin(elapsed/150)),
		"pressure":    round2(1013 + 2*math.Sin(elapsed/300)),
		"altitude":    120.0,
	}
	if d.extended {
		frame["cooler_running"] = d.running
		frame["cooler_runtime"] = round2(d.runtime)
		frame["total_elapsed_time"] = round2(elapsed)
		frame["cooler_ever_started"] = d.everStarted
		frame["manual_override"] = d.override != ""
	}
	raw, _ := json.Marshal(frame)
	return raw, events
}

// handleCommand answers one line of the recorder's command vocabulary.
func (d *device) handleCommand(cmd string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case cmd == "GET-DATA":
		// The publish loop answers with a fresh frame.
		return nil
	case cmd == "GET-STATUS":
		state := "OFF"
		if d.running {
			state = "ON"
		}
		return []string{fmt.Sprintf("STATUS: Device %s, Cooler %s, Override %q", d.name, state, d.override)}
	case cmd == "GET-THRESHOLDS":
		return []string{fmt.Sprintf("STATUS: Thresholds start=%.1f stop=%.1f", d.startTemp, d.stopTemp)}
	case strings.HasPrefix(cmd, "SET-ACTUATOR="):
		mode := strings.TrimPrefix(cmd, "SET-ACTUATOR=")
		switch mode {
		case "ON", "OFF":
			d.override = mode
		case "AUTO":
			d.override = ""
		default:
			return []string{"ERROR: unknown actuator mode " + mode}
		}
		return []string{"OK"}
	case strings.HasPrefix(cmd, "SET-THRESHOLD-START="):
		v, err := strconv.ParseFloat(strings.TrimPrefix(cmd, "SET-THRESHOLD-START="), 64)
		if err != nil {
			return []string{"ERROR: bad threshold value"}
		}
		d.startTemp = v
		return []string{"OK"}
	case strings.HasPrefix(cmd, "SET-THRESHOLD-STOP="):
		v, err := strconv.ParseFloat(strings.TrimPrefix(cmd, "SET-THRESHOLD-STOP="), 64)
		if err != nil {
			return []string{"ERROR: bad threshold value"}
		}
		d.stopTemp = v
		return []string{"OK"}
	default:
		return []string{"ERROR: unknown command " + cmd}
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func main() {
	broker := pflag.String("broker", "localhost", "MQTT broker host")
	port := pflag.Int("port", 1883, "MQTT broker port")
	topic := pflag.String("topic", "sensors/cooler", "Data topic; commands arrive on <topic>/cmd")
	name := pflag.String("device", "sim-bme280", "Device name reported in frames")
	interval := pflag.Duration("interval", 5*time.Second, "Publish interval")
	extended := pflag.Bool("extended", false, "Publish actuator fields as well")
	pflag.Parse()

	dev := &device{
		name:      *name,
		extended:  *extended,
		startTemp: 4.5,
		stopTemp:  3.5,
		booted:    time.Now(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pokes := make(chan struct{}, 1)
	cmdTopic := *topic + "/cmd"

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", *broker, *port)).
		SetClientID(fmt.Sprintf("mcu-sim-%d", time.Now().Unix())).
		SetAutoReconnect(true)

	var client pahomqtt.Client
	publish := func(payload []byte) {
		client.Publish(*topic, 1, false, payload)
	}

	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		log.Printf("connected to %s:%d, publishing %q every %s", *broker, *port, *topic, *interval)
		c.Subscribe(cmdTopic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
			cmd := strings.TrimSpace(string(msg.Payload()))
			log.Printf("command: %s", cmd)
			for _, resp := range dev.handleCommand(cmd) {
				publish([]byte(resp))
			}
			if cmd == "GET-DATA" {
				select {
				case pokes <- struct{}{}:
				default:
				}
			}
		})
	})

	client = pahomqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("connect: %v", token.Error())
	}
	defer client.Disconnect(250)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("simulator stopped")
			return
		case <-ticker.C:
		case <-pokes:
		}
		frame, events := dev.sample(time.Now())
		publish(frame)
		for _, ev := range events {
			publish([]byte(ev))
		}
	}
}
