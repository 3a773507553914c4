// Polls a running recorder and prints the live reading, the way the
// plotting front end consumes the API.
package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/DJA-prog/MCU/pkg/client"
)

func main() {
	baseURL := pflag.String("url", "http://localhost:5002", "Recorder API base URL")
	interval := pflag.Duration("interval", 2*time.Second, "Poll interval")
	pflag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := client.New(*baseURL)
	if err := api.Health(ctx); err != nil {
		log.Fatalf("recorder not reachable at %s: %v", *baseURL, err)
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return
		case <-ticker.C:
		}

		st, err := api.Status(ctx)
		if err != nil {
			log.Printf("status: %v", err)
			continue
		}
		line := fmt.Sprintf("[%s] state=%s connected=%v readings=%d",
			time.Now().Format("15:04:05"), st.State, st.IsConnected, st.TotalReadings)
		if r := st.LastReading; r != nil {
			if r.Temperature != nil {
				line += fmt.Sprintf(" temp=%.2f", *r.Temperature)
			}
			if r.Humidity != nil {
				line += fmt.Sprintf(" rh=%.1f%%", *r.Humidity)
			}
			if r.CoolerRunning != nil {
				line += fmt.Sprintf(" cooler=%v", *r.CoolerRunning)
			}
		}
		fmt.Println(line)
	}
}
