package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/DJA-prog/MCU/internal/adapters/csvlog"
	"github.com/DJA-prog/MCU/internal/adapters/mqtt"
	"github.com/DJA-prog/MCU/internal/adapters/observability"
	"github.com/DJA-prog/MCU/internal/adapters/ringbuf"
	"github.com/DJA-prog/MCU/internal/adapters/serialport"
	"github.com/DJA-prog/MCU/internal/app/api"
	"github.com/DJA-prog/MCU/internal/app/config"
	"github.com/DJA-prog/MCU/internal/app/query"
	"github.com/DJA-prog/MCU/internal/app/recorder"
	"github.com/DJA-prog/MCU/internal/ports"
	"github.com/DJA-prog/MCU/pkg/client"
)

//go:embed assets/banner_color.ansi
var bannerColor string

//go:embed assets/banner_plain.txt
var bannerPlain string

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	fmt.Print(selectBanner())
	fmt.Println()
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("mcu-recorder %s: %v", cmd, err)
	}
}

func runCommand(args []string) error {
	fs := pflag.NewFlagSet("run", pflag.ExitOnError)
	cfgPath := fs.String("config", "", "Path to configuration file (YAML); empty uses environment and defaults")
	autostart := fs.Bool("autostart", false, "Begin recording as soon as the daemon is up")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// Local .env files feed the same environment overrides the shell would.
	_ = godotenv.Load()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	obs := observability.NewZapProm(logger)

	var transport ports.Transport
	switch cfg.Transport {
	case config.TransportMQTT:
		transport, err = mqtt.NewTransport(cfg.MQTT, obs)
	case config.TransportSerial:
		transport, err = serialport.NewTransport(cfg.Serial, obs)
	default:
		err = fmt.Errorf("transport %q unknown", cfg.Transport)
	}
	if err != nil {
		return fmt.Errorf("build transport: %w", err)
	}

	writer, err := csvlog.NewWriter(cfg.Record.Path, cfg.RecordSchema())
	if err != nil {
		return fmt.Errorf("open record log: %w", err)
	}

	session := recorder.NewSession(transport, writer, ringbuf.NewRing(cfg.Session.BufferSize), obs,
		recorder.WithStopTimeout(cfg.Session.StopTimeout))
	svc := query.NewService(session, csvlog.NewReader(cfg.Record.Path))
	server := api.NewServer(session, svc, cfg.Public(), obs, cfg.API.CommandRate, cfg.API.CommandBurst)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *autostart {
		if err := session.Start(); err != nil {
			return fmt.Errorf("autostart recording: %w", err)
		}
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(cfg.API.Addr) }()
	logger.Info("api_listening",
		zap.String("addr", cfg.API.Addr),
		zap.String("transport", transport.Name()),
		zap.String("record_path", cfg.Record.Path),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
	)

	var errs []error
	select {
	case <-ctx.Done():
		logger.Info("shutdown_signal")
	case err := <-serveErr:
		if err != nil {
			errs = append(errs, fmt.Errorf("api server: %w", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown api: %w", err))
	}
	if err := session.Stop(); err != nil && !errors.Is(err, recorder.ErrNotActive) {
		errs = append(errs, fmt.Errorf("stop session: %w", err))
	}
	return errors.Join(errs...)
}

func validateCommand(args []string) error {
	fs := pflag.NewFlagSet("validate", pflag.ExitOnError)
	cfgPath := fs.String("config", "", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	_ = godotenv.Load()

	if _, err := config.Load(*cfgPath); err != nil {
		return err
	}
	if *cfgPath == "" {
		fmt.Println("environment configuration looks good ✅")
	} else {
		fmt.Printf("config %s looks good ✅\n", *cfgPath)
	}
	return nil
}

func statsCommand(args []string) error {
	fs := pflag.NewFlagSet("stats", pflag.ExitOnError)
	baseURL := fs.String("url", "http://localhost:5002", "Recorder API base URL")
	interval := fs.Duration("interval", 5*time.Second, "Refresh interval in watch mode")
	watch := fs.Bool("watch", false, "Keep polling instead of printing once")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := client.New(*baseURL)
	if !*watch {
		return printStats(ctx, api)
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	fmt.Printf("Polling statistics from %s (Ctrl+C to stop)\n", *baseURL)
	for {
		if err := printStats(ctx, api); err != nil {
			fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func printStats(ctx context.Context, api *client.Client) error {
	stats, err := api.Statistics(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("[%s] readings=%d", time.Now().Format(time.RFC3339), stats.TotalReadings)
	printField("temp", stats.Temperature)
	printField("humidity", stats.Humidity)
	printField("pressure", stats.Pressure)
	printField("altitude", stats.Altitude)
	if stats.LastReadingTime != nil {
		fmt.Printf(" last=%s", stats.LastReadingTime.Format(time.RFC3339))
	}
	fmt.Println()
	return nil
}

func printField(name string, fs client.FieldStats) {
	if fs.Count == 0 {
		return
	}
	fmt.Printf(" %s=%.2f..%.2f avg=%.2f", name, *fs.Min, *fs.Max, *fs.Avg)
}

func selectBanner() string {
	if os.Getenv("NO_COLOR") != "" {
		return bannerPlain
	}
	return bannerColor
}

func printUsage() {
	fmt.Printf(`MCU sensor recorder

Usage:
  mcu-recorder <command> [flags]

Commands:
  run        Start the recorder daemon and HTTP API
  validate   Load and validate a config file without starting the daemon
  stats      Print aggregate statistics from a running recorder

Examples:
  mcu-recorder run --config ./config.yaml
  mcu-recorder run --autostart
  mcu-recorder validate --config ./config.yaml
  mcu-recorder stats --url http://localhost:5002 --watch
`)
}
