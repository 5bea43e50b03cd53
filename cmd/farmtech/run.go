// v3
// cmd/farmtech/run.go
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tsromanox/FarmTech/internal/actuator"
	"github.com/tsromanox/FarmTech/internal/clock"
	"github.com/tsromanox/FarmTech/internal/config"
	"github.com/tsromanox/FarmTech/internal/controller"
	"github.com/tsromanox/FarmTech/internal/display"
	"github.com/tsromanox/FarmTech/internal/httpapi"
	"github.com/tsromanox/FarmTech/internal/logging"
	"github.com/tsromanox/FarmTech/internal/metrics"
	"github.com/tsromanox/FarmTech/internal/sensor"
	"github.com/tsromanox/FarmTech/internal/telemetry"
)

type runFlags struct {
	properties string
	sink       string
	threshold  float64
	intervalMS int
	sensorType string
	httpBind   string
	display    string
}

func newRunCommand() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the irrigation control loop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runController(ctx, cmd.Flags(), f)
		},
	}
	cmd.Flags().StringVar(&f.properties, "properties", "", "properties file (default $FARMTECH_PROPERTIES)")
	cmd.Flags().StringVar(&f.sink, "sink", "", "telemetry sink: none, mqtt, azure or kafka")
	cmd.Flags().Float64Var(&f.threshold, "threshold", 0, "pump runs while 0 < humidity < threshold")
	cmd.Flags().IntVar(&f.intervalMS, "interval-ms", 0, "sample interval in milliseconds")
	cmd.Flags().StringVar(&f.sensorType, "sensor", "", "sensor type: dht11, dht22 or sim")
	cmd.Flags().StringVar(&f.httpBind, "http", "", "status API bind address, e.g. :8080")
	cmd.Flags().StringVar(&f.display, "display", "", "display: terminal, log or none")
	return cmd
}

// applyFlags overrides cfg with every flag the user set explicitly.
func applyFlags(cfg *config.Config, fs *pflag.FlagSet, f runFlags) error {
	if fs.Changed("sink") {
		cfg.Sink = f.sink
	}
	if fs.Changed("threshold") {
		cfg.Threshold = f.threshold
	}
	if fs.Changed("interval-ms") {
		cfg.IntervalMS = f.intervalMS
	}
	if fs.Changed("sensor") {
		cfg.SensorType = f.sensorType
	}
	if fs.Changed("http") {
		cfg.HTTPBind = f.httpBind
	}
	if fs.Changed("display") {
		cfg.Display = f.display
	}
	return cfg.Validate()
}

func runController(ctx context.Context, fs *pflag.FlagSet, f runFlags) error {
	lg, logFile := logging.Init(os.Getenv("LOG_LEVEL"))
	if logFile != nil {
		defer logFile.Close()
	}

	cfg, err := config.Load(f.properties, lg)
	if err != nil {
		lg.Error("configuration", "error", err)
		return err
	}
	if err := applyFlags(cfg, fs, f); err != nil {
		lg.Error("configuration", "error", err)
		return err
	}
	lg.Info("configuration loaded",
		"deviceId", cfg.DeviceID,
		"sink", cfg.Sink,
		"sensor", cfg.SensorType,
		"threshold", cfg.Threshold,
		"interval", cfg.Interval().String(),
		"ssid", cfg.SSID)

	reader, err := sensor.Open(cfg.SensorType, cfg.SensorPin, cfg.SimFaultRate)
	if err != nil {
		return fmt.Errorf("open sensor: %w", err)
	}
	relay, led, err := openOutputs(cfg)
	if err != nil {
		return err
	}

	clk := openClock(ctx, cfg, lg)

	presenter, lg, err := openDisplay(cfg, lg, logFile, os.Stdout)
	if err != nil {
		return err
	}
	sink, topic, err := telemetry.FromConfig(cfg, lg, clk.Now)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	m := metrics.New()

	ctrl := controller.New(controller.Options{
		DeviceID:         cfg.DeviceID,
		Topic:            topic,
		Threshold:        cfg.Threshold,
		Interval:         cfg.Interval(),
		Frame:            cfg.Frame(),
		ReconnectBackoff: cfg.ReconnectBackoff,
		UTCOffset:        cfg.UTCOffset,
	}, controller.Deps{
		Reader:    reader,
		Relay:     relay,
		LED:       led,
		Sink:      sink,
		Presenter: presenter,
		Clock:     clk,
		Metrics:   m,
		Log:       lg,
	})

	if cfg.HTTPBind != "" {
		var access io.Writer = io.Discard
		if logFile != nil {
			access = logFile
		}
		srv := httpapi.NewServer(cfg.HTTPBind, logging.Component(lg, "http"), ctrl, m, access)
		go func() {
			if err := srv.Start(); err != nil {
				lg.Error("http server failed", "error", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Stop(sctx)
		}()
	}

	return ctrl.Run(ctx)
}

// openOutputs binds the relay and status LED. The simulated sensor runs against in-memory
// pins so a bench host needs no GPIO.
func openOutputs(cfg *config.Config) (actuator.Output, actuator.Output, error) {
	relayPin, ledPin := cfg.RelayPin, cfg.LEDPin
	if cfg.SensorType == config.SensorSim {
		relayPin, ledPin = "mem", "mem"
	}
	relay, err := actuator.Open(relayPin)
	if err != nil {
		return nil, nil, fmt.Errorf("open relay: %w", err)
	}
	led, err := actuator.Open(ledPin)
	if err != nil {
		return nil, nil, fmt.Errorf("open led: %w", err)
	}
	return relay, led, nil
}

// openDisplay picks the presenter. The terminal panel redraws the whole screen, so it only
// runs when stdout is a tty, and the log then moves to the log file alone. Without a tty or
// a log file the display degrades to log lines.
func openDisplay(cfg *config.Config, lg *slog.Logger, logFile, stdout *os.File) (display.Presenter, *slog.Logger, error) {
	kind := cfg.Display
	if kind == config.DisplayTerminal {
		switch {
		case !isatty.IsTerminal(stdout.Fd()):
			lg.Info("stdout is not a terminal; display falls back to log lines")
			kind = config.DisplayLog
		case logFile == nil:
			lg.Warn("no log file to move logs to; display falls back to log lines")
			kind = config.DisplayLog
		default:
			lg.Info("terminal display active; logging to file only", "file", logFile.Name())
			lg = logging.FileOnly(logFile, os.Getenv("LOG_LEVEL"))
		}
	}
	p, err := display.New(kind, stdout, logging.Component(lg, "display"))
	return p, lg, err
}

func openClock(ctx context.Context, cfg *config.Config, lg *slog.Logger) clock.Clock {
	if cfg.NTPServer == "" {
		return clock.System{}
	}
	c := clock.NewNTP(cfg.NTPServer, cfg.NTPResync, logging.Component(lg, "clock"))
	go c.Run(ctx)
	return c
}
