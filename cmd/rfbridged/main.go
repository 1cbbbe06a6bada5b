package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"rfbridge/internal/app"
	"rfbridge/internal/bus"
	"rfbridge/internal/config"
	"rfbridge/internal/events"
	"rfbridge/internal/link"
	"rfbridge/internal/logging"
	"rfbridge/internal/platform"
	"rfbridge/internal/radio"
	"rfbridge/internal/serial"
	"rfbridge/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		slog.Error("run bridge daemon", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "config file path (defaults to the user config dir)")
	serialPort := flag.String("port", "", "serial device path, overrides config")
	serialBaud := flag.Int("baud", 0, "serial baud rate, overrides config")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Only one daemon can own the serial port and config at a time.
	lock, err := platform.AcquireInstanceLock(app.Name)
	if err != nil {
		if errors.Is(err, platform.ErrInstanceAlreadyRunning) {
			return errors.New("another rfbridge instance is already running")
		}
		if !errors.Is(err, platform.ErrInstanceLockUnsupported) {
			return fmt.Errorf("acquire instance lock: %w", err)
		}
	} else {
		defer func() { _ = lock.Release() }()
	}

	paths, err := app.ResolvePaths()
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}
	cfgFile := paths.ConfigFile
	if strings.TrimSpace(*configPath) != "" {
		cfgFile = *configPath
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if strings.TrimSpace(*serialPort) != "" {
		cfg.Serial.Port = strings.TrimSpace(*serialPort)
	}
	if *serialBaud > 0 {
		cfg.Serial.Baud = *serialBaud
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if strings.TrimSpace(cfg.Serial.Port) == "" {
		return errors.New("missing serial port: set --port or save serial.port in config")
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() {
		if closeErr := logMgr.Close(); closeErr != nil {
			slog.Warn("close log manager", "error", closeErr)
		}
	}()
	logger := logMgr.Logger("daemon")
	logger.Info("starting rfbridge", "version", app.BuildVersion(), "build_date", app.BuildDateYMD(), "serial_port", cfg.Serial.Port, "radio_driver", cfg.Radio.Driver)

	b := bus.New(logMgr.Logger("bus"))
	defer b.Close()

	group, ctx := errgroup.WithContext(ctx)

	if cfg.Telemetry.Enabled {
		dbPath := resolveTelemetryPath(paths.RootDir, cfg.Telemetry.Path)
		db, err := telemetry.Open(ctx, dbPath)
		if err != nil {
			return fmt.Errorf("open telemetry db: %w", err)
		}
		defer func() {
			if closeErr := db.Close(); closeErr != nil {
				logger.Warn("close telemetry db", "error", closeErr)
			}
		}()

		writer := telemetry.NewWriterQueue(logMgr.Logger("telemetry"), 256)
		writer.Start(ctx)
		recorder := telemetry.NewRecorder(logMgr.Logger("telemetry"), b, telemetry.NewSampleRepo(db), writer)
		group.Go(func() error {
			return ignoreCancel(recorder.Run(ctx))
		})
		logger.Info("telemetry recording enabled", "path", dbPath)
	}

	port := serial.NewPort(cfg.Serial.Port, cfg.Serial.Baud)

	var driver radio.Driver
	switch cfg.Radio.Driver {
	case config.RadioSim:
		air := radio.NewAir()
		driver = air.NewEndpoint()
		echo := radio.NewEchoStation(logMgr.Logger("echo"), air.NewEndpoint(), time.Duration(cfg.Radio.EchoDelayMS)*time.Millisecond)
		echo.Start(ctx)
	default:
		return fmt.Errorf("unsupported radio driver: %s", cfg.Radio.Driver)
	}

	bridge := link.New(logMgr.Logger("link"), b, port, driver)
	port.SetHandler(bridge)
	driver.SetHandler(bridge)

	session := serial.NewSession(logMgr.Logger("serial"), b, port)
	group.Go(func() error {
		return ignoreCancel(session.Run(ctx))
	})
	group.Go(func() error {
		return ignoreCancel(bridge.Run(ctx))
	})
	group.Go(func() error {
		watch(ctx, b, logMgr.Logger("events"))
		return nil
	})

	err = group.Wait()
	logger.Info("bridge daemon stopped")
	return err
}

// watch mirrors bus traffic into the log until ctx is cancelled.
func watch(ctx context.Context, b bus.MessageBus, logger *slog.Logger) {
	stateSub := b.Subscribe(events.TopicLinkState)
	errorSub := b.Subscribe(events.TopicLinkError)
	serialSub := b.Subscribe(events.TopicSerialStatus)
	qualitySub := b.Subscribe(events.TopicLinkQuality)

	defer func() {
		b.Unsubscribe(stateSub, events.TopicLinkState)
		b.Unsubscribe(errorSub, events.TopicLinkError)
		b.Unsubscribe(serialSub, events.TopicSerialStatus)
		b.Unsubscribe(qualitySub, events.TopicLinkQuality)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-stateSub:
			if change, ok := raw.(events.LinkStateChange); ok {
				logger.Debug("link state", "state", change.State, "error_flag", change.ErrorFlag)
			}
		case raw := <-errorSub:
			if linkErr, ok := raw.(events.LinkError); ok {
				logger.Warn("link error", "kind", linkErr.Kind)
			}
		case raw := <-serialSub:
			if status, ok := raw.(events.SerialStatus); ok {
				logger.Info("serial status", "state", status.State, "port", status.Port, "error", status.Err)
			}
		case raw := <-qualitySub:
			if q, ok := raw.(events.LinkQuality); ok {
				logger.Debug("link quality", "rssi", q.RSSI, "lqi", q.LQI, "payload_len", q.PayloadLen)
			}
		}
	}
}

// resolveTelemetryPath anchors a relative telemetry path at the app config
// root, so the database lands next to the config file by default.
func resolveTelemetryPath(rootDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(rootDir, path)
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
