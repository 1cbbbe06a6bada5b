package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"rfbridge/internal/app"
	"rfbridge/internal/bus"
	"rfbridge/internal/config"
	"rfbridge/internal/events"
	"rfbridge/internal/link"
	"rfbridge/internal/logging"
	"rfbridge/internal/radio"
	"rfbridge/internal/serial"
	"rfbridge/internal/telemetry"
)

const (
	outputPollInterval = 50 * time.Millisecond
	maxHexPreviewLen   = 64
)

func main() {
	if err := run(); err != nil {
		slog.Error("run debug tool", "error", err)
		os.Exit(1)
	}
}

// run drives a full bridge over the simulated medium: scripted serial input
// goes in, an echo station answers on the air, and every bus event plus the
// serial output is logged.
func run() error {
	message := flag.String("message", "hello", "payload injected on the serial side")
	count := flag.Int("count", 3, "number of frames to inject")
	interval := flag.Duration("interval", 500*time.Millisecond, "delay between injected frames")
	echoDelay := flag.Duration("echo-delay", 50*time.Millisecond, "echo station reply delay")
	corrupt := flag.Bool("corrupt-first", false, "corrupt the first transmitted packet on the air")
	listenFor := flag.Duration("listen-for", 3*time.Second, "drain time after the last injected frame")
	level := flag.String("level", "debug", "log level")
	telemetryDB := flag.String("telemetry-db", "", "record link quality samples into this sqlite file and dump them on exit")
	flag.Parse()

	if len([]byte(*message))+1 > link.MaxPayload {
		return fmt.Errorf("message exceeds %d payload bytes: %q", link.MaxPayload, *message)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logMgr := logging.NewManager()
	if err := logMgr.Configure(config.LoggingConfig{Level: *level}, ""); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() {
		if closeErr := logMgr.Close(); closeErr != nil {
			slog.Warn("close log manager", "error", closeErr)
		}
	}()
	logger := logMgr.Logger("cli")
	logger.Info("starting rfbridge debug", "version", app.BuildVersion(), "build_date", app.BuildDateYMD())

	b := bus.New(logMgr.Logger("bus"))
	defer b.Close()

	var repo *telemetry.SampleRepo
	if strings.TrimSpace(*telemetryDB) != "" {
		db, err := telemetry.Open(ctx, *telemetryDB)
		if err != nil {
			return fmt.Errorf("open telemetry db: %w", err)
		}
		defer func() { _ = db.Close() }()

		repo = telemetry.NewSampleRepo(db)
		writer := telemetry.NewWriterQueue(logMgr.Logger("telemetry"), 64)
		writer.Start(ctx)
		recorder := telemetry.NewRecorder(logMgr.Logger("telemetry"), b, repo, writer)
		go func() { _ = recorder.Run(ctx) }()
	}

	air := radio.NewAir()
	pipe := serial.NewPipe()
	endpoint := air.NewEndpoint()
	activity := &activityIndicator{}
	bridge := link.New(logMgr.Logger("link"), b, pipe, endpoint, link.WithIndicator(activity))
	pipe.SetHandler(bridge)
	endpoint.SetHandler(bridge)

	echo := radio.NewEchoStation(logMgr.Logger("echo"), air.NewEndpoint(), *echoDelay)

	watch(ctx, b, logMgr.Logger("events"))
	go watchSerialOutput(ctx, logger, pipe)

	go func() { _ = bridge.Run(ctx) }()
	echo.Start(ctx)

	if *corrupt {
		air.CorruptNext()
		logger.Info("next packet on the air will be corrupted")
	}

	frame := append([]byte(*message), '\n')
	for i := 0; i < *count; i++ {
		if err := ctx.Err(); err != nil {
			return nil
		}
		logger.Info("injecting serial frame", "index", i, "payload", strconv.Quote(string(frame)))
		pipe.Inject(frame)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(*interval):
		}
	}

	logger.Info("drain phase", "duration", *listenFor)
	select {
	case <-ctx.Done():
	case <-time.After(*listenFor):
	}
	logger.Info("serial output total", "bytes", len(pipe.Sent()), "content", strconv.Quote(string(pipe.Sent())))
	logger.Info("link activity", "loop_wakeups", activity.Heartbeats(), "transmissions", activity.Transmissions())

	if repo != nil {
		samples, err := repo.ListRecent(context.Background(), 20)
		if err != nil {
			return fmt.Errorf("list telemetry samples: %w", err)
		}
		for _, sample := range samples {
			logger.Info("telemetry sample", "at", sample.At.Format(time.RFC3339Nano), "rssi", sample.RSSI, "lqi", sample.LQI, "payload_len", sample.PayloadLen)
		}
	}

	return nil
}

// activityIndicator counts loop wakeups and completed transmissions, the
// debug stand-in for the device's LED outputs.
type activityIndicator struct {
	heartbeats    atomic.Int64
	transmissions atomic.Int64
}

func (a *activityIndicator) Heartbeat() {
	a.heartbeats.Add(1)
}

func (a *activityIndicator) Transmit(active bool) {
	if !active {
		a.transmissions.Add(1)
	}
}

func (a *activityIndicator) Heartbeats() int64    { return a.heartbeats.Load() }
func (a *activityIndicator) Transmissions() int64 { return a.transmissions.Load() }

// watch logs every bus event published by the bridge.
func watch(ctx context.Context, b bus.MessageBus, logger *slog.Logger) {
	stateSub := b.Subscribe(events.TopicLinkState)
	errorSub := b.Subscribe(events.TopicLinkError)
	qualitySub := b.Subscribe(events.TopicLinkQuality)
	frameOutSub := b.Subscribe(events.TopicFrameOut)
	frameInSub := b.Subscribe(events.TopicFrameIn)

	go func() {
		defer func() {
			b.Unsubscribe(stateSub, events.TopicLinkState)
			b.Unsubscribe(errorSub, events.TopicLinkError)
			b.Unsubscribe(qualitySub, events.TopicLinkQuality)
			b.Unsubscribe(frameOutSub, events.TopicFrameOut)
			b.Unsubscribe(frameInSub, events.TopicFrameIn)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case raw := <-stateSub:
				if change, ok := raw.(events.LinkStateChange); ok {
					logger.Info("link-state", "state", change.State, "error_flag", change.ErrorFlag)
				}
			case raw := <-errorSub:
				if linkErr, ok := raw.(events.LinkError); ok {
					logger.Warn("link-error", "kind", linkErr.Kind)
				}
			case raw := <-qualitySub:
				if q, ok := raw.(events.LinkQuality); ok {
					logger.Info("link-quality", "rssi", q.RSSI, "lqi", q.LQI, "payload_len", q.PayloadLen)
				}
			case raw := <-frameOutSub:
				if frame, ok := raw.(events.Frame); ok {
					logger.Info("frame-out", "len", frame.Len, "hex", previewHex(frame.Hex))
				}
			case raw := <-frameInSub:
				if frame, ok := raw.(events.Frame); ok {
					logger.Info("frame-in", "len", frame.Len, "hex", previewHex(frame.Hex))
				}
			}
		}
	}()
}

// watchSerialOutput logs bytes the bridge writes to the serial side as they
// appear.
func watchSerialOutput(ctx context.Context, logger *slog.Logger, pipe *serial.Pipe) {
	seen := 0
	ticker := time.NewTicker(outputPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sent := pipe.Sent()
			if len(sent) > seen {
				logger.Info("serial-out", "new", strconv.Quote(string(sent[seen:])))
				seen = len(sent)
			}
		}
	}
}

func previewHex(hex string) string {
	hex = strings.TrimSpace(hex)
	if len(hex) <= maxHexPreviewLen {
		return hex
	}
	return hex[:maxHexPreviewLen] + "..."
}
