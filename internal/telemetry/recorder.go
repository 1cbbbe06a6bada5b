package telemetry

import (
	"context"
	"log/slog"

	"rfbridge/internal/bus"
	"rfbridge/internal/events"
)

// Recorder subscribes to link quality reports on the bus and persists each
// one through the writer queue.
type Recorder struct {
	logger *slog.Logger
	bus    bus.MessageBus
	repo   *SampleRepo
	writer *WriterQueue
}

func NewRecorder(logger *slog.Logger, b bus.MessageBus, repo *SampleRepo, writer *WriterQueue) *Recorder {
	return &Recorder{
		logger: logger,
		bus:    b,
		repo:   repo,
		writer: writer,
	}
}

// Run consumes quality reports until ctx is cancelled. The writer queue must
// already be started.
func (r *Recorder) Run(ctx context.Context) error {
	sub := r.bus.Subscribe(events.TopicLinkQuality)
	defer r.bus.Unsubscribe(sub, events.TopicLinkQuality)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub:
			if !ok {
				return nil
			}
			q, isQuality := msg.(events.LinkQuality)
			if !isQuality {
				r.logger.Warn("unexpected message on quality topic", "message", msg)
				continue
			}
			r.record(q)
		}
	}
}

func (r *Recorder) record(q events.LinkQuality) {
	sample := Sample{
		At:         q.At,
		RSSI:       int(q.RSSI),
		LQI:        int(q.LQI),
		PayloadLen: q.PayloadLen,
	}
	r.writer.Enqueue("insert link quality", func(ctx context.Context) error {
		return r.repo.Insert(ctx, sample)
	})
}
