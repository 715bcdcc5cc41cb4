// Package feed relays committed queue events from a store's outbox to an
// external sink.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/refset/supportqueue/internal/queue"
)

// Source is an outbox that can be read by sequence number.
type Source interface {
	Events(ctx context.Context, after int64, limit int) ([]queue.Event, error)
}

// Publisher delivers a batch of events, in order, to a sink.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, events []queue.Event) error
}

// Observer is told how many events reached a sink.
type Observer interface {
	ObservePublished(sink string, n int)
}

type Config struct {
	PollInterval time.Duration
	BatchSize    int
}

// Relay polls a Source and forwards new events to a Publisher. The
// checkpoint only moves after a successful publish, so a failed batch is
// retried on the next tick and delivery is at-least-once.
type Relay struct {
	source    Source
	publisher Publisher
	cfg       Config
	logger    *slog.Logger
	observer  Observer

	mu         sync.Mutex
	checkpoint int64
}

// NewRelay creates a relay. logger and observer may be nil.
func NewRelay(source Source, publisher Publisher, cfg Config, logger *slog.Logger, observer Observer) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Relay{
		source:    source,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.With("sink", publisher.Name()),
		observer:  observer,
	}
}

// Run polls until ctx is canceled.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("starting event relay", "poll_interval", r.cfg.PollInterval, "batch_size", r.cfg.BatchSize)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	r.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("shutting down event relay", "checkpoint", r.Checkpoint())
			return nil
		case <-ticker.C:
			r.drain(ctx)
		}
	}
}

// drain polls until the outbox is exhausted or a poll fails.
func (r *Relay) drain(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := r.Poll(ctx)
		if err != nil {
			if ctx.Err() == nil {
				r.logger.Error("relay poll failed", "err", err, "checkpoint", r.Checkpoint())
			}
			return
		}
		if n < r.cfg.BatchSize {
			return
		}
	}
}

// Poll publishes at most one batch and returns how many events it sent.
func (r *Relay) Poll(ctx context.Context) (int, error) {
	after := r.Checkpoint()
	events, err := r.source.Events(ctx, after, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("read outbox after %d: %w", after, err)
	}
	if len(events) == 0 {
		return 0, nil
	}
	if err := r.publisher.Publish(ctx, events); err != nil {
		return 0, fmt.Errorf("publish %d events: %w", len(events), err)
	}

	last := events[len(events)-1].Seq
	r.SetCheckpoint(last)
	if r.observer != nil {
		r.observer.ObservePublished(r.publisher.Name(), len(events))
	}
	r.logger.Debug("published events", "count", len(events), "checkpoint", last)
	return len(events), nil
}

// SetCheckpoint sets the last delivered sequence number.
// TODO: persist the checkpoint in the store so restarts do not replay the
// whole outbox.
func (r *Relay) SetCheckpoint(seq int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkpoint = seq
}

// Checkpoint returns the last delivered sequence number.
func (r *Relay) Checkpoint() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.checkpoint
}
