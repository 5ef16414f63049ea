// Package worker hosts the background loops that drain engine side effects:
// the outbox dispatcher and the timer expiry worker.
package worker

import (
	"context"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/bghira/text-game-engine/internal/platform/timeouts"
	"github.com/bghira/text-game-engine/internal/services/game/engine"
	"github.com/bghira/text-game-engine/internal/services/game/storage"
)

// Publisher delivers one outbox event to the outside world.
type Publisher interface {
	Publish(ctx context.Context, event storage.OutboxEventRecord) error
}

// Config controls loop cadence and retry policy.
type Config struct {
	PollInterval  time.Duration
	BatchSize     int
	MaxAttempts   int
	RetryBackoff  time.Duration
	RetryMaxDelay time.Duration
}

const (
	defaultPollInterval  = 2 * time.Second
	defaultBatchSize     = 16
	defaultMaxAttempts   = 8
	defaultRetryBackoff  = 5 * time.Second
	defaultRetryMaxDelay = 5 * time.Minute
)

func (c Config) normalized() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = defaultRetryMaxDelay
	}
	return c
}

// Dispatcher drains pending outbox events through a publisher port. Events
// that keep failing retire to failed after MaxAttempts.
type Dispatcher struct {
	store     storage.Store
	publisher Publisher
	cfg       Config
	clock     engine.Clock
}

// NewDispatcher builds a dispatcher with normalized config. A nil clock
// defaults to wall time.
func NewDispatcher(store storage.Store, publisher Publisher, cfg Config, clock engine.Clock) *Dispatcher {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		cfg:       cfg.normalized(),
		clock:     clock,
	}
}

// Run polls until the context ends.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := d.RunOnce(ctx); err != nil {
				log.Printf("outbox dispatch pass failed: %v", err)
			}
		}
	}
}

// RunOnce drains one batch of due events and reports how many dispatched
// successfully.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	now := d.clock()
	events, err := d.store.ListDueOutboxEvents(ctx, now, d.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, event := range events {
		dispatchCtx, cancel := context.WithTimeout(ctx, timeouts.OutboxDispatch)
		publishErr := d.publisher.Publish(dispatchCtx, event)
		cancel()

		now = d.clock()
		if publishErr == nil {
			if err := d.store.MarkOutboxEventSent(ctx, event.ID, now); err != nil {
				return sent, err
			}
			sent++
			continue
		}

		log.Printf("outbox dispatch failed event_id=%s event_type=%s attempts=%d: %v",
			event.ID, event.EventType, event.Attempts, publishErr)
		if event.Attempts+1 >= d.cfg.MaxAttempts {
			if err := d.store.MarkOutboxEventFailed(ctx, event.ID, now); err != nil {
				return sent, err
			}
			continue
		}
		nextAttemptAt := now.Add(d.retryDelay(event.Attempts))
		if err := d.store.RecordOutboxAttemptFailure(ctx, event.ID, nextAttemptAt, now); err != nil {
			return sent, err
		}
	}
	return sent, nil
}

// retryDelay grows exponentially with the attempt count, capped at the
// configured ceiling.
func (d *Dispatcher) retryDelay(attempts int) time.Duration {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.cfg.RetryBackoff
	policy.MaxInterval = d.cfg.RetryMaxDelay
	policy.RandomizationFactor = 0

	delay := policy.NextBackOff()
	for i := 0; i < attempts; i++ {
		delay = policy.NextBackOff()
	}
	if delay > d.cfg.RetryMaxDelay {
		delay = d.cfg.RetryMaxDelay
	}
	return delay
}

// LogPublisher is a stand-in publisher that records events instead of
// delivering them. Useful for worker deployments whose surfaces are not yet
// wired.
type LogPublisher struct{}

// Publish logs the event and succeeds.
func (LogPublisher) Publish(_ context.Context, event storage.OutboxEventRecord) error {
	log.Printf("outbox event event_id=%s campaign_id=%s event_type=%s key=%s",
		event.ID, event.CampaignID, event.EventType, event.IdempotencyKey)
	return nil
}
