package worker

import (
	"context"
	"log"
	"time"

	"github.com/bghira/text-game-engine/internal/platform/timeouts"
	"github.com/bghira/text-game-engine/internal/services/game/engine"
	"github.com/bghira/text-game-engine/internal/services/game/storage"
)

// TimerWorker expires due timers and applies their effects. Expiry and
// consumption are separate conditional transitions, so a crash between them
// leaves the timer expired and the effect retries on the next pass.
type TimerWorker struct {
	store   storage.Store
	effects engine.TimerEffects
	cfg     Config
	clock   engine.Clock
}

// NewTimerWorker builds a timer worker with normalized config.
func NewTimerWorker(store storage.Store, effects engine.TimerEffects, cfg Config, clock engine.Clock) *TimerWorker {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &TimerWorker{
		store:   store,
		effects: effects,
		cfg:     cfg.normalized(),
		clock:   clock,
	}
}

// Run polls until the context ends.
func (w *TimerWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				log.Printf("timer expiry pass failed: %v", err)
			}
		}
	}
}

// RunOnce retries expired-but-unconsumed timers, then expires one batch of
// due timers. Reports how many timers were consumed.
func (w *TimerWorker) RunOnce(ctx context.Context) (int, error) {
	consumed := 0

	// Timers whose effects failed on a previous pass stay expired; retry
	// them before taking on new work.
	expired, err := w.store.ListExpiredTimers(ctx, w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	for _, record := range expired {
		done, err := w.consume(ctx, record)
		if err != nil {
			return consumed, err
		}
		if done {
			consumed++
		}
	}

	now := w.clock()
	due, err := w.store.ListDueTimers(ctx, now, w.cfg.BatchSize)
	if err != nil {
		return consumed, err
	}
	for _, record := range due {
		transitioned, err := w.store.MarkTimerExpired(ctx, record.ID, w.clock())
		if err != nil {
			return consumed, err
		}
		if !transitioned {
			// Another worker raced us to this timer.
			continue
		}
		done, err := w.consume(ctx, record)
		if err != nil {
			return consumed, err
		}
		if done {
			consumed++
		}
	}
	return consumed, nil
}

// consume applies a timer's effects and marks it consumed on success.
func (w *TimerWorker) consume(ctx context.Context, record storage.TimerRecord) (bool, error) {
	effectCtx, cancel := context.WithTimeout(ctx, timeouts.TimerEffect)
	applyErr := w.applyEffects(effectCtx, record)
	cancel()
	if applyErr != nil {
		log.Printf("timer effects failed timer_id=%s campaign_id=%s: %v", record.ID, record.CampaignID, applyErr)
		return false, nil
	}
	return w.store.MarkTimerConsumed(ctx, record.ID, w.clock())
}

func (w *TimerWorker) applyEffects(ctx context.Context, record storage.TimerRecord) error {
	if w.effects == nil {
		return nil
	}
	return w.effects.Apply(ctx, record)
}

// LogTimerEffects is a stand-in effects port that records expiries instead
// of narrating them.
type LogTimerEffects struct{}

// Apply logs the expired timer and succeeds.
func (LogTimerEffects) Apply(_ context.Context, record storage.TimerRecord) error {
	log.Printf("timer expired timer_id=%s campaign_id=%s event_text=%q", record.ID, record.CampaignID, record.EventText)
	return nil
}
