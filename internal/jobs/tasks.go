package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ArCaneSec/watcher/internal/models"
	"github.com/ArCaneSec/watcher/internal/store"

	"github.com/charmbracelet/log"
)

const storeTimeout = 10 * time.Second

// fire is the single timer callback; the target is resolved again by id.
func (s *Scheduler) fire(targetID uint) {
	if !s.track() {
		return
	}
	defer s.wg.Done()

	if !s.inflight.acquire(targetID) {
		s.metrics.skippedFires.Inc()
		log.Warn("Previous check still running, skipping fire.", "target_id", targetID)
		return
	}
	defer s.inflight.release(targetID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Check panicked.", "target_id", targetID, "panic", r)
		}
	}()

	ctx := context.Background()

	target, err := s.lookup(ctx, targetID)
	if err != nil {
		log.Error("Couldn't load target.", "target_id", targetID, "err", err)
		return
	}
	if target == nil || !target.Enabled {
		log.Debug("Target gone or disabled, ignoring fire.", "target_id", targetID)
		return
	}

	if _, err := s.checkTarget(ctx, *target); err != nil {
		log.Error("Check failed.", "target_id", targetID, "url", target.URL, "err", err)
	}
}

func (s *Scheduler) lookup(ctx context.Context, id uint) (*models.WatchTarget, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	target, err := s.store.GetTarget(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return target, err
}

// checkTarget polls target once, flags a content change against the
// previous check and appends the result.
func (s *Scheduler) checkTarget(ctx context.Context, target models.WatchTarget) (models.ContentCheck, error) {
	check := s.poller.Poll(ctx, target)

	s.metrics.polls.WithLabelValues(pollOutcome(check.IsSuccess, check.ErrorMessage)).Inc()
	s.metrics.pollDuration.Observe(check.ResponseTimeMs / 1000)

	if check.ErrorMessage != nil {
		log.Warn("Poll failed.", "target_id", target.ID, "url", target.URL, "err", *check.ErrorMessage)
	}

	storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	if check.HasFingerprint() {
		changed, err := DetectChange(storeCtx, s.store, target.ID, *check.ContentHash)
		if err != nil {
			return check, fmt.Errorf("detect change: %w", err)
		}
		check.ContentChanged = changed
	}

	if err := s.store.AppendCheck(storeCtx, &check); err != nil {
		return check, fmt.Errorf("append check: %w", err)
	}

	if check.ContentChanged {
		s.metrics.changes.Inc()
		log.Info("Content changed.", "target_id", target.ID, "url", target.URL, "hash", *check.ContentHash)
		s.notifyChange(target, check)
	}

	return check, nil
}

func (s *Scheduler) notifyChange(target models.WatchTarget, check models.ContentCheck) {
	if !s.track() {
		return
	}
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		s.notify.ContentChanged(ctx, target, check)
	}()
}

// RunAllOnce polls every enabled target in sequence, skipping targets whose
// timer check is already running. Concurrent callers share one pass.
func (s *Scheduler) RunAllOnce(ctx context.Context) (int, error) {
	v, err, _ := s.runAll.Do("run-all", func() (interface{}, error) {
		return s.runAllOnce(ctx)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (s *Scheduler) runAllOnce(ctx context.Context) (int, error) {
	if !s.track() {
		return 0, ErrSchedulerStopped
	}
	defer s.wg.Done()

	listCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	targets, err := s.store.ListTargets(listCtx, store.EnabledOnly())
	cancel()
	if err != nil {
		return 0, fmt.Errorf("list enabled targets: %w", err)
	}

	polled := 0
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return polled, err
		}
		if !s.inflight.acquire(t.ID) {
			log.Debug("Check already running, skipping.", "target_id", t.ID)
			continue
		}

		_, err := s.checkTarget(ctx, t)
		s.inflight.release(t.ID)
		if err != nil {
			log.Error("Check failed.", "target_id", t.ID, "url", t.URL, "err", err)
			continue
		}
		polled++
	}

	log.Info("Checked all targets.", "polled", polled, "targets", len(targets))
	return polled, nil
}
