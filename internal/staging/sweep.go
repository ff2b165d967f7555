package staging

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"speelycaptor/internal/filesystem"
	"speelycaptor/internal/logging"
	"speelycaptor/internal/metrics"
	"speelycaptor/internal/workers"
)

// maxSweepWorkers bounds concurrent backing file deletions.
const maxSweepWorkers = 16

// SweepResult summarizes one eviction pass.
type SweepResult struct {
	Evicted  int
	Failed   int
	Duration time.Duration
	Err      error
}

// Sweep evicts every entry whose expiry has passed. Expired keys leave the
// index (persisted once) before their files are deleted. A failed deletion
// is counted and logged; the pass continues.
func (s *Store) Sweep(ctx context.Context) SweepResult {
	start := time.Now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return SweepResult{Err: ErrClosed}
	}

	now := s.now()
	var dead []string
	for key, exp := range s.entries {
		if expired(exp, now) {
			dead = append(dead, key)
		}
	}

	var persistErr error
	if len(dead) > 0 {
		for _, key := range dead {
			delete(s.entries, key)
		}
		if err := s.persistLocked(ctx); err != nil {
			// Leaving the keys indexed would resurrect them; the next
			// successful persist writes the trimmed mapping.
			persistErr = &StoreIOError{Op: "sweep", Err: err}
		}
	}
	count := len(s.entries)
	s.mu.Unlock()

	paths := make([]string, len(dead))
	for i, key := range dead {
		paths[i] = s.PathFor(key)
	}

	var failed atomic.Int64
	removeErr := workers.Each(paths, workers.ForIO(maxSweepWorkers), func(path string) error {
		if err := filesystem.RemoveIfExists(path, s.retry); err != nil {
			failed.Add(1)
			logging.Warn("Sweep failed to remove %s: %v", path, err)
			return err
		}
		return nil
	})

	result := SweepResult{
		Evicted:  len(dead),
		Failed:   int(failed.Load()),
		Duration: time.Since(start),
		Err:      errors.Join(persistErr, removeErr),
	}

	metrics.StagingSweepsTotal.Inc()
	metrics.StagingSweepEvictions.Add(float64(result.Evicted))
	metrics.StagingSweepErrors.Add(float64(result.Failed))
	metrics.StagingSweepDuration.Observe(result.Duration.Seconds())
	metrics.StagingLastSweepTimestamp.Set(float64(time.Now().Unix()))
	metrics.StagingEntries.Set(float64(count))

	if result.Evicted > 0 || result.Err != nil {
		logging.Info("Sweep evicted %d entries (%d failed) in %v", result.Evicted, result.Failed, result.Duration)
	}
	return result
}

// Start runs Sweep every sweep interval until Stop. Calling Start more than
// once has no effect.
func (s *Store) Start() {
	s.startOnce.Do(func() {
		logging.Info("Starting staging sweeper (interval: %v)", s.sweepInterval)
		go s.run()
	})
}

func (s *Store) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.Sweep(context.Background())
		}
	}
}

// Stop halts the sweeper and waits for an in-flight pass to finish.
// Safe to call without Start and more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		started := true
		s.startOnce.Do(func() { started = false })
		if started {
			<-s.done
		}
	})
}
