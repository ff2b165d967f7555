package staging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"speelycaptor/internal/filesystem"
	"speelycaptor/internal/keygen"
	"speelycaptor/internal/logging"
	"speelycaptor/internal/metrics"
)

// DefaultSweepInterval is how often expired entries are evicted.
const DefaultSweepInterval = 60 * time.Second

const filePrefix = "file_"

// Entry describes one staging slot.
type Entry struct {
	Key       string
	ExpiresAt time.Time
	Path      string
}

// Options configures Open.
type Options struct {
	// Root is the directory holding the backing files and the index.
	Root string
	// Backend selects the index implementation: "json" (default) or "sqlite".
	Backend string
	// Purge wipes Root and starts with an empty index.
	Purge bool
	// SweepInterval defaults to DefaultSweepInterval.
	SweepInterval time.Duration
	// Retry is applied to backing file deletions.
	Retry filesystem.RetryConfig
}

// Store maps keys to files under a root directory with a fixed expiry.
// Allocate, Release and Sweep are serialized and each persists the index
// before returning; Resolve only takes the read lock.
type Store struct {
	root          string
	index         Index
	lock          *flock.Flock
	retry         filesystem.RetryConfig
	sweepInterval time.Duration

	mu      sync.RWMutex
	entries map[string]time.Time
	closed  bool

	now    func() time.Time
	newKey func() string

	startOnce sync.Once
	stopOnce  sync.Once
	stopChan  chan struct{}
	done      chan struct{}
}

// Open locks the root, optionally purges it, and loads the persisted index.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Root == "" {
		return nil, errors.New("staging: root directory is required")
	}

	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve staging root: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(root), 0o755); err != nil {
		return nil, &StoreIOError{Op: "open", Err: err}
	}

	// The lock sits beside the root so purging the root cannot drop it.
	lock := flock.New(root + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, &StoreIOError{Op: "lock", Err: err}
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, root)
	}

	s, err := open(ctx, root, lock, opts)
	if err != nil {
		if unlockErr := lock.Unlock(); unlockErr != nil {
			logging.Warn("failed to release staging lock: %v", unlockErr)
		}
		return nil, err
	}
	return s, nil
}

func open(ctx context.Context, root string, lock *flock.Flock, opts Options) (*Store, error) {
	if opts.Purge {
		logging.Debug("Purging staging root %s", root)
		if err := os.RemoveAll(root); err != nil {
			return nil, &StoreIOError{Op: "purge", Err: err}
		}
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &StoreIOError{Op: "open", Err: err}
	}

	// Paths handed to subprocesses must not depend on symlinks.
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, &StoreIOError{Op: "open", Err: err}
	}

	index, err := openIndex(ctx, resolved, opts.Backend)
	if err != nil {
		return nil, &StoreIOError{Op: "open index", Err: err}
	}

	entries, err := index.Load(ctx)
	if err != nil {
		if closeErr := index.Close(); closeErr != nil {
			logging.Warn("failed to close index: %v", closeErr)
		}
		return nil, &StoreIOError{Op: "load index", Err: err}
	}

	interval := opts.SweepInterval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	retry := opts.Retry
	if retry == (filesystem.RetryConfig{}) {
		retry = filesystem.DefaultRetryConfig()
	}

	s := &Store{
		root:          resolved,
		index:         index,
		lock:          lock,
		retry:         retry,
		sweepInterval: interval,
		entries:       entries,
		now:           time.Now,
		newKey:        keygen.New,
		stopChan:      make(chan struct{}),
		done:          make(chan struct{}),
	}

	metrics.StagingEntries.Set(float64(len(entries)))
	logging.Info("Staging store ready at %s (%s index, %d entries loaded)", resolved, index.Backend(), len(entries))
	return s, nil
}

// Root returns the resolved staging directory.
func (s *Store) Root() string {
	return s.root
}

// Backend returns the name of the index backend in use.
func (s *Store) Backend() string {
	return s.index.Backend()
}

// PathFor returns the deterministic backing path for key.
func (s *Store) PathFor(key string) string {
	return filepath.Join(s.root, filePrefix+key)
}

// Allocate reserves a new key that expires after lifetime. The backing file
// is not created; the caller writes to the returned path.
func (s *Store) Allocate(ctx context.Context, lifetime time.Duration) (Entry, error) {
	if lifetime <= 0 {
		return Entry{}, ErrInvalidLifetime
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Entry{}, ErrClosed
	}

	key := s.newKey()
	for _, taken := s.entries[key]; taken; _, taken = s.entries[key] {
		key = s.newKey()
	}

	expiresAt := s.now().Add(lifetime)
	s.entries[key] = expiresAt

	if err := s.persistLocked(ctx); err != nil {
		delete(s.entries, key)
		return Entry{}, &StoreIOError{Op: "allocate", Key: key, Err: err}
	}

	metrics.StagingAllocationsTotal.Inc()
	metrics.StagingEntries.Set(float64(len(s.entries)))
	logging.Debug("Allocated %s, expires %s", shortKey(key), expiresAt.Format(time.RFC3339))

	return Entry{Key: key, ExpiresAt: expiresAt, Path: s.PathFor(key)}, nil
}

// Resolve returns the backing path for key. Unknown, released, swept and
// expired-but-not-yet-swept keys all yield ErrNotFound.
func (s *Store) Resolve(key string) (string, error) {
	entry, err := s.Lookup(key)
	if err != nil {
		return "", err
	}
	return entry.Path, nil
}

// Lookup is Resolve returning the whole entry.
func (s *Store) Lookup(key string) (Entry, error) {
	s.mu.RLock()
	expiresAt, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || expired(expiresAt, s.now()) {
		metrics.StagingResolveTotal.WithLabelValues("miss").Inc()
		return Entry{}, ErrNotFound
	}

	metrics.StagingResolveTotal.WithLabelValues("hit").Inc()
	return Entry{Key: key, ExpiresAt: expiresAt, Path: s.PathFor(key)}, nil
}

// Commit moves src onto the backing path of key. The key must be indexed
// and unexpired; the check and the rename happen under the store lock so a
// concurrent Release or Sweep cannot strand an unindexed file. On
// ErrNotFound src is left in place for the caller to remove.
func (s *Store) Commit(ctx context.Context, key, src string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	expiresAt, ok := s.entries[key]
	if !ok || expired(expiresAt, s.now()) {
		return ErrNotFound
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Rename(src, s.PathFor(key)); err != nil {
		return &StoreIOError{Op: "commit", Key: key, Err: err}
	}
	if err := syncDir(s.root); err != nil {
		logging.Warn("Failed to sync staging directory after commit: %v", err)
	}
	logging.Debug("Committed %s", shortKey(key))
	return nil
}

// Release drops key from the index, persists, then deletes the backing
// file. Releasing an absent key is a no-op.
func (s *Store) Release(ctx context.Context, key string) error {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	expiresAt, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return nil
	}

	delete(s.entries, key)
	if err := s.persistLocked(ctx); err != nil {
		s.entries[key] = expiresAt
		s.mu.Unlock()
		return &StoreIOError{Op: "release", Key: key, Err: err}
	}
	count := len(s.entries)
	s.mu.Unlock()

	metrics.StagingReleasesTotal.Inc()
	metrics.StagingEntries.Set(float64(count))

	// The key is already unresolvable, so no reader can pick up this path.
	if err := filesystem.RemoveIfExists(s.PathFor(key), s.retry); err != nil {
		return &StoreIOError{Op: "release", Key: key, Err: err}
	}
	logging.Debug("Released %s", shortKey(key))
	return nil
}

// StagingStats implements metrics.StatsProvider.
func (s *Store) StagingStats() metrics.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := metrics.Stats{Entries: len(s.entries)}
	for _, exp := range s.entries {
		if stats.NextExpiry.IsZero() || exp.Before(stats.NextExpiry) {
			stats.NextExpiry = exp
		}
	}
	return stats
}

// Len returns the number of indexed keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Ready reports whether the store accepts operations.
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed
}

// Close stops the sweeper, closes the index and releases the root lock.
// Backing files and the index are left in place.
func (s *Store) Close() error {
	s.Stop()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	if err := s.index.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close index: %w", err))
	}
	if err := s.lock.Unlock(); err != nil {
		errs = append(errs, fmt.Errorf("release lock: %w", err))
	}
	return errors.Join(errs...)
}

// expired reports whether an entry expiring at exp is past its lifetime at
// now. The expiry instant itself still counts as live.
func expired(exp, now time.Time) bool {
	return exp.Before(now)
}

// syncDir flushes directory metadata so a rename survives power loss.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// persistLocked saves the whole mapping. Callers hold s.mu for writing.
func (s *Store) persistLocked(ctx context.Context) error {
	backend := s.index.Backend()
	start := time.Now()

	err := s.index.Save(ctx, s.entries)

	metrics.StagingIndexPersistDuration.WithLabelValues(backend).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StagingIndexPersistErrors.WithLabelValues(backend).Inc()
		logging.Error("Failed to persist staging index (%s): %v", backend, err)
	}
	return err
}
