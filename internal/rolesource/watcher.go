// Package rolesource feeds role assignments from a watched TOML file into a
// partition.
package rolesource

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/roleshift/pkg/concurrency"
	"github.com/bft-labs/roleshift/pkg/lifecycle"
	"github.com/bft-labs/roleshift/pkg/log"
	"github.com/bft-labs/roleshift/pkg/transition"
)

// Transitioner accepts role change requests.
type Transitioner interface {
	TransitionTo(term int64, role transition.Role) *concurrency.Future[transition.Outcome]
}

// Config holds configuration options for the watcher.
type Config struct {
	// Path is the role file.
	Path string

	// DebounceDelay is the delay to wait after a file change before reading.
	// Default: 50 milliseconds
	DebounceDelay time.Duration

	// RetryInitial and RetryMax bound the backoff between reads of a file
	// that does not parse, as it may be observed half-written.
	// Default: 100 milliseconds and 2 seconds
	RetryInitial time.Duration
	RetryMax     time.Duration

	// MaxRetries is how many times a bad file is re-read before giving up
	// until the next change. Default: 5
	MaxRetries int
}

func (c Config) withDefaults() Config {
	if c.DebounceDelay <= 0 {
		c.DebounceDelay = 50 * time.Millisecond
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 100 * time.Millisecond
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 2 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	return c
}

// Watcher applies every new assignment written to the role file.
type Watcher struct {
	cfg    Config
	target Transitioner
	logger log.Logger

	mu   sync.Mutex
	last *Assignment
}

// New creates a watcher. logger may be nil.
func New(cfg Config, target Transitioner, logger log.Logger) *Watcher {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Watcher{
		cfg:    cfg.withDefaults(),
		target: target,
		logger: logger.With(log.String("role_file", cfg.Path)),
	}
}

// Last returns the last assignment submitted.
func (w *Watcher) Last() (Assignment, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last == nil {
		return Assignment{}, false
	}
	return *w.last, true
}

// Run applies the current file, then watches it until ctx is done.
// The file's directory must exist.
func (w *Watcher) Run(ctx context.Context) error {
	if w.cfg.Path == "" {
		return errors.New("rolesource: path is required")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so atomic replacements are seen.
	dir := filepath.Dir(w.cfg.Path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info("watching role file")

	w.apply(ctx)

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	name := filepath.Clean(w.cfg.Path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(w.cfg.DebounceDelay)

		case <-debounce.C:
			w.apply(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("role file watcher error", log.Err(err))
		}
	}
}

// apply reads the file, retrying parse failures, and submits a changed
// assignment without waiting for its outcome.
func (w *Watcher) apply(ctx context.Context) {
	a, err := w.read(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			w.logger.Warn("role file not applied", log.Err(err))
		}
		return
	}

	w.mu.Lock()
	if w.last != nil && *w.last == a {
		w.mu.Unlock()
		w.logger.Debug("role file unchanged", log.Term(a.Term), log.Role(a.Role.String()))
		return
	}
	w.last = &a
	w.mu.Unlock()

	w.logger.Info("applying role assignment", log.Term(a.Term), log.Role(a.Role.String()))
	w.target.TransitionTo(a.Term, a.Role).OnComplete(func(outcome transition.Outcome, err error) {
		if err != nil {
			w.logger.Error("role assignment failed", log.Term(a.Term), log.Role(a.Role.String()), log.Err(err))
			return
		}
		w.logger.Info("role assignment finished",
			log.Term(a.Term),
			log.Role(a.Role.String()),
			log.String("outcome", outcome.String()),
		)
	})
}

func (w *Watcher) read(ctx context.Context) (Assignment, error) {
	backoff := lifecycle.NewBackoff(w.cfg.RetryInitial, w.cfg.RetryMax)

	var lastErr error
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := backoff.Wait(ctx); err != nil {
				return Assignment{}, err
			}
		}

		data, err := os.ReadFile(w.cfg.Path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Assignment{}, fmt.Errorf("role file missing: %w", err)
			}
			lastErr = err
			continue
		}
		a, err := Parse(data)
		if err == nil {
			return a, nil
		}
		lastErr = err
		w.logger.Debug("role file unreadable, retrying", log.Int("attempt", attempt+1), log.Err(err))
	}
	return Assignment{}, fmt.Errorf("giving up after %d attempts: %w", w.cfg.MaxRetries+1, lastErr)
}
