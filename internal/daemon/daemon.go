// Package daemon runs sync in the background.
//
// The daemon:
//  1. Pulls every user's selected collections on a fixed interval
//  2. Retries queued status updates after each pull
//  3. Runs an immediate pass when TriggerSync is called
//  4. Re-reads the interval when the config file changes
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	bsync "github.com/bliqhq/bliq/internal/sync"
	"github.com/bliqhq/bliq/internal/types"
)

// DefaultSyncInterval matches the app's automatic sync cadence.
const DefaultSyncInterval = 10 * time.Minute

// Syncer is the part of the sync engine the daemon drives.
type Syncer interface {
	Pull(ctx context.Context, userID string) (*bsync.PullResult, error)
	DrainQueue(ctx context.Context, userID string) (*bsync.DrainResult, error)
}

// UserLister lists the users to sync. storage.Store satisfies it.
type UserLister interface {
	ListUsers(ctx context.Context) ([]*types.User, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is the time between automatic passes.
	SyncInterval time.Duration

	// ConfigFile, if set, is watched for changes. On change Reload is
	// called and the ticker is reset to the interval it returns.
	ConfigFile string
	Reload     func() (time.Duration, error)

	// DebounceInterval batches rapid config file events.
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     DefaultSyncInterval,
		DebounceInterval: 250 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Summary counts the outcome of one pass over all users.
type Summary struct {
	Users     int
	Inserted  int
	Failures  int
	Completed int
	Dropped   int
	Errors    int
}

// Daemon runs periodic and triggered sync passes.
type Daemon struct {
	syncer Syncer
	users  UserLister
	config *Config

	intervalMu sync.Mutex
	interval   time.Duration
	reset      chan struct{}

	// triggers carries user ids ("" means everyone). pending coalesces
	// repeated triggers for a user that has not been served yet.
	triggers  chan string
	pending   map[string]bool
	pendingMu sync.Mutex

	watcher *FileWatcher

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a daemon with default configuration.
func New(syncer Syncer, users UserLister) (*Daemon, error) {
	return NewWithConfig(syncer, users, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(syncer Syncer, users UserLister, config *Config) (*Daemon, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if users == nil {
		return nil, fmt.Errorf("user lister cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = DefaultSyncInterval
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = 250 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if config.ConfigFile != "" && config.Reload == nil {
		return nil, fmt.Errorf("config file watching requires a Reload func")
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		syncer:   syncer,
		users:    users,
		config:   config,
		interval: config.SyncInterval,
		reset:    make(chan struct{}, 1),
		triggers: make(chan string, 32),
		pending:  make(map[string]bool),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start runs an initial pass, then syncs on every tick and trigger. It
// blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Printf("Starting daemon (interval %v)", d.Interval())

	if d.config.ConfigFile != "" {
		fw, err := NewFileWatcher()
		if err != nil {
			return err
		}
		if err := fw.Start(d.config.ConfigFile); err != nil {
			_ = fw.Stop()
			return fmt.Errorf("failed to watch config: %w", err)
		}
		d.watcher = fw
		d.config.Logger.Printf("Watching: %s", d.config.ConfigFile)

		d.wg.Add(1)
		go d.watchConfig()
	}

	d.wg.Add(1)
	go d.syncLoop()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop cancels any running pass and waits for the loops to exit. It is
// safe to call more than once.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.config.Logger.Println("Stopping daemon")
		d.cancel()
		if d.watcher != nil {
			if err := d.watcher.Stop(); err != nil {
				d.config.Logger.Printf("Error closing watcher: %v", err)
			}
		}
		d.wg.Wait()
		d.config.Logger.Println("Daemon stopped")
	})
	return nil
}

// TriggerSync requests an immediate pass for userID, or for every user
// when userID is empty. It never blocks; a trigger for a user that is
// already waiting is merged with the earlier one.
func (d *Daemon) TriggerSync(userID string) bool {
	d.pendingMu.Lock()
	if d.pending[userID] {
		d.pendingMu.Unlock()
		return true
	}
	d.pending[userID] = true
	d.pendingMu.Unlock()

	select {
	case d.triggers <- userID:
		return true
	default:
		d.pendingMu.Lock()
		delete(d.pending, userID)
		d.pendingMu.Unlock()
		d.config.Logger.Printf("Warning: trigger queue full, dropping sync request for %q", userID)
		return false
	}
}

// Interval returns the current sync interval.
func (d *Daemon) Interval() time.Duration {
	d.intervalMu.Lock()
	defer d.intervalMu.Unlock()
	return d.interval
}

// SetInterval changes the sync interval and restarts the ticker.
func (d *Daemon) SetInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	d.intervalMu.Lock()
	changed := interval != d.interval
	d.interval = interval
	d.intervalMu.Unlock()

	if changed {
		d.config.Logger.Printf("Sync interval set to %v", interval)
		select {
		case d.reset <- struct{}{}:
		default:
		}
	}
}

func (d *Daemon) syncLoop() {
	defer d.wg.Done()

	d.SyncAll(d.ctx)

	ticker := time.NewTicker(d.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-d.reset:
			ticker.Reset(d.Interval())

		case <-ticker.C:
			d.SyncAll(d.ctx)

		case userID := <-d.triggers:
			d.pendingMu.Lock()
			delete(d.pending, userID)
			d.pendingMu.Unlock()

			if userID == "" {
				d.SyncAll(d.ctx)
			} else {
				d.SyncUser(d.ctx, userID)
			}
		}
	}
}

// SyncAll pulls and drains the queue for every user. Failures are logged
// and counted; one user's failure does not stop the others.
func (d *Daemon) SyncAll(ctx context.Context) Summary {
	var sum Summary

	users, err := d.users.ListUsers(ctx)
	if err != nil {
		d.config.Logger.Printf("Error listing users: %v", err)
		sum.Errors++
		return sum
	}

	for _, u := range users {
		if ctx.Err() != nil {
			break
		}
		s := d.SyncUser(ctx, u.ID)
		sum.Users++
		sum.Inserted += s.Inserted
		sum.Failures += s.Failures
		sum.Completed += s.Completed
		sum.Dropped += s.Dropped
		sum.Errors += s.Errors
	}

	if sum.Users > 0 {
		d.config.Logger.Printf("Sync pass complete: users=%d inserted=%d failures=%d errors=%d",
			sum.Users, sum.Inserted, sum.Failures, sum.Errors)
	}
	return sum
}

// SyncUser runs one pull and queue drain for userID.
func (d *Daemon) SyncUser(ctx context.Context, userID string) Summary {
	sum := Summary{Users: 1}

	res, err := d.syncer.Pull(ctx, userID)
	if err != nil {
		d.config.Logger.Printf("Warning: pull failed for %s: %v", userID, err)
		sum.Errors++
	} else {
		sum.Inserted = res.Inserted
		sum.Failures = len(res.Failures)
		for _, svc := range res.CredentialFailures() {
			d.config.Logger.Printf("Warning: %s rejected the token for %s; reconnect required", svc, userID)
		}
	}

	drain, err := d.syncer.DrainQueue(ctx, userID)
	if err != nil {
		d.config.Logger.Printf("Warning: queue drain failed for %s: %v", userID, err)
		sum.Errors++
	} else {
		sum.Completed = drain.Completed
		sum.Dropped = drain.Dropped
	}
	return sum
}

// watchConfig reloads the interval after config file changes settle.
func (d *Daemon) watchConfig() {
	defer d.wg.Done()

	var debounce <-chan time.Time
	for {
		select {
		case <-d.ctx.Done():
			return

		case ev, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			if ev.Op == OpDelete {
				continue
			}
			debounce = time.After(d.config.DebounceInterval)

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)

		case <-debounce:
			debounce = nil
			interval, err := d.config.Reload()
			if err != nil {
				d.config.Logger.Printf("Warning: failed to reload config: %v", err)
				continue
			}
			d.SetInterval(interval)
		}
	}
}
