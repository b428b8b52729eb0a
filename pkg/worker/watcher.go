// Copyright (c) 2025 Heimgewebe
//
// This file is part of sichter.
//
// sichter is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package worker

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/heimgewebe/sichter/pkg/adapters"
)

// fallbackSleep paces the queue re-scan when no notifier is available.
const fallbackSleep = 2 * time.Second

// QueueWatcher blocks until the queue directory may have changed.
type QueueWatcher interface {
	// WaitForChange blocks until a change, an internal error, or context
	// cancellation. A nil return means "re-scan the queue now".
	WaitForChange(ctx context.Context) error

	// Close releases watcher resources.
	Close() error
}

// FSNotifyWatcher implements QueueWatcher over inotify-style
// filesystem notifications.
type FSNotifyWatcher struct {
	watcher *fsnotify.Watcher
	logger  adapters.Logger
}

// NewFSNotifyWatcher starts watching the queue directory. The watch is
// established before the caller re-checks the directory, which closes
// the race between an empty scan and a concurrent enqueue.
func NewFSNotifyWatcher(dir string, logger adapters.Logger) (*FSNotifyWatcher, error) {
	if logger == nil {
		logger = adapters.NewNoOpLogger()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}
	return &FSNotifyWatcher{watcher: watcher, logger: logger}, nil
}

// WaitForChange blocks until the watched directory changes. Notifier
// errors degrade to a bounded sleep so the supervisor keeps draining.
func (w *FSNotifyWatcher) WaitForChange(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case _, ok := <-w.watcher.Events:
		if !ok {
			sleepCtx(ctx, fallbackSleep)
			return nil
		}
		return nil
	case err, ok := <-w.watcher.Errors:
		if ok && err != nil {
			w.logger.Warn(ctx, "Queue watcher error, falling back to sleep",
				adapters.Field{Key: "error", Value: err.Error()})
		}
		sleepCtx(ctx, fallbackSleep)
		return nil
	}
}

// Close stops the underlying notifier.
func (w *FSNotifyWatcher) Close() error {
	return w.watcher.Close()
}

// PollingWatcher is the sleep fallback used when no notifier could be
// established.
type PollingWatcher struct {
	interval time.Duration
}

// NewPollingWatcher creates a watcher that just sleeps between scans.
func NewPollingWatcher(interval time.Duration) *PollingWatcher {
	if interval <= 0 {
		interval = fallbackSleep
	}
	return &PollingWatcher{interval: interval}
}

// WaitForChange sleeps one interval or until cancellation.
func (w *PollingWatcher) WaitForChange(ctx context.Context) error {
	sleepCtx(ctx, w.interval)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// Close is a no-op.
func (w *PollingWatcher) Close() error {
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
