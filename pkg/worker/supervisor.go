// Copyright (c) 2025 Heimgewebe
//
// This file is part of sichter.
//
// sichter is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package worker

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/heimgewebe/sichter/pkg/adapters"
	"github.com/heimgewebe/sichter/pkg/eventlog"
	"github.com/heimgewebe/sichter/pkg/paths"
	"github.com/heimgewebe/sichter/pkg/queue"
)

// Processor handles one parsed job.
type Processor interface {
	Process(ctx context.Context, job *queue.Job) error
}

// Supervisor owns the worker loop of one state tree: acquire the PID
// lock, drain the queue in lexicographic order, wait for changes, and
// emit lifecycle events.
type Supervisor struct {
	tree      *paths.Tree
	queue     *queue.Queue
	events    *eventlog.Writer
	processor Processor
	logger    adapters.Logger
	worklog   *Worklog

	// newWatcher is swappable for tests.
	newWatcher func() (QueueWatcher, error)
}

// NewSupervisor wires a supervisor over the given state tree.
func NewSupervisor(tree *paths.Tree, events *eventlog.Writer, processor Processor, logger adapters.Logger) *Supervisor {
	if logger == nil {
		logger = adapters.NewNoOpLogger()
	}
	s := &Supervisor{
		tree:      tree,
		queue:     queue.New(tree.Queue(), events),
		events:    events,
		processor: processor,
		logger:    logger,
		worklog:   NewWorklog(tree.Logs(), "worker.log"),
	}
	s.newWatcher = func() (QueueWatcher, error) {
		return NewFSNotifyWatcher(tree.Queue(), logger)
	}
	return s
}

// Run executes the worker loop until the context is canceled. When
// another live worker holds the lock, Run returns ErrAlreadyRunning and
// the caller exits cleanly. Cancellation emits a stop event and releases
// the lock.
func (s *Supervisor) Run(ctx context.Context) error {
	lock, err := AcquirePIDLock(s.tree.PidFile())
	if err != nil {
		return err
	}
	defer lock.Release()

	watcher, err := s.newWatcher()
	if err != nil {
		s.logger.Warn(ctx, "Queue notifier unavailable, polling instead",
			adapters.Field{Key: "error", Value: err.Error()})
		watcher = NewPollingWatcher(fallbackSleep)
	}
	defer watcher.Close()

	s.worklog.Printf("worker start")
	if err := s.events.Append(eventlog.TypeStart, map[string]any{"message": "worker start"}); err != nil {
		s.logger.Warn(ctx, "Failed to append start event",
			adapters.Field{Key: "error", Value: err.Error()})
	}

	for {
		if ctx.Err() != nil {
			break
		}

		jobs, err := s.queue.List()
		if err != nil {
			s.logger.Error(ctx, "Queue scan failed",
				adapters.Field{Key: "error", Value: err.Error()})
			_ = watcher.WaitForChange(ctx)
			continue
		}

		if len(jobs) == 0 {
			// The watch was established before this scan, so an enqueue
			// racing the scan wakes the wait below.
			_ = watcher.WaitForChange(ctx)
			continue
		}

		for _, path := range jobs {
			if ctx.Err() != nil {
				break
			}
			s.processOne(ctx, path)
		}
	}

	s.worklog.Printf("worker stop")
	if err := s.events.Append(eventlog.TypeStop, map[string]any{"message": "worker stop"}); err != nil {
		s.logger.Warn(context.Background(), "Failed to append stop event",
			adapters.Field{Key: "error", Value: err.Error()})
	}
	return nil
}

// processOne parses and processes one job file. The file is unlinked
// regardless of disposition; failures become error events, never a stuck
// queue.
func (s *Supervisor) processOne(ctx context.Context, path string) {
	defer func() {
		if err := queue.Remove(path); err != nil {
			s.logger.Error(ctx, "Failed to remove job file",
				adapters.Field{Key: "path", Value: path},
				adapters.Field{Key: "error", Value: err.Error()})
		}
	}()

	name := filepath.Base(path)

	job, err := queue.Load(path)
	if err != nil {
		s.reportJobError(ctx, name, err)
		return
	}

	s.worklog.Printf("JOB %s type=%s mode=%s repo=%s", job.JobID, job.Type, job.Mode, job.Repo)
	if err := s.processor.Process(ctx, job); err != nil {
		s.reportJobError(ctx, name, err)
	}
}

func (s *Supervisor) reportJobError(ctx context.Context, jobFile string, err error) {
	s.worklog.Printf("error processing %s: %v", jobFile, err)
	s.logger.Error(ctx, "Job failed",
		adapters.Field{Key: "job_file", Value: jobFile},
		adapters.Field{Key: "error", Value: err.Error()})
	if appendErr := s.events.Append(eventlog.TypeError, map[string]any{
		"message": fmt.Sprintf("error processing %s: %v", jobFile, err),
	}); appendErr != nil {
		s.logger.Error(ctx, "Failed to append error event",
			adapters.Field{Key: "error", Value: appendErr.Error()})
	}
}
