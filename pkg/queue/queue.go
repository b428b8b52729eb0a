// Copyright (c) 2025 Heimgewebe
//
// This file is part of sichter.
//
// sichter is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package queue implements the durable filesystem job queue: one JSON file
// per pending job, created atomically and deleted on terminal disposition.
package queue

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/heimgewebe/sichter/pkg/eventlog"
)

// Job types.
const (
	TypeRepository = "repository"
	TypeSweep      = "sweep"
)

// Job modes.
const (
	ModeAll     = "all"
	ModeChanged = "changed"
	ModeDeep    = "deep"
	ModeLight   = "light"
)

// RepoPattern constrains repository names to the org/name form.
var RepoPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

// ValidMode reports whether mode is one of the recognized job modes.
func ValidMode(mode string) bool {
	switch mode {
	case ModeAll, ModeChanged, ModeDeep, ModeLight:
		return true
	}
	return false
}

// Job is the unit of work. A job file exists exactly as long as the job
// has not reached a terminal state; updates are new event records, never
// in-place mutation.
type Job struct {
	JobID string `json:"job_id"`
	Type  string `json:"type"`
	Mode  string `json:"mode"`
	Repo  string `json:"repo,omitempty"`
	// AutoPR nil means "use policy default".
	AutoPR *bool  `json:"auto_pr,omitempty"`
	TS     string `json:"ts"`
}

// NewJobID generates a queue-ordering job id: the leading epoch makes
// lexicographic order match submission order within one second, the
// random suffix disambiguates within a second.
func NewJobID(now time.Time) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; fall back to
		// the timestamp nanos to stay unique within the process.
		return fmt.Sprintf("%d-%x", now.Unix(), now.UnixNano())
	}
	return fmt.Sprintf("%d-%s", now.Unix(), hex.EncodeToString(buf))
}

// Queue manages the job files of one queue directory.
type Queue struct {
	dir    string
	events *eventlog.Writer
	now    func() time.Time
}

// New creates a queue over the given directory. The event writer may be
// nil; enqueues then go unrecorded (used by tests).
func New(dir string, events *eventlog.Writer) *Queue {
	return &Queue{dir: dir, events: events, now: time.Now}
}

// Dir returns the queue directory.
func (q *Queue) Dir() string {
	return q.dir
}

// Enqueue persists the job and emits a queue event. The job file becomes
// visible atomically: the JSON is written to a temporary sibling and
// renamed into place, so the dequeuer never observes a partial job.
// Missing job_id and ts fields are filled in.
func (q *Queue) Enqueue(job *Job) (string, error) {
	now := q.now().UTC()
	if job.JobID == "" {
		job.JobID = NewJobID(now)
	}
	if job.TS == "" {
		job.TS = now.Format(time.RFC3339)
	}

	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	target := filepath.Join(q.dir, job.JobID+".json")
	tmp, err := os.CreateTemp(q.dir, job.JobID+".json-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary job file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write job file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to sync job file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close job file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to publish job file: %w", err)
	}

	if q.events != nil {
		if err := q.events.Append(eventlog.TypeQueue, map[string]any{
			"job_id":  job.JobID,
			"payload": job,
		}); err != nil {
			return "", fmt.Errorf("job enqueued but event append failed: %w", err)
		}
	}
	return job.JobID, nil
}

// List returns the pending job files sorted lexicographically (≈ FIFO).
// Only plain files with the .json suffix count; temporaries from
// in-flight enqueues carry a different suffix and are skipped.
func (q *Queue) List() ([]string, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue directory: %w", err)
	}

	var jobs []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if info, err := entry.Info(); err != nil || !info.Mode().IsRegular() {
			continue
		}
		jobs = append(jobs, filepath.Join(q.dir, entry.Name()))
	}
	sort.Strings(jobs)
	return jobs, nil
}

// Load parses a job file.
func Load(path string) (*Job, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from the configured queue directory
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to parse job file: %w", err)
	}
	return &job, nil
}

// Remove unlinks a job file after terminal disposition. A file already
// gone counts as removed.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove job file: %w", err)
	}
	return nil
}
