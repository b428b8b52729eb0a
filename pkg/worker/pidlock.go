// Copyright (c) 2025 Heimgewebe
//
// This file is part of sichter.
//
// sichter is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package worker runs the queue-draining side of sichter: a PID-locked
// supervisor loop that watches the queue directory and hands jobs to the
// processor.
package worker

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// ErrAlreadyRunning reports that another live worker owns the state tree.
// Callers are expected to exit cleanly, not to fail.
var ErrAlreadyRunning = errors.New("another worker is already running")

// PIDLock is the filesystem mutual exclusion for the worker: the lock
// file names the owning process, and liveness of that process decides
// whether the lock is held or stale.
type PIDLock struct {
	path string
}

// AcquirePIDLock takes the worker lock for the current process. A lock
// file naming a live process yields ErrAlreadyRunning; a stale or absent
// file is claimed.
func AcquirePIDLock(path string) (*PIDLock, error) {
	if data, err := os.ReadFile(path); err == nil { // #nosec G304 -- path from the configured state directory
		if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && pid > 0 {
			if processAlive(pid) {
				return nil, fmt.Errorf("pid %d holds %s: %w", pid, path, ErrAlreadyRunning)
			}
		}
		// Stale lock: the named process is gone or the content is garbage.
	}

	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0600); err != nil {
		return nil, fmt.Errorf("failed to write pid lock: %w", err)
	}
	return &PIDLock{path: path}, nil
}

// Release unlinks the lock file. Safe to call more than once.
func (l *PIDLock) Release() {
	if l == nil {
		return
	}
	_ = os.Remove(l.path)
}

// processAlive probes the pid with a null signal.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to someone else.
	return errors.Is(err, syscall.EPERM)
}
