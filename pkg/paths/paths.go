// Copyright (c) 2025 Heimgewebe
//
// This file is part of sichter.
//
// sichter is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package paths resolves the sichter state and config trees following the
// XDG base directory convention.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// Tree holds the resolved filesystem layout of one sichter instance.
//
//	STATE/queue/    one job file per pending job
//	STATE/events/   append-only daily JSONL event logs
//	STATE/logs/     free-form worker logs
//	CONFIG/         policy.yml
type Tree struct {
	State  string
	Config string
}

// Resolve builds a Tree from the environment. XDG_STATE_HOME and
// XDG_CONFIG_HOME override the ~/.local/state and ~/.config defaults.
func Resolve() (*Tree, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve home directory: %w", err)
	}

	stateHome := os.Getenv("XDG_STATE_HOME")
	if stateHome == "" {
		stateHome = filepath.Join(home, ".local", "state")
	}
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		configHome = filepath.Join(home, ".config")
	}

	return &Tree{
		State:  filepath.Join(stateHome, "sichter"),
		Config: filepath.Join(configHome, "sichter"),
	}, nil
}

// NewTree builds a Tree rooted at explicit directories. Used by tests and
// by deployments that do not follow XDG.
func NewTree(state, config string) *Tree {
	return &Tree{State: state, Config: config}
}

// Queue returns the job queue directory.
func (t *Tree) Queue() string { return filepath.Join(t.State, "queue") }

// Events returns the event log directory.
func (t *Tree) Events() string { return filepath.Join(t.State, "events") }

// Logs returns the worker log directory.
func (t *Tree) Logs() string { return filepath.Join(t.State, "logs") }

// PidFile returns the worker PID lock path.
func (t *Tree) PidFile() string { return filepath.Join(t.State, "worker.pid") }

// PolicyFile returns the policy document path.
func (t *Tree) PolicyFile() string { return filepath.Join(t.Config, "policy.yml") }

// EnsureDirectories creates every directory of the tree. Called on startup;
// a failure here is fatal to the starting process, not to later operations.
func (t *Tree) EnsureDirectories() error {
	for _, dir := range []string{t.State, t.Config, t.Queue(), t.Events(), t.Logs()} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// CheckReady reports which state directories exist. Used by /readyz.
func (t *Tree) CheckReady() map[string]bool {
	status := make(map[string]bool, 3)
	for name, dir := range map[string]string{
		"queue":  t.Queue(),
		"events": t.Events(),
		"logs":   t.Logs(),
	} {
		info, err := os.Stat(dir)
		status[name] = err == nil && info.IsDir()
	}
	return status
}
