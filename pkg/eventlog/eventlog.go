// Copyright (c) 2025 Heimgewebe
//
// This file is part of sichter.
//
// sichter is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package eventlog implements the append-only JSONL event log. Events are
// bucketed into daily files named YYYYMMDD.jsonl by their UTC timestamp;
// files are never truncated or rewritten.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Event type taxonomy. Each type carries the documented required fields.
const (
	TypeQueue       = "queue"        // job_id, payload
	TypePolicy      = "policy"       // action, values
	TypeStart       = "start"        // message
	TypeStop        = "stop"         // message
	TypeError       = "error"        // message
	TypeFindings    = "findings"     // repo, count, deduped
	TypeCommit      = "commit"       // repo, branch, auto_pr
	TypePR          = "pr"           // repo, branch, url
	TypePushFailed  = "push_failed"  // repo, branch, error
	TypePRFailed    = "pr_failed"    // repo, branch, error
	TypeNoop        = "noop"         // repo, branch
	TypeCloneFailed = "clone_failed" // repo, error
	TypeHeartbeat   = "heartbeat"    // stream-only
)

// MaxLineBytes bounds a single event line. Events are marshaled into one
// buffer and written with a single syscall so that concurrent appenders
// from separate processes interleave only at line boundaries.
const MaxLineBytes = 64 * 1024

// Writer appends events to the daily JSONL files of one event directory.
// Writers are safe for concurrent use; separate processes may append to
// the same file.
type Writer struct {
	dir string
	now func() time.Time
}

// NewWriter creates a writer for the given event directory.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir, now: time.Now}
}

// Dir returns the event directory.
func (w *Writer) Dir() string {
	return w.dir
}

// Append records an event of the given type. The ts field is set to the
// current UTC time unless fields already carries one; the daily file is
// chosen by that timestamp.
func (w *Writer) Append(typ string, fields map[string]any) error {
	ts := w.now().UTC()

	payload := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		payload[k] = v
	}
	payload["type"] = typ
	if _, ok := payload["ts"]; !ok {
		payload["ts"] = ts.Format(time.RFC3339)
	} else if raw, ok := payload["ts"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			ts = parsed.UTC()
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if len(data)+1 > MaxLineBytes {
		return fmt.Errorf("event line exceeds %d bytes", MaxLineBytes)
	}

	path := filepath.Join(w.dir, DayFile(ts))
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600) // #nosec G304 -- path derived from configured state directory
	if err != nil {
		return fmt.Errorf("failed to open event file: %w", err)
	}
	defer file.Close()

	// One Write call per event keeps the line whole under O_APPEND.
	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// DayFile returns the daily file name for the given timestamp.
func DayFile(ts time.Time) string {
	return ts.UTC().Format("20060102") + ".jsonl"
}

// NewestFile returns the path of the lexicographically newest daily file,
// or the empty string when the directory holds none.
func NewestFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to list event directory: %w", err)
	}

	newest := ""
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonl" {
			continue
		}
		if entry.Name() > newest {
			newest = entry.Name()
		}
	}
	if newest == "" {
		return "", nil
	}
	return filepath.Join(dir, newest), nil
}
