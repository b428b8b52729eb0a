// Copyright (c) 2025 Heimgewebe
//
// This file is part of sichter.
//
// sichter is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Worklog appends timestamped plain-text lines to a named file in the
// log directory. This is the human-readable trail next to the structured
// event log; /logs/latest serves it.
type Worklog struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewWorklog creates a worklog writing to dir/name.
func NewWorklog(dir, name string) *Worklog {
	return &Worklog{path: filepath.Join(dir, name), now: time.Now}
}

// Printf appends one formatted line. Write failures are swallowed; the
// worklog is advisory and must never break a job.
func (w *Worklog) Printf(format string, args ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()

	line := fmt.Sprintf("[%s] %s\n", w.now().Format(time.RFC3339), fmt.Sprintf(format, args...))
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600) // #nosec G304 -- path from the configured log directory
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.WriteString(line)
}
