// Copyright (c) 2025 Heimgewebe
//
// This file is part of sichter.
//
// sichter is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppend_WritesDailyFile(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	w.now = func() time.Time { return time.Date(2025, 8, 24, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, w.Append(TypeQueue, map[string]any{"job_id": "123-abc"}))

	data, err := os.ReadFile(filepath.Join(dir, "20250824.jsonl"))
	require.NoError(t, err)

	var event map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &event))
	assert.Equal(t, "queue", event["type"])
	assert.Equal(t, "123-abc", event["job_id"])
	assert.Equal(t, "2025-08-24T12:00:00Z", event["ts"])
}

func TestAppend_BucketsByEventTimestamp(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	require.NoError(t, w.Append(TypeStart, map[string]any{
		"ts":      "2024-01-31T23:59:59Z",
		"message": "worker start",
	}))

	_, err := os.Stat(filepath.Join(dir, "20240131.jsonl"))
	assert.NoError(t, err)
}

func TestAppend_ConcurrentWholeLines(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_ = w.Append(TypeError, map[string]any{
					"message": fmt.Sprintf("writer-%d-%d %s", n, j, strings.Repeat("x", 200)),
				})
			}
		}(i)
	}
	wg.Wait()

	path, err := NewestFile(dir)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	assert.Len(t, lines, 200)
	for _, line := range lines {
		var event map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &event), "interleaved line: %q", line)
	}
}

func TestAppend_RejectsOversizedLine(t *testing.T) {
	w := NewWriter(t.TempDir())
	err := w.Append(TypeError, map[string]any{"message": strings.Repeat("x", MaxLineBytes)})
	assert.Error(t, err)
}

func TestNewestFile(t *testing.T) {
	dir := t.TempDir()

	path, err := NewestFile(dir)
	require.NoError(t, err)
	assert.Empty(t, path)

	for _, name := range []string{"20250822.jsonl", "20250824.jsonl", "20250823.jsonl", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0600))
	}

	path, err = NewestFile(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20250824.jsonl"), path)
}

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	require.NoError(t, err)
	defer f.Close()
	for _, line := range lines {
		_, err := f.WriteString(line + "\n")
		require.NoError(t, err)
	}
}

func eventLine(ts, msg string) string {
	return fmt.Sprintf(`{"ts":%q,"type":"error","message":%q}`, ts, msg)
}

func TestTail_NewestFirstAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "20250823.jsonl")
	cur := filepath.Join(dir, "20250824.jsonl")

	writeLines(t, old,
		eventLine("2025-08-23T10:00:00Z", "a"),
		eventLine("2025-08-23T11:00:00Z", "b"),
	)
	writeLines(t, cur,
		eventLine("2025-08-24T09:00:00Z", "c"),
		eventLine("2025-08-24T10:00:00Z", "d"),
	)
	// Make mtimes deterministic.
	require.NoError(t, os.Chtimes(old, time.Now().Add(-24*time.Hour), time.Now().Add(-24*time.Hour)))

	records, err := Tail(dir, 3, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)

	var msgs []string
	for _, rec := range records {
		var event map[string]any
		require.NoError(t, json.Unmarshal([]byte(rec.Line), &event))
		msgs = append(msgs, event["message"].(string))
	}
	assert.Equal(t, []string{"d", "c", "b"}, msgs)
}

func TestTail_SkipsInvalidRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "20250824.jsonl")
	writeLines(t, path,
		"this is not json",
		`{"type":"error","message":"no ts"}`,
		`{"ts":"not-a-time","type":"error"}`,
		eventLine("2025-08-24T10:00:00Z", "valid"),
	)

	records, err := Tail(dir, 10, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Contains(t, records[0].Line, "valid")
}

func TestTail_ToleratesPartialLastLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "20250824.jsonl")
	writeLines(t, path, eventLine("2025-08-24T10:00:00Z", "complete"))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString(`{"ts":"2025-08-24T11:00:00Z","ty`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	records, err := Tail(dir, 10, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Contains(t, records[0].Line, "complete")
}

func TestTail_SinceFiltersRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "20250824.jsonl")
	early := time.Date(2025, 8, 24, 8, 0, 0, 0, time.UTC)
	late := time.Date(2025, 8, 24, 12, 0, 0, 0, time.UTC)
	writeLines(t, path,
		eventLine(early.Format(time.RFC3339), "early"),
		eventLine(late.Format(time.RFC3339), "late"),
	)

	records, err := Tail(dir, 10, float64(early.Unix())+1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Contains(t, records[0].Line, "late")
}

func TestTail_StopsAtN(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "20250824.jsonl")
	var lines []string
	base := time.Date(2025, 8, 24, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 500; i++ {
		lines = append(lines, eventLine(base.Add(time.Duration(i)*time.Second).Format(time.RFC3339), fmt.Sprintf("m%d", i)))
	}
	writeLines(t, path, lines...)

	records, err := Tail(dir, 5, 0)
	require.NoError(t, err)
	require.Len(t, records, 5)
	assert.Contains(t, records[0].Line, "m499")
	assert.Contains(t, records[4].Line, "m495")
}

func TestTailLines_FileOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "20250824.jsonl")
	writeLines(t, path, "one", "two", "three")

	lines, err := TailLines(path, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"two", "three"}, lines)

	lines, err = TailLines(path, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, lines)
}

func TestReverseScanner_CrossesChunkBoundaries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.jsonl")
	long := strings.Repeat("y", reverseChunkSize/2)
	writeLines(t, path, "first-"+long, "second-"+long, "third-"+long)

	lines, err := TailLines(path, 3)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "first-"))
	assert.True(t, strings.HasPrefix(lines[1], "second-"))
	assert.True(t, strings.HasPrefix(lines[2], "third-"))
}
