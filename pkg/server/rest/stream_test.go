// Copyright (c) 2025 Heimgewebe
//
// This file is part of sichter.
//
// sichter is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package rest

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heimgewebe/sichter/pkg/adapters"
	"github.com/heimgewebe/sichter/pkg/eventlog"
	"github.com/heimgewebe/sichter/pkg/paths"
	"github.com/heimgewebe/sichter/pkg/policy"
	"github.com/heimgewebe/sichter/pkg/queue"
)

func newStreamHandler(t *testing.T) (*Handler, string) {
	t.Helper()
	tree := paths.NewTree(t.TempDir(), t.TempDir())
	require.NoError(t, tree.EnsureDirectories())
	events := eventlog.NewWriter(tree.Events())
	h := NewHandler(tree,
		policy.NewStore(tree.PolicyFile(), events, nil),
		events,
		queue.New(tree.Queue(), events),
		adapters.NewNoOpLogger())
	return h, tree.Events()
}

func appendLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	require.NoError(t, err)
	defer f.Close()
	for _, line := range lines {
		_, err := f.WriteString(line + "\n")
		require.NoError(t, err)
	}
}

func collector() (func(string) bool, *[]string) {
	var got []string
	return func(line string) bool {
		got = append(got, line)
		return true
	}, &got
}

func TestPumpNewLines_DeliversAppendsOnce(t *testing.T) {
	h, dir := newStreamHandler(t)
	path := filepath.Join(dir, "20250824.jsonl")
	appendLines(t, path, `{"n":1}`, `{"n":2}`)

	send, got := collector()
	var cursor streamCursor

	sent, err := h.pumpNewLines(&cursor, send)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`}, *got)

	// Nothing new: nothing delivered.
	sent, err = h.pumpNewLines(&cursor, send)
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Len(t, *got, 2)

	appendLines(t, path, `{"n":3}`)
	sent, err = h.pumpNewLines(&cursor, send)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, `{"n":3}`, (*got)[2])
}

func TestPumpNewLines_RotationResetsToNewFile(t *testing.T) {
	h, dir := newStreamHandler(t)
	old := filepath.Join(dir, "20250824.jsonl")
	appendLines(t, old, `{"day":"old-1"}`, `{"day":"old-2"}`)

	send, got := collector()
	var cursor streamCursor
	_, err := h.pumpNewLines(&cursor, send)
	require.NoError(t, err)
	require.Len(t, *got, 2)

	// The day rolls over: a new file appears and takes over.
	appendLines(t, filepath.Join(dir, "20250825.jsonl"), `{"day":"new-1"}`, `{"day":"new-2"}`)

	sent, err := h.pumpNewLines(&cursor, send)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, []string{`{"day":"old-1"}`, `{"day":"old-2"}`, `{"day":"new-1"}`, `{"day":"new-2"}`}, *got)
	assert.Equal(t, filepath.Join(dir, "20250825.jsonl"), cursor.path)
}

func TestPumpNewLines_TruncationResetsOffset(t *testing.T) {
	h, dir := newStreamHandler(t)
	path := filepath.Join(dir, "20250824.jsonl")
	appendLines(t, path, `{"gen":"first","pad":"xxxxxxxxxxxxxxxxxxxxxxxx"}`)

	send, got := collector()
	var cursor streamCursor
	_, err := h.pumpNewLines(&cursor, send)
	require.NoError(t, err)
	require.Len(t, *got, 1)

	// Same name, rewritten shorter. Offset now exceeds the size.
	require.NoError(t, os.WriteFile(path, []byte("{\"gen\":\"second\"}\n"), 0600))

	sent, err := h.pumpNewLines(&cursor, send)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, `{"gen":"second"}`, (*got)[1])
}

func TestPumpNewLines_HoldsPartialLines(t *testing.T) {
	h, dir := newStreamHandler(t)
	path := filepath.Join(dir, "20250824.jsonl")

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString(`{"half":`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	send, got := collector()
	var cursor streamCursor
	sent, err := h.pumpNewLines(&cursor, send)
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Empty(t, *got)

	appendLines(t, path, `1}`)
	sent, err = h.pumpNewLines(&cursor, send)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, `{"half":1}`, (*got)[0])
}

func TestPumpNewLines_EmptyDirectory(t *testing.T) {
	h, _ := newStreamHandler(t)

	send, got := collector()
	var cursor streamCursor
	sent, err := h.pumpNewLines(&cursor, send)
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Empty(t, *got)
}

func TestReplayRecent_SendsTailAndPositionsCursor(t *testing.T) {
	h, dir := newStreamHandler(t)
	path := filepath.Join(dir, "20250824.jsonl")
	appendLines(t, path, `{"n":1}`, `{"n":2}`, `{"n":3}`)

	send, got := collector()
	cursor := h.replayRecent(2, send)

	assert.Equal(t, []string{`{"n":2}`, `{"n":3}`}, *got)
	assert.Equal(t, path, cursor.path)

	// A pump right after replay finds nothing new.
	sent, err := h.pumpNewLines(&cursor, send)
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestReplayRecent_OffsetStopsAtLastCompleteLine(t *testing.T) {
	h, dir := newStreamHandler(t)
	path := filepath.Join(dir, "20250824.jsonl")
	appendLines(t, path, `{"n":1}`, `{"n":2}`)

	// A partially written record sits past the last newline.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString(`{"n":`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	send, got := collector()
	cursor := h.replayRecent(5, send)
	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`}, *got)

	// Completing the record delivers it exactly once via the live tail.
	appendLines(t, path, `3}`)
	sent, err := h.pumpNewLines(&cursor, send)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`, `{"n":3}`}, *got)
}

func TestStreamEvents_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("live stream test sleeps through poll intervals")
	}

	server, tree := newTestServer(t)
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	events := eventlog.NewWriter(tree.Events())
	require.NoError(t, events.Append(eventlog.TypeStart, map[string]any{"message": "worker start"}))

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events/stream?replay=5"
	header := http.Header{}
	header.Set(adapters.APIKeyHeader, testAPIKey)

	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	// Replay delivers the existing event.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"type":"start"`)

	// A live append shows up within a poll interval.
	require.NoError(t, events.Append(eventlog.TypeStop, map[string]any{"message": "worker stop"}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"type":"stop"`)
}

func TestStreamEvents_RejectsWithoutKey(t *testing.T) {
	server, _ := newTestServer(t)
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	if conn != nil {
		conn.Close()
	}
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
