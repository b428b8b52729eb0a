// Copyright (c) 2025 Heimgewebe
//
// This file is part of sichter.
//
// sichter is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package rest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/heimgewebe/sichter/pkg/adapters"
	"github.com/heimgewebe/sichter/pkg/eventlog"
)

const (
	// DefaultReplayLines is the number of recent lines replayed on connect.
	DefaultReplayLines = 50

	// DefaultHeartbeat is the idle interval between heartbeat frames.
	DefaultHeartbeat = 15 * time.Second

	// MinHeartbeat clamps client-requested heartbeat intervals.
	MinHeartbeat = 3 * time.Second

	// streamPollInterval paces the tail loop.
	streamPollInterval = time.Second

	// streamWriteTimeout bounds one frame write to a slow client.
	streamWriteTimeout = 10 * time.Second
)

// The API key gate has already passed by upgrade time, so cross-origin
// browser clients holding the key are acceptable.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// streamCursor tracks the read position within the current daily file.
// The inode detects rotation: a new file under the same newest-name
// ordering gets a fresh inode, which resets the offset to zero.
type streamCursor struct {
	path   string
	inode  uint64
	offset int64
}

// StreamEvents upgrades to a websocket and tails the event log live:
// replay of recent lines first, then every appended line, with
// heartbeats while idle. Runs until the client goes away.
func (h *Handler) StreamEvents(c *gin.Context) {
	replay := DefaultReplayLines
	if raw := c.Query("replay"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			replay = parsed
		}
	}
	if replay < 1 {
		replay = 1
	}

	heartbeat := DefaultHeartbeat
	if raw := c.Query("heartbeat"); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
			heartbeat = time.Duration(parsed * float64(time.Second))
		}
	}
	if heartbeat < MinHeartbeat {
		heartbeat = MinHeartbeat
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Warn(c.Request.Context(), "Stream upgrade failed",
			adapters.Field{Key: "error", Value: err.Error()})
		return
	}
	defer conn.Close()

	// Drain client frames so close frames are noticed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	lastSend := time.Now()
	send := func(line string) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return false
		}
		lastSend = time.Now()
		return true
	}

	cursor := h.replayRecent(replay, send)

	for {
		sent, err := h.pumpNewLines(&cursor, send)
		if err != nil {
			h.logger.Warn(c.Request.Context(), "Stream read failed",
				adapters.Field{Key: "error", Value: err.Error()})
			if !send(errorLine(err)) {
				return
			}
		}
		if sent < 0 {
			return // client gone
		}

		if time.Since(lastSend) >= heartbeat {
			if !send(heartbeatLine(time.Now())) {
				return
			}
		}

		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case <-time.After(streamPollInterval):
		}
	}
}

// replayRecent sends the last lines of the newest daily file and returns
// a cursor positioned past the last complete line it read. The offset is
// derived from the bytes actually read, so a line appended while the
// replay runs is left for the live tail instead of being sent twice.
func (h *Handler) replayRecent(replay int, send func(string) bool) streamCursor {
	var cursor streamCursor

	path, err := eventlog.NewestFile(h.events.Dir())
	if err != nil || path == "" {
		return cursor
	}

	file, err := os.Open(path) // #nosec G304 -- path from the configured event directory
	if err != nil {
		return cursor
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return cursor
	}

	buf := make([]byte, info.Size())
	if _, err := io.ReadFull(file, buf); err != nil {
		return cursor
	}

	cursor.path = path
	cursor.inode = fileInode(info)

	complete := bytes.LastIndexByte(buf, '\n')
	if complete < 0 {
		return cursor
	}
	cursor.offset = int64(complete + 1)

	lines := bytes.Split(buf[:complete], []byte("\n"))
	if len(lines) > replay {
		lines = lines[len(lines)-replay:]
	}
	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		if !send(string(line)) {
			break
		}
	}
	return cursor
}

// pumpNewLines delivers every complete line appended past the cursor.
// Returns the number of lines sent, or -1 when the client went away.
// Rotation (new path or inode) and truncation (offset past size) reset
// the cursor to the start of the current file.
func (h *Handler) pumpNewLines(cursor *streamCursor, send func(string) bool) (int, error) {
	path, err := eventlog.NewestFile(h.events.Dir())
	if err != nil {
		return 0, err
	}
	if path == "" {
		return 0, nil
	}

	file, err := os.Open(path) // #nosec G304 -- path from the configured event directory
	if err != nil {
		return 0, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, err
	}

	inode := fileInode(info)
	if path != cursor.path || inode != cursor.inode || cursor.offset > info.Size() {
		cursor.path = path
		cursor.inode = inode
		cursor.offset = 0
	}
	if info.Size() == cursor.offset {
		return 0, nil
	}

	buf := make([]byte, info.Size()-cursor.offset)
	if _, err := file.ReadAt(buf, cursor.offset); err != nil && err != io.EOF {
		return 0, err
	}

	// Only complete lines leave the buffer; a partial tail stays for the
	// next pass so no line is ever split across frames.
	complete := bytes.LastIndexByte(buf, '\n')
	if complete < 0 {
		return 0, nil
	}
	cursor.offset += int64(complete + 1)

	sent := 0
	for _, line := range bytes.Split(buf[:complete], []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		if !send(string(line)) {
			return -1, nil
		}
		sent++
	}
	return sent, nil
}

func heartbeatLine(now time.Time) string {
	return fmt.Sprintf(`{"ts":%q,"type":%q}`,
		now.UTC().Format(time.RFC3339), eventlog.TypeHeartbeat)
}

func errorLine(err error) string {
	detail, _ := json.Marshal(err.Error())
	return fmt.Sprintf(`{"type":"error","detail":%s}`, detail)
}

// fileInode extracts the inode, or 0 where the platform hides it.
func fileInode(info os.FileInfo) uint64 {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return stat.Ino
	}
	return 0
}
