// Copyright (c) 2025 Heimgewebe
//
// This file is part of sichter.
//
// sichter is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package rest

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/heimgewebe/sichter/pkg/adapters"
	"github.com/heimgewebe/sichter/pkg/eventlog"
	"github.com/heimgewebe/sichter/pkg/paths"
	"github.com/heimgewebe/sichter/pkg/policy"
	"github.com/heimgewebe/sichter/pkg/queue"
)

// DefaultTailCount is the tail size when /events/tail gets no n.
const DefaultTailCount = 200

// Handler holds the dependencies of the control API endpoints.
type Handler struct {
	tree   *paths.Tree
	policy *policy.Store
	events *eventlog.Writer
	queue  *queue.Queue
	logger adapters.Logger
}

// NewHandler creates a handler over the given collaborators.
func NewHandler(tree *paths.Tree, store *policy.Store, events *eventlog.Writer, q *queue.Queue, logger adapters.Logger) *Handler {
	if logger == nil {
		logger = adapters.NewNoOpLogger()
	}
	return &Handler{
		tree:   tree,
		policy: store,
		events: events,
		queue:  q,
		logger: logger,
	}
}

// HealthCheck answers liveness probes.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// Ready reports whether the state tree is usable. Any missing directory
// degrades the answer to 503.
func (h *Handler) Ready(c *gin.Context) {
	checks := h.tree.CheckReady()
	resp := ReadyResponse{
		Status: "ready",
		Queue:  checks["queue"],
		Events: checks["events"],
		Logs:   checks["logs"],
	}

	code := http.StatusOK
	if !resp.Queue || !resp.Events || !resp.Logs {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

// Enqueue validates and persists a repository job.
func (h *Handler) Enqueue(c *gin.Context) {
	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// An absent repo fails the pattern too; repository jobs always name
	// their target.
	if !queue.RepoPattern.MatchString(req.Repo) {
		RespondWithError(c, http.StatusBadRequest, "Invalid repo name format")
		return
	}
	mode := req.Mode
	if mode == "" {
		mode = queue.ModeChanged
	}
	if !queue.ValidMode(mode) {
		RespondWithError(c, http.StatusBadRequest, "invalid mode: "+req.Mode)
		return
	}

	job := &queue.Job{
		Type:   queue.TypeRepository,
		Mode:   mode,
		Repo:   req.Repo,
		AutoPR: req.AutoPR,
	}
	id, err := h.queue.Enqueue(job)
	if err != nil {
		h.logger.Error(c.Request.Context(), "Enqueue failed",
			adapters.Field{Key: "error", Value: err.Error()})
		RespondWithError(c, http.StatusInternalServerError, "failed to enqueue job")
		return
	}

	c.JSON(http.StatusAccepted, EnqueueResponse{Enqueued: id, Queued: job})
}

// Sweep enqueues a job fanning out over all repositories.
func (h *Handler) Sweep(c *gin.Context) {
	var req SweepRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			RespondWithError(c, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	mode := req.Mode
	if mode == "" {
		mode = queue.ModeAll
	}
	if !queue.ValidMode(mode) {
		RespondWithError(c, http.StatusBadRequest, "invalid mode: "+req.Mode)
		return
	}

	job := &queue.Job{Type: queue.TypeSweep, Mode: mode}
	id, err := h.queue.Enqueue(job)
	if err != nil {
		h.logger.Error(c.Request.Context(), "Sweep enqueue failed",
			adapters.Field{Key: "error", Value: err.Error()})
		RespondWithError(c, http.StatusInternalServerError, "failed to enqueue sweep")
		return
	}

	c.JSON(http.StatusAccepted, EnqueueResponse{Enqueued: id, Queued: job})
}

// TailEvents returns the newest event records as JSONL text, newest-first.
func (h *Handler) TailEvents(c *gin.Context) {
	n := DefaultTailCount
	if raw := c.Query("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			RespondWithError(c, http.StatusBadRequest, "invalid n: "+raw)
			return
		}
		n = parsed
	}

	var since float64
	if raw := c.Query("since"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 {
			RespondWithError(c, http.StatusBadRequest, "invalid since: "+raw)
			return
		}
		since = parsed
	}

	records, err := eventlog.Tail(h.events.Dir(), n, since)
	if err != nil {
		h.logger.Error(c.Request.Context(), "Tail query failed",
			adapters.Field{Key: "error", Value: err.Error()})
		RespondWithError(c, http.StatusInternalServerError, "failed to read events")
		return
	}

	var b strings.Builder
	for _, rec := range records {
		b.WriteString(rec.Line)
		b.WriteByte('\n')
	}
	c.Data(http.StatusOK, "application/x-ndjson", []byte(b.String()))
}

// GetPolicy returns the policy document and its path.
func (h *Handler) GetPolicy(c *gin.Context) {
	values, err := h.policy.Load()
	if err != nil {
		h.logger.Error(c.Request.Context(), "Policy read failed",
			adapters.Field{Key: "error", Value: err.Error()})
		RespondWithError(c, http.StatusInternalServerError, "failed to read policy")
		return
	}
	c.JSON(http.StatusOK, PolicyResponse{Path: h.policy.Path(), Values: values})
}

// PutPolicy atomically replaces the policy document with the values
// field of the request body.
func (h *Handler) PutPolicy(c *gin.Context) {
	var req PolicyUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, "invalid JSON body")
		return
	}
	values := req.Values
	if values == nil {
		values = policy.Values{}
	}

	if err := h.policy.Write(values); err != nil {
		h.logger.Error(c.Request.Context(), "Policy write failed",
			adapters.Field{Key: "error", Value: err.Error()})
		RespondWithError(c, http.StatusInternalServerError, "failed to write policy")
		return
	}
	c.JSON(http.StatusOK, PolicyResponse{Path: h.policy.Path(), Values: values})
}

// LatestLog streams the newest .log file of the log directory as text.
func (h *Handler) LatestLog(c *gin.Context) {
	dir := h.tree.Logs()
	entries, err := os.ReadDir(dir)
	if err != nil {
		RespondWithError(c, http.StatusInternalServerError, "failed to read log directory")
		return
	}

	newest := ""
	var newestMod int64
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); newest == "" || mod > newestMod {
			newest = entry.Name()
			newestMod = mod
		}
	}
	if newest == "" {
		// No logs yet is not an error; the body is simply empty.
		c.String(http.StatusOK, "")
		return
	}

	c.File(filepath.Join(dir, newest))
}
