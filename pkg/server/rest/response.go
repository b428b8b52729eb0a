// Copyright (c) 2025 Heimgewebe
//
// This file is part of sichter.
//
// sichter is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package rest

import (
	"github.com/gin-gonic/gin"

	"github.com/heimgewebe/sichter/pkg/policy"
	"github.com/heimgewebe/sichter/pkg/queue"
)

// ErrorResponse represents a standard error response.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// EnqueueRequest is the body of POST /enqueue.
type EnqueueRequest struct {
	Repo   string `json:"repo"`
	Mode   string `json:"mode"`
	AutoPR *bool  `json:"auto_pr"`
}

// SweepRequest is the body of POST /sweep.
type SweepRequest struct {
	Mode string `json:"mode"`
}

// PolicyUpdateRequest is the body of PUT /policy; only the inner values
// document is stored.
type PolicyUpdateRequest struct {
	Values policy.Values `json:"values"`
}

// EnqueueResponse acknowledges a queued job.
type EnqueueResponse struct {
	Enqueued string     `json:"enqueued"`
	Queued   *queue.Job `json:"queued"`
}

// ReadyResponse reports the state tree's directories.
type ReadyResponse struct {
	Status string `json:"status"`
	Queue  bool   `json:"queue"`
	Events bool   `json:"events"`
	Logs   bool   `json:"logs"`
}

// PolicyResponse carries the policy document and its location.
type PolicyResponse struct {
	Path   string        `json:"path"`
	Values policy.Values `json:"values"`
}

// RespondWithError sends a standardized error response.
func RespondWithError(c *gin.Context, code int, detail string) {
	c.JSON(code, ErrorResponse{Detail: detail})
}
