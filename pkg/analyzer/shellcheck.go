// Copyright (c) 2025 Heimgewebe
//
// This file is part of sichter.
//
// sichter is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package analyzer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/heimgewebe/sichter/pkg/adapters"
	"github.com/heimgewebe/sichter/pkg/common"
	"github.com/heimgewebe/sichter/pkg/findings"
)

// Shellcheck inspects shell scripts via the shellcheck tool using its
// JSON output format.
type Shellcheck struct {
	runner common.Runner
	logger adapters.Logger
}

// NewShellcheck creates the shellcheck analyzer.
func NewShellcheck(runner common.Runner, logger adapters.Logger) *Shellcheck {
	if logger == nil {
		logger = adapters.NewNoOpLogger()
	}
	return &Shellcheck{runner: runner, logger: logger}
}

func (s *Shellcheck) Name() string {
	return "shellcheck"
}

func (s *Shellcheck) Available() bool {
	return s.runner.LookPath("shellcheck")
}

// shellcheckComment is one entry of shellcheck's JSON output.
type shellcheckComment struct {
	File    string          `json:"file"`
	Line    int             `json:"line"`
	Level   string          `json:"level"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Fix     json.RawMessage `json:"fix"`
}

// Run executes shellcheck over the shell scripts of the repository, or
// over the .sh files of the given set when one is provided.
func (s *Shellcheck) Run(ctx context.Context, repoRoot string, files []string) ([]findings.Finding, error) {
	var targets []string
	var err error
	if files == nil {
		targets, err = discoverTargets(repoRoot, ".sh")
		if err != nil {
			return nil, fmt.Errorf("failed to discover shell scripts: %w", err)
		}
	} else {
		targets = filterByExt(files, ".sh")
	}
	if len(targets) == 0 {
		return nil, nil
	}

	args := append([]string{"-x", "-f", "json"}, targets...)
	result, err := s.runner.Run(ctx, repoRoot, "shellcheck", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to run shellcheck: %w", err)
	}

	// Non-zero exit just means findings exist; real breakage shows up as
	// unparseable output below.
	var comments []shellcheckComment
	if err := json.Unmarshal([]byte(result.Stdout), &comments); err != nil {
		s.logger.Warn(ctx, "discarding unparseable shellcheck output",
			adapters.Field{Key: "error", Value: err.Error()})
		return nil, nil
	}

	out := make([]findings.Finding, 0, len(comments))
	for _, c := range comments {
		out = append(out, findings.Finding{
			Severity:     shellcheckSeverity(c.Level),
			Category:     shellcheckCategory(c.Level),
			File:         c.File,
			Line:         c.Line,
			Message:      c.Message,
			Tool:         s.Name(),
			RuleID:       fmt.Sprintf("SC%d", c.Code),
			FixAvailable: len(c.Fix) > 0 && string(c.Fix) != "null",
		})
	}
	return out, nil
}

func shellcheckSeverity(level string) string {
	switch level {
	case "error":
		return findings.SeverityError
	case "warning":
		return findings.SeverityWarning
	default: // info, style
		return findings.SeverityInfo
	}
}

func shellcheckCategory(level string) string {
	if level == "error" {
		return findings.CategoryCorrectness
	}
	return findings.CategoryStyle
}
