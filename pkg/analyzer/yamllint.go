// Copyright (c) 2025 Heimgewebe
//
// This file is part of sichter.
//
// sichter is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package analyzer

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/heimgewebe/sichter/pkg/adapters"
	"github.com/heimgewebe/sichter/pkg/common"
	"github.com/heimgewebe/sichter/pkg/findings"
)

// Yamllint inspects YAML documents via the yamllint tool using its
// parsable output format:
//
//	file.yml:3:1: [warning] missing document start "---" (document-start)
var yamllintLine = regexp.MustCompile(`^(.+?):(\d+):\d+: \[(\w+)\] (.+?)(?: \(([\w-]+)\))?$`)

type Yamllint struct {
	runner common.Runner
	logger adapters.Logger
}

// NewYamllint creates the yamllint analyzer.
func NewYamllint(runner common.Runner, logger adapters.Logger) *Yamllint {
	if logger == nil {
		logger = adapters.NewNoOpLogger()
	}
	return &Yamllint{runner: runner, logger: logger}
}

func (y *Yamllint) Name() string {
	return "yamllint"
}

func (y *Yamllint) Available() bool {
	return y.runner.LookPath("yamllint")
}

// Run executes yamllint over the YAML documents of the repository, or
// over the .yml/.yaml files of the given set when one is provided.
func (y *Yamllint) Run(ctx context.Context, repoRoot string, files []string) ([]findings.Finding, error) {
	var targets []string
	var err error
	if files == nil {
		targets, err = discoverTargets(repoRoot, ".yml", ".yaml")
		if err != nil {
			return nil, fmt.Errorf("failed to discover YAML documents: %w", err)
		}
	} else {
		targets = filterByExt(files, ".yml", ".yaml")
	}
	if len(targets) == 0 {
		return nil, nil
	}

	args := append([]string{"-f", "parsable"}, targets...)
	result, err := y.runner.Run(ctx, repoRoot, "yamllint", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to run yamllint: %w", err)
	}

	var out []findings.Finding
	for _, line := range strings.Split(result.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := yamllintLine.FindStringSubmatch(line)
		if m == nil {
			y.logger.Warn(ctx, "skipping unparseable yamllint line",
				adapters.Field{Key: "line", Value: line})
			continue
		}
		lineNo, _ := strconv.Atoi(m[2])
		out = append(out, findings.Finding{
			Severity: yamllintSeverity(m[3]),
			Category: findings.CategoryStyle,
			File:     m[1],
			Line:     lineNo,
			Message:  m[4],
			Tool:     y.Name(),
			RuleID:   m[5],
		})
	}
	return out, nil
}

func yamllintSeverity(level string) string {
	if level == "error" {
		return findings.SeverityError
	}
	return findings.SeverityWarning
}
