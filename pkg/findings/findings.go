// Copyright (c) 2025 Heimgewebe
//
// This file is part of sichter.
//
// sichter is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package findings defines the normalized analyzer finding model shared
// by all analyzers, plus deduplication and the PR-worthiness gate.
package findings

// Severity levels, ordered by weight.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
	SeverityQuestion = "question"
)

// Finding categories.
const (
	CategoryStyle           = "style"
	CategoryCorrectness     = "correctness"
	CategorySecurity        = "security"
	CategoryMaintainability = "maintainability"
	CategoryDrift           = "drift"
)

// Finding is one normalized analyzer result.
type Finding struct {
	Severity     string `json:"severity"`
	Category     string `json:"category"`
	File         string `json:"file"`
	Line         int    `json:"line,omitempty"`
	Message      string `json:"message"`
	Tool         string `json:"tool"`
	RuleID       string `json:"rule_id,omitempty"`
	FixAvailable bool   `json:"fix_available"`
}

// DedupeKey identifies a finding for duplicate suppression. Only the
// first 50 characters of the message participate, so near-identical
// messages from reruns collapse.
func (f Finding) DedupeKey() string {
	msg := f.Message
	if len(msg) > 50 {
		msg = msg[:50]
	}
	return f.Category + ":" + f.File + ":" + f.RuleID + ":" + msg
}

// Actionable reports whether the finding alone justifies a PR: severe
// enough, or carrying an automatic fix.
func (f Finding) Actionable() bool {
	return f.Severity == SeverityError || f.Severity == SeverityCritical || f.FixAvailable
}

// Dedupe removes duplicate findings, keeping the first occurrence of
// each key and preserving input order.
func Dedupe(in []Finding) []Finding {
	seen := make(map[string]struct{}, len(in))
	out := make([]Finding, 0, len(in))
	for _, f := range in {
		key := f.DedupeKey()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, f)
	}
	return out
}

// ShouldCreatePR reports whether the deduplicated findings warrant a
// pull request: at least one actionable finding.
func ShouldCreatePR(in []Finding) bool {
	for _, f := range in {
		if f.Actionable() {
			return true
		}
	}
	return false
}
