// Copyright (c) 2025 Heimgewebe
//
// This file is part of sichter.
//
// sichter is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package processor

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/heimgewebe/sichter/pkg/adapters"
)

// selectFiles narrows a changed-file list to analyzable paths: the file
// must still exist, its resolved real path must stay inside the
// repository root, and it must not match any exclude glob. Rejections
// are logged and skipped, never fatal.
func (p *Pipeline) selectFiles(ctx context.Context, repoRoot string, changed []string, excludes []string) []string {
	rootReal, err := filepath.EvalSymlinks(repoRoot)
	if err != nil {
		p.logger.Warn(ctx, "Failed to resolve repository root",
			adapters.Field{Key: "root", Value: repoRoot},
			adapters.Field{Key: "error", Value: err.Error()})
		return nil
	}

	selected := make([]string, 0, len(changed))
	for _, rel := range changed {
		abs := filepath.Join(repoRoot, rel)

		if _, err := os.Lstat(abs); err != nil {
			// Deleted since the diff; nothing to analyze.
			continue
		}

		real, err := filepath.EvalSymlinks(abs)
		if err != nil {
			p.logger.Warn(ctx, "Skipping unresolvable path",
				adapters.Field{Key: "path", Value: rel},
				adapters.Field{Key: "error", Value: err.Error()})
			continue
		}
		if real != rootReal && !strings.HasPrefix(real, rootReal+string(filepath.Separator)) {
			p.logger.Warn(ctx, "Skipping path escaping the repository",
				adapters.Field{Key: "path", Value: rel},
				adapters.Field{Key: "resolved", Value: real})
			continue
		}

		if matchesAny(rel, excludes) {
			continue
		}
		selected = append(selected, rel)
	}
	return selected
}

// matchesAny reports whether the slash-separated relative path matches
// one of the exclude globs. A trailing "/**" excludes a whole subtree;
// plain patterns match the full path or the base name, mirroring the
// usual linter-config semantics.
func matchesAny(rel string, patterns []string) bool {
	rel = filepath.ToSlash(rel)
	for _, pattern := range patterns {
		if prefix, ok := strings.CutSuffix(pattern, "/**"); ok {
			if rel == prefix || strings.HasPrefix(rel, prefix+"/") {
				return true
			}
			continue
		}
		if ok, _ := path.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := path.Match(pattern, path.Base(rel)); ok {
			return true
		}
	}
	return false
}
