// Copyright (c) 2025 Heimgewebe
//
// This file is part of sichter.
//
// sichter is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package analyzer adapts external inspection tools to the normalized
// finding model. Each analyzer shells out to its tool, parses the tool's
// native diagnostic format, and never fails the job over unparseable
// output.
package analyzer

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/heimgewebe/sichter/pkg/findings"
)

// Analyzer is the capability contract for one inspection tool.
type Analyzer interface {
	// Name matches the key under policy "checks".
	Name() string
	// Available reports whether the backing tool is installed.
	Available() bool
	// Run inspects the repository and returns normalized findings.
	// files narrows the input set; nil means the whole repository.
	Run(ctx context.Context, repoRoot string, files []string) ([]findings.Finding, error)
}

// Directories never descended into during target discovery.
var skipDirs = map[string]struct{}{
	".git":         {},
	".venv":        {},
	"venv":         {},
	"node_modules": {},
}

// discoverTargets walks repoRoot for files matching any of the given
// extensions (".sh", ".yml", ...), relative to repoRoot.
func discoverTargets(repoRoot string, exts ...string) ([]string, error) {
	var targets []string
	err := filepath.WalkDir(repoRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if _, skip := skipDirs[d.Name()]; skip {
				return filepath.SkipDir
			}
			return nil
		}
		for _, ext := range exts {
			if strings.HasSuffix(d.Name(), ext) {
				rel, err := filepath.Rel(repoRoot, path)
				if err != nil {
					return err
				}
				targets = append(targets, rel)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return targets, nil
}

// filterByExt keeps the files matching any of the given extensions.
func filterByExt(files []string, exts ...string) []string {
	var out []string
	for _, f := range files {
		for _, ext := range exts {
			if strings.HasSuffix(f, ext) {
				out = append(out, f)
				break
			}
		}
	}
	return out
}
