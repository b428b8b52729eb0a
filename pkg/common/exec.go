// Copyright (c) 2025 Heimgewebe
//
// This file is part of sichter.
//
// sichter is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package common holds the small shared pieces of sichter: the subprocess
// runner used by analyzers and the publisher.
package common

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// Result captures one subprocess invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes external commands. Implementations must honor the
// context deadline and report non-zero exits through Result.ExitCode
// rather than an error; errors are reserved for failures to run at all.
type Runner interface {
	Run(ctx context.Context, dir string, name string, args ...string) (Result, error)
	LookPath(name string) bool
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes name with args in dir and returns its captured output.
func (ExecRunner) Run(ctx context.Context, dir string, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...) // #nosec G204 -- callers pass fixed tool names
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, err
	}
	return result, nil
}

// LookPath reports whether the named tool is on PATH.
func (ExecRunner) LookPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
