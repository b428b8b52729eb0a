// Copyright (c) 2025 Heimgewebe
//
// This file is part of sichter.
//
// sichter is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package policy implements the sichter policy store: a single YAML
// document on disk, read best-effort and replaced atomically.
package policy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/heimgewebe/sichter/pkg/adapters"
)

// Recognized option keys.
const (
	KeyAutoPR      = "auto_pr"
	KeySweepOnPull = "sweep_on_omnipull"
	KeyRunMode     = "run_mode"
	KeyOrg         = "org"
	KeyLLM         = "llm"
	KeyChecks      = "checks"
	KeyExcludes    = "excludes"
	KeyAllowlist   = "allowlist"
)

// Defaults for recognized options.
const (
	DefaultRunMode = "deep"
)

// Values is the parsed policy document. Policy values are weakly typed;
// use the accessors for coerced reads.
type Values map[string]any

// EventSink receives a record for every successful policy write.
type EventSink interface {
	Append(typ string, fields map[string]any) error
}

// Store reads and atomically writes the policy file.
type Store struct {
	path   string
	events EventSink
	logger adapters.Logger
}

// NewStore creates a policy store for the given file path. The sink may be
// nil; writes then go unrecorded (used by tests).
func NewStore(path string, events EventSink, logger adapters.Logger) *Store {
	if logger == nil {
		logger = adapters.NewNoOpLogger()
	}
	return &Store{path: path, events: events, logger: logger}
}

// Path returns the policy file location.
func (s *Store) Path() string {
	return s.path
}

// Load parses the whole policy file. A missing or empty file yields the
// empty mapping, never an error.
func (s *Store) Load() (Values, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Values{}, nil
		}
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	values := Values{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}
	if values == nil {
		values = Values{}
	}
	return values, nil
}

// Write atomically replaces the policy document: serialize to a temporary
// sibling in the same directory, flush, rename over the target. On any
// failure the temporary file is removed. Every successful write emits a
// policy event.
func (s *Store) Write(values Values) error {
	data, err := yaml.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to serialize policy: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary policy file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temporary policy file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temporary policy file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temporary policy file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace policy file: %w", err)
	}

	if s.events != nil {
		if err := s.events.Append("policy", map[string]any{
			"action": "write",
			"values": map[string]any(values),
		}); err != nil {
			s.logger.Warn(context.Background(), "Failed to record policy event",
				adapters.Field{Key: "error", Value: err.Error()})
		}
	}
	return nil
}

// Bool reads a boolean option with the documented coercion table: native
// booleans pass through; the strings true/1/yes/y/on and false/0/no/n/off
// (case-insensitive) coerce; anything else is logged and the fallback
// applies. Explicit null counts as unset.
func (v Values) Bool(logger adapters.Logger, key string, fallback bool) bool {
	raw, ok := v[key]
	if !ok || raw == nil {
		return fallback
	}
	parsed, ok := CoerceBool(raw)
	if !ok {
		if logger != nil {
			logger.Warn(context.Background(), "Unrecognized boolean policy value",
				adapters.Field{Key: "key", Value: key},
				adapters.Field{Key: "value", Value: fmt.Sprintf("%v", raw)})
		}
		return fallback
	}
	return parsed
}

// CoerceBool applies the boolean coercion table to an arbitrary value.
func CoerceBool(raw any) (bool, bool) {
	switch val := raw.(type) {
	case bool:
		return val, true
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "1", "yes", "y", "on":
			return true, true
		case "false", "0", "no", "n", "off":
			return false, true
		}
	case int:
		if val == 1 {
			return true, true
		}
		if val == 0 {
			return false, true
		}
	}
	return false, false
}

// AutoPR returns the auto_pr option (default true).
func (v Values) AutoPR(logger adapters.Logger) bool {
	return v.Bool(logger, KeyAutoPR, true)
}

// SweepOnOmnipull returns the sweep_on_omnipull option (default true).
func (v Values) SweepOnOmnipull(logger adapters.Logger) bool {
	return v.Bool(logger, KeySweepOnPull, true)
}

// RunMode returns the run_mode option, constrained to deep|light.
func (v Values) RunMode() string {
	raw, ok := v[KeyRunMode].(string)
	if !ok {
		return DefaultRunMode
	}
	switch raw {
	case "deep", "light":
		return raw
	}
	return DefaultRunMode
}

// Org returns the org option, or fallback when unset.
func (v Values) Org(fallback string) string {
	if org, ok := v[KeyOrg].(string); ok && org != "" {
		return org
	}
	return fallback
}

// CheckEnabled reports whether the named analyzer is enabled. Analyzers
// are enabled unless the checks map explicitly disables them.
func (v Values) CheckEnabled(logger adapters.Logger, name string) bool {
	checks, ok := v[KeyChecks].(map[string]any)
	if !ok {
		return true
	}
	raw, ok := checks[name]
	if !ok || raw == nil {
		return true
	}
	enabled, ok := CoerceBool(raw)
	if !ok {
		if logger != nil {
			logger.Warn(context.Background(), "Unrecognized check toggle",
				adapters.Field{Key: "check", Value: name},
				adapters.Field{Key: "value", Value: fmt.Sprintf("%v", raw)})
		}
		return true
	}
	return enabled
}

// Excludes returns the ordered sequence of exclude glob patterns.
func (v Values) Excludes() []string {
	return v.stringSlice(KeyExcludes)
}

// Allowlist returns the ordered sequence of org/name entries.
func (v Values) Allowlist() []string {
	return v.stringSlice(KeyAllowlist)
}

func (v Values) stringSlice(key string) []string {
	raw, ok := v[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
