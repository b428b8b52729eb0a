// Copyright (c) 2025 Heimgewebe
//
// This file is part of sichter.
//
// sichter is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	types  []string
	fields []map[string]any
}

func (r *recordingSink) Append(typ string, fields map[string]any) error {
	r.types = append(r.types, typ)
	r.fields = append(r.fields, fields)
	return nil
}

func newTestStore(t *testing.T) (*Store, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	path := filepath.Join(t.TempDir(), "policy.yml")
	return NewStore(path, sink, nil), sink
}

func TestLoad_MissingFile(t *testing.T) {
	store, _ := newTestStore(t)

	values, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestLoad_EmptyFile(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, os.WriteFile(store.Path(), nil, 0600))

	values, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestWrite_Roundtrip(t *testing.T) {
	store, sink := newTestStore(t)

	in := Values{
		"auto_pr":  false,
		"run_mode": "light",
		"org":      "heimgewebe",
		"excludes": []any{"vendor/**", "*.min.js"},
	}
	require.NoError(t, store.Write(in))

	out, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, false, out["auto_pr"])
	assert.Equal(t, "light", out["run_mode"])
	assert.Equal(t, []string{"vendor/**", "*.min.js"}, out.Excludes())

	require.Len(t, sink.types, 1)
	assert.Equal(t, "policy", sink.types[0])
	assert.Equal(t, "write", sink.fields[0]["action"])
}

func TestWrite_LeavesNoTemporaries(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Write(Values{"auto_pr": true}))

	entries, err := os.ReadDir(filepath.Dir(store.Path()))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "policy.yml", entries[0].Name())
}

func TestWrite_AtomicObservation(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Write(Values{"org": strings.Repeat("a", 4096)}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			values, err := store.Load()
			if err != nil {
				continue
			}
			org, _ := values["org"].(string)
			// Readers see either the old or the new document, never a mix.
			if org != strings.Repeat("a", 4096) && org != strings.Repeat("b", 4096) {
				t.Errorf("partial policy observed: %q", org[:min(len(org), 16)])
				return
			}
		}
	}()

	for i := 0; i < 20; i++ {
		require.NoError(t, store.Write(Values{"org": strings.Repeat("b", 4096)}))
	}
	<-done
}

func TestBoolCoercion(t *testing.T) {
	tests := []struct {
		raw  any
		want bool
		ok   bool
	}{
		{true, true, true},
		{false, false, true},
		{"true", true, true},
		{"TRUE", true, true},
		{"1", true, true},
		{"yes", true, true},
		{"Y", true, true},
		{"on", true, true},
		{"false", false, true},
		{"0", false, true},
		{"no", false, true},
		{"n", false, true},
		{"OFF", false, true},
		{1, true, true},
		{0, false, true},
		{"maybe", false, false},
		{3.14, false, false},
	}
	for _, tc := range tests {
		got, ok := CoerceBool(tc.raw)
		assert.Equal(t, tc.ok, ok, "raw=%v", tc.raw)
		if ok {
			assert.Equal(t, tc.want, got, "raw=%v", tc.raw)
		}
	}
}

func TestBool_NullIsUnset(t *testing.T) {
	values := Values{"auto_pr": nil}
	assert.True(t, values.AutoPR(nil))
	assert.False(t, values.Bool(nil, "auto_pr", false))
}

func TestBool_UnrecognizedFallsBack(t *testing.T) {
	values := Values{"auto_pr": "sometimes"}
	assert.True(t, values.AutoPR(nil))
}

func TestRunMode(t *testing.T) {
	assert.Equal(t, "deep", Values{}.RunMode())
	assert.Equal(t, "light", Values{"run_mode": "light"}.RunMode())
	assert.Equal(t, "deep", Values{"run_mode": "turbo"}.RunMode())
}

func TestCheckEnabled(t *testing.T) {
	values := Values{"checks": map[string]any{
		"shellcheck": false,
		"yamllint":   "on",
		"llm":        "banana",
	}}
	assert.False(t, values.CheckEnabled(nil, "shellcheck"))
	assert.True(t, values.CheckEnabled(nil, "yamllint"))
	assert.True(t, values.CheckEnabled(nil, "llm"))
	assert.True(t, values.CheckEnabled(nil, "unlisted"))
}

func TestOrgFallback(t *testing.T) {
	assert.Equal(t, "heimgewebe", Values{}.Org("heimgewebe"))
	assert.Equal(t, "acme", Values{"org": "acme"}.Org("heimgewebe"))
}
