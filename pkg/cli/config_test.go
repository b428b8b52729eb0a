// Copyright (c) 2025 Heimgewebe
//
// This file is part of sichter.
//
// sichter is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitConfig_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	v, err := InitConfig("")
	require.NoError(t, err)

	cfg := GetConfig(v)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 8799, cfg.Port)
	assert.Equal(t, 120, cfg.RateLimitMax)
	assert.Equal(t, 60*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.DashboardOrigins)
	assert.Equal(t, "heimgewebe", cfg.Org)
	assert.NotEmpty(t, cfg.RepoBase)
	assert.Empty(t, cfg.APIKey, "no key unless configured")
}

func TestInitConfig_EnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SICHTER_API_KEY", "hunter2")
	t.Setenv("SICHTER_PORT", "9001")
	t.Setenv("SICHTER_ORG", "acme")

	v, err := InitConfig("")
	require.NoError(t, err)

	cfg := GetConfig(v)
	assert.Equal(t, "hunter2", cfg.APIKey)
	assert.Equal(t, 9001, cfg.Port)
	assert.Equal(t, "acme", cfg.Org)
}

func TestInitConfig_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sichter.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9100\norg: heimgewebe-ops\n"), 0600))

	v, err := InitConfig(path)
	require.NoError(t, err)

	cfg := GetConfig(v)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "heimgewebe-ops", cfg.Org)
}

func TestValidateConfig(t *testing.T) {
	valid := &Config{Port: 8799, RateLimitMax: 120, RateLimitWindow: time.Minute}
	assert.NoError(t, ValidateConfig(valid))

	badPort := &Config{Port: 70000, RateLimitMax: 120, RateLimitWindow: time.Minute}
	assert.ErrorIs(t, ValidateConfig(badPort), ErrInvalidPort)

	badLimit := &Config{Port: 8799, RateLimitMax: 0, RateLimitWindow: time.Minute}
	assert.ErrorIs(t, ValidateConfig(badLimit), ErrInvalidRateLimit)

	badWindow := &Config{Port: 8799, RateLimitMax: 120}
	assert.ErrorIs(t, ValidateConfig(badWindow), ErrInvalidRateLimitWindow)
}
