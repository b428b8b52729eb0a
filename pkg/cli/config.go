// Copyright (c) 2025 Heimgewebe
//
// This file is part of sichter.
//
// sichter is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package cli wires configuration and runtime construction for the
// sichter commands.
package cli

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the CLI configuration settings.
type Config struct {
	// StateDir and ConfigDir override the XDG-resolved tree when set.
	StateDir  string
	ConfigDir string

	// APIKey is the shared secret gating the control API. Empty means
	// the API rejects all traffic.
	APIKey string

	Host string
	Port int

	// DashboardOrigins is the CORS allowlist for browser clients.
	DashboardOrigins []string

	// RateLimitMax requests per RateLimitWindow, applied per client IP.
	RateLimitMax    int
	RateLimitWindow time.Duration

	// Org is the fallback forge organization for sweeps.
	Org string

	// RepoBase is the directory holding local clones.
	RepoBase string

	// PostSweepHook is an optional shell command run after a sweep job
	// has been enqueued.
	PostSweepHook string

	LogLevel string
}

// InitConfig initializes the configuration using Viper.
// Configuration priority: flags > env vars > config file > defaults.
func InitConfig(cfgFile string) (*viper.Viper, error) {
	v := viper.New()

	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 8799)
	v.SetDefault("dashboard-origins", []string{"http://localhost:3000"})
	v.SetDefault("rate-limit", 120)
	v.SetDefault("rate-limit-window", "60s")
	v.SetDefault("org", "heimgewebe")
	v.SetDefault("repo-base", defaultRepoBase())
	v.SetDefault("log-level", "info")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigName(".sichter")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("SICHTER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// It's okay if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	return v, nil
}

// GetConfig extracts the configuration from Viper into a Config struct.
func GetConfig(v *viper.Viper) *Config {
	return &Config{
		StateDir:         v.GetString("state-dir"),
		ConfigDir:        v.GetString("config-dir"),
		APIKey:           v.GetString("api-key"),
		Host:             v.GetString("host"),
		Port:             v.GetInt("port"),
		DashboardOrigins: v.GetStringSlice("dashboard-origins"),
		RateLimitMax:     v.GetInt("rate-limit"),
		RateLimitWindow:  v.GetDuration("rate-limit-window"),
		Org:              v.GetString("org"),
		RepoBase:         v.GetString("repo-base"),
		PostSweepHook:    v.GetString("post-sweep-hook"),
		LogLevel:         v.GetString("log-level"),
	}
}

// ValidateConfig validates the resolved configuration.
func ValidateConfig(cfg *Config) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return ErrInvalidPort
	}
	if cfg.RateLimitMax <= 0 {
		return ErrInvalidRateLimit
	}
	if cfg.RateLimitWindow <= 0 {
		return ErrInvalidRateLimitWindow
	}
	return nil
}

func defaultRepoBase() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "repos"
	}
	return filepath.Join(home, "repos")
}
