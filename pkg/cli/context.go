// Copyright (c) 2025 Heimgewebe
//
// This file is part of sichter.
//
// sichter is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/heimgewebe/sichter/pkg/adapters"
	"github.com/heimgewebe/sichter/pkg/analyzer"
	"github.com/heimgewebe/sichter/pkg/common"
	"github.com/heimgewebe/sichter/pkg/eventlog"
	"github.com/heimgewebe/sichter/pkg/paths"
	"github.com/heimgewebe/sichter/pkg/policy"
	"github.com/heimgewebe/sichter/pkg/processor"
	"github.com/heimgewebe/sichter/pkg/publisher"
	"github.com/heimgewebe/sichter/pkg/queue"
	"github.com/heimgewebe/sichter/pkg/server/middleware"
	"github.com/heimgewebe/sichter/pkg/server/rest"
	"github.com/heimgewebe/sichter/pkg/worker"
)

// postHookTimeout bounds the optional post-sweep hook command.
const postHookTimeout = 30 * time.Second

// CommandContext holds the resolved runtime of one sichter command.
type CommandContext struct {
	Config *Config
	Tree   *paths.Tree
	Logger adapters.Logger
}

// NewCommandContext validates the configuration, resolves the state tree,
// and ensures its directories exist.
func NewCommandContext(cfg *Config) (*CommandContext, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	tree, err := resolveTree(cfg)
	if err != nil {
		return nil, err
	}
	if err := tree.EnsureDirectories(); err != nil {
		return nil, err
	}

	logger := adapters.NewDefaultLogger()
	logger.SetLevel(parseLogLevel(cfg.LogLevel))

	return &CommandContext{
		Config: cfg,
		Tree:   tree,
		Logger: logger,
	}, nil
}

func resolveTree(cfg *Config) (*paths.Tree, error) {
	tree, err := paths.Resolve()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve state tree: %w", err)
	}
	if cfg.StateDir != "" {
		tree.State = cfg.StateDir
	}
	if cfg.ConfigDir != "" {
		tree.Config = cfg.ConfigDir
	}
	return tree, nil
}

func parseLogLevel(level string) adapters.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return adapters.DebugLevel
	case "warn", "warning":
		return adapters.WarnLevel
	case "error":
		return adapters.ErrorLevel
	default:
		return adapters.InfoLevel
	}
}

// ServerConfig builds the control API server configuration.
func (c *CommandContext) ServerConfig() *rest.ServerConfig {
	config := rest.DefaultServerConfig()
	config.Host = c.Config.Host
	config.Port = c.Config.Port
	config.AllowedOrigins = c.Config.DashboardOrigins
	config.RateLimitConfig = &middleware.RateLimitConfig{
		MaxRequests: c.Config.RateLimitMax,
		Window:      c.Config.RateLimitWindow,
	}
	config.Logger = c.Logger
	config.Authenticator = adapters.NewKeyAuthenticator(c.Config.APIKey)
	return config
}

// NewServer builds the control API server.
func (c *CommandContext) NewServer() (*rest.Server, error) {
	return rest.NewServer(c.Tree, c.ServerConfig())
}

// NewSupervisor builds the worker supervisor with the full inspection
// pipeline behind it.
func (c *CommandContext) NewSupervisor() *worker.Supervisor {
	events := eventlog.NewWriter(c.Tree.Events())
	runner := &common.ExecRunner{}

	analyzers := []analyzer.Analyzer{
		analyzer.NewShellcheck(runner, c.Logger),
		analyzer.NewYamllint(runner, c.Logger),
	}
	pub := publisher.NewGitHub(c.Config.RepoBase, runner, c.Logger)
	store := policy.NewStore(c.Tree.PolicyFile(), events, c.Logger)
	pipeline := processor.New(store, pub, analyzers, events, c.Logger, c.Config.Org)

	return worker.NewSupervisor(c.Tree, events, pipeline, c.Logger)
}

// EnqueueSweep writes a job directly into the queue and runs the
// configured post-sweep hook, if any. An empty repo sweeps the whole
// organization; a repo of the form org/name targets one repository.
func (c *CommandContext) EnqueueSweep(ctx context.Context, mode, repo string) (*queue.Job, error) {
	if mode == "" {
		mode = queue.ModeAll
	}
	if !queue.ValidMode(mode) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMode, mode)
	}

	job := &queue.Job{Type: queue.TypeSweep, Mode: mode}
	if repo != "" {
		if !queue.RepoPattern.MatchString(repo) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidRepo, repo)
		}
		job.Type = queue.TypeRepository
		job.Repo = repo
	}

	events := eventlog.NewWriter(c.Tree.Events())
	q := queue.New(c.Tree.Queue(), events)
	if _, err := q.Enqueue(job); err != nil {
		return nil, err
	}

	if hook := c.Config.PostSweepHook; hook != "" {
		c.runPostSweepHook(ctx, hook)
	}
	return job, nil
}

// runPostSweepHook executes the hook through the shell with a hard
// timeout. Hook failures are logged, never fatal to the enqueue.
func (c *CommandContext) runPostSweepHook(ctx context.Context, hook string) {
	hookCtx, cancel := context.WithTimeout(ctx, postHookTimeout)
	defer cancel()

	runner := &common.ExecRunner{}
	result, err := runner.Run(hookCtx, "", "sh", "-c", hook)
	if err != nil {
		c.Logger.Warn(ctx, "Post-sweep hook failed to run",
			adapters.Field{Key: "hook", Value: hook},
			adapters.Field{Key: "error", Value: err.Error()})
		return
	}
	if result.ExitCode != 0 {
		c.Logger.Warn(ctx, "Post-sweep hook exited nonzero",
			adapters.Field{Key: "hook", Value: hook},
			adapters.Field{Key: "exit_code", Value: result.ExitCode},
			adapters.Field{Key: "stderr", Value: result.Stderr})
	}
}
