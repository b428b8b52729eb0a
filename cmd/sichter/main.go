// Copyright (c) 2025 Heimgewebe
//
// This file is part of sichter.
//
// sichter is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/heimgewebe/sichter/pkg/cli"
	"github.com/heimgewebe/sichter/pkg/version"
	"github.com/heimgewebe/sichter/pkg/worker"
)

var (
	cfgFile      string
	viperConfig  *viper.Viper
	globalConfig *cli.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sichter",
	Short: "Single-node control plane for repository inspection jobs",
	Long: `sichter inspects the repositories of one organization: jobs are
enqueued over a small HTTP API or from this CLI, a worker drains the
queue, runs the configured analyzers, and pushes autofix branches.

State lives under XDG_STATE_HOME/sichter, the policy document under
XDG_CONFIG_HOME/sichter/policy.yml.

Configuration can be provided via:
  - Command-line flags (highest priority)
  - Environment variables (SICHTER_*)
  - Configuration file (~/.sichter.yaml or ./.sichter.yaml)
  - Default values (lowest priority)`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		viperConfig, err = cli.InitConfig(cfgFile)
		if err != nil {
			return err
		}

		if err := viperConfig.BindPFlags(cmd.Flags()); err != nil {
			return fmt.Errorf("failed to bind flags: %w", err)
		}

		globalConfig = cli.GetConfig(viperConfig)
		return nil
	},
}

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Run the control API server",
	Long: `Serve the control API: health probes, job submission, policy
management, event tailing, and the live event stream. All routes except
/healthz and /readyz require the X-API-Key header.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := cli.NewCommandContext(globalConfig)
		if err != nil {
			return err
		}

		server, err := ctx.NewServer()
		if err != nil {
			return err
		}

		sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() { errCh <- server.Start() }()

		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-sigCtx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the job queue worker",
	Long: `Drain the job queue until interrupted. Only one worker runs per
state tree; a second invocation exits cleanly while the first is alive.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := cli.NewCommandContext(globalConfig)
		if err != nil {
			return err
		}

		sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := ctx.NewSupervisor().Run(sigCtx); err != nil {
			if errors.Is(err, worker.ErrAlreadyRunning) {
				// Another live worker owns the queue; nothing to do.
				return nil
			}
			return err
		}
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Enqueue a sweep over the organization's repositories",
	Example: `  sichter sweep                          # sweep every repository
  sichter sweep --mode changed           # analyze changed files only
  sichter sweep --repo heimgewebe/wgx    # target one repository`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, _ := cmd.Flags().GetString("mode") //nolint:errcheck // flags are validated by cobra
		repo, _ := cmd.Flags().GetString("repo") //nolint:errcheck // flags are validated by cobra

		ctx, err := cli.NewCommandContext(globalConfig)
		if err != nil {
			return err
		}

		job, err := ctx.EnqueueSweep(cmd.Context(), mode, repo)
		if err != nil {
			return err
		}
		summary, err := json.Marshal(job)
		if err != nil {
			return err
		}
		fmt.Println(string(summary))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the sichter version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Get())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.sichter.yaml)")
	rootCmd.PersistentFlags().String("state-dir", "", "state directory (default XDG_STATE_HOME/sichter)")
	rootCmd.PersistentFlags().String("config-dir", "", "config directory (default XDG_CONFIG_HOME/sichter)")
	rootCmd.PersistentFlags().String("api-key", "", "shared secret for the control API")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")

	apiCmd.Flags().String("host", "127.0.0.1", "address to bind")
	apiCmd.Flags().Int("port", 8799, "port to listen on")
	apiCmd.Flags().StringSlice("dashboard-origins", []string{"http://localhost:3000"}, "CORS origin allowlist")
	apiCmd.Flags().Int("rate-limit", 120, "requests allowed per window, per client")
	apiCmd.Flags().Duration("rate-limit-window", 60*time.Second, "rate limit window")

	workerCmd.Flags().String("org", "heimgewebe", "fallback forge organization")
	workerCmd.Flags().String("repo-base", "", "directory holding local clones (default ~/repos)")

	sweepCmd.Flags().String("mode", "all", "job mode: all, changed, deep, or light")
	sweepCmd.Flags().String("repo", "", "target a single org/name repository")
	sweepCmd.Flags().String("post-sweep-hook", "", "shell command to run after enqueueing")

	rootCmd.AddCommand(apiCmd, workerCmd, sweepCmd, versionCmd)
}
