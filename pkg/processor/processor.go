// Copyright (c) 2025 Heimgewebe
//
// This file is part of sichter.
//
// sichter is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package processor runs the per-job inspection pipeline: resolve
// policy, enumerate repositories, select files, run analyzers, and hand
// results to the publisher. Per-repository failures are recoverable and
// become events; only the job-level machinery returns errors.
package processor

import (
	"context"
	"fmt"
	"strings"

	"github.com/heimgewebe/sichter/pkg/adapters"
	"github.com/heimgewebe/sichter/pkg/analyzer"
	"github.com/heimgewebe/sichter/pkg/eventlog"
	"github.com/heimgewebe/sichter/pkg/findings"
	"github.com/heimgewebe/sichter/pkg/policy"
	"github.com/heimgewebe/sichter/pkg/publisher"
	"github.com/heimgewebe/sichter/pkg/queue"
)

// CommitMessage is used for every autofix commit.
const CommitMessage = "sichter: autofix"

// Pipeline processes jobs against one policy store and publisher.
type Pipeline struct {
	policy    *policy.Store
	publisher publisher.Publisher
	analyzers []analyzer.Analyzer
	events    *eventlog.Writer
	logger    adapters.Logger
	org       string
}

// New wires a pipeline. org is the fallback organization when neither
// the job nor the policy names one.
func New(store *policy.Store, pub publisher.Publisher, analyzers []analyzer.Analyzer, events *eventlog.Writer, logger adapters.Logger, org string) *Pipeline {
	if logger == nil {
		logger = adapters.NewNoOpLogger()
	}
	return &Pipeline{
		policy:    store,
		publisher: pub,
		analyzers: analyzers,
		events:    events,
		logger:    logger,
		org:       org,
	}
}

// Process runs one job to completion. Per-repository errors are turned
// into events and the sweep continues; the returned error covers only
// failures before any repository work started.
func (p *Pipeline) Process(ctx context.Context, job *queue.Job) error {
	values, err := p.policy.Load()
	if err != nil {
		// Policy reads are best-effort; run with defaults.
		p.logger.Warn(ctx, "Policy unreadable, using defaults",
			adapters.Field{Key: "error", Value: err.Error()})
		values = policy.Values{}
	}

	autoPR := values.AutoPR(p.logger)
	if job.AutoPR != nil {
		autoPR = *job.AutoPR
	}

	org, repos, err := p.enumerate(ctx, job, values)
	if err != nil {
		return err
	}
	if len(repos) == 0 {
		p.logger.Info(ctx, "No target repositories",
			adapters.Field{Key: "job_id", Value: job.JobID},
			adapters.Field{Key: "mode", Value: job.Mode})
		return nil
	}

	for _, repo := range repos {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.processRepo(ctx, org, repo, job, values, autoPR)
	}
	return nil
}

// enumerate resolves the organization and the repository set. A job
// naming a single org/name repo wins; mode "all" asks the forge and
// falls back to local clones; every other mode uses local clones only.
func (p *Pipeline) enumerate(ctx context.Context, job *queue.Job, values policy.Values) (string, []string, error) {
	org := values.Org(p.org)

	if job.Repo != "" {
		parts := strings.SplitN(job.Repo, "/", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return "", nil, fmt.Errorf("malformed repo %q", job.Repo)
		}
		return parts[0], []string{parts[1]}, nil
	}

	var repos []string
	if job.Mode == queue.ModeAll {
		listed, err := p.publisher.ListRepos(ctx, org)
		if err != nil {
			p.logger.Warn(ctx, "Repo enumeration failed, using local clones",
				adapters.Field{Key: "org", Value: org},
				adapters.Field{Key: "error", Value: err.Error()})
		} else {
			repos = listed
		}
	}
	if repos == nil {
		local, err := p.publisher.LocalRepos()
		if err != nil {
			return "", nil, fmt.Errorf("failed to list local repositories: %w", err)
		}
		repos = local
	}

	return org, filterAllowlist(org, repos, values.Allowlist()), nil
}

// filterAllowlist keeps the repos named by the policy allowlist. An
// empty allowlist admits everything.
func filterAllowlist(org string, repos []string, allowlist []string) []string {
	if len(allowlist) == 0 {
		return repos
	}
	allowed := make(map[string]struct{}, len(allowlist))
	for _, entry := range allowlist {
		allowed[entry] = struct{}{}
	}
	var out []string
	for _, repo := range repos {
		if _, ok := allowed[org+"/"+repo]; ok {
			out = append(out, repo)
		}
	}
	return out
}

// processRepo runs the pipeline for one repository. Every outcome is an
// event; nothing here aborts the sweep.
func (p *Pipeline) processRepo(ctx context.Context, org, repo string, job *queue.Job, values policy.Values, autoPR bool) {
	dir, err := p.publisher.EnsureClone(ctx, org, repo)
	if err != nil {
		p.emit(ctx, eventlog.TypeCloneFailed, map[string]any{
			"repo":  repo,
			"error": err.Error(),
		})
		return
	}

	branch, err := p.publisher.FreshBranch(ctx, dir)
	if err != nil {
		p.emit(ctx, eventlog.TypeError, map[string]any{
			"repo":    repo,
			"message": fmt.Sprintf("failed to create work branch: %v", err),
		})
		return
	}

	// nil means "whole repository" to the analyzers.
	var files []string
	if job.Mode == queue.ModeChanged {
		changed, err := p.publisher.ChangedFiles(ctx, dir)
		if err != nil {
			p.emit(ctx, eventlog.TypeError, map[string]any{
				"repo":    repo,
				"message": fmt.Sprintf("failed to list changed files: %v", err),
			})
			return
		}
		files = p.selectFiles(ctx, dir, changed, values.Excludes())
	}

	var collected []findings.Finding
	for _, a := range p.analyzers {
		if !values.CheckEnabled(p.logger, a.Name()) {
			continue
		}
		if !a.Available() {
			p.logger.Debug(ctx, "Analyzer not installed, skipping",
				adapters.Field{Key: "analyzer", Value: a.Name()})
			continue
		}
		results, err := a.Run(ctx, dir, files)
		if err != nil {
			p.logger.Warn(ctx, "Analyzer failed",
				adapters.Field{Key: "analyzer", Value: a.Name()},
				adapters.Field{Key: "repo", Value: repo},
				adapters.Field{Key: "error", Value: err.Error()})
			continue
		}
		collected = append(collected, results...)
	}

	deduped := findings.Dedupe(collected)
	if len(collected) > 0 {
		p.emit(ctx, eventlog.TypeFindings, map[string]any{
			"repo":    repo,
			"count":   len(collected),
			"deduped": len(deduped),
		})
	}

	committed, err := p.publisher.CommitIfChanges(ctx, dir, CommitMessage)
	if err != nil {
		p.emit(ctx, eventlog.TypeError, map[string]any{
			"repo":    repo,
			"message": fmt.Sprintf("failed to commit: %v", err),
		})
		return
	}
	if !committed {
		p.emit(ctx, eventlog.TypeNoop, map[string]any{
			"repo":   repo,
			"branch": branch,
		})
		return
	}

	p.emit(ctx, eventlog.TypeCommit, map[string]any{
		"repo":    repo,
		"branch":  branch,
		"auto_pr": autoPR,
	})
	if !autoPR {
		return
	}
	if !findings.ShouldCreatePR(deduped) {
		// The commit stays on its branch; nothing here warrants review.
		p.logger.Info(ctx, "No actionable findings, keeping commit local",
			adapters.Field{Key: "repo", Value: repo},
			adapters.Field{Key: "branch", Value: branch})
		return
	}

	if err := p.publisher.Push(ctx, dir, branch); err != nil {
		p.emit(ctx, eventlog.TypePushFailed, map[string]any{
			"repo":   repo,
			"branch": branch,
			"error":  err.Error(),
		})
		return
	}

	url, err := p.publisher.CreateOrUpdatePR(ctx, dir, repo, branch)
	if err != nil {
		p.emit(ctx, eventlog.TypePRFailed, map[string]any{
			"repo":   repo,
			"branch": branch,
			"error":  err.Error(),
		})
		return
	}
	p.emit(ctx, eventlog.TypePR, map[string]any{
		"repo":   repo,
		"branch": branch,
		"url":    url,
	})
}

func (p *Pipeline) emit(ctx context.Context, typ string, fields map[string]any) {
	if err := p.events.Append(typ, fields); err != nil {
		p.logger.Error(ctx, "Failed to append event",
			adapters.Field{Key: "type", Value: typ},
			adapters.Field{Key: "error", Value: err.Error()})
	}
}
