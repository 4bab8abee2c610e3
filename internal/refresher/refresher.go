// internal/refresher/refresher.go

// Package refresher orchestrates the fetch-cache-compute cycle: per repository
// it brings each entity type up to date, then computes one metrics run from the
// cached snapshot.
package refresher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	custom_errors "repo-health/internal/errors"
	"repo-health/internal/model"
	"repo-health/internal/store"
)

// Fetcher is the external-source port. *github.Client satisfies it.
type Fetcher interface {
	DefaultBranch(ctx context.Context, owner, name string) (*string, error)
	ListOwnerRepos(ctx context.Context, owner string) ([]string, error)
	FetchBranches(ctx context.Context, owner, name string) ([]model.Branch, error)
	FetchCommits(ctx context.Context, owner, name, branch string, since *time.Time) ([]model.Commit, error)
	FetchIssues(ctx context.Context, owner, name string, since *time.Time) ([]model.Issue, error)
	FetchPullRequests(ctx context.Context, owner, name string) ([]model.PullRequest, error)
	FetchReleases(ctx context.Context, owner, name string) ([]model.Release, error)
}

// RepoIdentifier holds the owner and name of a repository.
type RepoIdentifier struct {
	Owner string
	Name  string
}

// Options tune one Refresher. Zero values fall back to sensible defaults.
type Options struct {
	// TimeRange selects the metrics window ("6 months", "1 year", "2 years",
	// "3 years" or "all"). Empty means "all".
	TimeRange string
	// MaxCacheAge is the freshness window per (repository, entity type).
	MaxCacheAge time.Duration
	// ForceRefresh refetches every entity type even when its cache is fresh.
	ForceRefresh bool
	// FullHistory fetches issues without the time-range cutoff so cached data
	// serves any narrower window later. The cutoff still applies at compute time.
	FullHistory bool
	// Interval is the scheduler period for Start.
	Interval time.Duration
	// Source tags the runs this refresher creates.
	Source string
}

// Refresher drives refresh cycles over a fixed set of owners and repositories.
type Refresher struct {
	store   store.Store
	fetcher Fetcher
	logger  *slog.Logger
	owners  []string
	repos   []RepoIdentifier
	opts    Options
}

// New creates a Refresher covering every repository under each owner plus any
// explicitly listed "owner/name" repositories.
func New(st store.Store, fetcher Fetcher, logger *slog.Logger, owners, repos []string, opts Options) (*Refresher, error) {
	parsed, err := parseRepoIdentifiers(repos)
	if err != nil {
		return nil, err
	}
	if _, err := sinceForRange(opts.TimeRange, time.Now()); err != nil {
		return nil, err
	}
	if opts.MaxCacheAge <= 0 {
		opts.MaxCacheAge = store.DefaultMaxCacheAge
	}
	if opts.Source == "" {
		opts.Source = model.SourceScheduled
	}

	return &Refresher{
		store:   st,
		fetcher: fetcher,
		logger:  logger,
		owners:  owners,
		repos:   parsed,
		opts:    opts,
	}, nil
}

// Start runs an immediate refresh cycle, then repeats on the configured
// interval until the context is cancelled.
func (r *Refresher) Start(ctx context.Context) {
	r.logger.Info("Starting refresher", "interval", r.opts.Interval.String(), "time_range", r.opts.TimeRange)
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	if err := r.RunCycle(ctx); err != nil {
		r.logger.Error("Refresh cycle had failures", "error", err)
	}

	for {
		select {
		case <-ticker.C:
			if err := r.RunCycle(ctx); err != nil {
				r.logger.Error("Refresh cycle had failures", "error", err)
			}
		case <-ctx.Done():
			r.logger.Info("Refresher shutting down", "reason", ctx.Err())
			return
		}
	}
}

// RunCycle refreshes every configured repository once, sequentially. A failed
// repository is logged and does not stop the cycle; the returned error reports
// how many repositories failed so one-shot callers can exit nonzero.
func (r *Refresher) RunCycle(ctx context.Context) error {
	r.logger.Info("Starting refresh cycle")

	failed := 0
	for _, owner := range r.owners {
		names, err := r.fetcher.ListOwnerRepos(ctx, owner)
		if err != nil {
			r.logger.Error("Failed to list repositories for owner", "owner", owner, "error", err)
			failed++
			continue
		}
		for _, name := range names {
			if !r.refreshOne(ctx, RepoIdentifier{Owner: owner, Name: name}) {
				failed++
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}

	for _, id := range r.repos {
		if !r.refreshOne(ctx, id) {
			failed++
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	r.logger.Info("Refresh cycle finished", "failed", failed)
	if failed > 0 {
		return fmt.Errorf("refresh cycle: %d of the configured targets failed", failed)
	}
	return nil
}

func (r *Refresher) refreshOne(ctx context.Context, id RepoIdentifier) bool {
	if err := r.RefreshRepo(ctx, id.Owner, id.Name); err != nil {
		if !errors.Is(err, context.Canceled) {
			r.logger.Error("Failed to refresh repository", "owner", id.Owner, "repo", id.Name, "error", err)
		}
		return false
	}
	return true
}

// snapshot is the full cached data set for one repository.
type snapshot struct {
	branches []model.Branch
	commits  []model.Commit
	issues   []model.Issue
	prs      []model.PullRequest
	releases []model.Release
}

// RefreshRepo brings one repository's cache up to date and records a metrics
// run from it.
func (r *Refresher) RefreshRepo(ctx context.Context, owner, name string) error {
	logger := r.logger.With("owner", owner, "repo", name)
	logger.Info("Refreshing repository")

	defaultBranch, err := r.fetcher.DefaultBranch(ctx, owner, name)
	if err != nil {
		return err
	}

	repo, err := r.store.GetOrCreateRepo(ctx, owner, name, defaultBranch)
	if err != nil {
		return err
	}
	logger = logger.With("repo_id", repo.ID)

	sinceDate, err := sinceForRange(r.opts.TimeRange, time.Now().UTC())
	if err != nil {
		return err
	}

	snap, refreshed, err := r.loadSnapshot(ctx, logger, repo, sinceDate)
	if err != nil {
		return err
	}

	return r.recordRun(ctx, logger, repo, snap, sinceDate, refreshed)
}

// loadSnapshot walks the five entity types: a fresh cache serves reads, a
// stale one is refetched, upserted and marked fetched first. It reports
// whether any entity type was refetched.
func (r *Refresher) loadSnapshot(ctx context.Context, logger *slog.Logger, repo model.Repository, sinceDate *time.Time) (snapshot, bool, error) {
	var snap snapshot
	refreshed := false

	fetchSince := sinceDate
	if r.opts.FullHistory {
		fetchSince = nil
	}

	for _, entity := range model.EntityTypes {
		fresh := false
		if !r.opts.ForceRefresh {
			var err error
			fresh, err = r.store.IsCacheFresh(ctx, repo.ID, entity, r.opts.MaxCacheAge)
			if err != nil {
				return snapshot{}, false, err
			}
		}

		if !fresh {
			logger.Info("Cache stale, fetching", "entity", entity)
			if err := r.fetchEntity(ctx, repo, entity, fetchSince); err != nil {
				return snapshot{}, false, err
			}
			if err := r.store.RecordFetch(ctx, repo.ID, entity); err != nil {
				return snapshot{}, false, err
			}
			refreshed = true
		} else {
			logger.Info("Cache fresh, reusing", "entity", entity)
		}

		if err := r.readEntity(ctx, repo.ID, entity, &snap); err != nil {
			return snapshot{}, false, err
		}
	}

	return snap, refreshed, nil
}

func (r *Refresher) fetchEntity(ctx context.Context, repo model.Repository, entity model.EntityType, since *time.Time) error {
	switch entity {
	case model.EntityBranches:
		branches, err := r.fetcher.FetchBranches(ctx, repo.Owner, repo.Name)
		if err != nil {
			return err
		}
		return r.store.UpsertBranches(ctx, repo.ID, branches)
	case model.EntityCommits:
		branch := ""
		if repo.DefaultBranch != nil {
			branch = *repo.DefaultBranch
		}
		// Commit history is always fetched in full so first-appearance checks
		// see every contributor.
		commits, err := r.fetcher.FetchCommits(ctx, repo.Owner, repo.Name, branch, nil)
		if err != nil {
			return err
		}
		return r.store.UpsertCommits(ctx, repo.ID, commits)
	case model.EntityIssues:
		issues, err := r.fetcher.FetchIssues(ctx, repo.Owner, repo.Name, since)
		if err != nil {
			return err
		}
		return r.store.UpsertIssues(ctx, repo.ID, issues)
	case model.EntityPRs:
		prs, err := r.fetcher.FetchPullRequests(ctx, repo.Owner, repo.Name)
		if err != nil {
			return err
		}
		return r.store.UpsertPullRequests(ctx, repo.ID, prs)
	case model.EntityReleases:
		releases, err := r.fetcher.FetchReleases(ctx, repo.Owner, repo.Name)
		if err != nil {
			return err
		}
		return r.store.UpsertReleases(ctx, repo.ID, releases)
	}
	return nil
}

func (r *Refresher) readEntity(ctx context.Context, repoID int64, entity model.EntityType, snap *snapshot) error {
	var err error
	switch entity {
	case model.EntityBranches:
		snap.branches, err = r.store.Branches(ctx, repoID)
	case model.EntityCommits:
		snap.commits, err = r.store.Commits(ctx, repoID, nil)
	case model.EntityIssues:
		snap.issues, err = r.store.Issues(ctx, repoID, nil)
	case model.EntityPRs:
		snap.prs, err = r.store.PullRequests(ctx, repoID, nil)
	case model.EntityReleases:
		snap.releases, err = r.store.Releases(ctx, repoID, nil)
	}
	return err
}

func parseRepoIdentifiers(repos []string) ([]RepoIdentifier, error) {
	var identifiers []RepoIdentifier
	for _, r := range repos {
		parts := strings.Split(r, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, &custom_errors.ErrInvalidRepoFormat{Repo: r}
		}
		identifiers = append(identifiers, RepoIdentifier{Owner: parts[0], Name: parts[1]})
	}
	return identifiers, nil
}

// sinceForRange maps a time-range label to its cutoff. Nil means no cutoff.
func sinceForRange(label string, now time.Time) (*time.Time, error) {
	var days int
	switch strings.ToLower(label) {
	case "", "all":
		return nil, nil
	case "6 months":
		days = 180
	case "1 year":
		days = 365
	case "2 years":
		days = 730
	case "3 years":
		days = 1095
	default:
		return nil, &custom_errors.ErrInvalidTimeRange{TimeRange: label}
	}
	since := now.AddDate(0, 0, -days)
	return &since, nil
}
