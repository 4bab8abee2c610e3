// internal/store/store.go

// Package store persists repositories, cached activity records, runs and
// metrics. The Store interface is the storage port; Postgres is the adapter.
package store

import (
	"context"
	"errors"
	"time"

	"repo-health/internal/model"
)

// ErrNotFound is returned when a repository, run or summary does not exist.
var ErrNotFound = errors.New("store: not found")

// DefaultMaxCacheAge is the freshness window applied when callers have no
// override.
const DefaultMaxCacheAge = 7 * 24 * time.Hour

// MetricValue carries exactly one of the four metric value representations.
type MetricValue struct {
	Int   *int64
	Float *float64
	Text  *string
	JSON  any
}

// IntValue wraps an integer metric value.
func IntValue(v int64) MetricValue { return MetricValue{Int: &v} }

// FloatValue wraps a float metric value.
func FloatValue(v float64) MetricValue { return MetricValue{Float: &v} }

// TextValue wraps a text metric value.
func TextValue(v string) MetricValue { return MetricValue{Text: &v} }

// JSONValue wraps a structured metric value, serialized on write.
func JSONValue(v any) MetricValue { return MetricValue{JSON: v} }

// Store is the storage port consumed by the refresher and the read API.
type Store interface {
	// Repositories.
	GetOrCreateRepo(ctx context.Context, owner, name string, defaultBranch *string) (model.Repository, error)
	GetRepo(ctx context.Context, owner, name string) (model.Repository, error)
	ListRepos(ctx context.Context, owner string) ([]model.Repository, error)

	// Runs and metrics.
	CreateRun(ctx context.Context, repoID int64, timeRange *string, sinceDate *time.Time, source, notes *string) (model.Run, error)
	GetRun(ctx context.Context, repoID, runID int64) (model.Run, error)
	LatestRun(ctx context.Context, repoID int64) (model.Run, error)
	ListRuns(ctx context.Context, repoID int64, limit, offset int) ([]model.Run, error)
	AddMetric(ctx context.Context, runID int64, scope, name string, value MetricValue) error
	MetricsForRun(ctx context.Context, runID int64) ([]model.Metric, error)

	// Freshness markers.
	IsCacheFresh(ctx context.Context, repoID int64, entity model.EntityType, maxAge time.Duration) (bool, error)
	RecordFetch(ctx context.Context, repoID int64, entity model.EntityType) error

	// Cached entity records.
	UpsertCommits(ctx context.Context, repoID int64, commits []model.Commit) error
	UpsertBranches(ctx context.Context, repoID int64, branches []model.Branch) error
	UpsertIssues(ctx context.Context, repoID int64, issues []model.Issue) error
	UpsertPullRequests(ctx context.Context, repoID int64, prs []model.PullRequest) error
	UpsertReleases(ctx context.Context, repoID int64, releases []model.Release) error
	Commits(ctx context.Context, repoID int64, since *time.Time) ([]model.Commit, error)
	Branches(ctx context.Context, repoID int64) ([]model.Branch, error)
	Issues(ctx context.Context, repoID int64, since *time.Time) ([]model.Issue, error)
	PullRequests(ctx context.Context, repoID int64, since *time.Time) ([]model.PullRequest, error)
	Releases(ctx context.Context, repoID int64, since *time.Time) ([]model.Release, error)

	// Summaries, repo scope (repoID set) or org scope (repoID nil).
	LatestSummary(ctx context.Context, owner string, repoID *int64, scope string) (model.Summary, error)
	ListSummaries(ctx context.Context, owner string, repoID *int64, scope string, limit, offset int) ([]model.Summary, error)
}

// isFresh reports whether a fetch marker at fetchedAt is still inside the
// freshness window at now. The transition to stale happens exactly at
// fetchedAt+maxAge.
func isFresh(fetchedAt, now time.Time, maxAge time.Duration) bool {
	return !fetchedAt.Before(now.Add(-maxAge))
}
