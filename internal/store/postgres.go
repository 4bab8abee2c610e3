// internal/store/postgres.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"repo-health/internal/model"
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres returns a Store backed by the given pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

var _ Store = (*Postgres)(nil)

// --- Repositories ---

func (s *Postgres) GetOrCreateRepo(ctx context.Context, owner, name string, defaultBranch *string) (model.Repository, error) {
	repo, err := s.GetRepo(ctx, owner, name)
	if errors.Is(err, ErrNotFound) {
		query := `INSERT INTO repos (owner, name, default_branch)
		          VALUES ($1, $2, $3)
		          RETURNING id, owner, name, default_branch, created_at`
		var created model.Repository
		err := s.pool.QueryRow(ctx, query, owner, name, defaultBranch).Scan(
			&created.ID, &created.Owner, &created.Name, &created.DefaultBranch, &created.CreatedAt,
		)
		if err != nil {
			return model.Repository{}, fmt.Errorf("create repo: %w", err)
		}
		return created, nil
	} else if err != nil {
		return model.Repository{}, err
	}

	if defaultBranch != nil && (repo.DefaultBranch == nil || *repo.DefaultBranch != *defaultBranch) {
		query := `UPDATE repos SET default_branch = $1 WHERE id = $2`
		if _, err := s.pool.Exec(ctx, query, defaultBranch, repo.ID); err != nil {
			return model.Repository{}, fmt.Errorf("update repo default branch: %w", err)
		}
		repo.DefaultBranch = defaultBranch
	}
	return repo, nil
}

func (s *Postgres) GetRepo(ctx context.Context, owner, name string) (model.Repository, error) {
	query := `SELECT id, owner, name, default_branch, created_at
	          FROM repos WHERE owner = $1 AND name = $2`

	var repo model.Repository
	err := s.pool.QueryRow(ctx, query, owner, name).Scan(
		&repo.ID, &repo.Owner, &repo.Name, &repo.DefaultBranch, &repo.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Repository{}, ErrNotFound
	}
	if err != nil {
		return model.Repository{}, fmt.Errorf("get repo: %w", err)
	}
	return repo, nil
}

func (s *Postgres) ListRepos(ctx context.Context, owner string) ([]model.Repository, error) {
	query := `SELECT id, owner, name, default_branch, created_at FROM repos`
	args := []any{}
	if owner != "" {
		query += ` WHERE owner = $1`
		args = append(args, owner)
	}
	query += ` ORDER BY owner, name`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list repos: %w", err)
	}
	defer rows.Close()

	var repos []model.Repository
	for rows.Next() {
		var repo model.Repository
		if err := rows.Scan(&repo.ID, &repo.Owner, &repo.Name, &repo.DefaultBranch, &repo.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan repo: %w", err)
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

// --- Runs and metrics ---

func (s *Postgres) CreateRun(ctx context.Context, repoID int64, timeRange *string, sinceDate *time.Time, source, notes *string) (model.Run, error) {
	query := `INSERT INTO runs (repo_id, time_range, since_date, source, notes)
	          VALUES ($1, $2, $3, $4, $5)
	          RETURNING id, repo_id, started_at, time_range, since_date, source, notes`

	var run model.Run
	err := s.pool.QueryRow(ctx, query, repoID, timeRange, sinceDate, source, notes).Scan(
		&run.ID, &run.RepoID, &run.StartedAt, &run.TimeRange, &run.SinceDate, &run.Source, &run.Notes,
	)
	if err != nil {
		return model.Run{}, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

func (s *Postgres) GetRun(ctx context.Context, repoID, runID int64) (model.Run, error) {
	query := `SELECT id, repo_id, started_at, time_range, since_date, source, notes
	          FROM runs WHERE repo_id = $1 AND id = $2`

	var run model.Run
	err := s.pool.QueryRow(ctx, query, repoID, runID).Scan(
		&run.ID, &run.RepoID, &run.StartedAt, &run.TimeRange, &run.SinceDate, &run.Source, &run.Notes,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Run{}, ErrNotFound
	}
	if err != nil {
		return model.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func (s *Postgres) LatestRun(ctx context.Context, repoID int64) (model.Run, error) {
	query := `SELECT id, repo_id, started_at, time_range, since_date, source, notes
	          FROM runs WHERE repo_id = $1 ORDER BY started_at DESC, id DESC LIMIT 1`

	var run model.Run
	err := s.pool.QueryRow(ctx, query, repoID).Scan(
		&run.ID, &run.RepoID, &run.StartedAt, &run.TimeRange, &run.SinceDate, &run.Source, &run.Notes,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Run{}, ErrNotFound
	}
	if err != nil {
		return model.Run{}, fmt.Errorf("latest run: %w", err)
	}
	return run, nil
}

func (s *Postgres) ListRuns(ctx context.Context, repoID int64, limit, offset int) ([]model.Run, error) {
	query := `SELECT id, repo_id, started_at, time_range, since_date, source, notes
	          FROM runs WHERE repo_id = $1
	          ORDER BY started_at DESC, id DESC LIMIT $2 OFFSET $3`

	rows, err := s.pool.Query(ctx, query, repoID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var run model.Run
		if err := rows.Scan(&run.ID, &run.RepoID, &run.StartedAt, &run.TimeRange, &run.SinceDate, &run.Source, &run.Notes); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *Postgres) AddMetric(ctx context.Context, runID int64, scope, name string, value MetricValue) error {
	var valueJSON *string
	if value.JSON != nil {
		encoded, err := json.Marshal(value.JSON)
		if err != nil {
			return fmt.Errorf("encode metric %s/%s: %w", scope, name, err)
		}
		text := string(encoded)
		valueJSON = &text
	}

	query := `INSERT INTO metrics (run_id, scope, name, value_int, value_float, value_text, value_json)
	          VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)`
	_, err := s.pool.Exec(ctx, query, runID, scope, name, value.Int, value.Float, value.Text, valueJSON)
	if err != nil {
		return fmt.Errorf("add metric %s/%s: %w", scope, name, err)
	}
	return nil
}

func (s *Postgres) MetricsForRun(ctx context.Context, runID int64) ([]model.Metric, error) {
	query := `SELECT id, run_id, scope, name, value_int, value_float, value_text, value_json
	          FROM metrics WHERE run_id = $1 ORDER BY scope, name`

	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("metrics for run: %w", err)
	}
	defer rows.Close()

	var metrics []model.Metric
	for rows.Next() {
		var m model.Metric
		if err := rows.Scan(&m.ID, &m.RunID, &m.Scope, &m.Name, &m.ValueInt, &m.ValueFloat, &m.ValueText, &m.ValueJSON); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

// --- Freshness markers ---

func (s *Postgres) IsCacheFresh(ctx context.Context, repoID int64, entity model.EntityType, maxAge time.Duration) (bool, error) {
	query := `SELECT fetched_at FROM fetch_log WHERE repo_id = $1 AND entity_type = $2`

	var fetchedAt time.Time
	err := s.pool.QueryRow(ctx, query, repoID, string(entity)).Scan(&fetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache freshness: %w", err)
	}
	return isFresh(fetchedAt, time.Now().UTC(), maxAge), nil
}

func (s *Postgres) RecordFetch(ctx context.Context, repoID int64, entity model.EntityType) error {
	query := `INSERT INTO fetch_log (repo_id, entity_type, fetched_at)
	          VALUES ($1, $2, now())
	          ON CONFLICT (repo_id, entity_type) DO UPDATE SET fetched_at = now()`
	if _, err := s.pool.Exec(ctx, query, repoID, string(entity)); err != nil {
		return fmt.Errorf("record fetch: %w", err)
	}
	return nil
}

// --- Cached entity records ---

// dedupe collapses intra-batch duplicates by natural key, keeping the
// last-seen values at the first-seen position, so a single upsert statement
// never conflicts with itself.
func dedupe[T any](rows []T, key func(T) string) []T {
	out := rows[:0:0]
	index := make(map[string]int, len(rows))
	for _, row := range rows {
		k := key(row)
		if i, ok := index[k]; ok {
			out[i] = row
			continue
		}
		index[k] = len(out)
		out = append(out, row)
	}
	return out
}

// upsertBatch queues one statement per row inside a single transaction, so a
// batch lands atomically or not at all.
func (s *Postgres) upsertBatch(ctx context.Context, queue func(*pgx.Batch)) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback(ctx) // No-op once committed.

	batch := &pgx.Batch{}
	queue(batch)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert batch: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Postgres) UpsertCommits(ctx context.Context, repoID int64, commits []model.Commit) error {
	commits = dedupe(commits, func(c model.Commit) string { return c.OID })
	if len(commits) == 0 {
		return nil
	}

	query := `INSERT INTO commits (repo_id, oid, authored_date, author_login, additions, deletions, message)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)
	          ON CONFLICT (repo_id, oid) DO UPDATE SET
	              authored_date = EXCLUDED.authored_date,
	              author_login = EXCLUDED.author_login,
	              additions = EXCLUDED.additions,
	              deletions = EXCLUDED.deletions,
	              message = EXCLUDED.message`

	return s.upsertBatch(ctx, func(batch *pgx.Batch) {
		for _, c := range commits {
			batch.Queue(query, repoID, c.OID, c.AuthoredDate, c.AuthorLogin, c.Additions, c.Deletions, c.Message)
		}
	})
}

func (s *Postgres) UpsertBranches(ctx context.Context, repoID int64, branches []model.Branch) error {
	branches = dedupe(branches, func(b model.Branch) string { return b.Name })
	if len(branches) == 0 {
		return nil
	}

	query := `INSERT INTO branches (repo_id, name, last_commit_date, total_commits)
	          VALUES ($1, $2, $3, $4)
	          ON CONFLICT (repo_id, name) DO UPDATE SET
	              last_commit_date = EXCLUDED.last_commit_date,
	              total_commits = EXCLUDED.total_commits`

	return s.upsertBatch(ctx, func(batch *pgx.Batch) {
		for _, b := range branches {
			batch.Queue(query, repoID, b.Name, b.LastCommitDate, b.TotalCommits)
		}
	})
}

func encodeLabels(labels []string) (string, error) {
	if labels == nil {
		labels = []string{}
	}
	encoded, err := json.Marshal(labels)
	if err != nil {
		return "", fmt.Errorf("encode labels: %w", err)
	}
	return string(encoded), nil
}

func (s *Postgres) UpsertIssues(ctx context.Context, repoID int64, issues []model.Issue) error {
	issues = dedupe(issues, func(i model.Issue) string { return i.GithubID })
	if len(issues) == 0 {
		return nil
	}

	query := `INSERT INTO issues (repo_id, github_id, created_at, closed_at, state, author_login,
	                              first_comment_created_at, first_comment_author, labels)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb)
	          ON CONFLICT (repo_id, github_id) DO UPDATE SET
	              created_at = EXCLUDED.created_at,
	              closed_at = EXCLUDED.closed_at,
	              state = EXCLUDED.state,
	              author_login = EXCLUDED.author_login,
	              first_comment_created_at = EXCLUDED.first_comment_created_at,
	              first_comment_author = EXCLUDED.first_comment_author,
	              labels = EXCLUDED.labels`

	labelJSON := make([]string, len(issues))
	for i, issue := range issues {
		encoded, err := encodeLabels(issue.Labels)
		if err != nil {
			return err
		}
		labelJSON[i] = encoded
	}

	return s.upsertBatch(ctx, func(batch *pgx.Batch) {
		for i, issue := range issues {
			batch.Queue(query, repoID, issue.GithubID, issue.CreatedAt, issue.ClosedAt, issue.State,
				issue.AuthorLogin, issue.FirstCommentCreatedAt, issue.FirstCommentAuthor, labelJSON[i])
		}
	})
}

func (s *Postgres) UpsertPullRequests(ctx context.Context, repoID int64, prs []model.PullRequest) error {
	prs = dedupe(prs, func(p model.PullRequest) string { return p.GithubID })
	if len(prs) == 0 {
		return nil
	}

	query := `INSERT INTO pull_requests (repo_id, github_id, created_at, merged_at, closed_at, state,
	                                     author_login, first_comment_created_at, first_comment_author, labels)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb)
	          ON CONFLICT (repo_id, github_id) DO UPDATE SET
	              created_at = EXCLUDED.created_at,
	              merged_at = EXCLUDED.merged_at,
	              closed_at = EXCLUDED.closed_at,
	              state = EXCLUDED.state,
	              author_login = EXCLUDED.author_login,
	              first_comment_created_at = EXCLUDED.first_comment_created_at,
	              first_comment_author = EXCLUDED.first_comment_author,
	              labels = EXCLUDED.labels`

	labelJSON := make([]string, len(prs))
	for i, pr := range prs {
		encoded, err := encodeLabels(pr.Labels)
		if err != nil {
			return err
		}
		labelJSON[i] = encoded
	}

	return s.upsertBatch(ctx, func(batch *pgx.Batch) {
		for i, pr := range prs {
			batch.Queue(query, repoID, pr.GithubID, pr.CreatedAt, pr.MergedAt, pr.ClosedAt, pr.State,
				pr.AuthorLogin, pr.FirstCommentCreatedAt, pr.FirstCommentAuthor, labelJSON[i])
		}
	})
}

func (s *Postgres) UpsertReleases(ctx context.Context, repoID int64, releases []model.Release) error {
	releases = dedupe(releases, func(r model.Release) string { return r.TagName })
	if len(releases) == 0 {
		return nil
	}

	query := `INSERT INTO releases (repo_id, tag_name, name, created_at, total_downloads)
	          VALUES ($1, $2, $3, $4, $5)
	          ON CONFLICT (repo_id, tag_name) DO UPDATE SET
	              name = EXCLUDED.name,
	              created_at = EXCLUDED.created_at,
	              total_downloads = EXCLUDED.total_downloads`

	return s.upsertBatch(ctx, func(batch *pgx.Batch) {
		for _, r := range releases {
			batch.Queue(query, repoID, r.TagName, r.Name, r.CreatedAt, r.TotalDownloads)
		}
	})
}

func (s *Postgres) Commits(ctx context.Context, repoID int64, since *time.Time) ([]model.Commit, error) {
	query := `SELECT repo_id, oid, authored_date, author_login, additions, deletions, message
	          FROM commits WHERE repo_id = $1`
	args := []any{repoID}
	if since != nil {
		query += ` AND authored_date >= $2`
		args = append(args, *since)
	}
	query += ` ORDER BY authored_date`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read commits: %w", err)
	}
	defer rows.Close()

	var commits []model.Commit
	for rows.Next() {
		var c model.Commit
		if err := rows.Scan(&c.RepoID, &c.OID, &c.AuthoredDate, &c.AuthorLogin, &c.Additions, &c.Deletions, &c.Message); err != nil {
			return nil, fmt.Errorf("scan commit: %w", err)
		}
		commits = append(commits, c)
	}
	return commits, rows.Err()
}

func (s *Postgres) Branches(ctx context.Context, repoID int64) ([]model.Branch, error) {
	query := `SELECT repo_id, name, last_commit_date, total_commits
	          FROM branches WHERE repo_id = $1 ORDER BY name`

	rows, err := s.pool.Query(ctx, query, repoID)
	if err != nil {
		return nil, fmt.Errorf("read branches: %w", err)
	}
	defer rows.Close()

	var branches []model.Branch
	for rows.Next() {
		var b model.Branch
		if err := rows.Scan(&b.RepoID, &b.Name, &b.LastCommitDate, &b.TotalCommits); err != nil {
			return nil, fmt.Errorf("scan branch: %w", err)
		}
		branches = append(branches, b)
	}
	return branches, rows.Err()
}

func (s *Postgres) Issues(ctx context.Context, repoID int64, since *time.Time) ([]model.Issue, error) {
	query := `SELECT repo_id, github_id, created_at, closed_at, state, author_login,
	                 first_comment_created_at, first_comment_author, labels
	          FROM issues WHERE repo_id = $1`
	args := []any{repoID}
	if since != nil {
		query += ` AND created_at >= $2`
		args = append(args, *since)
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read issues: %w", err)
	}
	defer rows.Close()

	var issues []model.Issue
	for rows.Next() {
		var issue model.Issue
		var labels []byte
		if err := rows.Scan(&issue.RepoID, &issue.GithubID, &issue.CreatedAt, &issue.ClosedAt, &issue.State,
			&issue.AuthorLogin, &issue.FirstCommentCreatedAt, &issue.FirstCommentAuthor, &labels); err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		if labels != nil {
			if err := json.Unmarshal(labels, &issue.Labels); err != nil {
				return nil, fmt.Errorf("decode issue labels: %w", err)
			}
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

func (s *Postgres) PullRequests(ctx context.Context, repoID int64, since *time.Time) ([]model.PullRequest, error) {
	query := `SELECT repo_id, github_id, created_at, merged_at, closed_at, state, author_login,
	                 first_comment_created_at, first_comment_author, labels
	          FROM pull_requests WHERE repo_id = $1`
	args := []any{repoID}
	if since != nil {
		query += ` AND created_at >= $2`
		args = append(args, *since)
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read pull requests: %w", err)
	}
	defer rows.Close()

	var prs []model.PullRequest
	for rows.Next() {
		var pr model.PullRequest
		var labels []byte
		if err := rows.Scan(&pr.RepoID, &pr.GithubID, &pr.CreatedAt, &pr.MergedAt, &pr.ClosedAt, &pr.State,
			&pr.AuthorLogin, &pr.FirstCommentCreatedAt, &pr.FirstCommentAuthor, &labels); err != nil {
			return nil, fmt.Errorf("scan pull request: %w", err)
		}
		if labels != nil {
			if err := json.Unmarshal(labels, &pr.Labels); err != nil {
				return nil, fmt.Errorf("decode pull request labels: %w", err)
			}
		}
		prs = append(prs, pr)
	}
	return prs, rows.Err()
}

func (s *Postgres) Releases(ctx context.Context, repoID int64, since *time.Time) ([]model.Release, error) {
	query := `SELECT repo_id, tag_name, name, created_at, total_downloads
	          FROM releases WHERE repo_id = $1`
	args := []any{repoID}
	if since != nil {
		query += ` AND created_at >= $2`
		args = append(args, *since)
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read releases: %w", err)
	}
	defer rows.Close()

	var releases []model.Release
	for rows.Next() {
		var r model.Release
		if err := rows.Scan(&r.RepoID, &r.TagName, &r.Name, &r.CreatedAt, &r.TotalDownloads); err != nil {
			return nil, fmt.Errorf("scan release: %w", err)
		}
		releases = append(releases, r)
	}
	return releases, rows.Err()
}

// --- Summaries ---

const summaryColumns = `id, repo_id, owner, summary_scope, run_id, created_at, model, prompt_version, summary_text, metadata_json`

func scanSummary(row pgx.Row) (model.Summary, error) {
	var s model.Summary
	err := row.Scan(&s.ID, &s.RepoID, &s.Owner, &s.SummaryScope, &s.RunID, &s.CreatedAt,
		&s.Model, &s.PromptVersion, &s.SummaryText, &s.Metadata)
	return s, err
}

func (s *Postgres) LatestSummary(ctx context.Context, owner string, repoID *int64, scope string) (model.Summary, error) {
	query := `SELECT ` + summaryColumns + ` FROM summaries
	          WHERE owner = $1 AND summary_scope = $2 AND ($3::bigint IS NULL OR repo_id = $3)
	          ORDER BY created_at DESC, id DESC LIMIT 1`

	summary, err := scanSummary(s.pool.QueryRow(ctx, query, owner, scope, repoID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Summary{}, ErrNotFound
	}
	if err != nil {
		return model.Summary{}, fmt.Errorf("latest summary: %w", err)
	}
	return summary, nil
}

func (s *Postgres) ListSummaries(ctx context.Context, owner string, repoID *int64, scope string, limit, offset int) ([]model.Summary, error) {
	query := `SELECT ` + summaryColumns + ` FROM summaries
	          WHERE owner = $1 AND summary_scope = $2 AND ($3::bigint IS NULL OR repo_id = $3)
	          ORDER BY created_at DESC, id DESC LIMIT $4 OFFSET $5`

	rows, err := s.pool.Query(ctx, query, owner, scope, repoID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()

	var summaries []model.Summary
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}
