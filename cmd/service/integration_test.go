//go:build integration

// cmd/service/integration_test.go
package main

import (
	"context"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"repo-health/internal/model"
	"repo-health/internal/store"
)

func setupTestDatabase(ctx context.Context, t *testing.T) *pgxpool.Pool {
	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	m, err := migrate.New("file://../../migrations", connStr)
	require.NoError(t, err)
	require.NoError(t, m.Up())

	dbpool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	t.Cleanup(func() {
		dbpool.Close()
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	return dbpool
}

func strptr(s string) *string { return &s }

func TestStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	st := store.NewPostgres(setupTestDatabase(ctx, t))

	repo, err := st.GetOrCreateRepo(ctx, "test-owner", "test-repo", strptr("main"))
	require.NoError(t, err)
	require.NotZero(t, repo.ID)

	t.Run("get-or-create is idempotent and updates the default branch", func(t *testing.T) {
		again, err := st.GetOrCreateRepo(ctx, "test-owner", "test-repo", strptr("trunk"))
		require.NoError(t, err)
		assert.Equal(t, repo.ID, again.ID)
		require.NotNil(t, again.DefaultBranch)
		assert.Equal(t, "trunk", *again.DefaultBranch)
	})

	t.Run("upsert twice leaves one row with the second write", func(t *testing.T) {
		date := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
		first := []model.Commit{{OID: "abc", AuthoredDate: date, AuthorLogin: strptr("alice"), Additions: 1, Message: "feat: new feature"}}
		second := []model.Commit{{OID: "abc", AuthoredDate: date, AuthorLogin: strptr("alice"), Additions: 9, Message: "feat: amended"}}

		require.NoError(t, st.UpsertCommits(ctx, repo.ID, first))
		require.NoError(t, st.UpsertCommits(ctx, repo.ID, second))

		commits, err := st.Commits(ctx, repo.ID, nil)
		require.NoError(t, err)
		require.Len(t, commits, 1)
		assert.Equal(t, "feat: amended", commits[0].Message)
		assert.Equal(t, 9, commits[0].Additions)
	})

	t.Run("round-trip preserves natural keys", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Second)
		issues := []model.Issue{
			{GithubID: "I_1", CreatedAt: now.AddDate(0, -1, 0), State: model.StateOpen, AuthorLogin: strptr("bob"), Labels: []string{"bug", "good first issue"}},
			{GithubID: "I_2", CreatedAt: now, State: model.StateClosed, ClosedAt: &now},
		}
		require.NoError(t, st.UpsertIssues(ctx, repo.ID, issues))

		stored, err := st.Issues(ctx, repo.ID, nil)
		require.NoError(t, err)
		require.Len(t, stored, 2)
		assert.Equal(t, "I_1", stored[0].GithubID)
		assert.Equal(t, []string{"bug", "good first issue"}, stored[0].Labels)
		assert.Equal(t, "I_2", stored[1].GithubID)
		require.NotNil(t, stored[1].ClosedAt)
	})

	t.Run("since filter on reads", func(t *testing.T) {
		cutoff := time.Now().UTC().AddDate(0, 0, -7)
		recent, err := st.Issues(ctx, repo.ID, &cutoff)
		require.NoError(t, err)
		require.Len(t, recent, 1)
		assert.Equal(t, "I_2", recent[0].GithubID)
	})

	t.Run("freshness markers", func(t *testing.T) {
		fresh, err := st.IsCacheFresh(ctx, repo.ID, model.EntityCommits, store.DefaultMaxCacheAge)
		require.NoError(t, err)
		assert.False(t, fresh, "no recorded fetch means stale")

		require.NoError(t, st.RecordFetch(ctx, repo.ID, model.EntityCommits))

		fresh, err = st.IsCacheFresh(ctx, repo.ID, model.EntityCommits, store.DefaultMaxCacheAge)
		require.NoError(t, err)
		assert.True(t, fresh)

		// Re-recording must not violate the (repo, entity) uniqueness.
		require.NoError(t, st.RecordFetch(ctx, repo.ID, model.EntityCommits))
	})

	t.Run("runs and metrics", func(t *testing.T) {
		source := model.SourceInteractive
		run, err := st.CreateRun(ctx, repo.ID, strptr("6 months"), nil, &source, nil)
		require.NoError(t, err)

		require.NoError(t, st.AddMetric(ctx, run.ID, "commits", "total_commits", store.IntValue(42)))
		require.NoError(t, st.AddMetric(ctx, run.ID, "commits", "hhi", store.FloatValue(5000)))
		require.NoError(t, st.AddMetric(ctx, run.ID, "issues", "open_issues_over_time",
			store.JSONValue([]map[string]any{{"date": "2024-04-01T00:00:00Z", "value": 3}})))

		// Duplicate (run, scope, name) violates the uniqueness constraint.
		assert.Error(t, st.AddMetric(ctx, run.ID, "commits", "total_commits", store.IntValue(43)))

		latest, err := st.LatestRun(ctx, repo.ID)
		require.NoError(t, err)
		assert.Equal(t, run.ID, latest.ID)

		metrics, err := st.MetricsForRun(ctx, run.ID)
		require.NoError(t, err)
		require.Len(t, metrics, 3)

		_, err = st.GetRun(ctx, repo.ID, run.ID+999)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}
