// internal/api/handler_test.go
package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repo-health/internal/model"
	"repo-health/internal/store"
)

// fakeStore serves canned data for handler tests. Write methods are no-ops.
type fakeStore struct {
	repos     []model.Repository
	runs      map[int64][]model.Run    // keyed by repo ID, newest first
	metrics   map[int64][]model.Metric // keyed by run ID
	summaries []model.Summary
}

var _ store.Store = (*fakeStore)(nil)

func (f *fakeStore) GetOrCreateRepo(_ context.Context, owner, name string, _ *string) (model.Repository, error) {
	return f.GetRepo(context.Background(), owner, name)
}

func (f *fakeStore) GetRepo(_ context.Context, owner, name string) (model.Repository, error) {
	for _, repo := range f.repos {
		if repo.Owner == owner && repo.Name == name {
			return repo, nil
		}
	}
	return model.Repository{}, store.ErrNotFound
}

func (f *fakeStore) ListRepos(_ context.Context, owner string) ([]model.Repository, error) {
	if owner == "" {
		return f.repos, nil
	}
	var out []model.Repository
	for _, repo := range f.repos {
		if repo.Owner == owner {
			out = append(out, repo)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateRun(_ context.Context, repoID int64, _ *string, _ *time.Time, _, _ *string) (model.Run, error) {
	return model.Run{RepoID: repoID}, nil
}

func (f *fakeStore) GetRun(_ context.Context, repoID, runID int64) (model.Run, error) {
	for _, run := range f.runs[repoID] {
		if run.ID == runID {
			return run, nil
		}
	}
	return model.Run{}, store.ErrNotFound
}

func (f *fakeStore) LatestRun(_ context.Context, repoID int64) (model.Run, error) {
	runs := f.runs[repoID]
	if len(runs) == 0 {
		return model.Run{}, store.ErrNotFound
	}
	return runs[0], nil
}

func (f *fakeStore) ListRuns(_ context.Context, repoID int64, limit, offset int) ([]model.Run, error) {
	runs := f.runs[repoID]
	if offset >= len(runs) {
		return nil, nil
	}
	runs = runs[offset:]
	if limit < len(runs) {
		runs = runs[:limit]
	}
	return runs, nil
}

func (f *fakeStore) AddMetric(context.Context, int64, string, string, store.MetricValue) error {
	return nil
}

func (f *fakeStore) MetricsForRun(_ context.Context, runID int64) ([]model.Metric, error) {
	return f.metrics[runID], nil
}

func (f *fakeStore) IsCacheFresh(context.Context, int64, model.EntityType, time.Duration) (bool, error) {
	return false, nil
}
func (f *fakeStore) RecordFetch(context.Context, int64, model.EntityType) error     { return nil }
func (f *fakeStore) UpsertCommits(context.Context, int64, []model.Commit) error     { return nil }
func (f *fakeStore) UpsertBranches(context.Context, int64, []model.Branch) error    { return nil }
func (f *fakeStore) UpsertIssues(context.Context, int64, []model.Issue) error       { return nil }
func (f *fakeStore) UpsertPullRequests(context.Context, int64, []model.PullRequest) error {
	return nil
}
func (f *fakeStore) UpsertReleases(context.Context, int64, []model.Release) error { return nil }
func (f *fakeStore) Commits(context.Context, int64, *time.Time) ([]model.Commit, error) {
	return nil, nil
}
func (f *fakeStore) Branches(context.Context, int64) ([]model.Branch, error) { return nil, nil }
func (f *fakeStore) Issues(context.Context, int64, *time.Time) ([]model.Issue, error) {
	return nil, nil
}
func (f *fakeStore) PullRequests(context.Context, int64, *time.Time) ([]model.PullRequest, error) {
	return nil, nil
}
func (f *fakeStore) Releases(context.Context, int64, *time.Time) ([]model.Release, error) {
	return nil, nil
}

func (f *fakeStore) LatestSummary(_ context.Context, owner string, repoID *int64, scope string) (model.Summary, error) {
	matches, _ := f.ListSummaries(context.Background(), owner, repoID, scope, 1, 0)
	if len(matches) == 0 {
		return model.Summary{}, store.ErrNotFound
	}
	return matches[0], nil
}

func (f *fakeStore) ListSummaries(_ context.Context, owner string, repoID *int64, scope string, limit, offset int) ([]model.Summary, error) {
	var out []model.Summary
	for _, s := range f.summaries {
		if s.Owner != owner || s.SummaryScope != scope {
			continue
		}
		if repoID != nil && (s.RepoID == nil || *s.RepoID != *repoID) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

const testAPIKey = "test-secret"

func strptr(s string) *string { return &s }
func i64ptr(v int64) *int64   { return &v }

func newTestServer(t *testing.T, st store.Store, apiKey string) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	srv := httptest.NewServer(NewRouter(st, apiKey, logger))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, srv *httptest.Server, path, token string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, body
}

func seededStore() *fakeStore {
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &fakeStore{
		repos: []model.Repository{
			{ID: 1, Owner: "acme", Name: "widgets", DefaultBranch: strptr("main")},
			{ID: 2, Owner: "acme", Name: "gadgets"},
			{ID: 3, Owner: "other", Name: "things"},
		},
		runs: map[int64][]model.Run{
			1: {
				{ID: 20, RepoID: 1, StartedAt: started.Add(time.Hour), TimeRange: strptr("6 months")},
				{ID: 10, RepoID: 1, StartedAt: started},
			},
		},
		metrics: map[int64][]model.Metric{
			20: {
				{RunID: 20, Scope: "commits", Name: "total_commits", ValueInt: i64ptr(42)},
				{RunID: 20, Scope: "commits", Name: "hhi", ValueFloat: func() *float64 { v := 5000.0; return &v }()},
				{RunID: 20, Scope: "commits", Name: "last_commit_date", ValueText: strptr("2024-04-30T00:00:00Z")},
				{RunID: 20, Scope: "issues", Name: "open_issues_over_time", ValueJSON: []byte(`[{"date":"2024-04-01T00:00:00Z","value":3}]`)},
			},
			10: {
				{RunID: 10, Scope: "commits", Name: "total_commits", ValueInt: i64ptr(40)},
			},
		},
		summaries: []model.Summary{
			{ID: 1, RepoID: i64ptr(1), Owner: "acme", SummaryScope: "repo", CreatedAt: started, SummaryText: "older"},
			{ID: 2, RepoID: i64ptr(1), Owner: "acme", SummaryScope: "repo", CreatedAt: started.Add(time.Hour), SummaryText: "newer"},
			{ID: 3, Owner: "acme", SummaryScope: "org", CreatedAt: started, SummaryText: "org-wide"},
		},
	}
}

func TestHealthCheck_NoAuthRequired(t *testing.T) {
	srv := newTestServer(t, seededStore(), testAPIKey)

	resp, body := get(t, srv, "/health", "")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestAuth(t *testing.T) {
	t.Run("unconfigured secret yields 500", func(t *testing.T) {
		srv := newTestServer(t, seededStore(), "")
		resp, _ := get(t, srv, "/repos", testAPIKey)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})

	t.Run("missing token yields 401", func(t *testing.T) {
		srv := newTestServer(t, seededStore(), testAPIKey)
		resp, _ := get(t, srv, "/repos", "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("wrong token yields 401", func(t *testing.T) {
		srv := newTestServer(t, seededStore(), testAPIKey)
		resp, _ := get(t, srv, "/repos", "wrong")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("valid token passes", func(t *testing.T) {
		srv := newTestServer(t, seededStore(), testAPIKey)
		resp, _ := get(t, srv, "/repos", testAPIKey)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestListRepos(t *testing.T) {
	srv := newTestServer(t, seededStore(), testAPIKey)

	resp, body := get(t, srv, "/repos?owner=acme", testAPIKey)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var repos []struct {
		Owner         string  `json:"owner"`
		Name          string  `json:"name"`
		DefaultBranch *string `json:"default_branch"`
	}
	require.NoError(t, json.Unmarshal(body, &repos))
	require.Len(t, repos, 2)
	assert.Equal(t, "widgets", repos[0].Name)
	require.NotNil(t, repos[0].DefaultBranch)
	assert.Equal(t, "main", *repos[0].DefaultBranch)
	assert.Nil(t, repos[1].DefaultBranch)
}

func TestGetRepoMetrics(t *testing.T) {
	srv := newTestServer(t, seededStore(), testAPIKey)

	t.Run("latest run grouped by scope", func(t *testing.T) {
		resp, body := get(t, srv, "/repos/acme/widgets/metrics", testAPIKey)

		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out struct {
			Owner   string                     `json:"owner"`
			Repo    string                     `json:"repo"`
			Run     struct{ ID int64 }         `json:"run"`
			Metrics map[string]map[string]any  `json:"metrics"`
		}
		require.NoError(t, json.Unmarshal(body, &out))
		assert.Equal(t, "acme", out.Owner)
		assert.Equal(t, int64(20), out.Run.ID)
		assert.Equal(t, float64(42), out.Metrics["commits"]["total_commits"])
		assert.Equal(t, "2024-04-30T00:00:00Z", out.Metrics["commits"]["last_commit_date"])
		series, ok := out.Metrics["issues"]["open_issues_over_time"].([]any)
		require.True(t, ok, "JSON metric should round-trip as a structured value")
		assert.Len(t, series, 1)
	})

	t.Run("explicit run_id", func(t *testing.T) {
		resp, body := get(t, srv, "/repos/acme/widgets/metrics?run_id=10", testAPIKey)

		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out struct {
			Metrics map[string]map[string]any `json:"metrics"`
		}
		require.NoError(t, json.Unmarshal(body, &out))
		assert.Equal(t, float64(40), out.Metrics["commits"]["total_commits"])
	})

	t.Run("unknown repo yields 404", func(t *testing.T) {
		resp, _ := get(t, srv, "/repos/acme/nonexistent/metrics", testAPIKey)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("unknown run yields 404", func(t *testing.T) {
		resp, _ := get(t, srv, "/repos/acme/widgets/metrics?run_id=999", testAPIKey)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("repo without runs yields 404", func(t *testing.T) {
		resp, _ := get(t, srv, "/repos/acme/gadgets/metrics", testAPIKey)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("malformed run_id yields 400", func(t *testing.T) {
		resp, _ := get(t, srv, "/repos/acme/widgets/metrics?run_id=abc", testAPIKey)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestGetRepoMetricsHistory(t *testing.T) {
	srv := newTestServer(t, seededStore(), testAPIKey)

	t.Run("newest first with pagination", func(t *testing.T) {
		resp, body := get(t, srv, "/repos/acme/widgets/metrics/history?limit=1&offset=1", testAPIKey)

		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out struct {
			Runs []struct {
				Run struct{ ID int64 } `json:"run"`
			} `json:"runs"`
		}
		require.NoError(t, json.Unmarshal(body, &out))
		require.Len(t, out.Runs, 1)
		assert.Equal(t, int64(10), out.Runs[0].Run.ID)
	})

	t.Run("limit bounds", func(t *testing.T) {
		for _, q := range []string{"limit=0", "limit=201", "limit=abc", "offset=-1"} {
			resp, _ := get(t, srv, "/repos/acme/widgets/metrics/history?"+q, testAPIKey)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "query %q", q)
		}
	})
}

func TestGetOrgMetrics_SkipsReposWithoutRuns(t *testing.T) {
	srv := newTestServer(t, seededStore(), testAPIKey)

	resp, body := get(t, srv, "/orgs/acme/metrics", testAPIKey)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out []struct {
		Repo string `json:"repo"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out, 1)
	assert.Equal(t, "widgets", out[0].Repo)
}

func TestSummaries(t *testing.T) {
	srv := newTestServer(t, seededStore(), testAPIKey)

	t.Run("repo summary returns latest", func(t *testing.T) {
		resp, body := get(t, srv, "/repos/acme/widgets/summary", testAPIKey)

		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out struct {
			Repo        *string `json:"repo"`
			SummaryText string  `json:"summary_text"`
		}
		require.NoError(t, json.Unmarshal(body, &out))
		assert.Equal(t, "newer", out.SummaryText)
		require.NotNil(t, out.Repo)
		assert.Equal(t, "widgets", *out.Repo)
	})

	t.Run("repo summaries list", func(t *testing.T) {
		resp, body := get(t, srv, "/repos/acme/widgets/summaries", testAPIKey)

		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out []struct {
			SummaryText string `json:"summary_text"`
		}
		require.NoError(t, json.Unmarshal(body, &out))
		require.Len(t, out, 2)
		assert.Equal(t, "newer", out[0].SummaryText)
	})

	t.Run("org summary has no repo name", func(t *testing.T) {
		resp, body := get(t, srv, "/orgs/acme/summary", testAPIKey)

		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out struct {
			Repo        *string `json:"repo"`
			SummaryText string  `json:"summary_text"`
		}
		require.NoError(t, json.Unmarshal(body, &out))
		assert.Nil(t, out.Repo)
		assert.Equal(t, "org-wide", out.SummaryText)
	})

	t.Run("missing summary yields 404", func(t *testing.T) {
		resp, _ := get(t, srv, "/repos/acme/gadgets/summary", testAPIKey)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		resp, _ = get(t, srv, "/orgs/other/summary", testAPIKey)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}
