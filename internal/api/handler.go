// internal/api/handler.go
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"repo-health/internal/model"
	"repo-health/internal/store"
)

// Handler is the container for API dependencies.
type Handler struct {
	store  store.Store
	apiKey string
	logger *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
// Everything except /health requires the shared bearer token.
func NewRouter(st store.Store, apiKey string, logger *slog.Logger) http.Handler {
	h := &Handler{
		store:  st,
		apiKey: apiKey,
		logger: logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", h.healthCheck)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAPIKey)

		r.Get("/repos", h.listRepos)
		r.Route("/repos/{owner}/{repo}", func(r chi.Router) {
			r.Get("/metrics", h.getRepoMetrics)
			r.Get("/metrics/history", h.getRepoMetricsHistory)
			r.Get("/summary", h.getRepoSummary)
			r.Get("/summaries", h.listRepoSummaries)
		})
		r.Route("/orgs/{owner}", func(r chi.Router) {
			r.Get("/metrics", h.getOrgMetrics)
			r.Get("/summary", h.getOrgSummary)
			r.Get("/summaries", h.listOrgSummaries)
		})
	})

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listRepos handles the request to list tracked repositories.
// GET /repos?owner=
func (h *Handler) listRepos(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")

	repos, err := h.store.ListRepos(r.Context(), owner)
	if err != nil {
		h.logger.Error("Failed to list repositories", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	out := make([]repoOut, 0, len(repos))
	for _, repo := range repos {
		out = append(out, newRepoOut(repo))
	}
	respondWithJSON(w, http.StatusOK, out)
}

// getRepoMetrics returns the latest (or requested) run's metrics grouped by scope.
// GET /repos/{owner}/{repo}/metrics?run_id=N
func (h *Handler) getRepoMetrics(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	name := chi.URLParam(r, "repo")

	repo, ok := h.lookupRepo(w, r, owner, name)
	if !ok {
		return
	}

	var run model.Run
	var err error
	if runIDStr := r.URL.Query().Get("run_id"); runIDStr != "" {
		runID, parseErr := strconv.ParseInt(runIDStr, 10, 64)
		if parseErr != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid 'run_id' parameter. Must be an integer.")
			return
		}
		run, err = h.store.GetRun(r.Context(), repo.ID, runID)
	} else {
		run, err = h.store.LatestRun(r.Context(), repo.ID)
	}
	if errors.Is(err, store.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, "Run not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to get run", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	metrics, err := h.store.MetricsForRun(r.Context(), run.ID)
	if err != nil {
		h.logger.Error("Failed to get metrics", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, newMetricsOut(repo, run, metrics))
}

// getRepoMetricsHistory returns metrics across runs, newest first.
// GET /repos/{owner}/{repo}/metrics/history?limit=N&offset=M
func (h *Handler) getRepoMetricsHistory(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	name := chi.URLParam(r, "repo")

	limit, offset, ok := paginationParams(w, r)
	if !ok {
		return
	}

	repo, ok := h.lookupRepo(w, r, owner, name)
	if !ok {
		return
	}

	runs, err := h.store.ListRuns(r.Context(), repo.ID, limit, offset)
	if err != nil {
		h.logger.Error("Failed to list runs", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	results := make([]metricsOut, 0, len(runs))
	for _, run := range runs {
		metrics, err := h.store.MetricsForRun(r.Context(), run.ID)
		if err != nil {
			h.logger.Error("Failed to get metrics", "run_id", run.ID, "error", err)
			respondWithError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		results = append(results, newMetricsOut(repo, run, metrics))
	}

	respondWithJSON(w, http.StatusOK, metricsHistoryOut{
		Owner: repo.Owner,
		Repo:  repo.Name,
		Runs:  results,
	})
}

// getOrgMetrics returns the latest-run metrics for every repository under an
// owner. Repositories without runs are skipped.
// GET /orgs/{owner}/metrics
func (h *Handler) getOrgMetrics(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")

	repos, err := h.store.ListRepos(r.Context(), owner)
	if err != nil {
		h.logger.Error("Failed to list repositories", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	results := make([]metricsOut, 0, len(repos))
	for _, repo := range repos {
		run, err := h.store.LatestRun(r.Context(), repo.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			h.logger.Error("Failed to get latest run", "repo_id", repo.ID, "error", err)
			respondWithError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		metrics, err := h.store.MetricsForRun(r.Context(), run.ID)
		if err != nil {
			h.logger.Error("Failed to get metrics", "run_id", run.ID, "error", err)
			respondWithError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		results = append(results, newMetricsOut(repo, run, metrics))
	}

	respondWithJSON(w, http.StatusOK, results)
}

// getRepoSummary returns the latest repo-scoped summary.
// GET /repos/{owner}/{repo}/summary
func (h *Handler) getRepoSummary(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	name := chi.URLParam(r, "repo")

	repo, ok := h.lookupRepo(w, r, owner, name)
	if !ok {
		return
	}

	summary, err := h.store.LatestSummary(r.Context(), owner, &repo.ID, "repo")
	if errors.Is(err, store.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, "Summary not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to get summary", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, newSummaryOut(summary, &repo.Name))
}

// listRepoSummaries returns repo-scoped summaries, newest first.
// GET /repos/{owner}/{repo}/summaries?limit=N&offset=M
func (h *Handler) listRepoSummaries(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	name := chi.URLParam(r, "repo")

	limit, offset, ok := paginationParams(w, r)
	if !ok {
		return
	}

	repo, ok := h.lookupRepo(w, r, owner, name)
	if !ok {
		return
	}

	summaries, err := h.store.ListSummaries(r.Context(), owner, &repo.ID, "repo", limit, offset)
	if err != nil {
		h.logger.Error("Failed to list summaries", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	out := make([]summaryOut, 0, len(summaries))
	for _, summary := range summaries {
		out = append(out, newSummaryOut(summary, &repo.Name))
	}
	respondWithJSON(w, http.StatusOK, out)
}

// getOrgSummary returns the latest org-scoped summary for an owner.
// GET /orgs/{owner}/summary
func (h *Handler) getOrgSummary(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")

	summary, err := h.store.LatestSummary(r.Context(), owner, nil, "org")
	if errors.Is(err, store.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, "Summary not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to get summary", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, newSummaryOut(summary, nil))
}

// listOrgSummaries returns org-scoped summaries, newest first.
// GET /orgs/{owner}/summaries?limit=N&offset=M
func (h *Handler) listOrgSummaries(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")

	limit, offset, ok := paginationParams(w, r)
	if !ok {
		return
	}

	summaries, err := h.store.ListSummaries(r.Context(), owner, nil, "org", limit, offset)
	if err != nil {
		h.logger.Error("Failed to list summaries", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	out := make([]summaryOut, 0, len(summaries))
	for _, summary := range summaries {
		out = append(out, newSummaryOut(summary, nil))
	}
	respondWithJSON(w, http.StatusOK, out)
}

// lookupRepo resolves {owner}/{repo} or writes the error response itself.
func (h *Handler) lookupRepo(w http.ResponseWriter, r *http.Request, owner, name string) (model.Repository, bool) {
	repo, err := h.store.GetRepo(r.Context(), owner, name)
	if errors.Is(err, store.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, "Repository not found")
		return model.Repository{}, false
	}
	if err != nil {
		h.logger.Error("Failed to get repository", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return model.Repository{}, false
	}
	return repo, true
}

// paginationParams parses limit (1..200, default 20) and offset (>= 0,
// default 0), or writes a 400 response itself.
func paginationParams(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	limit = 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 || parsed > 200 {
			respondWithError(w, http.StatusBadRequest, "Invalid 'limit' parameter. Must be an integer between 1 and 200.")
			return 0, 0, false
		}
		limit = parsed
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		parsed, err := strconv.Atoi(offsetStr)
		if err != nil || parsed < 0 {
			respondWithError(w, http.StatusBadRequest, "Invalid 'offset' parameter. Must be a non-negative integer.")
			return 0, 0, false
		}
		offset = parsed
	}
	return limit, offset, true
}

// metricsByScope groups run metrics into scope -> name -> value.
func metricsByScope(metrics []model.Metric) map[string]map[string]any {
	scoped := make(map[string]map[string]any)
	for _, m := range metrics {
		if scoped[m.Scope] == nil {
			scoped[m.Scope] = make(map[string]any)
		}
		scoped[m.Scope][m.Name] = m.Value()
	}
	return scoped
}

type repoOut struct {
	Owner         string  `json:"owner"`
	Name          string  `json:"name"`
	DefaultBranch *string `json:"default_branch"`
}

func newRepoOut(repo model.Repository) repoOut {
	return repoOut{Owner: repo.Owner, Name: repo.Name, DefaultBranch: repo.DefaultBranch}
}

type runOut struct {
	ID        int64      `json:"id"`
	StartedAt time.Time  `json:"run_started_at"`
	TimeRange *string    `json:"time_range"`
	SinceDate *time.Time `json:"since_date"`
}

type metricsOut struct {
	Owner   string                    `json:"owner"`
	Repo    string                    `json:"repo"`
	Run     runOut                    `json:"run"`
	Metrics map[string]map[string]any `json:"metrics"`
}

func newMetricsOut(repo model.Repository, run model.Run, metrics []model.Metric) metricsOut {
	return metricsOut{
		Owner: repo.Owner,
		Repo:  repo.Name,
		Run: runOut{
			ID:        run.ID,
			StartedAt: run.StartedAt,
			TimeRange: run.TimeRange,
			SinceDate: run.SinceDate,
		},
		Metrics: metricsByScope(metrics),
	}
}

type metricsHistoryOut struct {
	Owner string       `json:"owner"`
	Repo  string       `json:"repo"`
	Runs  []metricsOut `json:"runs"`
}

type summaryOut struct {
	ID            int64           `json:"id"`
	Owner         string          `json:"owner"`
	Repo          *string         `json:"repo"`
	SummaryScope  string          `json:"summary_scope"`
	RunID         *int64          `json:"run_id"`
	CreatedAt     time.Time       `json:"created_at"`
	Model         *string         `json:"model"`
	PromptVersion *string         `json:"prompt_version"`
	SummaryText   string          `json:"summary_text"`
	Metadata      json.RawMessage `json:"metadata_json"`
}

func newSummaryOut(summary model.Summary, repoName *string) summaryOut {
	return summaryOut{
		ID:            summary.ID,
		Owner:         summary.Owner,
		Repo:          repoName,
		SummaryScope:  summary.SummaryScope,
		RunID:         summary.RunID,
		CreatedAt:     summary.CreatedAt,
		Model:         summary.Model,
		PromptVersion: summary.PromptVersion,
		SummaryText:   summary.SummaryText,
		Metadata:      summary.Metadata,
	}
}
