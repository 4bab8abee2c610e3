// internal/refresher/metrics.go
package refresher

import (
	"context"
	"log/slog"
	"time"

	"repo-health/internal/analyzer"
	"repo-health/internal/model"
	"repo-health/internal/store"
)

// recordRun applies the since cutoff to the snapshot, creates one run and
// attaches whichever metric scopes the non-empty subsets allow. A metric write
// failure aborts the run.
func (r *Refresher) recordRun(ctx context.Context, logger *slog.Logger, repo model.Repository, snap snapshot, sinceDate *time.Time, refreshed bool) error {
	recent := filterSince(snap, sinceDate)

	var timeRange *string
	if r.opts.TimeRange != "" {
		label := r.opts.TimeRange
		timeRange = &label
	}
	notes := "cache reuse"
	if refreshed {
		notes = "cache refresh"
	}
	source := r.opts.Source

	run, err := r.store.CreateRun(ctx, repo.ID, timeRange, sinceDate, &source, &notes)
	if err != nil {
		return err
	}
	logger = logger.With("run_id", run.ID)

	if len(recent.commits) > 0 {
		ca, err := analyzer.NewCommitAnalyzer(recent.commits, snap.commits)
		if err != nil {
			return err
		}
		if err := r.commitMetrics(ctx, run.ID, ca); err != nil {
			return err
		}
	}

	if len(recent.issues) > 0 || len(recent.prs) > 0 {
		ia, err := analyzer.NewIssuePRAnalyzer(recent.issues, recent.prs)
		if err != nil {
			return err
		}
		if err := r.issuePRMetrics(ctx, run.ID, ia); err != nil {
			return err
		}
	}

	if len(recent.releases) > 0 {
		ra, err := analyzer.NewReleaseAnalyzer(recent.releases)
		if err != nil {
			return err
		}
		if err := r.releaseMetrics(ctx, run.ID, ra); err != nil {
			return err
		}
	}

	if len(snap.branches) > 0 {
		ba, err := analyzer.NewBranchAnalyzer(snap.branches)
		if err != nil {
			return err
		}
		if err := r.branchMetrics(ctx, run.ID, ba); err != nil {
			return err
		}
	}

	logger.Info("Recorded metrics run", "notes", notes)
	return nil
}

// filterSince narrows the snapshot to records created at or after the cutoff.
// Branches carry no creation timestamp and are exempt.
func filterSince(snap snapshot, since *time.Time) snapshot {
	if since == nil {
		return snap
	}

	out := snapshot{branches: snap.branches}
	for _, c := range snap.commits {
		if !c.AuthoredDate.Before(*since) {
			out.commits = append(out.commits, c)
		}
	}
	for _, i := range snap.issues {
		if !i.CreatedAt.Before(*since) {
			out.issues = append(out.issues, i)
		}
	}
	for _, p := range snap.prs {
		if !p.CreatedAt.Before(*since) {
			out.prs = append(out.prs, p)
		}
	}
	for _, rel := range snap.releases {
		if !rel.CreatedAt.Before(*since) {
			out.releases = append(out.releases, rel)
		}
	}
	return out
}

func (r *Refresher) commitMetrics(ctx context.Context, runID int64, ca *analyzer.CommitAnalyzer) error {
	busFactor, err := ca.BusFactor(analyzer.ByCommits)
	if err != nil {
		return err
	}
	hhi, err := ca.HHI(analyzer.ByCommits)
	if err != nil {
		return err
	}
	newContributors, activeCore, err := ca.NewVsCore(analyzer.DefaultNewContributorDays, analyzer.ByCommits)
	if err != nil {
		return err
	}
	frequency, err := ca.Frequency(analyzer.PeriodWeek)
	if err != nil {
		return err
	}
	churn, err := ca.Churn(analyzer.PeriodWeek)
	if err != nil {
		return err
	}
	stalenessDays, lastCommit := ca.Staleness(time.Now().UTC())

	metrics := []struct {
		name  string
		value store.MetricValue
	}{
		{"total_commits", store.IntValue(int64(ca.TotalCommits()))},
		{"total_contributors", store.IntValue(int64(ca.TotalContributors()))},
		{"bus_factor", store.IntValue(int64(busFactor))},
		{"hhi", store.FloatValue(hhi)},
		{"new_contributors", store.IntValue(int64(newContributors))},
		{"active_core_contributors", store.IntValue(int64(activeCore))},
		{"staleness_days", store.IntValue(int64(stalenessDays))},
		{"last_commit_date", store.TextValue(lastCommit.Format(time.RFC3339))},
		{"commit_frequency_weekly", store.JSONValue(frequency)},
		{"code_churn_weekly", store.JSONValue(churn)},
	}
	for _, m := range metrics {
		if err := r.store.AddMetric(ctx, runID, "commits", m.name, m.value); err != nil {
			return err
		}
	}
	return nil
}

func (r *Refresher) issuePRMetrics(ctx context.Context, runID int64, ia *analyzer.IssuePRAnalyzer) error {
	now := time.Now().UTC()

	issueResponse, err := ia.TimeToFirstResponse(analyzer.KindIssue)
	if err != nil {
		return err
	}
	issueClose, err := ia.TimeToClose(analyzer.KindIssue)
	if err != nil {
		return err
	}
	prResponse, err := ia.TimeToFirstResponse(analyzer.KindPR)
	if err != nil {
		return err
	}
	prClose, err := ia.TimeToClose(analyzer.KindPR)
	if err != nil {
		return err
	}

	type scoped struct {
		scope string
		name  string
		value store.MetricValue
	}
	metrics := []scoped{
		{"issues", "median_time_to_first_response_hours", store.FloatValue(issueResponse.Hours())},
		{"issues", "issue_closure_ratio_90d", store.FloatValue(ia.IssueClosureRatio(now, 90))},
		{"issues", "median_time_to_close_days", store.FloatValue(issueClose.Hours() / 24)},
		{"issues", "backlog_size", store.IntValue(int64(ia.BacklogSize()))},
		{"issues", "good_first_issue_velocity_90d", store.IntValue(int64(ia.GoodFirstIssueVelocity(now, 90)))},
		{"prs", "median_time_to_first_response_hours", store.FloatValue(prResponse.Hours())},
		{"prs", "median_time_to_close_days", store.FloatValue(prClose.Hours() / 24)},
		{"prs", "median_pr_merge_time_days", store.FloatValue(ia.PRMergeTime().Hours() / 24)},
	}
	// An empty open-issue series would persist as JSON null, so only record
	// it when there is at least one data point.
	if series := ia.OpenIssuesOverTime(now); len(series) > 0 {
		metrics = append(metrics, scoped{"issues", "open_issues_over_time", store.JSONValue(series)})
	}
	for _, m := range metrics {
		if err := r.store.AddMetric(ctx, runID, m.scope, m.name, m.value); err != nil {
			return err
		}
	}
	return nil
}

func (r *Refresher) releaseMetrics(ctx context.Context, runID int64, ra *analyzer.ReleaseAnalyzer) error {
	byMonth, err := ra.ReleasesByPeriod(analyzer.PeriodMonth)
	if err != nil {
		return err
	}

	metrics := []struct {
		name  string
		value store.MetricValue
	}{
		{"total_downloads", store.IntValue(int64(ra.TotalDownloads()))},
		{"release_count", store.IntValue(int64(ra.ReleaseCount()))},
		{"releases_by_month", store.JSONValue(byMonth)},
	}
	for _, m := range metrics {
		if err := r.store.AddMetric(ctx, runID, "releases", m.name, m.value); err != nil {
			return err
		}
	}
	return nil
}

func (r *Refresher) branchMetrics(ctx context.Context, runID int64, ba *analyzer.BranchAnalyzer) error {
	stale, active := ba.StaleBranches(time.Now().UTC(), analyzer.DefaultStaleBranchDays)

	if err := r.store.AddMetric(ctx, runID, "branches", "stale_branches_90d", store.IntValue(int64(stale))); err != nil {
		return err
	}
	return r.store.AddMetric(ctx, runID, "branches", "active_branches", store.IntValue(int64(active)))
}
