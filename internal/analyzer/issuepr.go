// internal/analyzer/issuepr.go
package analyzer

import (
	"errors"
	"strings"
	"time"

	"repo-health/internal/model"
)

// ItemKind selects issues or pull requests for shared issue/PR metrics.
type ItemKind string

const (
	KindIssue ItemKind = "issue"
	KindPR    ItemKind = "pr"
)

// ErrInvalidItemKind is returned for kinds other than issue/pr.
var ErrInvalidItemKind = errors.New("analyzer: item kind must be 'issue' or 'pr'")

// goodFirstIssueLabel is matched case-insensitively against literal label text.
const goodFirstIssueLabel = "good first issue"

// IssuePRAnalyzer computes response, resolution and backlog metrics over
// snapshots of issues and pull requests. Either slice may be empty on its own;
// both empty is a precondition violation.
type IssuePRAnalyzer struct {
	issues []model.Issue
	prs    []model.PullRequest
}

// NewIssuePRAnalyzer returns an analyzer over issues and pull requests.
// It returns ErrEmptyInput when both slices are empty.
func NewIssuePRAnalyzer(issues []model.Issue, prs []model.PullRequest) (*IssuePRAnalyzer, error) {
	if len(issues) == 0 && len(prs) == 0 {
		return nil, ErrEmptyInput
	}
	return &IssuePRAnalyzer{issues: issues, prs: prs}, nil
}

// responseItem is the common shape shared by issues and PRs for latency math.
type responseItem struct {
	createdAt             time.Time
	closedAt              *time.Time
	mergedAt              *time.Time
	state                 string
	authorLogin           *string
	firstCommentCreatedAt *time.Time
	firstCommentAuthor    *string
}

func (a *IssuePRAnalyzer) items(kind ItemKind) ([]responseItem, error) {
	switch kind {
	case KindIssue:
		items := make([]responseItem, 0, len(a.issues))
		for _, it := range a.issues {
			items = append(items, responseItem{
				createdAt:             it.CreatedAt,
				closedAt:              it.ClosedAt,
				state:                 it.State,
				authorLogin:           it.AuthorLogin,
				firstCommentCreatedAt: it.FirstCommentCreatedAt,
				firstCommentAuthor:    it.FirstCommentAuthor,
			})
		}
		return items, nil
	case KindPR:
		items := make([]responseItem, 0, len(a.prs))
		for _, it := range a.prs {
			items = append(items, responseItem{
				createdAt:             it.CreatedAt,
				closedAt:              it.ClosedAt,
				mergedAt:              it.MergedAt,
				state:                 it.State,
				authorLogin:           it.AuthorLogin,
				firstCommentCreatedAt: it.FirstCommentCreatedAt,
				firstCommentAuthor:    it.FirstCommentAuthor,
			})
		}
		return items, nil
	}
	return nil, ErrInvalidItemKind
}

// sameLogin reports whether both logins are present and equal. A missing
// login on either side counts as a different author.
func sameLogin(a, b *string) bool {
	return a != nil && b != nil && *a == *b
}

// TimeToFirstResponse returns the median latency between item creation and its
// first comment by a different author. Items without such a comment are
// excluded, not treated as zero. When no items qualify the zero duration is
// returned as a "no data" sentinel.
func (a *IssuePRAnalyzer) TimeToFirstResponse(kind ItemKind) (time.Duration, error) {
	items, err := a.items(kind)
	if err != nil {
		return 0, err
	}

	var latencies []time.Duration
	for _, it := range items {
		if it.firstCommentCreatedAt == nil || sameLogin(it.firstCommentAuthor, it.authorLogin) {
			continue
		}
		latencies = append(latencies, it.firstCommentCreatedAt.Sub(it.createdAt))
	}
	return medianDuration(latencies), nil
}

// IssueClosureRatio returns closed-in-window / opened-in-window over the
// trailing periodDays window ending at now, and 0 when nothing was opened.
func (a *IssuePRAnalyzer) IssueClosureRatio(now time.Time, periodDays int) float64 {
	start := now.Add(-time.Duration(periodDays) * 24 * time.Hour)

	var opened, closed int
	for _, it := range a.issues {
		if !it.CreatedAt.Before(start) && !it.CreatedAt.After(now) {
			opened++
		}
		if it.ClosedAt != nil && !it.ClosedAt.Before(start) && !it.ClosedAt.After(now) {
			closed++
		}
	}
	if opened == 0 {
		return 0.0
	}
	return float64(closed) / float64(opened)
}

// TimeToClose returns the median time from creation to close over closed
// issues or closed/merged PRs, and the zero-duration sentinel when none
// qualify.
func (a *IssuePRAnalyzer) TimeToClose(kind ItemKind) (time.Duration, error) {
	items, err := a.items(kind)
	if err != nil {
		return 0, err
	}

	var durations []time.Duration
	for _, it := range items {
		switch kind {
		case KindIssue:
			if it.state != model.StateClosed {
				continue
			}
		case KindPR:
			if it.state != model.StateMerged && it.state != model.StateClosed {
				continue
			}
		}
		if it.closedAt == nil {
			continue
		}
		durations = append(durations, it.closedAt.Sub(it.createdAt))
	}
	return medianDuration(durations), nil
}

// PRMergeTime returns the median time from PR creation to merge over merged
// PRs, and the zero-duration sentinel when none were merged.
func (a *IssuePRAnalyzer) PRMergeTime() time.Duration {
	var durations []time.Duration
	for _, pr := range a.prs {
		if pr.State != model.StateMerged || pr.MergedAt == nil {
			continue
		}
		durations = append(durations, pr.MergedAt.Sub(pr.CreatedAt))
	}
	return medianDuration(durations)
}

// BacklogSize returns the number of currently open issues.
func (a *IssuePRAnalyzer) BacklogSize() int {
	var open int
	for _, it := range a.issues {
		if it.State == model.StateOpen {
			open++
		}
	}
	return open
}

// GoodFirstIssueVelocity counts issues labeled "good first issue"
// (case-insensitively) closed within the trailing periodDays window ending at
// now. An issue with multiple qualifying labels is counted once.
func (a *IssuePRAnalyzer) GoodFirstIssueVelocity(now time.Time, periodDays int) int {
	start := now.Add(-time.Duration(periodDays) * 24 * time.Hour)

	var count int
	for _, it := range a.issues {
		if it.State != model.StateClosed || it.ClosedAt == nil {
			continue
		}
		if it.ClosedAt.Before(start) || it.ClosedAt.After(now) {
			continue
		}
		for _, label := range it.Labels {
			if strings.EqualFold(label, goodFirstIssueLabel) {
				count++
				break
			}
		}
	}
	return count
}

// OpenIssuesOverTime builds a daily series from the earliest issue creation
// date to now. Each day's value counts issues created on or before that day's
// midnight and not yet closed by it. Implemented as a sweep over open/close
// events rather than a per-day scan; the output is identical.
func (a *IssuePRAnalyzer) OpenIssuesOverTime(now time.Time) TimeSeries {
	if len(a.issues) == 0 {
		return nil
	}

	earliest := a.issues[0].CreatedAt
	for _, it := range a.issues[1:] {
		if it.CreatedAt.Before(earliest) {
			earliest = it.CreatedAt
		}
	}
	first := truncateToDay(earliest)
	last := truncateToDay(now)

	// delta[d] is the net change of open issues taking effect at midnight d.
	delta := make(map[time.Time]int)
	for _, it := range a.issues {
		delta[ceilToDay(it.CreatedAt)]++
		if it.ClosedAt != nil {
			delta[ceilToDay(*it.ClosedAt)]--
		}
	}

	series := make(TimeSeries, 0, int(last.Sub(first).Hours()/24)+1)
	var open int
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		open += delta[day]
		series = append(series, SeriesPoint{Date: day, Value: open})
	}
	return series
}
