// internal/analyzer/commit.go
package analyzer

import (
	"errors"
	"sort"
	"time"

	"repo-health/internal/model"
)

// ContributionMode selects how contributor activity is weighed.
type ContributionMode string

const (
	// ByCommits weighs each commit equally.
	ByCommits ContributionMode = "commits"
	// ByLines weighs commits by additions+deletions.
	ByLines ContributionMode = "lines"
)

// ErrInvalidContributionMode is returned for modes other than commits/lines.
var ErrInvalidContributionMode = errors.New("analyzer: contribution mode must be 'commits' or 'lines'")

// DefaultNewContributorDays is the trailing window used to classify a
// contributor as new.
const DefaultNewContributorDays = 90

// CommitAnalyzer computes contributor-concentration and activity metrics over
// a snapshot of commits. The optional full history is consulted only to decide
// whether a contributor's first-ever appearance falls inside the trailing
// window; all other metrics operate on the window subset.
type CommitAnalyzer struct {
	commits []model.Commit
	full    []model.Commit
}

// NewCommitAnalyzer returns an analyzer over commits. fullHistory may be nil,
// in which case commits serve as the full history. It returns ErrEmptyInput
// when commits is empty.
func NewCommitAnalyzer(commits, fullHistory []model.Commit) (*CommitAnalyzer, error) {
	if len(commits) == 0 {
		return nil, ErrEmptyInput
	}
	if fullHistory == nil {
		fullHistory = commits
	}
	return &CommitAnalyzer{commits: commits, full: fullHistory}, nil
}

// TotalCommits returns the number of commits in the snapshot.
func (a *CommitAnalyzer) TotalCommits() int {
	return len(a.commits)
}

// TotalContributors returns the number of distinct attributed authors.
// Unattributed commits (nil author login) carry no contributor identity and
// are excluded from all contributor metrics.
func (a *CommitAnalyzer) TotalContributors() int {
	seen := make(map[string]struct{})
	for _, c := range a.commits {
		if c.AuthorLogin != nil {
			seen[*c.AuthorLogin] = struct{}{}
		}
	}
	return len(seen)
}

// Frequency buckets commit counts by authored timestamp into the given
// calendar period (day, week or month).
func (a *CommitAnalyzer) Frequency(period Period) (TimeSeries, error) {
	if period != PeriodDay && period != PeriodWeek && period != PeriodMonth {
		return nil, ErrInvalidPeriod
	}
	buckets := make(map[time.Time]int)
	for _, c := range a.commits {
		buckets[bucketStart(c.AuthoredDate, period)]++
	}
	return seriesFromBuckets(buckets), nil
}

// Churn buckets summed additions+deletions by authored timestamp into the
// given calendar period (day, week or month).
func (a *CommitAnalyzer) Churn(period Period) (TimeSeries, error) {
	if period != PeriodDay && period != PeriodWeek && period != PeriodMonth {
		return nil, ErrInvalidPeriod
	}
	buckets := make(map[time.Time]int)
	for _, c := range a.commits {
		buckets[bucketStart(c.AuthoredDate, period)] += c.LinesChanged()
	}
	return seriesFromBuckets(buckets), nil
}

// Staleness returns the whole days elapsed between now and the most recent
// authored timestamp, plus that timestamp.
func (a *CommitAnalyzer) Staleness(now time.Time) (days int, lastCommit time.Time) {
	for _, c := range a.commits {
		if c.AuthoredDate.After(lastCommit) {
			lastCommit = c.AuthoredDate
		}
	}
	return int(now.Sub(lastCommit).Hours() / 24), lastCommit
}

// contribution is one contributor's aggregated activity.
type contribution struct {
	login string
	count int
}

// contributions aggregates activity per attributed author, ordered by
// descending contribution. The sort is stable so that contributors with equal
// totals keep their first-seen order.
func contributions(commits []model.Commit, mode ContributionMode) []contribution {
	totals := make(map[string]int)
	var order []string
	for _, c := range commits {
		if c.AuthorLogin == nil {
			continue
		}
		login := *c.AuthorLogin
		if _, ok := totals[login]; !ok {
			order = append(order, login)
		}
		switch mode {
		case ByLines:
			totals[login] += c.LinesChanged()
		default:
			totals[login]++
		}
	}

	ranked := make([]contribution, 0, len(order))
	for _, login := range order {
		ranked = append(ranked, contribution{login: login, count: totals[login]})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].count > ranked[j].count })
	return ranked
}

// coreContributors returns the ranked set of top contributors whose cumulative
// contribution stays at or below half of the total. This is the bus-factor
// prefix without the final contributor that tips past 50%.
func coreContributors(ranked []contribution) []contribution {
	var total int
	for _, c := range ranked {
		total += c.count
	}
	half := float64(total) * 0.5

	var core []contribution
	var cumulative int
	for _, c := range ranked {
		cumulative += c.count
		if float64(cumulative) > half {
			break
		}
		core = append(core, c)
	}
	return core
}

// BusFactor returns the smallest number of top contributors whose combined
// share of activity exceeds half of the total. It is always at least 1.
func (a *CommitAnalyzer) BusFactor(mode ContributionMode) (int, error) {
	if mode != ByCommits && mode != ByLines {
		return 0, ErrInvalidContributionMode
	}
	ranked := contributions(a.commits, mode)
	return len(coreContributors(ranked)) + 1, nil
}

// HHI returns the Herfindahl-Hirschman Index of contributor concentration:
// the sum over contributors of squared percentage shares, in [0, 10000].
// Higher values mean more concentrated (less diverse) activity.
func (a *CommitAnalyzer) HHI(mode ContributionMode) (float64, error) {
	if mode != ByCommits && mode != ByLines {
		return 0, ErrInvalidContributionMode
	}
	ranked := contributions(a.commits, mode)

	var total int
	for _, c := range ranked {
		total += c.count
	}
	if total == 0 {
		return 0, nil
	}

	var hhi float64
	for _, c := range ranked {
		share := float64(c.count) / float64(total) * 100
		hhi += share * share
	}
	return hhi, nil
}

// NewVsCore counts new and core contributors. Core contributors are the
// cumulative-50% bus-factor set over the snapshot. New contributors are
// authors active inside the trailing periodDays window (measured back from the
// snapshot's latest commit) whose first-ever appearance across the full
// history also falls inside that window.
func (a *CommitAnalyzer) NewVsCore(periodDays int, mode ContributionMode) (newCount, coreCount int, err error) {
	if mode != ByCommits && mode != ByLines {
		return 0, 0, ErrInvalidContributionMode
	}

	core := coreContributors(contributions(a.commits, mode))

	var latest time.Time
	for _, c := range a.commits {
		if c.AuthoredDate.After(latest) {
			latest = c.AuthoredDate
		}
	}
	cutoff := latest.Add(-time.Duration(periodDays) * 24 * time.Hour)

	firstSeen := make(map[string]time.Time)
	for _, c := range a.full {
		if c.AuthorLogin == nil {
			continue
		}
		login := *c.AuthorLogin
		if first, ok := firstSeen[login]; !ok || c.AuthoredDate.Before(first) {
			firstSeen[login] = c.AuthoredDate
		}
	}

	newcomers := make(map[string]struct{})
	for _, c := range a.commits {
		if c.AuthorLogin == nil || c.AuthoredDate.Before(cutoff) {
			continue
		}
		login := *c.AuthorLogin
		if first, ok := firstSeen[login]; ok && !first.Before(cutoff) {
			newcomers[login] = struct{}{}
		}
	}

	return len(newcomers), len(core), nil
}
