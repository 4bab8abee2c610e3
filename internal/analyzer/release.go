// internal/analyzer/release.go
package analyzer

import (
	"time"

	"repo-health/internal/model"
)

// ReleaseAnalyzer computes download totals and release cadence over a snapshot
// of release records.
type ReleaseAnalyzer struct {
	releases []model.Release
}

// NewReleaseAnalyzer returns an analyzer over releases.
// It returns ErrEmptyInput when releases is empty.
func NewReleaseAnalyzer(releases []model.Release) (*ReleaseAnalyzer, error) {
	if len(releases) == 0 {
		return nil, ErrEmptyInput
	}
	return &ReleaseAnalyzer{releases: releases}, nil
}

// ReleaseCount returns the number of releases in the snapshot.
func (a *ReleaseAnalyzer) ReleaseCount() int {
	return len(a.releases)
}

// TotalDownloads sums the per-release download totals, themselves aggregated
// across each release's assets at fetch time.
func (a *ReleaseAnalyzer) TotalDownloads() int {
	var total int
	for _, r := range a.releases {
		total += r.TotalDownloads
	}
	return total
}

// ReleasesByPeriod buckets release counts by creation timestamp into the given
// calendar period (day, week, month or year).
func (a *ReleaseAnalyzer) ReleasesByPeriod(period Period) (TimeSeries, error) {
	switch period {
	case PeriodDay, PeriodWeek, PeriodMonth, PeriodYear:
	default:
		return nil, ErrInvalidPeriod
	}
	buckets := make(map[time.Time]int)
	for _, r := range a.releases {
		buckets[bucketStart(r.CreatedAt, period)]++
	}
	return seriesFromBuckets(buckets), nil
}
