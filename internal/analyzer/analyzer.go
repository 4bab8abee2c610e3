// internal/analyzer/analyzer.go

// Package analyzer computes repository-health metrics from in-memory snapshots
// of cached activity records. Analyzers are pure: they are constructed from an
// immutable record set, mutate no external state and are safe to discard after
// use. Constructing an analyzer from an empty record set is a precondition
// violation; callers must check emptiness first and skip that scope.
package analyzer

import (
	"errors"
	"sort"
	"time"
)

// ErrEmptyInput is returned by analyzer constructors given no records.
var ErrEmptyInput = errors.New("analyzer: empty input set")

// Period selects the calendar bucket size for time-series aggregations.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

// ErrInvalidPeriod is returned when a period is not supported by the operation.
var ErrInvalidPeriod = errors.New("analyzer: invalid period")

// SeriesPoint is one bucket of a time series. Buckets with no activity are
// absent from a series, not zero-filled.
type SeriesPoint struct {
	Date  time.Time `json:"date"`
	Value int       `json:"value"`
}

// TimeSeries is an ascending sequence of sparse calendar buckets.
type TimeSeries []SeriesPoint

// bucketStart maps a timestamp to the start of its calendar bucket in UTC.
// Weeks are ISO weeks starting Monday.
func bucketStart(t time.Time, period Period) time.Time {
	t = t.UTC()
	switch period {
	case PeriodDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case PeriodWeek:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
		return day.AddDate(0, 0, -offset)
	case PeriodMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case PeriodYear:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	return t
}

// seriesFromBuckets flattens a bucket map into an ascending TimeSeries.
func seriesFromBuckets(buckets map[time.Time]int) TimeSeries {
	series := make(TimeSeries, 0, len(buckets))
	for date, value := range buckets {
		series = append(series, SeriesPoint{Date: date, Value: value})
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Date.Before(series[j].Date) })
	return series
}

// medianDuration returns the median of ds, averaging the middle pair for even
// lengths. The zero duration for an empty slice is the caller's "no data"
// sentinel, not a latency claim.
func medianDuration(ds []time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(ds))
	copy(sorted, ds)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// truncateToDay normalizes a timestamp to UTC midnight.
func truncateToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ceilToDay returns the first UTC midnight at or after t.
func ceilToDay(t time.Time) time.Time {
	day := truncateToDay(t)
	if day.Equal(t.UTC()) {
		return day
	}
	return day.AddDate(0, 0, 1)
}
