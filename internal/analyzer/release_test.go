// internal/analyzer/release_test.go
package analyzer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repo-health/internal/model"
)

func TestNewReleaseAnalyzer_EmptyInput(t *testing.T) {
	_, err := NewReleaseAnalyzer(nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestReleaseAnalyzer_TotalDownloads(t *testing.T) {
	a, err := NewReleaseAnalyzer([]model.Release{
		{TagName: "v1.0.0", TotalDownloads: 120},
		{TagName: "v1.1.0", TotalDownloads: 30},
		{TagName: "v2.0.0", TotalDownloads: 0},
	})
	require.NoError(t, err)

	assert.Equal(t, 150, a.TotalDownloads())
	assert.Equal(t, 3, a.ReleaseCount())
}

func TestReleaseAnalyzer_ReleasesByPeriod(t *testing.T) {
	a, err := NewReleaseAnalyzer([]model.Release{
		{TagName: "v1.0.0", CreatedAt: time.Date(2023, 11, 3, 10, 0, 0, 0, time.UTC)},
		{TagName: "v1.1.0", CreatedAt: time.Date(2023, 11, 20, 10, 0, 0, 0, time.UTC)},
		{TagName: "v2.0.0", CreatedAt: time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)},
	})
	require.NoError(t, err)

	t.Run("by month", func(t *testing.T) {
		series, err := a.ReleasesByPeriod(PeriodMonth)
		require.NoError(t, err)
		require.Len(t, series, 2)
		assert.Equal(t, time.Date(2023, 11, 1, 0, 0, 0, 0, time.UTC), series[0].Date)
		assert.Equal(t, 2, series[0].Value)
		assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), series[1].Date)
		assert.Equal(t, 1, series[1].Value)
	})

	t.Run("by year", func(t *testing.T) {
		series, err := a.ReleasesByPeriod(PeriodYear)
		require.NoError(t, err)
		require.Len(t, series, 2)
		assert.Equal(t, 2, series[0].Value)
		assert.Equal(t, 1, series[1].Value)
	})

	t.Run("rejects unknown periods", func(t *testing.T) {
		_, err := a.ReleasesByPeriod("quarter")
		assert.ErrorIs(t, err, ErrInvalidPeriod)
	})
}
