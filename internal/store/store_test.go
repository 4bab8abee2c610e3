// internal/store/store_test.go
package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repo-health/internal/model"
)

func TestIsFresh(t *testing.T) {
	fetchedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	maxAge := 7 * 24 * time.Hour

	t.Run("inside window", func(t *testing.T) {
		assert.True(t, isFresh(fetchedAt, fetchedAt.Add(maxAge-time.Second), maxAge))
	})

	t.Run("exactly at boundary", func(t *testing.T) {
		assert.True(t, isFresh(fetchedAt, fetchedAt.Add(maxAge), maxAge))
	})

	t.Run("just past boundary", func(t *testing.T) {
		assert.False(t, isFresh(fetchedAt, fetchedAt.Add(maxAge+time.Second), maxAge))
	})
}

func TestDedupe(t *testing.T) {
	day := func(d int) time.Time {
		return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
	}

	t.Run("last write wins at first-seen position", func(t *testing.T) {
		commits := []model.Commit{
			{OID: "aaa", AuthoredDate: day(1), Message: "first"},
			{OID: "bbb", AuthoredDate: day(2), Message: "second"},
			{OID: "aaa", AuthoredDate: day(3), Message: "revised"},
		}

		deduped := dedupe(commits, func(c model.Commit) string { return c.OID })

		require.Len(t, deduped, 2)
		assert.Equal(t, "aaa", deduped[0].OID)
		assert.Equal(t, "revised", deduped[0].Message)
		assert.Equal(t, day(3), deduped[0].AuthoredDate)
		assert.Equal(t, "bbb", deduped[1].OID)
	})

	t.Run("no duplicates passes through", func(t *testing.T) {
		branches := []model.Branch{
			{Name: "main", LastCommitDate: day(1)},
			{Name: "dev", LastCommitDate: day(2)},
		}

		deduped := dedupe(branches, func(b model.Branch) string { return b.Name })

		assert.Equal(t, branches, deduped)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, dedupe(nil, func(r model.Release) string { return r.TagName }))
	})
}
