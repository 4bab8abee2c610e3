// internal/analyzer/branch.go
package analyzer

import (
	"time"

	"repo-health/internal/model"
)

// DefaultStaleBranchDays is the staleness threshold applied when callers have
// no override.
const DefaultStaleBranchDays = 90

// BranchAnalyzer reports branch staleness over a snapshot of branch records.
type BranchAnalyzer struct {
	branches []model.Branch
}

// NewBranchAnalyzer returns an analyzer over the given branches.
// It returns ErrEmptyInput when branches is empty.
func NewBranchAnalyzer(branches []model.Branch) (*BranchAnalyzer, error) {
	if len(branches) == 0 {
		return nil, ErrEmptyInput
	}
	return &BranchAnalyzer{branches: branches}, nil
}

// StaleBranches partitions all branches into stale and active counts. A branch
// is stale when strictly more than thresholdDays have passed since its last
// commit; a branch last touched exactly thresholdDays ago is still active.
func (a *BranchAnalyzer) StaleBranches(now time.Time, thresholdDays int) (stale, active int) {
	cutoff := now.Add(-time.Duration(thresholdDays) * 24 * time.Hour)
	for _, b := range a.branches {
		if b.LastCommitDate.Before(cutoff) {
			stale++
		} else {
			active++
		}
	}
	return stale, active
}
