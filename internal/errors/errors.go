// internal/errors/errors.go
package errors

import "fmt"

// ErrInvalidRepoFormat is returned when a repository string in the config is not in 'owner/name' format.
type ErrInvalidRepoFormat struct {
	Repo string
}

func (e *ErrInvalidRepoFormat) Error() string {
	return fmt.Sprintf("invalid repository format: %q, expected 'owner/name'", e.Repo)
}

// ErrInvalidTimeRange is returned when a time-range label is not one of the
// supported values.
type ErrInvalidTimeRange struct {
	TimeRange string
}

func (e *ErrInvalidTimeRange) Error() string {
	return fmt.Sprintf("invalid time range: %q, expected one of '6 months', '1 year', '2 years', '3 years', 'all'", e.TimeRange)
}
