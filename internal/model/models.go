// internal/model/models.go
package model

import (
	"encoding/json"
	"time"
)

// EntityType identifies one cached record family. Fetch freshness is tracked
// per (repository, entity type).
type EntityType string

const (
	EntityBranches EntityType = "branches"
	EntityCommits  EntityType = "commits"
	EntityIssues   EntityType = "issues"
	EntityPRs      EntityType = "prs"
	EntityReleases EntityType = "releases"
)

// EntityTypes lists all entity types in the order the refresher processes them.
var EntityTypes = []EntityType{EntityBranches, EntityCommits, EntityIssues, EntityPRs, EntityReleases}

// Issue/PR lifecycle states as reported by the GitHub GraphQL API.
const (
	StateOpen   = "OPEN"
	StateClosed = "CLOSED"
	StateMerged = "MERGED"
)

// Run source tags.
const (
	SourceScheduled   = "scheduled"
	SourceInteractive = "interactive"
)

// Repository is the root of all cached activity data, unique per (owner, name).
type Repository struct {
	ID            int64
	Owner         string
	Name          string
	DefaultBranch *string
	CreatedAt     time.Time
}

// Run is one immutable metrics-computation event for a repository.
type Run struct {
	ID        int64
	RepoID    int64
	StartedAt time.Time
	TimeRange *string
	SinceDate *time.Time
	Source    *string
	Notes     *string
}

// Metric is a (scope, name) -> value pair owned by a run. Exactly one of the
// value fields is set.
type Metric struct {
	ID         int64
	RunID      int64
	Scope      string
	Name       string
	ValueInt   *int64
	ValueFloat *float64
	ValueText  *string
	ValueJSON  []byte
}

// Value returns whichever of the four value columns is populated.
func (m Metric) Value() any {
	switch {
	case m.ValueInt != nil:
		return *m.ValueInt
	case m.ValueFloat != nil:
		return *m.ValueFloat
	case m.ValueText != nil:
		return *m.ValueText
	case m.ValueJSON != nil:
		return json.RawMessage(m.ValueJSON)
	}
	return nil
}

// FetchLog is the freshness marker for one (repository, entity type).
type FetchLog struct {
	ID         int64
	RepoID     int64
	EntityType EntityType
	FetchedAt  time.Time
}

// Commit is a cached commit record, unique per (repository, oid).
type Commit struct {
	RepoID       int64
	OID          string
	AuthoredDate time.Time
	AuthorLogin  *string
	Additions    int
	Deletions    int
	Message      string
}

// LinesChanged is the commit's total churn contribution.
func (c Commit) LinesChanged() int {
	return c.Additions + c.Deletions
}

// Branch is a cached branch record, unique per (repository, name).
type Branch struct {
	RepoID         int64
	Name           string
	LastCommitDate time.Time
	TotalCommits   int
}

// Issue is a cached issue record, unique per (repository, github id).
type Issue struct {
	RepoID                int64
	GithubID              string
	CreatedAt             time.Time
	ClosedAt              *time.Time
	State                 string
	AuthorLogin           *string
	FirstCommentCreatedAt *time.Time
	FirstCommentAuthor    *string
	Labels                []string
}

// PullRequest is a cached pull request record, unique per (repository, github id).
// PR states are a superset of issue states (MERGED in addition to OPEN/CLOSED).
type PullRequest struct {
	RepoID                int64
	GithubID              string
	CreatedAt             time.Time
	MergedAt              *time.Time
	ClosedAt              *time.Time
	State                 string
	AuthorLogin           *string
	FirstCommentCreatedAt *time.Time
	FirstCommentAuthor    *string
	Labels                []string
}

// Release is a cached release record, unique per (repository, tag name).
type Release struct {
	RepoID         int64
	TagName        string
	Name           string
	CreatedAt      time.Time
	TotalDownloads int
}

// Summary is a narrative text summary produced externally and stored opaquely.
// Repo-scoped summaries reference a repository; org-scoped ones only the owner.
type Summary struct {
	ID            int64
	RepoID        *int64
	Owner         string
	SummaryScope  string
	RunID         *int64
	CreatedAt     time.Time
	Model         *string
	PromptVersion *string
	SummaryText   string
	Metadata      []byte
}
