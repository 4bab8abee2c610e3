// internal/github/fetch.go
package github

import (
	"context"
	"time"

	"repo-health/internal/model"
)

// pageInfo is the GraphQL cursor protocol shared by every paginated field.
type pageInfo struct {
	EndCursor   *string `json:"endCursor"`
	HasNextPage bool    `json:"hasNextPage"`
}

type actor struct {
	Login string `json:"login"`
}

type commentNode struct {
	CreatedAt time.Time `json:"createdAt"`
	Author    *actor    `json:"author"`
}

type labelNode struct {
	Name string `json:"name"`
}

// firstResponse picks the first comment by somebody other than the item's
// author. Self-comments and system comments by the author do not count as a
// response.
func firstResponse(comments []commentNode, authorLogin *string) (*time.Time, *string) {
	for _, comment := range comments {
		var commentLogin *string
		if comment.Author != nil {
			commentLogin = &comment.Author.Login
		}
		if authorLogin != nil && commentLogin != nil && *authorLogin == *commentLogin {
			continue
		}
		createdAt := comment.CreatedAt
		return &createdAt, commentLogin
	}
	return nil, nil
}

func labelNames(labels []labelNode) []string {
	if len(labels) == 0 {
		return nil
	}
	names := make([]string, 0, len(labels))
	for _, label := range labels {
		names = append(names, label.Name)
	}
	return names
}

// FetchBranches fetches all branch refs for a repository. A malformed page
// response truncates the result to the records collected so far.
func (c *Client) FetchBranches(ctx context.Context, owner, name string) ([]model.Branch, error) {
	type branchNode struct {
		Name   string `json:"name"`
		Target *struct {
			History *struct {
				TotalCount int `json:"totalCount"`
			} `json:"history"`
			AuthoredDate *time.Time `json:"authoredDate"`
		} `json:"target"`
	}
	type page struct {
		Repository *struct {
			Refs *struct {
				Nodes    []branchNode `json:"nodes"`
				PageInfo pageInfo     `json:"pageInfo"`
			} `json:"refs"`
		} `json:"repository"`
	}

	variables := map[string]any{"owner": owner, "repo": name, "first": pageSize}

	var branches []model.Branch
	var cursor *string
	for {
		variables["after"] = cursor

		var data page
		ok, err := c.doGraphQL(ctx, branchesQuery, variables, &data)
		if err != nil {
			return nil, err
		}
		if !ok || data.Repository == nil || data.Repository.Refs == nil {
			c.logger.Warn("Branch fetch truncated", "owner", owner, "repo", name, "collected", len(branches))
			break
		}

		for _, node := range data.Repository.Refs.Nodes {
			branch := model.Branch{Name: node.Name}
			if node.Target != nil {
				if node.Target.History != nil {
					branch.TotalCommits = node.Target.History.TotalCount
				}
				if node.Target.AuthoredDate != nil {
					branch.LastCommitDate = *node.Target.AuthoredDate
				}
			}
			branches = append(branches, branch)
		}

		if !data.Repository.Refs.PageInfo.HasNextPage {
			break
		}
		cursor = data.Repository.Refs.PageInfo.EndCursor
	}

	c.logger.Debug("Fetched branches", "owner", owner, "repo", name, "count", len(branches))
	return branches, nil
}

// FetchCommits fetches the commit history of a branch, optionally limited to
// commits authored at or after since.
func (c *Client) FetchCommits(ctx context.Context, owner, name, branch string, since *time.Time) ([]model.Commit, error) {
	type commitNode struct {
		OID             string    `json:"oid"`
		AuthoredDate    time.Time `json:"authoredDate"`
		MessageHeadline string    `json:"messageHeadline"`
		Additions       int       `json:"additions"`
		Deletions       int       `json:"deletions"`
		Author          *struct {
			Name string `json:"name"`
			User *actor `json:"user"`
		} `json:"author"`
	}
	type page struct {
		Repository *struct {
			Ref *struct {
				Target *struct {
					History *struct {
						Nodes    []commitNode `json:"nodes"`
						PageInfo pageInfo     `json:"pageInfo"`
					} `json:"history"`
				} `json:"target"`
			} `json:"ref"`
		} `json:"repository"`
	}

	variables := map[string]any{"owner": owner, "repo": name, "branch": branch, "first": pageSize}
	if since != nil {
		variables["since"] = since.UTC().Format(time.RFC3339)
	}

	var commits []model.Commit
	var cursor *string
	for {
		variables["after"] = cursor

		var data page
		ok, err := c.doGraphQL(ctx, commitsQuery, variables, &data)
		if err != nil {
			return nil, err
		}
		if !ok || data.Repository == nil || data.Repository.Ref == nil ||
			data.Repository.Ref.Target == nil || data.Repository.Ref.Target.History == nil {
			c.logger.Warn("Commit fetch truncated", "owner", owner, "repo", name, "collected", len(commits))
			break
		}
		history := data.Repository.Ref.Target.History

		for _, node := range history.Nodes {
			commit := model.Commit{
				OID:          node.OID,
				AuthoredDate: node.AuthoredDate,
				Additions:    node.Additions,
				Deletions:    node.Deletions,
				Message:      node.MessageHeadline,
			}
			if node.Author != nil && node.Author.User != nil {
				login := node.Author.User.Login
				commit.AuthorLogin = &login
			}
			commits = append(commits, commit)
		}

		if !history.PageInfo.HasNextPage {
			break
		}
		cursor = history.PageInfo.EndCursor
	}

	c.logger.Debug("Fetched commits", "owner", owner, "repo", name, "count", len(commits))
	return commits, nil
}

// issueLikeNode covers the shared shape of issues and pull requests.
type issueLikeNode struct {
	ID        string     `json:"id"`
	CreatedAt time.Time  `json:"createdAt"`
	ClosedAt  *time.Time `json:"closedAt"`
	MergedAt  *time.Time `json:"mergedAt"`
	State     string     `json:"state"`
	Author    *actor     `json:"author"`
	Comments  struct {
		Nodes []commentNode `json:"nodes"`
	} `json:"comments"`
	Labels struct {
		Nodes []labelNode `json:"nodes"`
	} `json:"labels"`
}

func (n issueLikeNode) authorLogin() *string {
	if n.Author == nil {
		return nil
	}
	return &n.Author.Login
}

// FetchIssues fetches issues, optionally limited to issues updated at or after
// since (the filter variable is merged into each page request).
func (c *Client) FetchIssues(ctx context.Context, owner, name string, since *time.Time) ([]model.Issue, error) {
	type page struct {
		Repository *struct {
			Issues *struct {
				Nodes    []issueLikeNode `json:"nodes"`
				PageInfo pageInfo        `json:"pageInfo"`
			} `json:"issues"`
		} `json:"repository"`
	}

	variables := map[string]any{"owner": owner, "repo": name, "first": pageSize}
	if since != nil {
		variables["since"] = since.UTC().Format(time.RFC3339)
	}

	var issues []model.Issue
	var cursor *string
	for {
		variables["after"] = cursor

		var data page
		ok, err := c.doGraphQL(ctx, issuesQuery, variables, &data)
		if err != nil {
			return nil, err
		}
		if !ok || data.Repository == nil || data.Repository.Issues == nil {
			c.logger.Warn("Issue fetch truncated", "owner", owner, "repo", name, "collected", len(issues))
			break
		}

		for _, node := range data.Repository.Issues.Nodes {
			authorLogin := node.authorLogin()
			firstCommentAt, firstCommentBy := firstResponse(node.Comments.Nodes, authorLogin)
			issues = append(issues, model.Issue{
				GithubID:              node.ID,
				CreatedAt:             node.CreatedAt,
				ClosedAt:              node.ClosedAt,
				State:                 node.State,
				AuthorLogin:           authorLogin,
				FirstCommentCreatedAt: firstCommentAt,
				FirstCommentAuthor:    firstCommentBy,
				Labels:                labelNames(node.Labels.Nodes),
			})
		}

		if !data.Repository.Issues.PageInfo.HasNextPage {
			break
		}
		cursor = data.Repository.Issues.PageInfo.EndCursor
	}

	c.logger.Debug("Fetched issues", "owner", owner, "repo", name, "count", len(issues))
	return issues, nil
}

// FetchPullRequests fetches all pull requests for a repository.
func (c *Client) FetchPullRequests(ctx context.Context, owner, name string) ([]model.PullRequest, error) {
	type page struct {
		Repository *struct {
			PullRequests *struct {
				Nodes    []issueLikeNode `json:"nodes"`
				PageInfo pageInfo        `json:"pageInfo"`
			} `json:"pullRequests"`
		} `json:"repository"`
	}

	variables := map[string]any{"owner": owner, "repo": name, "first": pageSize}

	var prs []model.PullRequest
	var cursor *string
	for {
		variables["after"] = cursor

		var data page
		ok, err := c.doGraphQL(ctx, pullRequestsQuery, variables, &data)
		if err != nil {
			return nil, err
		}
		if !ok || data.Repository == nil || data.Repository.PullRequests == nil {
			c.logger.Warn("Pull request fetch truncated", "owner", owner, "repo", name, "collected", len(prs))
			break
		}

		for _, node := range data.Repository.PullRequests.Nodes {
			authorLogin := node.authorLogin()
			firstCommentAt, firstCommentBy := firstResponse(node.Comments.Nodes, authorLogin)
			prs = append(prs, model.PullRequest{
				GithubID:              node.ID,
				CreatedAt:             node.CreatedAt,
				MergedAt:              node.MergedAt,
				ClosedAt:              node.ClosedAt,
				State:                 node.State,
				AuthorLogin:           authorLogin,
				FirstCommentCreatedAt: firstCommentAt,
				FirstCommentAuthor:    firstCommentBy,
				Labels:                labelNames(node.Labels.Nodes),
			})
		}

		if !data.Repository.PullRequests.PageInfo.HasNextPage {
			break
		}
		cursor = data.Repository.PullRequests.PageInfo.EndCursor
	}

	c.logger.Debug("Fetched pull requests", "owner", owner, "repo", name, "count", len(prs))
	return prs, nil
}

// FetchReleases fetches all releases with their download totals summed across
// assets. A release with no display name falls back to its tag name.
func (c *Client) FetchReleases(ctx context.Context, owner, name string) ([]model.Release, error) {
	type releaseNode struct {
		Name          *string   `json:"name"`
		TagName       string    `json:"tagName"`
		CreatedAt     time.Time `json:"createdAt"`
		ReleaseAssets struct {
			Nodes []struct {
				DownloadCount int `json:"downloadCount"`
			} `json:"nodes"`
		} `json:"releaseAssets"`
	}
	type page struct {
		Repository *struct {
			Releases *struct {
				Nodes    []releaseNode `json:"nodes"`
				PageInfo pageInfo      `json:"pageInfo"`
			} `json:"releases"`
		} `json:"repository"`
	}

	variables := map[string]any{"owner": owner, "repo": name, "first": pageSize}

	var releases []model.Release
	var cursor *string
	for {
		variables["after"] = cursor

		var data page
		ok, err := c.doGraphQL(ctx, releasesQuery, variables, &data)
		if err != nil {
			return nil, err
		}
		if !ok || data.Repository == nil || data.Repository.Releases == nil {
			c.logger.Warn("Release fetch truncated", "owner", owner, "repo", name, "collected", len(releases))
			break
		}

		for _, node := range data.Repository.Releases.Nodes {
			var downloads int
			for _, asset := range node.ReleaseAssets.Nodes {
				downloads += asset.DownloadCount
			}
			displayName := node.TagName
			if node.Name != nil && *node.Name != "" {
				displayName = *node.Name
			}
			releases = append(releases, model.Release{
				TagName:        node.TagName,
				Name:           displayName,
				CreatedAt:      node.CreatedAt,
				TotalDownloads: downloads,
			})
		}

		if !data.Repository.Releases.PageInfo.HasNextPage {
			break
		}
		cursor = data.Repository.Releases.PageInfo.EndCursor
	}

	c.logger.Debug("Fetched releases", "owner", owner, "repo", name, "count", len(releases))
	return releases, nil
}
