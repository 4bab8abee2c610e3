// internal/github/client.go
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	ghc "github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"
)

const (
	defaultGraphQLURL = "https://api.github.com/graphql"

	// pageSize is the number of records requested per page.
	pageSize = 100

	requestTimeout = 30 * time.Second
)

// Client fetches repository activity from the GitHub GraphQL API, and lists an
// owner's repositories through the REST API. Pagination is followed to
// exhaustion; there are no retries at this layer.
type Client struct {
	http       *http.Client
	rest       *ghc.Client
	graphqlURL string
	logger     *slog.Logger
}

// NewClient creates and configures a new Client instance.
// The provided token is used to create an authenticated http.Client shared by
// the GraphQL and REST paths.
func NewClient(token string, logger *slog.Logger) *Client {
	ctx := context.Background()
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)
	tc.Timeout = requestTimeout

	return &Client{
		http:       tc,
		rest:       ghc.NewClient(tc),
		graphqlURL: defaultGraphQLURL,
		logger:     logger,
	}
}

// graphqlEnvelope is the standard GraphQL response wrapper.
type graphqlEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// doGraphQL posts one query page. Transport failures, non-2xx statuses and
// undecodable bodies are hard errors. A response carrying GraphQL errors
// returns ok=false with a nil error so that pagination loops can stop with the
// records collected so far.
func (c *Client) doGraphQL(ctx context.Context, query string, variables map[string]any, out any) (ok bool, err error) {
	body, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	if err != nil {
		return false, fmt.Errorf("encode graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build graphql request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("graphql request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return false, fmt.Errorf("graphql request: unexpected status %d", resp.StatusCode)
	}

	var envelope graphqlEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return false, fmt.Errorf("decode graphql response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		c.logger.Warn("GraphQL response carried errors", "message", envelope.Errors[0].Message)
		return false, nil
	}
	if envelope.Data == nil {
		c.logger.Warn("GraphQL response carried no data")
		return false, nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return false, fmt.Errorf("decode graphql data: %w", err)
	}
	return true, nil
}

// DefaultBranch returns the repository's default branch name, or nil when the
// repository has none (empty repository) or the lookup degrades.
func (c *Client) DefaultBranch(ctx context.Context, owner, name string) (*string, error) {
	var data struct {
		Repository *struct {
			DefaultBranchRef *struct {
				Name string `json:"name"`
			} `json:"defaultBranchRef"`
		} `json:"repository"`
	}

	ok, err := c.doGraphQL(ctx, repoInfoQuery, map[string]any{"owner": owner, "repo": name}, &data)
	if err != nil {
		return nil, err
	}
	if !ok || data.Repository == nil || data.Repository.DefaultBranchRef == nil {
		return nil, nil
	}
	return &data.Repository.DefaultBranchRef.Name, nil
}

// ListOwnerRepos returns the names of all repositories under an owner,
// following REST pagination transparently.
func (c *Client) ListOwnerRepos(ctx context.Context, owner string) ([]string, error) {
	opts := &ghc.RepositoryListByUserOptions{
		ListOptions: ghc.ListOptions{PerPage: pageSize},
	}

	var names []string
	for {
		c.logger.Debug("Listing repositories page", "owner", owner, "page", opts.Page)

		repos, resp, err := c.rest.Repositories.ListByUser(ctx, owner, opts)
		if err != nil {
			return nil, err
		}
		for _, repo := range repos {
			names = append(names, repo.GetName())
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return names, nil
}
