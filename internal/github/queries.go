// internal/github/queries.go
package github

const repoInfoQuery = `
query($owner: String!, $repo: String!) {
  repository(owner: $owner, name: $repo) {
    defaultBranchRef {
      name
    }
  }
}
`

const branchesQuery = `
query($owner: String!, $repo: String!, $first: Int!, $after: String) {
  repository(owner: $owner, name: $repo) {
    refs(first: $first, after: $after, refPrefix: "refs/heads/") {
      nodes {
        name
        target {
          ... on Commit {
            history {
              totalCount
            }
            authoredDate
          }
        }
      }
      pageInfo {
        endCursor
        hasNextPage
      }
    }
  }
}
`

const commitsQuery = `
query($owner: String!, $repo: String!, $branch: String!, $first: Int!, $after: String, $since: GitTimestamp) {
  repository(owner: $owner, name: $repo) {
    ref(qualifiedName: $branch) {
      target {
        ... on Commit {
          history(first: $first, after: $after, since: $since) {
            nodes {
              oid
              authoredDate
              messageHeadline
              additions
              deletions
              author {
                name
                user {
                  login
                }
              }
            }
            pageInfo {
              endCursor
              hasNextPage
            }
          }
        }
      }
    }
  }
}
`

const issuesQuery = `
query($owner: String!, $repo: String!, $first: Int!, $after: String, $since: DateTime) {
  repository(owner: $owner, name: $repo) {
    issues(first: $first, after: $after, filterBy: {since: $since}, orderBy: {field: CREATED_AT, direction: ASC}) {
      nodes {
        id
        createdAt
        closedAt
        state
        author {
          login
        }
        comments(first: 10) {
          nodes {
            createdAt
            author {
              login
            }
          }
        }
        labels(first: 20) {
          nodes {
            name
          }
        }
      }
      pageInfo {
        endCursor
        hasNextPage
      }
    }
  }
}
`

const pullRequestsQuery = `
query($owner: String!, $repo: String!, $first: Int!, $after: String) {
  repository(owner: $owner, name: $repo) {
    pullRequests(first: $first, after: $after, orderBy: {field: CREATED_AT, direction: ASC}) {
      nodes {
        id
        createdAt
        closedAt
        mergedAt
        state
        author {
          login
        }
        comments(first: 10) {
          nodes {
            createdAt
            author {
              login
            }
          }
        }
        labels(first: 20) {
          nodes {
            name
          }
        }
      }
      pageInfo {
        endCursor
        hasNextPage
      }
    }
  }
}
`

const releasesQuery = `
query($owner: String!, $repo: String!, $first: Int!, $after: String) {
  repository(owner: $owner, name: $repo) {
    releases(first: $first, after: $after, orderBy: {field: CREATED_AT, direction: ASC}) {
      nodes {
        name
        tagName
        createdAt
        releaseAssets(first: 100) {
          nodes {
            downloadCount
          }
        }
      }
      pageInfo {
        endCursor
        hasNextPage
      }
    }
  }
}
`
