// Package github enriches upstream commits hosted on GitHub with their pull request data.
package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// Client wraps the GitHub API client for one repository
type Client struct {
	client     *github.Client
	httpClient *http.Client
	org        string
	repo       string
}

// PR represents a pull request from GitHub
type PR struct {
	Number   int
	Title    string
	URL      string
	SHA      string
	Merged   bool
	BaseRef  string
	MergedAt int64
}

// NewClient creates a new GitHub client with token authentication. An empty token gives
// an unauthenticated client.
func NewClient(ctx context.Context, token string) *Client {
	if token == "" {
		return &Client{client: github.NewClient(nil)}
	}
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)

	return &Client{
		client:     github.NewClient(tc),
		httpClient: tc,
	}
}

// WithRepository returns a copy of the client bound to org/repo
func (c *Client) WithRepository(org, repo string) *Client {
	return &Client{client: c.client, httpClient: c.httpClient, org: org, repo: repo}
}

// WithBaseURL points the client at another API endpoint, such as GitHub Enterprise
func (c *Client) WithBaseURL(baseURL string) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid base url %s: %w", baseURL, err)
	}
	client := github.NewClient(c.httpClient)
	client.BaseURL = u
	return &Client{client: client, httpClient: c.httpClient, org: c.org, repo: c.repo}, nil
}

// Repository returns org/repo
func (c *Client) Repository() string {
	return c.org + "/" + c.repo
}

// ParseRepository splits a repository location into org and repo. Accepted forms are
// "org/repo", "https://github.com/org/repo[.git]" and "git@github.com:org/repo[.git]".
func ParseRepository(location string) (string, string, error) {
	path := location
	switch {
	case strings.HasPrefix(location, "git@"):
		if i := strings.Index(location, ":"); i >= 0 {
			path = location[i+1:]
		}
	case strings.Contains(location, "://"):
		u, err := url.Parse(location)
		if err != nil {
			return "", "", fmt.Errorf("invalid repository location %s: %w", location, err)
		}
		path = u.Path
	}
	path = strings.TrimSuffix(strings.Trim(path, "/"), ".git")

	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository location %s: expected org/repo", location)
	}
	return parts[0], parts[1], nil
}

// CloneURL returns the https clone URL of a repository location
func CloneURL(location string) (string, error) {
	org, repo, err := ParseRepository(location)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("https://github.com/%s/%s.git", org, repo), nil
}

// paginatedList collects every page returned by list
func paginatedList[T any](list func(page int) ([]T, *github.Response, error)) ([]T, error) {
	var all []T
	page := 0
	for {
		items, resp, err := list(page)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		if resp == nil || resp.NextPage == 0 {
			return all, nil
		}
		page = resp.NextPage
	}
}
