package github

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/go-github/v57/github"
)

func newPR(pr *github.PullRequest) PR {
	result := PR{
		Number:  pr.GetNumber(),
		Title:   pr.GetTitle(),
		URL:     pr.GetHTMLURL(),
		SHA:     pr.GetMergeCommitSHA(),
		Merged:  pr.MergedAt != nil,
		BaseRef: pr.GetBase().GetRef(),
	}
	if pr.MergedAt != nil {
		result.MergedAt = pr.MergedAt.Unix()
	}
	return result
}

// PullRequestsForCommit lists the pull requests associated with a commit
func (c *Client) PullRequestsForCommit(ctx context.Context, sha string) ([]PR, error) {
	slog.Debug("GitHub API: Listing pull requests for commit", "repository", c.Repository(), "sha", sha)
	prs, err := paginatedList(func(page int) ([]*github.PullRequest, *github.Response, error) {
		opts := &github.PullRequestListOptions{
			State: "all",
			ListOptions: github.ListOptions{
				PerPage: 100,
				Page:    page,
			},
		}
		return c.client.PullRequests.ListPullRequestsWithCommit(ctx, c.org, c.repo, sha, opts)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pull requests for %s: %w", sha, err)
	}

	result := make([]PR, 0, len(prs))
	for _, pr := range prs {
		result = append(result, newPR(pr))
	}
	return result, nil
}

// PullRequestForCommit returns the merged pull request that introduced sha into branch.
// A PR whose merge commit is sha wins; otherwise the earliest merged PR targeting branch.
// It returns nil without error when no merged PR is associated with the commit.
func (c *Client) PullRequestForCommit(ctx context.Context, sha, branch string) (*PR, error) {
	prs, err := c.PullRequestsForCommit(ctx, sha)
	if err != nil {
		return nil, err
	}

	var best *PR
	for i := range prs {
		pr := &prs[i]
		if !pr.Merged {
			continue
		}
		if pr.SHA == sha {
			return pr, nil
		}
		if branch != "" && pr.BaseRef != branch {
			continue
		}
		if best == nil || pr.MergedAt < best.MergedAt {
			best = pr
		}
	}
	return best, nil
}
