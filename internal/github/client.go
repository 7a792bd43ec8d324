// Package github resolves file-level diffs for stored events against the
// GitHub REST API. The stored raw payload is the sole input: it names the
// head commit or pull request the diff belongs to.
package github

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/user/ghmonitor/internal/storage"
)

// Client wraps the GitHub API client.
type Client struct {
	client *github.Client
}

// NewClient creates a new GitHub API client.
// If token is empty, an unauthenticated client is created (with lower rate limits).
func NewClient(token string) *Client {
	var client *github.Client

	if token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		tc := oauth2.NewClient(context.Background(), ts)
		client = github.NewClient(tc)
	} else {
		client = github.NewClient(nil)
	}

	return &Client{client: client}
}

// DiffFile is one changed file in an event's diff.
type DiffFile struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Patch     string `json:"patch,omitempty"`
}

// EventDiff resolves the changed files for a stored PUSH or PULL_REQUEST
// event from its retained payload.
func (c *Client) EventDiff(ctx context.Context, repo *storage.Repository, event *storage.Event) ([]DiffFile, error) {
	switch event.Type {
	case storage.EventTypePush:
		return c.pushDiff(ctx, repo, event)
	case storage.EventTypePullRequest:
		return c.pullRequestDiff(ctx, repo, event)
	default:
		return nil, fmt.Errorf("no diff available for %s events", event.Type)
	}
}

func (c *Client) pushDiff(ctx context.Context, repo *storage.Repository, event *storage.Event) ([]DiffFile, error) {
	var payload struct {
		After      string `json:"after"`
		HeadCommit *struct {
			ID string `json:"id"`
		} `json:"head_commit"`
	}
	if err := json.Unmarshal([]byte(event.Payload), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse stored payload: %w", err)
	}

	sha := payload.After
	if sha == "" && payload.HeadCommit != nil {
		sha = payload.HeadCommit.ID
	}
	if sha == "" {
		return nil, fmt.Errorf("push payload names no head commit")
	}

	commit, _, err := c.client.Repositories.GetCommit(ctx, repo.Owner, repo.Name, sha, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch commit %s: %w", sha, err)
	}

	diffs := make([]DiffFile, 0, len(commit.Files))
	for _, file := range commit.Files {
		diffs = append(diffs, toDiffFile(file))
	}
	return diffs, nil
}

func (c *Client) pullRequestDiff(ctx context.Context, repo *storage.Repository, event *storage.Event) ([]DiffFile, error) {
	var payload struct {
		PullRequest struct {
			Number int `json:"number"`
		} `json:"pull_request"`
	}
	if err := json.Unmarshal([]byte(event.Payload), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse stored payload: %w", err)
	}
	if payload.PullRequest.Number == 0 {
		return nil, fmt.Errorf("pull request payload names no number")
	}

	files, _, err := c.client.PullRequests.ListFiles(ctx, repo.Owner, repo.Name, payload.PullRequest.Number, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list pull request files: %w", err)
	}

	diffs := make([]DiffFile, 0, len(files))
	for _, file := range files {
		diffs = append(diffs, toDiffFile(file))
	}
	return diffs, nil
}

func toDiffFile(file *github.CommitFile) DiffFile {
	return DiffFile{
		Filename:  file.GetFilename(),
		Status:    file.GetStatus(),
		Additions: file.GetAdditions(),
		Deletions: file.GetDeletions(),
		Patch:     file.GetPatch(),
	}
}
