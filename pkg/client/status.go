package client

import (
	"context"
	"fmt"
	"net/http"
	"slices"

	gh "github.com/google/go-github/v82/github"
)

var commitStates = []string{StatePending, StateSuccess, StateFailure, StateError}

// StatusClient creates commit statuses.
// Unlike the checks api every 4xx response is returned as a typed error.
type StatusClient struct {
	gh *gh.Client
}

func NewStatusClient(httpClient *http.Client, api, token string) (*StatusClient, error) {
	client, err := newRESTClient(httpClient, api, token)
	if err != nil {
		return nil, err
	}
	return &StatusClient{gh: client}, nil
}

// Create a status for a commit.
// API endpoint: POST /repos/{owner}/{repo}/statuses/{sha}
func (c *StatusClient) CreateStatus(ctx context.Context, repoFullName, sha string, status CommitStatus) (CommitStatus, error) {
	if sha == "" {
		return CommitStatus{}, validationError("commit sha must be set to create a status")
	}
	if !slices.Contains(commitStates, status.State) {
		return CommitStatus{}, validationError("unknown commit status state '%s'", status.State)
	}
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return CommitStatus{}, err
	}

	req := gh.RepoStatus{State: gh.Ptr(status.State)}
	if status.TargetURL != "" {
		req.TargetURL = gh.Ptr(status.TargetURL)
	}
	if status.Description != "" {
		req.Description = gh.Ptr(status.Description)
	}
	if status.Context != "" {
		req.Context = gh.Ptr(status.Context)
	}

	created, _, err := c.gh.Repositories.CreateStatus(ctx, owner, repo, sha, req)
	if err != nil {
		return CommitStatus{}, classifyGithubError(err, fmt.Sprintf("create status for %s@%s", repoFullName, sha))
	}
	return CommitStatus{
		ID:          created.GetID(),
		State:       created.GetState(),
		TargetURL:   created.GetTargetURL(),
		Description: created.GetDescription(),
		Context:     created.GetContext(),
	}, nil
}
