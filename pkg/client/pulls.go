package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"

	gh "github.com/google/go-github/v82/github"
)

const (
	MergeMethodMerge  = "merge"
	MergeMethodSquash = "squash"
	MergeMethodRebase = "rebase"
)

var mergeMethods = []string{MergeMethodMerge, MergeMethodSquash, MergeMethodRebase}

type MergeOptions struct {
	CommitTitle   string
	CommitMessage string
	// Head sha the pull request must match to be merged
	SHA    string
	Method string
}

// PullRequestClient wraps the pull request service of go-github
type PullRequestClient struct {
	gh *gh.Client
}

func NewPullRequestClient(httpClient *http.Client, api, token string) (*PullRequestClient, error) {
	client, err := newRESTClient(httpClient, api, token)
	if err != nil {
		return nil, err
	}
	return &PullRequestClient{gh: client}, nil
}

// go-github client for api, the base url needs a trailing slash
func newRESTClient(httpClient *http.Client, api, token string) (*gh.Client, error) {
	client := gh.NewClient(httpClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}

	u, err := url.Parse(strings.TrimSuffix(api, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	client.BaseURL = u
	return client, nil
}

// API endpoint: GET /repos/{owner}/{repo}/pulls/{pull_number}
func (c *PullRequestClient) Get(ctx context.Context, repoFullName string, number int) (*gh.PullRequest, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	pr, _, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, classifyGithubError(err, fmt.Sprintf("get pull request %s#%d", repoFullName, number))
	}
	return pr, nil
}

// Check if a pull request has been merged, an unmerged pull request is reported as 404 by github.
// API endpoint: GET /repos/{owner}/{repo}/pulls/{pull_number}/merge
func (c *PullRequestClient) IsMerged(ctx context.Context, repoFullName string, number int) (bool, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return false, err
	}

	merged, _, err := c.gh.PullRequests.IsMerged(ctx, owner, repo, number)
	if err != nil {
		return false, classifyGithubError(err, fmt.Sprintf("check merge state of %s#%d", repoFullName, number))
	}
	return merged, nil
}

// Merge a pull request. A 405 response means the pull request can not be merged,
// 409 that the head sha did not match.
// API endpoint: PUT /repos/{owner}/{repo}/pulls/{pull_number}/merge
func (c *PullRequestClient) Merge(ctx context.Context, repoFullName string, number int, opts MergeOptions) (*gh.PullRequestMergeResult, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}
	if opts.Method == "" {
		opts.Method = MergeMethodMerge
	}
	if !slices.Contains(mergeMethods, opts.Method) {
		return nil, validationError("unknown merge method '%s'", opts.Method)
	}

	result, _, err := c.gh.PullRequests.Merge(ctx, owner, repo, number, opts.CommitMessage, &gh.PullRequestOptions{
		CommitTitle: opts.CommitTitle,
		SHA:         opts.SHA,
		MergeMethod: opts.Method,
	})
	if err != nil {
		return nil, classifyGithubError(err, fmt.Sprintf("merge pull request %s#%d", repoFullName, number))
	}
	return result, nil
}

func classifyGithubError(err error, op string) error {
	var rateErr *gh.RateLimitError
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return &RemoteAPIError{Kind: ErrTransient, Method: op, Err: err}
	}

	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		res := ghErr.Response
		kind := rejectionKind(res.StatusCode)
		if kind == nil {
			kind = ErrRejected
		}
		apiErr := &RemoteAPIError{Kind: kind, Method: op, StatusCode: res.StatusCode, Body: ghErr.Message, Err: err}
		if res.Request != nil {
			apiErr.Method = res.Request.Method
			apiErr.URL = res.Request.URL.String()
		}
		return apiErr
	}

	return &RemoteAPIError{Kind: ErrTransient, Method: op, Err: err}
}
