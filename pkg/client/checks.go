package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// Response of the provider api. Calls that got an unexpected but non failing status
// return it without an error, the body is kept for inspection.
type Response struct {
	StatusCode int
	Body       []byte
}

// ChecksClient talks to the checks api with a single token
type ChecksClient struct {
	api   string
	token string
	http  *http.Client
}

func NewChecksClient(httpClient *http.Client, api, token string) *ChecksClient {
	return &ChecksClient{
		api:   api,
		token: token,
		http:  httpClient,
	}
}

// Create a check run for a commit.
// API endpoint: POST /repos/{owner}/{repo}/check-runs
func (c *ChecksClient) CreateCheckRun(ctx context.Context, repo string, run CheckRun) (CheckRun, *Response, error) {
	err := validateCheckRun(run, true)
	if err != nil {
		return CheckRun{}, nil, err
	}
	prefix, err := repoPath(repo)
	if err != nil {
		return CheckRun{}, nil, err
	}
	run.ID = 0

	var created CheckRun
	res, err := c.do(ctx, http.MethodPost, prefix+"/check-runs", nil, run, http.StatusCreated, &created)
	if err != nil {
		return CheckRun{}, res, err
	}
	slog.Debug("Created check run", slog.String("repo", repo), slog.Int64("id", created.ID), slog.String("sha", run.HeadSHA))
	return created, res, nil
}

// Update an existing check run, only set fields are changed.
// API endpoint: PATCH /repos/{owner}/{repo}/check-runs/{check_run_id}
func (c *ChecksClient) UpdateCheckRun(ctx context.Context, repo string, id int64, run CheckRun) (*Response, error) {
	if id <= 0 {
		return nil, validationError("check run id must be set to update a check run")
	}
	err := validateCheckRun(run, false)
	if err != nil {
		return nil, err
	}
	prefix, err := repoPath(repo)
	if err != nil {
		return nil, err
	}
	run.ID = 0

	return c.do(ctx, http.MethodPatch, fmt.Sprintf("%s/check-runs/%d", prefix, id), nil, run, http.StatusOK, nil)
}

// List check runs for a sha, branch or tag.
// API endpoint: GET /repos/{owner}/{repo}/commits/{ref}/check-runs
func (c *ChecksClient) ListCheckRunsForRef(ctx context.Context, repo, ref string, opts ListCheckRunsOptions) (CheckRunList, *Response, error) {
	if ref == "" {
		return CheckRunList{}, nil, validationError("ref must be set to list check runs")
	}
	prefix, err := repoPath(repo)
	if err != nil {
		return CheckRunList{}, nil, err
	}

	var list CheckRunList
	res, err := c.do(ctx, http.MethodGet, prefix+"/commits/"+url.PathEscape(ref)+"/check-runs", opts.query(), nil, http.StatusOK, &list)
	return list, res, err
}

// List check runs of a check suite.
// API endpoint: GET /repos/{owner}/{repo}/check-suites/{check_suite_id}/check-runs
func (c *ChecksClient) ListCheckRunsForSuite(ctx context.Context, repo string, suiteID int64, opts ListCheckRunsOptions) (CheckRunList, *Response, error) {
	if suiteID <= 0 {
		return CheckRunList{}, nil, validationError("check suite id must be set to list check runs")
	}
	prefix, err := repoPath(repo)
	if err != nil {
		return CheckRunList{}, nil, err
	}

	var list CheckRunList
	res, err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/check-suites/%d/check-runs", prefix, suiteID), opts.query(), nil, http.StatusOK, &list)
	return list, res, err
}

// API endpoint: GET /repos/{owner}/{repo}/check-runs/{check_run_id}
func (c *ChecksClient) GetCheckRun(ctx context.Context, repo string, id int64) (CheckRun, *Response, error) {
	if id <= 0 {
		return CheckRun{}, nil, validationError("check run id must be set")
	}
	prefix, err := repoPath(repo)
	if err != nil {
		return CheckRun{}, nil, err
	}

	var run CheckRun
	res, err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/check-runs/%d", prefix, id), nil, nil, http.StatusOK, &run)
	return run, res, err
}

// API endpoint: GET /repos/{owner}/{repo}/check-runs/{check_run_id}/annotations
func (c *ChecksClient) ListAnnotations(ctx context.Context, repo string, id int64) ([]Annotation, *Response, error) {
	if id <= 0 {
		return nil, nil, validationError("check run id must be set")
	}
	prefix, err := repoPath(repo)
	if err != nil {
		return nil, nil, err
	}

	var annotations []Annotation
	res, err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/check-runs/%d/annotations", prefix, id), nil, nil, http.StatusOK, &annotations)
	return annotations, res, err
}

func (o ListCheckRunsOptions) query() url.Values {
	q := url.Values{}
	if o.CheckName != "" {
		q.Set("check_name", o.CheckName)
	}
	if o.Status != "" {
		q.Set("status", o.Status)
	}
	if o.Filter != "" {
		q.Set("filter", o.Filter)
	}
	return q
}

// Send a request to the checks api.
// The expected status decodes into out, 404 and 5xx are errors, any other status is logged and returned.
func (c *ChecksClient) do(ctx context.Context, method, path string, query url.Values, payload any, expected int, out any) (*Response, error) {
	u := c.api + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	checksHeaders(req, c.token)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(req, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, transportError(req, err)
	}
	response := &Response{StatusCode: res.StatusCode, Body: data}

	switch {
	case res.StatusCode == expected:
		if out == nil || len(data) == 0 {
			return response, nil
		}
		err = json.Unmarshal(data, out)
		if err != nil {
			return response, fmt.Errorf("failed to decode response of %s %s: %w", method, path, err)
		}
		return response, nil
	case res.StatusCode == http.StatusNotFound:
		return response, &RemoteAPIError{Kind: ErrNotFound, Method: method, URL: u, StatusCode: res.StatusCode, Body: string(data)}
	case res.StatusCode >= 500:
		return response, &RemoteAPIError{Kind: ErrTransient, Method: method, URL: u, StatusCode: res.StatusCode, Body: string(data)}
	default:
		slog.Warn("Unexpected response from checks api",
			slog.String("method", method), slog.String("path", path),
			slog.Int("expected", expected), slog.Int("status", res.StatusCode),
			slog.String("body", string(data)),
		)
		return response, nil
	}
}
