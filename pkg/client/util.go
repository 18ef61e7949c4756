package client

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const (
	mediaTypeGithub = "application/vnd.github+json"
	// Check runs were released under the antiope preview
	mediaTypeChecks = "application/vnd.github.antiope-preview+json"
	apiVersion      = "2022-11-28"
)

func commonHeaders(req *http.Request, token string) {
	req.Header.Set("Accept", mediaTypeGithub)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if req.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
}

func checksHeaders(req *http.Request, token string) {
	commonHeaders(req, token)
	req.Header.Set("Accept", mediaTypeChecks)
}

// Split "owner/repo" into its parts
func splitRepo(fullName string) (string, string, error) {
	owner, repo, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", validationError("invalid repository name '%s', expected owner/repo", fullName)
	}
	return owner, repo, nil
}

// Return the api path prefix of a repository
func repoPath(fullName string) (string, error) {
	owner, repo, err := splitRepo(fullName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("/repos/%s/%s", url.PathEscape(owner), url.PathEscape(repo)), nil
}
