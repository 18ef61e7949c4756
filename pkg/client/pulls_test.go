package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPullRequestClient(t *testing.T, mux *http.ServeMux) *PullRequestClient {
	s := httptest.NewServer(mux)
	t.Cleanup(s.Close)

	c, err := NewPullRequestClient(s.Client(), s.URL, "testtoken")
	require.NoError(t, err)
	return c
}

func TestPullRequestGet(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/octo/repo/pulls/42", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer testtoken", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"number": 42, "head": {"sha": "abc123"}, "base": {"ref": "main"}}`))
	})
	c := newTestPullRequestClient(t, mux)

	pr, err := c.Get(context.Background(), "octo/repo", 42)
	require.NoError(t, err)
	assert.Equal(t, 42, pr.GetNumber())
	assert.Equal(t, "abc123", pr.GetHead().GetSHA())
	assert.Equal(t, "main", pr.GetBase().GetRef())

	_, err = c.Get(context.Background(), "octo/repo", 43)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPullRequestIsMerged(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/octo/repo/pulls/1/merge", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /repos/octo/repo/pulls/2/merge", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	c := newTestPullRequestClient(t, mux)

	merged, err := c.IsMerged(context.Background(), "octo/repo", 1)
	assert.NoError(t, err)
	assert.True(t, merged)

	merged, err = c.IsMerged(context.Background(), "octo/repo", 2)
	assert.NoError(t, err)
	assert.False(t, merged)
}

func TestPullRequestMerge(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /repos/octo/repo/pulls/1/merge", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "squash", body["merge_method"])
		assert.Equal(t, "abc123", body["sha"])
		_, _ = w.Write([]byte(`{"sha": "def456", "merged": true, "message": "Pull Request successfully merged"}`))
	})
	mux.HandleFunc("PUT /repos/octo/repo/pulls/2/merge", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
		_, _ = w.Write([]byte(`{"message": "Pull Request is not mergeable"}`))
	})
	mux.HandleFunc("PUT /repos/octo/repo/pulls/3/merge", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"message": "Head branch was modified. Review and try the merge again."}`))
	})
	c := newTestPullRequestClient(t, mux)
	ctx := context.Background()

	result, err := c.Merge(ctx, "octo/repo", 1, MergeOptions{SHA: "abc123", Method: MergeMethodSquash})
	require.NoError(t, err)
	assert.True(t, result.GetMerged())
	assert.Equal(t, "def456", result.GetSHA())

	_, err = c.Merge(ctx, "octo/repo", 2, MergeOptions{})
	assert.ErrorIs(t, err, ErrRejected)

	_, err = c.Merge(ctx, "octo/repo", 3, MergeOptions{SHA: "old"})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = c.Merge(ctx, "octo/repo", 1, MergeOptions{Method: "fast-forward"})
	assert.ErrorIs(t, err, ErrValidation)
}
