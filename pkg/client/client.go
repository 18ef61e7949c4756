package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gregjones/httpcache"
	"github.com/heathcliff26/buildhook/pkg/config"
)

// Installation tokens are renewed when they expire within this window
const tokenExpiryMargin = time.Minute

// GithubClient holds the credentials and transport for all calls to the github api.
type GithubClient struct {
	cfg  config.GithubConfig
	api  string
	http *http.Client
	now  func() time.Time

	// Guards tokens and tokenLocks, never held during requests
	lock   sync.Mutex
	tokens map[int64]InstallationAccessTokenResponse

	// Serializes token fetches per installation
	tokenLocks map[int64]*sync.Mutex
}

// Create a new GithubClient. Requests pass through a conditional request cache
// and the secondary rate limit handler, every call is bounded by the configured timeout.
func NewGithubClient(cfg config.GithubConfig) *GithubClient {
	httpClient := github_ratelimit.NewClient(httpcache.NewMemoryCacheTransport())
	httpClient.Timeout = cfg.Timeout.Duration
	return NewGithubClientWithHTTPClient(cfg, httpClient)
}

// Create a GithubClient on top of a custom http client, e.g. for tests
func NewGithubClientWithHTTPClient(cfg config.GithubConfig, httpClient *http.Client) *GithubClient {
	return &GithubClient{
		cfg:    cfg,
		api:    strings.TrimSuffix(cfg.API, "/"),
		http:   httpClient,
		now:    time.Now,
		tokens: make(map[int64]InstallationAccessTokenResponse),

		tokenLocks: make(map[int64]*sync.Mutex),
	}
}

// Check if the github app credentials are configured
func (c *GithubClient) HasAppCredentials() bool {
	return c.cfg.ClientID != "" && c.cfg.PrivateKey != ""
}

// Token of the plain github integration
func (c *GithubClient) StaticToken() string {
	return c.cfg.Token
}

func (c *GithubClient) Checks(token string) *ChecksClient {
	return NewChecksClient(c.http, c.api, token)
}

func (c *GithubClient) Statuses(token string) (*StatusClient, error) {
	return NewStatusClient(c.http, c.api, token)
}

func (c *GithubClient) PullRequests(token string) (*PullRequestClient, error) {
	return NewPullRequestClient(c.http, c.api, token)
}

// Get a new JWT for authentication
func (c *GithubClient) createJWT() (string, error) {
	f, err := os.ReadFile(c.cfg.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("failed to read private key file '%s': %w", c.cfg.PrivateKey, err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(f)
	if err != nil {
		return "", fmt.Errorf("failed to parse private key from PEM: %w", err)
	}

	now := c.now()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		// Use time of 30s earlier to avoid clock skew issues
		"iat": jwt.NewNumericDate(now.Add(time.Second * -30)),
		// We don't re-use the token, so it should expire relatively soon
		"exp": jwt.NewNumericDate(now.Add(time.Minute * 5)),
		"iss": c.cfg.ClientID,
	})
	return token.SignedString(key)
}

// Get an installation access token, tokens are cached until shortly before they expire.
// API endpoint: POST /app/installations/{installation_id}/access_tokens
func (c *GithubClient) GetInstallationAccessToken(ctx context.Context, installationID int64) (string, error) {
	l := c.tokenLock(installationID)
	l.Lock()
	defer l.Unlock()

	token, ok := c.cachedToken(installationID)
	if ok {
		return token, nil
	}

	jwtToken, err := c.createJWT()
	if err != nil {
		return "", fmt.Errorf("failed to create JWT: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/app/installations/%d/access_tokens", c.api, installationID), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request for installation access token: %w", err)
	}
	commonHeaders(req, jwtToken)

	res, err := c.http.Do(req)
	if err != nil {
		return "", transportError(req, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(res.Body)
		kind := rejectionKind(res.StatusCode)
		if kind == nil {
			kind = ErrRejected
		}
		return "", &RemoteAPIError{Kind: kind, Method: req.Method, URL: req.URL.String(), StatusCode: res.StatusCode, Body: string(body)}
	}

	var tokenResponse InstallationAccessTokenResponse
	err = json.NewDecoder(res.Body).Decode(&tokenResponse)
	if err != nil {
		return "", fmt.Errorf("failed to decode installation access token response: %w", err)
	}

	c.lock.Lock()
	c.tokens[installationID] = tokenResponse
	c.lock.Unlock()
	return tokenResponse.Token, nil
}

func (c *GithubClient) tokenLock(installationID int64) *sync.Mutex {
	c.lock.Lock()
	defer c.lock.Unlock()

	l, ok := c.tokenLocks[installationID]
	if !ok {
		l = &sync.Mutex{}
		c.tokenLocks[installationID] = l
	}
	return l
}

func (c *GithubClient) cachedToken(installationID int64) (string, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	cached, ok := c.tokens[installationID]
	if !ok || !cached.ExpiresAt.After(c.now().Add(tokenExpiryMargin)) {
		return "", false
	}
	return cached.Token, true
}
