package appfoliosync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

const (
	defaultPageSize   = 100
	maxFetchAttempts  = 5
	initialRetryDelay = time.Second
	maxRetryDelay     = 60 * time.Second
)

type appfolioClient struct {
	baseURL      string
	clientID     string
	clientSecret string
	http         *http.Client
	limiter      *RateLimiter
	breaker      *gobreaker.CircuitBreaker[*http.Response]

	// PageRecorder is invoked with every raw page body before any
	// transformation happens, so payloads survive mapper bugs.
	PageRecorder func(ctx context.Context, resource string, page int, body []byte)

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time

	sleep func(ctx context.Context, d time.Duration) error
}

func newAppfolioClient(baseURL, clientID, clientSecret string, limiter *RateLimiter) (*appfolioClient, error) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = strings.TrimSpace(os.Getenv("APPFOLIO_API_BASE_URL"))
	}
	if baseURL == "" {
		baseURL = "https://api.appfolio.com"
	}
	if strings.TrimSpace(clientID) == "" || strings.TrimSpace(clientSecret) == "" {
		return nil, errors.New("appfolio client credentials are empty")
	}

	settings := gobreaker.Settings{
		Name:    "appfolio-api",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 10 &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
	}

	return &appfolioClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		http:         &http.Client{Timeout: 30 * time.Second},
		limiter:      limiter,
		breaker:      gobreaker.NewCircuitBreaker[*http.Response](settings),
		sleep:        sleepCtx,
	}, nil
}

// resourcePaths maps sync resources to their API list endpoints.
var resourcePaths = map[string]string{
	"properties":  "/v1/properties",
	"units":       "/v1/units",
	"vendors":     "/v1/vendors",
	"work_orders": "/v1/work_orders",
	"expenses":    "/v1/expenses",
}

type listPage struct {
	Results    []json.RawMessage `json:"results"`
	TotalPages int               `json:"total_pages"`
	Page       int               `json:"page"`
	NextPage   *int              `json:"next_page"`
}

// fetchRange bounds a listing by source update time. Either side may be nil
// for an open end.
type fetchRange struct {
	From *time.Time
	To   *time.Time
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func (c *appfolioClient) token(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.accessToken != "" && time.Now().Before(c.tokenExpiry.Add(-time.Minute)) {
		return c.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return "", permanent(apiErr)
		}
		return "", apiErr
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", permanent(errors.New("token response missing access_token"))
	}
	c.accessToken = parsed.AccessToken
	lifespan := parsed.ExpiresIn
	if lifespan <= 0 {
		lifespan = 3600
	}
	c.tokenExpiry = time.Now().Add(time.Duration(lifespan) * time.Second)
	return c.accessToken, nil
}

func (c *appfolioClient) invalidateToken() {
	c.tokenMu.Lock()
	c.accessToken = ""
	c.tokenMu.Unlock()
}

// fetchPage fetches one page of a resource listing, retrying transient
// failures with exponential backoff. Permanent failures return immediately.
func (c *appfolioClient) fetchPage(ctx context.Context, resource string, page int, window fetchRange) (listPage, error) {
	path, ok := resourcePaths[resource]
	if !ok {
		return listPage{}, permanent(fmt.Errorf("unknown resource %q", resource))
	}

	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("per_page", strconv.Itoa(defaultPageSize))
	if window.From != nil {
		params.Set("updated_since", window.From.UTC().Format(time.RFC3339))
	}
	if window.To != nil {
		params.Set("updated_before", window.To.UTC().Format(time.RFC3339))
	}
	endpoint := c.baseURL + path + "?" + params.Encode()

	var lastErr error
	for attempt := 0; attempt < maxFetchAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, retryDelay(attempt)); err != nil {
				return listPage{}, err
			}
		}
		body, err := c.doGet(ctx, endpoint)
		if err == nil {
			if c.PageRecorder != nil {
				c.PageRecorder(ctx, resource, page, body)
			}
			var parsed listPage
			if uerr := json.Unmarshal(body, &parsed); uerr != nil {
				return listPage{}, permanent(fmt.Errorf("decode %s page %d: %w", resource, page, uerr))
			}
			if parsed.Page == 0 {
				parsed.Page = page
			}
			return parsed, nil
		}
		if IsPermanent(err) || !isTransient(err) {
			return listPage{}, err
		}
		lastErr = err
	}
	return listPage{}, fmt.Errorf("fetch %s page %d: retries exhausted: %w", resource, page, lastErr)
}

func (c *appfolioClient) doGet(ctx context.Context, endpoint string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
	}
	tok, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/json")

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		return c.http.Do(req)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusUnauthorized {
		// expired token: drop the cache so the next attempt re-authenticates
		c.invalidateToken()
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		if !apiErr.Transient() {
			return nil, permanent(apiErr)
		}
		return nil, apiErr
	}
	return body, nil
}

// ping verifies the credentials by fetching the first page of properties.
func (c *appfolioClient) ping(ctx context.Context) error {
	_, err := c.fetchPage(ctx, "properties", 1, fetchRange{})
	return err
}

func retryDelay(attempt int) time.Duration {
	delay := initialRetryDelay << uint(attempt-1)
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 4))
	return delay + jitter
}
