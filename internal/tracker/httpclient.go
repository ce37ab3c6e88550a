package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// HTTPClient is the shipped Client implementation: a REST binding to an
// external issue tracker, throttled client-side and honoring the tracker's
// rate-limit signal (§4.2 Failure semantics "honor tracker's retry-after
// signal; never spin").
type HTTPClient struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// HTTPClientConfig configures an HTTPClient.
type HTTPClientConfig struct {
	BaseURL   string
	AuthToken string

	// RequestsPerSecond bounds the sustained client-side call rate
	// (§4.2, throttling grounded on the teacher's server-side
	// golang.org/x/time/rate usage in internal/api/middleware/ratelimit.go,
	// applied here on the outbound side instead).
	RequestsPerSecond float64

	// Burst allows short bursts above RequestsPerSecond.
	Burst int

	// Timeout bounds a single HTTP round trip.
	Timeout time.Duration
}

// NewHTTPClient constructs an HTTPClient. Zero-value RequestsPerSecond/Burst
// fall back to a conservative default (5 rps, burst 10).
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 10
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &HTTPClient{
		baseURL:    cfg.BaseURL,
		authToken:  cfg.AuthToken,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
	}
}

type wireItem struct {
	Ref      string   `json:"ref"`
	Title    string   `json:"title"`
	Status   string   `json:"status"`
	Body     string   `json:"body"`
	Labels   []string `json:"labels"`
	Assignee string   `json:"assignee"`
}

type wirePage struct {
	Items     []wireItem `json:"items"`
	NextToken string     `json:"next_token"`
	HasMore   bool       `json:"has_more"`
}

func (it wireItem) toItem() Item {
	return Item{Ref: it.Ref, Title: it.Title, Status: it.Status, Body: it.Body, Labels: it.Labels, Assignee: it.Assignee}
}

// ListPage fetches one page of items changed since the given cursor.
func (c *HTTPClient) ListPage(ctx context.Context, since string) (Page, error) {
	q := url.Values{}
	if since != "" {
		q.Set("since", since)
	}

	var wp wirePage
	if err := c.do(ctx, http.MethodGet, "/items?"+q.Encode(), &wp); err != nil {
		return Page{}, err
	}

	page := Page{NextToken: wp.NextToken, HasMore: wp.HasMore}
	for _, it := range wp.Items {
		page.Items = append(page.Items, it.toItem())
	}
	return page, nil
}

// GetByRef fetches a single item by its external reference.
func (c *HTTPClient) GetByRef(ctx context.Context, ref string) (Item, bool, error) {
	var wi wireItem
	err := c.do(ctx, http.MethodGet, "/items/"+url.PathEscape(ref), &wi)
	if err != nil {
		if err == errNotFound {
			return Item{}, false, nil
		}
		return Item{}, false, err
	}
	return wi.toItem(), true, nil
}

// CreateItem pushes a new item to the tracker and returns its assigned
// reference.
func (c *HTTPClient) CreateItem(ctx context.Context, item Item) (string, error) {
	body, err := json.Marshal(wireItem{Title: item.Title, Status: item.Status, Body: item.Body, Labels: item.Labels})
	if err != nil {
		return "", fmt.Errorf("tracker: encode create item: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("tracker: rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/items", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("tracker: build create request: %w", err)
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("tracker: create item request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("tracker: create item failed with status %d", resp.StatusCode)
	}

	var created wireItem
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("tracker: decode create item response: %w", err)
	}

	return created.Ref, nil
}

var errNotFound = fmt.Errorf("tracker: item not found")

// do issues one throttled HTTP request and decodes the JSON body into out.
// A 429 response honors Retry-After by waiting before returning a
// retryable error; the caller's backoff loop does the actual retry.
func (c *HTTPClient) do(ctx context.Context, method, path string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("tracker: rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("tracker: build request: %w", err)
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tracker: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		wait := retryAfterDuration(resp.Header.Get("Retry-After"))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
		return fmt.Errorf("tracker: rate limited on %s, retry-after honored", path)
	case resp.StatusCode >= 500:
		return fmt.Errorf("tracker: server error %d on %s", resp.StatusCode, path)
	case resp.StatusCode >= 400:
		return fmt.Errorf("tracker: client error %d on %s", resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("tracker: decode response from %s: %w", path, err)
	}
	return nil
}

func retryAfterDuration(header string) time.Duration {
	if header == "" {
		return time.Second
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(header); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return time.Second
}
