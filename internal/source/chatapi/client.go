package chatapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kangarko/inbox-engine/internal/source"
)

// Client is a thin HTTP client for the messaging platform REST API.
// It handles Bearer token authentication, JSON unmarshaling, and
// automatic retry with exponential backoff on HTTP 429.
type Client struct {
	baseURL    string
	token      string
	sourceName string
	httpClient *http.Client
	maxRetries int
}

// NewClient creates a new platform HTTP client. The baseURL should be
// the root URL of the API. The token is the bearer credential attached
// to every request.
func NewClient(baseURL, token, sourceName string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		sourceName: sourceName,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxRetries: 3,
	}
}

// Get performs an HTTP GET request and unmarshals the JSON response.
func (c *Client) Get(
	ctx context.Context,
	path string,
	result interface{},
) error {
	url := c.baseURL + path

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(
			ctx, http.MethodGet, url, nil,
		)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("executing request GET %s: %w", path, err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("reading response body: %w", readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			waitDuration := retryAfterDuration(resp, attempt)
			lastErr = fmt.Errorf(
				"rate limited (429) on GET %s", path,
			)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitDuration):
				continue
			}
		}

		if resp.StatusCode == http.StatusUnauthorized {
			return &source.AuthError{
				SourceName: c.sourceName,
				Message: fmt.Sprintf(
					"authentication failed (401): check the "+
						"bearer token for %s", c.baseURL,
				),
			}
		}

		if resp.StatusCode == http.StatusNotFound {
			return &source.UnavailableError{
				SourceName: c.sourceName,
				Message: fmt.Sprintf(
					"not found (404) on GET %s", path,
				),
			}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			var errBody struct {
				Error *APIError `json:"error"`
			}
			if json.Unmarshal(respBody, &errBody) == nil &&
				errBody.Error != nil {
				return fmt.Errorf(
					"platform API error (%d) on GET %s: %s (%s)",
					resp.StatusCode, path,
					errBody.Error.Message, errBody.Error.Type,
				)
			}
			return fmt.Errorf(
				"unexpected status %d on GET %s: %s",
				resp.StatusCode, path, string(respBody),
			)
		}

		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf(
				"unmarshaling response from GET %s: %w", path, err,
			)
		}

		return nil
	}

	return fmt.Errorf(
		"max retries (%d) exceeded: %w", c.maxRetries, lastErr,
	)
}

// FollowPages walks a cursor-paginated message listing until the
// platform returns no next cursor. On a page fetch error, or a page
// whose body carries an application-level error object, pagination
// halts and the already-accumulated messages are returned with a
// PageError; a first-page failure propagates as-is.
func (c *Client) FollowPages(
	ctx context.Context,
	path string,
	limit int,
) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}

	var all []Message
	cursor := ""
	pageNum := 0

	for {
		pageNum++

		separator := "?"
		if strings.Contains(path, "?") {
			separator = "&"
		}
		pagePath := fmt.Sprintf("%s%slimit=%d", path, separator, limit)
		if cursor != "" {
			pagePath += "&cursor=" + cursor
		}

		var page MessagePage
		if err := c.Get(ctx, pagePath, &page); err != nil {
			if len(all) == 0 {
				return nil, err
			}
			return all, &source.PageError{
				SourceName: c.sourceName,
				Page:       pageNum,
				Err:        err,
			}
		}

		if page.Error != nil {
			err := fmt.Errorf(
				"platform error %d (%s): %s",
				page.Error.Code, page.Error.Type, page.Error.Message,
			)
			if len(all) == 0 {
				return nil, err
			}
			return all, &source.PageError{
				SourceName: c.sourceName,
				Page:       pageNum,
				Err:        err,
			}
		}

		all = append(all, page.Data...)

		// An empty cursor ends pagination; anything else would loop
		// forever on a misbehaving backend.
		if page.Paging.Next == "" {
			return all, nil
		}
		cursor = page.Paging.Next
	}
}

// retryAfterDuration reads the Retry-After header and computes a wait
// duration. Falls back to exponential backoff if the header is missing.
func retryAfterDuration(resp *http.Response, attempt int) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}

	// Exponential backoff: 1s, 2s, 4s, ...
	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}
