package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
)

// APIError represents an error from the OKX API: an HTTP failure, or a
// 200 response whose envelope code is not "0".
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("okx api error %d (code %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("okx api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	// 50011 is OKX's "too many requests" business code.
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.Code == "50011"
}

// envelope wraps every OKX REST response.
type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// doRequest performs an HTTP request with the given method and path.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}

	return body, nil
}

// doWithRetry performs a request with exponential backoff retry.
func (c *Client) doWithRetry(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryBackoff
	bo.RandomizationFactor = 0.5

	op := func() ([]byte, error) {
		body, err := c.doRequest(ctx, method, path, query)
		if err == nil {
			return body, nil
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.IsRetryable() {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	body, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(c.maxRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug("retrying request",
				"path", path,
				"backoff", next,
				"error", err,
			)
		}),
	)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.IsRetryable() {
			return nil, fmt.Errorf("max retries exceeded: %w", err)
		}
		return nil, err
	}
	return body, nil
}

// get performs a GET request with retries and decodes the envelope's data
// array into result.
func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	body, err := c.doWithRetry(ctx, http.MethodGet, path, query)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if env.Code != "0" {
		return &APIError{StatusCode: http.StatusOK, Code: env.Code, Message: env.Msg, Body: body}
	}

	if err := json.Unmarshal(env.Data, result); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	return nil
}
