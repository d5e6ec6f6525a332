package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const defaultRetryAfter = 30 * time.Second

// restClient is the shared HTTP plumbing for REST-style providers. It maps
// provider status codes into the connector error taxonomy so individual
// connectors only deal with normalized fields.
type restClient struct {
	provider string
	baseURL  string
	apiKey   string
	http     *http.Client
	limiter  *rate.Limiter
}

func newRESTClient(provider, baseURL, apiKey string, rps float64) *restClient {
	c := &restClient{
		provider: provider,
		baseURL:  baseURL,
		apiKey:   apiKey,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	if rps > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
	}
	return c
}

func (c *restClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, query, nil, out)
}

func (c *restClient) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrapf(err, "%s: rate limit wait", c.provider)
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return eris.Wrapf(err, "%s: marshal request", c.provider)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return eris.Wrapf(err, "%s: create request", c.provider)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrapf(err, "%s: send request", c.provider)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrapf(err, "%s: read response", c.provider)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return NewAuthError(c.provider, eris.Errorf("status %d: %s", resp.StatusCode, truncate(respBody)))
	case resp.StatusCode == http.StatusTooManyRequests:
		return NewRateLimitError(c.provider, parseRetryAfter(resp.Header), eris.Errorf("status 429: %s", truncate(respBody)))
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return eris.Errorf("%s: unexpected status %d: %s", c.provider, resp.StatusCode, truncate(respBody))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return eris.Wrapf(err, "%s: unmarshal response", c.provider)
		}
	}
	return nil
}

// parseRetryAfter reads the Retry-After header, seconds form only, falling
// back to a conservative default.
func parseRetryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return defaultRetryAfter
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return defaultRetryAfter
	}
	return time.Duration(secs) * time.Second
}

func truncate(b []byte) string {
	const maxLen = 256
	if len(b) > maxLen {
		return string(b[:maxLen]) + "..."
	}
	return string(b)
}
