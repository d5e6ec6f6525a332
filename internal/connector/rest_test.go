package connector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestREST(t *testing.T, handler http.HandlerFunc) *restClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return newRESTClient("test-provider", srv.URL, "test-key", 0)
}

func TestRESTClientDecodesSuccess(t *testing.T) {
	c := newTestREST(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "acme.com", r.URL.Query().Get("domain"))
		w.Write([]byte(`{"name":"Acme"}`)) //nolint:errcheck
	})

	var out struct {
		Name string `json:"name"`
	}
	q := map[string][]string{"domain": {"acme.com"}}
	err := c.getJSON(context.Background(), "/v1/company", q, &out)
	require.NoError(t, err)
	assert.Equal(t, "Acme", out.Name)
}

func TestRESTClientMapsUnauthorized(t *testing.T) {
	c := newTestREST(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	err := c.getJSON(context.Background(), "/v1/person", nil, nil)
	require.Error(t, err)
	ae, ok := AsAuthError(err)
	require.True(t, ok)
	assert.Equal(t, "test-provider", ae.Provider)
}

func TestRESTClientMapsRateLimit(t *testing.T) {
	c := newTestREST(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "90")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	err := c.getJSON(context.Background(), "/v1/person", nil, nil)
	require.Error(t, err)
	re, ok := AsRateLimitError(err)
	require.True(t, ok)
	assert.Equal(t, 90*time.Second, re.RetryAfter)
}

func TestRESTClientRateLimitDefaultWait(t *testing.T) {
	c := newTestREST(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	err := c.getJSON(context.Background(), "/v1/person", nil, nil)
	re, ok := AsRateLimitError(err)
	require.True(t, ok)
	assert.Equal(t, defaultRetryAfter, re.RetryAfter)
}

func TestRESTClientMapsNotFound(t *testing.T) {
	c := newTestREST(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	err := c.getJSON(context.Background(), "/v1/person", nil, nil)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestRESTClientUnexpectedStatus(t *testing.T) {
	c := newTestREST(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream broke")) //nolint:errcheck
	})

	err := c.getJSON(context.Background(), "/v1/person", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	_, isAuth := AsAuthError(err)
	_, isRate := AsRateLimitError(err)
	assert.False(t, isAuth)
	assert.False(t, isRate)
}

func TestParseRetryAfter(t *testing.T) {
	h := http.Header{}
	assert.Equal(t, defaultRetryAfter, parseRetryAfter(h))

	h.Set("Retry-After", "12")
	assert.Equal(t, 12*time.Second, parseRetryAfter(h))

	h.Set("Retry-After", "not-a-number")
	assert.Equal(t, defaultRetryAfter, parseRetryAfter(h))

	h.Set("Retry-After", "-5")
	assert.Equal(t, defaultRetryAfter, parseRetryAfter(h))
}
