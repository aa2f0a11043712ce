package mdapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robinjoseph08/golib/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func testClient(serverURL string) *Client {
	c := &Client{
		httpClient:  &http.Client{Timeout: 5 * time.Second},
		apiURL:      serverURL,
		retryBudget: 3,
		base:        time.Millisecond,
		limiter:     rate.NewLimiter(rate.Inf, 1),
		log:         logger.New(),
	}
	c.tokens = &TokenManager{client: c, log: logger.New(), now: time.Now}
	return c
}

func TestDoSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/upload", r.URL.Path)
		assert.Contains(t, r.Header.Get("User-Agent"), "mdup/")
		w.Write([]byte(`{"data":{"id":"abc"}}`))
	}))
	defer srv.Close()

	resp, err := testClient(srv.URL).Do(context.Background(), Request{
		Method: http.MethodGet,
		Path:   "/upload",
	})
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, resp.Decode(&body))
	assert.Equal(t, "abc", body.Data.ID)
}

func TestDoWhitelistedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	resp, err := testClient(srv.URL).Do(context.Background(), Request{
		Method:  http.MethodGet,
		Path:    "/upload",
		OKCodes: []int{http.StatusNotFound},
	})
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDoRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	resp, err := testClient(srv.URL).Do(context.Background(), Request{
		Method: http.MethodGet,
		Path:   "/upload",
	})
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestDoExhaustsRetryBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Do(context.Background(), Request{
		Method: http.MethodGet,
		Path:   "/upload",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after all retries")
}

func TestDoTerminalFailureReturnsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errors":[{"status":400,"title":"bad_request","detail":"nope"}]}`))
	}))
	defer srv.Close()

	resp, err := testClient(srv.URL).Do(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "/upload/begin",
		JSON:   map[string]string{"manga": "id"},
	})
	require.NoError(t, err)
	assert.False(t, resp.OK)
	assert.Contains(t, resp.ErrorSummary(), "bad_request")
}

func TestDoRetryAllRetriesTerminalStatuses(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"errors":[{"status":400,"title":"bad_request"}]}`))
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	resp, err := testClient(srv.URL).Do(context.Background(), Request{
		Method:   http.MethodPost,
		Path:     "/upload/sess-1/commit",
		RetryAll: true,
	})
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestDoRetryAllReturnsLastFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	resp, err := testClient(srv.URL).Do(context.Background(), Request{
		Method:   http.MethodPost,
		Path:     "/upload/sess-1/commit",
		RetryAll: true,
	})
	require.NoError(t, err)
	assert.False(t, resp.OK)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestDoUnauthorizedWithoutCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	// Re-authentication has no credentials to work with, so the call
	// surfaces the login failure instead of looping.
	_, err := testClient(srv.URL).Do(context.Background(), Request{
		Method: http.MethodGet,
		Path:   "/upload",
	})
	require.Error(t, err)
}

func TestDoBearerHeader(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	c.tokens.access = "token-123"

	_, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/upload"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer token-123", auth)

	_, err = c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/upload", NoAuth: true})
	require.NoError(t, err)
	assert.Empty(t, auth)
}

func TestStatusIn(t *testing.T) {
	assert.True(t, statusIn(404, []int{401, 404}))
	assert.False(t, statusIn(500, []int{401, 404}))
	assert.False(t, statusIn(200, nil))
}
