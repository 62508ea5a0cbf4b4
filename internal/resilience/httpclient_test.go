package resilience

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func flakyServer(failures int32) (*httptest.Server, *int32) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n <= failures {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	return srv, &calls
}

func TestDoRetriesGetOnServerError(t *testing.T) {
	srv, calls := flakyServer(2)
	defer srv.Close()

	c := &Client{HTTP: srv.Client(), MaxAttempts: 3, BaseBackoff: time.Millisecond, Timeout: time.Second}
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, body, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", string(body))
	require.EqualValues(t, 3, atomic.LoadInt32(calls))
}

func TestDoNeverRetriesPost(t *testing.T) {
	srv, calls := flakyServer(1)
	defer srv.Close()

	c := &Client{HTTP: srv.Client(), MaxAttempts: 3, BaseBackoff: time.Millisecond, Timeout: time.Second}
	req, err := http.NewRequest(http.MethodPost, srv.URL, nil)
	require.NoError(t, err)

	_, _, err = c.Do(context.Background(), req)
	require.Error(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestDoReturns4xxWithoutRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": "Bad signature"}`))
	}))
	defer srv.Close()

	c := &Client{HTTP: srv.Client(), MaxAttempts: 3, BaseBackoff: time.Millisecond, Timeout: time.Second}
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, body, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, `{"error": "Bad signature"}`, string(body))
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestDoOpenBreakerRejectsImmediately(t *testing.T) {
	srv, calls := flakyServer(0)
	defer srv.Close()

	b := NewBreaker(1, 0.5, time.Minute)
	b.Report(false)

	c := &Client{HTTP: srv.Client(), Breaker: b, MaxAttempts: 3, Timeout: time.Second}
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	_, _, err = c.Do(context.Background(), req)
	require.ErrorIs(t, err, ErrOpenCircuit)
	require.Zero(t, atomic.LoadInt32(calls))
}

func TestDoHonorsContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := &Client{HTTP: srv.Client(), MaxAttempts: 3, BaseBackoff: time.Second, Timeout: time.Second}
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	_, _, err = c.Do(ctx, req)
	require.ErrorIs(t, err, context.Canceled)
}
