package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/feedwalker/api/schemas"
	"github.com/xkilldash9x/feedwalker/internal/config"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	return New(config.FetchConfig{
		Timeout:     2 * time.Second,
		MaxAttempts: 3,
		Headers:     map[string]string{"Referer": "https://www.instagram.com/"},
	}, zaptest.NewLogger(t))
}

func TestClientGet(t *testing.T) {
	t.Run("returns the body on success and sends headers", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "https://www.instagram.com/", r.Header.Get("Referer"))
			assert.Equal(t, "yes", r.Header.Get("X-Test"))
			assert.NotEmpty(t, r.Header.Get("User-Agent"))
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte("jpeg-bytes"))
		}))
		defer srv.Close()

		body, err := newTestClient(t).Get(context.Background(), srv.URL, map[string]string{"X-Test": "yes"}, time.Second)
		require.NoError(t, err)
		assert.Equal(t, []byte("jpeg-bytes"), body)
	})

	t.Run("non-2xx becomes an HTTPError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		_, err := newTestClient(t).Get(context.Background(), srv.URL, nil, time.Second)
		var httpErr *schemas.HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusForbidden, httpErr.StatusCode)
		assert.False(t, httpErr.Transient())
	})

	t.Run("honours the per call timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		start := time.Now()
		_, err := newTestClient(t).Get(context.Background(), srv.URL, nil, 50*time.Millisecond)
		require.Error(t, err)
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestRetryThroughClient(t *testing.T) {
	t.Run("recovers after transient server errors", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_, _ = w.Write([]byte("ok"))
		}))
		defer srv.Close()

		body, err := Retry(context.Background(), newTestClient(t), srv.URL, nil, Policy{MaxAttempts: 3, BaseTimeout: time.Second}, nil)
		require.NoError(t, err)
		assert.Equal(t, []byte("ok"), body)
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		_, err := Retry(context.Background(), newTestClient(t), srv.URL, nil, Policy{MaxAttempts: 3, BaseTimeout: time.Second}, nil)
		assert.ErrorIs(t, err, ErrExhausted)
		var httpErr *schemas.HTTPError
		assert.ErrorAs(t, err, &httpErr, "the last error stays inspectable")
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("timeout grows linearly per attempt", func(t *testing.T) {
		var timeouts []time.Duration
		f := Func(func(ctx context.Context, url string, headers map[string]string, timeout time.Duration) ([]byte, error) {
			timeouts = append(timeouts, timeout)
			return nil, errors.New("connection reset")
		})

		_, err := Retry(ctx, f, "https://cdn.example/a.jpg", nil, Policy{MaxAttempts: 3, BaseTimeout: 10 * time.Second}, nil)
		assert.ErrorIs(t, err, ErrExhausted)
		assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second, 30 * time.Second}, timeouts)
	})

	t.Run("permanent HTTP errors are not retried", func(t *testing.T) {
		calls := 0
		f := Func(func(ctx context.Context, url string, headers map[string]string, timeout time.Duration) ([]byte, error) {
			calls++
			return nil, &schemas.HTTPError{URL: url, StatusCode: http.StatusNotFound}
		})

		_, err := Retry(ctx, f, "https://cdn.example/a.jpg", nil, Policy{MaxAttempts: 3}, nil)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrExhausted)
		assert.Equal(t, 1, calls)
	})

	t.Run("too many requests is retried", func(t *testing.T) {
		calls := 0
		f := Func(func(ctx context.Context, url string, headers map[string]string, timeout time.Duration) ([]byte, error) {
			calls++
			if calls == 1 {
				return nil, &schemas.HTTPError{URL: url, StatusCode: http.StatusTooManyRequests}
			}
			return []byte("img"), nil
		})

		data, err := Retry(ctx, f, "https://cdn.example/a.jpg", nil, Policy{MaxAttempts: 3}, nil)
		require.NoError(t, err)
		assert.Equal(t, []byte("img"), data)
		assert.Equal(t, 2, calls)
	})

	t.Run("stops when the caller is cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		calls := 0
		f := Func(func(ctx context.Context, url string, headers map[string]string, timeout time.Duration) ([]byte, error) {
			calls++
			cancel()
			return nil, errors.New("boom")
		})

		_, err := Retry(cctx, f, "https://cdn.example/a.jpg", nil, Policy{MaxAttempts: 3, Backoff: time.Hour}, nil)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

func TestRateLimiterBlocksUntilCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := New(config.FetchConfig{RateLimit: 0.001, Burst: 1}, zaptest.NewLogger(t))
	_, err := c.Get(context.Background(), srv.URL, nil, time.Second)
	require.NoError(t, err, "the first request uses the burst")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Get(ctx, srv.URL, nil, time.Second)
	assert.Error(t, err)
}

func TestPolicyFromConfig(t *testing.T) {
	p := PolicyFromConfig(config.FetchConfig{Timeout: 10 * time.Second, MaxAttempts: 3})
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 10*time.Second, p.BaseTimeout)
}
