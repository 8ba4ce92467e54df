package jobs

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ArCaneSec/watcher/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func target(url string) models.WatchTarget {
	t := models.WatchTarget{URL: url, CheckIntervalSeconds: 60, Enabled: true}
	t.ID = 1
	return t
}

func TestPollSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "watcher-test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	p := NewPoller(WithUserAgent("watcher-test"))
	defer p.Close()

	check := p.Poll(context.Background(), target(srv.URL))

	assert.Equal(t, uint(1), check.TargetID)
	require.NotNil(t, check.StatusCode)
	assert.Equal(t, http.StatusOK, *check.StatusCode)
	assert.True(t, check.IsSuccess)
	assert.Nil(t, check.ErrorMessage)
	assert.False(t, check.ContentChanged)

	require.NotNil(t, check.ContentHash)
	assert.Equal(t, Fingerprint([]byte("hello")), *check.ContentHash)
	require.NotNil(t, check.ContentBody)
	assert.Equal(t, "hello", *check.ContentBody)
	require.NotNil(t, check.ContentLength)
	assert.Equal(t, 5, *check.ContentLength)
	require.NotNil(t, check.ContentType)
	assert.Equal(t, "text/plain", *check.ContentType)

	assert.GreaterOrEqual(t, check.ResponseTimeMs, 0.0)
	assert.WithinDuration(t, time.Now(), check.CheckedAt, 5*time.Second)
}

func TestPollNotFoundStillFingerprinted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone fishing", http.StatusNotFound)
	}))
	defer srv.Close()

	check := NewPoller().Poll(context.Background(), target(srv.URL))

	require.NotNil(t, check.StatusCode)
	assert.Equal(t, http.StatusNotFound, *check.StatusCode)
	assert.False(t, check.IsSuccess)
	assert.Nil(t, check.ErrorMessage)
	require.NotNil(t, check.ContentHash)
	assert.Equal(t, Fingerprint([]byte("gone fishing\n")), *check.ContentHash)
}

func TestPollRedirectCountsAsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	check := NewPoller().Poll(context.Background(), target(srv.URL))
	require.NotNil(t, check.StatusCode)
	assert.True(t, check.IsSuccess)
}

func TestPollUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	check := NewPoller().Poll(context.Background(), target(url))

	assert.Nil(t, check.StatusCode)
	assert.False(t, check.IsSuccess)
	assert.Nil(t, check.ContentHash)
	assert.Nil(t, check.ContentBody)
	require.NotNil(t, check.ErrorMessage)
	assert.NotEmpty(t, *check.ErrorMessage)
}

func TestPollTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	start := time.Now()
	check := NewPoller(WithPollTimeout(50*time.Millisecond)).Poll(context.Background(), target(srv.URL))

	assert.Less(t, time.Since(start), time.Second)
	assert.Nil(t, check.StatusCode)
	assert.False(t, check.IsSuccess)
	require.NotNil(t, check.ErrorMessage)
	assert.Contains(t, *check.ErrorMessage, "timeout")
}

func TestPollInvalidURL(t *testing.T) {
	check := NewPoller().Poll(context.Background(), target("http://bad host/"))

	assert.Nil(t, check.StatusCode)
	require.NotNil(t, check.ErrorMessage)
}

func TestPollSanitizesStoredBody(t *testing.T) {
	raw := []byte{'o', 'k', 0x00, 0xff, '!'}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(raw)
	}))
	defer srv.Close()

	check := NewPoller().Poll(context.Background(), target(srv.URL))

	require.NotNil(t, check.ContentBody)
	assert.Equal(t, "ok�!", *check.ContentBody)
	assert.Equal(t, Fingerprint(raw), *check.ContentHash)
	assert.Equal(t, len(raw), *check.ContentLength)
}

func TestPollBodyReadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("partial"))

		hj, ok := w.(http.Hijacker)
		if !ok {
			return
		}
		conn, buf, err := hj.Hijack()
		if err != nil {
			return
		}
		_ = buf.Flush()
		_ = conn.Close()
	}))
	defer srv.Close()

	check := NewPoller().Poll(context.Background(), target(srv.URL))

	assert.Nil(t, check.StatusCode)
	assert.False(t, check.IsSuccess)
	assert.Nil(t, check.ContentHash)
	assert.Nil(t, check.ContentBody)
	assert.Nil(t, check.ContentLength)
	assert.Nil(t, check.ContentType)
	require.NotNil(t, check.ErrorMessage)
	assert.Contains(t, *check.ErrorMessage, "read body")
}

func TestPollOversizedBody(t *testing.T) {
	head := bytes.Repeat([]byte("a"), MaxBodyBytes)
	full := append(append([]byte{}, head...), []byte("tail-1")...)
	other := append(append([]byte{}, head...), []byte("tail-2")...)

	var served atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(served.Load().([]byte))
	}))
	defer srv.Close()

	p := NewPoller()
	defer p.Close()

	served.Store(full)
	first := p.Poll(context.Background(), target(srv.URL))
	require.Nil(t, first.ErrorMessage)
	require.NotNil(t, first.ContentLength)
	assert.Equal(t, len(full), *first.ContentLength)
	require.NotNil(t, first.ContentBody)
	assert.Len(t, *first.ContentBody, MaxBodyBytes)
	assert.Equal(t, Fingerprint(full), *first.ContentHash)

	// a difference past the stored prefix still changes the fingerprint
	served.Store(other)
	second := p.Poll(context.Background(), target(srv.URL))
	require.NotNil(t, second.ContentHash)
	assert.NotEqual(t, *first.ContentHash, *second.ContentHash)
}
