package modhub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func clientConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		ListingPath:    "/mods.php",
		DetailPath:     "/mod.php",
		RetryAttempts:  3,
		TimeoutSeconds: 5,
	}
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := NewClient(clientConfig(srv.URL), zap.NewNop())
	body, err := c.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.EqualValues(t, 3, hits.Load())
}

func TestFetchExhaustsRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := clientConfig(srv.URL)
	cfg.RetryAttempts = 2

	c := NewClient(cfg, zap.NewNop())
	_, err := c.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	se, ok := AsScrapeError(err)
	require.True(t, ok)
	assert.Equal(t, TransientFetch, se.Reason)
	assert.EqualValues(t, 2, hits.Load())
}

func TestFetchSendsUserAgent(t *testing.T) {
	var agent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	c := NewClient(clientConfig(srv.URL), zap.NewNop())
	_, err := c.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "farmhand-ingest/1.0", agent)
}

func TestDownloadSendsReferer(t *testing.T) {
	var referer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		referer = r.Header.Get("Referer")
	}))
	defer srv.Close()

	cfg := clientConfig(srv.URL)
	c := NewClient(cfg, zap.NewNop())
	_, err := c.Download(context.Background(), srv.URL+"/bigbud.zip")
	require.NoError(t, err)
	assert.Equal(t, srv.URL, referer)
}

func TestFetchPacesRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	cfg := clientConfig(srv.URL)
	cfg.PaceMillis = 100

	c := NewClient(cfg, zap.NewNop())

	start := time.Now()
	_, err := c.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	_, err = c.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestFetchHonorsCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(clientConfig(srv.URL), zap.NewNop())
	_, err := c.Fetch(ctx, srv.URL)
	require.Error(t, err)
}
