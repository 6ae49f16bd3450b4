package modhub

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newHubServer fakes the upstream: paginated listing plus detail pages.
// Pages absent from the map render empty, which terminates a crawl.
func newHubServer(pages map[int][][2]string, details map[string]string) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/mods.php", func(w http.ResponseWriter, r *http.Request) {
		page := 1
		if p := r.URL.Query().Get("page"); p != "" {
			page, _ = strconv.Atoi(p)
		}
		_, _ = w.Write([]byte(listingHTML(pages[page]...)))
	})
	mux.HandleFunc("/mod.php", func(w http.ResponseWriter, r *http.Request) {
		slug := r.URL.Query().Get("mod_id")
		body, ok := details[slug]
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(body))
	})
	return httptest.NewServer(mux)
}

func defaultDetail(title string) string {
	return detailHTML(title, map[string]string{
		labelAuthor:  "GIANTS Software",
		labelVersion: "1.0.0.0",
		labelSize:    "1 MB",
	}, "https://cdn.test/mod.zip")
}

func crawlerConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		ListingPath:    "/mods.php",
		DetailPath:     "/mod.php",
		RetryAttempts:  1,
		Concurrency:    2,
		TimeoutSeconds: 5,
	}
}

func recordSlugs(res *Result) []string {
	out := make([]string, 0, len(res.Records))
	for _, rec := range res.Records {
		out = append(out, rec.Slug)
	}
	return out
}

func TestCrawlStopsAtSinceCutoff(t *testing.T) {
	srv := newHubServer(map[int][][2]string{
		1: {{"alpha", "5"}, {"bravo", "3"}},
		2: {{"charlie", "1"}},
	}, map[string]string{
		"alpha":   defaultDetail("Alpha"),
		"bravo":   defaultDetail("Bravo"),
		"charlie": defaultDetail("Charlie"),
	})
	defer srv.Close()

	since := time.Unix(2, 0).UTC()
	cr := NewCrawler(crawlerConfig(srv.URL), zap.NewNop())
	res, err := cr.Crawl(context.Background(), &since)
	require.NoError(t, err)

	// The cutoff page's entries are still emitted; the crawl stops after it.
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, recordSlugs(res))
	assert.True(t, res.Complete)
	assert.Equal(t, 2, res.PagesFetched)
	assert.Empty(t, res.Failures)
}

func TestCrawlFullListing(t *testing.T) {
	srv := newHubServer(map[int][][2]string{
		1: {{"alpha", "5"}, {"bravo", "3"}},
		2: {{"charlie", "1"}},
	}, map[string]string{
		"alpha":   defaultDetail("Alpha"),
		"bravo":   defaultDetail("Bravo"),
		"charlie": defaultDetail("Charlie"),
	})
	defer srv.Close()

	cr := NewCrawler(crawlerConfig(srv.URL), zap.NewNop())
	res, err := cr.Crawl(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, recordSlugs(res))
	assert.True(t, res.Complete)
	// Two listing pages plus the empty terminator.
	assert.Equal(t, 3, res.PagesFetched)
}

func TestCrawlIsolatesDetailFailures(t *testing.T) {
	srv := newHubServer(map[int][][2]string{
		1: {{"alpha", "5"}, {"bravo", "3"}},
	}, map[string]string{
		"alpha": defaultDetail("Alpha"),
		// bravo's detail page answers 500
	})
	defer srv.Close()

	cr := NewCrawler(crawlerConfig(srv.URL), zap.NewNop())
	res, err := cr.Crawl(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha"}, recordSlugs(res))
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "bravo", res.Failures[0].Key)
	assert.True(t, res.Complete)
}

func TestCrawlDeduplicatesAcrossPages(t *testing.T) {
	// Pagination overlap during a concurrent upstream update: the same slug
	// shows up on two pages, the later sighting carries a newer timestamp.
	srv := newHubServer(map[int][][2]string{
		1: {{"alpha", "5"}},
		2: {{"alpha", "7"}},
	}, map[string]string{
		"alpha": defaultDetail("Alpha"),
	})
	defer srv.Close()

	cr := NewCrawler(crawlerConfig(srv.URL), zap.NewNop())
	res, err := cr.Crawl(context.Background(), nil)
	require.NoError(t, err)

	require.Len(t, res.Records, 1)
	assert.Equal(t, time.Unix(7, 0).UTC(), res.Records[0].UpstreamUpdatedAt)
}

func TestCrawlDedupKeepsNewerOnStaleResighting(t *testing.T) {
	srv := newHubServer(map[int][][2]string{
		1: {{"alpha", "7"}},
		2: {{"alpha", "5"}},
	}, map[string]string{
		"alpha": defaultDetail("Alpha"),
	})
	defer srv.Close()

	cr := NewCrawler(crawlerConfig(srv.URL), zap.NewNop())
	res, err := cr.Crawl(context.Background(), nil)
	require.NoError(t, err)

	require.Len(t, res.Records, 1)
	assert.Equal(t, time.Unix(7, 0).UTC(), res.Records[0].UpstreamUpdatedAt)
}

func TestCrawlAbortsAfterRepeatedPageFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cr := NewCrawler(crawlerConfig(srv.URL), zap.NewNop())
	res, err := cr.Crawl(context.Background(), nil)
	require.NoError(t, err)

	assert.False(t, res.Complete)
	assert.Len(t, res.Failures, maxConsecutivePageFailures)
	require.NotNil(t, res.NextCursor)
}

func TestCrawlHonorsMaxPages(t *testing.T) {
	srv := newHubServer(map[int][][2]string{
		1: {{"alpha", "5"}},
		2: {{"bravo", "3"}},
	}, map[string]string{
		"alpha": defaultDetail("Alpha"),
		"bravo": defaultDetail("Bravo"),
	})
	defer srv.Close()

	cfg := crawlerConfig(srv.URL)
	cfg.MaxPages = 1

	cr := NewCrawler(cfg, zap.NewNop())
	res, err := cr.Crawl(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha"}, recordSlugs(res))
	assert.Equal(t, 1, res.PagesFetched)
	assert.False(t, res.Complete)
	require.NotNil(t, res.NextCursor)
	assert.Equal(t, 2, res.NextCursor.Page)
}

func modArchive(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("modDesc.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<modDesc><author>GIANTS Software</author><version>1.2.0.0</version><title><en>Alpha</en></title></modDesc>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestCrawlEnrichmentRecordsChecksum(t *testing.T) {
	payload := modArchive(t)

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/mods.php", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "" {
			_, _ = w.Write([]byte(listingHTML([2]string{"alpha", "5"})))
			return
		}
		_, _ = w.Write([]byte(listingHTML()))
	})
	mux.HandleFunc("/mod.php", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(detailHTML("Alpha", map[string]string{
			labelAuthor:  "GIANTS Software",
			labelVersion: "1.2.0.0",
			labelSize:    "1 MB",
		}, srv.URL+"/download/alpha.zip")))
	})
	mux.HandleFunc("/download/alpha.zip", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	})

	cfg := crawlerConfig(srv.URL)
	cfg.FetchDescriptors = true

	cr := NewCrawler(cfg, zap.NewNop())
	res, err := cr.Crawl(context.Background(), nil)
	require.NoError(t, err)

	require.Len(t, res.Records, 1)
	sum := sha256.Sum256(payload)
	assert.Equal(t, hex.EncodeToString(sum[:]), res.Records[0].Checksum)
}

func TestCrawlHonorsCancellation(t *testing.T) {
	srv := newHubServer(nil, nil)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cr := NewCrawler(crawlerConfig(srv.URL), zap.NewNop())
	res, err := cr.Crawl(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res.NextCursor)
	assert.Equal(t, 1, res.NextCursor.Page)
	assert.Empty(t, res.Records)
}
