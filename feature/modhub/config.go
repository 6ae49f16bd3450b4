package modhub

import (
	"fmt"
	"net/url"
	"strings"
)

// Config holds configuration for the upstream ModHub scraper.
type Config struct {
	// Enabled toggles the scraper feature (routes and scheduled crawls).
	Enabled bool `mapstructure:"enabled" default:"true"`
	// BaseURL is the upstream site root.
	BaseURL string `mapstructure:"base_url" default:"https://www.farming-simulator.com"`
	// GameTitle selects the Farming Simulator release the upstream filters
	// by; it rides along on every listing and detail URL.
	GameTitle string `mapstructure:"game_title" default:"fs2025"`
	// ListingPath is the paginated mod listing page.
	ListingPath string `mapstructure:"listing_path" default:"/mods.php"`
	// DetailPath is the per-mod detail page.
	DetailPath string `mapstructure:"detail_path" default:"/mod.php"`
	// PaceMillis is the minimum interval between any two upstream requests.
	// The upstream publishes no rate limits; pacing is mandatory, not an
	// optimization.
	PaceMillis int `mapstructure:"pace_millis" default:"500"`
	// RetryAttempts bounds fetch retries for transient failures.
	RetryAttempts int `mapstructure:"retry_attempts" default:"3"`
	// Concurrency bounds in-flight detail page fetches.
	Concurrency int `mapstructure:"concurrency" default:"4"`
	// MaxPages caps a single crawl; zero means crawl until an empty page.
	MaxPages int `mapstructure:"max_pages" default:"0"`
	// TimeoutSeconds is the per-request HTTP timeout.
	TimeoutSeconds int `mapstructure:"timeout_seconds" default:"30"`
	// FetchDescriptors downloads each mod archive and normalizes the
	// embedded modDesc.xml to enrich scraped records.
	FetchDescriptors bool `mapstructure:"fetch_descriptors" default:"false"`
	// Schedule is an optional cron spec for periodic incremental crawls.
	Schedule string `mapstructure:"schedule" default:""`
	// Category restricts the crawl to one upstream filter (e.g. mapEurope).
	Category string `mapstructure:"category" default:""`
}

// Supported game titles.
const (
	GameTitleFS2025 = "fs2025"
	GameTitleFS2022 = "fs2022"
)

// IsValidGameTitle checks if the configured game title is supported.
// Empty is valid: the upstream then serves its default release.
func (c Config) IsValidGameTitle() bool {
	switch c.GameTitle {
	case "", GameTitleFS2025, GameTitleFS2022:
		return true
	default:
		return false
	}
}

// ListingURL builds the URL of one listing page, optionally filtered.
func (c Config) ListingURL(category string, page int) string {
	q := url.Values{}
	if c.GameTitle != "" {
		q.Set("title", c.GameTitle)
	}
	if category != "" {
		q.Set("filter", category)
	}
	if page > 1 {
		q.Set("page", fmt.Sprintf("%d", page))
	}
	u := strings.TrimSuffix(c.BaseURL, "/") + c.ListingPath
	if enc := q.Encode(); enc != "" {
		return u + "?" + enc
	}
	return u
}

// DetailURL builds the URL of one mod detail page.
func (c Config) DetailURL(slug string) string {
	q := url.Values{}
	q.Set("mod_id", slug)
	if c.GameTitle != "" {
		q.Set("title", c.GameTitle)
	}
	return strings.TrimSuffix(c.BaseURL, "/") + c.DetailPath + "?" + q.Encode()
}
