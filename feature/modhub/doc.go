// Package modhub scrapes the upstream ModHub listing into canonical
// records.
//
// The crawler walks the paginated listing newest first, fetches detail
// pages with bounded concurrency behind a single request pacer, and
// degrades gracefully: transient fetch failures are retried with backoff,
// format drift and exhausted retries become recorded failures instead of
// aborting the crawl.
package modhub
