// Package config provides configuration management for the farmhand service.
//
// It utilizes Viper for loading configuration from environment variables and
// an optional .env file, with defaults bound from struct tags.
//
// # Configuration Structure
//
// The Config struct is the central repository for all application settings,
// divided into subsections:
//   - Server: HTTP server settings (port, API key, game title)
//   - Database: MySQL connection details
//   - Storage: S3/MinIO credentials and bucket settings
//   - Log: Logging level and format
//   - ModHub: upstream base URL, pacing, retries, crawl concurrency
//   - Ingest: archive bounds and payload staging keys
//
// # Usage
//
//	cfg, err := config.LoadConfig(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.ModHub.BaseURL)
package config
