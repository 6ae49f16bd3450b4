// Package server holds the HTTP server configuration.
//
// It defines the port and API key used by the Fiber application, plus the
// Farming Simulator game title the ingestion pipeline targets. The title
// selects which ModHub catalogue is crawled; it does not change any parsing
// logic.
package server
