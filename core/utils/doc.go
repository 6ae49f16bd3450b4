// Package utils provides common utility functions for the farmhand service.
// It includes helpers for file size formatting and parsing, version string
// comparison and other shared logic that doesn't fit into domain-specific
// packages.
package utils
