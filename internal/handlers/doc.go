// Package handlers provides HTTP request handlers for the media indexer API.
//
// It includes handlers for:
//   - Record and folder lookups
//   - Scan, quiet-scan and verification triggers
//   - Priority metadata requests
//   - Health checks, library stats and version info
package handlers
