// Package middleware provides HTTP middleware for the media indexer API.
//
// It includes:
//   - Request logging in W3C Extended Log Format
//   - Prometheus request metrics with path normalization
//   - Configurable filtering for health checks and noisy paths
package middleware
