// Package middleware provides HTTP middleware for the staging service.
//
// It includes:
//   - Request IDs (X-Request-ID), reusing a valid incoming UUID
//   - Request logging in W3C Extended Log Format with staging keys redacted
//   - Prometheus request metrics labeled by route template
package middleware
