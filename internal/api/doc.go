// Package api hosts the HTTP server, middleware, and the JSON-RPC 2.0
// control surface. Notable routes:
//   - POST /rpc for the state_* methods (status, search, deletes, recrawl,
//     pause, plugins, lenses).
//   - GET /healthz and /readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
package api
