// Package sinks implements progress consumers: structured logs, Prometheus
// collectors, and per-domain summaries sent through a crawler.Publisher.
package sinks
