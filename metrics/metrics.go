// Package metrics exposes the daemon's counters through
// github.com/VictoriaMetrics/metrics, the same library the channel-core's
// dependency stack uses elsewhere in the pack for self-registering,
// pull-scraped process metrics. Names follow the library's
// label-in-name convention rather than a separate labels map.
package metrics

import (
	"io"

	"github.com/VictoriaMetrics/metrics"
)

var (
	// ConnectionsAccepted counts every accepted client connection.
	ConnectionsAccepted = metrics.NewCounter("objcached_connections_accepted_total")

	// ConnectionsActive tracks currently open client connections.
	ConnectionsActive = metrics.NewCounter("objcached_connections_active")

	// StoreBytesTotal sums attachment bytes written across all StoreReq parts.
	StoreBytesTotal = metrics.NewCounter("objcached_store_bytes_total")

	// ListingPagesTotal counts ListReply pages served.
	ListingPagesTotal = metrics.NewCounter("objcached_listing_pages_total")

	// DetachBroadcasts counts AskToDetach invocations.
	DetachBroadcasts = metrics.NewCounter("objcached_detach_broadcasts_total")
)

// RequestsTotal returns the per-kind request counter, creating it on first
// use. VictoriaMetrics/metrics interns counters by their fully formatted
// name, so repeated calls with the same kind are cheap.
func RequestsTotal(kind string) *metrics.Counter {
	return metrics.GetOrCreateCounter(`objcached_requests_total{kind="` + kind + `"}`)
}

// WritePrometheus writes every registered metric in Prometheus exposition
// format, for an HTTP handler to serve.
func WritePrometheus(w io.Writer, exposeProcessMetrics bool) {
	metrics.WritePrometheus(w, exposeProcessMetrics)
}
