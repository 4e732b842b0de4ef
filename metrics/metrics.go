// Package metrics exposes the session and server negotiation protocol
// as Prometheus collectors, registered against a package-private
// Registry rather than the global default so a host process can mount
// it alongside its own metrics without collisions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dissent"

// Registry holds every collector this package registers.
var Registry = prometheus.NewRegistry()

// Handler returns the HTTP handler serving Registry in the Prometheus
// exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
