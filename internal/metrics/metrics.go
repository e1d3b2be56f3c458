// Package metrics exposes the signaling server's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics carries the store server's collectors on a private registry, so
// tests can build as many instances as they need.
type Metrics struct {
	registry *prometheus.Registry

	StorePuts     *prometheus.CounterVec
	Clients       prometheus.Gauge
	Subscriptions prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		StorePuts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peercall",
			Subsystem: "store",
			Name:      "puts_total",
			Help:      "Accepted document writes, by record kind.",
		}, []string{"kind"}),
		Clients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "peercall",
			Subsystem: "store",
			Name:      "clients",
			Help:      "Connected websocket clients.",
		}),
		Subscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "peercall",
			Subsystem: "store",
			Name:      "subscriptions",
			Help:      "Live prefix subscriptions.",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
