// Package metrics exposes the counters backing the admin STATS command
// as Prometheus instruments, registered on a private registry
// so multiple Runtime instances (as in tests) never collide on the
// default global one.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds every counter surfaced by the admin STATS command, plus
// the registry they live on for /metrics exposition.
type Metrics struct {
	Registry *prometheus.Registry

	AcceptedClients  prometheus.Counter
	ClientConns      prometheus.Gauge
	Requests         prometheus.Counter
	Responses        prometheus.Counter
	SendClientBytes  prometheus.Counter
	RecvClientBytes  prometheus.Counter
	SendBackendBytes prometheus.Counter
	RecvBackendBytes prometheus.Counter
}

// New constructs a Metrics bound to a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		AcceptedClients: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "redishard", Name: "accepted_clients_total",
			Help: "Total client connections accepted across the lifetime of the process.",
		}),
		ClientConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "redishard", Name: "client_connections",
			Help: "Currently open client connections.",
		}),
		Requests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "redishard", Name: "requests_total",
			Help: "Total client requests received.",
		}),
		Responses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "redishard", Name: "responses_total",
			Help: "Total replies delivered to clients.",
		}),
		SendClientBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "redishard", Name: "send_client_bytes_total",
			Help: "Total bytes written to client sockets.",
		}),
		RecvClientBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "redishard", Name: "recv_client_bytes_total",
			Help: "Total bytes read from client sockets.",
		}),
		SendBackendBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "redishard", Name: "send_backend_bytes_total",
			Help: "Total bytes written to backend sockets.",
		}),
		RecvBackendBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "redishard", Name: "recv_backend_bytes_total",
			Help: "Total bytes read from backend sockets.",
		}),
	}
	reg.MustRegister(
		m.AcceptedClients, m.ClientConns, m.Requests, m.Responses,
		m.SendClientBytes, m.RecvClientBytes, m.SendBackendBytes, m.RecvBackendBytes,
	)
	return m
}

// Snapshot is the STATS admin command's multi-line payload.
type Snapshot struct {
	AcceptedClients  float64
	ClientConns      float64
	Requests         float64
	Responses        float64
	SendClientBytes  float64
	RecvClientBytes  float64
	SendBackendBytes float64
	RecvBackendBytes float64
}

// Snapshot reads the current counter values for STATS rendering.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		AcceptedClients:  readCounter(m.AcceptedClients),
		ClientConns:      readGauge(m.ClientConns),
		Requests:         readCounter(m.Requests),
		Responses:        readCounter(m.Responses),
		SendClientBytes:  readCounter(m.SendClientBytes),
		RecvClientBytes:  readCounter(m.RecvClientBytes),
		SendBackendBytes: readCounter(m.SendBackendBytes),
		RecvBackendBytes: readCounter(m.RecvBackendBytes),
	}
}

func readCounter(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func readGauge(g prometheus.Gauge) float64 {
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}
