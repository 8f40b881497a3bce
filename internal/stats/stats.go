package stats

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metric names registered by the server and relay components.
const (
	ActiveConnections = "rendezvous_active_connections"
	ActiveRooms       = "rendezvous_active_rooms"
	MessagesSent      = "rendezvous_messages_sent_total"
	MessagesDelivered = "rendezvous_messages_delivered_total"
	TypingEvents      = "rendezvous_typing_events_total"
	ReadReceipts      = "rendezvous_read_receipts_total"
	RelayEvents       = "rendezvous_relay_events_total"
)

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
}

// StatsUpdater implements StatsProvider on top of a Prometheus registry.
// Every registered metric is a gauge so both Incr and Decr work uniformly;
// counters that only ever increase simply never see Decr.
type StatsUpdater struct {
	registry *prometheus.Registry
	mu       sync.Mutex
	gauges   map[string]prometheus.Gauge
}

func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	su := &StatsUpdater{
		registry: registry,
		gauges:   make(map[string]prometheus.Gauge),
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return su
}

func (su *StatsUpdater) RegisterMetric(name string) {
	su.mu.Lock()
	defer su.mu.Unlock()

	if _, ok := su.gauges[name]; ok {
		return
	}

	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name})
	su.registry.MustRegister(g)
	su.gauges[name] = g
}

func (su *StatsUpdater) Incr(name string) {
	su.mu.Lock()
	g, ok := su.gauges[name]
	su.mu.Unlock()
	if !ok {
		panic("metric not found: " + name)
	}

	g.Inc()
}

func (su *StatsUpdater) Decr(name string) {
	su.mu.Lock()
	g, ok := su.gauges[name]
	su.mu.Unlock()
	if !ok {
		panic("metric not found: " + name)
	}

	g.Dec()
}
