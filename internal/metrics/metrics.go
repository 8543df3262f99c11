// Package metrics exposes the Prometheus counters/gauges the request
// handler and replication manager increment, served on /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// RequestsTotal counts client RPCs by service and outcome status.
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "msgcluster_requests_total",
		Help: "Client RPCs processed, by service and reply status.",
	}, []string{"service", "status"})

	// ReplicationPushesTotal counts outbound replication pushes by kind
	// and outcome.
	ReplicationPushesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "msgcluster_replication_pushes_total",
		Help: "Replication pushes sent to peers, by kind and outcome.",
	}, []string{"kind", "outcome"})

	// BerkeleyRoundsTotal counts completed Berkeley synchronization
	// rounds run by the coordinator.
	BerkeleyRoundsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "msgcluster_berkeley_rounds_total",
		Help: "Berkeley synchronization rounds completed.",
	}, []string{"outcome"})

	// ElectionsTotal counts Bully elections by terminal outcome.
	ElectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "msgcluster_elections_total",
		Help: "Bully elections started, by terminal outcome.",
	}, []string{"outcome"})

	// CoordinatorGauge is 1 when this replica believes it is coordinator.
	CoordinatorGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "msgcluster_is_coordinator",
		Help: "1 if this replica currently considers itself coordinator.",
	})
)

func init() {
	prometheus.MustRegister(RequestsTotal, ReplicationPushesTotal, BerkeleyRoundsTotal, ElectionsTotal, CoordinatorGauge)
}
