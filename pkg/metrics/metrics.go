package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// registry is private so a cron-style invocation never inherits collectors
// registered by a library.
var registry = prometheus.NewRegistry()

var (
	// Client metrics
	JobsIngestedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "blockshred_jobs_ingested_total",
			Help: "Jobs successfully taken into custody by the client agent",
		},
	)

	IngestFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "blockshred_ingest_failures_total",
			Help: "Client ingest attempts that failed validation or the capability check",
		},
	)

	// Coordinator metrics
	StageTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockshred_stage_transitions_total",
			Help: "Master status writes by target stage",
		},
		[]string{"stage"},
	)

	LeaseContentionTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "blockshred_lease_contention_total",
			Help: "Lease acquisitions lost to another worker",
		},
	)

	// Worker metrics
	BlocksDiscoveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "blockshred_blocks_discovered_total",
			Help: "Block replicas written into worklists by discovery leaders",
		},
	)

	BlocksPreservedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "blockshred_blocks_preserved_total",
			Help: "Block files hardlinked outside the DFS lifecycle",
		},
	)

	BlockSearchFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockshred_block_search_failures_total",
			Help: "Local block searches that found zero or multiple matches",
		},
		[]string{"reason"},
	)

	StalledPeersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "blockshred_stalled_peers_total",
			Help: "Peer data nodes flagged stalled by a completion leader",
		},
	)

	// Shredder metrics
	BlocksShreddedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "blockshred_blocks_shredded_total",
			Help: "Preserved block files irrecoverably destroyed",
		},
	)

	ShredFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "blockshred_shred_failures_total",
			Help: "Shred primitive invocations that returned an error",
		},
	)
)

func init() {
	registry.MustRegister(
		JobsIngestedTotal,
		IngestFailuresTotal,
		StageTransitionsTotal,
		LeaseContentionTotal,
		BlocksDiscoveredTotal,
		BlocksPreservedTotal,
		BlockSearchFailuresTotal,
		StalledPeersTotal,
		BlocksShreddedTotal,
		ShredFailuresTotal,
	)
}
