// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PagesFetched counts fetch completions, labeled by page class.
	PagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_pages_fetched_total",
		Help: "Total pages fetched, labeled by class (navigation, section).",
	}, []string{"class"})

	// FetchErrors counts gateway failures by kind.
	FetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_fetch_errors_total",
		Help: "Total fetch failures, labeled by failure kind.",
	}, []string{"kind"})

	// FetchRetries counts backoff retries of navigation fetches.
	FetchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_fetch_retries_total",
		Help: "Total navigation fetch retries.",
	})

	// SectionsDiscovered counts newly discovered section URLs.
	SectionsDiscovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_sections_discovered_total",
		Help: "Total unique section URLs discovered.",
	})

	// Outcomes counts terminal section outcomes by kind.
	Outcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_outcomes_total",
		Help: "Total terminal section outcomes, labeled by kind.",
	}, []string{"kind"})

	// OutOfScope counts recorded out-of-scope URLs.
	OutOfScope = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_out_of_scope_total",
		Help: "Total URLs recorded as out of the crawlable authority boundary.",
	})

	// UnreachableBranches counts navigation branches abandoned after retries.
	UnreachableBranches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_unreachable_branches_total",
		Help: "Total navigation branches that exhausted fetch retries.",
	})

	// Checkpoints counts checkpoint writes.
	Checkpoints = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_checkpoints_total",
		Help: "Total checkpoint snapshots written.",
	})

	// ActiveWorkers gauges extraction workers currently fetching.
	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvester_active_extract_workers",
		Help: "Extraction workers currently processing a section.",
	})
)
