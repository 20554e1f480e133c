// Package metrics provides observability for vmap using Prometheus metrics.
// It tracks the lifecycle of memory mappings (allocations, protection
// transitions, splits, releases) and the progress of address-space
// enumeration.
//
// All metrics use promauto and register against the default registry, so a
// process that already serves /metrics picks them up without extra wiring.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MappingsCreated counts mappings produced by terminal builder calls,
	// labeled by the initial protection state.
	MappingsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vmap",
		Name:      "mappings_created_total",
		Help:      "Total memory mappings created, by initial protection state",
	}, []string{"state"})

	// MappingsReleased counts mappings torn down.
	MappingsReleased = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vmap",
		Name:      "mappings_released_total",
		Help:      "Total memory mappings released",
	})

	// MappedBytes tracks the bytes currently mapped through this library.
	MappedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vmap",
		Name:      "mapped_bytes",
		Help:      "Bytes currently mapped through vmap",
	})

	// Transitions counts protection transitions, labeled by target state and
	// outcome.
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vmap",
		Name:      "transitions_total",
		Help:      "Protection transitions performed, by target state and outcome",
	}, []string{"target", "outcome"})

	// Splits counts mapping splits.
	Splits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vmap",
		Name:      "splits_total",
		Help:      "Mapping splits performed",
	})

	// AreasDecoded counts region records decoded during enumeration, labeled
	// by outcome.
	AreasDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vmap",
		Name:      "areas_decoded_total",
		Help:      "Region records decoded during enumeration, by outcome",
	}, []string{"outcome"})
)

// Outcome label values.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)
