// Package metrics exposes Prometheus instrumentation for the identity
// vault, session manager, direct transport, offline bucket engine, and
// group control plane.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "kiyeovo"

// Registry is the Prometheus registry all Kiyeovo collectors register
// against. A dedicated registry (rather than prometheus.DefaultRegisterer)
// keeps test runs from colliding on global collector state.
var Registry = prometheus.NewRegistry()
