// Copyright (C) 2026 Aegis VPN. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes Prometheus instruments for the firewall core,
// following the counter/gauge-vec shape used by the eBPF metrics
// collector elsewhere in this codebase.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus instruments for chain/anchor/reconcile
// activity.
type Metrics struct {
	KernelCommandsTotal *prometheus.CounterVec
	KernelCommandErrors *prometheus.CounterVec

	AnchorsReplaced    prometheus.Counter
	ReconcileNoopTotal prometheus.Counter
	ReconcileRunTotal  prometheus.Counter

	RouteLocalnetToggles prometheus.Counter
}

// NewMetrics builds a fresh, unregistered Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		KernelCommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fwcore_kernel_commands_total",
			Help: "Total number of iptables/ip6tables/ip/sysctl invocations issued.",
		}, []string{"tool"}),

		KernelCommandErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fwcore_kernel_command_errors_total",
			Help: "Total number of kernel command invocations that returned a non-zero exit code.",
		}, []string{"tool"}),

		AnchorsReplaced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fwcore_anchors_replaced_total",
			Help: "Total number of anchor chains flushed and repopulated by the reconciler.",
		}),

		ReconcileNoopTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fwcore_reconcile_noop_total",
			Help: "Total number of UpdateRules calls that made no kernel mutation because nothing changed.",
		}),

		ReconcileRunTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fwcore_reconcile_run_total",
			Help: "Total number of UpdateRules calls.",
		}),

		RouteLocalnetToggles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fwcore_route_localnet_toggles_total",
			Help: "Total number of net.ipv4.conf.all.route_localnet enable/restore transitions made by the reconciler; a transition writes the sysctl only when its value has to change.",
		}),
	}
}

// Register registers every instrument with the default Prometheus registry.
func (m *Metrics) Register() {
	prometheus.MustRegister(
		m.KernelCommandsTotal,
		m.KernelCommandErrors,
		m.AnchorsReplaced,
		m.ReconcileNoopTotal,
		m.ReconcileRunTotal,
		m.RouteLocalnetToggles,
	)
}
