package telemetry

import "github.com/prometheus/client_golang/prometheus"

// HTTPRequestDuration records request latency for every HTTP handler, keyed
// by method, route pattern, and response status. Registered by every mode.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "aegis",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	},
	[]string{"method", "route", "status"},
)

// GuardrailFindingsTotal counts pattern matches by category, severity, and
// the action taken against them (block, warn, mask).
var GuardrailFindingsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "aegis",
		Subsystem: "guardrails",
		Name:      "findings_total",
		Help:      "Total number of guardrail pattern matches by category, severity, and action.",
	},
	[]string{"category", "severity", "action"},
)

// GuardrailBlockedTotal counts requests blocked outright by the guardrails hook.
var GuardrailBlockedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "aegis",
		Subsystem: "guardrails",
		Name:      "blocked_total",
		Help:      "Total number of requests blocked by the guardrails hook, by level.",
	},
	[]string{"level"},
)

// GuardrailScanDuration records how long pattern scanning takes per call.
var GuardrailScanDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "aegis",
		Subsystem: "guardrails",
		Name:      "scan_duration_seconds",
		Help:      "Guardrails pattern scan duration in seconds.",
		Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
	},
)

// EnforcementInjectionsTotal counts prompts that had an enforcement preamble
// prepended, by level.
var EnforcementInjectionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "aegis",
		Subsystem: "enforcement",
		Name:      "injections_total",
		Help:      "Total number of calls that received an enforcement prompt prefix, by level.",
	},
	[]string{"level"},
)

// KeysIssuedTotal counts virtual keys issued by the provisioner, by scope.
var KeysIssuedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "aegis",
		Subsystem: "provisioner",
		Name:      "keys_issued_total",
		Help:      "Total number of virtual keys issued, by scope.",
	},
	[]string{"scope"},
)

// KeysResetTotal counts spend-reset operations performed by the provisioner.
var KeysResetTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "aegis",
		Subsystem: "provisioner",
		Name:      "keys_reset_total",
		Help:      "Total number of key spend resets performed.",
	},
)

// ReaperWorkspacesScannedTotal counts workspaces examined per reaper tick.
var ReaperWorkspacesScannedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "aegis",
		Subsystem: "reaper",
		Name:      "workspaces_scanned_total",
		Help:      "Total number of workspaces examined across all reaper ticks.",
	},
)

// ReaperStopsTotal counts stop attempts on idle workspaces, by outcome
// ("stopped" or "failed"). Dry-run decisions are not counted.
var ReaperStopsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "aegis",
		Subsystem: "reaper",
		Name:      "stops_total",
		Help:      "Total number of idle workspace stop attempts, by outcome (stopped or failed).",
	},
	[]string{"mode"},
)

// ReaperTickDuration records how long a full reaper pass takes.
var ReaperTickDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "aegis",
		Subsystem: "reaper",
		Name:      "tick_duration_seconds",
		Help:      "Duration of a full idle-workspace reaper tick in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	},
)

// UsageRecordsWrittenTotal counts usage records persisted by the recorder.
var UsageRecordsWrittenTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "aegis",
		Subsystem: "usage",
		Name:      "records_written_total",
		Help:      "Total number of usage records persisted.",
	},
)

// UsageRecordsDroppedTotal counts usage records dropped, either because the
// async writer's buffer was full or because the database write failed.
var UsageRecordsDroppedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "aegis",
		Subsystem: "usage",
		Name:      "records_dropped_total",
		Help:      "Total number of usage records dropped due to a full write buffer or a failed write.",
	},
)

// NewRegistry builds a Prometheus registry carrying the Go runtime and
// process collectors plus every collector in extra.
func NewRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}

// All returns every aegis-specific collector for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		HTTPRequestDuration,
		GuardrailFindingsTotal,
		GuardrailBlockedTotal,
		GuardrailScanDuration,
		EnforcementInjectionsTotal,
		KeysIssuedTotal,
		KeysResetTotal,
		ReaperWorkspacesScannedTotal,
		ReaperStopsTotal,
		ReaperTickDuration,
		UsageRecordsWrittenTotal,
		UsageRecordsDroppedTotal,
	}
}
