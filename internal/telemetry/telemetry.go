// Package telemetry exposes the narrow Recorder interface the sandbox core
// calls into after a run/wasm/micro/agent operation completes. Emission
// itself — registering collectors, serving /metrics — is an external
// collaborator's job; this package only defines what the core is allowed to
// record and a Prometheus-backed implementation of it.
package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder is the metrics surface the sandbox core is permitted to call.
// It never returns an error: telemetry emission must never fail an
// operation that otherwise succeeded.
type Recorder interface {
	RunCompleted(program string, d time.Duration, exitCode int)
	WasmInvoked(d time.Duration, fuelConsumed uint64, trapped bool)
	MicroInstanceStarted(image string)
	MicroInstanceStopped(image string)
	AgentTaskFinished(kind string, status string, d time.Duration)
}

// noop discards everything; used where no Recorder is configured.
type noop struct{}

func (noop) RunCompleted(string, time.Duration, int)     {}
func (noop) WasmInvoked(time.Duration, uint64, bool)      {}
func (noop) MicroInstanceStarted(string)                  {}
func (noop) MicroInstanceStopped(string)                  {}
func (noop) AgentTaskFinished(string, string, time.Duration) {}

// Noop returns a Recorder that discards every observation.
func Noop() Recorder { return noop{} }

// Prometheus is a Recorder backed by promauto-registered collectors.
type Prometheus struct {
	runDuration      *prometheus.HistogramVec
	wasmDuration     prometheus.Histogram
	wasmFuelConsumed prometheus.Histogram
	wasmTrapsTotal   prometheus.Counter
	microInstances   *prometheus.GaugeVec
	agentDuration    *prometheus.HistogramVec
	agentOutcomes    *prometheus.CounterVec
}

// NewPrometheus registers the sandbox's collectors against reg and returns
// them wrapped as a Recorder. Pass nil to register against
// prometheus.DefaultRegisterer; tests should pass a fresh prometheus.NewRegistry()
// so repeated calls within one process don't collide on metric names.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Prometheus{
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cyberdevstudio",
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Process runner execution duration in seconds, by program and exit code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"program", "exit_code"}),

		wasmDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cyberdevstudio",
			Subsystem: "wasm",
			Name:      "invoke_duration_seconds",
			Help:      "WebAssembly invocation wall-clock duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		wasmFuelConsumed: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cyberdevstudio",
			Subsystem: "wasm",
			Name:      "fuel_consumed",
			Help:      "Approximate fuel units consumed per invocation.",
			Buckets:   prometheus.ExponentialBuckets(1000, 10, 6),
		}),
		wasmTrapsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cyberdevstudio",
			Subsystem: "wasm",
			Name:      "traps_total",
			Help:      "Total number of WebAssembly invocations that trapped.",
		}),

		microInstances: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cyberdevstudio",
			Subsystem: "micro",
			Name:      "instances",
			Help:      "Current number of running micro-VM instances, by image.",
		}, []string{"image"}),

		agentDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cyberdevstudio",
			Subsystem: "agent",
			Name:      "task_duration_seconds",
			Help:      "Agent dispatch task duration in seconds, by kind and terminal status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind", "status"}),
		agentOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cyberdevstudio",
			Subsystem: "agent",
			Name:      "task_outcomes_total",
			Help:      "Total agent tasks reaching a terminal status, by kind and status.",
		}, []string{"kind", "status"}),
	}
}

func (p *Prometheus) RunCompleted(program string, d time.Duration, exitCode int) {
	p.runDuration.WithLabelValues(program, strconv.Itoa(exitCode)).Observe(d.Seconds())
}

func (p *Prometheus) WasmInvoked(d time.Duration, fuelConsumed uint64, trapped bool) {
	p.wasmDuration.Observe(d.Seconds())
	p.wasmFuelConsumed.Observe(float64(fuelConsumed))
	if trapped {
		p.wasmTrapsTotal.Inc()
	}
}

func (p *Prometheus) MicroInstanceStarted(image string) {
	p.microInstances.WithLabelValues(image).Inc()
}

func (p *Prometheus) MicroInstanceStopped(image string) {
	p.microInstances.WithLabelValues(image).Dec()
}

func (p *Prometheus) AgentTaskFinished(kind, status string, d time.Duration) {
	p.agentDuration.WithLabelValues(kind, status).Observe(d.Seconds())
	p.agentOutcomes.WithLabelValues(kind, status).Inc()
}
