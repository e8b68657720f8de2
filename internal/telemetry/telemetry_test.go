package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestPrometheus registers against a fresh registry per test so repeated
// NewPrometheus calls in this package's test binary never collide on
// metric names the way two calls against the default registry would.
func newTestPrometheus(t *testing.T) *Prometheus {
	t.Helper()
	return NewPrometheus(prometheus.NewRegistry())
}

func TestPrometheus_RecordsRunCompleted(t *testing.T) {
	p := newTestPrometheus(t)
	p.RunCompleted("python3", 250*time.Millisecond, 0)

	count := testutil.CollectAndCount(p.runDuration)
	assert.Equal(t, 1, count)
}

func TestPrometheus_RecordsWasmInvocation(t *testing.T) {
	p := newTestPrometheus(t)
	before := testutil.ToFloat64(p.wasmTrapsTotal)
	p.WasmInvoked(10*time.Millisecond, 5000, true)
	after := testutil.ToFloat64(p.wasmTrapsTotal)
	assert.Equal(t, before+1, after)
}

func TestPrometheus_MicroInstanceGaugeTracksStartStop(t *testing.T) {
	p := newTestPrometheus(t)
	p.MicroInstanceStarted("python")
	g, err := p.microInstances.GetMetricWithLabelValues("python")
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(g))

	p.MicroInstanceStopped("python")
	assert.Equal(t, float64(0), testutil.ToFloat64(g))
}

func TestPrometheus_AgentTaskFinishedIncrementsOutcome(t *testing.T) {
	p := newTestPrometheus(t)
	before := testutil.ToFloat64(p.agentOutcomes.WithLabelValues("code", "completed"))
	p.AgentTaskFinished("code", "completed", time.Second)
	after := testutil.ToFloat64(p.agentOutcomes.WithLabelValues("code", "completed"))
	assert.Equal(t, before+1, after)
}

func TestNoop_SatisfiesRecorderWithoutPanicking(t *testing.T) {
	var r Recorder = Noop()
	r.RunCompleted("x", time.Second, 0)
	r.WasmInvoked(time.Second, 1, false)
	r.MicroInstanceStarted("x")
	r.MicroInstanceStopped("x")
	r.AgentTaskFinished("code", "failed", time.Second)
}
