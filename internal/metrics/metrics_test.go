package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStageCounters(t *testing.T) {
	m := InitWith("test", prometheus.NewRegistry())
	l := Labels{RunKind: "rusle", Stage: "ls-factor"}

	m.IncStagesCompleted(l)
	m.IncStagesCompleted(l)
	m.IncStagesSkipped(l)

	if got := testutil.ToFloat64(m.StagesCompleted.WithLabelValues("rusle", "ls-factor")); got != 2 {
		t.Errorf("stages completed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.StagesSkipped.WithLabelValues("rusle", "ls-factor")); got != 1 {
		t.Errorf("stages skipped = %v, want 1", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.IncRunsStarted(Labels{RunKind: "rusle"})
	m.ObserveStageDuration(Labels{}, 1)
	m.AddLookupMisses(Labels{Table: "rusle_hwsd"}, 3)
}
