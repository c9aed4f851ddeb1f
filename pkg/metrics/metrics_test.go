package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCollectorsRegistered(t *testing.T) {
	AlertTransitions.WithLabelValues("triggered").Inc()
	SweepsTotal.WithLabelValues("trigger", "ok").Inc()

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	want := map[string]bool{"alert_transitions_total": false, "alert_sweeps_total": false}
	for _, mf := range mfs {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("%s metric not found", name)
		}
	}
}

func TestServeDisabled(t *testing.T) {
	if srv := Serve(""); srv != nil {
		t.Error("empty addr should not start a server")
	}
}
