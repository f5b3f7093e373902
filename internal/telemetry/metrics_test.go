package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRead(t *testing.T) {
	before := testutil.ToFloat64(RecordsRead.WithLabelValues("t-read"))
	ObserveRead("t-read", 5)
	ObserveRead("t-read", 0)
	ObserveRead("t-read", 2)

	if got := testutil.ToFloat64(RecordsRead.WithLabelValues("t-read")); got != before+7 {
		t.Fatalf("records: want %v, got %v", before+7, got)
	}
	if got := testutil.ToFloat64(ReadBatches.WithLabelValues("t-read")); got != 2 {
		t.Fatalf("batches: want 2, got %v", got)
	}
}

func TestObservePending(t *testing.T) {
	n := int64(12)
	ObservePending("t-lag", &n)
	if got := testutil.ToFloat64(Pending.WithLabelValues("t-lag")); got != 12 {
		t.Fatalf("want 12, got %v", got)
	}
	ObservePending("t-lag", nil)
	if got := testutil.ToFloat64(Pending.WithLabelValues("t-lag")); got != -1 {
		t.Fatalf("unknown lag: want -1, got %v", got)
	}
}
