package telemetry

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"spout/internal/logging"
)

var (
	RecordsRead = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spout_read_total",
		Help: "Records returned by source reads",
	}, []string{"source"})

	ReadBatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spout_read_batches_total",
		Help: "Non-empty batches returned by source reads",
	}, []string{"source"})

	Acked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spout_ack_total",
		Help: "Offsets acknowledged to the source",
	}, []string{"source"})

	AckErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spout_ack_errors_total",
		Help: "Failed ack attempts",
	}, []string{"source"})

	Pending = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "spout_pending",
		Help: "Source backlog as last reported; -1 when unknown",
	}, []string{"source"})

	LagErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spout_lag_errors_total",
		Help: "Lag polls skipped because the source could not report",
	}, []string{"source"})
)

func init() {
	prometheus.MustRegister(RecordsRead, ReadBatches, Acked, AckErrors, Pending, LagErrors)
}

// ObserveRead records one returned batch.
func ObserveRead(src string, n int) {
	if n == 0 {
		return
	}
	RecordsRead.WithLabelValues(src).Add(float64(n))
	ReadBatches.WithLabelValues(src).Inc()
}

// ObservePending records a lag poll; nil means unknown.
func ObservePending(src string, n *int64) {
	if n == nil {
		Pending.WithLabelValues(src).Set(-1)
		return
	}
	Pending.WithLabelValues(src).Set(float64(*n))
}

func Expose(port int) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", port)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logging.L().Error("metrics server stopped", "addr", addr, "err", err)
		}
	}()
}
