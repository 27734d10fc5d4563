package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/spachava753/geosync/internal/models"
)

// Metrics holds the counters for one run. It uses its own registry so that a run can be
// exported as a node-exporter textfile without process-wide collectors mixed in.
type Metrics struct {
	registry      *prometheus.Registry
	assets        *prometheus.CounterVec
	uploadBytes   prometheus.Counter
	throttleWaits prometheus.Counter
	assetDuration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		assets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geosync_assets_total",
			Help: "Assets processed, by final state.",
		}, []string{"state"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geosync_upload_bytes_total",
			Help: "Bytes staged for ingestion.",
		}),
		throttleWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geosync_throttle_waits_total",
			Help: "Times a worker slept because the remote task ceiling was reached.",
		}),
		assetDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "geosync_asset_duration_seconds",
			Help:    "Wall time spent per asset.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"kind"}),
	}
	m.registry.MustRegister(m.assets, m.uploadBytes, m.throttleWaits, m.assetDuration)
	return m
}

// ObserveAsset records one finished asset.
func (m *Metrics) ObserveAsset(kind string, state models.AssetState, d time.Duration) {
	if m == nil {
		return
	}
	m.assets.WithLabelValues(string(state)).Inc()
	m.assetDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) AddUploadBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.uploadBytes.Add(float64(n))
}

func (m *Metrics) ThrottleWait() {
	if m == nil {
		return
	}
	m.throttleWaits.Inc()
}

// Gatherer exposes the registry, e.g. for promhttp.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// WriteTextfile writes the registry in Prometheus text format. The file is written to a
// temporary name and renamed, so a scraper never reads a partial file.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
