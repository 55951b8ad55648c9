package infra

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"migration-service/internal/domain"
)

const metricsNamespace = "migration"

// Metrics はマイグレーション実行のPrometheusメトリクス。
type Metrics struct {
	registry *prometheus.Registry

	ItemsTotal   *prometheus.CounterVec
	ItemDuration *prometheus.HistogramVec
	HTTPRequests *prometheus.CounterVec
}

// NewMetrics は専用のレジストリを持つMetricsを生成する。
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ItemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "items_total",
			Help:      "Total number of migration items processed",
		}, []string{"dir_key", "direction", "outcome"}),
		ItemDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "item_duration_seconds",
			Help:      "Duration of migration up/down execution in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"dir_key", "direction"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "Total number of migration API requests",
		}, []string{"operation", "status"}),
	}

	reg.MustRegister(m.ItemsTotal, m.ItemDuration, m.HTTPRequests)
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

// ObserveItem は1アイテムの結果を記録する。
func (m *Metrics) ObserveItem(dirKey string, direction domain.Direction, outcome string, d time.Duration) {
	m.ItemsTotal.WithLabelValues(dirKey, string(direction), outcome).Inc()
	m.ItemDuration.WithLabelValues(dirKey, string(direction)).Observe(d.Seconds())
}

// ObserveRequest はAPIリクエストの結果を記録する。
func (m *Metrics) ObserveRequest(operation string, status domain.Status) {
	m.HTTPRequests.WithLabelValues(operation, string(status)).Inc()
}

// Handler は/metrics用のハンドラを返す。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry はテスト用にレジストリを返す。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
