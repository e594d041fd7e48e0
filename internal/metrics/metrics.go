// Package metrics は Prometheus のメトリクスを提供する
//
// 全てのメソッドは nil レシーバでも安全に呼び出せる。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics はキャプチャ制御のカウンタとゲージを保持する
type Metrics struct {
	registry *prometheus.Registry

	tuningOperations *prometheus.CounterVec
	tuningDuration   *prometheus.HistogramVec
	queueDepth       prometheus.Gauge

	recordings *prometheus.CounterVec
	captures   *prometheus.CounterVec

	cacheDerivations *prometheus.CounterVec
	cacheReuses      *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpErrors   prometheus.Counter
	devices      prometheus.Gauge
}

// New はメトリクスを作成して登録する
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		tuningOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capturectl_tuning_operations_total",
			Help: "Total number of tuning operations processed by the configuration queue",
		}, []string{"operation", "result"}),
		tuningDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "capturectl_tuning_apply_duration_seconds",
			Help:    "Time spent applying a tuning operation including transaction and lock scaffolding",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"operation"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "capturectl_tuning_queue_depth",
			Help: "Number of tuning operations waiting in the configuration queue",
		}),
		recordings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capturectl_recordings_total",
			Help: "Total number of finished recordings",
		}, []string{"result"}),
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capturectl_captures_total",
			Help: "Total number of photo capture requests",
		}, []string{"kind", "result"}),
		cacheDerivations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capturectl_filecache_derivations_total",
			Help: "Total number of derived artifacts computed by a file cache",
		}, []string{"cache"}),
		cacheReuses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capturectl_filecache_snapshot_reuse_total",
			Help: "Total number of fetches served from an unchanged snapshot",
		}, []string{"cache"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capturectl_http_requests_total",
			Help: "Total number of HTTP requests received",
		}, []string{"method", "route", "status"}),
		httpErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capturectl_http_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "capturectl_devices",
			Help: "Number of discovered video devices",
		}),
	}

	registry.MustRegister(
		m.tuningOperations,
		m.tuningDuration,
		m.queueDepth,
		m.recordings,
		m.captures,
		m.cacheDerivations,
		m.cacheReuses,
		m.httpRequests,
		m.httpErrors,
		m.devices,
	)

	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveTuning は1件のチューニング操作の結果と所要時間を記録する
func (m *Metrics) ObserveTuning(operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.tuningOperations.WithLabelValues(operation, result(err)).Inc()
	m.tuningDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// SetQueueDepth はキューの待ち件数を設定する
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// ObserveRecording は録画の終了を記録する
func (m *Metrics) ObserveRecording(err error) {
	if m == nil {
		return
	}
	m.recordings.WithLabelValues(result(err)).Inc()
}

// ObserveCapture は撮影要求の結果を記録する（kind: single, bracket）
func (m *Metrics) ObserveCapture(kind string, err error) {
	if m == nil {
		return
	}
	m.captures.WithLabelValues(kind, result(err)).Inc()
}

// IncCacheDerivations は派生データの計算回数を加算する
func (m *Metrics) IncCacheDerivations(cache string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.cacheDerivations.WithLabelValues(cache).Add(float64(n))
}

// IncCacheReuse はスナップショットの再利用回数を加算する
func (m *Metrics) IncCacheReuse(cache string) {
	if m == nil {
		return
	}
	m.cacheReuses.WithLabelValues(cache).Inc()
}

// ObserveRequest はHTTPリクエストを記録する
func (m *Metrics) ObserveRequest(method, route string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	if status >= 400 {
		m.httpErrors.Inc()
	}
}

// SetDevices は検出済みデバイス数を設定する
func (m *Metrics) SetDevices(n int) {
	if m == nil {
		return
	}
	m.devices.Set(float64(n))
}

// Registry は内部のレジストリを返す
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler は Prometheus 形式でメトリクスを返す http.Handler を返す
// updateGauges はスクレイプごとにゲージを更新するために呼ばれる
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.NotFound(w, r)
			return
		}
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
