// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 購読の種別ラベル。
const (
	KindCatalog    = "catalog"
	KindEnrollment = "enrollment"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 同期コンポーネントやサービス層から利用する。
type MetricsCollector interface {
	RecordListenerOpened(kind string)
	RecordListenerClosed(kind string)
	RecordSnapshot(kind string)
	RecordFallback(kind, reason string)
	RecordStaleDiscard()
	RecordMutation(op string, err error)
	RecordHTTPStatus(statusCode int)
	RecordImportLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	activeListeners *prometheus.GaugeVec
	listenersOpened *prometheus.CounterVec
	snapshots       *prometheus.CounterVec
	fallbacks       *prometheus.CounterVec
	staleDiscards   prometheus.Counter
	mutations       *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
	importLatency   prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		activeListeners: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "latework_active_listeners",
			Help: "稼働中のライブ購読数",
		}, []string{"kind"}),
		listenersOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "latework_listeners_opened_total",
			Help: "開始されたライブ購読の合計数",
		}, []string{"kind"}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "latework_snapshots_published_total",
			Help: "配信されたスナップショットの合計数",
		}, []string{"kind"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "latework_sample_fallbacks_total",
			Help: "サンプルコースへの置き換え回数",
		}, []string{"kind", "reason"}),
		staleDiscards: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "latework_stale_results_discarded_total",
			Help: "世代が古いため破棄された受講コース取得結果の数",
		}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "latework_mutations_total",
			Help: "書き込み操作の合計数",
		}, []string{"op", "result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "latework_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		importLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "latework_import_latency_seconds",
			Help:    "外部URL取り込みのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.activeListeners,
		c.listenersOpened,
		c.snapshots,
		c.fallbacks,
		c.staleDiscards,
		c.mutations,
		c.httpStatus,
		c.importLatency,
	)

	return c
}

// RecordListenerOpened はライブ購読の開始を記録する。
func (c *Collector) RecordListenerOpened(kind string) {
	c.listenersOpened.WithLabelValues(kind).Inc()
	c.activeListeners.WithLabelValues(kind).Inc()
}

// RecordListenerClosed はライブ購読の終了を記録する。
func (c *Collector) RecordListenerClosed(kind string) {
	c.activeListeners.WithLabelValues(kind).Dec()
}

// RecordSnapshot はスナップショットの配信を記録する。
func (c *Collector) RecordSnapshot(kind string) {
	c.snapshots.WithLabelValues(kind).Inc()
}

// RecordFallback はサンプルコースへの置き換えを記録する。
func (c *Collector) RecordFallback(kind, reason string) {
	c.fallbacks.WithLabelValues(kind, reason).Inc()
}

// RecordStaleDiscard は古い世代の結果の破棄を記録する。
func (c *Collector) RecordStaleDiscard() {
	c.staleDiscards.Inc()
}

// RecordMutation は書き込み操作の結果を記録する。
func (c *Collector) RecordMutation(op string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.mutations.WithLabelValues(op, result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordImportLatency は外部URL取り込みのレイテンシを記録する。
func (c *Collector) RecordImportLatency(duration time.Duration) {
	c.importLatency.Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordListenerOpened(string) {}
func (Nop) RecordListenerClosed(string) {}
func (Nop) RecordSnapshot(string) {}
func (Nop) RecordFallback(string, string) {}
func (Nop) RecordStaleDiscard() {}
func (Nop) RecordMutation(string, error) {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordImportLatency(time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
