// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層や通知ディスパッチャーから利用する。
type MetricsCollector interface {
	RecordEventCreated()
	RecordEventApproval()
	RecordEventRejection()
	RecordNotificationSent()
	RecordNotificationFailed()
	RecordNotificationDropped()
	RecordAvailabilityQuery(duration time.Duration)
	RecordSyncEventsUpserted(count int)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	eventsCreated       prometheus.Counter
	eventApprovals      prometheus.Counter
	eventRejections     prometheus.Counter
	notificationsSent   prometheus.Counter
	notificationsFailed prometheus.Counter
	notificationsDrop   prometheus.Counter
	availQueries        prometheus.Counter
	availLatency        prometheus.Histogram
	syncUpserted        prometheus.Counter
	httpStatus          *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		eventsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paircal_events_created_total",
			Help: "作成された共有イベントの合計数",
		}),
		eventApprovals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paircal_event_approvals_total",
			Help: "パートナーによるイベント承認の合計数",
		}),
		eventRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paircal_event_rejections_total",
			Help: "パートナーによるイベント拒否の合計数",
		}),
		notificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paircal_notifications_sent_total",
			Help: "送信に成功した通知の合計数",
		}),
		notificationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paircal_notifications_failed_total",
			Help: "送信に失敗した通知の合計数",
		}),
		notificationsDrop: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paircal_notifications_dropped_total",
			Help: "キュー満杯で破棄された通知の合計数",
		}),
		availQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paircal_availability_queries_total",
			Help: "空き時間・共通空き時間クエリの合計数",
		}),
		availLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "paircal_availability_latency_seconds",
			Help:    "空き時間計算のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		syncUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paircal_sync_events_upserted_total",
			Help: "同期でアップサートされた外部イベントの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paircal_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.eventsCreated,
		c.eventApprovals,
		c.eventRejections,
		c.notificationsSent,
		c.notificationsFailed,
		c.notificationsDrop,
		c.availQueries,
		c.availLatency,
		c.syncUpserted,
		c.httpStatus,
	)

	return c
}

// RecordEventCreated は共有イベントの作成を記録する。
func (c *Collector) RecordEventCreated() {
	c.eventsCreated.Inc()
}

// RecordEventApproval はイベント承認を記録する。
func (c *Collector) RecordEventApproval() {
	c.eventApprovals.Inc()
}

// RecordEventRejection はイベント拒否を記録する。
func (c *Collector) RecordEventRejection() {
	c.eventRejections.Inc()
}

// RecordNotificationSent は通知送信成功を記録する。
func (c *Collector) RecordNotificationSent() {
	c.notificationsSent.Inc()
}

// RecordNotificationFailed は通知送信失敗を記録する。
func (c *Collector) RecordNotificationFailed() {
	c.notificationsFailed.Inc()
}

// RecordNotificationDropped はキュー満杯による通知破棄を記録する。
func (c *Collector) RecordNotificationDropped() {
	c.notificationsDrop.Inc()
}

// RecordAvailabilityQuery は空き時間クエリの実行とレイテンシを記録する。
func (c *Collector) RecordAvailabilityQuery(duration time.Duration) {
	c.availQueries.Inc()
	c.availLatency.Observe(duration.Seconds())
}

// RecordSyncEventsUpserted は同期でアップサートされた外部イベント数を記録する。
func (c *Collector) RecordSyncEventsUpserted(count int) {
	c.syncUpserted.Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
