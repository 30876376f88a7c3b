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
// ミドルウェア・サービス層・ワーカーから利用する。
type MetricsCollector interface {
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordLogin(newUser bool)
	RecordAuthFailure(reason string)
	RecordSessionCreated()
	RecordSessionDestroyed()
	RecordRateLimited(scope string)
	RecordCourseCreated()
	RecordPurged(kind string, count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpStatus       *prometheus.CounterVec
	requestLatency   prometheus.Histogram
	logins           *prometheus.CounterVec
	authFailures     *prometheus.CounterVec
	sessionCreated   prometheus.Counter
	sessionDestroyed prometheus.Counter
	rateLimited      *prometheus.CounterVec
	coursesCreated   prometheus.Counter
	purged           *prometheus.CounterVec
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codetutor_http_responses_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "codetutor_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codetutor_logins_total",
			Help: "ログイン成功の合計数",
		}, []string{"user"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codetutor_auth_failures_total",
			Help: "認証失敗の合計数",
		}, []string{"reason"}),
		sessionCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codetutor_sessions_created_total",
			Help: "作成されたセッションの合計数",
		}),
		sessionDestroyed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codetutor_sessions_destroyed_total",
			Help: "破棄されたセッションの合計数",
		}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codetutor_rate_limited_total",
			Help: "レート制限で拒否したリクエストの合計数",
		}, []string{"scope"}),
		coursesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codetutor_courses_created_total",
			Help: "作成されたコースの合計数",
		}),
		purged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codetutor_purged_total",
			Help: "クリーンアップで削除したドキュメント数",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.httpStatus,
		c.requestLatency,
		c.logins,
		c.authFailures,
		c.sessionCreated,
		c.sessionDestroyed,
		c.rateLimited,
		c.coursesCreated,
		c.purged,
	)

	return c
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordLogin はログイン成功を新規・既存ユーザー別に記録する。
func (c *Collector) RecordLogin(newUser bool) {
	label := "existing"
	if newUser {
		label = "new"
	}
	c.logins.WithLabelValues(label).Inc()
}

// RecordAuthFailure は認証失敗を理由別に記録する。
func (c *Collector) RecordAuthFailure(reason string) {
	c.authFailures.WithLabelValues(reason).Inc()
}

// RecordSessionCreated はセッション作成を記録する。
func (c *Collector) RecordSessionCreated() {
	c.sessionCreated.Inc()
}

// RecordSessionDestroyed はセッション破棄を記録する。
func (c *Collector) RecordSessionDestroyed() {
	c.sessionDestroyed.Inc()
}

// RecordRateLimited はレート制限による拒否を記録する。
// scopeはip, user, authのいずれか。
func (c *Collector) RecordRateLimited(scope string) {
	c.rateLimited.WithLabelValues(scope).Inc()
}

// RecordCourseCreated はコース作成を記録する。
func (c *Collector) RecordCourseCreated() {
	c.coursesCreated.Inc()
}

// RecordPurged はクリーンアップで削除した件数を記録する。
func (c *Collector) RecordPurged(kind string, count int64) {
	c.purged.WithLabelValues(kind).Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

var _ MetricsCollector = Nop{}

func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordRequestLatency(time.Duration) {}
func (Nop) RecordLogin(bool) {}
func (Nop) RecordAuthFailure(string) {}
func (Nop) RecordSessionCreated() {}
func (Nop) RecordSessionDestroyed() {}
func (Nop) RecordRateLimited(string) {}
func (Nop) RecordCourseCreated() {}
func (Nop) RecordPurged(string, int64) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// workerコマンドのスクレイプ用に使用する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
