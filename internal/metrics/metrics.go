// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラーやワーカーから利用する。
type MetricsCollector interface {
	RecordLogin(provider string, success bool)
	RecordSessionIssued()
	RecordSessionValidation(valid bool)
	RecordStateMismatch()
	RecordSessionsSwept(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins            *prometheus.CounterVec
	sessionsIssued    prometheus.Counter
	sessionValidation *prometheus.CounterVec
	stateMismatches   prometheus.Counter
	sessionsSwept     prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_logins_total",
			Help: "プロバイダー別・結果別のログイン試行数",
		}, []string{"provider", "result"}),
		sessionsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authgate_sessions_issued_total",
			Help: "発行されたセッションの合計数",
		}),
		sessionValidation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_session_validations_total",
			Help: "結果別のセッション検証数",
		}, []string{"result"}),
		stateMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authgate_state_mismatch_total",
			Help: "OAuth stateパラメータ不一致の合計数",
		}),
		sessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authgate_sessions_swept_total",
			Help: "スイープで削除された期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.logins,
		c.sessionsIssued,
		c.sessionValidation,
		c.stateMismatches,
		c.sessionsSwept,
	)

	return c
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(provider string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.logins.WithLabelValues(provider, result).Inc()
}

// RecordSessionIssued はセッション発行を記録する。
func (c *Collector) RecordSessionIssued() {
	c.sessionsIssued.Inc()
}

// RecordSessionValidation はセッション検証の結果を記録する。
func (c *Collector) RecordSessionValidation(valid bool) {
	result := "valid"
	if !valid {
		result = "invalid"
	}
	c.sessionValidation.WithLabelValues(result).Inc()
}

// RecordStateMismatch はstateパラメータ不一致を記録する。
// CSRF試行の検知指標として使う。
func (c *Collector) RecordStateMismatch() {
	c.stateMismatches.Inc()
}

// RecordSessionsSwept はスイープで削除されたセッション数を記録する。
func (c *Collector) RecordSessionsSwept(count int64) {
	c.sessionsSwept.Add(float64(count))
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

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
