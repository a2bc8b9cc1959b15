package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 查看扣费的决策结果
const (
	OutcomeCharged      = "charged"
	OutcomeAlreadyPaid  = "already_paid"
	OutcomeInsufficient = "insufficient"
	OutcomeFailed       = "failed"
)

var (
	// Registry 保存应用自己的指标，避免与默认注册表冲突。
	Registry = prometheus.NewRegistry()

	viewDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tokenboard",
			Subsystem: "ledger",
			Name:      "view_decisions_total",
			Help:      "Metered view decisions by outcome.",
		},
		[]string{"outcome"},
	)

	ledgerEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tokenboard",
			Subsystem: "ledger",
			Name:      "entries_total",
			Help:      "Token ledger entries written by reason.",
		},
		[]string{"reason"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tokenboard",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tokenboard",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route"},
	)
)

func init() {
	Registry.MustRegister(
		viewDecisions,
		ledgerEntries,
		httpRequests,
		httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// RecordViewDecision 记录一次计量查看的结果。
func RecordViewDecision(outcome string) {
	viewDecisions.WithLabelValues(outcome).Inc()
}

// RecordLedgerEntry 记录一条已提交的代币流水。
func RecordLedgerEntry(reason string) {
	ledgerEntries.WithLabelValues(reason).Inc()
}

// Handler 暴露注册表中的指标。
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// GinMiddleware 统计请求数与耗时，route 使用路由模板避免标签爆炸。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
