// Package metrics Prometheus 指标：HTTP 层全局指标与网关实例指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aigateway_http_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒）
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aigateway_http_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// APIResponseSize API 响应体大小（字节）
	APIResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aigateway_http_response_size_bytes",
			Help:    "API 响应体大小分布",
			Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
		},
		[]string{"method", "path"},
	)

	// SSEStreamsActive 当前打开的 SSE 连接数
	SSEStreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aigateway_sse_streams_active",
			Help: "当前打开的 SSE 连接数",
		},
	)
)

// 系统指标
var (
	// DBConnections 数据库连接数
	DBConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aigateway_db_connections",
			Help: "数据库连接数",
		},
		[]string{"state"}, // open, in_use, idle
	)

	goGoroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aigateway_go_goroutines",
			Help: "当前 Goroutine 数量",
		},
	)

	goMemoryUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aigateway_go_memory_usage_bytes",
			Help: "当前 Go 堆内存使用量",
		},
	)
)
