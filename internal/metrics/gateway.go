package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gateway 网关实例指标
//
// 通过 NewGateway 注册到指定 Registerer，测试使用独立的 prometheus.NewRegistry()。
type Gateway struct {
	Requests        *prometheus.CounterVec   // provider, modality, status
	Duration        *prometheus.HistogramVec // provider, modality
	BilledAmount    *prometheus.CounterVec   // provider, modality
	ProviderHealthy *prometheus.GaugeVec     // provider
	UsageBuffer     prometheus.Gauge
	UsageFlushes    *prometheus.CounterVec // result
	PricingFallback *prometheus.CounterVec // provider, model
}

// NewGateway 创建并注册网关指标
func NewGateway(reg prometheus.Registerer) *Gateway {
	f := promauto.With(reg)
	return &Gateway{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aigateway_provider_requests_total",
			Help: "提供商请求总数",
		}, []string{"provider", "modality", "status"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aigateway_provider_request_duration_seconds",
			Help:    "提供商请求耗时分布（含重试）",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"provider", "modality"}),
		BilledAmount: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aigateway_billed_amount_total",
			Help: "累计计费金额（美元）",
		}, []string{"provider", "modality"}),
		ProviderHealthy: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aigateway_provider_healthy",
			Help: "提供商是否可用（1 可用，0 不可用）",
		}, []string{"provider"}),
		UsageBuffer: f.NewGauge(prometheus.GaugeOpts{
			Name: "aigateway_usage_buffer_size",
			Help: "用量缓冲区中待刷写的记录数",
		}),
		UsageFlushes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aigateway_usage_flush_total",
			Help: "用量刷写次数",
		}, []string{"result"}),
		PricingFallback: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aigateway_pricing_fallback_total",
			Help: "缺少价格配置而按默认模型计价的次数",
		}, []string{"provider", "model"}),
	}
}
