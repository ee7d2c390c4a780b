package ai

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"aigateway/pkg/aiinterface"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultLatencySamples 每个模型保留的最近延迟样本数
const DefaultLatencySamples = 1000

// PerformanceMonitor 模型性能监控器，由网关实例持有
type PerformanceMonitor struct {
	mu      sync.RWMutex
	stats   map[string]*ModelStats // key: provider:model
	samples int
	now     func() time.Time

	successRate *prometheus.GaugeVec
	latencyP50  *prometheus.GaugeVec
	latencyP99  *prometheus.GaugeVec
}

// ModelStats 单个模型的统计数据
type ModelStats struct {
	Provider aiinterface.Provider
	Modality aiinterface.Modality
	Model    string

	TotalRequests   int64
	SuccessRequests int64
	FailedRequests  int64

	// 最近 N 次请求延迟（秒），环形写入
	Latencies []float64
	next      int

	TotalInputTokens  int64
	TotalOutputTokens int64

	FirstRequestTime time.Time
	LastRequestTime  time.Time
}

// NewPerformanceMonitor 创建性能监控器
// reg 为空时不导出 Prometheus 指标
func NewPerformanceMonitor(samples int, reg prometheus.Registerer) *PerformanceMonitor {
	if samples <= 0 {
		samples = DefaultLatencySamples
	}
	pm := &PerformanceMonitor{
		stats:   make(map[string]*ModelStats),
		samples: samples,
		now:     time.Now,
	}
	if reg != nil {
		f := promauto.With(reg)
		pm.successRate = f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aigateway_model_success_rate",
			Help: "模型请求成功率",
		}, []string{"provider", "model"})
		pm.latencyP50 = f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aigateway_model_latency_p50_seconds",
			Help: "模型请求 P50 延迟",
		}, []string{"provider", "model"})
		pm.latencyP99 = f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aigateway_model_latency_p99_seconds",
			Help: "模型请求 P99 延迟",
		}, []string{"provider", "model"})
	}
	return pm
}

// RecordRequest 记录一次调用（含重试的总耗时）
func (pm *PerformanceMonitor) RecordRequest(provider aiinterface.Provider, modality aiinterface.Modality, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	now := pm.now()
	key := string(provider) + ":" + model
	stats, ok := pm.stats[key]
	if !ok {
		stats = &ModelStats{
			Provider:         provider,
			Modality:         modality,
			Model:            model,
			Latencies:        make([]float64, 0, pm.samples),
			FirstRequestTime: now,
		}
		pm.stats[key] = stats
	}

	stats.TotalRequests++
	stats.LastRequestTime = now
	stats.TotalInputTokens += int64(inputTokens)
	stats.TotalOutputTokens += int64(outputTokens)
	if err != nil {
		stats.FailedRequests++
	} else {
		stats.SuccessRequests++
	}

	if len(stats.Latencies) < pm.samples {
		stats.Latencies = append(stats.Latencies, duration.Seconds())
	} else {
		stats.Latencies[stats.next] = duration.Seconds()
		stats.next = (stats.next + 1) % pm.samples
	}
}

// ModelPerformanceSummary 模型性能摘要
type ModelPerformanceSummary struct {
	Provider          aiinterface.Provider `json:"provider"`
	Modality          aiinterface.Modality `json:"modality"`
	Model             string               `json:"model"`
	TotalRequests     int64                `json:"totalRequests"`
	SuccessRate       float64              `json:"successRate"`
	AvgLatency        float64              `json:"avgLatencyMs"`
	P50Latency        float64              `json:"p50LatencyMs"`
	P95Latency        float64              `json:"p95LatencyMs"`
	P99Latency        float64              `json:"p99LatencyMs"`
	TotalInputTokens  int64                `json:"totalInputTokens"`
	TotalOutputTokens int64                `json:"totalOutputTokens"`
	LastRequestTime   time.Time            `json:"lastRequestTime"`
}

// GetSummary 获取模型性能摘要，没有记录时返回 nil
func (pm *PerformanceMonitor) GetSummary(provider aiinterface.Provider, model string) *ModelPerformanceSummary {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	stats, ok := pm.stats[string(provider)+":"+model]
	if !ok {
		return nil
	}
	s := summarize(stats)
	return &s
}

// Summaries 全部模型摘要，按提供商、模型排序
func (pm *PerformanceMonitor) Summaries() []ModelPerformanceSummary {
	pm.mu.RLock()
	out := make([]ModelPerformanceSummary, 0, len(pm.stats))
	for _, stats := range pm.stats {
		out = append(out, summarize(stats))
	}
	pm.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Model < out[j].Model
	})
	return out
}

// Export 把成功率与延迟分位写入 gauge
func (pm *PerformanceMonitor) Export() {
	if pm.successRate == nil {
		return
	}
	for _, s := range pm.Summaries() {
		p, m := string(s.Provider), s.Model
		pm.successRate.WithLabelValues(p, m).Set(s.SuccessRate)
		pm.latencyP50.WithLabelValues(p, m).Set(s.P50Latency / 1000)
		pm.latencyP99.WithLabelValues(p, m).Set(s.P99Latency / 1000)
	}
}

// Run 按周期导出指标，ctx 取消后返回
func (pm *PerformanceMonitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.Export()
		}
	}
}

func summarize(stats *ModelStats) ModelPerformanceSummary {
	sorted := slices.Clone(stats.Latencies)
	slices.Sort(sorted)
	return ModelPerformanceSummary{
		Provider:          stats.Provider,
		Modality:          stats.Modality,
		Model:             stats.Model,
		TotalRequests:     stats.TotalRequests,
		SuccessRate:       successRate(stats),
		AvgLatency:        avgLatency(sorted),
		P50Latency:        percentile(sorted, 50),
		P95Latency:        percentile(sorted, 95),
		P99Latency:        percentile(sorted, 99),
		TotalInputTokens:  stats.TotalInputTokens,
		TotalOutputTokens: stats.TotalOutputTokens,
		LastRequestTime:   stats.LastRequestTime,
	}
}

func successRate(stats *ModelStats) float64 {
	if stats.TotalRequests == 0 {
		return 0
	}
	return float64(stats.SuccessRequests) / float64(stats.TotalRequests)
}

// avgLatency 平均延迟（毫秒）
func avgLatency(latencies []float64) float64 {
	if len(latencies) == 0 {
		return 0
	}
	sum := 0.0
	for _, l := range latencies {
		sum += l
	}
	return (sum / float64(len(latencies))) * 1000
}

// percentile 已排序样本的百分位（毫秒）
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p / 100)
	return sorted[idx] * 1000
}
