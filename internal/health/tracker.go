package health

import (
	"sort"
	"sync"
	"time"

	"aigateway/pkg/aiinterface"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Policy 健康判定策略
//
// 连续失败次数达到 FailureThreshold 后提供商被判定为不可用；
// 任意一次成功将计数清零。距最后一次失败超过 Cooldown 后进入半开状态，
// 同一时刻只放行一个试探请求；试探失败会刷新最后失败时间，再次进入冷却。
type Policy struct {
	FailureThreshold int
	Cooldown         time.Duration
}

// DefaultPolicy 默认策略：连续 3 次失败，冷却 30 秒
func DefaultPolicy() Policy {
	return Policy{FailureThreshold: 3, Cooldown: 30 * time.Second}
}

// State 单个提供商的健康状态
type State struct {
	Provider      aiinterface.Provider `json:"provider"`
	FailureCount  int                  `json:"failureCount"`
	LastFailureAt *time.Time           `json:"lastFailureAt,omitempty"`
	Healthy       bool                 `json:"healthy"`
}

// Tracker 提供商健康追踪器，由网关实例持有
type Tracker struct {
	mu     sync.RWMutex
	policy Policy
	states map[aiinterface.Provider]*State
	trials map[aiinterface.Provider]time.Time // 半开状态下进行中的试探请求及其开始时间
	now    func() time.Time
	logger *zap.Logger
	gauge  *prometheus.GaugeVec
}

// Option 追踪器选项
type Option func(*Tracker)

// WithClock 替换时间源（测试用）
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithGauge 将健康状态导出为 gauge（1 可用，0 不可用）
func WithGauge(gauge *prometheus.GaugeVec) Option {
	return func(t *Tracker) { t.gauge = gauge }
}

// NewTracker 创建健康追踪器
func NewTracker(policy Policy, opts ...Option) *Tracker {
	if policy.FailureThreshold <= 0 {
		policy.FailureThreshold = DefaultPolicy().FailureThreshold
	}
	t := &Tracker{
		policy: policy,
		states: make(map[aiinterface.Provider]*State),
		trials: make(map[aiinterface.Provider]time.Time),
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordFailure 记录一次失败
func (t *Tracker) RecordFailure(provider aiinterface.Provider) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.trials, provider)
	st := t.stateLocked(provider)
	now := t.now()
	st.FailureCount++
	st.LastFailureAt = &now

	wasHealthy := st.Healthy
	st.Healthy = st.FailureCount < t.policy.FailureThreshold
	if wasHealthy && !st.Healthy {
		t.logger.Warn("提供商被标记为不可用",
			zap.String("provider", string(provider)),
			zap.Int("failures", st.FailureCount),
			zap.Duration("cooldown", t.policy.Cooldown),
		)
	}
	t.export(provider, st.Healthy)
}

// RecordSuccess 记录一次成功，清零失败计数
func (t *Tracker) RecordSuccess(provider aiinterface.Provider) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.trials, provider)
	st := t.stateLocked(provider)
	if !st.Healthy {
		t.logger.Info("提供商恢复可用", zap.String("provider", string(provider)))
	}
	st.FailureCount = 0
	st.LastFailureAt = nil
	st.Healthy = true
	t.export(provider, true)
}

// IsAvailable 提供商当前是否可用，只读；派发请求使用 Admit
func (t *Tracker) IsAvailable(provider aiinterface.Provider) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st, ok := t.states[provider]
	if !ok {
		return true
	}
	return t.availableLocked(st)
}

// Admit 派发前调用，决定是否放行这次请求
//
// 半开状态下只放行一个试探请求，其余请求在试探结束前被拒绝。放行后必须以
// RecordSuccess、RecordFailure 或 Release 之一结束。试探超过一个冷却期仍未
// 结束时视为丢失，允许新的试探。
func (t *Tracker) Admit(provider aiinterface.Provider) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.states[provider]
	if !ok || st.FailureCount < t.policy.FailureThreshold {
		return true
	}
	if !t.availableLocked(st) {
		return false
	}
	now := t.now()
	if started, busy := t.trials[provider]; busy && now.Sub(started) < t.policy.Cooldown {
		return false
	}
	t.trials[provider] = now
	t.logger.Info("提供商进入半开状态，放行试探请求", zap.String("provider", string(provider)))
	return true
}

// Release 结束一次不影响健康状态的请求（如调用方取消），释放半开试探名额
func (t *Tracker) Release(provider aiinterface.Provider) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.trials, provider)
}

// Failures 当前连续失败次数
func (t *Tracker) Failures(provider aiinterface.Provider) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if st, ok := t.states[provider]; ok {
		return st.FailureCount
	}
	return 0
}

// Reset 清除提供商状态
func (t *Tracker) Reset(provider aiinterface.Provider) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, provider)
	delete(t.trials, provider)
	t.export(provider, true)
}

// Snapshot 返回所有已知提供商状态副本，Healthy 为当前是否可派发
func (t *Tracker) Snapshot() []State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]State, 0, len(t.states))
	for _, st := range t.states {
		cp := *st
		if st.LastFailureAt != nil {
			ts := *st.LastFailureAt
			cp.LastFailureAt = &ts
		}
		cp.Healthy = t.availableLocked(st)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

func (t *Tracker) availableLocked(st *State) bool {
	if st.FailureCount < t.policy.FailureThreshold {
		return true
	}
	// 冷却期结束后半开放行
	return t.policy.Cooldown > 0 && st.LastFailureAt != nil && t.now().Sub(*st.LastFailureAt) >= t.policy.Cooldown
}

func (t *Tracker) stateLocked(provider aiinterface.Provider) *State {
	st, ok := t.states[provider]
	if !ok {
		st = &State{Provider: provider, Healthy: true}
		t.states[provider] = st
	}
	return st
}

func (t *Tracker) export(provider aiinterface.Provider, healthy bool) {
	if t.gauge == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1
	}
	t.gauge.WithLabelValues(string(provider)).Set(v)
}
