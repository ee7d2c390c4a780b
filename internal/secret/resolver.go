package secret

import (
	"context"
	"errors"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"aigateway/pkg/aiinterface"

	"go.uber.org/zap"
)

// DefaultCacheTTL 缓存有效期
const DefaultCacheTTL = 5 * time.Minute

// ErrNotFound 来源中没有该提供商的凭证
var ErrNotFound = errors.New("secret: credential not found")

// Source 凭证来源
type Source interface {
	Name() string
	Lookup(ctx context.Context, provider aiinterface.Provider) (string, error)
}

type cacheEntry struct {
	value     string
	expiresAt time.Time
}

// Resolver 按顺序解析凭证：环境变量 -> 缓存 -> 各 Source
//
// 环境变量从不缓存；Source 命中后写入缓存。
type Resolver struct {
	sources []Source
	ttl     time.Duration
	getenv  func(string) string
	now     func() time.Time
	logger  *zap.Logger

	mu    sync.RWMutex
	cache map[aiinterface.Provider]cacheEntry
}

// Option 解析器选项
type Option func(*Resolver)

// WithTTL 缓存有效期
func WithTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithEnv 替换环境变量读取函数
func WithEnv(getenv func(string) string) Option {
	return func(r *Resolver) { r.getenv = getenv }
}

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResolver 创建解析器，sources 按优先级排列
func NewResolver(sources []Source, opts ...Option) *Resolver {
	r := &Resolver{
		sources: sources,
		ttl:     DefaultCacheTTL,
		getenv:  os.Getenv,
		now:     time.Now,
		logger:  zap.NewNop(),
		cache:   make(map[aiinterface.Provider]cacheEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve 实现 aiinterface.KeySource
func (r *Resolver) Resolve(ctx context.Context, provider aiinterface.Provider) (string, error) {
	envKey := provider.EnvKey()
	if v := strings.TrimSpace(r.getenv(envKey)); v != "" {
		if !IsPlaceholder(v) {
			return v, nil
		}
		r.logger.Warn("环境变量中的密钥疑似占位符，已忽略", zap.String("env", envKey))
	}

	if v, ok := r.cached(provider); ok {
		return v, nil
	}

	var lastErr error = ErrNotFound
	for _, src := range r.sources {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		v, err := src.Lookup(ctx, provider)
		if err == nil && v != "" && !IsPlaceholder(v) {
			r.store(provider, v)
			return v, nil
		}
		if err == nil {
			err = ErrNotFound
		}
		if !errors.Is(err, ErrNotFound) {
			r.logger.Warn("凭证来源查询失败",
				zap.String("provider", string(provider)),
				zap.String("source", src.Name()),
				zap.Error(err),
			)
		}
		lastErr = err
	}
	return "", &aiinterface.CredentialResolutionError{Provider: provider, Err: lastErr}
}

// Rotate 使缓存失效，不预取
func (r *Resolver) Rotate(provider aiinterface.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, provider)
}

func (r *Resolver) cached(provider aiinterface.Provider) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.cache[provider]
	if !ok || !r.now().Before(e.expiresAt) {
		return "", false
	}
	return e.value, true
}

func (r *Resolver) store(provider aiinterface.Provider, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[provider] = cacheEntry{value: value, expiresAt: r.now().Add(r.ttl)}
}

// placeholderPatterns 整值匹配的占位写法；真实密钥中间出现 your、todo、xxxx 等片段不算占位
var placeholderPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^<[^<>]*>$`),
	regexp.MustCompile(`^\$\{[^{}]*\}$`),
	regexp.MustCompile(`^\{\{.*\}\}$`),
	regexp.MustCompile(`^(sk-(ant-|proj-)?)?(x{3,}|\*{3,}|\.{3,})$`),
	regexp.MustCompile(`^(sk-(ant-|proj-)?)?(your|my|insert|enter)[-_ ]`),
	regexp.MustCompile(`^(placeholder|changeme|change[-_]me|replace[-_]?me|todo|tbd|dummy|example)([-_ ].*)?$`),
	regexp.MustCompile(`^(api[-_]?key|secret|token|none|null)$`),
}

// IsPlaceholder 判断是否为未填写的占位值，如 "your-api-key"、"sk-xxxx"、"<OPENAI_API_KEY>"
func IsPlaceholder(v string) bool {
	lower := strings.ToLower(strings.TrimSpace(v))
	if len(lower) < 8 {
		return true
	}
	for _, p := range placeholderPatterns {
		if p.MatchString(lower) {
			return true
		}
	}
	return false
}
