package billing

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"aigateway/pkg/aiinterface"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ProviderPricing 单个提供商的价格表
type ProviderPricing struct {
	// DefaultModels 每种生成类型的默认模型，也是缺少价格时的兜底计价模型
	DefaultModels map[aiinterface.Modality]string
	// DefaultUnits 上游未回报用量时按此计量，目前用于视频默认时长（秒）
	DefaultUnits map[aiinterface.Modality]float64
	Models       map[string]Price
}

// Quote 价格查询结果
type Quote struct {
	Provider     aiinterface.Provider `json:"provider"`
	Model        string               `json:"model"`    // 请求的模型
	PricedAs     string               `json:"pricedAs"` // 实际用于计价的模型
	Price        Price                `json:"price"`
	FallbackUsed bool                 `json:"fallbackUsed"`
}

// Catalog 价格目录
type Catalog struct {
	mu        sync.RWMutex
	providers map[aiinterface.Provider]*ProviderPricing
	logger    *zap.Logger
	fallbacks *prometheus.CounterVec
}

// CatalogOption 目录选项
type CatalogOption func(*Catalog)

// WithCatalogLogger 设置日志
func WithCatalogLogger(logger *zap.Logger) CatalogOption {
	return func(c *Catalog) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithFallbackCounter 兜底计价计数器，标签 provider, model
func WithFallbackCounter(counter *prometheus.CounterVec) CatalogOption {
	return func(c *Catalog) { c.fallbacks = counter }
}

// NewCatalog 创建空目录
func NewCatalog(opts ...CatalogOption) *Catalog {
	c := &Catalog{
		providers: make(map[aiinterface.Provider]*ProviderPricing),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultCatalog 内置价格目录
func DefaultCatalog(opts ...CatalogOption) *Catalog {
	c := NewCatalog(opts...)
	for provider, pricing := range builtinPricing() {
		c.Set(provider, pricing)
	}
	return c
}

// Set 设置（覆盖）提供商价格表
func (c *Catalog) Set(provider aiinterface.Provider, pricing *ProviderPricing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[provider] = pricing
}

// Merge 合并价格：模型价格逐项覆盖，默认模型按生成类型覆盖
func (c *Catalog) Merge(provider aiinterface.Provider, pricing *ProviderPricing) {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.providers[provider]
	if !ok {
		existing = &ProviderPricing{
			DefaultModels: make(map[aiinterface.Modality]string),
			Models:        make(map[string]Price),
		}
		c.providers[provider] = existing
	}
	for m, model := range pricing.DefaultModels {
		existing.DefaultModels[m] = model
	}
	for m, units := range pricing.DefaultUnits {
		if existing.DefaultUnits == nil {
			existing.DefaultUnits = make(map[aiinterface.Modality]float64)
		}
		existing.DefaultUnits[m] = units
	}
	for model, price := range pricing.Models {
		existing.Models[model] = price
	}
}

// DefaultModel 提供商在某生成类型下的默认模型
func (c *Catalog) DefaultModel(provider aiinterface.Provider, modality aiinterface.Modality) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if pp, ok := c.providers[provider]; ok {
		return pp.DefaultModels[modality]
	}
	return ""
}

// DefaultUnits 提供商在某生成类型下的默认计量，未配置返回 0
func (c *Catalog) DefaultUnits(provider aiinterface.Provider, modality aiinterface.Modality) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if pp, ok := c.providers[provider]; ok {
		return pp.DefaultUnits[modality]
	}
	return 0
}

// Lookup 查询价格
//
// 顺序：精确匹配 -> 最长前缀匹配（带日期的快照版本）-> 默认模型兜底。
// 兜底是显式分支：记录告警日志、累加计数器，并在 Quote 中标记 FallbackUsed。
func (c *Catalog) Lookup(provider aiinterface.Provider, modality aiinterface.Modality, model string) (Quote, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pp, ok := c.providers[provider]
	if !ok || len(pp.Models) == 0 {
		return Quote{}, &aiinterface.ModelCostsUnavailableError{Provider: provider, Model: model}
	}

	defaultModel := pp.DefaultModels[modality]
	if model == "" {
		model = defaultModel
	}

	if price, ok := pp.Models[model]; ok && modalityOf(price.Unit) == modality {
		return Quote{Provider: provider, Model: model, PricedAs: model, Price: price}, nil
	}

	if key := longestPrefix(pp.Models, modality, model); key != "" {
		q := Quote{Provider: provider, Model: model, PricedAs: key, Price: pp.Models[key]}
		// 日期快照与基础模型同价；其他变体（如 -audio）可能另有定价，按兜底处理
		if !snapshotSuffix.MatchString(model[len(key):]) {
			c.noteFallback(provider, model, key, "模型变体缺少价格配置，按前缀模型计价")
			q.FallbackUsed = true
		}
		return q, nil
	}

	price, ok := pp.Models[defaultModel]
	if !ok {
		return Quote{}, &aiinterface.ModelCostsUnavailableError{Provider: provider, Model: model}
	}

	c.noteFallback(provider, model, defaultModel, "模型缺少价格配置，按默认模型计价")
	return Quote{Provider: provider, Model: model, PricedAs: defaultModel, Price: price, FallbackUsed: true}, nil
}

// snapshotSuffix 带日期或 latest 的快照后缀：-2024-07-18、-20241022、-latest、-001
var snapshotSuffix = regexp.MustCompile(`^-(\d{4}-\d{2}-\d{2}|\d{8}|\d{3,4}|latest)$`)

func (c *Catalog) noteFallback(provider aiinterface.Provider, model, pricedAs, msg string) {
	c.logger.Warn(msg,
		zap.String("provider", string(provider)),
		zap.String("model", model),
		zap.String("priced_as", pricedAs),
	)
	if c.fallbacks != nil {
		c.fallbacks.WithLabelValues(string(provider), model).Inc()
	}
}

// Cost 查询价格并计算提供商成本
func (c *Catalog) Cost(provider aiinterface.Provider, modality aiinterface.Modality, model string, m Metrics) (decimal.Decimal, Quote, error) {
	quote, err := c.Lookup(provider, modality, model)
	if err != nil {
		return decimal.Zero, Quote{}, err
	}
	return ComputeProviderCost(m, quote.Price), quote, nil
}

// Entry 目录中的一项
type Entry struct {
	Provider aiinterface.Provider
	Modality aiinterface.Modality
	Model    string
	Price    Price
}

// Entries 列出全部模型价格，按提供商、模型排序
func (c *Catalog) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Entry
	for provider, pp := range c.providers {
		for model, price := range pp.Models {
			out = append(out, Entry{
				Provider: provider,
				Modality: modalityOf(price.Unit),
				Model:    model,
				Price:    price,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Model < out[j].Model
	})
	return out
}

// modalityOf 由计价单位推断生成类型
func modalityOf(unit Unit) aiinterface.Modality {
	switch unit {
	case UnitImage:
		return aiinterface.ModalityImage
	case UnitSecond:
		return aiinterface.ModalityVideo
	case UnitCharacter:
		return aiinterface.ModalityVoice
	default:
		return aiinterface.ModalityChat
	}
}

func longestPrefix(models map[string]Price, modality aiinterface.Modality, model string) string {
	best := ""
	for key, price := range models {
		if modalityOf(price.Unit) != modality {
			continue
		}
		if strings.HasPrefix(model, key) && len(key) > len(best) {
			best = key
		}
	}
	return best
}

// catalogFile YAML 价格覆盖文件
type catalogFile struct {
	Providers map[string]struct {
		DefaultModels map[string]string  `yaml:"default_models"`
		DefaultUnits  map[string]float64 `yaml:"default_units"`
		Models        map[string]struct {
			Unit    string `yaml:"unit"`
			Input   string `yaml:"input"`
			Output  string `yaml:"output"`
			PerUnit string `yaml:"per_unit"`
		} `yaml:"models"`
	} `yaml:"providers"`
}

// LoadCatalogFile 读取 YAML 并合并到目录
func (c *Catalog) LoadCatalogFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("读取价格文件失败: %w", err)
	}
	return c.LoadCatalogYAML(data)
}

// LoadCatalogYAML 解析 YAML 并合并到目录
func (c *Catalog) LoadCatalogYAML(data []byte) error {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("解析价格文件失败: %w", err)
	}

	for name, entry := range file.Providers {
		provider, err := aiinterface.ParseProvider(name)
		if err != nil {
			return err
		}
		pricing := &ProviderPricing{
			DefaultModels: make(map[aiinterface.Modality]string),
			Models:        make(map[string]Price),
		}
		for m, model := range entry.DefaultModels {
			modality, err := aiinterface.ParseModality(m)
			if err != nil {
				return err
			}
			pricing.DefaultModels[modality] = model
		}
		for m, units := range entry.DefaultUnits {
			modality, err := aiinterface.ParseModality(m)
			if err != nil {
				return err
			}
			if units < 0 {
				return fmt.Errorf("%s/%s 默认计量不能为负数", name, m)
			}
			if pricing.DefaultUnits == nil {
				pricing.DefaultUnits = make(map[aiinterface.Modality]float64)
			}
			pricing.DefaultUnits[modality] = units
		}
		for model, raw := range entry.Models {
			price, err := parsePrice(raw.Unit, raw.Input, raw.Output, raw.PerUnit)
			if err != nil {
				return fmt.Errorf("%s/%s 价格无效: %w", name, model, err)
			}
			pricing.Models[model] = price
		}
		c.Merge(provider, pricing)
	}
	return nil
}

func parsePrice(unit, input, output, perUnit string) (Price, error) {
	p := Price{Unit: Unit(unit)}
	if p.Unit == "" {
		p.Unit = UnitToken
	}
	var err error
	switch p.Unit {
	case UnitToken:
		if p.Input, err = parseAmount(input); err != nil {
			return Price{}, err
		}
		if p.Output, err = parseAmount(output); err != nil {
			return Price{}, err
		}
	case UnitImage, UnitSecond, UnitCharacter:
		if p.PerUnit, err = parseAmount(perUnit); err != nil {
			return Price{}, err
		}
	default:
		return Price{}, fmt.Errorf("未知计价单位: %s", unit)
	}
	return p, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("价格不能为负数: %s", s)
	}
	return d, nil
}
