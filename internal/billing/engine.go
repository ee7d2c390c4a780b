package billing

import (
	"sort"

	"aigateway/pkg/aiinterface"

	"github.com/shopspring/decimal"
)

// Engine 计费引擎：价格目录 + 计费策略
type Engine struct {
	catalog *Catalog
	policy  Policy
	counter TokenCounter
}

// NewEngine 创建计费引擎，counter 可为空
func NewEngine(catalog *Catalog, policy Policy, counter TokenCounter) *Engine {
	return &Engine{catalog: catalog, policy: policy, counter: counter}
}

// Catalog 价格目录
func (e *Engine) Catalog() *Catalog { return e.catalog }

// Policy 计费策略
func (e *Engine) Policy() Policy { return e.policy }

// Bill 对提供商成本加价取整
func (e *Engine) Bill(cost decimal.Decimal) decimal.Decimal {
	return e.policy.ApplyMarkup(cost)
}

// Calculation 计费明细
type Calculation struct {
	Provider     aiinterface.Provider `json:"provider"`
	Model        string               `json:"model"`
	PricedAs     string               `json:"pricedAs"`
	InputTokens  int                  `json:"inputTokens"`
	OutputTokens int                  `json:"outputTokens"`
	BaseCost     decimal.Decimal      `json:"baseCost"` // 提供商成本
	Cost         decimal.Decimal      `json:"cost"`     // 加价后未取整
	Price        decimal.Decimal      `json:"price"`    // 实际收费
	Markup       decimal.Decimal      `json:"markup"`
	Increment    decimal.Decimal      `json:"increment"`
	FallbackUsed bool                 `json:"fallbackUsed"`
}

// Calculate 按 token 用量计算费用
func (e *Engine) Calculate(provider aiinterface.Provider, model string, inputTokens, outputTokens int) (*Calculation, error) {
	if inputTokens < 0 || outputTokens < 0 {
		return nil, &aiinterface.ValidationError{Field: "tokens", Message: "token 数不能为负数"}
	}
	base, quote, err := e.catalog.Cost(provider, aiinterface.ModalityChat, model, TokenMetrics(inputTokens, outputTokens))
	if err != nil {
		return nil, err
	}
	return e.calculation(quote, inputTokens, outputTokens, base), nil
}

func (e *Engine) calculation(quote Quote, in, out int, base decimal.Decimal) *Calculation {
	return &Calculation{
		Provider:     quote.Provider,
		Model:        quote.Model,
		PricedAs:     quote.PricedAs,
		InputTokens:  in,
		OutputTokens: out,
		BaseCost:     base,
		Cost:         e.policy.MarkedUp(base),
		Price:        e.policy.ApplyMarkup(base),
		Markup:       e.policy.Markup,
		Increment:    e.policy.Increment,
		FallbackUsed: quote.FallbackUsed,
	}
}

// Estimate 预估结果，只用于展示，不写入用量记录
type Estimate struct {
	Calculation
	IsEstimate bool   `json:"isEstimate"`
	Method     string `json:"method"` // tiktoken 或 chars/4
}

// Estimate 调用前预估费用
func (e *Engine) Estimate(provider aiinterface.Provider, model string, messages []aiinterface.Message, estimatedOutputTokens int) (*Estimate, error) {
	if estimatedOutputTokens < 0 {
		return nil, &aiinterface.ValidationError{Field: "estimatedOutputTokens", Message: "预估输出 token 不能为负数"}
	}
	quote, err := e.catalog.Lookup(provider, aiinterface.ModalityChat, model)
	if err != nil {
		return nil, err
	}

	inputTokens, method := e.countInput(provider, quote.Model, messages)
	base := ComputeProviderCost(TokenMetrics(inputTokens, estimatedOutputTokens), quote.Price)
	return &Estimate{
		Calculation: *e.calculation(quote, inputTokens, estimatedOutputTokens, base),
		IsEstimate:  true,
		Method:      method,
	}, nil
}

func (e *Engine) countInput(provider aiinterface.Provider, model string, messages []aiinterface.Message) (int, string) {
	if e.counter != nil && (provider == aiinterface.ProviderOpenAI || provider == aiinterface.ProviderDeepSeek) {
		total := 0
		exact := true
		for _, msg := range messages {
			n, ok := e.counter.Count(model, msg.Content)
			if !ok {
				exact = false
				break
			}
			total += n + messageOverheadTokens
		}
		if exact {
			return total, "tiktoken"
		}
	}
	return EstimateMessageTokens(messages), "chars/4"
}

// Comparison 跨提供商比价的一项
type Comparison struct {
	Provider aiinterface.Provider `json:"provider"`
	Modality aiinterface.Modality `json:"modality"`
	Model    string               `json:"model"`
	Unit     Unit                 `json:"unit"`
	BaseCost decimal.Decimal      `json:"baseCost"`
	Price    decimal.Decimal      `json:"price"`
}

// Compare 对比各模型费用
//
// chat 按 units 个输入 token 加 units 个输出 token 计价；
// image/video/voice 按 units 张、秒、字符计价。modality 为空时比较全部。
func (e *Engine) Compare(units int, modality aiinterface.Modality) ([]Comparison, error) {
	if units < 0 {
		return nil, &aiinterface.ValidationError{Field: "tokens", Message: "数量不能为负数"}
	}
	var out []Comparison
	for _, entry := range e.catalog.Entries() {
		if modality != "" && entry.Modality != modality {
			continue
		}
		var m Metrics
		if entry.Price.Unit == UnitToken {
			m = TokenMetrics(units, units)
		} else {
			m = Metrics{Units: decimal.NewFromInt(int64(units))}
		}
		base := ComputeProviderCost(m, entry.Price)
		out = append(out, Comparison{
			Provider: entry.Provider,
			Modality: entry.Modality,
			Model:    entry.Model,
			Unit:     entry.Price.Unit,
			BaseCost: base,
			Price:    e.policy.ApplyMarkup(base),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].BaseCost.LessThan(out[j].BaseCost)
	})
	return out, nil
}
