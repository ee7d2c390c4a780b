package billing

import (
	"github.com/shopspring/decimal"
)

// Unit 非 token 计价单位
type Unit string

const (
	UnitToken     Unit = "token"     // 按百万 token 计价
	UnitImage     Unit = "image"     // 每张图
	UnitSecond    Unit = "second"    // 每秒视频
	UnitCharacter Unit = "character" // 每个字符（语音合成）
)

// Price 单个模型的价格（美元）
type Price struct {
	Unit    Unit            `json:"unit"`
	Input   decimal.Decimal `json:"inputPerMillion"`  // 每百万输入 token
	Output  decimal.Decimal `json:"outputPerMillion"` // 每百万输出 token
	PerUnit decimal.Decimal `json:"perUnit"`          // 每单位价格（Unit 非 token 时）
}

// TokenPrice 按 token 计价的价格
func TokenPrice(inputPerMillion, outputPerMillion string) Price {
	return Price{
		Unit:   UnitToken,
		Input:  decimal.RequireFromString(inputPerMillion),
		Output: decimal.RequireFromString(outputPerMillion),
	}
}

// UnitPrice 按单位计价的价格
func UnitPrice(unit Unit, perUnit string) Price {
	return Price{Unit: unit, PerUnit: decimal.RequireFromString(perUnit)}
}

// Metrics 提供商侧用量
type Metrics struct {
	InputTokens  int
	OutputTokens int
	Units        decimal.Decimal // 图片张数、视频秒数或字符数
}

// TokenMetrics token 用量
func TokenMetrics(input, output int) Metrics {
	return Metrics{InputTokens: input, OutputTokens: output}
}

// UnitMetrics 单位用量
func UnitMetrics(units float64) Metrics {
	return Metrics{Units: decimal.NewFromFloat(units)}
}

// ComputeProviderCost 计算提供商成本（未加价），纯函数
func ComputeProviderCost(m Metrics, p Price) decimal.Decimal {
	cost := decimal.Zero
	if m.InputTokens > 0 {
		cost = cost.Add(p.Input.Mul(decimal.NewFromInt(int64(m.InputTokens))).Shift(-6))
	}
	if m.OutputTokens > 0 {
		cost = cost.Add(p.Output.Mul(decimal.NewFromInt(int64(m.OutputTokens))).Shift(-6))
	}
	if m.Units.IsPositive() {
		cost = cost.Add(p.PerUnit.Mul(m.Units))
	}
	return cost
}
