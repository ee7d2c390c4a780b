package billing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Policy 计费策略，网关构造时确定，生命周期内不变
type Policy struct {
	Markup    decimal.Decimal `json:"markup"`
	Increment decimal.Decimal `json:"increment"`
}

// DefaultPolicy 默认 5 倍加价，按 0.25 向上取整
func DefaultPolicy() Policy {
	return Policy{
		Markup:    decimal.NewFromInt(5),
		Increment: decimal.RequireFromString("0.25"),
	}
}

// NewPolicy 创建计费策略
func NewPolicy(markup, increment float64) (Policy, error) {
	if markup <= 0 {
		return Policy{}, fmt.Errorf("加价倍数必须大于 0: %v", markup)
	}
	if increment <= 0 {
		return Policy{}, fmt.Errorf("计费增量必须大于 0: %v", increment)
	}
	return Policy{
		Markup:    decimal.NewFromFloat(markup),
		Increment: decimal.NewFromFloat(increment),
	}, nil
}

// ApplyMarkup 计算向客户收取的金额
//
// billed = ceil(cost * markup / increment) * increment；
// cost 为 0 时返回 0，cost 为正时至少收取一个 increment。
func (p Policy) ApplyMarkup(cost decimal.Decimal) decimal.Decimal {
	if !cost.IsPositive() {
		return decimal.Zero
	}
	units := ceilDiv(cost.Mul(p.Markup), p.Increment)
	if units.LessThan(decimal.NewFromInt(1)) {
		units = decimal.NewFromInt(1)
	}
	return units.Mul(p.Increment)
}

// MarkedUp 加价后未取整的金额
func (p Policy) MarkedUp(cost decimal.Decimal) decimal.Decimal {
	return cost.Mul(p.Markup)
}

// ceilDiv 精确的向上取整除法
func ceilDiv(a, b decimal.Decimal) decimal.Decimal {
	q, r := a.QuoRem(b, 0)
	if r.IsPositive() {
		q = q.Add(decimal.NewFromInt(1))
	}
	return q
}
