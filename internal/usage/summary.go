package usage

import (
	"github.com/shopspring/decimal"
)

// Totals 汇总数值
type Totals struct {
	Count        int             `json:"count"`
	InputTokens  int64           `json:"inputTokens"`
	OutputTokens int64           `json:"outputTokens"`
	ProviderCost decimal.Decimal `json:"providerCost"`
	BilledAmount decimal.Decimal `json:"billedAmount"`
}

func (t *Totals) add(r *Record) {
	t.Count++
	if r.InputTokens != nil {
		t.InputTokens += int64(*r.InputTokens)
	}
	if r.OutputTokens != nil {
		t.OutputTokens += int64(*r.OutputTokens)
	}
	t.ProviderCost = t.ProviderCost.Add(r.ProviderCost)
	t.BilledAmount = t.BilledAmount.Add(r.BilledAmount)
}

// Summary 用量汇总
type Summary struct {
	Totals
	ByProvider  map[string]Totals    `json:"byProvider"`
	ByOperation map[Operation]Totals `json:"byOperation"`
}

// Summarize 汇总任意记录集合，不修改入参
func Summarize(records []Record) Summary {
	s := Summary{
		ByProvider:  make(map[string]Totals),
		ByOperation: make(map[Operation]Totals),
	}
	for i := range records {
		r := &records[i]
		s.Totals.add(r)

		p := s.ByProvider[r.Provider]
		p.add(r)
		s.ByProvider[r.Provider] = p

		o := s.ByOperation[r.Operation]
		o.add(r)
		s.ByOperation[r.Operation] = o
	}
	return s
}
