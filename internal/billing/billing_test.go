package billing

import (
	"errors"
	"testing"

	"aigateway/pkg/aiinterface"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}

func TestApplyMarkup(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		cost string
		want string
	}{
		{"0", "0"},
		{"0.004", "0.25"},
		{"0.0000001", "0.25"},
		{"0.05", "0.25"},
		{"0.051", "0.50"},
		{"0.30", "1.50"},
		{"1", "5"},
	}
	for _, tt := range tests {
		t.Run(tt.cost, func(t *testing.T) {
			assertDecimal(t, tt.want, p.ApplyMarkup(dec(tt.cost)))
		})
	}
}

func TestApplyMarkup_MonotonicAndMultipleOfIncrement(t *testing.T) {
	p := DefaultPolicy()
	prev := decimal.Zero
	for i := 0; i <= 200; i++ {
		cost := decimal.NewFromInt(int64(i)).Shift(-3)
		billed := p.ApplyMarkup(cost)

		assert.True(t, billed.GreaterThanOrEqual(prev), "cost=%s", cost)
		assert.True(t, billed.GreaterThanOrEqual(p.MarkedUp(cost)), "cost=%s", cost)
		_, rem := billed.QuoRem(p.Increment, 0)
		assert.True(t, rem.IsZero(), "billed %s 不是增量的整数倍", billed)
		prev = billed
	}
}

func TestNewPolicy_RejectsNonPositive(t *testing.T) {
	_, err := NewPolicy(0, 0.25)
	assert.Error(t, err)
	_, err = NewPolicy(5, 0)
	assert.Error(t, err)

	p, err := NewPolicy(2, 0.1)
	require.NoError(t, err)
	assertDecimal(t, "0.2", p.ApplyMarkup(dec("0.1")))
}

func TestComputeProviderCost(t *testing.T) {
	cost := ComputeProviderCost(TokenMetrics(1000, 500), TokenPrice("2.50", "10.00"))
	// 1000*2.5/1e6 + 500*10/1e6
	assertDecimal(t, "0.0075", cost)

	cost = ComputeProviderCost(UnitMetrics(5), UnitPrice(UnitSecond, "0.05"))
	assertDecimal(t, "0.25", cost)

	assertDecimal(t, "0", ComputeProviderCost(TokenMetrics(0, 0), TokenPrice("3", "15")))
}

func TestCatalogLookup(t *testing.T) {
	c := DefaultCatalog()

	t.Run("精确匹配", func(t *testing.T) {
		q, err := c.Lookup(aiinterface.ProviderOpenAI, aiinterface.ModalityChat, "gpt-4o-mini")
		require.NoError(t, err)
		assert.Equal(t, "gpt-4o-mini", q.PricedAs)
		assert.False(t, q.FallbackUsed)
	})

	t.Run("快照版本按最长前缀匹配", func(t *testing.T) {
		q, err := c.Lookup(aiinterface.ProviderOpenAI, aiinterface.ModalityChat, "gpt-4o-mini-2024-07-18")
		require.NoError(t, err)
		assert.Equal(t, "gpt-4o-mini", q.PricedAs)
		assert.Equal(t, "gpt-4o-mini-2024-07-18", q.Model)
		assert.False(t, q.FallbackUsed)
	})

	t.Run("非快照变体按前缀计价并标记兜底", func(t *testing.T) {
		q, err := c.Lookup(aiinterface.ProviderOpenAI, aiinterface.ModalityChat, "gpt-4o-audio-x")
		require.NoError(t, err)
		assert.Equal(t, "gpt-4o", q.PricedAs)
		assert.True(t, q.FallbackUsed)
	})

	t.Run("空模型使用默认模型", func(t *testing.T) {
		q, err := c.Lookup(aiinterface.ProviderRunway, aiinterface.ModalityVideo, "")
		require.NoError(t, err)
		assert.Equal(t, "gen4_turbo", q.PricedAs)
		assert.False(t, q.FallbackUsed)
	})

	t.Run("不跨生成类型匹配", func(t *testing.T) {
		q, err := c.Lookup(aiinterface.ProviderOpenAI, aiinterface.ModalityChat, "dall-e-3")
		require.NoError(t, err)
		assert.Equal(t, "gpt-4o", q.PricedAs)
		assert.True(t, q.FallbackUsed)
	})

	t.Run("未知提供商", func(t *testing.T) {
		empty := NewCatalog()
		_, err := empty.Lookup(aiinterface.ProviderOpenAI, aiinterface.ModalityChat, "gpt-4o")
		var mcu *aiinterface.ModelCostsUnavailableError
		assert.True(t, errors.As(err, &mcu))
		assert.Equal(t, aiinterface.CodeModelCostsUnavailable, aiinterface.ErrorCode(err))
	})
}

func TestCatalogLookup_FallbackIsCounted(t *testing.T) {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_pricing_fallback_total"}, []string{"provider", "model"})
	c := DefaultCatalog(WithFallbackCounter(counter))

	q, err := c.Lookup(aiinterface.ProviderAnthropic, aiinterface.ModalityChat, "claude-unknown-9")
	require.NoError(t, err)
	assert.True(t, q.FallbackUsed)
	assert.Equal(t, "claude-sonnet-4-5", q.PricedAs)
	assert.Equal(t, 1.0, testutil.ToFloat64(counter.WithLabelValues("anthropic", "claude-unknown-9")))

	q, err = c.Lookup(aiinterface.ProviderOpenAI, aiinterface.ModalityChat, "gpt-4o-search-preview")
	require.NoError(t, err)
	assert.True(t, q.FallbackUsed)
	assert.Equal(t, 1.0, testutil.ToFloat64(counter.WithLabelValues("openai", "gpt-4o-search-preview")))

	q, err = c.Lookup(aiinterface.ProviderAnthropic, aiinterface.ModalityChat, "claude-3-5-haiku-20241022")
	require.NoError(t, err)
	assert.False(t, q.FallbackUsed)

	_, err = c.Lookup(aiinterface.ProviderAnthropic, aiinterface.ModalityChat, "claude-sonnet-4-5")
	require.NoError(t, err)
	assert.Equal(t, 2, testutil.CollectAndCount(counter))
}

func TestLoadCatalogYAML(t *testing.T) {
	c := DefaultCatalog()
	err := c.LoadCatalogYAML([]byte(`
providers:
  openai:
    default_models:
      chat: gpt-4o-mini
    models:
      gpt-4o-mini:
        input: "0.10"
        output: 0.50
      my-ft-model:
        unit: token
        input: 1
        output: 2
  luma:
    default_units:
      video: 9
    models:
      ray-3:
        unit: second
        per_unit: "0.1"
`))
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", c.DefaultModel(aiinterface.ProviderOpenAI, aiinterface.ModalityChat))

	q, err := c.Lookup(aiinterface.ProviderOpenAI, aiinterface.ModalityChat, "gpt-4o-mini")
	require.NoError(t, err)
	assertDecimal(t, "0.10", q.Price.Input)
	assertDecimal(t, "0.50", q.Price.Output)

	// 未覆盖的条目保留
	q, err = c.Lookup(aiinterface.ProviderOpenAI, aiinterface.ModalityChat, "gpt-4.1")
	require.NoError(t, err)
	assert.False(t, q.FallbackUsed)

	q, err = c.Lookup(aiinterface.ProviderLuma, aiinterface.ModalityVideo, "ray-3")
	require.NoError(t, err)
	assert.Equal(t, UnitSecond, q.Price.Unit)

	assert.Equal(t, 9.0, c.DefaultUnits(aiinterface.ProviderLuma, aiinterface.ModalityVideo))
	assert.Equal(t, 5.0, c.DefaultUnits(aiinterface.ProviderRunway, aiinterface.ModalityVideo))
	assert.Zero(t, c.DefaultUnits(aiinterface.ProviderOpenAI, aiinterface.ModalityVideo))
}

func TestLoadCatalogYAML_Invalid(t *testing.T) {
	c := NewCatalog()
	assert.Error(t, c.LoadCatalogYAML([]byte("providers:\n  nosuch:\n    models: {}\n")))
	assert.Error(t, c.LoadCatalogYAML([]byte("providers:\n  openai:\n    models:\n      x:\n        input: \"-1\"\n")))
	assert.Error(t, c.LoadCatalogYAML([]byte("providers:\n  openai:\n    models:\n      x:\n        unit: minute\n")))
	assert.Error(t, c.LoadCatalogYAML([]byte("providers:\n  luma:\n    default_units:\n      video: -1\n")))
}

func TestEngineCalculate(t *testing.T) {
	e := NewEngine(DefaultCatalog(), DefaultPolicy(), nil)

	calc, err := e.Calculate(aiinterface.ProviderOpenAI, "gpt-4o", 1000, 500)
	require.NoError(t, err)
	assertDecimal(t, "0.0075", calc.BaseCost)
	assertDecimal(t, "0.0375", calc.Cost)
	assertDecimal(t, "0.25", calc.Price)
	assert.False(t, calc.FallbackUsed)

	calc, err = e.Calculate(aiinterface.ProviderOpenAI, "gpt-4o", 0, 0)
	require.NoError(t, err)
	assertDecimal(t, "0", calc.Price)

	_, err = e.Calculate(aiinterface.ProviderOpenAI, "gpt-4o", -1, 0)
	assert.Equal(t, aiinterface.CodeValidation, aiinterface.ErrorCode(err))
}

type fixedCounter struct{ n int }

func (f fixedCounter) Count(string, string) (int, bool) { return f.n, true }

func TestEngineEstimate(t *testing.T) {
	msgs := []aiinterface.Message{{Role: "user", Content: "12345678"}}

	e := NewEngine(DefaultCatalog(), DefaultPolicy(), nil)
	est, err := e.Estimate(aiinterface.ProviderAnthropic, "claude-3-haiku", msgs, 100)
	require.NoError(t, err)
	assert.True(t, est.IsEstimate)
	assert.Equal(t, "chars/4", est.Method)
	assert.Equal(t, 2+messageOverheadTokens, est.InputTokens)
	assert.Equal(t, 100, est.OutputTokens)

	e = NewEngine(DefaultCatalog(), DefaultPolicy(), fixedCounter{n: 10})
	est, err = e.Estimate(aiinterface.ProviderOpenAI, "gpt-4o", msgs, 0)
	require.NoError(t, err)
	assert.Equal(t, "tiktoken", est.Method)
	assert.Equal(t, 10+messageOverheadTokens, est.InputTokens)

	// 非 OpenAI 系列不使用 tiktoken
	est, err = e.Estimate(aiinterface.ProviderGoogle, "gemini-2.0-flash", msgs, 0)
	require.NoError(t, err)
	assert.Equal(t, "chars/4", est.Method)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 1, EstimateTokens("你好"))
}

func TestEngineCompare(t *testing.T) {
	e := NewEngine(DefaultCatalog(), DefaultPolicy(), nil)

	items, err := e.Compare(1000, aiinterface.ModalityChat)
	require.NoError(t, err)
	require.NotEmpty(t, items)
	for i, item := range items {
		assert.Equal(t, aiinterface.ModalityChat, item.Modality)
		if i > 0 {
			assert.True(t, items[i-1].BaseCost.LessThanOrEqual(item.BaseCost))
		}
	}

	items, err = e.Compare(10, aiinterface.ModalityVideo)
	require.NoError(t, err)
	require.Len(t, items, 4)
	assert.Equal(t, "ray-flash-2", items[0].Model)
	assertDecimal(t, "0.27", items[0].BaseCost)

	_, err = e.Compare(-1, "")
	assert.Error(t, err)
}
