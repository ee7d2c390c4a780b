package ai

import (
	"fmt"
	"net/http"
	"time"

	"aigateway/internal/ai/adapter"
	"aigateway/internal/ai/anthropic"
	"aigateway/internal/ai/deepseek"
	"aigateway/internal/ai/elevenlabs"
	"aigateway/internal/ai/google"
	"aigateway/internal/ai/luma"
	"aigateway/internal/ai/openai"
	"aigateway/internal/ai/runway"
	"aigateway/internal/ai/stability"
	"aigateway/internal/billing"
	"aigateway/pkg/aiinterface"

	"go.uber.org/zap"
)

// ProviderSettings 单个提供商的部署配置
type ProviderSettings struct {
	BaseURL string
	Enabled bool
	Timeout time.Duration
}

// FactoryOptions 注册表构建参数
type FactoryOptions struct {
	Keys       aiinterface.KeySource
	Catalog    *billing.Catalog
	Providers  map[aiinterface.Provider]ProviderSettings // 未出现的提供商按默认配置启用
	HTTPClient *http.Client
	Logger     *zap.Logger
}

func (o FactoryOptions) settings(p aiinterface.Provider) (adapter.Config, bool) {
	s, ok := o.Providers[p]
	if ok && !s.Enabled {
		return adapter.Config{}, false
	}
	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return adapter.Config{
		BaseURL:    s.BaseURL,
		Keys:       o.Keys,
		Catalog:    o.Catalog,
		Timeout:    s.Timeout,
		HTTPClient: o.HTTPClient,
		Logger:     logger.With(zap.String("provider", string(p))),
	}, true
}

// BuildRegistry 按配置创建全部适配器并注册
func BuildRegistry(opts FactoryOptions) (*Registry, error) {
	reg := NewRegistry()

	type entry struct {
		modality aiinterface.Modality
		adapter  aiinterface.Adapter
	}
	build := map[aiinterface.Provider]func(adapter.Config) []entry{
		aiinterface.ProviderOpenAI: func(cfg adapter.Config) []entry {
			c := openai.NewClient(cfg)
			return []entry{
				{aiinterface.ModalityChat, c},
				{aiinterface.ModalityImage, c},
				{aiinterface.ModalityVoice, c},
			}
		},
		aiinterface.ProviderAnthropic: func(cfg adapter.Config) []entry {
			return []entry{{aiinterface.ModalityChat, anthropic.NewClient(cfg)}}
		},
		aiinterface.ProviderGoogle: func(cfg adapter.Config) []entry {
			return []entry{{aiinterface.ModalityChat, google.NewClient(cfg)}}
		},
		aiinterface.ProviderDeepSeek: func(cfg adapter.Config) []entry {
			return []entry{{aiinterface.ModalityChat, deepseek.NewClient(cfg)}}
		},
		aiinterface.ProviderStability: func(cfg adapter.Config) []entry {
			return []entry{{aiinterface.ModalityImage, stability.NewClient(cfg)}}
		},
		aiinterface.ProviderRunway: func(cfg adapter.Config) []entry {
			return []entry{{aiinterface.ModalityVideo, runway.NewClient(cfg)}}
		},
		aiinterface.ProviderLuma: func(cfg adapter.Config) []entry {
			return []entry{{aiinterface.ModalityVideo, luma.NewClient(cfg)}}
		},
		aiinterface.ProviderElevenLabs: func(cfg adapter.Config) []entry {
			return []entry{{aiinterface.ModalityVoice, elevenlabs.NewClient(cfg)}}
		},
	}

	for p := range opts.Providers {
		if _, ok := build[p]; !ok {
			return nil, &aiinterface.UnknownProviderError{Provider: string(p)}
		}
	}

	for p, fn := range build {
		cfg, enabled := opts.settings(p)
		if !enabled {
			continue
		}
		for _, e := range fn(cfg) {
			if err := reg.Register(e.modality, e.adapter); err != nil {
				return nil, fmt.Errorf("注册 %s 适配器失败: %w", p, err)
			}
		}
	}
	return reg, nil
}
