package ai

import (
	"fmt"
	"sync"

	"aigateway/pkg/aiinterface"
)

type registryKey struct {
	provider aiinterface.Provider
	modality aiinterface.Modality
}

// Registry 按 (提供商, 生成类型) 索引的适配器注册表
//
// 注册时校验提供商枚举与能力接口，查询时只会返回 UnknownProviderError，不会出现运行时类型断言失败。
type Registry struct {
	mu       sync.RWMutex
	adapters map[registryKey]aiinterface.Adapter
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[registryKey]aiinterface.Adapter)}
}

// Register 注册适配器
func (r *Registry) Register(modality aiinterface.Modality, a aiinterface.Adapter) error {
	p := a.Provider()
	if !aiinterface.Supports(p, modality) {
		return fmt.Errorf("提供商 %s 不在 %s 的允许列表中", p, modality)
	}

	var ok bool
	switch modality {
	case aiinterface.ModalityChat:
		_, ok = a.(aiinterface.ChatProvider)
	case aiinterface.ModalityImage:
		_, ok = a.(aiinterface.ImageProvider)
	case aiinterface.ModalityVideo:
		_, ok = a.(aiinterface.VideoProvider)
	case aiinterface.ModalityVoice:
		_, ok = a.(aiinterface.VoiceProvider)
	}
	if !ok {
		return fmt.Errorf("适配器 %s 未实现 %s 能力接口", p, modality)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[registryKey{p, modality}] = a
	return nil
}

func (r *Registry) lookup(p aiinterface.Provider, m aiinterface.Modality) (aiinterface.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[registryKey{p, m}]
	if !ok {
		return nil, &aiinterface.UnknownProviderError{Provider: string(p), Modality: m}
	}
	return a, nil
}

// Chat 对话适配器
func (r *Registry) Chat(p aiinterface.Provider) (aiinterface.ChatProvider, error) {
	a, err := r.lookup(p, aiinterface.ModalityChat)
	if err != nil {
		return nil, err
	}
	return a.(aiinterface.ChatProvider), nil
}

// Image 图像适配器
func (r *Registry) Image(p aiinterface.Provider) (aiinterface.ImageProvider, error) {
	a, err := r.lookup(p, aiinterface.ModalityImage)
	if err != nil {
		return nil, err
	}
	return a.(aiinterface.ImageProvider), nil
}

// Video 视频适配器
func (r *Registry) Video(p aiinterface.Provider) (aiinterface.VideoProvider, error) {
	a, err := r.lookup(p, aiinterface.ModalityVideo)
	if err != nil {
		return nil, err
	}
	return a.(aiinterface.VideoProvider), nil
}

// Voice 语音适配器
func (r *Registry) Voice(p aiinterface.Provider) (aiinterface.VoiceProvider, error) {
	a, err := r.lookup(p, aiinterface.ModalityVoice)
	if err != nil {
		return nil, err
	}
	return a.(aiinterface.VoiceProvider), nil
}

// Providers 已注册的提供商，顺序与枚举表一致
func (r *Registry) Providers(m aiinterface.Modality) []aiinterface.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []aiinterface.Provider
	for _, p := range aiinterface.ProvidersFor(m) {
		if _, ok := r.adapters[registryKey{p, m}]; ok {
			out = append(out, p)
		}
	}
	return out
}
