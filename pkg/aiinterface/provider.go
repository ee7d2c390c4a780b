package aiinterface

import (
	"slices"
	"strings"
)

// Modality 生成类型
type Modality string

const (
	ModalityChat  Modality = "chat"
	ModalityImage Modality = "image"
	ModalityVideo Modality = "video"
	ModalityVoice Modality = "voice"
)

// Modalities 全部生成类型
var Modalities = []Modality{ModalityChat, ModalityImage, ModalityVideo, ModalityVoice}

// ParseModality 解析生成类型
func ParseModality(s string) (Modality, error) {
	m := Modality(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(Modalities, m) {
		return m, nil
	}
	return "", &ValidationError{Field: "modality", Message: "未知的生成类型: " + s}
}

// Provider 提供商标识
type Provider string

const (
	ProviderOpenAI     Provider = "openai"
	ProviderAnthropic  Provider = "anthropic"
	ProviderGoogle     Provider = "google"
	ProviderDeepSeek   Provider = "deepseek"
	ProviderStability  Provider = "stability"
	ProviderRunway     Provider = "runway"
	ProviderLuma       Provider = "luma"
	ProviderElevenLabs Provider = "elevenlabs"
)

// modalityProviders 每种生成类型允许的提供商，注册表以此为准
var modalityProviders = map[Modality][]Provider{
	ModalityChat:  {ProviderOpenAI, ProviderAnthropic, ProviderGoogle, ProviderDeepSeek},
	ModalityImage: {ProviderOpenAI, ProviderStability},
	ModalityVideo: {ProviderRunway, ProviderLuma},
	ModalityVoice: {ProviderElevenLabs, ProviderOpenAI},
}

// ProvidersFor 返回某生成类型允许的提供商列表（副本）
func ProvidersFor(m Modality) []Provider {
	return slices.Clone(modalityProviders[m])
}

// Supports 判断提供商是否支持该生成类型
func Supports(p Provider, m Modality) bool {
	return slices.Contains(modalityProviders[m], p)
}

// ParseProvider 解析提供商名称，未知名称返回 UnknownProviderError
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	for _, list := range modalityProviders {
		if slices.Contains(list, p) {
			return p, nil
		}
	}
	return "", &UnknownProviderError{Provider: s}
}

// EnvKey 凭证环境变量名，例如 OPENAI_API_KEY
func (p Provider) EnvKey() string {
	return strings.ToUpper(string(p)) + "_API_KEY"
}

func (p Provider) String() string {
	return string(p)
}
