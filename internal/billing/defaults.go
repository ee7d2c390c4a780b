package billing

import "aigateway/pkg/aiinterface"

// builtinPricing 内置价格（美元）。token 价格为每百万 token。
// 每个提供商的默认模型同时是缺少价格时的兜底计价模型。
func builtinPricing() map[aiinterface.Provider]*ProviderPricing {
	return map[aiinterface.Provider]*ProviderPricing{
		aiinterface.ProviderOpenAI: {
			DefaultModels: map[aiinterface.Modality]string{
				aiinterface.ModalityChat:  "gpt-4o",
				aiinterface.ModalityImage: "dall-e-3",
				aiinterface.ModalityVoice: "tts-1",
			},
			Models: map[string]Price{
				"gpt-4o":       TokenPrice("2.50", "10.00"),
				"gpt-4o-mini":  TokenPrice("0.15", "0.60"),
				"gpt-4.1":      TokenPrice("2.00", "8.00"),
				"gpt-4.1-mini": TokenPrice("0.40", "1.60"),
				"o3-mini":      TokenPrice("1.10", "4.40"),
				"dall-e-3":     UnitPrice(UnitImage, "0.04"),
				"dall-e-2":     UnitPrice(UnitImage, "0.02"),
				"gpt-image-1":  UnitPrice(UnitImage, "0.042"),
				"tts-1":        UnitPrice(UnitCharacter, "0.000015"),
				"tts-1-hd":     UnitPrice(UnitCharacter, "0.00003"),
			},
		},
		aiinterface.ProviderAnthropic: {
			DefaultModels: map[aiinterface.Modality]string{
				aiinterface.ModalityChat: "claude-sonnet-4-5",
			},
			Models: map[string]Price{
				"claude-opus-4-1":   TokenPrice("15", "75"),
				"claude-sonnet-4-5": TokenPrice("3", "15"),
				"claude-sonnet-4-0": TokenPrice("3", "15"),
				"claude-haiku-4-5":  TokenPrice("1", "5"),
				"claude-3-5-sonnet": TokenPrice("3", "15"),
				"claude-3-5-haiku":  TokenPrice("0.80", "4"),
				"claude-3-haiku":    TokenPrice("0.25", "1.25"),
			},
		},
		aiinterface.ProviderGoogle: {
			DefaultModels: map[aiinterface.Modality]string{
				aiinterface.ModalityChat: "gemini-2.0-flash",
			},
			Models: map[string]Price{
				"gemini-2.5-pro":   TokenPrice("1.25", "10"),
				"gemini-2.5-flash": TokenPrice("0.30", "2.50"),
				"gemini-2.0-flash": TokenPrice("0.10", "0.40"),
				"gemini-1.5-pro":   TokenPrice("1.25", "5"),
				"gemini-1.5-flash": TokenPrice("0.075", "0.30"),
			},
		},
		aiinterface.ProviderDeepSeek: {
			DefaultModels: map[aiinterface.Modality]string{
				aiinterface.ModalityChat: "deepseek-chat",
			},
			Models: map[string]Price{
				"deepseek-chat":     TokenPrice("0.27", "1.10"),
				"deepseek-reasoner": TokenPrice("0.55", "2.19"),
			},
		},
		aiinterface.ProviderStability: {
			DefaultModels: map[aiinterface.Modality]string{
				aiinterface.ModalityImage: "stable-image-core",
			},
			Models: map[string]Price{
				"stable-image-core":    UnitPrice(UnitImage, "0.03"),
				"stable-image-ultra":   UnitPrice(UnitImage, "0.08"),
				"sd3.5-large":          UnitPrice(UnitImage, "0.065"),
				"sd3.5-medium":         UnitPrice(UnitImage, "0.035"),
				"upscale-fast":         UnitPrice(UnitImage, "0.02"),
				"upscale-conservative": UnitPrice(UnitImage, "0.25"),
			},
		},
		aiinterface.ProviderRunway: {
			DefaultModels: map[aiinterface.Modality]string{
				aiinterface.ModalityVideo: "gen4_turbo",
			},
			DefaultUnits: map[aiinterface.Modality]float64{
				aiinterface.ModalityVideo: 5,
			},
			Models: map[string]Price{
				"gen4_turbo":  UnitPrice(UnitSecond, "0.05"),
				"gen3a_turbo": UnitPrice(UnitSecond, "0.05"),
			},
		},
		aiinterface.ProviderLuma: {
			DefaultModels: map[aiinterface.Modality]string{
				aiinterface.ModalityVideo: "ray-2",
			},
			DefaultUnits: map[aiinterface.Modality]float64{
				aiinterface.ModalityVideo: 5,
			},
			Models: map[string]Price{
				"ray-2":       UnitPrice(UnitSecond, "0.08"),
				"ray-flash-2": UnitPrice(UnitSecond, "0.027"),
			},
		},
		aiinterface.ProviderElevenLabs: {
			DefaultModels: map[aiinterface.Modality]string{
				aiinterface.ModalityVoice: "eleven_multilingual_v2",
			},
			Models: map[string]Price{
				"eleven_multilingual_v2": UnitPrice(UnitCharacter, "0.00018"),
				"eleven_turbo_v2_5":      UnitPrice(UnitCharacter, "0.00009"),
				"eleven_flash_v2_5":      UnitPrice(UnitCharacter, "0.00009"),
			},
		},
	}
}
