package billing

import (
	"sync"
	"unicode/utf8"

	"aigateway/pkg/aiinterface"

	"github.com/pkoukk/tiktoken-go"
)

// 每条消息角色等结构开销
const messageOverheadTokens = 4

// TokenCounter 精确 token 计数器
type TokenCounter interface {
	// Count 返回 text 的 token 数，ok=false 表示该模型不支持精确计数
	Count(model, text string) (n int, ok bool)
}

// EstimateTokens 按字符数估算 token：每 4 个字符约 1 个 token，向上取整
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// EstimateMessageTokens 估算消息列表的输入 token
func EstimateMessageTokens(messages []aiinterface.Message) int {
	total := 0
	for _, msg := range messages {
		total += EstimateTokens(msg.Content) + messageOverheadTokens
	}
	return total
}

// TiktokenCounter 基于 tiktoken 的计数器，仅对 OpenAI 系列模型生效
type TiktokenCounter struct {
	mu        sync.Mutex
	encodings map[string]*tiktoken.Tiktoken
}

// NewTiktokenCounter 创建计数器
func NewTiktokenCounter() *TiktokenCounter {
	return &TiktokenCounter{encodings: make(map[string]*tiktoken.Tiktoken)}
}

// Count 实现 TokenCounter
func (c *TiktokenCounter) Count(model, text string) (int, bool) {
	enc, err := c.encoding(model)
	if err != nil {
		return 0, false
	}
	return len(enc.Encode(text, nil, nil)), true
}

func (c *TiktokenCounter) encoding(model string) (*tiktoken.Tiktoken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if enc, ok := c.encodings[model]; ok {
		return enc, nil
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// 未识别的模型回退到 cl100k_base
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	c.encodings[model] = enc
	return enc, nil
}
