package sse

import (
	"bufio"
	"encoding/json"
	"io"
	"iter"
	"strconv"
	"strings"

	"aigateway/pkg/aiinterface"
)

const maxLineSize = 1 << 20

// Message 解析后的一条 SSE 消息
type Message struct {
	Event string
	ID    string
	Retry int
	Data  string
}

// Decode 将 data 解析为 JSON
func (m Message) Decode(v any) error {
	return json.Unmarshal([]byte(m.Data), v)
}

// Token 将 token/done 事件解析为 StreamToken
func (m Message) Token() (aiinterface.StreamToken, error) {
	var t aiinterface.StreamToken
	err := m.Decode(&t)
	return t, err
}

// Reader SSE 读取端，按需逐条解析，每个流只能消费一次
type Reader struct {
	scanner *bufio.Scanner
	done    bool
}

// NewReader 创建读取端
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Reader{scanner: scanner}
}

// Next 返回下一条消息，流结束时返回 io.EOF
func (r *Reader) Next() (Message, error) {
	if r.done {
		return Message{}, io.EOF
	}

	var (
		msg     Message
		data    []string
		pending bool
	)
	for r.scanner.Scan() {
		line := strings.TrimSuffix(r.scanner.Text(), "\r")
		if line == "" {
			if pending {
				msg.Data = strings.Join(data, "\n")
				return msg, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue // 注释
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			msg.Event = value
		case "data":
			data = append(data, value)
		case "id":
			msg.ID = value
		case "retry":
			if n, err := strconv.Atoi(value); err == nil {
				msg.Retry = n
			}
		default:
			continue
		}
		pending = true
	}

	r.done = true
	if err := r.scanner.Err(); err != nil {
		return Message{}, err
	}
	// 末尾缺少空行的消息仍然交付
	if pending {
		msg.Data = strings.Join(data, "\n")
		return msg, nil
	}
	return Message{}, io.EOF
}

// All 以迭代器方式遍历剩余消息，遇到错误时产出一次错误后结束
func (r *Reader) All() iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		for {
			msg, err := r.Next()
			if err == io.EOF {
				return
			}
			if !yield(msg, err) || err != nil {
				return
			}
		}
	}
}
