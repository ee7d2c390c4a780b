package sse

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"aigateway/pkg/aiinterface"

	"github.com/gin-contrib/sse"
	"go.uber.org/zap"
)

// 事件类型
const (
	EventToken = "token"
	EventDone  = "done"
	EventError = "error"
	EventPing  = "ping"
)

// DefaultPingInterval 默认心跳间隔
const DefaultPingInterval = 15 * time.Second

// ErrClosed 写入已关闭的流
var ErrClosed = errors.New("sse: stream closed")

// ErrorPayload error 事件数据
type ErrorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type pingPayload struct {
	Time int64 `json:"time"`
}

// Writer SSE 写入端
//
// 所有写操作串行化；Close 幂等，先停止心跳再释放底层连接。
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	logger  *zap.Logger

	retry    uint
	nextID   uint64
	closed   bool
	stopPing chan struct{}
	pingDone chan struct{}
}

// Option 写入端选项
type Option func(*Writer)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(w *Writer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithRetry 第一条消息携带客户端重连间隔
func WithRetry(d time.Duration) Option {
	return func(w *Writer) { w.retry = uint(d.Milliseconds()) }
}

// NewWriter 创建写入端，w 实现 http.Flusher 时每条消息后立即刷新
func NewWriter(w io.Writer, opts ...Option) *Writer {
	sw := &Writer{w: w, logger: zap.NewNop()}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	for _, opt := range opts {
		opt(sw)
	}
	return sw
}

// WriteHeaders 写入 SSE 响应头
func (w *Writer) WriteHeaders(rw http.ResponseWriter) {
	h := rw.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	rw.WriteHeader(http.StatusOK)
	if w.flusher != nil {
		w.flusher.Flush()
	}
}

// WriteToken 写入 token 事件
func (w *Writer) WriteToken(token aiinterface.StreamToken) error {
	return w.write(EventToken, token)
}

// WriteDone 写入结束事件，之后不应再写入内容
// 内容只通过 token 事件下发，done 中的 Content 会被清空
func (w *Writer) WriteDone(final aiinterface.StreamToken) error {
	final.Content = ""
	return w.write(EventDone, final)
}

// WriteError 写入错误事件
func (w *Writer) WriteError(err error) error {
	return w.write(EventError, ErrorPayload{Error: err.Error(), Code: aiinterface.ErrorCode(err)})
}

// Ping 写入心跳
func (w *Writer) Ping() error {
	return w.write(EventPing, pingPayload{Time: time.Now().Unix()})
}

// StartPing 启动周期心跳，interval<=0 使用默认值
func (w *Writer) StartPing(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPingInterval
	}

	w.mu.Lock()
	if w.closed || w.stopPing != nil {
		w.mu.Unlock()
		return
	}
	w.stopPing = make(chan struct{})
	w.pingDone = make(chan struct{})
	stop, done := w.stopPing, w.pingDone
	w.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := w.Ping(); err != nil {
					if !errors.Is(err, ErrClosed) {
						w.logger.Debug("SSE 心跳写入失败", zap.Error(err))
					}
					return
				}
			}
		}
	}()
}

// Close 关闭写入端，可重复调用
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	stop, done := w.stopPing, w.pingDone
	w.mu.Unlock()

	// 在释放连接前等待心跳协程退出
	if stop != nil {
		close(stop)
		<-done
	}

	if c, ok := w.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (w *Writer) write(event string, data any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	w.nextID++
	ev := sse.Event{
		Event: event,
		Id:    strconv.FormatUint(w.nextID, 10),
		Data:  data,
	}
	if w.nextID == 1 {
		ev.Retry = w.retry
	}
	if err := sse.Encode(w.w, ev); err != nil {
		return err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}
