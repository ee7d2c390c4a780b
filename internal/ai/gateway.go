package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"aigateway/internal/ai/adapter"
	"aigateway/internal/billing"
	"aigateway/internal/health"
	"aigateway/internal/metrics"
	"aigateway/internal/resilience"
	"aigateway/internal/tenant"
	"aigateway/internal/usage"
	"aigateway/pkg/aiinterface"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// DefaultAttemptTimeout 单次上游调用的默认时限
const DefaultAttemptTimeout = 60 * time.Second

// GatewayError 网关错误：原始错误加上操作与提供商上下文
type GatewayError struct {
	Op       string
	Provider aiinterface.Provider
	Model    string
	Err      error
}

func (e *GatewayError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("%s [%s/%s]: %v", e.Op, e.Provider, e.Model, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %v", e.Op, e.Provider, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Options 网关依赖
type Options struct {
	Registry *Registry       // 必填
	Billing  *billing.Engine // 必填
	Health   *health.Tracker // 为空时创建默认策略的实例
	Usage    *usage.Tracker  // 为空时不记录用量
	Jobs     VideoJobStore   // 为空时使用内存存储
	Retry    resilience.RetryPolicy
	Timeout  time.Duration // 单次尝试时限
	Metrics  *metrics.Gateway
	Monitor  *PerformanceMonitor
	Logger   *zap.Logger
	Tracer   trace.Tracer
}

// Gateway 多提供商网关门面
//
// 每个请求依次经过：参数校验、注册表查找、健康检查、带重试与超时的适配器调用、
// 健康状态更新、计费、用量记录。健康状态、任务存储与指标都属于实例本身。
type Gateway struct {
	registry *Registry
	billing  *billing.Engine
	health   *health.Tracker
	usage    *usage.Tracker
	jobs     VideoJobStore
	retry    resilience.RetryPolicy
	timeout  time.Duration
	metrics  *metrics.Gateway
	monitor  *PerformanceMonitor
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewGateway 创建网关
func NewGateway(opts Options) (*Gateway, error) {
	if opts.Registry == nil {
		return nil, errors.New("网关缺少适配器注册表")
	}
	if opts.Billing == nil {
		return nil, errors.New("网关缺少计费引擎")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Health == nil {
		opts.Health = health.NewTracker(health.DefaultPolicy(), health.WithLogger(opts.Logger))
	}
	if opts.Jobs == nil {
		opts.Jobs = NewMemoryVideoJobStore()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultAttemptTimeout
	}
	if opts.Monitor == nil {
		opts.Monitor = NewPerformanceMonitor(DefaultLatencySamples, nil)
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("aigateway/internal/ai")
	}

	g := &Gateway{
		registry: opts.Registry,
		billing:  opts.Billing,
		health:   opts.Health,
		usage:    opts.Usage,
		jobs:     opts.Jobs,
		retry:    opts.Retry,
		timeout:  opts.Timeout,
		metrics:  opts.Metrics,
		monitor:  opts.Monitor,
		logger:   opts.Logger,
		tracer:   opts.Tracer,
	}
	if g.retry.OnRetry == nil {
		g.retry.OnRetry = func(attempt int, err error, delay time.Duration) {
			g.logger.Warn("上游调用失败，准备重试",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.String("code", aiinterface.ErrorCode(err)),
				zap.Error(err))
		}
	}
	return g, nil
}

// Billing 计费引擎
func (g *Gateway) Billing() *billing.Engine { return g.billing }

// Monitor 性能监控器
func (g *Gateway) Monitor() *PerformanceMonitor { return g.monitor }

// call 一次网关操作的描述
type call struct {
	op       string
	modality aiinterface.Modality
	provider aiinterface.Provider
	model    string
}

func (c call) fields() []zap.Field {
	return []zap.Field{
		zap.String("op", c.op),
		zap.String("provider", string(c.provider)),
		zap.String("model", c.model),
	}
}

func (g *Gateway) fail(c call, err error) error {
	return &GatewayError{Op: c.op, Provider: c.provider, Model: c.model, Err: err}
}

func (g *Gateway) startSpan(ctx context.Context, c call) (context.Context, trace.Span) {
	return g.tracer.Start(ctx, "gateway."+c.op, trace.WithAttributes(
		attribute.String("ai.provider", string(c.provider)),
		attribute.String("ai.modality", string(c.modality)),
		attribute.String("ai.model", c.model),
	))
}

// checkAvailable 健康检查，不可用时不发起网络请求
func (g *Gateway) checkAvailable(c call) error {
	if g.health.Admit(c.provider) {
		return nil
	}
	return &aiinterface.ProviderUnavailableError{Provider: c.provider, Failures: g.health.Failures(c.provider)}
}

// observe 更新健康状态、指标与监控；每次上游调用都以成功、失败或释放之一结束
func (g *Gateway) observe(c call, started time.Time, in, out int, err error) {
	elapsed := time.Since(started)
	switch {
	case err == nil:
		g.health.RecordSuccess(c.provider)
	case countsAgainstHealth(err):
		g.health.RecordFailure(c.provider)
	default:
		g.health.Release(c.provider)
	}

	status := "success"
	if err != nil {
		status = aiinterface.ErrorCode(err)
	}
	if g.metrics != nil {
		g.metrics.Requests.WithLabelValues(string(c.provider), string(c.modality), status).Inc()
		g.metrics.Duration.WithLabelValues(string(c.provider), string(c.modality)).Observe(elapsed.Seconds())
	}
	g.monitor.RecordRequest(c.provider, c.modality, c.model, elapsed, in, out, err)

	if err != nil {
		g.logger.Warn("上游调用失败", append(c.fields(),
			zap.String("code", status),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))...)
		return
	}
	g.logger.Debug("上游调用完成", append(c.fields(), zap.Duration("elapsed", elapsed))...)
}

// countsAgainstHealth 适配器返回的失败都计入健康状态，调用方取消与请求校验错误除外
func countsAgainstHealth(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch aiinterface.ErrorCode(err) {
	case aiinterface.CodeValidation, aiinterface.CodeProviderUnavailable:
		return false
	}
	return true
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, aiinterface.ErrorCode(err))
	}
	span.End()
}

// execute 健康检查 + 重试/超时调用 + 观测
// describe 从结果中取实际模型与 token 数，可为空
func execute[T any](ctx context.Context, g *Gateway, c call, op func(ctx context.Context) (T, error), describe func(T) (string, int, int)) (T, error) {
	var zero T
	if err := g.checkAvailable(c); err != nil {
		g.observeRejected(c, err)
		return zero, err
	}
	started := time.Now()
	res, err := resilience.Call(ctx, g.retry, g.timeout, fmt.Sprintf("%s %s 调用超时", c.provider, c.op), op)
	var in, out int
	if err == nil && describe != nil {
		var model string
		model, in, out = describe(res)
		if model != "" {
			c.model = model
		}
	}
	g.observe(c, started, in, out, err)
	return res, err
}

func (g *Gateway) observeRejected(c call, err error) {
	if g.metrics != nil {
		g.metrics.Requests.WithLabelValues(string(c.provider), string(c.modality), aiinterface.ErrorCode(err)).Inc()
	}
	g.logger.Warn("提供商不可用，跳过调用", c.fields()...)
}

// bill 加价取整并累计计费指标
func (g *Gateway) bill(c call, cost decimal.Decimal) decimal.Decimal {
	billed := g.billing.Bill(cost)
	if g.metrics != nil && billed.IsPositive() {
		g.metrics.BilledAmount.WithLabelValues(string(c.provider), string(c.modality)).Add(billed.InexactFloat64())
	}
	return billed
}

// recordUsage 写入用量追踪器，租户信息取自 ctx
func (g *Gateway) recordUsage(ctx context.Context, rec usage.Record) {
	if g.usage == nil {
		return
	}
	if tc, ok := tenant.FromContext(ctx); ok {
		if rec.WorkspaceID == "" {
			rec.WorkspaceID = tc.WorkspaceID
		}
		if rec.ProjectID == "" {
			rec.ProjectID = tc.ProjectID
		}
		if rec.AgentID == "" {
			rec.AgentID = tc.AgentID
		}
	}
	g.usage.Record(rec)
}

func metadata(pricingFallback bool, kv ...any) datatypes.JSONMap {
	m := datatypes.JSONMap{}
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			m[k] = kv[i+1]
		}
	}
	if pricingFallback {
		m["pricingFallback"] = true
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

func validateRequest(req interface{ Validate() error }, isNil bool) error {
	if isNil {
		return &aiinterface.ValidationError{Message: "请求不能为空"}
	}
	return req.Validate()
}

// Chat 对话
func (g *Gateway) Chat(ctx context.Context, req *aiinterface.ChatRequest) (*aiinterface.LLMResponse, error) {
	c := call{op: "chat", modality: aiinterface.ModalityChat}
	if req != nil {
		c.provider, c.model = req.Provider, req.Model
	}
	if err := validateRequest(req, req == nil); err != nil {
		return nil, g.fail(c, err)
	}
	a, err := g.registry.Chat(req.Provider)
	if err != nil {
		return nil, g.fail(c, err)
	}

	ctx, span := g.startSpan(ctx, c)
	resp, err := execute(ctx, g, c, func(ctx context.Context) (*aiinterface.LLMResponse, error) {
		return a.Chat(ctx, req)
	}, func(r *aiinterface.LLMResponse) (string, int, int) {
		return r.Model, r.Usage.InputTokens, r.Usage.OutputTokens
	})
	endSpan(span, err)
	if err != nil {
		return nil, g.fail(c, err)
	}

	c.model = resp.Model
	resp.BilledAmount = g.bill(c, resp.Cost)
	in, out := usage.Tokens(resp.Usage.InputTokens, resp.Usage.OutputTokens)
	g.recordUsage(ctx, usage.Record{
		Provider:     string(c.provider),
		Model:        resp.Model,
		Operation:    usage.OpChat,
		InputTokens:  in,
		OutputTokens: out,
		ProviderCost: resp.Cost,
		BilledAmount: resp.BilledAmount,
		Metadata:     metadata(resp.PricingFallback, "finishReason", resp.FinishReason),
	})
	return resp, nil
}

// StreamChat 流式对话
//
// 只重试连接建立；连接建立后的错误以最后一个 Err 事件结束流。返回的 channel
// 以一个带 FinishReason 的 token 或一个 Err 事件结束。ctx 取消时停止转发。
func (g *Gateway) StreamChat(ctx context.Context, req *aiinterface.ChatRequest) (<-chan aiinterface.StreamEvent, error) {
	c := call{op: "chat_stream", modality: aiinterface.ModalityChat}
	if req != nil {
		c.provider, c.model = req.Provider, req.Model
	}
	if err := validateRequest(req, req == nil); err != nil {
		return nil, g.fail(c, err)
	}
	a, err := g.registry.Chat(req.Provider)
	if err != nil {
		return nil, g.fail(c, err)
	}
	sa, ok := a.(aiinterface.StreamingChatProvider)
	if !ok {
		return nil, g.fail(c, &aiinterface.ValidationError{Field: "provider", Message: fmt.Sprintf("提供商 %s 不支持流式对话", c.provider)})
	}
	if err := g.checkAvailable(c); err != nil {
		g.observeRejected(c, err)
		return nil, g.fail(c, err)
	}

	ctx, span := g.startSpan(ctx, c)
	started := time.Now()
	upstream, err := resilience.Retry(ctx, g.retry, func(ctx context.Context) (<-chan aiinterface.StreamEvent, error) {
		return sa.StreamChat(ctx, req)
	})
	if err != nil {
		g.observe(c, started, 0, 0, err)
		endSpan(span, err)
		return nil, g.fail(c, err)
	}

	out := make(chan aiinterface.StreamEvent, 16)
	go g.forwardStream(ctx, span, c, req, started, upstream, out)
	return out, nil
}

func (g *Gateway) forwardStream(ctx context.Context, span trace.Span, c call, req *aiinterface.ChatRequest, started time.Time, upstream <-chan aiinterface.StreamEvent, out chan<- aiinterface.StreamEvent) {
	defer close(out)

	var content strings.Builder
	var final *aiinterface.StreamToken
	var streamErr error

	for ev := range upstream {
		if ev.Err != nil {
			streamErr = ev.Err
			break
		}
		content.WriteString(ev.Token.Content)
		if ev.Token.FinishReason != "" {
			tok := ev.Token
			final = &tok
		}
		if !adapter.Send(ctx, out, ev) {
			break
		}
		if final != nil {
			break
		}
	}

	cancelled := ctx.Err() != nil
	if final == nil && streamErr == nil && !cancelled {
		streamErr = &aiinterface.UpstreamError{Provider: c.provider, Status: 502, Message: "流在结束标记前中断"}
	}

	var in, outTokens int
	var model string
	if final != nil {
		model = final.Model
		if final.Usage != nil {
			in, outTokens = final.Usage.InputTokens, final.Usage.OutputTokens
		}
	}
	if model == "" {
		model = g.billing.Catalog().DefaultModel(c.provider, aiinterface.ModalityChat)
		if req.Model != "" {
			model = req.Model
		}
	}
	c.model = model

	if streamErr != nil {
		g.observe(c, started, in, outTokens, streamErr)
		wrapped := g.fail(c, streamErr)
		adapter.Send(ctx, out, aiinterface.StreamEvent{Err: wrapped})
		endSpan(span, streamErr)
	} else {
		var obsErr error
		if cancelled && final == nil {
			obsErr = ctx.Err()
		}
		g.observe(c, started, in, outTokens, obsErr)
		endSpan(span, nil)
	}

	// 是否完整只看结束标记与错误；用量缺失单独标记为估算
	complete := final != nil && streamErr == nil
	if !complete && content.Len() == 0 {
		return
	}
	usageEstimated := final == nil || final.Usage == nil
	if usageEstimated {
		if in == 0 {
			in = billing.EstimateMessageTokens(req.Messages)
		}
		if outTokens == 0 {
			outTokens = billing.EstimateTokens(content.String())
		}
	}

	cost, quote, err := g.billing.Catalog().Cost(c.provider, aiinterface.ModalityChat, model, billing.TokenMetrics(in, outTokens))
	if err != nil {
		g.logger.Error("流式对话计费失败", append(c.fields(), zap.Error(err))...)
		return
	}
	inPtr, outPtr := usage.Tokens(in, outTokens)
	meta := metadata(quote.FallbackUsed)
	if !complete || usageEstimated {
		if meta == nil {
			meta = datatypes.JSONMap{}
		}
		if !complete {
			meta["partial"] = true
		}
		if usageEstimated {
			meta["usageEstimated"] = true
		}
	}
	g.recordUsage(ctx, usage.Record{
		Provider:     string(c.provider),
		Model:        quote.Model,
		Operation:    usage.OpChatStream,
		InputTokens:  inPtr,
		OutputTokens: outPtr,
		ProviderCost: cost,
		BilledAmount: g.bill(c, cost),
		Metadata:     meta,
	})
}

// GenerateImage 文生图；InitImage 非空时按图生图处理
func (g *Gateway) GenerateImage(ctx context.Context, req *aiinterface.ImageRequest) (*aiinterface.ImageResult, error) {
	c := call{op: "image", modality: aiinterface.ModalityImage}
	if req != nil {
		c.provider, c.model = req.Provider, req.Model
	}
	if err := validateRequest(req, req == nil); err != nil {
		return nil, g.fail(c, err)
	}
	a, err := g.registry.Image(req.Provider)
	if err != nil {
		return nil, g.fail(c, err)
	}
	op := usage.OpImage
	if len(req.InitImage) > 0 {
		op = usage.OpImageToImage
	}
	return g.runImage(ctx, c, op, func(ctx context.Context) (*aiinterface.ImageResult, error) {
		return a.GenerateImage(ctx, req)
	})
}

// ImageToImage 图生图
func (g *Gateway) ImageToImage(ctx context.Context, req *aiinterface.ImageRequest) (*aiinterface.ImageResult, error) {
	c := call{op: "image_to_image", modality: aiinterface.ModalityImage}
	if req != nil {
		c.provider, c.model = req.Provider, req.Model
	}
	if err := validateRequest(req, req == nil); err != nil {
		return nil, g.fail(c, err)
	}
	if len(req.InitImage) == 0 {
		return nil, g.fail(c, &aiinterface.ValidationError{Field: "initImage", Message: "图生图需要原始图像"})
	}
	a, err := g.registry.Image(req.Provider)
	if err != nil {
		return nil, g.fail(c, err)
	}
	ia, ok := a.(aiinterface.ImageToImageProvider)
	if !ok {
		return nil, g.fail(c, &aiinterface.ValidationError{Field: "provider", Message: fmt.Sprintf("提供商 %s 不支持图生图", c.provider)})
	}
	return g.runImage(ctx, c, usage.OpImageToImage, func(ctx context.Context) (*aiinterface.ImageResult, error) {
		return ia.ImageToImage(ctx, req)
	})
}

// Upscale 图像放大
func (g *Gateway) Upscale(ctx context.Context, req *aiinterface.UpscaleRequest) (*aiinterface.ImageResult, error) {
	c := call{op: "upscale", modality: aiinterface.ModalityImage}
	if req != nil {
		c.provider, c.model = req.Provider, req.Model
	}
	if err := validateRequest(req, req == nil); err != nil {
		return nil, g.fail(c, err)
	}
	a, err := g.registry.Image(req.Provider)
	if err != nil {
		return nil, g.fail(c, err)
	}
	ua, ok := a.(aiinterface.UpscaleProvider)
	if !ok {
		return nil, g.fail(c, &aiinterface.ValidationError{Field: "provider", Message: fmt.Sprintf("提供商 %s 不支持图像放大", c.provider)})
	}
	return g.runImage(ctx, c, usage.OpUpscale, func(ctx context.Context) (*aiinterface.ImageResult, error) {
		return ua.Upscale(ctx, req)
	})
}

func (g *Gateway) runImage(ctx context.Context, c call, op usage.Operation, fn func(ctx context.Context) (*aiinterface.ImageResult, error)) (*aiinterface.ImageResult, error) {
	ctx, span := g.startSpan(ctx, c)
	res, err := execute(ctx, g, c, fn, func(r *aiinterface.ImageResult) (string, int, int) {
		return r.Model, 0, 0
	})
	endSpan(span, err)
	if err != nil {
		return nil, g.fail(c, err)
	}

	c.model = res.Model
	res.BilledAmount = g.bill(c, res.Cost)
	g.recordUsage(ctx, usage.Record{
		Provider:     string(c.provider),
		Model:        res.Model,
		Operation:    op,
		ProviderCost: res.Cost,
		BilledAmount: res.BilledAmount,
		Metadata:     metadata(res.PricingFallback, "images", len(res.Images), "width", res.Width, "height", res.Height),
	})
	return res, nil
}

// GenerateVideo 提交视频任务；同步完成的提供商立即计费
func (g *Gateway) GenerateVideo(ctx context.Context, req *aiinterface.VideoRequest) (*aiinterface.VideoJob, error) {
	c := call{op: "video", modality: aiinterface.ModalityVideo}
	if req != nil {
		c.provider, c.model = req.Provider, req.Model
	}
	if err := validateRequest(req, req == nil); err != nil {
		return nil, g.fail(c, err)
	}
	a, err := g.registry.Video(req.Provider)
	if err != nil {
		return nil, g.fail(c, err)
	}
	return g.submitVideo(ctx, c, false, func(ctx context.Context) (*aiinterface.VideoJob, error) {
		return a.GenerateVideo(ctx, req)
	})
}

// ImageToVideo 图生视频
func (g *Gateway) ImageToVideo(ctx context.Context, req *aiinterface.VideoRequest) (*aiinterface.VideoJob, error) {
	c := call{op: "image_to_video", modality: aiinterface.ModalityVideo}
	if req != nil {
		c.provider, c.model = req.Provider, req.Model
	}
	if err := validateRequest(req, req == nil); err != nil {
		return nil, g.fail(c, err)
	}
	if strings.TrimSpace(req.ImageURL) == "" {
		return nil, g.fail(c, &aiinterface.ValidationError{Field: "imageUrl", Message: "图生视频需要 imageUrl"})
	}
	a, err := g.registry.Video(req.Provider)
	if err != nil {
		return nil, g.fail(c, err)
	}
	va, ok := a.(aiinterface.ImageToVideoProvider)
	if !ok {
		return nil, g.fail(c, &aiinterface.ValidationError{Field: "provider", Message: fmt.Sprintf("提供商 %s 不支持图生视频", c.provider)})
	}
	return g.submitVideo(ctx, c, true, func(ctx context.Context) (*aiinterface.VideoJob, error) {
		return va.ImageToVideo(ctx, req)
	})
}

func (g *Gateway) submitVideo(ctx context.Context, c call, fromImage bool, fn func(ctx context.Context) (*aiinterface.VideoJob, error)) (*aiinterface.VideoJob, error) {
	ctx, span := g.startSpan(ctx, c)
	job, err := execute(ctx, g, c, fn, func(j *aiinterface.VideoJob) (string, int, int) {
		return j.Model, 0, 0
	})
	endSpan(span, err)
	if err != nil {
		return nil, g.fail(c, err)
	}
	c.model = job.Model

	rec := VideoJobRecord{
		JobID:           job.JobID,
		Provider:        job.Provider,
		Model:           job.Model,
		DurationSeconds: job.DurationSeconds,
		EstimatedCost:   job.EstimatedCost,
		ImageToVideo:    fromImage,
		CreatedAt:       time.Now().UTC(),
	}
	if tc, ok := tenant.FromContext(ctx); ok {
		rec.WorkspaceID, rec.ProjectID, rec.AgentID = tc.WorkspaceID, tc.ProjectID, tc.AgentID
	}
	if err := g.jobs.Save(ctx, rec); err != nil {
		// 任务已在上游创建，记录失败只影响完成时的租户归属
		g.logger.Error("保存视频任务失败", append(c.fields(), zap.String("job_id", job.JobID), zap.Error(err))...)
	}

	if job.Status == aiinterface.VideoStatusCompleted && job.Result != nil {
		if _, err := g.settleVideo(ctx, c, &rec, job.Result); err != nil {
			return nil, g.fail(c, err)
		}
	}
	return job, nil
}

// GetVideoStatus 查询视频任务；第一次观察到完成时计费
func (g *Gateway) GetVideoStatus(ctx context.Context, provider aiinterface.Provider, jobID, model string) (*aiinterface.VideoStatusResult, error) {
	c := call{op: "video_status", modality: aiinterface.ModalityVideo, provider: provider, model: model}
	if strings.TrimSpace(jobID) == "" {
		return nil, g.fail(c, &aiinterface.ValidationError{Field: "jobId", Message: "jobId 不能为空"})
	}
	a, err := g.registry.Video(provider)
	if err != nil {
		return nil, g.fail(c, err)
	}

	rec, err := g.jobs.Get(ctx, provider, jobID)
	switch {
	case errors.Is(err, ErrVideoJobNotFound):
		rec = nil
	case err != nil:
		g.logger.Warn("读取视频任务失败", append(c.fields(), zap.String("job_id", jobID), zap.Error(err))...)
		rec = nil
	}
	// 已记录的任务按提交时的模型查询与计价，调用方传入的 model 只在没有记录时生效
	if rec != nil && rec.Model != "" {
		if c.model != "" && c.model != rec.Model {
			g.logger.Warn("查询模型与提交模型不一致，按提交模型处理", append(c.fields(),
				zap.String("job_id", jobID), zap.String("submitted_model", rec.Model))...)
		}
		c.model = rec.Model
	}
	if c.model == "" {
		c.model = g.billing.Catalog().DefaultModel(provider, aiinterface.ModalityVideo)
	}

	ctx, span := g.startSpan(ctx, c)
	status, err := execute(ctx, g, c, func(ctx context.Context) (*aiinterface.VideoStatusResult, error) {
		return a.GetVideoStatus(ctx, jobID, c.model)
	}, nil)
	endSpan(span, err)
	if err != nil {
		return nil, g.fail(c, err)
	}

	if status.Status == aiinterface.VideoStatusCompleted && status.Result != nil {
		if rec == nil {
			rec = &VideoJobRecord{JobID: jobID, Provider: provider, Model: c.model}
			if tc, ok := tenant.FromContext(ctx); ok {
				rec.WorkspaceID, rec.ProjectID, rec.AgentID = tc.WorkspaceID, tc.ProjectID, tc.AgentID
			}
		}
		billed, err := g.settleVideo(ctx, c, rec, status.Result)
		if err != nil {
			return nil, g.fail(c, err)
		}
		status.BilledAmount = billed
	}
	return status, nil
}

// settleVideo 结算视频任务，MarkBilled 保证只写一次用量
//
// 成本来源依次为：上游回报的成本、实际或提交时长、提交时的预估成本、目录默认时长。
// 都没有时返回错误且不标记已计费，后续查询仍可结算。
func (g *Gateway) settleVideo(ctx context.Context, c call, rec *VideoJobRecord, result *aiinterface.VideoResult) (decimal.Decimal, error) {
	catalog := g.billing.Catalog()
	seconds := result.DurationSeconds
	if seconds <= 0 {
		seconds = float64(rec.DurationSeconds)
	}
	cost := result.Cost
	var fallback, estimated bool
	priceSeconds := func(s float64) error {
		var quote billing.Quote
		var err error
		cost, quote, err = catalog.Cost(c.provider, aiinterface.ModalityVideo, c.model, billing.UnitMetrics(s))
		if err != nil {
			return err
		}
		fallback = quote.FallbackUsed
		return nil
	}

	switch {
	case cost.IsPositive():
	case seconds > 0:
		if err := priceSeconds(seconds); err != nil {
			return decimal.Zero, err
		}
	case rec.EstimatedCost.IsPositive():
		cost, estimated = rec.EstimatedCost, true
	default:
		seconds = catalog.DefaultUnits(c.provider, aiinterface.ModalityVideo)
		if seconds <= 0 {
			g.logger.Error("视频任务缺少时长且无默认时长，暂不结算", append(c.fields(), zap.String("job_id", rec.JobID))...)
			return decimal.Zero, &aiinterface.ModelCostsUnavailableError{Provider: c.provider, Model: c.model}
		}
		if err := priceSeconds(seconds); err != nil {
			return decimal.Zero, err
		}
		estimated = true
	}
	if !cost.IsPositive() {
		return decimal.Zero, &aiinterface.ModelCostsUnavailableError{Provider: c.provider, Model: c.model}
	}
	result.Cost = cost

	first, err := g.jobs.MarkBilled(ctx, c.provider, rec.JobID)
	if err != nil {
		return decimal.Zero, err
	}
	if !first {
		return g.billing.Bill(cost), nil
	}

	op := usage.OpVideo
	if rec.ImageToVideo {
		op = usage.OpImageToVideo
	}
	billed := g.bill(c, cost)
	g.recordUsage(ctx, usage.Record{
		Provider:     string(c.provider),
		Model:        c.model,
		Operation:    op,
		ProviderCost: cost,
		BilledAmount: billed,
		WorkspaceID:  rec.WorkspaceID,
		ProjectID:    rec.ProjectID,
		AgentID:      rec.AgentID,
		Metadata:     metadata(fallback, "jobId", rec.JobID, "durationSeconds", seconds, "durationEstimated", estimated),
	})
	g.logger.Info("视频任务已结算", append(c.fields(),
		zap.String("job_id", rec.JobID),
		zap.Float64("duration_seconds", seconds),
		zap.Bool("duration_estimated", estimated),
		zap.String("billed", billed.String()))...)
	return billed, nil
}

// TextToSpeech 语音合成
func (g *Gateway) TextToSpeech(ctx context.Context, req *aiinterface.VoiceRequest) (*aiinterface.VoiceResult, error) {
	c := call{op: "voice", modality: aiinterface.ModalityVoice}
	if req != nil {
		c.provider, c.model = req.Provider, req.Model
	}
	if err := validateRequest(req, req == nil); err != nil {
		return nil, g.fail(c, err)
	}
	a, err := g.registry.Voice(req.Provider)
	if err != nil {
		return nil, g.fail(c, err)
	}

	ctx, span := g.startSpan(ctx, c)
	res, err := execute(ctx, g, c, func(ctx context.Context) (*aiinterface.VoiceResult, error) {
		return a.TextToSpeech(ctx, req)
	}, func(r *aiinterface.VoiceResult) (string, int, int) {
		return r.Model, 0, 0
	})
	endSpan(span, err)
	if err != nil {
		return nil, g.fail(c, err)
	}

	c.model = res.Model
	res.BilledAmount = g.bill(c, res.Cost)
	g.recordUsage(ctx, usage.Record{
		Provider:     string(c.provider),
		Model:        res.Model,
		Operation:    usage.OpVoice,
		ProviderCost: res.Cost,
		BilledAmount: res.BilledAmount,
		Metadata:     metadata(res.PricingFallback, "characters", res.Characters, "durationSeconds", res.DurationSeconds),
	})
	return res, nil
}

// AvailableProviders 每种生成类型当前可用的提供商（已注册且健康）
func (g *Gateway) AvailableProviders() map[aiinterface.Modality][]aiinterface.Provider {
	out := make(map[aiinterface.Modality][]aiinterface.Provider, len(aiinterface.Modalities))
	for _, m := range aiinterface.Modalities {
		list := []aiinterface.Provider{}
		for _, p := range g.registry.Providers(m) {
			if g.health.IsAvailable(p) {
				list = append(list, p)
			}
		}
		out[m] = list
	}
	return out
}

// HealthStatus 各提供商健康状态
func (g *Gateway) HealthStatus() []health.State {
	return g.health.Snapshot()
}

// ResetHealth 清除提供商的失败记录
func (g *Gateway) ResetHealth(provider aiinterface.Provider) {
	g.health.Reset(provider)
}
