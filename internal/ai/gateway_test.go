package ai

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"aigateway/internal/billing"
	"aigateway/internal/health"
	"aigateway/internal/metrics"
	"aigateway/internal/resilience"
	"aigateway/internal/tenant"
	"aigateway/internal/usage"
	"aigateway/pkg/aiinterface"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeChat struct {
	provider aiinterface.Provider
	calls    atomic.Int32
	errs     []error // 依次返回，用完后成功
	resp     aiinterface.LLMResponse
	block    bool
	ctxErr   chan error
	events   []aiinterface.StreamEvent
}

func (f *fakeChat) Provider() aiinterface.Provider { return f.provider }

func (f *fakeChat) Chat(ctx context.Context, req *aiinterface.ChatRequest) (*aiinterface.LLMResponse, error) {
	n := int(f.calls.Add(1))
	if f.block {
		<-ctx.Done()
		if f.ctxErr != nil {
			f.ctxErr <- ctx.Err()
		}
		return nil, ctx.Err()
	}
	if n <= len(f.errs) {
		return nil, f.errs[n-1]
	}
	resp := f.resp
	return &resp, nil
}

func (f *fakeChat) StreamChat(ctx context.Context, req *aiinterface.ChatRequest) (<-chan aiinterface.StreamEvent, error) {
	f.calls.Add(1)
	ch := make(chan aiinterface.StreamEvent)
	go func() {
		defer close(ch)
		for _, ev := range f.events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// fakeImage 只实现文生图
type fakeImage struct{}

func (fakeImage) Provider() aiinterface.Provider { return aiinterface.ProviderOpenAI }

func (fakeImage) GenerateImage(ctx context.Context, req *aiinterface.ImageRequest) (*aiinterface.ImageResult, error) {
	return &aiinterface.ImageResult{
		Provider: aiinterface.ProviderOpenAI,
		Model:    "dall-e-3",
		Images:   []aiinterface.GeneratedImage{{URL: "https://img.example/1.png"}},
		Width:    1024,
		Height:   1024,
		Cost:     decimal.RequireFromString("0.04"),
	}, nil
}

type fakeVideo struct {
	submits     atomic.Int32
	statusCalls atomic.Int32
	status      aiinterface.VideoStatusResult
}

func (f *fakeVideo) Provider() aiinterface.Provider { return aiinterface.ProviderRunway }

func (f *fakeVideo) GenerateVideo(ctx context.Context, req *aiinterface.VideoRequest) (*aiinterface.VideoJob, error) {
	f.submits.Add(1)
	return &aiinterface.VideoJob{
		JobID:           "job-1",
		Provider:        aiinterface.ProviderRunway,
		Model:           "gen4_turbo",
		Status:          aiinterface.VideoStatusQueued,
		DurationSeconds: 10,
		EstimatedCost:   decimal.RequireFromString("0.5"),
	}, nil
}

func (f *fakeVideo) GetVideoStatus(ctx context.Context, jobID, model string) (*aiinterface.VideoStatusResult, error) {
	f.statusCalls.Add(1)
	res := f.status
	res.JobID, res.Model = jobID, model
	if f.status.Result != nil {
		r := *f.status.Result
		res.Result = &r
	}
	return &res, nil
}

type memorySink struct {
	mu      sync.Mutex
	records []usage.Record
}

func (s *memorySink) Persist(ctx context.Context, records []usage.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return nil
}

type harness struct {
	gw      *Gateway
	sink    *memorySink
	tracker *usage.Tracker
	metrics *metrics.Gateway
	health  *health.Tracker
}

func newHarness(t *testing.T, policy health.Policy, timeout time.Duration, adapters map[aiinterface.Modality][]aiinterface.Adapter) *harness {
	t.Helper()
	reg := NewRegistry()
	for m, list := range adapters {
		for _, a := range list {
			require.NoError(t, reg.Register(m, a))
		}
	}

	logger := zaptest.NewLogger(t)
	m := metrics.NewGateway(prometheus.NewRegistry())
	sink := &memorySink{}
	tracker := usage.NewTracker(sink, usage.Options{BatchSize: 1000, Logger: logger})
	ht := health.NewTracker(policy, health.WithLogger(logger), health.WithGauge(m.ProviderHealthy))

	gw, err := NewGateway(Options{
		Registry: reg,
		Billing:  billing.NewEngine(billing.DefaultCatalog(), billing.DefaultPolicy(), nil),
		Health:   ht,
		Usage:    tracker,
		Retry:    resilience.RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		Timeout:  timeout,
		Metrics:  m,
		Logger:   logger,
	})
	require.NoError(t, err)
	return &harness{gw: gw, sink: sink, tracker: tracker, metrics: m, health: ht}
}

func (h *harness) records(t *testing.T) []usage.Record {
	t.Helper()
	require.NoError(t, h.tracker.Flush(context.Background()))
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	return append([]usage.Record(nil), h.sink.records...)
}

func chatAdapters(a aiinterface.Adapter) map[aiinterface.Modality][]aiinterface.Adapter {
	return map[aiinterface.Modality][]aiinterface.Adapter{aiinterface.ModalityChat: {a}}
}

func chatRequest() *aiinterface.ChatRequest {
	return &aiinterface.ChatRequest{
		Provider: aiinterface.ProviderOpenAI,
		Messages: []aiinterface.Message{{Role: "user", Content: "你好"}},
	}
}

func tenantCtx() context.Context {
	return tenant.WithTenantContext(context.Background(), tenant.TenantContext{WorkspaceID: "ws-1", ProjectID: "proj-1"})
}

func TestGatewayChat_BillsAndRecordsUsage(t *testing.T) {
	fc := &fakeChat{provider: aiinterface.ProviderOpenAI, resp: aiinterface.LLMResponse{
		Provider: aiinterface.ProviderOpenAI,
		Model:    "gpt-4o",
		Content:  "你好！",
		Usage:    aiinterface.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
		Cost:     decimal.RequireFromString("0.004"),
	}}
	h := newHarness(t, health.DefaultPolicy(), time.Second, chatAdapters(fc))

	resp, err := h.gw.Chat(tenantCtx(), chatRequest())
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.25").Equal(resp.BilledAmount), resp.BilledAmount.String())

	recs := h.records(t)
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, usage.OpChat, rec.Operation)
	assert.Equal(t, "openai", rec.Provider)
	assert.Equal(t, "gpt-4o", rec.Model)
	assert.Equal(t, "ws-1", rec.WorkspaceID)
	assert.Equal(t, "proj-1", rec.ProjectID)
	require.NotNil(t, rec.InputTokens)
	assert.Equal(t, 10, *rec.InputTokens)
	assert.True(t, decimal.RequireFromString("0.004").Equal(rec.ProviderCost))
	assert.NotEmpty(t, rec.ID)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Requests.WithLabelValues("openai", "chat", "success")))
	assert.Equal(t, 0.25, testutil.ToFloat64(h.metrics.BilledAmount.WithLabelValues("openai", "chat")))

	summary := h.gw.Monitor().GetSummary(aiinterface.ProviderOpenAI, "gpt-4o")
	require.NotNil(t, summary)
	assert.Equal(t, int64(1), summary.TotalRequests)
	assert.Equal(t, int64(10), summary.TotalInputTokens)
}

func TestGatewayChat_UnknownProviderMakesNoCall(t *testing.T) {
	fc := &fakeChat{provider: aiinterface.ProviderOpenAI}
	h := newHarness(t, health.DefaultPolicy(), time.Second, chatAdapters(fc))

	req := chatRequest()
	req.Provider = "unknown"
	_, err := h.gw.Chat(context.Background(), req)

	var upe *aiinterface.UnknownProviderError
	require.ErrorAs(t, err, &upe)
	var ge *GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "chat", ge.Op)
	assert.Equal(t, aiinterface.CodeUnknownProvider, aiinterface.ErrorCode(err))
	assert.Zero(t, fc.calls.Load())
}

func TestGatewayChat_ValidationFailsFast(t *testing.T) {
	fc := &fakeChat{provider: aiinterface.ProviderOpenAI}
	h := newHarness(t, health.DefaultPolicy(), time.Second, chatAdapters(fc))

	_, err := h.gw.Chat(context.Background(), &aiinterface.ChatRequest{Provider: aiinterface.ProviderOpenAI})
	var ve *aiinterface.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Zero(t, fc.calls.Load())

	_, err = h.gw.Chat(context.Background(), nil)
	require.ErrorAs(t, err, &ve)
}

func TestGatewayChat_RetriesTransientFailures(t *testing.T) {
	unavailable := &aiinterface.UpstreamError{Provider: aiinterface.ProviderOpenAI, Status: http.StatusServiceUnavailable}
	fc := &fakeChat{
		provider: aiinterface.ProviderOpenAI,
		errs:     []error{unavailable, unavailable},
		resp:     aiinterface.LLMResponse{Model: "gpt-4o", Cost: decimal.RequireFromString("0.30")},
	}
	h := newHarness(t, health.DefaultPolicy(), time.Second, chatAdapters(fc))

	resp, err := h.gw.Chat(context.Background(), chatRequest())
	require.NoError(t, err)
	assert.Equal(t, int32(3), fc.calls.Load())
	assert.True(t, decimal.RequireFromString("1.5").Equal(resp.BilledAmount), resp.BilledAmount.String())
	assert.Zero(t, h.health.Failures(aiinterface.ProviderOpenAI))
}

func TestGatewayChat_ClientErrorNotRetriedButCounted(t *testing.T) {
	fc := &fakeChat{
		provider: aiinterface.ProviderOpenAI,
		errs:     []error{&aiinterface.UpstreamError{Provider: aiinterface.ProviderOpenAI, Status: http.StatusBadRequest, Message: "bad"}},
	}
	h := newHarness(t, health.DefaultPolicy(), time.Second, chatAdapters(fc))

	_, err := h.gw.Chat(context.Background(), chatRequest())
	var ue *aiinterface.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusBadRequest, ue.Status)
	assert.Equal(t, int32(1), fc.calls.Load())
	assert.Equal(t, 1, h.health.Failures(aiinterface.ProviderOpenAI))
	assert.Empty(t, h.records(t))
}

func TestGatewayChat_CallerCancelNotCounted(t *testing.T) {
	fc := &fakeChat{provider: aiinterface.ProviderOpenAI, block: true}
	h := newHarness(t, health.DefaultPolicy(), 5*time.Second, chatAdapters(fc))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := h.gw.Chat(ctx, chatRequest())
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), fc.calls.Load())
	assert.Zero(t, h.health.Failures(aiinterface.ProviderOpenAI))
}

func TestGatewayChat_HalfOpenAdmitsOneCall(t *testing.T) {
	fc := &fakeChat{provider: aiinterface.ProviderOpenAI, block: true}
	h := newHarness(t, health.DefaultPolicy(), 5*time.Second, chatAdapters(fc))
	clock := time.Unix(1700000000, 0)
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}
	h.gw.health = health.NewTracker(health.Policy{FailureThreshold: 1, Cooldown: time.Minute}, health.WithClock(now))
	h.gw.health.RecordFailure(aiinterface.ProviderOpenAI)
	mu.Lock()
	clock = clock.Add(time.Minute)
	mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.gw.Chat(ctx, chatRequest())
		done <- err
	}()
	require.Eventually(t, func() bool { return fc.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	// 试探请求未结束，其余请求不发起网络调用
	_, err := h.gw.Chat(context.Background(), chatRequest())
	var pue *aiinterface.ProviderUnavailableError
	require.ErrorAs(t, err, &pue)
	assert.Equal(t, int32(1), fc.calls.Load())

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	assert.True(t, h.gw.health.Admit(aiinterface.ProviderOpenAI), "取消后释放试探名额")
}

func TestGatewayChat_UnhealthyProviderSkipped(t *testing.T) {
	down := &aiinterface.UpstreamError{Provider: aiinterface.ProviderOpenAI, Status: http.StatusBadGateway}
	fc := &fakeChat{provider: aiinterface.ProviderOpenAI, errs: []error{down, down, down, down, down}}
	h := newHarness(t, health.Policy{FailureThreshold: 1, Cooldown: time.Hour}, time.Second, chatAdapters(fc))

	_, err := h.gw.Chat(context.Background(), chatRequest())
	require.Error(t, err)
	calls := fc.calls.Load()

	_, err = h.gw.Chat(context.Background(), chatRequest())
	var pue *aiinterface.ProviderUnavailableError
	require.ErrorAs(t, err, &pue)
	assert.Equal(t, calls, fc.calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Requests.WithLabelValues("openai", "chat", aiinterface.CodeProviderUnavailable)))

	h.gw.ResetHealth(aiinterface.ProviderOpenAI)
	assert.Empty(t, h.health.Snapshot())
}

func TestGatewayChat_TimeoutCancelsAttempt(t *testing.T) {
	fc := &fakeChat{provider: aiinterface.ProviderOpenAI, block: true, ctxErr: make(chan error, 4)}
	h := newHarness(t, health.DefaultPolicy(), 20*time.Millisecond, chatAdapters(fc))
	h.gw.retry.MaxRetries = 0

	_, err := h.gw.Chat(context.Background(), chatRequest())
	var te *aiinterface.TimeoutError
	require.ErrorAs(t, err, &te)

	select {
	case ctxErr := <-fc.ctxErr:
		assert.ErrorIs(t, ctxErr, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("上游调用的 context 未被取消")
	}
	assert.Equal(t, 1, h.health.Failures(aiinterface.ProviderOpenAI))
}

func collect(t *testing.T, ch <-chan aiinterface.StreamEvent) []aiinterface.StreamEvent {
	t.Helper()
	var out []aiinterface.StreamEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("流未结束")
		}
	}
}

func TestGatewayStreamChat_CompleteStream(t *testing.T) {
	fc := &fakeChat{provider: aiinterface.ProviderOpenAI, events: []aiinterface.StreamEvent{
		{Token: aiinterface.StreamToken{Content: "你"}},
		{Token: aiinterface.StreamToken{Content: "好"}},
		{Token: aiinterface.StreamToken{FinishReason: "stop", Model: "gpt-4o", Usage: &aiinterface.Usage{InputTokens: 5, OutputTokens: 2, TotalTokens: 7}}},
	}}
	h := newHarness(t, health.DefaultPolicy(), time.Second, chatAdapters(fc))

	ch, err := h.gw.StreamChat(tenantCtx(), chatRequest())
	require.NoError(t, err)
	events := collect(t, ch)

	require.Len(t, events, 3)
	content := ""
	for _, ev := range events {
		require.NoError(t, ev.Err)
		content += ev.Token.Content
	}
	assert.Equal(t, "你好", content)
	assert.Equal(t, "stop", events[2].Token.FinishReason)

	recs := h.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, usage.OpChatStream, recs[0].Operation)
	assert.Equal(t, 5, *recs[0].InputTokens)
	assert.Equal(t, 2, *recs[0].OutputTokens)
	assert.Nil(t, recs[0].Metadata["partial"])
	assert.Nil(t, recs[0].Metadata["usageEstimated"])
	assert.Equal(t, "ws-1", recs[0].WorkspaceID)
}

func TestGatewayStreamChat_FinishedWithoutUsageIsComplete(t *testing.T) {
	// 上游未开启 include_usage 时最后一帧只有 finish_reason
	fc := &fakeChat{provider: aiinterface.ProviderOpenAI, events: []aiinterface.StreamEvent{
		{Token: aiinterface.StreamToken{Content: "你好"}},
		{Token: aiinterface.StreamToken{FinishReason: "stop", Model: "gpt-4o"}},
	}}
	h := newHarness(t, health.DefaultPolicy(), time.Second, chatAdapters(fc))

	ch, err := h.gw.StreamChat(tenantCtx(), chatRequest())
	require.NoError(t, err)
	events := collect(t, ch)
	require.Len(t, events, 2)
	for _, ev := range events {
		require.NoError(t, ev.Err)
	}

	recs := h.records(t)
	require.Len(t, recs, 1)
	assert.Nil(t, recs[0].Metadata["partial"])
	assert.Equal(t, true, recs[0].Metadata["usageEstimated"])
	assert.Positive(t, *recs[0].InputTokens)
	assert.Positive(t, *recs[0].OutputTokens)
}

func TestGatewayStreamChat_BrokenStreamEndsWithError(t *testing.T) {
	fc := &fakeChat{provider: aiinterface.ProviderOpenAI, events: []aiinterface.StreamEvent{
		{Token: aiinterface.StreamToken{Content: "部分内容"}},
		{Err: &aiinterface.UpstreamError{Provider: aiinterface.ProviderOpenAI, Status: http.StatusInternalServerError, Message: "boom"}},
	}}
	h := newHarness(t, health.DefaultPolicy(), time.Second, chatAdapters(fc))

	ch, err := h.gw.StreamChat(context.Background(), chatRequest())
	require.NoError(t, err)
	events := collect(t, ch)

	require.Len(t, events, 2)
	assert.Equal(t, "部分内容", events[0].Token.Content)
	var ue *aiinterface.UpstreamError
	require.ErrorAs(t, events[1].Err, &ue)
	assert.Equal(t, http.StatusInternalServerError, ue.Status)
	assert.Equal(t, 1, h.health.Failures(aiinterface.ProviderOpenAI))

	recs := h.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, true, recs[0].Metadata["partial"])
	assert.Equal(t, true, recs[0].Metadata["usageEstimated"])
	assert.True(t, recs[0].ProviderCost.IsPositive())
}

func TestGatewayStreamChat_TruncatedStreamIsError(t *testing.T) {
	fc := &fakeChat{provider: aiinterface.ProviderOpenAI, events: []aiinterface.StreamEvent{
		{Token: aiinterface.StreamToken{Content: "半"}},
	}}
	h := newHarness(t, health.DefaultPolicy(), time.Second, chatAdapters(fc))

	ch, err := h.gw.StreamChat(context.Background(), chatRequest())
	require.NoError(t, err)
	events := collect(t, ch)

	require.Len(t, events, 2)
	var ue *aiinterface.UpstreamError
	require.ErrorAs(t, events[1].Err, &ue)
	assert.Equal(t, http.StatusBadGateway, ue.Status)
}

func TestGatewayStreamChat_UnknownProvider(t *testing.T) {
	h := newHarness(t, health.DefaultPolicy(), time.Second, nil)
	_, err := h.gw.StreamChat(context.Background(), chatRequest())
	var upe *aiinterface.UnknownProviderError
	require.ErrorAs(t, err, &upe)
}

func TestGatewayImage_OptionalCapabilities(t *testing.T) {
	h := newHarness(t, health.DefaultPolicy(), time.Second, map[aiinterface.Modality][]aiinterface.Adapter{
		aiinterface.ModalityImage: {fakeImage{}},
	})

	res, err := h.gw.GenerateImage(tenantCtx(), &aiinterface.ImageRequest{Provider: aiinterface.ProviderOpenAI, Prompt: "猫"})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.25").Equal(res.BilledAmount))

	_, err = h.gw.ImageToImage(context.Background(), &aiinterface.ImageRequest{
		Provider:  aiinterface.ProviderOpenAI,
		Prompt:    "猫",
		InitImage: []byte{1, 2, 3},
	})
	var ve *aiinterface.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "provider", ve.Field)

	_, err = h.gw.Upscale(context.Background(), &aiinterface.UpscaleRequest{Provider: aiinterface.ProviderOpenAI, Image: []byte{1}})
	require.ErrorAs(t, err, &ve)

	recs := h.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, usage.OpImage, recs[0].Operation)
	assert.EqualValues(t, 1, recs[0].Metadata["images"])
}

func TestGatewayVideo_BillsOnceOnCompletion(t *testing.T) {
	fv := &fakeVideo{status: aiinterface.VideoStatusResult{
		Provider: aiinterface.ProviderRunway,
		Status:   aiinterface.VideoStatusCompleted,
		Result:   &aiinterface.VideoResult{URL: "https://video.example/1.mp4"},
	}}
	h := newHarness(t, health.DefaultPolicy(), time.Second, map[aiinterface.Modality][]aiinterface.Adapter{
		aiinterface.ModalityVideo: {fv},
	})

	job, err := h.gw.GenerateVideo(tenantCtx(), &aiinterface.VideoRequest{
		Provider:        aiinterface.ProviderRunway,
		Prompt:          "海浪",
		DurationSeconds: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.JobID)
	assert.Empty(t, h.records(t))

	for i := 0; i < 2; i++ {
		st, err := h.gw.GetVideoStatus(context.Background(), aiinterface.ProviderRunway, "job-1", "")
		require.NoError(t, err)
		assert.Equal(t, aiinterface.VideoStatusCompleted, st.Status)
		assert.Equal(t, "gen4_turbo", st.Model)
		// 10 秒 × 0.05 = 0.5，加价 5 倍 = 2.5
		assert.True(t, decimal.RequireFromString("2.5").Equal(st.BilledAmount), st.BilledAmount.String())
	}
	assert.Equal(t, int32(2), fv.statusCalls.Load())

	recs := h.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, usage.OpVideo, recs[0].Operation)
	assert.Equal(t, "ws-1", recs[0].WorkspaceID)
	assert.True(t, decimal.RequireFromString("0.5").Equal(recs[0].ProviderCost))
}

func TestGatewayVideo_PricesSubmittedModel(t *testing.T) {
	fv := &fakeVideo{status: aiinterface.VideoStatusResult{
		Provider: aiinterface.ProviderRunway,
		Status:   aiinterface.VideoStatusCompleted,
		Result:   &aiinterface.VideoResult{URL: "https://video.example/1.mp4"},
	}}
	h := newHarness(t, health.DefaultPolicy(), time.Second, map[aiinterface.Modality][]aiinterface.Adapter{
		aiinterface.ModalityVideo: {fv},
	})
	// 查询时传入的模型更便宜，计价必须仍按提交的 gen4_turbo
	h.gw.billing.Catalog().Merge(aiinterface.ProviderRunway, &billing.ProviderPricing{
		Models: map[string]billing.Price{"gen3a_turbo": billing.UnitPrice(billing.UnitSecond, "0.01")},
	})

	_, err := h.gw.GenerateVideo(tenantCtx(), &aiinterface.VideoRequest{
		Provider:        aiinterface.ProviderRunway,
		Prompt:          "海浪",
		DurationSeconds: 10,
	})
	require.NoError(t, err)

	st, err := h.gw.GetVideoStatus(context.Background(), aiinterface.ProviderRunway, "job-1", "gen3a_turbo")
	require.NoError(t, err)
	assert.Equal(t, "gen4_turbo", st.Model)
	assert.True(t, decimal.RequireFromString("2.5").Equal(st.BilledAmount), st.BilledAmount.String())

	recs := h.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, "gen4_turbo", recs[0].Model)
	assert.True(t, decimal.RequireFromString("0.5").Equal(recs[0].ProviderCost), recs[0].ProviderCost.String())
}

func TestGatewayVideo_UnknownDurationUsesDefaultUnits(t *testing.T) {
	fv := &fakeVideo{status: aiinterface.VideoStatusResult{
		Provider: aiinterface.ProviderRunway,
		Status:   aiinterface.VideoStatusCompleted,
		Result:   &aiinterface.VideoResult{URL: "https://video.example/1.mp4"},
	}}
	h := newHarness(t, health.DefaultPolicy(), time.Second, map[aiinterface.Modality][]aiinterface.Adapter{
		aiinterface.ModalityVideo: {fv},
	})

	// 没有提交记录，上游也未回报时长
	st, err := h.gw.GetVideoStatus(tenantCtx(), aiinterface.ProviderRunway, "job-9", "")
	require.NoError(t, err)
	// 默认 5 秒 × 0.05 = 0.25，加价 5 倍 = 1.25
	assert.True(t, decimal.RequireFromString("1.25").Equal(st.BilledAmount), st.BilledAmount.String())

	recs := h.records(t)
	require.Len(t, recs, 1)
	assert.True(t, decimal.RequireFromString("0.25").Equal(recs[0].ProviderCost))
	assert.Equal(t, true, recs[0].Metadata["durationEstimated"])
}

func TestGatewayVideo_UsesEstimatedCostWhenDurationMissing(t *testing.T) {
	fv := &fakeVideo{status: aiinterface.VideoStatusResult{
		Provider: aiinterface.ProviderRunway,
		Status:   aiinterface.VideoStatusCompleted,
		Result:   &aiinterface.VideoResult{URL: "https://video.example/1.mp4"},
	}}
	h := newHarness(t, health.DefaultPolicy(), time.Second, map[aiinterface.Modality][]aiinterface.Adapter{
		aiinterface.ModalityVideo: {fv},
	})
	require.NoError(t, h.gw.jobs.Save(context.Background(), VideoJobRecord{
		JobID:         "job-2",
		Provider:      aiinterface.ProviderRunway,
		Model:         "gen4_turbo",
		EstimatedCost: decimal.RequireFromString("0.4"),
		WorkspaceID:   "ws-1",
	}))

	st, err := h.gw.GetVideoStatus(context.Background(), aiinterface.ProviderRunway, "job-2", "")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("2").Equal(st.BilledAmount), st.BilledAmount.String())

	recs := h.records(t)
	require.Len(t, recs, 1)
	assert.True(t, decimal.RequireFromString("0.4").Equal(recs[0].ProviderCost))
}

func TestGatewayVideo_UnpriceableJobStaysUnbilled(t *testing.T) {
	fv := &fakeVideo{status: aiinterface.VideoStatusResult{
		Provider: aiinterface.ProviderRunway,
		Status:   aiinterface.VideoStatusCompleted,
		Result:   &aiinterface.VideoResult{URL: "https://video.example/1.mp4"},
	}}
	h := newHarness(t, health.DefaultPolicy(), time.Second, map[aiinterface.Modality][]aiinterface.Adapter{
		aiinterface.ModalityVideo: {fv},
	})
	// 价格表没有默认时长
	h.gw.billing.Catalog().Set(aiinterface.ProviderRunway, &billing.ProviderPricing{
		DefaultModels: map[aiinterface.Modality]string{aiinterface.ModalityVideo: "gen4_turbo"},
		Models:        map[string]billing.Price{"gen4_turbo": billing.UnitPrice(billing.UnitSecond, "0.05")},
	})

	_, err := h.gw.GetVideoStatus(tenantCtx(), aiinterface.ProviderRunway, "job-3", "")
	require.Error(t, err)
	assert.Equal(t, aiinterface.CodeModelCostsUnavailable, aiinterface.ErrorCode(err))
	assert.Empty(t, h.records(t))

	// 补齐时长后再次查询可以结算
	require.NoError(t, h.gw.jobs.Save(context.Background(), VideoJobRecord{
		JobID:           "job-3",
		Provider:        aiinterface.ProviderRunway,
		Model:           "gen4_turbo",
		DurationSeconds: 10,
	}))
	st, err := h.gw.GetVideoStatus(tenantCtx(), aiinterface.ProviderRunway, "job-3", "")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("2.5").Equal(st.BilledAmount), st.BilledAmount.String())
	assert.Len(t, h.records(t), 1)
}

func TestGatewayVideo_ImageToVideoRequiresImage(t *testing.T) {
	h := newHarness(t, health.DefaultPolicy(), time.Second, map[aiinterface.Modality][]aiinterface.Adapter{
		aiinterface.ModalityVideo: {&fakeVideo{}},
	})
	_, err := h.gw.ImageToVideo(context.Background(), &aiinterface.VideoRequest{Provider: aiinterface.ProviderRunway, Prompt: "x"})
	var ve *aiinterface.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "imageUrl", ve.Field)

	_, err = h.gw.ImageToVideo(context.Background(), &aiinterface.VideoRequest{Provider: aiinterface.ProviderRunway, ImageURL: "https://img.example/a.png"})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "provider", ve.Field)

	_, err = h.gw.GetVideoStatus(context.Background(), aiinterface.ProviderRunway, " ", "")
	require.ErrorAs(t, err, &ve)
}

func TestGatewayAvailableProviders(t *testing.T) {
	h := newHarness(t, health.Policy{FailureThreshold: 2, Cooldown: time.Hour}, time.Second, map[aiinterface.Modality][]aiinterface.Adapter{
		aiinterface.ModalityChat:  {&fakeChat{provider: aiinterface.ProviderOpenAI}, &fakeChat{provider: aiinterface.ProviderAnthropic}},
		aiinterface.ModalityVideo: {&fakeVideo{}},
	})

	got := h.gw.AvailableProviders()
	assert.Equal(t, []aiinterface.Provider{aiinterface.ProviderOpenAI, aiinterface.ProviderAnthropic}, got[aiinterface.ModalityChat])
	assert.Equal(t, []aiinterface.Provider{aiinterface.ProviderRunway}, got[aiinterface.ModalityVideo])
	assert.Empty(t, got[aiinterface.ModalityImage])

	h.health.RecordFailure(aiinterface.ProviderOpenAI)
	h.health.RecordFailure(aiinterface.ProviderOpenAI)
	got = h.gw.AvailableProviders()
	assert.Equal(t, []aiinterface.Provider{aiinterface.ProviderAnthropic}, got[aiinterface.ModalityChat])

	states := h.gw.HealthStatus()
	require.Len(t, states, 1)
	assert.False(t, states[0].Healthy)
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.ProviderHealthy.WithLabelValues("openai")))
}

func TestNewGatewayRequiresDependencies(t *testing.T) {
	_, err := NewGateway(Options{})
	require.Error(t, err)
	_, err = NewGateway(Options{Registry: NewRegistry()})
	require.Error(t, err)

	gw, err := NewGateway(Options{Registry: NewRegistry(), Billing: billing.NewEngine(billing.DefaultCatalog(), billing.DefaultPolicy(), nil)})
	require.NoError(t, err)
	assert.NotNil(t, gw.Billing())
	assert.True(t, errors.Is(gw.fail(call{op: "chat"}, context.Canceled), context.Canceled))
}
