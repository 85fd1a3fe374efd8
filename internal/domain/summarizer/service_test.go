package summarizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yanqian/ai-digest/internal/domain/chunker"
	"github.com/yanqian/ai-digest/internal/infra/llm/chatgpt"
	apperrors "github.com/yanqian/ai-digest/pkg/errors"
	"github.com/yanqian/ai-digest/pkg/tokenizer"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubChatClient scripts completions per call.
type stubChatClient struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, req chatgpt.ChatCompletionRequest) (string, error)
}

func (s *stubChatClient) CreateChatCompletion(_ context.Context, req chatgpt.ChatCompletionRequest) (chatgpt.ChatCompletionResponse, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()

	out, err := s.fn(call, req)
	if err != nil {
		return chatgpt.ChatCompletionResponse{}, err
	}
	return chatgpt.ChatCompletionResponse{
		Choices: []struct {
			Message chatgpt.Message `json:"message"`
		}{
			{Message: chatgpt.Message{Role: "assistant", Content: out}},
		},
		Usage: chatgpt.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (s *stubChatClient) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// numberedText yields n distinct pseudo-words so every chunk's content
// is unique.
func numberedText(n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "token%03d ", i)
	}
	return strings.TrimSpace(sb.String())
}

func TestSummarizeBypassesContentWithinTarget(t *testing.T) {
	client := &stubChatClient{fn: func(int, chatgpt.ChatCompletionRequest) (string, error) {
		return "", errors.New("model must not be called")
	}}
	svc := NewService(Config{TargetTokens: 1000}, client, newTestLogger())

	content := "Already short enough."
	resp, err := svc.Summarize(context.Background(), Request{Content: content})
	require.NoError(t, err)
	require.Equal(t, content, resp.Text)
	require.True(t, resp.Converged)
	require.Zero(t, resp.MapCalls)
	require.Zero(t, resp.MergePasses)
	require.Zero(t, client.callCount())
}

func TestSummarizeRejectsEmptyContent(t *testing.T) {
	svc := NewService(Config{}, &stubChatClient{}, newTestLogger())
	_, err := svc.Summarize(context.Background(), Request{Content: "   "})
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, "invalid_input"))
}

func TestSummarizeReassemblesMapResultsInChunkOrder(t *testing.T) {
	content := numberedText(150)
	cfg := Config{
		Strategy:       "fixed-width",
		ChunkTokens:    100,
		TargetTokens:   200,
		MinChunkTokens: 5,
		Concurrency:    4,
		MaxAttempts:    1,
	}
	chunks := chunker.New(chunker.StrategyFixedWidth, cfg.ChunkTokens, 0).Chunk(content)
	require.Greater(t, len(chunks), 2)

	client := &stubChatClient{fn: func(_ int, req chatgpt.ChatCompletionRequest) (string, error) {
		prompt := req.Messages[0].Content
		for i, c := range chunks {
			if strings.Contains(prompt, c) {
				// Finish later chunks first to scramble completion order.
				time.Sleep(time.Duration(len(chunks)-i) * 10 * time.Millisecond)
				return strconv.Itoa(i), nil
			}
		}
		return "", errors.New("prompt does not contain a known chunk")
	}}

	svc := NewService(cfg, client, newTestLogger())
	resp, err := svc.Summarize(context.Background(), Request{Content: content})
	require.NoError(t, err)

	indices := make([]string, len(chunks))
	for i := range chunks {
		indices[i] = strconv.Itoa(i)
	}
	require.Equal(t, strings.Join(indices, "\n\n---\n\n"), resp.Text)
	require.Equal(t, len(chunks), resp.MapCalls)
	require.Zero(t, resp.MergePasses)
	require.Equal(t, len(chunks), client.callCount())
}

func TestSummarizeMergeStopsAtPassCap(t *testing.T) {
	content := numberedText(150)
	cfg := Config{
		Strategy:       "fixed-width",
		ChunkTokens:    100,
		TargetTokens:   50,
		MinChunkTokens: 10,
		MaxMergePasses: 3,
		Concurrency:    2,
		MaxAttempts:    1,
	}
	chunks := chunker.New(chunker.StrategyFixedWidth, cfg.ChunkTokens, 0).Chunk(content)
	require.Greater(t, len(chunks), 1)

	// The model never shrinks anything: every call returns the same
	// over-target text, so only the pass cap can stop the reduce loop.
	long := strings.TrimSpace(strings.Repeat("still far too long model output. ", 30))
	require.Greater(t, tokenizer.Count(long), cfg.TargetTokens)

	client := &stubChatClient{fn: func(int, chatgpt.ChatCompletionRequest) (string, error) {
		return long, nil
	}}

	svc := NewService(cfg, client, newTestLogger())
	resp, err := svc.Summarize(context.Background(), Request{Content: content})
	require.NoError(t, err)
	require.Equal(t, long, resp.Text)
	require.Equal(t, len(chunks), resp.MapCalls)
	require.Equal(t, cfg.MaxMergePasses, resp.MergePasses)
	require.False(t, resp.Converged)
	require.Equal(t, len(chunks)+cfg.MaxMergePasses, client.callCount())
	require.NotNil(t, resp.TokenUsage)
	require.Equal(t, (len(chunks)+cfg.MaxMergePasses)*15, resp.TokenUsage.TotalTokens)
}

func TestSummarizePersistentFailurePropagates(t *testing.T) {
	client := &stubChatClient{fn: func(int, chatgpt.ChatCompletionRequest) (string, error) {
		return "", apperrors.Wrap("llm_error", "model rejected the request", nil)
	}}
	cfg := Config{ChunkTokens: 1000, TargetTokens: 50, MaxAttempts: 3, BaseBackoff: time.Millisecond}
	svc := NewService(cfg, client, newTestLogger())

	_, err := svc.Summarize(context.Background(), Request{Content: numberedText(150)})
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, "llm_error"))
	// Permanent failures are not retried.
	require.Equal(t, 1, client.callCount())
}

func TestSummarizeExhaustsRetriesOnTransientFailure(t *testing.T) {
	client := &stubChatClient{fn: func(int, chatgpt.ChatCompletionRequest) (string, error) {
		return "", apperrors.Wrap("llm_transient", "rate limited", nil)
	}}
	cfg := Config{ChunkTokens: 1000, TargetTokens: 50, MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
	svc := NewService(cfg, client, newTestLogger())

	_, err := svc.Summarize(context.Background(), Request{Content: numberedText(150)})
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, "llm_error"))
	require.Equal(t, cfg.MaxAttempts, client.callCount())
}

func TestSummarizeRecoversFromTransientFailure(t *testing.T) {
	client := &stubChatClient{fn: func(call int, req chatgpt.ChatCompletionRequest) (string, error) {
		if call <= 2 {
			return "", apperrors.Wrap("llm_transient", "rate limited", nil)
		}
		return "recovered summary", nil
	}}
	cfg := Config{ChunkTokens: 1000, TargetTokens: 50, MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
	svc := NewService(cfg, client, newTestLogger())

	resp, err := svc.Summarize(context.Background(), Request{Content: numberedText(150)})
	require.NoError(t, err)
	require.Equal(t, "recovered summary", resp.Text)
	require.True(t, resp.Converged)
	require.Equal(t, 3, client.callCount())
}

func TestSummarizeRendersNamedTemplateParams(t *testing.T) {
	client := &stubChatClient{fn: func(_ int, req chatgpt.ChatCompletionRequest) (string, error) {
		prompt := req.Messages[0].Content
		if !strings.HasPrefix(prompt, "launch dates|40|") {
			return "", fmt.Errorf("unexpected prompt: %q", prompt)
		}
		return "ok", nil
	}}
	cfg := Config{ChunkTokens: 1000, TargetTokens: 40, MinChunkTokens: 40, MaxAttempts: 1}
	svc := NewService(cfg, client, newTestLogger())

	resp, err := svc.Summarize(context.Background(), Request{
		Content:        numberedText(150),
		PromptTemplate: "{{.Focus}}|{{.MaxTokens}}|{{.Content}}",
		Params:         map[string]string{"Focus": "launch dates"},
	})
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Text)
}

func TestSummarizeRejectsMalformedTemplateBeforeCallingModel(t *testing.T) {
	client := &stubChatClient{fn: func(int, chatgpt.ChatCompletionRequest) (string, error) {
		return "", errors.New("model must not be called")
	}}
	svc := NewService(Config{TargetTokens: 50}, client, newTestLogger())

	_, err := svc.Summarize(context.Background(), Request{
		Content:        numberedText(150),
		PromptTemplate: "{{.Oops",
	})
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, "invalid_input"))
	require.Zero(t, client.callCount())
}

func TestSummarizeCapsMapConcurrency(t *testing.T) {
	content := numberedText(300)
	cfg := Config{
		Strategy:       "fixed-width",
		ChunkTokens:    80,
		TargetTokens:   500,
		MinChunkTokens: 5,
		Concurrency:    2,
		MaxAttempts:    1,
	}

	var inFlight, peak int64
	client := &stubChatClient{fn: func(int, chatgpt.ChatCompletionRequest) (string, error) {
		n := atomic.AddInt64(&inFlight, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return "part", nil
	}}

	svc := NewService(cfg, client, newTestLogger())
	resp, err := svc.Summarize(context.Background(), Request{Content: content})
	require.NoError(t, err)
	require.Greater(t, resp.MapCalls, 2)
	require.LessOrEqual(t, atomic.LoadInt64(&peak), int64(cfg.Concurrency))
}
