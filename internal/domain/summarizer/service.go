// Package summarizer reduces arbitrarily large content to a token
// budget with a two-phase map-reduce over a chat model: concurrent
// per-chunk summaries, then sequential merge passes bounded by a hard
// cap. The result is best effort; it may still exceed the target when
// the pass cap is reached. Cancelling the caller's context is honored
// at the next model-call boundary; there is no other cross-call
// cancellation.
package summarizer

import (
	"context"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/yanqian/ai-digest/internal/domain/chunker"
	"github.com/yanqian/ai-digest/internal/infra/llm/chatgpt"
	apperrors "github.com/yanqian/ai-digest/pkg/errors"
	"github.com/yanqian/ai-digest/pkg/metrics"
	"github.com/yanqian/ai-digest/pkg/tokenizer"
)

// chunkSeparator joins map-phase outputs in original chunk order.
const chunkSeparator = "\n\n---\n\n"

// Service exposes map-reduce summarization.
type Service interface {
	Summarize(ctx context.Context, req Request) (Response, error)
}

// ChatClient is the single external capability the orchestrator
// consumes.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req chatgpt.ChatCompletionRequest) (chatgpt.ChatCompletionResponse, error)
}

type service struct {
	cfg    Config
	client ChatClient
	logger *slog.Logger
}

// NewService constructs the summarizer service.
func NewService(cfg Config, client ChatClient, logger *slog.Logger) Service {
	return &service{
		cfg:    cfg.withDefaults(),
		client: client,
		logger: logger.With("component", "summarizer.service"),
	}
}

func (s *service) Summarize(ctx context.Context, req Request) (Response, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return Response{}, apperrors.Wrap("invalid_input", "content cannot be empty", nil)
	}

	start := time.Now()
	target := req.TargetTokens
	if target <= 0 {
		target = s.cfg.TargetTokens
	}
	logger := s.logger.With("run_id", uuid.NewString())

	total := tokenizer.Count(content)
	if total <= target {
		logger.Debug("content within target, bypassing model", "tokens", total, "target", target)
		return Response{Text: content, Converged: true, DurationMs: time.Since(start).Milliseconds()}, nil
	}

	mapTmpl, err := parseTemplate("prompt", firstNonEmpty(req.PromptTemplate, s.cfg.PromptTemplate))
	if err != nil {
		return Response{}, err
	}
	mergeTmpl, err := parseTemplate("merge", firstNonEmpty(req.MergeTemplate, s.cfg.MergeTemplate))
	if err != nil {
		return Response{}, err
	}

	eng := chunker.New(s.strategyFor(req), s.chunkTokensFor(req), s.overlapFor(req))
	chunks := eng.Chunk(content)
	logger.Info("map phase start", "tokens", total, "target", target, "chunks", len(chunks))

	var resp Response
	usage := metrics.TokenUsage{}
	combined := content

	if len(chunks) > 0 {
		perChunk := target / len(chunks)
		if perChunk < s.cfg.MinChunkTokens {
			perChunk = s.cfg.MinChunkTokens
		}

		results := make([]string, len(chunks))
		usages := make([]metrics.TokenUsage, len(chunks))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.Concurrency)
		for i, chunk := range chunks {
			i, chunk := i, chunk
			g.Go(func() error {
				prompt, err := renderTemplate(mapTmpl, chunk, perChunk, req.Params)
				if err != nil {
					return err
				}
				out, u, err := s.callModel(gctx, logger, prompt, perChunk)
				if err != nil {
					return err
				}
				results[i] = out
				usages[i] = u
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return Response{}, err
		}

		combined = strings.Join(results, chunkSeparator)
		resp.MapCalls = len(chunks)
		for _, u := range usages {
			usage.Add(u)
		}
	} else {
		// Should be unreachable: non-empty content past the bypass
		// always yields at least one chunk. Merge the raw content
		// instead of dividing by zero.
		logger.Warn("chunker produced no chunks, merging raw content")
	}

	combinedTokens := tokenizer.Count(combined)
	for combinedTokens > target && resp.MergePasses < s.cfg.MaxMergePasses {
		prompt, err := renderTemplate(mergeTmpl, combined, target, req.Params)
		if err != nil {
			return Response{}, err
		}
		out, u, err := s.callModel(ctx, logger, prompt, target)
		if err != nil {
			return Response{}, err
		}
		usage.Add(u)
		combined = out
		combinedTokens = tokenizer.Count(combined)
		resp.MergePasses++
		logger.Debug("merge pass complete", "pass", resp.MergePasses, "tokens", combinedTokens, "target", target)
	}

	resp.Text = combined
	resp.Converged = combinedTokens <= target
	resp.DurationMs = time.Since(start).Milliseconds()
	if !usage.IsZero() {
		resp.TokenUsage = &usage
	}
	if !resp.Converged {
		logger.Warn("merge passes exhausted above target", "tokens", combinedTokens, "target", target, "passes", resp.MergePasses)
	}
	return resp, nil
}

// callModel is the single model-call primitive shared by the map and
// reduce phases.
func (s *service) callModel(ctx context.Context, logger *slog.Logger, prompt string, maxTokens int) (string, metrics.TokenUsage, error) {
	var usage metrics.TokenUsage
	policy := retryPolicy{
		MaxAttempts: s.cfg.MaxAttempts,
		BaseBackoff: s.cfg.BaseBackoff,
		MaxBackoff:  s.cfg.MaxBackoff,
	}
	out, err := withRetry(ctx, logger, policy, func(ctx context.Context) (string, error) {
		resp, err := s.client.CreateChatCompletion(ctx, chatgpt.ChatCompletionRequest{
			Model:       s.cfg.Model,
			Messages:    []chatgpt.Message{{Role: "user", Content: prompt}},
			Temperature: s.cfg.Temperature,
			MaxTokens:   maxTokens,
		})
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", apperrors.Wrap("llm_error", "model returned no choices", nil)
		}
		// Retried attempts consumed tokens too; count them all.
		usage.Add(metrics.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		})
		return strings.TrimSpace(resp.Choices[0].Message.Content), nil
	})
	return out, usage, err
}

func (s *service) strategyFor(req Request) chunker.Strategy {
	if req.Strategy != "" {
		return chunker.Strategy(req.Strategy)
	}
	return chunker.Strategy(s.cfg.Strategy)
}

func (s *service) chunkTokensFor(req Request) int {
	if req.ChunkTokens > 0 {
		return req.ChunkTokens
	}
	return s.cfg.ChunkTokens
}

func (s *service) overlapFor(req Request) int {
	if req.Overlap > 0 {
		return req.Overlap
	}
	return s.cfg.OverlapTokens
}

func parseTemplate(name, text string) (*template.Template, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return nil, apperrors.Wrap("invalid_input", name+" template invalid", err)
	}
	return tmpl, nil
}

// renderTemplate formats one prompt. Content and MaxTokens are always
// available; caller-supplied params fill the remaining named slots.
func renderTemplate(tmpl *template.Template, content string, maxTokens int, params map[string]string) (string, error) {
	data := map[string]any{
		"Content":   content,
		"MaxTokens": maxTokens,
	}
	for k, v := range params {
		if _, reserved := data[k]; !reserved {
			data[k] = v
		}
	}
	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", apperrors.Wrap("invalid_input", "render "+tmpl.Name()+" template", err)
	}
	return buf.String(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
