// Package analyzer implements the external reasoning collaborators (the
// per-call analyzer, the fix generator and the batch summarizer) against
// the OpenAI chat completion API.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/call-replay/analyzer/internal/metrics"
	"github.com/call-replay/analyzer/internal/models"
	"github.com/call-replay/analyzer/pkg/circuitbreaker"
	"github.com/call-replay/analyzer/pkg/logger"
	"github.com/call-replay/analyzer/pkg/retry"
	"github.com/call-replay/analyzer/pkg/utils"
)

// ResultCache lets identical transcripts reuse a prior analysis instead of
// spending LLM budget again. A nil cache disables reuse.
type ResultCache interface {
	GetAnalysis(ctx context.Context, key string) (*models.AnalysisResult, bool, error)
	SetAnalysis(ctx context.Context, key string, result *models.AnalysisResult) error
}

type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
	cache       ResultCache
}

func NewClient(apiKey, model string, temperature float32, maxTokens, timeoutSec, maxRetries int) *Client {
	cb := circuitbreaker.New("llm", circuitbreaker.Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    maxRetries,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("LLM client initialized",
		zap.String("model", model),
		zap.Int("max_retries", maxRetries),
	)

	return &Client{
		client:      openai.NewClient(apiKey),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		timeout:     time.Duration(timeoutSec) * time.Second,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

// WithCache attaches an analysis cache and returns the client.
func (c *Client) WithCache(cache ResultCache) *Client {
	c.cache = cache
	return c
}

// Analyze runs the root-cause analysis for one transcript. Retries and the
// circuit breaker are internal; a returned error means the retry budget is
// exhausted and the caller should record an error-status outcome.
func (c *Client) Analyze(ctx context.Context, t models.Transcript) (*models.AnalysisResult, error) {
	cacheKey := dialogHash(t.Dialog)

	if c.cache != nil {
		cached, ok, err := c.cache.GetAnalysis(ctx, cacheKey)
		if err != nil {
			logger.Warn("Analysis cache lookup failed", zap.Error(err))
		} else if ok {
			metrics.AnalysisCacheHits.Inc()
			logger.Debug("Analysis cache hit", zap.String("call_id", t.CallID))
			return cached, nil
		}
	}

	prompt := buildAnalysisPrompt(t.Dialog)

	var result *models.AnalysisResult
	err := c.completeJSON(ctx, prompt, func(content string) error {
		parsed, err := parseAnalysis(content)
		if err != nil {
			return err
		}
		result = parsed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("analysis failed for call %s: %w", t.CallID, err)
	}

	if c.cache != nil {
		if err := c.cache.SetAnalysis(ctx, cacheKey, result); err != nil {
			logger.Warn("Failed to cache analysis", zap.Error(err))
		}
	}

	logger.Info("Transcript analyzed",
		zap.String("call_id", t.CallID),
		zap.Bool("issue_detected", result.IssueDetected),
		zap.Float64("confidence", result.ConfidenceScore),
	)
	return result, nil
}

// GenerateFixes produces detailed fix suggestions for an already-classified
// analysis. The structured suggestion text is returned as-is.
func (c *Client) GenerateFixes(ctx context.Context, analysis models.AnalysisResult) (string, error) {
	var suggestion string
	err := c.completeJSON(ctx, buildFixPrompt(analysis), func(content string) error {
		trimmed := extractJSON(content)
		if !json.Valid([]byte(trimmed)) {
			return fmt.Errorf("fix suggestion response is not valid JSON")
		}
		suggestion = trimmed
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("fix generation failed: %w", err)
	}
	return suggestion, nil
}

// Summarize produces one aggregate report over the batch's analyzed results.
func (c *Client) Summarize(ctx context.Context, analyses []models.AnalysisResult) (string, error) {
	var summary string
	err := c.completeJSON(ctx, buildSummaryPrompt(analyses), func(content string) error {
		trimmed := extractJSON(content)
		if !json.Valid([]byte(trimmed)) {
			return fmt.Errorf("summary response is not valid JSON")
		}
		summary = trimmed
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("summary generation failed: %w", err)
	}
	return summary, nil
}

// completeJSON makes one chat completion and hands the reply to accept. A
// reply that accept rejects (e.g. malformed JSON) consumes a retry attempt,
// the same as a transport failure.
func (c *Client) completeJSON(ctx context.Context, userPrompt string, accept func(content string) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: userPrompt},
	}

	return c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model:       c.model,
					Messages:    messages,
					Temperature: c.temperature,
					MaxTokens:   c.maxTokens,
				},
			)
			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}

			metrics.LLMTokensUsed.WithLabelValues(c.model, "prompt").Add(float64(resp.Usage.PromptTokens))
			metrics.LLMTokensUsed.WithLabelValues(c.model, "completion").Add(float64(resp.Usage.CompletionTokens))

			if len(resp.Choices) == 0 {
				return fmt.Errorf("completion returned no choices")
			}

			return accept(strings.TrimSpace(resp.Choices[0].Message.Content))
		})
	})
}

func parseAnalysis(content string) (*models.AnalysisResult, error) {
	var result models.AnalysisResult
	if err := json.Unmarshal([]byte(extractJSON(content)), &result); err != nil {
		return nil, fmt.Errorf("failed to parse analysis response: %w", err)
	}

	if result.Intent == "" {
		result.Intent = "Unknown"
	}
	if result.BotResponseSummary == "" {
		result.BotResponseSummary = "No summary"
	}
	if result.IssueReason == "" {
		result.IssueReason = "No issues detected"
	}
	if result.SuggestedFix == "" {
		result.SuggestedFix = "No suggestions"
	}
	if result.ConfidenceScore < 0 {
		result.ConfidenceScore = 0
	}
	if result.ConfidenceScore > 1 {
		result.ConfidenceScore = 1
	}

	return &result, nil
}

// extractJSON strips markdown fences and any prose around the outermost
// JSON object. Models occasionally wrap the payload despite instructions.
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		return content[start : end+1]
	}
	return content
}

func dialogHash(dialog []models.DialogTurn) string {
	var b strings.Builder
	for _, turn := range dialog {
		b.WriteString(string(turn.Speaker))
		b.WriteString("|")
		b.WriteString(turn.Text)
		b.WriteString("\n")
	}
	return utils.HashString(b.String())
}
