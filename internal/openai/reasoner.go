package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"golang.org/x/time/rate"

	"github.com/healforge/healer/internal/datatypes"
	"github.com/healforge/healer/internal/healerrors"
	"github.com/healforge/healer/internal/models"
)

const (
	defaultChatModel       = "gpt-4o-mini"
	classifyMaxTokens      = 500
	healMaxTokens          = 4000
	classifyTemperature    = 0.1
	healTemperature        = 0.2
	unparsableReason       = "Could not parse classification response"
	opClassify             = "classify"
	opHeal                 = "heal"
	classifySystemPrompt   = `You triage failing automated API tests. Decide whether the failure is a TEST_ERROR (the test itself is wrong: bad path, wrong payload, stale assertion, setup mistake) or an ACTUAL_DEFECT (the application under test misbehaves). Reply with a single JSON object: {"classification": "TEST_ERROR" | "ACTUAL_DEFECT", "reason": "<one sentence>", "confidence": "high" | "medium" | "low"}.`
	healSystemPrompt       = `You repair failing pytest files. Return the complete corrected file and nothing else. Keep every test that is not broken, keep imports and fixtures, and do not weaken assertions to make a real application bug pass.`
	classifyUserPromptTmpl = "Test code:\n```python\n%s\n```\n\nFailure output:\n```\n%s\n```"
	healUserPromptTmpl     = "Application type: %s\n\nTest code:\n```python\n%s\n```\n\nFailure output:\n```\n%s\n```"
)

// Reasoner classifies and heals failing tests with chat completions.
// Calls are rate limited; retries are left to the caller's retry policy.
type Reasoner struct {
	sdk     openaisdk.Client
	model   string
	limiter *rate.Limiter
	reqOpts []option.RequestOption
}

// ReasonerOption configures the Reasoner.
type ReasonerOption func(*Reasoner)

// WithChatModel sets the chat model. Empty keeps the default.
func WithChatModel(model string) ReasonerOption {
	return func(r *Reasoner) {
		if model != "" {
			r.model = model
		}
	}
}

// WithRateLimit caps requests per second (burst 1). Non-positive disables limiting.
func WithRateLimit(perSecond float64) ReasonerOption {
	return func(r *Reasoner) {
		if perSecond <= 0 {
			r.limiter = nil

			return
		}

		r.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithReasonerRequestOptions passes extra SDK options (base URL) to every request.
func WithReasonerRequestOptions(opts ...option.RequestOption) ReasonerOption {
	return func(r *Reasoner) {
		r.reqOpts = append(r.reqOpts, opts...)
	}
}

// NewReasoner creates a chat-completions Reasoner. SDK-level retries are disabled.
func NewReasoner(apiKey string, opts ...ReasonerOption) *Reasoner {
	r := &Reasoner{model: defaultChatModel}

	for _, opt := range opts {
		opt(r)
	}

	base := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	r.sdk = openaisdk.NewClient(append(base, r.reqOpts...)...)

	return r
}

type classifyResponse struct {
	Classification string `json:"classification"`
	Reason         string `json:"reason"`
	Confidence     string `json:"confidence"`
}

// Classify asks whether the failure is a test error or an application defect.
// A response that cannot be parsed degrades to TEST_ERROR with low confidence.
func (r *Reasoner) Classify(ctx context.Context, testCode, errorText string) (models.ClassificationResult, error) {
	content, err := r.complete(ctx, opClassify, classifySystemPrompt,
		fmt.Sprintf(classifyUserPromptTmpl, testCode, errorText), classifyMaxTokens, classifyTemperature)
	if err != nil {
		return models.ClassificationResult{}, err
	}

	return parseClassification(content), nil
}

// Heal returns a corrected version of testCode.
func (r *Reasoner) Heal(ctx context.Context, testCode, errorText, appType string) (string, error) {
	if appType == "" {
		appType = "unknown"
	}

	content, err := r.complete(ctx, opHeal, healSystemPrompt,
		fmt.Sprintf(healUserPromptTmpl, appType, testCode, errorText), healMaxTokens, healTemperature)
	if err != nil {
		return "", err
	}

	healed := StripCodeFences(content)
	if healed == "" {
		return "", healerrors.NewReasonerError(opHeal, true, errors.New("empty healed code"))
	}

	return healed, nil
}

func (r *Reasoner) complete(
	ctx context.Context, op, system, user string, maxTokens int64, temperature float64,
) (string, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return "", healerrors.NewReasonerError(op, false, fmt.Errorf("rate limiter: %w", err))
		}
	}

	resp, err := r.sdk.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(r.model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(system),
			openaisdk.UserMessage(user),
		},
		Temperature:         param.NewOpt(temperature),
		MaxCompletionTokens: param.NewOpt(maxTokens),
	})
	if err != nil {
		return "", healerrors.NewReasonerError(op, isRetryable(ctx, err), err)
	}

	if len(resp.Choices) == 0 {
		return "", healerrors.NewReasonerError(op, true, errors.New("no choices in response"))
	}

	return resp.Choices[0].Message.Content, nil
}

// isRetryable reports whether a failed call is worth retrying: rate limits, server errors,
// timeouts and connection failures. Caller cancellation never is.
func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}

	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode == http.StatusRequestTimeout,
			apiErr.StatusCode >= http.StatusInternalServerError:
			return true
		default:
			return false
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr)
}

func parseClassification(content string) models.ClassificationResult {
	fallback := models.ClassificationResult{
		Classification: datatypes.TestError,
		Reason:         unparsableReason,
		Confidence:     datatypes.ConfidenceLow,
		Fallback:       true,
	}

	raw := extractJSONObject(content)
	if raw == "" {
		return fallback
	}

	var resp classifyResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return fallback
	}

	cls, err := datatypes.ParseClassification(resp.Classification)
	if err != nil {
		return fallback
	}

	conf, err := datatypes.ParseConfidence(resp.Confidence)
	if err != nil {
		conf = datatypes.ConfidenceLow
	}

	return models.ClassificationResult{
		Classification: cls,
		Reason:         strings.TrimSpace(resp.Reason),
		Confidence:     conf,
	}
}

// extractJSONObject returns the outermost {...} span of s, or "".
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")

	if start < 0 || end <= start {
		return ""
	}

	return s[start : end+1]
}

// StripCodeFences removes a surrounding Markdown code fence (with optional language tag).
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// language tag, if any, sits on the fence line
		if tag := strings.TrimSpace(s[:nl]); !strings.ContainsAny(tag, " ()=:") {
			s = s[nl+1:]
		}
	}

	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")

	return strings.TrimSpace(s)
}
