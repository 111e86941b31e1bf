package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/phrazzld/jobstream/internal/config"
	"github.com/phrazzld/jobstream/internal/resilience"
)

// Dependency is the breaker key every Gemini-backed handler is registered under.
const Dependency = "gemini"

// Generator produces a JSON answer for a prompt. Errors are classified for
// the resilience envelope.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate calls f(ctx, prompt).
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Unconfigured is the Generator used when no API key is set. Every call
// fails permanently so jobs end instead of tripping the breaker.
var Unconfigured Generator = GeneratorFunc(func(context.Context, string) (string, error) {
	return "", resilience.Permanent(fmt.Errorf("%w: gemini api key not set", ErrInvalidConfig))
})

// Client is the Generator backed by the Gemini API.
type Client struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

var _ Generator = (*Client)(nil)

// NewClient creates a Gemini API client for the configured model.
func NewClient(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	logger = logger.With("component", "gemini")
	if err := validateConfig(ctx, logger, cfg); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	logger.InfoContext(ctx, "gemini client initialized", "model", cfg.Model)
	return &Client{client: client, model: cfg.Model, logger: logger}, nil
}

// Generate sends one prompt and returns the concatenated text of the first
// candidate. The model is asked for JSON output.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		c.logger.WarnContext(ctx, "gemini call failed", "error", err)
		return "", classifyAPIError(err)
	}
	return responseText(resp)
}

// responseText extracts the answer from a response. Empty or blocked
// responses are permanent failures.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", resilience.Permanent(fmt.Errorf("%w: no candidates", ErrInvalidResponse))
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", resilience.Permanent(ErrContentBlocked)
	}
	if candidate.Content == nil {
		return "", resilience.Permanent(fmt.Errorf("%w: empty content", ErrInvalidResponse))
	}

	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	if b.Len() == 0 {
		return "", resilience.Permanent(fmt.Errorf("%w: empty text", ErrInvalidResponse))
	}
	return b.String(), nil
}

// classifyAPIError marks rate limits, server errors and deadlines as
// transient. Everything else the API rejects will fail again.
func classifyAPIError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return resilience.Transient(err)
	}
	if code, ok := apiErrorCode(err); ok {
		if retryableStatus(code) {
			return resilience.Transient(err)
		}
		return resilience.Permanent(err)
	}
	// Transport failures never reached the API.
	return resilience.Transient(err)
}

func apiErrorCode(err error) (int, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code, true
	}
	return 0, false
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusRequestTimeout ||
		code >= http.StatusInternalServerError
}
