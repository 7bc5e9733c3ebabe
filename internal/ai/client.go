// Package ai talks to the Gemini API for chat, vision and image generation.
package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/Proton-105/gemini-clone-bot/internal/domain"
	apperrors "github.com/Proton-105/gemini-clone-bot/internal/errors"
	"github.com/Proton-105/gemini-clone-bot/pkg/config"
	"github.com/Proton-105/gemini-clone-bot/pkg/metrics"
)

const apiName = "gemini"

// ErrEmptyResponse is returned when the model produced no usable output,
// usually because a safety filter blocked it.
var ErrEmptyResponse = errors.New("model returned an empty response")

// ChatRequest is one user turn with its stored history.
type ChatRequest struct {
	BotName  string
	Language string
	History  []*domain.ConversationMessage
	Prompt   string
}

// Client is the AI surface used by handlers.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
	DescribeImage(ctx context.Context, image []byte, mimeType, prompt, language string) (string, error)
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
}

// generator is the subset of *genai.Models the client needs.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateImages(ctx context.Context, model, prompt string, config *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error)
}

// GeminiClient implements Client with retries and a circuit breaker.
type GeminiClient struct {
	models  generator
	cfg     config.GeminiConfig
	breaker *apperrors.CircuitBreaker
	retry   apperrors.RetryPolicy
	log     *slog.Logger
}

var _ Client = (*GeminiClient)(nil)

// Option customizes a GeminiClient.
type Option func(*GeminiClient)

// WithRetryPolicy overrides the retry policy for transient API failures.
func WithRetryPolicy(p apperrors.RetryPolicy) Option {
	return func(c *GeminiClient) {
		c.retry = p
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *apperrors.CircuitBreaker) Option {
	return func(c *GeminiClient) {
		c.breaker = cb
	}
}

// NewGeminiClient creates a client for the Gemini developer API.
func NewGeminiClient(ctx context.Context, cfg config.GeminiConfig, log *slog.Logger, opts ...Option) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newGeminiClient(client.Models, cfg, log, opts...), nil
}

func newGeminiClient(models generator, cfg config.GeminiConfig, log *slog.Logger, opts ...Option) *GeminiClient {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "gemini"))

	c := &GeminiClient{
		models: models,
		cfg:    cfg,
		retry:  apperrors.DefaultRetryPolicy,
		log:    log,
	}
	c.breaker = apperrors.NewCircuitBreaker(
		apperrors.WithFailureFilter(apperrors.IsRetryable),
		apperrors.WithStateChange(func(from, to apperrors.State) {
			log.Warn("gemini circuit breaker state changed",
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		}),
	)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Chat answers req.Prompt in the context of req.History.
func (c *GeminiClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, msg := range req.History {
		if msg == nil || strings.TrimSpace(msg.Text) == "" {
			continue
		}
		contents = append(contents, genai.NewContentFromText(msg.Text, historyRole(msg.Role)))
	}
	contents = append(contents, genai.NewContentFromText(req.Prompt, genai.RoleUser))

	var text string
	err := c.call(ctx, "chat", func(ctx context.Context) error {
		resp, err := c.models.GenerateContent(ctx, c.cfg.Model, contents, c.contentConfig(req.BotName, req.Language))
		if err != nil {
			return err
		}
		text, err = responseText(resp)
		return err
	})
	return text, err
}

// DescribeImage answers prompt about an image. An empty prompt asks for a description.
func (c *GeminiClient) DescribeImage(ctx context.Context, image []byte, mimeType, prompt, language string) (string, error) {
	if mimeType == "" {
		mimeType = http.DetectContentType(image)
	}
	if strings.TrimSpace(prompt) == "" {
		prompt = defaultVisionPrompt(language)
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(image, mimeType),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}

	var text string
	err := c.call(ctx, "vision", func(ctx context.Context) error {
		resp, err := c.models.GenerateContent(ctx, c.cfg.Model, contents, c.contentConfig("", language))
		if err != nil {
			return err
		}
		text, err = responseText(resp)
		return err
	})
	return text, err
}

// GenerateImage renders prompt into a PNG.
func (c *GeminiClient) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	var image []byte
	err := c.call(ctx, "image", func(ctx context.Context) error {
		resp, err := c.models.GenerateImages(ctx, c.cfg.ImageModel, prompt, &genai.GenerateImagesConfig{
			NumberOfImages: 1,
			OutputMIMEType: "image/png",
		})
		if err != nil {
			return err
		}
		if resp == nil || len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil ||
			len(resp.GeneratedImages[0].Image.ImageBytes) == 0 {
			return ErrEmptyResponse
		}
		image = resp.GeneratedImages[0].Image.ImageBytes
		return nil
	})
	return image, err
}

func (c *GeminiClient) call(ctx context.Context, kind string, fn func(ctx context.Context) error) error {
	start := time.Now()

	err := apperrors.WithRetryPolicy(ctx, c.retry, func() error {
		return c.breaker.Call(func() error {
			callCtx := ctx
			if c.cfg.RequestTimeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
				defer cancel()
			}
			return classify(fn(callCtx))
		})
	})

	status := "ok"
	if err != nil {
		status = "error"
		if errors.Is(err, apperrors.ErrCircuitOpen) {
			status = "circuit_open"
			err = apperrors.NewExternalAPIError(apiName, err)
		}
		c.log.Warn("gemini request failed", slog.String("kind", kind), slog.Any("error", err))
	}
	metrics.RecordAIRequest(kind, status, time.Since(start))
	return err
}

func (c *GeminiClient) contentConfig(botName, language string) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt(c.cfg.SystemPrompt, botName, language), genai.RoleUser),
		Temperature:       genai.Ptr(c.cfg.Temperature),
		TopP:              genai.Ptr(c.cfg.TopP),
		MaxOutputTokens:   c.cfg.MaxOutputTokens,
	}
	if c.cfg.TopK > 0 {
		cfg.TopK = genai.Ptr(c.cfg.TopK)
	}
	return cfg
}

func historyRole(role string) genai.Role {
	if role == domain.RoleModel {
		return genai.RoleModel
	}
	return genai.RoleUser
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// classify wraps API failures into app errors. Quota, timeout and server
// failures are retryable; malformed or blocked requests are not.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}

	wrapped := apperrors.NewExternalAPIError(apiName, err)

	var apiErr genai.APIError
	switch {
	case errors.As(err, &apiErr):
		wrapped.Retryable = apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
	case errors.Is(err, ErrEmptyResponse):
		wrapped.Retryable = false
		wrapped.UserMessage = "errors.ai_empty"
	case errors.Is(err, context.Canceled):
		wrapped.Retryable = false
	}
	return wrapped
}
