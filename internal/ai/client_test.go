package ai

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/Proton-105/gemini-clone-bot/internal/domain"
	apperrors "github.com/Proton-105/gemini-clone-bot/internal/errors"
	"github.com/Proton-105/gemini-clone-bot/pkg/config"
)

type fakeModels struct {
	mu       sync.Mutex
	calls    int
	errs     []error
	text     string
	image    []byte
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

func (f *fakeModels) nextErr() error {
	f.calls++
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func (f *fakeModels) GenerateContent(_ context.Context, _ string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contents = contents
	f.config = cfg
	if err := f.nextErr(); err != nil {
		return nil, err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: genai.NewContentFromText(f.text, genai.RoleModel),
		}},
	}, nil
}

func (f *fakeModels) GenerateImages(_ context.Context, _ string, _ string, _ *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.nextErr(); err != nil {
		return nil, err
	}
	if f.image == nil {
		return &genai.GenerateImagesResponse{}, nil
	}
	return &genai.GenerateImagesResponse{
		GeneratedImages: []*genai.GeneratedImage{{Image: &genai.Image{ImageBytes: f.image}}},
	}, nil
}

func (f *fakeModels) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testConfig() config.GeminiConfig {
	return config.GeminiConfig{
		Model:           "gemini-2.0-flash",
		ImageModel:      "imagen-3.0-generate-002",
		Temperature:     0.7,
		TopP:            0.8,
		TopK:            40,
		MaxOutputTokens: 2048,
		RequestTimeout:  time.Second,
	}
}

func newTestClient(models generator, opts ...Option) *GeminiClient {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithRetryPolicy(apperrors.RetryPolicy{
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})}, opts...)
	return newGeminiClient(models, testConfig(), log, opts...)
}

func TestChat_SendsHistoryAndSystemPrompt(t *testing.T) {
	models := &fakeModels{text: "  hello there  "}
	client := newTestClient(models)

	reply, err := client.Chat(context.Background(), ChatRequest{
		BotName:  "Nova",
		Language: domain.LanguageEnglish,
		History: []*domain.ConversationMessage{
			{Role: domain.RoleUser, Text: "hi"},
			{Role: domain.RoleModel, Text: "hello"},
			{Role: domain.RoleUser, Text: "   "},
		},
		Prompt: "how are you?",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", reply)

	require.Len(t, models.contents, 3)
	assert.Equal(t, string(genai.RoleUser), models.contents[0].Role)
	assert.Equal(t, string(genai.RoleModel), models.contents[1].Role)
	assert.Equal(t, "how are you?", models.contents[2].Parts[0].Text)

	require.NotNil(t, models.config.SystemInstruction)
	assert.Contains(t, models.config.SystemInstruction.Parts[0].Text, "Nova")
	assert.Contains(t, models.config.SystemInstruction.Parts[0].Text, "English")
	assert.Equal(t, int32(2048), models.config.MaxOutputTokens)
	require.NotNil(t, models.config.TopK)
	assert.Equal(t, float32(40), *models.config.TopK)
}

func TestChat_RetriesTransientFailures(t *testing.T) {
	models := &fakeModels{
		text: "ok",
		errs: []error{
			genai.APIError{Code: http.StatusServiceUnavailable, Message: "overloaded"},
			genai.APIError{Code: http.StatusTooManyRequests, Message: "quota"},
		},
	}
	client := newTestClient(models)

	reply, err := client.Chat(context.Background(), ChatRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", reply)
	assert.Equal(t, 3, models.callCount())
}

func TestChat_DoesNotRetryRejectedRequest(t *testing.T) {
	models := &fakeModels{
		errs: []error{genai.APIError{Code: http.StatusBadRequest, Message: "bad prompt"}},
	}
	client := newTestClient(models)

	_, err := client.Chat(context.Background(), ChatRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, 1, models.callCount())
	assert.False(t, apperrors.IsRetryable(err))

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeExternalAPI, appErr.Code)
}

func TestChat_EmptyResponse(t *testing.T) {
	client := newTestClient(&fakeModels{text: ""})

	_, err := client.Chat(context.Background(), ChatRequest{Prompt: "hi"})
	require.ErrorIs(t, err, ErrEmptyResponse)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "errors.ai_empty", appErr.UserMessage)
}

func TestChat_OpenBreakerFailsFast(t *testing.T) {
	errs := make([]error, 0, apperrors.MinRequests)
	for range apperrors.MinRequests {
		errs = append(errs, genai.APIError{Code: http.StatusInternalServerError})
	}
	models := &fakeModels{errs: errs}
	client := newTestClient(models, WithRetryPolicy(apperrors.RetryPolicy{}))

	for range apperrors.MinRequests {
		_, err := client.Chat(context.Background(), ChatRequest{Prompt: "hi"})
		require.Error(t, err)
	}
	require.Equal(t, apperrors.StateOpen, client.breaker.State())

	_, err := client.Chat(context.Background(), ChatRequest{Prompt: "hi"})
	require.ErrorIs(t, err, apperrors.ErrCircuitOpen)
	assert.Equal(t, apperrors.MinRequests, models.callCount())
}

func TestChat_ClientErrorsDoNotOpenBreaker(t *testing.T) {
	errs := make([]error, 0, apperrors.MinRequests)
	for range apperrors.MinRequests {
		errs = append(errs, genai.APIError{Code: http.StatusBadRequest})
	}
	client := newTestClient(&fakeModels{errs: errs})

	for range apperrors.MinRequests {
		_, _ = client.Chat(context.Background(), ChatRequest{Prompt: "hi"})
	}
	assert.Equal(t, apperrors.StateClosed, client.breaker.State())
}

func TestDescribeImage_DefaultPrompt(t *testing.T) {
	models := &fakeModels{text: "a cat"}
	client := newTestClient(models)

	png := []byte("\x89PNG\r\n\x1a\n0000")
	reply, err := client.DescribeImage(context.Background(), png, "", "", domain.LanguageIndonesian)
	require.NoError(t, err)
	assert.Equal(t, "a cat", reply)

	require.Len(t, models.contents, 1)
	parts := models.contents[0].Parts
	require.Len(t, parts, 2)
	require.NotNil(t, parts[0].InlineData)
	assert.Equal(t, "image/png", parts[0].InlineData.MIMEType)
	assert.Contains(t, parts[1].Text, "bahasa Indonesia")
}

func TestGenerateImage(t *testing.T) {
	t.Run("returns bytes", func(t *testing.T) {
		client := newTestClient(&fakeModels{image: []byte{1, 2, 3}})
		img, err := client.GenerateImage(context.Background(), "a red fox")
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2, 3}, img)
	})

	t.Run("no image is an error", func(t *testing.T) {
		client := newTestClient(&fakeModels{})
		_, err := client.GenerateImage(context.Background(), "a red fox")
		require.ErrorIs(t, err, ErrEmptyResponse)
	})

	t.Run("cancelled context is not retried", func(t *testing.T) {
		models := &fakeModels{errs: []error{context.Canceled}}
		client := newTestClient(models)
		_, err := client.GenerateImage(context.Background(), "a red fox")
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
		assert.Equal(t, 1, models.callCount())
	})
}

func TestSystemPrompt(t *testing.T) {
	assert.Contains(t, systemPrompt("", "", domain.LanguageIndonesian), defaultBotName)
	assert.Contains(t, systemPrompt("", "", domain.LanguageIndonesian), "Indonesian")
	assert.Equal(t, "I am Zed.", systemPrompt("I am {bot_name}.", "Zed", ""))
}
