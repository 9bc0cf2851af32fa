// Package llm generates the HTML algorithm tutorials sent to users.
package llm

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sakif/code-inbox/internal/apperror"
	"github.com/sakif/code-inbox/internal/metrics"
)

//go:embed tutorial_prompt.txt
var tutorialPrompt string

const languagePlaceholder = "{programming_language}"

// ErrMalformedResponse is returned when the completion has no usable content.
var ErrMalformedResponse = errors.New("llm: malformed completion response")

// Config holds the generation parameters. Zero values are replaced by the
// defaults in New.
type Config struct {
	APIKey           string
	BaseURL          string // empty: library default
	Model            string
	MaxTokens        int
	Temperature      float32
	TopP             float32
	FrequencyPenalty float32
	PresencePenalty  float32
	Timeout          time.Duration
	HTTPClient       *http.Client
}

// OpenAI generates tutorials with the chat-completions API.
type OpenAI struct {
	client *openai.Client
	cfg    Config
}

// New returns a generator for cfg. Zero fields take the defaults used by
// the tutorial prompt.
func New(cfg Config) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = openai.GPT3Dot5Turbo
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.TopP == 0 {
		cfg.TopP = 1
	}
	if cfg.PresencePenalty == 0 {
		cfg.PresencePenalty = 0.6
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 90 * time.Second
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}

	return &OpenAI{client: openai.NewClientWithConfig(oc), cfg: cfg}
}

// Prompt returns the system prompt for language.
func Prompt(language string) string {
	return strings.ReplaceAll(tutorialPrompt, languagePlaceholder, language)
}

// Generate returns an HTML tutorial whose code samples are in language.
func (o *OpenAI) Generate(ctx context.Context, language string) (string, error) {
	language = strings.TrimSpace(language)
	if language == "" {
		return "", apperror.ValidationFailed("language", "language is required")
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	// The library drops zero-valued floats from the request body (omitempty),
	// which would give the API's default temperature instead of 0.
	temperature := o.cfg.Temperature
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	req := openai.ChatCompletionRequest{
		Model:            o.cfg.Model,
		MaxTokens:        o.cfg.MaxTokens,
		Temperature:      temperature,
		TopP:             o.cfg.TopP,
		FrequencyPenalty: o.cfg.FrequencyPenalty,
		PresencePenalty:  o.cfg.PresencePenalty,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: Prompt(language)},
		},
	}

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, req)
	metrics.ObserveUpstream("openai", "chat_completion", start, err)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return "", apperror.UpstreamTimeout("openai", err)
		}
		return "", apperror.Internal("tutorial generation failed", fmt.Errorf("llm: chat completion: %w", err))
	}

	if len(resp.Choices) == 0 {
		return "", apperror.Internal("tutorial generation failed", ErrMalformedResponse)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", apperror.Internal("tutorial generation failed", ErrMalformedResponse)
	}
	return stripCodeFence(content), nil
}

// stripCodeFence unwraps a reply the model put inside ```html ... ```.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
