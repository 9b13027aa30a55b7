// Package openai provides a Describer backed by an OpenAI vision-capable
// chat model.
package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/sensoria/pkg/provider/vlm"
)

// DefaultModel is the default vision-capable model.
const DefaultModel = oai.ChatModelGPT4oMini

// defaultPrompt asks for the short scene summary the core expects; responses
// are consumed as one-line signal content.
const defaultPrompt = "Describe what you see in this image in one short sentence. " +
	"Focus on people, their actions, and notable changes. Be concise."

// Ensure Describer implements the vlm.Describer interface.
var _ vlm.Describer = (*Describer)(nil)

// Describer implements vlm.Describer using the OpenAI chat completions API
// with an inline base64 image.
type Describer struct {
	client oai.Client
	model  string
	prompt string
}

// config holds optional configuration for the describer.
type config struct {
	baseURL string
	prompt  string
	timeout time.Duration
}

// Option is a functional option for Describer.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithPrompt overrides the scene-description prompt.
func WithPrompt(p string) Option {
	return func(c *config) {
		c.prompt = p
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI Describer.
// If model is empty, DefaultModel (gpt-4o-mini) is used.
func New(apiKey string, model string, opts ...Option) (*Describer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai vlm: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{prompt: defaultPrompt}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Describer{
		client: oai.NewClient(reqOpts...),
		model:  model,
		prompt: cfg.prompt,
	}, nil
}

// Describe implements vlm.Describer.
func (d *Describer) Describe(ctx context.Context, image []byte) (vlm.Description, error) {
	if len(image) == 0 {
		return vlm.Description{}, fmt.Errorf("openai vlm: empty image")
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", sniffMIME(image), base64.StdEncoding.EncodeToString(image))

	start := time.Now()
	resp, err := d.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: d.model,
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.UserMessage([]oai.ChatCompletionContentPartUnionParam{
				oai.TextContentPart(d.prompt),
				oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
			}),
		},
		MaxTokens: oai.Int(120),
	})
	if err != nil {
		return vlm.Description{}, fmt.Errorf("openai vlm: describe: %w", err)
	}
	if len(resp.Choices) == 0 {
		return vlm.Description{}, fmt.Errorf("openai vlm: empty response")
	}

	return vlm.Description{
		Text:      strings.TrimSpace(resp.Choices[0].Message.Content),
		LatencyMS: int(time.Since(start).Milliseconds()),
	}, nil
}

// sniffMIME distinguishes the two image encodings the senses produce.
func sniffMIME(image []byte) string {
	if len(image) >= 8 && string(image[1:4]) == "PNG" {
		return "image/png"
	}
	return "image/jpeg"
}
