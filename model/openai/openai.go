// Package openai binds the generation port to the OpenAI Chat Completions
// API. It adapts the engine's normalized Request into the SDK's message
// format and maps API failures onto the engine's error taxonomy.
package openai

import (
	"context"
	"errors"

	"github.com/hupe1980/llmflow/core"
	"github.com/hupe1980/llmflow/model"
	"github.com/openai/openai-go"
)

// Options configure the OpenAI port adapter. Tiers maps engine tier
// labels to concrete chat models.
type Options struct {
	Tiers               model.TierMap
	Temperature         float64
	MaxCompletionTokens int64
}

// Port adapts the OpenAI Chat Completions API to the model.Port interface.
type Port struct {
	client *openai.Client
	opts   Options
}

// New creates an OpenAI port using the official client.
func New(optFns ...func(o *Options)) *Port {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates an OpenAI port from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Port {
	opts := Options{
		Tiers: model.TierMap{
			model.TierFast:       openai.ChatModelGPT4oMini,
			model.TierStandard:   openai.ChatModelGPT4o,
			model.TierStructured: openai.ChatModelGPT4o,
		},
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Port{client: client, opts: opts}
}

// Invoke implements model.Port via the non-streaming Chat Completions API.
func (p *Port) Invoke(ctx context.Context, req model.Request) (*model.Response, error) {
	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(req.Messages),
		Model:               p.opts.Tiers.Resolve(req.Tier, openai.ChatModelGPT4o),
		Temperature:         openai.Float(p.opts.Temperature),
		MaxCompletionTokens: openai.Int(p.opts.MaxCompletionTokens),
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, categorize(err)
	}
	if len(resp.Choices) == 0 {
		return nil, core.NewTransientError("openai returned no choices", nil)
	}

	return &model.Response{
		Text: resp.Choices[0].Message.Content,
		Usage: &model.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// buildMessages converts conversation turns into OpenAI chat messages.
func buildMessages(turns []core.Turn) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	for _, t := range turns {
		if t.Content == "" {
			continue
		}
		switch t.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(t.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(t.Content))
		default:
			messages = append(messages, openai.UserMessage(t.Content))
		}
	}
	return messages
}

// categorize maps SDK errors onto the engine's error taxonomy.
func categorize(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == 408 || apierr.StatusCode == 429 || apierr.StatusCode >= 500:
			return core.NewTransientError("openai api error", err)
		default:
			return core.NewPermanentError("openai api error", err)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return core.NewTransientError("openai request error", err)
}
