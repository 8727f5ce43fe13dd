// Package anthropic binds the generation port to the Anthropic Claude API.
package anthropic

import (
	"context"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/hupe1980/llmflow/core"
	"github.com/hupe1980/llmflow/model"
)

// Options configures the Anthropic port adapter. Tiers maps engine tier
// labels to concrete Claude models; unmapped tiers fall back to the
// standard binding.
type Options struct {
	Tiers       model.TierMap
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Port adapts the Anthropic Messages API to the model.Port interface.
type Port struct {
	client *anthropic.Client
	opts   Options
}

// New creates an Anthropic port using the official client.
func New(optFns ...func(o *Options)) *Port {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Port{client: &client, opts: opts}
}

// NewFromClient creates an Anthropic port from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Port {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Port{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Tiers: model.TierMap{
			model.TierFast:       string(anthropic.ModelClaude3_5HaikuLatest),
			model.TierStandard:   string(anthropic.ModelClaude3_5Sonnet20241022),
			model.TierStructured: string(anthropic.ModelClaude3_5Sonnet20241022),
		},
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// Invoke implements model.Port via the non-streaming Messages API.
func (p *Port) Invoke(ctx context.Context, req model.Request) (*model.Response, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.opts.Tiers.Resolve(req.Tier, string(anthropic.ModelClaude3_5Sonnet20241022))),
		Messages:    buildMessages(req.Messages),
		MaxTokens:   p.opts.MaxTokens,
		Temperature: anthropic.Float(p.opts.Temperature),
	}
	if system := collectSystem(req.Messages); len(system) > 0 {
		params.System = system
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, categorize(err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.AsText().Text
		}
	}

	return &model.Response{
		Text: text,
		Usage: &model.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}, nil
}

// buildMessages converts conversation turns to Anthropic message params.
// System turns are handled separately via the System field.
func buildMessages(turns []core.Turn) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	for _, t := range turns {
		if t.Role == "system" || t.Content == "" {
			continue
		}
		switch t.Role {
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(t.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(t.Content)))
		}
	}
	return messages
}

func collectSystem(turns []core.Turn) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	for _, t := range turns {
		if t.Role == "system" && t.Content != "" {
			blocks = append(blocks, anthropic.TextBlockParam{Text: t.Content})
		}
	}
	return blocks
}

// categorize maps SDK errors onto the engine's error taxonomy so the
// runner can decide whether to retry.
func categorize(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == 408 || apierr.StatusCode == 429 || apierr.StatusCode >= 500:
			return core.NewTransientError("anthropic api error", err)
		default:
			return core.NewPermanentError("anthropic api error", err)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return core.NewTransientError("anthropic request error", err)
}
