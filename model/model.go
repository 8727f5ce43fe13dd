package model

import (
	"context"

	"github.com/hupe1980/llmflow/core"
)

// Tier is an engine-level model class label. Components pick a tier per
// step; adapters map tiers to concrete provider models.
type Tier = string

const (
	// TierFast is for cheap, low-latency calls (classification, gating).
	TierFast Tier = "fast"

	// TierStandard is the default tier for generation steps.
	TierStandard Tier = "standard"

	// TierStructured is for calls whose output must conform to a schema
	// (planning, evaluation, synthesis).
	TierStructured Tier = "structured-heavy"
)

// TierMap binds tier labels to concrete provider model identifiers.
type TierMap map[Tier]string

// Resolve returns the concrete model for a tier, falling back to the
// standard tier binding and finally to the provided default.
func (t TierMap) Resolve(tier Tier, fallback string) string {
	if m, ok := t[tier]; ok {
		return m
	}
	if m, ok := t[TierStandard]; ok {
		return m
	}
	return fallback
}

// Request captures the normalized input of one generation call.
type Request struct {
	Tier     Tier           `json:"tier"`             // Model class to execute on
	Messages []core.Turn    `json:"messages"`         // Ordered role-attributed messages
	Schema   map[string]any `json:"schema,omitempty"` // Advisory output schema; validation happens engine-side
}

// Usage captures token accounting for a response when the provider
// reports it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the outcome of one generation call.
type Response struct {
	Text  string `json:"text"`
	Usage *Usage `json:"usage,omitempty"`
}

// Port is the generation capability the engine calls through. Errors
// should carry a core error category so the runner can distinguish
// transient failures (retried) from permanent ones (not retried);
// uncategorized errors are treated as permanent.
//
// Implementations must respect context cancellation and deadlines.
type Port interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}
