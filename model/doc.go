// Package model defines the generation port: the single abstract
// capability the composition engine calls through to reach a
// text-generation service. The engine addresses models by tier label
// ("fast", "standard", "structured-heavy") rather than concrete provider
// model names; binding tiers to concrete models is the concern of the
// provider adapters in the subpackages (anthropic, openai) or of any
// user-supplied Port implementation.
package model
