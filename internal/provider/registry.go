package provider

import (
	"time"

	"github.com/deepresearch/engine/internal/apperrors"
	"github.com/deepresearch/engine/internal/domain/job"
)

// Pricing is per-million-token pricing in plain dollars; Estimate converts
// to money.FixedPoint after multiplying by a heuristic token count.
type Pricing struct {
	InputPerMillion     float64
	OutputPerMillion    float64
	ReasoningPerMillion float64
}

// ModelEntry is one row of the static Registry: everything the Router needs
// to know about a model without calling the provider.
type ModelEntry struct {
	Provider      string
	Model         string
	Pricing       Pricing
	ContextWindow int
	Tools         []job.Tool
	ModeFamily    ModeFamily
	TypicalLatency time.Duration
	Timeout       time.Duration
}

func (e ModelEntry) supportsTool(t job.Tool) bool {
	for _, want := range e.Tools {
		if want == t {
			return true
		}
	}
	return false
}

// SupportsTools reports whether every tool in want is supported by e.
func (e ModelEntry) SupportsTools(want []job.Tool) bool {
	for _, t := range want {
		if !e.supportsTool(t) {
			return false
		}
	}
	return true
}

// Registry is the static compiled-in model table: one place to edit when
// provider APIs change.
type Registry struct {
	entries map[string]ModelEntry // keyed by "provider/model"
}

// NewRegistry builds the default Registry covering every concrete adapter
// this engine ships.
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[string]ModelEntry)}
	for _, e := range defaultEntries() {
		r.entries[key(e.Provider, e.Model)] = e
	}
	return r
}

func key(provider, model string) string { return provider + "/" + model }

// Lookup returns the ModelEntry for provider/model.
func (r *Registry) Lookup(providerName, model string) (ModelEntry, error) {
	e, ok := r.entries[key(providerName, model)]
	if !ok {
		return ModelEntry{}, apperrors.NotFound("model", key(providerName, model))
	}
	return e, nil
}

// ModelsFor returns every registered model for a provider.
func (r *Registry) ModelsFor(providerName string) []ModelEntry {
	var out []ModelEntry
	for _, e := range r.entries {
		if e.Provider == providerName {
			out = append(out, e)
		}
	}
	return out
}

// Candidates returns every model that satisfies a minimum context window
// and tool set, for Router step 2 ("filter Registry to models whose context
// window and tool support satisfy the request").
func (r *Registry) Candidates(minContext int, tools []job.Tool) []ModelEntry {
	var out []ModelEntry
	for _, e := range r.entries {
		if e.ContextWindow < minContext {
			continue
		}
		if !e.SupportsTools(tools) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func defaultEntries() []ModelEntry {
	return []ModelEntry{
		{
			Provider:      "openai",
			Model:         "gpt-5-deep-research",
			Pricing:       Pricing{InputPerMillion: 2.50, OutputPerMillion: 10.00, ReasoningPerMillion: 10.00},
			ContextWindow: 200_000,
			Tools:         []job.Tool{job.ToolWebSearch, job.ToolCodeInterpreter, job.ToolFileSearch},
			ModeFamily:    ModeAsynchronousJob,
			TypicalLatency: 8 * time.Minute,
			Timeout:       20 * time.Minute,
		},
		{
			Provider:      "openai",
			Model:         "gpt-5-mini",
			Pricing:       Pricing{InputPerMillion: 0.25, OutputPerMillion: 2.00},
			ContextWindow: 128_000,
			Tools:         []job.Tool{job.ToolWebSearch},
			ModeFamily:    ModeSynchronous,
			TypicalLatency: 20 * time.Second,
			Timeout:       60 * time.Second,
		},
		{
			Provider:      "azure",
			Model:         "gpt-5-deep-research",
			Pricing:       Pricing{InputPerMillion: 2.75, OutputPerMillion: 11.00, ReasoningPerMillion: 11.00},
			ContextWindow: 200_000,
			Tools:         []job.Tool{job.ToolWebSearch, job.ToolCodeInterpreter},
			ModeFamily:    ModeAsynchronousJob,
			TypicalLatency: 9 * time.Minute,
			Timeout:       20 * time.Minute,
		},
		{
			Provider:      "gemini",
			Model:         "gemini-2.5-deep-research",
			Pricing:       Pricing{InputPerMillion: 1.25, OutputPerMillion: 5.00},
			ContextWindow: 1_000_000,
			Tools:         []job.Tool{job.ToolWebSearch, job.ToolCodeInterpreter, job.ToolFileSearch},
			ModeFamily:    ModeAsynchronousJob,
			TypicalLatency: 6 * time.Minute,
			Timeout:       15 * time.Minute,
		},
		{
			Provider:      "grok",
			Model:         "grok-4-deepsearch",
			Pricing:       Pricing{InputPerMillion: 3.00, OutputPerMillion: 15.00},
			ContextWindow: 256_000,
			Tools:         []job.Tool{job.ToolWebSearch},
			ModeFamily:    ModeAsynchronousJob,
			TypicalLatency: 5 * time.Minute,
			Timeout:       15 * time.Minute,
		},
		{
			Provider:      "anthropic",
			Model:         "claude-research",
			Pricing:       Pricing{InputPerMillion: 3.00, OutputPerMillion: 15.00},
			ContextWindow: 200_000,
			Tools:         []job.Tool{job.ToolWebSearch, job.ToolCodeInterpreter, job.ToolFileSearch},
			ModeFamily:    ModeAsynchronousJob,
			TypicalLatency: 7 * time.Minute,
			Timeout:       20 * time.Minute,
		},
	}
}
