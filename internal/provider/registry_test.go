package provider

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepresearch/engine/internal/domain/job"
)

func TestRegistryLookupKnownModel(t *testing.T) {
	r := NewRegistry()
	entry, err := r.Lookup("openai", "gpt-5-deep-research")
	require.NoError(t, err)
	require.Equal(t, ModeAsynchronousJob, entry.ModeFamily)
	require.Equal(t, 200_000, entry.ContextWindow)
}

func TestRegistryLookupUnknownModel(t *testing.T) {
	r := NewRegistry()
	_, err := r.Lookup("openai", "does-not-exist")
	require.Error(t, err)
}

func TestRegistryCandidatesFiltersByContextAndTools(t *testing.T) {
	r := NewRegistry()
	candidates := r.Candidates(500_000, []job.Tool{job.ToolWebSearch})
	for _, c := range candidates {
		require.GreaterOrEqual(t, c.ContextWindow, 500_000)
	}
	require.NotEmpty(t, candidates)
}

func TestRegistryCandidatesRequiresAllTools(t *testing.T) {
	r := NewRegistry()
	candidates := r.Candidates(0, []job.Tool{job.ToolWebSearch, job.ToolCodeInterpreter, job.ToolFileSearch})
	for _, c := range candidates {
		require.True(t, c.SupportsTools([]job.Tool{job.ToolWebSearch, job.ToolCodeInterpreter, job.ToolFileSearch}))
	}
}
