package provider

import (
	"fmt"
	"net/http"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// NewGemini builds the Gemini Deep Research adapter.
func NewGemini(apiKey string, registry *Registry, sem *Semaphores) Adapter {
	return newRESTAdapter("gemini", apiKey, registry, sem, endpoints{
		submitURL: func(model string) string {
			return fmt.Sprintf("%s/models/%s:generateDeepResearch", geminiBaseURL, model)
		},
		statusURL: func(id string) string { return fmt.Sprintf("%s/operations/%s", geminiBaseURL, id) },
		fetchURL:  func(id string) string { return fmt.Sprintf("%s/operations/%s", geminiBaseURL, id) },
		cancelURL: func(id string) string { return fmt.Sprintf("%s/operations/%s:cancel", geminiBaseURL, id) },
		authorize: func(req *http.Request, apiKey string) {
			req.Header.Set("x-goog-api-key", apiKey)
		},
		statusPath:    "metadata.state",
		bodyPath:      "response.candidates.0.content.parts.0.text",
		citationsPath: "response.candidates.0.groundingMetadata.groundingChunks",
		inputTokens:   "response.usageMetadata.promptTokenCount",
		outputTokens:  "response.usageMetadata.candidatesTokenCount",
		reasonTokens:  "response.usageMetadata.thoughtsTokenCount",
	})
}
