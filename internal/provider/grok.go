package provider

import (
	"fmt"
	"net/http"
)

const grokBaseURL = "https://api.x.ai/v1"

// NewGrok builds the Grok DeepSearch adapter.
func NewGrok(apiKey string, registry *Registry, sem *Semaphores) Adapter {
	return newRESTAdapter("grok", apiKey, registry, sem, endpoints{
		submitURL: func(string) string { return grokBaseURL + "/deep-research/jobs" },
		statusURL: func(id string) string { return fmt.Sprintf("%s/deep-research/jobs/%s", grokBaseURL, id) },
		fetchURL:  func(id string) string { return fmt.Sprintf("%s/deep-research/jobs/%s", grokBaseURL, id) },
		cancelURL: func(id string) string { return fmt.Sprintf("%s/deep-research/jobs/%s/cancel", grokBaseURL, id) },
		authorize: func(req *http.Request, apiKey string) {
			req.Header.Set("Authorization", "Bearer "+apiKey)
		},
		statusPath:    "status",
		bodyPath:      "result.markdown",
		citationsPath: "result.sources",
		inputTokens:   "usage.prompt_tokens",
		outputTokens:  "usage.completion_tokens",
		reasonTokens:  "usage.reasoning_tokens",
	})
}
