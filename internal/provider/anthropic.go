package provider

import (
	"fmt"
	"net/http"
)

const anthropicBaseURL = "https://api.anthropic.com/v1"

// NewAnthropic builds the Claude research adapter.
func NewAnthropic(apiKey string, registry *Registry, sem *Semaphores) Adapter {
	return newRESTAdapter("anthropic", apiKey, registry, sem, endpoints{
		submitURL: func(string) string { return anthropicBaseURL + "/messages/batches" },
		statusURL: func(id string) string { return fmt.Sprintf("%s/messages/batches/%s", anthropicBaseURL, id) },
		fetchURL:  func(id string) string { return fmt.Sprintf("%s/messages/batches/%s/results", anthropicBaseURL, id) },
		cancelURL: func(id string) string { return fmt.Sprintf("%s/messages/batches/%s/cancel", anthropicBaseURL, id) },
		authorize: func(req *http.Request, apiKey string) {
			req.Header.Set("x-api-key", apiKey)
			req.Header.Set("anthropic-version", "2023-06-01")
		},
		statusPath:    "processing_status",
		bodyPath:      "content.0.text",
		citationsPath: "content.0.citations",
		inputTokens:   "usage.input_tokens",
		outputTokens:  "usage.output_tokens",
	})
}
