package provider

import (
	"fmt"
	"net/http"
)

// NewAzure builds the Azure OpenAI Deep Research adapter. baseURL is the
// tenant-specific Azure OpenAI resource endpoint (e.g.
// "https://<resource>.openai.azure.com").
func NewAzure(apiKey, baseURL string, registry *Registry, sem *Semaphores) Adapter {
	apiVersion := "2025-03-01-preview"
	return newRESTAdapter("azure", apiKey, registry, sem, endpoints{
		submitURL: func(model string) string {
			return fmt.Sprintf("%s/openai/deployments/%s/responses?api-version=%s", baseURL, model, apiVersion)
		},
		statusURL: func(id string) string {
			return fmt.Sprintf("%s/openai/responses/%s?api-version=%s", baseURL, id, apiVersion)
		},
		fetchURL: func(id string) string {
			return fmt.Sprintf("%s/openai/responses/%s?api-version=%s", baseURL, id, apiVersion)
		},
		cancelURL: func(id string) string {
			return fmt.Sprintf("%s/openai/responses/%s/cancel?api-version=%s", baseURL, id, apiVersion)
		},
		authorize: func(req *http.Request, apiKey string) {
			req.Header.Set("api-key", apiKey)
		},
		statusPath:    "status",
		bodyPath:      "output_text",
		citationsPath: "output.#(type==\"web_search_call\").citations",
		inputTokens:   "usage.input_tokens",
		outputTokens:  "usage.output_tokens",
		reasonTokens:  "usage.reasoning_tokens",
	})
}
