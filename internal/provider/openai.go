package provider

import (
	"fmt"
	"net/http"
)

const openAIBaseURL = "https://api.openai.com/v1"

// NewOpenAI builds the OpenAI Deep Research adapter.
func NewOpenAI(apiKey string, registry *Registry, sem *Semaphores) Adapter {
	return newRESTAdapter("openai", apiKey, registry, sem, endpoints{
		submitURL: func(string) string { return openAIBaseURL + "/responses" },
		statusURL: func(id string) string { return fmt.Sprintf("%s/responses/%s", openAIBaseURL, id) },
		fetchURL:  func(id string) string { return fmt.Sprintf("%s/responses/%s", openAIBaseURL, id) },
		cancelURL: func(id string) string { return fmt.Sprintf("%s/responses/%s/cancel", openAIBaseURL, id) },
		authorize: func(req *http.Request, apiKey string) {
			req.Header.Set("Authorization", "Bearer "+apiKey)
		},
		statusPath:    "status",
		bodyPath:      "output_text",
		citationsPath: "output.#(type==\"web_search_call\").citations",
		inputTokens:   "usage.input_tokens",
		outputTokens:  "usage.output_tokens",
		reasonTokens:  "usage.reasoning_tokens",
	})
}
