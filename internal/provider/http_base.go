package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/deepresearch/engine/internal/domain/artifact"
	"github.com/deepresearch/engine/internal/domain/money"
	"github.com/deepresearch/engine/internal/logger"
)

// endpoints bundles the provider-specific URL templates and auth shaping
// that differ between OpenAI/Azure/Gemini/Grok/Anthropic while the overall
// submit/poll/fetch/cancel flow stays the same REST shape.
type endpoints struct {
	submitURL func(model string) string
	statusURL func(externalID string) string
	fetchURL  func(externalID string) string
	cancelURL func(externalID string) string
	authorize func(req *http.Request, apiKey string)

	// statusPath/bodyPath/citationsPath/inputTokens/outputTokens/reasonTokens are gjson paths
	// into the provider's raw JSON response, since every provider shapes its
	// payload differently (§6: provider_raw is stored verbatim and only
	// specific fields are pulled out with gjson rather than full unmarshal).
	statusPath    string
	bodyPath      string
	citationsPath string
	inputTokens   string
	outputTokens  string
	reasonTokens  string
}

// restAdapter is the shared implementation backing every concrete REST-based
// provider adapter. Each provider file builds one with its own endpoints and
// registry name; behavior (idempotency, error classification, rate limiting)
// lives here once.
type restAdapter struct {
	name       string
	apiKey     string
	client     *http.Client
	registry   *Registry
	semaphores *Semaphores
	log        *logger.Logger
	ep         endpoints

	idempotencyMu sync.Mutex
	idempotency   map[string]string // client token -> external id, per the submit-idempotency contract
}

func newRESTAdapter(name, apiKey string, registry *Registry, sem *Semaphores, ep endpoints) *restAdapter {
	return &restAdapter{
		name:        name,
		apiKey:      apiKey,
		client:      &http.Client{Timeout: DefaultTimeout},
		registry:    registry,
		semaphores:  sem,
		log:         logger.NewDefault("provider." + name),
		ep:          ep,
		idempotency: make(map[string]string),
	}
}

func (a *restAdapter) Name() string { return a.name }

func (a *restAdapter) Submit(ctx context.Context, req Request) (SubmitResult, error) {
	if req.IdempotencyKey != "" {
		a.idempotencyMu.Lock()
		existing, ok := a.idempotency[req.IdempotencyKey]
		a.idempotencyMu.Unlock()
		if ok {
			return SubmitResult{ExternalID: existing, InitialStatus: RemoteQueued}, nil
		}
	}
	if err := a.semaphores.Wait(ctx, a.name); err != nil {
		return SubmitResult{}, err
	}

	payload, err := json.Marshal(map[string]interface{}{
		"model":        req.Model,
		"input":        req.Prompt,
		"tools":        req.Tools,
		"context_refs": req.ContextRefs,
	})
	if err != nil {
		return SubmitResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.ep.submitURL(req.Model), bytes.NewReader(payload))
	if err != nil {
		return SubmitResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	a.ep.authorize(httpReq, a.apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return SubmitResult{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return SubmitResult{}, err
	}
	if resp.StatusCode >= 400 {
		return SubmitResult{}, httpStatusError{code: resp.StatusCode, body: string(body)}
	}

	raw := gjson.ParseBytes(body)
	externalID := raw.Get("id").String()
	if req.IdempotencyKey != "" {
		a.idempotencyMu.Lock()
		a.idempotency[req.IdempotencyKey] = externalID
		a.idempotencyMu.Unlock()
	}

	entry, err := a.registry.Lookup(a.name, req.Model)
	if err == nil && entry.ModeFamily == ModeSynchronous {
		art := a.parseArtifact(req.JobID, raw)
		return SubmitResult{ExternalID: externalID, InitialStatus: RemoteSucceeded, SynchronousResult: &art}, nil
	}
	return SubmitResult{ExternalID: externalID, InitialStatus: RemoteQueued}, nil
}

func (a *restAdapter) Status(ctx context.Context, externalID string) (RemoteStatus, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.ep.statusURL(externalID), nil)
	if err != nil {
		return "", err
	}
	a.ep.authorize(httpReq, a.apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", httpStatusError{code: resp.StatusCode, body: string(body)}
	}

	status := gjson.GetBytes(body, a.ep.statusPath).String()
	return mapRemoteStatus(status), nil
}

func (a *restAdapter) Fetch(ctx context.Context, externalID string) (artifact.Artifact, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.ep.fetchURL(externalID), nil)
	if err != nil {
		return artifact.Artifact{}, err
	}
	a.ep.authorize(httpReq, a.apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return artifact.Artifact{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return artifact.Artifact{}, err
	}
	if resp.StatusCode >= 400 {
		return artifact.Artifact{}, httpStatusError{code: resp.StatusCode, body: string(body)}
	}

	return a.parseArtifact(externalID, gjson.ParseBytes(body)), nil
}

func (a *restAdapter) parseArtifact(jobID string, raw gjson.Result) artifact.Artifact {
	var citations []artifact.Citation
	raw.Get(a.ep.citationsPath).ForEach(func(_, c gjson.Result) bool {
		citations = append(citations, artifact.Citation{
			URL:     c.Get("url").String(),
			Title:   c.Get("title").String(),
			Snippet: c.Get("snippet").String(),
		})
		return true
	})

	return artifact.Artifact{
		JobID:        jobID,
		MarkdownBody: raw.Get(a.ep.bodyPath).String(),
		Citations:    citations,
		TokenUsage: artifact.TokenUsage{
			Input:     int(raw.Get(a.ep.inputTokens).Int()),
			Output:    int(raw.Get(a.ep.outputTokens).Int()),
			Reasoning: int(raw.Get(a.ep.reasonTokens).Int()),
		},
		ProviderRaw: raw.Raw,
		CreatedAt:   time.Now().UTC(),
	}
}

func (a *restAdapter) Cancel(ctx context.Context, externalID string) bool {
	if a.ep.cancelURL == nil {
		return false
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.ep.cancelURL(externalID), nil)
	if err != nil {
		return false
	}
	a.ep.authorize(httpReq, a.apiKey)
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 400
}

func (a *restAdapter) Estimate(_ context.Context, req Request) money.FixedPoint {
	entry, err := a.registry.Lookup(a.name, req.Model)
	if err != nil {
		return money.FromFloat(0)
	}
	// Heuristic: ~4 characters per token, output sized at half the prompt's
	// token count for a research-mode response.
	inputTokens := float64(len(req.Prompt)) / 4
	outputTokens := inputTokens / 2
	dollars := inputTokens/1_000_000*entry.Pricing.InputPerMillion +
		outputTokens/1_000_000*entry.Pricing.OutputPerMillion
	return money.FromFloat(dollars)
}

func (a *restAdapter) ClassifyError(err error) ErrorClass {
	var statusErr httpStatusError
	if se, ok := err.(httpStatusError); ok {
		statusErr = se
	} else {
		return ErrTransient
	}
	switch {
	case statusErr.code == http.StatusUnauthorized || statusErr.code == http.StatusForbidden:
		return ErrAuth
	case statusErr.code == http.StatusTooManyRequests:
		return ErrRateLimit
	case statusErr.code == http.StatusBadRequest || statusErr.code == http.StatusUnprocessableEntity:
		return ErrInvalidRequest
	case statusErr.code >= 500:
		return ErrProviderDown
	default:
		return ErrTransient
	}
}

type httpStatusError struct {
	code int
	body string
}

func (e httpStatusError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.code, e.body)
}

func mapRemoteStatus(s string) RemoteStatus {
	switch s {
	case "queued", "pending", "QUEUED":
		return RemoteQueued
	case "in_progress", "running", "RUNNING":
		return RemoteRunning
	case "completed", "succeeded", "SUCCEEDED":
		return RemoteSucceeded
	case "failed", "error", "FAILED":
		return RemoteFailed
	case "cancelled", "canceled", "CANCELED":
		return RemoteCanceled
	default:
		return RemoteRunning
	}
}
