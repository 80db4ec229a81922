// Package artifactstore implements the Artifact Store (C3): the
// human-readable, content-addressed filesystem layout from spec §6, layered
// over a storage.ArtifactStore that remains the system of record for
// GetArtifact lookups.
package artifactstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/deepresearch/engine/internal/domain/artifact"
	"github.com/deepresearch/engine/internal/domain/job"
	"github.com/deepresearch/engine/internal/logger"
	"github.com/deepresearch/engine/internal/storage"
)

// Metadata mirrors metadata.json exactly as specified in §6. Unknown fields
// encountered on read are preserved verbatim in Extra and re-emitted on
// write, per the round-trip requirement.
type Metadata struct {
	JobID         string          `json:"job_id"`
	CreatedAt     string          `json:"created_at"`
	Filename      string          `json:"filename"`
	ContentType   string          `json:"content_type"`
	SizeBytes     int64           `json:"size_bytes"`
	Prompt        string          `json:"prompt"`
	Model         string          `json:"model"`
	Provider      string          `json:"provider"`
	Status        string          `json:"status"`
	ProviderJobID string          `json:"provider_job_id"`
	Cost          float64         `json:"cost"`
	TokensUsed    int             `json:"tokens_used"`
	Extra         map[string]json.RawMessage `json:"-"`
}

// known lists the struct-decoded field names so UnmarshalJSON can separate
// them from caller-supplied extras.
var known = map[string]bool{
	"job_id": true, "created_at": true, "filename": true, "content_type": true,
	"size_bytes": true, "prompt": true, "model": true, "provider": true,
	"status": true, "provider_job_id": true, "cost": true, "tokens_used": true,
}

// MarshalJSON writes the known fields plus any preserved extras as one flat
// object.
func (m Metadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(m.Extra)+12)
	set := func(key string, v any) {
		b, _ := json.Marshal(v)
		out[key] = b
	}
	set("job_id", m.JobID)
	set("created_at", m.CreatedAt)
	set("filename", m.Filename)
	set("content_type", m.ContentType)
	set("size_bytes", m.SizeBytes)
	set("prompt", m.Prompt)
	set("model", m.Model)
	set("provider", m.Provider)
	set("status", m.Status)
	set("provider_job_id", m.ProviderJobID)
	set("cost", m.Cost)
	set("tokens_used", m.TokensUsed)
	for k, v := range m.Extra {
		out[k] = v
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes into a map first and pulls named fields out
// explicitly, rather than struct-tag decoding the whole blob, so unrecognized
// keys are preserved verbatim but never consulted by name-based logic
// elsewhere in the engine.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	get := func(key string, dst any) {
		if v, ok := raw[key]; ok {
			_ = json.Unmarshal(v, dst)
		}
	}
	get("job_id", &m.JobID)
	get("created_at", &m.CreatedAt)
	get("filename", &m.Filename)
	get("content_type", &m.ContentType)
	get("size_bytes", &m.SizeBytes)
	get("prompt", &m.Prompt)
	get("model", &m.Model)
	get("provider", &m.Provider)
	get("status", &m.Status)
	get("provider_job_id", &m.ProviderJobID)
	get("cost", &m.Cost)
	get("tokens_used", &m.TokensUsed)

	m.Extra = make(map[string]json.RawMessage)
	for k, v := range raw {
		if !known[k] {
			m.Extra[k] = v
		}
	}
	return nil
}

// Store writes the human-readable report.md + metadata.json layout and
// delegates canonical persistence to an underlying storage.ArtifactStore.
type Store struct {
	underlying storage.ArtifactStore
	root       string
	log        *logger.Logger

	mu    sync.Mutex
	index map[string]string // job id -> report directory
}

// New builds a Store rooted at root/reports. It scans existing directories
// (including legacy id-only ones) to seed the lookup index.
func New(underlying storage.ArtifactStore, root string, log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewDefault("artifactstore")
	}
	s := &Store{underlying: underlying, root: root, log: log, index: make(map[string]string)}
	s.rebuildIndex()
	return s
}

func (s *Store) reportsDir() string { return filepath.Join(s.root, "reports") }

func (s *Store) rebuildIndex() {
	entries, err := os.ReadDir(s.reportsDir())
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() || e.Name() == "campaigns" {
			continue
		}
		dir := filepath.Join(s.reportsDir(), e.Name())
		meta, err := readMetadata(dir)
		if err != nil {
			continue
		}
		s.index[meta.JobID] = dir
	}
}

// Persist writes report.md and metadata.json for a completed job's
// artifact and saves the artifact to the underlying store. It returns the
// directory written.
func (s *Store) Persist(ctx context.Context, j job.Job, a artifact.Artifact) (string, error) {
	dir := s.directoryFor(j)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}

	reportPath := filepath.Join(dir, "report.md")
	if err := os.WriteFile(reportPath, []byte(a.MarkdownBody), 0o644); err != nil {
		return "", fmt.Errorf("write report.md: %w", err)
	}

	cost := 0.0
	if j.CostActual != nil {
		cost = j.CostActual.Float64()
	}
	meta := Metadata{
		JobID:         j.ID,
		CreatedAt:     a.CreatedAt.UTC().Format(time.RFC3339),
		Filename:      "report.md",
		ContentType:   "text/markdown",
		SizeBytes:     int64(len(a.MarkdownBody)),
		Prompt:        j.Prompt,
		Model:         j.ChosenModel,
		Provider:      j.ChosenProvider,
		Status:        string(j.Status),
		ProviderJobID: j.ExternalID,
		Cost:          cost,
		TokensUsed:    a.TokenUsage.Input + a.TokenUsage.Output + a.TokenUsage.Reasoning,
	}
	if existing, err := readMetadata(dir); err == nil {
		meta.Extra = existing.Extra
	}

	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), metaBytes, 0o644); err != nil {
		return "", fmt.Errorf("write metadata.json: %w", err)
	}

	if err := s.underlying.SaveArtifact(ctx, a); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.index[j.ID] = dir
	s.mu.Unlock()
	return dir, nil
}

// Get resolves an Artifact by job id from the underlying store.
func (s *Store) Get(ctx context.Context, jobID string) (artifact.Artifact, error) {
	return s.underlying.GetArtifact(ctx, jobID)
}

// ResolveDir returns the report directory for jobID, checking the index
// first and falling back to the legacy `<root>/reports/<job-id>` layout for
// backward compatibility.
func (s *Store) ResolveDir(jobID string) (string, bool) {
	s.mu.Lock()
	dir, ok := s.index[jobID]
	s.mu.Unlock()
	if ok {
		return dir, true
	}
	legacy := filepath.Join(s.reportsDir(), jobID)
	if info, err := os.Stat(legacy); err == nil && info.IsDir() {
		return legacy, true
	}
	return "", false
}

func readMetadata(dir string) (Metadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	if err != nil {
		return Metadata{}, err
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, err
	}
	return m, nil
}

// directoryFor builds the deterministic report directory name from
// (created_at, slugified prompt first 40 chars, last 8 chars of id), per §6.
func (s *Store) directoryFor(j job.Job) string {
	ts := j.CreatedAt.UTC().Format("2006-01-02_1504")
	slug := slugify(j.Prompt)
	if len(slug) > 40 {
		slug = slug[:40]
	}
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "untitled"
	}
	short := shortID(j.ID)
	return filepath.Join(s.reportsDir(), fmt.Sprintf("%s_%s_%s", ts, slug, short))
}

var nonSlugChar = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(s string) string {
	lowered := strings.ToLower(s)
	dashed := nonSlugChar.ReplaceAllString(lowered, "-")
	return strings.Trim(dashed, "-")
}

func shortID(id string) string {
	cleaned := strings.ReplaceAll(id, "-", "")
	if len(cleaned) <= 8 {
		return cleaned
	}
	return cleaned[len(cleaned)-8:]
}

// CampaignDir builds the deterministic campaign report directory, mirroring
// directoryFor but rooted at reports/campaigns per §6.
func (s *Store) CampaignDir(createdAt time.Time, scenario, campaignID string) string {
	ts := createdAt.UTC().Format("2006-01-02_1504")
	slug := slugify(scenario)
	if len(slug) > 40 {
		slug = slug[:40]
	}
	if slug == "" {
		slug = "campaign"
	}
	return filepath.Join(s.reportsDir(), "campaigns", fmt.Sprintf("%s_%s_%s", ts, slug, shortID(campaignID)))
}

// PhaseDir builds the per-phase subdirectory under a campaign's directory.
func (s *Store) PhaseDir(campaignDir string, phaseIndex int, title string) string {
	slug := slugify(title)
	if slug == "" {
		slug = "phase"
	}
	return filepath.Join(campaignDir, fmt.Sprintf("phase-%s_%s", strconv.Itoa(phaseIndex+1), slug))
}
