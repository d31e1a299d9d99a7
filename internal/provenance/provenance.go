// Package provenance writes the per-stage JSON records that tie an output
// artifact to its inputs, prompt version, model parameters, and cost.
package provenance

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"dublaj/internal/artifacts"
)

// FileRef is one input or output file with its content hash.
type FileRef struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
}

// ModelParams captures the generation parameters in effect for a stage run.
type ModelParams struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// Record is the provenance document written after a successful stage run.
// Nullable fields stay null for stages without an LLM component.
type Record struct {
	Stage           string       `json:"stage"`
	EpisodeID       string       `json:"episode_id"`
	Timestamp       time.Time    `json:"timestamp"`
	PromptName      *string      `json:"prompt_name"`
	PromptVersion   *int         `json:"prompt_version"`
	PromptHash      *string      `json:"prompt_hash"`
	Model           *string      `json:"model"`
	ModelParams     *ModelParams `json:"model_params"`
	InputFiles      []FileRef    `json:"input_files"`
	OutputFiles     []FileRef    `json:"output_files"`
	InputTokens     *int64       `json:"input_tokens"`
	OutputTokens    *int64       `json:"output_tokens"`
	CostUSD         *float64     `json:"cost_usd"`
	DurationSeconds float64      `json:"duration_seconds"`
	Notes           *string      `json:"notes"`
}

// Writer persists provenance records through the artifact store.
type Writer struct {
	artifacts *artifacts.Store
}

// NewWriter returns a provenance writer backed by the artifact store.
func NewWriter(store *artifacts.Store) *Writer {
	return &Writer{artifacts: store}
}

// Write serializes the record and writes it atomically to the canonical
// provenance path for (episode, stage). Turkish and German text is preserved
// as-is; non-ASCII characters are never escaped.
func (w *Writer) Write(externalID, stage string, record *Record) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	} else {
		record.Timestamp = record.Timestamp.UTC()
	}
	if record.InputFiles == nil {
		record.InputFiles = []FileRef{}
	}
	if record.OutputFiles == nil {
		record.OutputFiles = []FileRef{}
	}

	data, err := Encode(record)
	if err != nil {
		return err
	}

	path, err := w.artifacts.ResolveProvenance(externalID, stage)
	if err != nil {
		return err
	}
	return w.artifacts.Write(path, data)
}

// Load reads the provenance record for (episode, stage). Missing records
// surface as a not-found error from the artifact store.
func (w *Writer) Load(externalID, stage string) (*Record, error) {
	path, err := w.artifacts.ResolveProvenance(externalID, stage)
	if err != nil {
		return nil, err
	}
	data, err := w.artifacts.ReadBytes(path)
	if err != nil {
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode provenance %s: %w", path, err)
	}
	return &record, nil
}

// Encode serializes a record with HTML escaping disabled.
func Encode(record *Record) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(record); err != nil {
		return nil, fmt.Errorf("encode provenance: %w", err)
	}
	return buf.Bytes(), nil
}

// String returns a pointer to s, for nullable provenance fields.
func String(s string) *string { return &s }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }

// Float64 returns a pointer to v.
func Float64(v float64) *float64 { return &v }
