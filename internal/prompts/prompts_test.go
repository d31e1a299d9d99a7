package prompts

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"dublaj/internal/hashing"
	"dublaj/internal/store"
)

const correctionTemplate = `---
name: correct_transcript
model: anthropic/claude-sonnet
temperature: 0.2
max_tokens: 8192
description: Fix transcription mistakes in German podcast transcripts.
---
Korrigiere das folgende Transkript.

Transkript:
{{ transcript }}

Hinweise des Redakteurs:
{{ reviewer_feedback }}
`

func writeTemplate(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name+".md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	return path
}

func TestParseTemplateSplitsFrontmatter(t *testing.T) {
	tmpl, err := ParseTemplate("correct_transcript", "x.md", []byte(correctionTemplate))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tmpl.Meta.Model != "anthropic/claude-sonnet" {
		t.Errorf("model not parsed: %q", tmpl.Meta.Model)
	}
	if tmpl.Meta.Temperature != 0.2 || tmpl.Meta.MaxTokens != 8192 {
		t.Errorf("params not parsed: %+v", tmpl.Meta)
	}
	if tmpl.Body == "" || tmpl.Body[0] != 'K' {
		t.Errorf("body should start after the closing fence, got %q", tmpl.Body[:20])
	}
	if tmpl.ContentHash != hashing.HashString(tmpl.Body) {
		t.Error("content hash must cover body bytes only")
	}
}

func TestParseTemplateWithoutFrontmatter(t *testing.T) {
	body := "Çeviri yap:\n{{ text }}\n"
	tmpl, err := ParseTemplate("translate", "x.md", []byte(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tmpl.Body != body {
		t.Errorf("body altered: %q", tmpl.Body)
	}
	if tmpl.Meta.Name != "translate" {
		t.Errorf("name should default to file name, got %q", tmpl.Meta.Name)
	}
}

func TestFrontmatterDoesNotAffectHash(t *testing.T) {
	a, err := ParseTemplate("p", "a.md", []byte("---\nauthor: alice\n---\nSame body\n"))
	if err != nil {
		t.Fatalf("parse a: %v", err)
	}
	b, err := ParseTemplate("p", "b.md", []byte("---\nauthor: bob\nnotes: reworded description\n---\nSame body\n"))
	if err != nil {
		t.Fatalf("parse b: %v", err)
	}
	if a.ContentHash != b.ContentHash {
		t.Error("metadata-only changes must not change the content hash")
	}
}

func TestRenderSubstitution(t *testing.T) {
	tmpl := &Template{Body: "Hallo {{ name }}, {{missing}} und {{ name }} nochmal."}
	got := tmpl.Render(map[string]string{"name": "Ayşe", "unused": "x"})
	want := "Hallo Ayşe,  und Ayşe nochmal."
	if got != want {
		t.Errorf("render: got %q, want %q", got, want)
	}
}

func TestRegistryRegisterAndPromote(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "correct_transcript", correctionTemplate)

	st, err := store.Open(filepath.Join(t.TempDir(), "dublaj.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	registry := NewRegistry(st, dir, nil)
	ctx := context.Background()

	v1, err := registry.RegisterVersion(ctx, "correct_transcript")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if v1.Version != 1 || !v1.IsDefault {
		t.Fatalf("first registration should be v1 default, got %+v", v1)
	}

	// Unchanged body re-registers to the same record.
	same, err := registry.RegisterVersion(ctx, "correct_transcript")
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if same.ID != v1.ID {
		t.Fatalf("expected idempotent registration, got new id %d", same.ID)
	}

	// A changed body becomes a new non-default version.
	writeTemplate(t, dir, "correct_transcript", correctionTemplate+"\nZusatzregel: Eigennamen prüfen.\n")
	v2, err := registry.RegisterVersion(ctx, "correct_transcript")
	if err != nil {
		t.Fatalf("register v2: %v", err)
	}
	if v2.Version != 2 || v2.IsDefault {
		t.Fatalf("expected non-default v2, got %+v", v2)
	}

	def, err := registry.GetDefault(ctx, "correct_transcript")
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	if def.ID != v1.ID {
		t.Fatalf("default should remain v1 until promoted")
	}

	if err := registry.PromoteToDefault(ctx, v2.ID); err != nil {
		t.Fatalf("promote: %v", err)
	}
	def, err = registry.GetDefault(ctx, "correct_transcript")
	if err != nil {
		t.Fatalf("default after promote: %v", err)
	}
	if def.ID != v2.ID {
		t.Fatalf("default should be v2 after promotion")
	}

	history, err := registry.GetHistory(ctx, "correct_transcript")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[0].Version != 2 {
		t.Fatalf("expected 2 versions newest first, got %d", len(history))
	}
}

func TestSplitFrontmatterRequiresExactClosingFence(t *testing.T) {
	frontmatter, body := splitFrontmatter("---\nname: adapt\n----\nnotes: trennlinie oben\n---\nBody\n")
	if frontmatter != "name: adapt\n----\nnotes: trennlinie oben" {
		t.Errorf("frontmatter truncated at dash-prefixed line: %q", frontmatter)
	}
	if body != "Body\n" {
		t.Errorf("body after exact fence: %q", body)
	}

	frontmatter, body = splitFrontmatter("---\nname: adapt\n---notes\nBody\n")
	if frontmatter != "" || body != "---\nname: adapt\n---notes\nBody\n" {
		t.Errorf("a ---notes line must not close the block: %q / %q", frontmatter, body)
	}

	frontmatter, body = splitFrontmatter("---\nname: adapt\n---")
	if frontmatter != "name: adapt" || body != "" {
		t.Errorf("fence on the final line: %q / %q", frontmatter, body)
	}
}

func TestCurrentDefaultServesDefaultBodyAfterUnpromotedEdit(t *testing.T) {
	dir := t.TempDir()
	original := "Passe das Skript an:\n\n{{ text }}\n"
	writeTemplate(t, dir, "adapt", original)

	st, err := store.Open(filepath.Join(t.TempDir(), "dublaj.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	registry := NewRegistry(st, dir, nil)
	ctx := context.Background()

	tmpl, v1, err := registry.CurrentDefault(ctx, "adapt")
	if err != nil {
		t.Fatalf("first default: %v", err)
	}
	if tmpl.Body != original || v1.Version != 1 {
		t.Fatalf("expected live v1 body, got v%d %q", v1.Version, tmpl.Body)
	}

	// Edit without promoting: the edit registers as a candidate version but
	// the run keeps the default's bytes, matching the default's hash.
	edited := "Völlig neuer Text:\n\n{{ text }}\n"
	writeTemplate(t, dir, "adapt", edited)
	tmpl, def, err := registry.CurrentDefault(ctx, "adapt")
	if err != nil {
		t.Fatalf("default after edit: %v", err)
	}
	if def.ID != v1.ID {
		t.Fatalf("default must stay on v1 until promoted, got v%d", def.Version)
	}
	if tmpl.Body != original {
		t.Fatalf("run must use the default body, got %q", tmpl.Body)
	}
	if tmpl.ContentHash != def.ContentHash || tmpl.ContentHash != hashing.HashString(original) {
		t.Fatal("returned template must hash to the default version")
	}

	// Promotion flips the run onto the edited bytes.
	history, err := registry.GetHistory(ctx, "adapt")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(history))
	}
	if err := registry.PromoteToDefault(ctx, history[0].ID); err != nil {
		t.Fatalf("promote: %v", err)
	}
	tmpl, def, err = registry.CurrentDefault(ctx, "adapt")
	if err != nil {
		t.Fatalf("default after promote: %v", err)
	}
	if def.Version != 2 || tmpl.Body != edited {
		t.Fatalf("expected promoted v2 body, got v%d %q", def.Version, tmpl.Body)
	}
}

func TestLoadTemplateMissing(t *testing.T) {
	if _, err := LoadTemplate(t.TempDir(), "nope"); err == nil {
		t.Fatal("expected error for missing template")
	}
}
