package hashing_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"dublaj/internal/hashing"
	"dublaj/internal/services"
)

func TestHashFileMatchesHashBytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.txt")
	content := []byte("Müzik ve gürültü arasında bir çizgi var.\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write payload: %v", err)
	}

	fromFile, err := hashing.HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if fromFile != hashing.HashBytes(content) {
		t.Fatalf("file hash %s does not match byte hash %s", fromFile, hashing.HashBytes(content))
	}
}

func TestHashFileStreamsLargeInput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "large.bin")
	payload := make([]byte, 300*1024)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatalf("write payload: %v", err)
	}

	fromFile, err := hashing.HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if fromFile != hashing.HashBytes(payload) {
		t.Fatal("streamed hash differs from in-memory hash")
	}
}

func TestHashFileMissing(t *testing.T) {
	_, err := hashing.HashFile(filepath.Join(t.TempDir(), "missing.txt"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, services.ErrIO) {
		t.Fatalf("expected io marker, got %v", err)
	}
}

func TestHashStringDeterministic(t *testing.T) {
	a := hashing.HashString("Straße")
	b := hashing.HashString("Straße")
	if a != b {
		t.Fatalf("hashes differ: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
}
