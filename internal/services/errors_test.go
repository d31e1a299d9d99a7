package services_test

import (
	"errors"
	"strings"
	"testing"

	"dublaj/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalService, "translate", "complete", "request failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalService) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"translate", "complete", "request failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := services.Wrap(nil, "publish", "upload", "", nil)
	if !errors.Is(err, services.ErrExternalService) {
		t.Fatalf("expected default marker, got %v", err)
	}
}

func TestIsCostCap(t *testing.T) {
	err := services.Wrap(services.ErrCostCapExceeded, "orchestrator", "check", "cost cap exceeded", nil)
	if !services.IsCostCap(err) {
		t.Fatalf("expected cost cap classification for %v", err)
	}
	if services.IsCostCap(errors.New("other")) {
		t.Fatal("unexpected cost cap classification")
	}
}
