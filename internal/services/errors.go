package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrGateConflict       = errors.New("gate conflict")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrExternalService    = errors.New("external service error")
	ErrCostCapExceeded    = errors.New("cost cap exceeded")
	ErrIO                 = errors.New("io error")
	ErrValidation         = errors.New("validation error")
	ErrConfiguration      = errors.New("configuration error")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrExternalService
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsCostCap reports whether an error carries the cost-cap marker. The
// orchestrator uses this to pick COST_LIMIT over FAILED as the terminal status.
func IsCostCap(err error) bool {
	return errors.Is(err, ErrCostCapExceeded)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
