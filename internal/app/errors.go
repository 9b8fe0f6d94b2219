package app

import (
	"fmt"
	"net/http"

	"taskflow/api/internal/workflow"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

const (
	CodeNotFound          = "NOT_FOUND"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeForbidden         = "FORBIDDEN"
	CodeValidation        = "VALIDATION_ERROR"
	CodeConflict          = "CONFLICT"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeInvalidBody       = "INVALID_BODY"
	CodeServerError       = "SERVER_ERROR"
)

func errNotFound(what, id string) *DomainError {
	return domainError(http.StatusNotFound, CodeNotFound, fmt.Sprintf("%s not found", what), map[string]any{"id": id})
}

// errInvalidTransition lists the states reachable from the current one so
// clients can offer them.
func errInvalidTransition(reason string, kind workflow.Kind, from, to workflow.State) *DomainError {
	return domainError(http.StatusBadRequest, CodeInvalidTransition, reason, map[string]any{
		"from":    from,
		"to":      to,
		"allowed": workflow.Targets(kind, from),
	})
}

func errForbidden(reason string) *DomainError {
	return domainError(http.StatusForbidden, CodeForbidden, reason, nil)
}

func errValidation(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, CodeValidation, message, details)
}

func errConflict(kind workflow.Kind, id string) *DomainError {
	return domainError(http.StatusConflict, CodeConflict, fmt.Sprintf("%s was modified concurrently, reload and retry", kind), map[string]any{"id": id})
}

func errUnauthorized(message string) *DomainError {
	return domainError(http.StatusUnauthorized, CodeUnauthorized, message, nil)
}

func errInvalidBody(message string) *DomainError {
	return domainError(http.StatusBadRequest, CodeInvalidBody, message, nil)
}

// denial turns a negative validator decision into the matching DomainError.
func denial(decision workflow.Decision, kind workflow.Kind, from, to workflow.State) *DomainError {
	if decision.Code == workflow.DenyInvalidTransition {
		return errInvalidTransition(decision.Reason, kind, from, to)
	}
	return errForbidden(decision.Reason)
}
