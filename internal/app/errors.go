package app

import "fmt"

// Error codes carried on the wire in DomainError.Code. Clients branch on the
// code, not the HTTP status, so these strings are part of the API contract.
const (
	codeValidation    = "VALIDATION_ERROR"
	codeNotAuthorized = "NOT_AUTHORIZED"
	codeSuspended     = "SUBMISSION_SUSPENDED"
	codeConflict      = "CONFLICT"
	codeUnavailable   = "COLLABORATOR_UNAVAILABLE"
	codeNotFound      = "NOT_FOUND"
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
