// Package apperr defines the typed error taxonomy shared by every layer of
// the orchestration core, so handlers can branch on error category instead
// of matching strings.
package apperr

import (
	"errors"
	"fmt"
)

// Category is the error taxonomy from the core's error-handling design.
type Category string

const (
	CategoryValidation    Category = "validation"
	CategoryTransient     Category = "transient"
	CategoryBusinessRule  Category = "business_rule"
	CategoryTimeout       Category = "timeout"
	CategoryPoisonMessage Category = "poison_message"
	CategoryFatal         Category = "fatal"
)

// Error is the common shape for every typed error the core returns.
type Error struct {
	Category  Category
	Code      string
	Message   string
	Details   map[string]any
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(cat Category, code, msg string, retryable bool, cause error) *Error {
	return &Error{Category: cat, Code: code, Message: msg, Retryable: retryable, Cause: cause}
}

// Validation wraps an envelope/schema/definition validation failure.
// Rejected at the boundary; never retried.
func Validation(code, msg string) *Error {
	return newErr(CategoryValidation, code, msg, false, nil)
}

func Validationf(code, format string, args ...any) *Error {
	return newErr(CategoryValidation, code, fmt.Sprintf(format, args...), false, nil)
}

// Transient wraps a bus/DB/KV dependency failure. Retried with bounded
// exponential backoff by the caller; surfaced as 503 or a requeued message
// once the retry budget is exhausted.
func Transient(code, msg string, cause error) *Error {
	return newErr(CategoryTransient, code, msg, true, cause)
}

// BusinessRule wraps a rule violation: terminal-state mutation, surface not
// bound, agent not registered, stage mismatch. 4xx to the caller, structured
// log, never retried.
func BusinessRule(code, msg string) *Error {
	return newErr(CategoryBusinessRule, code, msg, false, nil)
}

func BusinessRulef(code, format string, args ...any) *Error {
	return newErr(CategoryBusinessRule, code, fmt.Sprintf(format, args...), false, nil)
}

// Timeout wraps a per-task deadline exceeded. Retryable hints whether the
// owning task's max_retries budget still allows another attempt.
func Timeout(code, msg string, retryable bool) *Error {
	return newErr(CategoryTimeout, code, msg, retryable, nil)
}

// PoisonMessage wraps an envelope that parses but repeatedly fails
// application logic; routed to DLQ, ack'd to unblock the stream.
func PoisonMessage(code, msg string, cause error) *Error {
	return newErr(CategoryPoisonMessage, code, msg, false, cause)
}

// Fatal wraps an unrecoverable invariant violation (e.g. detected
// state-machine corruption). Logged CRITICAL by the caller; fails the
// owning workflow but never crashes the process.
func Fatal(code, msg string, cause error) *Error {
	return newErr(CategoryFatal, code, msg, false, cause)
}

// As is a thin convenience wrapper around errors.As for *Error.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// IsCategory reports whether err is an *Error of the given category.
func IsCategory(err error, cat Category) bool {
	e, ok := As(err)
	return ok && e.Category == cat
}

// Well-known codes referenced directly by spec.md scenarios and the HTTP
// surface.
const (
	CodeSurfaceNotBound     = "SURFACE_NOT_BOUND"
	CodeAgentUnknown        = "AGENT_TYPE_UNKNOWN"
	CodeDefinitionNotFound  = "DEFINITION_NOT_FOUND"
	CodeWorkflowNotFound    = "WORKFLOW_NOT_FOUND"
	CodeWorkflowTerminal    = "WORKFLOW_TERMINAL"
	CodeInvalidRetryStage   = "INVALID_RETRY_STAGE"
	CodeDuplicateDefinition = "DUPLICATE_DEFINITION"
	CodeCyclicDefinition    = "CYCLIC_DEFINITION"
	CodeTimeout             = "TIMEOUT"
	CodeStageMismatch       = "STAGE_MISMATCH"
	CodeBadHMAC             = "BAD_HMAC_SIGNATURE"
)

// HTTPBody is the exact `{error: {code, message, details?}}` response shape
// spec.md §7 requires for every HTTP error response.
type HTTPBody struct {
	Error HTTPBodyError `json:"error"`
}

type HTTPBodyError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ToHTTPBody renders any error into the wire shape, falling back to a
// generic internal-error code for errors that never went through apperr.
func ToHTTPBody(err error) HTTPBody {
	if e, ok := As(err); ok {
		return HTTPBody{Error: HTTPBodyError{Code: e.Code, Message: e.Message, Details: e.Details}}
	}
	return HTTPBody{Error: HTTPBodyError{Code: "INTERNAL_ERROR", Message: "an internal error occurred"}}
}

// HTTPStatus maps a category (and a few well-known codes) to the HTTP
// status spec.md §6's endpoint table expects.
func HTTPStatus(err error) int {
	e, ok := As(err)
	if !ok {
		return 500
	}
	switch e.Code {
	case CodeSurfaceNotBound:
		return 403
	case CodeDefinitionNotFound, CodeWorkflowNotFound:
		return 404
	case CodeWorkflowTerminal, CodeDuplicateDefinition:
		return 409
	case CodeBadHMAC:
		return 401
	}
	switch e.Category {
	case CategoryValidation, CategoryBusinessRule, CategoryTimeout:
		return 400
	case CategoryTransient:
		return 503
	default:
		return 500
	}
}
