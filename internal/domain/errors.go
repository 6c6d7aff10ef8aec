package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation           = "VALIDATION_ERROR"
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeParse                = "PARSE_ERROR"
	ErrCodeIndexVersionMismatch = "INDEX_VERSION_MISMATCH"
	ErrCodeUnparsableOutput     = "UNPARSABLE_OUTPUT"
	ErrCodeValidationRejected   = "VALIDATION_REJECTED"
	ErrCodeRouterBusy           = "ROUTER_BUSY"
	ErrCodeExecutionFailed      = "EXECUTION_FAILED"
	ErrCodeExecutionPartial     = "EXECUTION_PARTIAL"
	ErrCodeInternalError        = "INTERNAL_ERROR"
	ErrCodeInvalidOperation     = "INVALID_OPERATION"
)

// Ingestion errors
var (
	ErrOptionOutsideSection = NewDomainError(ErrCodeParse, "option line outside any config section")
	ErrMalformedSection     = NewDomainError(ErrCodeParse, "malformed config section header")
	ErrUnrecognizedLine     = NewDomainError(ErrCodeParse, "unrecognized line in configuration file")
)

// Retrieval errors
var (
	ErrIndexVersionMismatch = NewDomainError(ErrCodeIndexVersionMismatch, "embedding version does not match index version")
)

// Generation errors
var (
	ErrUnparsableOutput = NewDomainError(ErrCodeUnparsableOutput, "llm output contains unrecognized command lines")
	ErrEmptyScript      = NewDomainError(ErrCodeUnparsableOutput, "llm output contains no uci commands")
)

// Validation errors
var (
	ErrInvalidAnnotationSource = NewDomainError(ErrCodeValidation, "invalid annotation source")
	ErrMissingRequiredField    = NewDomainError(ErrCodeValidation, "missing required field")
)

// Not found errors
var (
	ErrChunkNotFound      = NewDomainError(ErrCodeNotFound, "config chunk not found")
	ErrAnnotationNotFound = NewDomainError(ErrCodeNotFound, "annotation not found")
	ErrScriptNotFound     = NewDomainError(ErrCodeNotFound, "script not found")
)

// Execution errors
var (
	ErrRouterBusy = NewDomainError(ErrCodeRouterBusy, "another execution is in flight for this router")
	// ErrScriptNotApproved guards the executor: only approved scripts run.
	ErrScriptNotApproved = NewDomainError(ErrCodeInvalidOperation, "script is not approved for execution")
	ErrScriptAlreadyRun  = NewDomainError(ErrCodeInvalidOperation, "script has already been executed")
)

// NewValidationRejected wraps a policy rejection reason.
func NewValidationRejected(reason string) *DomainError {
	return NewDomainError(ErrCodeValidationRejected, reason)
}
