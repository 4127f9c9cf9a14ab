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
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeInvalidOperation = "INVALID_OPERATION"

	// Ingestion and query pipeline error codes
	ErrCodeExtraction        = "EXTRACTION_ERROR"
	ErrCodeChunking          = "CHUNKING_ERROR"
	ErrCodeProviderTransient = "PROVIDER_TRANSIENT"
	ErrCodeProviderFatal     = "PROVIDER_FATAL"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeParse             = "PARSE_ERROR"
	ErrCodeStreamCancelled   = "STREAM_CANCELLED"
)

// NewExtractionError marks a non-retryable extraction failure.
func NewExtractionError(message string, err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeExtraction, message, err)
}

// NewChunkingError marks input that produced no usable chunks.
func NewChunkingError(message string) *DomainError {
	return NewDomainError(ErrCodeChunking, message)
}

// NewProviderTransientError marks a provider failure worth retrying.
func NewProviderTransientError(message string, err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeProviderTransient, message, err)
}

// NewProviderFatalError marks a provider failure that retrying cannot fix.
func NewProviderFatalError(message string, err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeProviderFatal, message, err)
}

// NewStoreError marks a persistence failure.
func NewStoreError(message string, err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeStore, message, err)
}

// ErrorCode walks the error chain and returns the first DomainError code,
// or an empty string when no DomainError is present.
func ErrorCode(err error) string {
	for err != nil {
		if de, ok := err.(*DomainError); ok {
			return de.Code
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = unwrapper.Unwrap()
	}
	return ""
}

// IsTransient reports whether err is a retryable provider failure.
func IsTransient(err error) bool {
	return ErrorCode(err) == ErrCodeProviderTransient
}

// Validation errors
var (
	ErrInvalidSourceType     = NewDomainError(ErrCodeValidation, "invalid source type")
	ErrInvalidDocumentStatus = NewDomainError(ErrCodeValidation, "invalid document status")
	ErrMissingRequiredField  = NewDomainError(ErrCodeValidation, "missing required field")
)

// Not found errors
var ErrDocumentNotFound = NewDomainError(ErrCodeNotFound, "document not found")

// Invalid operation errors
var (
	ErrIllegalTransition = NewDomainError(ErrCodeInvalidOperation, "illegal document status transition")
	ErrAlreadyClaimed    = NewDomainError(ErrCodeInvalidOperation, "document already claimed for processing")
)
