// Package errors provides the structured error type used across artcache, with codes, categories and context.
package errors

import (
	"encoding/json"
	stderr "errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for artwork operations.
type ErrorCode string

// Error code constants grouped by category.
const (
	// Configuration
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigSave       ErrorCode = "CONFIG_SAVE"

	// Network and remote lookup
	ErrCodeNetworkError    ErrorCode = "NETWORK_ERROR"
	ErrCodeNetworkTimeout  ErrorCode = "NETWORK_TIMEOUT"
	ErrCodeCircuitOpen     ErrorCode = "NETWORK_CIRCUIT_OPEN"
	ErrCodeArtUnavailable  ErrorCode = "ART_UNAVAILABLE"
	ErrCodeArtTooLarge     ErrorCode = "ART_TOO_LARGE"
	ErrCodeProviderFailure ErrorCode = "ART_PROVIDER_FAILURE"

	// Storage
	ErrCodeStorageRead  ErrorCode = "STORAGE_READ"
	ErrCodeStorageWrite ErrorCode = "STORAGE_WRITE"
	ErrCodeStorageIndex ErrorCode = "STORAGE_INDEX"
	ErrCodeChecksum     ErrorCode = "STORAGE_CHECKSUM"

	// Image processing
	ErrCodeDecodeFailed ErrorCode = "IMAGE_DECODE_FAILED"
	ErrCodeEncodeFailed ErrorCode = "IMAGE_ENCODE_FAILED"
	ErrCodeNotAnImage   ErrorCode = "IMAGE_NOT_AN_IMAGE"

	// Resources
	ErrCodeWorkerBusy    ErrorCode = "WORKER_BUSY"
	ErrCodeCacheDisabled ErrorCode = "CACHE_DISABLED"

	// State
	ErrCodeNotInitialized   ErrorCode = "NOT_INITIALIZED"
	ErrCodeAlreadyStarted   ErrorCode = "ALREADY_STARTED"
	ErrCodeComponentStopped ErrorCode = "COMPONENT_STOPPED"

	// Operations
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"
	ErrCodeOperationFailed   ErrorCode = "OPERATION_FAILED"
	ErrCodeNotFound          ErrorCode = "OPERATION_NOT_FOUND"

	// Internal
	ErrCodeInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrCodePanicRecovered ErrorCode = "PANIC_RECOVERED"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryNetwork       ErrorCategory = "network"
	CategoryStorage       ErrorCategory = "storage"
	CategoryImage         ErrorCategory = "image"
	CategoryResource      ErrorCategory = "resource"
	CategoryState         ErrorCategory = "state"
	CategoryOperation     ErrorCategory = "operation"
	CategoryInternal      ErrorCategory = "internal"
)

// ArtError represents a structured error with context and metadata.
type ArtError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`
	Key       string `json:"key,omitempty"`

	// Transient errors may succeed when the same key is requested again later
	Transient bool `json:"transient"`

	Stack string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *ArtError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *ArtError) Unwrap() error {
	return e.Cause
}

// Is matches any *ArtError carrying the same code.
func (e *ArtError) Is(target error) bool {
	if artErr, ok := target.(*ArtError); ok {
		return e.Code == artErr.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *ArtError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Key != "" {
		parts = append(parts, fmt.Sprintf("Key=%q", e.Key))
	}
	if e.Transient {
		parts = append(parts, "Transient=true")
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("ArtError{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON string.
func (e *ArtError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates a new error with default values for its code.
func NewError(code ErrorCode, message string) *ArtError {
	return &ArtError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
		Context:   make(map[string]string),
		Transient: IsTransientByDefault(code),
	}
}

// Wrap creates a new error with code and message around cause.
func Wrap(cause error, code ErrorCode, message string) *ArtError {
	return NewError(code, message).WithCause(cause)
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG") || strings.HasPrefix(codeStr, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "NETWORK_") || strings.HasPrefix(codeStr, "ART_"):
		return CategoryNetwork
	case strings.HasPrefix(codeStr, "STORAGE_"):
		return CategoryStorage
	case strings.HasPrefix(codeStr, "IMAGE_"):
		return CategoryImage
	case strings.HasPrefix(codeStr, "WORKER_") || strings.HasPrefix(codeStr, "CACHE_"):
		return CategoryResource
	case strings.HasPrefix(codeStr, "NOT_INITIALIZED") || strings.HasPrefix(codeStr, "ALREADY_") ||
		strings.HasPrefix(codeStr, "COMPONENT_"):
		return CategoryState
	case strings.HasPrefix(codeStr, "OPERATION_"):
		return CategoryOperation
	default:
		return CategoryInternal
	}
}

// IsTransientByDefault reports whether a code describes a condition that may clear on its own.
func IsTransientByDefault(code ErrorCode) bool {
	transientCodes := map[ErrorCode]bool{
		ErrCodeNetworkError:     true,
		ErrCodeNetworkTimeout:   true,
		ErrCodeCircuitOpen:      true,
		ErrCodeProviderFailure:  true,
		ErrCodeStorageRead:      true,
		ErrCodeStorageWrite:     true,
		ErrCodeWorkerBusy:       true,
		ErrCodeInternalError:    true,
		ErrCodeOperationFailed:  true,
		ErrCodeComponentStopped: false,
	}
	return transientCodes[code]
}

// CodeOf returns the code of the first *ArtError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var artErr *ArtError
	if stderr.As(err, &artErr) {
		return artErr.Code
	}
	return ""
}

// IsCode reports whether err carries code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsCanceled reports whether err describes a cancelled operation.
func IsCanceled(err error) bool {
	return IsCode(err, ErrCodeOperationCanceled)
}

// CaptureStack captures the current stack trace for debugging.
func CaptureStack(skip int) string {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "errors.go") {
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// WithContext adds contextual information to an error
func (e *ArtError) WithContext(key, value string) *ArtError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error
func (e *ArtError) WithDetail(key string, value interface{}) *ArtError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *ArtError) WithComponent(component string) *ArtError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *ArtError) WithOperation(operation string) *ArtError {
	e.Operation = operation
	return e
}

// WithKey sets the cache key the error relates to
func (e *ArtError) WithKey(key string) *ArtError {
	e.Key = key
	return e
}

// WithCause sets the underlying cause
func (e *ArtError) WithCause(cause error) *ArtError {
	e.Cause = cause
	return e
}

// WithStack captures the current stack trace
func (e *ArtError) WithStack() *ArtError {
	e.Stack = CaptureStack(2)
	return e
}
