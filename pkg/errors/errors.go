package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors shared by the cart engine packages. Wrap them with %w so
// HTTPStatus and Describe can classify the result.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInternal       = errors.New("internal error")
	ErrServiceUnavail = errors.New("service unavailable")
)

// kind ties a sentinel to its wire code, status and the message shown when
// the caller did not supply one.
type kind struct {
	sentinel error
	code     string
	status   int
	message  string
}

var (
	kindNotFound    = kind{ErrNotFound, "NOT_FOUND", http.StatusNotFound, "resource not found"}
	kindInvalid     = kind{ErrInvalidInput, "INVALID_INPUT", http.StatusBadRequest, ""}
	kindUnauthorize = kind{ErrUnauthorized, "UNAUTHORIZED", http.StatusUnauthorized, "unauthorized"}
	kindUnavailable = kind{ErrServiceUnavail, "SERVICE_UNAVAILABLE", http.StatusServiceUnavailable, "service temporarily unavailable"}
	kindInternal    = kind{ErrInternal, "INTERNAL_ERROR", http.StatusInternalServerError, "an internal error occurred"}
)

// kinds is matched in order; kindInternal is the fallback.
var kinds = []kind{kindNotFound, kindInvalid, kindUnauthorize, kindUnavailable}

// AppError is a structured error carrying the HTTP status it maps to.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func (k kind) build(message string, cause error) *AppError {
	if cause == nil {
		cause = k.sentinel
	}
	return &AppError{Code: k.code, Message: message, Status: k.status, Err: cause}
}

// NotFound reports that resource id does not exist.
func NotFound(resource, id string) *AppError {
	return kindNotFound.build(fmt.Sprintf("%s with id %s not found", resource, id), nil)
}

func InvalidInput(message string) *AppError { return kindInvalid.build(message, nil) }

func Unauthorized(message string) *AppError { return kindUnauthorize.build(message, nil) }

// ServiceUnavailable is returned when a dependency such as cart storage
// refused a write; the request may be retried.
func ServiceUnavailable(message string) *AppError { return kindUnavailable.build(message, nil) }

// Internal hides cause behind a generic message.
func Internal(cause error) *AppError { return kindInternal.build(kindInternal.message, cause) }

func classify(err error) kind {
	for _, k := range kinds {
		if errors.Is(err, k.sentinel) {
			return k
		}
	}
	return kindInternal
}

// HTTPStatus returns the HTTP status code for err.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return classify(err).status
}

// Describe returns the status, code and client-safe message for err. An
// AppError anywhere in the chain is reported as-is; bare sentinels get their
// canonical message, except invalid input which echoes err.
func Describe(err error) (status int, code, message string) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status, appErr.Code, appErr.Message
	}
	k := classify(err)
	message = k.message
	if message == "" {
		message = err.Error()
	}
	return k.status, k.code, message
}
