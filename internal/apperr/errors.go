package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is the stable, machine-readable error category returned to API clients.
type Code string

const (
	CodeValidation    Code = "validation_error"
	CodeConfiguration Code = "configuration_error"
	CodeProvider      Code = "provider_error"
	CodeNotFound      Code = "not_found"
	CodeForbidden     Code = "forbidden"
	CodeInternal      Code = "internal_error"
)

// ValidationError reports a missing or malformed required input. Never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// ConfigurationError reports missing operator configuration (e.g. provider credentials).
type ConfigurationError struct {
	Setting string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s is not configured", e.Setting)
}

// ProviderError is returned when the telephony provider rejects a request.
// StatusCode is the provider's HTTP status; Code is the provider-specific error code (0 if unknown).
type ProviderError struct {
	StatusCode int
	Code       int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("provider: status %d code %d: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("provider: status %d: %s", e.StatusCode, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NotFoundError means the referenced resource does not exist (or is already gone).
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// ForbiddenError is returned when a request targets something outside policy.
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string { return "forbidden: " + e.Reason }

func Validation(field, msg string) error { return &ValidationError{Field: field, Message: msg} }

func Configuration(setting string) error { return &ConfigurationError{Setting: setting} }

func Forbidden(reason string) error { return &ForbiddenError{Reason: reason} }

func NotFound(resource, id string) error { return &NotFoundError{Resource: resource, ID: id} }

// IsNotFound reports whether err is (or wraps) a NotFoundError, or a ProviderError with HTTP 404.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return true
	}
	var pe *ProviderError
	return errors.As(err, &pe) && pe.StatusCode == http.StatusNotFound
}

// HTTPStatus maps an error to the status code client-facing endpoints respond with.
func HTTPStatus(err error) int {
	var (
		ve *ValidationError
		ce *ConfigurationError
		pe *ProviderError
		nf *NotFoundError
		fe *ForbiddenError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &ce):
		return http.StatusInternalServerError
	case errors.As(err, &fe):
		return http.StatusForbidden
	case errors.As(err, &nf):
		return http.StatusNotFound
	case errors.As(err, &pe):
		if pe.StatusCode >= 400 && pe.StatusCode < 600 {
			return pe.StatusCode
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf returns the API error code for err.
func CodeOf(err error) Code {
	var (
		ve *ValidationError
		ce *ConfigurationError
		pe *ProviderError
		nf *NotFoundError
		fe *ForbiddenError
	)
	switch {
	case errors.As(err, &ve):
		return CodeValidation
	case errors.As(err, &ce):
		return CodeConfiguration
	case errors.As(err, &fe):
		return CodeForbidden
	case errors.As(err, &nf):
		return CodeNotFound
	case errors.As(err, &pe):
		return CodeProvider
	default:
		return CodeInternal
	}
}
