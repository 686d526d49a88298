// Package core provides the vendor-neutral data model shared by every provider adapter.
package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType represents the type of error that occurred
type ErrorType string

const (
	// ErrorTypeMalformedInput indicates a request the target wire format cannot represent
	ErrorTypeMalformedInput ErrorType = "malformed_input"
	// ErrorTypeMissingCredential indicates a provider is missing required auth configuration
	ErrorTypeMissingCredential ErrorType = "missing_credential"
	// ErrorTypeTransport indicates a network or HTTP layer failure
	ErrorTypeTransport ErrorType = "transport_error"
	// ErrorTypeUpstream indicates the vendor reported an application-level error
	ErrorTypeUpstream ErrorType = "upstream_error"
	// ErrorTypeInvalidResponse indicates a vendor body the parser cannot make sense of
	ErrorTypeInvalidResponse ErrorType = "invalid_response"
	// ErrorTypeMalformedToolArguments indicates assembled tool arguments are not valid JSON
	ErrorTypeMalformedToolArguments ErrorType = "malformed_tool_arguments"
	// ErrorTypeUnknownModel indicates no configured model matches the requested ID
	ErrorTypeUnknownModel ErrorType = "unknown_model"
	// ErrorTypeUnknownProvider indicates a provider type with no registered adapter
	ErrorTypeUnknownProvider ErrorType = "unknown_provider"
	// ErrorTypeCapabilityUnavailable indicates no model of the provider has the required capability
	ErrorTypeCapabilityUnavailable ErrorType = "capability_unavailable"
	// ErrorTypeInputTooLong indicates the pre-flight token budget check failed
	ErrorTypeInputTooLong ErrorType = "input_too_long"
)

// GatewayError is the base error type for all gateway errors
type GatewayError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	// Code is the vendor error code, when the vendor reports one.
	Code string `json:"code,omitempty"`
	// Original error for debugging
	Err error `json:"-"`
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Type, msg)
	}
	return fmt.Sprintf("%s: %s", e.Type, msg)
}

// Unwrap implements the error unwrapping interface
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *GatewayError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeMalformedInput, ErrorTypeInputTooLong, ErrorTypeCapabilityUnavailable:
		return http.StatusBadRequest
	case ErrorTypeMissingCredential:
		return http.StatusUnauthorized
	case ErrorTypeUnknownModel, ErrorTypeUnknownProvider:
		return http.StatusNotFound
	case ErrorTypeUpstream, ErrorTypeInvalidResponse, ErrorTypeMalformedToolArguments, ErrorTypeTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// IsType reports whether err wraps a *GatewayError of the given type.
func IsType(err error, t ErrorType) bool {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Type == t
	}
	return false
}

// NewMalformedInputError creates an error for content the vendor cannot represent
func NewMalformedInputError(provider, message string) *GatewayError {
	return &GatewayError{
		Type:     ErrorTypeMalformedInput,
		Message:  message,
		Provider: provider,
	}
}

// NewNetworkImagesError lists every network-hosted image URL, in order, for
// vendors that only accept inline base64 images.
func NewNetworkImagesError(provider string, urls []string) *GatewayError {
	return NewMalformedInputError(provider,
		"the model does not support network images: "+strings.Join(urls, ", "))
}

// NewMissingCredentialError creates an error for a missing credential
func NewMissingCredentialError(provider, field string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeMissingCredential,
		Message:    fmt.Sprintf("missing %s", field),
		StatusCode: http.StatusUnauthorized,
		Provider:   provider,
	}
}

// NewTransportError creates a network/HTTP layer error. status is 0 when no
// response was received.
func NewTransportError(provider string, status int, message string, err error) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeTransport,
		Message:    message,
		StatusCode: status,
		Provider:   provider,
		Err:        err,
	}
}

// NewUpstreamError creates an error for a vendor-reported failure
func NewUpstreamError(provider string, status int, code, message string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeUpstream,
		Message:    message,
		StatusCode: status,
		Provider:   provider,
		Code:       code,
	}
}

// NewInvalidResponseError creates an error for an unparseable vendor body
func NewInvalidResponseError(provider, message string, err error) *GatewayError {
	return &GatewayError{
		Type:     ErrorTypeInvalidResponse,
		Message:  message,
		Provider: provider,
		Err:      err,
	}
}

// NewMalformedToolArgumentsError creates an error for tool arguments that do not parse as JSON
func NewMalformedToolArgumentsError(provider, name string, err error) *GatewayError {
	return &GatewayError{
		Type:     ErrorTypeMalformedToolArguments,
		Message:  fmt.Sprintf("tool call %q has malformed arguments", name),
		Provider: provider,
		Err:      err,
	}
}

// NewUnknownModelError creates an error for an unresolvable model ID
func NewUnknownModelError(id string) *GatewayError {
	return &GatewayError{
		Type:    ErrorTypeUnknownModel,
		Message: fmt.Sprintf("unknown model %q", id),
	}
}

// NewUnknownProviderError creates an error for an unregistered provider type
func NewUnknownProviderError(providerType string) *GatewayError {
	return &GatewayError{
		Type:    ErrorTypeUnknownProvider,
		Message: fmt.Sprintf("unknown provider type %q", providerType),
	}
}

// NewCapabilityUnavailableError creates an error when no model of a provider has the capabilities
func NewCapabilityUnavailableError(provider string, caps Capability) *GatewayError {
	return &GatewayError{
		Type:     ErrorTypeCapabilityUnavailable,
		Message:  fmt.Sprintf("no model supports %s", caps),
		Provider: provider,
	}
}

// NewInputTooLongError creates an error for a failed token budget check
func NewInputTooLongError(model string, tokens, limit int) *GatewayError {
	return &GatewayError{
		Type:    ErrorTypeInputTooLong,
		Message: fmt.Sprintf("%s: input has %d tokens, exceeding the maximum of %d", model, tokens, limit),
	}
}
