// Package errors defines the error types surfaced by the snoowire client.
//
// The transport maps every response it cannot hand back as a success onto
// exactly one of these types, so callers can switch on the concrete type
// instead of inspecting status codes or response bodies.
package errors

import (
	"fmt"
	"strings"
)

// ConfigError indicates a problem with the client configuration.
type ConfigError struct {
	// Field contains the name of the configuration field that caused the error
	Field string
	// Message contains the detailed error message
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

// AuthError indicates a credential failure: a failed login, grant exchange,
// token refresh, or revoke.
type AuthError struct {
	// StatusCode is the HTTP status code (if from an HTTP response)
	StatusCode int
	// Body contains the raw response body, which may hold more details
	Body string
	// Message contains the detailed error message
	Message string
	// Err contains the underlying error if available
	Err error
}

func (e *AuthError) Error() string {
	parts := []string{"auth error"}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status code %d", e.StatusCode))
	}
	if e.Body != "" {
		parts = append(parts, fmt.Sprintf("body: %q", e.Body))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Err != nil {
		parts = append(parts, fmt.Sprintf("err: %v", e.Err))
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return parts[0] + ": " + strings.Join(parts[1:], ", ")
}

func (e *AuthError) Unwrap() error { return e.Err }

// APIError carries an application-level error message extracted from the
// upstream "errors" envelope. The upstream attaches these to responses of
// any status, including 200s. Never retried.
type APIError struct {
	// Message is the rendered first entry of the errors array
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s", e.Message)
}

// NotFoundError indicates the resource does not exist. The transport retries
// a 404 once before surfacing this, because the upstream occasionally 404s
// spuriously.
type NotFoundError struct {
	URL string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s was not found", e.URL)
}

// ForbiddenError indicates access was denied. Never retried.
type ForbiddenError struct {
	URL string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("%s forbidden", e.URL)
}

// EmptyResponseError indicates the upstream returned a success status with an
// empty or empty-object body where a payload was required.
type EmptyResponseError struct {
	URL string
}

func (e *EmptyResponseError) Error() string {
	return fmt.Sprintf("body was empty but no error was present for %s", e.URL)
}

// TransientError indicates a retryable server failure that survived the
// retry budget.
type TransientError struct {
	// StatusCode is the last status observed, 0 for the HTML interstitial page
	StatusCode int
}

func (e *TransientError) Error() string {
	if e.StatusCode == 0 {
		return "transient failure: interstitial error page"
	}
	return fmt.Sprintf("transient failure: status %d", e.StatusCode)
}

// CaptchaError indicates a submission required a captcha answer that the
// provider could not supply. Unrecoverable; never retried silently.
type CaptchaError struct {
	// Iden is the challenge identifier issued by the upstream
	Iden string
}

func (e *CaptchaError) Error() string {
	if e.Iden != "" {
		return fmt.Sprintf("captcha challenge %s failed", e.Iden)
	}
	return "captcha challenge failed"
}

// StateError indicates an operation was attempted when the client is not ready.
type StateError struct {
	// Operation is the name of the operation that was attempted
	Operation string
	// Message contains the detailed error message
	Message string
}

func (e *StateError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("state error during %s: %s", e.Operation, e.Message)
	}
	return fmt.Sprintf("state error: %s", e.Message)
}

// RequestError indicates a problem making an API request: a request that
// could not be built or a connectivity failure that was not deferred.
type RequestError struct {
	// Operation is the name of the API operation that failed
	Operation string
	// URL is the URL that was being accessed
	URL string
	// Err contains the underlying error if available
	Err error
}

func (e *RequestError) Error() string {
	switch {
	case e.Operation != "" && e.URL != "":
		return fmt.Sprintf("request error during %s to %s: %v", e.Operation, e.URL, e.Err)
	case e.Operation != "":
		return fmt.Sprintf("request error during %s: %v", e.Operation, e.Err)
	default:
		return fmt.Sprintf("request error: %v", e.Err)
	}
}

func (e *RequestError) Unwrap() error { return e.Err }

// ParseError indicates a problem decoding an API response.
type ParseError struct {
	// Operation is the name of the API operation where parsing failed
	Operation string
	// Err contains the underlying error if available
	Err error
}

func (e *ParseError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("parse error during %s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("parse error: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
