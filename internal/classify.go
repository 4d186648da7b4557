package internal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	pkgerrs "github.com/snoowire/snoowire/pkg/errors"
)

// Outcome is the classifier's verdict on a raw response. Callers never see
// raw status codes beyond this taxonomy.
type Outcome int

const (
	// OutcomeSuccess carries a usable body.
	OutcomeSuccess Outcome = iota
	// OutcomeAppError is an application-level error envelope; never retried.
	OutcomeAppError
	// OutcomeNotFound is retried once before being surfaced.
	OutcomeNotFound
	// OutcomeForbidden is surfaced immediately.
	OutcomeForbidden
	// OutcomeMalformed is a success status with an empty or sentinel body.
	OutcomeMalformed
	// OutcomeTransient is retried up to the transport's attempt budget.
	OutcomeTransient
)

// interstitial markers of the upstream's "please try again" HTML error page,
// which arrives with a success status. Must match exactly for compatibility.
const (
	interstitialPrefix = "<!doctype html><html><title>"
	interstitialSuffix = "try again and hopefully we will be fast enough this time."
)

// Result is a classified response.
type Result struct {
	Outcome Outcome
	Status  int
	Body    string
	// Message is the rendered upstream error for OutcomeAppError.
	Message string
}

// Classify inspects a status and body and decides how the transport should
// treat the response. The error-envelope probe runs before the success check
// because the upstream attaches app-level errors to 200 responses.
func Classify(status int, body string) Result {
	if strings.HasPrefix(body, interstitialPrefix) && strings.HasSuffix(strings.TrimSpace(body), interstitialSuffix) {
		return Result{Outcome: OutcomeTransient, Body: body}
	}

	if msg, ok := extractEnvelopeError(body); ok {
		return Result{Outcome: OutcomeAppError, Status: status, Body: body, Message: msg}
	}

	if status >= 200 && status < 300 {
		if isEmptyBody(body) {
			return Result{Outcome: OutcomeMalformed, Status: status, Body: body}
		}
		return Result{Outcome: OutcomeSuccess, Status: status, Body: body}
	}

	switch status {
	case http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		http.StatusBadRequest:
		return Result{Outcome: OutcomeTransient, Status: status, Body: body}
	case http.StatusNotFound:
		return Result{Outcome: OutcomeNotFound, Status: status, Body: body}
	case http.StatusForbidden:
		return Result{Outcome: OutcomeForbidden, Status: status, Body: body}
	}

	// Anything else is surfaced as a terminal upstream failure.
	return Result{
		Outcome: OutcomeAppError,
		Status:  status,
		Body:    body,
		Message: fmt.Sprintf("request failed with status %d", status),
	}
}

// Err maps a non-success result onto the exported error taxonomy. url names
// the resource for the error message only.
func (r Result) Err(url string) error {
	switch r.Outcome {
	case OutcomeSuccess:
		return nil
	case OutcomeAppError:
		return &pkgerrs.APIError{Message: r.Message}
	case OutcomeNotFound:
		return &pkgerrs.NotFoundError{URL: url}
	case OutcomeForbidden:
		return &pkgerrs.ForbiddenError{URL: url}
	case OutcomeMalformed:
		return &pkgerrs.EmptyResponseError{URL: url}
	default:
		return &pkgerrs.TransientError{StatusCode: r.Status}
	}
}

// isEmptyBody reports whether the body is one of the empty-object sentinels
// the upstream uses in place of actual content.
func isEmptyBody(body string) bool {
	switch strings.TrimSpace(body) {
	case "", "{}", `"{}"`:
		return true
	}
	return false
}

// errorEnvelope is the upstream's app-level error shape. Entries are arrays
// like ["RATELIMIT", "you are doing that too much", "ratelimit"].
type errorEnvelope struct {
	Errors [][]any `json:"errors"`
}

// extractEnvelopeError renders the first entry of an "errors" array, if the
// body carries one. Decode failures here are swallowed deliberately: the
// probe is a quirk-shape guess, and a body that fails it is simply not an
// error envelope. The caller's own decode of the outer response is never
// masked by this.
func extractEnvelopeError(body string) (string, bool) {
	if !strings.Contains(body, "errors") {
		return "", false
	}

	var envelope errorEnvelope
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		return "", false
	}
	if len(envelope.Errors) == 0 || len(envelope.Errors[0]) == 0 {
		return "", false
	}

	return renderEnvelopeEntry(envelope.Errors[0]), true
}

// renderEnvelopeEntry flattens one error entry into a readable message.
func renderEnvelopeEntry(entry []any) string {
	parts := make([]string, 0, len(entry))
	for _, el := range entry {
		if el == nil {
			continue
		}
		parts = append(parts, fmt.Sprint(el))
	}
	return strings.Join(parts, ": ")
}
