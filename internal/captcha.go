package internal

import (
	"context"
	"encoding/json"
	"log/slog"

	pkgerrs "github.com/snoowire/snoowire/pkg/errors"
	"github.com/snoowire/snoowire/pkg/types"
)

// submissionResult is the typed shape of a write response that may carry a
// captcha challenge. Decoded once per response and pattern-matched; the
// upstream nests it under a single "json" property.
type submissionResult struct {
	JSON struct {
		Captcha string          `json:"captcha"`
		Errors  [][]any         `json:"errors"`
		Data    json.RawMessage `json:"data"`
	} `json:"json"`
}

// challenged reports whether the submission was rejected for a captcha.
// A captcha identifier without errors means the identifier is remembered
// for the next submission but this one was accepted.
func (r *submissionResult) challenged() bool {
	return r.JSON.Captcha != "" && len(r.JSON.Errors) > 0
}

// CaptchaLoop wraps POST submissions that may be rejected with a captcha
// challenge. On rejection it asks the provider for an answer keyed by the
// challenge identifier, attaches iden/captcha fields, and resubmits. The
// identifier is remembered across submissions on the same loop.
type CaptchaLoop struct {
	transport *Transport
	provider  types.CaptchaProvider
	logger    *slog.Logger

	iden   string
	answer string
}

// NewCaptchaLoop builds a loop over the given transport. provider may be
// nil; a challenge then fails immediately.
func NewCaptchaLoop(transport *Transport, provider types.CaptchaProvider, logger *slog.Logger) *CaptchaLoop {
	return &CaptchaLoop{
		transport: transport,
		provider:  provider,
		logger:    logger,
	}
}

// Post submits the fields, resolving captcha challenges until the
// submission is accepted or the provider gives up. A provider returning no
// answer aborts with CaptchaError rather than looping.
func (l *CaptchaLoop) Post(ctx context.Context, rawURL string, fields types.Fields) (string, error) {
	fields = fields.Clone()
	if !fields.Has("api_type") {
		fields.Add("api_type", "json")
	}

	for {
		if l.iden != "" {
			fields.Set("iden", l.iden)
		}
		if l.answer != "" {
			fields.Set("captcha", l.answer)
		}

		body, err := l.transport.Post(ctx, rawURL, fields)
		if err != nil {
			return "", err
		}
		if body == "" {
			// The call was deferred after a connectivity failure.
			return "", nil
		}

		var result submissionResult
		if err := json.Unmarshal([]byte(body), &result); err != nil {
			// Not a submission envelope; the write was accepted.
			return body, nil
		}

		if result.JSON.Captcha != "" {
			l.iden = result.JSON.Captcha
		}

		if !result.challenged() {
			if len(result.JSON.Errors) > 0 {
				return "", &pkgerrs.APIError{Message: renderEnvelopeEntry(result.JSON.Errors[0])}
			}
			return body, nil
		}

		l.transport.Session().SetNeedsCaptcha(true)
		if l.logger != nil {
			l.logger.DebugContext(ctx, "submission rejected for captcha challenge", "iden", l.iden, "url", rawURL)
		}

		if l.provider == nil {
			return "", &pkgerrs.CaptchaError{Iden: l.iden}
		}
		answer, err := l.provider.Solve(ctx, l.iden)
		if err != nil {
			return "", err
		}
		if answer == "" {
			return "", &pkgerrs.CaptchaError{Iden: l.iden}
		}
		l.answer = answer
	}
}
