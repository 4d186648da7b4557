package internal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	pkgerrs "github.com/snoowire/snoowire/pkg/errors"
	"github.com/snoowire/snoowire/pkg/types"
)

const (
	// maxGetAttempts bounds retries of transient failures on reads.
	maxGetAttempts = 5
	// maxNotFoundAttempts allows one spurious-404 retry before surfacing.
	maxNotFoundAttempts = 2

	initialRetryInterval = 500 * time.Millisecond
	maxRetryInterval     = 15 * time.Second

	progressChunkSize = 32 * 1024
)

// Transport turns a logical API call into zero or more physical network
// calls. Every attempt acquires the gate and re-attaches credentials, so a
// mid-retry token refresh is picked up. Read retries are an explicit bounded
// loop; mutating calls are single-shot except for the captcha loop layered
// on top.
type Transport struct {
	client  *http.Client
	gate    *Gate
	session *Session
	sink    types.DeferralSink
	logger  *slog.Logger
}

// NewTransport assembles a transport. sink may be nil, in which case
// connectivity failures on mutating calls are surfaced instead of deferred.
func NewTransport(httpClient *http.Client, gate *Gate, session *Session, sink types.DeferralSink, logger *slog.Logger) *Transport {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Transport{
		client:  httpClient,
		gate:    gate,
		session: session,
		sink:    sink,
		logger:  logger,
	}
}

// Session returns the credential session the transport applies to calls.
func (t *Transport) Session() *Session {
	return t.session
}

// Get issues a read and retries transient failures by re-issuing the
// identical request. A 404 is retried once, then surfaced as NotFoundError;
// 403 is surfaced immediately. Connectivity failures on reads are surfaced,
// never deferred. body is an optional form payload some listing endpoints
// accept on GET.
func (t *Transport) Get(ctx context.Context, rawURL string, progress types.ProgressFunc, body types.Fields) (string, error) {
	notFoundSeen := 0
	attempt := 0

	operation := func() (string, error) {
		attempt++
		res, err := t.attempt(ctx, http.MethodGet, rawURL, body, progress)
		if err != nil {
			// Gate cancellation, refresh failure, or a network error:
			// none of these are retried for reads.
			return "", backoff.Permanent(t.wrapSendError("Get", rawURL, err))
		}

		switch res.Outcome {
		case OutcomeSuccess:
			return res.Body, nil
		case OutcomeTransient:
			if t.logger != nil {
				t.logger.DebugContext(ctx, "retrying transient failure",
					"url", rawURL, "status", res.Status, "attempt", attempt)
			}
			return "", res.Err(rawURL)
		case OutcomeNotFound:
			notFoundSeen++
			if notFoundSeen < maxNotFoundAttempts {
				return "", res.Err(rawURL)
			}
			return "", backoff.Permanent(res.Err(rawURL))
		default:
			return "", backoff.Permanent(res.Err(rawURL))
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialRetryInterval
	bo.MaxInterval = maxRetryInterval

	return backoff.RetryWithData(operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, maxGetAttempts-1), ctx))
}

// Post submits a mutating call. See Send.
func (t *Transport) Post(ctx context.Context, rawURL string, fields types.Fields) (string, error) {
	return t.Send(ctx, http.MethodPost, rawURL, fields)
}

// Put submits a mutating call. See Send.
func (t *Transport) Put(ctx context.Context, rawURL string, fields types.Fields) (string, error) {
	return t.Send(ctx, http.MethodPut, rawURL, fields)
}

// Delete submits a mutating call. See Send.
func (t *Transport) Delete(ctx context.Context, rawURL string, fields types.Fields) (string, error) {
	return t.Send(ctx, http.MethodDelete, rawURL, fields)
}

// Send issues a single-shot mutating call. On a connectivity-class failure
// the call is handed to the deferral sink and returns without error,
// preserving the write intent for a later replay; every other failure class
// is surfaced immediately. Mutations are never retried automatically here;
// idempotency is not assumed.
func (t *Transport) Send(ctx context.Context, verb, rawURL string, fields types.Fields) (string, error) {
	res, err := t.attempt(ctx, verb, rawURL, fields, nil)
	if err != nil {
		if t.sink != nil && isConnectivityError(ctx, err) {
			if t.logger != nil {
				t.logger.DebugContext(ctx, "deferring mutating call after connectivity failure",
					"verb", verb, "url", rawURL)
			}
			t.sink.Defer(types.DeferredCall{Fields: fields.Clone(), URL: rawURL, Verb: verb})
			return "", nil
		}
		return "", t.wrapSendError(verb, rawURL, err)
	}

	switch res.Outcome {
	case OutcomeSuccess:
		return res.Body, nil
	case OutcomeMalformed:
		// Write endpoints acknowledge with an empty-object body; there is
		// nothing for the caller to parse.
		return "", nil
	default:
		return "", res.Err(rawURL)
	}
}

// Replay re-submits a deferred call through the normal send path, so it is
// subject to the gate, credentials, and deferral logic like a fresh call.
func (t *Transport) Replay(ctx context.Context, call types.DeferredCall) error {
	_, err := t.Send(ctx, call.Verb, call.URL, call.Fields)
	return err
}

// attempt performs one physical request: gate, refresh, attach, send, read,
// classify. The returned error is nil whenever a classified Result exists.
func (t *Transport) attempt(ctx context.Context, method, rawURL string, fields types.Fields, progress types.ProgressFunc) (Result, error) {
	if err := t.gate.Acquire(ctx); err != nil {
		return Result{}, err
	}

	if err := t.session.RefreshIfNeeded(ctx); err != nil {
		return Result{}, err
	}

	var bodyReader io.Reader
	if len(fields) > 0 {
		bodyReader = strings.NewReader(fields.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
	if err != nil {
		return Result{}, err
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	t.session.Attach(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	t.applyRateHeaders(resp)

	body, err := readBody(resp, progress)
	if err != nil {
		return Result{}, err
	}

	return Classify(resp.StatusCode, string(body)), nil
}

func (t *Transport) wrapSendError(operation, rawURL string, err error) error {
	var authErr *pkgerrs.AuthError
	if errors.As(err, &authErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &pkgerrs.RequestError{Operation: operation, URL: rawURL, Err: err}
}

// applyRateHeaders feeds server-directed delays into the gate so every
// caller backs off, not just the one that saw the header.
func (t *Transport) applyRateHeaders(resp *http.Response) {
	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.ParseFloat(retryAfter, 64); err == nil && seconds > 0 {
			t.gate.DeferFor(time.Duration(seconds * float64(time.Second)))
		}
	}

	remainingHeader := resp.Header.Get("X-Ratelimit-Remaining")
	resetHeader := resp.Header.Get("X-Ratelimit-Reset")
	if remainingHeader == "" || resetHeader == "" {
		return
	}

	remaining, errRemaining := strconv.ParseFloat(remainingHeader, 64)
	resetSeconds, errReset := strconv.ParseFloat(resetHeader, 64)
	if errRemaining != nil || errReset != nil || resetSeconds <= 0 {
		return
	}

	if remaining <= 1 {
		t.gate.DeferFor(time.Duration(resetSeconds * float64(time.Second)))
	}
}

// isConnectivityError reports whether a request failed before a response
// could be classified, for reasons other than cancellation. Only these
// failures are eligible for deferral.
func isConnectivityError(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var authErr *pkgerrs.AuthError
	if errors.As(err, &authErr) {
		return false
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// readBody drains the response, reporting progress in chunks when a sink is
// provided.
func readBody(resp *http.Response, progress types.ProgressFunc) ([]byte, error) {
	if progress == nil {
		return io.ReadAll(resp.Body)
	}

	total := resp.ContentLength
	var received int64
	buf := make([]byte, progressChunkSize)
	var out []byte
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
			received += int64(n)
			progress(received, total)
		}
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
