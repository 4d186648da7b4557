package internal

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	pkgerrs "github.com/snoowire/snoowire/pkg/errors"
	"github.com/snoowire/snoowire/pkg/types"
)

type recordingSink struct {
	mu    sync.Mutex
	calls []types.DeferredCall
}

func (s *recordingSink) Defer(call types.DeferredCall) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
}

func (s *recordingSink) Dequeue() (types.DeferredCall, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return types.DeferredCall{}, false
	}
	call := s.calls[0]
	s.calls = s.calls[1:]
	return call, true
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func newTestTransport(t *testing.T, serverURL string, sink types.DeferralSink) *Transport {
	t.Helper()
	gate := NewGate(GateConfig{
		MinSpacing:   time.Millisecond,
		Window:       time.Second,
		WindowBudget: 1000,
	})
	session := newTestSession(t, serverURL, nil)
	return NewTransport(http.DefaultClient, gate, session, sink, nil)
}

func TestGetRetriesTransientFailures(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"kind":"t3","data":{}}`))
	}))
	defer server.Close()

	transport := newTestTransport(t, server.URL, nil)
	body, err := transport.Get(context.Background(), server.URL+"/r/golang/.json", nil, nil)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if body != `{"kind":"t3","data":{}}` {
		t.Errorf("body = %q", body)
	}
	if got := requests.Load(); got != 3 {
		t.Errorf("server saw %d requests, want 3", got)
	}
}

func TestGetExhaustsTransientBudget(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	transport := newTestTransport(t, server.URL, nil)
	_, err := transport.Get(context.Background(), server.URL+"/r/golang/.json", nil, nil)

	var transientErr *pkgerrs.TransientError
	if !errors.As(err, &transientErr) {
		t.Fatalf("err = %T (%v), want TransientError", err, err)
	}
	if got := requests.Load(); got != maxGetAttempts {
		t.Errorf("server saw %d requests, want %d", got, maxGetAttempts)
	}
}

func TestGetRetriesNotFoundOnce(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	transport := newTestTransport(t, server.URL, nil)
	_, err := transport.Get(context.Background(), server.URL+"/r/doesnotexist/.json", nil, nil)

	var notFoundErr *pkgerrs.NotFoundError
	if !errors.As(err, &notFoundErr) {
		t.Fatalf("err = %T (%v), want NotFoundError", err, err)
	}
	if got := requests.Load(); got != maxNotFoundAttempts {
		t.Errorf("server saw %d requests, want %d", got, maxNotFoundAttempts)
	}
}

func TestGetForbiddenIsImmediate(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	transport := newTestTransport(t, server.URL, nil)
	_, err := transport.Get(context.Background(), server.URL+"/r/private/.json", nil, nil)

	var forbiddenErr *pkgerrs.ForbiddenError
	if !errors.As(err, &forbiddenErr) {
		t.Fatalf("err = %T (%v), want ForbiddenError", err, err)
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("server saw %d requests, want 1", got)
	}
}

func TestGetInterstitialIsTransient(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.Write([]byte(interstitialPrefix + "whoa there</title>" + interstitialSuffix))
			return
		}
		w.Write([]byte(`{"kind":"Listing","data":{"children":[]}}`))
	}))
	defer server.Close()

	transport := newTestTransport(t, server.URL, nil)
	body, err := transport.Get(context.Background(), server.URL+"/.json", nil, nil)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if body == "" || requests.Load() != 2 {
		t.Errorf("interstitial was not retried: %d requests", requests.Load())
	}
}

func TestGetAppErrorIsNotRetried(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write([]byte(`{"errors":[["USER_REQUIRED","please log in to do that","user"]]}`))
	}))
	defer server.Close()

	transport := newTestTransport(t, server.URL, nil)
	_, err := transport.Get(context.Background(), server.URL+"/api/vote", nil, nil)

	var apiErr *pkgerrs.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %T (%v), want APIError", err, err)
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("server saw %d requests, want 1", got)
	}
}

func TestSendDefersConnectivityFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	authURL := server.URL
	server.Close() // every request now fails at the dial

	sink := &recordingSink{}
	transport := newTestTransport(t, authURL, sink)

	fields := types.NewFields("id", "t3_abc", "dir", "1")
	body, err := transport.Put(context.Background(), authURL+"/api/vote", fields)
	if err != nil {
		t.Fatalf("Put returned %v, want nil after deferral", err)
	}
	if body != "" {
		t.Errorf("body = %q, want empty after deferral", body)
	}

	call, ok := sink.Dequeue()
	if !ok {
		t.Fatal("no deferred call was recorded")
	}
	if call.Verb != http.MethodPut {
		t.Errorf("deferred verb = %q, want PUT", call.Verb)
	}
	if call.URL != authURL+"/api/vote" {
		t.Errorf("deferred URL = %q", call.URL)
	}
	if call.Fields.Get("id") != "t3_abc" || call.Fields.Get("dir") != "1" {
		t.Errorf("deferred fields = %+v", call.Fields)
	}
	if sink.len() != 0 {
		t.Errorf("sink holds %d extra calls, want 0", sink.len())
	}
}

func TestSendWithoutSinkSurfacesConnectivityFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	authURL := server.URL
	server.Close()

	transport := newTestTransport(t, authURL, nil)
	_, err := transport.Post(context.Background(), authURL+"/api/vote", types.NewFields("id", "t3_abc"))

	var reqErr *pkgerrs.RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("err = %T (%v), want RequestError", err, err)
	}
}

func TestSendDoesNotDeferClassifiedFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	sink := &recordingSink{}
	transport := newTestTransport(t, server.URL, sink)

	_, err := transport.Post(context.Background(), server.URL+"/api/vote", types.NewFields("id", "t3_abc"))
	var forbiddenErr *pkgerrs.ForbiddenError
	if !errors.As(err, &forbiddenErr) {
		t.Fatalf("err = %T (%v), want ForbiddenError", err, err)
	}
	if sink.len() != 0 {
		t.Errorf("a classified failure was deferred; sink holds %d calls", sink.len())
	}
}

func TestSendIsSingleShot(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	transport := newTestTransport(t, server.URL, &recordingSink{})
	_, err := transport.Post(context.Background(), server.URL+"/api/vote", types.NewFields("id", "t3_abc"))
	if err == nil {
		t.Fatal("expected an error for a 500 on a mutating call")
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("server saw %d requests, want exactly 1", got)
	}
}

func TestReplayGoesThroughSendPath(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Method != http.MethodPut {
			t.Errorf("method = %q, want PUT", r.Method)
		}
		r.ParseForm()
		if got := r.PostFormValue("dir"); got != "1" {
			t.Errorf("dir = %q, want 1", got)
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	transport := newTestTransport(t, server.URL, nil)
	call := types.DeferredCall{
		Fields: types.NewFields("id", "t3_abc", "dir", "1"),
		URL:    server.URL + "/api/vote",
		Verb:   http.MethodPut,
	}
	if err := transport.Replay(context.Background(), call); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if requests.Load() != 1 {
		t.Errorf("server saw %d requests, want 1", requests.Load())
	}
}

func TestRetryAfterHeaderDefersGate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "0.2")
		w.Write([]byte(`{"kind":"t3","data":{}}`))
	}))
	defer server.Close()

	transport := newTestTransport(t, server.URL, nil)
	ctx := context.Background()
	if _, err := transport.Get(ctx, server.URL+"/.json", nil, nil); err != nil {
		t.Fatalf("first Get failed: %v", err)
	}

	start := time.Now()
	if _, err := transport.Get(ctx, server.URL+"/.json", nil, nil); err != nil {
		t.Fatalf("second Get failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("second Get returned after %v, want the Retry-After pause honored", elapsed)
	}
}

func TestGetReportsProgress(t *testing.T) {
	payload := `{"kind":"t3","data":{}}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(payload))
	}))
	defer server.Close()

	var last int64
	transport := newTestTransport(t, server.URL, nil)
	body, err := transport.Get(context.Background(), server.URL+"/.json", func(received, total int64) {
		last = received
	}, nil)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if body != payload {
		t.Errorf("body = %q", body)
	}
	if last != int64(len(payload)) {
		t.Errorf("final progress = %d, want %d", last, len(payload))
	}
}

func TestSendAcceptsEmptyObjectAck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	transport := newTestTransport(t, server.URL, nil)
	body, err := transport.Post(context.Background(), server.URL+"/api/vote", types.NewFields("id", "t3_abc"))
	if err != nil {
		t.Fatalf("Post failed on an empty-object acknowledgement: %v", err)
	}
	if body != "" {
		t.Errorf("body = %q, want empty", body)
	}
}
