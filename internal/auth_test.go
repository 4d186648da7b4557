package internal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/snoowire/snoowire/pkg/types"
)

func newTestSession(t *testing.T, serverURL string, state *types.UserState) *Session {
	t.Helper()
	session, err := NewSession(http.DefaultClient, state, "app-id", "app-secret", "http://localhost/callback", serverURL, "snoowire-test/1.0", nil)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	return session
}

func tokenHandler(t *testing.T, calls *atomic.Int64, respond func(r *http.Request) map[string]any) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/access_token" {
			http.NotFound(w, r)
			return
		}
		if user, pass, ok := r.BasicAuth(); !ok || user != "app-id" || pass != "app-secret" {
			t.Errorf("token request missing basic auth, got %q/%q", user, pass)
		}
		calls.Add(1)
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse token form: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(respond(r))
	}
}

func TestExchangeCode(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(tokenHandler(t, &calls, func(r *http.Request) map[string]any {
		if got := r.PostFormValue("grant_type"); got != "authorization_code" {
			t.Errorf("grant_type = %q, want authorization_code", got)
		}
		if got := r.PostFormValue("code"); got != "the-code" {
			t.Errorf("code = %q, want the-code", got)
		}
		if got := r.PostFormValue("redirect_uri"); got != "http://localhost/callback" {
			t.Errorf("redirect_uri = %q", got)
		}
		return map[string]any{
			"access_token":  "access-1",
			"token_type":    "bearer",
			"expires_in":    3600,
			"scope":         "identity",
			"refresh_token": "refresh-1",
		}
	}))
	defer server.Close()

	session := newTestSession(t, server.URL, nil)
	token, err := session.ExchangeCode(context.Background(), "the-code")
	if err != nil {
		t.Fatalf("ExchangeCode failed: %v", err)
	}
	if token.AccessToken != "access-1" || token.RefreshToken != "refresh-1" {
		t.Errorf("unexpected token: %+v", token)
	}
	if token.IssuedAt.IsZero() {
		t.Error("IssuedAt was not stamped")
	}
	if token.Expired(time.Now()) {
		t.Error("fresh token reports expired")
	}
}

func TestRefreshPreservesRefreshToken(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(tokenHandler(t, &calls, func(r *http.Request) map[string]any {
		if got := r.PostFormValue("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q, want refresh_token", got)
		}
		// The upstream omits refresh_token from refresh responses.
		return map[string]any{
			"access_token": "access-2",
			"token_type":   "bearer",
			"expires_in":   3600,
			"scope":        "identity",
		}
	}))
	defer server.Close()

	session := newTestSession(t, server.URL, nil)
	token, err := session.Refresh(context.Background(), "refresh-1")
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if token.AccessToken != "access-2" {
		t.Errorf("access token = %q, want access-2", token.AccessToken)
	}
	if token.RefreshToken != "refresh-1" {
		t.Errorf("refresh token = %q, want the original preserved", token.RefreshToken)
	}
}

func TestRefreshIfNeededSkipsLiveToken(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(tokenHandler(t, &calls, func(r *http.Request) map[string]any {
		return map[string]any{"access_token": "unexpected", "expires_in": 3600}
	}))
	defer server.Close()

	state := &types.UserState{OAuth: &types.OAuthToken{
		AccessToken:  "live",
		ExpiresIn:    3600,
		RefreshToken: "refresh-1",
		IssuedAt:     time.Now(),
	}}

	session := newTestSession(t, server.URL, state)
	if err := session.RefreshIfNeeded(context.Background()); err != nil {
		t.Fatalf("RefreshIfNeeded failed: %v", err)
	}
	if got := calls.Load(); got != 0 {
		t.Errorf("token endpoint called %d times for a live token, want 0", got)
	}
}

func TestRefreshIfNeededSingleFlight(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(tokenHandler(t, &calls, func(r *http.Request) map[string]any {
		time.Sleep(20 * time.Millisecond) // hold concurrent callers on the same flight
		return map[string]any{
			"access_token": "access-3",
			"token_type":   "bearer",
			"expires_in":   3600,
		}
	}))
	defer server.Close()

	state := &types.UserState{OAuth: &types.OAuthToken{
		AccessToken:  "stale",
		ExpiresIn:    1,
		RefreshToken: "refresh-1",
		IssuedAt:     time.Now().Add(-time.Hour),
	}}

	session := newTestSession(t, server.URL, state)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := session.RefreshIfNeeded(context.Background()); err != nil {
				t.Errorf("RefreshIfNeeded failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("token endpoint called %d times, want 1", got)
	}
	if got := session.OAuth().AccessToken; got != "access-3" {
		t.Errorf("access token = %q, want access-3", got)
	}
	if got := session.OAuth().RefreshToken; got != "refresh-1" {
		t.Errorf("refresh token = %q, want refresh-1 preserved", got)
	}
}

func TestAttachCredentialModes(t *testing.T) {
	tests := []struct {
		name  string
		state *types.UserState
		check func(t *testing.T, req *http.Request)
	}{
		{
			name:  "oauth bearer",
			state: &types.UserState{OAuth: &types.OAuthToken{AccessToken: "tok"}},
			check: func(t *testing.T, req *http.Request) {
				if got := req.Header.Get("Authorization"); got != "Bearer tok" {
					t.Errorf("Authorization = %q", got)
				}
			},
		},
		{
			name:  "session cookie",
			state: &types.UserState{SessionCookie: "cookie-value"},
			check: func(t *testing.T, req *http.Request) {
				if req.Header.Get("Authorization") != "" {
					t.Error("Authorization header should be absent for cookie auth")
				}
				cookie, err := req.Cookie("reddit_session")
				if err != nil || cookie.Value != "cookie-value" {
					t.Errorf("reddit_session cookie = %v, %v", cookie, err)
				}
			},
		},
		{
			name:  "anonymous",
			state: &types.UserState{},
			check: func(t *testing.T, req *http.Request) {
				if req.Header.Get("Authorization") != "" {
					t.Error("Authorization header should be absent for anonymous auth")
				}
			},
		},
		{
			name: "oauth wins over cookie",
			state: &types.UserState{
				OAuth:         &types.OAuthToken{AccessToken: "tok"},
				SessionCookie: "cookie-value",
			},
			check: func(t *testing.T, req *http.Request) {
				if got := req.Header.Get("Authorization"); got != "Bearer tok" {
					t.Errorf("Authorization = %q", got)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := newTestSession(t, "http://example.test", tt.state)
			req := httptest.NewRequest(http.MethodGet, "http://example.test/api/v1/me", nil)
			req.Header.Set("Authorization", "Bearer stale")
			session.Attach(req)
			tt.check(t, req)
			if got := req.Header.Get("User-Agent"); got != "snoowire-test/1.0" {
				t.Errorf("User-Agent = %q", got)
			}
		})
	}
}

func TestRevoke(t *testing.T) {
	var revoked atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/revoke_token" {
			http.NotFound(w, r)
			return
		}
		r.ParseForm()
		if got := r.PostFormValue("token"); got != "refresh-1" {
			t.Errorf("token = %q", got)
		}
		revoked.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	session := newTestSession(t, server.URL, nil)
	if err := session.Revoke(context.Background(), "refresh-1"); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if revoked.Load() != 1 {
		t.Error("revoke endpoint was not called")
	}
}

func TestSetIdentity(t *testing.T) {
	session := newTestSession(t, "http://example.test", nil)

	session.SetIdentity("gopher", "mh-1", true, false)
	state := session.State()
	if state.Username != "gopher" || state.ModHash != "mh-1" || !state.IsGold || state.IsMod {
		t.Errorf("state after SetIdentity = %+v", state)
	}

	// The OAuth identity endpoint omits the modhash; the stored one stays.
	session.SetIdentity("gopher", "", false, true)
	state = session.State()
	if state.ModHash != "mh-1" {
		t.Errorf("modhash = %q, want the stored one kept", state.ModHash)
	}
	if state.IsGold || !state.IsMod {
		t.Errorf("tier flags = gold %v mod %v", state.IsGold, state.IsMod)
	}

	session.ClearIdentity()
	state = session.State()
	if state.Username != "" || state.ModHash != "" || state.IsGold || state.IsMod {
		t.Errorf("state after ClearIdentity = %+v", state)
	}
}

func TestStateIsSnapshot(t *testing.T) {
	seed := &types.UserState{Username: "gopher", ModHash: "mh-1"}
	session := newTestSession(t, "http://example.test", seed)

	// The session copies the seed; mutating the seed afterwards changes
	// nothing. Reads see a consistent snapshot, not live fields.
	seed.Username = "clobbered"
	if got := session.State().Username; got != "gopher" {
		t.Errorf("username = %q, want gopher", got)
	}

	snapshot := session.State()
	session.SetIdentity("other", "mh-2", false, false)
	if snapshot.Username != "gopher" || snapshot.ModHash != "mh-1" {
		t.Errorf("snapshot mutated: %+v", snapshot)
	}
}
