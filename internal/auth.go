package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	pkgerrs "github.com/snoowire/snoowire/pkg/errors"
	"github.com/snoowire/snoowire/pkg/types"
)

const (
	tokenEndpointPath  = "api/v1/access_token"
	revokeEndpointPath = "api/v1/revoke_token"

	grantAuthorizationCode = "authorization_code"
	grantRefreshToken      = "refresh_token"
)

// Session owns the active credential for one logical user and applies it to
// outgoing requests. At most one credential mode is active at a time; an
// OAuth token wins over a session cookie when both are present.
//
// The grant exchange, refresh, and revoke one-shots deliberately bypass the
// request gate, matching the upstream client they reproduce; they are not
// retried here, the caller decides whether to retry a failed exchange.
// Concurrent refreshes on the same session are collapsed into one exchange.
type Session struct {
	client      *http.Client
	appID       string
	appSecret   string
	redirectURL string
	userAgent   string
	tokenURL    *url.URL
	revokeURL   *url.URL
	logger      *slog.Logger

	mu    sync.Mutex
	state *types.UserState

	refreshGroup singleflight.Group
	now          func() time.Time
}

// NewSession creates a credential session against the given secure auth host.
func NewSession(httpClient *http.Client, state *types.UserState, appID, appSecret, redirectURL, authURL, userAgent string, logger *slog.Logger) (*Session, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	// The session owns its state; copying the seed keeps the caller's
	// pointer from racing with session updates.
	owned := &types.UserState{}
	if state != nil {
		*owned = *state
	}

	parsed, err := url.Parse(authURL)
	if err != nil {
		return nil, &pkgerrs.AuthError{Err: fmt.Errorf("failed to parse auth URL: %w", err)}
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}

	tokenURL, err := parsed.Parse(tokenEndpointPath)
	if err != nil {
		return nil, &pkgerrs.AuthError{Err: fmt.Errorf("failed to parse token endpoint: %w", err)}
	}
	revokeURL, err := parsed.Parse(revokeEndpointPath)
	if err != nil {
		return nil, &pkgerrs.AuthError{Err: fmt.Errorf("failed to parse revoke endpoint: %w", err)}
	}

	return &Session{
		client:      httpClient,
		appID:       appID,
		appSecret:   appSecret,
		redirectURL: redirectURL,
		userAgent:   userAgent,
		tokenURL:    tokenURL,
		revokeURL:   revokeURL,
		logger:      logger,
		state:       owned,
		now:         time.Now,
	}, nil
}

// State returns a snapshot of the session's user state, taken under the
// session lock. The OAuth token value is never mutated once installed, so
// the snapshot may share its pointer.
func (s *Session) State() types.UserState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.state
}

// OAuth returns the active OAuth credential, or nil.
func (s *Session) OAuth() *types.OAuthToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.OAuth
}

// SetIdentity records the logged-in user's name, modhash and tier flags.
// An empty modhash keeps the stored one; the OAuth identity endpoint omits
// it from the account payload.
func (s *Session) SetIdentity(username, modhash string, gold, mod bool) {
	s.mu.Lock()
	s.state.Username = username
	if modhash != "" {
		s.state.ModHash = modhash
	}
	s.state.IsGold = gold
	s.state.IsMod = mod
	s.mu.Unlock()
}

// ClearIdentity forgets the logged-in user.
func (s *Session) ClearIdentity() {
	s.mu.Lock()
	s.state.Username = ""
	s.state.ModHash = ""
	s.state.IsGold = false
	s.state.IsMod = false
	s.mu.Unlock()
}

// HasOAuth reports whether an OAuth credential is active.
func (s *Session) HasOAuth() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.OAuth != nil
}

// Attach applies the active credential to the request: a bearer header for
// OAuth, a cookie for session auth, and for anonymous sessions it clears any
// stale authorization header.
func (s *Session) Attach(req *http.Request) {
	s.mu.Lock()
	oauth := s.state.OAuth
	cookie := s.state.SessionCookie
	s.mu.Unlock()

	switch {
	case oauth != nil:
		req.Header.Set("Authorization", "Bearer "+oauth.AccessToken)
	case cookie != "":
		req.Header.Del("Authorization")
		req.AddCookie(&http.Cookie{Name: "reddit_session", Value: cookie})
	default:
		req.Header.Del("Authorization")
	}

	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
}

// RefreshIfNeeded refreshes an expired OAuth credential in place: new access
// token and issue time, same refresh token. Overlapping calls share one
// refresh exchange. A session without an OAuth credential is a no-op.
func (s *Session) RefreshIfNeeded(ctx context.Context) error {
	s.mu.Lock()
	oauth := s.state.OAuth
	s.mu.Unlock()

	if oauth == nil || !oauth.Expired(s.now()) {
		return nil
	}

	_, err, _ := s.refreshGroup.Do("refresh", func() (any, error) {
		s.mu.Lock()
		current := s.state.OAuth
		s.mu.Unlock()
		if current == nil || !current.Expired(s.now()) {
			return nil, nil
		}

		if s.logger != nil {
			s.logger.DebugContext(ctx, "refreshing expired access token")
		}

		refreshed, err := s.Refresh(ctx, current.RefreshToken)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.state.OAuth = refreshed
		s.mu.Unlock()
		return nil, nil
	})
	return err
}

// SetOAuth installs an OAuth credential, replacing any previous credential
// mode. A nil token reverts the session to cookie or anonymous auth.
func (s *Session) SetOAuth(token *types.OAuthToken) {
	s.mu.Lock()
	s.state.OAuth = token
	s.mu.Unlock()
}

// SetSessionCookie installs a session-cookie credential.
func (s *Session) SetSessionCookie(cookie string) {
	s.mu.Lock()
	s.state.SessionCookie = cookie
	s.mu.Unlock()
}

// SetNeedsCaptcha records whether the upstream is currently demanding
// captcha answers for this user's submissions.
func (s *Session) SetNeedsCaptcha(needs bool) {
	s.mu.Lock()
	s.state.NeedsCaptcha = needs
	s.mu.Unlock()
}

// ExchangeCode trades an authorization code for a token pair. One-shot, not
// retried.
func (s *Session) ExchangeCode(ctx context.Context, code string) (*types.OAuthToken, error) {
	form := types.NewFields(
		"grant_type", grantAuthorizationCode,
		"code", code,
		"redirect_uri", s.redirectURL,
	)

	token, err := s.tokenExchange(ctx, form)
	if err != nil {
		return nil, err
	}
	return token, nil
}

// Refresh performs a refresh_token exchange. The returned token keeps the
// refresh token that produced it; the upstream omits it from refresh
// responses.
func (s *Session) Refresh(ctx context.Context, refreshToken string) (*types.OAuthToken, error) {
	form := types.NewFields(
		"grant_type", grantRefreshToken,
		"refresh_token", refreshToken,
	)

	token, err := s.tokenExchange(ctx, form)
	if err != nil {
		return nil, err
	}
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}
	return token, nil
}

// Revoke destroys a refresh token at the token endpoint. One-shot, not
// retried; a non-2xx response is reported but the upstream treats revokes
// as best effort.
func (s *Session) Revoke(ctx context.Context, refreshToken string) error {
	form := types.NewFields(
		"token", refreshToken,
		"token_type_hint", grantRefreshToken,
	)

	req, err := s.newFormRequest(ctx, s.revokeURL.String(), form)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return &pkgerrs.AuthError{Err: fmt.Errorf("failed to execute revoke request: %w", err)}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &pkgerrs.AuthError{StatusCode: resp.StatusCode, Message: "revoke rejected"}
	}
	return nil
}

func (s *Session) tokenExchange(ctx context.Context, form types.Fields) (*types.OAuthToken, error) {
	req, err := s.newFormRequest(ctx, s.tokenURL.String(), form)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &pkgerrs.AuthError{Err: fmt.Errorf("failed to execute token request: %w", err)}
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &pkgerrs.AuthError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("failed to read token response: %w", err),
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &pkgerrs.AuthError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	var token types.OAuthToken
	if err := json.Unmarshal(bodyBytes, &token); err != nil {
		return nil, &pkgerrs.AuthError{
			StatusCode: resp.StatusCode,
			Body:       string(bodyBytes),
			Err:        fmt.Errorf("failed to unmarshal token response: %w", err),
		}
	}
	if token.AccessToken == "" {
		return nil, &pkgerrs.AuthError{
			StatusCode: resp.StatusCode,
			Body:       string(bodyBytes),
			Message:    "access token was empty in response",
		}
	}

	token.IssuedAt = s.now()
	return &token, nil
}

func (s *Session) newFormRequest(ctx context.Context, endpoint string, form types.Fields) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &pkgerrs.AuthError{Err: fmt.Errorf("failed to create token request: %w", err)}
	}

	req.SetBasicAuth(s.appID, s.appSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	return req, nil
}
