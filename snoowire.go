// Package snoowire is a resilient client for the Reddit API.
//
// The client reproduces the upstream API's quirks exactly: the error
// envelope attached to 200 responses, the HTML interstitial served with a
// success status, the empty-object sentinels, and listing responses that
// arrive as an array of pages. Request pacing, transient-failure retry for
// reads, write deferral after connectivity failures, and captcha
// resubmission are all handled inside the client.
//
// Basic usage:
//
//	config := &snoowire.Config{
//		AppID:     "your-app-id",
//		AppSecret: "your-app-secret",
//		UserAgent: "myapp/1.0 by /u/yourusername",
//	}
//
//	client, err := snoowire.NewClient(config)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	posts, err := client.GetPostsBySubreddit(ctx, "golang", &ListingOptions{Limit: 25})
//	if err != nil {
//		log.Fatal(err)
//	}
package snoowire

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/snoowire/snoowire/internal"
	pkgerrs "github.com/snoowire/snoowire/pkg/errors"
	"github.com/snoowire/snoowire/pkg/types"
)

const (
	// DefaultBaseURL is the public host used for unauthenticated reads.
	DefaultBaseURL = "https://www.reddit.com/"
	// DefaultOAuthURL is the host used once an OAuth credential is active.
	DefaultOAuthURL = "https://oauth.reddit.com/"
	// DefaultAuthURL is the secure host for login and the token endpoints.
	DefaultAuthURL = "https://ssl.reddit.com/"
	// DefaultUserAgent is the default user agent string.
	DefaultUserAgent = "snoowire/0.1"
	// DefaultTimeout is the default HTTP client timeout.
	DefaultTimeout = 30 * time.Second
)

// Gate paces outgoing requests: a minimum gap between any two sends plus a
// rolling-window burst budget. Clients that act against the same upstream
// account must share one Gate so they share one budget; the package-level
// default gate gives that behavior to every client that does not inject its
// own.
type Gate struct {
	inner *internal.Gate
}

// NewGate returns an independent gate. Zero values select the defaults
// (1s spacing, 15 sends per 30s window).
func NewGate(minSpacing, window time.Duration, budget int) *Gate {
	return &Gate{inner: internal.NewGate(internal.GateConfig{
		MinSpacing:   minSpacing,
		Window:       window,
		WindowBudget: budget,
	})}
}

var (
	sharedGateOnce sync.Once
	sharedGate     *Gate
)

// SharedGate returns the process-wide default gate.
func SharedGate() *Gate {
	sharedGateOnce.Do(func() {
		sharedGate = NewGate(0, 0, 0)
	})
	return sharedGate
}

// Config holds the configuration for the client.
//
// All fields are optional for anonymous reads. AppID and AppSecret are
// required for the OAuth flows; Username is required for the listings that
// are scoped to the logged-in user.
type Config struct {
	// AppID and AppSecret identify the registered application for the
	// OAuth token endpoints.
	AppID     string
	AppSecret string

	// RedirectURL is the registered OAuth redirect, used when exchanging
	// an authorization code.
	RedirectURL string

	// UserAgent identifies the application to the upstream.
	// Should follow format: "platform:app-name:version by /u/username"
	UserAgent string

	// BaseURL is the public host for unauthenticated calls.
	// Defaults to DefaultBaseURL.
	BaseURL string

	// OAuthURL is the host used when an OAuth credential is active.
	// Defaults to DefaultOAuthURL.
	OAuthURL string

	// AuthURL is the secure host carrying the login and token endpoints.
	// Defaults to DefaultAuthURL.
	AuthURL string

	// HTTPClient to use for requests.
	// Defaults to a client with DefaultTimeout if not specified.
	HTTPClient *http.Client

	// Logger for structured diagnostics.
	// Optional. If provided, debug information is logged during API calls.
	Logger *slog.Logger

	// Gate shares request pacing across clients. Defaults to SharedGate().
	Gate *Gate

	// DeferralSink receives mutating calls that failed with a
	// connectivity-class error. Nil surfaces those failures instead.
	DeferralSink types.DeferralSink

	// CaptchaProvider supplies answers when a submission is challenged.
	// Nil aborts challenged submissions with a CaptchaError.
	CaptchaProvider types.CaptchaProvider

	// Cache is an optional read-through cache for listings and things.
	Cache types.CachingProvider

	// Decoder overrides how typed values are decoded from response bodies.
	// Defaults to encoding/json.
	Decoder types.Decoder

	// UserState seeds the session identity, letting a caller resume a
	// persisted session. The session copies the seed; read the live
	// identity back through Client.State. Nil starts anonymous.
	UserState *types.UserState
}

// Client is the main API client. Its methods are safe for concurrent use;
// all calls on one client share its gate, credential session, and deferral
// sink.
type Client struct {
	config    *Config
	transport *internal.Transport
	parser    *internal.Parser
	cache     types.CachingProvider
	decoder   types.Decoder
	sink      types.DeferralSink
	captcha   types.CaptchaProvider
	baseURL   *url.URL
	oauthURL  *url.URL
	logger    *slog.Logger
}

// NewClient creates a client from the configuration, applying defaults for
// every unset field. It performs no network calls; the first API method
// issues the first request.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, &pkgerrs.ConfigError{Message: "config cannot be nil"}
	}

	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.OAuthURL == "" {
		config.OAuthURL = DefaultOAuthURL
	}
	if config.AuthURL == "" {
		config.AuthURL = DefaultAuthURL
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	if config.Gate == nil {
		config.Gate = SharedGate()
	}

	baseURL, err := parseHost(config.BaseURL)
	if err != nil {
		return nil, &pkgerrs.ConfigError{Field: "BaseURL", Message: err.Error()}
	}
	oauthURL, err := parseHost(config.OAuthURL)
	if err != nil {
		return nil, &pkgerrs.ConfigError{Field: "OAuthURL", Message: err.Error()}
	}

	session, err := internal.NewSession(
		config.HTTPClient,
		config.UserState,
		config.AppID,
		config.AppSecret,
		config.RedirectURL,
		config.AuthURL,
		config.UserAgent,
		config.Logger,
	)
	if err != nil {
		return nil, &pkgerrs.ConfigError{Field: "AuthURL", Message: err.Error()}
	}

	decoder := config.Decoder
	if decoder == nil {
		decoder = jsonDecoder{}
	}

	transport := internal.NewTransport(
		config.HTTPClient,
		config.Gate.inner,
		session,
		config.DeferralSink,
		config.Logger,
	)

	return &Client{
		config:    config,
		transport: transport,
		parser:    internal.NewParser(),
		cache:     config.Cache,
		decoder:   decoder,
		sink:      config.DeferralSink,
		captcha:   config.CaptchaProvider,
		baseURL:   baseURL,
		oauthURL:  oauthURL,
		logger:    config.Logger,
	}, nil
}

// State returns a snapshot of the session identity: username, modhash,
// gold and mod flags, and the active credential. Callers may persist it
// between runs and seed it back through Config.UserState.
func (c *Client) State() types.UserState {
	return c.transport.Session().State()
}

// host returns the origin for API calls: the authenticated host when an
// OAuth credential is active, the public host otherwise.
func (c *Client) host() *url.URL {
	if c.transport.Session().HasOAuth() {
		return c.oauthURL
	}
	return c.baseURL
}

// buildURL joins a relative path against the active host and appends query
// fields in order.
func (c *Client) buildURL(path string, query types.Fields) (string, error) {
	u, err := c.host().Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return "", &pkgerrs.RequestError{Operation: "build URL", URL: path, Err: err}
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

func parseHost(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u, nil
}

// jsonDecoder is the default Decoder.
type jsonDecoder struct{}

func (jsonDecoder) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// MemoryDeferralSink is an in-process DeferralSink: a FIFO queue with no
// persistence. Safe for concurrent use.
type MemoryDeferralSink struct {
	mu    sync.Mutex
	queue []types.DeferredCall
}

// NewMemoryDeferralSink returns an empty in-memory sink.
func NewMemoryDeferralSink() *MemoryDeferralSink {
	return &MemoryDeferralSink{}
}

// Defer appends a call to the queue.
func (s *MemoryDeferralSink) Defer(call types.DeferredCall) {
	s.mu.Lock()
	s.queue = append(s.queue, call)
	s.mu.Unlock()
}

// Dequeue removes and returns the oldest deferred call.
func (s *MemoryDeferralSink) Dequeue() (types.DeferredCall, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return types.DeferredCall{}, false
	}
	call := s.queue[0]
	s.queue = s.queue[1:]
	return call, true
}

// Len reports the current queue depth.
func (s *MemoryDeferralSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
