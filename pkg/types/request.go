package types

import (
	"net/url"
	"strings"
	"time"
)

// Field is one form field of a request body.
type Field struct {
	Key   string
	Value string
}

// Fields is an ordered list of form fields. Insertion order and duplicate
// keys are preserved on the wire; the upstream API is sensitive to both.
type Fields []Field

// NewFields builds a Fields list from alternating key/value pairs.
func NewFields(pairs ...string) Fields {
	f := make(Fields, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		f = append(f, Field{Key: pairs[i], Value: pairs[i+1]})
	}
	return f
}

// Add appends a field, keeping any existing fields with the same key.
func (f *Fields) Add(key, value string) {
	*f = append(*f, Field{Key: key, Value: value})
}

// Set replaces the first field with the given key, or appends if absent.
func (f *Fields) Set(key, value string) {
	for i := range *f {
		if (*f)[i].Key == key {
			(*f)[i].Value = value
			return
		}
	}
	f.Add(key, value)
}

// Get returns the value of the first field with the given key.
func (f Fields) Get(key string) string {
	for _, fld := range f {
		if fld.Key == key {
			return fld.Value
		}
	}
	return ""
}

// Has reports whether a field with the given key is present.
func (f Fields) Has(key string) bool {
	for _, fld := range f {
		if fld.Key == key {
			return true
		}
	}
	return false
}

// Clone returns an independent copy of the field list.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	copy(out, f)
	return out
}

// Encode renders the fields as an application/x-www-form-urlencoded body,
// preserving insertion order.
func (f Fields) Encode() string {
	var sb strings.Builder
	for i, fld := range f {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(fld.Key))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(fld.Value))
	}
	return sb.String()
}

// DeferredCall is a mutating request preserved after a connectivity failure,
// owned by the DeferralSink until a caller drains and replays it.
type DeferredCall struct {
	Fields Fields `json:"fields"`
	URL    string `json:"url"`
	Verb   string `json:"verb"`
}

// OAuthToken holds an OAuth credential. IssuedAt is stamped by the client
// when the token is obtained; the upstream response does not carry it.
type OAuthToken struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int       `json:"expires_in"`
	Scope        string    `json:"scope"`
	RefreshToken string    `json:"refresh_token"`
	IssuedAt     time.Time `json:"issued_at,omitempty"`
}

// Expired reports whether the token's lifetime has elapsed as of now.
func (t *OAuthToken) Expired(now time.Time) bool {
	return t.IssuedAt.Add(time.Duration(t.ExpiresIn) * time.Second).Before(now)
}

// UserState carries the per-session identity: at most one credential mode is
// active, and an OAuth token is preferred over a session cookie when both
// are present.
type UserState struct {
	Username      string
	SessionCookie string
	OAuth         *OAuthToken
	ModHash       string
	IsGold        bool
	IsMod         bool
	NeedsCaptcha  bool
}

// ProgressFunc receives download progress for a GET call. total is -1 when
// the response length is unknown.
type ProgressFunc func(received, total int64)
