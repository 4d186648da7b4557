package types

import "context"

// CaptchaProvider resolves a captcha challenge to a human-supplied answer.
// An empty answer means the challenge could not be solved.
type CaptchaProvider interface {
	Solve(ctx context.Context, iden string) (string, error)
}

// DeferralSink receives mutating calls that failed with a connectivity-class
// error so they can be replayed later. Queue depth and eviction policy are
// the implementation's concern.
type DeferralSink interface {
	Defer(call DeferredCall)
	// Dequeue returns the next deferred call, or false when the queue is empty.
	Dequeue() (DeferredCall, bool)
}

// CachingProvider is an optional read-through cache consulted before
// GET-listing calls. A nil listing with a nil error is a miss.
type CachingProvider interface {
	GetListing(ctx context.Context, url string) (*Listing, error)
	SetListing(ctx context.Context, url string, listing *Listing) error
	GetThing(ctx context.Context, id string) (*Thing, error)
	SetThing(ctx context.Context, thing *Thing) error
}

// Decoder turns raw response bodies into typed values. Failures surface to
// callers as parse errors.
type Decoder interface {
	Decode(data []byte, v any) error
}
