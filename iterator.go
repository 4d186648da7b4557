package snoowire

import (
	"context"
	"fmt"

	"github.com/snoowire/snoowire/pkg/types"
)

// ListingIterator walks a paginated listing one element at a time, fetching
// the next page through the after-cursor when the buffer runs out.
type ListingIterator struct {
	fetch     func(ctx context.Context, opts *ListingOptions) (*types.Listing, error)
	limit     int
	buffer    []*types.Thing
	bufferIdx int
	after     string
	hasMore   bool
	err       error
	ctx       context.Context
}

// NewPostIterator iterates over a subreddit's posts. An empty subreddit
// walks the front page.
func (c *Client) NewPostIterator(ctx context.Context, subreddit string) *ListingIterator {
	return &ListingIterator{
		fetch: func(ctx context.Context, opts *ListingOptions) (*types.Listing, error) {
			return c.GetPostsBySubreddit(ctx, subreddit, opts)
		},
		limit:   defaultListingLimit,
		hasMore: true,
		ctx:     ctx,
	}
}

// NewMailIterator iterates over a message folder.
func (c *Client) NewMailIterator(ctx context.Context, folder string) *ListingIterator {
	return &ListingIterator{
		fetch: func(ctx context.Context, opts *ListingOptions) (*types.Listing, error) {
			return c.GetMail(ctx, folder, opts)
		},
		limit:   defaultListingLimit,
		hasMore: true,
		ctx:     ctx,
	}
}

// NewModActionIterator iterates over a subreddit's moderation log.
func (c *Client) NewModActionIterator(ctx context.Context, subreddit string) *ListingIterator {
	return &ListingIterator{
		fetch: func(ctx context.Context, opts *ListingOptions) (*types.Listing, error) {
			return c.GetModActions(ctx, subreddit, opts)
		},
		limit:   defaultListingLimit,
		hasMore: true,
		ctx:     ctx,
	}
}

// WithLimit sets the page size requested per fetch. The endpoint's ceiling
// still applies.
func (it *ListingIterator) WithLimit(limit int) *ListingIterator {
	if limit < 1 {
		limit = 1
	}
	it.limit = limit
	return it
}

// HasNext reports whether another element is available without fetching.
func (it *ListingIterator) HasNext() bool {
	if it.err != nil {
		return false
	}
	return it.bufferIdx < len(it.buffer) || it.hasMore
}

// Next returns the next element, fetching the following page when the
// current one is exhausted.
func (it *ListingIterator) Next() (*types.Thing, error) {
	if it.err != nil {
		return nil, it.err
	}

	if it.bufferIdx >= len(it.buffer) {
		if !it.hasMore {
			return nil, fmt.Errorf("no more elements available")
		}

		listing, err := it.fetch(it.ctx, &ListingOptions{Limit: it.limit, After: it.after})
		if err != nil {
			it.err = err
			return nil, err
		}

		it.buffer = listing.Data.Children
		it.bufferIdx = 0
		it.after = listing.Data.AfterFullname

		if len(it.buffer) == 0 || it.after == "" {
			it.hasMore = false
			if len(it.buffer) == 0 {
				return nil, fmt.Errorf("no more elements available")
			}
		}
	}

	thing := it.buffer[it.bufferIdx]
	it.bufferIdx++

	if thing == nil {
		return it.Next()
	}
	return thing, nil
}

// Error returns the first error encountered during iteration, if any.
func (it *ListingIterator) Error() error {
	return it.err
}
