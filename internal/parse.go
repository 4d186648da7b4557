package internal

import (
	"encoding/json"
	"fmt"

	"github.com/snoowire/snoowire/pkg/types"
)

// DecodeFunc resolves the typed payload of a Thing envelope.
type DecodeFunc func(data json.RawMessage) (any, error)

// Parser resolves Thing envelopes through an explicit kind registry, in two
// passes: the envelope is decoded first, then the payload according to its
// kind discriminator.
type Parser struct {
	registry map[string]DecodeFunc
}

// NewParser returns a parser with the built-in kinds registered.
func NewParser() *Parser {
	p := &Parser{registry: make(map[string]DecodeFunc)}
	p.Register(ListingKind, decodeAs[types.ListingData])
	p.Register("t1", decodeAs[types.Comment])
	p.Register("t2", decodeAs[types.AccountData])
	p.Register("t3", decodeAs[types.Link])
	p.Register("t4", decodeAs[types.MessageData])
	p.Register("t5", decodeAs[types.SubredditData])
	p.Register("more", decodeAs[types.MoreData])
	p.Register("modaction", decodeAs[types.ModActionData])
	p.Register("LabeledMulti", decodeAs[types.LabeledMultiData])
	return p
}

// Register installs a decoder for a kind, replacing any existing entry.
func (p *Parser) Register(kind string, fn DecodeFunc) {
	p.registry[kind] = fn
}

// ParseThing resolves a Thing's payload through the registry.
func (p *Parser) ParseThing(thing *types.Thing) (any, error) {
	if thing == nil {
		return nil, fmt.Errorf("thing is nil")
	}
	fn, ok := p.registry[thing.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown kind: %s", thing.Kind)
	}
	v, err := fn(thing.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s data: %w", thing.Kind, err)
	}
	return v, nil
}

// ParseLink extracts a Link from a Thing of kind "t3".
func (p *Parser) ParseLink(thing *types.Thing) (*types.Link, error) {
	return parseAs[types.Link](p, thing, "t3")
}

// ParseComment extracts a Comment from a Thing of kind "t1".
func (p *Parser) ParseComment(thing *types.Thing) (*types.Comment, error) {
	return parseAs[types.Comment](p, thing, "t1")
}

// ParseAccount extracts an AccountData from a Thing of kind "t2".
func (p *Parser) ParseAccount(thing *types.Thing) (*types.AccountData, error) {
	return parseAs[types.AccountData](p, thing, "t2")
}

// ParseSubreddit extracts a SubredditData from a Thing of kind "t5".
func (p *Parser) ParseSubreddit(thing *types.Thing) (*types.SubredditData, error) {
	return parseAs[types.SubredditData](p, thing, "t5")
}

// ParseMore extracts a MoreData from a Thing of kind "more".
func (p *Parser) ParseMore(thing *types.Thing) (*types.MoreData, error) {
	return parseAs[types.MoreData](p, thing, "more")
}

// ParseModAction extracts a ModActionData from a Thing of kind "modaction".
func (p *Parser) ParseModAction(thing *types.Thing) (*types.ModActionData, error) {
	return parseAs[types.ModActionData](p, thing, "modaction")
}

// ParseLabeledMulti extracts a LabeledMultiData from a Thing of kind "LabeledMulti".
func (p *Parser) ParseLabeledMulti(thing *types.Thing) (*types.LabeledMultiData, error) {
	return parseAs[types.LabeledMultiData](p, thing, "LabeledMulti")
}

// FirstLink returns the first child of a listing that is a Link, or nil.
func (p *Parser) FirstLink(listing *types.Listing) (*types.Link, error) {
	if listing == nil {
		return nil, fmt.Errorf("listing is nil")
	}
	for _, child := range listing.Data.Children {
		if child != nil && child.Kind == "t3" {
			return p.ParseLink(child)
		}
	}
	return nil, nil
}

func parseAs[T any](p *Parser, thing *types.Thing, kind string) (*T, error) {
	if thing == nil {
		return nil, fmt.Errorf("thing is nil")
	}
	if thing.Kind != kind {
		return nil, fmt.Errorf("expected %s, got %s", kind, thing.Kind)
	}
	var v T
	if err := json.Unmarshal(thing.Data, &v); err != nil {
		return nil, fmt.Errorf("failed to parse %s data: %w", kind, err)
	}
	return &v, nil
}

func decodeAs[T any](data json.RawMessage) (any, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
