package internal

import (
	"encoding/json"
	"strings"

	pkgerrs "github.com/snoowire/snoowire/pkg/errors"
	"github.com/snoowire/snoowire/pkg/types"
)

// ListingKind is the envelope kind of a listing page.
const ListingKind = "Listing"

// AssembleListing normalizes the three listing response shapes into one
// logical page:
//
//   - an array of page objects is concatenated in array order, with the
//     merged page's kind and cursors taken from the last element (the
//     upstream's permalink responses return [link-page, comments-page] and
//     the continuation belongs to the comments);
//   - the empty-object sentinel becomes an empty page with no cursors;
//   - anything else is a single page object.
//
// Pages are deserialized through dec; nil selects encoding/json.
func AssembleListing(raw string, dec types.Decoder) (*types.Listing, error) {
	decode := json.Unmarshal
	if dec != nil {
		decode = dec.Decode
	}

	trimmed := strings.TrimSpace(raw)

	if isEmptyBody(trimmed) || trimmed == "[]" {
		return &types.Listing{Kind: ListingKind}, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var pages []types.Listing
		if err := decode([]byte(trimmed), &pages); err != nil {
			return nil, &pkgerrs.ParseError{Operation: "assemble listing", Err: err}
		}

		merged := &types.Listing{Kind: ListingKind}
		for _, page := range pages {
			merged.Data.Children = append(merged.Data.Children, page.Data.Children...)
			merged.Kind = page.Kind
			merged.Data.AfterFullname = page.Data.AfterFullname
			merged.Data.BeforeFullname = page.Data.BeforeFullname
			if page.Data.Modhash != "" {
				merged.Data.Modhash = page.Data.Modhash
			}
		}
		return merged, nil
	}

	var page types.Listing
	if err := decode([]byte(trimmed), &page); err != nil {
		return nil, &pkgerrs.ParseError{Operation: "assemble listing", Err: err}
	}
	return &page, nil
}
