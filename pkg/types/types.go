package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Thing is the generic envelope for all API objects. The concrete shape of
// Data depends on Kind and is resolved through the kind registry in two
// passes: envelope first, then the typed payload.
type Thing struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// DecodeData unmarshals the payload into v. Callers are expected to have
// checked Kind first.
func (t *Thing) DecodeData(v any) error {
	return json.Unmarshal(t.Data, v)
}

// ThingData holds the common fields shared by all typed payloads.
type ThingData struct {
	ID   string `json:"id"`   // ID (without prefix)
	Name string `json:"name"` // Full name (e.g., "t3_abc123")
}

// GetID returns the object's ID.
func (td ThingData) GetID() string { return td.ID }

// GetName returns the object's full name.
func (td ThingData) GetName() string { return td.Name }

// Votable is an embeddable struct for things that can be voted on.
type Votable struct {
	Ups   int `json:"ups"`
	Downs int `json:"downs"`
	// Likes indicates the user's vote: true for upvote, false for downvote, null for no vote.
	Likes *bool `json:"likes"`
}

// Created is an embeddable struct for things that have a creation time.
type Created struct {
	Created    float64 `json:"created"`
	CreatedUTC float64 `json:"created_utc"`
}

// Edited represents a field that can be a boolean or a timestamp.
// Old edits arrive as the literal `true`; modern ones carry a float timestamp.
type Edited struct {
	IsEdited  bool
	Timestamp float64
}

// UnmarshalJSON implements json.Unmarshaler to handle mixed types for the "edited" field.
func (e *Edited) UnmarshalJSON(data []byte) error {
	switch strings.ToLower(string(data)) {
	case "false", "null":
		e.IsEdited = false
		e.Timestamp = 0
		return nil
	case "true":
		e.IsEdited = true
		e.Timestamp = 0
		return nil
	}

	var timestamp float64
	if err := json.Unmarshal(data, &timestamp); err == nil {
		e.IsEdited = true
		e.Timestamp = timestamp
		return nil
	}

	return fmt.Errorf("unrecognized type for 'edited' field: %s", string(data))
}

// Listing is one page of a cursor-paginated collection.
type Listing struct {
	Kind string      `json:"kind"`
	Data ListingData `json:"data"`
}

// ListingData contains the items and continuation cursors of a Listing page.
// The cursors are only meaningful relative to the request that produced the
// page.
type ListingData struct {
	BeforeFullname string   `json:"before"`
	AfterFullname  string   `json:"after"`
	Modhash        string   `json:"modhash"`
	Children       []*Thing `json:"children"` // Raw Things with kind+data, resolved by the caller
}

// SubredditData contains the data for a Subreddit (kind "t5").
type SubredditData struct {
	ThingData
	AccountsActive    int     `json:"accounts_active"`
	Description       string  `json:"description"`
	DisplayName       string  `json:"display_name"`
	HeaderImg         *string `json:"header_img"`
	HeaderSize        []int   `json:"header_size"`
	HeaderTitle       *string `json:"header_title"`
	Over18            bool    `json:"over18"`
	PublicDescription string  `json:"public_description"`
	Subscribers       int64   `json:"subscribers"`
	SubredditType     string  `json:"subreddit_type"`
	Title             string  `json:"title"`
	URL               string  `json:"url"`
	UserIsBanned      *bool   `json:"user_is_banned"`
	UserIsContributor *bool   `json:"user_is_contributor"`
	UserIsModerator   *bool   `json:"user_is_moderator"`
	UserIsSubscriber  *bool   `json:"user_is_subscriber"`
}

// MessageData contains the data for a private Message (kind "t4").
type MessageData struct {
	ThingData
	Created
	Author       string          `json:"author"`
	Body         string          `json:"body"`
	BodyHTML     string          `json:"body_html"`
	Context      string          `json:"context"`
	FirstMessage *int64          `json:"first_message"`
	LinkTitle    string          `json:"link_title"`
	New          bool            `json:"new"`
	ParentID     *string         `json:"parent_id"`
	RepliesData  json.RawMessage `json:"replies"` // Raw replies data, handled separately
	Subject      string          `json:"subject"`
	Subreddit    *string         `json:"subreddit"`
	WasComment   bool            `json:"was_comment"`
}

// AccountData contains the data for a user Account (kind "t2").
type AccountData struct {
	ThingData
	Created
	CommentKarma     int    `json:"comment_karma"`
	GoldCredits      int    `json:"gold_credits"`
	HasMail          *bool  `json:"has_mail"`
	HasModMail       *bool  `json:"has_mod_mail"`
	HasVerifiedEmail *bool  `json:"has_verified_email"`
	InboxCount       int    `json:"inbox_count,omitempty"`
	IsFriend         bool   `json:"is_friend"`
	IsGold           bool   `json:"is_gold"`
	IsMod            bool   `json:"is_mod"`
	LinkKarma        int    `json:"link_karma"`
	Modhash          string `json:"modhash,omitempty"`
	Over18           bool   `json:"over_18"`
}

// MoreData is a placeholder node (kind "more") referencing children that were
// withheld from a listing, carrying a continuation count.
type MoreData struct {
	ThingData
	ParentID string   `json:"parent_id"`
	Count    int      `json:"count"`
	Children []string `json:"children"`
}

// Link represents a submitted post (kind "t3").
type Link struct {
	ThingData
	Votable
	Created
	Author              string          `json:"author"`
	AuthorFlairCSSClass *string         `json:"author_flair_css_class"`
	AuthorFlairText     *string         `json:"author_flair_text"`
	Clicked             bool            `json:"clicked"`
	Domain              string          `json:"domain"`
	Hidden              bool            `json:"hidden"`
	IsSelf              bool            `json:"is_self"`
	LinkFlairCSSClass   *string         `json:"link_flair_css_class"`
	LinkFlairText       *string         `json:"link_flair_text"`
	Locked              bool            `json:"locked"`
	Media               json.RawMessage `json:"media"`
	MediaEmbed          json.RawMessage `json:"media_embed"`
	NumComments         int             `json:"num_comments"`
	Over18              bool            `json:"over_18"`
	Permalink           string          `json:"permalink"`
	Saved               bool            `json:"saved"`
	Score               int             `json:"score"`
	SelfText            string          `json:"selftext"`
	SelfTextHTML        *string         `json:"selftext_html"`
	Subreddit           string          `json:"subreddit"`
	SubredditID         string          `json:"subreddit_id"`
	Thumbnail           string          `json:"thumbnail"`
	Title               string          `json:"title"`
	URL                 string          `json:"url"`
	Edited              Edited          `json:"edited"`
	Distinguished       *string         `json:"distinguished"`
	Stickied            bool            `json:"stickied"`
}

// Comment represents a comment (kind "t1").
type Comment struct {
	ThingData
	Votable
	Created
	Author              string          `json:"author"`
	AuthorFlairCSSClass *string         `json:"author_flair_css_class"`
	AuthorFlairText     *string         `json:"author_flair_text"`
	Body                string          `json:"body"`
	BodyHTML            string          `json:"body_html"`
	Edited              Edited          `json:"edited"`
	Gilded              int             `json:"gilded"`
	LinkID              string          `json:"link_id"`
	NumReports          *int            `json:"num_reports"`
	ParentID            string          `json:"parent_id"`
	RepliesData         json.RawMessage `json:"replies"` // Listing object or "" when empty
	Saved               bool            `json:"saved"`
	Score               int             `json:"score"`
	ScoreHidden         bool            `json:"score_hidden"`
	Subreddit           string          `json:"subreddit"`
	SubredditID         string          `json:"subreddit_id"`
	Distinguished       *string         `json:"distinguished"`
}

// ModActionData describes one entry of a subreddit moderation log
// (kind "modaction").
type ModActionData struct {
	ThingData
	Action         string  `json:"action"`
	CreatedUTC     float64 `json:"created_utc"`
	Description    string  `json:"description"`
	Details        string  `json:"details"`
	Mod            string  `json:"mod"`
	ModID36        string  `json:"mod_id36"`
	SRId36         string  `json:"sr_id36"`
	Subreddit      string  `json:"subreddit"`
	TargetFullname string  `json:"target_fullname"`
}

// LabeledMultiData describes a user-curated multireddit (kind "LabeledMulti").
type LabeledMultiData struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	Visibility string `json:"visibility"`
	CanEdit    bool   `json:"can_edit"`
}

// RecommendationData is a subreddit recommendation entry.
type RecommendationData struct {
	Subreddit string `json:"sr_name"`
}
