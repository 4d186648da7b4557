package snoowire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/snoowire/snoowire/internal"
	pkgerrs "github.com/snoowire/snoowire/pkg/errors"
	"github.com/snoowire/snoowire/pkg/types"
)

const (
	// defaultListingLimit is the per-page ceiling for ordinary listings.
	defaultListingLimit = 100
	// commentListingLimit is the per-page ceiling for comment trees.
	commentListingLimit = 500
	// goldListingLimit is the per-page ceiling for gold accounts.
	goldListingLimit = 1500
)

// ListingOptions controls pagination for listing calls. A nil options value
// selects the endpoint's defaults.
type ListingOptions struct {
	// Limit is the requested page size. It is clamped to the endpoint's
	// ceiling, which is raised for gold accounts.
	Limit int
	// After requests the page following the given fullname.
	After string
	// Before requests the page preceding the given fullname.
	Before string
	// Fresh bypasses the caching provider for this call.
	Fresh bool
	// Progress receives download progress for the page body.
	Progress types.ProgressFunc
}

// Me fetches the account of the active credential and records its modhash,
// gold and mod flags on the session state, where the mutating calls pick
// them up.
func (c *Client) Me(ctx context.Context) (*types.AccountData, error) {
	path := "api/me.json"
	if c.transport.Session().HasOAuth() {
		path = "api/v1/me"
	}

	rawURL, err := c.buildURL(path, nil)
	if err != nil {
		return nil, err
	}

	body, err := c.transport.Get(ctx, rawURL, nil, nil)
	if err != nil {
		return nil, err
	}

	account, err := c.decodeAccount("Me", body)
	if err != nil {
		return nil, err
	}

	c.transport.Session().SetIdentity(account.Name, account.Modhash, account.IsGold, account.IsMod)
	return account, nil
}

// Login establishes a session-cookie credential from a username and
// password. The cookie and modhash are stored on the session state; later
// calls attach them automatically.
func (c *Client) Login(ctx context.Context, username, password string) error {
	loginURL, err := url.Parse(c.config.AuthURL)
	if err != nil {
		return &pkgerrs.ConfigError{Field: "AuthURL", Message: err.Error()}
	}
	endpoint, err := loginURL.Parse("api/login/" + url.PathEscape(username))
	if err != nil {
		return &pkgerrs.RequestError{Operation: "Login", Err: err}
	}

	fields := types.NewFields(
		"user", username,
		"passwd", password,
		"rem", "true",
		"api_type", "json",
	)

	body, err := c.transport.Post(ctx, endpoint.String(), fields)
	if err != nil {
		return err
	}

	var resp struct {
		JSON struct {
			Errors [][]any `json:"errors"`
			Data   struct {
				Modhash string `json:"modhash"`
				Cookie  string `json:"cookie"`
			} `json:"data"`
		} `json:"json"`
	}
	if err := c.decoder.Decode([]byte(body), &resp); err != nil {
		return &pkgerrs.ParseError{Operation: "Login", Err: err}
	}
	if len(resp.JSON.Errors) > 0 {
		return &pkgerrs.AuthError{Message: fmt.Sprintf("login rejected: %v", resp.JSON.Errors[0])}
	}
	if resp.JSON.Data.Cookie == "" {
		return &pkgerrs.AuthError{Message: "login response carried no session cookie"}
	}

	session := c.transport.Session()
	session.SetSessionCookie(resp.JSON.Data.Cookie)
	session.SetIdentity(username, resp.JSON.Data.Modhash, false, false)
	return nil
}

// ExchangeCode trades an OAuth authorization code for a token pair and
// installs it as the active credential.
func (c *Client) ExchangeCode(ctx context.Context, code string) error {
	token, err := c.transport.Session().ExchangeCode(ctx, code)
	if err != nil {
		return err
	}
	c.transport.Session().SetOAuth(token)
	return nil
}

// Logout revokes the active OAuth refresh token, if any, and clears the
// credential and identity from the session state.
func (c *Client) Logout(ctx context.Context) error {
	session := c.transport.Session()

	var revokeErr error
	if token := session.OAuth(); token != nil && token.RefreshToken != "" {
		revokeErr = session.Revoke(ctx, token.RefreshToken)
	}

	session.SetOAuth(nil)
	session.SetSessionCookie("")
	session.ClearIdentity()
	return revokeErr
}

// GetSubreddit retrieves metadata about one subreddit. A name containing
// "/m/" is resolved as a multireddit path instead, yielding a synthetic
// subreddit built from the multi's label.
func (c *Client) GetSubreddit(ctx context.Context, name string) (*types.SubredditData, error) {
	if strings.Contains(name, "/m/") {
		return c.getMultireddit(ctx, name)
	}

	rawURL, err := c.buildURL("r/"+name+"/about.json", nil)
	if err != nil {
		return nil, err
	}

	body, err := c.transport.Get(ctx, rawURL, nil, nil)
	if err != nil {
		return nil, err
	}

	thing, err := c.decodeThing("GetSubreddit", body)
	if err != nil {
		return nil, err
	}
	return c.parser.ParseSubreddit(thing)
}

// getMultireddit fetches a multireddit by path. The upstream has no t5
// envelope for a multi, so the LabeledMulti payload stands in for one. A
// "me/" prefix is rewritten to the logged-in user's path before the call.
func (c *Client) getMultireddit(ctx context.Context, name string) (*types.SubredditData, error) {
	name = strings.TrimPrefix(name, "/")
	if username := c.State().Username; username != "" && strings.HasPrefix(name, "me/") {
		name = "user/" + username + "/" + strings.TrimPrefix(name, "me/")
	}

	rawURL, err := c.buildURL("api/multi/"+name+".json", nil)
	if err != nil {
		return nil, err
	}

	body, err := c.transport.Get(ctx, rawURL, nil, nil)
	if err != nil {
		return nil, err
	}

	thing, err := c.decodeThing("GetSubreddit", body)
	if err != nil {
		return nil, err
	}
	multi, err := c.parser.ParseLabeledMulti(thing)
	if err != nil {
		return nil, err
	}
	return c.multiAsSubreddit(multi), nil
}

// multiAsSubreddit projects a multireddit onto the subreddit shape the
// listing callers expect. The logged-in user's own path is rewritten to
// the relative "/me" form so it survives a username change.
func (c *Client) multiAsSubreddit(multi *types.LabeledMultiData) *types.SubredditData {
	path := multi.Path
	if username := c.State().Username; username != "" {
		path = strings.Replace(path, "/user/"+username, "/me", 1)
	}

	title := multi.Name
	return &types.SubredditData{
		DisplayName: multi.Name,
		Title:       title,
		HeaderTitle: &title,
		URL:         path,
	}
}

// GetSubreddits lists popular subreddits.
func (c *Client) GetSubreddits(ctx context.Context, opts *ListingOptions) (*types.Listing, error) {
	return c.getListing(ctx, "GetSubreddits", "reddits.json", defaultListingLimit, opts)
}

// GetRecommendedSubreddits suggests subreddits related to the given seed
// subreddit names. The upstream answers with a bare array of
// recommendation entries, not a listing.
func (c *Client) GetRecommendedSubreddits(ctx context.Context, seeds []string) ([]*types.RecommendationData, error) {
	rawURL, err := c.buildURL("api/recommend/sr/"+strings.Join(seeds, ","), nil)
	if err != nil {
		return nil, err
	}

	body, err := c.transport.Get(ctx, rawURL, nil, nil)
	if err != nil {
		return nil, err
	}

	var recs []*types.RecommendationData
	if err := c.decoder.Decode([]byte(body), &recs); err != nil {
		return nil, &pkgerrs.ParseError{Operation: "GetRecommendedSubreddits", Err: err}
	}
	return recs, nil
}

// GetSubscribedSubreddits lists the subreddits the logged-in user is
// subscribed to, with the user's multireddits folded in at the front as
// synthetic subreddit entries.
func (c *Client) GetSubscribedSubreddits(ctx context.Context, opts *ListingOptions) (*types.Listing, error) {
	listing, err := c.getListing(ctx, "GetSubscribedSubreddits", "subreddits/mine/subscriber.json", defaultListingLimit, opts)
	if err != nil {
		return nil, err
	}
	return c.prependUserMultis(ctx, listing)
}

// prependUserMultis merges the logged-in user's multireddits into the
// front of a subreddit listing. The merge is best effort: a failure to
// list multis leaves the subscription listing intact, and anonymous
// sessions skip the call entirely.
func (c *Client) prependUserMultis(ctx context.Context, listing *types.Listing) (*types.Listing, error) {
	if c.State().Username == "" {
		return listing, nil
	}

	rawURL, err := c.buildURL("api/multi/mine.json", nil)
	if err != nil {
		return listing, nil
	}
	body, err := c.transport.Get(ctx, rawURL, nil, nil)
	if err != nil {
		if c.logger != nil {
			c.logger.DebugContext(ctx, "skipping user multis", "error", err)
		}
		return listing, nil
	}

	var multiThings []*types.Thing
	if err := c.decoder.Decode([]byte(body), &multiThings); err != nil {
		if c.logger != nil {
			c.logger.DebugContext(ctx, "skipping unparseable user multis", "error", err)
		}
		return listing, nil
	}

	synthetic := make([]*types.Thing, 0, len(multiThings))
	for _, thing := range multiThings {
		if thing == nil {
			continue
		}
		multi, err := c.parser.ParseLabeledMulti(thing)
		if err != nil {
			continue
		}
		data, err := json.Marshal(c.multiAsSubreddit(multi))
		if err != nil {
			continue
		}
		synthetic = append(synthetic, &types.Thing{Kind: "t5", Data: data})
	}
	listing.Data.Children = append(synthetic, listing.Data.Children...)
	return listing, nil
}

// Search runs a site-wide search. subreddit restricts the search to one
// subreddit when non-empty.
func (c *Client) Search(ctx context.Context, query, subreddit string, opts *ListingOptions) (*types.Listing, error) {
	path := "search.json"
	if subreddit != "" {
		path = "r/" + subreddit + "/search.json"
	}

	extra := types.NewFields("q", query)
	if subreddit != "" {
		extra.Add("restrict_sr", "true")
	}
	return c.getListingWith(ctx, "Search", path, defaultListingLimit, opts, extra)
}

// GetPostsBySubreddit lists a subreddit's posts. An empty subreddit fetches
// the front page.
func (c *Client) GetPostsBySubreddit(ctx context.Context, subreddit string, opts *ListingOptions) (*types.Listing, error) {
	path := ".json"
	if subreddit != "" {
		path = "r/" + subreddit + "/.json"
	}
	return c.getListing(ctx, "GetPostsBySubreddit", path, defaultListingLimit, opts)
}

// GetPostsByUser lists a user's submissions.
func (c *Client) GetPostsByUser(ctx context.Context, username string, opts *ListingOptions) (*types.Listing, error) {
	return c.getListing(ctx, "GetPostsByUser", "user/"+username+"/submitted.json", defaultListingLimit, opts)
}

// GetCommentsOnPost fetches a post's comment tree. The upstream answers
// with an array of two pages, the link and its comments; the merged listing
// holds both, with cursors taken from the comments page.
func (c *Client) GetCommentsOnPost(ctx context.Context, subreddit, postID string, opts *ListingOptions) (*types.Listing, error) {
	path := "r/" + subreddit + "/comments/" + postID + ".json"
	return c.getListing(ctx, "GetCommentsOnPost", path, commentListingLimit, opts)
}

// GetLinkByURL resolves a post by its target URL.
func (c *Client) GetLinkByURL(ctx context.Context, target string) (*types.Link, error) {
	query := types.NewFields("url", target)
	listing, err := c.getListingWith(ctx, "GetLinkByURL", "api/info.json", defaultListingLimit, nil, query)
	if err != nil {
		return nil, err
	}
	return c.parser.FirstLink(listing)
}

// GetThingByID fetches one resource by fullname, consulting the caching
// provider first.
func (c *Client) GetThingByID(ctx context.Context, id string) (*types.Thing, error) {
	if c.cache != nil {
		cached, err := c.cache.GetThing(ctx, id)
		if err == nil && cached != nil {
			return cached, nil
		}
	}

	query := types.NewFields("id", id)
	listing, err := c.getListingWith(ctx, "GetThingByID", "api/info.json", defaultListingLimit, nil, query)
	if err != nil {
		return nil, err
	}
	if len(listing.Data.Children) == 0 {
		return nil, &pkgerrs.NotFoundError{URL: id}
	}

	thing := listing.Data.Children[0]
	if c.cache != nil {
		_ = c.cache.SetThing(ctx, thing)
	}
	return thing, nil
}

// GetMail fetches a message folder: "inbox", "unread", "sent", or
// "moderator". An empty-object response means an empty folder.
func (c *Client) GetMail(ctx context.Context, folder string, opts *ListingOptions) (*types.Listing, error) {
	return c.getListing(ctx, "GetMail", "message/"+folder+".json", defaultListingLimit, opts)
}

// GetSaved lists the logged-in user's saved items.
func (c *Client) GetSaved(ctx context.Context, opts *ListingOptions) (*types.Listing, error) {
	return c.getUserListing(ctx, "GetSaved", "saved", opts)
}

// GetLiked lists the logged-in user's upvoted items.
func (c *Client) GetLiked(ctx context.Context, opts *ListingOptions) (*types.Listing, error) {
	return c.getUserListing(ctx, "GetLiked", "liked", opts)
}

// GetDisliked lists the logged-in user's downvoted items.
func (c *Client) GetDisliked(ctx context.Context, opts *ListingOptions) (*types.Listing, error) {
	return c.getUserListing(ctx, "GetDisliked", "disliked", opts)
}

// GetModActions fetches a subreddit's moderation log.
func (c *Client) GetModActions(ctx context.Context, subreddit string, opts *ListingOptions) (*types.Listing, error) {
	return c.getListing(ctx, "GetModActions", "r/"+subreddit+"/about/log.json", defaultListingLimit, opts)
}

// FetchMore follows a listing's after-cursor against the URL that produced
// it, returning the next page. ceiling is the endpoint's per-page limit
// (defaultListingLimit for ordinary listings, commentListingLimit for
// comment trees); gold accounts get goldListingLimit regardless.
func (c *Client) FetchMore(ctx context.Context, sourceURL, after string, ceiling int, opts *ListingOptions) (*types.Listing, error) {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return nil, &pkgerrs.RequestError{Operation: "FetchMore", URL: sourceURL, Err: err}
	}

	requested := 0
	var progress types.ProgressFunc
	if opts != nil {
		requested = opts.Limit
		progress = opts.Progress
	}

	q := u.Query()
	q.Set("limit", strconv.Itoa(c.clampLimit(requested, ceiling)))
	if after != "" {
		q.Set("after", after)
	} else {
		q.Del("after")
	}
	u.RawQuery = q.Encode()

	body, err := c.transport.Get(ctx, u.String(), progress, nil)
	if err != nil {
		return c.emptyOnMalformed(err)
	}
	return c.assemble("FetchMore", body)
}

// GetMoreChildren expands a "more" comment stub. At most 20 child IDs are
// requested per call; when the stub holds more, the second return value is
// a replacement stub carrying the remaining IDs, to be expanded by a later
// call. A nil replacement means the stub is exhausted.
func (c *Client) GetMoreChildren(ctx context.Context, linkFullname string, more *types.MoreData) ([]*types.Thing, *types.MoreData, error) {
	if more == nil || len(more.Children) == 0 {
		return nil, nil, nil
	}

	const batchSize = 20
	batch := more.Children
	if len(batch) > batchSize {
		batch = batch[:batchSize]
	}

	fields := types.NewFields(
		"link_id", linkFullname,
		"children", strings.Join(batch, ","),
		"api_type", "json",
	)

	rawURL, err := c.buildURL("api/morechildren", nil)
	if err != nil {
		return nil, nil, err
	}

	body, err := c.transport.Post(ctx, rawURL, fields)
	if err != nil {
		return nil, nil, err
	}
	if body == "" {
		// Deferred after a connectivity failure, or an empty acknowledgement;
		// nothing to expand yet.
		return nil, more, nil
	}

	var resp struct {
		JSON struct {
			Data struct {
				Things []*types.Thing `json:"things"`
			} `json:"data"`
		} `json:"json"`
	}
	if err := c.decoder.Decode([]byte(body), &resp); err != nil {
		return nil, nil, &pkgerrs.ParseError{Operation: "GetMoreChildren", Err: err}
	}

	var remainder *types.MoreData
	if len(more.Children) > batchSize {
		remainder = &types.MoreData{
			ThingData: more.ThingData,
			ParentID:  more.ParentID,
			Count:     more.Count - batchSize,
			Children:  more.Children[batchSize:],
		}
		if remainder.Count < 0 {
			remainder.Count = 0
		}
	}
	return resp.JSON.Data.Things, remainder, nil
}

// getListing fetches and assembles a listing endpoint.
func (c *Client) getListing(ctx context.Context, op, path string, ceiling int, opts *ListingOptions) (*types.Listing, error) {
	return c.getListingWith(ctx, op, path, ceiling, opts, nil)
}

// getListingWith is getListing with extra query fields ahead of the
// pagination parameters.
func (c *Client) getListingWith(ctx context.Context, op, path string, ceiling int, opts *ListingOptions, extra types.Fields) (*types.Listing, error) {
	query := extra.Clone()

	requested := 0
	fresh := false
	var progress types.ProgressFunc
	if opts != nil {
		requested = opts.Limit
		fresh = opts.Fresh
		progress = opts.Progress
		if opts.After != "" {
			query.Add("after", opts.After)
		}
		if opts.Before != "" {
			query.Add("before", opts.Before)
		}
	}
	query.Add("limit", strconv.Itoa(c.clampLimit(requested, ceiling)))

	rawURL, err := c.buildURL(path, query)
	if err != nil {
		return nil, err
	}

	if c.cache != nil && !fresh {
		cached, err := c.cache.GetListing(ctx, rawURL)
		if err == nil && cached != nil {
			return cached, nil
		}
	}

	body, err := c.transport.Get(ctx, rawURL, progress, nil)
	if err != nil {
		return c.emptyOnMalformed(err)
	}

	listing, err := c.assemble(op, body)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		_ = c.cache.SetListing(ctx, rawURL, listing)
	}
	return listing, nil
}

// getUserListing fetches a listing scoped to the logged-in user.
func (c *Client) getUserListing(ctx context.Context, op, section string, opts *ListingOptions) (*types.Listing, error) {
	username := c.State().Username
	if username == "" {
		return nil, &pkgerrs.StateError{Operation: op, Message: "no logged-in user"}
	}
	return c.getListing(ctx, op, "user/"+username+"/"+section+".json", defaultListingLimit, opts)
}

func (c *Client) assemble(op string, body string) (*types.Listing, error) {
	listing, err := internal.AssembleListing(body, c.decoder)
	if err != nil {
		var parseErr *pkgerrs.ParseError
		if errors.As(err, &parseErr) {
			return nil, err
		}
		return nil, &pkgerrs.ParseError{Operation: op, Err: err}
	}
	return listing, nil
}

// emptyOnMalformed maps the empty-body sentinels, which the transport
// reports as EmptyResponseError, onto an empty listing: the upstream sends
// them for folders and feeds with no content.
func (c *Client) emptyOnMalformed(err error) (*types.Listing, error) {
	var emptyErr *pkgerrs.EmptyResponseError
	if errors.As(err, &emptyErr) {
		return &types.Listing{Kind: internal.ListingKind}, nil
	}
	return nil, err
}

// clampLimit resolves the page size: the endpoint ceiling by default,
// raised for gold accounts, never above what the tier allows.
func (c *Client) clampLimit(requested, ceiling int) int {
	max := ceiling
	if c.State().IsGold {
		max = goldListingLimit
	}
	if requested <= 0 || requested > max {
		return max
	}
	return requested
}

func (c *Client) decodeThing(op, body string) (*types.Thing, error) {
	var thing types.Thing
	if err := c.decoder.Decode([]byte(body), &thing); err != nil {
		return nil, &pkgerrs.ParseError{Operation: op, Err: err}
	}
	return &thing, nil
}

func (c *Client) decodeAccount(op, body string) (*types.AccountData, error) {
	thing, err := c.decodeThing(op, body)
	if err != nil {
		return nil, err
	}
	if thing.Kind == "" {
		// api/me.json answers with a bare {"data": {...}} wrapper.
		thing.Kind = "t2"
	}
	return c.parser.ParseAccount(thing)
}
