package snoowire

import (
	"context"
	"strconv"
	"strings"

	"github.com/snoowire/snoowire/internal"
	pkgerrs "github.com/snoowire/snoowire/pkg/errors"
	"github.com/snoowire/snoowire/pkg/types"
)

// SubmitPostRequest describes a new post. Kind is "link" or "self"; URL is
// used for link posts, Text for self posts.
type SubmitPostRequest struct {
	Subreddit string
	Title     string
	Kind      string
	URL       string
	Text      string
	Resubmit  bool
}

// Vote casts a vote on a post or comment. direction is 1 for an upvote,
// -1 for a downvote, and 0 to rescind.
func (c *Client) Vote(ctx context.Context, fullname string, direction int) error {
	if direction < -1 || direction > 1 {
		return &pkgerrs.StateError{Operation: "Vote", Message: "direction must be -1, 0, or 1"}
	}
	return c.mutate(ctx, "api/vote", c.mutationFields(
		"id", fullname,
		"dir", strconv.Itoa(direction),
	))
}

// Subscribe subscribes the logged-in user to a subreddit, or unsubscribes
// when subscribe is false. fullname is the subreddit's t5 fullname.
func (c *Client) Subscribe(ctx context.Context, fullname string, subscribe bool) error {
	action := "sub"
	if !subscribe {
		action = "unsub"
	}
	return c.mutate(ctx, "api/subscribe", c.mutationFields(
		"action", action,
		"sr", fullname,
	))
}

// Save saves a post or comment to the user's saved list.
func (c *Client) Save(ctx context.Context, fullname string) error {
	return c.mutate(ctx, "api/save", c.mutationFields("id", fullname))
}

// Unsave removes a post or comment from the user's saved list.
func (c *Client) Unsave(ctx context.Context, fullname string) error {
	return c.mutate(ctx, "api/unsave", c.mutationFields("id", fullname))
}

// Report reports a post or comment to the subreddit's moderators.
func (c *Client) Report(ctx context.Context, fullname string) error {
	return c.mutate(ctx, "api/report", c.mutationFields("id", fullname))
}

// Approve approves a reported or removed item. Moderator only.
func (c *Client) Approve(ctx context.Context, fullname string) error {
	return c.mutate(ctx, "api/approve", c.mutationFields("id", fullname))
}

// Remove removes an item from its subreddit, marking it as spam when spam
// is true. Moderator only.
func (c *Client) Remove(ctx context.Context, fullname string, spam bool) error {
	return c.mutate(ctx, "api/remove", c.mutationFields(
		"id", fullname,
		"spam", strconv.FormatBool(spam),
	))
}

// IgnoreReports suppresses further report notifications for an item.
// Moderator only.
func (c *Client) IgnoreReports(ctx context.Context, fullname string) error {
	return c.mutate(ctx, "api/ignore_reports", c.mutationFields("id", fullname))
}

// Friend adds a user to a relationship container: "friend" on the user's
// own account, or "contributor", "moderator", "banned" against a
// subreddit's t5 fullname.
func (c *Client) Friend(ctx context.Context, container, username, relationship string) error {
	return c.mutate(ctx, "api/friend", c.mutationFields(
		"container", container,
		"name", username,
		"type", relationship,
	))
}

// Unfriend removes a user from a relationship container. See Friend.
func (c *Client) Unfriend(ctx context.Context, container, username, relationship string) error {
	return c.mutate(ctx, "api/unfriend", c.mutationFields(
		"container", container,
		"name", username,
		"type", relationship,
	))
}

// AddContributor grants a user contributor status on a subreddit.
func (c *Client) AddContributor(ctx context.Context, subredditFullname, username string) error {
	return c.Friend(ctx, subredditFullname, username, "contributor")
}

// RemoveContributor revokes a user's contributor status on a subreddit.
func (c *Client) RemoveContributor(ctx context.Context, subredditFullname, username string) error {
	return c.Unfriend(ctx, subredditFullname, username, "contributor")
}

// AddModerator grants a user moderator status on a subreddit.
func (c *Client) AddModerator(ctx context.Context, subredditFullname, username string) error {
	return c.Friend(ctx, subredditFullname, username, "moderator")
}

// RemoveModerator revokes a user's moderator status on a subreddit.
func (c *Client) RemoveModerator(ctx context.Context, subredditFullname, username string) error {
	return c.Unfriend(ctx, subredditFullname, username, "moderator")
}

// BanUser bans a user from a subreddit.
func (c *Client) BanUser(ctx context.Context, subredditFullname, username string) error {
	return c.Friend(ctx, subredditFullname, username, "banned")
}

// UnbanUser lifts a user's ban from a subreddit.
func (c *Client) UnbanUser(ctx context.Context, subredditFullname, username string) error {
	return c.Unfriend(ctx, subredditFullname, username, "banned")
}

// ReadMessage marks a private message as read.
func (c *Client) ReadMessage(ctx context.Context, fullname string) error {
	return c.mutate(ctx, "api/read_message", c.mutationFields("id", fullname))
}

// MarkVisited records posts as visited so the upstream renders them as
// such. The endpoint is restricted to gold accounts; calling it without
// gold is rejected locally.
func (c *Client) MarkVisited(ctx context.Context, fullnames []string) error {
	if !c.State().IsGold {
		return &pkgerrs.StateError{Operation: "MarkVisited", Message: "store_visits requires a gold account"}
	}
	return c.mutate(ctx, "api/store_visits", c.mutationFields(
		"links", strings.Join(fullnames, ","),
	))
}

// SubmitPost submits a new post. Submissions may be challenged with a
// captcha; the configured CaptchaProvider supplies the answer and the post
// is resubmitted.
func (c *Client) SubmitPost(ctx context.Context, req *SubmitPostRequest) error {
	if req == nil {
		return &pkgerrs.StateError{Operation: "SubmitPost", Message: "request cannot be nil"}
	}

	fields := c.mutationFields(
		"sr", req.Subreddit,
		"title", req.Title,
		"kind", req.Kind,
	)
	if req.Kind == "self" {
		fields.Add("text", req.Text)
	} else {
		fields.Add("url", req.URL)
	}
	if req.Resubmit {
		fields.Add("resubmit", "true")
	}

	_, err := c.submitCaptchable(ctx, "api/submit", fields)
	return err
}

// Comment posts a comment or reply under a post, comment, or message.
func (c *Client) Comment(ctx context.Context, parentFullname, text string) error {
	fields := c.mutationFields(
		"thing_id", parentFullname,
		"text", text,
	)
	_, err := c.submitCaptchable(ctx, "api/comment", fields)
	return err
}

// Compose sends a private message.
func (c *Client) Compose(ctx context.Context, to, subject, body string) error {
	fields := c.mutationFields(
		"to", to,
		"subject", subject,
		"text", body,
	)
	_, err := c.submitCaptchable(ctx, "api/compose", fields)
	return err
}

// EditPost replaces the body of a self post authored by the logged-in
// user.
func (c *Client) EditPost(ctx context.Context, fullname, text string) error {
	return c.editUserText(ctx, fullname, text)
}

// EditComment replaces the body of a comment authored by the logged-in
// user.
func (c *Client) EditComment(ctx context.Context, fullname, text string) error {
	return c.editUserText(ctx, fullname, text)
}

func (c *Client) editUserText(ctx context.Context, fullname, text string) error {
	return c.mutate(ctx, "api/editusertext", c.mutationFields(
		"thing_id", fullname,
		"text", text,
		"api_type", "json",
	))
}

// ProcessDeferred replays exactly one deferred call, oldest first. It
// returns false when the queue is empty. A replay that fails with another
// connectivity error is re-deferred by the transport, so the write intent
// is never dropped.
func (c *Client) ProcessDeferred(ctx context.Context) (bool, error) {
	if c.sink == nil {
		return false, nil
	}
	call, ok := c.sink.Dequeue()
	if !ok {
		return false, nil
	}
	return true, c.transport.Replay(ctx, call)
}

// mutate issues a single-shot mutating call and discards the body.
func (c *Client) mutate(ctx context.Context, path string, fields types.Fields) error {
	rawURL, err := c.buildURL(path, nil)
	if err != nil {
		return err
	}
	_, err = c.transport.Post(ctx, rawURL, fields)
	return err
}

// submitCaptchable issues a mutating call through the captcha loop, which
// resubmits with iden/captcha fields when the upstream challenges the
// submission.
func (c *Client) submitCaptchable(ctx context.Context, path string, fields types.Fields) (string, error) {
	rawURL, err := c.buildURL(path, nil)
	if err != nil {
		return "", err
	}
	loop := internal.NewCaptchaLoop(c.transport, c.captcha, c.logger)
	return loop.Post(ctx, rawURL, fields)
}

// mutationFields builds a form for a mutating call, attaching the session
// modhash when one is known.
func (c *Client) mutationFields(pairs ...string) types.Fields {
	fields := types.NewFields(pairs...)
	if uh := c.State().ModHash; uh != "" {
		fields.Add("uh", uh)
	}
	return fields
}
