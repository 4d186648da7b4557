package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/snoowire/snoowire"
	"github.com/snoowire/snoowire/pkg/types"
)

func main() {
	// Get credentials from environment variables
	appID := os.Getenv("REDDIT_APP_ID")
	appSecret := os.Getenv("REDDIT_APP_SECRET")
	username := os.Getenv("REDDIT_USERNAME")
	password := os.Getenv("REDDIT_PASSWORD")

	// Route structured logs to stdout; adjust the level as needed.
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	sink := snoowire.NewMemoryDeferralSink()

	config := &snoowire.Config{
		AppID:        appID,
		AppSecret:    appSecret,
		UserAgent:    "example-bot/1.0 by YourUsername",
		Logger:       logger,
		DeferralSink: sink,
	}

	client, err := snoowire.NewClient(config)
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}

	ctx := context.Background()

	// If we have user credentials, log in and show who we are
	if username != "" && password != "" {
		if err := client.Login(ctx, username, password); err != nil {
			log.Fatalf("Failed to log in: %v", err)
		}
		userInfo, err := client.Me(ctx)
		if err != nil {
			log.Printf("Failed to get user info: %v", err)
		} else {
			fmt.Printf("Authenticated as user: %s (gold: %v)\n", userInfo.Name, userInfo.IsGold)
		}
	}

	// Get posts from r/golang
	posts, err := client.GetPostsBySubreddit(ctx, "golang", &snoowire.ListingOptions{Limit: 5})
	if err != nil {
		log.Printf("Failed to get posts: %v", err)
	} else {
		fmt.Println("\nPosts from r/golang:")
		for i, child := range posts.Data.Children {
			if child.Kind != "t3" {
				continue
			}
			var link types.Link
			if err := child.DecodeData(&link); err != nil {
				log.Printf("Failed to decode post: %v", err)
				continue
			}
			fmt.Printf("%d. %s (score: %d, comments: %d)\n",
				i+1, link.Title, link.Score, link.NumComments)
		}
		if posts.Data.AfterFullname != "" {
			fmt.Printf("Next page: %s\n", posts.Data.AfterFullname)
		}
	}

	// Get subreddit info
	subredditInfo, err := client.GetSubreddit(ctx, "golang")
	if err != nil {
		log.Printf("Failed to get subreddit info: %v", err)
	} else {
		fmt.Printf("\nr/%s: %d subscribers\n", subredditInfo.DisplayName, subredditInfo.Subscribers)
	}

	// Walk the first page of posts through the iterator
	it := client.NewPostIterator(ctx, "golang").WithLimit(10)
	count := 0
	for it.HasNext() && count < 10 {
		thing, err := it.Next()
		if err != nil {
			break
		}
		fmt.Printf("iterated: %s %s\n", thing.Kind, thingName(thing))
		count++
	}

	// Replay anything the transport deferred after connectivity failures
	for {
		processed, err := client.ProcessDeferred(ctx)
		if err != nil {
			log.Printf("Deferred replay failed: %v", err)
			break
		}
		if !processed {
			break
		}
	}
}

func thingName(thing *types.Thing) string {
	var data types.ThingData
	if err := thing.DecodeData(&data); err != nil {
		return "?"
	}
	return data.Name
}
