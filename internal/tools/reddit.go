package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aide-chat/aide/internal/toolkit"
)

const defaultRedditBaseURL = "https://www.reddit.com"

var redditListings = []string{"hot", "new", "top", "rising"}

// Reddit returns the subreddit listing tool, reading the public JSON
// listings without authentication.
func Reddit(baseURL, userAgent string, client *http.Client) toolkit.NativeFunction {
	if baseURL == "" {
		baseURL = defaultRedditBaseURL
	}
	if userAgent == "" {
		userAgent = "aide/1.0"
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return toolkit.NativeFunction{
		Name:        "reddit",
		Description: "Fetch post titles from a subreddit listing.",
		Required: []toolkit.Param{
			{Name: "subreddit", Type: toolkit.TypeString, Description: "Subreddit name without the r/ prefix."},
		},
		Optional: []toolkit.Param{
			{Name: "listing", Type: toolkit.TypeString, Enum: redditListings, Description: "Listing to fetch. Defaults to hot."},
			{Name: "limit", Type: toolkit.TypeInteger, Description: "Number of posts, 1-25. Defaults to 10."},
		},
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			subreddit, _ := args["subreddit"].(string)
			listing, _ := args["listing"].(string)
			if listing == "" {
				listing = "hot"
			}
			limit := 10
			if n, ok := toInt(args["limit"]); ok && n > 0 {
				limit = min(n, 25)
			}
			return fetchListing(ctx, client, baseURL, userAgent, subreddit, listing, limit)
		},
	}
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data struct {
				Title     string  `json:"title"`
				Score     int     `json:"score"`
				Permalink string  `json:"permalink"`
				Author    string  `json:"author"`
				Ratio     float64 `json:"upvote_ratio"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

func fetchListing(ctx context.Context, client *http.Client, baseURL, userAgent, subreddit, listing string, limit int) (string, error) {
	subreddit = strings.TrimPrefix(strings.TrimSpace(subreddit), "r/")
	endpoint := fmt.Sprintf("%s/r/%s/%s.json?limit=%d",
		baseURL, url.PathEscape(subreddit), url.PathEscape(listing), limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("reddit request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reddit returned status %d for r/%s", resp.StatusCode, subreddit)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	var parsed redditListing
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decoding reddit response: %w", err)
	}
	if len(parsed.Data.Children) == 0 {
		return fmt.Sprintf("no posts found in r/%s", subreddit), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "r/%s (%s):\n", subreddit, listing)
	for i, child := range parsed.Data.Children {
		post := child.Data
		fmt.Fprintf(&sb, "%d. %s (score %d, by u/%s) %s%s\n",
			i+1, post.Title, post.Score, post.Author, baseURL, post.Permalink)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
