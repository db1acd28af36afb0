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

const defaultSearchBaseURL = "https://api.duckduckgo.com"

// WebSearch returns the web search tool backed by the DuckDuckGo instant
// answer API. baseURL overrides the endpoint for tests and self-hosted
// proxies; empty selects the public API.
func WebSearch(baseURL string, client *http.Client) toolkit.NativeFunction {
	if baseURL == "" {
		baseURL = defaultSearchBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return toolkit.NativeFunction{
		Name:        "websearch",
		Description: "Search the web and return a short summary with related results.",
		Required: []toolkit.Param{
			{Name: "query", Type: toolkit.TypeString, Description: "The search query."},
		},
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			return search(ctx, client, baseURL, query)
		},
	}
}

type searchResponse struct {
	AbstractText  string `json:"AbstractText"`
	AbstractURL   string `json:"AbstractURL"`
	Answer        string `json:"Answer"`
	RelatedTopics []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
	} `json:"RelatedTopics"`
}

func search(ctx context.Context, client *http.Client, baseURL, query string) (string, error) {
	endpoint := fmt.Sprintf("%s/?q=%s&format=json&no_html=1", baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decoding search response: %w", err)
	}

	var sb strings.Builder
	if parsed.Answer != "" {
		fmt.Fprintf(&sb, "%s\n", parsed.Answer)
	}
	if parsed.AbstractText != "" {
		fmt.Fprintf(&sb, "%s (%s)\n", parsed.AbstractText, parsed.AbstractURL)
	}
	count := 0
	for _, topic := range parsed.RelatedTopics {
		if topic.Text == "" {
			continue
		}
		fmt.Fprintf(&sb, "- %s (%s)\n", topic.Text, topic.FirstURL)
		count++
		if count >= 5 {
			break
		}
	}
	if sb.Len() == 0 {
		return fmt.Sprintf("no results found for %q", query), nil
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
