package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/squidbot/squidbot/internal/backoff"
)

const (
	defaultSearchResults = 5
	searchCacheTTL       = 5 * time.Minute
	braveSearchURL       = "https://api.search.brave.com/res/v1/web/search"
	duckduckgoURL        = "https://api.duckduckgo.com/"
)

// searchResult is one rendered hit.
type searchResult struct {
	Title   string
	URL     string
	Snippet string
}

type searchCacheEntry struct {
	results   []searchResult
	expiresAt time.Time
}

// WebSearchTool searches the web through the Brave Search API when a key is
// configured, falling back to the DuckDuckGo instant answer API otherwise.
// Responses are cached for a few minutes.
type WebSearchTool struct {
	braveKey    string
	braveURL    string
	ddgURL      string
	httpClient  *http.Client
	retryPolicy backoff.Policy

	cacheMu sync.Mutex
	cache   map[string]searchCacheEntry
}

// NewWebSearchTool creates the search tool. braveKey may be empty.
func NewWebSearchTool(braveKey string) *WebSearchTool {
	return &WebSearchTool{
		braveKey:    braveKey,
		braveURL:    braveSearchURL,
		ddgURL:      duckduckgoURL,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		retryPolicy: backoff.Default(),
		cache:       make(map[string]searchCacheEntry),
	}
}

// retryableStatus reports whether a Brave response is worth retrying.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web and return titles, URLs and snippets for the top results."
}

func (t *WebSearchTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Search query.",
			},
			"count": map[string]any{
				"type":        "integer",
				"description": "Number of results to return (default 5).",
				"minimum":     1,
				"maximum":     20,
			},
		},
		"required": []string{"query"},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	var input struct {
		Query string `json:"query"`
		Count int    `json:"count"`
	}
	if err := decodeArgs(args, &input); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return "", errors.New("query is required")
	}
	count := input.Count
	if count <= 0 {
		count = defaultSearchResults
	}

	cacheKey := fmt.Sprintf("%d:%s", count, query)
	if results, ok := t.fromCache(cacheKey); ok {
		return renderSearchResults(query, results), nil
	}

	var (
		results []searchResult
		err     error
	)
	if t.braveKey != "" {
		results, err = t.searchBrave(ctx, query, count)
	} else {
		results, err = t.searchDuckDuckGo(ctx, query, count)
	}
	if err != nil {
		return "", err
	}

	t.putCache(cacheKey, results)
	return renderSearchResults(query, results), nil
}

func (t *WebSearchTool) fromCache(key string) ([]searchResult, bool) {
	t.cacheMu.Lock()
	defer t.cacheMu.Unlock()
	entry, ok := t.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.results, true
}

func (t *WebSearchTool) putCache(key string, results []searchResult) {
	t.cacheMu.Lock()
	defer t.cacheMu.Unlock()
	now := time.Now()
	for k, v := range t.cache {
		if now.After(v.expiresAt) {
			delete(t.cache, k)
		}
	}
	t.cache[key] = searchCacheEntry{results: results, expiresAt: now.Add(searchCacheTTL)}
}

func (t *WebSearchTool) searchBrave(ctx context.Context, query string, count int) ([]searchResult, error) {
	// Brave's free tier rate-limits aggressively, so transient statuses
	// get a couple of retries before the tool reports failure.
	return backoff.Retry(ctx, t.retryPolicy, 3, func(int) ([]searchResult, error) {
		return t.braveRequest(ctx, query, count)
	})
}

func (t *WebSearchTool) braveRequest(ctx context.Context, query string, count int) ([]searchResult, error) {
	u, err := url.Parse(t.braveURL)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("invalid search URL: %w", err))
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("count", fmt.Sprintf("%d", count))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", t.braveKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("brave search returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if !retryableStatus(resp.StatusCode) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	var braveResp struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&braveResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]searchResult, 0, count)
	for _, r := range braveResp.Web.Results {
		if len(results) >= count {
			break
		}
		results = append(results, searchResult{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return results, nil
}

func (t *WebSearchTool) searchDuckDuckGo(ctx context.Context, query string, count int) ([]searchResult, error) {
	u := fmt.Sprintf("%s?q=%s&format=json&no_html=1", t.ddgURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; squidbot/1.0)")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo returned status %d", resp.StatusCode)
	}

	var ddgResp struct {
		AbstractText  string `json:"AbstractText"`
		AbstractURL   string `json:"AbstractURL"`
		Heading       string `json:"Heading"`
		RelatedTopics []struct {
			FirstURL string `json:"FirstURL"`
			Text     string `json:"Text"`
		} `json:"RelatedTopics"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ddgResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]searchResult, 0, count)
	if ddgResp.AbstractText != "" && ddgResp.AbstractURL != "" {
		results = append(results, searchResult{
			Title:   ddgResp.Heading,
			URL:     ddgResp.AbstractURL,
			Snippet: ddgResp.AbstractText,
		})
	}
	for _, topic := range ddgResp.RelatedTopics {
		if len(results) >= count {
			break
		}
		if topic.FirstURL == "" || topic.Text == "" {
			continue
		}
		title := topic.Text
		if len(title) > 100 {
			title = title[:100]
		}
		results = append(results, searchResult{Title: title, URL: topic.FirstURL, Snippet: topic.Text})
	}
	return results, nil
}

func renderSearchResults(query string, results []searchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for '%s'.", query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Results for '%s':\n", query)
	for i, r := range results {
		fmt.Fprintf(&b, "\n%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", r.Snippet)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
