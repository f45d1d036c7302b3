package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mohammad-safakhou/coach/internal/agent/config"
	"github.com/mohammad-safakhou/coach/internal/capability"
)

// WebSearcher performs an external web search.
type WebSearcher interface {
	Search(ctx context.Context, query string, maxResults int, depth string, includeDomains []string) ([]map[string]interface{}, error)
	Configured() bool
}

// WebSearchTool searches the web via an external API. It is the only
// tool gated on explicit human approval: it spends API credits and
// returns uncurated sources.
type WebSearchTool struct {
	web WebSearcher
}

func (t *WebSearchTool) Name() string { return "web-search" }

func (t *WebSearchTool) Schema() capability.ToolSchema {
	return capability.ToolSchema{
		Name:        t.Name(),
		Description: "Search the web for educational content when the database doesn't have sufficient information. Returns results with full citations. Web results are not from curated sources",
		Parameters: map[string]capability.ParamSpec{
			"query":           {Type: "string", Description: "search query", Required: true},
			"max_results":     {Type: "integer", Description: "1-10 results", Default: 5},
			"search_depth":    {Type: "string", Description: "'basic' or 'advanced'", Default: "basic"},
			"include_domains": {Type: "array", Description: "full domains like ['wikipedia.org'], not TLDs"},
		},
		RequiresApproval: true,
	}
}

func (t *WebSearchTool) ValidateInput(args map[string]interface{}) error { return nil }

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	query := argString(args, "query", "")
	if query == "" {
		return map[string]interface{}{"results": []interface{}{}, "error": "Query cannot be empty"}, nil
	}
	if !t.web.Configured() {
		return map[string]interface{}{
			"results": []interface{}{},
			"error":   "TAVILY_API_KEY not configured. Set search.tavily_api_key or COACH_SEARCH_TAVILY_API_KEY.",
			"message": "Web search disabled: API key missing",
		}, nil
	}

	maxResults := argInt(args, "max_results", 5)
	depth := argString(args, "search_depth", "basic")
	domains := argStrings(args, "include_domains")

	items, err := t.web.Search(ctx, query, maxResults, depth, domains)
	if err != nil {
		return map[string]interface{}{
			"results": []interface{}{},
			"count":   0,
			"error":   err.Error(),
			"message": "Web search failed",
		}, nil
	}

	results := make([]interface{}, 0, len(items))
	citations := make([]interface{}, 0, len(items))
	for _, item := range items {
		results = append(results, map[string]interface{}{
			"title":          hitString(item, "Untitled", "title"),
			"content":        hitString(item, "", "content"),
			"url":            hitString(item, "", "url"),
			"score":          item["score"],
			"published_date": hitString(item, "", "published_date"),
			"source_type":    "web_search",
		})
		citations = append(citations, map[string]interface{}{
			"title":          hitString(item, "Untitled", "title"),
			"url":            hitString(item, "", "url"),
			"published_date": hitString(item, "", "published_date"),
		})
	}

	return map[string]interface{}{
		"results":    results,
		"count":      len(results),
		"source_api": "tavily",
		"citations":  citations,
		"search_metadata": map[string]interface{}{
			"query":        query,
			"searched_at":  time.Now().UTC().Format(time.RFC3339),
			"search_depth": depth,
			"max_results":  maxResults,
		},
		"message": fmt.Sprintf("Found %d results from web search", len(results)),
	}, nil
}

// TavilyClient implements WebSearcher against the Tavily search API.
type TavilyClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewTavilyClient(cfg *config.Config) *TavilyClient {
	timeout := cfg.Search.WebSearchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TavilyClient{
		apiKey:  cfg.Search.TavilyAPIKey,
		baseURL: "https://api.tavily.com",
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *TavilyClient) Configured() bool { return c.apiKey != "" }

func (c *TavilyClient) Search(ctx context.Context, query string, maxResults int, depth string, includeDomains []string) ([]map[string]interface{}, error) {
	payload := map[string]interface{}{
		"api_key":      c.apiKey,
		"query":        query,
		"max_results":  maxResults,
		"search_depth": depth,
	}
	if len(includeDomains) > 0 {
		payload["include_domains"] = includeDomains
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tavily returned status %d", resp.StatusCode)
	}

	var raw struct {
		Results []map[string]interface{} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	return raw.Results, nil
}
