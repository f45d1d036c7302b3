package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode"

	"github.com/mohammad-safakhou/coach/internal/agent/config"
	"github.com/mohammad-safakhou/coach/internal/agent/core"
)

// Searcher is the slice of the retriever the planner needs: semantic
// search over already-ingested content.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]map[string]interface{}, error)
}

// ContentGap names a topic the local database does not cover well
// enough to answer the user's query.
type ContentGap struct {
	Topic          string `json:"topic"`
	Reason         string `json:"reason"`
	Priority       string `json:"priority"`
	SuggestedQuery string `json:"suggested_query"`
}

// ContentAnalysis is the outcome of checking local coverage for a query.
type ContentAnalysis struct {
	Query           string                   `json:"query"`
	DBResultsCount  int                      `json:"db_results_count"`
	TopicsCovered   []string                 `json:"topics_covered"`
	CoverageGaps    []ContentGap             `json:"coverage_gaps"`
	ExistingSources []map[string]interface{} `json:"existing_sources"`
	NeedsWebSearch  bool                     `json:"needs_web_search"`
	ConfidenceScore float64                  `json:"confidence_score"`
}

// SearchQuery is one proposed web search within a research plan.
type SearchQuery struct {
	Query           string `json:"query"`
	Rationale       string `json:"rationale"`
	ExpectedResults int    `json:"expected_results"`
	Priority        string `json:"priority"`
}

// ResearchPlan is a reviewable proposal of web searches. Nothing in it
// has been executed; the agent surfaces it for approval first.
type ResearchPlan struct {
	UserQuery              string          `json:"user_query"`
	ContentAnalysis        ContentAnalysis `json:"content_analysis"`
	SearchQueries          []SearchQuery   `json:"search_queries"`
	EstimatedTotalSearches int             `json:"estimated_total_searches"`
	EstimatedAPICredits    int             `json:"estimated_api_credits"`
	CreatedAt              string          `json:"created_at"`
	Rationale              string          `json:"rationale"`
}

// ResearchPlanner decides whether local content suffices for a query
// and, when it does not, drafts the web searches to fill the gaps.
type ResearchPlanner struct {
	searcher  Searcher
	llm       core.LLMProvider
	model     string
	threshold int
	logger    *log.Logger
}

const (
	maxGaps         = 3
	maxTopics       = 10
	searchK         = 20
	perGapResults   = 5
	gapPenalty      = 0.15
	gapPromptTokens = 500
)

func NewResearchPlanner(cfg *config.Config, searcher Searcher, llm core.LLMProvider, logger *log.Logger) *ResearchPlanner {
	if logger == nil {
		logger = log.New(log.Writer(), "[PLANNER] ", log.LstdFlags)
	}
	threshold := cfg.Agent.SearchThreshold
	if threshold <= 0 {
		threshold = 3
	}
	return &ResearchPlanner{
		searcher:  searcher,
		llm:       llm,
		model:     cfg.LLM.Model,
		threshold: threshold,
		logger:    logger,
	}
}

// AnalyzeCoverage checks how well the local database covers a query.
// Retrieval failures degrade to a zero-confidence analysis that sends
// the caller toward web search rather than returning an error.
func (p *ResearchPlanner) AnalyzeCoverage(ctx context.Context, query, level string) ContentAnalysis {
	p.logger.Printf("analyzing coverage for query: %s", query)

	results, err := p.searcher.Search(ctx, query, searchK)
	if err != nil {
		p.logger.Printf("coverage search failed: %v", err)
		return ContentAnalysis{
			Query:         query,
			TopicsCovered: []string{},
			CoverageGaps: []ContentGap{{
				Topic:          query,
				Reason:         "Database query failed",
				Priority:       "high",
				SuggestedQuery: query,
			}},
			ExistingSources: []map[string]interface{}{},
			NeedsWebSearch:  true,
			ConfidenceScore: 0.0,
		}
	}

	count := len(results)
	p.logger.Printf("found %d results in database", count)

	topics := extractTopics(results)
	gaps := p.identifyGaps(ctx, query, level, results)

	sources := make([]map[string]interface{}, 0, 5)
	for _, item := range results {
		if len(sources) == 5 {
			break
		}
		sources = append(sources, map[string]interface{}{
			"title":        str(item["title"], "Untitled"),
			"url":          str(item["url"], ""),
			"author":       str(item["author"], "Unknown"),
			"published_at": str(item["published_at"], ""),
		})
	}

	return ContentAnalysis{
		Query:           query,
		DBResultsCount:  count,
		TopicsCovered:   topics,
		CoverageGaps:    gaps,
		ExistingSources: sources,
		NeedsWebSearch:  count < p.threshold || len(gaps) > 0,
		ConfidenceScore: confidenceScore(count, len(gaps)),
	}
}

// CreatePlan turns a coverage analysis into concrete search queries,
// one per gap, tuned to the user's difficulty level.
func (p *ResearchPlanner) CreatePlan(analysis ContentAnalysis, level string) ResearchPlan {
	p.logger.Printf("creating research plan for: %s", analysis.Query)

	queries := make([]SearchQuery, 0, len(analysis.CoverageGaps))
	for _, gap := range analysis.CoverageGaps {
		queries = append(queries, SearchQuery{
			Query:           enhanceQuery(gap.SuggestedQuery, level),
			Rationale:       gap.Reason,
			ExpectedResults: perGapResults,
			Priority:        gap.Priority,
		})
	}

	// No specific gaps but the database is still thin: fall back to a
	// single general search on the original query.
	if len(queries) == 0 && analysis.NeedsWebSearch {
		queries = append(queries, SearchQuery{
			Query:           enhanceQuery(analysis.Query, level),
			Rationale:       "Insufficient database coverage",
			ExpectedResults: perGapResults,
			Priority:        "medium",
		})
	}

	return ResearchPlan{
		UserQuery:              analysis.Query,
		ContentAnalysis:        analysis,
		SearchQueries:          queries,
		EstimatedTotalSearches: len(queries),
		EstimatedAPICredits:    len(queries), // one credit per basic search
		CreatedAt:              time.Now().UTC().Format(time.RFC3339),
		Rationale:              p.planRationale(analysis, queries),
	}
}

// ToMap renders the plan as a generic payload for tool results.
func (r ResearchPlan) ToMap() map[string]interface{} {
	raw, err := json.Marshal(r)
	if err != nil {
		return map[string]interface{}{"error": err.Error()}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]interface{}{"error": err.Error()}
	}
	return out
}

// ToMap renders the analysis as a generic payload for tool results.
func (a ContentAnalysis) ToMap() map[string]interface{} {
	raw, err := json.Marshal(a)
	if err != nil {
		return map[string]interface{}{"error": err.Error()}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]interface{}{"error": err.Error()}
	}
	return out
}

func (p *ResearchPlanner) identifyGaps(ctx context.Context, query, level string, results []map[string]interface{}) []ContentGap {
	// Enough results means we assume good coverage.
	if len(results) >= 5 {
		return []ContentGap{}
	}
	// Nothing at all is an obvious gap.
	if len(results) == 0 {
		return []ContentGap{{
			Topic:          query,
			Reason:         "No content found in database",
			Priority:       "high",
			SuggestedQuery: query,
		}}
	}

	var lines []string
	for i, r := range results {
		if i == 5 {
			break
		}
		lines = append(lines, fmt.Sprintf("- %s by %s", str(r["title"], "Untitled"), str(r["author"], "Unknown")))
	}
	if level == "" {
		level = "intermediate"
	}

	prompt := fmt.Sprintf(`Analyze content coverage for a learning query.

User Query: %q
User Level: %s

Database Results Found (%d):
%s

Task: Identify what topics or aspects are MISSING or insufficiently covered.

Consider:
1. Key concepts related to the query
2. Practical examples or tutorials
3. Advanced/beginner content based on user level
4. Recent developments or updates

Return a JSON array of gaps (max 3):
[
  {
    "topic": "specific missing topic",
    "reason": "why this is missing or insufficient",
    "priority": "high|medium|low",
    "suggested_query": "web search query to fill this gap"
  }
]

If coverage is sufficient, return empty array: []`, query, level, len(results), strings.Join(lines, "\n"))

	fallback := []ContentGap{{
		Topic:          query,
		Reason:         "Limited database coverage",
		Priority:       "medium",
		SuggestedQuery: query,
	}}

	resp, err := p.llm.Generate(ctx, prompt, p.model, core.GenerateOptions{Temperature: 0.3, MaxTokens: gapPromptTokens})
	if err != nil {
		p.logger.Printf("gap analysis failed: %v", err)
		return fallback
	}

	var gaps []ContentGap
	if err := json.Unmarshal([]byte(extractJSONArray(resp)), &gaps); err != nil {
		p.logger.Printf("gap analysis returned unparseable response: %v", err)
		return fallback
	}
	if len(gaps) > maxGaps {
		gaps = gaps[:maxGaps]
	}
	p.logger.Printf("identified %d content gaps", len(gaps))
	return gaps
}

func (p *ResearchPlanner) planRationale(analysis ContentAnalysis, queries []SearchQuery) string {
	var parts []string

	switch {
	case analysis.DBResultsCount == 0:
		parts = append(parts, "No relevant content found in your database.")
	case analysis.DBResultsCount < p.threshold:
		parts = append(parts, fmt.Sprintf("Only %d results found in database (threshold: %d).",
			analysis.DBResultsCount, p.threshold))
	default:
		parts = append(parts, fmt.Sprintf("Found %d results in database, but coverage gaps identified.",
			analysis.DBResultsCount))
	}

	if len(analysis.CoverageGaps) > 0 {
		topics := make([]string, 0, 3)
		for i, gap := range analysis.CoverageGaps {
			if i == 3 {
				break
			}
			topics = append(topics, gap.Topic)
		}
		parts = append(parts, fmt.Sprintf("Missing coverage on: %s.", strings.Join(topics, ", ")))
	}

	parts = append(parts, fmt.Sprintf("Proposing %d web search(es) to supplement database content.", len(queries)))
	return strings.Join(parts, " ")
}

// confidenceScore grades database coverage from result count and gap
// count, on a 0.0 to 1.0 scale rounded to two decimals.
func confidenceScore(count, gaps int) float64 {
	var base float64
	switch {
	case count >= 10:
		base = 1.0
	case count >= 5:
		base = 0.8
	case count >= 3:
		base = 0.6
	case count >= 1:
		base = 0.4
	default:
		base = 0.0
	}
	score := base - float64(gaps)*gapPenalty
	if score < 0 {
		score = 0
	}
	return float64(int(score*100+0.5)) / 100
}

// extractTopics pulls rough topic words out of result titles: alpha
// words longer than 4 chars, up to 3 per title, 10 overall, plus any
// metadata tags.
func extractTopics(results []map[string]interface{}) []string {
	seen := make(map[string]bool)
	topics := make([]string, 0, maxTopics)

	add := func(topic string) {
		if topic == "" || seen[topic] || len(topics) >= maxTopics {
			return
		}
		seen[topic] = true
		topics = append(topics, topic)
	}

	for _, result := range results {
		title := str(result["title"], "")
		kept := 0
		for _, word := range strings.Fields(strings.ToLower(title)) {
			if kept == 3 {
				break
			}
			if len(word) > 4 && isAlpha(word) {
				add(word)
				kept++
			}
		}
		if meta, ok := result["metadata"].(map[string]interface{}); ok {
			if tags, ok := meta["tags"].([]interface{}); ok {
				for i, tag := range tags {
					if i == 3 {
						break
					}
					if s, ok := tag.(string); ok {
						add(s)
					}
				}
			}
		}
	}
	return topics
}

func enhanceQuery(query, level string) string {
	lower := strings.ToLower(level)
	switch {
	case strings.Contains(lower, "beginner"):
		return query + " tutorial for beginners"
	case strings.Contains(lower, "advanced"):
		return query + " advanced guide"
	default:
		return query
	}
}

func isAlpha(word string) bool {
	for _, r := range word {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return len(word) > 0
}

// extractJSONArray strips code fences and isolates the first JSON
// array in an LLM response.
func extractJSONArray(text string) string {
	if idx := strings.Index(text, "```json"); idx >= 0 {
		text = text[idx+len("```json"):]
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
	} else if idx := strings.Index(text, "```"); idx >= 0 {
		text = text[idx+3:]
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
	}
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end < start {
		return ""
	}
	return strings.TrimSpace(text[start : end+1])
}

func str(v interface{}, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}
