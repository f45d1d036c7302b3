package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mohammad-safakhou/coach/internal/agent/config"
	"github.com/mohammad-safakhou/coach/internal/agent/core"
)

const synthesisSystemPrompt = `You are an educational content synthesizer. You turn retrieved
source material into concise, personalized learning insights. Every
claim must be grounded in the provided sources. Always return ONLY
strict JSON with no surrounding prose.`

const synthesisStrictAddition = `

STRICT MODE: Your previous attempt failed quality evaluation. This
time:
- Only state facts that appear verbatim or near-verbatim in the sources.
- Quote or closely paraphrase the source text in each explanation.
- Do not speculate, generalize, or add outside knowledge.
- Prefer fewer, better-grounded insights over broad coverage.`

const synthesisUserTemplate = `Create %d learning insights for this user.

Learning Context:
- Current Week: %v
- Current Topics: %s
- Difficulty Level: %s
- Learning Goals: %s

Query: %s

Retrieved Sources:
%s

For each insight provide a title, an explanation grounded in the
sources, why it is relevant to this user right now, and a practical
takeaway they can apply.

Return ONLY strict JSON:
{
  "insights": [
    {
      "title": "...",
      "explanation": "...",
      "relevance_reason": "...",
      "practical_takeaway": "...",
      "source": {"title": "...", "author": "...", "url": "...", "published_date": "..."},
      "metadata": {"confidence": 0.8, "estimated_read_time": 5, "difficulty_level": "intermediate", "tags": ["..."]}
    }
  ]
}`

// Synthesizer turns retrieved chunks into personalized learning
// insights via the LLM.
type Synthesizer struct {
	llm         core.LLMProvider
	model       string
	temperature float64
	maxTokens   int
	logger      *log.Logger
}

func NewSynthesizer(cfg *config.Config, llm core.LLMProvider, logger *log.Logger) *Synthesizer {
	if logger == nil {
		logger = log.New(log.Writer(), "[SYNTH] ", log.LstdFlags)
	}
	temperature := cfg.LLM.Temperature
	if temperature == 0 {
		temperature = 0.3
	}
	return &Synthesizer{
		llm:         llm,
		model:       cfg.LLM.Model,
		temperature: temperature,
		maxTokens:   8000,
		logger:      logger,
	}
}

// SynthesizeInsights generates insights from chunks. Failures come
// back as {insights: [], metadata: {error: ...}} rather than a Go
// error, so the digest pipeline degrades instead of aborting.
func (s *Synthesizer) SynthesizeInsights(ctx context.Context, chunks []map[string]interface{}, learningContext map[string]interface{}, query string, numInsights int, stricter bool) map[string]interface{} {
	s.logger.Printf("synthesizing %d insights from %d chunks (stricter=%v)", numInsights, len(chunks), stricter)

	if len(chunks) == 0 || query == "" || learningContext == nil {
		return map[string]interface{}{
			"insights": []map[string]interface{}{},
			"metadata": map[string]interface{}{"error": "Invalid inputs"},
		}
	}

	system := synthesisSystemPrompt
	if stricter {
		system += synthesisStrictAddition
	}
	prompt := system + "\n\n" + buildSynthesisUserPrompt(chunks, learningContext, query, numInsights)

	response, err := s.llm.Generate(ctx, prompt, s.model, core.GenerateOptions{
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
	})
	if err != nil {
		s.logger.Printf("synthesis failed: %v", err)
		return synthesisError(err)
	}

	insights, err := ParseInsights(response)
	if err != nil {
		s.logger.Printf("synthesis response unparseable: %v", err)
		return synthesisError(err)
	}

	insights = enrichInsights(insights, chunks)
	s.logger.Printf("synthesized %d insights", len(insights))

	return map[string]interface{}{
		"insights": insights,
		"metadata": map[string]interface{}{
			"num_chunks_used":        len(chunks),
			"model":                  s.model,
			"temperature":            s.temperature,
			"generated_at":           time.Now().UTC().Format(time.RFC3339),
			"query":                  query,
			"num_insights_requested": numInsights,
			"num_insights_generated": len(insights),
		},
	}
}

func synthesisError(err error) map[string]interface{} {
	return map[string]interface{}{
		"insights": []map[string]interface{}{},
		"metadata": map[string]interface{}{
			"error":        err.Error(),
			"generated_at": time.Now().UTC().Format(time.RFC3339),
		},
	}
}

func buildSynthesisUserPrompt(chunks []map[string]interface{}, learningContext map[string]interface{}, query string, numInsights int) string {
	week := firstOf(learningContext, "current_week", "week")
	if week == nil {
		week = "N/A"
	}
	topics := "AI and Machine Learning"
	if raw := firstOf(learningContext, "current_topics", "topics"); raw != nil {
		if list, ok := raw.([]interface{}); ok && len(list) > 0 {
			parts := make([]string, 0, len(list))
			for _, t := range list {
				parts = append(parts, fmt.Sprint(t))
			}
			topics = strings.Join(parts, ", ")
		} else if list, ok := raw.([]string); ok && len(list) > 0 {
			topics = strings.Join(list, ", ")
		}
	}
	difficulty := "intermediate"
	if v, ok := firstOf(learningContext, "difficulty_level", "difficulty").(string); ok && v != "" {
		difficulty = v
	}
	goal := "General AI/ML learning"
	if v, ok := firstOf(learningContext, "learning_goals", "goal").(string); ok && v != "" {
		goal = v
	}
	return fmt.Sprintf(synthesisUserTemplate, numInsights, week, topics, difficulty, goal, query, BuildContextText(chunks))
}

// BuildContextText formats chunks as numbered source blocks for the
// synthesis prompt.
func BuildContextText(chunks []map[string]interface{}) string {
	var b strings.Builder
	for i, chunk := range chunks {
		title := chunkStr(chunk, "Untitled", "content_title", "source_title")
		author := chunkStr(chunk, "Unknown", "content_author", "source_author")
		url := chunkStr(chunk, "N/A", "content_url", "source_url")
		published := chunkStr(chunk, "N/A", "published_at", "created_at")
		content := chunkStr(chunk, "", "chunk_text", "content")
		similarity := 0.0
		if v, ok := chunk["similarity"].(float64); ok {
			similarity = v
		}
		fmt.Fprintf(&b, `## Source %d: %s

**Author**: %s
**URL**: %s
**Published**: %s
**Relevance Score**: %.3f

### Content:
%s

---

`, i+1, title, author, url, published, similarity, content)
	}
	return b.String()
}

// ParseInsights extracts and validates the insights array from a raw
// LLM response. Individual malformed insights are skipped; a response
// with no usable JSON is an error.
func ParseInsights(response string) ([]map[string]interface{}, error) {
	block := core.ExtractJSONBlock(response)
	if block == "" {
		return nil, fmt.Errorf("could not extract valid JSON from response")
	}
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(block), &payload); err != nil {
		return nil, fmt.Errorf("could not extract valid JSON from response: %w", err)
	}
	rawList, ok := payload["insights"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("response missing 'insights' array")
	}

	insights := make([]map[string]interface{}, 0, len(rawList))
	for _, raw := range rawList {
		item, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		normalized, err := normalizeInsight(item)
		if err != nil {
			continue
		}
		insights = append(insights, normalized)
	}
	return insights, nil
}

func normalizeInsight(insight map[string]interface{}) (map[string]interface{}, error) {
	title, ok := insight["title"].(string)
	if !ok || title == "" {
		return nil, fmt.Errorf("missing required field: title")
	}
	explanation, ok := insight["explanation"].(string)
	if !ok || explanation == "" {
		return nil, fmt.Errorf("missing required field: explanation")
	}

	normalized := map[string]interface{}{
		"title":              title,
		"explanation":        explanation,
		"relevance_reason":   stringOr(insight["relevance_reason"], ""),
		"practical_takeaway": stringOr(insight["practical_takeaway"], ""),
	}

	source := map[string]interface{}{
		"title": "Unknown", "author": "Unknown", "url": "", "published_date": "",
	}
	if raw, ok := insight["source"].(map[string]interface{}); ok {
		source = map[string]interface{}{
			"title":          stringOr(raw["title"], "Unknown"),
			"author":         stringOr(raw["author"], "Unknown"),
			"url":            stringOr(raw["url"], ""),
			"published_date": stringOr(raw["published_date"], ""),
		}
	}
	normalized["source"] = source

	metadata := map[string]interface{}{
		"confidence": 0.8, "estimated_read_time": 5,
		"difficulty_level": "intermediate", "tags": []interface{}{},
	}
	if raw, ok := insight["metadata"].(map[string]interface{}); ok {
		if v, ok := raw["confidence"].(float64); ok {
			metadata["confidence"] = v
		}
		if v, ok := raw["estimated_read_time"].(float64); ok {
			metadata["estimated_read_time"] = int(v)
		}
		if v, ok := raw["difficulty_level"].(string); ok && v != "" {
			metadata["difficulty_level"] = v
		}
		if v, ok := raw["tags"].([]interface{}); ok {
			metadata["tags"] = v
		}
	}
	normalized["metadata"] = metadata

	return normalized, nil
}

// enrichInsights fills incomplete insight sources from the chunks they
// were synthesized from. Unmatched insights fall back to the first
// known source.
func enrichInsights(insights, chunks []map[string]interface{}) []map[string]interface{} {
	order := make([]string, 0, len(chunks))
	sourceMap := make(map[string]map[string]interface{})
	for _, chunk := range chunks {
		title := chunkStr(chunk, "", "content_title", "source_title")
		if title == "" {
			continue
		}
		if _, seen := sourceMap[title]; seen {
			continue
		}
		order = append(order, title)
		sourceMap[title] = map[string]interface{}{
			"title":          title,
			"author":         chunkStr(chunk, "Unknown", "content_author", "source_author"),
			"url":            chunkStr(chunk, "", "content_url", "source_url"),
			"published_date": chunkStr(chunk, "", "published_at", "created_at"),
		}
	}
	if len(order) == 0 {
		return insights
	}

	for _, insight := range insights {
		title := ""
		if source, ok := insight["source"].(map[string]interface{}); ok {
			title = stringOr(source["title"], "")
		}
		if full, ok := sourceMap[title]; ok {
			insight["source"] = full
		} else {
			insight["source"] = sourceMap[order[0]]
		}
	}
	return insights
}

func chunkStr(chunk map[string]interface{}, fallback string, keys ...string) string {
	for _, key := range keys {
		if v, ok := chunk[key].(string); ok && v != "" {
			return v
		}
	}
	return fallback
}

func stringOr(v interface{}, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}

func firstOf(m map[string]interface{}, keys ...string) interface{} {
	for _, key := range keys {
		if v, ok := m[key]; ok && v != nil {
			return v
		}
	}
	return nil
}
