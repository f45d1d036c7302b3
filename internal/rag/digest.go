package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/coach/internal/agent/config"
)

const digestCacheTTL = 6 * time.Hour

// ChunkRetriever is the retrieval dependency of the digest pipeline.
type ChunkRetriever interface {
	Retrieve(ctx context.Context, query, userID string) ([]map[string]interface{}, error)
}

// ContextProvider supplies a user's learning context (week, topics,
// difficulty, goals).
type ContextProvider interface {
	LearningContext(ctx context.Context, userID string) (map[string]interface{}, error)
}

// DigestStore persists generated digests.
type DigestStore interface {
	SaveDigest(ctx context.Context, userID string, digest map[string]interface{}) error
}

// DigestGenerator orchestrates the full pipeline: cache check,
// retrieval, synthesis, quality gate, caching and persistence.
type DigestGenerator struct {
	retriever ChunkRetriever
	synth     Resynthesizer
	gate      *QualityGate
	contexts  ContextProvider
	store     DigestStore   // optional
	cache     *redis.Client // optional
	skipEval  bool
	logger    *log.Logger
}

func NewDigestGenerator(cfg *config.Config, retriever ChunkRetriever, synth Resynthesizer, gate *QualityGate, contexts ContextProvider, store DigestStore, cache *redis.Client, logger *log.Logger) *DigestGenerator {
	if logger == nil {
		logger = log.New(log.Writer(), "[DIGEST] ", log.LstdFlags)
	}
	return &DigestGenerator{
		retriever: retriever,
		synth:     synth,
		gate:      gate,
		contexts:  contexts,
		store:     store,
		cache:     cache,
		skipEval:  cfg.QualityGate.SkipEvaluation,
		logger:    logger,
	}
}

// Generate produces the digest for a user and date. It never returns
// an error: every failure mode degrades to an empty digest with a
// reason in the metadata.
func (g *DigestGenerator) Generate(ctx context.Context, userID string, date time.Time, maxInsights int, forceRefresh bool, explicitQuery string) map[string]interface{} {
	day := date.Format("2006-01-02")
	g.logger.Printf("generating digest for user %s, date %s", userID, day)

	if !forceRefresh {
		if cached := g.cachedDigest(ctx, userID, day); cached != nil {
			g.logger.Printf("returning cached digest")
			return cached
		}
	}

	learningContext := g.learningContext(ctx, userID)
	query := explicitQuery
	if query == "" {
		query = buildDigestQuery(learningContext)
	}

	chunks, err := g.retriever.Retrieve(ctx, query, userID)
	if err != nil {
		g.logger.Printf("retrieval failed: %v", err)
		return emptyDigest(day, "No relevant content found")
	}
	if len(chunks) == 0 {
		g.logger.Printf("no chunks retrieved, returning empty digest")
		return emptyDigest(day, "No relevant content found")
	}

	if maxInsights <= 0 {
		maxInsights = 7
	}
	if maxInsights > 10 {
		maxInsights = 10
	}
	result := g.synth.SynthesizeInsights(ctx, chunks, learningContext, query, maxInsights, false)
	insights, _ := result["insights"].([]map[string]interface{})
	if len(insights) == 0 {
		g.logger.Printf("no insights generated, returning empty digest")
		return emptyDigest(day, "Failed to generate insights")
	}

	var (
		scores map[string]float64
		passed bool
		badge  string
	)
	if g.skipEval {
		g.logger.Printf("skipping quality evaluation")
		scores = map[string]float64{}
		passed = true
		badge = "⚡"
	} else {
		insights, scores, passed = g.gate.ApplyGate(ctx, query, insights, chunks, learningContext, g.synth)
		badge = Badge(scores)
	}

	digest := map[string]interface{}{
		"date":           day,
		"insights":       insights,
		"quality_scores": scores,
		"quality_badge":  badge,
		"quality_passed": passed,
		"generated_at":   time.Now().UTC().Format(time.RFC3339),
		"metadata": map[string]interface{}{
			"query":            query,
			"learning_context": learningContext,
			"num_chunks_used":  len(chunks),
			"num_insights":     len(insights),
			"avg_similarity":   avgSimilarity(chunks),
		},
	}

	g.cacheDigest(ctx, userID, day, digest)
	if g.store != nil {
		if err := g.store.SaveDigest(ctx, userID, digest); err != nil {
			g.logger.Printf("storing digest failed: %v", err)
		}
	}

	g.logger.Printf("digest generated: %d insights, badge %s", len(insights), badge)
	return digest
}

func (g *DigestGenerator) learningContext(ctx context.Context, userID string) map[string]interface{} {
	if g.contexts != nil {
		if lc, err := g.contexts.LearningContext(ctx, userID); err == nil && len(lc) > 0 {
			return lc
		}
	}
	g.logger.Printf("no learning context for user %s, using defaults", userID)
	return map[string]interface{}{
		"current_week":     1,
		"current_topics":   []interface{}{"AI", "Machine Learning"},
		"difficulty_level": "intermediate",
		"learning_goals":   "Learn AI fundamentals",
	}
}

func (g *DigestGenerator) cachedDigest(ctx context.Context, userID, day string) map[string]interface{} {
	if g.cache == nil {
		return nil
	}
	raw, err := g.cache.Get(ctx, digestCacheKey(userID, day)).Result()
	if err != nil {
		return nil
	}
	var digest map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &digest); err != nil {
		return nil
	}
	// The round trip through JSON decodes insights as []interface{};
	// consumers expect the shape Generate produces.
	digest["insights"] = normalizeInsights(digest["insights"])
	digest["cached"] = true
	return digest
}

// normalizeInsights coerces a decoded insight list back to
// []map[string]interface{}.
func normalizeInsights(raw interface{}) []map[string]interface{} {
	switch list := raw.(type) {
	case []map[string]interface{}:
		return list
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(list))
		for _, item := range list {
			if m, ok := item.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return []map[string]interface{}{}
	}
}

func (g *DigestGenerator) cacheDigest(ctx context.Context, userID, day string, digest map[string]interface{}) {
	if g.cache == nil {
		return
	}
	raw, err := json.Marshal(digest)
	if err != nil {
		return
	}
	if err := g.cache.Set(ctx, digestCacheKey(userID, day), raw, digestCacheTTL).Err(); err != nil {
		g.logger.Printf("caching digest failed: %v", err)
	}
}

func digestCacheKey(userID, day string) string {
	return fmt.Sprintf("digest:%s:%s", userID, day)
}

func buildDigestQuery(learningContext map[string]interface{}) string {
	topics := "AI and Machine Learning"
	if raw := firstOf(learningContext, "current_topics", "topics"); raw != nil {
		if list, ok := raw.([]interface{}); ok && len(list) > 0 {
			parts := make([]string, 0, len(list))
			for _, t := range list {
				parts = append(parts, fmt.Sprint(t))
			}
			topics = strings.Join(parts, ", ")
		}
	}
	goal := ""
	if v, ok := firstOf(learningContext, "learning_goals", "goal").(string); ok {
		goal = v
	}
	if goal == "" {
		return topics
	}
	return fmt.Sprintf("%s for the goal: %s", topics, goal)
}

func emptyDigest(day, reason string) map[string]interface{} {
	return map[string]interface{}{
		"date":           day,
		"insights":       []map[string]interface{}{},
		"quality_scores": map[string]float64{},
		"quality_badge":  "⚠️",
		"quality_passed": false,
		"generated_at":   time.Now().UTC().Format(time.RFC3339),
		"metadata": map[string]interface{}{
			"error":        reason,
			"num_insights": 0,
		},
	}
}

func avgSimilarity(chunks []map[string]interface{}) float64 {
	if len(chunks) == 0 {
		return 0
	}
	var sum float64
	for _, chunk := range chunks {
		if v, ok := chunk["similarity"].(float64); ok {
			sum += v
		}
	}
	return sum / float64(len(chunks))
}
