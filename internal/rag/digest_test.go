package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

type fakeChunkRetriever struct {
	chunks []map[string]interface{}
	err    error
}

func (f *fakeChunkRetriever) Retrieve(ctx context.Context, query, userID string) ([]map[string]interface{}, error) {
	return f.chunks, f.err
}

type fakeContexts struct {
	lc map[string]interface{}
}

func (f *fakeContexts) LearningContext(ctx context.Context, userID string) (map[string]interface{}, error) {
	if f.lc == nil {
		return nil, fmt.Errorf("no progress for user")
	}
	return f.lc, nil
}

type recordingStore struct {
	saved []map[string]interface{}
}

func (s *recordingStore) SaveDigest(ctx context.Context, userID string, digest map[string]interface{}) error {
	s.saved = append(s.saved, digest)
	return nil
}

func passingGate() *QualityGate {
	metrics := &scriptedMetrics{rounds: [][3]float64{{0.9, 0.9, 0.9}}}
	return NewQualityGate(gateConfig(), NewEvaluator(metrics, 0.70, nil), nil, nil)
}

func TestGenerateDigest(t *testing.T) {
	retriever := &fakeChunkRetriever{chunks: testChunks()}
	synth := &recordingSynth{insights: testInsights(3)}
	store := &recordingStore{}
	gen := NewDigestGenerator(gateConfig(), retriever, synth, passingGate(), &fakeContexts{lc: map[string]interface{}{
		"current_week":   5,
		"current_topics": []interface{}{"transformers"},
		"learning_goals": "Understand attention",
	}}, store, nil, nil)

	digest := gen.Generate(context.Background(), "user-1", time.Now(), 5, false, "")
	if passed, _ := digest["quality_passed"].(bool); !passed {
		t.Fatalf("digest should pass the gate: %v", digest)
	}
	if digest["quality_badge"] != "🟢 Excellent" {
		t.Fatalf("badge: %v", digest["quality_badge"])
	}
	insights, _ := digest["insights"].([]map[string]interface{})
	if len(insights) != 3 {
		t.Fatalf("insights: %d", len(insights))
	}
	meta, _ := digest["metadata"].(map[string]interface{})
	if meta["num_chunks_used"] != 1 {
		t.Fatalf("metadata: %v", meta)
	}
	if len(store.saved) != 1 {
		t.Fatalf("digest should be persisted")
	}
}

func TestGenerateDigestEmptyRetrieval(t *testing.T) {
	gen := NewDigestGenerator(gateConfig(), &fakeChunkRetriever{}, &recordingSynth{}, passingGate(), &fakeContexts{}, nil, nil, nil)

	digest := gen.Generate(context.Background(), "user-1", time.Now(), 5, false, "anything")
	if passed, _ := digest["quality_passed"].(bool); passed {
		t.Fatalf("empty digest must not pass")
	}
	meta, _ := digest["metadata"].(map[string]interface{})
	if meta["error"] != "No relevant content found" {
		t.Fatalf("reason: %v", meta)
	}
	if digest["quality_badge"] != "⚠️" {
		t.Fatalf("badge: %v", digest["quality_badge"])
	}
}

func TestGenerateDigestNoInsights(t *testing.T) {
	gen := NewDigestGenerator(gateConfig(), &fakeChunkRetriever{chunks: testChunks()}, &recordingSynth{}, passingGate(), &fakeContexts{}, nil, nil, nil)

	digest := gen.Generate(context.Background(), "user-1", time.Now(), 5, false, "q")
	meta, _ := digest["metadata"].(map[string]interface{})
	if meta["error"] != "Failed to generate insights" {
		t.Fatalf("reason: %v", meta)
	}
}

func TestGenerateDigestSkipEvaluation(t *testing.T) {
	cfg := gateConfig()
	cfg.QualityGate.SkipEvaluation = true
	gen := NewDigestGenerator(cfg, &fakeChunkRetriever{chunks: testChunks()}, &recordingSynth{insights: testInsights(2)}, passingGate(), &fakeContexts{}, nil, nil, nil)

	digest := gen.Generate(context.Background(), "user-1", time.Now(), 5, false, "q")
	if digest["quality_badge"] != "⚡" {
		t.Fatalf("fast mode badge expected: %v", digest["quality_badge"])
	}
	if passed, _ := digest["quality_passed"].(bool); !passed {
		t.Fatalf("skip mode passes by definition")
	}
}

func TestGenerateDigestCapsInsights(t *testing.T) {
	synth := &recordingSynth{insights: testInsights(2)}
	gen := NewDigestGenerator(gateConfig(), &fakeChunkRetriever{chunks: testChunks()}, synth, passingGate(), &fakeContexts{}, nil, nil, nil)

	gen.Generate(context.Background(), "user-1", time.Now(), 25, false, "q")
	if synth.numRequests[0] != 10 {
		t.Fatalf("insight count should cap at 10, got %d", synth.numRequests[0])
	}
}

func TestNormalizeInsightsAfterJSONRoundTrip(t *testing.T) {
	// Cached digests come back from redis through json.Unmarshal, which
	// turns the insight list into []interface{}.
	raw, err := json.Marshal(map[string]interface{}{
		"insights": testInsights(2),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var digest map[string]interface{}
	if err := json.Unmarshal(raw, &digest); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	insights := normalizeInsights(digest["insights"])
	if len(insights) != 2 {
		t.Fatalf("expected 2 insights, got %d", len(insights))
	}
	if _, ok := insights[0]["title"]; !ok {
		t.Fatalf("insight fields lost: %v", insights[0])
	}

	if got := normalizeInsights(nil); len(got) != 0 {
		t.Fatalf("nil input should yield empty list, got %v", got)
	}
	if got := normalizeInsights(testInsights(1)); len(got) != 1 {
		t.Fatalf("already-typed input should pass through, got %v", got)
	}
}

func TestBuildDigestQuery(t *testing.T) {
	query := buildDigestQuery(map[string]interface{}{
		"current_topics": []interface{}{"transformers", "attention"},
		"learning_goals": "Understand attention",
	})
	if query != "transformers, attention for the goal: Understand attention" {
		t.Fatalf("query: %q", query)
	}
}
