package ingest

import (
	"context"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/coach/internal/agent/config"
	"github.com/mohammad-safakhou/coach/internal/rag"
)

func TestChunkEmpty(t *testing.T) {
	if got := Chunk("   \n\n  ", 1200, 150); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestChunkShortTextSingleChunk(t *testing.T) {
	text := "First paragraph.\n\nSecond paragraph."
	chunks := Chunk(text, 1200, 150)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0] != text {
		t.Fatalf("chunk altered: %q", chunks[0])
	}
}

func TestChunkRespectsParagraphBoundaries(t *testing.T) {
	para := strings.Repeat("word ", 30) // ~150 chars
	text := strings.TrimSpace(strings.Repeat(para+"\n\n", 10))

	chunks := Chunk(text, 400, 50)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk) > 400+50+2 {
			t.Fatalf("chunk %d too large: %d chars", i, len(chunk))
		}
	}
}

func TestChunkOverlapCarriesTail(t *testing.T) {
	para := strings.Repeat("a", 390)
	text := para + "\n\n" + strings.Repeat("b", 390)

	chunks := Chunk(text, 400, 50)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if !strings.HasPrefix(chunks[1], strings.Repeat("a", 50)) {
		t.Fatalf("second chunk should start with the tail of the first: %q", chunks[1][:60])
	}
}

func TestChunkSplitsOversizedParagraph(t *testing.T) {
	text := strings.Repeat("x", 1000)
	chunks := Chunk(text, 400, 0)
	if len(chunks) < 3 {
		t.Fatalf("expected hard split, got %d chunks", len(chunks))
	}
	var total int
	for _, chunk := range chunks {
		total += len(strings.ReplaceAll(chunk, "\n", ""))
	}
	if total < 1000 {
		t.Fatalf("content lost: %d of 1000 chars", total)
	}
}

type fakeFetcher struct {
	article Article
	err     error
}

func (f *fakeFetcher) Fetch(ctx context.Context, pageURL string) (Article, error) {
	return f.article, f.err
}

func TestPipelineIngestURL(t *testing.T) {
	index, err := rag.OpenIndex("")
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { index.Close() })

	cfg := &config.Config{}
	cfg.Ingest.ChunkSize = 400
	cfg.Ingest.ChunkOverlap = 50

	fetcher := &fakeFetcher{article: Article{
		URL:    "https://jalammar.github.io/illustrated-transformer/",
		Title:  "The Illustrated Transformer",
		Author: "Jay Alammar",
		Text:   strings.TrimSpace(strings.Repeat("Attention is all you need. Queries, keys and values.\n\n", 20)),
	}}

	p := NewPipeline(cfg, fetcher, index, nil)
	n, err := p.IngestURL(context.Background(), fetcher.article.URL)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if n < 2 {
		t.Fatalf("expected multiple chunks, got %d", n)
	}

	count, err := index.Count()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if int(count) != n {
		t.Fatalf("indexed %d docs, reported %d", count, n)
	}

	hits, err := index.Search(context.Background(), "attention", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatalf("ingested chunks not searchable")
	}
	if hits[0]["content_title"] != "The Illustrated Transformer" {
		t.Fatalf("chunk metadata missing: %v", hits[0])
	}
}

func TestPipelineNoContent(t *testing.T) {
	index, _ := rag.OpenIndex("")
	t.Cleanup(func() { index.Close() })

	cfg := &config.Config{}
	p := NewPipeline(cfg, &fakeFetcher{article: Article{URL: "https://x"}}, index, nil)
	if _, err := p.IngestURL(context.Background(), "https://x"); err == nil {
		t.Fatalf("expected error for empty article")
	}
}
