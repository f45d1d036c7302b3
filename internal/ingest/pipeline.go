package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/coach/internal/agent/config"
	"github.com/mohammad-safakhou/coach/internal/rag"
)

// Pipeline fetches a page, chunks the readable article and indexes the
// chunks into the content index the retriever searches.
type Pipeline struct {
	fetcher      Fetcher
	index        *rag.Index
	chunkSize    int
	chunkOverlap int
	logger       *log.Logger
}

func NewPipeline(cfg *config.Config, fetcher Fetcher, index *rag.Index, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	}
	size := cfg.Ingest.ChunkSize
	if size <= 0 {
		size = defaultChunkSize
	}
	overlap := cfg.Ingest.ChunkOverlap
	if overlap < 0 || overlap >= size {
		overlap = defaultChunkOverlap
	}
	return &Pipeline{
		fetcher:      fetcher,
		index:        index,
		chunkSize:    size,
		chunkOverlap: overlap,
		logger:       logger,
	}
}

// IngestURL fetches, chunks and indexes one page. It returns the number
// of chunks indexed.
func (p *Pipeline) IngestURL(ctx context.Context, pageURL string) (int, error) {
	article, err := p.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return 0, fmt.Errorf("fetching %s: %w", pageURL, err)
	}
	if article.Text == "" {
		return 0, fmt.Errorf("no readable content at %s", pageURL)
	}

	chunks := Chunk(article.Text, p.chunkSize, p.chunkOverlap)
	ingestedAt := time.Now().UTC().Format(time.RFC3339)
	for i, chunk := range chunks {
		doc := map[string]interface{}{
			"content_title":  article.Title,
			"content_url":    article.URL,
			"content_author": article.Author,
			"chunk_text":     chunk,
			"chunk_index":    i,
			"html_hash":      article.HTMLHash,
			"ingested_at":    ingestedAt,
		}
		if err := p.index.IndexDoc(uuid.NewString(), doc); err != nil {
			return i, fmt.Errorf("indexing chunk %d of %s: %w", i, pageURL, err)
		}
	}

	p.logger.Printf("ingested %s: %d chunks (%d chars, fetch %dms)",
		pageURL, len(chunks), len(article.Text), article.FetchMS)
	return len(chunks), nil
}
