package rag

import (
	"context"
	"log"
	"os"

	"github.com/blevesearch/bleve"

	"github.com/mohammad-safakhou/coach/internal/agent/config"
)

// Index wraps a bleve index over content chunks. The same type backs
// the main content index and the past-insights index.
type Index struct {
	idx  bleve.Index
	path string
}

// OpenIndex opens the index at path, creating it on first use. An
// empty path yields a memory-only index, which tests rely on.
func OpenIndex(path string) (*Index, error) {
	if path == "" {
		idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
		if err != nil {
			return nil, err
		}
		return &Index{idx: idx}, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		idx, err := bleve.New(path, bleve.NewIndexMapping())
		if err != nil {
			return nil, err
		}
		return &Index{idx: idx, path: path}, nil
	}
	idx, err := bleve.Open(path)
	if err != nil {
		return nil, err
	}
	return &Index{idx: idx, path: path}, nil
}

func (ix *Index) IndexDoc(id string, doc map[string]interface{}) error {
	return ix.idx.Index(id, doc)
}

func (ix *Index) Count() (uint64, error) { return ix.idx.DocCount() }

func (ix *Index) Close() error { return ix.idx.Close() }

// Search runs a match query and returns up to k hits as chunk maps.
// Scores are normalized against the best hit so callers can treat them
// as a 0..1 similarity.
func (ix *Index) Search(ctx context.Context, query string, k int) ([]map[string]interface{}, error) {
	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequestOptions(q, k, 0, false)
	req.Fields = []string{"*"}

	res, err := ix.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make([]map[string]interface{}, 0, len(res.Hits))
	for _, hit := range res.Hits {
		doc := make(map[string]interface{}, len(hit.Fields)+1)
		for field, value := range hit.Fields {
			doc[field] = value
		}
		similarity := hit.Score
		if res.MaxScore > 0 {
			similarity = hit.Score / res.MaxScore
		}
		doc["similarity"] = similarity
		out = append(out, doc)
	}
	return out, nil
}

// Retriever is the retrieval half of the digest pipeline: top-k search
// over ingested chunks with a similarity floor.
type Retriever struct {
	index  *Index
	topK   int
	floor  float64
	logger *log.Logger
}

func NewRetriever(cfg *config.Config, index *Index, logger *log.Logger) *Retriever {
	if logger == nil {
		logger = log.New(log.Writer(), "[RETRIEVER] ", log.LstdFlags)
	}
	topK := cfg.Search.TopK
	if topK <= 0 {
		topK = 15
	}
	floor := cfg.Search.SimilarityFloor
	if floor <= 0 {
		floor = 0.30
	}
	return &Retriever{index: index, topK: topK, floor: floor, logger: logger}
}

// Retrieve returns the chunks most relevant to the query, dropping
// anything below the similarity floor.
func (r *Retriever) Retrieve(ctx context.Context, query, userID string) ([]map[string]interface{}, error) {
	hits, err := r.index.Search(ctx, query, r.topK)
	if err != nil {
		return nil, err
	}
	kept := make([]map[string]interface{}, 0, len(hits))
	for _, hit := range hits {
		if sim, ok := hit["similarity"].(float64); ok && sim < r.floor {
			continue
		}
		kept = append(kept, hit)
	}
	r.logger.Printf("retrieved %d chunks for query (kept %d above floor %.2f)", len(hits), len(kept), r.floor)
	return kept, nil
}

// Search exposes raw k-bounded search for coverage analysis.
func (r *Retriever) Search(ctx context.Context, query string, k int) ([]map[string]interface{}, error) {
	return r.index.Search(ctx, query, k)
}
