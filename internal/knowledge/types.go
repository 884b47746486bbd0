package knowledge

import (
	"context"
	"time"
)

// Document is a unit of source material handed to Ingest.
type Document struct {
	Source      string `json:"source"`
	Title       string `json:"title,omitempty"`
	URL         string `json:"url,omitempty"`
	Text        string `json:"text"`
	PublishedAt string `json:"published_at,omitempty"`
}

// Chunk is a stored slice of a document.
type Chunk struct {
	ID          string    `json:"id"`
	DocID       string    `json:"doc_id"`
	Source      string    `json:"source"`
	Title       string    `json:"title"`
	URL         string    `json:"url,omitempty"`
	Text        string    `json:"text"`
	Hash        string    `json:"hash"`
	Index       int       `json:"index"`
	PublishedAt string    `json:"published_at,omitempty"`
	IngestedAt  time.Time `json:"ingested_at"`
	Vector      []float32 `json:"vector,omitempty"`
}

// SearchHit is one retrieved passage.
type SearchHit struct {
	ID      string  `json:"id"`
	Source  string  `json:"source"`
	Title   string  `json:"title"`
	URL     string  `json:"url,omitempty"`
	Content string  `json:"content"`
	Date    string  `json:"date,omitempty"`
	Score   float64 `json:"score"`
	Rank    int     `json:"rank"`
}

// IngestReport summarises one ingestion.
type IngestReport struct {
	Documents  int      `json:"documents_processed"`
	Created    int      `json:"chunks_created"`
	Ingested   int      `json:"chunks_ingested"`
	Duplicates int      `json:"duplicates_removed"`
	Embedded   int      `json:"chunks_embedded"`
	Skipped    []string `json:"skipped,omitempty"`
}

// Stats describes the current contents of the knowledge base.
type Stats struct {
	Backend   string   `json:"backend"`
	Documents int      `json:"documents"`
	Chunks    int      `json:"chunks"`
	Vectors   int      `json:"vectors"`
	Sources   []string `json:"sources"`
}

// ChunkStore persists chunks so an index can be rebuilt across processes.
type ChunkStore interface {
	Name() string
	Put(ctx context.Context, chunks []Chunk) error
	HasHash(ctx context.Context, hash string) (bool, error)
	All(ctx context.Context) ([]Chunk, error)
	Reset(ctx context.Context) error
}
