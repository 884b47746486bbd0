package knowledge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mohammad-safakhou/research-assistant/config"
	"github.com/mohammad-safakhou/research-assistant/provider"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNoDocuments is returned when an ingestion has nothing to work with.
var ErrNoDocuments = errors.New("no documents to ingest")

// Base is the knowledge base behind the retriever tool: chunked documents in
// a ChunkStore, searched through an in-process BM25 index and, when an
// embedder is configured, a vector table fused with reciprocal rank fusion.
type Base struct {
	cfg      config.KnowledgeConfig
	store    ChunkStore
	embedder provider.Embedder
	logger   *zap.Logger

	ingestMu sync.Mutex
	mu       sync.RWMutex
	ix       *index
}

// NewStore picks the chunk store for cfg.Backend. rdb may be nil for the
// memory backend.
func NewStore(cfg config.KnowledgeConfig, rdb *redis.Client) (ChunkStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		if rdb == nil {
			return nil, errors.New("knowledge backend redis requires a redis client")
		}
		return NewRedisStore(rdb, cfg.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("unsupported knowledge backend %q", cfg.Backend)
	}
}

// New builds an empty base. Call Open to load previously stored chunks.
func New(cfg config.KnowledgeConfig, store ChunkStore, embedder provider.Embedder, logger *zap.Logger) (*Base, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = NewMemoryStore()
	}
	ix, err := newIndex()
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	return &Base{
		cfg:      cfg.Normalize(),
		store:    store,
		embedder: embedder,
		logger:   logger.Named("knowledge"),
		ix:       ix,
	}, nil
}

func (b *Base) index() *index {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ix
}

// Open rebuilds the in-memory index from the chunk store.
func (b *Base) Open(ctx context.Context) error {
	chunks, err := b.store.All(ctx)
	if err != nil {
		return fmt.Errorf("load chunks: %w", err)
	}
	if err := b.index().add(chunks); err != nil {
		return fmt.Errorf("index chunks: %w", err)
	}
	b.logger.Info("knowledge base opened", zap.String("backend", b.store.Name()), zap.Int("chunks", len(chunks)))
	return nil
}

// Ingest chunks, dedupes, stores and indexes docs.
func (b *Base) Ingest(ctx context.Context, docs []Document) (IngestReport, error) {
	b.ingestMu.Lock()
	defer b.ingestMu.Unlock()

	var report IngestReport
	now := time.Now().UTC()
	seen := map[string]struct{}{}
	var fresh []Chunk
	for _, doc := range docs {
		if strings.TrimSpace(doc.Text) == "" {
			if doc.Source != "" {
				report.Skipped = append(report.Skipped, doc.Source)
			}
			continue
		}
		report.Documents++
		docID := sha1Hex(doc.Source + "\x00" + doc.Text)
		title := doc.Title
		if title == "" {
			title = titleFromText(doc.Text, doc.Source)
		}
		for i, part := range SplitText(doc.Text, b.cfg.ChunkSize, b.cfg.ChunkOverlap) {
			report.Created++
			hash := contentHash(part)
			if _, dup := seen[hash]; dup {
				report.Duplicates++
				continue
			}
			seen[hash] = struct{}{}
			stored, err := b.store.HasHash(ctx, hash)
			if err != nil {
				return report, fmt.Errorf("dedupe lookup: %w", err)
			}
			if stored {
				report.Duplicates++
				continue
			}
			fresh = append(fresh, Chunk{
				ID:          fmt.Sprintf("%s#%03d", docID[:16], i),
				DocID:       docID,
				Source:      doc.Source,
				Title:       title,
				URL:         doc.URL,
				Text:        part,
				Hash:        hash,
				Index:       i,
				PublishedAt: doc.PublishedAt,
				IngestedAt:  now,
			})
		}
	}
	if report.Documents == 0 {
		return report, ErrNoDocuments
	}

	if b.embedder != nil && len(fresh) > 0 {
		n, err := b.embed(ctx, fresh)
		if err != nil {
			b.logger.Warn("embedding failed, chunks stored for lexical search only", zap.Error(err))
		}
		report.Embedded = n
	}

	if err := b.store.Put(ctx, fresh); err != nil {
		return report, fmt.Errorf("store chunks: %w", err)
	}
	if err := b.index().add(fresh); err != nil {
		return report, fmt.Errorf("index chunks: %w", err)
	}
	report.Ingested = len(fresh)
	b.logger.Info("ingested documents",
		zap.Int("documents", report.Documents),
		zap.Int("chunks", report.Ingested),
		zap.Int("duplicates", report.Duplicates))
	return report, nil
}

func (b *Base) embed(ctx context.Context, chunks []Chunk) (int, error) {
	done := 0
	for start := 0; start < len(chunks); start += b.cfg.EmbedBatch {
		end := min(start+b.cfg.EmbedBatch, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}
		vecs, err := b.embedder.Embed(ctx, texts)
		if err != nil {
			return done, err
		}
		if len(vecs) != len(texts) {
			return done, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
		}
		for i := range vecs {
			chunks[start+i].Vector = vecs[i]
		}
		done += len(vecs)
	}
	return done, nil
}

// Retrieve returns up to k passages for query; k <= 0 uses the configured
// retriever_top_k.
func (b *Base) Retrieve(ctx context.Context, query string, k int) ([]SearchHit, error) {
	if k <= 0 {
		k = b.cfg.TopK
	}
	ix := b.index()
	lexical, err := ix.lexical(query, k)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	if b.embedder == nil {
		return lexical, nil
	}
	if _, vectors := ix.len(); vectors == 0 {
		return lexical, nil
	}
	qv, err := b.embedder.Embed(ctx, []string{query})
	if err != nil || len(qv) == 0 {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		b.logger.Warn("query embedding failed, using lexical results", zap.Error(err))
		return lexical, nil
	}
	return fuseRRF(k, lexical, ix.vector(qv[0], k)), nil
}

// Stats reports what is currently indexed.
func (b *Base) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	ix := b.index()
	chunks := ix.all()
	docs := map[string]struct{}{}
	sources := map[string]struct{}{}
	for _, c := range chunks {
		docs[c.DocID] = struct{}{}
		if c.Source != "" {
			sources[c.Source] = struct{}{}
		}
	}
	_, vectors := ix.len()
	st := Stats{
		Backend:   b.store.Name(),
		Documents: len(docs),
		Chunks:    len(chunks),
		Vectors:   vectors,
		Sources:   make([]string, 0, len(sources)),
	}
	for s := range sources {
		st.Sources = append(st.Sources, s)
	}
	sort.Strings(st.Sources)
	return st, nil
}

// Reset drops every stored chunk and starts a fresh index.
func (b *Base) Reset(ctx context.Context) error {
	b.ingestMu.Lock()
	defer b.ingestMu.Unlock()
	if err := b.store.Reset(ctx); err != nil {
		return err
	}
	fresh, err := newIndex()
	if err != nil {
		return err
	}
	b.mu.Lock()
	old := b.ix
	b.ix = fresh
	b.mu.Unlock()
	if err := old.close(); err != nil {
		b.logger.Warn("close previous index", zap.Error(err))
	}
	b.logger.Info("knowledge base reset", zap.String("backend", b.store.Name()))
	return nil
}

// Close releases the in-memory index. Stored chunks are untouched.
func (b *Base) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ix.close()
}

func titleFromText(text, source string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
		if line != "" {
			break
		}
	}
	return source
}
