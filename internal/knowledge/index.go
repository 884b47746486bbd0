package knowledge

import (
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"
)

const rrfK = 60 // reciprocal-rank-fusion constant

// indexedChunk is the document shape handed to bleve.
type indexedChunk struct {
	Title  string `json:"title"`
	Source string `json:"source"`
	Text   string `json:"text"`
}

// index keeps the lexical bleve index and the vector table for the chunks
// currently loaded in this process.
type index struct {
	mu      sync.RWMutex
	bleve   bleve.Index
	chunks  map[string]Chunk
	vectors map[string][]float32
}

func newIndex() (*index, error) {
	bi, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &index{
		bleve:   bi,
		chunks:  make(map[string]Chunk),
		vectors: make(map[string][]float32),
	}, nil
}

func (ix *index) add(chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	batch := ix.bleve.NewBatch()
	for _, c := range chunks {
		if err := batch.Index(c.ID, indexedChunk{Title: c.Title, Source: c.Source, Text: c.Text}); err != nil {
			return err
		}
		ix.chunks[c.ID] = c
		if len(c.Vector) > 0 {
			ix.vectors[c.ID] = c.Vector
		}
	}
	return ix.bleve.Batch(batch)
}

func (ix *index) len() (chunks, vectors int) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.chunks), len(ix.vectors)
}

func (ix *index) all() []Chunk {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]Chunk, 0, len(ix.chunks))
	for _, c := range ix.chunks {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (ix *index) close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.bleve.Close()
}

func (ix *index) hit(id string, score float64, rank int) SearchHit {
	c := ix.chunks[id]
	title := c.Title
	if title == "" {
		title = c.Source
	}
	return SearchHit{
		ID:      id,
		Source:  c.Source,
		Title:   title,
		URL:     c.URL,
		Content: c.Text,
		Date:    c.PublishedAt,
		Score:   score,
		Rank:    rank,
	}
}

// lexical runs a BM25 match query.
func (ix *index) lexical(q string, k int) ([]SearchHit, error) {
	if strings.TrimSpace(q) == "" || k <= 0 {
		return nil, nil
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(q), k, 0, false)
	res, err := ix.bleve.Search(req)
	if err != nil {
		return nil, err
	}
	out := make([]SearchHit, 0, len(res.Hits))
	for i, h := range res.Hits {
		if _, ok := ix.chunks[h.ID]; !ok {
			continue
		}
		out = append(out, ix.hit(h.ID, h.Score, i+1))
	}
	return out, nil
}

// vector ranks stored vectors by cosine similarity to q.
func (ix *index) vector(q []float32, k int) []SearchHit {
	if len(q) == 0 || k <= 0 {
		return nil
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	type scored struct {
		id    string
		score float64
	}
	scoreds := make([]scored, 0, len(ix.vectors))
	for id, v := range ix.vectors {
		scoreds = append(scoreds, scored{id: id, score: cosine(q, v)})
	}
	sort.Slice(scoreds, func(i, j int) bool {
		if scoreds[i].score == scoreds[j].score {
			return scoreds[i].id < scoreds[j].id
		}
		return scoreds[i].score > scoreds[j].score
	})
	if len(scoreds) > k {
		scoreds = scoreds[:k]
	}
	out := make([]SearchHit, 0, len(scoreds))
	for i, sc := range scoreds {
		out = append(out, ix.hit(sc.id, sc.score, i+1))
	}
	return out
}

// fuseRRF merges ranked lists with reciprocal rank fusion and re-ranks.
func fuseRRF(k int, lists ...[]SearchHit) []SearchHit {
	type agg struct {
		item  SearchHit
		score float64
		first int
	}
	m := map[string]*agg{}
	order := 0
	for _, list := range lists {
		for _, h := range list {
			x, ok := m[h.ID]
			if !ok {
				x = &agg{item: h, first: order}
				m[h.ID] = x
				order++
			}
			x.score += 1.0 / float64(rrfK+h.Rank)
		}
	}
	items := make([]*agg, 0, len(m))
	for _, v := range m {
		items = append(items, v)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].score == items[j].score {
			return items[i].first < items[j].first
		}
		return items[i].score > items[j].score
	})
	if k > 0 && len(items) > k {
		items = items[:k]
	}
	out := make([]SearchHit, len(items))
	for i, x := range items {
		out[i] = x.item
		out[i].Score = x.score
		out[i].Rank = i + 1
	}
	return out
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
