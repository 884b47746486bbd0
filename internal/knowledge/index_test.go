package knowledge

import (
	"math"
	"testing"
)

func TestFuseRRF(t *testing.T) {
	lexical := []SearchHit{{ID: "a", Rank: 1}, {ID: "b", Rank: 2}, {ID: "c", Rank: 3}}
	vector := []SearchHit{{ID: "c", Rank: 1}, {ID: "a", Rank: 2}}

	got := fuseRRF(2, lexical, vector)
	if len(got) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(got))
	}
	if got[0].ID != "a" || got[1].ID != "c" {
		t.Fatalf("unexpected order: %s, %s", got[0].ID, got[1].ID)
	}
	want := 1.0/61 + 1.0/62
	if math.Abs(got[0].Score-want) > 1e-12 || got[0].Rank != 1 {
		t.Fatalf("unexpected fused score %v rank %d", got[0].Score, got[0].Rank)
	}
}

func TestCosine(t *testing.T) {
	if c := cosine([]float32{1, 0}, []float32{1, 0}); c != 1 {
		t.Fatalf("cosine identical = %v", c)
	}
	if c := cosine([]float32{1, 0}, []float32{0, 1}); c != 0 {
		t.Fatalf("cosine orthogonal = %v", c)
	}
	if c := cosine([]float32{0, 0}, []float32{1, 1}); c != 0 {
		t.Fatalf("cosine zero vector = %v", c)
	}
}
