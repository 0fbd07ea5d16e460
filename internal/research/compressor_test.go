package research

import (
	"context"
	"strings"
	"testing"
)

// unit query vectors; fragment vectors are chosen so the cosine against the
// matching query comes out at the intended similarity
var compressQueries = map[string][]float32{
	"grid stability": {1, 0, 0, 0, 0},
	"storage costs":  {0, 1, 0, 0, 0},
}

func newCompressEmbedder(fragVecs map[string][]float32) *stubEmbedder {
	vectors := make(map[string][]float32, len(compressQueries)+len(fragVecs))
	for q, v := range compressQueries {
		vectors[q] = v
	}
	for f, v := range fragVecs {
		vectors[f] = v
	}
	return &stubEmbedder{vectors: vectors}
}

func TestThresholdKeepsUnionAboveThreshold(t *testing.T) {
	embedder := newCompressEmbedder(map[string][]float32{
		"frag-high":     {0.9, 0, 0.43589, 0, 0}, // ~0.9 vs grid stability
		"frag-mid":      {0, 3, 4, 0, 0},         // 0.6 vs storage costs
		"frag-low":      {1, 1, 4, 0, 0},         // ~0.24 vs both
		"frag-boundary": {0, 1, 1, 1, 1},         // exactly 0.5 vs storage costs
	})
	c := NewCompressor(embedder, 0.5, 10, 0, nil)

	got, err := c.Threshold(context.Background(),
		[]string{"grid stability", "storage costs"},
		[]string{"frag-high", "frag-mid", "frag-low", "frag-boundary"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 surviving fragments, got %d: %+v", len(got), got)
	}
	wantOrder := []string{"frag-high", "frag-mid", "frag-boundary"}
	for i, want := range wantOrder {
		if got[i].Text != want {
			t.Fatalf("position %d: expected %q, got %q (sim %v)", i, want, got[i].Text, got[i].Similarity)
		}
	}
	for _, f := range got {
		if f.Similarity < 0.5 {
			t.Fatalf("fragment %q survived below threshold: %v", f.Text, f.Similarity)
		}
	}
}

func TestThresholdTruncatesToMaxResults(t *testing.T) {
	embedder := newCompressEmbedder(map[string][]float32{
		"a": {0.9, 0, 0.43589, 0, 0},
		"b": {0.8, 0, 0.6, 0, 0},
		"c": {0.7, 0, 0.71414, 0, 0},
	})
	c := NewCompressor(embedder, 0.5, 2, 0, nil)

	got, err := c.Threshold(context.Background(), []string{"grid stability"}, []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].Text != "a" || got[1].Text != "b" {
		t.Fatalf("expected top two fragments a,b, got %+v", got)
	}
}

func TestTopNRanksAndCaps(t *testing.T) {
	embedder := newCompressEmbedder(map[string][]float32{
		"best":  {0.95, 0, 0.31225, 0, 0},
		"mid":   {0.5, 0, 0.86603, 0, 0},
		"worst": {0.1, 0, 0.99499, 0, 0},
	})
	c := NewCompressor(embedder, 0.5, 2, 0, nil)

	got, err := c.TopN(context.Background(), "grid stability", []string{"worst", "best", "mid"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// TopN keeps low-similarity fragments too; only the cap applies
	if len(got) != 2 || got[0].Text != "best" || got[1].Text != "mid" {
		t.Fatalf("expected [best mid], got %+v", got)
	}
}

func TestTopNDeduplicatesFragments(t *testing.T) {
	embedder := newCompressEmbedder(map[string][]float32{
		"repeat": {0.9, 0, 0.43589, 0, 0},
	})
	c := NewCompressor(embedder, 0.5, 10, 0, nil)

	got, err := c.TopN(context.Background(), "grid stability", []string{"repeat", " repeat ", "repeat", ""})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("duplicates should collapse to one fragment, got %+v", got)
	}
}

func TestFitBudgetKeepsAtLeastOne(t *testing.T) {
	long := strings.Repeat("x", 4000)   // ~1000 tokens
	second := strings.Repeat("y", 400) // ~100 tokens
	embedder := newCompressEmbedder(map[string][]float32{
		long:   {0.9, 0, 0.43589, 0, 0},
		second: {0.5, 0, 0.86603, 0, 0},
	})
	c := NewCompressor(embedder, 0.0, 10, 1000, nil)

	got, err := c.TopN(context.Background(), "grid stability", []string{long, second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Text != long {
		t.Fatalf("budget should keep only the best fragment, got %d fragments", len(got))
	}
}

func TestKeywordFallbackWithoutEmbedder(t *testing.T) {
	c := NewCompressor(nil, 0.1, 10, 0, nil)

	got, err := c.TopN(context.Background(), "solar panels",
		[]string{
			"solar panels convert sunlight into electricity",
			"municipal bond yields declined last quarter",
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("keyword fallback returned nothing")
	}
	if got[0].Text != "solar panels convert sunlight into electricity" {
		t.Fatalf("expected keyword match to rank first, got %q", got[0].Text)
	}
	if got[0].Similarity != 1.0 {
		t.Fatalf("best keyword hit should normalize to 1.0, got %v", got[0].Similarity)
	}
}

func TestJoinContext(t *testing.T) {
	joined := JoinContext([]Fragment{{Text: "one"}, {Text: "two"}})
	if joined != "one\n\ntwo" {
		t.Fatalf("unexpected joined context: %q", joined)
	}
}
