package retrieval

import (
	"context"
	"math"
	"sort"
)

// entry is a document plus its precomputed embedding, held by Memory.
type entry struct {
	doc    Document
	vector []float32
}

// Memory is an in-process Provider computing cosine similarity directly,
// without a database. cmd/chatcore uses it when the store is not postgres.
type Memory struct {
	entries []entry
}

// NewMemory constructs an empty Memory provider.
func NewMemory() *Memory {
	return &Memory{}
}

// Add indexes a document under vector, scoped to userID/threadID.
func (m *Memory) Add(doc Document, vector []float32, userID, threadID string) {
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}
	doc.Metadata["user_id"] = userID
	doc.Metadata["thread_id"] = threadID
	m.entries = append(m.entries, entry{doc: doc, vector: vector})
}

func (m *Memory) Search(ctx context.Context, queryVector []float32, k int, opts SearchOptions) ([]Document, error) {
	if k <= 0 {
		k = DefaultK
	}

	scored := make([]Document, 0, len(m.entries))
	for _, e := range m.entries {
		if opts.UserID != "" && e.doc.Metadata["user_id"] != opts.UserID {
			continue
		}
		if opts.ThreadID != "" && e.doc.Metadata["thread_id"] != opts.ThreadID {
			continue
		}
		d := e.doc
		d.Score = cosineSimilarity(queryVector, e.vector)
		scored = append(scored, d)
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

var _ Provider = (*Memory)(nil)
