package semantic

import (
	"fmt"
	"sync"
	"time"
)

// Metadata is what the store keeps alongside each vector.
type Metadata struct {
	Response  string
	Model     string
	CreatedAt time.Time
}

type entry struct {
	position int
	vec      []float64
	meta     Metadata
}

// VectorStore is a process-local flat index over unit vectors of one
// fixed dimension. Positions are assigned monotonically and never
// reused, so a position handed out once stays a stable handle.
type VectorStore struct {
	mu      sync.RWMutex
	dim     int
	next    int
	entries []entry
}

// NewVectorStore returns an empty store for dim-length vectors.
func NewVectorStore(dim int) *VectorStore {
	return &VectorStore{dim: dim}
}

func (s *VectorStore) Dimension() int { return s.dim }

// Size returns the number of stored vectors.
func (s *VectorStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Add stores a vector and returns its position. The vector must have
// the store's dimension.
func (s *VectorStore) Add(vec []float64, meta Metadata) (int, error) {
	if len(vec) != s.dim {
		return 0, fmt.Errorf("vector dimension %d, store expects %d", len(vec), s.dim)
	}
	v := make([]float64, len(vec))
	copy(v, vec)

	s.mu.Lock()
	defer s.mu.Unlock()
	pos := s.next
	s.next++
	s.entries = append(s.entries, entry{position: pos, vec: v, meta: meta})
	return pos, nil
}

// Search returns the metadata and score of the single closest entry by
// inner product, if its score is at least threshold. Ties go to the
// entry with the lower position. ok is false on an empty store or when
// nothing clears the threshold.
func (s *VectorStore) Search(vec []float64, threshold float64) (Metadata, float64, bool) {
	if len(vec) != s.dim {
		return Metadata{}, 0, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	found := false
	var best entry
	var bestScore float64
	for _, e := range s.entries {
		score := dot(vec, e.vec)
		if !found || score > bestScore || (score == bestScore && e.position < best.position) {
			found = true
			best = e
			bestScore = score
		}
	}
	if !found || bestScore < threshold {
		return Metadata{}, 0, false
	}
	return best.meta, bestScore, true
}

// Remove deletes the entry at position, reporting whether it existed.
func (s *VectorStore) Remove(position int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.position == position {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return true
		}
	}
	return false
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
