package semantic

import (
	"math"
	"testing"
)

func TestVectorStoreAddAndSize(t *testing.T) {
	s := NewVectorStore(3)

	pos, err := s.Add([]float64{1, 0, 0}, Metadata{Response: "a"})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if pos != 0 {
		t.Errorf("first position = %d, want 0", pos)
	}
	if s.Size() != 1 {
		t.Errorf("Size() = %d, want 1", s.Size())
	}
}

func TestVectorStoreRejectsWrongDimension(t *testing.T) {
	s := NewVectorStore(3)
	if _, err := s.Add([]float64{1, 0}, Metadata{}); err == nil {
		t.Error("Add() accepted a 2-dim vector in a 3-dim store")
	}
}

func TestVectorStoreSearchEmpty(t *testing.T) {
	s := NewVectorStore(3)
	if _, _, ok := s.Search([]float64{1, 0, 0}, 0.5); ok {
		t.Error("Search() found a match in an empty store")
	}
}

func TestVectorStoreSearchTopOne(t *testing.T) {
	s := NewVectorStore(2)
	s.Add([]float64{1, 0}, Metadata{Response: "east"})
	s.Add([]float64{0, 1}, Metadata{Response: "north"})

	// 30 degrees off east: closer to east than north.
	q := []float64{math.Cos(math.Pi / 6), math.Sin(math.Pi / 6)}
	meta, score, ok := s.Search(q, 0.8)
	if !ok {
		t.Fatal("Search() missed, want hit")
	}
	if meta.Response != "east" {
		t.Errorf("Search() matched %q, want east", meta.Response)
	}
	if score < 0.86 || score > 0.87 {
		t.Errorf("score = %v, want cos(30 deg) ~= 0.866", score)
	}
}

func TestVectorStoreThreshold(t *testing.T) {
	s := NewVectorStore(2)
	s.Add([]float64{1, 0}, Metadata{Response: "east"})

	// Orthogonal query scores 0, below any positive threshold.
	if _, _, ok := s.Search([]float64{0, 1}, 0.5); ok {
		t.Error("Search() matched below threshold")
	}
}

func TestVectorStoreTieBreaksToLowerPosition(t *testing.T) {
	s := NewVectorStore(2)
	s.Add([]float64{1, 0}, Metadata{Response: "first"})
	s.Add([]float64{1, 0}, Metadata{Response: "second"})

	meta, _, ok := s.Search([]float64{1, 0}, 0.9)
	if !ok {
		t.Fatal("Search() missed")
	}
	if meta.Response != "first" {
		t.Errorf("tie resolved to %q, want the lower position entry", meta.Response)
	}
}

func TestVectorStorePositionsNeverReused(t *testing.T) {
	s := NewVectorStore(2)
	p0, _ := s.Add([]float64{1, 0}, Metadata{})
	if !s.Remove(p0) {
		t.Fatal("Remove() = false for an existing position")
	}
	if s.Remove(p0) {
		t.Error("Remove() = true for an already removed position")
	}
	p1, _ := s.Add([]float64{0, 1}, Metadata{})
	if p1 == p0 {
		t.Errorf("position %d reused after removal", p0)
	}
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float64{3, 4})
	if math.Abs(v[0]-0.6) > 1e-12 || math.Abs(v[1]-0.8) > 1e-12 {
		t.Errorf("Normalize([3 4]) = %v, want [0.6 0.8]", v)
	}

	zero := Normalize([]float64{0, 0})
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("Normalize(zero) = %v, want zero vector", zero)
	}
}
