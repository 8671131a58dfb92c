package store

import (
	"fmt"
	"sync"

	"github.com/coder/hnsw"
)

// hnswMaxNeighbors is the M parameter of the graph.
const hnswMaxNeighbors = 16

// Candidate is one approximate nearest neighbor from the index.
type Candidate struct {
	EmployeeID string  `json:"employee_id"`
	Slot       int     `json:"slot"`
	Distance   float64 `json:"distance"`
}

// CandidateIndex is an approximate nearest neighbor index over all stored
// templates. It serves diagnostic candidate queries only; the recognition
// path always runs the exact scan, so approximation never changes a
// verdict.
//
// The index is rebuilt from a store snapshot, either on demand or on a
// schedule. HNSW does not support removal, so a rebuild is the only way a
// deleted template leaves the graph.
type CandidateIndex struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[string]
	refs  map[string]Candidate
}

// NewCandidateIndex creates an empty index.
func NewCandidateIndex() *CandidateIndex {
	return &CandidateIndex{
		refs: make(map[string]Candidate),
	}
}

func nodeKey(employeeID string, slot int) string {
	return fmt.Sprintf("%s/%d", employeeID, slot)
}

// Rebuild replaces the graph with one built from the given templates.
func (c *CandidateIndex) Rebuild(templates []Template) {
	g := hnsw.NewGraph[string]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors)
	g.Distance = hnsw.CosineDistance

	refs := make(map[string]Candidate, len(templates))
	for i := range templates {
		t := &templates[i]
		if len(t.Embedding) == 0 {
			continue
		}
		key := nodeKey(t.EmployeeID, t.Slot)
		g.Add(hnsw.MakeNode(key, t.Embedding))
		refs[key] = Candidate{EmployeeID: t.EmployeeID, Slot: t.Slot}
	}

	c.mu.Lock()
	c.graph = g
	c.refs = refs
	c.mu.Unlock()
}

// Search returns up to k nearest templates to the query embedding.
func (c *CandidateIndex) Search(query []float32, k int) []Candidate {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.graph == nil || len(c.refs) == 0 {
		return nil
	}

	neighbors := c.graph.Search(query, k)
	out := make([]Candidate, 0, len(neighbors))
	for _, n := range neighbors {
		ref, ok := c.refs[n.Key]
		if !ok {
			continue
		}
		ref.Distance = float64(hnsw.CosineDistance(query, n.Value))
		out = append(out, ref)
	}
	return out
}

// Count returns the number of indexed templates.
func (c *CandidateIndex) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.refs)
}
