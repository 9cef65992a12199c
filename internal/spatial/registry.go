package spatial

import "sync"

// Registry hands out one spatial index per board, created on first use.
type Registry struct {
	mu        sync.Mutex
	chunkSize int
	indexes   map[string]*Index
}

// NewRegistry constructs a Registry whose indexes share one chunk size.
func NewRegistry(chunkSize int) *Registry {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Registry{
		chunkSize: chunkSize,
		indexes:   make(map[string]*Index),
	}
}

// Board returns the index for a board, creating it if needed, and reports
// whether it already existed.
func (r *Registry) Board(boardID string) (*Index, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	index, ok := r.indexes[boardID]
	if !ok {
		index = NewIndex(r.chunkSize)
		r.indexes[boardID] = index
	}
	return index, ok
}

// Drop forgets a board's index.
func (r *Registry) Drop(boardID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.indexes, boardID)
}
