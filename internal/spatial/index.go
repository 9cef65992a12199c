package spatial

import (
	"sync"

	"github.com/driftlabs/driftboard/internal/board"
)

// Stats summarizes index occupancy.
type Stats struct {
	TotalObjects   int `json:"total_objects"`
	TotalChunks    int `json:"total_chunks"`
	NonEmptyChunks int `json:"non_empty_chunks"`
	ChunkSize      int `json:"chunk_size"`
}

// Index is an in-memory chunked spatial index over canvas objects. An
// object spanning chunk borders is registered in every chunk it touches.
// Safe for concurrent use; the document service queries it from request
// handlers while the event recorder mutates it.
type Index struct {
	mu        sync.RWMutex
	chunkSize int
	chunks    map[string]map[string]struct{}
	objects   map[string]board.Object
	memberOf  map[string]map[string]struct{}
}

// NewIndex constructs an empty index. A non-positive chunk size falls back
// to DefaultChunkSize.
func NewIndex(chunkSize int) *Index {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Index{
		chunkSize: chunkSize,
		chunks:    make(map[string]map[string]struct{}),
		objects:   make(map[string]board.Object),
		memberOf:  make(map[string]map[string]struct{}),
	}
}

// ChunkSize returns the tile edge length.
func (i *Index) ChunkSize() int {
	return i.chunkSize
}

// Upsert adds or moves an object, rewriting its chunk memberships.
func (i *Index) Upsert(obj board.Object) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.detachLocked(obj.ID)

	box := BoundingBox{MinX: obj.X, MinY: obj.Y, MaxX: obj.X + obj.Width, MaxY: obj.Y + obj.Height}
	membership := make(map[string]struct{})
	for _, coord := range CoverChunks(box, i.chunkSize) {
		id := coord.ID()
		membership[id] = struct{}{}
		if i.chunks[id] == nil {
			i.chunks[id] = make(map[string]struct{})
		}
		i.chunks[id][obj.ID] = struct{}{}
	}
	i.objects[obj.ID] = obj.Clone()
	i.memberOf[obj.ID] = membership
}

// Remove deletes an object and returns its last known state.
func (i *Index) Remove(objectID string) (board.Object, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	obj, ok := i.objects[objectID]
	if !ok {
		return board.Object{}, false
	}
	i.detachLocked(objectID)
	delete(i.objects, objectID)
	return obj, true
}

// QueryViewport returns every object whose chunk set intersects the box.
func (i *Index) QueryViewport(box BoundingBox) []board.Object {
	i.mu.RLock()
	defer i.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []board.Object
	for _, coord := range CoverChunks(box, i.chunkSize) {
		for objectID := range i.chunks[coord.ID()] {
			if _, dup := seen[objectID]; dup {
				continue
			}
			seen[objectID] = struct{}{}
			if obj, ok := i.objects[objectID]; ok {
				out = append(out, obj.Clone())
			}
		}
	}
	return out
}

// QueryChunks returns the objects of each requested chunk id. Unknown
// chunks map to empty slices.
func (i *Index) QueryChunks(chunkIDs []string) map[string][]board.Object {
	i.mu.RLock()
	defer i.mu.RUnlock()

	out := make(map[string][]board.Object, len(chunkIDs))
	for _, chunkID := range chunkIDs {
		members := i.chunks[chunkID]
		objects := make([]board.Object, 0, len(members))
		for objectID := range members {
			if obj, ok := i.objects[objectID]; ok {
				objects = append(objects, obj.Clone())
			}
		}
		out[chunkID] = objects
	}
	return out
}

// LoadedChunkIDs lists chunks that currently hold content.
func (i *Index) LoadedChunkIDs() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()

	out := make([]string, 0, len(i.chunks))
	for chunkID, members := range i.chunks {
		if len(members) > 0 {
			out = append(out, chunkID)
		}
	}
	return out
}

// AllObjects returns every indexed object.
func (i *Index) AllObjects() []board.Object {
	i.mu.RLock()
	defer i.mu.RUnlock()

	out := make([]board.Object, 0, len(i.objects))
	for _, obj := range i.objects {
		out = append(out, obj.Clone())
	}
	return out
}

// Snapshot reports occupancy counters.
func (i *Index) Snapshot() Stats {
	i.mu.RLock()
	defer i.mu.RUnlock()

	nonEmpty := 0
	for _, members := range i.chunks {
		if len(members) > 0 {
			nonEmpty++
		}
	}
	return Stats{
		TotalObjects:   len(i.objects),
		TotalChunks:    len(i.chunks),
		NonEmptyChunks: nonEmpty,
		ChunkSize:      i.chunkSize,
	}
}

// Clear drops all content.
func (i *Index) Clear() {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.chunks = make(map[string]map[string]struct{})
	i.objects = make(map[string]board.Object)
	i.memberOf = make(map[string]map[string]struct{})
}

func (i *Index) detachLocked(objectID string) {
	for chunkID := range i.memberOf[objectID] {
		if members := i.chunks[chunkID]; members != nil {
			delete(members, objectID)
		}
	}
	delete(i.memberOf, objectID)
}
