// Package spatial quantizes the unbounded canvas into fixed-size chunks so
// that viewport queries touch a bounded set of tiles. Chunk ids are a pure
// function of coordinates and chunk size, so repeated queries for the same
// tile are idempotent and cacheable.
package spatial

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultChunkSize is the tile edge length in world units.
const DefaultChunkSize = 1000

// BoundingBox is a rectangle in world coordinates.
type BoundingBox struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// Width returns the horizontal extent.
func (b BoundingBox) Width() float64 {
	return b.MaxX - b.MinX
}

// Height returns the vertical extent.
func (b BoundingBox) Height() float64 {
	return b.MaxY - b.MinY
}

// Intersects reports whether two boxes overlap.
func (b BoundingBox) Intersects(other BoundingBox) bool {
	return !(b.MaxX < other.MinX ||
		b.MinX > other.MaxX ||
		b.MaxY < other.MinY ||
		b.MinY > other.MaxY)
}

// ContainsPoint reports whether the point lies inside the box.
func (b BoundingBox) ContainsPoint(x, y float64) bool {
	return b.MinX <= x && x <= b.MaxX && b.MinY <= y && y <= b.MaxY
}

// Expand returns the box grown by margin on every side.
func (b BoundingBox) Expand(margin float64) BoundingBox {
	return BoundingBox{
		MinX: b.MinX - margin,
		MinY: b.MinY - margin,
		MaxX: b.MaxX + margin,
		MaxY: b.MaxY + margin,
	}
}

// ChunkCoord addresses one tile in the infinite grid.
type ChunkCoord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ID renders the canonical "cx:cy" chunk identifier.
func (c ChunkCoord) ID() string {
	return fmt.Sprintf("%d:%d", c.X, c.Y)
}

// ParseChunkID parses a "cx:cy" identifier.
func ParseChunkID(id string) (ChunkCoord, error) {
	parts := strings.SplitN(id, ":", 2)
	if len(parts) != 2 {
		return ChunkCoord{}, fmt.Errorf("spatial: malformed chunk id %q", id)
	}
	x, err := strconv.Atoi(parts[0])
	if err != nil {
		return ChunkCoord{}, fmt.Errorf("spatial: malformed chunk id %q", id)
	}
	y, err := strconv.Atoi(parts[1])
	if err != nil {
		return ChunkCoord{}, fmt.Errorf("spatial: malformed chunk id %q", id)
	}
	return ChunkCoord{X: x, Y: y}, nil
}

// ChunkAt returns the chunk containing a world position. Floor division
// keeps negative coordinates on the correct tile.
func ChunkAt(x, y float64, chunkSize int) ChunkCoord {
	size := float64(chunkSize)
	return ChunkCoord{
		X: int(math.Floor(x / size)),
		Y: int(math.Floor(y / size)),
	}
}

// Bounds returns the world box covered by the chunk.
func (c ChunkCoord) Bounds(chunkSize int) BoundingBox {
	size := float64(chunkSize)
	return BoundingBox{
		MinX: float64(c.X) * size,
		MinY: float64(c.Y) * size,
		MaxX: float64(c.X+1) * size,
		MaxY: float64(c.Y+1) * size,
	}
}

// CoverChunks lists every chunk intersecting the box, row-major.
func CoverChunks(box BoundingBox, chunkSize int) []ChunkCoord {
	minChunk := ChunkAt(box.MinX, box.MinY, chunkSize)
	maxChunk := ChunkAt(box.MaxX, box.MaxY, chunkSize)
	coords := make([]ChunkCoord, 0, (maxChunk.X-minChunk.X+1)*(maxChunk.Y-minChunk.Y+1))
	for cx := minChunk.X; cx <= maxChunk.X; cx++ {
		for cy := minChunk.Y; cy <= maxChunk.Y; cy++ {
			coords = append(coords, ChunkCoord{X: cx, Y: cy})
		}
	}
	return coords
}
