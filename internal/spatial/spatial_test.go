package spatial

import "testing"

func TestChunkAtFloorsNegativeCoordinates(t *testing.T) {
	tests := []struct {
		x, y      float64
		expectedX int
		expectedY int
	}{
		{x: 0, y: 0, expectedX: 0, expectedY: 0},
		{x: 999.9, y: 500, expectedX: 0, expectedY: 0},
		{x: 1000, y: 0, expectedX: 1, expectedY: 0},
		{x: -0.1, y: -0.1, expectedX: -1, expectedY: -1},
		{x: -1000, y: -2500, expectedX: -1, expectedY: -3},
	}
	for _, tc := range tests {
		coord := ChunkAt(tc.x, tc.y, DefaultChunkSize)
		if coord.X != tc.expectedX || coord.Y != tc.expectedY {
			t.Fatalf("ChunkAt(%f,%f) = %v, expected %d:%d", tc.x, tc.y, coord, tc.expectedX, tc.expectedY)
		}
	}
}

func TestChunkIDRoundTrip(t *testing.T) {
	ids := []ChunkCoord{{X: 0, Y: 0}, {X: -3, Y: 7}, {X: 12, Y: -1}}
	for _, coord := range ids {
		parsed, err := ParseChunkID(coord.ID())
		if err != nil {
			t.Fatalf("failed to parse %q: %v", coord.ID(), err)
		}
		if parsed != coord {
			t.Fatalf("round trip changed %v to %v", coord, parsed)
		}
	}
}

func TestParseChunkIDRejectsMalformedInput(t *testing.T) {
	for _, raw := range []string{"", "12", "a:b", "1:"} {
		if _, err := ParseChunkID(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestCoverChunksSpansBorders(t *testing.T) {
	box := BoundingBox{MinX: -100, MinY: -100, MaxX: 1100, MaxY: 100}
	coords := CoverChunks(box, DefaultChunkSize)
	if len(coords) != 6 {
		t.Fatalf("expected 6 chunks for a 3x2 cover, got %d", len(coords))
	}
	seen := make(map[string]struct{}, len(coords))
	for _, coord := range coords {
		seen[coord.ID()] = struct{}{}
	}
	for _, expected := range []string{"-1:-1", "-1:0", "0:-1", "0:0", "1:-1", "1:0"} {
		if _, ok := seen[expected]; !ok {
			t.Fatalf("missing chunk %s in cover %v", expected, coords)
		}
	}
}

func TestChunkBoundsTileTheGrid(t *testing.T) {
	bounds := ChunkCoord{X: -2, Y: 1}.Bounds(DefaultChunkSize)
	if bounds.MinX != -2000 || bounds.MaxX != -1000 {
		t.Fatalf("unexpected x bounds: %#v", bounds)
	}
	if bounds.MinY != 1000 || bounds.MaxY != 2000 {
		t.Fatalf("unexpected y bounds: %#v", bounds)
	}
}

func TestBoundingBoxIntersects(t *testing.T) {
	base := BoundingBox{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}
	tests := []struct {
		name     string
		other    BoundingBox
		expected bool
	}{
		{name: "overlapping", other: BoundingBox{MinX: 50, MinY: 50, MaxX: 150, MaxY: 150}, expected: true},
		{name: "touching edge", other: BoundingBox{MinX: 100, MinY: 0, MaxX: 200, MaxY: 100}, expected: true},
		{name: "disjoint", other: BoundingBox{MinX: 200, MinY: 200, MaxX: 300, MaxY: 300}, expected: false},
		{name: "contained", other: BoundingBox{MinX: 25, MinY: 25, MaxX: 75, MaxY: 75}, expected: true},
	}
	for _, tc := range tests {
		if base.Intersects(tc.other) != tc.expected {
			t.Fatalf("%s: expected intersects=%v", tc.name, tc.expected)
		}
	}
}

func TestBoundingBoxExpand(t *testing.T) {
	box := BoundingBox{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10}.Expand(500)
	if box.MinX != -500 || box.MaxY != 510 {
		t.Fatalf("unexpected expanded box: %#v", box)
	}
}
