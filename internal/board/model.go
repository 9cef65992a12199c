package board

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ObjectType enumerates the supported canvas object variants.
type ObjectType string

const (
	ObjectTypeStroke    ObjectType = "stroke"
	ObjectTypeShape     ObjectType = "shape"
	ObjectTypeText      ObjectType = "text"
	ObjectTypeSticky    ObjectType = "sticky"
	ObjectTypeImage     ObjectType = "image"
	ObjectTypeVideo     ObjectType = "video"
	ObjectTypeAudio     ObjectType = "audio"
	ObjectTypeConnector ObjectType = "connector"
)

// MinViewportScale is the floor applied to viewport zoom so that
// coordinate transforms never divide by zero.
const MinViewportScale = 0.05

var (
	// ErrNotFound indicates a mutation addressed an unknown object id.
	ErrNotFound = errors.New("board: object not found")
	// ErrInvalidObjectID indicates an empty or oversized object identifier.
	ErrInvalidObjectID = errors.New("board: invalid object id")
	// ErrInvalidObjectType indicates an unknown object type tag.
	ErrInvalidObjectType = errors.New("board: invalid object type")
	// ErrInvalidGeometry indicates a non-finite geometry value.
	ErrInvalidGeometry = errors.New("board: geometry must be finite")
	// ErrInvalidImport indicates a structurally malformed board payload.
	ErrInvalidImport = errors.New("board: invalid import payload")
)

const maxIdentifierLength = 190

// ParseObjectType validates a raw type tag.
func ParseObjectType(raw string) (ObjectType, error) {
	switch ObjectType(strings.ToLower(strings.TrimSpace(raw))) {
	case ObjectTypeStroke:
		return ObjectTypeStroke, nil
	case ObjectTypeShape:
		return ObjectTypeShape, nil
	case ObjectTypeText:
		return ObjectTypeText, nil
	case ObjectTypeSticky:
		return ObjectTypeSticky, nil
	case ObjectTypeImage:
		return ObjectTypeImage, nil
	case ObjectTypeVideo:
		return ObjectTypeVideo, nil
	case ObjectTypeAudio:
		return ObjectTypeAudio, nil
	case ObjectTypeConnector:
		return ObjectTypeConnector, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidObjectType, raw)
	}
}

// Object is one element on the canvas. The id is globally unique within a
// board and the type tag is immutable after creation.
type Object struct {
	ID        string         `json:"id"`
	Type      ObjectType     `json:"type"`
	X         float64        `json:"x"`
	Y         float64        `json:"y"`
	Width     float64        `json:"width"`
	Height    float64        `json:"height"`
	Rotation  float64        `json:"rotation,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt int64          `json:"createdAt"`
}

// Validate checks the structural invariants of an object.
func (o Object) Validate() error {
	trimmed := strings.TrimSpace(o.ID)
	if trimmed == "" || len(trimmed) > maxIdentifierLength {
		return fmt.Errorf("%w: %q", ErrInvalidObjectID, o.ID)
	}
	if _, err := ParseObjectType(string(o.Type)); err != nil {
		return err
	}
	for _, value := range []float64{o.X, o.Y, o.Width, o.Height, o.Rotation} {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return fmt.Errorf("%w: object %s", ErrInvalidGeometry, o.ID)
		}
	}
	return nil
}

// Clone returns a value copy with a deep-copied data payload, so history
// snapshots never alias live objects.
func (o Object) Clone() Object {
	copied := o
	copied.Data = cloneData(o.Data)
	return copied
}

// Bounds returns the world-space bounding box of the object.
func (o Object) Bounds() Bounds {
	return Bounds{MinX: o.X, MinY: o.Y, MaxX: o.X + o.Width, MaxY: o.Y + o.Height}
}

func cloneData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	copied := make(map[string]any, len(data))
	for key, value := range data {
		copied[key] = cloneValue(value)
	}
	return copied
}

func cloneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return cloneData(typed)
	case []any:
		copied := make([]any, len(typed))
		for i, element := range typed {
			copied[i] = cloneValue(element)
		}
		return copied
	default:
		return value
	}
}

// Viewport is the visible window onto the canvas in screen pixels plus a
// zoom factor.
type Viewport struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Scale float64 `json:"scale"`
}

// Clamped returns the viewport with the scale floor applied.
func (v Viewport) Clamped() Viewport {
	if v.Scale < MinViewportScale {
		v.Scale = MinViewportScale
	}
	return v
}

// ViewportPatch carries a partial viewport update; nil fields are left
// untouched.
type ViewportPatch struct {
	X     *float64
	Y     *float64
	Scale *float64
}

// Bounds is an axis-aligned rectangle in world coordinates.
type Bounds struct {
	MinX float64 `json:"minX"`
	MinY float64 `json:"minY"`
	MaxX float64 `json:"maxX"`
	MaxY float64 `json:"maxY"`
}

// Union grows the bounds to include other.
func (b Bounds) Union(other Bounds) Bounds {
	return Bounds{
		MinX: math.Min(b.MinX, other.MinX),
		MinY: math.Min(b.MinY, other.MinY),
		MaxX: math.Max(b.MaxX, other.MaxX),
		MaxY: math.Max(b.MaxY, other.MaxY),
	}
}
