package events

import (
	"errors"
	"fmt"
	"strings"
)

// EventType classifies one canvas mutation.
type EventType string

const (
	EventTypeCreate EventType = "create"
	EventTypeUpdate EventType = "update"
	EventTypeDelete EventType = "delete"
)

var (
	// ErrInvalidEventType indicates an unknown event classification.
	ErrInvalidEventType = errors.New("events: invalid event type")
	// ErrInvalidGranularity indicates an unsupported timeline bucket width.
	ErrInvalidGranularity = errors.New("events: invalid granularity")
)

// ParseEventType validates a raw event type tag.
func ParseEventType(raw string) (EventType, error) {
	switch EventType(strings.ToLower(strings.TrimSpace(raw))) {
	case EventTypeCreate:
		return EventTypeCreate, nil
	case EventTypeUpdate:
		return EventTypeUpdate, nil
	case EventTypeDelete:
		return EventTypeDelete, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEventType, raw)
	}
}

// CanvasEvent is one append-only entry in a board's change log. Sequence
// numbers are dense and strictly increasing per board.
type CanvasEvent struct {
	EventID           string    `gorm:"column:event_id;primaryKey;size:190;not null"`
	BoardID           string    `gorm:"column:board_id;size:190;not null;index:idx_events_board_seq,priority:1"`
	SequenceNum       int64     `gorm:"column:sequence_num;not null;index:idx_events_board_seq,priority:2"`
	EventType         EventType `gorm:"column:event_type;size:32;not null"`
	ObjectID          string    `gorm:"column:object_id;size:190;not null;default:''"`
	ContributorID     string    `gorm:"column:contributor_id;size:190;not null;default:''"`
	PreviousStateJSON string    `gorm:"column:previous_state_json;type:text;not null;default:''"`
	NewStateJSON      string    `gorm:"column:new_state_json;type:text;not null;default:''"`
	CreatedAtSeconds  int64     `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (CanvasEvent) TableName() string {
	return "canvas_events"
}

// RecordRequest describes one event to append.
type RecordRequest struct {
	EventType     EventType
	ObjectID      string
	ContributorID string
	PreviousState string
	NewState      string
}
