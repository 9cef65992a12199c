package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// SnapshotResult is the replayed board state at a point in history.
type SnapshotResult struct {
	BoardID     string           `json:"board_id"`
	SnapshotAt  int64            `json:"snapshot_at_s"`
	SequenceNum int64            `json:"sequence_num"`
	Objects     []map[string]any `json:"objects"`
}

// Snapshot replays the event log up to atSequence (0 means all events)
// and returns the resulting object set.
func (s *Service) Snapshot(ctx context.Context, boardID string, atSequence int64) (SnapshotResult, error) {
	if boardID == "" {
		return SnapshotResult{}, newServiceError(opSnapshot, "missing_board_id", errMissingBoardID)
	}
	log, err := s.eventsUpTo(ctx, boardID, atSequence)
	if err != nil {
		s.logError(opSnapshot, "query_failed", err, zap.String("board_id", boardID))
		return SnapshotResult{}, newServiceError(opSnapshot, "query_failed", err)
	}

	result := SnapshotResult{BoardID: boardID, SnapshotAt: s.clock().UTC().Unix()}
	if len(log) == 0 {
		result.Objects = []map[string]any{}
		return result, nil
	}

	objects := make(map[string]map[string]any)
	order := make([]string, 0)
	ordered := make(map[string]struct{})
	for _, event := range log {
		switch event.EventType {
		case EventTypeCreate:
			state := decodeState(event.NewStateJSON)
			if state == nil || event.ObjectID == "" {
				continue
			}
			// an id deleted and later recreated keeps its original slot
			if _, ok := ordered[event.ObjectID]; !ok {
				ordered[event.ObjectID] = struct{}{}
				order = append(order, event.ObjectID)
			}
			objects[event.ObjectID] = state
		case EventTypeUpdate:
			existing, ok := objects[event.ObjectID]
			if !ok {
				continue
			}
			for key, value := range decodeState(event.NewStateJSON) {
				existing[key] = value
			}
		case EventTypeDelete:
			delete(objects, event.ObjectID)
		}
	}

	last := log[len(log)-1]
	result.SnapshotAt = last.CreatedAtSeconds
	result.SequenceNum = last.SequenceNum
	result.Objects = make([]map[string]any, 0, len(objects))
	for _, objectID := range order {
		if state, ok := objects[objectID]; ok {
			result.Objects = append(result.Objects, state)
		}
	}
	return result, nil
}

// RollbackResult reports how far the board was rewound.
type RollbackResult struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	RollbackEvents int    `json:"rollback_events"`
	NewSequence    int64  `json:"new_sequence"`
}

// RollbackEvent pairs the inverse event with what it undid, so callers
// can mirror the rewind into the spatial index.
type RollbackEvent struct {
	Inverse CanvasEvent
	Undone  CanvasEvent
}

// Rollback rewinds the board to targetSequence by appending inverse
// events: undo create = delete, undo update = restore previous state,
// undo delete = recreate.
func (s *Service) Rollback(ctx context.Context, boardID string, targetSequence int64) (RollbackResult, []RollbackEvent, error) {
	if boardID == "" {
		return RollbackResult{}, nil, newServiceError(opRollback, "missing_board_id", errMissingBoardID)
	}

	var toUndo []CanvasEvent
	if err := s.db.WithContext(ctx).
		Where("board_id = ? AND sequence_num > ?", boardID, targetSequence).
		Order("sequence_num DESC").
		Find(&toUndo).Error; err != nil {
		s.logError(opRollback, "query_failed", err, zap.String("board_id", boardID))
		return RollbackResult{}, nil, newServiceError(opRollback, "query_failed", err)
	}
	if len(toUndo) == 0 {
		return RollbackResult{}, nil, ErrNothingToRollback
	}

	applied := make([]RollbackEvent, 0, len(toUndo))
	lastSequence := int64(0)
	for _, event := range toUndo {
		inverse, ok := inverseOf(event)
		if !ok {
			continue
		}
		recorded, err := s.Record(ctx, boardID, inverse)
		if err != nil {
			s.logError(opRollback, "inverse_record_failed", err,
				zap.String("board_id", boardID),
				zap.Int64("undoing_sequence", event.SequenceNum))
			return RollbackResult{}, nil, err
		}
		applied = append(applied, RollbackEvent{Inverse: recorded, Undone: event})
		lastSequence = recorded.SequenceNum
	}

	return RollbackResult{
		Success:        true,
		Message:        rollbackMessage(len(toUndo)),
		RollbackEvents: len(applied),
		NewSequence:    lastSequence,
	}, applied, nil
}

func inverseOf(event CanvasEvent) (RecordRequest, bool) {
	const contributor = "system-rollback"
	switch event.EventType {
	case EventTypeCreate:
		return RecordRequest{
			EventType:     EventTypeDelete,
			ObjectID:      event.ObjectID,
			ContributorID: contributor,
			PreviousState: event.NewStateJSON,
		}, true
	case EventTypeUpdate:
		return RecordRequest{
			EventType:     EventTypeUpdate,
			ObjectID:      event.ObjectID,
			ContributorID: contributor,
			PreviousState: event.NewStateJSON,
			NewState:      event.PreviousStateJSON,
		}, true
	case EventTypeDelete:
		return RecordRequest{
			EventType:     EventTypeCreate,
			ObjectID:      event.ObjectID,
			ContributorID: contributor,
			NewState:      event.PreviousStateJSON,
		}, true
	}
	return RecordRequest{}, false
}

func rollbackMessage(count int) string {
	if count == 1 {
		return "Rolled back 1 change"
	}
	return fmt.Sprintf("Rolled back %d changes", count)
}

// Granularity selects the timeline bucket width.
type Granularity string

const (
	GranularityMinute Granularity = "minute"
	GranularityHour   Granularity = "hour"
	GranularityDay    Granularity = "day"
)

// Bucket is one aggregated timeline slice.
type Bucket struct {
	Timestamp        string `json:"timestamp"`
	SequenceStart    int64  `json:"sequence_start"`
	SequenceEnd      int64  `json:"sequence_end"`
	EventCount       int    `json:"event_count"`
	Creates          int    `json:"creates"`
	Updates          int    `json:"updates"`
	Deletes          int    `json:"deletes"`
	ContributorCount int    `json:"contributor_count"`
}

// Timeline groups the board's events into time buckets for visualization.
func (s *Service) Timeline(ctx context.Context, boardID string, granularity Granularity) ([]Bucket, error) {
	if boardID == "" {
		return nil, newServiceError(opTimeline, "missing_board_id", errMissingBoardID)
	}
	var layout string
	switch granularity {
	case GranularityMinute:
		layout = "2006-01-02 15:04"
	case GranularityHour:
		layout = "2006-01-02 15:00"
	case GranularityDay:
		layout = "2006-01-02"
	default:
		return nil, newServiceError(opTimeline, "invalid_granularity", ErrInvalidGranularity)
	}

	log, err := s.eventsUpTo(ctx, boardID, 0)
	if err != nil {
		s.logError(opTimeline, "query_failed", err, zap.String("board_id", boardID))
		return nil, newServiceError(opTimeline, "query_failed", err)
	}
	if len(log) == 0 {
		return []Bucket{}, nil
	}

	type bucketState struct {
		Bucket
		contributors map[string]struct{}
	}
	buckets := make(map[string]*bucketState)
	for _, event := range log {
		key := time.Unix(event.CreatedAtSeconds, 0).UTC().Format(layout)
		state, ok := buckets[key]
		if !ok {
			state = &bucketState{
				Bucket: Bucket{
					Timestamp:     key,
					SequenceStart: event.SequenceNum,
					SequenceEnd:   event.SequenceNum,
				},
				contributors: make(map[string]struct{}),
			}
			buckets[key] = state
		}
		state.EventCount++
		if event.SequenceNum > state.SequenceEnd {
			state.SequenceEnd = event.SequenceNum
		}
		switch event.EventType {
		case EventTypeCreate:
			state.Creates++
		case EventTypeUpdate:
			state.Updates++
		case EventTypeDelete:
			state.Deletes++
		}
		if event.ContributorID != "" {
			state.contributors[event.ContributorID] = struct{}{}
		}
	}

	out := make([]Bucket, 0, len(buckets))
	for _, state := range buckets {
		state.ContributorCount = len(state.contributors)
		out = append(out, state.Bucket)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func decodeState(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var state map[string]any
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil
	}
	return state
}
