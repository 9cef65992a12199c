// Package events persists the per-board canvas change log that backs the
// document service's history, timeline, snapshot and rollback endpoints.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingBoardID    = errors.New("board identifier is required")
	noOpLogger           = zap.NewNop()

	// ErrNothingToRollback indicates no events exist past the target
	// sequence.
	ErrNothingToRollback = errors.New("events: no changes to rollback")
)

// ServiceError carries an operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "events.service.new"
	opRecord     = "events.record"
	opList       = "events.list"
	opSnapshot   = "events.snapshot"
	opRollback   = "events.rollback"
	opTimeline   = "events.timeline"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// IDProvider issues event identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig bundles the dependencies of a Service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service appends and queries canvas events.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, idProvider: cfg.IDProvider, logger: logger}, nil
}

// Record appends one event, assigning the next per-board sequence number.
func (s *Service) Record(ctx context.Context, boardID string, request RecordRequest) (CanvasEvent, error) {
	if boardID == "" {
		return CanvasEvent{}, newServiceError(opRecord, "missing_board_id", errMissingBoardID)
	}
	if _, err := ParseEventType(string(request.EventType)); err != nil {
		s.logError(opRecord, "invalid_event_type", err, zap.String("board_id", boardID))
		return CanvasEvent{}, newServiceError(opRecord, "invalid_event_type", err)
	}

	eventID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opRecord, "id_generation_failed", err, zap.String("board_id", boardID))
		return CanvasEvent{}, newServiceError(opRecord, "id_generation_failed", err)
	}

	event := CanvasEvent{
		EventID:           eventID,
		BoardID:           boardID,
		EventType:         request.EventType,
		ObjectID:          request.ObjectID,
		ContributorID:     request.ContributorID,
		PreviousStateJSON: request.PreviousState,
		NewStateJSON:      request.NewState,
		CreatedAtSeconds:  s.clock().UTC().Unix(),
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lastSeq int64
		row := tx.Model(&CanvasEvent{}).
			Where("board_id = ?", boardID).
			Select("COALESCE(MAX(sequence_num), 0)")
		if err := row.Scan(&lastSeq).Error; err != nil {
			return newServiceError(opRecord, "sequence_select_failed", err)
		}
		event.SequenceNum = lastSeq + 1
		if err := tx.Create(&event).Error; err != nil {
			return newServiceError(opRecord, "event_insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opRecord, "transaction_failed", txErr, zap.String("board_id", boardID))
		return CanvasEvent{}, txErr
	}
	return event, nil
}

// ListQuery selects a page of history.
type ListQuery struct {
	Limit     int
	Offset    int
	EventType EventType
}

// ListResult is one page of history, newest first.
type ListResult struct {
	Events  []CanvasEvent
	Total   int64
	HasMore bool
}

// List returns events in reverse sequence order.
func (s *Service) List(ctx context.Context, boardID string, query ListQuery) (ListResult, error) {
	if boardID == "" {
		return ListResult{}, newServiceError(opList, "missing_board_id", errMissingBoardID)
	}
	limit := query.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	scope := s.db.WithContext(ctx).Model(&CanvasEvent{}).Where("board_id = ?", boardID)
	if query.EventType != "" {
		scope = scope.Where("event_type = ?", query.EventType)
	}

	var total int64
	if err := scope.Count(&total).Error; err != nil {
		s.logError(opList, "count_failed", err, zap.String("board_id", boardID))
		return ListResult{}, newServiceError(opList, "count_failed", err)
	}

	var page []CanvasEvent
	if err := scope.Order("sequence_num DESC").Limit(limit).Offset(query.Offset).Find(&page).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("board_id", boardID))
		return ListResult{}, newServiceError(opList, "query_failed", err)
	}

	return ListResult{
		Events:  page,
		Total:   total,
		HasMore: int64(query.Offset+limit) < total,
	}, nil
}

func (s *Service) eventsUpTo(ctx context.Context, boardID string, atSequence int64) ([]CanvasEvent, error) {
	scope := s.db.WithContext(ctx).Where("board_id = ?", boardID)
	if atSequence > 0 {
		scope = scope.Where("sequence_num <= ?", atSequence)
	}
	var out []CanvasEvent
	if err := scope.Order("sequence_num ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("events service error", attrs...)
}
