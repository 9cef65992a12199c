// Package server exposes the document-service REST surface: chunk-based
// spatial queries and the board history endpoints consumed by canvas
// clients.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/driftlabs/driftboard/internal/board"
	"github.com/driftlabs/driftboard/internal/events"
	"github.com/driftlabs/driftboard/internal/spatial"
)

const (
	maxAroundRadius = 5

	boardIDParam  = "board_id"
	objectIDParam = "object_id"
)

var (
	errMissingEventsService = errors.New("events service dependency required")
	errMissingRegistry      = errors.New("spatial registry dependency required")
)

// Dependencies wires the router.
type Dependencies struct {
	EventsService *events.Service
	Registry      *spatial.Registry
	Logger        *zap.Logger
}

// NewHTTPHandler builds the gin router for the document service.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.EventsService == nil {
		return nil, errMissingEventsService
	}
	if deps.Registry == nil {
		return nil, errMissingRegistry
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		eventsService: deps.EventsService,
		registry:      deps.Registry,
		logger:        logger,
	}

	router.GET("/healthz", handler.handleHealth)

	boards := router.Group("/boards/:" + boardIDParam)
	boards.POST("/chunks/viewport", handler.handleChunksViewport)
	boards.GET("/chunks/around", handler.handleChunksAround)
	boards.GET("/chunks/list", handler.handleChunksList)
	boards.GET("/chunks/stats", handler.handleChunksStats)
	boards.POST("/objects", handler.handleObjectCreate)
	boards.POST("/objects/publish", handler.handleObjectsPublish)
	boards.PATCH("/objects/:"+objectIDParam, handler.handleObjectUpdate)
	boards.DELETE("/objects/:"+objectIDParam, handler.handleObjectDelete)
	boards.GET("/history", handler.handleHistoryList)
	boards.GET("/history/timeline", handler.handleHistoryTimeline)
	boards.GET("/history/snapshot", handler.handleHistorySnapshot)
	boards.POST("/history/rollback", handler.handleHistoryRollback)

	return router, nil
}

type httpHandler struct {
	eventsService *events.Service
	registry      *spatial.Registry
	logger        *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// boardIndex returns the board's spatial index, rebuilding it from the
// event log the first time the board is touched after startup.
func (h *httpHandler) boardIndex(c *gin.Context, boardID string) *spatial.Index {
	index, existed := h.registry.Board(boardID)
	if existed {
		return index
	}
	snapshot, err := h.eventsService.Snapshot(c.Request.Context(), boardID, 0)
	if err != nil {
		h.logger.Warn("spatial index rebuild failed",
			zap.String("board_id", boardID), zap.Error(err))
		return index
	}
	for _, state := range snapshot.Objects {
		if obj, ok := objectFromState(state); ok {
			index.Upsert(obj)
		}
	}
	return index
}

type viewportQueryPayload struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

type viewportResponsePayload struct {
	Objects      []board.Object `json:"objects"`
	LoadedChunks []string       `json:"loaded_chunks"`
	Stats        spatial.Stats  `json:"stats"`
}

func (h *httpHandler) handleChunksViewport(c *gin.Context) {
	boardID := c.Param(boardIDParam)
	var query viewportQueryPayload
	if err := c.ShouldBindJSON(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	box := spatial.BoundingBox{MinX: query.MinX, MinY: query.MinY, MaxX: query.MaxX, MaxY: query.MaxY}
	if box.MaxX < box.MinX || box.MaxY < box.MinY {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_bounds"})
		return
	}

	index := h.boardIndex(c, boardID)
	objects := index.QueryViewport(box)

	loadedChunks := make([]string, 0)
	for _, coord := range spatial.CoverChunks(box, index.ChunkSize()) {
		loadedChunks = append(loadedChunks, coord.ID())
	}

	c.JSON(http.StatusOK, viewportResponsePayload{
		Objects:      objects,
		LoadedChunks: loadedChunks,
		Stats:        index.Snapshot(),
	})
}

type chunkPayload struct {
	ID      string         `json:"id"`
	Objects []board.Object `json:"objects"`
}

func (h *httpHandler) handleChunksAround(c *gin.Context) {
	boardID := c.Param(boardIDParam)
	x, errX := strconv.ParseFloat(c.Query("x"), 64)
	y, errY := strconv.ParseFloat(c.Query("y"), 64)
	if errX != nil || errY != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_center"})
		return
	}
	radius := 1
	if raw := c.Query("radius"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 || parsed > maxAroundRadius {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_radius"})
			return
		}
		radius = parsed
	}

	index := h.boardIndex(c, boardID)
	center := spatial.ChunkAt(x, y, index.ChunkSize())

	chunkIDs := make([]string, 0, (2*radius+1)*(2*radius+1))
	for dx := -radius; dx <= radius; dx++ {
		for dy := -radius; dy <= radius; dy++ {
			chunkIDs = append(chunkIDs, spatial.ChunkCoord{X: center.X + dx, Y: center.Y + dy}.ID())
		}
	}

	byChunk := index.QueryChunks(chunkIDs)
	chunks := make([]chunkPayload, 0, len(chunkIDs))
	for _, chunkID := range chunkIDs {
		chunks = append(chunks, chunkPayload{ID: chunkID, Objects: byChunk[chunkID]})
	}

	c.JSON(http.StatusOK, gin.H{
		"centerChunk": center.ID(),
		"chunks":      chunks,
		"stats":       index.Snapshot(),
	})
}

func (h *httpHandler) handleChunksList(c *gin.Context) {
	boardID := c.Param(boardIDParam)
	index := h.boardIndex(c, boardID)

	chunkInfos := make([]gin.H, 0)
	for _, chunkID := range index.LoadedChunkIDs() {
		coord, err := spatial.ParseChunkID(chunkID)
		if err != nil {
			continue
		}
		bounds := coord.Bounds(index.ChunkSize())
		chunkInfos = append(chunkInfos, gin.H{
			"id": chunkID,
			"x":  coord.X,
			"y":  coord.Y,
			"worldBounds": gin.H{
				"minX": bounds.MinX,
				"minY": bounds.MinY,
				"maxX": bounds.MaxX,
				"maxY": bounds.MaxY,
			},
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"chunks":    chunkInfos,
		"chunkSize": index.ChunkSize(),
		"stats":     index.Snapshot(),
	})
}

func (h *httpHandler) handleChunksStats(c *gin.Context) {
	boardID := c.Param(boardIDParam)
	index := h.boardIndex(c, boardID)
	stats := index.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"boardId":          boardID,
		"total_objects":    stats.TotalObjects,
		"total_chunks":     stats.TotalChunks,
		"non_empty_chunks": stats.NonEmptyChunks,
		"chunk_size":       stats.ChunkSize,
	})
}

type objectCreatePayload struct {
	Object        board.Object `json:"object"`
	ContributorID string       `json:"contributor_id"`
}

func (h *httpHandler) handleObjectCreate(c *gin.Context) {
	boardID := c.Param(boardIDParam)
	var payload objectCreatePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := payload.Object.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_object"})
		return
	}

	state, err := json.Marshal(payload.Object)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "encode_failed"})
		return
	}
	recorded, err := h.eventsService.Record(c.Request.Context(), boardID, events.RecordRequest{
		EventType:     events.EventTypeCreate,
		ObjectID:      payload.Object.ID,
		ContributorID: payload.ContributorID,
		NewState:      string(state),
	})
	if err != nil {
		h.logger.Error("object create failed", zap.String("board_id", boardID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "record_failed"})
		return
	}

	h.boardIndex(c, boardID).Upsert(payload.Object)
	c.JSON(http.StatusOK, gin.H{"sequence_num": recorded.SequenceNum, "object": payload.Object})
}

type objectUpdatePayload struct {
	Changes       map[string]any `json:"changes"`
	PreviousState map[string]any `json:"previous_state"`
	ContributorID string         `json:"contributor_id"`
}

func (h *httpHandler) handleObjectUpdate(c *gin.Context) {
	boardID := c.Param(boardIDParam)
	objectID := c.Param(objectIDParam)
	var payload objectUpdatePayload
	if err := c.ShouldBindJSON(&payload); err != nil || len(payload.Changes) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	changes, err := json.Marshal(payload.Changes)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "encode_failed"})
		return
	}
	previous := ""
	if payload.PreviousState != nil {
		encoded, err := json.Marshal(payload.PreviousState)
		if err == nil {
			previous = string(encoded)
		}
	}
	recorded, err := h.eventsService.Record(c.Request.Context(), boardID, events.RecordRequest{
		EventType:     events.EventTypeUpdate,
		ObjectID:      objectID,
		ContributorID: payload.ContributorID,
		PreviousState: previous,
		NewState:      string(changes),
	})
	if err != nil {
		h.logger.Error("object update failed", zap.String("board_id", boardID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "record_failed"})
		return
	}

	merged := payload.PreviousState
	if merged == nil {
		merged = map[string]any{}
	}
	for key, value := range payload.Changes {
		merged[key] = value
	}
	if obj, ok := objectFromState(merged); ok {
		obj.ID = objectID
		h.boardIndex(c, boardID).Upsert(obj)
	}
	c.JSON(http.StatusOK, gin.H{"sequence_num": recorded.SequenceNum})
}

type objectDeletePayload struct {
	PreviousState map[string]any `json:"previous_state"`
	ContributorID string         `json:"contributor_id"`
}

func (h *httpHandler) handleObjectDelete(c *gin.Context) {
	boardID := c.Param(boardIDParam)
	objectID := c.Param(objectIDParam)
	// body is optional; the index supplies previous state when absent
	var payload objectDeletePayload
	_ = c.ShouldBindJSON(&payload)

	index := h.boardIndex(c, boardID)
	previous := ""
	if payload.PreviousState != nil {
		if encoded, err := json.Marshal(payload.PreviousState); err == nil {
			previous = string(encoded)
		}
	} else if obj, ok := index.Remove(objectID); ok {
		if encoded, err := json.Marshal(obj); err == nil {
			previous = string(encoded)
		}
	}

	recorded, err := h.eventsService.Record(c.Request.Context(), boardID, events.RecordRequest{
		EventType:     events.EventTypeDelete,
		ObjectID:      objectID,
		ContributorID: payload.ContributorID,
		PreviousState: previous,
	})
	if err != nil {
		h.logger.Error("object delete failed", zap.String("board_id", boardID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "record_failed"})
		return
	}

	index.Remove(objectID)
	c.JSON(http.StatusOK, gin.H{"sequence_num": recorded.SequenceNum})
}

type objectsPublishPayload struct {
	Objects       []board.Object `json:"objects"`
	ContributorID string         `json:"contributor_id"`
}

// handleObjectsPublish bulk-registers a client's local objects, e.g. after
// a board import.
func (h *httpHandler) handleObjectsPublish(c *gin.Context) {
	boardID := c.Param(boardIDParam)
	var payload objectsPublishPayload
	if err := c.ShouldBindJSON(&payload); err != nil || len(payload.Objects) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	index := h.boardIndex(c, boardID)
	accepted := 0
	for _, obj := range payload.Objects {
		if err := obj.Validate(); err != nil {
			continue
		}
		state, err := json.Marshal(obj)
		if err != nil {
			continue
		}
		if _, err := h.eventsService.Record(c.Request.Context(), boardID, events.RecordRequest{
			EventType:     events.EventTypeCreate,
			ObjectID:      obj.ID,
			ContributorID: payload.ContributorID,
			NewState:      string(state),
		}); err != nil {
			h.logger.Error("object publish failed",
				zap.String("board_id", boardID),
				zap.String("object_id", obj.ID),
				zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "record_failed"})
			return
		}
		index.Upsert(obj)
		accepted++
	}
	c.JSON(http.StatusOK, gin.H{"accepted": accepted})
}

func (h *httpHandler) handleHistoryList(c *gin.Context) {
	boardID := c.Param(boardIDParam)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}

	query := events.ListQuery{Limit: limit, Offset: offset}
	if raw := c.Query("event_type"); raw != "" {
		eventType, err := events.ParseEventType(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event_type"})
			return
		}
		query.EventType = eventType
	}

	result, err := h.eventsService.List(c.Request.Context(), boardID, query)
	if err != nil {
		h.logger.Error("history list failed", zap.String("board_id", boardID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}

	eventPayloads := make([]gin.H, 0, len(result.Events))
	for _, event := range result.Events {
		eventPayloads = append(eventPayloads, gin.H{
			"id":             event.EventID,
			"event_type":     event.EventType,
			"object_id":      event.ObjectID,
			"contributor_id": event.ContributorID,
			"previous_state": json.RawMessage(orNullJSON(event.PreviousStateJSON)),
			"new_state":      json.RawMessage(orNullJSON(event.NewStateJSON)),
			"created_at_s":   event.CreatedAtSeconds,
			"sequence_num":   event.SequenceNum,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"events":   eventPayloads,
		"total":    result.Total,
		"has_more": result.HasMore,
	})
}

func (h *httpHandler) handleHistoryTimeline(c *gin.Context) {
	boardID := c.Param(boardIDParam)
	granularity := events.Granularity(strings.ToLower(c.DefaultQuery("granularity", "minute")))

	buckets, err := h.eventsService.Timeline(c.Request.Context(), boardID, granularity)
	if err != nil {
		if errors.Is(err, events.ErrInvalidGranularity) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_granularity"})
			return
		}
		h.logger.Error("timeline failed", zap.String("board_id", boardID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}
	c.JSON(http.StatusOK, buckets)
}

func (h *httpHandler) handleHistorySnapshot(c *gin.Context) {
	boardID := c.Param(boardIDParam)
	atSequence := int64(0)
	if raw := c.Query("at_sequence"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_sequence"})
			return
		}
		atSequence = parsed
	}

	snapshot, err := h.eventsService.Snapshot(c.Request.Context(), boardID, atSequence)
	if err != nil {
		h.logger.Error("snapshot failed", zap.String("board_id", boardID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

type rollbackPayload struct {
	TargetSequence int64 `json:"target_sequence"`
}

func (h *httpHandler) handleHistoryRollback(c *gin.Context) {
	boardID := c.Param(boardIDParam)
	var payload rollbackPayload
	if err := c.ShouldBindJSON(&payload); err != nil || payload.TargetSequence < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, _, err := h.eventsService.Rollback(c.Request.Context(), boardID, payload.TargetSequence)
	if err != nil {
		if errors.Is(err, events.ErrNothingToRollback) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "nothing_to_rollback"})
			return
		}
		h.logger.Error("rollback failed", zap.String("board_id", boardID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "rollback_failed"})
		return
	}

	// rewound state differs from the live index; rebuild lazily on next read
	h.registry.Drop(boardID)
	c.JSON(http.StatusOK, result)
}

// objectFromState converts a replayed state map back into a typed object.
func objectFromState(state map[string]any) (board.Object, bool) {
	encoded, err := json.Marshal(state)
	if err != nil {
		return board.Object{}, false
	}
	var obj board.Object
	if err := json.Unmarshal(encoded, &obj); err != nil {
		return board.Object{}, false
	}
	if err := obj.Validate(); err != nil {
		return board.Object{}, false
	}
	return obj, true
}

func orNullJSON(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "null"
	}
	return raw
}
