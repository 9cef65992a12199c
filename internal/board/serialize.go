package board

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ExportVersion tags the persisted board envelope.
const ExportVersion = "1.0"

// Envelope is the versioned export format. Unknown extra fields on an
// object are ignored on import, never rejected, so the format stays
// forward-readable.
type Envelope struct {
	Version    string   `json:"version"`
	ExportedAt string   `json:"exportedAt"`
	Objects    []Object `json:"objects"`
	Bounds     Bounds   `json:"bounds"`
}

// Export serializes the board into the versioned JSON envelope.
// Import(Export()) is the identity transform on object content.
func (s *Store) Export() (string, error) {
	envelope := Envelope{
		Version:    ExportVersion,
		ExportedAt: s.clock().UTC().Format(time.RFC3339),
		Objects:    s.Objects(),
		Bounds:     s.ContentBounds(),
	}
	encoded, err := json.Marshal(envelope)
	if err != nil {
		s.logError(opImportBoard, "marshal_failed", err)
		return "", err
	}
	return string(encoded), nil
}

// Import replaces the board contents with a previously exported envelope.
// The payload is validated in full before any state changes; on failure
// the existing board is left untouched.
func (s *Store) Import(payload string) error {
	var envelope Envelope
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		s.logError(opImportBoard, "malformed_json", err)
		return fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}
	if envelope.Version == "" {
		s.logError(opImportBoard, "missing_version", ErrInvalidImport)
		return fmt.Errorf("%w: missing version", ErrInvalidImport)
	}
	seen := make(map[string]struct{}, len(envelope.Objects))
	for _, obj := range envelope.Objects {
		if err := obj.Validate(); err != nil {
			s.logError(opImportBoard, "invalid_object", err)
			return fmt.Errorf("%w: %v", ErrInvalidImport, err)
		}
		if _, dup := seen[obj.ID]; dup {
			s.logError(opImportBoard, "duplicate_object_id", ErrInvalidImport,
				zap.String("object_id", obj.ID))
			return fmt.Errorf("%w: duplicate id %s", ErrInvalidImport, obj.ID)
		}
		seen[obj.ID] = struct{}{}
	}

	s.objects = make(map[string]Object, len(envelope.Objects))
	s.order = s.order[:0]
	s.selection = make(map[string]struct{})
	for _, obj := range envelope.Objects {
		s.upsert(obj.Clone())
	}
	if s.notifier != nil {
		s.notifier.BoardReplaced(s.Objects())
	}
	return nil
}
