package board

// mergeObject applies a shallow last-write-wins merge of partial changes
// into an object. Conflict policy lives here and nowhere else, so a future
// causally-ordered merge is a local change.
//
// Geometry and rotation replace field-wise; "data" replaces the payload map
// wholesale. The id and type tag are immutable and silently skipped.
func mergeObject(existing Object, changes map[string]any) Object {
	merged := existing.Clone()
	for key, value := range changes {
		switch key {
		case "x":
			if number, ok := asFloat(value); ok {
				merged.X = number
			}
		case "y":
			if number, ok := asFloat(value); ok {
				merged.Y = number
			}
		case "width":
			if number, ok := asFloat(value); ok {
				merged.Width = number
			}
		case "height":
			if number, ok := asFloat(value); ok {
				merged.Height = number
			}
		case "rotation":
			if number, ok := asFloat(value); ok {
				merged.Rotation = number
			}
		case "data":
			if payload, ok := value.(map[string]any); ok {
				merged.Data = cloneData(payload)
			}
		case "id", "type", "createdAt":
			// immutable
		}
	}
	return merged
}

func asFloat(value any) (float64, bool) {
	switch number := value.(type) {
	case float64:
		return number, true
	case float32:
		return float64(number), true
	case int:
		return float64(number), true
	case int64:
		return float64(number), true
	}
	return 0, false
}
