package storage

import "time"

// normalizeFieldValues prepares a metadata patch for storage: time values
// become RFC3339 strings so both backends persist them the same way the
// chunk codec does.
func normalizeFieldValues(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for key, value := range fields {
		switch v := value.(type) {
		case time.Time:
			out[key] = v.UTC().Format(time.RFC3339)
		case *time.Time:
			if v == nil {
				out[key] = nil
			} else {
				out[key] = v.UTC().Format(time.RFC3339)
			}
		default:
			out[key] = value
		}
	}
	return out
}
