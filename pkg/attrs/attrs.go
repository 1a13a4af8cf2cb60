// Package attrs converts slog-style key/value slices into other shapes.
package attrs

// ToMap turns [key1, value1, key2, value2, ...] into a map. Non-string keys
// and a trailing key without a value are skipped. Returns nil for an empty
// slice so callers can omit empty metadata.
func ToMap(kv []any) map[string]any {
	if len(kv) < 2 {
		return nil
	}
	out := make(map[string]any, len(kv)/2)
	for i := 0; i < len(kv)-1; i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out[k] = kv[i+1]
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
