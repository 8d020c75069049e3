package record

import "strings"

var keyReplacer = strings.NewReplacer(" ", "_", "-", "_")

// NormalizeKey canonicalizes a key: uppercase, spaces and hyphens become
// underscores. NormalizeKey(NormalizeKey(k)) == NormalizeKey(k).
func NormalizeKey(key string) string {
	return strings.ToUpper(keyReplacer.Replace(key))
}

// NormalizePath normalizes every dot-separated segment of path. Whitespace
// around a segment is dropped, so "Patient Info . First Name" and
// "PATIENT_INFO.FIRST_NAME" name the same value.
func NormalizePath(path string) string {
	parts := strings.Split(path, ".")
	for i, p := range parts {
		parts[i] = NormalizeKey(strings.TrimSpace(p))
	}
	return strings.Join(parts, ".")
}

// Normalize returns a copy of v with every map key normalized, recursively.
// When two keys collapse to the same normalized key the later value wins.
func Normalize(v Value) Value {
	switch t := v.(type) {
	case Scalar:
		return t
	case List:
		out := make(List, len(t))
		for i, item := range t {
			out[i] = Normalize(item)
		}
		return out
	case *Map:
		return NormalizeMap(t)
	default:
		return nil
	}
}

// NormalizeMap is Normalize for a map root.
func NormalizeMap(m *Map) *Map {
	out := NewMap()
	if m == nil {
		return out
	}
	for _, k := range m.keys {
		out.Set(NormalizeKey(k), Normalize(m.values[k]))
	}
	return out
}
