package record

import "strings"

// Resolve walks a dotted path through a normalized tree. Stepping into a map
// selects the member; stepping into a list projects the member across every
// map element that has it. ok is false when the path does not resolve, which
// callers treat as an absent field rather than an error.
func Resolve(root Value, path string) (v Value, ok bool) {
	if root == nil || path == "" {
		return nil, false
	}

	current := root
	for _, key := range strings.Split(NormalizePath(path), ".") {
		if key == "" {
			return nil, false
		}
		current, ok = step(current, key)
		if !ok {
			return nil, false
		}
	}

	if l, isList := current.(List); isList && len(l) == 0 {
		return nil, false
	}
	return current, true
}

func step(v Value, key string) (Value, bool) {
	switch t := v.(type) {
	case *Map:
		return t.Get(key)
	case List:
		projected := List{}
		for _, item := range t {
			m, ok := item.(*Map)
			if !ok {
				continue
			}
			if member, ok := m.Get(key); ok {
				projected = append(projected, member)
			}
		}
		if len(projected) == 0 {
			return nil, false
		}
		return projected, true
	default:
		return nil, false
	}
}

// ResolveScalar resolves path and returns its text when it is a non-empty
// scalar.
func ResolveScalar(root Value, path string) (string, bool) {
	v, ok := Resolve(root, path)
	if !ok {
		return "", false
	}
	s, ok := v.(Scalar)
	if !ok || s == "" {
		return "", false
	}
	return string(s), true
}

// ResolveString is ResolveScalar with a fallback for absent values.
func ResolveString(root Value, path, fallback string) string {
	if s, ok := ResolveScalar(root, path); ok {
		return s
	}
	return fallback
}
