package varmap

// Clone returns a copy of m. The result is never nil.
func Clone(m Map) Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Equal reports whether a and b hold the same keys and values. A nil map
// equals an empty one.
func Equal(a, b Map) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}

// Merge returns base overlaid with update. Keys absent from update keep their
// base value. Neither argument is modified, so merging the same update twice
// gives the same result as merging it once.
func Merge(base, update Map) Map {
	out := make(Map, len(base)+len(update))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range update {
		out[k] = v
	}
	return out
}

// Diff returns the entries of next that are new or changed relative to prev.
// Keys removed in next are not reported.
func Diff(prev, next Map) Map {
	out := make(Map)
	for k, v := range next {
		if old, ok := prev[k]; !ok || old != v {
			out[k] = v
		}
	}
	return out
}

// Filter returns the entries of m whose keys are listed. An empty list keeps
// every entry. Listed keys that m lacks are skipped.
func Filter(m Map, keys []Key) Map {
	if len(keys) == 0 {
		return Clone(m)
	}
	out := make(Map, len(keys))
	for _, k := range keys {
		if v, ok := m[k]; ok {
			out[k] = v
		}
	}
	return out
}
