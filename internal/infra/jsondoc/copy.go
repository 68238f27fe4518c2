package jsondoc

// DeepCopy returns a copy of a decoded JSON body that shares no maps or slices with body.
func DeepCopy(body map[string]any) map[string]any {
	if body == nil {
		return nil
	}
	return deepCopyMap(body)
}

func deepCopyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return deepCopyMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}
