package rtdbmock

import (
	"bytes"
	"encoding/json"
	"strings"
)


// the document tree. Values are decoded json: map[string]any, []any, json.Number, string, bool.
// nil and empty objects do not exist in the tree.


func splitPath(path string) []string {
	segments := []string{}
	for _, segment := range strings.Split(path, "/") {
		if segment != "" {
			segments = append(segments, segment)
		}
	}
	return segments
}

func joinPath(segments []string) string {
	return "/" + strings.Join(segments, "/")
}

func decodeValue(data []byte) (any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	return normalize(value), nil
}

func encodeValue(value any) []byte {
	if value == nil {
		return []byte("null")
	}
	data, err := json.Marshal(value)
	if err != nil {
		panic(err)
	}
	return data
}

// drops null children and empty objects, recursively
func normalize(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := map[string]any{}
		for key, child := range v {
			if normalizedChild := normalize(child); normalizedChild != nil {
				out[key] = normalizedChild
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case []any:
		if len(v) == 0 {
			return nil
		}
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = normalize(child)
		}
		return out
	default:
		return value
	}
}

func getValue(root any, segments []string) any {
	value := root
	for _, segment := range segments {
		obj, ok := value.(map[string]any)
		if !ok {
			return nil
		}
		value = obj[segment]
	}
	return value
}

// returns the new root
func setValue(root any, segments []string, value any) any {
	if len(segments) == 0 {
		return normalize(value)
	}
	obj, ok := root.(map[string]any)
	if !ok {
		// a scalar parent is replaced by an object
		obj = map[string]any{}
	} else {
		// copy on write, so values handed out earlier are never mutated
		next := make(map[string]any, len(obj)+1)
		for key, child := range obj {
			next[key] = child
		}
		obj = next
	}
	child := setValue(obj[segments[0]], segments[1:], value)
	if child == nil {
		delete(obj, segments[0])
	} else {
		obj[segments[0]] = child
	}
	if len(obj) == 0 {
		return nil
	}
	return obj
}
