package rtdb

import (
	"encoding/json"
	"fmt"
	"strings"
)


const PathSeparator = "/"

const RootPath = "/"


// splits a slash-delimited path into its non-empty segments
func SplitPath(path string) []string {
	segments := []string{}
	for _, segment := range strings.Split(path, PathSeparator) {
		if segment != "" {
			segments = append(segments, segment)
		}
	}
	return segments
}

func JoinPath(segments ...string) string {
	parts := []string{}
	for _, segment := range segments {
		parts = append(parts, SplitPath(segment)...)
	}
	return PathSeparator + strings.Join(parts, PathSeparator)
}

// a base path is exactly one segment below the root, e.g. `/Members`
func ValidateBasePath(basePath string) error {
	if !strings.HasPrefix(basePath, PathSeparator) {
		return fmt.Errorf("%w: base path must start with '/': %s", ErrInvalidPath, basePath)
	}
	if strings.LastIndex(basePath, PathSeparator) != 0 || len(basePath) == 1 {
		return fmt.Errorf("%w: base path must be a single resource: %s", ErrInvalidPath, basePath)
	}
	return nil
}

// segment-wise prefix test. `/Members` is a prefix of `/Members/1` but not of `/MembersX`
func PathHasPrefix(path string, prefix string) bool {
	_, ok := RelativeSegments(prefix, path)
	return ok
}

// the segments of `path` below `basePath`
// depth is the length of the result; depth 0 is the base path itself
func RelativeSegments(basePath string, path string) ([]string, bool) {
	baseSegments := SplitPath(basePath)
	segments := SplitPath(path)
	if len(segments) < len(baseSegments) {
		return nil, false
	}
	for i, baseSegment := range baseSegments {
		if segments[i] != baseSegment {
			return nil, false
		}
	}
	return segments[len(baseSegments):], true
}

// walks `data` down through the object keys in `segments`
// a missing child or a non-object parent projects to null
func ProjectData(data json.RawMessage, segments []string) json.RawMessage {
	for _, segment := range segments {
		if IsNull(data) {
			return nil
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			// a scalar has no children
			return nil
		}
		child, ok := obj[segment]
		if !ok {
			return nil
		}
		data = child
	}
	return data
}

func IsNull(data json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(data))
	return trimmed == "" || trimmed == "null"
}
