package storage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/elertan/bronzeman-unleashed/rtdb"
)


// maps a typed key to a single path segment
// `Decode(Encode(k)) == k` and `Encode` never produces `/`
type KeyCodec[K comparable] interface {
	Encode(key K) string
	Decode(encodedKey string) (K, error)
}


type IntKeyCodec struct{}

func (self IntKeyCodec) Encode(key int) string {
	return strconv.Itoa(key)
}

func (self IntKeyCodec) Decode(encodedKey string) (int, error) {
	key, err := strconv.Atoi(encodedKey)
	if err != nil {
		return 0, fmt.Errorf("%w: int key %q", rtdb.ErrDecode, encodedKey)
	}
	return key, nil
}


type Int64KeyCodec struct{}

func (self Int64KeyCodec) Encode(key int64) string {
	return strconv.FormatInt(key, 10)
}

func (self Int64KeyCodec) Decode(encodedKey string) (int64, error) {
	key, err := strconv.ParseInt(encodedKey, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: int64 key %q", rtdb.ErrDecode, encodedKey)
	}
	return key, nil
}


// string keys are used as is
// writes with a key containing `/` fail with `ErrInvalidPath`
type StringKeyCodec struct{}

func (self StringKeyCodec) Encode(key string) string {
	return key
}

func (self StringKeyCodec) Decode(encodedKey string) (string, error) {
	if encodedKey == "" || strings.Contains(encodedKey, rtdb.PathSeparator) {
		return "", fmt.Errorf("%w: string key %q", rtdb.ErrDecode, encodedKey)
	}
	return encodedKey, nil
}


func encodeKey[K comparable](keyCodec KeyCodec[K], key K) (string, error) {
	encodedKey := keyCodec.Encode(key)
	if err := validateSegment(encodedKey); err != nil {
		return "", err
	}
	return encodedKey, nil
}

func validateSegment(segment string) error {
	if segment == "" || strings.Contains(segment, rtdb.PathSeparator) {
		return fmt.Errorf("%w: path segment %q", rtdb.ErrInvalidPath, segment)
	}
	return nil
}


// values are stored as json
// a value that encodes to `null` cannot be written, removal is always a delete
func encodeValue[V any](value V) (json.RawMessage, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	if rtdb.IsNull(data) {
		return nil, rtdb.ErrNullValue
	}
	return data, nil
}

func decodeValue[V any](data json.RawMessage) (V, error) {
	var value V
	if err := json.Unmarshal(data, &value); err != nil {
		var empty V
		return empty, fmt.Errorf("%w: %s", rtdb.ErrDecode, err)
	}
	return value, nil
}

// the children of an object node by child key
// null is empty. The store renders dense integer keys as an array, which is mapped back to index keys.
func decodeChildren(data json.RawMessage) (map[string]json.RawMessage, error) {
	children := map[string]json.RawMessage{}
	if rtdb.IsNull(data) {
		return children, nil
	}
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var elements []json.RawMessage
		if err := json.Unmarshal(data, &elements); err != nil {
			return nil, fmt.Errorf("%w: %s", rtdb.ErrDecode, err)
		}
		for i, element := range elements {
			if !rtdb.IsNull(element) {
				children[strconv.Itoa(i)] = element
			}
		}
		return children, nil
	}
	if err := json.Unmarshal(data, &children); err != nil {
		return nil, fmt.Errorf("%w: %s", rtdb.ErrDecode, err)
	}
	for childKey, child := range children {
		if rtdb.IsNull(child) {
			delete(children, childKey)
		}
	}
	return children, nil
}
