package rtdb

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)


// one frame of the store's event stream
// event: put
// data: {"path": "/", "data": {...}}
type StreamEvent struct {
	Type string
	Data []byte
}


type eventStreamReader struct {
	scanner *bufio.Scanner
}

func newEventStreamReader(r io.Reader, maxEventByteCount int) *eventStreamReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventByteCount)
	return &eventStreamReader{
		scanner: scanner,
	}
}

// blocks until a complete frame is read
// returns `io.EOF` when the stream ends cleanly
func (self *eventStreamReader) Next() (*StreamEvent, error) {
	var eventType string
	var data bytes.Buffer
	hasData := false

	for self.scanner.Scan() {
		line := strings.TrimSuffix(self.scanner.Text(), "\r")

		if line == "" {
			if eventType == "" && !hasData {
				// consecutive blank lines
				continue
			}
			return &StreamEvent{
				Type: eventType,
				Data: data.Bytes(),
			}, nil
		}
		if strings.HasPrefix(line, ":") {
			// comment
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			eventType = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		default:
			// `id`, `retry` are not used by the store
		}
	}
	if err := self.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}


type ChangeKind string

const (
	ChangeKindPut ChangeKind = "put"
)


// the subtree at `Path` is replaced by `Data`
// null or empty `Data` deletes the subtree
type ChangeEvent struct {
	Kind ChangeKind
	Path string
	Data json.RawMessage
}

func (self ChangeEvent) IsDelete() bool {
	return IsNull(self.Data)
}

func (self ChangeEvent) String() string {
	return fmt.Sprintf("%s %s (%d bytes)", self.Kind, self.Path, len(self.Data))
}


type changeEventJson struct {
	Path string `json:"path"`
	Data json.RawMessage `json:"data"`
}

func ParseChangeEvent(kind ChangeKind, data []byte) (ChangeEvent, error) {
	var changeEvent changeEventJson
	if err := json.Unmarshal(data, &changeEvent); err != nil {
		return ChangeEvent{}, fmt.Errorf("%w: %s", ErrDecode, err)
	}
	if !strings.HasPrefix(changeEvent.Path, PathSeparator) {
		return ChangeEvent{}, fmt.Errorf("%w: event path must start with '/': %s", ErrDecode, changeEvent.Path)
	}
	return ChangeEvent{
		Kind: kind,
		Path: JoinPath(changeEvent.Path),
		Data: changeEvent.Data,
	}, nil
}
