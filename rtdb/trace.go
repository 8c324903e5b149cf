package rtdb

import (
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/golang/glog"
)


// recovers a panic raised by `do`, logs it with the stack, and passes it to the handlers
// handlers may be `func()` or `func(error)`
func HandleError(do func(), handlers ...any) (r any) {
	defer func() {
		if r = recover(); r != nil {
			glog.Errorf("Unexpected error: %s\n", ErrorJson(r, debug.Stack()))
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%s", r)
			}
			for _, handler := range handlers {
				switch v := handler.(type) {
				case func():
					v()
				case func(error):
					v(err)
				}
			}
		}
	}()
	do()
	return
}

func ErrorJson(err any, stack []byte) string {
	stackLines := []string{}
	for _, line := range strings.Split(string(stack), "\n") {
		stackLines = append(stackLines, strings.TrimSpace(line))
	}
	errorJson, _ := json.Marshal(map[string]any{
		"error": fmt.Sprintf("%T=%s", err, err),
		"stack": stackLines,
	})
	return string(errorJson)
}

// times `do` and logs start and end at V(2)
func TraceError(tag string, do func() error) error {
	if !glog.V(2) {
		return do()
	}
	start := time.Now()
	glog.Infof("[%-8s]%s (%d)\n", "start", tag, start.UnixMilli())
	err := do()
	end := time.Now()
	millis := float32(end.Sub(start)) / float32(time.Millisecond)
	if err != nil {
		glog.Infof("[%-8s]%s (%.2fms) err = %s\n", "end", tag, millis, err)
	} else {
		glog.Infof("[%-8s]%s (%.2fms)\n", "end", tag, millis)
	}
	return err
}
