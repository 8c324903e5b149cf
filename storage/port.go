package storage

import (
	"sync"

	"github.com/golang/glog"

	"github.com/elertan/bronzeman-unleashed/rtdb"
)


// subscription and path handling shared by all ports
// a port owns exactly one base path, one segment below the root
type port struct {
	remote Remote
	basePath string

	stateLock sync.Mutex
	// incremented on each attach
	generation int
	unsubscribe func()
}

func newPort(remote Remote, basePath string) (*port, error) {
	if err := rtdb.ValidateBasePath(basePath); err != nil {
		return nil, err
	}
	return &port{
		remote: remote,
		basePath: basePath,
	}, nil
}

func (self *port) BasePath() string {
	return self.basePath
}

func (self *port) path(segments ...string) string {
	return rtdb.JoinPath(append([]string{self.basePath}, segments...)...)
}

// subscribes `handleChange` to the feed. Subsequent calls have no effect until `detach`.
func (self *port) attach(handleChange rtdb.ChangeEventFunction) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.unsubscribe != nil {
		return
	}
	self.generation += 1
	generation := self.generation
	self.unsubscribe = self.remote.Subscribe(self.basePath, func(event rtdb.ChangeEvent) {
		// a dispatch already in progress may still deliver after detach
		if self.isGeneration(generation) {
			handleChange(event)
		}
	})
	glog.V(1).Infof("[port]%s attach\n", self.basePath)
}

func (self *port) detach() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.unsubscribe != nil {
		self.unsubscribe()
		self.unsubscribe = nil
		glog.V(1).Infof("[port]%s detach\n", self.basePath)
	}
}

func (self *port) attached() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.unsubscribe != nil
}

func (self *port) isGeneration(generation int) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.unsubscribe != nil && self.generation == generation
}

// the event path below the base path
func (self *port) segments(event rtdb.ChangeEvent) ([]string, bool) {
	segments, ok := rtdb.RelativeSegments(self.basePath, event.Path)
	if !ok {
		glog.Infof("[port]%s drop event outside base path: %s\n", self.basePath, event)
	}
	return segments, ok
}


func addListener[L any](listeners *rtdb.CallbackList[L], listener L) func() {
	callbackId := listeners.Add(listener)
	return func() {
		listeners.Remove(callbackId)
	}
}

// listener panics are logged and do not stop delivery to the other listeners
func notify[L any](listeners *rtdb.CallbackList[L], callback func(listener L)) {
	for _, listener := range listeners.Get() {
		rtdb.HandleError(func() {
			callback(listener)
		})
	}
}
