package storage

import (
	"context"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/exp/maps"

	"github.com/elertan/bronzeman-unleashed/rtdb"
)


type ObjectListListener[V any] struct {
	OnFullUpdate func(values map[string]V)
	OnAdd func(entryKey string, value V)
	OnRemove func(entryKey string)
}


// values under store generated entry keys at `<basePath>/<entryKey>`
type ObjectListPort[V any] struct {
	*port

	cacheLock sync.RWMutex
	values map[string]V

	listeners *rtdb.CallbackList[*ObjectListListener[V]]
}

func NewObjectListPort[V any](remote Remote, basePath string) (*ObjectListPort[V], error) {
	port, err := newPort(remote, basePath)
	if err != nil {
		return nil, err
	}
	return &ObjectListPort[V]{
		port: port,
		values: map[string]V{},
		listeners: rtdb.NewCallbackList[*ObjectListListener[V]](),
	}, nil
}

func (self *ObjectListPort[V]) ReadAll(ctx context.Context) (map[string]V, error) {
	data, err := self.remote.Get(ctx, self.basePath)
	if err != nil {
		return nil, err
	}
	return self.decodeValues(data)
}

// returns the generated entry key
func (self *ObjectListPort[V]) Add(ctx context.Context, value V) (string, error) {
	data, err := encodeValue(value)
	if err != nil {
		return "", err
	}
	return self.remote.Post(ctx, self.basePath, data)
}

func (self *ObjectListPort[V]) Remove(ctx context.Context, entryKey string) error {
	if err := validateSegment(entryKey); err != nil {
		return err
	}
	return self.remote.Delete(ctx, self.path(entryKey))
}

func (self *ObjectListPort[V]) Get(entryKey string) (V, bool) {
	self.cacheLock.RLock()
	defer self.cacheLock.RUnlock()
	value, ok := self.values[entryKey]
	return value, ok
}

func (self *ObjectListPort[V]) Cache() map[string]V {
	self.cacheLock.RLock()
	defer self.cacheLock.RUnlock()
	return maps.Clone(self.values)
}

func (self *ObjectListPort[V]) AddListener(listener *ObjectListListener[V]) func() {
	return addListener(self.listeners, listener)
}

func (self *ObjectListPort[V]) Seed(ctx context.Context) error {
	values, err := self.ReadAll(ctx)
	if err != nil {
		return err
	}
	self.cacheLock.Lock()
	defer self.cacheLock.Unlock()
	self.values = values
	return nil
}

func (self *ObjectListPort[V]) Attach() {
	self.attach(self.handleChange)
}

func (self *ObjectListPort[V]) Detach() {
	self.detach()
	self.cacheLock.Lock()
	defer self.cacheLock.Unlock()
	self.values = map[string]V{}
}

func (self *ObjectListPort[V]) Close() {
	self.Detach()
	self.listeners.Clear()
}

func (self *ObjectListPort[V]) decodeValues(data []byte) (map[string]V, error) {
	children, err := decodeChildren(data)
	if err != nil {
		return nil, err
	}
	values := map[string]V{}
	for entryKey, child := range children {
		value, err := decodeValue[V](child)
		if err != nil {
			glog.Infof("[port]%s skip entry %s = %s\n", self.basePath, entryKey, err)
			continue
		}
		values[entryKey] = value
	}
	return values, nil
}

func (self *ObjectListPort[V]) handleChange(event rtdb.ChangeEvent) {
	segments, ok := self.segments(event)
	if !ok {
		return
	}

	switch len(segments) {
	case 0:
		values, err := self.decodeValues(event.Data)
		if err != nil {
			glog.Infof("[port]%s skip full update = %s\n", self.basePath, err)
			return
		}
		func() {
			self.cacheLock.Lock()
			defer self.cacheLock.Unlock()
			self.values = values
		}()
		notify(self.listeners, func(listener *ObjectListListener[V]) {
			if listener.OnFullUpdate != nil {
				listener.OnFullUpdate(maps.Clone(values))
			}
		})

	case 1:
		entryKey := segments[0]
		if event.IsDelete() {
			removed := false
			func() {
				self.cacheLock.Lock()
				defer self.cacheLock.Unlock()
				if _, ok := self.values[entryKey]; ok {
					delete(self.values, entryKey)
					removed = true
				}
			}()
			if removed {
				notify(self.listeners, func(listener *ObjectListListener[V]) {
					if listener.OnRemove != nil {
						listener.OnRemove(entryKey)
					}
				})
			}
			return
		}
		value, err := decodeValue[V](event.Data)
		if err != nil {
			glog.Infof("[port]%s skip entry %s = %s\n", self.basePath, entryKey, err)
			return
		}
		func() {
			self.cacheLock.Lock()
			defer self.cacheLock.Unlock()
			self.values[entryKey] = value
		}()
		notify(self.listeners, func(listener *ObjectListListener[V]) {
			if listener.OnAdd != nil {
				listener.OnAdd(entryKey, value)
			}
		})

	default:
		glog.V(1).Infof("[port]%s ignore nested event %s\n", self.basePath, event)
	}
}
