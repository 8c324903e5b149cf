package storage

import (
	"context"
	"sync"

	"github.com/golang/glog"

	"github.com/elertan/bronzeman-unleashed/rtdb"
)


type ObjectListener[T any] struct {
	OnUpdate func(value T)
	OnDelete func()
}


// a single value stored at the base path
// only base path events are applied, events for child paths are ignored
type ObjectPort[T any] struct {
	*port

	cacheLock sync.RWMutex
	value T
	present bool

	listeners *rtdb.CallbackList[*ObjectListener[T]]
}

func NewObjectPort[T any](remote Remote, basePath string) (*ObjectPort[T], error) {
	port, err := newPort(remote, basePath)
	if err != nil {
		return nil, err
	}
	return &ObjectPort[T]{
		port: port,
		listeners: rtdb.NewCallbackList[*ObjectListener[T]](),
	}, nil
}

// reads the current remote value. Absent is `false`.
func (self *ObjectPort[T]) Read(ctx context.Context) (T, bool, error) {
	var empty T
	data, err := self.remote.Get(ctx, self.basePath)
	if err != nil {
		return empty, false, err
	}
	if rtdb.IsNull(data) {
		return empty, false, nil
	}
	value, err := decodeValue[T](data)
	if err != nil {
		return empty, false, err
	}
	return value, true, nil
}

func (self *ObjectPort[T]) Update(ctx context.Context, value T) error {
	data, err := encodeValue(value)
	if err != nil {
		return err
	}
	return self.remote.Put(ctx, self.basePath, data)
}

func (self *ObjectPort[T]) Delete(ctx context.Context) error {
	return self.remote.Delete(ctx, self.basePath)
}

// the cached value
func (self *ObjectPort[T]) Get() (T, bool) {
	self.cacheLock.RLock()
	defer self.cacheLock.RUnlock()
	return self.value, self.present
}

// the cached value, nil when absent
func (self *ObjectPort[T]) Cache() *T {
	self.cacheLock.RLock()
	defer self.cacheLock.RUnlock()
	if !self.present {
		return nil
	}
	value := self.value
	return &value
}

func (self *ObjectPort[T]) AddListener(listener *ObjectListener[T]) func() {
	return addListener(self.listeners, listener)
}

// replaces the cache with the remote value without notifying listeners
func (self *ObjectPort[T]) Seed(ctx context.Context) error {
	value, present, err := self.Read(ctx)
	if err != nil {
		return err
	}
	self.setCache(value, present)
	return nil
}

func (self *ObjectPort[T]) Attach() {
	self.attach(self.handleChange)
}

// stops applying events and discards the cache
func (self *ObjectPort[T]) Detach() {
	self.detach()
	var empty T
	self.setCache(empty, false)
}

func (self *ObjectPort[T]) Close() {
	self.Detach()
	self.listeners.Clear()
}

func (self *ObjectPort[T]) setCache(value T, present bool) {
	self.cacheLock.Lock()
	defer self.cacheLock.Unlock()
	self.value = value
	self.present = present
}

func (self *ObjectPort[T]) handleChange(event rtdb.ChangeEvent) {
	segments, ok := self.segments(event)
	if !ok {
		return
	}
	if 0 < len(segments) {
		glog.V(1).Infof("[port]%s ignore child event %s\n", self.basePath, event)
		return
	}

	if event.IsDelete() {
		var empty T
		self.setCache(empty, false)
		notify(self.listeners, func(listener *ObjectListener[T]) {
			if listener.OnDelete != nil {
				listener.OnDelete()
			}
		})
		return
	}

	value, err := decodeValue[T](event.Data)
	if err != nil {
		glog.Infof("[port]%s skip value = %s\n", self.basePath, err)
		return
	}
	self.setCache(value, true)
	notify(self.listeners, func(listener *ObjectListener[T]) {
		if listener.OnUpdate != nil {
			listener.OnUpdate(value)
		}
	})
}
