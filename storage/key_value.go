package storage

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/exp/maps"

	"github.com/elertan/bronzeman-unleashed/rtdb"
)


func DefaultKeyValuePortSettings() *KeyValuePortSettings {
	return &KeyValuePortSettings{
		Optimistic: false,
		PendingWriteTimeout: 30 * time.Second,
	}
}


type KeyValuePortSettings struct {
	// writes update the cache before the remote answers
	Optimistic bool
	// an optimistic write whose echo is not seen within this time is no longer pending
	PendingWriteTimeout time.Duration
}


type KeyValueListener[K comparable, V any] struct {
	OnFullUpdate func(values map[K]V)
	// `previous` is nil when the key was absent
	// for the echo of an optimistic write it is the value before that write
	OnUpdate func(key K, value V, previous *V)
	OnDelete func(key K, previous *V)
}


// one value per key at `<basePath>/<key>`
type KeyValuePort[K comparable, V any] struct {
	*port

	keyCodec KeyCodec[K]
	settings *KeyValuePortSettings

	cacheLock sync.RWMutex
	values map[K]V

	pendingWrites *pendingWrites[K, V]

	listeners *rtdb.CallbackList[*KeyValueListener[K, V]]
}

func NewKeyValuePortWithDefaults[K comparable, V any](remote Remote, basePath string, keyCodec KeyCodec[K]) (*KeyValuePort[K, V], error) {
	return NewKeyValuePort[K, V](remote, basePath, keyCodec, DefaultKeyValuePortSettings())
}

func NewKeyValuePort[K comparable, V any](
	remote Remote,
	basePath string,
	keyCodec KeyCodec[K],
	settings *KeyValuePortSettings,
) (*KeyValuePort[K, V], error) {
	port, err := newPort(remote, basePath)
	if err != nil {
		return nil, err
	}
	return &KeyValuePort[K, V]{
		port: port,
		keyCodec: keyCodec,
		settings: settings,
		values: map[K]V{},
		pendingWrites: newPendingWrites[K, V](settings.PendingWriteTimeout),
		listeners: rtdb.NewCallbackList[*KeyValueListener[K, V]](),
	}, nil
}

func (self *KeyValuePort[K, V]) Read(ctx context.Context, key K) (V, bool, error) {
	var empty V
	encodedKey, err := encodeKey(self.keyCodec, key)
	if err != nil {
		return empty, false, err
	}
	data, err := self.remote.Get(ctx, self.path(encodedKey))
	if err != nil {
		return empty, false, err
	}
	if rtdb.IsNull(data) {
		return empty, false, nil
	}
	value, err := decodeValue[V](data)
	if err != nil {
		return empty, false, err
	}
	return value, true, nil
}

// entries that fail to decode are skipped
func (self *KeyValuePort[K, V]) ReadAll(ctx context.Context) (map[K]V, error) {
	data, err := self.remote.Get(ctx, self.basePath)
	if err != nil {
		return nil, err
	}
	return self.decodeValues(data)
}

func (self *KeyValuePort[K, V]) Update(ctx context.Context, key K, value V) error {
	return <-self.UpdateAsync(ctx, key, value)
}

// an optimistic port applies the write to the cache before returning
// the returned channel receives the remote result
func (self *KeyValuePort[K, V]) UpdateAsync(ctx context.Context, key K, value V) <-chan error {
	encodedKey, err := encodeKey(self.keyCodec, key)
	if err != nil {
		return failed(err)
	}
	data, err := encodeValue(value)
	if err != nil {
		return failed(err)
	}

	if self.settings.Optimistic {
		self.applyLocal(key, value)
	}

	return rtdb.Async(func() error {
		err := self.remote.Put(ctx, self.path(encodedKey), data)
		if err != nil && self.settings.Optimistic {
			self.revertLocal(key)
		}
		return err
	})
}

func (self *KeyValuePort[K, V]) Delete(ctx context.Context, key K) error {
	encodedKey, err := encodeKey(self.keyCodec, key)
	if err != nil {
		return err
	}
	return self.remote.Delete(ctx, self.path(encodedKey))
}

func (self *KeyValuePort[K, V]) Get(key K) (V, bool) {
	self.cacheLock.RLock()
	defer self.cacheLock.RUnlock()
	value, ok := self.values[key]
	return value, ok
}

func (self *KeyValuePort[K, V]) Cache() map[K]V {
	self.cacheLock.RLock()
	defer self.cacheLock.RUnlock()
	return maps.Clone(self.values)
}

// an optimistic write to `key` has not been echoed yet
func (self *KeyValuePort[K, V]) IsPending(key K) bool {
	return self.pendingWrites.has(key)
}

func (self *KeyValuePort[K, V]) AddListener(listener *KeyValueListener[K, V]) func() {
	return addListener(self.listeners, listener)
}

func (self *KeyValuePort[K, V]) Seed(ctx context.Context) error {
	values, err := self.ReadAll(ctx)
	if err != nil {
		return err
	}
	self.cacheLock.Lock()
	defer self.cacheLock.Unlock()
	self.values = values
	self.pendingWrites.clear()
	return nil
}

func (self *KeyValuePort[K, V]) Attach() {
	self.attach(self.handleChange)
}

func (self *KeyValuePort[K, V]) Detach() {
	self.detach()
	self.cacheLock.Lock()
	defer self.cacheLock.Unlock()
	self.values = map[K]V{}
	self.pendingWrites.clear()
}

func (self *KeyValuePort[K, V]) Close() {
	self.Detach()
	self.listeners.Clear()
	self.pendingWrites.stop()
}

func (self *KeyValuePort[K, V]) applyLocal(key K, value V) {
	self.cacheLock.Lock()
	defer self.cacheLock.Unlock()

	var previous *V
	if current, ok := self.values[key]; ok {
		previous = &current
	}
	self.values[key] = value
	self.pendingWrites.mark(key, previous)
}

// restores the value from before a failed optimistic write, unless the echo of some write already arrived
func (self *KeyValuePort[K, V]) revertLocal(key K) {
	self.cacheLock.Lock()
	defer self.cacheLock.Unlock()

	pendingWrite, ok := self.pendingWrites.take(key)
	if !ok {
		return
	}
	if pendingWrite.previous == nil {
		delete(self.values, key)
	} else {
		self.values[key] = *pendingWrite.previous
	}
	glog.V(1).Infof("[port]%s revert optimistic write to %s\n", self.basePath, self.keyCodec.Encode(key))
}

func (self *KeyValuePort[K, V]) decodeValues(data []byte) (map[K]V, error) {
	children, err := decodeChildren(data)
	if err != nil {
		return nil, err
	}
	values := map[K]V{}
	for encodedKey, child := range children {
		key, err := self.keyCodec.Decode(encodedKey)
		if err != nil {
			glog.Infof("[port]%s skip key = %s\n", self.basePath, err)
			continue
		}
		value, err := decodeValue[V](child)
		if err != nil {
			glog.Infof("[port]%s skip value %s = %s\n", self.basePath, encodedKey, err)
			continue
		}
		values[key] = value
	}
	return values, nil
}

func (self *KeyValuePort[K, V]) handleChange(event rtdb.ChangeEvent) {
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
			self.pendingWrites.clear()
		}()
		notify(self.listeners, func(listener *KeyValueListener[K, V]) {
			if listener.OnFullUpdate != nil {
				listener.OnFullUpdate(maps.Clone(values))
			}
		})

	case 1:
		key, err := self.keyCodec.Decode(segments[0])
		if err != nil {
			glog.Infof("[port]%s skip key = %s\n", self.basePath, err)
			return
		}
		if event.IsDelete() {
			previous := self.remove(key)
			notify(self.listeners, func(listener *KeyValueListener[K, V]) {
				if listener.OnDelete != nil {
					listener.OnDelete(key, previous)
				}
			})
			return
		}
		value, err := decodeValue[V](event.Data)
		if err != nil {
			glog.Infof("[port]%s skip value %s = %s\n", self.basePath, segments[0], err)
			return
		}
		previous := self.upsert(key, value)
		notify(self.listeners, func(listener *KeyValueListener[K, V]) {
			if listener.OnUpdate != nil {
				listener.OnUpdate(key, value, previous)
			}
		})

	default:
		glog.V(1).Infof("[port]%s ignore nested event %s\n", self.basePath, event)
	}
}

// returns the previous value, which for a pending key is the value before the local write
func (self *KeyValuePort[K, V]) upsert(key K, value V) *V {
	self.cacheLock.Lock()
	defer self.cacheLock.Unlock()

	previous := self.previous(key)
	self.values[key] = value
	return previous
}

func (self *KeyValuePort[K, V]) remove(key K) *V {
	self.cacheLock.Lock()
	defer self.cacheLock.Unlock()

	previous := self.previous(key)
	delete(self.values, key)
	return previous
}

// must be called with `cacheLock`
func (self *KeyValuePort[K, V]) previous(key K) *V {
	if pendingWrite, ok := self.pendingWrites.take(key); ok {
		return pendingWrite.previous
	}
	if current, ok := self.values[key]; ok {
		return &current
	}
	return nil
}


func failed(err error) <-chan error {
	result := make(chan error, 1)
	result <- err
	close(result)
	return result
}
