package storage

import (
	"context"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/exp/maps"

	"github.com/elertan/bronzeman-unleashed/rtdb"
)


type KeyListListener[K comparable, V any] struct {
	OnFullUpdate func(entries map[K]map[string]V)
	OnAdd func(key K, entryKey string, value V)
	OnRemove func(key K, entryKey string)
}


// a multimap. Each key holds entries under store generated entry keys at `<basePath>/<key>/<entryKey>`.
// keys without entries do not exist
type KeyListPort[K comparable, V any] struct {
	*port

	keyCodec KeyCodec[K]

	cacheLock sync.RWMutex
	entries map[K]map[string]V

	listeners *rtdb.CallbackList[*KeyListListener[K, V]]
}

func NewKeyListPort[K comparable, V any](remote Remote, basePath string, keyCodec KeyCodec[K]) (*KeyListPort[K, V], error) {
	port, err := newPort(remote, basePath)
	if err != nil {
		return nil, err
	}
	return &KeyListPort[K, V]{
		port: port,
		keyCodec: keyCodec,
		entries: map[K]map[string]V{},
		listeners: rtdb.NewCallbackList[*KeyListListener[K, V]](),
	}, nil
}

// the entries for `key` by entry key
func (self *KeyListPort[K, V]) Read(ctx context.Context, key K) (map[string]V, error) {
	encodedKey, err := encodeKey(self.keyCodec, key)
	if err != nil {
		return nil, err
	}
	data, err := self.remote.Get(ctx, self.path(encodedKey))
	if err != nil {
		return nil, err
	}
	return self.decodeInner(encodedKey, data)
}

func (self *KeyListPort[K, V]) ReadAll(ctx context.Context) (map[K]map[string]V, error) {
	data, err := self.remote.Get(ctx, self.basePath)
	if err != nil {
		return nil, err
	}
	return self.decodeEntries(data)
}

// appends `value` under `key` and returns the generated entry key
func (self *KeyListPort[K, V]) Add(ctx context.Context, key K, value V) (string, error) {
	encodedKey, err := encodeKey(self.keyCodec, key)
	if err != nil {
		return "", err
	}
	data, err := encodeValue(value)
	if err != nil {
		return "", err
	}
	return self.remote.Post(ctx, self.path(encodedKey), data)
}

func (self *KeyListPort[K, V]) Remove(ctx context.Context, key K, entryKey string) error {
	encodedKey, err := encodeKey(self.keyCodec, key)
	if err != nil {
		return err
	}
	if err := validateSegment(entryKey); err != nil {
		return err
	}
	return self.remote.Delete(ctx, self.path(encodedKey, entryKey))
}

// removes one cached entry of `key`. No entries is a no-op.
func (self *KeyListPort[K, V]) RemoveOne(ctx context.Context, key K) error {
	var entryKey string
	func() {
		self.cacheLock.RLock()
		defer self.cacheLock.RUnlock()
		for k := range self.entries[key] {
			entryKey = k
			break
		}
	}()
	if entryKey == "" {
		return nil
	}
	return self.Remove(ctx, key, entryKey)
}

// the cached entries of `key`
func (self *KeyListPort[K, V]) Entries(key K) map[string]V {
	self.cacheLock.RLock()
	defer self.cacheLock.RUnlock()
	return maps.Clone(self.entries[key])
}

func (self *KeyListPort[K, V]) HasEntries(key K) bool {
	self.cacheLock.RLock()
	defer self.cacheLock.RUnlock()
	return 0 < len(self.entries[key])
}

func (self *KeyListPort[K, V]) Cache() map[K]map[string]V {
	self.cacheLock.RLock()
	defer self.cacheLock.RUnlock()
	return cloneEntries(self.entries)
}

func (self *KeyListPort[K, V]) AddListener(listener *KeyListListener[K, V]) func() {
	return addListener(self.listeners, listener)
}

func (self *KeyListPort[K, V]) Seed(ctx context.Context) error {
	entries, err := self.ReadAll(ctx)
	if err != nil {
		return err
	}
	self.cacheLock.Lock()
	defer self.cacheLock.Unlock()
	self.entries = entries
	return nil
}

func (self *KeyListPort[K, V]) Attach() {
	self.attach(self.handleChange)
}

func (self *KeyListPort[K, V]) Detach() {
	self.detach()
	self.cacheLock.Lock()
	defer self.cacheLock.Unlock()
	self.entries = map[K]map[string]V{}
}

func (self *KeyListPort[K, V]) Close() {
	self.Detach()
	self.listeners.Clear()
}

func (self *KeyListPort[K, V]) decodeEntries(data []byte) (map[K]map[string]V, error) {
	children, err := decodeChildren(data)
	if err != nil {
		return nil, err
	}
	entries := map[K]map[string]V{}
	for encodedKey, child := range children {
		key, err := self.keyCodec.Decode(encodedKey)
		if err != nil {
			glog.Infof("[port]%s skip key = %s\n", self.basePath, err)
			continue
		}
		inner, err := self.decodeInner(encodedKey, child)
		if err != nil {
			glog.Infof("[port]%s skip entries %s = %s\n", self.basePath, encodedKey, err)
			continue
		}
		if 0 < len(inner) {
			entries[key] = inner
		}
	}
	return entries, nil
}

func (self *KeyListPort[K, V]) decodeInner(encodedKey string, data []byte) (map[string]V, error) {
	children, err := decodeChildren(data)
	if err != nil {
		return nil, err
	}
	inner := map[string]V{}
	for entryKey, child := range children {
		value, err := decodeValue[V](child)
		if err != nil {
			glog.Infof("[port]%s skip entry %s/%s = %s\n", self.basePath, encodedKey, entryKey, err)
			continue
		}
		inner[entryKey] = value
	}
	return inner, nil
}

func (self *KeyListPort[K, V]) handleChange(event rtdb.ChangeEvent) {
	segments, ok := self.segments(event)
	if !ok {
		return
	}

	switch len(segments) {
	case 0:
		entries, err := self.decodeEntries(event.Data)
		if err != nil {
			glog.Infof("[port]%s skip full update = %s\n", self.basePath, err)
			return
		}
		func() {
			self.cacheLock.Lock()
			defer self.cacheLock.Unlock()
			self.entries = entries
		}()
		notify(self.listeners, func(listener *KeyListListener[K, V]) {
			if listener.OnFullUpdate != nil {
				listener.OnFullUpdate(cloneEntries(entries))
			}
		})

	case 1:
		key, err := self.keyCodec.Decode(segments[0])
		if err != nil {
			glog.Infof("[port]%s skip key = %s\n", self.basePath, err)
			return
		}
		inner, err := self.decodeInner(segments[0], event.Data)
		if err != nil {
			glog.Infof("[port]%s skip entries %s = %s\n", self.basePath, segments[0], err)
			return
		}
		// the inner map is replaced
		// entries no longer present are removed, every present entry is (re)added
		var removedEntryKeys []string
		func() {
			self.cacheLock.Lock()
			defer self.cacheLock.Unlock()
			for entryKey := range self.entries[key] {
				if _, ok := inner[entryKey]; !ok {
					removedEntryKeys = append(removedEntryKeys, entryKey)
				}
			}
			if len(inner) == 0 {
				delete(self.entries, key)
			} else {
				self.entries[key] = inner
			}
		}()
		for _, entryKey := range removedEntryKeys {
			notify(self.listeners, func(listener *KeyListListener[K, V]) {
				if listener.OnRemove != nil {
					listener.OnRemove(key, entryKey)
				}
			})
		}
		for entryKey, value := range inner {
			notify(self.listeners, func(listener *KeyListListener[K, V]) {
				if listener.OnAdd != nil {
					listener.OnAdd(key, entryKey, value)
				}
			})
		}

	case 2:
		key, err := self.keyCodec.Decode(segments[0])
		if err != nil {
			glog.Infof("[port]%s skip key = %s\n", self.basePath, err)
			return
		}
		entryKey := segments[1]
		if event.IsDelete() {
			removed := false
			func() {
				self.cacheLock.Lock()
				defer self.cacheLock.Unlock()
				if inner, ok := self.entries[key]; ok {
					if _, ok := inner[entryKey]; ok {
						// copy on write, snapshots returned by `Entries` are never mutated
						inner = maps.Clone(inner)
						delete(inner, entryKey)
						removed = true
						if len(inner) == 0 {
							delete(self.entries, key)
						} else {
							self.entries[key] = inner
						}
					}
				}
			}()
			if removed {
				notify(self.listeners, func(listener *KeyListListener[K, V]) {
					if listener.OnRemove != nil {
						listener.OnRemove(key, entryKey)
					}
				})
			}
			return
		}
		value, err := decodeValue[V](event.Data)
		if err != nil {
			glog.Infof("[port]%s skip entry %s/%s = %s\n", self.basePath, segments[0], entryKey, err)
			return
		}
		func() {
			self.cacheLock.Lock()
			defer self.cacheLock.Unlock()
			inner := maps.Clone(self.entries[key])
			if inner == nil {
				inner = map[string]V{}
			}
			inner[entryKey] = value
			self.entries[key] = inner
		}()
		notify(self.listeners, func(listener *KeyListListener[K, V]) {
			if listener.OnAdd != nil {
				listener.OnAdd(key, entryKey, value)
			}
		})

	default:
		glog.V(1).Infof("[port]%s ignore nested event %s\n", self.basePath, event)
	}
}


func cloneEntries[K comparable, V any](entries map[K]map[string]V) map[K]map[string]V {
	clone := make(map[K]map[string]V, len(entries))
	for key, inner := range entries {
		clone[key] = maps.Clone(inner)
	}
	return clone
}
