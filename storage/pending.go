package storage

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)


type pendingWrite[V any] struct {
	// the value before the local write, nil when the key was absent
	previous *V
}


// markers for optimistic writes whose echo has not been observed yet
// a marker expires if the echo never arrives
type pendingWrites[K comparable, V any] struct {
	markLock sync.Mutex
	cache *ttlcache.Cache[K, pendingWrite[V]]
	stopOnce sync.Once
}

func newPendingWrites[K comparable, V any](timeout time.Duration) *pendingWrites[K, V] {
	cache := ttlcache.New[K, pendingWrite[V]](
		ttlcache.WithTTL[K, pendingWrite[V]](timeout),
		ttlcache.WithDisableTouchOnHit[K, pendingWrite[V]](),
	)
	go cache.Start()
	return &pendingWrites[K, V]{
		cache: cache,
	}
}

// keeps the earliest marker when writes to the same key overlap
func (self *pendingWrites[K, V]) mark(key K, previous *V) {
	self.markLock.Lock()
	defer self.markLock.Unlock()
	if self.cache.Has(key) {
		return
	}
	self.cache.Set(key, pendingWrite[V]{previous: previous}, ttlcache.DefaultTTL)
}

// removes and returns the marker for `key`
func (self *pendingWrites[K, V]) take(key K) (pendingWrite[V], bool) {
	self.markLock.Lock()
	defer self.markLock.Unlock()
	item, ok := self.cache.GetAndDelete(key)
	if !ok || item == nil {
		return pendingWrite[V]{}, false
	}
	return item.Value(), true
}

func (self *pendingWrites[K, V]) has(key K) bool {
	return self.cache.Has(key)
}

func (self *pendingWrites[K, V]) clear() {
	self.markLock.Lock()
	defer self.markLock.Unlock()
	self.cache.DeleteAll()
}

func (self *pendingWrites[K, V]) stop() {
	self.stopOnce.Do(func() {
		self.cache.Stop()
	})
}
