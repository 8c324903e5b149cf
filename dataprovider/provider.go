package dataprovider

import (
	"fmt"

	"github.com/elertan/bronzeman-unleashed/rtdb"
)


// a storage port whose cache a provider exposes while Ready
type SyncedPort[C any] interface {
	ReadinessHooks
	Cache() C
	Close()
}


// a readiness gated cache over one storage port
type Provider[C any] struct {
	*Readiness
	syncedPort SyncedPort[C]
}

func NewProvider[C any](name string, syncedPort SyncedPort[C], settings *ReadinessSettings, upstreams ...Upstream) *Provider[C] {
	return &Provider[C]{
		Readiness: NewReadiness(name, syncedPort, settings, upstreams...),
		syncedPort: syncedPort,
	}
}

// a snapshot of the cache. Fails with `ErrNotReady` unless Ready.
func (self *Provider[C]) Cache() (C, error) {
	if err := self.checkReady(); err != nil {
		var empty C
		return empty, err
	}
	return self.syncedPort.Cache(), nil
}

// shuts down and closes the port
func (self *Provider[C]) Close() {
	self.Shutdown()
	self.syncedPort.Close()
}

func (self *Provider[C]) checkReady() error {
	if !self.State().IsReady() {
		return fmt.Errorf("%w: %s", rtdb.ErrNotReady, self.name)
	}
	return nil
}

