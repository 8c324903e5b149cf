package dataprovider

import (
	"context"

	"github.com/elertan/bronzeman-unleashed/model"
	"github.com/elertan/bronzeman-unleashed/storage"
)


const GroundItemOwnedByPath = "/GroundItemOwnedBy"


// the owners of items on the ground, several per location
type GroundItemOwnedByProvider struct {
	*Provider[map[model.GroundItemOwnedByKey]map[string]model.GroundItemOwnedByData]
	port *storage.KeyListPort[model.GroundItemOwnedByKey, model.GroundItemOwnedByData]
}

func NewGroundItemOwnedByProvider(remote storage.Remote, settings *ReadinessSettings, upstreams ...Upstream) (*GroundItemOwnedByProvider, error) {
	port, err := storage.NewKeyListPort[model.GroundItemOwnedByKey, model.GroundItemOwnedByData](
		remote,
		GroundItemOwnedByPath,
		model.GroundItemOwnedByKeyCodec{},
	)
	if err != nil {
		return nil, err
	}
	return &GroundItemOwnedByProvider{
		Provider: NewProvider[map[model.GroundItemOwnedByKey]map[string]model.GroundItemOwnedByData](
			"ground item owned by",
			port,
			settings,
			upstreams...,
		),
		port: port,
	}, nil
}

func (self *GroundItemOwnedByProvider) GroundItemOwnedBy() (map[model.GroundItemOwnedByKey]map[string]model.GroundItemOwnedByData, error) {
	return self.Cache()
}

// owners of one location by entry key
func (self *GroundItemOwnedByProvider) Owners(key model.GroundItemOwnedByKey) (map[string]model.GroundItemOwnedByData, error) {
	if err := self.checkReady(); err != nil {
		return nil, err
	}
	return self.port.Entries(key), nil
}

func (self *GroundItemOwnedByProvider) IsOwned(key model.GroundItemOwnedByKey) (bool, error) {
	if err := self.checkReady(); err != nil {
		return false, err
	}
	return self.port.HasEntries(key), nil
}

// returns the entry key of the new owner
func (self *GroundItemOwnedByProvider) AddOwner(ctx context.Context, key model.GroundItemOwnedByKey, data model.GroundItemOwnedByData) (string, error) {
	if err := self.checkReady(); err != nil {
		return "", err
	}
	return self.port.Add(ctx, key, data)
}

func (self *GroundItemOwnedByProvider) RemoveOwner(ctx context.Context, key model.GroundItemOwnedByKey, entryKey string) error {
	if err := self.checkReady(); err != nil {
		return err
	}
	return self.port.Remove(ctx, key, entryKey)
}

// removes one owner of the location, when it has any
func (self *GroundItemOwnedByProvider) RemoveOneOwner(ctx context.Context, key model.GroundItemOwnedByKey) error {
	if err := self.checkReady(); err != nil {
		return err
	}
	return self.port.RemoveOne(ctx, key)
}

func (self *GroundItemOwnedByProvider) AddListener(listener *storage.KeyListListener[model.GroundItemOwnedByKey, model.GroundItemOwnedByData]) func() {
	return self.port.AddListener(listener)
}
