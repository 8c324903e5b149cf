package dataprovider

import (
	"context"

	"github.com/elertan/bronzeman-unleashed/model"
	"github.com/elertan/bronzeman-unleashed/storage"
)


const UnlockedItemsPath = "/UnlockedItems"


// unlocked items keyed by item id
type UnlockedItemsProvider struct {
	*Provider[map[int]model.UnlockedItem]
	port *storage.KeyValuePort[int, model.UnlockedItem]
}

func NewUnlockedItemsProvider(remote storage.Remote, settings *ReadinessSettings, upstreams ...Upstream) (*UnlockedItemsProvider, error) {
	port, err := storage.NewKeyValuePortWithDefaults[int, model.UnlockedItem](remote, UnlockedItemsPath, storage.IntKeyCodec{})
	if err != nil {
		return nil, err
	}
	return &UnlockedItemsProvider{
		Provider: NewProvider[map[int]model.UnlockedItem]("unlocked items", port, settings, upstreams...),
		port: port,
	}, nil
}

func (self *UnlockedItemsProvider) UnlockedItems() (map[int]model.UnlockedItem, error) {
	return self.Cache()
}

func (self *UnlockedItemsProvider) UnlockedItem(itemId int) (model.UnlockedItem, bool, error) {
	if err := self.checkReady(); err != nil {
		return model.UnlockedItem{}, false, err
	}
	unlockedItem, ok := self.port.Get(itemId)
	return unlockedItem, ok, nil
}

func (self *UnlockedItemsProvider) IsUnlocked(itemId int) (bool, error) {
	_, ok, err := self.UnlockedItem(itemId)
	return ok, err
}

func (self *UnlockedItemsProvider) AddUnlockedItem(ctx context.Context, unlockedItem model.UnlockedItem) error {
	if err := self.checkReady(); err != nil {
		return err
	}
	return self.port.Update(ctx, unlockedItem.Id, unlockedItem)
}

func (self *UnlockedItemsProvider) RemoveUnlockedItem(ctx context.Context, itemId int) error {
	if err := self.checkReady(); err != nil {
		return err
	}
	return self.port.Delete(ctx, itemId)
}

func (self *UnlockedItemsProvider) AddListener(listener *storage.KeyValueListener[int, model.UnlockedItem]) func() {
	return self.port.AddListener(listener)
}
