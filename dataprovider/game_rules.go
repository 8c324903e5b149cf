package dataprovider

import (
	"context"

	"github.com/elertan/bronzeman-unleashed/model"
	"github.com/elertan/bronzeman-unleashed/storage"
)


const GameRulesPath = "/GameRules"


type GameRulesProvider struct {
	*Provider[*model.GameRules]
	port *storage.ObjectPort[model.GameRules]
}

func NewGameRulesProvider(remote storage.Remote, settings *ReadinessSettings, upstreams ...Upstream) (*GameRulesProvider, error) {
	port, err := storage.NewObjectPort[model.GameRules](remote, GameRulesPath)
	if err != nil {
		return nil, err
	}
	return &GameRulesProvider{
		Provider: NewProvider[*model.GameRules]("game rules", port, settings, upstreams...),
		port: port,
	}, nil
}

// nil when the group has no rules yet
func (self *GameRulesProvider) GameRules() (*model.GameRules, error) {
	return self.Cache()
}

// the stored rules, or the defaults when none are stored
func (self *GameRulesProvider) GameRulesOrDefault() (*model.GameRules, error) {
	gameRules, err := self.Cache()
	if err != nil {
		return nil, err
	}
	if gameRules == nil {
		return model.DefaultGameRules(), nil
	}
	return gameRules, nil
}

func (self *GameRulesProvider) UpdateGameRules(ctx context.Context, gameRules *model.GameRules) error {
	if err := self.checkReady(); err != nil {
		return err
	}
	return self.port.Update(ctx, *gameRules)
}

func (self *GameRulesProvider) AddListener(listener *storage.ObjectListener[model.GameRules]) func() {
	return self.port.AddListener(listener)
}
