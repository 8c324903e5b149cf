package rtdb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/glog"
)


func DefaultDatabaseSettings() *DatabaseSettings {
	return &DatabaseSettings{
		ApiSettings: DefaultApiSettings(),
		ChangeFeedSettings: DefaultChangeFeedSettings(),
	}
}


type DatabaseSettings struct {
	ApiSettings *ApiSettings
	ChangeFeedSettings *ChangeFeedSettings
}


// the connectivity service for one store
// REST access plus the single shared change feed
type Database struct {
	ctx context.Context
	cancel context.CancelFunc

	instanceId Id

	api *Api
	feed *ChangeFeed

	// nil when the token is a database secret or absent
	authClaims *AuthClaims
}

func NewDatabaseWithDefaults(ctx context.Context, databaseUrl string, authToken string) (*Database, error) {
	return NewDatabase(ctx, databaseUrl, authToken, DefaultDatabaseSettings())
}

func NewDatabase(ctx context.Context, databaseUrl string, authToken string, settings *DatabaseSettings) (*Database, error) {
	var authClaims *AuthClaims
	if authToken != "" {
		var err error
		authClaims, err = ParseAuthTokenUnverified(authToken)
		if err != nil {
			// legacy database secrets are not jwts
			glog.V(1).Infof("[db]auth token is not a jwt, using it as a secret\n")
			authClaims = nil
		} else if authClaims.Expired(time.Now()) {
			return nil, fmt.Errorf("%w: %s expired at %s", ErrAuthExpired, authClaims.Subject, authClaims.ExpiresAt)
		}
	}

	cancelCtx, cancel := context.WithCancel(ctx)
	api := NewApi(cancelCtx, databaseUrl, authToken, settings.ApiSettings)
	feed := NewChangeFeed(cancelCtx, api, settings.ChangeFeedSettings)

	return &Database{
		ctx: cancelCtx,
		cancel: cancel,
		instanceId: NewId(),
		api: api,
		feed: feed,
		authClaims: authClaims,
	}, nil
}

func (self *Database) InstanceId() Id {
	return self.instanceId
}

func (self *Database) AuthClaims() *AuthClaims {
	return self.authClaims
}

func (self *Database) Api() *Api {
	return self.api
}

func (self *Database) Feed() *ChangeFeed {
	return self.feed
}

func (self *Database) Connect() {
	glog.V(1).Infof("[db]%s connect %s\n", self.instanceId, self.api.DatabaseUrl())
	self.feed.Connect()
}

func (self *Database) State() State {
	return self.feed.State()
}

func (self *Database) AddStateCallback(stateCallback StateFunction) func() {
	return self.feed.AddStateCallback(stateCallback)
}

func (self *Database) Get(ctx context.Context, path string) (json.RawMessage, error) {
	return self.api.Get(ctx, path)
}

func (self *Database) Put(ctx context.Context, path string, value json.RawMessage) error {
	return self.api.Put(ctx, path, value)
}

func (self *Database) Post(ctx context.Context, path string, value json.RawMessage) (string, error) {
	return self.api.Post(ctx, path, value)
}

func (self *Database) Delete(ctx context.Context, path string) error {
	return self.api.Delete(ctx, path)
}

func (self *Database) Subscribe(pathPrefix string, handler ChangeEventFunction) func() {
	return self.feed.Subscribe(pathPrefix, handler)
}

func (self *Database) Close() {
	self.feed.Close()
	self.api.Close()
	self.cancel()
}
