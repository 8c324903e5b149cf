package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/elertan/bronzeman-unleashed/dataprovider"
	"github.com/elertan/bronzeman-unleashed/eventlog"
	"github.com/elertan/bronzeman-unleashed/model"
	"github.com/elertan/bronzeman-unleashed/rtdb"
	"github.com/elertan/bronzeman-unleashed/rtdbmock"
)


// every key can be overridden from the environment,
// e.g. `database.url` from BRONZEMAN_DATABASE_URL
const EnvPrefix = "BRONZEMAN"


type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Provider ProviderConfig `mapstructure:"provider"`
	EventLog EventLogConfig `mapstructure:"eventLog"`
	Server ServerConfig `mapstructure:"server"`
}


type DatabaseConfig struct {
	Url string `mapstructure:"url"`
	AuthToken string `mapstructure:"authToken"`
	HttpTimeout time.Duration `mapstructure:"httpTimeout"`
	HttpConnectTimeout time.Duration `mapstructure:"httpConnectTimeout"`
	HttpTlsTimeout time.Duration `mapstructure:"httpTlsTimeout"`
	ReconnectTimeout time.Duration `mapstructure:"reconnectTimeout"`
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
	MaxEventByteCount int `mapstructure:"maxEventByteCount"`
}


type ProviderConfig struct {
	RetryTimeout time.Duration `mapstructure:"retryTimeout"`
	WaitTimeout time.Duration `mapstructure:"waitTimeout"`
}


type EventLogConfig struct {
	ProducerId int64 `mapstructure:"producerId"`
	GracePeriod time.Duration `mapstructure:"gracePeriod"`
	StaleThreshold time.Duration `mapstructure:"staleThreshold"`
	StaleMargin time.Duration `mapstructure:"staleMargin"`
	SweepParallelism int `mapstructure:"sweepParallelism"`
}


// the local development store
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	AuthToken string `mapstructure:"authToken"`
	KeepAliveTimeout time.Duration `mapstructure:"keepAliveTimeout"`
	StreamBufferSize int `mapstructure:"streamBufferSize"`
}


// defaults, then the optional yaml file, then the environment
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, err
	}
	if err := config.EventLogSettings().Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// the defaults are the component defaults
func setDefaults(v *viper.Viper) {
	databaseSettings := rtdb.DefaultDatabaseSettings()
	v.SetDefault("database.url", "http://127.0.0.1:9000")
	v.SetDefault("database.authToken", "")
	v.SetDefault("database.httpTimeout", databaseSettings.ApiSettings.HttpTimeout)
	v.SetDefault("database.httpConnectTimeout", databaseSettings.ApiSettings.HttpConnectTimeout)
	v.SetDefault("database.httpTlsTimeout", databaseSettings.ApiSettings.HttpTlsTimeout)
	v.SetDefault("database.reconnectTimeout", databaseSettings.ChangeFeedSettings.ReconnectTimeout)
	v.SetDefault("database.readTimeout", databaseSettings.ChangeFeedSettings.ReadTimeout)
	v.SetDefault("database.maxEventByteCount", databaseSettings.ChangeFeedSettings.MaxEventByteCount)

	readinessSettings := dataprovider.DefaultReadinessSettings()
	v.SetDefault("provider.retryTimeout", readinessSettings.RetryTimeout)
	v.SetDefault("provider.waitTimeout", 30*time.Second)

	eventLogSettings := eventlog.DefaultEventLogSettings()
	v.SetDefault("eventLog.producerId", 0)
	v.SetDefault("eventLog.gracePeriod", eventLogSettings.GracePeriod)
	v.SetDefault("eventLog.staleThreshold", eventLogSettings.StaleThreshold)
	v.SetDefault("eventLog.staleMargin", eventLogSettings.StaleMargin)
	v.SetDefault("eventLog.sweepParallelism", eventLogSettings.SweepParallelism)

	serverSettings := rtdbmock.DefaultServerSettings()
	v.SetDefault("server.addr", "127.0.0.1:9000")
	v.SetDefault("server.authToken", "")
	v.SetDefault("server.keepAliveTimeout", serverSettings.KeepAliveTimeout)
	v.SetDefault("server.streamBufferSize", serverSettings.StreamBufferSize)
}

func (self *Config) DatabaseSettings() *rtdb.DatabaseSettings {
	return &rtdb.DatabaseSettings{
		ApiSettings: &rtdb.ApiSettings{
			HttpTimeout: self.Database.HttpTimeout,
			HttpConnectTimeout: self.Database.HttpConnectTimeout,
			HttpTlsTimeout: self.Database.HttpTlsTimeout,
		},
		ChangeFeedSettings: &rtdb.ChangeFeedSettings{
			ReconnectTimeout: self.Database.ReconnectTimeout,
			ReadTimeout: self.Database.ReadTimeout,
			MaxEventByteCount: self.Database.MaxEventByteCount,
		},
	}
}

func (self *Config) ReadinessSettings() *dataprovider.ReadinessSettings {
	return &dataprovider.ReadinessSettings{
		RetryTimeout: self.Provider.RetryTimeout,
	}
}

func (self *Config) EventLogSettings() *eventlog.EventLogSettings {
	return &eventlog.EventLogSettings{
		GracePeriod: self.EventLog.GracePeriod,
		StaleThreshold: self.EventLog.StaleThreshold,
		StaleMargin: self.EventLog.StaleMargin,
		SweepParallelism: self.EventLog.SweepParallelism,
		ReadinessSettings: self.ReadinessSettings(),
	}
}

func (self *Config) ServerSettings() *rtdbmock.ServerSettings {
	return &rtdbmock.ServerSettings{
		KeepAliveTimeout: self.Server.KeepAliveTimeout,
		StreamBufferSize: self.Server.StreamBufferSize,
		AuthToken: self.Server.AuthToken,
	}
}

func (self *Config) ProducerId() (model.AccountHash, error) {
	if self.EventLog.ProducerId == 0 {
		return 0, errors.New("eventLog.producerId is not set")
	}
	return model.AccountHash(self.EventLog.ProducerId), nil
}
