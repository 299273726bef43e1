package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"twingate/internal/domain"
	"twingate/internal/infra/security"
)

const (
	DefaultListenAddress  = "0.0.0.0:8010"
	DefaultStoreBackend   = "redis"
	DefaultRedisURL       = "redis://localhost:6379/0"
	DefaultBoltPath       = "twingate.db"
	DefaultPluginDir      = "plugins"
	DefaultHTTPTimeout    = 30 * time.Second
	DefaultRescanDebounce = 500 * time.Millisecond
)

// Config is the full runtime configuration. Values come from an
// optional YAML file overlaid with TWINGATE_* environment variables.
type Config struct {
	ListenAddress string `mapstructure:"listenAddress"`

	Store struct {
		// Backend selects the persistence layer: redis or bolt.
		Backend  string `mapstructure:"backend"`
		RedisURL string `mapstructure:"redisUrl"`
		BoltPath string `mapstructure:"boltPath"`
	} `mapstructure:"store"`

	Plugins struct {
		Dir            string        `mapstructure:"dir"`
		AutoDiscover   bool          `mapstructure:"autoDiscover"`
		RescanDebounce time.Duration `mapstructure:"rescanDebounce"`
	} `mapstructure:"plugins"`

	Security struct {
		SignatureMode string `mapstructure:"signatureMode"`
		SigningKey    string `mapstructure:"signingKey"`
		Sandbox       bool   `mapstructure:"sandbox"`
	} `mapstructure:"security"`

	Executor struct {
		HTTPTimeout time.Duration `mapstructure:"httpTimeout"`
		// PoolSize caps concurrent in-process plugin calls; zero means
		// one per CPU.
		PoolSize int `mapstructure:"poolSize"`
	} `mapstructure:"executor"`
}

func newConfigViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TWINGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setConfigDefaults(v)
	return v
}

func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("listenAddress", DefaultListenAddress)
	v.SetDefault("store.backend", DefaultStoreBackend)
	v.SetDefault("store.redisUrl", DefaultRedisURL)
	v.SetDefault("store.boltPath", DefaultBoltPath)
	v.SetDefault("plugins.dir", DefaultPluginDir)
	v.SetDefault("plugins.autoDiscover", true)
	v.SetDefault("plugins.rescanDebounce", DefaultRescanDebounce)
	v.SetDefault("security.signatureMode", string(security.SignatureOff))
	v.SetDefault("security.signingKey", "")
	v.SetDefault("security.sandbox", false)
	v.SetDefault("executor.httpTimeout", DefaultHTTPTimeout)
	v.SetDefault("executor.poolSize", 0)
}

// LoadConfig reads configPath if non-empty, applies environment
// overrides and validates the result.
func LoadConfig(configPath string) (Config, error) {
	v := newConfigViper()
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, domain.E(domain.CodeConfiguration, "app.config",
				fmt.Sprintf("read config %s", configPath), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, domain.E(domain.CodeConfiguration, "app.config", "decode config", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		return domain.E(domain.CodeConfiguration, "app.config", "listenAddress is required", nil)
	}
	switch c.Store.Backend {
	case "redis":
		if c.Store.RedisURL == "" {
			return domain.E(domain.CodeConfiguration, "app.config", "store.redisUrl is required for the redis backend", nil)
		}
	case "bolt":
		if c.Store.BoltPath == "" {
			return domain.E(domain.CodeConfiguration, "app.config", "store.boltPath is required for the bolt backend", nil)
		}
	default:
		return domain.E(domain.CodeConfiguration, "app.config",
			fmt.Sprintf("unknown store backend %q (want redis or bolt)", c.Store.Backend), nil)
	}
	if _, err := security.ParseSignatureMode(c.Security.SignatureMode); err != nil {
		return err
	}
	if c.Security.Sandbox && !security.SandboxSupported() {
		return domain.E(domain.CodeConfiguration, "app.config",
			"security.sandbox is enabled but unsupported on this platform", nil)
	}
	if c.Executor.PoolSize < 0 {
		return domain.E(domain.CodeConfiguration, "app.config", "executor.poolSize must not be negative", nil)
	}
	return nil
}
