package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Engine   EngineConfig   `mapstructure:"engine"`
}

type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	MetricsPort int    `mapstructure:"metrics_port"`
	SecretKey   string `mapstructure:"secret_key"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DatabaseConfig points at the audit store. The engine runs without it;
// threat events then live only in the in-memory ring.
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type KafkaConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	BootstrapServers string `mapstructure:"bootstrap_servers"`
	Topic            string `mapstructure:"topic"`
}

type NotifyConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
	TimeoutMs  int    `mapstructure:"timeout_ms"`
}

var (
	mu           sync.RWMutex
	globalConfig Config
	loadedPath   string
)

func Load(configPath string) error {
	var cfg Config
	if err := loadConfigFile(configPath, "config", &cfg); err != nil {
		return fmt.Errorf("could not load main config file: %w", err)
	}

	cfg.applyDefaults()

	mu.Lock()
	globalConfig = cfg
	loadedPath = configPath
	mu.Unlock()

	return nil
}

// Reload re-reads the file Load used and swaps the global snapshot. The
// fresh config is returned so callers can push the policy tables into the
// running engine.
func Reload() (*Config, error) {
	mu.RLock()
	path := loadedPath
	mu.RUnlock()

	var cfg Config
	if err := loadConfigFile(path, "config", &cfg); err != nil {
		return nil, fmt.Errorf("could not reload config file: %w", err)
	}

	cfg.applyDefaults()

	mu.Lock()
	globalConfig = cfg
	mu.Unlock()

	out := cfg
	return &out, nil
}

func loadConfigFile(configPath, fileName string, out interface{}) error {
	v := viper.New()
	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("config file %s.yaml not found, using only environment variables", fileName)
		}
		return fmt.Errorf("error reading config file %s.yaml: %w", fileName, err)
	}

	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(out, decodeHook); err != nil {
		return fmt.Errorf("failed to unmarshal %s config: %w", fileName, err)
	}

	return nil
}

// GetConfig returns a copy of the current snapshot. Maps inside it are
// replaced wholesale on reload, never mutated, so sharing them is safe.
func GetConfig() *Config {
	mu.RLock()
	defer mu.RUnlock()
	cfg := globalConfig
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.MetricsPort == 0 {
		c.Server.MetricsPort = 9090
	}
	if c.Redis.Host == "" {
		c.Redis.Host = "localhost"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Notify.TimeoutMs == 0 {
		c.Notify.TimeoutMs = 3000
	}
	c.Engine.applyDefaults()
}
