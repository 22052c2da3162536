package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"proximg/internal/core"
	"proximg/internal/policy"
)

// EnvPrefix prefixes every environment override, e.g. PROXIMG_PROXY_MAX_REDIRECTS.
const EnvPrefix = "PROXIMG"

// Config is the typed process configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	Proxy  ProxyConfig  `mapstructure:"proxy"`
}

// ServerConfig configures the listening front door.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// ProxyConfig configures the fetch pipeline and host policy.
type ProxyConfig struct {
	// SecretKey is reserved; nothing reads it yet.
	SecretKey            string        `mapstructure:"secret_key"`
	Identity             string        `mapstructure:"identity"`
	MaxRedirects         int           `mapstructure:"max_redirects"`
	MaxContentLength     int64         `mapstructure:"max_content_length"`
	ExcludedHosts        []string      `mapstructure:"excluded_hosts"`
	HopTimeout           time.Duration `mapstructure:"hop_timeout"`
	EnforceStreamedLimit bool          `mapstructure:"enforce_streamed_limit"`
}

// Addr returns host:port for net.Listen.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PipelineOptions converts the proxy section for core.NewPipeline.
func (c ProxyConfig) PipelineOptions() core.Options {
	return core.Options{
		Identity:             c.Identity,
		MaxRedirects:         c.MaxRedirects,
		MaxContentLength:     c.MaxContentLength,
		HopTimeout:           c.HopTimeout,
		EnforceStreamedLimit: c.EnforceStreamedLimit,
	}
}

// SetDefaults registers every key so env overrides are visible to Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")

	v.SetDefault("proxy.secret_key", "")
	v.SetDefault("proxy.identity", core.DefaultIdentity())
	v.SetDefault("proxy.max_redirects", 4)
	v.SetDefault("proxy.max_content_length", core.DefaultMaxContentLength)
	v.SetDefault("proxy.excluded_hosts", policy.DefaultExcludedHosts)
	v.SetDefault("proxy.hop_timeout", 10*time.Second)
	v.SetDefault("proxy.enforce_streamed_limit", false)
}

// Init 初始化配置，加载 .env 和 config.yaml
func Init(cfgFile string) {
	// Load .env file (ignore if not exists)
	_ = godotenv.Load()

	if err := Configure(viper.GetViper(), cfgFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
	}
}

// Configure wires defaults, the config file and environment into v.
// A missing default config file is not an error.
func Configure(v *viper.Viper, cfgFile string) error {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}
	return nil
}

// Load unmarshals and validates the global viper configuration.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom unmarshals and validates v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Proxy.MaxRedirects < 0 {
		return fmt.Errorf("proxy.max_redirects must not be negative, got %d", c.Proxy.MaxRedirects)
	}
	if c.Proxy.MaxContentLength <= 0 {
		return fmt.Errorf("proxy.max_content_length must be positive, got %d", c.Proxy.MaxContentLength)
	}
	if c.Proxy.HopTimeout < 0 {
		return fmt.Errorf("proxy.hop_timeout must not be negative, got %s", c.Proxy.HopTimeout)
	}
	if strings.TrimSpace(c.Proxy.Identity) == "" {
		return fmt.Errorf("proxy.identity must not be empty")
	}
	return nil
}

// Filter compiles the excluded host globs once.
func (c ProxyConfig) Filter() (*policy.Filter, error) {
	f, err := policy.New(c.ExcludedHosts)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy.excluded_hosts: %w", err)
	}
	return f, nil
}
