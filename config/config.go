// Package config holds the gateway settings read from flags, environment and .env.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "GATEWAY"

type Config struct {
	Listen        string        `mapstructure:"listen"`
	RPCURL        string        `mapstructure:"rpc-url"`
	WorkURL       string        `mapstructure:"work-url"`
	NodeWSURL     string        `mapstructure:"node-ws-url"`
	Redis         string        `mapstructure:"redis"`
	RedisFCM      string        `mapstructure:"redis-fcm"`
	Pg            string        `mapstructure:"pg"`
	PgMaxConns    int           `mapstructure:"pg-max-conns"`
	FCMAPIKey     string        `mapstructure:"fcm-api-key"`
	FCMURL        string        `mapstructure:"fcm-url"`
	Banano        bool          `mapstructure:"banano"`
	RPCTimeout    time.Duration `mapstructure:"rpc-timeout"`
	PriceInterval time.Duration `mapstructure:"price-interval"`
	RateInterval  time.Duration `mapstructure:"rate-interval"`
	LogLevel      string        `mapstructure:"log-level"`
	LogFormat     string        `mapstructure:"log-format"`
	OtelEndpoint  string        `mapstructure:"otel-endpoint"`
	OtelProtocol  string        `mapstructure:"otel-protocol"`
	Prefork       bool          `mapstructure:"prefork"`
}

// Defaults are the values used when neither a flag nor the environment sets a key.
var Defaults = map[string]any{
	"listen":         ":5076",
	"rpc-url":        "http://[::1]:7076",
	"work-url":       "",
	"node-ws-url":    "",
	"redis":          "redis://localhost:6379/2",
	"redis-fcm":      "redis://localhost:6379/1",
	"pg":             "",
	"pg-max-conns":   10,
	"fcm-api-key":    "",
	"fcm-url":        "https://fcm.googleapis.com/fcm/send",
	"banano":         false,
	"rpc-timeout":    30 * time.Second,
	"price-interval": 60 * time.Second,
	"rate-interval":  25 * time.Millisecond,
	"log-level":      "info",
	"log-format":     "text",
	"otel-endpoint":  "",
	"otel-protocol":  "grpc",
	"prefork":        false,
}

// NewViper returns a viper instance with defaults set and GATEWAY_* environment lookup enabled.
func NewViper() *viper.Viper {
	v := viper.New()
	for key, value := range Defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func Load(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	for key, value := range map[string]string{"rpc-url": c.RPCURL, "work-url": c.WorkURL, "node-ws-url": c.NodeWSURL, "fcm-url": c.FCMURL} {
		if value == "" && key != "rpc-url" {
			continue
		}
		if u, err := url.Parse(value); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid %s %q", key, value))
		}
	}
	if c.Redis == "" {
		errs = append(errs, errors.New("redis url is required"))
	}
	if c.RPCTimeout <= 0 {
		errs = append(errs, errors.New("rpc-timeout must be positive"))
	}
	if c.PriceInterval <= 0 {
		errs = append(errs, errors.New("price-interval must be positive"))
	}
	if c.RateInterval < 0 {
		errs = append(errs, errors.New("rate-interval must not be negative"))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log-format %q", c.LogFormat))
	}
	switch c.OtelProtocol {
	case "grpc", "http":
	default:
		errs = append(errs, fmt.Errorf("unknown otel-protocol %q", c.OtelProtocol))
	}
	return errors.Join(errs...)
}

// PushEnabled reports whether push notifications can be sent.
func (c *Config) PushEnabled() bool {
	return c.FCMAPIKey != ""
}

// Coin is the network name used in logs and the docs.
func (c *Config) Coin() string {
	if c.Banano {
		return "banano"
	}
	return "nano"
}
