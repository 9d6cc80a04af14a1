package voxly

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string           `mapstructure:"environment"`
	LogLevel    string           `mapstructure:"log_level"`
	LogFormat   string           `mapstructure:"log_format"`
	Privacy     PrivacyConfig    `mapstructure:"privacy"`
	Capture     CaptureConfig    `mapstructure:"capture"`
	Transports  TransportsConfig `mapstructure:"transports"`
	Call        CallConfig       `mapstructure:"call"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

type CaptureConfig struct {
	// MinKeyGapMS drops keypresses arriving faster than a human can
	// press them.
	MinKeyGapMS    int                        `mapstructure:"min_key_gap_ms"`
	NotifyBuffer   int                        `mapstructure:"notify_buffer"`
	StoreRetries   int                        `mapstructure:"store_retries"`
	StoreBackoffMS int                        `mapstructure:"store_backoff_ms"`
	Profiles       map[string]ProfileOverride `mapstructure:"profiles"`
}

// ProfileOverride tightens or relaxes one profile's defaults for a
// deployment. Zero fields keep the built-in shape.
type ProfileOverride struct {
	MinDigits      int   `mapstructure:"min_digits"`
	MaxDigits      int   `mapstructure:"max_digits"`
	TimeoutSec     *int  `mapstructure:"timeout_sec"`
	MaxRetries     *int  `mapstructure:"max_retries"`
	SpokenFallback *bool `mapstructure:"spoken_fallback"`
}

type TransportsConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

// CallConfig is the static collection policy applied to every call this
// deployment answers. Per-call overrides come through the API instead.
type CallConfig struct {
	CollectionProfile   string `mapstructure:"collection_profile"`
	CollectionMinDigits int    `mapstructure:"collection_min_digits"`
	CollectionMaxDigits int    `mapstructure:"collection_max_digits"`
	Prompt              string `mapstructure:"prompt"`
	FirstMessage        string `mapstructure:"first_message"`
	RequireOTP          bool   `mapstructure:"require_otp"`
	OTPLength           int    `mapstructure:"otp_length"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("privacy.redact_pii", true)
	v.SetDefault("capture.min_key_gap_ms", 120)
	v.SetDefault("capture.notify_buffer", 512)
	v.SetDefault("capture.store_retries", 1)
	v.SetDefault("capture.store_backoff_ms", 100)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)
	cfg.Transports.Settings = expandSettings(cfg.Transports.Settings)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Transports.Provider) == "" {
		return fmt.Errorf("transports.provider is required")
	}
	if c.Capture.MinKeyGapMS < 0 {
		return fmt.Errorf("capture.min_key_gap_ms must not be negative")
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String && v.Type().Elem().Kind() == reflect.String {
			for _, key := range v.MapKeys() {
				val := v.MapIndex(key)
				expanded := os.ExpandEnv(val.String())
				v.SetMapIndex(key, reflect.ValueOf(expanded))
			}
		}
	}
}
