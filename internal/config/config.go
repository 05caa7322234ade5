package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	return load(viper.GetViper(), configPath)
}

func load(v *viper.Viper, configPath string) (*Config, error) {
	config := GetDefaults()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/persondata/")
	v.AddConfigPath("$HOME/.persondata/")

	// PERSONDATA_MODEL_ENDPOINT overrides model.endpoint
	v.SetEnvPrefix("PERSONDATA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnv(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// bindEnv registers the keys that are most often overridden from the
// environment. AutomaticEnv only sees keys viper already knows about.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"server.port",
		"model.enabled",
		"model.loader",
		"model.endpoint",
		"model.model_id",
		"model.load_timeout",
		"model.min_score",
		"cache.enabled",
		"cache.redis_url",
		"audit.enabled",
		"audit.database_url",
		"logging.level",
		"logging.format",
		"websocket.username",
		"websocket.password",
	} {
		_ = v.BindEnv(key)
	}
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Model.Enabled {
		if config.Model.Loader != "http" && config.Model.Loader != "onnx" {
			return fmt.Errorf("invalid model loader: %s (must be http or onnx)", config.Model.Loader)
		}
		if config.Model.LoadTimeout <= 0 {
			return fmt.Errorf("invalid model load timeout: %s", config.Model.LoadTimeout)
		}
		if config.Model.Offsets != "runes" && config.Model.Offsets != "bytes" {
			return fmt.Errorf("invalid model offsets: %s (must be runes or bytes)", config.Model.Offsets)
		}
		if config.Model.Aggregation != "simple" {
			return fmt.Errorf("invalid aggregation strategy: %s (only simple is supported)", config.Model.Aggregation)
		}
	}

	if config.Model.MinScore < 0 || config.Model.MinScore > 1 {
		return fmt.Errorf("invalid min score: %v (must be within [0,1])", config.Model.MinScore)
	}

	seen := make(map[string]bool, len(config.Patterns.Custom))
	for _, c := range config.Patterns.Custom {
		if c.ID == "" || c.Pattern == "" || c.Replacement == "" {
			return fmt.Errorf("custom pattern rules need id, pattern and replacement")
		}
		if seen[c.ID] {
			return fmt.Errorf("duplicate custom pattern rule: %s", c.ID)
		}
		seen[c.ID] = true
	}

	if config.RateLimit.Enabled && config.RateLimit.RequestsPerMin <= 0 {
		return fmt.Errorf("invalid rate limit: %d requests per minute", config.RateLimit.RequestsPerMin)
	}

	if config.Batch.WorkerCount <= 0 {
		return fmt.Errorf("invalid batch worker count: %d", config.Batch.WorkerCount)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	return nil
}

// Watch starts watching the configuration file for changes. The callback
// receives every valid new configuration; invalid edits are reported through
// onError and otherwise ignored.
func Watch(callback func(*Config), onError func(error)) {
	v := viper.GetViper()
	v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}

		newConfig := GetDefaults()
		if err := v.Unmarshal(newConfig); err != nil {
			if onError != nil {
				onError(fmt.Errorf("failed to unmarshal %s: %w", e.Name, err))
			}
			return
		}

		if err := validateConfig(newConfig); err != nil {
			if onError != nil {
				onError(fmt.Errorf("invalid configuration in %s: %w", e.Name, err))
			}
			return
		}

		callback(newConfig)
	})
	v.WatchConfig()
}
