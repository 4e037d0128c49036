package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables and an optional
// config file. Environment variables take precedence over values from
// the config file. Returns a populated Config struct or an error if
// loading or validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Optional config.yaml alongside the binary or in the working dir.
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine; env vars and defaults apply.
	}

	// Environment variables: NODPT_SERVER_PORT, NODPT_QUEUE_MAX_RETRIES, ...
	v.SetEnvPrefix("NODPT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers the default value for every key so that a worker
// can start against a local stack with only the database URL supplied.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8085)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("queue.consumer_name", "worker-1")
	v.SetDefault("queue.group", "workers")
	v.SetDefault("queue.batch_size", 8)
	v.SetDefault("queue.concurrency", 4)
	v.SetDefault("queue.claim_idle_ms", 60000)
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.poll_delay_ms", 500)
	v.SetDefault("queue.trim_max_len", 10000)

	v.SetDefault("dispatch.max_global", 8)
	v.SetDefault("dispatch.max_manager", 2)
	v.SetDefault("dispatch.max_inspector", 2)
	v.SetDefault("dispatch.max_agent", 4)

	v.SetDefault("memory.history_limit", 20)
	v.SetDefault("memory.max_summary_length", 2000)
	v.SetDefault("memory.summary_workers", 2)
	v.SetDefault("memory.summary_queue_size", 64)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "llama3.2:3b")
	v.SetDefault("llm.base_url", "http://localhost:11434/v1")
	v.SetDefault("llm.api_key", "local")
	v.SetDefault("llm.request_timeout_ms", 120000)
}
