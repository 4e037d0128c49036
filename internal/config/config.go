package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue"    validate:"required"`
	Dispatch DispatchConfig `mapstructure:"dispatch" validate:"required"`
	Memory   MemoryConfig   `mapstructure:"memory"   validate:"required"`
	LLM      LLMConfig      `mapstructure:"llm"      validate:"required"`
}

// ServerConfig contains the ops HTTP surface and logging settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// QueueConfig contains the stream queue and listener loop settings.
// Durations are in milliseconds to match the queue entry field layouts.
type QueueConfig struct {
	// ConsumerName identifies this worker process within its consumer
	// groups. Must be unique per running worker.
	ConsumerName string `mapstructure:"consumer_name" validate:"required"`

	// Group is the consumer group all job listeners join.
	Group string `mapstructure:"group" validate:"required"`

	// BatchSize is the number of entries fetched per poll.
	BatchSize int `mapstructure:"batch_size" validate:"required,gt=0"`

	// Concurrency is the number of parallel handler invocations per batch.
	Concurrency int `mapstructure:"concurrency" validate:"required,gt=0"`

	// ClaimIdleMs is how long a pending entry must sit idle before
	// another consumer may claim it.
	ClaimIdleMs int `mapstructure:"claim_idle_ms" validate:"required,gt=0"`

	// MaxRetries is the delivery-attempt ceiling before an entry is
	// dead-lettered.
	MaxRetries int `mapstructure:"max_retries" validate:"required,gt=0"`

	// PollDelayMs is the idle backoff between empty polls.
	PollDelayMs int `mapstructure:"poll_delay_ms" validate:"required,gt=0"`

	// TrimMaxLen bounds stream growth; 0 disables trimming.
	TrimMaxLen int `mapstructure:"trim_max_len" validate:"gte=0"`
}

// DispatchConfig sizes the dispatcher's concurrency ceilings.
// A value of 0 means unlimited for that ceiling.
type DispatchConfig struct {
	MaxGlobal    int `mapstructure:"max_global"    validate:"gte=0"`
	MaxManager   int `mapstructure:"max_manager"   validate:"gte=0"`
	MaxInspector int `mapstructure:"max_inspector" validate:"gte=0"`
	MaxAgent     int `mapstructure:"max_agent"     validate:"gte=0"`
}

// MemoryConfig bounds the conversational memory manager.
type MemoryConfig struct {
	// HistoryLimit caps the per-node recent-message window.
	HistoryLimit int `mapstructure:"history_limit" validate:"required,gt=0"`

	// MaxSummaryLength caps the rolling summary in runes.
	MaxSummaryLength int `mapstructure:"max_summary_length" validate:"required,gt=0"`

	// SummaryWorkers is the size of the background summarization pool.
	SummaryWorkers int `mapstructure:"summary_workers" validate:"required,gt=0"`

	// SummaryQueueSize is the buffer feeding the summarization pool.
	// Enqueues beyond it are dropped with a warning rather than blocking
	// the chat path.
	SummaryQueueSize int `mapstructure:"summary_queue_size" validate:"required,gt=0"`
}

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	// Provider selects the chat-completion backend adapter.
	Provider string `mapstructure:"provider" validate:"required,oneof=openai gemini"`

	// Model is the default model identifier for role runners and the
	// summarizer. Chat turns override it with the project's assignment.
	Model string `mapstructure:"model" validate:"required"`

	// BaseURL points the openai provider at an OpenAI-compatible
	// inference service (e.g. a local llama server). Ignored by gemini.
	BaseURL string `mapstructure:"base_url" validate:"omitempty,url"`

	// APIKey authenticates against the selected provider. Local
	// inference services typically accept any value.
	APIKey string `mapstructure:"api_key"`

	// RequestTimeoutMs bounds a single chat-completion call.
	RequestTimeoutMs int `mapstructure:"request_timeout_ms" validate:"required,gt=0"`

	// Temperature, TopP, and MaxTokens are the generation parameters
	// for role runners. Zero leaves the backend default in place.
	Temperature float64 `mapstructure:"temperature" validate:"gte=0,lte=2"`
	TopP        float64 `mapstructure:"top_p" validate:"gte=0,lte=1"`
	MaxTokens   int     `mapstructure:"max_tokens" validate:"gte=0"`
}
