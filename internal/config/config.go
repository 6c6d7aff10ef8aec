package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL      string `envconfig:"DATABASE_URL" required:"true"`
	DatabaseMaxConns int32  `envconfig:"DATABASE_MAX_CONNS" default:"10"`
	DatabaseMinConns int32  `envconfig:"DATABASE_MIN_CONNS" default:"2"`

	OpenAIAPIKey   string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL  string `envconfig:"OPENAI_BASE_URL"`
	ChatModel      string `envconfig:"CHAT_MODEL"`
	EmbeddingModel string `envconfig:"EMBEDDING_MODEL"`

	// Retrieval
	RetrievalTopK int `envconfig:"RETRIEVAL_TOP_K" default:"3"`

	// Router SSH channel
	SSHUser        string        `envconfig:"SSH_USER" default:"root"`
	SSHKeyPath     string        `envconfig:"SSH_KEY_PATH"`
	SSHPort        int           `envconfig:"SSH_PORT" default:"22"`
	CommandTimeout time.Duration `envconfig:"COMMAND_TIMEOUT" default:"10s"`
	CommitTimeout  time.Duration `envconfig:"COMMIT_TIMEOUT" default:"60s"`

	// Per-router execution lock
	LockTimeout time.Duration `envconfig:"LOCK_TIMEOUT" default:"30s"`

	// Background annotation worker
	AnnotationPollInterval time.Duration `envconfig:"ANNOTATION_POLL_INTERVAL" default:"10s"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("UCIAGENT", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != "" || c.OpenAIBaseURL != ""
}
