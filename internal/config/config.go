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

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	// Agent identity shown in the health endpoint and system prompt
	Name        string `envconfig:"NAME" default:"Agent"`
	Description string `envconfig:"DESCRIPTION" default:"AI Assistant"`

	// Model service (chat completions stream)
	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY"`
	DefaultModel string `envconfig:"DEFAULT_MODEL" default:"gpt-4o"`

	// Embedding provider
	VoyageAPIKey        string `envconfig:"VOYAGE_API_KEY"`
	EmbeddingModel      string `envconfig:"EMBEDDING_MODEL" default:"voyage-3-lite"`
	EmbeddingDimensions int    `envconfig:"EMBEDDING_DIMENSIONS" default:"1536"`

	// Identity service that exchanges bearer tokens for a caller id
	IdentityVerifyURL string `envconfig:"IDENTITY_VERIFY_URL"`

	// Rate limiting: one window, two maxima (authenticated vs public)
	RateLimitWindowMs  int `envconfig:"RATE_LIMIT_WINDOW_MS" default:"60000"`
	RateLimitMax       int `envconfig:"RATE_LIMIT_MAX_REQUESTS" default:"20"`
	RateLimitPublicMax int `envconfig:"RATE_LIMIT_PUBLIC_MAX" default:"10"`

	// Skills directory containing <skill>/SKILL.md files
	SkillsDir     string   `envconfig:"SKILLS_DIR" default:"skills"`
	EnabledSkills []string `envconfig:"ENABLED_SKILLS"`

	// Transcript archival (optional)
	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"agentd-archives"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("AGENT", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	// envconfig treats a set-but-empty variable as present.
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("AGENT_DATABASE_URL is required")
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

func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowMs) * time.Millisecond
}

func (c *Config) HasVoyage() bool {
	return c.VoyageAPIKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasIdentityService() bool {
	return c.IdentityVerifyURL != ""
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}
