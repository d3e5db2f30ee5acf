package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process configuration read from the environment (and an optional .env file)
type Config struct {
	Provider string

	OpenAIKey   string
	OpenAIURL   string
	OpenAIModel string
	GeminiKey   string
	GeminiURL   string
	LLMTimeout  time.Duration

	DatabaseURL  string
	// AllowlistURL points at a host list whose entries count as legitimate
	// infrastructure in analysis reports
	AllowlistURL string

	RESTPort      string
	RESTAuthToken string
	GRPCAddr      string

	SlackToken   string
	SlackChannel string
	SlackMention string
}

// Load reads .env (when present) and the environment. Variables already set in the
// environment take precedence over .env entries.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv()
}

// LoadFile is Load with an explicit .env path
func LoadFile(path string) (Config, error) {
	if err := godotenv.Load(path); err != nil {
		return Config{}, err
	}
	return FromEnv(), nil
}

// FromEnv builds a Config from the current environment only
func FromEnv() Config {
	return Config{
		Provider: getEnv("DFIR_PROVIDER", "openai"),

		OpenAIKey:   getEnv("OPENAI_API_KEY", os.Getenv("LLM_API_KEY")),
		OpenAIURL:   os.Getenv("LLM_API_URL"),
		OpenAIModel: os.Getenv("LLM_MODEL"),
		GeminiKey:   os.Getenv("GEMINI_API_KEY"),
		GeminiURL:   os.Getenv("GEMINI_API_URL"),
		LLMTimeout:  time.Duration(getEnvInt("LLM_TIMEOUT_SECONDS", 120)) * time.Second,

		DatabaseURL:  os.Getenv("DATABASE_URL"),
		AllowlistURL: os.Getenv("DFIR_ALLOWLIST_URL"),

		RESTPort:      getEnv("REST_API_PORT", "8080"),
		RESTAuthToken: os.Getenv("REST_API_AUTH_TOKEN"),
		GRPCAddr:      getEnv("GRPC_LISTEN_ADDR", "localhost:50051"), // Secure default - localhost only

		SlackToken:   os.Getenv("SLACK_BOT_TOKEN"),
		SlackChannel: getEnv("SLACK_CHANNEL_SECURITY", "#security-alerts"),
		SlackMention: getEnv("SLACK_MENTION_TEAM", "@security-team"),
	}
}

// NotificationsEnabled reports whether a Slack token is configured
func (c Config) NotificationsEnabled() bool {
	return c.SlackToken != ""
}

// PersistenceEnabled reports whether runs go to Postgres instead of memory
func (c Config) PersistenceEnabled() bool {
	return c.DatabaseURL != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultValue
}
