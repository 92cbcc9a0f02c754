package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        int
	LogLevel    string
	DatabaseURL string
	NatsURL     string
	NatsToken   string

	AnthropicAPIKey string
	AnthropicModel  string

	OfferFile     string
	KnowledgeFile string

	SlackBotToken string
	SlackChannel  string

	EmbeddingProvider string
	EmbeddingModel    string
	OpenAIAPIKey      string
	OllamaURL         string

	CapabilityTimeout time.Duration
	RetrievalLimit    int
	RuleMinScore      float64
	HistorySize       int
	EnrichmentBuffer  int
}

func Load() Config {
	return Config{
		Port:        envInt("INTAKE_PORT", 8760),
		LogLevel:    envStr("LOG_LEVEL", "info"),
		DatabaseURL: envStr("DATABASE_URL", ""),
		NatsURL:     envStr("NATS_URL", ""),
		NatsToken:   envStr("NATS_TOKEN", ""),

		AnthropicAPIKey: envStr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  envStr("INTAKE_MODEL", "claude-sonnet-4-20250514"),

		OfferFile:     envStr("OFFER_FILE", "offer.yaml"),
		KnowledgeFile: envStr("KNOWLEDGE_FILE", ""),

		SlackBotToken: envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:  envStr("SLACK_ESCALATION_CHANNEL", ""),

		EmbeddingProvider: envStr("EMBEDDING_PROVIDER", "openai"),
		EmbeddingModel:    envStr("EMBEDDING_MODEL", ""),
		OpenAIAPIKey:      envStr("OPENAI_API_KEY", ""),
		OllamaURL:         envStr("OLLAMA_URL", "http://localhost:11434/api"),

		CapabilityTimeout: envDuration("CAPABILITY_TIMEOUT", 8*time.Second),
		RetrievalLimit:    envInt("RETRIEVAL_LIMIT", 5),
		RuleMinScore:      envFloat("RULE_MIN_SCORE", 0),
		HistorySize:       envInt("HISTORY_SIZE", 10),
		EnrichmentBuffer:  envInt("ENRICHMENT_BUFFER", 64),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
