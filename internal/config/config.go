package config

import (
	"log"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	App AppConfig
	Rag RagConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	CorsAllowedOrigins string
	BodyLimitMB        int
}

// RagConfig selects the backend platform and carries its key material.
// Values are validated for presence only; authentication failures surface on
// the first real call.
type RagConfig struct {
	Provider string `validate:"required,oneof=dify ragflow"`
	Route    string `validate:"required,url"`
	APIKey   string `validate:"required"`
	// ChatKey is the Dify chat app key; falls back to APIKey when empty.
	ChatKey string
	// ChatId pins a RagFlow chat assistant instead of resolving one per
	// knowledge base.
	ChatId string
	// DefaultKnowledgeBase is used by handlers when the request names none.
	DefaultKnowledgeBase string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "app.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			BodyLimitMB:        getEnvAsInt("BODY_LIMIT_MB", 20),
		},
		Rag: RagConfig{
			Provider:             getEnv("RAG_PROVIDER", "ragflow"),
			Route:                getEnv("RAG_ROUTE", ""),
			APIKey:               getEnv("RAG_API_KEY", ""),
			ChatKey:              getEnv("RAG_CHAT_KEY", ""),
			ChatId:               getEnv("RAG_CHAT_ID", ""),
			DefaultKnowledgeBase: getEnv("RAG_DEFAULT_KNOWLEDGE_BASE", ""),
		},
	}
}

// Validate checks presence of the backend-specific required fields.
func (c *RagConfig) Validate() error {
	return validator.New().Struct(c)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
