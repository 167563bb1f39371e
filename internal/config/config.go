package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the messaging client configuration.
type Config struct {
	ServerPort        string
	WebSocketURL      string
	UploadURL         string
	JWTSecret         string
	TokenMaxAge       time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	TypingTimeout     time.Duration
	MaxFileSize       int64
}

// Load reads configuration from environment variables, optionally seeding
// them from a .env file first. A missing .env is not fatal so deployments
// that rely on real environment variables keep working.
func Load(envPath ...string) *Config {
	envFile := ".env"
	if len(envPath) > 0 {
		envFile = envPath[0]
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Printf("Warning: could not load %s: %v. Relying on environment variables.", envFile, err)
	}

	cfg := &Config{
		ServerPort:        getEnv("PORT", "3001"),
		WebSocketURL:      getEnv("CHAT_WS_URL", "ws://localhost:3001/ws"),
		UploadURL:         getEnv("CHAT_UPLOAD_URL", "http://localhost:3001/upload"),
		JWTSecret:         getEnv("CHAT_JWT_SECRET", "dev-only-secret-change-me"),
		TokenMaxAge:       time.Hour * time.Duration(getEnvInt("CHAT_TOKEN_HOURS", 72)),
		ReconnectAttempts: getEnvInt("CHAT_RECONNECT_ATTEMPTS", 5),
		ReconnectDelay:    time.Millisecond * time.Duration(getEnvInt("CHAT_RECONNECT_DELAY_MS", 1000)),
		TypingTimeout:     time.Millisecond * time.Duration(getEnvInt("CHAT_TYPING_TIMEOUT_MS", 5000)),
		MaxFileSize:       int64(getEnvInt("CHAT_MAX_FILE_SIZE", 10<<20)),
	}

	log.Printf("Configuration loaded: ws=%s reconnect=%dx%v typingTimeout=%v",
		cfg.WebSocketURL, cfg.ReconnectAttempts, cfg.ReconnectDelay, cfg.TypingTimeout)
	return cfg
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("Warning: invalid %s value %q, using default %d. Error: %v", key, raw, fallback, err)
		return fallback
	}
	return n
}
