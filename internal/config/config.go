package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppName string
	Env     string
	Host    string
	Port    int
	DBPath  string

	JWTSecret          string
	AccessTokenMinutes int
	EncryptKey         string

	CORSOrigins []string
	Debug       bool

	// Realtime tuning.
	HeartbeatTimeout  time.Duration
	TypingExpiry      time.Duration
	SessionBufferSize int

	MessagePageSize            int
	MaxMessagesPerConversation int
}

func Load() (*Config, error) {
	cfg := &Config{
		AppName: getEnv("APP_NAME", "chatcore"),
		Env:     getEnv("APP_ENV", "development"),
		Host:    getEnv("HTTP_HOST", "0.0.0.0"),
		Port:    getEnvAsInt("HTTP_PORT", 8000),
		DBPath:  getEnv("DB_PATH", "chatcore.db"),

		JWTSecret:          os.Getenv("JWT_SECRET"),
		AccessTokenMinutes: getEnvAsInt("ACCESS_TOKEN_EXPIRE_MINUTES", 60*24),
		EncryptKey:         os.Getenv("ENCRYPTION_KEY"),

		Debug: getEnvAsBool("DEBUG", true),

		HeartbeatTimeout:  time.Duration(getEnvAsInt("HEARTBEAT_TIMEOUT_SECONDS", 30)) * time.Second,
		TypingExpiry:      time.Duration(getEnvAsInt("TYPING_EXPIRY_MS", 2000)) * time.Millisecond,
		SessionBufferSize: getEnvAsInt("SESSION_BUFFER_SIZE", 256),

		MessagePageSize:            getEnvAsInt("MESSAGE_PAGE_SIZE", 50),
		MaxMessagesPerConversation: getEnvAsInt("MAX_MESSAGES_PER_CONVERSATION", 1000),
	}

	cors := getEnv("CORS_ORIGINS", "")
	if cors != "" {
		parts := strings.Split(cors, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		cfg.CORSOrigins = parts
	} else {
		cfg.CORSOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.EncryptKey == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if cfg.HeartbeatTimeout <= 0 {
		return nil, fmt.Errorf("HEARTBEAT_TIMEOUT_SECONDS must be positive")
	}
	if cfg.TypingExpiry <= 0 {
		return nil, fmt.Errorf("TYPING_EXPIRY_MS must be positive")
	}

	return cfg, nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvAsBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
