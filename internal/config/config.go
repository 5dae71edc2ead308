// Package config provides application configuration management using environment variables.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	Discord  DiscordConfig
	Grok     GrokConfig
	Database DatabaseConfig
	Security SecurityConfig
	Logging  LoggingConfig
	Defaults DefaultsConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPPort    string
	GRPCPort    string
	Host        string
	Env         string
	CORSOrigins []string
}

// DiscordConfig holds bot credentials and the admin OAuth application
type DiscordConfig struct {
	BotToken      string
	ClientID      string
	ClientSecret  string
	RedirectURI   string
	Scopes        []string
	CommandPrefix string
}

// BotEnabled reports whether a gateway session should be opened.
func (d *DiscordConfig) BotEnabled() bool {
	return d.BotToken != ""
}

// GrokConfig holds the generative AI service settings
type GrokConfig struct {
	APIKey                string
	APIBase               string
	ChatModel             string
	ImageModel            string
	Timeout               time.Duration
	PricePerMillionTokens float64
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// SecurityConfig holds admin session settings
type SecurityConfig struct {
	SessionSigningKey  []byte
	SessionExpiryHours int
	StateExpiryMinutes int
	BootstrapAdmins    []AdminGrant
}

// AdminGrant seeds an owner row in admin_users at startup.
type AdminGrant struct {
	GuildID string
	UserID  string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// DefaultsConfig holds process-wide fallbacks for new guilds
type DefaultsConfig struct {
	MaxPromptChars int
}

// Load loads configuration from environment variables
// It optionally loads from a .env file if it exists
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.Server = ServerConfig{
		HTTPPort:    getEnv("HTTP_PORT", "8000"),
		GRPCPort:    getEnv("GRPC_PORT", "50051"),
		Host:        getEnv("SERVER_HOST", "localhost"),
		Env:         getEnv("ENVIRONMENT", "development"),
		CORSOrigins: strings.Fields(getEnv("CORS_ORIGINS", "http://localhost:3000")),
	}

	cfg.Discord = DiscordConfig{
		BotToken:      getEnv("DISCORD_BOT_TOKEN", ""),
		ClientID:      getEnv("DISCORD_CLIENT_ID", ""),
		ClientSecret:  getEnv("DISCORD_CLIENT_SECRET", ""),
		RedirectURI:   getEnv("DISCORD_REDIRECT_URI", ""),
		Scopes:        strings.Split(getEnv("DISCORD_OAUTH_SCOPES", "identify guilds"), " "),
		CommandPrefix: getEnv("COMMAND_PREFIX", "!"),
	}

	timeoutSeconds, err := strconv.Atoi(getEnv("GROK_TIMEOUT_SECONDS", "60"))
	if err != nil {
		return nil, fmt.Errorf("invalid GROK_TIMEOUT_SECONDS: %w", err)
	}
	price, err := strconv.ParseFloat(getEnv("GROK_PRICE_PER_M_TOKENS", "5.0"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid GROK_PRICE_PER_M_TOKENS: %w", err)
	}

	cfg.Grok = GrokConfig{
		APIKey:                getEnv("GROK_API_KEY", ""),
		APIBase:               strings.TrimRight(getEnv("GROK_API_BASE", "https://api.x.ai/v1"), "/"),
		ChatModel:             getEnv("GROK_CHAT_MODEL", "grok-beta"),
		ImageModel:            getEnv("GROK_IMAGE_MODEL", "grok-image-1"),
		Timeout:               time.Duration(timeoutSeconds) * time.Second,
		PricePerMillionTokens: price,
	}

	maxOpenConns, _ := strconv.Atoi(getEnv("DB_MAX_OPEN_CONNS", "25"))
	maxIdleConns, _ := strconv.Atoi(getEnv("DB_MAX_IDLE_CONNS", "5"))

	cfg.Database = DatabaseConfig{
		Host:         getEnv("DB_HOST", "localhost"),
		Port:         getEnv("DB_PORT", "5432"),
		User:         getEnv("DB_USER", "grokgate"),
		Password:     getEnv("DB_PASSWORD", ""),
		Name:         getEnv("DB_NAME", "grokgate_db"),
		SSLMode:      getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns: maxOpenConns,
		MaxIdleConns: maxIdleConns,
	}

	sessionExpiryHours, _ := strconv.Atoi(getEnv("SESSION_EXPIRY_HOURS", "24"))
	stateExpiryMinutes, _ := strconv.Atoi(getEnv("STATE_EXPIRY_MINUTES", "10"))

	signingKey, err := hex.DecodeString(getEnv("SESSION_SIGNING_KEY", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid SESSION_SIGNING_KEY: must be a hex-encoded string: %w", err)
	}

	bootstrap, err := parseAdminGrants(getEnv("ADMIN_BOOTSTRAP", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid ADMIN_BOOTSTRAP: %w", err)
	}

	cfg.Security = SecurityConfig{
		SessionSigningKey:  signingKey,
		SessionExpiryHours: sessionExpiryHours,
		StateExpiryMinutes: stateExpiryMinutes,
		BootstrapAdmins:    bootstrap,
	}

	cfg.Logging = LoggingConfig{
		Level:  getEnv("LOG_LEVEL", "info"),
		Format: getEnv("LOG_FORMAT", "json"),
	}

	maxPromptChars, err := strconv.Atoi(getEnv("MAX_PROMPT_CHARS", "4000"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_PROMPT_CHARS: %w", err)
	}
	cfg.Defaults = DefaultsConfig{MaxPromptChars: maxPromptChars}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Discord.ClientID == "" {
		return fmt.Errorf("DISCORD_CLIENT_ID is required")
	}
	if c.Discord.ClientSecret == "" {
		return fmt.Errorf("DISCORD_CLIENT_SECRET is required")
	}
	if c.Discord.RedirectURI == "" {
		return fmt.Errorf("DISCORD_REDIRECT_URI is required")
	}
	if c.Discord.CommandPrefix == "" {
		return fmt.Errorf("COMMAND_PREFIX must not be empty")
	}

	if c.Grok.APIBase == "" {
		return fmt.Errorf("GROK_API_BASE is required")
	}
	if c.Grok.Timeout <= 0 {
		return fmt.Errorf("GROK_TIMEOUT_SECONDS must be positive")
	}
	if c.Grok.PricePerMillionTokens < 0 {
		return fmt.Errorf("GROK_PRICE_PER_M_TOKENS must not be negative")
	}

	if c.Database.User == "" {
		return fmt.Errorf("DB_USER is required")
	}
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("DB_NAME is required")
	}

	if len(c.Security.SessionSigningKey) < 32 {
		return fmt.Errorf("SESSION_SIGNING_KEY must be at least 32 bytes (64 hex characters)")
	}
	if c.Security.SessionExpiryHours <= 0 {
		return fmt.Errorf("SESSION_EXPIRY_HOURS must be positive")
	}
	if c.Security.StateExpiryMinutes <= 0 {
		return fmt.Errorf("STATE_EXPIRY_MINUTES must be positive")
	}

	if c.Defaults.MaxPromptChars <= 0 {
		return fmt.Errorf("MAX_PROMPT_CHARS must be positive")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error")
	}
	validLogFormats := map[string]bool{"json": true, "console": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}

	return nil
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// parseAdminGrants reads space separated "guild_id:user_id" pairs.
func parseAdminGrants(raw string) ([]AdminGrant, error) {
	var grants []AdminGrant
	for _, field := range strings.Fields(raw) {
		guildID, userID, ok := strings.Cut(field, ":")
		if !ok || guildID == "" || userID == "" {
			return nil, fmt.Errorf("expected guild_id:user_id, got %q", field)
		}
		grants = append(grants, AdminGrant{GuildID: guildID, UserID: userID})
	}
	return grants, nil
}
