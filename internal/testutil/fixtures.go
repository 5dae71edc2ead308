// Package testutil provides fixtures, fakes and a Postgres container helper
// shared by package tests.
package testutil

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/parsascontentcorner/grokgate/internal/config"
	"github.com/parsascontentcorner/grokgate/internal/models"
)

// GeneratePendingRecord creates a request record waiting for approval.
func GeneratePendingRecord(guildID, userID string, kind models.CommandKind, content string) *models.RequestRecord {
	return &models.RequestRecord{
		GuildID:          guildID,
		ChannelID:        "channel-" + guildID,
		UserID:           userID,
		DiscordMessageID: sql.NullString{String: uuid.NewString(), Valid: true},
		CommandType:      kind,
		UserContent:      content,
		Status:           models.StatusPendingApproval,
		NeedsApproval:    true,
	}
}

// GenerateAdmin creates an admin grant.
func GenerateAdmin(userID, guildID string) *models.AdminUser {
	return &models.AdminUser{
		DiscordUserID: userID,
		GuildID:       guildID,
		Role:          models.AdminRoleAdmin,
	}
}

// GenerateOAuthState creates a test OAuth state that returns to redirectTo.
func GenerateOAuthState(redirectTo string) *models.OAuthState {
	return &models.OAuthState{
		State:      GenerateRandomState(),
		RedirectTo: redirectTo,
		CreatedAt:  time.Now().UTC(),
		ExpiresAt:  time.Now().UTC().Add(10 * time.Minute),
	}
}

// GenerateExpiredOAuthState creates an OAuth state that is already expired.
func GenerateExpiredOAuthState(redirectTo string) *models.OAuthState {
	return &models.OAuthState{
		State:      GenerateRandomState(),
		RedirectTo: redirectTo,
		CreatedAt:  time.Now().UTC().Add(-15 * time.Minute),
		ExpiresAt:  time.Now().UTC().Add(-5 * time.Minute),
	}
}

// GenerateRandomState generates a random state string (32 bytes, hex-encoded).
func GenerateRandomState() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random state: %v", err))
	}
	return hex.EncodeToString(b)
}

// GenerateSigningKey generates a 32-byte session signing key for testing.
func GenerateSigningKey() []byte {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic(fmt.Sprintf("failed to generate signing key: %v", err))
	}
	return key
}

// GenerateTestConfig creates a test configuration with valid values.
func GenerateTestConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			HTTPPort:    "8000",
			GRPCPort:    "50051",
			Host:        "localhost",
			Env:         "test",
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Discord: config.DiscordConfig{
			ClientID:      "test_client_id",
			ClientSecret:  "test_client_secret",
			RedirectURI:   "http://localhost:8000/auth/callback",
			Scopes:        []string{"identify", "guilds"},
			CommandPrefix: "!",
		},
		Grok: config.GrokConfig{
			APIKey:                "test-grok-key",
			APIBase:               "http://localhost:9999/v1",
			ChatModel:             "grok-beta",
			ImageModel:            "grok-image-1",
			Timeout:               5 * time.Second,
			PricePerMillionTokens: 5.0,
		},
		Database: config.DatabaseConfig{
			Host:         "localhost",
			Port:         "5432",
			User:         "testuser",
			Password:     "testpass",
			Name:         "testdb",
			SSLMode:      "disable",
			MaxOpenConns: 5,
			MaxIdleConns: 2,
		},
		Security: config.SecurityConfig{
			SessionSigningKey:  GenerateSigningKey(),
			SessionExpiryHours: 24,
			StateExpiryMinutes: 10,
		},
		Logging: config.LoggingConfig{
			Level:  "debug",
			Format: "console",
		},
		Defaults: config.DefaultsConfig{
			MaxPromptChars: 4000,
		},
	}
}
