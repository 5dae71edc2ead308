// Package main is the entry point for grokgate.
// It runs the Discord bot together with the admin HTTP and gRPC APIs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/grokgate/internal/auth"
	"github.com/parsascontentcorner/grokgate/internal/config"
	"github.com/parsascontentcorner/grokgate/internal/database"
	"github.com/parsascontentcorner/grokgate/internal/discord"
	"github.com/parsascontentcorner/grokgate/internal/grok"
	grpcserver "github.com/parsascontentcorner/grokgate/internal/grpc"
	httpserver "github.com/parsascontentcorner/grokgate/internal/http"
	"github.com/parsascontentcorner/grokgate/internal/models"
	"github.com/parsascontentcorner/grokgate/internal/permissions"
	"github.com/parsascontentcorner/grokgate/internal/ratelimit"
	"github.com/parsascontentcorner/grokgate/internal/service"
	"github.com/parsascontentcorner/grokgate/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		// Sync errors on stdout/stderr are expected and can be safely ignored
		// for non-syncable file descriptors (pipes, terminals, etc.)
		_ = log.Sync()
	}()

	log.Info("starting grokgate",
		zap.String("environment", cfg.Server.Env),
		zap.String("http_port", cfg.Server.HTTPPort),
		zap.String("grpc_port", cfg.Server.GRPCPort),
		zap.Bool("bot_enabled", cfg.Discord.BotEnabled()),
	)

	// Initialize database connection
	db, err := database.NewDB(&cfg.Database, logger.Component(log, "database"))
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("failed to close database connection", zap.Error(err))
		}
	}()
	db.SetDefaultMaxPromptChars(cfg.Defaults.MaxPromptChars)

	if err := runMigrations(db, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := bootstrapAdmins(ctx, db, cfg.Security.BootstrapAdmins, log); err != nil {
		log.Fatal("failed to seed admins", zap.Error(err))
	}

	// Expired OAuth states
	db.StartCleanupJob(ctx, 30*time.Minute)

	// AI service
	grokClient := grok.NewClient(cfg.Grok, logger.Component(log, "grok"))
	defer grokClient.Close()
	grokClient.SetRateLimiter(ratelimit.NewRateLimiter(logger.Component(log, "grok_limiter"), 200*time.Millisecond, 5))

	// Discord bot
	var (
		discordClient *discord.Client
		notifier      service.Notifier = logNotifier{logger: logger.Component(log, "notifier")}
		resolver      *permissions.Resolver
	)
	if cfg.Discord.BotEnabled() {
		discordClient, err = discord.NewClient(cfg.Discord.BotToken, logger.Component(log, "discord"))
		if err != nil {
			log.Fatal("failed to create Discord client", zap.Error(err))
		}
		notifier = discordClient
		resolver = permissions.NewResolver(discordClient, logger.Component(log, "permissions"))
	}

	processor := service.NewProcessor(db, grokClient, cfg.Grok.PricePerMillionTokens, logger.Component(log, "processor"))
	workflow := service.NewWorkflow(db, grokClient, notifier, cfg.Grok.PricePerMillionTokens, logger.Component(log, "workflow"))

	// Admin login
	oauthClient := auth.NewDiscordClient(cfg, logger.Component(log, "oauth"))
	oauthClient.SetRateLimiter(ratelimit.NewRateLimiter(logger.Component(log, "oauth_limiter"), time.Second, 5))
	stateManager := auth.NewStateManager(db, cfg.Security.StateExpiryMinutes)
	sessions := auth.NewSessionManager(cfg.Security.SessionSigningKey, time.Duration(cfg.Security.SessionExpiryHours)*time.Hour)
	oauthHandler := auth.NewOAuthHandler(oauthClient, stateManager, sessions, logger.Component(log, "auth"))

	// Admin APIs. A nil resolver must not reach the interfaces as a typed nil.
	httpHandlers := httpserver.NewHandlers(db, workflow, oauthHandler, sessions, logger.Component(log, "http"))
	var grpcPerms grpcserver.PermissionCalculator
	if resolver != nil {
		httpHandlers.SetPermissions(resolver)
		grpcPerms = resolver
	}
	httpServer := httpserver.NewServer(httpserver.NewRouter(httpHandlers, cfg.Server.CORSOrigins), cfg.Server.HTTPPort, log)

	adminService := grpcserver.NewAdminServer(db, workflow, grpcPerms, logger.Component(log, "grpc"))
	grpcServer, err := grpcserver.NewServer(adminService, sessions, cfg.Server.GRPCPort, log)
	if err != nil {
		log.Fatal("failed to create gRPC server", zap.Error(err))
	}

	if discordClient != nil {
		bot := discord.NewBot(processor, db, resolver, notifier, cfg.Discord.CommandPrefix, logger.Component(log, "bot"))
		discordClient.AddHandler(bot.OnMessageCreate)
		if err := discordClient.Open(); err != nil {
			log.Fatal("failed to connect to Discord", zap.Error(err))
		}
		defer func() {
			if err := discordClient.Close(); err != nil {
				log.Error("failed to close Discord connection", zap.Error(err))
			}
		}()
	} else {
		log.Warn("DISCORD_BOT_TOKEN not set, running admin APIs only")
	}

	// Start servers in goroutines
	grpcErrChan := make(chan error, 1)
	httpErrChan := make(chan error, 1)

	go func() {
		log.Info("starting gRPC server", zap.String("port", cfg.Server.GRPCPort))
		if err := grpcServer.Serve(); err != nil {
			grpcErrChan <- err
		}
	}()

	go func() {
		log.Info("starting HTTP server", zap.String("port", cfg.Server.HTTPPort))
		if err := httpServer.Serve(); err != nil {
			httpErrChan <- err
		}
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-grpcErrChan:
		log.Error("gRPC server error", zap.Error(err))
	case err := <-httpErrChan:
		log.Error("HTTP server error", zap.Error(err))
	case sig := <-sigChan:
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
	}

	log.Info("shutting down servers...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to shutdown HTTP server gracefully", zap.Error(err))
	}

	grpcServer.GracefulStop()

	log.Info("servers shut down successfully")
}

// runMigrations runs database migrations using golang-migrate library
func runMigrations(db *database.DB, log *zap.Logger) error {
	log.Info("running database migrations")

	// Path to migrations directory (relative to binary execution location)
	migrationsPath := "internal/database/migrations"

	if err := db.RunMigrations(migrationsPath); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Info("database migrations completed successfully")
	return nil
}

// bootstrapAdmins grants the owner role from ADMIN_BOOTSTRAP. Existing rows
// are upgraded in place.
func bootstrapAdmins(ctx context.Context, db *database.DB, grants []config.AdminGrant, log *zap.Logger) error {
	for _, g := range grants {
		err := db.AddAdmin(ctx, &models.AdminUser{
			DiscordUserID: g.UserID,
			GuildID:       g.GuildID,
			Role:          models.AdminRoleOwner,
		})
		if err != nil {
			return fmt.Errorf("guild %s user %s: %w", g.GuildID, g.UserID, err)
		}
		log.Info("admin granted", zap.String("guild_id", g.GuildID), zap.String("user_id", g.UserID))
	}
	return nil
}

// logNotifier stands in for the bot when no token is configured.
type logNotifier struct {
	logger *zap.Logger
}

func (n logNotifier) SendMessage(_ context.Context, channelID, content, mentionUserID, _ string) error {
	n.logger.Warn("bot disabled, dropping approval delivery",
		zap.String("channel_id", channelID),
		zap.String("mention_user_id", mentionUserID),
		zap.Int("content_length", len(content)),
	)
	return nil
}
