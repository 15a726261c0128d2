// Command create-super-admin creates a SUPER_ADMIN user, or promotes an
// existing user with the same email.
//
//	create-super-admin -email root@example.com -password '...' -tenant Platform
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/lalith-99/ordersvc/internal/auth"
	"github.com/lalith-99/ordersvc/internal/config"
	"github.com/lalith-99/ordersvc/internal/db"
	"github.com/lalith-99/ordersvc/internal/observ"
	"github.com/lalith-99/ordersvc/internal/repository/postgres"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	email := flag.String("email", "", "admin email (required)")
	password := flag.String("password", os.Getenv("SUPER_ADMIN_PASSWORD"), "admin password, defaults to $SUPER_ADMIN_PASSWORD")
	name := flag.String("name", "Super Admin", "display name")
	tenant := flag.String("tenant", "Platform", "tenant to create the admin in; created if missing")
	flag.Parse()

	if *email == "" {
		return errors.New("-email is required")
	}
	if len(*password) < 6 {
		return errors.New("password must be at least 6 characters")
	}
	if len(*password) > auth.MaxPasswordBytes {
		return fmt.Errorf("password must be at most %d bytes", auth.MaxPasswordBytes)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Storage != config.StoragePostgres {
		return fmt.Errorf("STORAGE=%s has nothing to persist an admin into", cfg.Storage)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel, "create-super-admin")
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	database, err := db.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()
	if cfg.AutoMigrate {
		if err := database.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	pool := database.Pool()
	svc := auth.NewService(
		postgres.NewUserStore(pool),
		postgres.NewTenantStore(pool),
		database,
		auth.NewBcryptHasher(cfg.BcryptCost),
		auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL),
		logger,
		nil,
	)

	user, err := svc.EnsureSuperAdmin(ctx, *email, *password, *name, *tenant)
	if err != nil {
		return fmt.Errorf("create super admin: %w", err)
	}
	logger.Info("super admin ready",
		zap.String("user_id", user.ID.String()),
		zap.String("tenant_id", user.TenantID.String()),
		zap.String("email", user.Email),
	)
	return nil
}
