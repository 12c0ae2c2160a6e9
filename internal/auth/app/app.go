package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/perchboard/perch/internal/auth/domain"
	httpapi "github.com/perchboard/perch/internal/auth/http"
	"github.com/perchboard/perch/internal/auth/service"
	"github.com/perchboard/perch/internal/auth/store"
	"github.com/perchboard/perch/internal/auth/store/drivers/sqlite"
	"github.com/perchboard/perch/pkg/cryptox"
	"github.com/perchboard/perch/pkg/httpx"
	"github.com/perchboard/perch/pkg/slogx"
	"github.com/perchboard/perch/pkg/tokenx"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application encapsulates the auth service application with all its dependencies
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db    store.Store
	codec *tokenx.Codec

	// Services
	authService         *service.AuthService
	throttleService     *service.ThrottleService
	housekeepingService *service.HousekeepingService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "perch-auth",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	// Install the process-wide pepper before any hashing happens.
	cryptox.SetPepper(cfg.Pepper)

	if err := app.initCodec(); err != nil {
		return nil, err
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	app.initServices()

	if err := app.seedInitialUser(context.Background()); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	// Start housekeeping service
	app.housekeepingService.Start()

	app.logger.Info("perch auth starting", "port", app.cfg.Port, "version", BuildVersion)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a shutdown signal or server error
	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		// Perform graceful shutdown
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down perch auth...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	// Shutdown the HTTP server
	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	// Stop the housekeeping service
	app.housekeepingService.Stop()

	// Close database connection
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("perch auth stopped")
	return nil
}

// initCodec sets up the token codec. Without a configured secret a random
// one is generated, which keeps dev setups working but invalidates every
// session on restart.
func (app *Application) initCodec() error {
	secret := []byte(app.cfg.TokenSecret)
	if len(secret) == 0 {
		var b [32]byte
		if _, err := rand.Read(b[:]); err != nil {
			return fmt.Errorf("failed to generate token secret: %w", err)
		}
		secret = []byte(base64.RawStdEncoding.EncodeToString(b[:]))
		app.logger.Warn("PERCH_TOKEN_SECRET not set, using an ephemeral secret; sessions will not survive restarts")
	}

	app.codec = &tokenx.Codec{
		Secret:     secret,
		Issuer:     app.cfg.Issuer,
		AccessTTL:  app.cfg.AccessTTL,
		RefreshTTL: app.cfg.RefreshTTL,
	}
	return nil
}

// initDatabase initializes the database and applies migrations
func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initServices initializes all business logic services
func (app *Application) initServices() {
	app.authService = &service.AuthService{
		Codec: app.codec,
		Store: app.db,
	}
	app.throttleService = &service.ThrottleService{Store: app.db}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
		app.cfg.AttemptRetention,
	)
}

// seedInitialUser creates the configured seed account if the users table is
// empty. With no configured password, one is generated and logged once.
func (app *Application) seedInitialUser(ctx context.Context) error {
	if app.cfg.SeedUsername == "" {
		return nil
	}

	empty, err := app.db.Users().IsEmpty(ctx)
	if err != nil {
		return fmt.Errorf("failed to check for existing users: %w", err)
	}
	if !empty {
		return nil
	}

	password := app.cfg.SeedPassword
	generated := false
	if password == "" {
		password, err = cryptox.GeneratePassword()
		if err != nil {
			return fmt.Errorf("failed to generate seed password: %w", err)
		}
		generated = true
	}

	hash, err := cryptox.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash seed password: %w", err)
	}

	username := service.NormalizeIdentifier(app.cfg.SeedUsername)
	id, err := app.db.Users().CreateUser(ctx, domain.User{
		Username:     username,
		DisplayName:  app.cfg.SeedUsername,
		PasswordHash: hash,
		Role:         "admin",
	})
	if err != nil {
		return fmt.Errorf("failed to create seed user: %w", err)
	}

	if generated {
		// Logged once so the operator can capture it; never stored in clear.
		app.logger.Info("seed user created with generated password",
			"user_id", id, "username", username, "password", password)
	} else {
		app.logger.Info("seed user created", "user_id", id, "username", username)
	}
	return nil
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		BuildVersion,
		app.db,
		httpx.DefaultCookieConfig(app.cfg.CookieSecure),
		app.logger,
	)

	// Wire services to router
	router.AuthService = app.authService
	router.ThrottleService = app.throttleService
	router.LoginPolicy = app.cfg.LoginPolicy
	router.ApplyRoutes()

	app.router = router

	// Initialize HTTP server
	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
