package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gin-gonic/gin"
	"github.com/layer-3/walletauth/adapters/events"
	"github.com/layer-3/walletauth/adapters/identity/sqlite"
	"github.com/layer-3/walletauth/adapters/mailer"
	"github.com/layer-3/walletauth/adapters/store"
	"github.com/layer-3/walletauth/adapters/tokenizer"
	"github.com/layer-3/walletauth/auth"
	"github.com/layer-3/walletauth/challenge"
	"github.com/layer-3/walletauth/identity"
	"github.com/layer-3/walletauth/nonce"
	"github.com/layer-3/walletauth/pkg/slogx"
	"github.com/layer-3/walletauth/ports"
	"github.com/layer-3/walletauth/service"
	"github.com/layer-3/walletauth/signature"
	httpapi "github.com/layer-3/walletauth/transport/http"
	"github.com/redis/go-redis/v9"
)

// BuildVersion is overridden at build time via ldflags
var BuildVersion = "v0.1.0"

// Application holds the wallet authentication service and its collaborators
type Application struct {
	cfg    Config
	logger *slog.Logger
	ring   *slogx.Ring

	redis     *redis.Client
	kv        ports.Store
	db        *sqlite.Store
	publisher message.Publisher // nil when events are disabled

	authService  *service.AuthService
	otpService   *service.OTPService
	housekeeping *service.HousekeepingService

	server *http.Server
}

// New creates an Application with every dependency initialized
func New(cfg Config) (*Application, error) {
	ring := slogx.NewRing(cfg.LogBuffer)
	app := &Application{
		cfg:  cfg,
		ring: ring,
		logger: slogx.New(slogx.Config{
			Service: "walletauth",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
			Ring:    ring,
		}),
	}

	if err := app.initRedis(); err != nil {
		return nil, err
	}
	if err := app.initDatabase(); err != nil {
		app.closeRedis()
		return nil, err
	}
	if err := app.initServices(); err != nil {
		app.closeRedis()
		_ = app.db.Close()
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	app.housekeeping.Start()

	app.logger.Info("walletauth starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		app.housekeeping.Stop()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down walletauth...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeeping.Stop()

	if app.publisher != nil {
		if err := app.publisher.Close(); err != nil {
			app.logger.Error("error closing event publisher", "error", err)
		}
	}
	app.closeRedis()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("walletauth stopped")
	return nil
}

// Handler exposes the HTTP handler, mainly for tests
func (app *Application) Handler() http.Handler { return app.server.Handler }

func (app *Application) initRedis() error {
	opts, err := redis.ParseURL(app.cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to parse redis url: %w", err)
	}

	app.redis = redis.NewClient(opts)
	app.kv = store.NewRedisStore(app.redis, store.DefaultPrefix)

	// Redis may come up after us; requests fail with 503 until it does
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := app.kv.Ping(ctx); err != nil {
		app.logger.Warn("redis not reachable yet", "error", err)
	}

	return nil
}

func (app *Application) closeRedis() {
	if err := app.redis.Close(); err != nil {
		app.logger.Error("error closing redis client", "error", err)
	}
}

// initDatabase opens the identity store and applies migrations
func (app *Application) initDatabase() error {
	db, err := sqlite.NewStore(sqlite.FileDSN(app.cfg.DatabaseFile))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully", "file", app.cfg.DatabaseFile)
	return nil
}

func (app *Application) initEvents() (ports.EventPublisher, error) {
	if !app.cfg.EventsEnabled {
		app.logger.Info("event publishing disabled")
		return events.NopPublisher{}, nil
	}

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: app.redis,
		},
		watermill.NewSlogLogger(app.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis stream publisher: %w", err)
	}
	app.publisher = publisher

	return events.NewWatermillPublisher(publisher), nil
}

// initServices wires the authentication pipeline
func (app *Application) initServices() error {
	signingKey, err := tokenizer.LoadSigningKey(app.cfg.SigningKeyFile)
	if err != nil {
		return fmt.Errorf("failed to load signing key: %w", err)
	}
	if app.cfg.SigningKeyFile == "" {
		app.logger.Warn("using an ephemeral signing key; access tokens will not survive a restart")
	}

	eventPub, err := app.initEvents()
	if err != nil {
		return err
	}

	nonces := nonce.NewStore(app.kv, app.cfg.NonceTTL)
	codec := challenge.NewCodec(app.cfg.FrontendURL, app.cfg.ChallengeWindow)
	verifiers := signature.NewRegistry(signature.WithAddressBinding(app.cfg.CardanoAddressBinding))
	authenticator := auth.NewAuthenticator(nonces, codec, verifiers, app.logger)

	policy := identity.DefaultPolicy()
	policy.SessionTTL = app.cfg.SessionTTL
	policy.BehaviorAutoLink = app.cfg.BehaviorAutoLink
	policy.SimilarityFloor = app.cfg.BehaviorSimilarityFloor
	policy.BehaviorWindow = app.cfg.BehaviorWindow
	correlator := identity.NewCorrelator(authenticator, app.db, eventPub, policy, app.logger)

	app.authService = service.NewAuthService(
		nonces,
		codec,
		correlator,
		tokenizer.NewJWTTokenizer(signingKey),
		eventPub,
		app.logger,
		app.cfg.AccessTokenTTL,
	)
	app.otpService = service.NewOTPService(
		app.kv,
		app.db,
		mailer.NewLogMailer(app.logger),
		app.logger,
		app.cfg.OTPTTL,
		app.cfg.OTPMaxAttempts,
	)
	app.housekeeping = service.NewHousekeepingService(correlator, app.logger, app.cfg.HousekeepingInterval)

	return nil
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	if app.cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := httpapi.SetupRouter(httpapi.RouterConfig{
		Auth:       app.authService,
		OTP:        app.otpService,
		Logger:     app.logger,
		Ring:       app.ring,
		AdminToken: app.cfg.AdminToken,
		AuthLimit: httpapi.RateLimitConfig{
			RequestsPerWindow: app.cfg.RateLimitAuthRequests,
			Window:            time.Minute,
			Burst:             app.cfg.RateLimitAuthRequests,
		},
		EmailLimit: httpapi.RateLimitConfig{
			RequestsPerWindow: app.cfg.RateLimitEmailRequests,
			Window:            10 * time.Minute,
			Burst:             app.cfg.RateLimitEmailRequests,
		},
		Checks: map[string]httpapi.HealthCheck{
			"redis":  app.kv.Ping,
			"sqlite": app.db.Ping,
		},
	})

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
