package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aussiebroadwan/gatehouse/internal/auth/domain"
	httpapi "github.com/aussiebroadwan/gatehouse/internal/auth/http"
	"github.com/aussiebroadwan/gatehouse/internal/auth/service"
	"github.com/aussiebroadwan/gatehouse/internal/auth/store"
	redisstore "github.com/aussiebroadwan/gatehouse/internal/auth/store/drivers/redis"
	"github.com/aussiebroadwan/gatehouse/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/gatehouse/pkg/cryptox"
	"github.com/aussiebroadwan/gatehouse/pkg/httpx"
	"github.com/aussiebroadwan/gatehouse/pkg/jwtx"
	"github.com/aussiebroadwan/gatehouse/pkg/slogx"
	"github.com/aussiebroadwan/gatehouse/pkg/sms"
	goredis "github.com/redis/go-redis/v9"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application encapsulates the service with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db         *sqlite.Store
	redis      *goredis.Client
	challenges store.Challenges
	limiters   *httpx.Limiters

	otpService          *service.OTPService
	sessionService      *service.SessionService
	authService         *service.AuthService
	adminService        *service.AdminService
	housekeepingService *service.HousekeepingService

	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "gatehouse",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	cryptox.SetPepperPath(cfg.PepperFile)
	if err := cryptox.LoadPepper(); err != nil {
		return nil, err
	}
	if cfg.PepperFile == "" {
		app.logger.Warn("no pepper file configured; password hashes will not survive a restart")
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	if err := app.initChallenges(); err != nil {
		_ = app.db.Close()
		return nil, err
	}
	if err := app.initLimiters(); err != nil {
		app.closeStores()
		return nil, err
	}
	if err := app.initServices(); err != nil {
		app.closeStores()
		return nil, err
	}
	if err := app.initHTTP(); err != nil {
		app.closeStores()
		return nil, err
	}

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.limiters.Start()
	app.housekeepingService.Start()

	app.logger.Info("gatehouse starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"challenge_store", app.cfg.StoreDriver,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
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

// Shutdown gracefully shuts down the application.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down gatehouse...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()
	app.limiters.Stop()

	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("error closing redis", "error", err)
		}
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("gatehouse stopped")
	return nil
}

func (app *Application) closeStores() {
	if app.redis != nil {
		_ = app.redis.Close()
	}
	_ = app.db.Close()
}

// initDatabase opens sqlite and applies migrations.
func (app *Application) initDatabase() error {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(dsn)
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

// initChallenges picks the challenge store. Redis lets replicas share
// challenges; everything else stays in sqlite.
func (app *Application) initChallenges() error {
	if app.cfg.StoreDriver != DriverRedis {
		app.challenges = app.db.Challenges()
		return nil
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     app.cfg.Redis.Addr,
		Password: app.cfg.Redis.Password,
		DB:       app.cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	app.redis = rdb
	app.challenges = redisstore.NewChallenges(rdb, app.cfg.Redis.Prefix)
	app.logger.Info("challenges stored in redis", "addr", app.cfg.Redis.Addr)
	return nil
}

// initLimiters builds the limiter table: defaults, then the table file,
// then per-limiter environment overrides.
func (app *Application) initLimiters() error {
	table := httpx.DefaultLimiterTable()
	if file := app.cfg.RateLimit.TableFile; file != "" {
		var err error
		if table, err = httpx.LoadLimiterFile(table, file); err != nil {
			return err
		}
	}
	table = httpx.ApplyLimiterEnv(table)

	limiters, err := httpx.NewLimiters(table,
		httpx.WithLogger(app.logger),
		httpx.WithCleanupInterval(app.cfg.RateLimit.CleanupInterval),
		httpx.WithEmergencyInterval(app.cfg.RateLimit.EmergencyInterval),
		httpx.WithHeapRatio(app.cfg.RateLimit.HeapRatio),
	)
	if err != nil {
		return fmt.Errorf("failed to build rate limiters: %w", err)
	}
	app.limiters = limiters
	return nil
}

func (app *Application) smsSender() sms.Sender {
	c := app.cfg.SMS
	if c.GatewayURL == "" {
		app.logger.Warn("no SMS gateway configured; codes are logged instead of sent")
		return sms.LogSender{Logger: app.logger}
	}
	return sms.NewHTTPGateway(sms.GatewayConfig{
		URL:           c.GatewayURL,
		APIKey:        c.APIKey,
		From:          c.SenderID,
		RatePerSecond: c.RatePerSec,
	})
}

func (app *Application) jwtSecret() ([]byte, error) {
	if app.cfg.JWT.Secret != "" {
		return []byte(app.cfg.JWT.Secret), nil
	}
	app.logger.Warn("no JWT_SECRET configured; sessions will not survive a restart")
	secret, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, err
	}
	return []byte(secret), nil
}

// initServices wires the business services.
func (app *Application) initServices() error {
	secret, err := app.jwtSecret()
	if err != nil {
		return fmt.Errorf("failed to generate JWT secret: %w", err)
	}
	signer, err := jwtx.NewSignerHS256(secret)
	if err != nil {
		return err
	}

	app.otpService = &service.OTPService{
		Challenges: app.challenges,
		Sender:     app.smsSender(),
		Templates:  sms.Templates{Brand: app.cfg.SMS.Brand},
		Config: service.OTPConfig{
			Expiry:         app.cfg.OTP.Expiry.Duration(),
			Length:         app.cfg.OTP.Length,
			MaxAttempts:    app.cfg.OTP.MaxAttempts,
			MaxResends:     app.cfg.OTP.MaxResends,
			ResendCooldown: app.cfg.OTP.ResendCooldown,
			BcryptCost:     app.cfg.OTP.BcryptCost,
		},
	}

	app.sessionService = &service.SessionService{
		Store:      app.db,
		Signer:     signer,
		Verifier:   jwtx.NewVerifierHS256(secret, app.cfg.JWT.Issuer, nil),
		Issuer:     app.cfg.JWT.Issuer,
		StudentTTL: app.cfg.SessionTTL,
		AdminTTL:   app.cfg.AdminSessionTTL,
	}

	lockout := &service.LockoutService{Policy: domain.LockoutPolicy{
		MaxAttempts: app.cfg.Lockout.MaxAttempts,
		LockFor:     app.cfg.Lockout.LockTime.Duration(),
	}}

	app.authService = &service.AuthService{
		Store:    app.db,
		OTP:      app.otpService,
		Lockout:  lockout,
		Sessions: app.sessionService,
	}
	app.adminService = &service.AdminService{
		Store:          app.db,
		Lockout:        lockout,
		Sessions:       app.sessionService,
		BootstrapToken: app.cfg.BootstrapToken,
	}
	if app.cfg.BootstrapToken == "" {
		app.logger.Warn("no BOOTSTRAP_TOKEN configured; admin setup is disabled")
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.otpService,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
	return nil
}

// initHTTP initializes the HTTP router and server.
func (app *Application) initHTTP() error {
	proxies, err := httpx.ParseTrustedProxies(app.cfg.RateLimit.TrustedProxies)
	if err != nil {
		return err
	}

	router := httpapi.NewRouter(BuildVersion, app.db, app.limiters, app.logger)
	router.TrustedProxies = proxies

	router.AuthService = app.authService
	router.AdminService = app.adminService
	router.OTPService = app.otpService
	router.SessionService = app.sessionService
	router.WebhookSecret = app.cfg.SMS.WebhookSecret
	if p, ok := app.challenges.(httpapi.Pinger); ok && app.redis != nil {
		router.ChallengeStore = p
	}
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
	return nil
}
