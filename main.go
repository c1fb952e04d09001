package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver "pgx" for migrations
	"go.uber.org/zap"

	"github.com/datasaki/datasaki-engine/pkg/adapters/connector"
	"github.com/datasaki/datasaki-engine/pkg/adapters/connector/clickhouse"
	"github.com/datasaki/datasaki-engine/pkg/adapters/connector/file"
	"github.com/datasaki/datasaki-engine/pkg/adapters/connector/gdrive"
	"github.com/datasaki/datasaki-engine/pkg/adapters/connector/gsheets"
	"github.com/datasaki/datasaki-engine/pkg/adapters/connector/minio"
	"github.com/datasaki/datasaki-engine/pkg/adapters/connector/mongodb"
	"github.com/datasaki/datasaki-engine/pkg/adapters/connector/mssql"
	"github.com/datasaki/datasaki-engine/pkg/adapters/connector/mysql"
	"github.com/datasaki/datasaki-engine/pkg/adapters/connector/postgres"
	"github.com/datasaki/datasaki-engine/pkg/adapters/connector/s3"
	"github.com/datasaki/datasaki-engine/pkg/adapters/connector/snowflake"
	"github.com/datasaki/datasaki-engine/pkg/audit"
	"github.com/datasaki/datasaki-engine/pkg/auth"
	"github.com/datasaki/datasaki-engine/pkg/config"
	"github.com/datasaki/datasaki-engine/pkg/crypto"
	"github.com/datasaki/datasaki-engine/pkg/database"
	"github.com/datasaki/datasaki-engine/pkg/handlers"
	"github.com/datasaki/datasaki-engine/pkg/llm"
	"github.com/datasaki/datasaki-engine/pkg/logging"
	"github.com/datasaki/datasaki-engine/pkg/middleware"
	"github.com/datasaki/datasaki-engine/pkg/prompts"
	"github.com/datasaki/datasaki-engine/pkg/repositories"
	"github.com/datasaki/datasaki-engine/pkg/retry"
	"github.com/datasaki/datasaki-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.String("database", cfg.Database.User+"@"+cfg.Database.Host+"/"+cfg.Database.Database),
		zap.Bool("redis", cfg.Redis.Host != ""),
		zap.Bool("google_oauth", cfg.GoogleOAuth.IsConfigured()),
		zap.Int("jwks_issuers", len(cfg.Auth.JWKSEndpoints)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

// loadConfig prefers config.yaml and falls back to the environment alone.
func loadConfig() (*config.Config, error) {
	if _, err := os.Stat("config.yaml"); err == nil {
		return config.Load(Version)
	}
	return config.LoadFromEnv(Version)
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// Metadata store
	if err := migrate(cfg, logger); err != nil {
		return err
	}
	db, err := database.NewConnection(ctx, database.NewConfig(&cfg.Database))
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		// Previews work uncached; a missing cache is not fatal.
		logger.Warn("Redis unavailable, preview cache disabled", zap.Error(err))
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	secrets, err := crypto.NewSecretBox(cfg.CredentialsKey)
	if err != nil {
		return errors.New("CREDENTIALS_KEY must be set to encrypt stored credentials")
	}

	// Connector backends
	registry := connector.NewRegistry(logger, cfg.Connectors.AllowedRoot)
	registry.MustRegister(file.Registrations()...)
	registry.MustRegister(
		postgres.Registration(),
		mysql.Registration(),
		mssql.Registration(),
		clickhouse.Registration(),
		snowflake.Registration(),
		mongodb.Registration(),
		s3.Registration(),
		minio.Registration(),
		gdrive.Registration(),
		gsheets.Registration(),
	)

	// LLM providers and prompt templates
	providers := llm.NewDefaultRegistry(&cfg.LLM, logger)
	templates, err := prompts.Load()
	if err != nil {
		return err
	}

	// Auth
	issuer, err := auth.NewTokenIssuer(cfg.Auth.TokenSecret, cfg.Auth.TokenTTL())
	if err != nil {
		return errors.New("SECRET_KEY must be set to sign access tokens")
	}
	var federated auth.TokenValidator
	if len(cfg.Auth.JWKSEndpoints) > 0 {
		jwks, err := auth.NewJWKSClient(ctx, cfg.Auth.JWKSEndpoints)
		if err != nil {
			return err
		}
		federated = jwks
	}
	authService := auth.NewAuthService(issuer, federated, logger.Named("auth"))
	authMiddleware := auth.NewMiddleware(authService, logger.Named("auth"))

	cookieSettings := auth.DeriveCookieSettings(cfg.BaseURL, cfg.CookieDomain)
	var googleOAuth auth.GoogleOAuth
	if cfg.GoogleOAuth.IsConfigured() {
		sessionSecret := cfg.Auth.SessionSecret
		if sessionSecret == "" {
			sessionSecret = cfg.Auth.TokenSecret
		}
		auth.InitSessionStore(sessionSecret, cookieSettings)
		googleOAuth = auth.NewGoogleOAuth(cfg.GoogleOAuth.ClientID, cfg.GoogleOAuth.ClientSecret, cfg.GoogleOAuth.RedirectURI)
	}

	// Repositories and services
	logRepo := repositories.NewLogRepository()
	activity := audit.NewActivityRecorder(logRepo, logger)
	auditor := audit.NewSecurityAuditor(logger)

	connectorService := services.NewConnectorService(
		repositories.NewConnectorRepository(), registry, secrets, cfg.Connectors, activity, auditor, logger)
	llmService := services.NewLLMService(
		repositories.NewLLMConfigRepository(secrets), providers, templates,
		retry.DefaultPolicy().WithMaxRetries(cfg.LLM.MaxRetries), activity, auditor, logger)
	datasetService := services.NewDatasetService(
		repositories.NewDatasetRepository(),
		connectorService,
		services.NewSchemaInferrer(connectorService, cfg.Connectors, logger),
		services.NewPreviewCache(redisClient, cfg.Connectors.PreviewCacheTTL, logger),
		llmService,
		cfg.Connectors, activity, auditor, logger)
	identityService := services.NewIdentityService(
		repositories.NewUserRepository(), repositories.NewCompanyRepository(), issuer, activity, logger)
	logService := services.NewLogService(logRepo)

	// Routes
	mux := http.NewServeMux()
	scope := handlers.ScopeMiddleware(database.WithScope(db, logger))

	handlers.NewHealthHandler(cfg, db, logger).RegisterRoutes(mux)
	handlers.NewAuthHandler(identityService, googleOAuth, cookieSettings, logger).RegisterRoutes(mux, authMiddleware, scope)
	handlers.NewConnectorsHandler(connectorService, logger).RegisterRoutes(mux, authMiddleware, scope)
	handlers.NewDatasetsHandler(datasetService, logger).RegisterRoutes(mux, authMiddleware, scope)
	handlers.NewLLMHandler(llmService, logger).RegisterRoutes(mux, authMiddleware, scope)
	handlers.NewLogsHandler(logService, logger).RegisterRoutes(mux, authMiddleware, scope)

	var handler http.Handler = mux
	handler = middleware.RequestRecorder(
		middleware.NewRequestStore(database.NewScopeProvider(db), logRepo), authService, logger)(handler)
	handler = middleware.RequestLogger(logger)(handler)
	handler = middleware.CORS(cfg.AllowedOrigins())(handler)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting datasaki-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version),
			zap.Bool("tls", cfg.TLSCertPath != ""))
		var err error
		if cfg.TLSCertPath != "" {
			err = server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = server.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func migrate(cfg *config.Config, logger *zap.Logger) error {
	sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	return database.RunMigrations(sqlDB, logger)
}
