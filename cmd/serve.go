package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"multichat/internal/auth"
	"multichat/internal/config"
	"multichat/internal/domain/repositories"
	"multichat/internal/embedding"
	"multichat/internal/handler"
	"multichat/internal/middleware"
	chromemstore "multichat/internal/repository/chromem"
	"multichat/internal/repository/postgres"
	"multichat/internal/repository/retry"
	serviceAuth "multichat/internal/service/auth"
	"multichat/internal/service/chat"
	"multichat/internal/service/llm"

	"github.com/rs/cors"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	var out io.Writer = os.Stdout
	if cfg.LogDir != "" {
		logFile, err := config.SetupLogFile(cfg.LogDir, cfg.LogMaxFiles)
		if err != nil {
			return err
		}
		defer logFile.Close()
		out = io.MultiWriter(os.Stdout, logFile)
	}
	logger := newLogger(cfg, out)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"store_backend", cfg.StoreBackend,
		"max_chats", cfg.Chat.MaxChats,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	registry, err := chat.NewRegistry(chat.RegistryConfig{
		Store: retry.NewStore(store, retry.Config{
			MaxRetries: cfg.StoreMaxRetries,
			RetryDelay: cfg.StoreRetryDelay,
			Timeout:    cfg.StoreTimeout,
		}, logger),
		Embedder:           embedding.NewHashEmbedder(cfg.EmbeddingDims),
		Settings:           cfg.Chat,
		CascadeMaxAttempts: cfg.CascadeMaxAttempts,
		Logger:             logger,
	})
	if err != nil {
		return fmt.Errorf("create chat registry: %w", err)
	}
	defer registry.Close()

	summarizer := llm.NewOptionalSummarizer(cfg, logger)

	authorizer := serviceAuth.NewOwnerBasedAuthorizer(registry)
	resolver := chat.NewResolver(registry, authorizer, logger)
	namer := chat.NewAutoNamer(registry, summarizer, cfg.SummarizeTimeout, logger)
	chatService := chat.NewService(registry, resolver, namer, authorizer, logger)

	logger.Info("services initialized")

	// Create HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()
	handler.NewChatHandler(chatService, logger).Register(mux)

	authMiddleware, closeAuth, err := newAuthMiddleware(cfg, logger)
	if err != nil {
		return err
	}
	defer closeAuth()

	// Apply middleware in reverse order (they wrap each other)
	// Order: CORS → Recovery → Logging → Auth → Routes
	var h http.Handler = mux
	h = authMiddleware(h)
	h = middleware.RequestLogger(logger)(h)
	h = middleware.Recovery(logger)(h)

	// CORS - Must be before auth to handle OPTIONS pre-flight requests
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOriginList(),
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.DevUserHeader},
		AllowCredentials: true,
	})
	h = corsHandler.Handler(h)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown requested")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}

	// Let in-flight renames finish before the store closes
	namer.Wait()
	logger.Info("server stopped")
	return nil
}

// openStore builds the configured MetadataStore backend
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repositories.MetadataStore, error) {
	switch cfg.StoreBackend {
	case "chromem":
		logger.Warn("using in-memory chromem store, data is lost on restart")
		return chromemstore.New(cfg.EmbeddingDims, logger)

	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
		pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("create connection pool: %w", err)
		}
		logger.Info("database connected", "table_prefix", cfg.TablePrefix)

		store := postgres.NewPointStore(&postgres.RepositoryConfig{
			Pool:   pool,
			Tables: postgres.NewTableNames(cfg.TablePrefix),
			Logger: logger,
		}, postgres.NewTxRunner(pool, logger))
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q (want chromem or postgres)", cfg.StoreBackend)
	}
}

// newAuthMiddleware uses JWKS verification when JWKS_URL is set. Without it
// only dev environments may start, trusting the X-User-ID header.
func newAuthMiddleware(cfg *config.Config, logger *slog.Logger) (func(http.Handler) http.Handler, func(), error) {
	if cfg.JWKSURL == "" {
		if cfg.Environment != "dev" {
			return nil, nil, fmt.Errorf("JWKS_URL is required outside dev")
		}
		return middleware.DevAuthMiddleware(logger), func() {}, nil
	}

	verifier, err := auth.NewJWTVerifier(cfg.JWKSURL, cfg.JWTRequiredRole, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("create JWT verifier: %w", err)
	}
	return middleware.AuthMiddleware(verifier, logger), func() { verifier.Close() }, nil
}
