package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gestaozabele/manutencao/internal/access"
	"github.com/gestaozabele/manutencao/internal/assignment"
	"github.com/gestaozabele/manutencao/internal/auth"
	"github.com/gestaozabele/manutencao/internal/classify"
	"github.com/gestaozabele/manutencao/internal/config"
	"github.com/gestaozabele/manutencao/internal/db"
	"github.com/gestaozabele/manutencao/internal/directory"
	"github.com/gestaozabele/manutencao/internal/events"
	internalhttp "github.com/gestaozabele/manutencao/internal/http"
	"github.com/gestaozabele/manutencao/internal/identity"
	"github.com/gestaozabele/manutencao/internal/issues"
	"github.com/gestaozabele/manutencao/internal/service"
	"github.com/gestaozabele/manutencao/internal/storage"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("api encerrada com erro")
	}
}

func run() error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return err
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis parse: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	provider, err := identity.NewOIDCProvider(ctx, cfg.OIDC.IssuerURL, cfg.OIDC.ClientID, cfg.OIDC.ClientSecret,
		cfg.OIDC.RedirectURL, cfg.OIDC.Scopes)
	if err != nil {
		return fmt.Errorf("oidc: %w", err)
	}

	uploader, err := newUploader(cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	bus := newBus(cfg.LiveBackend, redisClient)

	directoryRepo := directory.NewRepository(pool)
	resolver := access.NewResolver(directoryRepo, cfg.AdminEmails, component("access"))
	workflow := access.NewWorkflow(directoryRepo, resolver, cfg.Categories, component("access"))

	issueService := issues.NewService(issues.NewRepository(pool), uploader, newClassifier(cfg), issues.Options{
		Categories:    cfg.Categories,
		MaxImageBytes: cfg.Storage.MaxImageBytes,
		Publisher:     bus,
		Logger:        component("issues"),
	})
	policy := assignment.NewPolicy(issueService, directoryRepo, component("assignment"))

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	if cfg.AutoAssignSchedule != "" {
		schedule, err := assignment.ParseSchedule(cfg.AutoAssignSchedule)
		if err != nil {
			return err
		}
		go assignment.NewSweeper(policy, schedule, component("sweeper")).Run(sweepCtx)
		log.Info().Str("schedule", cfg.AutoAssignSchedule).Msg("atribuição automática periódica ativa")
	}

	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTAccessTTL)
	attempts := identity.NewAttemptStore(redisClient, cfg.OIDC.LoginAttemptTTL)
	authService := service.NewAuthService(provider, attempts, resolver, redisClient, jwtManager, cfg.JWTRefreshTTL, component("auth"))

	handler, err := internalhttp.NewRouter(internalhttp.Deps{
		Config:   cfg,
		DB:       pool,
		Redis:    redisClient,
		Auth:     authService,
		JWT:      jwtManager,
		Workflow: workflow,
		Issues:   issueService,
		Policy:   policy,
		Bus:      bus,
		Logger:   component("http"),
	})
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("storage", cfg.Storage.Provider).Str("classifier", cfg.Classifier.Provider).
			Str("live", cfg.LiveBackend).Int("categories", len(cfg.Categories)).Msgf("API ouvindo em :%d", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("encerrando...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	stopSweep()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

func newUploader(cfg config.StorageConfig) (storage.Uploader, error) {
	switch cfg.Provider {
	case "s3":
		return storage.NewS3Uploader(storage.S3Config{
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			Bucket:       cfg.S3Bucket,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			PublicDomain: cfg.S3PublicURL,
		})
	default:
		log.Warn().Msg("storage noop: envio de chamados ficará indisponível")
		return storage.NoopUploader{}, nil
	}
}

// newClassifier monta a cadeia: primário com foto, secundário só com texto, depois a categoria padrão.
func newClassifier(cfg *config.Config) *classify.Chain {
	var primary, secondary classify.Classifier
	if cfg.Classifier.Provider == "anthropic" {
		primary = classify.NewAnthropicClassifier(cfg.Classifier.AnthropicAPIKey, cfg.Classifier.PrimaryModel, true)
		secondary = classify.NewAnthropicClassifier(cfg.Classifier.AnthropicAPIKey, cfg.Classifier.SecondaryModel, false)
	}
	return classify.NewChain(primary, secondary, classify.ChainConfig{
		DefaultCategory: cfg.Classifier.DefaultCategory,
		Threshold:       cfg.Classifier.Threshold,
		Timeout:         cfg.Classifier.Timeout,
		Categories:      cfg.Categories,
	}, component("classify"))
}

func newBus(backend string, redisClient *redis.Client) events.Bus {
	if backend == "memory" {
		return events.NewMemoryBus(component("events"))
	}
	return events.NewRedisBus(redisClient, events.DefaultChannel, component("events"))
}
