package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gestaozabele/manutencao/internal/access"
	"github.com/gestaozabele/manutencao/internal/assignment"
	"github.com/gestaozabele/manutencao/internal/config"
	"github.com/gestaozabele/manutencao/internal/db"
	"github.com/gestaozabele/manutencao/internal/directory"
	"github.com/gestaozabele/manutencao/internal/events"
	"github.com/gestaozabele/manutencao/internal/issues"
	"github.com/gestaozabele/manutencao/internal/storage"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		log.Fatal().Err(err).Msg("maintctl falhou")
	}
}

// app reúne os serviços abertos sob demanda por cada subcomando.
type app struct {
	pool     *pgxpool.Pool
	redis    *redis.Client
	workflow *access.Workflow
	issues   *issues.Service
	policy   *assignment.Policy
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// openApp conecta ao banco e, se REDIS_URL estiver definido, publica eventos para os painéis ao vivo.
func openApp(ctx context.Context) (*app, error) {
	dsn := strings.TrimSpace(os.Getenv("DB_DSN"))
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if dsn == "" {
		return nil, errors.New("defina DB_DSN ou DATABASE_URL")
	}

	categories, err := config.LoadCategories(os.Getenv("CATEGORIES_FILE"))
	if err != nil {
		return nil, err
	}

	pool, err := db.NewPool(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("não foi possível conectar ao banco: %w", err)
	}
	a := &app{pool: pool}

	var bus events.Bus
	if raw := strings.TrimSpace(os.Getenv("REDIS_URL")); raw != "" {
		opts, err := redis.ParseURL(raw)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("redis parse: %w", err)
		}
		a.redis = redis.NewClient(opts)
		bus = events.NewRedisBus(a.redis, events.DefaultChannel, log.Logger)
	}

	logger := log.Logger
	dir := directory.NewRepository(pool)
	admins := config.NormalizeEmails(strings.Split(os.Getenv("ADMIN_EMAILS"), ","))
	resolver := access.NewResolver(dir, admins, logger)
	a.workflow = access.NewWorkflow(dir, resolver, categories, logger)
	a.issues = issues.NewService(issues.NewRepository(pool), storage.NoopUploader{}, nil, issues.Options{
		Categories: categories,
		Publisher:  bus,
		Logger:     logger,
	})
	a.policy = assignment.NewPolicy(a.issues, dir, logger)
	return a, nil
}

func printJSON(w io.Writer, v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(encoded))
	return err
}
