package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/gestaozabele/manutencao/internal/access"
	"github.com/gestaozabele/manutencao/internal/assignment"
	"github.com/gestaozabele/manutencao/internal/auth"
	"github.com/gestaozabele/manutencao/internal/config"
	"github.com/gestaozabele/manutencao/internal/directory"
	"github.com/gestaozabele/manutencao/internal/events"
	httpmiddleware "github.com/gestaozabele/manutencao/internal/http/middleware"
	"github.com/gestaozabele/manutencao/internal/identity"
	"github.com/gestaozabele/manutencao/internal/issues"
	"github.com/gestaozabele/manutencao/internal/metrics"
	"github.com/gestaozabele/manutencao/internal/service"
)

// authFlow é o subconjunto de service.AuthService usado pelos handlers.
type authFlow interface {
	BeginLogin(ctx context.Context) (string, error)
	CompleteLogin(ctx context.Context, state, code string) (*service.LoginResult, error)
	Refresh(ctx context.Context, rawToken string) (*service.LoginResult, error)
	Logout(ctx context.Context, rawToken string) error
	Resolve(ctx context.Context, id identity.Identity) access.Resolution
}

type dbPinger interface {
	Ping(ctx context.Context) error
}

type redisPinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// Deps agrupa as dependências montadas em cmd/api.
type Deps struct {
	Config   *config.Config
	DB       dbPinger
	Redis    redisPinger
	Auth     authFlow
	JWT      *auth.JWTManager
	Workflow *access.Workflow
	Issues   *issues.Service
	Policy   *assignment.Policy
	Bus      events.Bus
	Logger   zerolog.Logger
}

type Handler struct {
	cfg           *config.Config
	db            dbPinger
	redis         redisPinger
	auth          authFlow
	jwt           *auth.JWTManager
	workflow      *access.Workflow
	issues        *issues.Service
	policy        *assignment.Policy
	bus           events.Bus
	upgrader      websocket.Upgrader
	origins       *httpmiddleware.Origins
	logger        zerolog.Logger
	publicLimiter *httpmiddleware.RateLimiter
	authLimiter   *httpmiddleware.RateLimiter
	devCookies    bool
}

// NewRouter devolve roteador configurado.
func NewRouter(deps Deps) (http.Handler, error) {
	switch {
	case deps.Config == nil:
		return nil, errors.New("router: configuração ausente")
	case deps.Auth == nil || deps.JWT == nil:
		return nil, errors.New("router: autenticação ausente")
	case deps.Workflow == nil || deps.Issues == nil || deps.Policy == nil:
		return nil, errors.New("router: serviços de domínio ausentes")
	case deps.Bus == nil:
		return nil, errors.New("router: barramento de eventos ausente")
	}

	cfg := deps.Config
	devCookies := false
	for _, origin := range cfg.AllowOrigins {
		if strings.Contains(origin, "localhost") {
			devCookies = true
			break
		}
	}

	h := &Handler{
		cfg:           cfg,
		db:            deps.DB,
		redis:         deps.Redis,
		auth:          deps.Auth,
		jwt:           deps.JWT,
		workflow:      deps.Workflow,
		issues:        deps.Issues,
		policy:        deps.Policy,
		bus:           deps.Bus,
		logger:        deps.Logger,
		publicLimiter: httpmiddleware.NewRateLimiter(cfg.RateLimitPublic.RequestsPerSecond, cfg.RateLimitPublic.Burst),
		authLimiter:   httpmiddleware.NewRateLimiter(cfg.RateLimitAuth.RequestsPerSecond, cfg.RateLimitAuth.Burst),
		devCookies:    devCookies,
		origins:       httpmiddleware.NewOrigins(cfg.AllowOrigins),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(httpmiddleware.Logging)
	r.Use(httpmiddleware.Recover)
	r.Use(httpmiddleware.CORS(h.origins))

	r.Group(func(public chi.Router) {
		public.Use(httpmiddleware.IPRateLimit(h.publicLimiter))

		public.Get("/health", h.Health)
		public.Get("/ready", h.Ready)
		public.Method(http.MethodGet, "/metrics", metrics.Handler())

		public.Route("/v1/auth", func(a chi.Router) {
			a.Get("/login", h.Login)
			a.Get("/callback", h.Callback)
			a.Post("/refresh", h.Refresh)
			a.Post("/logout", h.Logout)
		})
	})

	r.Group(func(private chi.Router) {
		private.Use(httpmiddleware.Auth(h.jwt))
		private.Use(httpmiddleware.UserRateLimit(h.authLimiter))

		private.Get("/v1/me", h.Me)
		private.Get("/v1/categories", h.ListCategories)
		private.Post("/v1/access/requests", h.SubmitAccessRequest)
		private.Get("/v1/live", h.Live)

		private.Group(func(approved chi.Router) {
			approved.Use(httpmiddleware.RequireAuthorized)
			approved.Post("/v1/issues", h.CreateIssue)
			approved.Get("/v1/issues/mine", h.ListMyIssues)
		})

		private.Route("/v1/contractor", func(c chi.Router) {
			c.Use(httpmiddleware.RequireRoles(directory.RoleContractor))
			c.Get("/issues", h.ListContractorIssues)
			c.Patch("/issues/{id}/status", h.UpdateContractorIssueStatus)
		})

		private.Route("/v1/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.RequireAdmin)
			admin.Get("/requests", h.ListAccessRequests)
			admin.Post("/requests/{kind}/{id}/decision", h.DecideAccessRequest)
			admin.Get("/identities", h.ListIdentities)
			admin.Delete("/identities/{id}", h.DeleteIdentity)
			admin.Get("/stats", h.IssueStats)
			admin.Route("/issues", func(i chi.Router) {
				i.Get("/", h.ListIssues)
				i.Post("/auto-assign", h.AutoAssignAll)
				i.Post("/{id}/assign", h.AssignIssue)
				i.Post("/{id}/auto-assign", h.AutoAssignIssue)
				i.Patch("/{id}/status", h.UpdateIssueStatus)
				i.Post("/{id}/review", h.ReviewIssue)
			})
		})
	})

	return r, nil
}

// Health responde status simples.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready valida conexões com Postgres e Redis.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	var dbErr, redisErr error
	if h.db != nil {
		dbErr = h.db.Ping(ctx)
	}
	if h.redis != nil {
		redisErr = h.redis.Ping(ctx).Err()
	}

	if dbErr != nil || redisErr != nil {
		WriteError(w, http.StatusServiceUnavailable, "INTERNAL", "dependências indisponíveis", map[string]any{
			"db":    errorString(dbErr),
			"redis": errorString(redisErr),
		})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]bool{"ready": true})
}

// ListCategories devolve o catálogo de especialidades.
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"categories": h.cfg.Categories})
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
