package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/gestaozabele/manutencao/internal/access"
	"github.com/gestaozabele/manutencao/internal/assignment"
	"github.com/gestaozabele/manutencao/internal/auth"
	"github.com/gestaozabele/manutencao/internal/classify"
	"github.com/gestaozabele/manutencao/internal/config"
	"github.com/gestaozabele/manutencao/internal/directory"
	"github.com/gestaozabele/manutencao/internal/directory/directorytest"
	"github.com/gestaozabele/manutencao/internal/events"
	"github.com/gestaozabele/manutencao/internal/identity"
	"github.com/gestaozabele/manutencao/internal/issues"
	"github.com/gestaozabele/manutencao/internal/issues/issuestest"
	"github.com/gestaozabele/manutencao/internal/service"
	"github.com/gestaozabele/manutencao/internal/session"
	"github.com/gestaozabele/manutencao/internal/storage"
)

const (
	testSecret = "0123456789abcdef0123456789abcdef"
	adminEmail = "chefe@example.com"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)

type stubAuth struct {
	resolver     *access.Resolver
	loginResult  *service.LoginResult
	refreshErr   error
	loggedOut    []string
	lastRefresh  string
	completeErr  error
	completeArgs [2]string
}

func (s *stubAuth) BeginLogin(ctx context.Context) (string, error) {
	return "https://idp.example.com/authorize?state=abc", nil
}

func (s *stubAuth) CompleteLogin(ctx context.Context, state, code string) (*service.LoginResult, error) {
	s.completeArgs = [2]string{state, code}
	if s.completeErr != nil {
		return nil, s.completeErr
	}
	return s.loginResult, nil
}

func (s *stubAuth) Refresh(ctx context.Context, rawToken string) (*service.LoginResult, error) {
	s.lastRefresh = rawToken
	if s.refreshErr != nil {
		return nil, s.refreshErr
	}
	return s.loginResult, nil
}

func (s *stubAuth) Logout(ctx context.Context, rawToken string) error {
	s.loggedOut = append(s.loggedOut, rawToken)
	return nil
}

func (s *stubAuth) Resolve(ctx context.Context, id identity.Identity) access.Resolution {
	return s.resolver.Resolve(ctx, id)
}

type memoryUploader struct {
	keys []string
}

func (u *memoryUploader) Upload(ctx context.Context, in storage.UploadInput) (*storage.UploadResult, error) {
	u.keys = append(u.keys, in.Key)
	return &storage.UploadResult{URL: "https://cdn.example.com/" + in.Key}, nil
}

type fixedClassifier struct{}

func (fixedClassifier) Classify(ctx context.Context, in classify.Input) classify.Result {
	c := 0.92
	return classify.Result{Category: "Plumbing", Confidence: &c, Strategy: classify.StrategyPrimary}
}

type testEnv struct {
	router   http.Handler
	dir      *directorytest.Memory
	store    *issuestest.Memory
	bus      *events.MemoryBus
	auth     *stubAuth
	jwt      *auth.JWTManager
	uploader *memoryUploader
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := &config.Config{
		AllowOrigins:    []string{"http://localhost:5173"},
		AdminEmails:     []string{adminEmail},
		RateLimitPublic: config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
		RateLimitAuth:   config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
		Categories:      []string{"Plumbing", "Electrical"},
		Storage:         config.StorageConfig{MaxImageBytes: 1 << 20},
	}
	if mutate != nil {
		mutate(cfg)
	}

	logger := zerolog.Nop()
	dir := directorytest.NewMemory()
	store := issuestest.NewMemory()
	bus := events.NewMemoryBus(logger)
	uploader := &memoryUploader{}

	resolver := access.NewResolver(dir, cfg.AdminEmails, logger)
	workflow := access.NewWorkflow(dir, resolver, cfg.Categories, logger)
	issueService := issues.NewService(store, uploader, fixedClassifier{}, issues.Options{
		Categories:    cfg.Categories,
		MaxImageBytes: cfg.Storage.MaxImageBytes,
		Publisher:     bus,
		Logger:        logger,
	})
	policy := assignment.NewPolicy(issueService, dir, logger)
	stub := &stubAuth{resolver: resolver}
	jwtMgr := auth.NewJWTManager(testSecret, time.Minute)

	router, err := NewRouter(Deps{
		Config:   cfg,
		Auth:     stub,
		JWT:      jwtMgr,
		Workflow: workflow,
		Issues:   issueService,
		Policy:   policy,
		Bus:      bus,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("router: %v", err)
	}

	return &testEnv{router: router, dir: dir, store: store, bus: bus, auth: stub, jwt: jwtMgr, uploader: uploader}
}

// token emite um JWT com a resolução atual da identidade, como faria o login.
func (e *testEnv) token(t *testing.T, id identity.Identity) string {
	t.Helper()
	res := e.auth.resolver.Resolve(context.Background(), id)
	token, _, err := e.jwt.GenerateAccessToken(session.Claims(id, res))
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) approve(id identity.Identity, role directory.Role, category string) {
	e.dir.SeedApproved(directory.ApprovedIdentity{
		IdentityID:         id.ID,
		Email:              id.Email,
		Role:               role,
		Status:             directory.StatusApproved,
		ContractorCategory: category,
		ApprovedAt:         time.Now().UTC(),
	})
}

func decodeData(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var env struct {
		Data  json.RawMessage `json:"data"`
		Error *ErrorBody      `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, rr.Body.String())
	}
	if dst != nil {
		if err := json.Unmarshal(env.Data, dst); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var env ErrorEnvelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil || env.Error == nil {
		t.Fatalf("expected error envelope, got %s", rr.Body.String())
	}
	return env.Error.Code
}

var (
	admin      = identity.Identity{ID: "sub-admin", Email: adminEmail, DisplayName: "Chefe"}
	reporter   = identity.Identity{ID: "sub-user", Email: "ana@example.com", DisplayName: "Ana"}
	plumber    = identity.Identity{ID: "sub-plumber", Email: "joao@example.com", DisplayName: "João"}
	electric   = identity.Identity{ID: "sub-electric", Email: "eva@example.com", DisplayName: "Eva"}
	newcomer   = identity.Identity{ID: "sub-new", Email: "novo@example.com", DisplayName: "Novo"}
	otherAdmin = identity.Identity{ID: "sub-admin-2", Email: "CHEFE@example.com"}
)

func TestHealthAndCategories(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("health: %d", rr.Code)
	}

	rr = env.do(t, http.MethodGet, "/v1/categories", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("categories without token: %d", rr.Code)
	}

	rr = env.do(t, http.MethodGet, "/v1/categories", env.token(t, newcomer), nil)
	var data struct {
		Categories []string `json:"categories"`
	}
	decodeData(t, rr, &data)
	if len(data.Categories) != 2 || data.Categories[0] != "Plumbing" {
		t.Fatalf("unexpected categories: %v", data.Categories)
	}
}

func TestAccessRequestLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	newToken := env.token(t, newcomer)

	rr := env.do(t, http.MethodPost, "/v1/access/requests", newToken, map[string]string{"role": "contractor"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("contractor without category: %d", rr.Code)
	}

	rr = env.do(t, http.MethodPost, "/v1/access/requests", newToken, map[string]string{"role": "contractor", "category": "Carpentry"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("category outside catalog: %d", rr.Code)
	}

	rr = env.do(t, http.MethodPost, "/v1/access/requests", newToken, map[string]string{"role": "contractor", "category": "Plumbing"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("submit: %d %s", rr.Code, rr.Body.String())
	}
	var submitted struct {
		Created    bool                       `json:"created"`
		Request    *directory.ApprovalRequest `json:"request"`
		Resolution access.Resolution          `json:"resolution"`
	}
	decodeData(t, rr, &submitted)
	if !submitted.Created || submitted.Request == nil || submitted.Resolution.Outcome != access.OutcomePending {
		t.Fatalf("unexpected submit result: %+v", submitted)
	}

	// Segunda reivindicação não cria nada.
	rr = env.do(t, http.MethodPost, "/v1/access/requests", newToken, map[string]string{"role": "user"})
	if rr.Code != http.StatusOK {
		t.Fatalf("second submit: %d", rr.Code)
	}

	rr = env.do(t, http.MethodGet, "/v1/admin/requests", newToken, nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("non-admin listing requests: %d", rr.Code)
	}

	adminToken := env.token(t, admin)
	rr = env.do(t, http.MethodGet, "/v1/admin/requests?kind=contractor&status=waiting_approval", adminToken, nil)
	var listed struct {
		Requests []directory.ApprovalRequest `json:"requests"`
	}
	decodeData(t, rr, &listed)
	if len(listed.Requests) != 1 {
		t.Fatalf("expected 1 pending request, got %d", len(listed.Requests))
	}

	path := "/v1/admin/requests/contractor/" + listed.Requests[0].ID.String() + "/decision"
	rr = env.do(t, http.MethodPost, path, adminToken, map[string]any{})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("decision without approve flag: %d", rr.Code)
	}
	rr = env.do(t, http.MethodPost, path, adminToken, map[string]any{"approve": true})
	if rr.Code != http.StatusOK {
		t.Fatalf("decide: %d %s", rr.Code, rr.Body.String())
	}
	rr = env.do(t, http.MethodPost, path, adminToken, map[string]any{"approve": false})
	if rr.Code != http.StatusConflict || errorCode(t, rr) != "ALREADY_DECIDED" {
		t.Fatalf("expected ALREADY_DECIDED, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodGet, "/v1/me", newToken, nil)
	var me struct {
		Resolution access.Resolution `json:"resolution"`
		Stale      bool              `json:"stale"`
	}
	decodeData(t, rr, &me)
	if me.Resolution.Outcome != access.OutcomeApproved || me.Resolution.Category != "Plumbing" || !me.Stale {
		t.Fatalf("unexpected me: %+v", me)
	}

	rr = env.do(t, http.MethodGet, "/v1/admin/identities?role=contractor", adminToken, nil)
	var ids struct {
		Identities []directory.ApprovedIdentity `json:"identities"`
	}
	decodeData(t, rr, &ids)
	if len(ids.Identities) != 1 || ids.Identities[0].Email != newcomer.Email {
		t.Fatalf("unexpected identities: %+v", ids.Identities)
	}

	rr = env.do(t, http.MethodDelete, "/v1/admin/identities/"+newcomer.ID, adminToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete identity: %d", rr.Code)
	}
	rr = env.do(t, http.MethodDelete, "/v1/admin/identities/"+newcomer.ID, adminToken, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second delete: %d", rr.Code)
	}
}

func TestAccessRequestContractorEmailCollision(t *testing.T) {
	env := newTestEnv(t, nil)
	env.approve(identity.Identity{ID: "old-account", Email: "ana@example.com"}, directory.RoleUser, "")

	rr := env.do(t, http.MethodPost, "/v1/access/requests", env.token(t, identity.Identity{ID: "fresh", Email: "ana@example.com"}),
		map[string]string{"role": "contractor", "category": "Plumbing"})
	if rr.Code != http.StatusConflict || errorCode(t, rr) != "EMAIL_COLLISION" {
		t.Fatalf("expected EMAIL_COLLISION, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestAccessRequestAdminMismatchBecomesUser(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPost, "/v1/access/requests", env.token(t, newcomer), map[string]string{"role": "admin"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("submit: %d", rr.Code)
	}
	var data struct {
		Notice  string                     `json:"notice"`
		Request *directory.ApprovalRequest `json:"request"`
	}
	decodeData(t, rr, &data)
	if data.Notice == "" || data.Request == nil || data.Request.Role != directory.RoleUser {
		t.Fatalf("unexpected mismatch result: %+v", data)
	}
}

func multipartIssue(t *testing.T, description string, image []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("description", description); err != nil {
		t.Fatal(err)
	}
	if image != nil {
		part, err := mw.CreateFormFile("image", "foto.png")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write(image); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func (e *testEnv) submitIssue(t *testing.T, token, description string, image []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartIssue(t, description, image)
	req := httptest.NewRequest(http.MethodPost, "/v1/issues", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func TestCreateIssue(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.submitIssue(t, env.token(t, newcomer), "vazamento", pngBytes)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("pending identity creating issue: %d", rr.Code)
	}

	env.approve(reporter, directory.RoleUser, "")
	token := env.token(t, reporter)

	rr = env.submitIssue(t, token, "  ", pngBytes)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("blank description: %d", rr.Code)
	}
	rr = env.submitIssue(t, token, "vazamento", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing image: %d", rr.Code)
	}
	rr = env.submitIssue(t, token, "vazamento", []byte("texto simples, não é imagem"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("non-image: %d", rr.Code)
	}

	rr = env.submitIssue(t, token, "vazamento na pia", pngBytes)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rr.Code, rr.Body.String())
	}
	var created struct {
		Issue issues.Issue `json:"issue"`
	}
	decodeData(t, rr, &created)
	if created.Issue.Status != issues.StatusOpen || created.Issue.Category != "Plumbing" ||
		created.Issue.ReporterEmail != reporter.Email || !strings.HasPrefix(created.Issue.ImageRef, "https://cdn.example.com/issues/") {
		t.Fatalf("unexpected issue: %+v", created.Issue)
	}
	if len(env.uploader.keys) != 1 {
		t.Fatalf("expected 1 upload, got %d", len(env.uploader.keys))
	}

	rr = env.do(t, http.MethodGet, "/v1/issues/mine", token, nil)
	var mine struct {
		Issues []issues.Issue `json:"issues"`
	}
	decodeData(t, rr, &mine)
	if len(mine.Issues) != 1 || mine.Issues[0].ID != created.Issue.ID {
		t.Fatalf("unexpected mine: %+v", mine.Issues)
	}
}

func TestCreateIssueRejectsOversizedImage(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.Storage.MaxImageBytes = 32 })
	env.approve(reporter, directory.RoleUser, "")

	rr := env.submitIssue(t, env.token(t, reporter), "vazamento", pngBytes)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
}

func TestAssignmentAndStatusFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	env.approve(plumber, directory.RoleContractor, "Plumbing")
	env.approve(electric, directory.RoleContractor, "Electrical")
	issue := env.store.Seed(issues.Issue{Category: "Plumbing", Description: "cano", ReporterIdentityID: reporter.ID})
	orphan := env.store.Seed(issues.Issue{Category: "Gardening", Description: "grama"})

	adminToken := env.token(t, admin)
	plumberToken := env.token(t, plumber)
	electricToken := env.token(t, electric)

	rr := env.do(t, http.MethodPost, "/v1/admin/issues/"+issue.ID.String()+"/assign", adminToken,
		map[string]string{"contractor_email": electric.Email})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("assign to non-candidate: %d", rr.Code)
	}

	rr = env.do(t, http.MethodPost, "/v1/admin/issues/auto-assign", adminToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("auto-assign all: %d", rr.Code)
	}
	var batch struct {
		Report assignment.BatchReport `json:"report"`
	}
	decodeData(t, rr, &batch)
	if batch.Report.Assigned != 1 || batch.Report.Failed != 1 {
		t.Fatalf("unexpected report: %+v", batch.Report)
	}

	rr = env.do(t, http.MethodPost, "/v1/admin/issues/"+orphan.ID.String()+"/auto-assign", adminToken, nil)
	if rr.Code != http.StatusConflict || errorCode(t, rr) != "NO_MATCHING_CONTRACTOR" {
		t.Fatalf("expected NO_MATCHING_CONTRACTOR, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodGet, "/v1/contractor/issues", plumberToken, nil)
	var assigned struct {
		Issues []issues.Issue `json:"issues"`
	}
	decodeData(t, rr, &assigned)
	if len(assigned.Issues) != 1 || assigned.Issues[0].Status != issues.StatusAssigned {
		t.Fatalf("unexpected contractor issues: %+v", assigned.Issues)
	}

	statusPath := "/v1/contractor/issues/" + issue.ID.String() + "/status"
	rr = env.do(t, http.MethodPatch, statusPath, electricToken, map[string]string{"status": "In Progress"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("other contractor updating status: %d", rr.Code)
	}
	rr = env.do(t, http.MethodPatch, statusPath, plumberToken, map[string]string{"status": "in_progress"})
	if rr.Code != http.StatusOK {
		t.Fatalf("contractor progress: %d %s", rr.Code, rr.Body.String())
	}
	rr = env.do(t, http.MethodPatch, statusPath, plumberToken, map[string]string{"status": "Open"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("contractor moving backwards: %d", rr.Code)
	}
	rr = env.do(t, http.MethodPatch, statusPath, plumberToken, map[string]string{"status": "Resolved"})
	if rr.Code != http.StatusOK {
		t.Fatalf("contractor resolve: %d", rr.Code)
	}

	rr = env.do(t, http.MethodPatch, "/v1/admin/issues/"+issue.ID.String()+"/status", adminToken, map[string]string{"status": "Open"})
	if rr.Code != http.StatusOK {
		t.Fatalf("admin reopen: %d", rr.Code)
	}
	// Reaberto, mas ainda com prestador: a atribuição automática não sobrescreve.
	rr = env.do(t, http.MethodPost, "/v1/admin/issues/"+issue.ID.String()+"/auto-assign", adminToken, nil)
	if rr.Code != http.StatusConflict || errorCode(t, rr) != "NOT_ASSIGNABLE" {
		t.Fatalf("expected NOT_ASSIGNABLE, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodGet, "/v1/contractor/issues", env.token(t, reporter), nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("non-contractor listing contractor issues: %d", rr.Code)
	}

	rr = env.do(t, http.MethodPatch, "/v1/admin/issues/not-a-uuid/status", adminToken, map[string]string{"status": "Open"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid id: %d", rr.Code)
	}
	rr = env.do(t, http.MethodPost, "/v1/admin/issues/"+uuid.NewString()+"/auto-assign", adminToken, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown issue: %d", rr.Code)
	}
}

func TestReviewAndStats(t *testing.T) {
	env := newTestEnv(t, nil)
	issue := env.store.Seed(issues.Issue{Category: "General", Description: "?", NeedsReview: true, ClassifiedBy: issues.StrategyDefault})
	adminToken := env.token(t, admin)

	rr := env.do(t, http.MethodGet, "/v1/admin/issues?needs_review=true", adminToken, nil)
	var listed struct {
		Issues []issues.Issue `json:"issues"`
	}
	decodeData(t, rr, &listed)
	if len(listed.Issues) != 1 {
		t.Fatalf("expected 1 issue needing review, got %d", len(listed.Issues))
	}

	rr = env.do(t, http.MethodPost, "/v1/admin/issues/"+issue.ID.String()+"/review", adminToken, map[string]string{"category": "Masonry"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("review with unknown category: %d", rr.Code)
	}
	rr = env.do(t, http.MethodPost, "/v1/admin/issues/"+issue.ID.String()+"/review", adminToken, map[string]string{"category": "Electrical"})
	if rr.Code != http.StatusOK {
		t.Fatalf("review: %d %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodGet, "/v1/admin/stats", adminToken, nil)
	var stats struct {
		Stats issues.Stats `json:"stats"`
	}
	decodeData(t, rr, &stats)
	if stats.Stats.Total != 1 || stats.Stats.NeedsReview != 0 {
		t.Fatalf("unexpected stats: %+v", stats.Stats)
	}
}

func TestAdminAllowListIsCaseInsensitive(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodGet, "/v1/admin/stats", env.token(t, otherAdmin), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected admin access, got %d", rr.Code)
	}
}

func TestRefreshAndLogout(t *testing.T) {
	env := newTestEnv(t, nil)
	env.auth.loginResult = &service.LoginResult{
		AccessToken:   "access-2",
		RefreshToken:  "refresh-2",
		RefreshExpiry: time.Now().Add(time.Hour),
		Identity:      reporter,
		Resolution:    access.Resolution{Outcome: access.OutcomeNew},
	}

	rr := env.do(t, http.MethodPost, "/v1/auth/refresh", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("refresh without cookie: %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: refreshCookieName, Value: "refresh-1"})
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh: %d", rr.Code)
	}
	if env.auth.lastRefresh != "refresh-1" {
		t.Fatalf("refresh token not forwarded: %q", env.auth.lastRefresh)
	}
	var login loginResponse
	decodeData(t, rr, &login)
	if login.AccessToken != "access-2" || login.ExpiresIn != 60 {
		t.Fatalf("unexpected login response: %+v", login)
	}
	cookie := findCookie(rr.Result().Cookies(), refreshCookieName)
	if cookie == nil || cookie.Value != "refresh-2" || !cookie.HttpOnly {
		t.Fatalf("unexpected refresh cookie: %+v", cookie)
	}
	// localhost na allow-list ativa cookies de desenvolvimento.
	if cookie.Secure || cookie.SameSite != http.SameSiteLaxMode {
		t.Fatalf("expected dev cookie, got %+v", cookie)
	}

	env.auth.refreshErr = service.ErrRefreshInvalid
	req = httptest.NewRequest(http.MethodPost, "/v1/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: refreshCookieName, Value: "stale"})
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("invalid refresh: %d", rr.Code)
	}
	if c := findCookie(rr.Result().Cookies(), refreshCookieName); c == nil || c.MaxAge >= 0 {
		t.Fatalf("expected cookie cleared, got %+v", c)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: refreshCookieName, Value: "refresh-2"})
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || len(env.auth.loggedOut) != 1 || env.auth.loggedOut[0] != "refresh-2" {
		t.Fatalf("logout: %d %v", rr.Code, env.auth.loggedOut)
	}
}

func TestLoginAndCallback(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.OIDC.PostLoginURL = "http://localhost:5173/app" })
	env.auth.loginResult = &service.LoginResult{
		AccessToken:   "access",
		RefreshToken:  "refresh",
		RefreshExpiry: time.Now().Add(time.Hour),
		Identity:      reporter,
	}

	rr := env.do(t, http.MethodGet, "/v1/auth/login", "", nil)
	if rr.Code != http.StatusFound || !strings.HasPrefix(rr.Header().Get("Location"), "https://idp.example.com/") {
		t.Fatalf("login redirect: %d %s", rr.Code, rr.Header().Get("Location"))
	}

	rr = env.do(t, http.MethodGet, "/v1/auth/callback?state=s1&code=c1", "", nil)
	if rr.Code != http.StatusFound || rr.Header().Get("Location") != "http://localhost:5173/app" {
		t.Fatalf("callback redirect: %d %s", rr.Code, rr.Header().Get("Location"))
	}
	if env.auth.completeArgs != [2]string{"s1", "c1"} {
		t.Fatalf("unexpected callback args: %v", env.auth.completeArgs)
	}
	if c := findCookie(rr.Result().Cookies(), refreshCookieName); c == nil || c.Value != "refresh" {
		t.Fatalf("expected refresh cookie, got %+v", c)
	}

	env.auth.completeErr = identity.ErrLoginExpired
	rr = env.do(t, http.MethodGet, "/v1/auth/callback?state=s1&code=c1", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("replayed state: %d", rr.Code)
	}

	env.auth.completeErr = errors.New("redis fora do ar")
	rr = env.do(t, http.MethodGet, "/v1/auth/callback?state=s1&code=c1", "", nil)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("internal failure: %d", rr.Code)
	}

	rr = env.do(t, http.MethodGet, "/v1/auth/callback?error=access_denied", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("provider error: %d", rr.Code)
	}
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestLiveDeliversOnlyVisibleEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	env.approve(reporter, directory.RoleUser, "")

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/live?access_token=" + env.token(t, reporter)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg liveMessage
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != "connected" {
		t.Fatalf("expected connected message, got %+v (%v)", msg, err)
	}

	ctx := context.Background()
	other := uuid.New()
	mine := uuid.New()
	if err := env.bus.Publish(ctx, events.Event{Type: events.TypeIssueCreated, IssueID: other, ReporterID: "someone-else"}); err != nil {
		t.Fatal(err)
	}
	if err := env.bus.Publish(ctx, events.Event{Type: events.TypeIssueAssigned, IssueID: mine, ReporterID: reporter.ID}); err != nil {
		t.Fatal(err)
	}

	msg = liveMessage{}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if msg.Type != "event" || msg.Event == nil || msg.Event.IssueID != mine {
		t.Fatalf("unexpected event: %+v", msg)
	}
}

func TestLiveRejectsPendingIdentity(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/live?access_token=" + env.token(t, newcomer)
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}
}
