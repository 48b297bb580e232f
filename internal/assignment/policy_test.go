package assignment

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gestaozabele/manutencao/internal/classify"
	"github.com/gestaozabele/manutencao/internal/directory"
	"github.com/gestaozabele/manutencao/internal/directory/directorytest"
	"github.com/gestaozabele/manutencao/internal/issues"
	"github.com/gestaozabele/manutencao/internal/issues/issuestest"
	"github.com/gestaozabele/manutencao/internal/storage"
)

type nopClassifier struct{}

func (nopClassifier) Classify(ctx context.Context, in classify.Input) classify.Result {
	return classify.Result{}
}

type fixture struct {
	dir    *directorytest.Memory
	store  *issuestest.Memory
	policy *Policy
	base   time.Time
	n      int
}

func newFixture() *fixture {
	dir := directorytest.NewMemory()
	store := issuestest.NewMemory()
	svc := issues.NewService(store, storage.NoopUploader{}, nopClassifier{}, issues.Options{Logger: zerolog.Nop()})
	return &fixture{
		dir:    dir,
		store:  store,
		policy: NewPolicy(svc, dir, zerolog.Nop()),
		base:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (f *fixture) contractor(email, category string, status directory.Status) {
	f.n++
	f.dir.SeedApproved(directory.ApprovedIdentity{
		IdentityID:         fmt.Sprintf("c%d", f.n),
		Email:              email,
		Role:               directory.RoleContractor,
		Status:             status,
		ContractorCategory: category,
		ApprovedAt:         f.base.Add(time.Duration(f.n) * time.Hour),
	})
}

func (f *fixture) issue(category string, status issues.Status, assignee string) issues.Issue {
	in := issues.Issue{Category: category, Status: status, Description: "x"}
	if assignee != "" {
		in.AssignedTo = &assignee
	}
	return f.store.Seed(in)
}

func (f *fixture) load(email string, n int) {
	for i := 0; i < n; i++ {
		f.issue("Plumbing", issues.StatusInProgress, email)
	}
}

func TestAutoAssignPicksLowestWorkload(t *testing.T) {
	f := newFixture()
	f.contractor("busy@example.com", "Plumbing", directory.StatusApproved)
	f.contractor("idle@example.com", "Plumbing", directory.StatusApproved)
	f.contractor("some@example.com", "Plumbing", directory.StatusApproved)
	f.load("busy@example.com", 2)
	f.load("some@example.com", 1)
	// Resolvidos não contam como carga.
	f.issue("Plumbing", issues.StatusResolved, "idle@example.com")

	target := f.issue("Plumbing", issues.StatusOpen, "")
	got, err := f.policy.AutoAssign(context.Background(), target.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Assignee() != "idle@example.com" || got.Status != issues.StatusAssigned {
		t.Fatalf("expected idle contractor, got %+v", got)
	}
}

func TestAutoAssignTieKeepsFirstCandidate(t *testing.T) {
	f := newFixture()
	f.contractor("zeta@example.com", "HVAC", directory.StatusApproved)
	f.contractor("alpha@example.com", "HVAC", directory.StatusApproved)

	target := f.issue("HVAC", issues.StatusOpen, "")
	got, err := f.policy.AutoAssign(context.Background(), target.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Assignee() != "zeta@example.com" {
		t.Fatalf("expected first approved contractor, got %s", got.Assignee())
	}
}

func TestAutoAssignIgnoresOtherCategoriesAndDenied(t *testing.T) {
	f := newFixture()
	f.contractor("electrician@example.com", "Electrical", directory.StatusApproved)
	f.contractor("denied@example.com", "Plumbing", directory.StatusDenied)
	f.contractor("lower@example.com", "plumbing", directory.StatusApproved)

	target := f.issue("Plumbing", issues.StatusOpen, "")
	if _, err := f.policy.AutoAssign(context.Background(), target.ID); !errors.Is(err, ErrNoMatchingContractor) {
		t.Fatalf("expected ErrNoMatchingContractor, got %v", err)
	}
	still, _ := f.store.Get(context.Background(), target.ID)
	if still.Status != issues.StatusOpen || still.Assignee() != "" {
		t.Fatalf("issue must remain open, got %+v", still)
	}
}

func TestAutoAssignAllReportsPartialFailures(t *testing.T) {
	f := newFixture()
	f.contractor("p1@example.com", "Plumbing", directory.StatusApproved)
	f.contractor("e1@example.com", "Electrical", directory.StatusApproved)

	f.issue("Plumbing", issues.StatusOpen, "")
	f.issue("Electrical", issues.StatusOpen, "")
	f.issue("Plumbing", issues.StatusOpen, "")
	f.issue("HVAC", issues.StatusOpen, "")
	f.issue("Pest Control", issues.StatusOpen, "")
	// Fora do lote: já atribuído.
	f.issue("Plumbing", issues.StatusOpen, "p1@example.com")

	report, err := f.policy.AutoAssignAll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Assigned != 3 || report.Failed != 2 || len(report.Results) != 5 {
		t.Fatalf("unexpected report %+v", report)
	}
	for _, r := range report.Results {
		failed := r.Category == "HVAC" || r.Category == "Pest Control"
		if failed != (r.Error != "") {
			t.Fatalf("unexpected result %+v", r)
		}
	}
}

func TestAutoAssignAllRecomputesWorkload(t *testing.T) {
	f := newFixture()
	f.contractor("a@example.com", "Plumbing", directory.StatusApproved)
	f.contractor("b@example.com", "Plumbing", directory.StatusApproved)
	for i := 0; i < 4; i++ {
		f.issue("Plumbing", issues.StatusOpen, "")
	}

	report, err := f.policy.AutoAssignAll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	counts := map[string]int{}
	for _, r := range report.Results {
		counts[r.AssignedTo]++
	}
	if counts["a@example.com"] != 2 || counts["b@example.com"] != 2 {
		t.Fatalf("expected balanced distribution, got %v", counts)
	}
}

func TestAutoAssignRejectsIssueNotOpen(t *testing.T) {
	f := newFixture()
	f.contractor("a@example.com", "Plumbing", directory.StatusApproved)
	resolved := f.issue("Plumbing", issues.StatusResolved, "b@example.com")
	progress := f.issue("Plumbing", issues.StatusInProgress, "")
	ctx := context.Background()

	for _, target := range []issues.Issue{resolved, progress} {
		if _, err := f.policy.AutoAssign(ctx, target.ID); !errors.Is(err, issues.ErrNotAssignable) {
			t.Fatalf("status %s: expected ErrNotAssignable, got %v", target.Status, err)
		}
		still, _ := f.store.Get(ctx, target.ID)
		if still.Status != target.Status || still.Assignee() != target.Assignee() {
			t.Fatalf("issue changed: %+v", still)
		}
	}
}

// concurrentManual simula uma atribuição manual entre a listagem e a gravação do lote.
type concurrentManual struct {
	*issues.Service
	target uuid.UUID
}

func (c concurrentManual) ListOpenUnassigned(ctx context.Context) ([]issues.Issue, error) {
	pending, err := c.Service.ListOpenUnassigned(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := c.Service.Assign(ctx, c.target, "manual@example.com"); err != nil {
		return nil, err
	}
	return pending, nil
}

func TestAutoAssignAllKeepsConcurrentManualAssignment(t *testing.T) {
	f := newFixture()
	f.contractor("a@example.com", "Plumbing", directory.StatusApproved)
	target := f.issue("Plumbing", issues.StatusOpen, "")
	other := f.issue("Plumbing", issues.StatusOpen, "")

	svc := issues.NewService(f.store, storage.NoopUploader{}, nopClassifier{}, issues.Options{Logger: zerolog.Nop()})
	policy := NewPolicy(concurrentManual{Service: svc, target: target.ID}, f.dir, zerolog.Nop())

	report, err := policy.AutoAssignAll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Assigned != 1 || report.Skipped != 1 || report.Failed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	for _, r := range report.Results {
		if r.IssueID == target.ID && (!r.Skipped || r.Error != "") {
			t.Fatalf("expected skipped result, got %+v", r)
		}
	}

	got, _ := f.store.Get(context.Background(), target.ID)
	if got.Assignee() != "manual@example.com" {
		t.Fatalf("manual assignment overwritten by %s", got.Assignee())
	}
	if got, _ := f.store.Get(context.Background(), other.ID); got.Assignee() != "a@example.com" {
		t.Fatalf("expected other issue auto assigned, got %+v", got)
	}
}

func TestAutoAssignAllReachesBeyondFirstPage(t *testing.T) {
	f := newFixture()
	f.contractor("a@example.com", "Plumbing", directory.StatusApproved)
	// Chamados antigos sem prestador não podem esconder os novos.
	for i := 0; i < 600; i++ {
		f.store.Seed(issues.Issue{Category: "HVAC", Status: issues.StatusOpen, Description: "x", CreatedAt: f.base.Add(time.Duration(i) * time.Second)})
	}
	fresh := f.issue("Plumbing", issues.StatusOpen, "")

	report, err := f.policy.AutoAssignAll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Results) != 601 || report.Assigned != 1 || report.Failed != 600 {
		t.Fatalf("unexpected report: assigned=%d failed=%d results=%d", report.Assigned, report.Failed, len(report.Results))
	}
	if got, _ := f.store.Get(context.Background(), fresh.ID); got.Assignee() != "a@example.com" {
		t.Fatalf("new issue was not assigned: %+v", got)
	}
}

func TestManualAssignRequiresCandidate(t *testing.T) {
	f := newFixture()
	f.contractor("plumber@example.com", "Plumbing", directory.StatusApproved)
	f.contractor("electrician@example.com", "Electrical", directory.StatusApproved)
	target := f.issue("Plumbing", issues.StatusOpen, "")
	ctx := context.Background()

	if _, err := f.policy.Assign(ctx, target.ID, "electrician@example.com"); !errors.Is(err, ErrNotCandidate) {
		t.Fatalf("expected ErrNotCandidate, got %v", err)
	}
	got, err := f.policy.Assign(ctx, target.ID, "PLUMBER@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Assignee() != "plumber@example.com" || got.Status != issues.StatusAssigned {
		t.Fatalf("unexpected issue %+v", got)
	}

	orphan := f.issue("HVAC", issues.StatusOpen, "")
	if _, err := f.policy.Assign(ctx, orphan.ID, "plumber@example.com"); !errors.Is(err, ErrNoMatchingContractor) {
		t.Fatalf("expected ErrNoMatchingContractor, got %v", err)
	}
}

func TestCandidatesLookupFailure(t *testing.T) {
	f := newFixture()
	f.dir.FailLookups = true
	target := f.issue("Plumbing", issues.StatusOpen, "")
	if _, err := f.policy.AutoAssign(context.Background(), target.ID); err == nil || errors.Is(err, ErrNoMatchingContractor) {
		t.Fatalf("expected lookup error, got %v", err)
	}
}
