package issues

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gestaozabele/manutencao/internal/classify"
	"github.com/gestaozabele/manutencao/internal/events"
	"github.com/gestaozabele/manutencao/internal/storage"
)

// Store abstrai a persistência de chamados.
type Store interface {
	Create(ctx context.Context, issue Issue) (*Issue, error)
	Get(ctx context.Context, id uuid.UUID) (*Issue, error)
	List(ctx context.Context, filter Filter) ([]Issue, error)
	Workload(ctx context.Context, emails []string) (map[string]int, error)
	Assign(ctx context.Context, id uuid.UUID, contractorEmail string, status Status, at time.Time) (*Issue, error)
	// AssignIfOpen atribui somente se o chamado ainda estiver Open e sem responsável;
	// caso contrário devolve ErrNotAssignable.
	AssignIfOpen(ctx context.Context, id uuid.UUID, contractorEmail string, at time.Time) (*Issue, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, at time.Time) (*Issue, error)
	MarkReviewed(ctx context.Context, id uuid.UUID, reviewer, category string, at time.Time) (*Issue, error)
	Stats(ctx context.Context) (Stats, error)
}

// Classifier é a cadeia de classificação; nunca falha.
type Classifier interface {
	Classify(ctx context.Context, in classify.Input) classify.Result
}

// Options agrupa dependências opcionais do serviço.
type Options struct {
	Categories    []string
	MaxImageBytes int64
	Publisher     events.Bus
	Logger        zerolog.Logger
}

// Service concentra as regras de negócio de chamados.
type Service struct {
	store      Store
	uploader   storage.Uploader
	classifier Classifier
	publisher  events.Bus
	categories map[string]struct{}
	maxBytes   int64
	logger     zerolog.Logger
	now        func() time.Time
}

// NewService cria o serviço de chamados.
func NewService(store Store, uploader storage.Uploader, classifier Classifier, opts Options) *Service {
	set := make(map[string]struct{}, len(opts.Categories))
	for _, c := range opts.Categories {
		set[c] = struct{}{}
	}
	return &Service{
		store:      store,
		uploader:   uploader,
		classifier: classifier,
		publisher:  opts.Publisher,
		categories: set,
		maxBytes:   opts.MaxImageBytes,
		logger:     opts.Logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Submit valida, envia a foto, classifica e grava o chamado como Open.
func (s *Service) Submit(ctx context.Context, reporter Reporter, description string, image []byte) (*Issue, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, ErrDescriptionMissing
	}
	if len(image) == 0 {
		return nil, ErrImageMissing
	}

	contentType, ext, err := storage.DetectImage(image, s.maxBytes)
	switch {
	case errors.Is(err, storage.ErrImageTooLarge):
		return nil, ErrImageTooLarge
	case errors.Is(err, storage.ErrUnsupportedImage):
		return nil, ErrImageType
	case errors.Is(err, storage.ErrEmptyImage):
		return nil, ErrImageMissing
	case err != nil:
		return nil, err
	}

	id := uuid.New()
	now := s.now()

	uploaded, err := s.uploader.Upload(ctx, storage.UploadInput{
		Key:          storage.ImageKey(now, id, ext),
		Body:         image,
		ContentType:  contentType,
		CacheControl: "public, max-age=31536000, immutable",
	})
	if err != nil {
		s.logger.Error().Err(err).Str("reporter", reporter.IdentityID).Msg("upload da foto falhou")
		return nil, fmt.Errorf("%w: %v", ErrUpload, err)
	}

	res := s.classifier.Classify(ctx, classify.Input{
		Description: description,
		Image:       image,
		ImageType:   contentType,
	})

	created, err := s.store.Create(ctx, Issue{
		ID:                 id,
		ReporterIdentityID: reporter.IdentityID,
		ReporterEmail:      strings.ToLower(strings.TrimSpace(reporter.Email)),
		ReporterName:       reporter.Name,
		ImageRef:           uploaded.URL,
		Description:        description,
		Category:           res.Category,
		Status:             StatusOpen,
		AIConfidence:       res.Confidence,
		ClassifiedBy:       Strategy(res.Strategy),
		NeedsReview:        res.NeedsReview,
		CreatedAt:          now,
	})
	if err != nil {
		return nil, fmt.Errorf("gravar chamado: %w", err)
	}

	s.logger.Info().Str("issue_id", created.ID.String()).Str("category", created.Category).
		Bool("needs_review", created.NeedsReview).Msg("chamado criado")
	s.publish(ctx, events.TypeIssueCreated, created)
	return created, nil
}

// Get devolve um chamado.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Issue, error) {
	return s.store.Get(ctx, id)
}

// ListForReporter lista os chamados abertos pela identidade.
func (s *Service) ListForReporter(ctx context.Context, identityID string) ([]Issue, error) {
	return s.store.List(ctx, Filter{ReporterIdentityID: identityID, Limit: 500})
}

// ListForContractor lista os chamados atribuídos ao prestador.
func (s *Service) ListForContractor(ctx context.Context, email string, statuses []Status) ([]Issue, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, ErrForbidden
	}
	return s.store.List(ctx, Filter{AssignedTo: email, Status: statuses, Limit: 500})
}

// ListAll lista chamados para o painel administrativo.
func (s *Service) ListAll(ctx context.Context, filter Filter) ([]Issue, error) {
	return s.store.List(ctx, filter)
}

// openPageSize é o maior limite aceito pelo store.
const openPageSize = 500

// ListOpenUnassigned devolve todos os chamados candidatos à atribuição automática,
// paginando até esgotar o conjunto.
func (s *Service) ListOpenUnassigned(ctx context.Context) ([]Issue, error) {
	var out []Issue
	for offset := 0; ; offset += openPageSize {
		page, err := s.store.List(ctx, Filter{
			Status:     []Status{StatusOpen},
			Unassigned: true,
			Limit:      openPageSize,
			Offset:     offset,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < openPageSize {
			return out, nil
		}
	}
}

// Workload conta chamados não resolvidos por e-mail de prestador.
func (s *Service) Workload(ctx context.Context, emails []string) (map[string]int, error) {
	return s.store.Workload(ctx, emails)
}

// Assign grava a atribuição; somente assignedTo, status e assignedAt mudam.
func (s *Service) Assign(ctx context.Context, id uuid.UUID, contractorEmail string) (*Issue, error) {
	issue, err := s.store.Assign(ctx, id, strings.ToLower(strings.TrimSpace(contractorEmail)), StatusAssigned, s.now())
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TypeIssueAssigned, issue)
	return issue, nil
}

// AssignOpen é a atribuição automática: não sobrescreve atribuição feita nesse meio tempo.
func (s *Service) AssignOpen(ctx context.Context, id uuid.UUID, contractorEmail string) (*Issue, error) {
	issue, err := s.store.AssignIfOpen(ctx, id, strings.ToLower(strings.TrimSpace(contractorEmail)), s.now())
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TypeIssueAssigned, issue)
	return issue, nil
}

// UpdateStatus altera o status. Admin pode qualquer status válido; prestador só
// avança os próprios chamados para In Progress ou Resolved.
func (s *Service) UpdateStatus(ctx context.Context, actor Actor, id uuid.UUID, status Status) (*Issue, error) {
	if _, ok := statusOrder[status]; !ok {
		return nil, ErrInvalidStatus
	}

	if !actor.Admin {
		current, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !strings.EqualFold(current.Assignee(), strings.TrimSpace(actor.Email)) || actor.Email == "" {
			return nil, ErrForbidden
		}
		if status != StatusInProgress && status != StatusResolved {
			return nil, ErrInvalidTransition
		}
		if !IsForward(current.Status, status) {
			return nil, ErrInvalidTransition
		}
	}

	issue, err := s.store.UpdateStatus(ctx, id, status, s.now())
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("issue_id", id.String()).Str("status", string(status)).Str("actor", actor.Email).
		Bool("admin", actor.Admin).Msg("status do chamado alterado")
	s.publish(ctx, events.TypeIssueStatusChanged, issue)
	return issue, nil
}

// Review confirma a classificação e opcionalmente corrige a categoria.
func (s *Service) Review(ctx context.Context, reviewer string, id uuid.UUID, category string) (*Issue, error) {
	category = strings.TrimSpace(category)
	if category != "" {
		if _, ok := s.categories[category]; !ok {
			return nil, ErrInvalidCategory
		}
	}
	issue, err := s.store.MarkReviewed(ctx, id, reviewer, category, s.now())
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TypeIssueReviewed, issue)
	return issue, nil
}

// Stats resume os chamados.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.store.Stats(ctx)
}

func (s *Service) publish(ctx context.Context, typ events.Type, issue *Issue) {
	if s.publisher == nil || issue == nil {
		return
	}
	err := s.publisher.Publish(ctx, events.Event{
		Type:       typ,
		IssueID:    issue.ID,
		ReporterID: issue.ReporterIdentityID,
		AssignedTo: issue.Assignee(),
		Status:     string(issue.Status),
		Category:   issue.Category,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("issue_id", issue.ID.String()).Str("event", string(typ)).Msg("falha ao publicar evento")
	}
}
