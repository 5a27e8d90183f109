package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinsight-health/clinsight-engine/pkg/apperrors"
	"github.com/clinsight-health/clinsight-engine/pkg/models"
	"github.com/clinsight-health/clinsight-engine/pkg/repositories"
	"github.com/clinsight-health/clinsight-engine/pkg/sqlshape"
)

// TemplateLifecycleService manages the draft -> approved -> deprecated
// lifecycle of query templates. The store never holds a template whose
// content fails its own validation rules.
type TemplateLifecycleService interface {
	CreateDraft(ctx context.Context, candidate *TemplateCandidate, createdBy string) (*models.TemplateRecord, error)
	UpdateDraft(ctx context.Context, id uuid.UUID, candidate *TemplateCandidate) (*models.TemplateRecord, error)
	Publish(ctx context.Context, id uuid.UUID) error
	Deprecate(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.TemplateRecord, error)
	GetByName(ctx context.Context, name string, intent models.TemplateIntent) (*models.TemplateRecord, error)
	List(ctx context.Context, status *models.TemplateStatus) ([]*models.TemplateRecord, error)
	RecordUsage(ctx context.Context, versionID uuid.UUID, success bool) error
}

type templateLifecycleService struct {
	repo    repositories.TemplateRepository
	catalog TemplateCatalog
	logger  *zap.Logger
}

// NewTemplateLifecycleService creates a new TemplateLifecycleService.
func NewTemplateLifecycleService(repo repositories.TemplateRepository, catalog TemplateCatalog, logger *zap.Logger) TemplateLifecycleService {
	return &templateLifecycleService{
		repo:    repo,
		catalog: catalog,
		logger:  logger.Named("template-lifecycle"),
	}
}

var _ TemplateLifecycleService = (*templateLifecycleService)(nil)

// normalizeCandidate re-runs coverage and list normalization so stored
// content is structurally guaranteed regardless of how the candidate was
// produced. Returns the validation result for gating.
func normalizeCandidate(candidate *TemplateCandidate) sqlshape.ValidationResult {
	candidate.SQLPattern = strings.TrimSpace(candidate.SQLPattern)
	candidate.PlaceholdersSpec = sqlshape.EnsureCoverage(candidate.PlaceholdersSpec, candidate.SQLPattern)
	candidate.Keywords = sqlshape.NormalizeStringList(candidate.Keywords)
	candidate.Tags = sqlshape.NormalizeStringList(candidate.Tags)
	candidate.Examples = sqlshape.NormalizeStringList(candidate.Examples)

	return sqlshape.ValidateTemplate(sqlshape.ValidateInput{
		SQLPattern:       candidate.SQLPattern,
		PlaceholdersSpec: candidate.PlaceholdersSpec,
	})
}

func validateCandidateRequest(candidate *TemplateCandidate) error {
	if strings.TrimSpace(candidate.Name) == "" {
		return &apperrors.ValidationRequestError{Field: "name", Message: "must not be empty"}
	}
	if strings.TrimSpace(candidate.SQLPattern) == "" {
		return &apperrors.ValidationRequestError{Field: "sqlPattern", Message: "must not be empty"}
	}
	if !models.IsValidTemplateIntent(candidate.Intent) {
		return &apperrors.ValidationRequestError{Field: "intent", Message: fmt.Sprintf("unknown intent %q", candidate.Intent)}
	}
	return nil
}

func (s *templateLifecycleService) CreateDraft(ctx context.Context, candidate *TemplateCandidate, createdBy string) (*models.TemplateRecord, error) {
	if err := validateCandidateRequest(candidate); err != nil {
		return nil, err
	}

	validation := normalizeCandidate(candidate)
	if !validation.Valid {
		return nil, &apperrors.TemplateValidationError{Result: validation}
	}

	template := &models.Template{
		Name:        strings.TrimSpace(candidate.Name),
		Intent:      candidate.Intent,
		Description: candidate.Description,
		Status:      models.TemplateStatusDraft,
		CreatedBy:   createdBy,
	}
	version := &models.TemplateVersion{
		Version:          1,
		SQLPattern:       candidate.SQLPattern,
		PlaceholdersSpec: candidate.PlaceholdersSpec,
		Keywords:         candidate.Keywords,
		Tags:             candidate.Tags,
		Examples:         candidate.Examples,
	}

	if err := s.repo.Create(ctx, template, version); err != nil {
		return nil, err
	}

	s.logger.Info("Created draft template",
		zap.String("template_id", template.ID.String()),
		zap.String("name", template.Name),
		zap.String("intent", string(template.Intent)),
		zap.Int("validation_warnings", len(validation.Warnings)))

	return &models.TemplateRecord{Template: template, Version: version}, nil
}

func (s *templateLifecycleService) UpdateDraft(ctx context.Context, id uuid.UUID, candidate *TemplateCandidate) (*models.TemplateRecord, error) {
	if strings.TrimSpace(candidate.SQLPattern) == "" {
		return nil, &apperrors.ValidationRequestError{Field: "sqlPattern", Message: "must not be empty"}
	}

	validation := normalizeCandidate(candidate)
	if !validation.Valid {
		return nil, &apperrors.TemplateValidationError{Result: validation}
	}

	version := &models.TemplateVersion{
		SQLPattern:       candidate.SQLPattern,
		PlaceholdersSpec: candidate.PlaceholdersSpec,
		Keywords:         candidate.Keywords,
		Tags:             candidate.Tags,
		Examples:         candidate.Examples,
	}
	if err := s.repo.UpdateDraftVersion(ctx, id, version); err != nil {
		return nil, err
	}

	s.logger.Info("Updated draft template", zap.String("template_id", id.String()))
	return s.repo.GetByID(ctx, id)
}

func (s *templateLifecycleService) Publish(ctx context.Context, id uuid.UUID) error {
	err := s.repo.Publish(ctx, id, func(record *models.TemplateRecord) error {
		validation := sqlshape.ValidateTemplate(sqlshape.ValidateInput{
			SQLPattern:       record.Version.SQLPattern,
			PlaceholdersSpec: record.Version.PlaceholdersSpec,
		})
		if !validation.Valid {
			return &apperrors.TemplateValidationError{Result: validation}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Published template", zap.String("template_id", id.String()))
	s.catalog.Invalidate()
	if err := s.catalog.Reload(ctx); err != nil {
		s.logger.Warn("Catalog reload after publish failed", zap.Error(err))
	}
	return nil
}

func (s *templateLifecycleService) Deprecate(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.TransitionStatus(ctx, id, models.TemplateStatusDeprecated); err != nil {
		return err
	}

	s.logger.Info("Deprecated template", zap.String("template_id", id.String()))
	s.catalog.Invalidate()
	if err := s.catalog.Reload(ctx); err != nil {
		s.logger.Warn("Catalog reload after deprecate failed", zap.Error(err))
	}
	return nil
}

func (s *templateLifecycleService) GetByID(ctx context.Context, id uuid.UUID) (*models.TemplateRecord, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *templateLifecycleService) GetByName(ctx context.Context, name string, intent models.TemplateIntent) (*models.TemplateRecord, error) {
	return s.repo.GetByName(ctx, name, intent)
}

func (s *templateLifecycleService) List(ctx context.Context, status *models.TemplateStatus) ([]*models.TemplateRecord, error) {
	return s.repo.List(ctx, status)
}

func (s *templateLifecycleService) RecordUsage(ctx context.Context, versionID uuid.UUID, success bool) error {
	return s.repo.RecordUsage(ctx, versionID, success)
}
