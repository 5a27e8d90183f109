package services

import (
	"context"
	"fmt"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinsight-health/clinsight-engine/pkg/adapters/datasource"
	"github.com/clinsight-health/clinsight-engine/pkg/apperrors"
	"github.com/clinsight-health/clinsight-engine/pkg/llm"
	"github.com/clinsight-health/clinsight-engine/pkg/models"
	"github.com/clinsight-health/clinsight-engine/pkg/repositories"
)

// FunnelRequest asks for the decomposition of a question against one
// assessment form version.
type FunnelRequest struct {
	AssessmentFormVersionFk uuid.UUID
	OriginalQuestion        string
	FormDefinition          string
	DatabaseSchemaContext   string
}

// FunnelResult pairs a funnel with its ordered sub-questions.
type FunnelResult struct {
	Funnel       *models.QueryFunnel   `json:"funnel"`
	SubQuestions []*models.SubQuestion `json:"sub_questions"`
	FromCache    bool                  `json:"from_cache"`
}

// FunnelService caches question decompositions. Lookups match the
// (form version, question) key exactly; a miss generates sub-questions
// through the AI provider and persists them.
type FunnelService interface {
	GetOrCreate(ctx context.Context, req *FunnelRequest) (*FunnelResult, error)
	// Regenerate supersedes any cached funnel for the key and creates a
	// fresh decomposition.
	Regenerate(ctx context.Context, req *FunnelRequest) (*FunnelResult, error)
	// AnnotateSubQuestion stores generated SQL and its structured notes on
	// one funnel step.
	AnnotateSubQuestion(ctx context.Context, subQuestion *models.SubQuestion) error
	// ExecuteSubQuestion runs an annotated step's SQL against the
	// reporting database and records the outcome.
	ExecuteSubQuestion(ctx context.Context, subQuestionID uuid.UUID, funnelID uuid.UUID, params map[string]any, limit int) (*datasource.QueryExecutionResult, error)
}

type funnelService struct {
	repo         repositories.FunnelRepository
	templateRepo repositories.TemplateRepository
	provider     llm.SubQuestionProvider
	executor     datasource.ReadOnlyExecutor
	logger       *zap.Logger
}

// NewFunnelService creates a new FunnelService. The executor may be nil when
// no reporting database is configured; ExecuteSubQuestion then fails with a
// request error.
func NewFunnelService(
	repo repositories.FunnelRepository,
	templateRepo repositories.TemplateRepository,
	provider llm.SubQuestionProvider,
	executor datasource.ReadOnlyExecutor,
	logger *zap.Logger,
) FunnelService {
	return &funnelService{
		repo:         repo,
		templateRepo: templateRepo,
		provider:     provider,
		executor:     executor,
		logger:       logger.Named("funnel"),
	}
}

var _ FunnelService = (*funnelService)(nil)

func (s *funnelService) GetOrCreate(ctx context.Context, req *FunnelRequest) (*FunnelResult, error) {
	question := strings.TrimSpace(req.OriginalQuestion)
	if question == "" {
		return nil, &apperrors.ValidationRequestError{Field: "originalQuestion", Message: "must not be empty"}
	}
	if req.AssessmentFormVersionFk == uuid.Nil {
		return nil, &apperrors.ValidationRequestError{Field: "assessmentFormVersionFk", Message: "must be set"}
	}

	funnel, err := s.repo.GetActive(ctx, req.AssessmentFormVersionFk, question)
	if err == nil {
		subQuestions, err := s.repo.GetSubQuestions(ctx, funnel.ID)
		if err != nil {
			return nil, err
		}
		s.logger.Debug("Funnel cache hit",
			zap.String("funnel_id", funnel.ID.String()),
			zap.Int("sub_questions", len(subQuestions)))
		return &FunnelResult{Funnel: funnel, SubQuestions: subQuestions, FromCache: true}, nil
	}
	if !apperrors.IsNotFound(err) {
		return nil, err
	}

	return s.generate(ctx, req, question)
}

func (s *funnelService) Regenerate(ctx context.Context, req *FunnelRequest) (*FunnelResult, error) {
	question := strings.TrimSpace(req.OriginalQuestion)
	if question == "" {
		return nil, &apperrors.ValidationRequestError{Field: "originalQuestion", Message: "must not be empty"}
	}
	if req.AssessmentFormVersionFk == uuid.Nil {
		return nil, &apperrors.ValidationRequestError{Field: "assessmentFormVersionFk", Message: "must be set"}
	}

	if err := s.repo.Supersede(ctx, req.AssessmentFormVersionFk, question); err != nil {
		return nil, err
	}
	return s.generate(ctx, req, question)
}

func (s *funnelService) generate(ctx context.Context, req *FunnelRequest, question string) (*FunnelResult, error) {
	generated, err := s.provider.GenerateSubQuestions(ctx, &llm.SubQuestionRequest{
		OriginalQuestion:        question,
		FormDefinition:          req.FormDefinition,
		DatabaseSchemaContext:   req.DatabaseSchemaContext,
		AssessmentFormVersionFk: req.AssessmentFormVersionFk,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate sub-questions: %w", err)
	}

	funnel := &models.QueryFunnel{
		AssessmentFormVersionFk: req.AssessmentFormVersionFk,
		OriginalQuestion:        question,
		Status:                  models.FunnelStatusActive,
	}
	subQuestions := make([]*models.SubQuestion, 0, len(generated.SubQuestions))
	for _, g := range generated.SubQuestions {
		subQuestions = append(subQuestions, &models.SubQuestion{
			QuestionText: g.QuestionText,
			Order:        g.Order,
			Status:       models.SubQuestionStatusPending,
		})
	}

	err = s.repo.Create(ctx, funnel, subQuestions)
	if apperrors.IsConflict(err) {
		// A concurrent request decomposed the same question first; adopt
		// its funnel.
		winner, err := s.repo.GetActive(ctx, req.AssessmentFormVersionFk, question)
		if err != nil {
			return nil, err
		}
		winnerSubs, err := s.repo.GetSubQuestions(ctx, winner.ID)
		if err != nil {
			return nil, err
		}
		s.logger.Debug("Adopted concurrently created funnel",
			zap.String("funnel_id", winner.ID.String()))
		return &FunnelResult{Funnel: winner, SubQuestions: winnerSubs, FromCache: true}, nil
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("Created funnel",
		zap.String("funnel_id", funnel.ID.String()),
		zap.String("form_version", req.AssessmentFormVersionFk.String()),
		zap.Int("sub_questions", len(subQuestions)))

	return &FunnelResult{Funnel: funnel, SubQuestions: subQuestions, FromCache: false}, nil
}

func (s *funnelService) AnnotateSubQuestion(ctx context.Context, subQuestion *models.SubQuestion) error {
	if subQuestion.ID == uuid.Nil {
		return &apperrors.ValidationRequestError{Field: "id", Message: "must be set"}
	}
	if subQuestion.Status == "" {
		subQuestion.Status = models.SubQuestionStatusGenerated
	}
	return s.repo.UpdateSubQuestion(ctx, subQuestion)
}

func (s *funnelService) ExecuteSubQuestion(ctx context.Context, subQuestionID uuid.UUID, funnelID uuid.UUID, params map[string]any, limit int) (*datasource.QueryExecutionResult, error) {
	if s.executor == nil {
		return nil, &apperrors.ValidationRequestError{Field: "reporting", Message: "reporting database is not configured"}
	}

	subQuestions, err := s.repo.GetSubQuestions(ctx, funnelID)
	if err != nil {
		return nil, err
	}
	var target *models.SubQuestion
	for _, sq := range subQuestions {
		if sq.ID == subQuestionID {
			target = sq
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("sub-question %s: %w", subQuestionID, apperrors.ErrNotFound)
	}
	if strings.TrimSpace(target.SQLQuery) == "" {
		return nil, &apperrors.ValidationRequestError{Field: "sqlQuery", Message: "sub-question has no SQL yet"}
	}

	// Parameter values come from callers, not from the model; scan string
	// values before they reach the reporting database.
	for name, value := range params {
		str, ok := value.(string)
		if !ok {
			continue
		}
		if injected, _ := libinjection.IsSQLi(str); injected {
			return nil, &apperrors.ValidationRequestError{
				Field:   name,
				Message: "parameter value looks like SQL injection",
			}
		}
	}

	result, err := s.executor.Query(ctx, target.SQLQuery, params, limit)
	if err != nil {
		note := fmt.Sprintf("execution failed: %v", err)
		target.Status = models.SubQuestionStatusFailed
		target.SQLValidationNotes = &note
		if updateErr := s.repo.UpdateSubQuestion(ctx, target); updateErr != nil {
			s.logger.Warn("Failed to record execution failure",
				zap.String("sub_question_id", subQuestionID.String()),
				zap.Error(updateErr))
		}
		s.recordTemplateUsage(ctx, target, false)
		return nil, fmt.Errorf("failed to execute sub-question: %w", err)
	}

	target.Status = models.SubQuestionStatusValidated
	if err := s.repo.UpdateSubQuestion(ctx, target); err != nil {
		s.logger.Warn("Failed to record execution success",
			zap.String("sub_question_id", subQuestionID.String()),
			zap.Error(err))
	}
	s.recordTemplateUsage(ctx, target, true)

	return result, nil
}

// recordTemplateUsage updates the matched template's usage counters when the
// sub-question was answered from a template.
func (s *funnelService) recordTemplateUsage(ctx context.Context, subQuestion *models.SubQuestion, success bool) {
	if subQuestion.SQLMatchedTemplate == nil {
		return
	}
	record, err := s.templateRepo.GetByID(ctx, *subQuestion.SQLMatchedTemplate)
	if err != nil {
		s.logger.Warn("Matched template lookup failed",
			zap.String("template_id", subQuestion.SQLMatchedTemplate.String()),
			zap.Error(err))
		return
	}
	if err := s.templateRepo.RecordUsage(ctx, record.Version.ID, success); err != nil {
		s.logger.Warn("Failed to record template usage",
			zap.String("template_id", record.Template.ID.String()),
			zap.Error(err))
	}
}
