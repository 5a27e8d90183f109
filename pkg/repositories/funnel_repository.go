package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clinsight-health/clinsight-engine/pkg/apperrors"
	"github.com/clinsight-health/clinsight-engine/pkg/database"
	"github.com/clinsight-health/clinsight-engine/pkg/models"
)

// FunnelRepository provides data access for query funnels and their
// sub-questions.
type FunnelRepository interface {
	// Create inserts a funnel with its sub-questions atomically. When a
	// concurrent request already created an active funnel for the same
	// (form version, question) key, Create returns ErrConflict; callers
	// should re-read the winning funnel with GetActive.
	Create(ctx context.Context, funnel *models.QueryFunnel, subQuestions []*models.SubQuestion) error
	GetActive(ctx context.Context, formVersionFk uuid.UUID, originalQuestion string) (*models.QueryFunnel, error)
	GetSubQuestions(ctx context.Context, funnelID uuid.UUID) ([]*models.SubQuestion, error)
	UpdateSubQuestion(ctx context.Context, subQuestion *models.SubQuestion) error
	// Supersede marks the active funnel for the key as superseded so the
	// next lookup regenerates it.
	Supersede(ctx context.Context, formVersionFk uuid.UUID, originalQuestion string) error
}

type funnelRepository struct {
	db *database.DB
}

// NewFunnelRepository creates a new FunnelRepository.
func NewFunnelRepository(db *database.DB) FunnelRepository {
	return &funnelRepository{db: db}
}

var _ FunnelRepository = (*funnelRepository)(nil)

func (r *funnelRepository) Create(ctx context.Context, funnel *models.QueryFunnel, subQuestions []*models.SubQuestion) error {
	now := time.Now()
	if funnel.ID == uuid.Nil {
		funnel.ID = uuid.New()
	}
	if funnel.Status == "" {
		funnel.Status = models.FunnelStatusActive
	}
	funnel.CreatedDate = now
	funnel.LastModifiedDate = now

	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO engine_query_funnels (id, assessment_form_version_fk, original_question, status, created_date, last_modified_date)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			funnel.ID, funnel.AssessmentFormVersionFk, funnel.OriginalQuestion,
			funnel.Status, funnel.CreatedDate, funnel.LastModifiedDate,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				// Lost the race to a concurrent decomposition of the
				// same question.
				return fmt.Errorf("active funnel already exists: %w", apperrors.ErrConflict)
			}
			return fmt.Errorf("failed to create funnel: %w", err)
		}

		for _, sq := range subQuestions {
			if sq.ID == uuid.Nil {
				sq.ID = uuid.New()
			}
			sq.FunnelID = funnel.ID
			if sq.Status == "" {
				sq.Status = models.SubQuestionStatusPending
			}
			sq.CreatedDate = now
			sq.LastModifiedDate = now

			_, err := tx.Exec(ctx, `
				INSERT INTO engine_sub_questions (
					id, funnel_id, question_text, question_order, sql_query, status,
					sql_explanation, sql_validation_notes, sql_matched_template,
					created_date, last_modified_date
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
				sq.ID, sq.FunnelID, sq.QuestionText, sq.Order, sq.SQLQuery, sq.Status,
				sq.SQLExplanation, sq.SQLValidationNotes, sq.SQLMatchedTemplate,
				sq.CreatedDate, sq.LastModifiedDate,
			)
			if err != nil {
				return fmt.Errorf("failed to create sub-question %d: %w", sq.Order, err)
			}
		}
		return nil
	})
}

func (r *funnelRepository) GetActive(ctx context.Context, formVersionFk uuid.UUID, originalQuestion string) (*models.QueryFunnel, error) {
	var funnel models.QueryFunnel
	err := r.db.QueryRow(ctx, `
		SELECT id, assessment_form_version_fk, original_question, status, created_date, last_modified_date
		FROM engine_query_funnels
		WHERE assessment_form_version_fk = $1 AND original_question = $2 AND status = 'active'`,
		formVersionFk, originalQuestion,
	).Scan(&funnel.ID, &funnel.AssessmentFormVersionFk, &funnel.OriginalQuestion,
		&funnel.Status, &funnel.CreatedDate, &funnel.LastModifiedDate)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("active funnel: %w", apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get funnel: %w", err)
	}
	return &funnel, nil
}

func (r *funnelRepository) GetSubQuestions(ctx context.Context, funnelID uuid.UUID) ([]*models.SubQuestion, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, funnel_id, question_text, question_order, sql_query, status,
		       sql_explanation, sql_validation_notes, sql_matched_template,
		       created_date, last_modified_date
		FROM engine_sub_questions
		WHERE funnel_id = $1
		ORDER BY question_order`,
		funnelID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sub-questions: %w", err)
	}
	defer rows.Close()

	var subQuestions []*models.SubQuestion
	for rows.Next() {
		var sq models.SubQuestion
		err := rows.Scan(&sq.ID, &sq.FunnelID, &sq.QuestionText, &sq.Order, &sq.SQLQuery, &sq.Status,
			&sq.SQLExplanation, &sq.SQLValidationNotes, &sq.SQLMatchedTemplate,
			&sq.CreatedDate, &sq.LastModifiedDate)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sub-question: %w", err)
		}
		subQuestions = append(subQuestions, &sq)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sub-questions: %w", err)
	}
	return subQuestions, nil
}

func (r *funnelRepository) UpdateSubQuestion(ctx context.Context, subQuestion *models.SubQuestion) error {
	subQuestion.LastModifiedDate = time.Now()

	tag, err := r.db.Exec(ctx, `
		UPDATE engine_sub_questions
		SET sql_query = $2, status = $3, sql_explanation = $4, sql_validation_notes = $5,
		    sql_matched_template = $6, last_modified_date = $7
		WHERE id = $1`,
		subQuestion.ID, subQuestion.SQLQuery, subQuestion.Status,
		subQuestion.SQLExplanation, subQuestion.SQLValidationNotes,
		subQuestion.SQLMatchedTemplate, subQuestion.LastModifiedDate)
	if err != nil {
		return fmt.Errorf("failed to update sub-question: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sub-question %s: %w", subQuestion.ID, apperrors.ErrNotFound)
	}
	return nil
}

func (r *funnelRepository) Supersede(ctx context.Context, formVersionFk uuid.UUID, originalQuestion string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE engine_query_funnels
		SET status = 'superseded', last_modified_date = $3
		WHERE assessment_form_version_fk = $1 AND original_question = $2 AND status = 'active'`,
		formVersionFk, originalQuestion, time.Now())
	if err != nil {
		return fmt.Errorf("failed to supersede funnel: %w", err)
	}
	return nil
}
