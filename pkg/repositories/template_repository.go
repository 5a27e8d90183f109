package repositories

import (
	"context"
	"encoding/json"
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

// TemplateRepository provides data access for query templates and their
// versions.
type TemplateRepository interface {
	// Create inserts a template and its first version atomically.
	Create(ctx context.Context, template *models.Template, version *models.TemplateVersion) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.TemplateRecord, error)
	GetByName(ctx context.Context, name string, intent models.TemplateIntent) (*models.TemplateRecord, error)
	List(ctx context.Context, status *models.TemplateStatus) ([]*models.TemplateRecord, error)
	// UpdateDraftVersion rewrites the active version content of a draft
	// template in place.
	UpdateDraftVersion(ctx context.Context, templateID uuid.UUID, version *models.TemplateVersion) error
	// Publish flips a draft template to approved under a row lock. The gate
	// callback sees the stored record inside the transaction; returning an
	// error aborts the publish.
	Publish(ctx context.Context, id uuid.UUID, gate func(record *models.TemplateRecord) error) error
	// TransitionStatus moves a template to target under a row lock,
	// enforcing the status machine. Returns TemplateStateError when the
	// transition is not permitted.
	TransitionStatus(ctx context.Context, id uuid.UUID, target models.TemplateStatus) error
	// RecordUsage appends an execution log entry and increments the usage
	// counters of a version.
	RecordUsage(ctx context.Context, versionID uuid.UUID, success bool) error
}

type templateRepository struct {
	db *database.DB
}

// NewTemplateRepository creates a new TemplateRepository.
func NewTemplateRepository(db *database.DB) TemplateRepository {
	return &templateRepository{db: db}
}

var _ TemplateRepository = (*templateRepository)(nil)

func (r *templateRepository) Create(ctx context.Context, template *models.Template, version *models.TemplateVersion) error {
	now := time.Now()
	if template.ID == uuid.Nil {
		template.ID = uuid.New()
	}
	if version.ID == uuid.Nil {
		version.ID = uuid.New()
	}
	template.CreatedAt = now
	template.UpdatedAt = now
	version.TemplateID = template.ID
	version.CreatedAt = now
	version.UpdatedAt = now
	if version.Version == 0 {
		version.Version = 1
	}
	template.ActiveVersionID = version.ID

	specJSON, keywordsJSON, tagsJSON, examplesJSON, err := marshalVersionContent(version)
	if err != nil {
		return err
	}

	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO engine_templates (id, name, intent, description, status, created_by, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			template.ID, template.Name, template.Intent, template.Description,
			template.Status, template.CreatedBy, template.CreatedAt, template.UpdatedAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return fmt.Errorf("template %q with intent %q already exists: %w",
					template.Name, template.Intent, apperrors.ErrConflict)
			}
			return fmt.Errorf("failed to create template: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO engine_template_versions (
				id, template_id, version, sql_pattern, placeholders_spec,
				keywords, tags, examples, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			version.ID, version.TemplateID, version.Version, version.SQLPattern, specJSON,
			keywordsJSON, tagsJSON, examplesJSON, version.CreatedAt, version.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create template version: %w", err)
		}

		_, err = tx.Exec(ctx,
			"UPDATE engine_templates SET active_version_id = $2 WHERE id = $1",
			template.ID, version.ID)
		if err != nil {
			return fmt.Errorf("failed to set active version: %w", err)
		}
		return nil
	})
}

const templateRecordColumns = `
	t.id, t.name, t.intent, t.description, t.status, t.active_version_id, t.created_by, t.created_at, t.updated_at,
	v.id, v.template_id, v.version, v.sql_pattern, v.placeholders_spec,
	v.keywords, v.tags, v.examples, v.success_count, v.usage_count, v.created_at, v.updated_at`

func (r *templateRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.TemplateRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM engine_templates t
		JOIN engine_template_versions v ON v.id = t.active_version_id
		WHERE t.id = $1`, templateRecordColumns)

	record, err := scanTemplateRecord(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("template %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return record, nil
}

func (r *templateRepository) GetByName(ctx context.Context, name string, intent models.TemplateIntent) (*models.TemplateRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM engine_templates t
		JOIN engine_template_versions v ON v.id = t.active_version_id
		WHERE t.name = $1 AND t.intent = $2 AND t.status <> 'deprecated'`, templateRecordColumns)

	record, err := scanTemplateRecord(r.db.QueryRow(ctx, query, name, intent))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("template %q (%s): %w", name, intent, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get template by name: %w", err)
	}
	return record, nil
}

func (r *templateRepository) List(ctx context.Context, status *models.TemplateStatus) ([]*models.TemplateRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM engine_templates t
		JOIN engine_template_versions v ON v.id = t.active_version_id`, templateRecordColumns)
	args := []any{}
	if status != nil {
		query += " WHERE t.status = $1"
		args = append(args, *status)
	}
	query += " ORDER BY t.name, t.intent"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var records []*models.TemplateRecord
	for rows.Next() {
		record, err := scanTemplateRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read templates: %w", err)
	}
	return records, nil
}

func (r *templateRepository) UpdateDraftVersion(ctx context.Context, templateID uuid.UUID, version *models.TemplateVersion) error {
	specJSON, keywordsJSON, tagsJSON, examplesJSON, err := marshalVersionContent(version)
	if err != nil {
		return err
	}
	now := time.Now()

	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		var status models.TemplateStatus
		var activeVersionID uuid.UUID
		err := tx.QueryRow(ctx,
			"SELECT status, active_version_id FROM engine_templates WHERE id = $1 FOR UPDATE",
			templateID).Scan(&status, &activeVersionID)
		if err != nil {
			if err == pgx.ErrNoRows {
				return fmt.Errorf("template %s: %w", templateID, apperrors.ErrNotFound)
			}
			return fmt.Errorf("failed to lock template: %w", err)
		}
		if status != models.TemplateStatusDraft {
			return &apperrors.TemplateStateError{Current: string(status), Attempted: "update draft"}
		}

		tag, err := tx.Exec(ctx, `
			UPDATE engine_template_versions
			SET sql_pattern = $2, placeholders_spec = $3, keywords = $4, tags = $5, examples = $6, updated_at = $7
			WHERE id = $1`,
			activeVersionID, version.SQLPattern, specJSON, keywordsJSON, tagsJSON, examplesJSON, now)
		if err != nil {
			return fmt.Errorf("failed to update draft version: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("version %s: %w", activeVersionID, apperrors.ErrNotFound)
		}

		_, err = tx.Exec(ctx,
			"UPDATE engine_templates SET updated_at = $2 WHERE id = $1",
			templateID, now)
		if err != nil {
			return fmt.Errorf("failed to touch template: %w", err)
		}

		version.ID = activeVersionID
		version.TemplateID = templateID
		version.UpdatedAt = now
		return nil
	})
}

func (r *templateRepository) Publish(ctx context.Context, id uuid.UUID, gate func(record *models.TemplateRecord) error) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		query := fmt.Sprintf(`
			SELECT %s
			FROM engine_templates t
			JOIN engine_template_versions v ON v.id = t.active_version_id
			WHERE t.id = $1
			FOR UPDATE OF t`, templateRecordColumns)

		record, err := scanTemplateRecord(tx.QueryRow(ctx, query, id))
		if err != nil {
			if err == pgx.ErrNoRows {
				return fmt.Errorf("template %s: %w", id, apperrors.ErrNotFound)
			}
			return fmt.Errorf("failed to lock template: %w", err)
		}

		if record.Template.Status != models.TemplateStatusDraft {
			return &apperrors.TemplateStateError{
				Current:   string(record.Template.Status),
				Attempted: string(models.TemplateStatusApproved),
			}
		}
		if gate != nil {
			if err := gate(record); err != nil {
				return err
			}
		}

		_, err = tx.Exec(ctx,
			"UPDATE engine_templates SET status = $2, updated_at = $3 WHERE id = $1",
			id, models.TemplateStatusApproved, time.Now())
		if err != nil {
			return fmt.Errorf("failed to publish template: %w", err)
		}
		return nil
	})
}

func (r *templateRepository) TransitionStatus(ctx context.Context, id uuid.UUID, target models.TemplateStatus) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		var current models.TemplateStatus
		err := tx.QueryRow(ctx,
			"SELECT status FROM engine_templates WHERE id = $1 FOR UPDATE",
			id).Scan(&current)
		if err != nil {
			if err == pgx.ErrNoRows {
				return fmt.Errorf("template %s: %w", id, apperrors.ErrNotFound)
			}
			return fmt.Errorf("failed to lock template: %w", err)
		}

		// Deprecating twice is a no-op.
		if current == target && target == models.TemplateStatusDeprecated {
			return nil
		}
		if !current.CanTransitionTo(target) {
			return &apperrors.TemplateStateError{Current: string(current), Attempted: string(target)}
		}

		_, err = tx.Exec(ctx,
			"UPDATE engine_templates SET status = $2, updated_at = $3 WHERE id = $1",
			id, target, time.Now())
		if err != nil {
			return fmt.Errorf("failed to update template status: %w", err)
		}
		return nil
	})
}

func (r *templateRepository) RecordUsage(ctx context.Context, versionID uuid.UUID, success bool) error {
	successIncrement := 0
	if success {
		successIncrement = 1
	}

	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE engine_template_versions
			SET usage_count = usage_count + 1, success_count = success_count + $2, updated_at = $3
			WHERE id = $1`,
			versionID, successIncrement, time.Now())
		if err != nil {
			return fmt.Errorf("failed to record usage: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("version %s: %w", versionID, apperrors.ErrNotFound)
		}

		_, err = tx.Exec(ctx,
			"INSERT INTO engine_template_usage (template_version_id, success) VALUES ($1, $2)",
			versionID, success)
		if err != nil {
			return fmt.Errorf("failed to append usage log: %w", err)
		}
		return nil
	})
}

// marshalVersionContent serializes the JSONB columns of a version. A nil
// placeholders spec stays NULL in the database.
func marshalVersionContent(version *models.TemplateVersion) (spec, keywords, tags, examples []byte, err error) {
	if version.PlaceholdersSpec != nil {
		spec, err = json.Marshal(version.PlaceholdersSpec)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("failed to marshal placeholders_spec: %w", err)
		}
	}

	keywords, err = marshalStringList(version.Keywords)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal keywords: %w", err)
	}
	tags, err = marshalStringList(version.Tags)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal tags: %w", err)
	}
	examples, err = marshalStringList(version.Examples)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal examples: %w", err)
	}
	return spec, keywords, tags, examples, nil
}

func marshalStringList(list []string) ([]byte, error) {
	if list == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(list)
}

// scanTemplateRecord scans one joined template+version row.
func scanTemplateRecord(row pgx.Row) (*models.TemplateRecord, error) {
	var t models.Template
	var v models.TemplateVersion
	var specJSON, keywordsJSON, tagsJSON, examplesJSON []byte

	err := row.Scan(
		&t.ID, &t.Name, &t.Intent, &t.Description, &t.Status, &t.ActiveVersionID, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt,
		&v.ID, &v.TemplateID, &v.Version, &v.SQLPattern, &specJSON,
		&keywordsJSON, &tagsJSON, &examplesJSON, &v.SuccessCount, &v.UsageCount, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(specJSON) > 0 {
		var spec models.PlaceholdersSpec
		if err := json.Unmarshal(specJSON, &spec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal placeholders_spec: %w", err)
		}
		v.PlaceholdersSpec = &spec
	}
	if err := unmarshalStringList(keywordsJSON, &v.Keywords); err != nil {
		return nil, fmt.Errorf("failed to unmarshal keywords: %w", err)
	}
	if err := unmarshalStringList(tagsJSON, &v.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	if err := unmarshalStringList(examplesJSON, &v.Examples); err != nil {
		return nil, fmt.Errorf("failed to unmarshal examples: %w", err)
	}

	return &models.TemplateRecord{Template: &t, Version: &v}, nil
}

func unmarshalStringList(data []byte, dst *[]string) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}
