package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/clinsight-health/clinsight-engine/pkg/adapters/datasource"
	"github.com/clinsight-health/clinsight-engine/pkg/apperrors"
	"github.com/clinsight-health/clinsight-engine/pkg/models"
	"github.com/clinsight-health/clinsight-engine/pkg/repositories"
	"github.com/clinsight-health/clinsight-engine/pkg/sqlshape"
)

func validateInputFor(sqlPattern string) sqlshape.ValidateInput {
	return sqlshape.ValidateInput{SQLPattern: sqlPattern}
}

// fakeTemplateRepo is an in-memory TemplateRepository for service tests.
type fakeTemplateRepo struct {
	records map[uuid.UUID]*models.TemplateRecord

	createErr    error
	publishCalls int
	usageCalls   int
	lastUsage    struct {
		versionID uuid.UUID
		success   bool
	}
}

func newFakeTemplateRepo() *fakeTemplateRepo {
	return &fakeTemplateRepo{records: make(map[uuid.UUID]*models.TemplateRecord)}
}

var _ repositories.TemplateRepository = (*fakeTemplateRepo)(nil)

func (f *fakeTemplateRepo) Create(_ context.Context, template *models.Template, version *models.TemplateVersion) error {
	if f.createErr != nil {
		return f.createErr
	}
	for _, r := range f.records {
		if r.Template.Name == template.Name && r.Template.Intent == template.Intent &&
			r.Template.Status != models.TemplateStatusDeprecated {
			return fmt.Errorf("duplicate: %w", apperrors.ErrConflict)
		}
	}
	if template.ID == uuid.Nil {
		template.ID = uuid.New()
	}
	if version.ID == uuid.Nil {
		version.ID = uuid.New()
	}
	version.TemplateID = template.ID
	template.ActiveVersionID = version.ID
	f.records[template.ID] = &models.TemplateRecord{Template: template, Version: version}
	return nil
}

func (f *fakeTemplateRepo) GetByID(_ context.Context, id uuid.UUID) (*models.TemplateRecord, error) {
	record, ok := f.records[id]
	if !ok {
		return nil, fmt.Errorf("template %s: %w", id, apperrors.ErrNotFound)
	}
	return record, nil
}

func (f *fakeTemplateRepo) GetByName(_ context.Context, name string, intent models.TemplateIntent) (*models.TemplateRecord, error) {
	for _, r := range f.records {
		if r.Template.Name == name && r.Template.Intent == intent &&
			r.Template.Status != models.TemplateStatusDeprecated {
			return r, nil
		}
	}
	return nil, fmt.Errorf("template %q: %w", name, apperrors.ErrNotFound)
}

func (f *fakeTemplateRepo) List(_ context.Context, status *models.TemplateStatus) ([]*models.TemplateRecord, error) {
	var out []*models.TemplateRecord
	for _, r := range f.records {
		if status == nil || r.Template.Status == *status {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeTemplateRepo) UpdateDraftVersion(_ context.Context, templateID uuid.UUID, version *models.TemplateVersion) error {
	record, ok := f.records[templateID]
	if !ok {
		return fmt.Errorf("template %s: %w", templateID, apperrors.ErrNotFound)
	}
	if record.Template.Status != models.TemplateStatusDraft {
		return &apperrors.TemplateStateError{Current: string(record.Template.Status), Attempted: "update draft"}
	}
	record.Version.SQLPattern = version.SQLPattern
	record.Version.PlaceholdersSpec = version.PlaceholdersSpec
	record.Version.Keywords = version.Keywords
	record.Version.Tags = version.Tags
	record.Version.Examples = version.Examples
	version.ID = record.Version.ID
	version.TemplateID = templateID
	return nil
}

func (f *fakeTemplateRepo) Publish(_ context.Context, id uuid.UUID, gate func(*models.TemplateRecord) error) error {
	f.publishCalls++
	record, ok := f.records[id]
	if !ok {
		return fmt.Errorf("template %s: %w", id, apperrors.ErrNotFound)
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
	record.Template.Status = models.TemplateStatusApproved
	return nil
}

func (f *fakeTemplateRepo) TransitionStatus(_ context.Context, id uuid.UUID, target models.TemplateStatus) error {
	record, ok := f.records[id]
	if !ok {
		return fmt.Errorf("template %s: %w", id, apperrors.ErrNotFound)
	}
	current := record.Template.Status
	if current == target && target == models.TemplateStatusDeprecated {
		return nil
	}
	if !current.CanTransitionTo(target) {
		return &apperrors.TemplateStateError{Current: string(current), Attempted: string(target)}
	}
	record.Template.Status = target
	return nil
}

func (f *fakeTemplateRepo) RecordUsage(_ context.Context, versionID uuid.UUID, success bool) error {
	f.usageCalls++
	f.lastUsage.versionID = versionID
	f.lastUsage.success = success
	for _, r := range f.records {
		if r.Version.ID == versionID {
			r.Version.UsageCount++
			if success {
				r.Version.SuccessCount++
			}
			return nil
		}
	}
	return fmt.Errorf("version %s: %w", versionID, apperrors.ErrNotFound)
}

// fakeCatalog counts reload/invalidate calls.
type fakeCatalog struct {
	reloadCalls     int
	invalidateCalls int
	reloadErr       error
}

var _ TemplateCatalog = (*fakeCatalog)(nil)

func (f *fakeCatalog) Reload(context.Context) error { f.reloadCalls++; return f.reloadErr }
func (f *fakeCatalog) Invalidate()                  { f.invalidateCalls++ }
func (f *fakeCatalog) Approved(context.Context) ([]*models.TemplateRecord, error) {
	return nil, nil
}

// fakeFunnelRepo is an in-memory FunnelRepository for service tests.
type fakeFunnelRepo struct {
	funnels      map[uuid.UUID]*models.QueryFunnel
	subQuestions map[uuid.UUID][]*models.SubQuestion

	conflictOnCreate bool
	createCalls      int
}

func newFakeFunnelRepo() *fakeFunnelRepo {
	return &fakeFunnelRepo{
		funnels:      make(map[uuid.UUID]*models.QueryFunnel),
		subQuestions: make(map[uuid.UUID][]*models.SubQuestion),
	}
}

var _ repositories.FunnelRepository = (*fakeFunnelRepo)(nil)

func (f *fakeFunnelRepo) Create(_ context.Context, funnel *models.QueryFunnel, subs []*models.SubQuestion) error {
	f.createCalls++
	if f.conflictOnCreate {
		return fmt.Errorf("active funnel already exists: %w", apperrors.ErrConflict)
	}
	if funnel.ID == uuid.Nil {
		funnel.ID = uuid.New()
	}
	funnel.Status = models.FunnelStatusActive
	for _, sq := range subs {
		if sq.ID == uuid.Nil {
			sq.ID = uuid.New()
		}
		sq.FunnelID = funnel.ID
	}
	f.funnels[funnel.ID] = funnel
	f.subQuestions[funnel.ID] = subs
	return nil
}

func (f *fakeFunnelRepo) GetActive(_ context.Context, formVersionFk uuid.UUID, question string) (*models.QueryFunnel, error) {
	for _, funnel := range f.funnels {
		if funnel.AssessmentFormVersionFk == formVersionFk &&
			funnel.OriginalQuestion == question &&
			funnel.Status == models.FunnelStatusActive {
			return funnel, nil
		}
	}
	return nil, fmt.Errorf("active funnel: %w", apperrors.ErrNotFound)
}

func (f *fakeFunnelRepo) GetSubQuestions(_ context.Context, funnelID uuid.UUID) ([]*models.SubQuestion, error) {
	return f.subQuestions[funnelID], nil
}

func (f *fakeFunnelRepo) UpdateSubQuestion(_ context.Context, subQuestion *models.SubQuestion) error {
	for _, subs := range f.subQuestions {
		for i, sq := range subs {
			if sq.ID == subQuestion.ID {
				subs[i] = subQuestion
				return nil
			}
		}
	}
	return fmt.Errorf("sub-question %s: %w", subQuestion.ID, apperrors.ErrNotFound)
}

func (f *fakeFunnelRepo) Supersede(_ context.Context, formVersionFk uuid.UUID, question string) error {
	for _, funnel := range f.funnels {
		if funnel.AssessmentFormVersionFk == formVersionFk &&
			funnel.OriginalQuestion == question &&
			funnel.Status == models.FunnelStatusActive {
			funnel.Status = models.FunnelStatusSuperseded
		}
	}
	return nil
}

// fakeExecutor is a stub ReadOnlyExecutor.
type fakeExecutor struct {
	result     *datasource.QueryExecutionResult
	err        error
	queryCalls int
	lastSQL    string
	lastParams map[string]any
}

var _ datasource.ReadOnlyExecutor = (*fakeExecutor)(nil)

func (f *fakeExecutor) Query(_ context.Context, sqlQuery string, params map[string]any, _ int) (*datasource.QueryExecutionResult, error) {
	f.queryCalls++
	f.lastSQL = sqlQuery
	f.lastParams = params
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &datasource.QueryExecutionResult{}, nil
}

func (f *fakeExecutor) TestConnection(context.Context) error { return nil }
func (f *fakeExecutor) Close() error                         { return nil }
