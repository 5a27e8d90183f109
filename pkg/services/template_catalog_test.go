package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clinsight-health/clinsight-engine/pkg/models"
)

const testSeedCatalog = `
templates:
  - name: wound_count_by_type
    intent: aggregation_by_category
    description: Counts wounds grouped by type for one patient.
    sql_pattern: "SELECT WoundType, COUNT(*) FROM rpt.Wound WHERE PatientFk = {patientId} GROUP BY WoundType"
    placeholders:
      slots:
        - name: patientId
          type: guid
          required: true
    keywords: [wound, count]
  - name: latest_assessment
    intent: latest_per_entity
    sql_pattern: "SELECT TOP (1) * FROM rpt.Assessment WHERE PatientFk = {patientId} ORDER BY AssessmentDate DESC"
  - name: broken_template
    intent: top_k
    sql_pattern: "DELETE FROM rpt.Assessment WHERE id = {id}"
  - name: ""
    intent: top_k
    sql_pattern: "SELECT 1"
`

func writeSeedFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testSeedCatalog), 0644))
	return path
}

func TestSeedCatalog_LoadsValidSkipsInvalid(t *testing.T) {
	catalog := NewSeedTemplateCatalog(writeSeedFile(t), zap.NewNop())

	records, err := catalog.Approved(context.Background())
	require.NoError(t, err)

	// Two valid entries; the DELETE pattern and the unnamed entry are skipped.
	require.Len(t, records, 2)

	byName := make(map[string]*models.TemplateRecord)
	for _, r := range records {
		byName[r.Template.Name] = r
	}

	wound := byName["wound_count_by_type"]
	require.NotNil(t, wound)
	assert.Equal(t, models.TemplateStatusApproved, wound.Template.Status)
	assert.Equal(t, models.IntentAggregationByCategory, wound.Template.Intent)
	require.NotNil(t, wound.Version.PlaceholdersSpec)
	assert.Equal(t, "guid", wound.Version.PlaceholdersSpec.Slots[0].Type)

	// Coverage was ensured for the entry with no declared slots.
	latest := byName["latest_assessment"]
	require.NotNil(t, latest)
	require.Len(t, latest.Version.PlaceholdersSpec.Slots, 1)
	assert.Equal(t, "patientId", latest.Version.PlaceholdersSpec.Slots[0].Name)
}

func TestSeedCatalog_MissingFile(t *testing.T) {
	catalog := NewSeedTemplateCatalog("/nonexistent/catalog.yaml", zap.NewNop())
	_, err := catalog.Approved(context.Background())
	assert.Error(t, err)
}

func TestSeedCatalog_InvalidateForcesReload(t *testing.T) {
	path := writeSeedFile(t)
	catalog := NewSeedTemplateCatalog(path, zap.NewNop())

	records, err := catalog.Approved(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Shrink the file and invalidate; next read sees the new content.
	smaller := `
templates:
  - name: only_one
    intent: top_k
    sql_pattern: "SELECT TOP (5) * FROM rpt.Assessment"
`
	require.NoError(t, os.WriteFile(path, []byte(smaller), 0644))

	records, err = catalog.Approved(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 2, "cached view should survive until invalidation")

	catalog.Invalidate()
	records, err = catalog.Approved(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestDBCatalog_LazyLoadAndInvalidate(t *testing.T) {
	repo := newFakeTemplateRepo()
	svc := newLifecycleService(repo, &fakeCatalog{})

	record, err := svc.CreateDraft(context.Background(), validCandidate(), "")
	require.NoError(t, err)

	catalog := NewTemplateCatalog(repo, zap.NewNop())

	records, err := catalog.Approved(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records, "drafts are not part of the approved catalog")

	require.NoError(t, repo.Publish(context.Background(), record.Template.ID, nil))

	// Still cached.
	records, err = catalog.Approved(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)

	catalog.Invalidate()
	records, err = catalog.Approved(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "wound_count_by_type", records[0].Template.Name)
}
