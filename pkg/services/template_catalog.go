package services

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/clinsight-health/clinsight-engine/pkg/models"
	"github.com/clinsight-health/clinsight-engine/pkg/repositories"
	"github.com/clinsight-health/clinsight-engine/pkg/sqlshape"
)

// TemplateCatalog is the in-memory view of approved templates that matching
// paths read from. It is reloaded on publish/deprecate.
type TemplateCatalog interface {
	// Reload repopulates the cache from the backing source.
	Reload(ctx context.Context) error
	// Invalidate drops the cache; the next Approved call reloads lazily.
	Invalidate()
	// Approved returns the cached approved templates, loading on first use.
	Approved(ctx context.Context) ([]*models.TemplateRecord, error)
}

// ----------------------------------------------------------------------------
// Database-backed catalog
// ----------------------------------------------------------------------------

type dbTemplateCatalog struct {
	repo   repositories.TemplateRepository
	logger *zap.Logger

	mu     sync.RWMutex
	cache  []*models.TemplateRecord
	loaded bool
}

// NewTemplateCatalog creates the repository-backed catalog used when the
// template system is enabled.
func NewTemplateCatalog(repo repositories.TemplateRepository, logger *zap.Logger) TemplateCatalog {
	return &dbTemplateCatalog{
		repo:   repo,
		logger: logger.Named("template-catalog"),
	}
}

var _ TemplateCatalog = (*dbTemplateCatalog)(nil)

func (c *dbTemplateCatalog) Reload(ctx context.Context) error {
	status := models.TemplateStatusApproved
	records, err := c.repo.List(ctx, &status)
	if err != nil {
		return fmt.Errorf("failed to reload template catalog: %w", err)
	}

	c.mu.Lock()
	c.cache = records
	c.loaded = true
	c.mu.Unlock()

	c.logger.Info("Reloaded template catalog", zap.Int("approved", len(records)))
	return nil
}

func (c *dbTemplateCatalog) Invalidate() {
	c.mu.Lock()
	c.cache = nil
	c.loaded = false
	c.mu.Unlock()
}

func (c *dbTemplateCatalog) Approved(ctx context.Context) ([]*models.TemplateRecord, error) {
	c.mu.RLock()
	if c.loaded {
		records := c.cache
		c.mu.RUnlock()
		return records, nil
	}
	c.mu.RUnlock()

	if err := c.Reload(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cache, nil
}

// ----------------------------------------------------------------------------
// Seed-file catalog
// ----------------------------------------------------------------------------

// seedCatalogFile is the YAML shape of a curated template catalog.
type seedCatalogFile struct {
	Templates []seedTemplate `yaml:"templates"`
}

type seedTemplate struct {
	Name         string                   `yaml:"name"`
	Intent       string                   `yaml:"intent"`
	Description  string                   `yaml:"description"`
	SQLPattern   string                   `yaml:"sql_pattern"`
	Placeholders *models.PlaceholdersSpec `yaml:"placeholders"`
	Keywords     []string                 `yaml:"keywords"`
	Tags         []string                 `yaml:"tags"`
	Examples     []string                 `yaml:"examples"`
}

type seedTemplateCatalog struct {
	path   string
	logger *zap.Logger

	mu     sync.RWMutex
	cache  []*models.TemplateRecord
	loaded bool
}

// NewSeedTemplateCatalog creates a catalog backed by a YAML seed file. Used
// when the template system's database path is disabled. Invalid seed entries
// are skipped with a logged warning rather than failing the load.
func NewSeedTemplateCatalog(path string, logger *zap.Logger) TemplateCatalog {
	return &seedTemplateCatalog{
		path:   path,
		logger: logger.Named("seed-catalog"),
	}
}

var _ TemplateCatalog = (*seedTemplateCatalog)(nil)

func (c *seedTemplateCatalog) Reload(_ context.Context) error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("failed to read seed catalog: %w", err)
	}

	var file seedCatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse seed catalog: %w", err)
	}

	now := time.Now()
	records := make([]*models.TemplateRecord, 0, len(file.Templates))
	for _, seed := range file.Templates {
		record, ok := c.buildRecord(seed, now)
		if !ok {
			continue
		}
		records = append(records, record)
	}

	c.mu.Lock()
	c.cache = records
	c.loaded = true
	c.mu.Unlock()

	c.logger.Info("Loaded seed template catalog",
		zap.String("path", c.path),
		zap.Int("loaded", len(records)),
		zap.Int("skipped", len(file.Templates)-len(records)))
	return nil
}

func (c *seedTemplateCatalog) buildRecord(seed seedTemplate, now time.Time) (*models.TemplateRecord, bool) {
	if seed.Name == "" || seed.SQLPattern == "" {
		c.logger.Warn("Skipping seed template with missing name or sql_pattern",
			zap.String("name", seed.Name))
		return nil, false
	}

	intent := models.TemplateIntent(seed.Intent)
	if !models.IsValidTemplateIntent(intent) {
		intent = models.IntentLegacyUnknown
	}

	spec := sqlshape.EnsureCoverage(seed.Placeholders, seed.SQLPattern)
	validation := sqlshape.ValidateTemplate(sqlshape.ValidateInput{
		SQLPattern:       seed.SQLPattern,
		PlaceholdersSpec: spec,
	})
	if !validation.Valid {
		c.logger.Warn("Skipping invalid seed template",
			zap.String("name", seed.Name),
			zap.Int("errors", len(validation.Errors)))
		return nil, false
	}

	templateID := uuid.New()
	versionID := uuid.New()
	return &models.TemplateRecord{
		Template: &models.Template{
			ID:              templateID,
			Name:            seed.Name,
			Intent:          intent,
			Description:     seed.Description,
			Status:          models.TemplateStatusApproved,
			ActiveVersionID: versionID,
			CreatedBy:       "seed-catalog",
			CreatedAt:       now,
			UpdatedAt:       now,
		},
		Version: &models.TemplateVersion{
			ID:               versionID,
			TemplateID:       templateID,
			Version:          1,
			SQLPattern:       seed.SQLPattern,
			PlaceholdersSpec: spec,
			Keywords:         sqlshape.NormalizeStringList(seed.Keywords),
			Tags:             sqlshape.NormalizeStringList(seed.Tags),
			Examples:         sqlshape.NormalizeStringList(seed.Examples),
			CreatedAt:        now,
			UpdatedAt:        now,
		},
	}, true
}

func (c *seedTemplateCatalog) Invalidate() {
	c.mu.Lock()
	c.cache = nil
	c.loaded = false
	c.mu.Unlock()
}

func (c *seedTemplateCatalog) Approved(ctx context.Context) ([]*models.TemplateRecord, error) {
	c.mu.RLock()
	if c.loaded {
		records := c.cache
		c.mu.RUnlock()
		return records, nil
	}
	c.mu.RUnlock()

	if err := c.Reload(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cache, nil
}
