package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/clinsight-health/clinsight-engine/migrations"
	"github.com/clinsight-health/clinsight-engine/pkg/adapters/datasource"
	"github.com/clinsight-health/clinsight-engine/pkg/adapters/datasource/mssql"
	"github.com/clinsight-health/clinsight-engine/pkg/config"
	"github.com/clinsight-health/clinsight-engine/pkg/database"
	"github.com/clinsight-health/clinsight-engine/pkg/llm"
	"github.com/clinsight-health/clinsight-engine/pkg/logging"
	"github.com/clinsight-health/clinsight-engine/pkg/repositories"
	"github.com/clinsight-health/clinsight-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

// engine bundles the wired service graph.
type engine struct {
	catalog    services.TemplateCatalog
	lifecycle  services.TemplateLifecycleService
	extraction services.TemplateExtractionService
	funnels    services.FunnelService
	logger     *zap.Logger
}

func main() {
	question := flag.String("question", "", "Extract a template for this question (requires -sql)")
	sqlQuery := flag.String("sql", "", "SQL query answering -question")
	migrateOnly := flag.Bool("migrate-only", false, "Run migrations and exit")
	flag.Parse()

	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("Starting clinsight-engine",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.Bool("template_system_enabled", cfg.Templates.Enabled))

	ctx := context.Background()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
		MinConnections: cfg.Database.MinConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := database.RunMigrations(cfg.Database.ConnectionString(), migrations.Files, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	if *migrateOnly {
		logger.Info("Migrations complete")
		return
	}

	eng, cleanup, err := buildEngine(ctx, cfg, db, logger)
	if err != nil {
		logger.Fatal("Failed to build engine", zap.Error(err))
	}
	defer cleanup()

	if *question != "" {
		if err := runExtraction(ctx, eng, *question, *sqlQuery); err != nil {
			logger.Fatal("Extraction failed", zap.Error(err))
		}
		return
	}

	approved, err := eng.catalog.Approved(ctx)
	if err != nil {
		logger.Fatal("Failed to load template catalog", zap.Error(err))
	}
	logger.Info("clinsight-engine ready", zap.Int("approved_templates", len(approved)))
}

func buildEngine(ctx context.Context, cfg *config.Config, db *database.DB, logger *zap.Logger) (*engine, func(), error) {
	templateRepo := repositories.NewTemplateRepository(db)
	funnelRepo := repositories.NewFunnelRepository(db)

	var catalog services.TemplateCatalog
	if cfg.Templates.Enabled {
		catalog = services.NewTemplateCatalog(templateRepo, logger)
	} else {
		if cfg.Templates.SeedCatalogPath == "" {
			return nil, nil, fmt.Errorf("template system disabled but no seed catalog path configured")
		}
		catalog = services.NewSeedTemplateCatalog(cfg.Templates.SeedCatalogPath, logger)
	}

	eng := &engine{
		catalog:   catalog,
		lifecycle: services.NewTemplateLifecycleService(templateRepo, catalog, logger),
		logger:    logger,
	}
	cleanup := func() {}

	if !cfg.AI.IsAvailable() {
		logger.Warn("No AI model configured; extraction and funnel generation disabled")
		return eng, cleanup, nil
	}

	client, err := llm.NewClientFromConfig(&llm.Config{
		Provider: cfg.AI.Provider,
		Endpoint: cfg.AI.Endpoint,
		Model:    cfg.AI.Model,
		APIKey:   cfg.AI.APIKey,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create AI client: %w", err)
	}

	var executor datasource.ReadOnlyExecutor
	if cfg.Reporting.IsConfigured() {
		adapter, err := mssql.NewAdapter(&cfg.Reporting, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create reporting adapter: %w", err)
		}
		if err := adapter.TestConnection(ctx); err != nil {
			logger.Warn("Reporting database unreachable at startup", zap.Error(err))
		}
		executor = adapter
		cleanup = func() { adapter.Close() } //nolint:errcheck
	}

	eng.extraction = services.NewTemplateExtractionService(
		llm.NewDraftProvider(client, logger), cfg.AI.Model, logger)
	eng.funnels = services.NewFunnelService(funnelRepo, templateRepo,
		llm.NewSubQuestionProvider(client, logger), executor, logger)
	return eng, cleanup, nil
}

// runExtraction extracts, validates, and prints a template candidate for a
// question/SQL pair without persisting it.
func runExtraction(ctx context.Context, eng *engine, question, sqlQuery string) error {
	if eng.extraction == nil {
		return fmt.Errorf("no AI model configured")
	}
	if sqlQuery == "" {
		return fmt.Errorf("-sql is required with -question")
	}

	result, err := eng.extraction.ExtractTemplate(ctx, &services.ExtractTemplateRequest{
		QuestionText: question,
		SQLQuery:     sqlQuery,
	})
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(out))
	return nil
}
