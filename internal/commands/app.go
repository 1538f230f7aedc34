package commands

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"payment-reconciliation-engine/internal/config"
	"payment-reconciliation-engine/internal/database"
	"payment-reconciliation-engine/internal/events"
	"payment-reconciliation-engine/internal/logger"
	"payment-reconciliation-engine/internal/repository"
	"payment-reconciliation-engine/internal/services/accounts"
	"payment-reconciliation-engine/internal/services/extraction"
	"payment-reconciliation-engine/internal/services/matching"
	"payment-reconciliation-engine/internal/services/payments"
	"payment-reconciliation-engine/internal/services/reconciliation"
	"payment-reconciliation-engine/internal/services/templates"
)

// app holds the wired services shared by every command.
type app struct {
	cfg            *config.Config
	log            logger.Logger
	db             *gorm.DB
	templateRepo   *repository.TemplateRepository
	templates      *templates.Holder
	allocator      *accounts.Allocator
	payments       *payments.Service
	reconciliation *reconciliation.Service
}

func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.Load(config.NewViper(), opts.configFile)
	if err != nil {
		return nil, err
	}
	if opts.verbose {
		cfg.Log.Level = logger.DebugLevel
	}
	log, err := logger.NewLogger(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger.SetGlobalLogger(log)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, err
	}

	a := &app{
		cfg:          cfg,
		log:          log,
		db:           db,
		templateRepo: repository.NewTemplateRepository(db),
		templates:    templates.NewHolder(nil),
	}
	if cfg.Templates.SeedFile != "" {
		if _, err := a.importTemplates(ctx, cfg.Templates.SeedFile); err != nil {
			return nil, err
		}
	}
	if err := a.reloadTemplates(ctx); err != nil {
		return nil, err
	}

	bus := events.NewBus(log)
	bus.Subscribe(events.LogHandler(log.WithComponent("events")))

	paymentRepo := repository.NewPaymentRepository(db)
	a.allocator = accounts.NewAllocator(repository.NewAccountRepository(db), paymentRepo, log)
	a.payments = payments.NewService(db, a.allocator, bus, log, payments.WithDefaultTTL(cfg.Payments.DefaultTTL))
	matcher := matching.NewMatcher(matching.NewEngine(cfg.Matching), paymentRepo, a.allocator, a.payments, log)
	a.reconciliation = reconciliation.NewService(db, extraction.NewExtractor(a.templates, log), matcher, cfg.Dedup.ResumeAfter, log)
	return a, nil
}

// importTemplates upserts the templates of a YAML file.
func (a *app) importTemplates(ctx context.Context, path string) (int, error) {
	stored, err := templates.LoadYAML(path)
	if err != nil {
		return 0, err
	}
	for i := range stored {
		if _, err := templates.Compile(stored[i]); err != nil {
			return 0, fmt.Errorf("template %q: %w", stored[i].BankName, err)
		}
		if err := a.templateRepo.Upsert(ctx, &stored[i]); err != nil {
			return 0, err
		}
	}
	a.log.WithFields(logger.Fields{"file": path, "templates": len(stored)}).Info("templates imported")
	return len(stored), nil
}

func (a *app) reloadTemplates(ctx context.Context) error {
	reg, err := templates.Load(ctx, a.templateRepo, a.log)
	if err != nil {
		return err
	}
	a.templates.Store(reg)
	if reg.Len() == 0 {
		a.log.Warn("no bank templates loaded; every email will fail extraction")
	}
	return nil
}

func (a *app) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
