package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/lisanmuaddib/replydesk/internal/deskconfig"
	"github.com/lisanmuaddib/replydesk/pkg/autoreply"
	"github.com/lisanmuaddib/replydesk/pkg/db"
	"github.com/lisanmuaddib/replydesk/pkg/desk"
	"github.com/lisanmuaddib/replydesk/pkg/drafts"
	"github.com/lisanmuaddib/replydesk/pkg/ingest"
	"github.com/lisanmuaddib/replydesk/pkg/llm"
	"github.com/lisanmuaddib/replydesk/pkg/llm/openai"
	"github.com/lisanmuaddib/replydesk/pkg/locks"
	"github.com/lisanmuaddib/replydesk/pkg/logging"
	"github.com/lisanmuaddib/replydesk/pkg/marketplace"
	"github.com/lisanmuaddib/replydesk/pkg/memory"
	"github.com/lisanmuaddib/replydesk/pkg/productcache"
	"github.com/lisanmuaddib/replydesk/pkg/sla"
)

// app is the fully wired process
type app struct {
	logger       *logrus.Logger
	config       *deskconfig.DeskConfig
	db           *gorm.DB
	interactions *memory.InteractionStore
	settings     *memory.SettingsStore
	engine       *ingest.Engine
	escalator    *sla.Escalator
	drafts       *drafts.Generator
	scheduler    *autoreply.Scheduler
	service      *desk.Service
	closers      []func() error
}

func newApp(ctx context.Context) (_ *app, err error) {
	logger := logging.NewLogger()
	a := &app{logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.config, err = deskconfig.NewDeskConfig(); err != nil {
		return nil, fmt.Errorf("failed to load desk config: %w", err)
	}

	dbConfig, err := db.NewDBConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load database config: %w", err)
	}
	if a.db, err = db.SetupDatabase(logger, dbConfig); err != nil {
		return nil, err
	}

	marketplaceConfig, err := marketplace.NewMarketplaceConfig(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load marketplace config: %w", err)
	}
	connector, _, err := marketplace.NewGuardedFromConfig(marketplaceConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create marketplace connector: %w", err)
	}

	locker, closeLocker, err := locks.NewFromAddr(ctx, a.config.RedisAddr, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeLocker)

	a.interactions = memory.NewInteractionStore(logger, a.db)
	a.settings = memory.NewSettingsStore(a.db)
	if err = a.settings.EnsureWith(ctx, a.config.SellerDefaults, a.config.SellerIDs...); err != nil {
		return nil, err
	}

	a.engine = ingest.NewEngine(
		connector,
		a.interactions,
		memory.NewWatermarkStore(logger, a.db),
		sla.NewClassifier(),
		locker,
		ingest.DefaultConfig(),
		logger,
	)
	a.escalator = sla.NewEscalator(a.db, logger)

	completer, err := newCompleter(logger)
	if err != nil {
		return nil, err
	}
	products, err := newProductLookup(a.db, logger)
	if err != nil {
		return nil, err
	}
	a.drafts = drafts.NewGenerator(a.interactions, products, completer, drafts.DefaultConfig(), logger)

	if a.scheduler, err = autoreply.NewScheduler(a.db, a.settings, connector, autoreply.DefaultConfig(logger)); err != nil {
		return nil, err
	}

	a.service, err = desk.New(desk.Config{
		Interactions: a.interactions,
		Settings:     a.settings,
		Syncer:       a.engine,
		Drafts:       a.drafts,
		AutoReply:    a.scheduler,
		Sender:       connector,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newCompleter returns nil when no API key is configured so drafts fall back to templates
func newCompleter(logger *logrus.Logger) (llm.Completer, error) {
	config, err := openai.NewOpenAIConfig(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load OpenAI config: %w", err)
	}
	if !config.Enabled() {
		logger.Warn("OPENAI_API_KEY not set, drafts will use templates")
		return nil, nil
	}
	client, err := openai.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
	}
	return client, nil
}

func newProductLookup(gdb *gorm.DB, logger *logrus.Logger) (drafts.ProductLookup, error) {
	config, err := productcache.NewCacheConfig()
	if err != nil {
		return nil, err
	}
	if config.SourceURL == "" {
		logger.Warn("PRODUCT_SOURCE_URL not set, drafts will have no product context")
		return nil, nil
	}
	source := productcache.NewHTTPSource(config.SourceURL, &http.Client{Timeout: config.FetchTimeout}, logger)
	return productcache.NewCache(gdb, source, config, logger), nil
}

func (a *app) Close() {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			a.logger.WithError(err).Warn("Failed to close resource")
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
