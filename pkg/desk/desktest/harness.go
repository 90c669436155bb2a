// Package desktest wires a desk Service over in-memory SQLite and a fake marketplace.
package desktest

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/lisanmuaddib/replydesk/pkg/autoreply"
	"github.com/lisanmuaddib/replydesk/pkg/db"
	"github.com/lisanmuaddib/replydesk/pkg/desk"
	"github.com/lisanmuaddib/replydesk/pkg/drafts"
	"github.com/lisanmuaddib/replydesk/pkg/ingest"
	"github.com/lisanmuaddib/replydesk/pkg/llm"
	"github.com/lisanmuaddib/replydesk/pkg/locks"
	"github.com/lisanmuaddib/replydesk/pkg/marketplace/marketplacetest"
	"github.com/lisanmuaddib/replydesk/pkg/memory"
	"github.com/lisanmuaddib/replydesk/pkg/sla"
)

// Harness holds every piece of a test desk
type Harness struct {
	DB           *gorm.DB
	Logger       *logrus.Logger
	Marketplace  *marketplacetest.Connector
	Interactions *memory.InteractionStore
	Settings     *memory.SettingsStore
	Engine       *ingest.Engine
	Drafts       *drafts.Generator
	Scheduler    *autoreply.Scheduler
	Service      *desk.Service
}

// New builds a Harness. completer may be nil for template-only drafts.
func New(completer llm.Completer) (*Harness, error) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	gdb, err := db.OpenSQLite(logger, ":memory:")
	if err != nil {
		return nil, err
	}

	h := &Harness{
		DB:           gdb,
		Logger:       logger,
		Marketplace:  marketplacetest.New(),
		Interactions: memory.NewInteractionStore(logger, gdb),
		Settings:     memory.NewSettingsStore(gdb),
	}
	h.Engine = ingest.NewEngine(
		h.Marketplace,
		h.Interactions,
		memory.NewWatermarkStore(logger, gdb),
		sla.NewClassifier(),
		locks.NewLocalLocker(),
		ingest.Config{PageSize: 50},
		logger,
	)
	draftConfig := drafts.DefaultConfig()
	draftConfig.LLMTimeout = 200 * time.Millisecond
	h.Drafts = drafts.NewGenerator(h.Interactions, nil, completer, draftConfig, logger)

	h.Scheduler, err = autoreply.NewScheduler(gdb, h.Settings, h.Marketplace, autoreply.DefaultConfig(logger))
	if err != nil {
		return nil, err
	}

	h.Service, err = desk.New(desk.Config{
		Interactions: h.Interactions,
		Settings:     h.Settings,
		Syncer:       h.Engine,
		Drafts:       h.Drafts,
		AutoReply:    h.Scheduler,
		Sender:       h.Marketplace,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Close stops the scheduler timers
func (h *Harness) Close() {
	h.Scheduler.Stop()
}
