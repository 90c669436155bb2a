package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/lisanmuaddib/replydesk/pkg/db/models"
	"github.com/lisanmuaddib/replydesk/pkg/ingest"
)

// Syncer pulls one seller channel from the marketplace
type Syncer interface {
	Sync(ctx context.Context, sellerID string, channel models.Channel, mode models.SyncMode) (ingest.SyncResult, error)
}

// SellerLister lists the sellers to sync
type SellerLister interface {
	SyncSellers(ctx context.Context) ([]string, error)
}

// SyncOptions configures a SyncAction
type SyncOptions struct {
	ActionConfig
	Channels []models.Channel
	Mode     models.SyncMode
	// Concurrency bounds how many sellers sync at once
	Concurrency int
}

// SyncAction periodically syncs a set of channels for every enabled seller
type SyncAction struct {
	*ticker
	syncer  Syncer
	sellers SellerLister
	options SyncOptions
	logger  *logrus.Logger
}

// NewSyncAction creates a SyncAction
func NewSyncAction(syncer Syncer, sellers SellerLister, logger *logrus.Logger, options SyncOptions) *SyncAction {
	if options.Name == "" {
		options.Name = "sync"
	}
	if len(options.Channels) == 0 {
		options.Channels = models.Channels
	}
	if options.Mode == "" {
		options.Mode = models.SyncModeIncremental
	}
	if options.Concurrency <= 0 {
		options.Concurrency = 4
	}
	return &SyncAction{
		ticker:  newTicker(options.ActionConfig, 10*time.Minute, logger),
		syncer:  syncer,
		sellers: sellers,
		options: options,
		logger:  logger,
	}
}

// Name returns the unique identifier for this action
func (a *SyncAction) Name() string {
	return a.options.Name
}

// Execute implements the Action interface
func (a *SyncAction) Execute(ctx context.Context) error {
	return a.run(ctx, a.RunOnce)
}

// Stop implements the Action interface
func (a *SyncAction) Stop() {
	a.stop()
}

// RunOnce syncs every seller once. Sellers run in parallel, channels of one
// seller run in order. The first failure is returned after all sellers finish.
func (a *SyncAction) RunOnce(ctx context.Context) error {
	sellers, err := a.sellers.SyncSellers(ctx)
	if err != nil {
		return err
	}

	g := new(errgroup.Group)
	g.SetLimit(a.options.Concurrency)
	for _, sellerID := range sellers {
		sellerID := sellerID
		g.Go(func() error {
			return a.syncSeller(ctx, sellerID)
		})
	}
	return g.Wait()
}

func (a *SyncAction) syncSeller(ctx context.Context, sellerID string) error {
	var firstErr error
	for _, channel := range a.options.Channels {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log := a.logger.WithFields(logrus.Fields{
			"action":    a.options.Name,
			"seller_id": sellerID,
			"channel":   channel,
			"mode":      a.options.Mode,
		})

		result, err := a.syncer.Sync(ctx, sellerID, channel, a.options.Mode)
		switch {
		case errors.Is(err, ingest.ErrSyncInProgress):
			log.Debug("Sync still running, skipping")
		case err != nil:
			log.WithError(err).Warn("Sync failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("sync %s/%s: %w", sellerID, channel, err)
			}
		case result.Created+result.Updated > 0:
			log.WithFields(logrus.Fields{
				"fetched": result.Fetched,
				"created": result.Created,
				"updated": result.Updated,
			}).Info("Sync pass stored changes")
		}
	}
	return firstErr
}
