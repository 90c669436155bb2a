// Package ingest pulls interactions from a marketplace connector, deduplicates
// them into the interaction store and advances per-feed watermarks.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lisanmuaddib/replydesk/pkg/db/models"
	"github.com/lisanmuaddib/replydesk/pkg/locks"
	"github.com/lisanmuaddib/replydesk/pkg/marketplace"
	"github.com/lisanmuaddib/replydesk/pkg/memory"
	"github.com/lisanmuaddib/replydesk/pkg/sla"
)

// ErrSyncInProgress is returned when the same feed is already being synced
var ErrSyncInProgress = errors.New("sync already in progress")

// Config bounds one sync invocation
type Config struct {
	PageSize               int
	FullStateBudget        int
	IncrementalStateBudget int
	LockTTL                time.Duration
}

// DefaultConfig returns the default paging and budgets
func DefaultConfig() Config {
	return Config{
		PageSize:               100,
		FullStateBudget:        5000,
		IncrementalStateBudget: 500,
		LockTTL:                10 * time.Minute,
	}
}

// SyncResult counts what one invocation did
type SyncResult struct {
	Fetched int `json:"fetched"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

func (r *SyncResult) add(other SyncResult) {
	r.Fetched += other.Fetched
	r.Created += other.Created
	r.Updated += other.Updated
	r.Skipped += other.Skipped
}

// Engine runs syncs
type Engine struct {
	connector    marketplace.Connector
	interactions *memory.InteractionStore
	watermarks   *memory.WatermarkStore
	classifier   *sla.Classifier
	locker       locks.Locker
	config       Config
	logger       *logrus.Logger
}

// NewEngine creates an Engine. connector should already be rate limited.
func NewEngine(
	connector marketplace.Connector,
	interactions *memory.InteractionStore,
	watermarks *memory.WatermarkStore,
	classifier *sla.Classifier,
	locker locks.Locker,
	config Config,
	logger *logrus.Logger,
) *Engine {
	defaults := DefaultConfig()
	if config.PageSize < 1 {
		config.PageSize = defaults.PageSize
	}
	if config.PageSize > 1000 {
		config.PageSize = 1000
	}
	if config.FullStateBudget < 1 {
		config.FullStateBudget = defaults.FullStateBudget
	}
	if config.IncrementalStateBudget < 1 {
		config.IncrementalStateBudget = defaults.IncrementalStateBudget
	}
	if config.LockTTL <= 0 {
		config.LockTTL = defaults.LockTTL
	}

	return &Engine{
		connector:    connector,
		interactions: interactions,
		watermarks:   watermarks,
		classifier:   classifier,
		locker:       locker,
		config:       config,
		logger:       logger,
	}
}

// Sync pulls one (seller, channel) feed in the given mode
func (e *Engine) Sync(ctx context.Context, sellerID string, channel models.Channel, mode models.SyncMode) (SyncResult, error) {
	if !channel.Valid() {
		return SyncResult{}, fmt.Errorf("unknown channel %q", channel)
	}
	if !mode.Valid() {
		return SyncResult{}, fmt.Errorf("unknown sync mode %q", mode)
	}

	log := e.logger.WithFields(logrus.Fields{
		"method":    "Sync",
		"seller_id": sellerID,
		"channel":   channel,
		"mode":      mode,
	})

	key := fmt.Sprintf("sync:%s:%s:%s", sellerID, channel, mode)
	lock, ok, err := e.locker.TryLock(ctx, key, e.config.LockTTL)
	if err != nil {
		return SyncResult{}, err
	}
	if !ok {
		return SyncResult{}, ErrSyncInProgress
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).Warn("Failed to release sync lock")
		}
	}()

	watermark, err := e.watermarks.Get(ctx, sellerID, channel, mode)
	if err != nil {
		return SyncResult{}, err
	}

	budget := e.config.IncrementalStateBudget
	if mode == models.SyncModeFull {
		budget = e.config.FullStateBudget
	}

	var total SyncResult
	for _, state := range marketplace.States {
		cursor := ""
		if mode == models.SyncModeIncremental {
			cursor = watermark.Cursor(string(state))
		}

		result, err := e.syncState(ctx, log, sellerID, channel, mode, state, cursor, budget)
		total.add(result)
		if err != nil {
			log.WithError(err).WithField("state", state).Error("Sync aborted")
			return total, err
		}
	}

	log.WithFields(logrus.Fields{
		"fetched": total.Fetched,
		"created": total.Created,
		"updated": total.Updated,
		"skipped": total.Skipped,
	}).Info("Sync completed")
	return total, nil
}

// syncState pages through one answer state within its own budget
func (e *Engine) syncState(
	ctx context.Context,
	log *logrus.Entry,
	sellerID string,
	channel models.Channel,
	mode models.SyncMode,
	state marketplace.AnswerState,
	cursor string,
	budget int,
) (SyncResult, error) {
	var result SyncResult

	for result.Fetched < budget {
		size := e.config.PageSize
		if remaining := budget - result.Fetched; remaining < size {
			size = remaining
		}

		page, err := e.connector.ListItems(ctx, marketplace.ListRequest{
			SellerID: sellerID,
			Channel:  channel,
			State:    state,
			Cursor:   cursor,
			PageSize: size,
		})
		if err != nil {
			return result, fmt.Errorf("failed to list %s %s items: %w", state, channel, err)
		}

		records := make([]memory.Record, 0, len(page.Items))
		var lastSeen *time.Time
		for _, raw := range page.Items {
			rec, err := Normalize(sellerID, channel, state, raw)
			if err != nil {
				result.Skipped++
				log.WithError(err).WithField("state", state).Warn("Skipping malformed item")
				continue
			}
			e.classifier.Apply(&rec.Interaction)
			if occurred := rec.Interaction.OccurredAt; lastSeen == nil || occurred.After(*lastSeen) {
				lastSeen = &occurred
			}
			records = append(records, rec)
		}

		batch, err := e.interactions.UpsertBatch(ctx, records)
		if err != nil {
			return result, err
		}
		result.Fetched += len(page.Items)
		result.Created += batch.Created
		result.Updated += batch.Updated

		// Written only after the page transaction committed
		if page.NextCursor != "" {
			if _, err := e.watermarks.Advance(ctx, sellerID, channel, mode, string(state), page.NextCursor, lastSeen); err != nil {
				return result, err
			}
		}

		if len(page.Items) < size || page.NextCursor == "" || (page.Total > 0 && result.Fetched >= page.Total) {
			break
		}
		cursor = page.NextCursor
	}

	return result, nil
}
