package productcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lisanmuaddib/replydesk/pkg/db/models"
)

// Lookup is the outcome of a cache read
type Lookup struct {
	Product Product
	// Stale is set when an expired entry was served because the source was unreachable
	Stale bool
}

// Cache is a TTL read-through cache over a Source
type Cache struct {
	db           *gorm.DB
	source       Source
	ttl          time.Duration
	fetchTimeout time.Duration
	logger       *logrus.Logger
	now          func() time.Time
}

// NewCache creates a Cache. A nil source serves cached entries only.
func NewCache(db *gorm.DB, source Source, config *CacheConfig, logger *logrus.Logger) *Cache {
	if logger == nil {
		logger = logrus.New()
	}
	return &Cache{
		db:           db,
		source:       source,
		ttl:          config.TTL,
		fetchTimeout: config.FetchTimeout,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the product, refreshing it from the source when missing or expired.
// An expired entry is served with Stale set only when the source is unreachable.
func (c *Cache) Get(ctx context.Context, productID string) (Lookup, error) {
	log := c.logger.WithFields(logrus.Fields{
		"method":     "Get",
		"product_id": productID,
	})

	var entry models.ProductCacheEntry
	err := c.db.WithContext(ctx).First(&entry, "product_id = ?", productID).Error
	cached := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return Lookup{}, fmt.Errorf("failed to read product cache: %w", err)
	}

	if cached && c.now().Sub(entry.FetchedAt) < c.ttl {
		return Lookup{Product: fromEntry(entry)}, nil
	}

	if c.source == nil {
		if cached {
			return Lookup{Product: fromEntry(entry), Stale: true}, nil
		}
		return Lookup{}, ErrUnreachable
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	product, err := c.source.Fetch(fetchCtx, productID)
	cancel()

	switch {
	case err == nil:
		if err := c.store(ctx, product); err != nil {
			log.WithError(err).Warn("Failed to store product in cache")
		}
		return Lookup{Product: product}, nil

	case errors.Is(err, ErrNotFound):
		if cached {
			if err := c.db.WithContext(ctx).Delete(&models.ProductCacheEntry{}, "product_id = ?", productID).Error; err != nil {
				log.WithError(err).Warn("Failed to evict missing product")
			}
		}
		return Lookup{}, err

	default:
		if cached {
			log.WithError(err).Info("Serving stale product, source unreachable")
			return Lookup{Product: fromEntry(entry), Stale: true}, nil
		}
		if !errors.Is(err, ErrUnreachable) {
			err = fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		return Lookup{}, err
	}
}

func (c *Cache) store(ctx context.Context, p Product) error {
	entry := models.ProductCacheEntry{
		ProductID:   p.ID,
		Name:        p.Name,
		Brand:       p.Brand,
		Category:    p.Category,
		Description: p.Description,
		Attributes:  datatypes.NewJSONType(p.Attributes),
		FetchedAt:   c.now(),
	}
	return c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "product_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "brand", "category", "description", "attributes", "fetched_at"}),
	}).Create(&entry).Error
}

func fromEntry(e models.ProductCacheEntry) Product {
	return Product{
		ID:          e.ProductID,
		Name:        e.Name,
		Brand:       e.Brand,
		Category:    e.Category,
		Description: e.Description,
		Attributes:  e.Attributes.Data(),
	}
}
