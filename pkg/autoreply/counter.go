package autoreply

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lisanmuaddib/replydesk/pkg/db/models"
)

// Counter tracks automatic replies per seller per UTC day
type Counter struct {
	db *gorm.DB
}

// NewCounter creates a Counter
func NewCounter(db *gorm.DB) *Counter {
	return &Counter{db: db}
}

// Day returns the counter key for t
func Day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// reserve takes one slot of the daily cap. It is a single conditional
// increment, so concurrent reservations never exceed the cap.
func (c *Counter) reserve(tx *gorm.DB, sellerID, day string, dailyCap int) (bool, error) {
	if dailyCap <= 0 {
		return false, nil
	}
	row := models.AutoReplyCounter{SellerID: sellerID, Day: day}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return false, fmt.Errorf("failed to create counter row: %w", err)
	}
	result := tx.Model(&models.AutoReplyCounter{}).
		Where("seller_id = ? AND day = ? AND count < ?", sellerID, day, dailyCap).
		Update("count", gorm.Expr("count + 1"))
	if result.Error != nil {
		return false, fmt.Errorf("failed to reserve daily slot: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// Refund returns a slot taken by a reply that was not delivered
func (c *Counter) Refund(ctx context.Context, sellerID, day string) error {
	err := c.db.WithContext(ctx).Model(&models.AutoReplyCounter{}).
		Where("seller_id = ? AND day = ? AND count > 0", sellerID, day).
		Update("count", gorm.Expr("count - 1")).Error
	if err != nil {
		return fmt.Errorf("failed to refund daily slot: %w", err)
	}
	return nil
}

// Count returns the replies counted for a seller on a day
func (c *Counter) Count(ctx context.Context, sellerID, day string) (int, error) {
	var row models.AutoReplyCounter
	err := c.db.WithContext(ctx).Where("seller_id = ? AND day = ?", sellerID, day).Limit(1).Find(&row).Error
	if err != nil {
		return 0, fmt.Errorf("failed to read daily counter: %w", err)
	}
	return row.Count, nil
}
