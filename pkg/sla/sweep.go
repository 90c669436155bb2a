package sla

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/lisanmuaddib/replydesk/pkg/db/models"
)

// Escalator raises open interactions close to their deadline to urgent
type Escalator struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewEscalator creates an Escalator over the interaction table
func NewEscalator(db *gorm.DB, logger *logrus.Logger) *Escalator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Escalator{db: db, logger: logger}
}

// Sweep marks every open interaction whose deadline falls within the escalation
// horizon as urgent. Re-running it is a no-op for interactions already urgent.
func (e *Escalator) Sweep(ctx context.Context, now time.Time) (int64, error) {
	result := e.db.WithContext(ctx).
		Model(&models.Interaction{}).
		Where("needs_response = ?", true).
		Where("status IN ?", []models.Status{models.StatusOpen, models.StatusWaiting}).
		Where("priority <> ?", models.PriorityUrgent).
		Where("deadline <= ?", now.Add(EscalationHorizon)).
		Updates(map[string]interface{}{
			"priority":   models.PriorityUrgent,
			"updated_at": now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to escalate interactions: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		e.logger.WithFields(logrus.Fields{
			"method":    "Sweep",
			"escalated": result.RowsAffected,
		}).Info("Escalated interactions nearing their deadline")
	}
	return result.RowsAffected, nil
}
