package sla_test

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/lisanmuaddib/replydesk/pkg/db"
	"github.com/lisanmuaddib/replydesk/pkg/db/models"
	"github.com/lisanmuaddib/replydesk/pkg/sla"
)

var _ = Describe("Escalator", func() {
	var (
		gdb       *gorm.DB
		escalator *sla.Escalator
		now       time.Time
		ctx       context.Context
	)

	insert := func(status models.Status, priority models.Priority, deadline time.Time) string {
		id := uuid.NewString()
		Expect(gdb.Create(&models.Interaction{
			ID:            id,
			ExternalID:    id,
			SellerID:      "s1",
			Channel:       models.ChannelChat,
			OccurredAt:    now.Add(-time.Hour),
			Status:        status,
			NeedsResponse: !status.Answered(),
			Priority:      priority,
			Deadline:      deadline,
		}).Error).To(Succeed())
		return id
	}

	priorityOf := func(id string) models.Priority {
		var in models.Interaction
		Expect(gdb.First(&in, "id = ?", id).Error).To(Succeed())
		return in.Priority
	}

	BeforeEach(func() {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		var err error
		gdb, err = db.OpenSQLite(logger, ":memory:")
		Expect(err).NotTo(HaveOccurred())
		escalator = sla.NewEscalator(gdb, logger)
		now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		ctx = context.Background()
	})

	It("escalates open interactions near their deadline", func() {
		near := insert(models.StatusOpen, models.PriorityNormal, now.Add(10*time.Minute))
		overdue := insert(models.StatusWaiting, models.PriorityLow, now.Add(-time.Hour))
		far := insert(models.StatusOpen, models.PriorityNormal, now.Add(5*time.Hour))
		answered := insert(models.StatusResponded, models.PriorityNormal, now.Add(5*time.Minute))

		count, err := escalator.Sweep(ctx, now)
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(Equal(int64(2)))

		Expect(priorityOf(near)).To(Equal(models.PriorityUrgent))
		Expect(priorityOf(overdue)).To(Equal(models.PriorityUrgent))
		Expect(priorityOf(far)).To(Equal(models.PriorityNormal))
		Expect(priorityOf(answered)).To(Equal(models.PriorityNormal))
	})

	It("is idempotent", func() {
		insert(models.StatusOpen, models.PriorityHigh, now.Add(time.Minute))

		first, err := escalator.Sweep(ctx, now)
		Expect(err).NotTo(HaveOccurred())
		Expect(first).To(Equal(int64(1)))

		second, err := escalator.Sweep(ctx, now)
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(BeZero())
	})
})
