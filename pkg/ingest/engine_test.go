package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/lisanmuaddib/replydesk/pkg/db"
	"github.com/lisanmuaddib/replydesk/pkg/db/models"
	"github.com/lisanmuaddib/replydesk/pkg/ingest"
	"github.com/lisanmuaddib/replydesk/pkg/locks"
	"github.com/lisanmuaddib/replydesk/pkg/marketplace"
	"github.com/lisanmuaddib/replydesk/pkg/marketplace/marketplacetest"
	"github.com/lisanmuaddib/replydesk/pkg/memory"
	"github.com/lisanmuaddib/replydesk/pkg/sla"
)

// failingAfter lets the first n ListItems calls through and fails the rest
type failingAfter struct {
	marketplace.Connector
	n     int32
	calls atomic.Int32
}

func (f *failingAfter) ListItems(ctx context.Context, req marketplace.ListRequest) (marketplace.Page, error) {
	if f.calls.Add(1) > f.n {
		return marketplace.Page{}, &marketplace.TransientError{StatusCode: 503, Err: errors.New("unavailable")}
	}
	return f.Connector.ListItems(ctx, req)
}

func rating(v int) *int { return &v }

var _ = Describe("Engine", func() {
	var (
		gdb        *gorm.DB
		logger     *logrus.Logger
		fake       *marketplacetest.Connector
		store      *memory.InteractionStore
		watermarks *memory.WatermarkStore
		locker     *locks.LocalLocker
		config     ingest.Config
		ctx        context.Context
		created    time.Time
	)

	newEngine := func(connector marketplace.Connector) *ingest.Engine {
		return ingest.NewEngine(connector, store, watermarks, sla.NewClassifier(), locker, config, logger)
	}

	reviews := func(from, to int, answered bool) []marketplace.RawItem {
		items := []marketplace.RawItem{}
		for i := from; i < to; i++ {
			items = append(items, marketplace.RawItem{
				ID:        fmt.Sprintf("R%d", i),
				Rating:    rating(5),
				Text:      fmt.Sprintf("Отзыв %d", i),
				CreatedAt: created.Add(time.Duration(i) * time.Minute),
				Answered:  answered,
			})
		}
		return items
	}

	count := func() int64 {
		var n int64
		Expect(gdb.Model(&models.Interaction{}).Count(&n).Error).To(Succeed())
		return n
	}

	cursor := func(mode models.SyncMode, state marketplace.AnswerState) string {
		w, err := watermarks.Get(ctx, "s1", models.ChannelReview, mode)
		Expect(err).NotTo(HaveOccurred())
		return w.Cursor(string(state))
	}

	BeforeEach(func() {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
		var err error
		gdb, err = db.OpenSQLite(logger, ":memory:")
		Expect(err).NotTo(HaveOccurred())

		fake = marketplacetest.New()
		store = memory.NewInteractionStore(logger, gdb)
		watermarks = memory.NewWatermarkStore(logger, gdb)
		locker = locks.NewLocalLocker()
		config = ingest.Config{PageSize: 100, FullStateBudget: 5000, IncrementalStateBudget: 500}
		ctx = context.Background()
		created = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	})

	It("creates every new item past a stored cursor and advances the watermark", func() {
		fake.Put("s1", models.ChannelReview, reviews(0, 100, false)...)
		_, err := watermarks.Advance(ctx, "s1", models.ChannelReview, models.SyncModeIncremental, string(marketplace.StateUnanswered), "100", nil)
		Expect(err).NotTo(HaveOccurred())
		fake.Put("s1", models.ChannelReview, reviews(100, 140, false)...)

		result, err := newEngine(fake).Sync(ctx, "s1", models.ChannelReview, models.SyncModeIncremental)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Created).To(Equal(40))
		Expect(result.Updated).To(BeZero())
		Expect(cursor(models.SyncModeIncremental, marketplace.StateUnanswered)).To(Equal("140"))
		Expect(count()).To(Equal(int64(40)))
	})

	It("is idempotent across repeated runs", func() {
		fake.Put("s1", models.ChannelReview, reviews(0, 30, false)...)
		fake.Put("s1", models.ChannelReview, reviews(30, 40, true)...)
		engine := newEngine(fake)

		first, err := engine.Sync(ctx, "s1", models.ChannelReview, models.SyncModeFull)
		Expect(err).NotTo(HaveOccurred())
		Expect(first.Created).To(Equal(40))

		second, err := engine.Sync(ctx, "s1", models.ChannelReview, models.SyncModeFull)
		Expect(err).NotTo(HaveOccurred())
		Expect(second.Fetched).To(Equal(40))
		Expect(second.Created).To(BeZero())
		Expect(second.Updated).To(BeZero())

		third, err := engine.Sync(ctx, "s1", models.ChannelReview, models.SyncModeIncremental)
		Expect(err).NotTo(HaveOccurred())
		Expect(third.Created).To(BeZero())
		Expect(third.Updated).To(BeZero())
		Expect(count()).To(Equal(int64(40)))
	})

	It("deduplicates ids that differ only in case and whitespace", func() {
		fake.Put("s1", models.ChannelReview,
			marketplace.RawItem{ID: "ABC-1", Rating: rating(4), Text: "Хорошо", CreatedAt: created},
			marketplace.RawItem{ID: "  abc-1 ", Rating: rating(4), Text: "Хорошо, обновлено", CreatedAt: created},
		)

		result, err := newEngine(fake).Sync(ctx, "s1", models.ChannelReview, models.SyncModeFull)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Created).To(Equal(1))
		Expect(result.Updated).To(Equal(1))
		Expect(count()).To(Equal(int64(1)))

		var in models.Interaction
		Expect(gdb.First(&in).Error).To(Succeed())
		Expect(in.ExternalID).To(Equal("abc-1"))
		Expect(in.Text).To(Equal("Хорошо, обновлено"))
	})

	It("skips malformed items and keeps the rest of the page", func() {
		fake.Put("s1", models.ChannelReview,
			marketplace.RawItem{ID: "ok", Rating: rating(5), Text: "Спасибо", CreatedAt: created},
			marketplace.RawItem{ID: "no-rating", Text: "А где звёзды", CreatedAt: created},
			marketplace.RawItem{ID: "", Rating: rating(5), CreatedAt: created},
		)

		result, err := newEngine(fake).Sync(ctx, "s1", models.ChannelReview, models.SyncModeFull)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Fetched).To(Equal(3))
		Expect(result.Created).To(Equal(1))
		Expect(result.Skipped).To(Equal(2))
	})

	It("classifies and marks upstream answers", func() {
		fake.Put("s1", models.ChannelReview,
			marketplace.RawItem{ID: "bad", Rating: rating(1), Text: "Пришёл брак", CreatedAt: created},
			marketplace.RawItem{ID: "done", Rating: rating(5), Text: "Класс", CreatedAt: created, Answered: true},
		)

		_, err := newEngine(fake).Sync(ctx, "s1", models.ChannelReview, models.SyncModeFull)
		Expect(err).NotTo(HaveOccurred())

		var bad, done models.Interaction
		Expect(gdb.First(&bad, "external_id = ?", "bad").Error).To(Succeed())
		Expect(bad.Priority).To(Equal(models.PriorityUrgent))
		Expect(bad.Deadline).To(BeTemporally("==", created.Add(sla.UrgentWindow)))
		Expect(bad.NeedsResponse).To(BeTrue())

		Expect(gdb.First(&done, "external_id = ?", "done").Error).To(Succeed())
		Expect(done.Status).To(Equal(models.StatusResponded))
		Expect(done.NeedsResponse).To(BeFalse())
	})

	It("refreshes the thread when the upstream answer or review is edited", func() {
		fake.Put("s1", models.ChannelReview, marketplace.RawItem{
			ID: "edited", Rating: rating(5), Text: "Класс", CreatedAt: created,
			Answered: true, AnswerText: "Спасибо!",
		})
		engine := newEngine(fake)
		_, err := engine.Sync(ctx, "s1", models.ChannelReview, models.SyncModeFull)
		Expect(err).NotTo(HaveOccurred())

		fake.Put("s1", models.ChannelReview, marketplace.RawItem{
			ID: "edited", Rating: rating(5), Text: "Класс, беру ещё", CreatedAt: created,
			Answered: true, AnswerText: "Спасибо, ждём снова!",
		})
		result, err := engine.Sync(ctx, "s1", models.ChannelReview, models.SyncModeFull)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Updated).To(Equal(1))

		var in models.Interaction
		Expect(gdb.First(&in, "external_id = ?", "edited").Error).To(Succeed())
		Expect(in.AnswerText).To(Equal("Спасибо, ждём снова!"))

		messages, err := store.Messages(ctx, in.ID, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(messages).To(HaveLen(2))
		texts := map[models.MessageAuthor]string{}
		for _, m := range messages {
			texts[m.Author] = m.Text
		}
		Expect(texts).To(Equal(map[models.MessageAuthor]string{
			models.AuthorCustomer: "Класс, беру ещё",
			models.AuthorSeller:   "Спасибо, ждём снова!",
		}))
	})

	It("gives each answer state its own budget", func() {
		config.PageSize = 2
		config.IncrementalStateBudget = 3
		fake.Put("s1", models.ChannelReview, reviews(0, 10, false)...)
		fake.Put("s1", models.ChannelReview, reviews(10, 12, true)...)

		result, err := newEngine(fake).Sync(ctx, "s1", models.ChannelReview, models.SyncModeIncremental)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Fetched).To(Equal(5))
		Expect(cursor(models.SyncModeIncremental, marketplace.StateUnanswered)).To(Equal("3"))
		Expect(cursor(models.SyncModeIncremental, marketplace.StateAnswered)).To(Equal("12"))

		next, err := newEngine(fake).Sync(ctx, "s1", models.ChannelReview, models.SyncModeIncremental)
		Expect(err).NotTo(HaveOccurred())
		Expect(next.Created).To(Equal(3))
		Expect(cursor(models.SyncModeIncremental, marketplace.StateUnanswered)).To(Equal("6"))
	})

	It("keeps the watermark at the last committed page when the connector fails", func() {
		config.PageSize = 2
		fake.Put("s1", models.ChannelReview, reviews(0, 5, false)...)

		_, err := newEngine(&failingAfter{Connector: fake, n: 1}).Sync(ctx, "s1", models.ChannelReview, models.SyncModeIncremental)
		Expect(marketplace.IsTransient(err)).To(BeTrue())
		Expect(cursor(models.SyncModeIncremental, marketplace.StateUnanswered)).To(Equal("2"))
		Expect(count()).To(Equal(int64(2)))

		result, err := newEngine(fake).Sync(ctx, "s1", models.ChannelReview, models.SyncModeIncremental)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Created).To(Equal(3))
		Expect(count()).To(Equal(int64(5)))
	})

	It("refuses to overlap a running sync of the same feed", func() {
		lock, ok, err := locker.TryLock(ctx, "sync:s1:review:incremental", time.Minute)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())

		_, err = newEngine(fake).Sync(ctx, "s1", models.ChannelReview, models.SyncModeIncremental)
		Expect(err).To(MatchError(ingest.ErrSyncInProgress))
		Expect(fake.ListCalls()).To(BeZero())

		_, err = newEngine(fake).Sync(ctx, "s1", models.ChannelReview, models.SyncModeFull)
		Expect(err).NotTo(HaveOccurred())

		Expect(lock.Release(ctx)).To(Succeed())
	})
})
