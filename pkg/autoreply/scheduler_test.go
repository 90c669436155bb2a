package autoreply_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/lisanmuaddib/replydesk/pkg/autoreply"
	"github.com/lisanmuaddib/replydesk/pkg/db/models"
	"github.com/lisanmuaddib/replydesk/pkg/marketplace"
	"github.com/lisanmuaddib/replydesk/pkg/marketplace/marketplacetest"
	"github.com/lisanmuaddib/replydesk/pkg/memory"
)

const goodDraft = "Спасибо за высокую оценку! Рады, что покупка понравилась."

type rawSettings struct {
	settings models.SellerSettings
}

func (r *rawSettings) Get(_ context.Context, _ string) (models.SellerSettings, error) {
	return r.settings, nil
}

// interruptingSender simulates a shutdown that lands while the request is in flight
type interruptingSender struct {
	cancel context.CancelFunc
	calls  int
}

func (s *interruptingSender) SendReply(ctx context.Context, _ string, _ models.Channel, _, _ string) (marketplace.Ack, error) {
	s.calls++
	s.cancel()
	return marketplace.Ack{}, ctx.Err()
}

var _ = Describe("Scheduler", func() {
	var (
		gdb       *gorm.DB
		logger    *logrus.Logger
		ctx       context.Context
		clock     *fakeClock
		connector *marketplacetest.Connector
		settings  *memory.SettingsStore
		scheduler *autoreply.Scheduler
		seq       int
	)

	seedReview := func(rating int, text string) *models.Interaction {
		seq++
		now := clock.Now()
		in := &models.Interaction{
			ID:            fmt.Sprintf("int-%d", seq),
			ExternalID:    fmt.Sprintf("ext-%d", seq),
			SellerID:      "s1",
			Channel:       models.ChannelReview,
			Rating:        &rating,
			Text:          text,
			OccurredAt:    now,
			Status:        models.StatusOpen,
			NeedsResponse: true,
			Priority:      models.PriorityNormal,
			Deadline:      now.Add(24 * time.Hour),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		Expect(gdb.Create(in).Error).To(Succeed())
		return in
	}

	saveSettings := func(enabled bool, minRating, delaySeconds, dailyCap int) {
		_, err := settings.Save(ctx, models.SellerSettings{
			SellerID:         "s1",
			SyncEnabled:      true,
			AutoReplyEnabled: enabled,
			MinRating:        minRating,
			DelaySeconds:     delaySeconds,
			DailyCap:         dailyCap,
		})
		Expect(err).NotTo(HaveOccurred())
	}

	newScheduler := func(reader autoreply.SettingsReader) *autoreply.Scheduler {
		s, err := autoreply.NewScheduler(gdb, reader, connector, autoreply.DefaultConfig(logger), autoreply.WithClock(clock.Now))
		Expect(err).NotTo(HaveOccurred())
		return s
	}

	loadJob := func(id string) models.AutoReplyJob {
		var job models.AutoReplyJob
		Expect(gdb.First(&job, "id = ?", id).Error).To(Succeed())
		return job
	}

	loadInteraction := func(id string) models.Interaction {
		var in models.Interaction
		Expect(gdb.First(&in, "id = ?", id).Error).To(Succeed())
		return in
	}

	BeforeEach(func() {
		gdb, logger = openTestDB()
		ctx = context.Background()
		clock = &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
		connector = marketplacetest.New()
		settings = memory.NewSettingsStore(gdb)
		saveSettings(true, 4, 3600, 50)
		scheduler = newScheduler(settings)
	})

	AfterEach(func() {
		scheduler.Stop()
	})

	Describe("Schedule", func() {
		It("reserves the token and creates a pending job after the delay", func() {
			in := seedReview(5, "Отличный товар")

			job, err := scheduler.Schedule(ctx, in.ID, goodDraft)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.Status).To(Equal(models.JobPending))
			Expect(job.ScheduledAt).To(Equal(clock.Now().Add(time.Hour)))
			Expect(loadInteraction(in.ID).AutoReplyToken).To(Equal(job.Token))
			Expect(scheduler.Armed()).To(Equal(1))
		})

		It("refuses a 3-star review and creates nothing", func() {
			in := seedReview(3, "Нормально")

			_, err := scheduler.Schedule(ctx, in.ID, goodDraft)
			Expect(err).To(MatchError(autoreply.ErrIneligible))

			var jobs int64
			Expect(gdb.Model(&models.AutoReplyJob{}).Count(&jobs).Error).To(Succeed())
			Expect(jobs).To(BeZero())
			Expect(loadInteraction(in.ID).AutoReplyToken).To(BeEmpty())
		})

		It("refuses reviews with a complaint, disabled sellers and invalid drafts", func() {
			complaint := seedReview(5, "Хорошо, но пришёл брак")
			_, err := scheduler.Schedule(ctx, complaint.ID, goodDraft)
			Expect(err).To(MatchError(autoreply.ErrIneligible))

			positive := seedReview(5, "Отлично")
			_, err = scheduler.Schedule(ctx, positive.ID, "Спасибо! Вернём деньги за следующий заказ.")
			Expect(err).To(MatchError(autoreply.ErrIneligible))

			saveSettings(false, 4, 3600, 50)
			_, err = scheduler.Schedule(ctx, positive.ID, goodDraft)
			Expect(err).To(MatchError(autoreply.ErrIneligible))
		})

		It("refuses a five-star review whose only negative signal is a contrast", func() {
			in := seedReview(5, "Отлично, но размер маловат")

			_, err := scheduler.Schedule(ctx, in.ID, goodDraft)
			Expect(err).To(MatchError(autoreply.ErrIneligible))
			Expect(err.Error()).To(ContainSubstring(`"но"`))

			ok, reason := autoreply.Eligible(in, models.SellerSettings{AutoReplyEnabled: true, MinRating: 4})
			Expect(ok).To(BeFalse())
			Expect(reason).NotTo(BeEmpty())

			var jobs int64
			Expect(gdb.Model(&models.AutoReplyJob{}).Count(&jobs).Error).To(Succeed())
			Expect(jobs).To(BeZero())
			Expect(loadInteraction(in.ID).AutoReplyToken).To(BeEmpty())
		})

		It("rejects a second schedule while one is active", func() {
			in := seedReview(5, "Отлично")
			_, err := scheduler.Schedule(ctx, in.ID, goodDraft)
			Expect(err).NotTo(HaveOccurred())

			_, err = scheduler.Schedule(ctx, in.ID, goodDraft)
			Expect(err).To(MatchError(autoreply.ErrAlreadyScheduled))
		})

		It("keeps at most one active job under concurrent schedules", func() {
			in := seedReview(5, "Отлично")

			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				successes int
				conflicts int
			)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := scheduler.Schedule(ctx, in.ID, goodDraft)
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						successes++
					case errors.Is(err, autoreply.ErrAlreadyScheduled):
						conflicts++
					}
				}()
			}
			wg.Wait()

			Expect(successes).To(Equal(1))
			Expect(conflicts).To(Equal(7))
			var pending int64
			Expect(gdb.Model(&models.AutoReplyJob{}).Where("status = ?", models.JobPending).Count(&pending).Error).To(Succeed())
			Expect(pending).To(Equal(int64(1)))
		})
	})

	Describe("hard floor", func() {
		for _, configured := range []int{0, 1, 2, 3, 4, 5} {
			configured := configured
			It(fmt.Sprintf("never schedules below four stars when min_rating is configured as %d", configured), func() {
				scheduler.Stop()
				scheduler = newScheduler(&rawSettings{settings: models.SellerSettings{
					SellerID: "s1", AutoReplyEnabled: true, MinRating: configured, DelaySeconds: 3600, DailyCap: 50,
				}})

				for rating := 1; rating <= 5; rating++ {
					in := seedReview(rating, "Отлично")
					_, err := scheduler.Schedule(ctx, in.ID, goodDraft)
					expected := configured
					if expected < 4 {
						expected = 4
					}
					if rating >= expected {
						Expect(err).NotTo(HaveOccurred(), "rating %d", rating)
					} else {
						Expect(err).To(MatchError(autoreply.ErrIneligible), "rating %d", rating)
						Expect(loadInteraction(in.ID).AutoReplyToken).To(BeEmpty())
					}
				}
			})
		}

		It("is enforced by the storage layer as well", func() {
			in := seedReview(3, "Нормально")
			err := gdb.Model(&models.Interaction{}).Where("id = ?", in.ID).Update("auto_reply_token", "forged").Error
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Cancel", func() {
		It("cancels the pending job when the seller answers manually", func() {
			in := seedReview(5, "Отлично")
			job, err := scheduler.Schedule(ctx, in.ID, goodDraft)
			Expect(err).NotTo(HaveOccurred())

			store := memory.NewInteractionStore(logger, gdb)
			Expect(store.MarkResponded(ctx, in.ID, "Спасибо!", models.StatusResponded)).To(Succeed())
			Expect(scheduler.Cancel(ctx, in.ID, "manual reply")).To(Succeed())

			clock.Advance(2 * time.Hour)
			Expect(scheduler.Fire(ctx, job.ID)).To(Succeed())

			Expect(loadJob(job.ID).Status).To(Equal(models.JobCancelled))
			Expect(connector.Sent()).To(BeEmpty())
			Expect(loadInteraction(in.ID).Status).To(Equal(models.StatusResponded))
			Expect(scheduler.Armed()).To(BeZero())
		})

		It("is a no-op when nothing is scheduled", func() {
			in := seedReview(5, "Отлично")
			Expect(scheduler.Cancel(ctx, in.ID, "manual")).To(Succeed())
			Expect(scheduler.Cancel(ctx, "missing", "manual")).To(MatchError(memory.ErrNotFound))
		})

		It("cancels every pending job of a seller", func() {
			first := seedReview(5, "Отлично")
			second := seedReview(4, "Хорошая вещь")
			_, err := scheduler.Schedule(ctx, first.ID, goodDraft)
			Expect(err).NotTo(HaveOccurred())
			_, err = scheduler.Schedule(ctx, second.ID, goodDraft)
			Expect(err).NotTo(HaveOccurred())

			n, err := scheduler.CancelSeller(ctx, "s1", "kill switch")
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(2))
			Expect(loadInteraction(first.ID).AutoReplyToken).To(BeEmpty())
			Expect(loadInteraction(second.ID).AutoReplyToken).To(BeEmpty())
			Expect(scheduler.Armed()).To(BeZero())
		})
	})

	Describe("Fire", func() {
		It("sends when the timer elapses", func() {
			saveSettings(true, 4, 0, 50)
			in := seedReview(5, "Отлично")

			job, err := scheduler.Schedule(ctx, in.ID, goodDraft)
			Expect(err).NotTo(HaveOccurred())

			Eventually(connector.Sent).Should(HaveLen(1))
			Eventually(func() models.JobStatus { return loadJob(job.ID).Status }).Should(Equal(models.JobSent))

			answered := loadInteraction(in.ID)
			Expect(answered.Status).To(Equal(models.StatusAutoResponse))
			Expect(answered.NeedsResponse).To(BeFalse())
			Expect(answered.AutoReplyToken).To(BeEmpty())
			Expect(answered.AnswerText).To(Equal(goodDraft))
			Expect(connector.Sent()[0].ExternalID).To(Equal(in.ExternalID))

			count, err := scheduler.Counter().Count(ctx, "s1", autoreply.Day(clock.Now()))
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(1))
		})

		It("waits when fired early", func() {
			in := seedReview(5, "Отлично")
			job, err := scheduler.Schedule(ctx, in.ID, goodDraft)
			Expect(err).NotTo(HaveOccurred())

			Expect(scheduler.Fire(ctx, job.ID)).To(Succeed())
			Expect(loadJob(job.ID).Status).To(Equal(models.JobPending))
			Expect(connector.Sent()).To(BeEmpty())
		})

		It("cancels a job whose token was revoked", func() {
			in := seedReview(5, "Отлично")
			job, err := scheduler.Schedule(ctx, in.ID, goodDraft)
			Expect(err).NotTo(HaveOccurred())
			Expect(gdb.Model(&models.Interaction{}).Where("id = ?", in.ID).Update("auto_reply_token", "").Error).To(Succeed())

			clock.Advance(2 * time.Hour)
			Expect(scheduler.Fire(ctx, job.ID)).To(Succeed())
			Expect(loadJob(job.ID).Status).To(Equal(models.JobCancelled))
			Expect(connector.Sent()).To(BeEmpty())
		})

		It("blocks when the draft no longer validates", func() {
			in := seedReview(5, "Отлично")
			job, err := scheduler.Schedule(ctx, in.ID, goodDraft)
			Expect(err).NotTo(HaveOccurred())
			Expect(gdb.Model(&models.AutoReplyJob{}).Where("id = ?", job.ID).Update("draft_text", "Этот ответ написал бот.").Error).To(Succeed())

			clock.Advance(2 * time.Hour)
			Expect(scheduler.Fire(ctx, job.ID)).To(Succeed())

			blocked := loadJob(job.ID)
			Expect(blocked.Status).To(Equal(models.JobBlocked))
			Expect(blocked.Violations).NotTo(BeEmpty())
			Expect(loadInteraction(in.ID).AutoReplyToken).To(BeEmpty())
			Expect(connector.Sent()).To(BeEmpty())
		})

		It("blocks when the seller disabled auto-reply meanwhile", func() {
			in := seedReview(5, "Отлично")
			job, err := scheduler.Schedule(ctx, in.ID, goodDraft)
			Expect(err).NotTo(HaveOccurred())
			saveSettings(false, 4, 3600, 50)

			clock.Advance(2 * time.Hour)
			Expect(scheduler.Fire(ctx, job.ID)).To(Succeed())
			Expect(loadJob(job.ID).Status).To(Equal(models.JobBlocked))
			Expect(connector.Sent()).To(BeEmpty())
		})

		It("defers to the next day once the daily cap is reached", func() {
			saveSettings(true, 4, 3600, 1)
			first := seedReview(5, "Отлично")
			second := seedReview(5, "Супер")
			firstJob, err := scheduler.Schedule(ctx, first.ID, goodDraft)
			Expect(err).NotTo(HaveOccurred())
			secondJob, err := scheduler.Schedule(ctx, second.ID, goodDraft)
			Expect(err).NotTo(HaveOccurred())

			clock.Advance(2 * time.Hour)
			Expect(scheduler.Fire(ctx, firstJob.ID)).To(Succeed())
			Expect(scheduler.Fire(ctx, secondJob.ID)).To(Succeed())

			Expect(connector.Sent()).To(HaveLen(1))
			deferred := loadJob(secondJob.ID)
			Expect(deferred.Status).To(Equal(models.JobPending))
			Expect(deferred.ScheduledAt).To(Equal(time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)))

			clock.Advance(12 * time.Hour)
			Expect(scheduler.Fire(ctx, secondJob.ID)).To(Succeed())
			Expect(connector.Sent()).To(HaveLen(2))
			Expect(loadJob(secondJob.ID).Status).To(Equal(models.JobSent))
		})

		It("retries transport failures with a refund, then fails", func() {
			in := seedReview(5, "Отлично")
			job, err := scheduler.Schedule(ctx, in.ID, goodDraft)
			Expect(err).NotTo(HaveOccurred())
			unavailable := &marketplace.TransientError{StatusCode: 503, Err: errors.New("unavailable")}
			connector.FailSendNext(unavailable, unavailable, unavailable)

			clock.Advance(2 * time.Hour)
			Expect(scheduler.Fire(ctx, job.ID)).To(Succeed())

			retrying := loadJob(job.ID)
			Expect(retrying.Status).To(Equal(models.JobPending))
			Expect(retrying.AttemptCount).To(Equal(1))
			Expect(retrying.ScheduledAt).To(Equal(clock.Now().Add(30 * time.Second)))
			count, err := scheduler.Counter().Count(ctx, "s1", autoreply.Day(clock.Now()))
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(BeZero())

			clock.Advance(time.Minute)
			Expect(scheduler.Fire(ctx, job.ID)).To(Succeed())
			clock.Advance(2 * time.Minute)
			Expect(scheduler.Fire(ctx, job.ID)).To(Succeed())

			failed := loadJob(job.ID)
			Expect(failed.Status).To(Equal(models.JobFailed))
			Expect(failed.AttemptCount).To(Equal(3))
			Expect(loadInteraction(in.ID).AutoReplyToken).To(BeEmpty())
			Expect(connector.Sent()).To(BeEmpty())
		})

		It("fails at once on a permanent upstream error", func() {
			in := seedReview(5, "Отлично")
			job, err := scheduler.Schedule(ctx, in.ID, goodDraft)
			Expect(err).NotTo(HaveOccurred())
			connector.FailSendNext(&marketplace.APIError{StatusCode: 400, Code: "bad_request", Message: "reply too long"})

			clock.Advance(2 * time.Hour)
			Expect(scheduler.Fire(ctx, job.ID)).To(Succeed())
			Expect(loadJob(job.ID).Status).To(Equal(models.JobFailed))
		})

		It("reports unknown jobs", func() {
			Expect(scheduler.Fire(ctx, "missing")).To(MatchError(autoreply.ErrJobNotFound))
		})
	})

	Describe("Block", func() {
		It("records a terminal blocked job without reserving a token", func() {
			in := seedReview(5, "Отлично, но размер маловат")

			job, err := scheduler.Block(ctx, in.ID, "", "review contains a contrast signal", []string{"negative signal"})
			Expect(err).NotTo(HaveOccurred())

			blocked := loadJob(job.ID)
			Expect(blocked.Status).To(Equal(models.JobBlocked))
			Expect(blocked.LastError).To(Equal("review contains a contrast signal"))
			Expect([]string(blocked.Violations)).To(Equal([]string{"negative signal"}))
			Expect(loadInteraction(in.ID).AutoReplyToken).To(BeEmpty())
			Expect(scheduler.Armed()).To(BeZero())
		})

		It("leaves an active job alone", func() {
			in := seedReview(5, "Отлично")
			_, err := scheduler.Schedule(ctx, in.ID, goodDraft)
			Expect(err).NotTo(HaveOccurred())

			_, err = scheduler.Block(ctx, in.ID, goodDraft, "draft failed validation", nil)
			Expect(err).To(MatchError(autoreply.ErrAlreadyScheduled))
		})
	})

	Describe("Restore", func() {
		It("re-arms pending jobs after a restart", func() {
			in := seedReview(5, "Отлично")
			_, err := scheduler.Schedule(ctx, in.ID, goodDraft)
			Expect(err).NotTo(HaveOccurred())
			scheduler.Stop()

			scheduler = newScheduler(settings)
			n, err := scheduler.Restore(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))
			Expect(scheduler.Armed()).To(Equal(1))
		})

		It("fails a job interrupted after its attempt was claimed instead of sending it again", func() {
			in := seedReview(5, "Отлично")
			job, err := scheduler.Schedule(ctx, in.ID, goodDraft)
			Expect(err).NotTo(HaveOccurred())
			scheduler.Stop()

			sendCtx, cancel := context.WithCancel(ctx)
			sender := &interruptingSender{cancel: cancel}
			interrupted, err := autoreply.NewScheduler(gdb, settings, sender, autoreply.DefaultConfig(logger), autoreply.WithClock(clock.Now))
			Expect(err).NotTo(HaveOccurred())

			clock.Advance(2 * time.Hour)
			Expect(interrupted.Fire(sendCtx, job.ID)).To(MatchError(context.Canceled))
			Expect(sender.calls).To(Equal(1))
			Expect(loadJob(job.ID).Status).To(Equal(models.JobPending))

			// a second fire in the same process does not retry an unresolved attempt
			Expect(interrupted.Fire(ctx, job.ID)).To(Succeed())
			Expect(sender.calls).To(Equal(1))
			interrupted.Stop()

			scheduler = newScheduler(settings)
			n, err := scheduler.Restore(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())
			Expect(scheduler.Armed()).To(BeZero())

			failed := loadJob(job.ID)
			Expect(failed.Status).To(Equal(models.JobFailed))
			Expect(failed.LastError).To(ContainSubstring("outcome unknown"))
			Expect(loadInteraction(in.ID).AutoReplyToken).To(BeEmpty())
			Expect(connector.Sent()).To(BeEmpty())
		})
	})
})
