package deskconfig_test

import (
	"io"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/lisanmuaddib/replydesk/internal/deskconfig"
)

var envKeys = []string{
	"HTTP_ADDR", "SELLER_IDS", "SYNC_CONCURRENCY", "AUTO_REPLY_DELAY", "AUTO_REPLY_DAILY_CAP",
	"AUTO_REPLY_MIN_RATING", "CHAT_SYNC_INTERVAL", "AUTO_REPLY_PLANNER_DISABLED",
}

func setEnv(key, value string) {
	Expect(os.Setenv(key, value)).To(Succeed())
}

var _ = Describe("DeskConfig", func() {
	BeforeEach(func() {
		for _, key := range envKeys {
			old, had := os.LookupEnv(key)
			Expect(os.Unsetenv(key)).To(Succeed())
			DeferCleanup(func() {
				if had {
					_ = os.Setenv(key, old)
				} else {
					_ = os.Unsetenv(key)
				}
			})
		}
	})

	It("applies defaults", func() {
		config, err := deskconfig.NewDeskConfig()
		Expect(err).NotTo(HaveOccurred())
		Expect(config.HTTPAddr).To(Equal(":8080"))
		Expect(config.SellerIDs).To(BeEmpty())
		Expect(config.AutoReplyDelay).To(Equal(5 * time.Minute))
		Expect(config.Schedule.Interval(deskconfig.TaskChatSync, 0)).To(Equal(time.Minute))
		Expect(config.Schedule.Interval(deskconfig.TaskReviewSync, 0)).To(Equal(10 * time.Minute))
		Expect(config.Schedule.Enabled(deskconfig.TaskPlanner)).To(BeTrue())
	})

	It("reads overrides and seeds clamped seller defaults", func() {
		setEnv("SELLER_IDS", " s1, s2 ,,")
		setEnv("AUTO_REPLY_DELAY", "90s")
		setEnv("AUTO_REPLY_DAILY_CAP", "7")
		setEnv("AUTO_REPLY_MIN_RATING", "3")
		setEnv("CHAT_SYNC_INTERVAL", "30s")

		config, err := deskconfig.NewDeskConfig()
		Expect(err).NotTo(HaveOccurred())
		Expect(config.SellerIDs).To(Equal([]string{"s1", "s2"}))
		Expect(config.Schedule.Interval(deskconfig.TaskChatSync, 0)).To(Equal(30 * time.Second))

		defaults := config.SellerDefaults("s1")
		Expect(defaults.SellerID).To(Equal("s1"))
		Expect(defaults.MinRating).To(Equal(4))
		Expect(defaults.DelaySeconds).To(Equal(90))
		Expect(defaults.DailyCap).To(Equal(7))
		Expect(defaults.AutoReplyEnabled).To(BeFalse())
	})

	It("rejects invalid values", func() {
		setEnv("SYNC_CONCURRENCY", "many")
		_, err := deskconfig.NewDeskConfig()
		Expect(err).To(MatchError(ContainSubstring("SYNC_CONCURRENCY")))

		setEnv("SYNC_CONCURRENCY", "2")
		setEnv("CHAT_SYNC_INTERVAL", "1s")
		_, err = deskconfig.NewDeskConfig()
		Expect(err).To(HaveOccurred())

		setEnv("CHAT_SYNC_INTERVAL", "1m")
		setEnv("AUTO_REPLY_MIN_RATING", "9")
		_, err = deskconfig.NewDeskConfig()
		Expect(err).To(MatchError(ContainSubstring("AUTO_REPLY_MIN_RATING")))
	})

	It("configures the enabled actions", func() {
		logger := logrus.New()
		logger.SetOutput(io.Discard)

		config, err := deskconfig.NewDeskConfig()
		Expect(err).NotTo(HaveOccurred())
		all, err := deskconfig.ConfigureActions(config, deskconfig.ActionConfig{Logger: logger})
		Expect(err).NotTo(HaveOccurred())
		names := []string{}
		for _, a := range all {
			names = append(names, a.Name())
		}
		Expect(names).To(ConsistOf(
			deskconfig.TaskChatSync, deskconfig.TaskReviewSync, deskconfig.TaskFullSync,
			deskconfig.TaskEscalation, deskconfig.TaskPlanner,
		))

		setEnv("AUTO_REPLY_PLANNER_DISABLED", "true")
		config, err = deskconfig.NewDeskConfig()
		Expect(err).NotTo(HaveOccurred())
		all, err = deskconfig.ConfigureActions(config, deskconfig.ActionConfig{Logger: logger})
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(HaveLen(4))
	})
})
