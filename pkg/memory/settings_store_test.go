package memory_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lisanmuaddib/replydesk/pkg/db/models"
	"github.com/lisanmuaddib/replydesk/pkg/memory"
)

var _ = Describe("SettingsStore", func() {
	var (
		store *memory.SettingsStore
		ctx   context.Context
	)

	BeforeEach(func() {
		gdb, _ := openTestDB()
		store = memory.NewSettingsStore(gdb)
		ctx = context.Background()
	})

	It("returns defaults for unknown sellers", func() {
		settings, err := store.Get(ctx, "s1")
		Expect(err).NotTo(HaveOccurred())
		Expect(settings.AutoReplyEnabled).To(BeFalse())
		Expect(settings.MinRating).To(Equal(5))
		Expect(settings.SyncEnabled).To(BeTrue())
	})

	DescribeTable("clamps the minimum rating to the hard floor",
		func(requested, stored int) {
			saved, err := store.Save(ctx, models.SellerSettings{SellerID: "s1", MinRating: requested, AutoReplyEnabled: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(saved.MinRating).To(Equal(stored))

			loaded, err := store.Get(ctx, "s1")
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.MinRating).To(Equal(stored))
		},
		Entry("zero", 0, 4),
		Entry("one", 1, 4),
		Entry("three", 3, 4),
		Entry("four", 4, 4),
		Entry("five", 5, 5),
		Entry("above range", 9, 5),
	)

	It("stores false flags and zero values as given", func() {
		_, err := store.Save(ctx, models.SellerSettings{SellerID: "s1", SyncEnabled: false, DelaySeconds: 0, DailyCap: 0, MinRating: 5})
		Expect(err).NotTo(HaveOccurred())

		loaded, err := store.Get(ctx, "s1")
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.SyncEnabled).To(BeFalse())
		Expect(loaded.DelaySeconds).To(BeZero())

		sellers, err := store.SyncSellers(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(sellers).To(BeEmpty())
	})

	It("seeds defaults without overwriting", func() {
		_, err := store.Save(ctx, models.SellerSettings{SellerID: "s1", SyncEnabled: true, AutoReplyEnabled: true, MinRating: 4})
		Expect(err).NotTo(HaveOccurred())
		Expect(store.Ensure(ctx, "s1", "s2")).To(Succeed())

		s1, err := store.Get(ctx, "s1")
		Expect(err).NotTo(HaveOccurred())
		Expect(s1.AutoReplyEnabled).To(BeTrue())

		sellers, err := store.SyncSellers(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(sellers).To(Equal([]string{"s1", "s2"}))

		auto, err := store.AutoReplySellers(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(auto).To(Equal([]string{"s1"}))
	})

	It("seeds caller-provided defaults clamped to the floor", func() {
		defaults := func(id string) models.SellerSettings {
			return models.SellerSettings{SyncEnabled: true, AutoReplyEnabled: true, MinRating: 2, DelaySeconds: 60, DailyCap: 5}
		}
		Expect(store.EnsureWith(ctx, defaults, "s3")).To(Succeed())

		s3, err := store.Get(ctx, "s3")
		Expect(err).NotTo(HaveOccurred())
		Expect(s3.SellerID).To(Equal("s3"))
		Expect(s3.MinRating).To(Equal(4))
		Expect(s3.DelaySeconds).To(Equal(60))
		Expect(s3.DailyCap).To(Equal(5))
	})
})
