package ratelimit_test

import (
	"context"
	"io"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/lisanmuaddib/replydesk/pkg/ratelimit"
)

var _ = Describe("Registry", func() {
	var registry *ratelimit.Registry

	BeforeEach(func() {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		registry = ratelimit.NewRegistry(ratelimit.Config{
			RequestsPerSecond: 0.01,
			Burst:             2,
			Logger:            logger,
		})
	})

	It("spends the burst and then refuses", func() {
		Expect(registry.Allow("s1")).To(BeTrue())
		Expect(registry.Allow("s1")).To(BeTrue())
		Expect(registry.Allow("s1")).To(BeFalse())
	})

	It("keeps sellers independent", func() {
		Expect(registry.Allow("s1")).To(BeTrue())
		Expect(registry.Allow("s1")).To(BeTrue())
		Expect(registry.Allow("s2")).To(BeTrue())
	})

	It("returns promptly when the context expires while waiting", func() {
		Expect(registry.Allow("s1")).To(BeTrue())
		Expect(registry.Allow("s1")).To(BeTrue())

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		Expect(registry.Wait(ctx, "s1")).To(HaveOccurred())
	})

	It("does not block while tokens remain", func() {
		Expect(registry.Wait(context.Background(), "s3")).To(Succeed())
	})

	It("applies per-seller overrides", func() {
		registry.SetLimit("vip", 1000, 10)
		for i := 0; i < 10; i++ {
			Expect(registry.Allow("vip")).To(BeTrue())
		}
	})
})
