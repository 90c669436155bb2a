package productcache_test

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/lisanmuaddib/replydesk/pkg/db"
	"github.com/lisanmuaddib/replydesk/pkg/productcache"
)

type fakeSource struct {
	mu       sync.Mutex
	products map[string]productcache.Product
	err      error
	calls    int
}

func (s *fakeSource) Fetch(ctx context.Context, id string) (productcache.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return productcache.Product{}, s.err
	}
	p, ok := s.products[id]
	if !ok {
		return productcache.Product{}, fmt.Errorf("%w: %s", productcache.ErrNotFound, id)
	}
	return p, nil
}

var _ = Describe("Cache", func() {
	var (
		gdb    *gorm.DB
		source *fakeSource
		logger *logrus.Logger
		ctx    context.Context
	)

	newCache := func(ttl time.Duration) *productcache.Cache {
		return productcache.NewCache(gdb, source, &productcache.CacheConfig{TTL: ttl, FetchTimeout: time.Second}, logger)
	}

	BeforeEach(func() {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
		var err error
		gdb, err = db.OpenSQLite(logger, ":memory:")
		Expect(err).NotTo(HaveOccurred())

		source = &fakeSource{products: map[string]productcache.Product{
			"p1": {ID: "p1", Name: "Чайник", Brand: "Тефаль", Attributes: map[string]string{"Объём": "1.7 л"}},
		}}
		ctx = context.Background()
	})

	It("reads through and then serves from the cache", func() {
		cache := newCache(time.Hour)

		first, err := cache.Get(ctx, "p1")
		Expect(err).NotTo(HaveOccurred())
		Expect(first.Product.Name).To(Equal("Чайник"))
		Expect(first.Stale).To(BeFalse())

		second, err := cache.Get(ctx, "p1")
		Expect(err).NotTo(HaveOccurred())
		Expect(second.Product.Attributes).To(HaveKeyWithValue("Объём", "1.7 л"))
		Expect(source.calls).To(Equal(1))
	})

	It("refreshes expired entries", func() {
		cache := newCache(time.Nanosecond)
		_, err := cache.Get(ctx, "p1")
		Expect(err).NotTo(HaveOccurred())

		source.products["p1"] = productcache.Product{ID: "p1", Name: "Чайник электрический"}
		lookup, err := cache.Get(ctx, "p1")
		Expect(err).NotTo(HaveOccurred())
		Expect(lookup.Product.Name).To(Equal("Чайник электрический"))
		Expect(source.calls).To(Equal(2))
	})

	It("serves a stale entry only when the source is unreachable", func() {
		cache := newCache(time.Nanosecond)
		_, err := cache.Get(ctx, "p1")
		Expect(err).NotTo(HaveOccurred())

		source.err = productcache.ErrUnreachable
		lookup, err := cache.Get(ctx, "p1")
		Expect(err).NotTo(HaveOccurred())
		Expect(lookup.Stale).To(BeTrue())
		Expect(lookup.Product.Name).To(Equal("Чайник"))
	})

	It("reports unreachable when nothing is cached", func() {
		source.err = productcache.ErrUnreachable
		_, err := newCache(time.Hour).Get(ctx, "p1")
		Expect(err).To(MatchError(productcache.ErrUnreachable))
	})

	It("evicts entries the source no longer knows", func() {
		cache := newCache(time.Nanosecond)
		_, err := cache.Get(ctx, "p1")
		Expect(err).NotTo(HaveOccurred())

		delete(source.products, "p1")
		_, err = cache.Get(ctx, "p1")
		Expect(err).To(MatchError(productcache.ErrNotFound))

		source.err = productcache.ErrUnreachable
		_, err = cache.Get(ctx, "p1")
		Expect(err).To(MatchError(productcache.ErrUnreachable))
	})
})

var _ = Describe("Product", func() {
	It("renders a stable summary", func() {
		p := productcache.Product{
			Name:       "Кроссовки",
			Brand:      "Run",
			Category:   "Обувь",
			Attributes: map[string]string{"Размер": "42", "Цвет": "белый"},
		}
		Expect(p.Summary()).To(Equal("Product: Кроссовки (Run)\nCategory: Обувь\nРазмер: 42\nЦвет: белый"))
	})
})
