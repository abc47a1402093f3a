package graphrag_test

import (
	"context"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"github.com/buildforge/buildforge/pkg/graphrag"
)

var _ = Describe("ContextCache", func() {
	var mr *miniredis.Miniredis
	var cache *graphrag.ContextCache

	BeforeEach(func() {
		var err error
		mr, err = miniredis.Run()
		Expect(err).ToNot(HaveOccurred())
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		cache = graphrag.NewContextCache(client, nil)
	})

	AfterEach(func() {
		mr.Close()
	})

	It("misses before anything is cached", func() {
		_, ok := cache.Get(context.Background(), "run-1", "orders")
		Expect(ok).To(BeFalse())
	})

	It("round-trips a set value", func() {
		cache.Set(context.Background(), "run-1", "orders", "## Service Dependencies\n")
		val, ok := cache.Get(context.Background(), "run-1", "orders")
		Expect(ok).To(BeTrue())
		Expect(val).To(Equal("## Service Dependencies\n"))
	})

	It("keys are isolated per run and per service", func() {
		cache.Set(context.Background(), "run-1", "orders", "a")
		cache.Set(context.Background(), "run-2", "orders", "b")
		cache.Set(context.Background(), "run-1", "billing", "c")

		v1, _ := cache.Get(context.Background(), "run-1", "orders")
		v2, _ := cache.Get(context.Background(), "run-2", "orders")
		v3, _ := cache.Get(context.Background(), "run-1", "billing")
		Expect(v1).To(Equal("a"))
		Expect(v2).To(Equal("b"))
		Expect(v3).To(Equal("c"))
	})

	It("Invalidate removes cached entries for the named services only", func() {
		cache.Set(context.Background(), "run-1", "orders", "a")
		cache.Set(context.Background(), "run-1", "billing", "b")
		cache.Invalidate(context.Background(), "run-1", []string{"orders"})

		_, ok := cache.Get(context.Background(), "run-1", "orders")
		Expect(ok).To(BeFalse())
		v, ok := cache.Get(context.Background(), "run-1", "billing")
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal("b"))
	})

	It("a nil cache is a safe no-op", func() {
		var nilCache *graphrag.ContextCache
		nilCache.Set(context.Background(), "run-1", "orders", "x")
		_, ok := nilCache.Get(context.Background(), "run-1", "orders")
		Expect(ok).To(BeFalse())
	})
})
