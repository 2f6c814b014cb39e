package services_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"airnode/models"
	"airnode/services"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
)

type recordingBatchSink struct {
	mu       sync.Mutex
	batches  [][]*models.SensorReading
	failures int
}

func (s *recordingBatchSink) PublishBatch(_ context.Context, readings []*models.SensorReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("broker unavailable")
	}
	s.batches = append(s.batches, readings)
	return nil
}

func (s *recordingBatchSink) sizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int
	for _, b := range s.batches {
		out = append(out, len(b))
	}
	return out
}

var _ = Describe("ReadingBatcher", func() {
	var (
		sink   *recordingBatchSink
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		sink = &recordingBatchSink{}
		ctx, cancel = context.WithCancel(context.Background())
	})

	AfterEach(func() {
		cancel()
	})

	reading := func(id string) *models.SensorReading {
		return &models.SensorReading{DeviceID: id, Timestamp: 1700000000}
	}

	It("should flush as soon as a batch is full", func() {
		batcher := services.NewReadingBatcher(sink, 3, time.Hour, zap.NewNop())
		go batcher.Start(ctx)

		for _, id := range []string{"a", "b", "c"} {
			Expect(batcher.Publish(reading(id))).To(Succeed())
		}
		Eventually(sink.sizes).Should(Equal([]int{3}))
		Expect(batcher.GetBufferSize()).To(BeZero())
	})

	It("should flush a partial batch when the timeout passes", func() {
		batcher := services.NewReadingBatcher(sink, 10, 50*time.Millisecond, zap.NewNop())
		go batcher.Start(ctx)

		Expect(batcher.Publish(reading("a"))).To(Succeed())
		Eventually(sink.sizes, time.Second).Should(Equal([]int{1}))
	})

	It("should flush what is left on shutdown and refuse new readings", func() {
		batcher := services.NewReadingBatcher(sink, 10, time.Hour, zap.NewNop())
		go batcher.Start(ctx)

		Expect(batcher.Publish(reading("a"))).To(Succeed())
		Expect(batcher.Publish(reading("b"))).To(Succeed())
		cancel()

		Expect(batcher.WaitForShutdown(2 * time.Second)).To(BeTrue())
		Expect(sink.sizes()).To(Equal([]int{2}))
		Expect(batcher.Publish(reading("c"))).To(MatchError(services.ErrBatcherStopped))
	})

	It("should retry a batch the sink rejected", func() {
		sink.failures = 1
		batcher := services.NewReadingBatcher(sink, 1, time.Hour, zap.NewNop())
		go batcher.Start(ctx)

		Expect(batcher.Publish(reading("a"))).To(Succeed())
		Eventually(sink.sizes, 3*time.Second).Should(Equal([]int{1}))
	})

	It("should report a timeout when it was never started", func() {
		batcher := services.NewReadingBatcher(sink, 1, time.Hour, zap.NewNop())
		Expect(batcher.WaitForShutdown(10 * time.Millisecond)).To(BeFalse())
	})
})
