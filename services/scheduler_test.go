package services_test

import (
	"time"

	"airnode/services"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Scheduler", func() {
	var (
		clock *fakeClock
		sched *services.Scheduler
		ticks []time.Time
	)

	BeforeEach(func() {
		clock = newFakeClock()
		sched = services.NewScheduler(clock, 100*time.Millisecond)
		ticks = nil
		sched.OnTick(func(now time.Time) { ticks = append(ticks, now) })
	})

	It("should sleep in tick-sized slices and yield after each", func() {
		sched.Sleep(350 * time.Millisecond)

		Expect(clock.Now()).To(Equal(epoch.Add(350 * time.Millisecond)))
		Expect(ticks).To(HaveLen(4))
		Expect(ticks[3]).To(Equal(epoch.Add(350 * time.Millisecond)))
	})

	It("should run hooks on Yield without advancing time", func() {
		sched.Yield()
		Expect(ticks).To(Equal([]time.Time{epoch}))
	})

	It("should not yield for a zero sleep", func() {
		sched.Sleep(0)
		Expect(ticks).To(BeEmpty())
	})

	It("should fall back to the default tick", func() {
		s := services.NewScheduler(clock, 0)
		count := 0
		s.OnTick(func(time.Time) { count++ })
		s.Sleep(time.Second)
		Expect(count).To(Equal(int(time.Second / services.DefaultTick)))
	})
})
