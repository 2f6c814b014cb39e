package services_test

import (
	"time"

	"airnode/models"
	"airnode/services"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
)

var _ = Describe("Blinker", func() {
	var (
		clock *fakeClock
		sched *services.Scheduler
		led   *fakeLED
	)

	BeforeEach(func() {
		clock = newFakeClock()
		sched = services.NewScheduler(clock, services.DefaultTick)
		led = &fakeLED{}
	})

	It("should flash the blink code of a kind followed by a pause", func() {
		services.NewBlinker(led, sched).Blink(models.KindWifi.BlinkCode())

		Expect(led.ons).To(Equal(5))
		Expect(clock.Now().Sub(epoch)).To(Equal(5*400*time.Millisecond + 800*time.Millisecond))
	})

	It("should fill one countdown second with fast flashes", func() {
		services.NewBlinker(led, sched).CountdownSecond()

		Expect(led.ons).To(Equal(5))
		Expect(clock.Now().Sub(epoch)).To(Equal(time.Second))
	})

	It("should still wait through the countdown without an LED", func() {
		b := services.NewBlinker(nil, sched)
		b.Blink(3)
		Expect(clock.Now()).To(Equal(epoch))

		b.CountdownSecond()
		Expect(clock.Now().Sub(epoch)).To(Equal(time.Second))
	})

	It("should accept a log-backed LED", func() {
		Expect(func() {
			services.NewBlinker(services.NewLogLED(zap.NewNop()), sched).Blink(1)
		}).NotTo(Panic())
	})
})
