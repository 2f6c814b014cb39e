package services_test

import (
	"context"
	"errors"
	"time"

	"airnode/services"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
)

var _ = Describe("Watchdog", func() {
	var (
		clock *fakeClock
		hw    *fakeHardwareWatchdog
		wd    *services.Watchdog
	)

	BeforeEach(func() {
		clock = newFakeClock()
		hw = &fakeHardwareWatchdog{}
		wd = services.NewWatchdog(hw, clock, nil)
	})

	It("should ignore feeds before it is armed", func() {
		wd.Feed()
		Expect(hw.feeds).To(BeZero())
		Expect(wd.Status().Armed).To(BeFalse())
	})

	It("should configure and start the hardware timer on Arm", func() {
		Expect(wd.Arm(8 * time.Second)).To(Succeed())

		Expect(hw.timeout).To(Equal(8 * time.Second))
		Expect(hw.started).To(BeTrue())
		status := wd.Status()
		Expect(status.Armed).To(BeTrue())
		Expect(status.Timeout).To(Equal(8 * time.Second))
		Expect(status.LastFeed).To(Equal(epoch))
	})

	It("should treat arming twice with the same timeout as a no-op", func() {
		Expect(wd.Arm(8 * time.Second)).To(Succeed())
		Expect(wd.Arm(8 * time.Second)).To(Succeed())
	})

	It("should refuse to re-arm with a different timeout", func() {
		Expect(wd.Arm(8 * time.Second)).To(Succeed())
		err := wd.Arm(16 * time.Second)
		Expect(errors.Is(err, services.ErrWatchdogArmed)).To(BeTrue())
		Expect(wd.Status().Timeout).To(Equal(8 * time.Second))
	})

	It("should reject a non-positive timeout", func() {
		Expect(wd.Arm(0)).NotTo(Succeed())
		Expect(hw.started).To(BeFalse())
	})

	It("should feed the hardware and record the feed time", func() {
		Expect(wd.Arm(8 * time.Second)).To(Succeed())
		clock.Advance(3 * time.Second)
		wd.Feed()

		Expect(hw.feeds).To(Equal(1))
		Expect(wd.Status().LastFeed).To(Equal(epoch.Add(3 * time.Second)))
	})
})

var _ = Describe("SoftWatchdog", func() {
	var (
		clock   *fakeClock
		expired int
		soft    *services.SoftWatchdog
	)

	BeforeEach(func() {
		clock = newFakeClock()
		expired = 0
		soft = services.NewSoftWatchdog(clock, zap.NewNop(), func() { expired++ })
		Expect(soft.Configure(8 * time.Second)).To(Succeed())
		Expect(soft.Start()).To(Succeed())
	})

	It("should never trip while fed more often than the timeout", func() {
		for i := 0; i < 100; i++ {
			clock.Advance(7 * time.Second)
			Expect(soft.Check()).To(BeFalse())
			soft.Feed()
		}
		Expect(expired).To(BeZero())
	})

	It("should trip once a feed is missed", func() {
		clock.Advance(7 * time.Second)
		soft.Feed()
		clock.Advance(8 * time.Second)

		Expect(soft.Expired(clock.Now())).To(BeTrue())
		Expect(soft.Check()).To(BeTrue())
		Expect(expired).To(Equal(1))
	})

	It("should stay tripped and call onExpire only once", func() {
		clock.Advance(9 * time.Second)
		Expect(soft.Check()).To(BeTrue())

		soft.Feed()
		Expect(soft.Expired(clock.Now())).To(BeTrue())
		Expect(soft.Check()).To(BeFalse())
		Expect(expired).To(Equal(1))
	})

	It("should refuse reconfiguration once running", func() {
		Expect(soft.Configure(time.Second)).NotTo(Succeed())
	})

	It("should not expire before it is started", func() {
		idle := services.NewSoftWatchdog(clock, nil, nil)
		Expect(idle.Configure(time.Second)).To(Succeed())
		clock.Advance(time.Hour)
		Expect(idle.Expired(clock.Now())).To(BeFalse())
	})

	It("should stop monitoring when the context is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			soft.Monitor(ctx, 10*time.Millisecond)
			close(done)
		}()
		cancel()
		Eventually(done).Should(BeClosed())
	})

	It("should drive the wrapper as its hardware timer", func() {
		hwClock := newFakeClock()
		trips := 0
		sw := services.NewSoftWatchdog(hwClock, nil, func() { trips++ })
		wd := services.NewWatchdog(sw, hwClock, nil)
		Expect(wd.Arm(4 * time.Second)).To(Succeed())

		hwClock.Advance(3 * time.Second)
		wd.Feed()
		hwClock.Advance(3 * time.Second)
		Expect(sw.Check()).To(BeFalse())

		hwClock.Advance(2 * time.Second)
		Expect(sw.Check()).To(BeTrue())
		Expect(trips).To(Equal(1))
	})
})
