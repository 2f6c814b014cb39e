package services_test

import (
	"time"

	"airnode/models"
	"airnode/services"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type recordingReporter struct {
	errs    []error
	details []map[string]string
	onFault func()
}

func (r *recordingReporter) HandleFault(err error, details map[string]string) models.Disposition {
	r.errs = append(r.errs, err)
	r.details = append(r.details, details)
	if r.onFault != nil {
		r.onFault()
	}
	return models.DispositionLogged
}

var _ = Describe("ConnectionManager", func() {
	var (
		clock    *fakeClock
		sctx     *services.SupervisorContext
		radio    *fakeRadio
		reporter *recordingReporter
		conn     *services.ConnectionManager
		ticks    int
	)

	BeforeEach(func() {
		clock = newFakeClock()
		sctx = newTestContext(clock)
		ticks = 0
		sctx.Scheduler.OnTick(func(time.Time) { ticks++ })

		radio = newFakeRadio()
		radio.networks = []models.Network{{SSID: "airnode-ap", RSSI: -60}}
		reporter = &recordingReporter{}
		conn = services.NewConnectionManager(sctx, radio, services.ConnectionConfig{
			SSID:       "airnode-ap",
			Passphrase: "secret",
			Base:       services.BasePolicy(3, time.Second, 2*time.Second),
		})
		conn.SetReporter(reporter)
	})

	It("should start idle with the standard policy", func() {
		Expect(conn.State()).To(Equal(models.StateIdle))
		Expect(conn.Policy().Strategy).To(Equal(services.StrategyStandard))
		Expect(conn.IsConnected()).To(BeFalse())
	})

	It("should activate the radio and connect", func() {
		Expect(conn.Connect(conn.Policy())).To(BeTrue())

		Expect(conn.State()).To(Equal(models.StateConnected))
		Expect(conn.IsConnected()).To(BeTrue())
		activate, connect, disconnect, _ := radio.calls()
		Expect(activate).To(Equal(1))
		Expect(connect).To(Equal(1))
		Expect(disconnect).To(BeZero())
		Expect(reporter.errs).To(BeEmpty())
	})

	It("should not touch the radio when already connected", func() {
		Expect(conn.Connect(conn.Policy())).To(BeTrue())
		activate, connect, disconnect, scan := radio.calls()

		Expect(conn.Connect(conn.Policy())).To(BeTrue())
		Expect(conn.ReconnectIfNeeded()).To(BeTrue())

		a, c, d, s := radio.calls()
		Expect([]int{a, c, d, s}).To(Equal([]int{activate, connect, disconnect, scan}))
	})

	It("should give up after the policy's attempts and report a single fault", func() {
		radio.onConnect = models.LinkConnectFail

		Expect(conn.Connect(conn.Policy())).To(BeFalse())

		Expect(conn.State()).To(Equal(models.StateFailed))
		_, connect, disconnect, _ := radio.calls()
		Expect(connect).To(Equal(3))
		// the failed session is cleared before each new request
		Expect(disconnect).To(Equal(2))

		Expect(reporter.errs).To(HaveLen(1))
		Expect(services.Classify(reporter.errs[0])).To(Equal(models.KindWifi))
		Expect(reporter.details[0]).To(HaveKeyWithValue("attempts", "3"))
		Expect(reporter.details[0]).To(HaveKeyWithValue("ssid", "airnode-ap"))
		Expect(reporter.details[0]).To(HaveKeyWithValue("strategy", "standard"))
	})

	It("should wait progressively longer between attempts through the scheduler", func() {
		radio.onConnect = models.LinkConnectFail

		conn.Connect(conn.Policy())

		// 1s after the first attempt, 2s after the second
		Expect(clock.Now().Sub(epoch)).To(Equal(3 * time.Second))
		Expect(ticks).To(BeNumerically(">=", 30))
	})

	It("should time out an association that never completes", func() {
		radio.onConnect = models.LinkConnecting

		Expect(conn.Connect(services.BasePolicy(1, time.Second, 2*time.Second))).To(BeFalse())

		Expect(clock.Now().Sub(epoch)).To(Equal(2 * time.Second))
		Expect(reporter.errs).To(HaveLen(1))
		Expect(reporter.errs[0].Error()).To(ContainSubstring("connection timeout"))
	})

	It("should report an activation failure as a wifi fault", func() {
		radio.activErr = errBoom

		Expect(conn.Connect(services.BasePolicy(1, time.Second, time.Second))).To(BeFalse())
		Expect(services.Classify(reporter.errs[0])).To(Equal(models.KindWifi))
	})

	It("should reject a connect while another is in flight", func() {
		radio.onConnect = models.LinkConnectFail
		var nested *bool
		reporter.onFault = func() {
			ok := conn.Connect(conn.Policy())
			nested = &ok
		}

		conn.Connect(services.BasePolicy(1, time.Second, time.Second))
		Expect(nested).NotTo(BeNil())
		Expect(*nested).To(BeFalse())
	})

	It("should notice a dropped link and fall back to idle", func() {
		Expect(conn.Connect(conn.Policy())).To(BeTrue())

		radio.setStatus(models.LinkConnectFail)
		Expect(conn.IsConnected()).To(BeFalse())
		Expect(conn.State()).To(Equal(models.StateIdle))
	})

	It("should reconnect when the link is down", func() {
		Expect(conn.ReconnectIfNeeded()).To(BeTrue())
		Expect(conn.State()).To(Equal(models.StateConnected))
	})

	It("should disconnect and return to idle", func() {
		Expect(conn.Connect(conn.Policy())).To(BeTrue())
		Expect(conn.Disconnect()).To(Succeed())
		Expect(conn.State()).To(Equal(models.StateIdle))
		Expect(radio.IsConnected()).To(BeFalse())
	})

	Describe("SelectStrategy", func() {
		rssi := func(v int32) *int32 { return &v }

		It("should go conservative when the target is missing", func() {
			Expect(conn.SelectStrategy(models.DiagnosticsReport{TargetFound: false})).To(Equal(services.StrategyConservative))
			Expect(conn.Policy().MaxRetries).To(Equal(1))
		})

		It("should go conservative on a weak signal", func() {
			Expect(conn.SelectStrategy(models.DiagnosticsReport{TargetFound: true, TargetRSSI: rssi(-82)})).To(Equal(services.StrategyConservative))
		})

		It("should go aggressive after a failed connect", func() {
			radio.onConnect = models.LinkConnectFail
			conn.Connect(services.BasePolicy(1, time.Second, time.Second))

			Expect(conn.SelectStrategy(models.DiagnosticsReport{TargetFound: true, TargetRSSI: rssi(-60)})).To(Equal(services.StrategyAggressive))
			Expect(conn.Policy().MaxRetries).To(Equal(6))
		})

		It("should stay standard otherwise", func() {
			Expect(conn.SelectStrategy(models.DiagnosticsReport{TargetFound: true, TargetRSSI: rssi(-60)})).To(Equal(services.StrategyStandard))
		})
	})
})
