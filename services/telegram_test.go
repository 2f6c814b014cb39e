package services

import (
	"time"

	"airnode/models"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Alert formatting", func() {
	reading := &models.SensorReading{
		DeviceID:     "node-7",
		Timestamp:    uint64(time.Date(2026, 10, 18, 9, 30, 0, 0, time.Local).Unix()),
		Fields:       map[string]float64{models.FieldTemperature: 47.2, models.FieldCO2: 2400},
		SensorErrors: 1,
	}

	It("should describe every anomaly with its severity", func() {
		msg := formatAnomalyMessage([]*models.Anomaly{
			{Type: models.CO2TooHigh, Description: "CO2 2400 ppm exceeds maximum threshold of 2000 ppm"},
			{Type: models.TemperatureTooHigh, Description: "Temperature too high"},
		}, reading)

		Expect(msg).To(ContainSubstring("<b>Device:</b> node-7"))
		Expect(msg).To(ContainSubstring("2026-10-18 09:30:00"))
		Expect(msg).To(ContainSubstring("co2: 2400"))
		Expect(msg).To(ContainSubstring("temperature: 47.2"))
		Expect(msg).To(ContainSubstring("sensor_errors: 1"))
		Expect(msg).To(ContainSubstring("[HIGH] <b>High CO2 Alert</b>"))
		Expect(msg).To(ContainSubstring("[HIGH] <b>High Temperature Alert</b>"))
	})

	It("should include the last heartbeat in a timeout message", func() {
		rssi := int32(-67)
		msg := formatTimeoutMessage("node-7", time.Date(2026, 10, 18, 9, 0, 0, 0, time.Local), 6*time.Minute, &models.NodeHeartbeat{
			WiFiConnected: true,
			UptimeMs:      int64(90 * time.Minute / time.Millisecond),
			RSSI:          &rssi,
			Status:        "faults wifi=3 | logged",
			ErrorCounts:   map[models.ErrorKind]uint32{models.KindWifi: 3, models.KindSensor: 1},
		})

		Expect(msg).To(ContainSubstring("6 min 0 sec"))
		Expect(msg).To(ContainSubstring("WiFi: ✅ Connected"))
		Expect(msg).To(ContainSubstring("MQTT: ❌ Disconnected"))
		Expect(msg).To(ContainSubstring("Uptime: 1 hr 30 min"))
		Expect(msg).To(ContainSubstring("RSSI: -67 dBm"))
		Expect(msg).To(ContainSubstring("faults wifi=3 | logged"))
		Expect(msg).To(MatchRegexp(`SENSOR: 1\n.*WIFI: 3`))
	})

	It("should omit the heartbeat section when none was received", func() {
		msg := formatTimeoutMessage("node-7", time.Now(), time.Minute, nil)
		Expect(msg).NotTo(ContainSubstring("Last Heartbeat"))
	})

	DescribeTable("durations",
		func(d time.Duration, want string) {
			Expect(formatDuration(d)).To(Equal(want))
		},
		Entry("seconds", 42*time.Second, "42 seconds"),
		Entry("minutes", 5*time.Minute+3*time.Second, "5 min 3 sec"),
		Entry("hours", 2*time.Hour+15*time.Minute, "2 hr 15 min"),
		Entry("days", 50*time.Hour, "2 days 2 hr"),
	)

	It("should title unknown anomaly types generically", func() {
		Expect(anomalyTitle("mystery")).To(Equal("Sensor Alert"))
	})

	It("should pick the most severe level", func() {
		Expect(highestSeverity([]*models.Anomaly{{Type: models.SensorErrorsHigh}, {Type: models.HumidityTooLow}})).To(Equal("medium"))
		Expect(highestSeverity([]*models.Anomaly{{Type: models.SensorErrorsHigh}})).To(Equal("low"))
	})
})
