package services_test

import (
	"airnode/config"
	"airnode/models"
	"airnode/services"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("AnomalyDetector", func() {
	var detector *services.AnomalyDetector

	BeforeEach(func() {
		detector = services.NewAnomalyDetector(config.Default())
	})

	reading := func(fields map[string]float64, sensorErrors uint32) *models.SensorReading {
		return &models.SensorReading{
			DeviceID:     "node-1",
			Timestamp:    1700000000,
			Fields:       fields,
			SensorErrors: sensorErrors,
		}
	}

	types := func(anomalies []*models.Anomaly) []models.AnomalyType {
		var out []models.AnomalyType
		for _, a := range anomalies {
			out = append(out, a.Type)
		}
		return out
	}

	It("should accept a reading inside every range", func() {
		r := reading(map[string]float64{
			models.FieldTemperature: 21.5,
			models.FieldHumidity:    45,
			models.FieldCO2:         600,
		}, 0)
		Expect(detector.DetectAnomalies(r)).To(BeEmpty())
		Expect(detector.IsAnomalous(r)).To(BeFalse())
	})

	DescribeTable("out of range values",
		func(fields map[string]float64, sensorErrors uint32, expected models.AnomalyType) {
			Expect(types(detector.DetectAnomalies(reading(fields, sensorErrors)))).To(ConsistOf(expected))
		},
		Entry("hot", map[string]float64{models.FieldTemperature: 48}, uint32(0), models.TemperatureTooHigh),
		Entry("cold", map[string]float64{models.FieldTemperature: -12}, uint32(0), models.TemperatureTooLow),
		Entry("damp", map[string]float64{models.FieldHumidity: 95}, uint32(0), models.HumidityTooHigh),
		Entry("dry", map[string]float64{models.FieldHumidity: 5}, uint32(0), models.HumidityTooLow),
		Entry("stuffy", map[string]float64{models.FieldCO2: 2400}, uint32(0), models.CO2TooHigh),
		Entry("stale sensors", map[string]float64{}, uint32(4), models.SensorErrorsHigh),
	)

	It("should not flag values exactly at a threshold", func() {
		r := reading(map[string]float64{
			models.FieldTemperature: 45,
			models.FieldHumidity:    10,
			models.FieldCO2:         2000,
		}, 3)
		Expect(detector.DetectAnomalies(r)).To(BeEmpty())
	})

	It("should skip fields the node did not send", func() {
		r := reading(map[string]float64{models.FieldPressure: 1013}, 0)
		Expect(detector.DetectAnomalies(r)).To(BeEmpty())
	})

	It("should describe the anomaly with its value and threshold", func() {
		anomalies := detector.DetectAnomalies(reading(map[string]float64{models.FieldCO2: 2400}, 0))
		Expect(anomalies).To(HaveLen(1))
		a := anomalies[0]
		Expect(a.DeviceID).To(Equal("node-1"))
		Expect(a.Value).To(Equal(2400.0))
		Expect(a.Threshold).To(Equal(2000.0))
		Expect(a.Description).To(ContainSubstring("2400 ppm"))
		Expect(a.Severity()).To(Equal("high"))
		Expect(a.Timestamp.Unix()).To(Equal(int64(1700000000)))
	})
})
