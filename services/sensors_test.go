package services_test

import (
	"encoding/json"
	"errors"
	"math"

	"airnode/models"
	"airnode/services"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("SensorCollector", func() {
	var (
		climate   *stubDriver
		co2       *stubDriver
		collector *services.SensorCollector
	)

	BeforeEach(func() {
		climate = &stubDriver{name: "bme680", values: map[string]float64{
			models.FieldTemperature: 21.5,
			models.FieldHumidity:    48,
		}}
		co2 = &stubDriver{name: "mhz19", values: map[string]float64{models.FieldCO2: 612}}
		collector = services.NewSensorCollector(newTestContext(newFakeClock()), climate, co2)
	})

	It("should merge every driver into one reading", func() {
		reading, faults := collector.Collect()

		Expect(faults).To(BeEmpty())
		Expect(reading.DeviceID).To(Equal("node-test"))
		Expect(reading.Timestamp).To(Equal(uint64(epoch.Unix())))
		Expect(reading.SensorErrors).To(BeZero())
		Expect(reading.Fields).To(Equal(map[string]float64{
			models.FieldTemperature: 21.5,
			models.FieldHumidity:    48,
			models.FieldCO2:         612,
		}))
	})

	It("should substitute the last good values of a failed driver", func() {
		collector.Collect()
		co2.err = errors.New("checksum mismatch")

		reading, faults := collector.Collect()
		Expect(reading.SensorErrors).To(Equal(uint32(1)))
		Expect(reading.Fields).To(HaveKeyWithValue(models.FieldCO2, 612.0))
		Expect(faults).To(HaveLen(1))
		Expect(services.Classify(faults[0])).To(Equal(models.KindCo2Sensor))
	})

	It("should leave the fields out when a driver never read", func() {
		climate.err = errors.New("no ack")

		reading, faults := collector.Collect()
		Expect(reading.Fields).NotTo(HaveKey(models.FieldTemperature))
		Expect(reading.SensorErrors).To(Equal(uint32(1)))
		Expect(services.Classify(faults[0])).To(Equal(models.KindSensor))
	})

	It("should keep the kind a driver already tagged", func() {
		climate.err = models.NewFault(models.KindI2c, "bme680.read", errors.New("bus stuck"))

		_, faults := collector.Collect()
		Expect(services.Classify(faults[0])).To(Equal(models.KindI2c))
	})

	DescribeTable("should treat a non-finite value as a failed read",
		func(bad float64) {
			collector.Collect()
			climate.values = map[string]float64{models.FieldTemperature: bad, models.FieldHumidity: 50}

			reading, faults := collector.Collect()
			Expect(reading.SensorErrors).To(Equal(uint32(1)))
			Expect(reading.Fields).To(HaveKeyWithValue(models.FieldTemperature, 21.5))
			Expect(reading.Fields).To(HaveKeyWithValue(models.FieldHumidity, 48.0))
			Expect(faults).To(HaveLen(1))
			Expect(services.Classify(faults[0])).To(Equal(models.KindSensor))

			_, err := json.Marshal(reading)
			Expect(err).NotTo(HaveOccurred())
		},
		Entry("NaN", math.NaN()),
		Entry("+Inf", math.Inf(1)),
		Entry("-Inf", math.Inf(-1)),
	)
})

var _ = Describe("Simulated sensors", func() {
	It("should produce the climate fields", func() {
		values, err := services.NewSimClimateSensor(1, 0, 0).Read()
		Expect(err).NotTo(HaveOccurred())
		Expect(values).To(HaveKey(models.FieldTemperature))
		Expect(values).To(HaveKey(models.FieldHumidity))
		Expect(values).To(HaveKey(models.FieldPressure))
		Expect(values).To(HaveKey(models.FieldGasResistance))
		Expect(values[models.FieldTemperature]).To(BeNumerically("~", 27, 2))
	})

	It("should fail every read at a failure rate of one", func() {
		_, err := services.NewSimCO2Sensor(1, 0, 1).Read()
		Expect(err).To(HaveOccurred())
		Expect(services.ClassifyText(err.Error())).To(Equal(models.KindCo2Sensor))
	})

	It("should push CO2 out of range at an anomaly rate of one", func() {
		values, err := services.NewSimCO2Sensor(1, 1, 0).Read()
		Expect(err).NotTo(HaveOccurred())
		Expect(values[models.FieldCO2]).To(BeNumerically(">=", 1800))
	})
})
