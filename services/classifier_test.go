package services_test

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"airnode/models"
	"airnode/services"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Classify", func() {
	DescribeTable("keyword rules on untagged errors",
		func(msg string, want models.ErrorKind) {
			Expect(services.Classify(errors.New(msg))).To(Equal(want))
		},
		Entry("co2 sensor", "CO2 sensor returned garbage", models.KindCo2Sensor),
		Entry("mhz19 driver", "mhz19 checksum mismatch", models.KindCo2Sensor),
		Entry("i2c bus", "I2C bus stuck low", models.KindI2c),
		Entry("uart", "uart framing error", models.KindUart),
		Entry("sensor", "sensor not responding", models.KindSensor),
		Entry("bme chip", "BME680 chip id mismatch", models.KindSensor),
		Entry("wifi", "WiFi association lost", models.KindWifi),
		Entry("socket", "socket closed by peer", models.KindWifi),
		Entry("connection", "connection refused", models.KindWifi),
		Entry("memory", "out of memory", models.KindMemory),
		Entry("allocation", "allocation failed", models.KindMemory),
		Entry("timeout", "operation timeout", models.KindTimeout),
		Entry("file", "file missing", models.KindFile),
		Entry("write", "cannot write log", models.KindFile),
		Entry("nothing matches", "something odd happened", models.KindUnknown),
	)

	It("should apply the rules in order", func() {
		// co2 is checked before the generic sensor rule, sensor before wifi
		Expect(services.ClassifyText("co2 sensor timeout")).To(Equal(models.KindCo2Sensor))
		Expect(services.ClassifyText("sensor connection timeout")).To(Equal(models.KindSensor))
		Expect(services.ClassifyText("network read timeout")).To(Equal(models.KindWifi))
	})

	It("should prefer a tagged fault over the message text", func() {
		err := fmt.Errorf("while sending: %w", models.NewFault(models.KindTimeout, "tx.read", errors.New("sensor wifi file")))
		Expect(services.Classify(err)).To(Equal(models.KindTimeout))
	})

	It("should classify deadlines as timeouts", func() {
		Expect(services.Classify(context.DeadlineExceeded)).To(Equal(models.KindTimeout))
		Expect(services.Classify(fmt.Errorf("read: %w", os.ErrDeadlineExceeded))).To(Equal(models.KindTimeout))
	})

	It("should classify path errors as file faults", func() {
		err := &fs.PathError{Op: "stat", Path: "/data/x", Err: fs.ErrPermission}
		Expect(services.Classify(err)).To(Equal(models.KindFile))
	})

	It("should return unknown for nil", func() {
		Expect(services.Classify(nil)).To(Equal(models.KindUnknown))
	})
})
