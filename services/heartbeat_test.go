package services

import (
	"encoding/json"
	"time"

	"airnode/models"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("decodeHeartbeat", func() {
	It("should decode a heartbeat published by a node", func() {
		rssi := int32(-61)
		sent := &models.NodeHeartbeat{
			DeviceID:      "node-1",
			BootID:        "b1",
			Timestamp:     time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC),
			WiFiConnected: true,
			RSSI:          &rssi,
			State:         models.StateConnected,
			ErrorCounts:   map[models.ErrorKind]uint32{models.KindWifi: 2},
			Disposition:   models.DispositionLogged,
			Status:        "faults wifi=2 | logged",
		}
		data, err := json.Marshal(sent)
		Expect(err).NotTo(HaveOccurred())

		hb, err := decodeHeartbeat(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(hb.DeviceID).To(Equal("node-1"))
		Expect(*hb.RSSI).To(Equal(int32(-61)))
		Expect(hb.ErrorCounts).To(HaveKeyWithValue(models.KindWifi, uint32(2)))
		Expect(hb.State).To(Equal(models.StateConnected))
	})

	It("should reject a heartbeat without a device id", func() {
		_, err := decodeHeartbeat([]byte(`{"status":"x"}`))
		Expect(err).To(MatchError(ContainSubstring("missing device_id")))
	})

	It("should reject garbage", func() {
		_, err := decodeHeartbeat([]byte(`not json`))
		Expect(err).To(HaveOccurred())
	})

	It("should stamp a heartbeat that carries no time", func() {
		hb, err := decodeHeartbeat([]byte(`{"device_id":"node-1"}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(hb.Timestamp).NotTo(BeZero())
	})
})
