package services_test

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"airnode/models"
	"airnode/services"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func faultRecord(i int) models.ErrorRecord {
	return models.ErrorRecord{
		Timestamp: epoch.Add(time.Duration(i) * time.Second),
		Kind:      models.KindWifi,
		Message:   fmt.Sprintf("connect failed #%d", i),
		Context:   map[string]string{"attempt": fmt.Sprint(i)},
	}
}

func seqs(records []models.ErrorRecord) []uint64 {
	out := make([]uint64, 0, len(records))
	for _, r := range records {
		out = append(out, r.Seq)
	}
	return out
}

var _ = Describe("ErrorLog", func() {
	for _, backend := range []string{"file", "bolt"} {
		backend := backend
		Context("with the "+backend+" backend", func() {
			var (
				path string
				log  *services.ErrorLog
			)

			open := func() *services.ErrorLog {
				store, err := services.OpenErrorStore(backend, path)
				Expect(err).NotTo(HaveOccurred())
				return services.NewErrorLog(store, 5, nil)
			}

			BeforeEach(func() {
				path = filepath.Join(GinkgoT().TempDir(), "errors.log")
				log = open()
				DeferCleanup(func() { _ = log.Close() })
			})

			It("should start empty", func() {
				records, err := log.Recent(10)
				Expect(err).NotTo(HaveOccurred())
				Expect(records).To(BeEmpty())
			})

			It("should assign increasing sequence numbers", func() {
				first, err := log.Append(faultRecord(1))
				Expect(err).NotTo(HaveOccurred())
				second, err := log.Append(faultRecord(2))
				Expect(err).NotTo(HaveOccurred())

				Expect(first.Seq).To(Equal(uint64(1)))
				Expect(second.Seq).To(Equal(uint64(2)))
				Expect(second.Context).To(HaveKeyWithValue("seq", "2"))
				Expect(second.Context).To(HaveKeyWithValue("attempt", "2"))
			})

			It("should leave the caller's context map untouched", func() {
				shared := map[string]string{"phase": "connect"}
				for i := 1; i <= 2; i++ {
					r := faultRecord(i)
					r.Context = shared
					stored, err := log.Append(r)
					Expect(err).NotTo(HaveOccurred())
					Expect(stored.Context).To(HaveKeyWithValue("seq", fmt.Sprint(i)))
				}

				Expect(shared).To(Equal(map[string]string{"phase": "connect"}))
			})

			It("should keep only the newest entries in order", func() {
				for i := 1; i <= 12; i++ {
					_, err := log.Append(faultRecord(i))
					Expect(err).NotTo(HaveOccurred())
				}

				Expect(log.Len()).To(Equal(5))
				records, err := log.Recent(100)
				Expect(err).NotTo(HaveOccurred())
				Expect(seqs(records)).To(Equal([]uint64{8, 9, 10, 11, 12}))
				Expect(records[4].Message).To(Equal("connect failed #12"))
				Expect(records[4].Kind).To(Equal(models.KindWifi))
				Expect(records[4].Timestamp).To(BeTemporally("==", epoch.Add(12*time.Second)))
			})

			It("should return the most recent n records", func() {
				for i := 1; i <= 4; i++ {
					_, _ = log.Append(faultRecord(i))
				}
				records, err := log.Recent(2)
				Expect(err).NotTo(HaveOccurred())
				Expect(seqs(records)).To(Equal([]uint64{3, 4}))

				none, err := log.Recent(0)
				Expect(err).NotTo(HaveOccurred())
				Expect(none).To(BeEmpty())
			})

			It("should survive a restart and continue the sequence", func() {
				for i := 1; i <= 3; i++ {
					_, _ = log.Append(faultRecord(i))
				}
				Expect(log.Sync()).To(Succeed())
				Expect(log.Close()).To(Succeed())

				log = open()
				record, err := log.Append(faultRecord(4))
				Expect(err).NotTo(HaveOccurred())
				Expect(record.Seq).To(Equal(uint64(4)))
				Expect(log.Len()).To(Equal(4))
			})
		})
	}

	It("should report an unusable path as a file fault", func() {
		dir := GinkgoT().TempDir()
		blocker := filepath.Join(dir, "not-a-dir")
		Expect(os.WriteFile(blocker, []byte("x"), 0o644)).To(Succeed())

		log := services.NewErrorLog(services.NewFileStore(filepath.Join(blocker, "errors.log")), 5, nil)
		_, err := log.Append(faultRecord(1))
		Expect(err).To(HaveOccurred())
		Expect(services.Classify(err)).To(Equal(models.KindFile))
	})

	It("should reject an unknown backend", func() {
		_, err := services.OpenErrorStore("sqlite", "x")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("FileStore", func() {
	var path string

	BeforeEach(func() {
		path = filepath.Join(GinkgoT().TempDir(), "errors.log")
	})

	It("should write one human-readable line per record", func() {
		store := services.NewFileStore(path)
		Expect(store.Save([]models.ErrorRecord{{
			Timestamp: epoch,
			Kind:      models.KindSensor,
			Message:   "bme680 read failed",
			Context:   map[string]string{"phase": "collect"},
			Seq:       7,
		}})).To(Succeed())

		data, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal(`[2026-10-18T09:00:00Z] SENSOR: bme680 read failed | {"phase":"collect","seq":"7"}` + "\n"))
	})

	It("should skip damaged lines and keep the rest", func() {
		content := `[2026-10-18T09:00:00Z] WIFI: first | {"seq":"1"}
garbage that is not a record
[not-a-time] WIFI: broken | {"seq":"2"}
[2026-10-18T09:00:05Z] FILE: third | {"seq":"3"}
`
		Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())

		records, err := services.NewFileStore(path).Load()
		Expect(err).NotTo(HaveOccurred())
		Expect(seqs(records)).To(Equal([]uint64{1, 3}))
		Expect(records[1].Kind).To(Equal(models.KindFile))
	})

	It("should keep the separator inside a message", func() {
		store := services.NewFileStore(path)
		Expect(store.Save([]models.ErrorRecord{{
			Timestamp: epoch,
			Kind:      models.KindWifi,
			Message:   "status a | status b",
			Seq:       1,
		}})).To(Succeed())

		records, err := store.Load()
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(HaveLen(1))
		Expect(records[0].Message).To(Equal("status a | status b"))
	})

	It("should flatten newlines in messages", func() {
		store := services.NewFileStore(path)
		Expect(store.Save([]models.ErrorRecord{{Timestamp: epoch, Kind: models.KindUnknown, Message: "line one\nline two", Seq: 1}})).To(Succeed())

		records, err := store.Load()
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(HaveLen(1))
		Expect(records[0].Message).To(Equal("line one line two"))
	})

	It("should read unknown kinds as UNKNOWN", func() {
		Expect(os.WriteFile(path, []byte(`[2026-10-18T09:00:00Z] GREMLIN: odd | {"seq":"1"}`+"\n"), 0o644)).To(Succeed())

		records, err := services.NewFileStore(path).Load()
		Expect(err).NotTo(HaveOccurred())
		Expect(records[0].Kind).To(Equal(models.KindUnknown))
	})

	It("should leave no temp file behind", func() {
		Expect(services.NewFileStore(path).Save([]models.ErrorRecord{faultRecord(1)})).To(Succeed())
		_, err := os.Stat(path + ".tmp")
		Expect(os.IsNotExist(err)).To(BeTrue())
	})
})
