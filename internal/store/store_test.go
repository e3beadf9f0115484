package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/re-cinq/devtrackd/internal/store"
)

func TestStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "store suite")
}

var _ = Describe("Store", func() {
	var (
		s   *store.Store
		ctx = context.Background()
	)

	BeforeEach(func() {
		dir := GinkgoT().TempDir()
		opened, err := store.Open(filepath.Join(dir, "devtrack.db"))
		Expect(err).NotTo(HaveOccurred())
		s = opened
	})

	AfterEach(func() {
		Expect(s.Close()).To(Succeed())
	})

	It("assigns a monotonic id on insert", func() {
		id, err := s.InsertTrigger(ctx, store.Trigger{
			Type:      store.TriggerCommit,
			Timestamp: time.Now().UTC(),
			RepoPath:  "/repo",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(id).To(BeNumerically(">", 0))

		got, err := s.GetTriggerByID(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).NotTo(BeNil())
		Expect(got.Processed).To(BeFalse())
	})

	It("keeps synced false until MarkTaskUpdateSynced is called, and sets syncedAt together", func() {
		triggerID, err := s.InsertTrigger(ctx, store.Trigger{Type: store.TriggerManual, Timestamp: time.Now().UTC()})
		Expect(err).NotTo(HaveOccurred())
		responseID, err := s.InsertResponse(ctx, store.Response{TriggerID: triggerID, Timestamp: time.Now().UTC()})
		Expect(err).NotTo(HaveOccurred())
		updateID, err := s.InsertTaskUpdate(ctx, store.TaskUpdate{ResponseID: responseID, Timestamp: time.Now().UTC(), Platform: "pending"})
		Expect(err).NotTo(HaveOccurred())

		unsynced, err := s.GetUnsyncedTaskUpdates(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(unsynced).To(HaveLen(1))
		Expect(unsynced[0].SyncedAt).To(BeNil())

		now := time.Now().UTC()
		Expect(s.MarkTaskUpdateSynced(ctx, updateID, now)).To(Succeed())

		// idempotent: second call is a no-op, not an error
		Expect(s.MarkTaskUpdateSynced(ctx, updateID, now.Add(time.Hour))).To(Succeed())

		unsynced, err = s.GetUnsyncedTaskUpdates(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(unsynced).To(BeEmpty())
	})

	It("round-trips config values", func() {
		Expect(s.SetConfig(ctx, "last_sync", "2026-01-01")).To(Succeed())
		value, ok, err := s.GetConfig(ctx, "last_sync")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(value).To(Equal("2026-01-01"))
	})

	It("removes only logs and processed triggers older than the retention window", func() {
		old := time.Now().UTC().AddDate(0, 0, -40)
		recent := time.Now().UTC()

		oldProcessed, err := s.InsertTrigger(ctx, store.Trigger{Type: store.TriggerTimer, Timestamp: old, Processed: true})
		Expect(err).NotTo(HaveOccurred())
		oldUnprocessed, err := s.InsertTrigger(ctx, store.Trigger{Type: store.TriggerTimer, Timestamp: old, Processed: false})
		Expect(err).NotTo(HaveOccurred())
		recentID, err := s.InsertTrigger(ctx, store.Trigger{Type: store.TriggerTimer, Timestamp: recent, Processed: true})
		Expect(err).NotTo(HaveOccurred())
		// InsertLog stamps the record with the current time, so this log is
		// inside the retention window and must survive the sweep.
		Expect(s.InsertLog(ctx, store.LevelInfo, "test", "recent", "")).To(Succeed())

		Expect(s.CleanOldRecords(ctx, 30)).To(Succeed())

		got, err := s.GetTriggerByID(ctx, oldProcessed)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(BeNil())

		got, err = s.GetTriggerByID(ctx, oldUnprocessed)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).NotTo(BeNil())

		got, err = s.GetTriggerByID(ctx, recentID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).NotTo(BeNil())

		stats, err := s.GetStats(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.Logs).To(Equal(int64(1)))
	})
})
