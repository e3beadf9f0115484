package scheduler_test

import (
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/re-cinq/devtrackd/internal/scheduler"
)

func TestScheduler(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "scheduler suite")
}

// fakeClock lets tests drive the scheduler's wall clock deterministically
// instead of sleeping in real time.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

var _ = Describe("Scheduler gating", func() {
	var (
		clock *fakeClock
		fires chan scheduler.TimerTriggerData
		s     *scheduler.Scheduler
	)

	BeforeEach(func() {
		clock = &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
		fires = make(chan scheduler.TimerTriggerData, 16)
		s = scheduler.New(scheduler.Config{
			IntervalMinutes: 1,
			Now:             clock.Now,
		}, func(d scheduler.TimerTriggerData) { fires <- d })
	})

	AfterEach(func() {
		s.Stop()
	})

	It("suppresses firings entirely while paused, per spec invariant 5", func() {
		s.Pause()
		s.Start()

		Consistently(fires, 100*time.Millisecond).ShouldNot(Receive())
		Expect(s.GetStats().TriggerCount).To(Equal(0))
	})

	It("reports the work-hours gate closed before the window opens, opening at the start hour", func() {
		clock.Set(time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC))
		s2 := scheduler.New(scheduler.Config{
			IntervalMinutes:  1,
			WorkHoursEnabled: true,
			WorkStartHour:    9,
			WorkEndHour:      18,
			Now:              clock.Now,
		}, func(d scheduler.TimerTriggerData) { fires <- d })
		defer s2.Stop()

		status := s2.GetWorkHoursStatus()
		Expect(status.Open).To(BeFalse())
		Expect(status.NextOpenAt.Hour()).To(Equal(9))
	})

	It("applies a new work-hours window via SetWorkHours without touching the interval", func() {
		clock.Set(time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC))
		s2 := scheduler.New(scheduler.Config{
			IntervalMinutes: 1,
			Now:             clock.Now,
		}, func(d scheduler.TimerTriggerData) {})
		defer s2.Stop()

		Expect(s2.GetWorkHoursStatus().Open).To(BeTrue())

		s2.SetWorkHours(true, 9, 18)
		status := s2.GetWorkHoursStatus()
		Expect(status.Open).To(BeFalse())
		Expect(status.NextOpenAt.Hour()).To(Equal(9))
		Expect(s2.GetStats().IntervalMinutes).To(Equal(1))
	})

	It("bypasses the pause gate on ForceImmediate", func() {
		s.Pause()
		s.Start()
		s.ForceImmediate()

		var got scheduler.TimerTriggerData
		Eventually(fires, time.Second).Should(Receive(&got))
		Expect(got.TriggerCount).To(Equal(1))
	})

	It("pushes nextTrigger forward by exactly one interval on SkipNext", func() {
		s.Start()
		before := s.GetStats().NextTrigger
		s.SkipNext()
		after := s.GetStats().NextTrigger
		Expect(after.Sub(before)).To(Equal(time.Minute))
	})

	It("preserves pause state across SetInterval", func() {
		s.Pause()
		s.Start()
		s.SetInterval(5)
		Expect(s.IsPaused()).To(BeTrue())
	})
})
