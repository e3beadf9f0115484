// Package scheduler fires an interval-aligned timer with pause/resume/
// skip/force controls and a work-hours gate (spec §4.4). Deliberately not
// built on a cron library: spec.md §9 calls for a plain wall-clock-aligned
// interval timer rather than importing a cron grammar, so this package is
// a hand-rolled time.Timer loop. The Config/mutex-guarded-state/Start-Stop
// shape is grounded on the cklxx scheduler reference, stripped of its
// cron.Parser.
package scheduler

import (
	"sync"
	"time"
)

// afterFunc schedules fn to run after d. It is a package variable so the
// timer source can be swapped — the same overridable-hook idiom as the
// teacher's git.sleepFunc; the package's tests do not swap it.
var afterFunc = time.AfterFunc

// Config holds the scheduler's tunables.
type Config struct {
	IntervalMinutes  int
	WorkHoursEnabled bool
	WorkStartHour    int
	WorkEndHour      int
	Now              func() time.Time // overridable for tests; defaults to time.Now
}

// TimerTriggerData is the payload passed to OnTrigger.
type TimerTriggerData struct {
	TriggerCount    int
	IntervalMinutes int
}

// OnTrigger is invoked on its own worker; firings never overlap (spec §4.4).
type OnTrigger func(TimerTriggerData)

// Stats is a read-only snapshot of SchedulerState (spec §3).
type Stats struct {
	Paused          bool
	LastTrigger     time.Time
	NextTrigger     time.Time
	TriggerCount    int
	IntervalMinutes int
}

// WorkHoursStatus reports the work-hours gate's current state.
type WorkHoursStatus struct {
	CurrentHour int
	Open        bool
	NextOpenAt  time.Time // zero if Open
}

// Scheduler fires onTrigger at a wall-clock-aligned interval, gated by
// pause state and an optional work-hours window.
type Scheduler struct {
	onTrigger OnTrigger
	now       func() time.Time

	mu              sync.Mutex
	intervalMinutes int
	workHours       bool
	workStart       int
	workEnd         int
	paused          bool
	lastTrigger     time.Time
	nextTrigger     time.Time
	triggerCount    int

	timer   *time.Timer
	stopCh  chan struct{}
	workCh  chan int // callback work queue, depth 1: firings never overlap
	started bool
}

// New constructs a Scheduler; call Start to begin firing.
func New(cfg Config, onTrigger OnTrigger) *Scheduler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	interval := cfg.IntervalMinutes
	if interval < 1 {
		interval = 1
	}
	return &Scheduler{
		onTrigger:       onTrigger,
		now:             now,
		intervalMinutes: interval,
		workHours:       cfg.WorkHoursEnabled,
		workStart:       cfg.WorkStartHour,
		workEnd:         cfg.WorkEndHour,
		stopCh:          make(chan struct{}),
		workCh:          make(chan int, 1),
	}
}

// nextAligned returns the next wall-clock instant, strictly after from and
// with second zero, that lies a whole multiple of intervalMinutes after the
// top of from's hour. For intervals that divide 60 that is the next minute
// that is a multiple of intervalMinutes; for other intervals the alignment
// restarts at each hour (e.g. 45 at 12:50 gives 13:30).
func nextAligned(from time.Time, intervalMinutes int) time.Time {
	truncated := from.Truncate(time.Minute)
	minutesSinceHour := truncated.Minute()
	remainder := minutesSinceHour % intervalMinutes
	next := truncated.Add(time.Duration(intervalMinutes-remainder) * time.Minute)
	if !next.After(from) {
		next = next.Add(time.Duration(intervalMinutes) * time.Minute)
	}
	return next
}

// Start begins the firing loop on its own goroutine plus a single-worker
// callback goroutine (spec §4.4 concurrency: callbacks never overlap).
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.nextTrigger = nextAligned(s.now(), s.intervalMinutes)
	next := s.nextTrigger
	s.mu.Unlock()

	go s.worker()

	s.mu.Lock()
	s.timer = afterFunc(next.Sub(s.now()), s.tick)
	s.mu.Unlock()
}

// Stop halts the firing loop; outstanding callback work is allowed to
// finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
	close(s.stopCh)
}

// worker runs OnTrigger calls one at a time from workCh, so a hung
// callback blocks subsequent firings but never the scheduler's own timer
// bookkeeping (spec §4.4).
func (s *Scheduler) worker() {
	for {
		select {
		case <-s.stopCh:
			return
		case count := <-s.workCh:
			if s.onTrigger != nil {
				safeInvoke(s.onTrigger, TimerTriggerData{TriggerCount: count, IntervalMinutes: s.currentInterval()})
			}
		}
	}
}

// safeInvoke recovers a panicking callback and swallows it — spec §4.4/§7:
// "a callback that raises is logged at error level; the scheduler
// continues." Logging is the caller's responsibility (the integrated
// monitor wraps onTrigger); this is the last-resort backstop so a bug in
// that wrapper cannot kill the scheduler's worker goroutine.
func safeInvoke(fn OnTrigger, data TimerTriggerData) {
	defer func() { _ = recover() }()
	fn(data)
}

func (s *Scheduler) currentInterval() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intervalMinutes
}

// tick runs on the timer goroutine: gates the firing, updates state, and
// (if not gated) hands off to the worker.
func (s *Scheduler) tick() {
	s.mu.Lock()
	now := s.now()
	interval := s.intervalMinutes
	s.nextTrigger = nextAligned(now, interval)
	rescheduleAt := s.nextTrigger

	paused := s.paused
	gateClosed := s.workHours && !workHoursOpen(now.Hour(), s.workStart, s.workEnd)

	var count int
	fire := !paused && !gateClosed
	if fire {
		s.triggerCount++
		s.lastTrigger = now
		count = s.triggerCount
	}
	s.timer = afterFunc(rescheduleAt.Sub(now), s.tick)
	s.mu.Unlock()

	if fire {
		select {
		case s.workCh <- count:
		default:
			// worker still busy with the previous firing; drop rather than
			// block the timer goroutine — the previous firing's callback
			// is still in flight (spec §4.4: firings never overlap).
		}
	}
}

func workHoursOpen(hour, start, end int) bool {
	return hour >= start && hour < end
}

// Pause suppresses future firings. Idempotent.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

// Resume re-enables firings and recomputes nextTrigger relative to now.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	s.nextTrigger = nextAligned(s.now(), s.intervalMinutes)
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = afterFunc(s.nextTrigger.Sub(s.now()), s.tick)
}

// IsPaused reports the current pause state.
func (s *Scheduler) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// SetInterval atomically replaces the schedule: the previously scheduled
// firing is cancelled and nextTrigger recomputed against the new interval.
// Pause state is preserved.
func (s *Scheduler) SetInterval(minutes int) {
	if minutes < 1 {
		minutes = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intervalMinutes = minutes
	s.nextTrigger = nextAligned(s.now(), minutes)
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = afterFunc(s.nextTrigger.Sub(s.now()), s.tick)
}

// SetWorkHours atomically replaces the work-hours gate. It does not touch
// the interval or any scheduled firing — the next tick simply evaluates
// the gate with the new settings.
func (s *Scheduler) SetWorkHours(enabled bool, startHour, endHour int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workHours = enabled
	s.workStart = startHour
	s.workEnd = endHour
}

// ForceImmediate invokes onTrigger exactly once, out of band, bypassing
// pause and the work-hours gate (spec.md's explicit resolution of the
// Open Question in §9) and without advancing the regular cadence.
func (s *Scheduler) ForceImmediate() {
	s.mu.Lock()
	s.triggerCount++
	count := s.triggerCount
	s.lastTrigger = s.now()
	s.mu.Unlock()

	select {
	case s.workCh <- count:
	default:
	}
}

// SkipNext pushes nextTrigger forward by exactly one interval, without
// affecting any firing after that.
func (s *Scheduler) SkipNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTrigger = s.nextTrigger.Add(time.Duration(s.intervalMinutes) * time.Minute)
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = afterFunc(s.nextTrigger.Sub(s.now()), s.tick)
}

// GetStats returns a read-only snapshot of the scheduler's state.
func (s *Scheduler) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Paused:          s.paused,
		LastTrigger:     s.lastTrigger,
		NextTrigger:     s.nextTrigger,
		TriggerCount:    s.triggerCount,
		IntervalMinutes: s.intervalMinutes,
	}
}

// GetWorkHoursStatus reports the current hour, whether the gate is open,
// and — if closed — when it next opens, handling midnight rollover.
func (s *Scheduler) GetWorkHoursStatus() WorkHoursStatus {
	s.mu.Lock()
	now := s.now()
	enabled := s.workHours
	start, end := s.workStart, s.workEnd
	s.mu.Unlock()

	hour := now.Hour()
	if !enabled {
		return WorkHoursStatus{CurrentHour: hour, Open: true}
	}
	if workHoursOpen(hour, start, end) {
		return WorkHoursStatus{CurrentHour: hour, Open: true}
	}

	nextOpen := time.Date(now.Year(), now.Month(), now.Day(), start, 0, 0, 0, now.Location())
	if !nextOpen.After(now) {
		nextOpen = nextOpen.AddDate(0, 0, 1)
	}
	return WorkHoursStatus{CurrentHour: hour, Open: false, NextOpenAt: nextOpen}
}
