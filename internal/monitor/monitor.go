// Package monitor wires a Git watcher and a scheduler into a single trigger
// pipeline with uniform persistence and publication (spec §4.6). Grounded on
// the teacher's RunOnce/RunOnceWithLogs fan-in in internal/engine/engine.go
// (a central dispatch function wired to multiple independent sources),
// adapted from "process each concern then commit" to "persist each trigger
// then publish".
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/re-cinq/devtrackd/internal/errs"
	"github.com/re-cinq/devtrackd/internal/gitwatch"
	"github.com/re-cinq/devtrackd/internal/ipc"
	"github.com/re-cinq/devtrackd/internal/scheduler"
	"github.com/re-cinq/devtrackd/internal/store"
)

// taskRefPrefix tags a task_update's assigned store id when it is carried
// in an AckData.RefID, distinguishing it from a trigger's "trig-%d" ref.
const taskRefPrefix = "task-"

// Publisher is the subset of *ipc.Server the monitor depends on.
type Publisher interface {
	SendMessage(ipc.Envelope)
	NextID() string
}

// Monitor fans commit events (one per watched repository) and timer events
// (one scheduler) into the event store and onward over IPC.
type Monitor struct {
	store     *store.Store
	publisher Publisher
	logger    *log.Logger

	watchers   []*gitwatch.Watcher
	scheduler  *scheduler.Scheduler
}

// New constructs a Monitor with no watchers and no scheduler attached yet.
// Call AddWatcher and SetScheduler before Start. The scheduler is attached
// after construction (rather than passed in here) because building it
// requires this Monitor's OnTimer callback first.
func New(st *store.Store, pub Publisher, logger *log.Logger) *Monitor {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	return &Monitor{store: st, publisher: pub, logger: logger}
}

// AddWatcher registers a repository watcher; call before Start.
func (m *Monitor) AddWatcher(w *gitwatch.Watcher) {
	m.watchers = append(m.watchers, w)
}

// SetScheduler attaches the scheduler this monitor starts and stops. Build
// the scheduler with m.OnTimer() as its callback, then call this before
// Start.
func (m *Monitor) SetScheduler(s *scheduler.Scheduler) {
	m.scheduler = s
}

// Start begins every registered watcher and the scheduler, routing their
// callbacks through onCommit/onTimer. It returns once every watcher has
// started; failures on individual watchers are logged and skipped rather
// than aborting the whole monitor (spec §4.6, §7: one bad repository must
// not take the daemon down). The scheduler is started even when no watcher
// starts; that case is still reported as ErrWatcherUnavailable.
func (m *Monitor) Start(ctx context.Context) error {
	started := 0
	for _, w := range m.watchers {
		if err := w.Start(ctx, m.onCommit); err != nil {
			m.logger.Printf("monitor: watcher for %s failed to start: %v", w.RepoPath(), err)
			continue
		}
		started++
	}

	if m.scheduler != nil {
		m.scheduler.Start()
	}
	if started == 0 && len(m.watchers) > 0 {
		return fmt.Errorf("%w: no repository watcher started", errs.ErrWatcherUnavailable)
	}
	return nil
}

// Stop stops every watcher and the scheduler.
func (m *Monitor) Stop() {
	for _, w := range m.watchers {
		if err := w.Stop(); err != nil {
			m.logger.Printf("monitor: stopping watcher for %s: %v", w.RepoPath(), err)
		}
	}
	if m.scheduler != nil {
		m.scheduler.Stop()
	}
}

// onCommit persists then publishes a commit trigger (spec §4.6 step order).
func (m *Monitor) onCommit(info gitwatch.CommitInfo) {
	payload := ipc.CommitTriggerData{
		RepoPath:      info.RepoPath,
		Branch:        info.Branch,
		CommitHash:    info.Hash,
		CommitMessage: info.Message,
		Author:        info.Author,
		Timestamp:     info.Timestamp,
		FilesChanged:  info.Files,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		m.logger.Printf("monitor: marshaling commit trigger: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	id, err := m.store.InsertTrigger(ctx, store.Trigger{
		Type:          store.TriggerCommit,
		Timestamp:     info.Timestamp,
		Source:        "git",
		RepoPath:      info.RepoPath,
		CommitHash:    info.Hash,
		CommitMessage: info.Message,
		Author:        info.Author,
		Data:          string(data),
	})
	if err != nil {
		// Persistence failed: log and still publish, per spec §4.6 — a
		// downstream consumer can still act on the event even though its
		// durable record is missing.
		m.logger.Printf("monitor: persisting commit trigger: %v", err)
	}

	env, err := ipc.NewEnvelope(ipc.TypeCommitTrigger, m.refID(id), payload)
	if err != nil {
		m.logger.Printf("monitor: encoding commit trigger envelope: %v", err)
		return
	}
	m.publisher.SendMessage(env)
}

// onTimer persists then publishes a timer trigger.
func (m *Monitor) onTimer(data scheduler.TimerTriggerData) {
	payload := ipc.TimerTriggerData{
		Timestamp:       time.Now().UTC(),
		IntervalMinutes: data.IntervalMinutes,
		TriggerCount:    data.TriggerCount,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		m.logger.Printf("monitor: marshaling timer trigger: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	id, err := m.store.InsertTrigger(ctx, store.Trigger{
		Type:      store.TriggerTimer,
		Timestamp: payload.Timestamp,
		Source:    "scheduler",
		Data:      string(encoded),
	})
	if err != nil {
		m.logger.Printf("monitor: persisting timer trigger: %v", err)
	}

	env, err := ipc.NewEnvelope(ipc.TypeTimerTrigger, m.refID(id), payload)
	if err != nil {
		m.logger.Printf("monitor: encoding timer trigger envelope: %v", err)
		return
	}
	m.publisher.SendMessage(env)
}

// OnTimer exposes onTimer as a scheduler.OnTrigger for wiring outside New
// (the scheduler is constructed with this callback before the Monitor that
// owns it can be referenced cyclically).
func (m *Monitor) OnTimer() scheduler.OnTrigger {
	return m.onTimer
}

// HandleResponse persists an inbound response message — the intelligence
// process's structured reply to a trigger — tied to the trigger it answers.
// A task_update seeded directly from HandleTaskUpdate has no such parent and
// stores NULL for response_id (spec.md §4.6, scenario S5); this handler is
// the path that does have one.
func (m *Monitor) HandleResponse(_ *ipc.Conn, env ipc.Envelope) {
	var data ipc.ResponseData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		m.logger.Printf("monitor: %v: response payload: %v", errs.ErrMalformedMessage, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := m.store.InsertResponse(ctx, store.Response{
		TriggerID:   data.TriggerID,
		Timestamp:   time.Now().UTC(),
		Project:     data.Project,
		TicketID:    data.TicketID,
		Description: data.Description,
		TimeSpent:   data.TimeSpent,
		Status:      data.Status,
		RawInput:    data.RawInput,
	}); err != nil {
		m.logger.Printf("monitor: persisting response: %v", err)
	}

	// A response is the one thing that flips its trigger to processed
	// (spec §3, §4.2 invariant 7) — CleanOldRecords only ever retires
	// processed triggers.
	if err := m.store.MarkTriggerProcessed(ctx, data.TriggerID); err != nil {
		m.logger.Printf("monitor: marking trigger %d processed: %v", data.TriggerID, err)
	}
}

// HandleTaskUpdate persists an inbound task_update message with synced =
// false and platform = "pending" (spec §4.6), then replies on the same
// connection with the assigned store id so the client can reference it in
// a later ack once it has synced the update to its external tracker.
func (m *Monitor) HandleTaskUpdate(conn *ipc.Conn, env ipc.Envelope) {
	var data ipc.TaskUpdateData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		m.logger.Printf("monitor: %v: task_update payload: %v", errs.ErrMalformedMessage, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	id, err := m.store.InsertTaskUpdate(ctx, store.TaskUpdate{
		Timestamp:  time.Now().UTC(),
		Project:    data.Project,
		TicketID:   data.TicketID,
		UpdateText: data.Description,
		Status:     data.Status,
		Synced:     false,
		Platform:   "pending",
	})
	if err != nil {
		m.logger.Printf("monitor: persisting task update: %v", err)
		return
	}
	m.reply(conn, taskRefPrefix+strconv.FormatInt(id, 10), nil)
}

// HandleAck persists the completion of the sync loop spec §4.6 describes
// for task updates: a further IPC message that flips synced once the
// client has pushed the update to its external tracker. RefID values not
// tagged with taskRefPrefix are acks of something else (e.g. a
// control_command reply echoed back) and are ignored here.
func (m *Monitor) HandleAck(_ *ipc.Conn, env ipc.Envelope) {
	var data ipc.AckData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		m.logger.Printf("monitor: %v: ack payload: %v", errs.ErrMalformedMessage, err)
		return
	}
	idStr, ok := strings.CutPrefix(data.RefID, taskRefPrefix)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		m.logger.Printf("monitor: ack: malformed task ref %q", data.RefID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.MarkTaskUpdateSynced(ctx, id, time.Now().UTC()); err != nil {
		m.logger.Printf("monitor: marking task update %d synced: %v", id, err)
	}
}

// HandleError persists an inbound error message as an error-level log record
// (spec §4.6).
func (m *Monitor) HandleError(_ *ipc.Conn, env ipc.Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.InsertLog(ctx, store.LevelError, "intelligence", env.Error, string(env.Data)); err != nil {
		m.logger.Printf("monitor: persisting error log: %v", err)
	}
}

// HandleControlCommand dispatches a control_command message (the control
// surface's pause/resume/force-trigger/skip-next/send-summary, spec §4.8)
// to the scheduler and replies with an ack or error on the same connection.
// This message type is not in spec.md §4.5's enumerated catalogue — that
// section fixes the event-publication types but leaves the control-plane
// wire mechanism unspecified (§4.8 says only "dispatches subcommands"), so
// this extends the tagged-variant envelope the same way every other
// client→server type is handled: one registered handler, one reply.
func (m *Monitor) HandleControlCommand(conn *ipc.Conn, env ipc.Envelope) {
	var data ipc.ControlCommandData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		m.reply(conn, env.ID, fmt.Errorf("%w: control_command payload: %v", errs.ErrMalformedMessage, err))
		return
	}
	if m.scheduler == nil {
		m.reply(conn, env.ID, fmt.Errorf("%w: scheduler not running", errs.ErrSchedulerUnavailable))
		return
	}

	switch data.Command {
	case ipc.CommandPause:
		m.scheduler.Pause()
	case ipc.CommandResume:
		m.scheduler.Resume()
	case ipc.CommandForceTrigger:
		m.scheduler.ForceImmediate()
	case ipc.CommandSkipNext:
		m.scheduler.SkipNext()
	case ipc.CommandSendSummary:
		m.sendSummary()
	default:
		m.reply(conn, env.ID, fmt.Errorf("unknown control command %q", data.Command))
		return
	}
	m.reply(conn, env.ID, nil)
}

// sendSummary persists a manual trigger and publishes it as a prompt_request,
// the same persist-then-publish order as onCommit/onTimer (spec §4.6),
// grounded on store.TriggerManual — the one TriggerType the scheduled and
// Git-driven paths never produce on their own.
func (m *Monitor) sendSummary() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	id, err := m.store.InsertTrigger(ctx, store.Trigger{
		Type:      store.TriggerManual,
		Timestamp: now,
		Source:    "control_command",
	})
	if err != nil {
		m.logger.Printf("monitor: persisting manual trigger: %v", err)
	}

	env, err := ipc.NewEnvelope(ipc.TypePromptRequest, m.refID(id), map[string]string{"reason": "send_summary"})
	if err != nil {
		m.logger.Printf("monitor: encoding send-summary envelope: %v", err)
		return
	}
	m.publisher.SendMessage(env)
}

// reply sends an ack (err == nil) or an error envelope referencing refID.
func (m *Monitor) reply(conn *ipc.Conn, refID string, err error) {
	if conn == nil {
		return
	}
	if err != nil {
		_ = conn.Send(ipc.NewErrorEnvelope(m.publisher.NextID(), err.Error()))
		return
	}
	ackEnv, encErr := ipc.NewEnvelope(ipc.TypeAck, m.publisher.NextID(), ipc.AckData{RefID: refID})
	if encErr != nil {
		return
	}
	_ = conn.Send(ackEnv)
}

// refID renders a trigger store id as the envelope id, falling back to a
// publisher-assigned id when persistence failed (id == 0).
func (m *Monitor) refID(id int64) string {
	if id == 0 {
		return m.publisher.NextID()
	}
	return fmt.Sprintf("trig-%d", id)
}
