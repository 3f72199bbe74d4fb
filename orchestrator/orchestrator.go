package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/taskforge-ai/taskforge/agent"
	"github.com/taskforge-ai/taskforge/llm"
	"github.com/taskforge-ai/taskforge/logging"
)

// Sentinel errors for programmer-level misuse. Stage failures never surface
// here; they land in Task.Status and Task.Error.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrTaskNotFound    = errors.New("task not found")
	ErrSessionBusy     = errors.New("session already has a task in flight")
	ErrNotPaused       = errors.New("task is not paused")
)

// Approval decides whether a gated stage may run. It receives a snapshot of
// the task; mutating it has no effect on the pipeline. Called outside all
// orchestrator locks, so it may block on user input.
type Approval func(stage string, task Task) bool

// Event types emitted over the task lifecycle.
const (
	EventTaskStarted    = "task_started"
	EventStageCompleted = "stage_completed"
	EventTaskCompleted  = "task_completed"
	EventTaskFailed     = "task_failed"
	EventTaskPaused     = "task_paused"
)

// Event describes one lifecycle occurrence.
type Event struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	TaskID    string         `json:"task_id"`
	Stage     string         `json:"stage,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventHandler consumes lifecycle events. Panics are contained per handler.
type EventHandler func(Event)

// The pipeline stage order. Stage names double as result keys.
var stageOrder = []struct {
	name string
	role agent.Role
}{
	{"coordination", agent.RoleCoordinator},
	{"analysis", agent.RoleAnalyzer},
	{"execution", agent.RoleExecutor},
	{"review", agent.RoleReviewer},
}

// gated reports whether a stage needs approval under the given mode.
func gated(mode ProgressMode, stage string) bool {
	switch mode {
	case ModeInteractive:
		return true
	case ModeHybrid:
		return stage == "execution" || stage == "review"
	}
	return false
}

// pipelineRun is the resumable state of one task's pipeline: the stage index
// to run next plus everything produced so far. A paused run is parked by
// task ID and picked up again by ApproveStep.
type pipelineRun struct {
	sessionID string
	task      *Task
	mode      ProgressMode
	results   map[string]any
	steps     []string
	next      int
}

// Options configure an Orchestrator.
type Options struct {
	// Logger receives orchestration logs.
	Logger logging.Logger
}

// Orchestrator owns sessions, tasks and the role agent map, and drives
// pipelines through them. All methods are safe for concurrent use. One task
// per session may be in flight at a time; a paused task still counts as in
// flight until approved or declined.
type Orchestrator struct {
	svc    *llm.Service
	logger logging.Logger

	agents map[agent.Role]agent.Agent
	tasks  *TaskStore

	mu       sync.Mutex
	sessions map[string]*Session
	inflight map[string]string       // session ID -> task ID
	paused   map[string]*pipelineRun // task ID -> parked run

	eventMu  sync.RWMutex
	handlers map[string][]EventHandler
}

// New constructs an Orchestrator with the default agent per role.
func New(svc *llm.Service, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	withLogger := func(ao *agent.Options) { ao.Logger = opts.Logger }
	o := &Orchestrator{
		svc:    svc,
		logger: opts.Logger,
		agents: map[agent.Role]agent.Agent{
			agent.RoleCoordinator: agent.NewCoordinator(svc, withLogger),
			agent.RoleAnalyzer:    agent.NewAnalyzer(svc, withLogger),
			agent.RoleExecutor:    agent.NewExecutor(svc, withLogger),
			agent.RoleReviewer:    agent.NewReviewer(svc, withLogger),
		},
		tasks:    NewTaskStore(),
		sessions: make(map[string]*Session),
		inflight: make(map[string]string),
		paused:   make(map[string]*pipelineRun),
		handlers: make(map[string][]EventHandler),
	}
	for role, a := range o.agents {
		opts.Logger.Debug("agent initialized", "agent", a.ID(), "role", string(role))
	}
	return o
}

// RegisterAgent replaces the implementation for the agent's role. Call before
// executing tasks; swapping mid-pipeline is not supported.
func (o *Orchestrator) RegisterAgent(a agent.Agent) {
	o.agents[a.Role()] = a
}

// Tasks exposes the task store.
func (o *Orchestrator) Tasks() *TaskStore { return o.tasks }

// CreateSession opens a session in the given mode and returns its ID. Each
// role gets a fresh AgentContext bound to the session.
func (o *Orchestrator) CreateSession(mode ProgressMode) string {
	roles := make([]agent.Role, 0, len(o.agents))
	agentIDs := make(map[agent.Role]string, len(o.agents))
	for role, a := range o.agents {
		roles = append(roles, role)
		agentIDs[role] = a.ID()
	}
	sess := newSession(mode, roles, agentIDs)

	o.mu.Lock()
	o.sessions[sess.ID] = sess
	o.mu.Unlock()

	o.logger.Info("session created", "session_id", sess.ID, "mode", string(mode))
	return sess.ID
}

// StopSession removes a session and abandons any paused run it owns.
func (o *Orchestrator) StopSession(sessionID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.sessions[sessionID]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	delete(o.sessions, sessionID)
	delete(o.inflight, sessionID)
	for taskID, run := range o.paused {
		if run.sessionID == sessionID {
			delete(o.paused, taskID)
		}
	}
	o.logger.Info("session stopped", "session_id", sessionID)
	return nil
}

// StopAllSessions removes every session.
func (o *Orchestrator) StopAllSessions() {
	o.mu.Lock()
	o.sessions = make(map[string]*Session)
	o.inflight = make(map[string]string)
	o.paused = make(map[string]*pipelineRun)
	o.mu.Unlock()
	o.logger.Info("all sessions stopped")
}

// ListSessions returns the IDs of all open sessions.
func (o *Orchestrator) ListSessions() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.sessions))
	for id := range o.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SwitchMode changes a session's progress mode. Takes effect for the next
// ExecuteTask call; an in-flight pipeline keeps the mode it started with.
func (o *Orchestrator) SwitchMode(sessionID string, mode ProgressMode) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	sess, ok := o.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	sess.Mode = mode
	o.logger.Info("session mode switched", "session_id", sessionID, "mode", string(mode))
	return nil
}

// AddTask creates a pending task in the store and returns it.
func (o *Orchestrator) AddTask(title, description string, context map[string]any) *Task {
	task := NewTask(title, description, context)
	o.tasks.Add(task)
	return task
}

// ExecuteTask runs the task's pipeline inside the session. The returned map
// is the pipeline result; stage failures are encoded there and in the task,
// never as an error. An error means the caller misused the API: unknown
// session or a task already in flight on it.
func (o *Orchestrator) ExecuteTask(ctx context.Context, sessionID string, task *Task, approval Approval) (map[string]any, error) {
	o.mu.Lock()
	sess, ok := o.sessions[sessionID]
	if !ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if inflightID, busy := o.inflight[sessionID]; busy {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: session %s running task %s", ErrSessionBusy, sessionID, inflightID)
	}
	o.inflight[sessionID] = task.ID
	sess.ActiveTasks = append(sess.ActiveTasks, task)
	task.Status = TaskStatusRunning
	mode := sess.Mode
	o.mu.Unlock()

	o.tasks.Add(task)
	o.logger.Info("task execution started", "session_id", sessionID, "task_id", task.ID, "mode", string(mode))
	o.emit(Event{Type: EventTaskStarted, SessionID: sessionID, TaskID: task.ID, Timestamp: time.Now()})

	run := &pipelineRun{
		sessionID: sessionID,
		task:      task,
		mode:      mode,
		results:   map[string]any{"mode": string(mode)},
	}
	return o.advance(ctx, run, approval, false)
}

// ExecuteTaskByID runs a stored task. With an empty session ID the oldest
// open session is used, or a fresh auto session when none exist.
func (o *Orchestrator) ExecuteTaskByID(ctx context.Context, taskID, sessionID string, approval Approval) (map[string]any, error) {
	task, ok := o.tasks.Get(taskID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if sessionID == "" {
		sessionID = o.defaultSession()
	}
	return o.ExecuteTask(ctx, sessionID, task, approval)
}

func (o *Orchestrator) defaultSession() string {
	o.mu.Lock()
	var oldest *Session
	for _, sess := range o.sessions {
		if oldest == nil || sess.CreatedAt.Before(oldest.CreatedAt) {
			oldest = sess
		}
	}
	o.mu.Unlock()
	if oldest != nil {
		return oldest.ID
	}
	return o.CreateSession(ModeAuto)
}

// ApproveStep resumes a paused pipeline. On approval, modifications are
// merged into the task context and the gated stage runs; later gated stages
// pause again as usual. On decline, the gated stage and everything after it
// are skipped and the task completes with the stages done so far.
func (o *Orchestrator) ApproveStep(ctx context.Context, taskID string, approve bool, modifications map[string]any) (map[string]any, error) {
	o.mu.Lock()
	run, ok := o.paused[taskID]
	if !ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotPaused, taskID)
	}
	delete(o.paused, taskID)
	if approve {
		for k, v := range modifications {
			run.task.Context[k] = v
		}
		run.task.Status = TaskStatusRunning
	}
	o.mu.Unlock()

	if !approve {
		o.logger.Info("stage declined, skipping remaining stages", "task_id", taskID, "stage", stageOrder[run.next].name)
		return o.complete(run), nil
	}
	return o.advance(ctx, run, nil, true)
}

// advance drives the pipeline from run.next to the end. approvedCurrent
// grants the gate of the next stage only, used when resuming after
// ApproveStep.
func (o *Orchestrator) advance(ctx context.Context, run *pipelineRun, approval Approval, approvedCurrent bool) (map[string]any, error) {
	for run.next < len(stageOrder) {
		if err := ctx.Err(); err != nil {
			return o.fail(run, err), nil
		}
		st := stageOrder[run.next]

		if gated(run.mode, st.name) && !approvedCurrent {
			if approval == nil {
				return o.pause(run, st.name), nil
			}
			o.setTaskStatus(run.task, TaskStatusPaused)
			granted := approval(st.name, *run.task)
			o.setTaskStatus(run.task, TaskStatusRunning)
			if !granted {
				o.logger.Info("stage declined, skipping remaining stages", "task_id", run.task.ID, "stage", st.name)
				break
			}
		}
		approvedCurrent = false

		start := time.Now()
		out, err := o.agents[st.role].Execute(ctx, run.task.view(), o.stageContext(run, st.name))
		if err != nil {
			o.logger.Error("stage failed", "task_id", run.task.ID, "stage", st.name, "error", err)
			return o.fail(run, err), nil
		}
		run.results[st.name] = out
		run.steps = append(run.steps, st.name)
		run.next++

		o.noteAgentAction(run.sessionID, st.role, st.name)
		o.logger.Debug("stage completed", "task_id", run.task.ID, "stage", st.name, "elapsed", time.Since(start))
		o.emit(Event{Type: EventStageCompleted, SessionID: run.sessionID, TaskID: run.task.ID, Stage: st.name, Data: out, Timestamp: time.Now()})
	}
	return o.complete(run), nil
}

// stageContext assembles a stage's input: the task context, the mode, and
// for the later stages the outputs of the earlier ones.
func (o *Orchestrator) stageContext(run *pipelineRun, stage string) map[string]any {
	sc := make(map[string]any, len(run.task.Context)+4)
	for k, v := range run.task.Context {
		sc[k] = v
	}
	sc["mode"] = string(run.mode)
	switch stage {
	case "execution":
		if v, ok := run.results["coordination"]; ok {
			sc["coordination"] = v
		}
		if v, ok := run.results["analysis"]; ok {
			sc["analysis"] = v
		}
	case "review":
		if v, ok := run.results["execution"]; ok {
			sc["target_result"] = v
		}
	}
	return sc
}

func (o *Orchestrator) complete(run *pipelineRun) map[string]any {
	run.results["steps"] = append([]string(nil), run.steps...)
	run.results["status"] = "completed"

	o.mu.Lock()
	run.task.Status = TaskStatusCompleted
	run.task.Result = run.results
	if sess, ok := o.sessions[run.sessionID]; ok {
		sess.removeActive(run.task.ID)
		sess.CompletedTasks = append(sess.CompletedTasks, run.task)
	}
	delete(o.inflight, run.sessionID)
	o.mu.Unlock()

	o.logger.Info("task completed", "task_id", run.task.ID, "steps", len(run.steps))
	o.emit(Event{Type: EventTaskCompleted, SessionID: run.sessionID, TaskID: run.task.ID, Data: run.results, Timestamp: time.Now()})
	return run.results
}

func (o *Orchestrator) fail(run *pipelineRun, cause error) map[string]any {
	run.results["steps"] = append([]string(nil), run.steps...)
	run.results["status"] = "failed"
	run.results["error"] = cause.Error()

	o.mu.Lock()
	run.task.Status = TaskStatusFailed
	run.task.Error = cause.Error()
	run.task.Result = run.results
	delete(o.inflight, run.sessionID)
	o.mu.Unlock()

	o.emit(Event{Type: EventTaskFailed, SessionID: run.sessionID, TaskID: run.task.ID, Data: run.results, Timestamp: time.Now()})
	return run.results
}

// pause parks the run for ApproveStep and returns a snapshot result. The
// session keeps its in-flight slot until the decision lands.
func (o *Orchestrator) pause(run *pipelineRun, stage string) map[string]any {
	o.mu.Lock()
	run.task.Status = TaskStatusPaused
	o.paused[run.task.ID] = run
	o.mu.Unlock()

	snapshot := make(map[string]any, len(run.results)+3)
	for k, v := range run.results {
		snapshot[k] = v
	}
	snapshot["steps"] = append([]string(nil), run.steps...)
	snapshot["status"] = "paused"
	snapshot["paused_at"] = stage

	o.logger.Info("task paused awaiting approval", "task_id", run.task.ID, "stage", stage)
	o.emit(Event{Type: EventTaskPaused, SessionID: run.sessionID, TaskID: run.task.ID, Stage: stage, Timestamp: time.Now()})
	return snapshot
}

func (o *Orchestrator) setTaskStatus(task *Task, status TaskStatus) {
	o.mu.Lock()
	task.Status = status
	o.mu.Unlock()
}

func (o *Orchestrator) noteAgentAction(sessionID string, role agent.Role, stage string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	sess, ok := o.sessions[sessionID]
	if !ok {
		return
	}
	if ac, ok := sess.AgentContexts[role]; ok {
		ac.LastAction = stage
		ac.Memory["last_stage"] = stage
	}
}

// GetSessionSummary returns the read-only digest of one session.
func (o *Orchestrator) GetSessionSummary(sessionID string) (map[string]any, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	sess, ok := o.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return sess.summary(), nil
}

// GetSessionStatus reports one session's digest, or with an empty ID an
// aggregate over all sessions. Unknown IDs yield a not_found marker rather
// than an error so status polling never fails.
func (o *Orchestrator) GetSessionStatus(sessionID string) map[string]any {
	o.mu.Lock()
	defer o.mu.Unlock()
	if sessionID != "" {
		if sess, ok := o.sessions[sessionID]; ok {
			return sess.summary()
		}
		return map[string]any{
			"session_id": sessionID,
			"mode":       "unknown",
			"status":     "not_found",
		}
	}
	ids := make([]string, 0, len(o.sessions))
	for id := range o.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	mode := "no-session"
	if len(ids) > 1 {
		mode = "multi-session"
	}
	return map[string]any{
		"active_sessions": len(ids),
		"session_ids":     ids,
		"mode":            mode,
	}
}

// GetAgentMetrics returns each agent's activity counters keyed by agent ID.
func (o *Orchestrator) GetAgentMetrics() map[string]agent.Metrics {
	out := make(map[string]agent.Metrics, len(o.agents))
	for _, a := range o.agents {
		out[a.ID()] = a.Metrics()
	}
	return out
}

// OnEvent registers a handler for an event type.
func (o *Orchestrator) OnEvent(eventType string, handler EventHandler) {
	o.eventMu.Lock()
	defer o.eventMu.Unlock()
	o.handlers[eventType] = append(o.handlers[eventType], handler)
}

// emit delivers the event to registered handlers. A panicking handler is
// logged and contained; it never aborts the pipeline.
func (o *Orchestrator) emit(event Event) {
	o.eventMu.RLock()
	handlers := o.handlers[event.Type]
	o.eventMu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error("event handler panicked", "event", event.Type, "panic", r)
				}
			}()
			h(event)
		}()
	}
}
