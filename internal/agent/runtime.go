package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adithya-n05/ICHack26-sub001/internal/bus"
	"github.com/adithya-n05/ICHack26-sub001/internal/scheduler"
	"github.com/adithya-n05/ICHack26-sub001/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("sentinel-agent")

// ErrNotRunning is returned by HandleMessage before Start or after Stop.
var ErrNotRunning = errors.New("agent not running")

const (
	// DefaultOrchestratorID is where heartbeats and escalations go.
	DefaultOrchestratorID    = models.OrchestratorID
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultRelatedLimit      = 10
)

// Options configures a Runtime. Zero values fall back to defaults.
type Options struct {
	OrchestratorID    string
	HeartbeatInterval time.Duration
	// RelatedLimit caps how much same-sender history joins a DecisionContext.
	RelatedLimit int
	System       SystemStateProvider
	// Scheduler owns the agent's autonomous timers. When nil the runtime
	// creates and runs a private one.
	Scheduler *scheduler.Scheduler
}

// Runtime drives one Policy over the bus.
type Runtime struct {
	policy Policy
	bus    *bus.Bus
	opts   Options

	ownScheduler bool

	// decideMu serialises decide+apply on the receive loop with followup
	// applies, so memory only changes through one decision at a time.
	decideMu sync.Mutex

	memMu  sync.RWMutex
	memory Memory

	stateMu       sync.RWMutex
	status        models.AgentStatus
	lastHeartbeat time.Time
	currentTask   string
	lastError     string

	processed atomic.Int64
	errCount  atomic.Int64

	lifeMu    sync.Mutex
	running   bool
	accepting atomic.Bool // read by HandleMessage without lifeMu
	runCtx    context.Context
	cancel    context.CancelFunc
	loopDone  chan struct{}
	followups sync.WaitGroup
}

// New creates a stopped runtime for p on b.
func New(p Policy, b *bus.Bus, opts Options) *Runtime {
	if opts.OrchestratorID == "" {
		opts.OrchestratorID = DefaultOrchestratorID
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.RelatedLimit <= 0 {
		opts.RelatedLimit = DefaultRelatedLimit
	}
	rt := &Runtime{
		policy: p,
		bus:    b,
		opts:   opts,
		memory: make(Memory),
		status: models.AgentOffline,
		runCtx: context.Background(),
	}
	if rt.opts.Scheduler == nil {
		rt.opts.Scheduler = scheduler.New()
		rt.ownScheduler = true
	}
	return rt
}

// ID returns the agent's bus address.
func (rt *Runtime) ID() string { return rt.policy.ID() }

// Capabilities returns the policy's declared capabilities.
func (rt *Runtime) Capabilities() []models.Capability { return rt.policy.Capabilities() }

// ── Lifecycle ───────────────────────────────────────────────

// Start subscribes the agent, runs its OnStart hook and begins the receive
// loop and heartbeat.
func (rt *Runtime) Start(ctx context.Context) error {
	rt.lifeMu.Lock()
	defer rt.lifeMu.Unlock()
	if rt.running {
		return nil
	}

	id := rt.ID()
	runCtx, cancel := context.WithCancel(ctx)
	rt.runCtx = runCtx
	rt.cancel = cancel

	inbox := rt.bus.Subscribe(id, rt.inputTypes()...)
	rt.setStatus(models.AgentIdle, "")

	if s, ok := rt.policy.(Starter); ok {
		if err := s.OnStart(runCtx, rt); err != nil {
			cancel()
			rt.opts.Scheduler.RemoveAgent(id)
			rt.bus.Unsubscribe(id)
			rt.setStatus(models.AgentOffline, "")
			return fmt.Errorf("start agent %s: %w", id, err)
		}
	}
	if rt.ownScheduler {
		rt.opts.Scheduler.Start()
	}

	rt.loopDone = make(chan struct{})
	rt.accepting.Store(true)
	go rt.loop(runCtx, inbox)
	go rt.heartbeatLoop(runCtx)
	rt.running = true

	log.Info().
		Str("agent", id).
		Int("inputs", len(rt.inputTypes())).
		Dur("heartbeat", rt.opts.HeartbeatInterval).
		Msg("🤖 Agent started")
	return nil
}

// Stop cancels the agent's timers and heartbeat, unsubscribes it, waits for
// in-flight work (bounded by ctx) and marks it offline.
func (rt *Runtime) Stop(ctx context.Context) error {
	rt.lifeMu.Lock()
	defer rt.lifeMu.Unlock()
	if !rt.running {
		return nil
	}
	rt.running = false
	rt.accepting.Store(false)
	id := rt.ID()

	rt.opts.Scheduler.RemoveAgent(id)
	if rt.ownScheduler {
		rt.opts.Scheduler.Stop()
	}
	rt.cancel()
	rt.bus.Unsubscribe(id)

	done := make(chan struct{})
	go func() {
		<-rt.loopDone
		rt.followups.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("stop agent %s: %w", id, ctx.Err())
	}

	if s, ok := rt.policy.(Stopper); ok {
		if stopErr := s.OnStop(ctx); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("stop agent %s: %w", id, stopErr))
		}
	}
	rt.setStatus(models.AgentOffline, "")

	log.Info().Str("agent", id).Int64("processed", rt.processed.Load()).Msg("🛑 Agent stopped")
	return err
}

// Running reports whether the agent has been started and not stopped.
func (rt *Runtime) Running() bool {
	rt.lifeMu.Lock()
	defer rt.lifeMu.Unlock()
	return rt.running
}

func (rt *Runtime) inputTypes() []models.MessageType {
	seen := map[models.MessageType]bool{models.MsgHealthCheck: true}
	types := []models.MessageType{models.MsgHealthCheck}
	for _, c := range rt.policy.Capabilities() {
		for _, t := range c.Inputs {
			if !seen[t] {
				seen[t] = true
				types = append(types, t)
			}
		}
	}
	return types
}

func (rt *Runtime) consumes(t models.MessageType) bool {
	for _, c := range rt.policy.Capabilities() {
		for _, in := range c.Inputs {
			if in == t {
				return true
			}
		}
	}
	return false
}

func (rt *Runtime) loop(ctx context.Context, inbox <-chan models.Message) {
	defer close(rt.loopDone)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbox:
			if !ok {
				return
			}
			_ = rt.HandleMessage(ctx, msg)
		}
	}
}

// ── Timers ──────────────────────────────────────────────────

// Trigger publishes a scheduled_tick for task addressed to the agent itself,
// so autonomous work flows through the same decision pipeline as messages.
func (rt *Runtime) Trigger(ctx context.Context, task string) error {
	_, err := rt.bus.Publish(ctx, models.Message{
		From:     rt.ID(),
		To:       rt.ID(),
		Payload:  models.ScheduledTick{Task: task},
		Priority: models.PriorityLow,
	})
	if err != nil {
		return fmt.Errorf("trigger %s: %w", task, err)
	}
	return nil
}

// Every registers a timer that triggers task at the given interval. Timers
// are removed when the agent stops.
func (rt *Runtime) Every(interval time.Duration, task string) error {
	return rt.opts.Scheduler.AddJob(rt.ID(), task, scheduler.Every(interval), func() {
		if err := rt.Trigger(rt.runCtx, task); err != nil {
			log.Warn().Err(err).Str("agent", rt.ID()).Str("task", task).Msg("Scheduled trigger failed")
		}
	})
}

// ── Message handling ────────────────────────────────────────

// HandleMessage runs one message through decide and apply. A failure
// increments the error counter, sends an error heartbeat to the orchestrator
// and drops the message; the error is returned for callers that care.
func (rt *Runtime) HandleMessage(ctx context.Context, msg models.Message) error {
	if !rt.accepting.Load() {
		return fmt.Errorf("%w: %s", ErrNotRunning, rt.ID())
	}
	id := rt.ID()
	if msg.RequiresAck {
		rt.bus.Acknowledge(msg.ID, id)
	}

	ctx, span := tracer.Start(ctx, "agent.handle "+string(msg.Type),
		trace.WithAttributes(
			attribute.String("sentinel.agent", id),
			attribute.String("sentinel.message.id", msg.ID),
			attribute.String("sentinel.message.type", string(msg.Type)),
			attribute.String("sentinel.message.from", msg.From),
		),
	)
	defer span.End()

	rt.setStatus(models.AgentProcessing, string(msg.Type))

	var (
		dec *Decision
		err error
	)
	rt.decideMu.Lock()
	if msg.Type == models.MsgHealthCheck && !rt.consumes(models.MsgHealthCheck) {
		dec = rt.healthReport(msg)
	} else {
		dec, err = rt.decide(ctx, rt.buildContext(msg))
	}
	if err == nil {
		err = rt.apply(msg, dec)
	}
	rt.decideMu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		rt.fail(ctx, msg, err)
		return err
	}

	if dec != nil {
		span.SetAttributes(attribute.String("sentinel.decision", string(dec.Action)))
		log.Debug().
			Str("agent", id).
			Str("msg_id", msg.ID).
			Str("type", string(msg.Type)).
			Str("action", string(dec.Action)).
			Str("reason", dec.Reason).
			Msg("Decision applied")
	}
	rt.processed.Add(1)
	rt.setStatus(models.AgentIdle, "")
	return nil
}

func (rt *Runtime) decide(ctx context.Context, dc *DecisionContext) (dec *Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("agent", rt.ID()).
				Str("msg_id", dc.Trigger.ID).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("🔥 Policy panicked")
			err = fmt.Errorf("policy panic: %v", r)
		}
	}()
	return rt.policy.Decide(ctx, dc)
}

func (rt *Runtime) buildContext(msg models.Message) *DecisionContext {
	var system models.SystemState
	if rt.opts.System != nil {
		system = rt.opts.System.SystemState()
	}
	return &DecisionContext{
		AgentID: rt.ID(),
		Trigger: msg,
		Related: rt.related(msg),
		Memory:  rt.Memory(),
		System:  system,
		Now:     time.Now().UTC(),
	}
}

// related is the trigger's conversation joined with recent traffic from the
// same sender, deduplicated and in publish order.
func (rt *Runtime) related(msg models.Message) []models.Message {
	seen := map[string]bool{msg.ID: true}
	var out []models.Message
	add := func(ms []models.Message) {
		for _, m := range ms {
			if !seen[m.ID] {
				seen[m.ID] = true
				out = append(out, m)
			}
		}
	}
	add(rt.bus.Conversation(msg.ConversationID()))
	add(rt.bus.History(bus.HistoryFilter{From: msg.From, Limit: rt.opts.RelatedLimit}))
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// apply merges memory, publishes outbound messages, raises the standard
// escalation and launches any followup. A panic is returned as an error.
// Caller holds decideMu.
func (rt *Runtime) apply(trigger models.Message, dec *Decision) (err error) {
	if dec == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("agent", rt.ID()).
				Str("msg_id", trigger.ID).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("🔥 Decision apply panicked")
			err = fmt.Errorf("apply panic: %v", r)
		}
	}()
	id := rt.ID()
	ctx := rt.runCtx

	if len(dec.MemoryUpdates) > 0 {
		rt.memMu.Lock()
		rt.memory.merge(dec.MemoryUpdates)
		rt.memMu.Unlock()
	}

	var errs []error
	for _, out := range dec.Messages {
		if out.From == "" {
			out.From = id
		}
		if out.CorrelationID == "" {
			out.CorrelationID = trigger.ConversationID()
		}
		if _, err := rt.bus.Publish(ctx, out); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", out.Kind(), err))
		}
	}

	if dec.Action == models.ActionEscalate {
		_, err := rt.bus.Publish(ctx, models.Message{
			From:          id,
			To:            rt.opts.OrchestratorID,
			Payload:       models.Escalation{AgentID: id, Reason: dec.Reason, TriggerID: trigger.ID, TriggerType: trigger.Type},
			CorrelationID: trigger.ConversationID(),
			Priority:      models.PriorityHigh,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("publish escalation: %w", err))
		}
		log.Warn().
			Str("agent", id).
			Str("msg_id", trigger.ID).
			Str("reason", dec.Reason).
			Msg("⚠️  Decision escalated to orchestrator")
	}

	if dec.Followup != nil {
		rt.followups.Add(1)
		go rt.runFollowup(trigger, dec.Followup, dec.OnFailure)
	}
	return errors.Join(errs...)
}

// runFollowup applies the followup's Decision. The trigger was already
// counted as processed when its first decision was applied.
func (rt *Runtime) runFollowup(trigger models.Message, fn func(context.Context) (*Decision, error), onFailure map[string]any) {
	defer rt.followups.Done()
	ctx := rt.runCtx

	dec, err := func() (dec *Decision, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Str("agent", rt.ID()).
					Str("msg_id", trigger.ID).
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("🔥 Followup panicked")
				dec, err = nil, fmt.Errorf("followup panic: %v", r)
			}
		}()
		return fn(ctx)
	}()
	if err != nil && dec == nil && len(onFailure) > 0 {
		dec = &Decision{Action: models.ActionIgnore, Reason: "followup failed", MemoryUpdates: onFailure}
	}

	rt.decideMu.Lock()
	if applyErr := rt.apply(trigger, dec); applyErr != nil {
		err = errors.Join(err, applyErr)
	}
	rt.decideMu.Unlock()

	if err != nil {
		rt.fail(ctx, trigger, err)
	}
}

// fail records a policy failure and notifies the orchestrator with an
// error-shaped heartbeat. The triggering message is dropped.
func (rt *Runtime) fail(ctx context.Context, msg models.Message, err error) {
	id := rt.ID()
	errs := rt.errCount.Add(1)

	rt.stateMu.Lock()
	rt.status = models.AgentError
	rt.currentTask = ""
	rt.lastError = err.Error()
	rt.stateMu.Unlock()

	log.Error().
		Err(err).
		Str("agent", id).
		Str("msg_id", msg.ID).
		Str("type", string(msg.Type)).
		Str("correlation_id", msg.CorrelationID).
		Msg("❌ Message handling failed")

	_, pubErr := rt.bus.Publish(ctx, models.Message{
		From: id,
		To:   rt.opts.OrchestratorID,
		Payload: models.AgentHeartbeat{
			AgentID:     id,
			Status:      models.AgentError,
			Processed:   rt.processed.Load(),
			Errors:      errs,
			Error:       err.Error(),
			FailedMsgID: msg.ID,
		},
		CorrelationID: msg.ConversationID(),
		Priority:      models.PriorityHigh,
	})
	if pubErr != nil && !errors.Is(pubErr, bus.ErrClosed) {
		log.Warn().Err(pubErr).Str("agent", id).Msg("Failed to publish error heartbeat")
	}
}

func (rt *Runtime) healthReport(msg models.Message) *Decision {
	st := rt.Status()
	return Process("health check", models.Message{
		To: msg.From,
		Payload: models.HealthReport{
			AgentID: rt.ID(),
			Status:  st,
			Healthy: st != models.AgentError && st != models.AgentOffline,
		},
	})
}

// ── Heartbeat ───────────────────────────────────────────────

func (rt *Runtime) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(rt.opts.HeartbeatInterval)
	defer ticker.Stop()

	rt.beat(ctx)
	for {
		select {
		case <-ticker.C:
			rt.beat(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (rt *Runtime) beat(ctx context.Context) {
	st := rt.State()
	_, err := rt.bus.Publish(ctx, models.Message{
		From: st.ID,
		To:   rt.opts.OrchestratorID,
		Payload: models.AgentHeartbeat{
			AgentID:     st.ID,
			Status:      st.Status,
			CurrentTask: st.CurrentTask,
			Processed:   st.Processed,
			Errors:      st.Errors,
		},
		Priority: models.PriorityLow,
	})
	if err != nil {
		if !errors.Is(err, bus.ErrClosed) {
			log.Warn().Err(err).Str("agent", st.ID).Msg("Heartbeat publish failed")
		}
		return
	}
	rt.stateMu.Lock()
	rt.lastHeartbeat = time.Now().UTC()
	rt.stateMu.Unlock()
}

// ── State ───────────────────────────────────────────────────

func (rt *Runtime) setStatus(s models.AgentStatus, task string) {
	rt.stateMu.Lock()
	rt.status = s
	rt.currentTask = task
	rt.stateMu.Unlock()
}

// Status returns the current lifecycle status.
func (rt *Runtime) Status() models.AgentStatus {
	rt.stateMu.RLock()
	defer rt.stateMu.RUnlock()
	return rt.status
}

// LastError returns the most recent handling failure, if any.
func (rt *Runtime) LastError() string {
	rt.stateMu.RLock()
	defer rt.stateMu.RUnlock()
	return rt.lastError
}

// Memory returns a snapshot of the agent's memory.
func (rt *Runtime) Memory() Memory {
	rt.memMu.RLock()
	defer rt.memMu.RUnlock()
	return rt.memory.clone()
}

// Seed writes initial memory. It is meant for OnStart hooks; afterwards
// memory changes only through decisions.
func (rt *Runtime) Seed(values map[string]any) {
	rt.memMu.Lock()
	rt.memory.merge(values)
	rt.memMu.Unlock()
}

// State returns a point-in-time copy of the runtime state.
func (rt *Runtime) State() models.AgentState {
	rt.stateMu.RLock()
	st := models.AgentState{
		ID:            rt.ID(),
		Status:        rt.status,
		LastHeartbeat: rt.lastHeartbeat,
		CurrentTask:   rt.currentTask,
		Processed:     rt.processed.Load(),
		Errors:        rt.errCount.Load(),
	}
	rt.stateMu.RUnlock()
	st.Memory = rt.Memory()
	return st
}
