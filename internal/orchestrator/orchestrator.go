// Package orchestrator supervises the agent society: it starts and stops the
// agent runtimes in dependency order, monitors every bus message and event,
// applies the cross-agent escalation policy and serves the status API.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/adithya-n05/ICHack26-sub001/internal/agent"
	"github.com/adithya-n05/ICHack26-sub001/internal/bus"
	"github.com/adithya-n05/ICHack26-sub001/internal/scheduler"
	"github.com/adithya-n05/ICHack26-sub001/pkg/models"
	"github.com/rs/zerolog/log"
)

const (
	DefaultHealthCheckInterval = 30 * time.Second
	DefaultHeartbeatTimeout    = 30 * time.Second
	DefaultRecentAlerts        = 20
	DefaultRecentMessages      = 50

	healthCheckJob = "health_check"
)

// startOrder ranks well-known agents so that consumers are listening before
// their producers start. Unknown agents start last, in registration order.
var startOrder = map[string]int{
	models.AlertAgent:      0,
	models.MitigationAgent: 1,
	models.RiskAgent:       2,
	models.IngestionAgent:  3,
}

// Config tunes the orchestrator. Zero values fall back to defaults.
type Config struct {
	HealthCheckInterval time.Duration
	// HeartbeatTimeout marks an agent unhealthy when its last heartbeat is
	// older than this.
	HeartbeatTimeout time.Duration
	// MitigationRule decides which high-risk detections get a forwarded
	// mitigation request. See Rule.
	MitigationRule string
	RecentAlerts   int
	RecentMessages int
	// Scheduler runs the health check. The orchestrator starts and stops it.
	Scheduler *scheduler.Scheduler
}

// agentReport is the latest self-reported state of one agent.
type agentReport struct {
	status        models.AgentStatus
	healthy       bool
	lastHeartbeat time.Time
	currentTask   string
	processed     int64
	errors        int64
	lastError     string
}

// Orchestrator supervises agent runtimes over a bus.
type Orchestrator struct {
	cfg  Config
	bus  *bus.Bus
	rule *Rule

	agentsMu sync.RWMutex
	agents   []*agent.Runtime

	stateMu            sync.RWMutex
	reports            map[string]*agentReport
	activeRisks        map[string]float64
	pendingMitigations map[string]time.Time
	recentAlerts       []models.Alert
	republished        map[string]bool // message ids already re-published or re-publishes themselves

	metrics metrics

	lifeMu    sync.Mutex
	running   bool
	startedAt time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	watch     chan bus.Event
}

// New creates a stopped orchestrator. It fails only when the mitigation rule
// does not compile.
func New(b *bus.Bus, cfg Config) (*Orchestrator, error) {
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if cfg.RecentAlerts <= 0 {
		cfg.RecentAlerts = DefaultRecentAlerts
	}
	if cfg.RecentMessages <= 0 {
		cfg.RecentMessages = DefaultRecentMessages
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = scheduler.New()
	}
	rule, err := CompileRule(cfg.MitigationRule)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		cfg:                cfg,
		bus:                b,
		rule:               rule,
		reports:            make(map[string]*agentReport),
		activeRisks:        make(map[string]float64),
		pendingMitigations: make(map[string]time.Time),
		republished:        make(map[string]bool),
	}, nil
}

// ID returns the orchestrator's bus address.
func (o *Orchestrator) ID() string { return models.OrchestratorID }

// Register adds agent runtimes to supervise. Agents registered while the
// orchestrator is running are started on the next Start.
func (o *Orchestrator) Register(rts ...*agent.Runtime) {
	o.agentsMu.Lock()
	defer o.agentsMu.Unlock()
	o.agents = append(o.agents, rts...)
}

// ordered returns the registered runtimes in start order.
func (o *Orchestrator) ordered() []*agent.Runtime {
	o.agentsMu.RLock()
	out := append([]*agent.Runtime(nil), o.agents...)
	o.agentsMu.RUnlock()

	rank := func(id string) int {
		if r, ok := startOrder[id]; ok {
			return r
		}
		return len(startOrder)
	}
	sort.SliceStable(out, func(i, j int) bool { return rank(out[i].ID()) < rank(out[j].ID()) })
	return out
}

// ── Lifecycle ───────────────────────────────────────────────

// Start subscribes to every message type, starts the agents in dependency
// order and arms the periodic health check. If an agent fails to start, the
// ones already started are stopped again.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.lifeMu.Lock()
	defer o.lifeMu.Unlock()
	if o.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	inbox := o.bus.Subscribe(o.ID(), models.AllTypes)
	o.watch = o.bus.Watch()

	var started []*agent.Runtime
	for _, rt := range o.ordered() {
		if err := rt.Start(runCtx); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				_ = started[i].Stop(ctx)
			}
			o.bus.Unwatch(o.watch)
			o.bus.Unsubscribe(o.ID())
			cancel()
			return fmt.Errorf("orchestrator start: %w", err)
		}
		started = append(started, rt)
	}

	if err := o.cfg.Scheduler.AddJob(o.ID(), healthCheckJob, scheduler.Every(o.cfg.HealthCheckInterval), func() {
		o.CheckHealth(runCtx)
	}); err != nil {
		log.Warn().Err(err).Msg("Health check not scheduled")
	}
	o.cfg.Scheduler.Start()

	o.cancel = cancel
	o.startedAt = time.Now().UTC()
	o.running = true

	o.wg.Add(2)
	go o.loop(runCtx, inbox)
	go o.monitor(runCtx, o.watch)

	log.Info().
		Int("agents", len(started)).
		Str("mitigation_rule", o.rule.String()).
		Dur("health_check", o.cfg.HealthCheckInterval).
		Msg("🎛️  Orchestrator started")
	return nil
}

// Stop stops the agents in reverse start order, then the health check and
// the monitoring loops.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.lifeMu.Lock()
	defer o.lifeMu.Unlock()
	if !o.running {
		return nil
	}
	o.running = false

	var errs []error
	agents := o.ordered()
	for i := len(agents) - 1; i >= 0; i-- {
		if err := agents[i].Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	o.cfg.Scheduler.RemoveAgent(o.ID())
	o.cfg.Scheduler.Stop()
	o.cancel()
	o.bus.Unsubscribe(o.ID())
	o.bus.Unwatch(o.watch)
	o.wg.Wait()

	log.Info().Dur("uptime", time.Since(o.startedAt)).Msg("🛑 Orchestrator stopped")
	return errors.Join(errs...)
}

// Running reports whether the orchestrator is started.
func (o *Orchestrator) Running() bool {
	o.lifeMu.Lock()
	defer o.lifeMu.Unlock()
	return o.running
}

// ── Monitoring ──────────────────────────────────────────────

func (o *Orchestrator) loop(ctx context.Context, inbox <-chan models.Message) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbox:
			if !ok {
				return
			}
			o.handle(ctx, msg)
		}
	}
}

// monitor consumes bus events for metrics and ack-timeout handling.
func (o *Orchestrator) monitor(ctx context.Context, events <-chan bus.Event) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case bus.EventDelivered:
				o.metrics.messagesDelivered.Add(1)
			case bus.EventDropped:
				o.metrics.dropped.Add(1)
			case bus.EventAckTimeout:
				o.metrics.ackTimeouts.Add(1)
				o.onAckTimeout(ctx, ev.Message)
			}
		}
	}
}

// onAckTimeout re-publishes an unacknowledged critical message once.
func (o *Orchestrator) onAckTimeout(ctx context.Context, msg models.Message) {
	if msg.Priority != models.PriorityCritical {
		log.Debug().Str("msg_id", msg.ID).Str("type", string(msg.Type)).Msg("Non-critical message unacknowledged, not re-publishing")
		return
	}

	o.stateMu.Lock()
	if o.republished[msg.ID] {
		o.stateMu.Unlock()
		log.Error().
			Str("msg_id", msg.ID).
			Str("type", string(msg.Type)).
			Str("to", msg.To).
			Msg("🚫 Critical message still unacknowledged after re-publish")
		return
	}
	o.republished[msg.ID] = true
	o.stateMu.Unlock()

	retry := models.Message{
		From:          msg.From,
		To:            msg.To,
		Payload:       msg.Payload,
		CorrelationID: msg.ConversationID(),
		Priority:      msg.Priority,
		RequiresAck:   true,
	}
	sent, err := o.bus.Publish(ctx, retry)
	if err != nil {
		if !errors.Is(err, bus.ErrClosed) {
			log.Warn().Err(err).Str("msg_id", msg.ID).Msg("Re-publish failed")
		}
		return
	}

	o.stateMu.Lock()
	o.republished[sent.ID] = true
	o.stateMu.Unlock()

	log.Warn().
		Str("msg_id", msg.ID).
		Str("retry_id", sent.ID).
		Str("type", string(msg.Type)).
		Msg("🔁 Re-published unacknowledged critical message")
}

// ── Policy ──────────────────────────────────────────────────

func (o *Orchestrator) handle(ctx context.Context, msg models.Message) {
	if msg.From == o.ID() {
		return
	}

	switch p := msg.Payload.(type) {
	case models.HighRiskDetected:
		o.onHighRisk(ctx, msg, p)

	case models.RiskEscalation:
		o.onEscalation(ctx, msg, p)

	case models.RiskResolved:
		o.stateMu.Lock()
		delete(o.activeRisks, p.EntityID)
		o.stateMu.Unlock()

	case models.MitigationPlanReady:
		// A cached plan was already counted when it was composed.
		if !p.Plan.FromCache {
			o.metrics.mitigationsGenerated.Add(1)
		}
		o.stateMu.Lock()
		delete(o.pendingMitigations, p.Plan.EntityID)
		o.stateMu.Unlock()

	case models.NoAlternatives:
		o.stateMu.Lock()
		delete(o.pendingMitigations, p.EntityID)
		o.stateMu.Unlock()
		o.requestAlert(ctx, msg, models.AlertRequest{
			AlertType: "manual_intervention",
			Severity:  models.SeverityCritical,
			Title:     "Manual intervention required: " + p.EntityID,
			Body:      fmt.Sprintf("No alternative suppliers are available for %s (%s).", p.EntityID, p.Reason),
			EntityID:  p.EntityID,
		})

	case models.DataSourceFailed:
		o.requestAlert(ctx, msg, models.AlertRequest{
			AlertType: "infrastructure",
			Severity:  models.SeverityWarning,
			Title:     "Data source failing: " + p.Source,
			Body: fmt.Sprintf("%s failed %d consecutive times. Last error: %s",
				p.Source, p.ConsecutiveFailures, p.LastError),
		})

	case models.AlertSent:
		o.metrics.alertsSent.Add(1)
		o.stateMu.Lock()
		o.recentAlerts = append(o.recentAlerts, p.Alert)
		if over := len(o.recentAlerts) - o.cfg.RecentAlerts; over > 0 {
			o.recentAlerts = append([]models.Alert(nil), o.recentAlerts[over:]...)
		}
		o.stateMu.Unlock()

	case models.AlertAcknowledged:
		o.markAcknowledged(p)

	case models.AgentHeartbeat:
		o.onHeartbeat(msg, p)

	case models.HealthReport:
		o.stateMu.Lock()
		r := o.report(p.AgentID)
		r.healthy = p.Healthy
		r.status = p.Status
		o.stateMu.Unlock()
		if !p.Healthy {
			log.Warn().Str("agent", p.AgentID).Int("failing_sources", len(p.FailingSources)).Msg("Agent reports unhealthy")
		}

	case models.Escalation:
		log.Warn().
			Str("agent", p.AgentID).
			Str("reason", p.Reason).
			Str("trigger_type", string(p.TriggerType)).
			Str("correlation_id", msg.CorrelationID).
			Msg("⚠️  Agent escalation")
	}
}

func (o *Orchestrator) onHighRisk(ctx context.Context, msg models.Message, p models.HighRiskDetected) {
	o.metrics.risksDetected.Add(1)
	o.stateMu.Lock()
	o.activeRisks[p.EntityID] = p.Score
	o.stateMu.Unlock()

	match, err := o.rule.Match(p)
	if err != nil {
		log.Error().Err(err).Str("msg_id", msg.ID).Msg("Mitigation rule failed")
		return
	}
	if !match {
		log.Debug().Str("entity", p.EntityID).Float64("score", p.Score).Msg("High risk below mitigation rule")
		return
	}
	o.requestMitigation(ctx, msg, models.MitigationRequest{
		EntityID:  p.EntityID,
		Score:     p.Score,
		Immediate: p.Immediate,
		Reason:    "matched rule " + o.rule.String(),
	})
}

func (o *Orchestrator) onEscalation(ctx context.Context, msg models.Message, p models.RiskEscalation) {
	o.stateMu.Lock()
	o.activeRisks[p.EntityID] = p.Score
	o.stateMu.Unlock()

	o.requestMitigation(ctx, msg, models.MitigationRequest{
		EntityID:  p.EntityID,
		Score:     p.Score,
		Immediate: true,
		Reason:    fmt.Sprintf("risk escalated by %.0f", p.Delta),
	})
	label := p.EntityName
	if label == "" {
		label = p.EntityID
	}
	o.requestAlert(ctx, msg, models.AlertRequest{
		AlertType: "risk_escalation",
		Severity:  models.SeverityCritical,
		Title:     "Risk escalation: " + label,
		Body:      fmt.Sprintf("Risk score for %s jumped from %.0f to %.0f.", label, p.PreviousScore, p.Score),
		EntityID:  p.EntityID,
	})
}

func (o *Orchestrator) requestMitigation(ctx context.Context, trigger models.Message, req models.MitigationRequest) {
	o.stateMu.Lock()
	o.pendingMitigations[req.EntityID] = time.Now().UTC()
	o.stateMu.Unlock()

	o.publish(ctx, models.Message{
		To:            models.MitigationAgent,
		Payload:       req,
		CorrelationID: trigger.ConversationID(),
		Priority:      models.PriorityCritical,
	})
	log.Info().
		Str("entity", req.EntityID).
		Float64("score", req.Score).
		Bool("immediate", req.Immediate).
		Msg("🧭 Mitigation requested")
}

func (o *Orchestrator) requestAlert(ctx context.Context, trigger models.Message, req models.AlertRequest) {
	priority := models.PriorityHigh
	if req.Severity == models.SeverityCritical {
		priority = models.PriorityCritical
	}
	o.publish(ctx, models.Message{
		To:            models.AlertAgent,
		Payload:       req,
		CorrelationID: trigger.ConversationID(),
		Priority:      priority,
	})
}

func (o *Orchestrator) publish(ctx context.Context, msg models.Message) {
	msg.From = o.ID()
	if _, err := o.bus.Publish(ctx, msg); err != nil && !errors.Is(err, bus.ErrClosed) {
		log.Error().Err(err).Str("type", string(msg.Kind())).Msg("Orchestrator publish failed")
	}
}

func (o *Orchestrator) markAcknowledged(p models.AlertAcknowledged) {
	ids := make(map[string]bool, len(p.AlertIDs))
	for _, id := range p.AlertIDs {
		ids[id] = true
	}
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	for i := range o.recentAlerts {
		if ids[o.recentAlerts[i].ID] {
			o.recentAlerts[i].Acknowledged = true
			o.recentAlerts[i].AcknowledgedBy = p.UserID
		}
	}
}

func (o *Orchestrator) onHeartbeat(msg models.Message, p models.AgentHeartbeat) {
	o.stateMu.Lock()
	r := o.report(p.AgentID)
	r.status = p.Status
	r.lastHeartbeat = msg.Timestamp
	r.currentTask = p.CurrentTask
	r.processed = p.Processed
	r.errors = p.Errors
	if p.Error != "" {
		r.lastError = p.Error
	}
	o.stateMu.Unlock()

	if p.Error != "" {
		o.metrics.agentErrors.Add(1)
		log.Warn().
			Str("agent", p.AgentID).
			Str("failed_msg_id", p.FailedMsgID).
			Str("error", p.Error).
			Msg("Agent reported a failed message")
	}
}

// report returns the tracked report for id, creating it. Caller holds stateMu.
func (o *Orchestrator) report(id string) *agentReport {
	r, ok := o.reports[id]
	if !ok {
		r = &agentReport{healthy: true}
		o.reports[id] = r
	}
	return r
}

// ── Health ──────────────────────────────────────────────────

// CheckHealth broadcasts a health_check. Agents answer with health_report.
func (o *Orchestrator) CheckHealth(ctx context.Context) {
	o.publish(ctx, models.Message{
		To:       models.Broadcast,
		Payload:  models.HealthCheck{RequestedAt: time.Now().UTC()},
		Priority: models.PriorityLow,
	})

	unhealthy := 0
	for _, h := range o.Agents() {
		if !h.Healthy {
			unhealthy++
		}
	}
	if unhealthy > 0 {
		log.Warn().Int("unhealthy", unhealthy).Msg("🩺 Health check: agents need attention")
		return
	}
	log.Debug().Msg("🩺 Health check sent")
}

// ── Read API ────────────────────────────────────────────────

// Agents returns per-agent health: live runtime state for supervised agents
// joined with the latest heartbeat and health report of every agent heard.
func (o *Orchestrator) Agents() []models.AgentHealth {
	now := time.Now().UTC()
	seen := make(map[string]bool)
	var out []models.AgentHealth

	o.stateMu.RLock()
	defer o.stateMu.RUnlock()

	for _, rt := range o.ordered() {
		st := rt.State()
		h := models.AgentHealth{
			ID:            st.ID,
			Status:        st.Status,
			LastHeartbeat: st.LastHeartbeat,
			CurrentTask:   st.CurrentTask,
			Processed:     st.Processed,
			Errors:        st.Errors,
			LastError:     rt.LastError(),
		}
		reported := true
		if r, ok := o.reports[st.ID]; ok {
			reported = r.healthy
		}
		h.Healthy = reported && o.alive(h.Status, h.LastHeartbeat, now)
		out = append(out, h)
		seen[st.ID] = true
	}

	ids := make([]string, 0, len(o.reports))
	for id := range o.reports {
		if !seen[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		r := o.reports[id]
		out = append(out, models.AgentHealth{
			ID:            id,
			Status:        r.status,
			Healthy:       r.healthy && o.alive(r.status, r.lastHeartbeat, now),
			LastHeartbeat: r.lastHeartbeat,
			CurrentTask:   r.currentTask,
			Processed:     r.processed,
			Errors:        r.errors,
			LastError:     r.lastError,
		})
	}
	return out
}

func (o *Orchestrator) alive(status models.AgentStatus, lastHeartbeat, now time.Time) bool {
	if status == models.AgentError || status == models.AgentOffline {
		return false
	}
	return !lastHeartbeat.IsZero() && now.Sub(lastHeartbeat) <= o.cfg.HeartbeatTimeout
}

// Metrics returns the cumulative system counters. MessagesProcessed is the
// sum of the supervised agents' processed counts; every inbox delivery is
// counted in MessagesDelivered.
func (o *Orchestrator) Metrics() models.SystemMetrics {
	var processed int64
	o.agentsMu.RLock()
	for _, rt := range o.agents {
		processed += rt.State().Processed
	}
	o.agentsMu.RUnlock()
	return o.metrics.snapshot(processed)
}

// Status returns uptime, metrics, agent health and the recent message window.
func (o *Orchestrator) Status() models.SystemStatus {
	o.lifeMu.Lock()
	running, startedAt := o.running, o.startedAt
	o.lifeMu.Unlock()

	var uptime time.Duration
	if running {
		uptime = time.Since(startedAt).Truncate(time.Second)
	}
	return models.SystemStatus{
		StartedAt:      startedAt,
		Uptime:         uptime.String(),
		UptimeSeconds:  int64(uptime.Seconds()),
		Running:        running,
		Metrics:        o.Metrics(),
		Agents:         o.Agents(),
		RecentMessages: o.bus.History(bus.HistoryFilter{Limit: o.cfg.RecentMessages}),
	}
}

// SystemState implements agent.SystemStateProvider.
func (o *Orchestrator) SystemState() models.SystemState {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()

	st := models.SystemState{
		ActiveRisks:        make([]string, 0, len(o.activeRisks)),
		PendingMitigations: make([]string, 0, len(o.pendingMitigations)),
		RecentAlerts:       append([]models.Alert(nil), o.recentAlerts...),
	}
	for id := range o.activeRisks {
		st.ActiveRisks = append(st.ActiveRisks, id)
	}
	for id := range o.pendingMitigations {
		st.PendingMitigations = append(st.PendingMitigations, id)
	}
	sort.Strings(st.ActiveRisks)
	sort.Strings(st.PendingMitigations)
	return st
}
