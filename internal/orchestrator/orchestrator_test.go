package orchestrator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/adithya-n05/ICHack26-sub001/internal/agent"
	"github.com/adithya-n05/ICHack26-sub001/internal/bus"
	"github.com/adithya-n05/ICHack26-sub001/internal/orchestrator"
	"github.com/adithya-n05/ICHack26-sub001/pkg/models"
)

// ── Harness ─────────────────────────────────────────────────

func newBus(t *testing.T, opts bus.Options) *bus.Bus {
	t.Helper()
	b := bus.New(opts)
	t.Cleanup(b.Close)
	return b
}

func startOrchestrator(t *testing.T, b *bus.Bus, cfg orchestrator.Config, rts ...*agent.Runtime) *orchestrator.Orchestrator {
	t.Helper()
	o, err := orchestrator.New(b, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	o.Register(rts...)
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		o.Stop(ctx)
	})
	return o
}

func publish(t *testing.T, b *bus.Bus, msg models.Message) models.Message {
	t.Helper()
	out, err := b.Publish(context.Background(), msg)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func next(t *testing.T, ch <-chan models.Message, typ models.MessageType) models.Message {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case m := <-ch:
			if m.Type == typ {
				return m
			}
		case <-timeout:
			t.Fatalf("no %s message received", typ)
		}
	}
}

func drain(ch <-chan models.Message, typ models.MessageType, quiet time.Duration) []models.Message {
	var out []models.Message
	for {
		select {
		case m := <-ch:
			if m.Type == typ {
				out = append(out, m)
			}
		case <-time.After(quiet):
			return out
		}
	}
}

// lifecyclePolicy records its start and stop hooks in a shared log.
type lifecyclePolicy struct {
	id  string
	mu  *sync.Mutex
	log *[]string
}

func (p lifecyclePolicy) ID() string                       { return p.id }
func (p lifecyclePolicy) Capabilities() []models.Capability { return nil }

func (p lifecyclePolicy) Decide(ctx context.Context, dc *agent.DecisionContext) (*agent.Decision, error) {
	return agent.Ignore("nothing to do"), nil
}

func (p lifecyclePolicy) OnStart(ctx context.Context, rt *agent.Runtime) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	*p.log = append(*p.log, "start:"+p.id)
	return nil
}

func (p lifecyclePolicy) OnStop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	*p.log = append(*p.log, "stop:"+p.id)
	return nil
}

// ── Lifecycle ───────────────────────────────────────────────

func TestOrchestrator_StartsInDependencyOrder(t *testing.T) {
	b := newBus(t, bus.Options{})
	var (
		mu     sync.Mutex
		events []string
	)
	var rts []*agent.Runtime
	for _, id := range []string{models.IngestionAgent, "custom", models.RiskAgent, models.AlertAgent, models.MitigationAgent} {
		rts = append(rts, agent.New(lifecyclePolicy{id: id, mu: &mu, log: &events}, b, agent.Options{HeartbeatInterval: time.Hour}))
	}

	o, err := orchestrator.New(b, orchestrator.Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	o.Register(rts...)
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !o.Running() {
		t.Fatal("Running() = false after Start")
	}
	for _, rt := range rts {
		if !rt.Running() {
			t.Errorf("agent %s not running", rt.ID())
		}
	}
	if err := o.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	want := []string{
		"start:alert", "start:mitigation", "start:risk_analysis", "start:ingestion", "start:custom",
		"stop:custom", "stop:ingestion", "stop:risk_analysis", "stop:mitigation", "stop:alert",
	}
	mu.Lock()
	defer mu.Unlock()
	if len(events) != len(want) {
		t.Fatalf("lifecycle = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("lifecycle = %v, want %v", events, want)
		}
	}
	for _, rt := range rts {
		if rt.Status() != models.AgentOffline {
			t.Errorf("agent %s status = %s after stop, want offline", rt.ID(), rt.Status())
		}
	}
}

func TestNew_RejectsBadRule(t *testing.T) {
	if _, err := orchestrator.New(bus.New(bus.Options{}), orchestrator.Config{MitigationRule: "score >"}); err == nil {
		t.Fatal("New() with a broken rule succeeded")
	}
}

// ── Policy ──────────────────────────────────────────────────

func TestOrchestrator_ForwardsMitigationByRule(t *testing.T) {
	b := newBus(t, bus.Options{})
	mitigation := b.Subscribe(models.MitigationAgent)
	startOrchestrator(t, b, orchestrator.Config{})

	publish(t, b, models.Message{From: models.RiskAgent, Payload: models.HighRiskDetected{EntityID: "low", Score: 76}})
	hot := publish(t, b, models.Message{From: models.RiskAgent, Payload: models.HighRiskDetected{EntityID: "hot", Score: 85}})
	urgent := publish(t, b, models.Message{From: models.RiskAgent, Payload: models.HighRiskDetected{EntityID: "urgent", Score: 77, Immediate: true}})

	got := drain(mitigation, models.MsgMitigationRequest, 200*time.Millisecond)
	if len(got) != 2 {
		t.Fatalf("mitigation requests = %d, want 2", len(got))
	}
	byEntity := map[string]models.Message{}
	for _, m := range got {
		if m.Priority != models.PriorityCritical || m.From != models.OrchestratorID {
			t.Errorf("request from=%s priority=%s, want orchestrator/critical", m.From, m.Priority)
		}
		byEntity[m.Payload.(models.MitigationRequest).EntityID] = m
	}
	if byEntity["hot"].CorrelationID != hot.ID || byEntity["urgent"].CorrelationID != urgent.ID {
		t.Error("forwarded requests should join the detection's conversation")
	}
	if _, ok := byEntity["low"]; ok {
		t.Error("score 76 without immediate should not be forwarded")
	}
}

func TestOrchestrator_EscalationRequestsMitigationAndAlert(t *testing.T) {
	b := newBus(t, bus.Options{})
	mitigation := b.Subscribe(models.MitigationAgent)
	alerts := b.Subscribe(models.AlertAgent)
	startOrchestrator(t, b, orchestrator.Config{})

	publish(t, b, models.Message{From: models.RiskAgent, Payload: models.RiskEscalation{EntityID: "c1", PreviousScore: 60, Score: 72, Delta: 12}})

	req := next(t, mitigation, models.MsgMitigationRequest).Payload.(models.MitigationRequest)
	if !req.Immediate || req.EntityID != "c1" {
		t.Errorf("mitigation request = %+v, want immediate for c1", req)
	}
	alert := next(t, alerts, models.MsgAlertRequest)
	if ar := alert.Payload.(models.AlertRequest); ar.Severity != models.SeverityCritical {
		t.Errorf("alert severity = %s, want critical", ar.Severity)
	}
	if alert.Priority != models.PriorityCritical {
		t.Errorf("alert priority = %s, want critical", alert.Priority)
	}
}

func TestOrchestrator_FailureAlerts(t *testing.T) {
	b := newBus(t, bus.Options{})
	alerts := b.Subscribe(models.AlertAgent)
	startOrchestrator(t, b, orchestrator.Config{})

	publish(t, b, models.Message{
		From:    models.IngestionAgent,
		To:      models.OrchestratorID,
		Payload: models.DataSourceFailed{Source: "usgs", ConsecutiveFailures: 3, LastError: "503"},
	})
	ar := next(t, alerts, models.MsgAlertRequest).Payload.(models.AlertRequest)
	if ar.AlertType != "infrastructure" || ar.Severity != models.SeverityWarning {
		t.Errorf("source failure alert = %+v, want infrastructure warning", ar)
	}

	publish(t, b, models.Message{
		From:    models.MitigationAgent,
		Payload: models.NoAlternatives{EntityID: "c1", Reason: "no alternative supplier matched"},
	})
	ar = next(t, alerts, models.MsgAlertRequest).Payload.(models.AlertRequest)
	if ar.AlertType != "manual_intervention" || ar.Severity != models.SeverityCritical || ar.EntityID != "c1" {
		t.Errorf("no alternatives alert = %+v, want critical manual intervention", ar)
	}
}

func TestOrchestrator_IgnoresOwnMessages(t *testing.T) {
	b := newBus(t, bus.Options{})
	mitigation := b.Subscribe(models.MitigationAgent)
	startOrchestrator(t, b, orchestrator.Config{})

	publish(t, b, models.Message{From: models.OrchestratorID, Payload: models.HighRiskDetected{EntityID: "c1", Score: 99}})
	if got := drain(mitigation, models.MsgMitigationRequest, 150*time.Millisecond); len(got) != 0 {
		t.Errorf("mitigation requests = %d for own message, want 0", len(got))
	}
}

// ── Acknowledgment timeouts ─────────────────────────────────

func TestOrchestrator_RepublishesCriticalOnce(t *testing.T) {
	b := newBus(t, bus.Options{AckTimeout: 50 * time.Millisecond})
	b.Subscribe(models.MitigationAgent)
	o := startOrchestrator(t, b, orchestrator.Config{MitigationRule: "false"})

	orig := publish(t, b, models.Message{
		From:        models.RiskAgent,
		To:          models.MitigationAgent,
		Payload:     models.HighRiskDetected{EntityID: "c1", Score: 90},
		Priority:    models.PriorityCritical,
		RequiresAck: true,
	})
	publish(t, b, models.Message{
		From:        models.RiskAgent,
		To:          models.MitigationAgent,
		Payload:     models.RiskResolved{EntityID: "c2"},
		RequiresAck: true,
	})

	waitFor(t, "both timeouts of the critical message", func() bool { return o.Metrics().AckTimeouts >= 3 })
	time.Sleep(150 * time.Millisecond)

	copies := b.History(bus.HistoryFilter{Type: models.MsgHighRiskDetected})
	if len(copies) != 2 {
		t.Fatalf("high risk copies = %d, want original + one re-publish", len(copies))
	}
	if copies[1].CorrelationID != orig.ID || copies[1].From != models.RiskAgent {
		t.Errorf("re-publish = %+v, want original sender in the original conversation", copies[1])
	}
	if n := len(b.History(bus.HistoryFilter{Type: models.MsgRiskResolved})); n != 1 {
		t.Errorf("normal-priority copies = %d, want 1", n)
	}
	if got := o.Metrics().AckTimeouts; got != 3 {
		t.Errorf("AckTimeouts = %d, want 3", got)
	}
}

// ── Read API ────────────────────────────────────────────────

func TestOrchestrator_StateAndMetrics(t *testing.T) {
	b := newBus(t, bus.Options{})
	o := startOrchestrator(t, b, orchestrator.Config{MitigationRule: "false"})

	publish(t, b, models.Message{From: models.RiskAgent, Payload: models.HighRiskDetected{EntityID: "c1", Score: 88}})
	publish(t, b, models.Message{From: models.RiskAgent, Payload: models.HighRiskDetected{EntityID: "c2", Score: 78}})
	publish(t, b, models.Message{From: models.RiskAgent, Payload: models.RiskResolved{EntityID: "c2"}})
	publish(t, b, models.Message{
		From:    models.AlertAgent,
		To:      models.OrchestratorID,
		Payload: models.AlertSent{Alert: models.Alert{ID: "a1", EntityID: "c1"}},
	})
	publish(t, b, models.Message{
		From:    models.AlertAgent,
		To:      models.OrchestratorID,
		Payload: models.AlertAcknowledged{AlertIDs: []string{"a1"}, UserID: "ops"},
	})
	publish(t, b, models.Message{
		From:    models.MitigationAgent,
		Payload: models.MitigationPlanReady{Plan: models.MitigationPlan{EntityID: "c1"}},
	})

	waitFor(t, "state settles", func() bool {
		st := o.SystemState()
		return len(st.RecentAlerts) == 1 && st.RecentAlerts[0].Acknowledged && o.Metrics().MitigationsGenerated == 1
	})

	st := o.SystemState()
	if len(st.ActiveRisks) != 1 || st.ActiveRisks[0] != "c1" {
		t.Errorf("ActiveRisks = %v, want [c1]", st.ActiveRisks)
	}
	m := o.Metrics()
	if m.RisksDetected != 2 || m.AlertsSent != 1 {
		t.Errorf("metrics = %+v, want 2 risks and 1 alert", m)
	}
	waitFor(t, "deliveries counted", func() bool { return o.Metrics().MessagesDelivered >= 6 })
	if m := o.Metrics(); m.MessagesProcessed != 0 {
		t.Errorf("MessagesProcessed = %d, want 0 with no supervised agents", m.MessagesProcessed)
	}

	// A plan served from the cache was counted when it was composed.
	publish(t, b, models.Message{
		From:    models.MitigationAgent,
		To:      models.OrchestratorID,
		Payload: models.MitigationPlanReady{Plan: models.MitigationPlan{EntityID: "c1", FromCache: true}},
	})
	publish(t, b, models.Message{
		From:    models.MitigationAgent,
		Payload: models.MitigationPlanReady{Plan: models.MitigationPlan{EntityID: "c2"}},
	})
	waitFor(t, "second plan counted", func() bool { return o.Metrics().MitigationsGenerated >= 2 })
	if got := o.Metrics().MitigationsGenerated; got != 2 {
		t.Errorf("MitigationsGenerated = %d, want 2", got)
	}

	status := o.Status()
	if !status.Running || status.StartedAt.IsZero() {
		t.Errorf("status = %+v, want running", status)
	}
	if len(status.RecentMessages) < 6 {
		t.Errorf("RecentMessages = %d, want at least 6", len(status.RecentMessages))
	}
}

func TestOrchestrator_RecentWindowsAreBounded(t *testing.T) {
	b := newBus(t, bus.Options{})
	o := startOrchestrator(t, b, orchestrator.Config{RecentAlerts: 2, RecentMessages: 3})

	for _, id := range []string{"a1", "a2", "a3"} {
		publish(t, b, models.Message{
			From:    models.AlertAgent,
			To:      models.OrchestratorID,
			Payload: models.AlertSent{Alert: models.Alert{ID: id}},
		})
	}
	waitFor(t, "alerts counted", func() bool { return o.Metrics().AlertsSent == 3 })

	alerts := o.SystemState().RecentAlerts
	if len(alerts) != 2 || alerts[0].ID != "a2" || alerts[1].ID != "a3" {
		t.Errorf("RecentAlerts = %+v, want a2,a3", alerts)
	}
	if n := len(o.Status().RecentMessages); n != 3 {
		t.Errorf("RecentMessages = %d, want 3", n)
	}
}

func TestOrchestrator_AgentHealth(t *testing.T) {
	b := newBus(t, bus.Options{})
	var mu sync.Mutex
	var events []string
	rt := agent.New(lifecyclePolicy{id: models.AlertAgent, mu: &mu, log: &events}, b, agent.Options{HeartbeatInterval: time.Hour})
	o := startOrchestrator(t, b, orchestrator.Config{}, rt)

	// A remote agent that reports a failure.
	publish(t, b, models.Message{
		From:    "remote",
		To:      models.OrchestratorID,
		Payload: models.AgentHeartbeat{AgentID: "remote", Status: models.AgentError, Errors: 1, Error: "boom", FailedMsgID: "m1"},
	})
	waitFor(t, "error counted", func() bool { return o.Metrics().AgentErrors == 1 })
	waitFor(t, "first heartbeat", func() bool { return !rt.State().LastHeartbeat.IsZero() })

	o.CheckHealth(context.Background())
	waitFor(t, "health report", func() bool {
		return len(b.History(bus.HistoryFilter{Type: models.MsgHealthReport, From: models.AlertAgent})) == 1
	})

	health := map[string]models.AgentHealth{}
	for _, h := range o.Agents() {
		health[h.ID] = h
	}
	if h := health[models.AlertAgent]; !h.Healthy || h.Status != models.AgentIdle {
		t.Errorf("alert health = %+v, want healthy idle", h)
	}
	if h := health["remote"]; h.Healthy || h.LastError != "boom" {
		t.Errorf("remote health = %+v, want unhealthy with last error", h)
	}
}
