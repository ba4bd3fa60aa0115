package agents_test

import (
	"context"
	"testing"
	"time"

	"github.com/adithya-n05/ICHack26-sub001/internal/agent"
	"github.com/adithya-n05/ICHack26-sub001/internal/agents"
	"github.com/adithya-n05/ICHack26-sub001/pkg/models"
)

var tsmc = models.Entity{ID: "c1", Type: models.EntitySupplier, Name: "TSMC Fab 15", Region: "Taiwan"}

func TestRisk_ScoreSequenceEscalatesThenDetects(t *testing.T) {
	b := newBus(t)
	watcher := b.Subscribe("watcher", models.MsgHighRiskDetected, models.MsgRiskEscalation)

	scorer := &sequenceScorer{scores: []float64{60, 72, 86}}
	risk := agents.NewRisk(fixedProximity{entities: []models.Entity{tsmc}}, scorer, agents.RiskConfig{})
	rt := startAgent(t, b, risk)

	for i, id := range []string{"r1", "r2", "r3"} {
		publish(t, b, models.Message{
			From:    models.IngestionAgent,
			Payload: models.DataIngested{Source: "usgs", Records: []models.Record{severeRecord(id)}},
		})
		want := int64(i + 1)
		waitFor(t, "record processed", func() bool { return rt.State().Processed >= want })
	}

	got := settle(watcher, 100*time.Millisecond)
	escalations := ofType(got, models.MsgRiskEscalation)
	detections := ofType(got, models.MsgHighRiskDetected)

	if len(escalations) != 1 {
		t.Fatalf("risk escalations = %d, want 1", len(escalations))
	}
	esc := escalations[0].Payload.(models.RiskEscalation)
	if esc.Score != 72 || esc.Delta != 12 {
		t.Errorf("escalation = %+v, want score 72 delta 12", esc)
	}

	if len(detections) != 1 {
		t.Fatalf("high risk detections = %d, want 1", len(detections))
	}
	hr := detections[0]
	if hr.Payload.(models.HighRiskDetected).Score != 86 {
		t.Errorf("high risk score = %v, want 86", hr.Payload.(models.HighRiskDetected).Score)
	}
	if hr.Priority != models.PriorityCritical || !hr.RequiresAck {
		t.Errorf("high risk priority=%s requiresAck=%v, want critical/true", hr.Priority, hr.RequiresAck)
	}

	tracked := risk.Tracked()
	if len(tracked) != 1 || tracked[0].Score != 86 || !tracked[0].High {
		t.Errorf("Tracked() = %+v", tracked)
	}
}

func TestRisk_IgnoresLowSeverity(t *testing.T) {
	scorer := &sequenceScorer{scores: []float64{99}}
	risk := agents.NewRisk(fixedProximity{entities: []models.Entity{tsmc}}, scorer, agents.RiskConfig{})

	rec := severeRecord("r1")
	rec.Severity = 5
	d, err := risk.Decide(context.Background(), &agent.DecisionContext{
		Trigger: models.Message{Type: models.MsgDataIngested, Payload: models.DataIngested{Records: []models.Record{rec}}},
		Memory:  agent.Memory{},
		Now:     time.Now(),
	})
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if d.Action != models.ActionIgnore {
		t.Errorf("Action = %s, want ignore", d.Action)
	}
	if scorer.calls != 0 {
		t.Errorf("scorer called %d times, want 0", scorer.calls)
	}
}

func TestRisk_ImmediateFlagFromSeverity(t *testing.T) {
	risk := agents.NewRisk(fixedProximity{entities: []models.Entity{tsmc}}, &sequenceScorer{scores: []float64{80}}, agents.RiskConfig{})

	rec := severeRecord("r1")
	rec.Severity = 9.5
	d, err := risk.Decide(context.Background(), &agent.DecisionContext{
		Trigger: models.Message{Type: models.MsgDataIngested, Payload: models.DataIngested{Records: []models.Record{rec}}},
		Memory:  agent.Memory{},
		Now:     time.Now(),
	})
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if len(d.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(d.Messages))
	}
	if hr := d.Messages[0].Payload.(models.HighRiskDetected); !hr.Immediate {
		t.Error("Immediate = false for severity 9.5 record")
	}
}

func TestRisk_SweepResolvesAndRaises(t *testing.T) {
	b := newBus(t)
	watcher := b.Subscribe("watcher", models.MsgHighRiskDetected, models.MsgRiskResolved)

	scorer := &sequenceScorer{scores: []float64{86, 40, 90}}
	risk := agents.NewRisk(fixedProximity{entities: []models.Entity{tsmc}}, scorer, agents.RiskConfig{})
	rt := startAgent(t, b, risk)

	publish(t, b, models.Message{
		From:    models.IngestionAgent,
		Payload: models.DataIngested{Source: "usgs", Records: []models.Record{severeRecord("r1")}},
	})
	nextOfType(t, watcher, models.MsgHighRiskDetected)

	if err := rt.Trigger(context.Background(), "sweep"); err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	resolved := nextOfType(t, watcher, models.MsgRiskResolved).Payload.(models.RiskResolved)
	if resolved.EntityID != "c1" || resolved.PreviousScore != 86 || resolved.Score != 40 {
		t.Errorf("resolved = %+v", resolved)
	}

	rt.Trigger(context.Background(), "sweep")
	again := nextOfType(t, watcher, models.MsgHighRiskDetected).Payload.(models.HighRiskDetected)
	if again.Score != 90 {
		t.Errorf("re-entry score = %v, want 90", again.Score)
	}
}

func TestRisk_AlreadyHighIsAnnouncedAgain(t *testing.T) {
	risk := agents.NewRisk(fixedProximity{entities: []models.Entity{tsmc}}, &sequenceScorer{scores: []float64{82}}, agents.RiskConfig{})

	mem := agent.Memory{"risk:c1": agents.TrackedRisk{EntityID: "c1", Score: 80, High: true}}
	d, err := risk.Decide(context.Background(), &agent.DecisionContext{
		Trigger: models.Message{Type: models.MsgDataIngested, Payload: models.DataIngested{Records: []models.Record{severeRecord("r9"), severeRecord("r10")}}},
		Memory:  mem,
		Now:     time.Now(),
	})
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if len(d.Messages) != 1 {
		t.Fatalf("messages = %d, want one detection per batch", len(d.Messages))
	}
	hr, ok := d.Messages[0].Payload.(models.HighRiskDetected)
	if !ok || hr.EntityID != "c1" || hr.Score != 82 {
		t.Errorf("message = %+v, want high_risk_detected for c1 at 82", d.Messages[0].Payload)
	}
}

func TestRisk_BelowThresholdAfterHighIsNotAnnounced(t *testing.T) {
	risk := agents.NewRisk(fixedProximity{entities: []models.Entity{tsmc}}, &sequenceScorer{scores: []float64{70}}, agents.RiskConfig{})

	mem := agent.Memory{"risk:c1": agents.TrackedRisk{EntityID: "c1", Score: 80, High: true}}
	d, err := risk.Decide(context.Background(), &agent.DecisionContext{
		Trigger: models.Message{Type: models.MsgDataIngested, Payload: models.DataIngested{Records: []models.Record{severeRecord("r9")}}},
		Memory:  mem,
		Now:     time.Now(),
	})
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if len(d.Messages) != 0 {
		t.Errorf("messages = %v, want none below the threshold", d.Messages)
	}
}
