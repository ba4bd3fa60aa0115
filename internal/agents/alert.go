package agents

import (
	"context"
	"fmt"
	"sort"

	"github.com/adithya-n05/ICHack26-sub001/internal/agent"
	"github.com/adithya-n05/ICHack26-sub001/pkg/contracts"
	"github.com/adithya-n05/ICHack26-sub001/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ── Alert Agent ─────────────────────────────────────────────

const (
	DefaultAlertHistory = 100

	// Real-time events emitted through the broadcaster.
	EventAlert             = "alert"
	EventAlertAcknowledged = "alert_acknowledged"

	pendingKeyPrefix = "pending:"
	historyKey       = "history"
	acknowledgedKey  = "acknowledged"
	sentKey          = "sent"
)

// AlertConfig tunes the alert agent.
type AlertConfig struct {
	HistorySize int
	// NewID generates alert ids. Defaults to random UUIDs.
	NewID func() string
}

// Alert normalizes alert-worthy messages, broadcasts them in real time and
// tracks their acknowledgment.
type Alert struct {
	cfg         AlertConfig
	broadcaster contracts.Broadcaster

	rt *agent.Runtime
}

// NewAlert creates the alert policy. broadcaster may be nil.
func NewAlert(broadcaster contracts.Broadcaster, cfg AlertConfig) *Alert {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultAlertHistory
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Alert{cfg: cfg, broadcaster: broadcaster}
}

func (a *Alert) ID() string { return models.AlertAgent }

func (a *Alert) Capabilities() []models.Capability {
	return []models.Capability{
		{
			Name:        "alerting",
			Description: "Turn alert requests and resolutions into user-facing alerts",
			Inputs:      []models.MessageType{models.MsgAlertRequest, models.MsgRiskResolved},
			Outputs:     []models.MessageType{models.MsgAlertSent},
		},
		{
			Name:        "acknowledgment",
			Description: "Record user acknowledgments of pending alerts",
			Inputs:      []models.MessageType{models.MsgUserAcknowledgment},
			Outputs:     []models.MessageType{models.MsgAlertAcknowledged},
		},
	}
}

func (a *Alert) OnStart(ctx context.Context, rt *agent.Runtime) error {
	a.rt = rt
	rt.Seed(map[string]any{acknowledgedKey: int64(0), sentKey: int64(0)})
	return nil
}

func (a *Alert) Decide(ctx context.Context, dc *agent.DecisionContext) (*agent.Decision, error) {
	switch p := dc.Trigger.Payload.(type) {
	case models.AlertRequest:
		return a.raise(ctx, dc, p.AlertType, p.Severity, p.Title, p.Body, p.EntityID), nil
	case models.RiskResolved:
		name := p.EntityName
		if name == "" {
			name = p.EntityID
		}
		return a.raise(ctx, dc, "risk_resolved", models.SeverityInfo,
			"Risk resolved: "+name,
			fmt.Sprintf("Risk score for %s dropped from %.0f to %.0f.", name, p.PreviousScore, p.Score),
			p.EntityID,
		), nil
	case models.UserAcknowledgment:
		return a.acknowledge(ctx, dc, p), nil
	default:
		return agent.Ignore("unhandled message type " + string(dc.Trigger.Type)), nil
	}
}

func (a *Alert) raise(ctx context.Context, dc *agent.DecisionContext, typ string, sev models.AlertSeverity, title, body, entityID string) *agent.Decision {
	if sev == "" {
		sev = models.SeverityInfo
	}
	alert := models.Alert{
		ID:        a.cfg.NewID(),
		Type:      typ,
		Severity:  sev,
		Title:     title,
		Message:   body,
		EntityID:  entityID,
		CreatedAt: dc.Now,
	}

	a.emit(ctx, EventAlert, alert)

	sent, _ := agent.Recall[int64](dc.Memory, sentKey)
	log.Info().
		Str("alert_id", alert.ID).
		Str("severity", string(sev)).
		Str("entity", entityID).
		Msg("🔔 Alert raised")

	history, evicted := a.appendHistory(dc.Memory, alert)
	d := agent.Process("alert "+alert.ID, models.Message{
		To:      models.OrchestratorID,
		Payload: models.AlertSent{Alert: alert},
	}).
		Remember(pendingKeyPrefix+alert.ID, alert).
		Remember(historyKey, history).
		Remember(sentKey, sent+1)
	// Pending alerts never outlive the history window.
	for _, old := range evicted {
		d.Forget(pendingKeyPrefix + old.ID)
	}
	return d
}

func (a *Alert) acknowledge(ctx context.Context, dc *agent.DecisionContext, ack models.UserAcknowledgment) *agent.Decision {
	var targets []models.Alert
	switch {
	case ack.AlertID != "":
		if alert, ok := agent.Recall[models.Alert](dc.Memory, pendingKeyPrefix+ack.AlertID); ok {
			targets = append(targets, alert)
		}
	case ack.EntityID != "":
		for _, alert := range agent.RecallPrefix[models.Alert](dc.Memory, pendingKeyPrefix) {
			if alert.EntityID == ack.EntityID {
				targets = append(targets, alert)
			}
		}
	}
	if len(targets) == 0 {
		return agent.Ignore("no pending alert matches acknowledgment")
	}

	now := dc.Now
	d := agent.Process(fmt.Sprintf("acknowledged %d alerts", len(targets)))
	ids := make([]string, 0, len(targets))
	history := a.history(dc.Memory)
	for _, alert := range targets {
		ids = append(ids, alert.ID)
		d.Forget(pendingKeyPrefix + alert.ID)

		for i := range history {
			if history[i].ID == alert.ID {
				history[i].Acknowledged = true
				history[i].AcknowledgedBy = ack.UserID
				history[i].AcknowledgedAt = &now
			}
		}
	}
	count, _ := agent.Recall[int64](dc.Memory, acknowledgedKey)
	d.Remember(acknowledgedKey, count+int64(len(targets))).Remember(historyKey, history)

	payload := models.AlertAcknowledged{AlertIDs: ids, EntityID: ack.EntityID, UserID: ack.UserID}
	a.emit(ctx, EventAlertAcknowledged, payload)

	log.Info().Strs("alert_ids", ids).Str("user", ack.UserID).Msg("✅ Alerts acknowledged")
	return d.Send(models.Message{To: models.OrchestratorID, Payload: payload})
}

func (a *Alert) emit(ctx context.Context, event string, data any) {
	if a.broadcaster == nil {
		return
	}
	if err := a.broadcaster.Emit(ctx, event, "", data); err != nil {
		log.Warn().Err(err).Str("event", event).Msg("Real-time broadcast failed")
	}
}

// history returns a copy of the stored alert history.
func (a *Alert) history(mem agent.Memory) []models.Alert {
	h, _ := agent.Recall[[]models.Alert](mem, historyKey)
	return append([]models.Alert(nil), h...)
}

func (a *Alert) appendHistory(mem agent.Memory, alert models.Alert) (kept, evicted []models.Alert) {
	h := append(a.history(mem), alert)
	if over := len(h) - a.cfg.HistorySize; over > 0 {
		return h[over:], h[:over]
	}
	return h, nil
}

// ── Read API ────────────────────────────────────────────────

// Pending returns unacknowledged alerts, oldest first.
func (a *Alert) Pending() []models.Alert {
	if a.rt == nil {
		return nil
	}
	pending := agent.RecallPrefix[models.Alert](a.rt.Memory(), pendingKeyPrefix)
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	return pending
}

// History returns the most recent alerts, oldest first.
func (a *Alert) History() []models.Alert {
	if a.rt == nil {
		return nil
	}
	return a.history(a.rt.Memory())
}

// Acknowledged returns how many alerts have been acknowledged.
func (a *Alert) Acknowledged() int64 {
	if a.rt == nil {
		return 0
	}
	n, _ := agent.Recall[int64](a.rt.Memory(), acknowledgedKey)
	return n
}
