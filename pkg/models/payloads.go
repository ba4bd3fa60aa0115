package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload is the tagged union carried by a Message. Each message type has
// exactly one payload struct; Kind names it.
type Payload interface {
	Kind() MessageType
}

// ── Ingestion ───────────────────────────────────────────────

// DataIngested announces records newly saved by the ingestion agent.
type DataIngested struct {
	Source  string   `json:"source"`
	Records []Record `json:"records"`
}

// DataSourceFailed reports a source that crossed the failure threshold.
type DataSourceFailed struct {
	Source              string    `json:"source"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
}

// HealthCheck asks every agent to report its health.
type HealthCheck struct {
	RequestedAt time.Time `json:"requested_at"`
}

// HealthReport is an agent's answer to a HealthCheck.
type HealthReport struct {
	AgentID        string            `json:"agent_id"`
	Status         AgentStatus       `json:"status"`
	Healthy        bool              `json:"healthy"`
	FailingSources []SourceStatus    `json:"failing_sources,omitempty"`
	Details        map[string]string `json:"details,omitempty"`
}

// ScheduledTick is a self-addressed timer tick driving autonomous work.
type ScheduledTick struct {
	Task   string `json:"task"`
	Target string `json:"target,omitempty"`
}

// ── Risk ────────────────────────────────────────────────────

// HighRiskDetected flags an entity whose risk score crossed the critical line.
type HighRiskDetected struct {
	EntityID   string       `json:"entity_id"`
	EntityType EntityType   `json:"entity_type,omitempty"`
	EntityName string       `json:"entity_name,omitempty"`
	Score      float64      `json:"score"`
	Factors    []RiskFactor `json:"factors,omitempty"`
	RecordID   string       `json:"record_id,omitempty"`
	Immediate  bool         `json:"immediate,omitempty"`
}

// RiskEscalation flags a sharp rise in an entity's tracked score.
type RiskEscalation struct {
	EntityID      string     `json:"entity_id"`
	EntityType    EntityType `json:"entity_type,omitempty"`
	EntityName    string     `json:"entity_name,omitempty"`
	PreviousScore float64    `json:"previous_score"`
	Score         float64    `json:"score"`
	Delta         float64    `json:"delta"`
	RecordID      string     `json:"record_id,omitempty"`
}

// RiskResolved reports an entity that dropped out of the high-risk set.
type RiskResolved struct {
	EntityID      string  `json:"entity_id"`
	EntityName    string  `json:"entity_name,omitempty"`
	PreviousScore float64 `json:"previous_score"`
	Score         float64 `json:"score"`
}

// ── Mitigation ──────────────────────────────────────────────

// MitigationRequest asks the mitigation agent for a plan.
type MitigationRequest struct {
	EntityID  string  `json:"entity_id"`
	Score     float64 `json:"score,omitempty"`
	Immediate bool    `json:"immediate,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

// AlternativesFound lists ranked alternative suppliers for an entity.
type AlternativesFound struct {
	EntityID     string        `json:"entity_id"`
	Alternatives []Alternative `json:"alternatives"`
}

// NoAlternatives reports that no alternative supplier could be found.
type NoAlternatives struct {
	EntityID string  `json:"entity_id"`
	Score    float64 `json:"score,omitempty"`
	Reason   string  `json:"reason"`
}

// MitigationPlanReady carries a composed plan.
type MitigationPlanReady struct {
	Plan MitigationPlan `json:"plan"`
}

// ImmediateActions is the fast path emitted on a risk escalation.
type ImmediateActions struct {
	EntityID string   `json:"entity_id"`
	Score    float64  `json:"score"`
	Actions  []string `json:"actions"`
}

// ── Alerts ──────────────────────────────────────────────────

// AlertRequest asks the alert agent to raise an alert.
type AlertRequest struct {
	AlertType string        `json:"alert_type"`
	Severity  AlertSeverity `json:"severity"`
	Title     string        `json:"title"`
	Body      string        `json:"body"`
	EntityID  string        `json:"entity_id,omitempty"`
}

// AlertSent confirms an alert was broadcast.
type AlertSent struct {
	Alert Alert `json:"alert"`
}

// UserAcknowledgment is an external acknowledgment of an alert. AlertID
// targets a single alert; otherwise every pending alert for EntityID.
type UserAcknowledgment struct {
	AlertID  string `json:"alert_id,omitempty"`
	EntityID string `json:"entity_id,omitempty"`
	UserID   string `json:"user_id"`
}

// AlertAcknowledged notifies the orchestrator of acknowledged alerts.
type AlertAcknowledged struct {
	AlertIDs []string `json:"alert_ids"`
	EntityID string   `json:"entity_id,omitempty"`
	UserID   string   `json:"user_id"`
}

// ── Agent lifecycle ─────────────────────────────────────────

// AgentHeartbeat is the periodic liveness report. Error is set when the
// heartbeat reports a failed message instead of a scheduled beat.
type AgentHeartbeat struct {
	AgentID     string      `json:"agent_id"`
	Status      AgentStatus `json:"status"`
	CurrentTask string      `json:"current_task,omitempty"`
	Processed   int64       `json:"processed"`
	Errors      int64       `json:"errors"`
	Error       string      `json:"error,omitempty"`
	FailedMsgID string      `json:"failed_message_id,omitempty"`
}

// Escalation is the standardized message an agent raises to the orchestrator
// when one of its decisions escalates.
type Escalation struct {
	AgentID     string      `json:"agent_id"`
	Reason      string      `json:"reason"`
	TriggerID   string      `json:"trigger_id"`
	TriggerType MessageType `json:"trigger_type"`
}

func (DataIngested) Kind() MessageType        { return MsgDataIngested }
func (DataSourceFailed) Kind() MessageType    { return MsgDataSourceFailed }
func (HealthCheck) Kind() MessageType         { return MsgHealthCheck }
func (HealthReport) Kind() MessageType        { return MsgHealthReport }
func (ScheduledTick) Kind() MessageType       { return MsgScheduledTick }
func (HighRiskDetected) Kind() MessageType    { return MsgHighRiskDetected }
func (RiskEscalation) Kind() MessageType      { return MsgRiskEscalation }
func (RiskResolved) Kind() MessageType        { return MsgRiskResolved }
func (MitigationRequest) Kind() MessageType   { return MsgMitigationRequest }
func (AlternativesFound) Kind() MessageType   { return MsgAlternativesFound }
func (NoAlternatives) Kind() MessageType      { return MsgNoAlternatives }
func (MitigationPlanReady) Kind() MessageType { return MsgMitigationPlan }
func (ImmediateActions) Kind() MessageType    { return MsgImmediateActions }
func (AlertRequest) Kind() MessageType        { return MsgAlertRequest }
func (AlertSent) Kind() MessageType           { return MsgAlertSent }
func (UserAcknowledgment) Kind() MessageType  { return MsgUserAcknowledgment }
func (AlertAcknowledged) Kind() MessageType   { return MsgAlertAcknowledged }
func (AgentHeartbeat) Kind() MessageType      { return MsgAgentHeartbeat }
func (Escalation) Kind() MessageType          { return MsgEscalation }

// DecodePayload unmarshals raw JSON into the payload struct for t.
func DecodePayload(t MessageType, raw json.RawMessage) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch t {
	case MsgDataIngested:
		p, err = decodeInto[DataIngested](raw)
	case MsgDataSourceFailed:
		p, err = decodeInto[DataSourceFailed](raw)
	case MsgHealthCheck:
		p, err = decodeInto[HealthCheck](raw)
	case MsgHealthReport:
		p, err = decodeInto[HealthReport](raw)
	case MsgScheduledTick:
		p, err = decodeInto[ScheduledTick](raw)
	case MsgHighRiskDetected:
		p, err = decodeInto[HighRiskDetected](raw)
	case MsgRiskEscalation:
		p, err = decodeInto[RiskEscalation](raw)
	case MsgRiskResolved:
		p, err = decodeInto[RiskResolved](raw)
	case MsgMitigationRequest:
		p, err = decodeInto[MitigationRequest](raw)
	case MsgAlternativesFound:
		p, err = decodeInto[AlternativesFound](raw)
	case MsgNoAlternatives:
		p, err = decodeInto[NoAlternatives](raw)
	case MsgMitigationPlan:
		p, err = decodeInto[MitigationPlanReady](raw)
	case MsgImmediateActions:
		p, err = decodeInto[ImmediateActions](raw)
	case MsgAlertRequest:
		p, err = decodeInto[AlertRequest](raw)
	case MsgAlertSent:
		p, err = decodeInto[AlertSent](raw)
	case MsgUserAcknowledgment:
		p, err = decodeInto[UserAcknowledgment](raw)
	case MsgAlertAcknowledged:
		p, err = decodeInto[AlertAcknowledged](raw)
	case MsgAgentHeartbeat:
		p, err = decodeInto[AgentHeartbeat](raw)
	case MsgEscalation:
		p, err = decodeInto[Escalation](raw)
	default:
		return nil, fmt.Errorf("unknown message type %q", t)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return p, nil
}

func decodeInto[T Payload](raw json.RawMessage) (Payload, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
