// Package models defines the shared data types exchanged on the message bus
// and returned by the Sentinel status API.
package models

import (
	"encoding/json"
	"time"
)

// ── Message Types ───────────────────────────────────────────

// MessageType is the closed set of message kinds routed by the bus.
type MessageType string

const (
	MsgDataIngested       MessageType = "data_ingested"
	MsgDataSourceFailed   MessageType = "data_source_failed"
	MsgHealthCheck        MessageType = "health_check"
	MsgHealthReport       MessageType = "health_report"
	MsgScheduledTick      MessageType = "scheduled_tick"
	MsgHighRiskDetected   MessageType = "high_risk_detected"
	MsgRiskEscalation     MessageType = "risk_escalation"
	MsgRiskResolved       MessageType = "risk_resolved"
	MsgMitigationRequest  MessageType = "mitigation_request"
	MsgAlternativesFound  MessageType = "alternatives_found"
	MsgNoAlternatives     MessageType = "no_alternatives"
	MsgMitigationPlan     MessageType = "mitigation_plan_ready"
	MsgImmediateActions   MessageType = "immediate_actions"
	MsgAlertRequest       MessageType = "alert_request"
	MsgAlertSent          MessageType = "alert_sent"
	MsgUserAcknowledgment MessageType = "user_acknowledgment"
	MsgAlertAcknowledged  MessageType = "alert_acknowledged"
	MsgAgentHeartbeat     MessageType = "agent_heartbeat"
	MsgEscalation         MessageType = "escalation"

	// AllTypes subscribes an agent to every broadcast message type.
	AllTypes MessageType = "all"
)

// KnownTypes lists every routable message type, in declaration order.
var KnownTypes = []MessageType{
	MsgDataIngested, MsgDataSourceFailed, MsgHealthCheck, MsgHealthReport,
	MsgScheduledTick, MsgHighRiskDetected, MsgRiskEscalation, MsgRiskResolved,
	MsgMitigationRequest, MsgAlternativesFound, MsgNoAlternatives,
	MsgMitigationPlan, MsgImmediateActions, MsgAlertRequest, MsgAlertSent,
	MsgUserAcknowledgment, MsgAlertAcknowledged, MsgAgentHeartbeat, MsgEscalation,
}

// Valid reports whether t belongs to the closed message type set.
func (t MessageType) Valid() bool {
	for _, k := range KnownTypes {
		if k == t {
			return true
		}
	}
	return false
}

// Broadcast is the destination that fans a message out to every subscriber
// of its type.
const Broadcast = "broadcast"

// Priority orders how urgently a message should be handled.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ── Message ─────────────────────────────────────────────────

// Message is the envelope routed by the bus. ID and Timestamp are assigned
// at publish time; Type is derived from the payload.
type Message struct {
	ID            string      `json:"id"`
	Type          MessageType `json:"type"`
	From          string      `json:"from"`
	To            string      `json:"to"`
	Payload       Payload     `json:"payload"`
	Timestamp     time.Time   `json:"timestamp"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	Priority      Priority    `json:"priority"`
	RequiresAck   bool        `json:"requires_ack"`
}

// IsBroadcast reports whether the message is addressed to every subscriber.
func (m Message) IsBroadcast() bool {
	return m.To == Broadcast
}

// Kind is the payload's message type, falling back to Type for a message
// without a payload.
func (m Message) Kind() MessageType {
	if m.Payload == nil {
		return m.Type
	}
	return m.Payload.Kind()
}

// ConversationID returns the correlation id a reply to m should carry.
func (m Message) ConversationID() string {
	if m.CorrelationID != "" {
		return m.CorrelationID
	}
	return m.ID
}

// UnmarshalJSON decodes the payload into the concrete type named by "type".
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	var raw struct {
		alias
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Message(raw.alias)
	m.Payload = nil
	if len(raw.Payload) == 0 || string(raw.Payload) == "null" {
		return nil
	}
	p, err := DecodePayload(raw.Type, raw.Payload)
	if err != nil {
		return err
	}
	m.Payload = p
	return nil
}

// ── Capabilities ────────────────────────────────────────────

// Capability is declarative metadata about what an agent consumes and
// produces. The runtime subscribes an agent to the union of Inputs.
type Capability struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Inputs      []MessageType `json:"inputs"`
	Outputs     []MessageType `json:"outputs"`
}
