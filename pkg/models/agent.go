package models

import "time"

// ── Agent Identity ──────────────────────────────────────────

// Well-known bus addresses of the agent society.
const (
	OrchestratorID  = "orchestrator"
	IngestionAgent  = "ingestion"
	RiskAgent       = "risk_analysis"
	MitigationAgent = "mitigation"
	AlertAgent      = "alert"
)

// ── Agent State ─────────────────────────────────────────────

// AgentStatus is the lifecycle state of an agent runtime.
type AgentStatus string

const (
	AgentIdle       AgentStatus = "idle"
	AgentProcessing AgentStatus = "processing"
	AgentError      AgentStatus = "error"
	AgentOffline    AgentStatus = "offline"
)

// DecisionAction is what an agent chose to do with an inbound message.
type DecisionAction string

const (
	ActionProcess  DecisionAction = "process"
	ActionDelegate DecisionAction = "delegate"
	ActionEscalate DecisionAction = "escalate"
	ActionIgnore   DecisionAction = "ignore"
)

// AgentState is a point-in-time copy of an agent's runtime state.
// Memory is a shallow copy; only the owning agent writes the original.
type AgentState struct {
	ID            string         `json:"id"`
	Status        AgentStatus    `json:"status"`
	LastHeartbeat time.Time      `json:"last_heartbeat"`
	CurrentTask   string         `json:"current_task,omitempty"`
	Processed     int64          `json:"processed"`
	Errors        int64          `json:"errors"`
	Memory        map[string]any `json:"memory,omitempty"`
}

// AgentHealth is the orchestrator's view of one agent.
type AgentHealth struct {
	ID            string      `json:"id"`
	Status        AgentStatus `json:"status"`
	Healthy       bool        `json:"healthy"`
	LastHeartbeat time.Time   `json:"last_heartbeat"`
	CurrentTask   string      `json:"current_task,omitempty"`
	Processed     int64       `json:"processed"`
	Errors        int64       `json:"errors"`
	LastError     string      `json:"last_error,omitempty"`
}

// SystemState is the coarse snapshot handed to every decision.
type SystemState struct {
	ActiveRisks        []string `json:"active_risks"`
	PendingMitigations []string `json:"pending_mitigations"`
	RecentAlerts       []Alert  `json:"recent_alerts"`
}

// SystemMetrics aggregates counters across the agent society.
type SystemMetrics struct {
	MessagesProcessed    int64 `json:"messages_processed"`
	MessagesDelivered    int64 `json:"messages_delivered"`
	AlertsSent           int64 `json:"alerts_sent"`
	RisksDetected        int64 `json:"risks_detected"`
	MitigationsGenerated int64 `json:"mitigations_generated"`
	AgentErrors          int64 `json:"agent_errors"`
	AckTimeouts          int64 `json:"ack_timeouts"`
	DroppedDeliveries    int64 `json:"dropped_deliveries"`
}

// SystemStatus is returned by the orchestrator status API.
type SystemStatus struct {
	StartedAt      time.Time     `json:"started_at"`
	Uptime         string        `json:"uptime"`
	UptimeSeconds  int64         `json:"uptime_seconds"`
	Running        bool          `json:"running"`
	Metrics        SystemMetrics `json:"metrics"`
	Agents         []AgentHealth `json:"agents"`
	RecentMessages []Message     `json:"recent_messages"`
}
