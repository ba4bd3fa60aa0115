package orchestrator

import (
	"sync/atomic"

	"github.com/adithya-n05/ICHack26-sub001/pkg/models"
)

// metrics are the orchestrator's cumulative system counters. Messages
// processed is not kept here: it is summed from the supervised agents.
type metrics struct {
	messagesDelivered    atomic.Int64
	alertsSent           atomic.Int64
	risksDetected        atomic.Int64
	mitigationsGenerated atomic.Int64
	agentErrors          atomic.Int64
	ackTimeouts          atomic.Int64
	dropped              atomic.Int64
}

func (m *metrics) snapshot(processed int64) models.SystemMetrics {
	return models.SystemMetrics{
		MessagesProcessed:    processed,
		MessagesDelivered:    m.messagesDelivered.Load(),
		AlertsSent:           m.alertsSent.Load(),
		RisksDetected:        m.risksDetected.Load(),
		MitigationsGenerated: m.mitigationsGenerated.Load(),
		AgentErrors:          m.agentErrors.Load(),
		AckTimeouts:          m.ackTimeouts.Load(),
		DroppedDeliveries:    m.dropped.Load(),
	}
}
