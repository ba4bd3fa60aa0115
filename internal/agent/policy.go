// Package agent turns the message bus into a uniform decision loop.
//
// A Runtime wraps one Policy and drives every inbound message through
//
//	receive → build DecisionContext → Policy.Decide → apply Decision
//
// on a single goroutine, so an agent sees its inbox in FIFO order and its
// memory is only ever written by applying its own decisions.
package agent

import (
	"context"
	"time"

	"github.com/adithya-n05/ICHack26-sub001/pkg/models"
)

// Policy is the agent-specific part of a Runtime.
type Policy interface {
	// ID is the agent's bus address.
	ID() string

	// Capabilities declare what the agent consumes and produces. The runtime
	// subscribes to the union of every capability's Inputs.
	Capabilities() []models.Capability

	// Decide chooses what to do with dc.Trigger. It must not mutate dc.Memory.
	Decide(ctx context.Context, dc *DecisionContext) (*Decision, error)
}

// Starter is implemented by policies that seed memory or register timers
// when their runtime starts.
type Starter interface {
	OnStart(ctx context.Context, rt *Runtime) error
}

// Stopper is implemented by policies that release resources on stop.
type Stopper interface {
	OnStop(ctx context.Context) error
}

// SystemStateProvider supplies the coarse system snapshot attached to every
// DecisionContext. The orchestrator implements it.
type SystemStateProvider interface {
	SystemState() models.SystemState
}

// DecisionContext is everything a policy sees when deciding.
type DecisionContext struct {
	AgentID string
	Trigger models.Message

	// Related is the trigger's conversation plus recent traffic from the
	// same sender, in publish order, excluding the trigger itself.
	Related []models.Message

	// Memory is a snapshot of the agent's private memory.
	Memory Memory

	System models.SystemState
	Now    time.Time
}

// Decision is a policy's answer to one message.
type Decision struct {
	Action models.DecisionAction
	Reason string

	// Messages are published in order. From defaults to the agent id and
	// CorrelationID to the trigger's conversation id.
	Messages []models.Message

	// MemoryUpdates are merged into memory. A nil value deletes the key.
	MemoryUpdates map[string]any

	// Followup, when set, runs on its own goroutine after this decision is
	// applied. The Decision it returns is applied the same way, so a policy
	// can wait on a slow collaborator without blocking its inbox. If it
	// returns an error together with a Decision, the Decision is still applied.
	Followup func(ctx context.Context) (*Decision, error)

	// OnFailure are memory updates applied instead when Followup panics or
	// returns an error without a Decision. Ledger entries set by this
	// decision are released here.
	OnFailure map[string]any
}

// Ignore is the decision for messages an agent does not act on.
func Ignore(reason string) *Decision {
	return &Decision{Action: models.ActionIgnore, Reason: reason}
}

// Process is a process decision carrying outbound messages.
func Process(reason string, msgs ...models.Message) *Decision {
	return &Decision{Action: models.ActionProcess, Reason: reason, Messages: msgs}
}

// Remember adds a memory update and returns d.
func (d *Decision) Remember(key string, value any) *Decision {
	if d.MemoryUpdates == nil {
		d.MemoryUpdates = make(map[string]any)
	}
	d.MemoryUpdates[key] = value
	return d
}

// Forget schedules key for deletion and returns d.
func (d *Decision) Forget(key string) *Decision {
	return d.Remember(key, nil)
}

// Release schedules key for deletion if the followup fails and returns d.
func (d *Decision) Release(key string) *Decision {
	if d.OnFailure == nil {
		d.OnFailure = make(map[string]any)
	}
	d.OnFailure[key] = nil
	return d
}

// Send appends outbound messages and returns d.
func (d *Decision) Send(msgs ...models.Message) *Decision {
	d.Messages = append(d.Messages, msgs...)
	return d
}
