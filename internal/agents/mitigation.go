package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adithya-n05/ICHack26-sub001/internal/agent"
	"github.com/adithya-n05/ICHack26-sub001/pkg/contracts"
	"github.com/adithya-n05/ICHack26-sub001/pkg/models"
	"github.com/rs/zerolog/log"
)

// ── Mitigation Agent ────────────────────────────────────────

const (
	DefaultAlternativesTTL  = 15 * time.Minute
	DefaultAlternativeLimit = 5
	DefaultLLMTimeout       = 20 * time.Second

	// ReasonAlreadyProcessing is the ignore reason for a trigger that arrives
	// while the same entity is being mitigated.
	ReasonAlreadyProcessing = "already processing"

	activeKeyPrefix = "active:"
	cacheKeyPrefix  = "alternatives:"
)

const recommendationSystemPrompt = `You are a supply chain risk analyst. Given an at-risk supply chain entity, ` +
	`its risk factors and a draft mitigation plan, write at most five short, concrete recommendations. ` +
	`One per line, no numbering, no preamble.`

// MitigationConfig tunes the mitigation agent.
type MitigationConfig struct {
	AlternativesTTL  time.Duration
	AlternativeLimit int
	// LLMTimeout bounds the optional recommendation call.
	LLMTimeout time.Duration
}

// ActiveMitigation is a ledger entry for an entity being mitigated.
type ActiveMitigation struct {
	EntityID  string    `json:"entity_id"`
	TriggerID string    `json:"trigger_id"`
	StartedAt time.Time `json:"started_at"`
}

// cachedPlan holds the last computed alternatives for an entity.
type cachedPlan struct {
	Plan models.MitigationPlan
	At   time.Time
}

// Mitigation composes mitigation plans for high-risk entities.
type Mitigation struct {
	cfg    MitigationConfig
	finder contracts.SupplierFinder
	llm    contracts.Completer

	rt *agent.Runtime
}

// NewMitigation creates the mitigation policy. llm may be nil.
func NewMitigation(finder contracts.SupplierFinder, llm contracts.Completer, cfg MitigationConfig) *Mitigation {
	if cfg.AlternativesTTL <= 0 {
		cfg.AlternativesTTL = DefaultAlternativesTTL
	}
	if cfg.AlternativeLimit <= 0 {
		cfg.AlternativeLimit = DefaultAlternativeLimit
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = DefaultLLMTimeout
	}
	return &Mitigation{cfg: cfg, finder: finder, llm: llm}
}

func (m *Mitigation) ID() string { return models.MitigationAgent }

func (m *Mitigation) Capabilities() []models.Capability {
	return []models.Capability{
		{
			Name:        "mitigation_planning",
			Description: "Find alternative suppliers and compose a tiered mitigation plan",
			Inputs:      []models.MessageType{models.MsgHighRiskDetected, models.MsgMitigationRequest},
			Outputs: []models.MessageType{
				models.MsgAlternativesFound, models.MsgNoAlternatives,
				models.MsgMitigationPlan, models.MsgAlertRequest,
			},
		},
		{
			Name:        "immediate_response",
			Description: "Emit immediate actions when a risk escalates",
			Inputs:      []models.MessageType{models.MsgRiskEscalation},
			Outputs:     []models.MessageType{models.MsgImmediateActions, models.MsgAlertRequest},
		},
	}
}

func (m *Mitigation) OnStart(ctx context.Context, rt *agent.Runtime) error {
	m.rt = rt
	return nil
}

func (m *Mitigation) Decide(ctx context.Context, dc *agent.DecisionContext) (*agent.Decision, error) {
	switch p := dc.Trigger.Payload.(type) {
	case models.HighRiskDetected:
		return m.start(dc, mitigationTarget{
			EntityID:   p.EntityID,
			EntityName: p.EntityName,
			Score:      p.Score,
			Immediate:  p.Immediate,
			Factors:    p.Factors,
			TriggerID:  dc.Trigger.ID,
		}), nil
	case models.MitigationRequest:
		if cached, ok := m.cached(dc, p.EntityID); ok {
			return m.serveCached(dc, cached), nil
		}
		return m.start(dc, mitigationTarget{
			EntityID:  p.EntityID,
			Score:     p.Score,
			Immediate: p.Immediate,
			TriggerID: dc.Trigger.ID,
		}), nil
	case models.RiskEscalation:
		return m.immediate(p), nil
	default:
		return agent.Ignore("unhandled message type " + string(dc.Trigger.Type)), nil
	}
}

// start marks the entity active and hands the supplier search to a followup.
func (m *Mitigation) start(dc *agent.DecisionContext, t mitigationTarget) *agent.Decision {
	if t.EntityID == "" {
		return agent.Ignore("missing entity id")
	}
	if dc.Memory.Has(activeKeyPrefix + t.EntityID) {
		log.Debug().Str("entity", t.EntityID).Str("msg_id", dc.Trigger.ID).Msg("Mitigation already in flight")
		return agent.Ignore(ReasonAlreadyProcessing)
	}

	d := agent.Process("mitigating " + t.EntityID).
		Remember(activeKeyPrefix+t.EntityID, ActiveMitigation{
			EntityID:  t.EntityID,
			TriggerID: t.TriggerID,
			StartedAt: dc.Now,
		}).
		Release(activeKeyPrefix + t.EntityID)
	d.Followup = func(ctx context.Context) (*agent.Decision, error) {
		return m.compose(ctx, t), nil
	}
	return d
}

// compose runs the collaborator calls and emits, in order, the alternatives
// outcome, the plan and the alert request. The ledger entry is released and
// the plan cached in the same decision, so a mitigation request that arrives
// after the run is answered from the cache whatever the outcome was.
func (m *Mitigation) compose(ctx context.Context, t mitigationTarget) *agent.Decision {
	d := agent.Process("plan ready for " + t.EntityID).Forget(activeKeyPrefix + t.EntityID)

	alts, err := m.finder.FindAlternatives(ctx, models.AlternativeQuery{
		EntityID: t.EntityID,
		Limit:    m.cfg.AlternativeLimit,
	})
	if err != nil {
		log.Warn().Err(err).Str("entity", t.EntityID).Msg("Alternative supplier search failed")
	}

	now := time.Now().UTC()
	plan := buildPlan(t, alts, now)
	if recs, ok := m.recommend(ctx, t, plan); ok {
		plan.Recommendations = recs
	}

	if len(alts) > 0 {
		d.Send(models.Message{
			To:      models.Broadcast,
			Payload: models.AlternativesFound{EntityID: t.EntityID, Alternatives: alts},
		})
	} else {
		reason := "no alternative supplier matched"
		if err != nil {
			reason = "supplier search failed: " + err.Error()
		}
		d.Send(models.Message{
			To:       models.Broadcast,
			Payload:  models.NoAlternatives{EntityID: t.EntityID, Score: t.Score, Reason: reason},
			Priority: models.PriorityHigh,
		})
	}

	d.Remember(cacheKeyPrefix+t.EntityID, cachedPlan{Plan: plan, At: now})

	severity := models.SeverityWarning
	if t.Immediate || t.Score >= 90 || len(alts) == 0 {
		severity = models.SeverityCritical
	}
	d.Send(
		models.Message{
			To:       models.Broadcast,
			Payload:  models.MitigationPlanReady{Plan: plan},
			Priority: models.PriorityHigh,
		},
		models.Message{
			To: models.AlertAgent,
			Payload: models.AlertRequest{
				AlertType: "mitigation_plan",
				Severity:  severity,
				Title:     "Mitigation plan ready: " + t.label(),
				Body:      planSummary(plan, t.label()),
				EntityID:  t.EntityID,
			},
			Priority: models.PriorityHigh,
		},
	)

	log.Info().
		Str("entity", t.EntityID).
		Int("alternatives", len(alts)).
		Float64("score", t.Score).
		Msg("🛡️  Mitigation plan ready")
	return d
}

// recommend asks the language model for free-text advice. Any failure
// keeps the rule-based recommendations.
func (m *Mitigation) recommend(ctx context.Context, t mitigationTarget, plan models.MitigationPlan) (string, bool) {
	if m.llm == nil {
		return "", false
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.LLMTimeout)
	defer cancel()

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Entity: %s (risk score %.0f/100)\n", t.label(), t.Score)
	for _, f := range t.Factors {
		fmt.Fprintf(&prompt, "Factor %s: %.2f (weight %.2f)\n", f.Name, f.Value, f.Weight)
	}
	for _, a := range plan.Alternatives {
		fmt.Fprintf(&prompt, "Alternative #%d: %s in %s, cost %+.0f%%, lead time %d days\n", a.Rank, a.Name, a.Region, a.CostDelta, a.LeadTime)
	}
	fmt.Fprintf(&prompt, "Draft immediate actions: %s\n", strings.Join(plan.Immediate, "; "))

	text, err := m.llm.Complete(ctx, contracts.CompletionRequest{
		System:      recommendationSystemPrompt,
		Prompt:      prompt.String(),
		MaxTokens:   400,
		Temperature: 0.3,
	})
	if err != nil {
		log.Warn().Err(err).Str("entity", t.EntityID).Msg("LLM recommendations unavailable, using rules")
		return "", false
	}
	text = strings.TrimSpace(text)
	return text, text != ""
}

func (m *Mitigation) cached(dc *agent.DecisionContext, entityID string) (cachedPlan, bool) {
	c, ok := agent.Recall[cachedPlan](dc.Memory, cacheKeyPrefix+entityID)
	if !ok || dc.Now.Sub(c.At) > m.cfg.AlternativesTTL {
		return cachedPlan{}, false
	}
	return c, true
}

// serveCached answers an explicit mitigation request from the cache. Only
// the requester hears about it, and a cached no-alternatives outcome is not
// re-announced: the manual intervention alert already went out.
func (m *Mitigation) serveCached(dc *agent.DecisionContext, c cachedPlan) *agent.Decision {
	plan := c.Plan
	plan.FromCache = true
	to := dc.Trigger.From
	d := agent.Process("served from cache")
	if len(plan.Alternatives) > 0 {
		d.Send(models.Message{
			To:      to,
			Payload: models.AlternativesFound{EntityID: plan.EntityID, Alternatives: plan.Alternatives},
		})
	}
	return d.Send(models.Message{
		To:      to,
		Payload: models.MitigationPlanReady{Plan: plan},
	})
}

// immediate is the escalation fast path: no supplier search.
func (m *Mitigation) immediate(esc models.RiskEscalation) *agent.Decision {
	label := esc.EntityName
	if label == "" {
		label = esc.EntityID
	}
	return agent.Process("immediate actions for "+esc.EntityID,
		models.Message{
			To: models.Broadcast,
			Payload: models.ImmediateActions{
				EntityID: esc.EntityID,
				Score:    esc.Score,
				Actions:  immediateActionsFor(esc),
			},
			Priority: models.PriorityCritical,
		},
		models.Message{
			To: models.AlertAgent,
			Payload: models.AlertRequest{
				AlertType: "risk_escalation",
				Severity:  models.SeverityCritical,
				Title:     "Risk escalating: " + label,
				Body:      fmt.Sprintf("Risk score for %s rose from %.0f to %.0f.", label, esc.PreviousScore, esc.Score),
				EntityID:  esc.EntityID,
			},
			Priority: models.PriorityCritical,
		},
	)
}

// Active returns the entities currently being mitigated.
func (m *Mitigation) Active() []ActiveMitigation {
	if m.rt == nil {
		return nil
	}
	return agent.RecallPrefix[ActiveMitigation](m.rt.Memory(), activeKeyPrefix)
}
