package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/adithya-n05/ICHack26-sub001/internal/agent"
	"github.com/adithya-n05/ICHack26-sub001/pkg/contracts"
	"github.com/adithya-n05/ICHack26-sub001/pkg/models"
	"github.com/rs/zerolog/log"
)

// ── Risk Analysis Agent ─────────────────────────────────────

const (
	DefaultSeverityFloor     = 6.0
	DefaultImpactRadiusKm    = 500.0
	DefaultHighRiskThreshold = 75.0
	DefaultEscalationDelta   = 10.0
	DefaultImmediateSeverity = 9.0
	DefaultSweepInterval     = 5 * time.Minute

	sweepTask     = "sweep"
	riskKeyPrefix = "risk:"
)

// RiskConfig tunes the risk analysis agent. HighRiskThreshold is
// independent of the orchestrator's mitigation rule.
type RiskConfig struct {
	SeverityFloor     float64
	RadiusKm          float64
	HighRiskThreshold float64
	EscalationDelta   float64
	// ImmediateSeverity marks high-risk detections from records this severe
	// as needing immediate mitigation.
	ImmediateSeverity float64
	SweepInterval     time.Duration
}

// TrackedRisk is the latest score the agent holds for an entity.
type TrackedRisk struct {
	EntityID   string            `json:"entity_id"`
	EntityType models.EntityType `json:"entity_type"`
	EntityName string            `json:"entity_name"`
	Score      float64           `json:"score"`
	High       bool              `json:"high"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Risk turns ingested records into per-entity risk signals.
type Risk struct {
	cfg       RiskConfig
	proximity contracts.ProximityFinder
	scorer    contracts.RiskScorer

	rt *agent.Runtime
}

// NewRisk creates the risk analysis policy.
func NewRisk(proximity contracts.ProximityFinder, scorer contracts.RiskScorer, cfg RiskConfig) *Risk {
	if cfg.SeverityFloor <= 0 {
		cfg.SeverityFloor = DefaultSeverityFloor
	}
	if cfg.RadiusKm <= 0 {
		cfg.RadiusKm = DefaultImpactRadiusKm
	}
	if cfg.HighRiskThreshold <= 0 {
		cfg.HighRiskThreshold = DefaultHighRiskThreshold
	}
	if cfg.EscalationDelta <= 0 {
		cfg.EscalationDelta = DefaultEscalationDelta
	}
	if cfg.ImmediateSeverity <= 0 {
		cfg.ImmediateSeverity = DefaultImmediateSeverity
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	return &Risk{cfg: cfg, proximity: proximity, scorer: scorer}
}

func (r *Risk) ID() string { return models.RiskAgent }

func (r *Risk) Capabilities() []models.Capability {
	return []models.Capability{
		{
			Name:        "risk_assessment",
			Description: "Score entities near high-severity events",
			Inputs:      []models.MessageType{models.MsgDataIngested},
			Outputs:     []models.MessageType{models.MsgHighRiskDetected, models.MsgRiskEscalation},
		},
		{
			Name:        "risk_sweep",
			Description: "Periodically re-score tracked entities",
			Inputs:      []models.MessageType{models.MsgScheduledTick},
			Outputs:     []models.MessageType{models.MsgRiskResolved, models.MsgHighRiskDetected},
		},
	}
}

// OnStart arms the periodic sweep.
func (r *Risk) OnStart(ctx context.Context, rt *agent.Runtime) error {
	r.rt = rt
	return rt.Every(r.cfg.SweepInterval, sweepTask)
}

func (r *Risk) Decide(ctx context.Context, dc *agent.DecisionContext) (*agent.Decision, error) {
	switch p := dc.Trigger.Payload.(type) {
	case models.DataIngested:
		return r.assess(ctx, dc, p)
	case models.ScheduledTick:
		if p.Task != sweepTask {
			return agent.Ignore("unknown task " + p.Task), nil
		}
		return r.sweep(ctx, dc)
	default:
		return agent.Ignore("unhandled message type " + string(dc.Trigger.Type)), nil
	}
}

// assess scores every entity affected by a severe record in the batch.
// Every assessment at or above the threshold is announced once per batch,
// even for an entity that was already high; mitigation dedupes repeats.
// A high score wins over a rise, and a rise alone above the delta is an
// escalation.
func (r *Risk) assess(ctx context.Context, dc *agent.DecisionContext, in models.DataIngested) (*agent.Decision, error) {
	d := agent.Process("assessed " + in.Source)
	tracked := make(map[string]TrackedRisk)
	announced := make(map[string]bool)

	var severe int
	for _, rec := range in.Records {
		if rec.Severity < r.cfg.SeverityFloor || rec.Location == nil {
			continue
		}
		severe++

		affected, err := r.proximity.Nearby(ctx, *rec.Location, r.cfg.RadiusKm)
		if err != nil {
			return nil, fmt.Errorf("proximity for record %s: %w", rec.ID, err)
		}

		for _, ae := range affected {
			ent := ae.Entity
			score, err := r.scorer.Score(ctx, ent.ID, ent.Type)
			if err != nil {
				return nil, fmt.Errorf("score entity %s: %w", ent.ID, err)
			}

			prev, seen := tracked[ent.ID]
			if !seen {
				prev, seen = agent.Recall[TrackedRisk](dc.Memory, riskKeyPrefix+ent.ID)
			}
			next := TrackedRisk{
				EntityID:   ent.ID,
				EntityType: ent.Type,
				EntityName: ent.Name,
				Score:      score.Score,
				High:       score.Score >= r.cfg.HighRiskThreshold,
				UpdatedAt:  dc.Now,
			}
			tracked[ent.ID] = next
			d.Remember(riskKeyPrefix+ent.ID, next)

			switch {
			case next.High && !announced[ent.ID]:
				announced[ent.ID] = true
				d.Send(r.highRisk(next, score.Factors, rec.ID, rec.Severity >= r.cfg.ImmediateSeverity))
				log.Warn().
					Str("entity", ent.ID).
					Float64("score", next.Score).
					Str("record", rec.ID).
					Msg("🚨 High risk detected")
			case seen && next.Score-prev.Score > r.cfg.EscalationDelta:
				d.Send(models.Message{
					To: models.Broadcast,
					Payload: models.RiskEscalation{
						EntityID:      ent.ID,
						EntityType:    ent.Type,
						EntityName:    ent.Name,
						PreviousScore: prev.Score,
						Score:         next.Score,
						Delta:         next.Score - prev.Score,
						RecordID:      rec.ID,
					},
					Priority: models.PriorityHigh,
				})
				log.Warn().
					Str("entity", ent.ID).
					Float64("from", prev.Score).
					Float64("to", next.Score).
					Msg("📈 Risk escalation")
			}
		}
	}

	if severe == 0 {
		return agent.Ignore("no records above severity floor"), nil
	}
	return d, nil
}

func (r *Risk) highRisk(t TrackedRisk, factors []models.RiskFactor, recordID string, immediate bool) models.Message {
	return models.Message{
		To: models.Broadcast,
		Payload: models.HighRiskDetected{
			EntityID:   t.EntityID,
			EntityType: t.EntityType,
			EntityName: t.EntityName,
			Score:      t.Score,
			Factors:    factors,
			RecordID:   recordID,
			Immediate:  immediate,
		},
		Priority:    models.PriorityCritical,
		RequiresAck: true,
	}
}

// sweep re-scores every tracked entity and reports transitions across the
// high-risk line in both directions.
func (r *Risk) sweep(ctx context.Context, dc *agent.DecisionContext) (*agent.Decision, error) {
	all := agent.RecallPrefix[TrackedRisk](dc.Memory, riskKeyPrefix)
	d := agent.Process(fmt.Sprintf("swept %d entities", len(all)))

	var resolved, raised int
	for _, prev := range all {
		score, err := r.scorer.Score(ctx, prev.EntityID, prev.EntityType)
		if err != nil {
			log.Warn().Err(err).Str("entity", prev.EntityID).Msg("Sweep scoring failed, keeping last score")
			continue
		}
		next := prev
		next.Score = score.Score
		next.High = score.Score >= r.cfg.HighRiskThreshold
		next.UpdatedAt = dc.Now
		d.Remember(riskKeyPrefix+prev.EntityID, next)

		switch {
		case prev.High && !next.High:
			resolved++
			d.Send(models.Message{
				To: models.Broadcast,
				Payload: models.RiskResolved{
					EntityID:      prev.EntityID,
					EntityName:    prev.EntityName,
					PreviousScore: prev.Score,
					Score:         next.Score,
				},
			})
		case !prev.High && next.High:
			raised++
			d.Send(r.highRisk(next, score.Factors, "", false))
		}
	}

	log.Info().
		Int("tracked", len(all)).
		Int("resolved", resolved).
		Int("raised", raised).
		Msg("🔄 Risk sweep complete")
	return d, nil
}

// Tracked returns every entity the agent currently tracks.
func (r *Risk) Tracked() []TrackedRisk {
	if r.rt == nil {
		return nil
	}
	return agent.RecallPrefix[TrackedRisk](r.rt.Memory(), riskKeyPrefix)
}
