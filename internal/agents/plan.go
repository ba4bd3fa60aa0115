package agents

import (
	"fmt"
	"strings"
	"time"

	"github.com/adithya-n05/ICHack26-sub001/pkg/models"
)

// mitigationTarget is what a plan is composed for.
type mitigationTarget struct {
	EntityID   string
	EntityName string
	Score      float64
	Immediate  bool
	Factors    []models.RiskFactor
	TriggerID  string
}

func (t mitigationTarget) label() string {
	if t.EntityName != "" {
		return t.EntityName
	}
	return t.EntityID
}

// buildPlan composes the tiered action plan for an at-risk entity.
func buildPlan(t mitigationTarget, alts []models.Alternative, now time.Time) models.MitigationPlan {
	name := t.label()
	plan := models.MitigationPlan{
		EntityID:     t.EntityID,
		Score:        t.Score,
		Alternatives: alts,
		CreatedAt:    now,
	}

	plan.Immediate = []string{
		fmt.Sprintf("Notify procurement and logistics owners for %s", name),
		fmt.Sprintf("Review open purchase orders and in-transit shipments with %s", name),
	}
	if t.Immediate || t.Score >= 90 {
		plan.Immediate = append(plan.Immediate, "Draw down safety stock and freeze non-critical orders")
	}

	if len(alts) > 0 {
		top := alts[0]
		plan.ShortTerm = append(plan.ShortTerm,
			fmt.Sprintf("Request quotes from %s (%s, +%.0f%% cost, %d day lead time)", top.Name, top.Region, top.CostDelta, top.LeadTime),
		)
		if len(alts) > 1 {
			plan.ShortTerm = append(plan.ShortTerm,
				fmt.Sprintf("Qualify %d further alternatives as backup capacity", len(alts)-1),
			)
		}
	} else {
		plan.ShortTerm = append(plan.ShortTerm,
			"Escalate to manual sourcing review: no qualified alternative supplier found",
			"Expand supplier search to adjacent regions and product substitutes",
		)
	}
	plan.ShortTerm = append(plan.ShortTerm, "Increase monitoring frequency for the affected region")

	plan.LongTerm = []string{
		fmt.Sprintf("Diversify sourcing away from single-region dependency on %s", name),
		"Reassess buffer inventory targets against observed disruption rate",
	}

	plan.Recommendations = strings.Join(recommendations(t.Score, t.Factors), "\n")
	return plan
}

// recommendations are the rule-based advice lines used when no language
// model is configured or it fails.
func recommendations(score float64, factors []models.RiskFactor) []string {
	value := func(name string) float64 {
		for _, f := range factors {
			if f.Name == name {
				return f.Value
			}
		}
		return 0
	}

	var recs []string
	if score >= 60 {
		recs = append(recs, "Consider activating alternative supplier routes")
	}
	if value("disasters") > 0.5 {
		recs = append(recs, "Monitor disaster situation; may require immediate rerouting")
	}
	if value("tariffs") > 0.5 {
		recs = append(recs, "Review tariff impact on costs; consider alternative trade routes")
	}
	if value("sentiment") > 0.65 {
		recs = append(recs, "Political instability detected; increase monitoring frequency")
	}
	if value("vessels") > 0.3 {
		recs = append(recs, "Shipping anomalies detected; verify vessel status")
	}
	if len(recs) == 0 {
		recs = append(recs, "Route operating within normal parameters")
	}
	return recs
}

// immediateActionsFor is the fast-path action list used on escalation.
func immediateActionsFor(esc models.RiskEscalation) []string {
	name := esc.EntityName
	if name == "" {
		name = esc.EntityID
	}
	return []string{
		fmt.Sprintf("Contact %s to confirm operating status", name),
		"Place holds on outbound orders dependent on this entity",
		"Prepare contingency allocation from existing inventory",
	}
}

func planSummary(plan models.MitigationPlan, label string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Mitigation plan for %s (risk score %.0f).", label, plan.Score)
	if len(plan.Alternatives) > 0 {
		fmt.Fprintf(&b, " Top alternative: %s in %s.", plan.Alternatives[0].Name, plan.Alternatives[0].Region)
	} else {
		b.WriteString(" No alternative suppliers available.")
	}
	if len(plan.Immediate) > 0 {
		fmt.Fprintf(&b, " First action: %s.", plan.Immediate[0])
	}
	return b.String()
}
