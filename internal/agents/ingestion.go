// Package agents holds the concrete agent policies: Ingestion, Risk
// Analysis, Mitigation and Alert. Each is a pure decision policy over its
// message types; internal/agent.Runtime drives it over the bus.
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

// ── Ingestion Agent ─────────────────────────────────────────

const (
	DefaultPollInterval     = 5 * time.Minute
	DefaultFailureThreshold = 3

	pollTaskPrefix    = "poll:"
	sourceKeyPrefix   = "source:"
	inflightKeyPrefix = "fetching:"
)

// IngestionConfig tunes the ingestion agent.
type IngestionConfig struct {
	// Interval is the default poll period per source.
	Interval time.Duration
	// Intervals overrides Interval for individual sources.
	Intervals map[string]time.Duration
	// FailureThreshold is the consecutive-failure count that raises
	// data_source_failed.
	FailureThreshold int
	// PollOnStart triggers one fetch per source as soon as the agent starts.
	PollOnStart bool
}

// Ingestion polls external sources, upserts their records and announces
// what was newly saved.
type Ingestion struct {
	cfg      IngestionConfig
	store    contracts.RecordStore
	fetchers map[string]contracts.SourceFetcher
	order    []string

	rt *agent.Runtime
}

// NewIngestion creates the ingestion policy over the given sources.
func NewIngestion(store contracts.RecordStore, cfg IngestionConfig, fetchers ...contracts.SourceFetcher) *Ingestion {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	ing := &Ingestion{
		cfg:      cfg,
		store:    store,
		fetchers: make(map[string]contracts.SourceFetcher, len(fetchers)),
	}
	for _, f := range fetchers {
		ing.fetchers[f.Name()] = f
		ing.order = append(ing.order, f.Name())
	}
	return ing
}

func (ing *Ingestion) ID() string { return models.IngestionAgent }

func (ing *Ingestion) Capabilities() []models.Capability {
	return []models.Capability{
		{
			Name:        "source_polling",
			Description: "Fetch external feeds on a schedule and persist new records",
			Inputs:      []models.MessageType{models.MsgScheduledTick},
			Outputs:     []models.MessageType{models.MsgDataIngested, models.MsgDataSourceFailed},
		},
		{
			Name:        "source_health",
			Description: "Report sources at or above the failure threshold",
			Inputs:      []models.MessageType{models.MsgHealthCheck},
			Outputs:     []models.MessageType{models.MsgHealthReport},
		},
	}
}

// OnStart seeds per-source status and arms one poll timer per source.
func (ing *Ingestion) OnStart(ctx context.Context, rt *agent.Runtime) error {
	ing.rt = rt
	seed := make(map[string]any, len(ing.order))
	for _, name := range ing.order {
		seed[sourceKeyPrefix+name] = models.SourceStatus{Name: name}
	}
	rt.Seed(seed)

	for _, name := range ing.order {
		if err := rt.Every(ing.interval(name), pollTaskPrefix+name); err != nil {
			return fmt.Errorf("schedule %s: %w", name, err)
		}
		if ing.cfg.PollOnStart {
			if err := rt.Trigger(ctx, pollTaskPrefix+name); err != nil {
				return err
			}
		}
	}
	log.Info().Strs("sources", ing.order).Msg("📥 Ingestion sources scheduled")
	return nil
}

func (ing *Ingestion) interval(source string) time.Duration {
	if d, ok := ing.cfg.Intervals[source]; ok && d > 0 {
		return d
	}
	return ing.cfg.Interval
}

func (ing *Ingestion) Decide(ctx context.Context, dc *agent.DecisionContext) (*agent.Decision, error) {
	switch p := dc.Trigger.Payload.(type) {
	case models.ScheduledTick:
		return ing.decidePoll(dc, p)
	case models.HealthCheck:
		return ing.decideHealth(dc), nil
	default:
		return agent.Ignore("unhandled message type " + string(dc.Trigger.Type)), nil
	}
}

func (ing *Ingestion) decidePoll(dc *agent.DecisionContext, tick models.ScheduledTick) (*agent.Decision, error) {
	name, ok := strings.CutPrefix(tick.Task, pollTaskPrefix)
	if !ok {
		return agent.Ignore("unknown task " + tick.Task), nil
	}
	fetcher, ok := ing.fetchers[name]
	if !ok {
		return nil, fmt.Errorf("unknown source %q", name)
	}
	if dc.Memory.Has(inflightKeyPrefix + name) {
		return agent.Ignore("fetch already in flight for " + name), nil
	}

	status, _ := agent.Recall[models.SourceStatus](dc.Memory, sourceKeyPrefix+name)
	status.Name = name

	d := agent.Process("fetch " + name).
		Remember(inflightKeyPrefix+name, dc.Now).
		Release(inflightKeyPrefix + name)
	d.Followup = func(ctx context.Context) (*agent.Decision, error) {
		return ing.fetch(ctx, fetcher, status), nil
	}
	return d, nil
}

// fetch runs the collaborator calls for one source and folds the outcome
// into its status. Collaborator failures become status updates, not errors.
func (ing *Ingestion) fetch(ctx context.Context, fetcher contracts.SourceFetcher, status models.SourceStatus) *agent.Decision {
	name := fetcher.Name()
	now := time.Now().UTC()
	status.LastFetch = now

	saved, err := ing.fetchAndSave(ctx, fetcher)
	if err != nil {
		status.ConsecutiveFailures++
		status.LastError = err.Error()

		log.Warn().
			Err(err).
			Str("source", name).
			Int("consecutive_failures", status.ConsecutiveFailures).
			Msg("Source fetch failed")

		d := agent.Process("fetch failed").
			Remember(sourceKeyPrefix+name, status).
			Forget(inflightKeyPrefix + name)

		// Only the crossing raises; further failures keep counting quietly.
		if status.ConsecutiveFailures == ing.cfg.FailureThreshold {
			d.Action = models.ActionEscalate
			d.Reason = fmt.Sprintf("source %s failed %d times in a row", name, status.ConsecutiveFailures)
			d.Send(models.Message{
				To: models.OrchestratorID,
				Payload: models.DataSourceFailed{
					Source:              name,
					ConsecutiveFailures: status.ConsecutiveFailures,
					LastError:           status.LastError,
					LastSuccess:         status.LastSuccess,
				},
				Priority: models.PriorityHigh,
			})
		}
		return d
	}

	status.ConsecutiveFailures = 0
	status.LastError = ""
	status.LastSuccess = now
	status.TotalSaved += int64(len(saved))

	d := agent.Process(fmt.Sprintf("saved %d records from %s", len(saved), name)).
		Remember(sourceKeyPrefix+name, status).
		Forget(inflightKeyPrefix + name)
	if len(saved) > 0 {
		d.Send(models.Message{
			To:      models.Broadcast,
			Payload: models.DataIngested{Source: name, Records: saved},
		})
		log.Info().Str("source", name).Int("saved", len(saved)).Msg("📥 Records ingested")
	}
	return d
}

func (ing *Ingestion) fetchAndSave(ctx context.Context, fetcher contracts.SourceFetcher) ([]models.Record, error) {
	records, err := fetcher.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	saved, err := ing.store.UpsertRecords(ctx, records)
	if err != nil {
		return nil, fmt.Errorf("upsert: %w", err)
	}
	return saved, nil
}

func (ing *Ingestion) decideHealth(dc *agent.DecisionContext) *agent.Decision {
	failing := ing.failing(dc.Memory)
	status := models.AgentIdle
	if ing.rt != nil {
		status = ing.rt.Status()
	}
	return agent.Process("health check", models.Message{
		To: dc.Trigger.From,
		Payload: models.HealthReport{
			AgentID:        ing.ID(),
			Status:         status,
			Healthy:        len(failing) == 0,
			FailingSources: failing,
		},
	})
}

func (ing *Ingestion) failing(mem agent.Memory) []models.SourceStatus {
	var out []models.SourceStatus
	for _, st := range agent.RecallPrefix[models.SourceStatus](mem, sourceKeyPrefix) {
		if st.ConsecutiveFailures >= ing.cfg.FailureThreshold {
			out = append(out, st)
		}
	}
	return out
}

// Sources returns the current status of every source.
func (ing *Ingestion) Sources() []models.SourceStatus {
	if ing.rt == nil {
		return nil
	}
	return agent.RecallPrefix[models.SourceStatus](ing.rt.Memory(), sourceKeyPrefix)
}
