package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/adithya-n05/ICHack26-sub001/internal/config"
	"github.com/adithya-n05/ICHack26-sub001/pkg/models"
)

// NWSName identifies the US weather alert feed.
const NWSName = "nws"

var nwsSeverity = map[string]float64{
	"Extreme":  9,
	"Severe":   7,
	"Moderate": 5,
	"Minor":    3,
}

// NWS reads active alerts from the National Weather Service API.
type NWS struct {
	c   *client
	url string
}

func NewNWS(cfg config.SourcesConfig) *NWS {
	return &NWS{c: newClient(cfg), url: cfg.NWSAlertURL}
}

func (n *NWS) Name() string { return NWSName }

type nwsFeed struct {
	Features []struct {
		Geometry *struct {
			Type        string         `json:"type"`
			Coordinates [][][2]float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties struct {
			ID          string    `json:"id"`
			Event       string    `json:"event"`
			Headline    string    `json:"headline"`
			Description string    `json:"description"`
			Severity    string    `json:"severity"`
			AreaDesc    string    `json:"areaDesc"`
			Onset       time.Time `json:"onset"`
			Sent        time.Time `json:"sent"`
		} `json:"properties"`
	} `json:"features"`
}

// Fetch returns one weather record per alert. Alerts without a polygon have
// no location and only count toward regional scoring.
func (n *NWS) Fetch(ctx context.Context) ([]models.Record, error) {
	var feed nwsFeed
	if err := n.c.getJSON(ctx, n.url, &feed); err != nil {
		return nil, fmt.Errorf("nws: %w", err)
	}

	now := time.Now().UTC()
	out := make([]models.Record, 0, len(feed.Features))
	for _, f := range feed.Features {
		p := f.Properties
		if p.ID == "" {
			continue
		}
		severity, ok := nwsSeverity[p.Severity]
		if !ok {
			severity = 2
		}
		occurred := p.Onset
		if occurred.IsZero() {
			occurred = p.Sent
		}
		title := p.Headline
		if title == "" {
			title = p.Event
		}

		rec := models.Record{
			ID:         "nws:" + p.ID,
			Source:     NWSName,
			Kind:       models.RecordWeather,
			Title:      title,
			Summary:    truncate(p.Description, 500),
			Severity:   severity,
			Region:     "USA",
			OccurredAt: occurred.UTC(),
			FetchedAt:  now,
		}
		if f.Geometry != nil && f.Geometry.Type == "Polygon" && len(f.Geometry.Coordinates) > 0 {
			rec.Location = centroid(f.Geometry.Coordinates[0])
		}
		out = append(out, rec)
	}
	return out, nil
}

// centroid averages a ring's vertices. GeoJSON positions are [lng, lat].
func centroid(ring [][2]float64) *models.GeoPoint {
	if len(ring) == 0 {
		return nil
	}
	var lat, lng float64
	for _, p := range ring {
		lng += p[0]
		lat += p[1]
	}
	n := float64(len(ring))
	return &models.GeoPoint{Lat: lat / n, Lng: lng / n}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
