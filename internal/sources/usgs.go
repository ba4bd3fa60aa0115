package sources

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/adithya-n05/ICHack26-sub001/internal/config"
	"github.com/adithya-n05/ICHack26-sub001/pkg/models"
)

// USGSName identifies the earthquake feed.
const USGSName = "usgs"

// USGS reads a USGS GeoJSON earthquake summary feed.
type USGS struct {
	c   *client
	url string
}

func NewUSGS(cfg config.SourcesConfig) *USGS {
	return &USGS{c: newClient(cfg), url: cfg.USGSFeedURL}
}

func (u *USGS) Name() string { return USGSName }

type usgsFeed struct {
	Features []struct {
		ID         string `json:"id"`
		Properties struct {
			Mag     *float64 `json:"mag"`
			Place   string   `json:"place"`
			Time    int64    `json:"time"`
			URL     string   `json:"url"`
			Title   string   `json:"title"`
			Tsunami int      `json:"tsunami"`
		} `json:"properties"`
		Geometry struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"features"`
}

// Fetch maps each quake's magnitude onto the 0–10 severity scale, one point
// higher when a tsunami is possible.
func (u *USGS) Fetch(ctx context.Context) ([]models.Record, error) {
	var feed usgsFeed
	if err := u.c.getJSON(ctx, u.url, &feed); err != nil {
		return nil, fmt.Errorf("usgs: %w", err)
	}

	now := time.Now().UTC()
	out := make([]models.Record, 0, len(feed.Features))
	for _, f := range feed.Features {
		p := f.Properties
		if f.ID == "" || p.Mag == nil || len(f.Geometry.Coordinates) < 2 {
			continue
		}
		severity := *p.Mag
		if p.Tsunami != 0 {
			severity++
		}
		title := p.Title
		if title == "" {
			title = fmt.Sprintf("M %.1f - %s", *p.Mag, p.Place)
		}
		out = append(out, models.Record{
			ID:         "usgs:" + f.ID,
			Source:     USGSName,
			Kind:       models.RecordEarthquake,
			Title:      title,
			Summary:    p.Place,
			Severity:   math.Round(math.Min(10, math.Max(0, severity))*10) / 10,
			Location:   &models.GeoPoint{Lat: f.Geometry.Coordinates[1], Lng: f.Geometry.Coordinates[0]},
			Region:     placeRegion(p.Place),
			URL:        p.URL,
			OccurredAt: time.UnixMilli(p.Time).UTC(),
			FetchedAt:  now,
		})
	}
	return out, nil
}

// placeRegion takes the trailing component of a USGS place string,
// "45 km E of Hualien City, Taiwan" -> "Taiwan".
func placeRegion(place string) string {
	if i := strings.LastIndex(place, ","); i >= 0 {
		return strings.TrimSpace(place[i+1:])
	}
	return ""
}
