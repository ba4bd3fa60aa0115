package sources

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/adithya-n05/ICHack26-sub001/internal/config"
	"github.com/adithya-n05/ICHack26-sub001/pkg/models"
)

// GDELTName identifies the news feed.
const GDELTName = "gdelt"

const gdeltTimeLayout = "20060102T150405Z"

// GDELT queries the GDELT DOC 2.0 article list for supply-chain news.
type GDELT struct {
	c        *client
	endpoint string
	query    string
	max      int
}

func NewGDELT(cfg config.SourcesConfig) *GDELT {
	return &GDELT{c: newClient(cfg), endpoint: cfg.GDELTURL, query: cfg.GDELTQuery, max: 75}
}

func (g *GDELT) Name() string { return GDELTName }

type gdeltResponse struct {
	Articles []struct {
		URL           string `json:"url"`
		Title         string `json:"title"`
		SeenDate      string `json:"seendate"`
		Domain        string `json:"domain"`
		SourceCountry string `json:"sourcecountry"`
	} `json:"articles"`
}

func (g *GDELT) requestURL() string {
	q := url.Values{}
	q.Set("query", g.query)
	q.Set("mode", "ArtList")
	q.Set("format", "json")
	q.Set("sort", "DateDesc")
	q.Set("timespan", "24h")
	q.Set("maxrecords", fmt.Sprint(g.max))
	return g.endpoint + "?" + q.Encode()
}

// Fetch classifies each headline by keyword into a record kind, a severity
// and a tone. Article ids are derived from the URL.
func (g *GDELT) Fetch(ctx context.Context) ([]models.Record, error) {
	var resp gdeltResponse
	if err := g.c.getJSON(ctx, g.requestURL(), &resp); err != nil {
		return nil, fmt.Errorf("gdelt: %w", err)
	}

	now := time.Now().UTC()
	out := make([]models.Record, 0, len(resp.Articles))
	for _, a := range resp.Articles {
		if a.URL == "" || a.Title == "" {
			continue
		}
		seen, err := time.Parse(gdeltTimeLayout, a.SeenDate)
		if err != nil {
			seen = now
		}
		kind, severity, tone := classifyHeadline(a.Title)
		sum := sha1.Sum([]byte(a.URL))
		out = append(out, models.Record{
			ID:         "gdelt:" + hex.EncodeToString(sum[:8]),
			Source:     GDELTName,
			Kind:       kind,
			Title:      a.Title,
			Summary:    a.Domain,
			Severity:   severity,
			Region:     a.SourceCountry,
			Sentiment:  tone,
			URL:        a.URL,
			OccurredAt: seen,
			FetchedAt:  now,
		})
	}
	return out, nil
}

type headlineRule struct {
	kind     models.RecordKind
	severity float64
	words    []string
}

// First match wins, so the more severe rules come first.
var headlineRules = []headlineRule{
	{models.RecordWar, 8, []string{"war", "invasion", "missile", "missiles", "blockade", "military"}},
	{models.RecordInfra, 7, []string{"port strike", "strike", "strikes", "shutdown", "outage", "fire", "explosion"}},
	{models.RecordTariff, 6, []string{"tariff", "tariffs", "sanction", "sanctions", "export ban", "export controls", "embargo"}},
	{models.RecordGeopolitical, 5, []string{"protest", "protests", "tension", "tensions", "dispute", "unrest"}},
}

var negativeWords = []string{
	"crisis", "shortage", "disrupt", "delay", "halt", "war", "strike", "sanction",
	"tariff", "collapse", "threat", "attack", "ban", "closure", "shutdown",
}

func classifyHeadline(title string) (models.RecordKind, float64, float64) {
	t := strings.ToLower(title)
	padded := " " + strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, t) + " "

	kind, severity := models.RecordNews, 3.0
	for _, r := range headlineRules {
		if containsPhrase(padded, r.words) {
			kind, severity = r.kind, r.severity
			break
		}
	}

	var hits int
	for _, w := range negativeWords {
		if strings.Contains(padded, " "+w) {
			hits++
		}
	}
	tone := -20 * float64(hits)
	if tone < -100 {
		tone = -100
	}
	return kind, severity, tone
}

// containsPhrase matches whole words against a space-padded string.
func containsPhrase(padded string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	return false
}
