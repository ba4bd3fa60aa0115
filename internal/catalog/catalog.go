// Package catalog holds the monitored supply-chain entities and the pool of
// candidate suppliers.
//
// The catalog is loaded from a YAML file:
//
//	entities:
//	  - id: tsmc-hsinchu
//	    type: supplier
//	    name: TSMC Hsinchu Fab
//	    location: {lat: 24.78, lng: 120.99}
//	    region: Taiwan
//	    product: semiconductors
//	suppliers:
//	  - name: Samsung Foundry
//	    region: South Korea
//	    product: semiconductors
//	    risk_score: 23
//	    cost_delta: 8
//	    lead_time_days: 52
//	    capacity: 85
//
// It answers two questions for the agents: which entities sit inside an
// event's impact radius (ProximityFinder) and which suppliers could replace
// an at-risk entity (SupplierFinder). Watch reloads the file on change.
package catalog

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/adithya-n05/ICHack26-sub001/pkg/models"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// DefaultAlternativeLimit caps FindAlternatives when the query sets no limit.
const DefaultAlternativeLimit = 5

// File is the YAML document shape.
type File struct {
	Entities  []models.Entity      `yaml:"entities"`
	Suppliers []models.Alternative `yaml:"suppliers"`
}

// Catalog is a thread-safe, reloadable entity and supplier index.
type Catalog struct {
	mu        sync.RWMutex
	path      string
	entities  []models.Entity
	byID      map[string]int
	suppliers []models.Alternative
}

// New builds a catalog from in-memory data.
func New(f File) (*Catalog, error) {
	c := &Catalog{}
	if err := c.replace(f); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads and validates a catalog file.
func Load(path string) (*Catalog, error) {
	f, err := readFile(path)
	if err != nil {
		return nil, err
	}
	c, err := New(f)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	c.path = path
	log.Info().
		Str("path", path).
		Int("entities", len(f.Entities)).
		Int("suppliers", len(f.Suppliers)).
		Msg("📒 Catalog loaded")
	return c, nil
}

// Parse decodes a catalog document.
func Parse(data []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parse catalog: %w", err)
	}
	return f, nil
}

func readFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Reload re-reads the file the catalog was loaded from. On error the
// previous contents stay in place.
func (c *Catalog) Reload() error {
	if c.path == "" {
		return fmt.Errorf("catalog: not file backed")
	}
	f, err := readFile(c.path)
	if err != nil {
		return err
	}
	if err := c.replace(f); err != nil {
		return fmt.Errorf("catalog %s: %w", c.path, err)
	}
	log.Info().Int("entities", len(f.Entities)).Int("suppliers", len(f.Suppliers)).Msg("🔄 Catalog reloaded")
	return nil
}

func (c *Catalog) replace(f File) error {
	byID := make(map[string]int, len(f.Entities))
	for i, e := range f.Entities {
		if e.ID == "" {
			return fmt.Errorf("entity %d has no id", i)
		}
		if _, dup := byID[e.ID]; dup {
			return fmt.Errorf("duplicate entity id %q", e.ID)
		}
		if e.Type == "" {
			f.Entities[i].Type = models.EntitySupplier
		}
		byID[e.ID] = i
	}
	for i, s := range f.Suppliers {
		if s.Name == "" {
			return fmt.Errorf("supplier %d has no name", i)
		}
	}

	c.mu.Lock()
	c.entities = f.Entities
	c.byID = byID
	c.suppliers = f.Suppliers
	c.mu.Unlock()
	return nil
}

// Entity looks up a monitored entity by id.
func (c *Catalog) Entity(id string) (models.Entity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.byID[id]
	if !ok {
		return models.Entity{}, false
	}
	return c.entities[i], true
}

// Entities returns a copy of every monitored entity in file order.
func (c *Catalog) Entities() []models.Entity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.Entity(nil), c.entities...)
}

// Nearby returns the entities within radiusKm of point, closest first.
func (c *Catalog) Nearby(ctx context.Context, point models.GeoPoint, radiusKm float64) ([]models.AffectedEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	var out []models.AffectedEntity
	for _, e := range c.entities {
		if d := DistanceKm(point, e.Location); d <= radiusKm {
			out = append(out, models.AffectedEntity{Entity: e, DistanceKm: d})
		}
	}
	c.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out, nil
}

// FindAlternatives ranks suppliers that make the same product outside the
// at-risk entity's region. The composite score favours low risk, low cost
// delta and high capacity.
func (c *Catalog) FindAlternatives(ctx context.Context, q models.AlternativeQuery) ([]models.Alternative, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	product := q.Product
	exclude := append([]string(nil), q.ExcludeRegions...)
	var selfName string
	if q.EntityID != "" {
		e, ok := c.Entity(q.EntityID)
		if !ok && product == "" {
			return nil, fmt.Errorf("catalog: unknown entity %q", q.EntityID)
		}
		if ok {
			if product == "" {
				product = e.Product
			}
			if e.Region != "" {
				exclude = append(exclude, e.Region)
			}
			selfName = e.Name
		}
	}
	if product == "" {
		return nil, fmt.Errorf("catalog: no product to search alternatives for")
	}

	c.mu.RLock()
	var out []models.Alternative
	for _, s := range c.suppliers {
		if !strings.Contains(strings.ToLower(s.Product), strings.ToLower(product)) {
			continue
		}
		if strings.EqualFold(s.Name, selfName) || excluded(s.Region, exclude) {
			continue
		}
		s.Score = compositeScore(s)
		out = append(out, s)
	}
	c.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultAlternativeLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, nil
}

func compositeScore(s models.Alternative) float64 {
	return (100-s.RiskScore)*0.4 + (100-s.CostDelta)*0.3 + s.Capacity*0.3
}

func excluded(region string, exclude []string) bool {
	r := strings.ToLower(region)
	for _, x := range exclude {
		if x != "" && strings.Contains(r, strings.ToLower(x)) {
			return true
		}
	}
	return false
}
