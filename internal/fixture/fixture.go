// Package fixture seeds a CDV store from a YAML file.
//
// A fixture declares projects, investors, quota purchases and impact
// events. Applying a fixture twice leaves the store unchanged: projects
// and investors are keyed by id, purchases are topped up to the declared
// count per (project, investor), and events deduplicate on
// (project, type, origin_ref).
package fixture

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/cdv/internal/engine"
	"github.com/roach88/cdv/internal/model"
	"github.com/roach88/cdv/internal/store"
)

// Fixture is the parsed seed file.
type Fixture struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description,omitempty"`
	Projects    []Project  `yaml:"projects"`
	Investors   []Investor `yaml:"investors,omitempty"`
	Purchases   []Purchase `yaml:"purchases,omitempty"`
	Events      []Event    `yaml:"events,omitempty"`
}

// Targets holds per-type amounts as decimal strings.
type Targets struct {
	Kg      string `yaml:"kg,omitempty"`
	Minutes string `yaml:"minutes,omitempty"`
	Units   string `yaml:"units,omitempty"`
}

// Project declares a project.
type Project struct {
	ID               string    `yaml:"id"`
	Code             string    `yaml:"code"`
	Title            string    `yaml:"title"`
	Targets          Targets   `yaml:"targets"`
	TotalQuotaCount  int64     `yaml:"total_quota_count"`
	MaturationMonths int       `yaml:"maturation_months"`
	StartDate        time.Time `yaml:"start_date"`
	EndDate          time.Time `yaml:"end_date"`
}

// Investor declares an investor.
type Investor struct {
	ID        string `yaml:"id"`
	LegalName string `yaml:"legal_name"`
	TaxID     string `yaml:"tax_id"`
	Email     string `yaml:"email,omitempty"`
}

// Purchase buys Count quotas (default 1) of a project for an investor.
type Purchase struct {
	Project        string    `yaml:"project"`
	Investor       string    `yaml:"investor"`
	Count          int       `yaml:"count,omitempty"`
	PurchaseDate   time.Time `yaml:"purchase_date"`
	MaturationDate time.Time `yaml:"maturation_date,omitempty"`
}

// Event declares an impact event.
type Event struct {
	Type       string    `yaml:"type"`
	Quantity   string    `yaml:"quantity"`
	Subtype    string    `yaml:"subtype,omitempty"`
	Project    string    `yaml:"project"`
	OriginRef  string    `yaml:"origin_ref"`
	OccurredAt time.Time `yaml:"occurred_at"`
}

// Result counts what Apply wrote.
type Result struct {
	Projects  int           `json:"projects"`
	Investors int           `json:"investors"`
	Quotas    []model.Quota `json:"quotas"`
	Events    int           `json:"events"`
	Duplicate int           `json:"duplicate"`
}

// Load reads and parses a fixture file.
// Unknown fields are rejected.
func Load(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture file: %w", err)
	}
	return Parse(data)
}

// Parse decodes fixture YAML and checks required fields.
func Parse(data []byte) (*Fixture, error) {
	var f Fixture
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validate(&f); err != nil {
		return nil, fmt.Errorf("invalid fixture: %w", err)
	}
	return &f, nil
}

func validate(f *Fixture) error {
	if f.Name == "" {
		return fmt.Errorf("name is required")
	}
	projects := map[string]bool{}
	for i, p := range f.Projects {
		if p.ID == "" || p.Code == "" {
			return fmt.Errorf("projects[%d]: id and code are required", i)
		}
		if projects[p.ID] {
			return fmt.Errorf("projects[%d]: duplicate id %q", i, p.ID)
		}
		projects[p.ID] = true
		if p.TotalQuotaCount <= 0 {
			return fmt.Errorf("projects[%d]: total_quota_count must be positive", i)
		}
		if _, err := p.Targets.quantities(); err != nil {
			return fmt.Errorf("projects[%d]: %w", i, err)
		}
	}
	investors := map[string]bool{}
	for i, inv := range f.Investors {
		if inv.ID == "" || inv.LegalName == "" {
			return fmt.Errorf("investors[%d]: id and legal_name are required", i)
		}
		investors[inv.ID] = true
	}
	for i, p := range f.Purchases {
		if p.Project == "" || p.Investor == "" {
			return fmt.Errorf("purchases[%d]: project and investor are required", i)
		}
		if p.PurchaseDate.IsZero() {
			return fmt.Errorf("purchases[%d]: purchase_date is required", i)
		}
		if p.Count < 0 {
			return fmt.Errorf("purchases[%d]: count must not be negative", i)
		}
	}
	for i, ev := range f.Events {
		if ev.Project == "" || ev.OriginRef == "" {
			return fmt.Errorf("events[%d]: project and origin_ref are required", i)
		}
	}
	return nil
}

func (t Targets) quantities() (model.Quantities, error) {
	parse := func(field, s string) (string, error) {
		if s == "" {
			return "0", nil
		}
		if _, err := model.ParseQuantity(s); err != nil {
			return "", fmt.Errorf("targets.%s: %w", field, err)
		}
		return s, nil
	}
	kg, err := parse("kg", t.Kg)
	if err != nil {
		return model.Quantities{}, err
	}
	minutes, err := parse("minutes", t.Minutes)
	if err != nil {
		return model.Quantities{}, err
	}
	units, err := parse("units", t.Units)
	if err != nil {
		return model.Quantities{}, err
	}
	return model.NewQuantities(kg, minutes, units), nil
}

// Apply writes the fixture through the engine. Events go through the
// same validation as collaborator emissions; the first invalid one aborts.
func Apply(ctx context.Context, e *engine.Engine, f *Fixture) (Result, error) {
	var res Result
	s := e.Store()

	for _, p := range f.Projects {
		targets, err := p.Targets.quantities()
		if err != nil {
			return res, fmt.Errorf("project %s: %w", p.ID, err)
		}
		if err := s.CreateProject(ctx, model.Project{
			ID:               p.ID,
			Code:             p.Code,
			Title:            p.Title,
			Targets:          targets,
			TotalQuotaCount:  p.TotalQuotaCount,
			MaturationMonths: p.MaturationMonths,
			StartDate:        p.StartDate.UTC(),
			EndDate:          p.EndDate.UTC(),
		}); err != nil {
			return res, fmt.Errorf("project %s: %w", p.ID, err)
		}
		res.Projects++
	}

	for _, inv := range f.Investors {
		if err := s.CreateInvestor(ctx, model.Investor{
			ID:        inv.ID,
			LegalName: inv.LegalName,
			TaxID:     inv.TaxID,
			Email:     inv.Email,
		}); err != nil {
			return res, fmt.Errorf("investor %s: %w", inv.ID, err)
		}
		res.Investors++
	}

	for _, p := range f.Purchases {
		want := p.Count
		if want == 0 {
			want = 1
		}
		owned, err := s.ListQuotas(ctx, store.QuotaFilter{ProjectID: p.Project, InvestorID: p.Investor})
		if err != nil {
			return res, fmt.Errorf("purchase %s/%s: %w", p.Project, p.Investor, err)
		}
		for n := len(owned); n < want; n++ {
			q, err := e.PurchaseQuota(ctx, engine.PurchaseRequest{
				ProjectID:      p.Project,
				InvestorID:     p.Investor,
				PurchaseDate:   p.PurchaseDate.UTC(),
				MaturationDate: p.MaturationDate.UTC(),
			})
			if err != nil {
				return res, fmt.Errorf("purchase %s/%s: %w", p.Project, p.Investor, err)
			}
			res.Quotas = append(res.Quotas, q)
		}
	}

	for i, ev := range f.Events {
		_, created, err := e.EmitImpactEvent(ctx, engine.EmitRequest{
			Type:       ev.Type,
			Quantity:   ev.Quantity,
			Subtype:    ev.Subtype,
			ProjectID:  ev.Project,
			OriginRef:  ev.OriginRef,
			OccurredAt: ev.OccurredAt.UTC(),
		})
		if err != nil {
			return res, fmt.Errorf("events[%d]: %w", i, err)
		}
		if created {
			res.Events++
		} else {
			res.Duplicate++
		}
	}
	return res, nil
}
