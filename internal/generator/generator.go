package generator

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/ngirimana/finindex/internal/domain"
	"github.com/ngirimana/finindex/internal/importer"
	"github.com/ngirimana/finindex/internal/isocode"
	"github.com/ngirimana/finindex/internal/scoring"
)

// Dataset contains one record per country and year.
type Dataset struct {
	Records []domain.CountryRecord `json:"records"`
}

// Generator produces synthetic country-year records shaped like the import
// files the dataset is maintained with.
type Generator struct {
	cfg  Config
	rand *rand.Rand
}

// New returns a configured Generator instance.
func New(cfg Config) *Generator {
	def := DefaultConfig()
	if cfg.FromYear == 0 {
		cfg.FromYear = def.FromYear
	}
	if cfg.ToYear == 0 {
		cfg.ToYear = def.ToYear
	}
	if cfg.Drift <= 0 {
		cfg.Drift = def.Drift
	}
	if cfg.Seed == 0 {
		cfg.Seed = def.Seed
	}
	return &Generator{
		cfg:  cfg,
		rand: rand.New(rand.NewSource(cfg.Seed)),
	}
}

type profile struct {
	literacy, digital, investment float64
	population                    int64
	gdp                           float64
	companies                     int64
}

// Generate synthesises every country for every year of the range. Output is
// ordered by country code then year and depends only on the seed.
func (g *Generator) Generate(ctx context.Context) (Dataset, error) {
	if g.cfg.FromYear < importer.MinYear || g.cfg.ToYear > importer.MaxYear || g.cfg.FromYear > g.cfg.ToYear {
		return Dataset{}, fmt.Errorf("year range %d-%d must lie within %d-%d",
			g.cfg.FromYear, g.cfg.ToYear, importer.MinYear, importer.MaxYear)
	}
	countries := isocode.Countries()
	years := g.cfg.ToYear - g.cfg.FromYear + 1
	records := make([]domain.CountryRecord, 0, len(countries)*years)

	for _, c := range countries {
		if err := ctx.Err(); err != nil {
			return Dataset{}, err
		}
		p := g.baseProfile()
		for year := g.cfg.FromYear; year <= g.cfg.ToYear; year++ {
			records = append(records, g.record(c, year, p))
			p = g.advance(p)
		}
	}
	return Dataset{Records: records}, nil
}

func (g *Generator) baseProfile() profile {
	return profile{
		literacy:   20 + g.rand.Float64()*75,
		digital:    5 + g.rand.Float64()*70,
		investment: 2 + g.rand.Float64()*60,
		population: 100_000 + g.rand.Int63n(220_000_000),
		gdp:        0.5 + g.rand.Float64()*450,
		companies:  1 + g.rand.Int63n(300),
	}
}

// advance moves a profile one year forward: scores drift mostly upwards,
// population and GDP grow a few percent.
func (g *Generator) advance(p profile) profile {
	step := func(v float64) float64 {
		return clamp(v + (g.rand.Float64()*1.5-0.5)*g.cfg.Drift)
	}
	p.literacy = step(p.literacy)
	p.digital = step(p.digital)
	p.investment = step(p.investment)
	p.population += int64(float64(p.population) * (0.01 + g.rand.Float64()*0.02))
	p.gdp *= 1 + g.rand.Float64()*0.06
	p.companies += g.rand.Int63n(25)
	return p
}

func (g *Generator) record(c isocode.Country, year int, p profile) domain.CountryRecord {
	lit := scoring.Round(p.literacy, 1)
	dig := scoring.Round(p.digital, 1)
	inv := scoring.Round(p.investment, 1)
	return domain.CountryRecord{
		ID:                    c.Alpha3,
		Name:                  c.Name,
		Year:                  year,
		LiteracyRate:          domain.Float(lit),
		DigitalInfrastructure: domain.Float(dig),
		Investment:            domain.Float(inv),
		FinalScore:            domain.Float(scoring.Derive(lit, dig, inv)),
		Population:            domain.Int(p.population),
		GDP:                   domain.Float(scoring.Round(p.gdp, 2)),
		FintechCompanies:      domain.Int(p.companies),
	}
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

// Rows renders the dataset in importer.ImportHeader column order.
func (d Dataset) Rows() [][]string {
	return importer.ImportRows(d.Records)
}
