package ledger

import (
	"context"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/provenance-cli/internal/model"
)

// Fixture is the YAML ledger snapshot used for offline assessment and as
// the input of a Postgres import.
type Fixture struct {
	Products   []FixtureProduct   `yaml:"products"`
	Reputation map[string]float64 `yaml:"reputation"`
}

// FixtureProduct is one product with its event logs. Status accepts the
// snake_case or contract name. Exists defaults to true.
type FixtureProduct struct {
	ID            string                        `yaml:"id"`
	Manufacturer  string                        `yaml:"manufacturer"`
	CurrentOwner  string                        `yaml:"current_owner"`
	Status        string                        `yaml:"status"`
	RegisteredAt  int64                         `yaml:"registered_at"`
	MetadataURI   string                        `yaml:"metadata_uri"`
	Exists        *bool                         `yaml:"exists"`
	History       []model.CustodyTransferRecord `yaml:"history"`
	Verifications []model.VerificationRecord    `yaml:"verifications"`
	Disputes      []model.DisputeRecord         `yaml:"disputes"`
	Attestations  []model.AttestationRecord     `yaml:"attestations"`
}

type fixtureEntry struct {
	product       model.ProductRecord
	history       []model.CustodyTransferRecord
	verifications []model.VerificationRecord
	disputes      []model.DisputeRecord
	attestations  []model.AttestationRecord
}

// FixtureSource serves a Fixture from memory. It is immutable after load.
type FixtureSource struct {
	fixture    *Fixture
	products   map[string]*fixtureEntry
	reputation map[string]float64
}

// LoadFixture reads and indexes a fixture file.
func LoadFixture(path string) (*FixtureSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: read fixture %s", path)
	}
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "ledger: parse fixture %s", path)
	}
	src, err := NewFixtureSource(&f)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: fixture %s", path)
	}
	return src, nil
}

// NewFixtureSource validates and indexes f.
func NewFixtureSource(f *Fixture) (*FixtureSource, error) {
	src := &FixtureSource{
		fixture:    f,
		products:   make(map[string]*fixtureEntry, len(f.Products)),
		reputation: make(map[string]float64, len(f.Reputation)),
	}
	for i, p := range f.Products {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return nil, eris.Errorf("ledger: product %d has no id", i)
		}
		if _, dup := src.products[id]; dup {
			return nil, eris.Errorf("ledger: duplicate product %s", id)
		}
		entry, err := p.entry(id)
		if err != nil {
			return nil, err
		}
		src.products[id] = entry
	}
	for identity, score := range f.Reputation {
		src.reputation[strings.ToLower(identity)] = score
	}
	return src, nil
}

func (p FixtureProduct) entry(id string) (*fixtureEntry, error) {
	status := model.StatusRegistered
	if p.Status != "" {
		s, err := model.ParseProductStatus(p.Status)
		if err != nil {
			return nil, eris.Wrapf(err, "ledger: product %s", id)
		}
		status = s
	}
	exists := true
	if p.Exists != nil {
		exists = *p.Exists
	}

	e := &fixtureEntry{
		product: model.ProductRecord{
			ProductID:    id,
			Manufacturer: p.Manufacturer,
			CurrentOwner: p.CurrentOwner,
			Status:       status,
			RegisteredAt: p.RegisteredAt,
			MetadataURI:  p.MetadataURI,
			Exists:       exists,
		},
		history:       p.History,
		verifications: p.Verifications,
		disputes:      p.Disputes,
		attestations:  p.Attestations,
	}
	for i := range e.verifications {
		if e.verifications[i].ProductID == "" {
			e.verifications[i].ProductID = id
		}
	}
	for i := range e.disputes {
		if e.disputes[i].ProductID == "" {
			e.disputes[i].ProductID = id
		}
	}
	for i := range e.attestations {
		if e.attestations[i].ProductID == "" {
			e.attestations[i].ProductID = id
		}
	}
	return e, nil
}

// Fixture returns the loaded document.
func (s *FixtureSource) Fixture() *Fixture { return s.fixture }

// ProductIDs lists the fixture's products in file order.
func (s *FixtureSource) ProductIDs() []string {
	ids := make([]string, 0, len(s.fixture.Products))
	for _, p := range s.fixture.Products {
		ids = append(ids, strings.TrimSpace(p.ID))
	}
	return ids
}

func (s *FixtureSource) lookup(productID string) (*fixtureEntry, error) {
	e, ok := s.products[productID]
	if !ok || !e.product.Exists {
		return nil, eris.Wrapf(model.ErrNotFound, "ledger: product %s", productID)
	}
	return e, nil
}

func (s *FixtureSource) GetProduct(ctx context.Context, productID string) (*model.ProductRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, err := s.lookup(productID)
	if err != nil {
		return nil, err
	}
	p := e.product
	return &p, nil
}

func (s *FixtureSource) GetProductHistory(ctx context.Context, productID string) ([]model.CustodyTransferRecord, error) {
	return fixtureList(ctx, s, productID, func(e *fixtureEntry) []model.CustodyTransferRecord { return e.history })
}

func (s *FixtureSource) VerificationRecords(ctx context.Context, productID string) ([]model.VerificationRecord, error) {
	return fixtureList(ctx, s, productID, func(e *fixtureEntry) []model.VerificationRecord { return e.verifications })
}

func (s *FixtureSource) DisputeRecords(ctx context.Context, productID string) ([]model.DisputeRecord, error) {
	return fixtureList(ctx, s, productID, func(e *fixtureEntry) []model.DisputeRecord { return e.disputes })
}

func (s *FixtureSource) AttestationRecords(ctx context.Context, productID string) ([]model.AttestationRecord, error) {
	return fixtureList(ctx, s, productID, func(e *fixtureEntry) []model.AttestationRecord { return e.attestations })
}

// Reputation matches identities case-insensitively.
func (s *FixtureSource) Reputation(ctx context.Context, identity string) (*model.ReputationScore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := s.reputation[strings.ToLower(identity)]
	if !ok {
		return nil, nil
	}
	return &model.ReputationScore{Identity: identity, Value: v}, nil
}

func fixtureList[T any](ctx context.Context, s *FixtureSource, productID string, pick func(*fixtureEntry) []T) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, err := s.lookup(productID)
	if err != nil {
		return nil, err
	}
	return append([]T(nil), pick(e)...), nil
}
