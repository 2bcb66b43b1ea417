package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/bitbondlabs/bitbondd/internal/domain"
)

// Ledger is an in-memory implementation of domain.Ledger used by dev mode
// and the engine tests. Update clones the full state, runs the closure on
// the clone, and swaps it in only when the closure succeeds, so partial
// mutations from a failed operation are never observed.
type Ledger struct {
	mu    sync.RWMutex
	state *state
}

type state struct {
	nextPositionID uint64
	positions      map[uint64]domain.Position
	certificates   map[uint64]domain.Certificate
	listings       map[uint64]domain.Listing
	insurancePool  domain.Micros
	assets         map[domain.Principal]domain.Micros
	settlement     map[domain.Principal]domain.Price
	stats          domain.MarketStats
	sales          []domain.Sale
	height         uint64
}

// NewLedger returns an empty ledger at height 0. Position ids start at 1.
func NewLedger() *Ledger {
	return &Ledger{state: &state{
		nextPositionID: 1,
		positions:      make(map[uint64]domain.Position),
		certificates:   make(map[uint64]domain.Certificate),
		listings:       make(map[uint64]domain.Listing),
		assets:         make(map[domain.Principal]domain.Micros),
		settlement:     make(map[domain.Principal]domain.Price),
	}}
}

func (s *state) clone() *state {
	c := &state{
		nextPositionID: s.nextPositionID,
		positions:      make(map[uint64]domain.Position, len(s.positions)),
		certificates:   make(map[uint64]domain.Certificate, len(s.certificates)),
		listings:       make(map[uint64]domain.Listing, len(s.listings)),
		insurancePool:  s.insurancePool,
		assets:         make(map[domain.Principal]domain.Micros, len(s.assets)),
		settlement:     make(map[domain.Principal]domain.Price, len(s.settlement)),
		stats:          s.stats,
		sales:          make([]domain.Sale, len(s.sales)),
		height:         s.height,
	}
	for k, v := range s.positions {
		c.positions[k] = v
	}
	for k, v := range s.certificates {
		c.certificates[k] = v
	}
	for k, v := range s.listings {
		c.listings[k] = v
	}
	for k, v := range s.assets {
		c.assets[k] = v
	}
	for k, v := range s.settlement {
		c.settlement[k] = v
	}
	copy(c.sales, s.sales)
	return c
}

// View runs fn over a snapshot of the current state.
func (l *Ledger) View(ctx context.Context, fn func(tx domain.Tx) error) error {
	l.mu.RLock()
	snap := l.state.clone()
	l.mu.RUnlock()
	return fn(&tx{state: snap})
}

// Update runs fn over a clone of the state and commits the clone if fn
// returns nil.
func (l *Ledger) Update(ctx context.Context, fn func(tx domain.Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.state.clone()
	if err := fn(&tx{state: next}); err != nil {
		return err
	}
	l.state = next
	return nil
}

// Height implements domain.HeightSource.
func (l *Ledger) Height(ctx context.Context) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.height, nil
}

// Advance implements domain.HeightAdvancer and returns the new height.
func (l *Ledger) Advance(ctx context.Context, blocks uint64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.height += blocks
	return l.state.height, nil
}

// SeedAsset credits a backing-asset balance directly. Dev-mode wiring only.
func (l *Ledger) SeedAsset(p domain.Principal, amount domain.Micros) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.assets[p] += amount
}

// SeedSettlement credits a settlement balance directly. Dev-mode wiring only.
func (l *Ledger) SeedSettlement(p domain.Principal, amount domain.Price) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.settlement[p] += amount
}

type tx struct {
	state *state
}

func (t *tx) NextPositionID(ctx context.Context) (uint64, error) {
	id := t.state.nextPositionID
	t.state.nextPositionID++
	return id, nil
}

func (t *tx) Position(ctx context.Context, id uint64) (domain.Position, error) {
	p, ok := t.state.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (t *tx) PutPosition(ctx context.Context, p domain.Position) error {
	t.state.positions[p.ID] = p
	return nil
}

func (t *tx) PositionsByOwner(ctx context.Context, owner domain.Principal) ([]domain.Position, error) {
	var out []domain.Position
	for _, p := range t.state.positions {
		if p.Owner == owner {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) ActivePositions(ctx context.Context) ([]domain.Position, error) {
	var out []domain.Position
	for _, p := range t.state.positions {
		if p.Status == domain.BondActive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) SettledPositions(ctx context.Context) ([]domain.Position, error) {
	var out []domain.Position
	for _, p := range t.state.positions {
		if p.Status != domain.BondActive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) Certificate(ctx context.Context, id uint64) (domain.Certificate, error) {
	c, ok := t.state.certificates[id]
	if !ok {
		return domain.Certificate{}, domain.ErrNotFound
	}
	return c, nil
}

func (t *tx) PutCertificate(ctx context.Context, c domain.Certificate) error {
	t.state.certificates[c.PositionID] = c
	return nil
}

func (t *tx) Listing(ctx context.Context, id uint64) (domain.Listing, error) {
	l, ok := t.state.listings[id]
	if !ok {
		return domain.Listing{}, domain.ErrNotFound
	}
	return l, nil
}

func (t *tx) PutListing(ctx context.Context, l domain.Listing) error {
	t.state.listings[l.PositionID] = l
	return nil
}

func (t *tx) DeleteListing(ctx context.Context, id uint64) error {
	if _, ok := t.state.listings[id]; !ok {
		return domain.ErrNotFound
	}
	delete(t.state.listings, id)
	return nil
}

func (t *tx) Listings(ctx context.Context) ([]domain.Listing, error) {
	out := make([]domain.Listing, 0, len(t.state.listings))
	for _, l := range t.state.listings {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PositionID < out[j].PositionID })
	return out, nil
}

func (t *tx) InsurancePool(ctx context.Context) (domain.Micros, error) {
	return t.state.insurancePool, nil
}

func (t *tx) CreditInsurancePool(ctx context.Context, amount domain.Micros) error {
	t.state.insurancePool += amount
	return nil
}

func (t *tx) AssetBalance(ctx context.Context, p domain.Principal) (domain.Micros, error) {
	return t.state.assets[p], nil
}

func (t *tx) CreditAsset(ctx context.Context, p domain.Principal, amount domain.Micros) error {
	t.state.assets[p] += amount
	return nil
}

func (t *tx) MoveAsset(ctx context.Context, from, to domain.Principal, amount domain.Micros) error {
	if t.state.assets[from] < amount {
		return domain.ErrInsufficientFunds
	}
	t.state.assets[from] -= amount
	t.state.assets[to] += amount
	return nil
}

func (t *tx) SettlementBalance(ctx context.Context, p domain.Principal) (domain.Price, error) {
	return t.state.settlement[p], nil
}

func (t *tx) CreditSettlement(ctx context.Context, p domain.Principal, amount domain.Price) error {
	t.state.settlement[p] += amount
	return nil
}

func (t *tx) MoveSettlement(ctx context.Context, from, to domain.Principal, amount domain.Price) error {
	if t.state.settlement[from] < amount {
		return domain.ErrInsufficientFunds
	}
	t.state.settlement[from] -= amount
	t.state.settlement[to] += amount
	return nil
}

func (t *tx) MarketStats(ctx context.Context) (domain.MarketStats, error) {
	return t.state.stats, nil
}

func (t *tx) PutMarketStats(ctx context.Context, s domain.MarketStats) error {
	t.state.stats = s
	return nil
}

func (t *tx) AppendSale(ctx context.Context, s domain.Sale) error {
	t.state.sales = append(t.state.sales, s)
	return nil
}

func (t *tx) Sales(ctx context.Context) ([]domain.Sale, error) {
	out := make([]domain.Sale, len(t.state.sales))
	copy(out, t.state.sales)
	return out, nil
}
