package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bitbondlabs/bitbondd/internal/domain"
)

// Ledger implements domain.Ledger on PostgreSQL. Every Update runs inside a
// serializable pgx transaction, so the all-or-nothing semantics of the
// engine operations map directly onto database commit/rollback.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger creates a postgres-backed ledger over the client's pool.
func NewLedger(client *Client) *Ledger {
	return &Ledger{pool: client.Pool()}
}

// View runs fn in a read-only transaction.
func (l *Ledger) View(ctx context.Context, fn func(tx domain.Tx) error) error {
	return l.run(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable, AccessMode: pgx.ReadOnly}, fn)
}

// Update runs fn in a serializable read-write transaction, committing only
// when fn returns nil.
func (l *Ledger) Update(ctx context.Context, fn func(tx domain.Tx) error) error {
	return l.run(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, fn)
}

func (l *Ledger) run(ctx context.Context, opts pgx.TxOptions, fn func(tx domain.Tx) error) error {
	pgtx, err := l.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	if err := fn(&tx{pg: pgtx}); err != nil {
		_ = pgtx.Rollback(ctx)
		return err
	}
	if err := pgtx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

// Height implements domain.HeightSource from the ledger_state scalar.
func (l *Ledger) Height(ctx context.Context) (uint64, error) {
	var h int64
	err := l.pool.QueryRow(ctx,
		"SELECT value FROM ledger_state WHERE key = 'height'",
	).Scan(&h)
	if err != nil {
		return 0, fmt.Errorf("postgres: read height: %w", err)
	}
	return uint64(h), nil
}

// Advance implements domain.HeightAdvancer and returns the new height.
func (l *Ledger) Advance(ctx context.Context, blocks uint64) (uint64, error) {
	var h int64
	err := l.pool.QueryRow(ctx,
		"UPDATE ledger_state SET value = value + $1 WHERE key = 'height' RETURNING value",
		int64(blocks),
	).Scan(&h)
	if err != nil {
		return 0, fmt.Errorf("postgres: advance height: %w", err)
	}
	return uint64(h), nil
}

type tx struct {
	pg pgx.Tx
}

const positionColumns = "id, owner, principal, lock_period, created_at, maturity_at, apy_bps, status"

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var principal, lock, createdAt, maturityAt, apyBps int64
	var status string
	if err := row.Scan(&p.ID, &p.Owner, &principal, &lock, &createdAt, &maturityAt, &apyBps, &status); err != nil {
		return domain.Position{}, err
	}
	p.Principal = domain.Micros(principal)
	p.LockPeriod = domain.LockPeriod(lock)
	p.CreatedAt = uint64(createdAt)
	p.MaturityAt = uint64(maturityAt)
	p.APYBps = uint64(apyBps)
	p.Status = domain.BondStatus(status)
	return p, nil
}

func (t *tx) NextPositionID(ctx context.Context) (uint64, error) {
	var next int64
	err := t.pg.QueryRow(ctx,
		"UPDATE ledger_state SET value = value + 1 WHERE key = 'next_position_id' RETURNING value - 1",
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("postgres: allocate position id: %w", err)
	}
	return uint64(next), nil
}

func (t *tx) Position(ctx context.Context, id uint64) (domain.Position, error) {
	row := t.pg.QueryRow(ctx,
		"SELECT "+positionColumns+" FROM positions WHERE id = $1", id)
	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position %d: %w", id, err)
	}
	return p, nil
}

func (t *tx) PutPosition(ctx context.Context, p domain.Position) error {
	_, err := t.pg.Exec(ctx, `
		INSERT INTO positions (id, owner, principal, lock_period, created_at, maturity_at, apy_bps, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET owner = $2, status = $8`,
		p.ID, p.Owner.String(), int64(p.Principal), int64(p.LockPeriod),
		int64(p.CreatedAt), int64(p.MaturityAt), int64(p.APYBps), string(p.Status),
	)
	if err != nil {
		return fmt.Errorf("postgres: put position %d: %w", p.ID, err)
	}
	return nil
}

func (t *tx) positionsWhere(ctx context.Context, where string, args ...any) ([]domain.Position, error) {
	rows, err := t.pg.Query(ctx,
		"SELECT "+positionColumns+" FROM positions WHERE "+where+" ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate positions: %w", err)
	}
	return out, nil
}

func (t *tx) PositionsByOwner(ctx context.Context, owner domain.Principal) ([]domain.Position, error) {
	return t.positionsWhere(ctx, "owner = $1", owner.String())
}

func (t *tx) ActivePositions(ctx context.Context) ([]domain.Position, error) {
	return t.positionsWhere(ctx, "status = $1", string(domain.BondActive))
}

func (t *tx) SettledPositions(ctx context.Context) ([]domain.Position, error) {
	return t.positionsWhere(ctx, "status <> $1", string(domain.BondActive))
}

func (t *tx) Certificate(ctx context.Context, id uint64) (domain.Certificate, error) {
	var c domain.Certificate
	err := t.pg.QueryRow(ctx,
		"SELECT position_id, holder, token_uri FROM certificates WHERE position_id = $1", id,
	).Scan(&c.PositionID, &c.Holder, &c.TokenURI)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Certificate{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Certificate{}, fmt.Errorf("postgres: get certificate %d: %w", id, err)
	}
	return c, nil
}

func (t *tx) PutCertificate(ctx context.Context, c domain.Certificate) error {
	_, err := t.pg.Exec(ctx, `
		INSERT INTO certificates (position_id, holder, token_uri)
		VALUES ($1, $2, $3)
		ON CONFLICT (position_id) DO UPDATE SET holder = $2`,
		c.PositionID, c.Holder.String(), c.TokenURI,
	)
	if err != nil {
		return fmt.Errorf("postgres: put certificate %d: %w", c.PositionID, err)
	}
	return nil
}

func (t *tx) Listing(ctx context.Context, id uint64) (domain.Listing, error) {
	var l domain.Listing
	var price, listedAt int64
	err := t.pg.QueryRow(ctx,
		"SELECT position_id, seller, price, listed_at FROM listings WHERE position_id = $1", id,
	).Scan(&l.PositionID, &l.Seller, &price, &listedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Listing{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Listing{}, fmt.Errorf("postgres: get listing %d: %w", id, err)
	}
	l.Price = domain.Price(price)
	l.ListedAt = uint64(listedAt)
	return l, nil
}

func (t *tx) PutListing(ctx context.Context, l domain.Listing) error {
	_, err := t.pg.Exec(ctx, `
		INSERT INTO listings (position_id, seller, price, listed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (position_id) DO UPDATE SET price = $3`,
		l.PositionID, l.Seller.String(), int64(l.Price), int64(l.ListedAt),
	)
	if err != nil {
		return fmt.Errorf("postgres: put listing %d: %w", l.PositionID, err)
	}
	return nil
}

func (t *tx) DeleteListing(ctx context.Context, id uint64) error {
	tag, err := t.pg.Exec(ctx, "DELETE FROM listings WHERE position_id = $1", id)
	if err != nil {
		return fmt.Errorf("postgres: delete listing %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *tx) Listings(ctx context.Context) ([]domain.Listing, error) {
	rows, err := t.pg.Query(ctx,
		"SELECT position_id, seller, price, listed_at FROM listings ORDER BY position_id")
	if err != nil {
		return nil, fmt.Errorf("postgres: query listings: %w", err)
	}
	defer rows.Close()

	var out []domain.Listing
	for rows.Next() {
		var l domain.Listing
		var price, listedAt int64
		if err := rows.Scan(&l.PositionID, &l.Seller, &price, &listedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan listing: %w", err)
		}
		l.Price = domain.Price(price)
		l.ListedAt = uint64(listedAt)
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate listings: %w", err)
	}
	return out, nil
}

func (t *tx) InsurancePool(ctx context.Context) (domain.Micros, error) {
	var v int64
	err := t.pg.QueryRow(ctx,
		"SELECT value FROM ledger_state WHERE key = 'insurance_pool'",
	).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("postgres: read insurance pool: %w", err)
	}
	return domain.Micros(v), nil
}

func (t *tx) CreditInsurancePool(ctx context.Context, amount domain.Micros) error {
	_, err := t.pg.Exec(ctx,
		"UPDATE ledger_state SET value = value + $1 WHERE key = 'insurance_pool'",
		int64(amount),
	)
	if err != nil {
		return fmt.Errorf("postgres: credit insurance pool: %w", err)
	}
	return nil
}

func (t *tx) balance(ctx context.Context, table string, p domain.Principal) (int64, error) {
	var v int64
	err := t.pg.QueryRow(ctx,
		"SELECT balance FROM "+table+" WHERE principal = $1", p.String(),
	).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: read %s for %s: %w", table, p, err)
	}
	return v, nil
}

func (t *tx) credit(ctx context.Context, table string, p domain.Principal, amount int64) error {
	_, err := t.pg.Exec(ctx, `
		INSERT INTO `+table+` (principal, balance) VALUES ($1, $2)
		ON CONFLICT (principal) DO UPDATE SET balance = `+table+`.balance + $2`,
		p.String(), amount,
	)
	if err != nil {
		return fmt.Errorf("postgres: credit %s for %s: %w", table, p, err)
	}
	return nil
}

// move debits from only when the balance covers amount, then credits to.
func (t *tx) move(ctx context.Context, table string, from, to domain.Principal, amount int64) error {
	tag, err := t.pg.Exec(ctx, `
		UPDATE `+table+` SET balance = balance - $2
		WHERE principal = $1 AND balance >= $2`,
		from.String(), amount,
	)
	if err != nil {
		return fmt.Errorf("postgres: debit %s for %s: %w", table, from, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInsufficientFunds
	}
	return t.credit(ctx, table, to, amount)
}

func (t *tx) AssetBalance(ctx context.Context, p domain.Principal) (domain.Micros, error) {
	v, err := t.balance(ctx, "asset_balances", p)
	return domain.Micros(v), err
}

func (t *tx) CreditAsset(ctx context.Context, p domain.Principal, amount domain.Micros) error {
	return t.credit(ctx, "asset_balances", p, int64(amount))
}

func (t *tx) MoveAsset(ctx context.Context, from, to domain.Principal, amount domain.Micros) error {
	return t.move(ctx, "asset_balances", from, to, int64(amount))
}

func (t *tx) SettlementBalance(ctx context.Context, p domain.Principal) (domain.Price, error) {
	v, err := t.balance(ctx, "settlement_balances", p)
	return domain.Price(v), err
}

func (t *tx) CreditSettlement(ctx context.Context, p domain.Principal, amount domain.Price) error {
	return t.credit(ctx, "settlement_balances", p, int64(amount))
}

func (t *tx) MoveSettlement(ctx context.Context, from, to domain.Principal, amount domain.Price) error {
	return t.move(ctx, "settlement_balances", from, to, int64(amount))
}

func (t *tx) MarketStats(ctx context.Context) (domain.MarketStats, error) {
	var volume, fees, count int64
	err := t.pg.QueryRow(ctx,
		"SELECT total_volume, total_fees, sales_count FROM market_stats WHERE id = 1",
	).Scan(&volume, &fees, &count)
	if err != nil {
		return domain.MarketStats{}, fmt.Errorf("postgres: read market stats: %w", err)
	}
	return domain.MarketStats{
		TotalVolume: domain.Price(volume),
		TotalFees:   domain.Price(fees),
		SalesCount:  uint64(count),
	}, nil
}

func (t *tx) PutMarketStats(ctx context.Context, s domain.MarketStats) error {
	_, err := t.pg.Exec(ctx,
		"UPDATE market_stats SET total_volume = $1, total_fees = $2, sales_count = $3 WHERE id = 1",
		int64(s.TotalVolume), int64(s.TotalFees), int64(s.SalesCount),
	)
	if err != nil {
		return fmt.Errorf("postgres: put market stats: %w", err)
	}
	return nil
}

func (t *tx) AppendSale(ctx context.Context, s domain.Sale) error {
	_, err := t.pg.Exec(ctx, `
		INSERT INTO sales (position_id, seller, buyer, price, fee, height)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		s.PositionID, s.Seller.String(), s.Buyer.String(),
		int64(s.Price), int64(s.Fee), int64(s.Height),
	)
	if err != nil {
		return fmt.Errorf("postgres: append sale %d: %w", s.PositionID, err)
	}
	return nil
}

func (t *tx) Sales(ctx context.Context) ([]domain.Sale, error) {
	rows, err := t.pg.Query(ctx,
		"SELECT position_id, seller, buyer, price, fee, height FROM sales ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("postgres: query sales: %w", err)
	}
	defer rows.Close()

	var out []domain.Sale
	for rows.Next() {
		var s domain.Sale
		var price, fee, height int64
		if err := rows.Scan(&s.PositionID, &s.Seller, &s.Buyer, &price, &fee, &height); err != nil {
			return nil, fmt.Errorf("postgres: scan sale: %w", err)
		}
		s.Price = domain.Price(price)
		s.Fee = domain.Price(fee)
		s.Height = uint64(height)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate sales: %w", err)
	}
	return out, nil
}
