package domain

import "context"

// Ledger is the shared transactional state the three engines operate on.
// Update runs fn inside a transaction: every mutation staged through the Tx
// is committed if fn returns nil and discarded otherwise, so an engine
// operation that moves funds, rewrites a record, and deletes a listing is
// all-or-nothing. View runs fn read-only.
type Ledger interface {
	View(ctx context.Context, fn func(tx Tx) error) error
	Update(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is a single ledger transaction. Reads observe mutations staged earlier
// in the same transaction. Lookups of missing records return ErrNotFound.
type Tx interface {
	// Positions.
	NextPositionID(ctx context.Context) (uint64, error)
	Position(ctx context.Context, id uint64) (Position, error)
	PutPosition(ctx context.Context, p Position) error
	PositionsByOwner(ctx context.Context, owner Principal) ([]Position, error)
	ActivePositions(ctx context.Context) ([]Position, error)
	SettledPositions(ctx context.Context) ([]Position, error)

	// Certificates.
	Certificate(ctx context.Context, id uint64) (Certificate, error)
	PutCertificate(ctx context.Context, c Certificate) error

	// Listings.
	Listing(ctx context.Context, id uint64) (Listing, error)
	PutListing(ctx context.Context, l Listing) error
	DeleteListing(ctx context.Context, id uint64) error
	Listings(ctx context.Context) ([]Listing, error)

	// Insurance pool.
	InsurancePool(ctx context.Context) (Micros, error)
	CreditInsurancePool(ctx context.Context, amount Micros) error

	// Backing-asset balance book. MoveAsset returns ErrInsufficientFunds
	// when the source balance is short.
	AssetBalance(ctx context.Context, p Principal) (Micros, error)
	CreditAsset(ctx context.Context, p Principal, amount Micros) error
	MoveAsset(ctx context.Context, from, to Principal, amount Micros) error

	// Settlement-currency balance book.
	SettlementBalance(ctx context.Context, p Principal) (Price, error)
	CreditSettlement(ctx context.Context, p Principal, amount Price) error
	MoveSettlement(ctx context.Context, from, to Principal, amount Price) error

	// Marketplace rollups and completed sales.
	MarketStats(ctx context.Context) (MarketStats, error)
	PutMarketStats(ctx context.Context, s MarketStats) error
	AppendSale(ctx context.Context, s Sale) error
	Sales(ctx context.Context) ([]Sale, error)
}

// HeightSource reports the current block height of the execution substrate.
type HeightSource interface {
	Height(ctx context.Context) (uint64, error)
}

// HeightAdvancer moves the height forward. Exposed over HTTP only in dev
// mode; the postgres ledger also implements it for operational tooling.
type HeightAdvancer interface {
	Advance(ctx context.Context, blocks uint64) (uint64, error)
}
