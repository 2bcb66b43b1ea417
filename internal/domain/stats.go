package domain

// MarketStats are the persisted marketplace rollups, updated inside the same
// transaction as each sale.
type MarketStats struct {
	TotalVolume Price  `json:"total_volume"`
	TotalFees   Price  `json:"total_fees"`
	SalesCount  uint64 `json:"sales_count"`
}

// Sale is a completed marketplace settlement, recorded for stats and the
// blob archiver.
type Sale struct {
	PositionID uint64    `json:"position_id"`
	Seller     Principal `json:"seller"`
	Buyer      Principal `json:"buyer"`
	Price      Price     `json:"price"`
	Fee        Price     `json:"fee"`
	Height     uint64    `json:"height"`
}

// StatsSnapshot is the combined read model served by /api/marketplace/stats
// and cached in Redis.
type StatsSnapshot struct {
	ActiveListings  int         `json:"active_listings"`
	Market          MarketStats `json:"market"`
	ActivePositions int         `json:"active_positions"`
	LockedPrincipal Micros      `json:"locked_principal"`
	InsurancePool   Micros      `json:"insurance_pool"`
	Height          uint64      `json:"height"`
}
