package domain

// LockPeriod is a bond lock duration in days. Only the three listed values
// are accepted by the vault.
type LockPeriod uint64

const (
	Lock30  LockPeriod = 30
	Lock90  LockPeriod = 90
	Lock180 LockPeriod = 180
)

// Valid reports whether the lock period is one of the supported tiers.
func (lp LockPeriod) Valid() bool {
	switch lp {
	case Lock30, Lock90, Lock180:
		return true
	}
	return false
}

// APYPercent returns the whole-percent annual yield for the tier.
func (lp LockPeriod) APYPercent() uint64 {
	switch lp {
	case Lock30:
		return 5
	case Lock90:
		return 8
	case Lock180:
		return 12
	}
	return 0
}

// APYBps returns the tier yield in basis points, the form stored on the
// position record.
func (lp LockPeriod) APYBps() uint64 {
	return lp.APYPercent() * 100
}

// BondStatus is the lifecycle state of a position.
type BondStatus string

const (
	BondActive      BondStatus = "active"
	BondWithdrawn   BondStatus = "withdrawn"
	BondEarlyExited BondStatus = "early_exited"
)

// Position is a time-locked bond record held by the vault.
type Position struct {
	ID         uint64     `json:"id"`
	Owner      Principal  `json:"owner"`
	Principal  Micros     `json:"principal"`
	LockPeriod LockPeriod `json:"lock_period"`
	CreatedAt  uint64     `json:"created_at"`  // block height at creation
	MaturityAt uint64     `json:"maturity_at"` // block height of maturity
	APYBps     uint64     `json:"apy_bps"`
	Status     BondStatus `json:"status"`
}

// Matured reports whether the position has reached maturity at the given
// height. Maturity is inclusive: height == MaturityAt counts.
func (p Position) Matured(height uint64) bool {
	return height >= p.MaturityAt
}

// Certificate is the ownership token minted for a position. The holder may
// diverge from the position owner only transiently inside a settlement.
type Certificate struct {
	PositionID uint64    `json:"position_id"`
	Holder     Principal `json:"holder"`
	TokenURI   string    `json:"token_uri"`
}

// Listing is an active marketplace entry. The listing id is the position id;
// at most one listing exists per position at a time.
type Listing struct {
	PositionID uint64    `json:"position_id"`
	Seller     Principal `json:"seller"`
	Price      Price     `json:"price"`
	ListedAt   uint64    `json:"listed_at"` // block height when listed
}
