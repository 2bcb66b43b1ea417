package domain

// Micros is an amount of the backing asset in integer micro-units. Bond
// principals, yields, penalties, and the insurance pool are all denominated
// in Micros.
type Micros uint64

// Price is an amount of the settlement currency used by the marketplace.
// It is deliberately a distinct type from Micros: listing prices and
// protocol fees never mix units with bond principal.
type Price uint64
