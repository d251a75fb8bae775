package domain

import "time"

// SignatureFact records whether a validator signed a specific block height.
// Facts are immutable once created; (ChainID, Height, Validator) is the
// uniqueness key everywhere downstream.
type SignatureFact struct {
	ChainID   string
	Height    uint64
	Validator string
	Timestamp time.Time
	Signed    bool
}
