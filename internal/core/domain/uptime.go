package domain

// UptimeSnapshot is the live uptime of one validator, derived on demand
// from the heights currently held in the signature window.
type UptimeSnapshot struct {
	ChainID      string
	Validator    string
	TotalBlocks  uint64
	SignedBlocks uint64
	MissedBlocks uint64
	Ratio        float64
	// Valid is false when the window holds no facts for the validator;
	// the ratio is meaningless then and must be reported as "no data".
	Valid bool
}
