package clickhouse

import (
	"context"
	"fmt"

	"github.com/chainpulse/chainpulse/internal/core/domain"
)

const signaturesTable = "validator_signatures"

// InsertSignatures writes a batch of facts. Duplicate keys collapse in
// the ReplacingMergeTree, so callers may retry freely.
func (db *DB) InsertSignatures(ctx context.Context, facts []domain.SignatureFact) error {
	if len(facts) == 0 {
		return nil
	}

	batch, err := db.conn.PrepareBatch(ctx, "INSERT INTO "+signaturesTable)
	if err != nil {
		return fmt.Errorf("prepare signature batch: %w", err)
	}

	for _, f := range facts {
		signed := uint8(0)
		if f.Signed {
			signed = 1
		}
		if err := batch.Append(f.ChainID, f.Height, f.Timestamp, f.Validator, signed); err != nil {
			return fmt.Errorf("append signature %s/%d/%s: %w", f.ChainID, f.Height, f.Validator, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send signature batch: %w", err)
	}
	return nil
}

// LastProcessedHeight returns the highest height with stored signatures
// for the chain; the second return is false when the chain has no rows.
func (db *DB) LastProcessedHeight(ctx context.Context, chainID string) (uint64, bool, error) {
	var height uint64
	var count uint64
	row := db.conn.QueryRow(ctx,
		"SELECT max(height), count() FROM "+signaturesTable+" WHERE chain_id = ?", chainID)
	if err := row.Scan(&height, &count); err != nil {
		return 0, false, fmt.Errorf("query last processed height: %w", err)
	}
	if count == 0 {
		return 0, false, nil
	}
	return height, true, nil
}
