// Package audit implements the append-only, per-stream hash-chained Audit
// Log (§4.K). Records carry prior/new values for every mutating operation on
// Portfolio, Order, RiskLimit, and Predictor status; tamper checking
// recomputes the chain from a second, independently-driven connection.
package audit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/aristath/quant-core/internal/apperr"
	"github.com/vmihailenco/msgpack/v5"
)

// genesisHash is the prev_hash of the first record on any stream.
const genesisHash = "genesis"

// Record is one audit entry. PrevValues/NewValues may be nil (e.g. a create
// has no PrevValues; a delete has no NewValues).
type Record struct {
	Stream       string
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	PrevValues   any
	NewValues    any

	Ts       time.Time
	Seq      int64
	PrevHash string
	Hash     string
}

// canonical encodes v with msgpack, sorting map keys, so that two equal
// values with differently-ordered map iteration still hash identically.
func canonical(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// computeHash binds a record to its position in the chain: the previous
// record's hash, this record's sequence number and identity fields, and the
// canonical bytes of both value snapshots.
func computeHash(prevHash string, seq int64, rec Record, prevBytes, newBytes []byte) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s|%s|%s|%s|%s|%d", prevHash, seq, rec.Stream, rec.Actor, rec.Action, rec.ResourceType, rec.ResourceID, rec.Ts.UnixNano())
	h.Write(prevBytes)
	h.Write(newBytes)
	return hex.EncodeToString(h.Sum(nil))
}

// AppendTx appends rec to table (within the caller's transaction),
// extending the chain for rec.Stream. table is an internal constant
// ("audit_records" or an ATTACHed-database-qualified name), never
// user-supplied, so it is safe to interpolate into the query text.
func AppendTx(ctx context.Context, tx *sql.Tx, table string, rec Record) (Record, error) {
	rec.Ts = time.Now().UTC().Truncate(time.Second)

	row := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT hash, seq FROM %s WHERE stream = ? ORDER BY seq DESC LIMIT 1`, table), rec.Stream)
	var lastHash string
	var lastSeq int64
	switch err := row.Scan(&lastHash, &lastSeq); {
	case err == sql.ErrNoRows:
		lastHash, lastSeq = genesisHash, 0
	case err != nil:
		return Record{}, apperr.Wrap(apperr.KindUpstream, "read audit chain tail", err)
	}

	rec.Seq = lastSeq + 1
	rec.PrevHash = lastHash

	prevBytes, err := canonical(rec.PrevValues)
	if err != nil {
		return Record{}, apperr.Wrap(apperr.KindValidation, "encode prev_values", err)
	}
	newBytes, err := canonical(rec.NewValues)
	if err != nil {
		return Record{}, apperr.Wrap(apperr.KindValidation, "encode new_values", err)
	}
	rec.Hash = computeHash(rec.PrevHash, rec.Seq, rec, prevBytes, newBytes)

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (seq, stream, ts, actor, action, resource_type, resource_id, prev_values, new_values, prev_hash, hash)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
	`, table),
		rec.Seq, rec.Stream, rec.Ts.Unix(), rec.Actor, rec.Action, rec.ResourceType, rec.ResourceID,
		prevBytes, newBytes, rec.PrevHash, rec.Hash,
	)
	if err != nil {
		return Record{}, apperr.Wrap(apperr.KindUpstream, "insert audit record", err)
	}
	return rec, nil
}
