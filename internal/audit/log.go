package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/aristath/quant-core/internal/apperr"
	"github.com/aristath/quant-core/internal/database"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

func unixToUTC(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

// decodeValues decodes a canonical-encoded value snapshot back into a plain
// map for display/replay purposes. The original concrete type is never
// recovered (the chain only needs the canonical bytes to hash, not a schema).
func decodeValues(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	var v any
	if err := msgpack.Unmarshal(b, &v); err != nil {
		return nil
	}
	return v
}

// Log is the global/per-portfolio Audit Log, backed by the ledger-profile
// audit database (opened by database.New with the pure-Go driver) plus a
// second, independent read-only connection (cgo mattn/go-sqlite3 driver,
// opened via database.OpenVerify) used only
// for tamper verification so a writer-side bug cannot also corrupt the
// verifier's view.
type Log struct {
	db     *database.DB
	verify *sql.DB
	log    zerolog.Logger
}

// NewLog opens a Log against an already-migrated audit database and a
// read-only verify connection at the same path.
func NewLog(db *database.DB, verifyPath string, log zerolog.Logger) (*Log, error) {
	verify, err := database.OpenVerify(verifyPath)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "open audit verify connection", err)
	}
	return &Log{db: db, verify: verify, log: log.With().Str("component", "audit").Logger()}, nil
}

// Close releases the verify connection. The primary db is owned by its caller.
func (l *Log) Close() error {
	return l.verify.Close()
}

// Append writes one record to the named stream's chain in its own
// transaction. Use AppendTx directly (with "audit_records" as the table)
// when the caller needs the audit write in the same transaction as a
// domain mutation against this same database.
func (l *Log) Append(ctx context.Context, rec Record) (Record, error) {
	var out Record
	err := database.WithTransaction(l.db.Conn(), func(tx *sql.Tx) error {
		r, err := AppendTx(ctx, tx, "audit_records", rec)
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

// VerifyChain recomputes stream's hash chain from the verify connection and
// reports apperr.KindIntegrity on the first mismatch.
func (l *Log) VerifyChain(ctx context.Context, stream string) error {
	rows, err := l.verify.QueryContext(ctx, `
		SELECT seq, stream, ts, actor, action, resource_type, resource_id, prev_values, new_values, prev_hash, hash
		FROM audit_records WHERE stream = ? ORDER BY seq ASC
	`, stream)
	if err != nil {
		return apperr.Wrap(apperr.KindUpstream, "query audit chain", err)
	}
	defer rows.Close()

	prev := genesisHash
	count := 0
	for rows.Next() {
		var rec Record
		var ts int64
		var prevBytes, newBytes []byte
		if err := rows.Scan(&rec.Seq, &rec.Stream, &ts, &rec.Actor, &rec.Action, &rec.ResourceType, &rec.ResourceID,
			&prevBytes, &newBytes, &rec.PrevHash, &rec.Hash); err != nil {
			return apperr.Wrap(apperr.KindUpstream, "scan audit record", err)
		}
		rec.Ts = unixToUTC(ts)
		count++

		if rec.PrevHash != prev {
			return apperr.WithReason(apperr.KindIntegrity, "audit chain broken: prev_hash mismatch", "chain_broken")
		}
		recomputed := computeHash(rec.PrevHash, rec.Seq, rec, prevBytes, newBytes)
		if recomputed != rec.Hash {
			return apperr.WithReason(apperr.KindIntegrity, "audit chain broken: hash mismatch", "hash_mismatch")
		}
		prev = rec.Hash
	}
	if err := rows.Err(); err != nil {
		return apperr.Wrap(apperr.KindUpstream, "iterate audit chain", err)
	}
	l.log.Debug().Str("stream", stream).Int("records", count).Msg("audit chain verified")
	return nil
}

// Replay returns stream's full record history in sequence order, verifying
// the chain as it reads so a caller never replays a tampered history.
func (l *Log) Replay(ctx context.Context, stream string) ([]Record, error) {
	if err := l.VerifyChain(ctx, stream); err != nil {
		return nil, err
	}

	rows, err := l.db.Conn().QueryContext(ctx, `
		SELECT seq, stream, ts, actor, action, resource_type, resource_id, prev_values, new_values, prev_hash, hash
		FROM audit_records WHERE stream = ? ORDER BY seq ASC
	`, stream)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "query audit records", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var ts int64
		var prevBytes, newBytes []byte
		if err := rows.Scan(&rec.Seq, &rec.Stream, &ts, &rec.Actor, &rec.Action, &rec.ResourceType, &rec.ResourceID,
			&prevBytes, &newBytes, &rec.PrevHash, &rec.Hash); err != nil {
			return nil, apperr.Wrap(apperr.KindUpstream, "scan audit record", err)
		}
		rec.Ts = unixToUTC(ts)
		rec.PrevValues = decodeValues(prevBytes)
		rec.NewValues = decodeValues(newBytes)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "iterate audit records", err)
	}
	return out, nil
}

// VerifyAll verifies every stream found in the audit database. Intended for
// the startup tamper check (§4.K).
func (l *Log) VerifyAll(ctx context.Context) error {
	rows, err := l.verify.QueryContext(ctx, `SELECT DISTINCT stream FROM audit_records`)
	if err != nil {
		return apperr.Wrap(apperr.KindUpstream, "list audit streams", err)
	}
	var streams []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			rows.Close()
			return apperr.Wrap(apperr.KindUpstream, "scan audit stream", err)
		}
		streams = append(streams, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return apperr.Wrap(apperr.KindUpstream, "iterate audit streams", err)
	}

	for _, s := range streams {
		if err := l.VerifyChain(ctx, s); err != nil {
			return err
		}
	}
	return nil
}
