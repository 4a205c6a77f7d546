package domain

import "time"

// AuditRecord is one entry in a per-stream, hash-chained append-only log.
// Hash = H(PrevHash || canonical_encoding(record minus Hash)).
type AuditRecord struct {
	Seq          int64             `json:"seq"`
	Stream       string            `json:"stream"`
	Ts           time.Time         `json:"ts"`
	Actor        string            `json:"actor"`
	Action       string            `json:"action"`
	ResourceType string            `json:"resource_type"`
	ResourceID   string            `json:"resource_id"`
	PrevValues   map[string]any    `json:"prev_values,omitempty"`
	NewValues    map[string]any    `json:"new_values,omitempty"`
	PrevHash     string            `json:"prev_hash"`
	Hash         string            `json:"hash"`
}

// GlobalStream names the global audit stream. No component appends to it:
// every record is written only to its own per-portfolio stream.
const GlobalStream = "global"
