package auditlog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// GenesisHash is the hash of the genesis entry and the trust anchor of the
// chain. Entry hashes chain from this constant rather than a computed value.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Lifecycle actions recorded in the chain.
const (
	ActionGenesis    = "genesis"
	ActionIssue      = "issue"
	ActionDeactivate = "deactivate"
	ActionRestore    = "restore"
)

// SystemActor is recorded for events not attributed to a caller.
const SystemActor = "certledger"

// Entry is a single record in the audit chain.
type Entry struct {
	Index         int       `json:"index"`
	Timestamp     time.Time `json:"timestamp"`
	CertificateID string    `json:"certificate_id"`
	Action        string    `json:"action"`
	Actor         string    `json:"actor"`
	DataHash      string    `json:"data_hash"` // integrity hash for issue, PayloadHash otherwise
	PrevHash      string    `json:"prev_hash"`
	Hash          string    `json:"hash"`
}

// Event is what a caller appends. The chain fills in index, time and hashes.
type Event struct {
	CertificateID string
	Action        string
	Actor         string
	DataHash      string
}

// PayloadHash returns the hex SHA-256 of the JSON encoding of v.
func PayloadHash(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return sha256Hex(b), nil
}

// hashEntry computes the SHA-256 over an entry's fields.
// Never called on the genesis entry.
func hashEntry(e *Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%s|%s|%s",
		e.Index, e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.CertificateID, e.Action, e.Actor, e.DataHash, e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

func sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// now returns the current time at the precision every backend can store.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func newEntry(prev *Entry, ev Event) *Entry {
	actor := ev.Actor
	if actor == "" {
		actor = SystemActor
	}
	e := &Entry{
		Index:         prev.Index + 1,
		Timestamp:     now(),
		CertificateID: ev.CertificateID,
		Action:        ev.Action,
		Actor:         actor,
		DataHash:      ev.DataHash,
		PrevHash:      prev.Hash,
	}
	e.Hash = hashEntry(e)
	return e
}

// checkLink validates curr against its predecessor. prev is nil for the genesis entry.
func checkLink(prev, curr *Entry) error {
	if prev == nil {
		if curr.Hash != GenesisHash {
			return fmt.Errorf("%w: genesis entry has wrong hash %q", ErrChainBroken, curr.Hash)
		}
		return nil
	}
	if curr.PrevHash != prev.Hash {
		return fmt.Errorf("%w: prev_hash mismatch at index %d", ErrChainBroken, curr.Index)
	}
	if curr.Hash != hashEntry(curr) {
		return fmt.Errorf("%w: entry %d has invalid hash", ErrChainBroken, curr.Index)
	}
	return nil
}
