// Package audit provides a tamper-evident, hash-chained log of enforcement
// decisions: every blocked action, applied fix, and recorded violation can
// be appended here and the whole chain later verified for integrity.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/protocore/governor/pkg/canonicalize"
)

// Clock abstracts time.Now so tests can produce deterministic entry IDs.
type Clock interface{ Now() time.Time }

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Entry is one tamper-evident log record.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	WorkerID  string    `json:"workerId"`
	Action    string    `json:"action"`
	Target    string    `json:"target"`
	Details   string    `json:"details,omitempty"`

	// PreviousHash links this entry to the one before it.
	PreviousHash string `json:"previousHash"`
	// Hash is the SHA-256 digest of this entry, including PreviousHash.
	Hash string `json:"hash"`
}

// Log is an append-only, hash-chained sequence of Entries.
type Log struct {
	Entries []Entry
	clock   Clock
}

// New creates an empty Log. If clock is nil, a wall-clock is used.
func New(clock Clock) *Log {
	if clock == nil {
		clock = wallClock{}
	}
	return &Log{clock: clock}
}

// Append adds a new entry, linking it to the previous one by hash.
func (l *Log) Append(workerID, action, target, details string) (*Entry, error) {
	prevHash := ""
	if len(l.Entries) > 0 {
		prevHash = l.Entries[len(l.Entries)-1].Hash
	}

	now := l.clock.Now()
	entry := Entry{
		ID:           fmt.Sprintf("evt_%d", now.UnixNano()),
		Timestamp:    now.UTC(),
		WorkerID:     workerID,
		Action:       action,
		Target:       target,
		Details:      details,
		PreviousHash: prevHash,
	}

	hash, err := computeEntryHash(&entry)
	if err != nil {
		return nil, err
	}
	entry.Hash = hash

	l.Entries = append(l.Entries, entry)
	return &entry, nil
}

// VerifyChain checks that every entry's PreviousHash matches the actual hash
// of the entry before it, and that every entry's own Hash matches its
// content — catching both reordering and tampering.
func (l *Log) VerifyChain() (bool, error) {
	for i, entry := range l.Entries {
		if i > 0 {
			if entry.PreviousHash != l.Entries[i-1].Hash {
				return false, fmt.Errorf("chain broken at index %d: previous hash mismatch", i)
			}
		} else if entry.PreviousHash != "" {
			return false, fmt.Errorf("genesis entry (index 0) has non-empty previous hash")
		}

		computedHash, err := computeEntryHash(&entry)
		if err != nil {
			return false, fmt.Errorf("recompute hash at index %d: %w", i, err)
		}
		if computedHash != entry.Hash {
			return false, fmt.Errorf("integrity failure at index %d: computed %s, stored %s", i, computedHash, entry.Hash)
		}
	}
	return true, nil
}

func computeEntryHash(e *Entry) (string, error) {
	data := map[string]interface{}{
		"id":           e.ID,
		"timestamp":    e.Timestamp,
		"workerId":     e.WorkerID,
		"action":       e.Action,
		"target":       e.Target,
		"details":      e.Details,
		"previousHash": e.PreviousHash,
	}

	canonicalBytes, err := canonicalize.JCS(data)
	if err != nil {
		return "", err
	}

	hash := sha256.Sum256(canonicalBytes)
	return hex.EncodeToString(hash[:]), nil
}
