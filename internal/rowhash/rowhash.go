// Package rowhash provides the non-cryptographic, process-seeded hash used
// by the pointer map (row dedup) and by the blob heap's content addressing.
// Per the specification, this hash must never be persisted and must not be
// relied on to be stable across restarts: a fresh seed is drawn every
// process start.
package rowhash

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Seed is a process-lifetime salt mixed into every row hash so that values
// computed in one run are never comparable to values from another.
type Seed uint64

// NewSeed draws a fresh, unpredictable seed. Call once per process.
func NewSeed() Seed {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failure is not expected on supported platforms; fall
		// back to a fixed seed rather than returning a zero seed.
		return Seed(0x9e3779b97f4a7c15)
	}
	return Seed(binary.LittleEndian.Uint64(b[:]))
}

// Row hashes the concatenation of a row's field bytes, salted with seed.
// Used by the pointer map to detect exact-duplicate rows.
func Row(seed Seed, fields ...[]byte) uint64 {
	d := xxhash.New()
	var seedBytes [8]byte
	binary.LittleEndian.PutUint64(seedBytes[:], uint64(seed))
	_, _ = d.Write(seedBytes[:])
	for _, f := range fields {
		_, _ = d.Write(f)
	}
	return d.Sum64()
}

// Content hashes raw bytes for blob-heap content addressing. This is
// intentionally seeded the same way as Row: the blob store's keys are just
// as process-local as the pointer map's.
func Content(seed Seed, data []byte) uint64 {
	d := xxhash.New()
	var seedBytes [8]byte
	binary.LittleEndian.PutUint64(seedBytes[:], uint64(seed))
	_, _ = d.Write(seedBytes[:])
	_, _ = d.Write(data)
	return d.Sum64()
}
