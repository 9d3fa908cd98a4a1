// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

// Package digest holds the Digest value type shared by the event log
// reader, the re-hash engine and the PCR bank simulator.
package digest

import (
	"bytes"

	"github.com/canonical/pcr-oracle/internal/tpmalg"
)

// Digest is raw digest bytes tagged with the algorithm that produced them.
type Digest struct {
	Alg  tpmalg.Descriptor
	Data []byte
}

// New wraps raw bytes with their algorithm descriptor.
func New(alg tpmalg.Descriptor, data []byte) Digest {
	return Digest{Alg: alg, Data: data}
}

// Valid reports whether d is usable: non-empty, of the exact length
// mandated by its algorithm, and not all-zero or all-0xff.
func (d Digest) Valid() bool {
	if len(d.Data) == 0 {
		return false
	}
	if d.Alg.Size != 0 && len(d.Data) != d.Alg.Size {
		return false
	}
	allZero, allFF := true, true
	for _, b := range d.Data {
		if b != 0x00 {
			allZero = false
		}
		if b != 0xff {
			allFF = false
		}
		if !allZero && !allFF {
			break
		}
	}
	return !allZero && !allFF
}

// Equal reports whether two digests have the same algorithm and bytes.
func (d Digest) Equal(o Digest) bool {
	return d.Alg.ID == o.Alg.ID && bytes.Equal(d.Data, o.Data)
}

// Map is an ordered-by-lookup set of digests for a single event, keyed by
// algorithm id.
type Map map[tpmalg.ID]Digest

// Get returns the digest for alg, and whether it is present and valid.
func (m Map) Get(alg tpmalg.ID) (Digest, bool) {
	d, ok := m[alg]
	if !ok || !d.Valid() {
		return Digest{}, false
	}
	return d, true
}
