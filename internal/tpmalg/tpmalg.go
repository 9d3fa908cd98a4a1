// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

// Package tpmalg holds the process-wide hash algorithm descriptor table.
package tpmalg

import (
	"crypto"
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"fmt"
	"hash"
)

// ID is the TCG numeric algorithm identifier (TPM_ALG_ID).
type ID uint16

// The subset of TPM_ALG_ID values relevant to PCR banks.
const (
	SHA1   ID = 0x0004
	SHA256 ID = 0x000B
	SHA384 ID = 0x000C
	SHA512 ID = 0x000D
	SM3256 ID = 0x0012
)

// Descriptor is the (id, name, size) triple for one supported algorithm.
type Descriptor struct {
	ID   ID
	Name string
	Size int // digest length in bytes
	hash crypto.Hash
}

// New returns a fresh hash.Hash for this algorithm, or nil if the Go
// standard library has no implementation registered (sm3_256).
func (d Descriptor) New() hash.Hash {
	if d.hash == 0 || !d.hash.Available() {
		return nil
	}
	return d.hash.New()
}

// CryptoHash returns the crypto.Hash identifying this algorithm, and
// whether the standard library has an implementation registered for it.
func (d Descriptor) CryptoHash() (crypto.Hash, bool) {
	return d.hash, d.hash != 0 && d.hash.Available()
}

var builtin = []Descriptor{
	{ID: SHA1, Name: "sha1", Size: 20, hash: crypto.SHA1},
	{ID: SHA256, Name: "sha256", Size: 32, hash: crypto.SHA256},
	{ID: SHA384, Name: "sha384", Size: 48, hash: crypto.SHA384},
	{ID: SHA512, Name: "sha512", Size: 64, hash: crypto.SHA512},
	// sm3_256 has no standard-library implementation; it is registered by
	// id/name/size only so that log-scoped supplementation (below) can
	// recognize it in a Spec ID Event03 digest-size list without being able
	// to hash it.
	{ID: SM3256, Name: "sm3_256", Size: 32},
}

var (
	byID   = make(map[ID]Descriptor, len(builtin))
	byName = make(map[string]Descriptor, len(builtin))
)

func init() {
	for _, d := range builtin {
		byID[d.ID] = d
		byName[d.Name] = d
	}
}

// ByID looks up a descriptor in the process-wide table.
func ByID(id ID) (Descriptor, bool) {
	d, ok := byID[id]
	return d, ok
}

// ByName looks up a descriptor by its canonical textual name.
func ByName(name string) (Descriptor, bool) {
	d, ok := byName[name]
	return d, ok
}

// Table is a log-scoped supplement to the process-wide table, populated
// from a log's self-describing Spec ID Event03 header. It allows a log to
// declare digest sizes for algorithms the process-wide table does not know
// the size of, which is required so that events for that algorithm can at
// least be skipped rather than misparsed.
type Table struct {
	extra map[ID]Descriptor
}

// NewTable creates an empty log-scoped supplement.
func NewTable() *Table {
	return &Table{extra: make(map[ID]Descriptor)}
}

// Declare records the digest size for an algorithm id as reported by the
// log header. If the algorithm is already known process-wide and the
// declared size disagrees, this is an error (the log is self-contradictory).
func (t *Table) Declare(id ID, size int) error {
	if d, ok := byID[id]; ok {
		if d.Size != size {
			return fmt.Errorf("algorithm %#04x: log declares digest size %d but %d is expected", uint16(id), size, d.Size)
		}
		return nil
	}
	if d, ok := t.extra[id]; ok {
		if d.Size != size {
			return fmt.Errorf("algorithm %#04x: log declares inconsistent digest sizes %d and %d", uint16(id), size, d.Size)
		}
		return nil
	}
	t.extra[id] = Descriptor{ID: id, Name: fmt.Sprintf("alg-%#04x", uint16(id)), Size: size}
	return nil
}

// Lookup resolves an algorithm id against the process-wide table first,
// then the log-scoped supplement.
func (t *Table) Lookup(id ID) (Descriptor, bool) {
	if d, ok := byID[id]; ok {
		return d, true
	}
	if t == nil {
		return Descriptor{}, false
	}
	d, ok := t.extra[id]
	return d, ok
}
