// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

// Package pcrbank simulates a single-algorithm PCR bank: 24 registers,
// requested/valid tracking, the Extend formula, and the StartupLocality
// pre-fill rule for PCR0.
package pcrbank

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/canonical/pcr-oracle/internal/digest"
	"github.com/canonical/pcr-oracle/internal/tpmalg"
)

// NumPCRs is the fixed size of a PCR bank.
const NumPCRs = 24

// Bank is a simulated set of PCR registers for one algorithm.
type Bank struct {
	Alg       tpmalg.Descriptor
	requested [NumPCRs]bool
	valid     [NumPCRs]bool
	value     [NumPCRs][]byte
}

// New creates a bank for alg with the given set of PCRs requested for
// prediction; none are valid until initialized by FromZero, FromCurrent or
// FromSnapshot.
func New(alg tpmalg.Descriptor, requested []int) (*Bank, error) {
	b := &Bank{Alg: alg}
	for _, pcr := range requested {
		if pcr < 0 || pcr >= NumPCRs {
			return nil, fmt.Errorf("pcr index %d out of range [0,%d)", pcr, NumPCRs)
		}
		b.requested[pcr] = true
	}
	return b, nil
}

// Requested reports whether pcr was requested for prediction.
func (b *Bank) Requested(pcr int) bool { return b.requested[pcr] }

// Valid reports whether pcr currently holds a value.
func (b *Bank) Valid(pcr int) bool { return b.valid[pcr] }

// Value returns the current value of pcr, which must be Valid.
func (b *Bank) Value(pcr int) []byte { return b.value[pcr] }

// FromZero initializes every requested PCR to its all-zero reset value.
// This is the default starting state absent any StartupLocality record or
// snapshot.
func (b *Bank) FromZero() {
	for pcr := range b.requested {
		if b.requested[pcr] {
			b.value[pcr] = make([]byte, b.Alg.Size)
			b.valid[pcr] = true
		}
	}
}

// ApplyStartupLocality sets PCR0's pre-extend value to
// H(zeros(size-1) || locality), per the TCG PC Client startup locality
// convention. Locality 0 is equivalent to the default all-zero reset value
// and is a no-op.
func (b *Bank) ApplyStartupLocality(locality byte) error {
	if !b.requested[0] {
		return nil
	}
	if locality == 0 {
		b.value[0] = make([]byte, b.Alg.Size)
		b.valid[0] = true
		return nil
	}
	h := b.Alg.New()
	if h == nil {
		return fmt.Errorf("algorithm %s has no available hash implementation", b.Alg.Name)
	}
	buf := make([]byte, b.Alg.Size-1)
	h.Write(buf)
	h.Write([]byte{locality})
	b.value[0] = h.Sum(nil)
	b.valid[0] = true
	return nil
}

// FromCurrent seeds requested PCRs from a caller-supplied reader of current
// values, keyed by pcr index (e.g. obtained via a live PCRRead). PCRs not
// present in current are left uninitialized.
func (b *Bank) FromCurrent(current map[int][]byte) {
	for pcr, v := range current {
		if pcr < 0 || pcr >= NumPCRs || !b.requested[pcr] {
			continue
		}
		buf := make([]byte, len(v))
		copy(buf, v)
		b.value[pcr] = buf
		b.valid[pcr] = true
	}
}

// Extend applies PCR_new := H(PCR_old || eventDigest) to pcr. If pcr is not
// yet valid, it is implicitly initialized to all-zero first (matching a
// freshly reset register).
func (b *Bank) Extend(pcr int, eventDigest digest.Digest) error {
	if pcr < 0 || pcr >= NumPCRs {
		return fmt.Errorf("pcr index %d out of range [0,%d)", pcr, NumPCRs)
	}
	if eventDigest.Alg.ID != b.Alg.ID {
		return fmt.Errorf("cannot extend %s bank with a %s digest", b.Alg.Name, eventDigest.Alg.Name)
	}
	if len(eventDigest.Data) != b.Alg.Size {
		return fmt.Errorf("digest length %d does not match algorithm %s", len(eventDigest.Data), b.Alg.Name)
	}
	if !b.valid[pcr] {
		b.value[pcr] = make([]byte, b.Alg.Size)
		b.valid[pcr] = true
	}
	h := b.Alg.New()
	if h == nil {
		return fmt.Errorf("algorithm %s has no available hash implementation", b.Alg.Name)
	}
	h.Write(b.value[pcr])
	h.Write(eventDigest.Data)
	b.value[pcr] = h.Sum(nil)
	return nil
}

// Snapshot renders the bank as lines of "<index> <hex>", in ascending PCR order,
// for requested and valid registers only. This is the text format read
// back by FromSnapshot.
func (b *Bank) Snapshot(w io.Writer) error {
	for pcr := 0; pcr < NumPCRs; pcr++ {
		if !b.requested[pcr] || !b.valid[pcr] {
			continue
		}
		if _, err := fmt.Fprintf(w, "%d %s\n", pcr, hex.EncodeToString(b.value[pcr])); err != nil {
			return err
		}
	}
	return nil
}

// FromSnapshot loads PCR values from the text format written by Snapshot.
func (b *Bank) FromSnapshot(r io.Reader) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) != 2 {
			return fmt.Errorf("malformed snapshot line %q", line)
		}
		pcr, err := strconv.Atoi(parts[0])
		if err != nil || pcr < 0 || pcr >= NumPCRs {
			return fmt.Errorf("malformed snapshot pcr index %q", parts[0])
		}
		v, err := hex.DecodeString(parts[1])
		if err != nil {
			return fmt.Errorf("malformed snapshot digest for pcr %d: %w", pcr, err)
		}
		if len(v) != b.Alg.Size {
			return fmt.Errorf("snapshot digest for pcr %d has length %d, expected %d", pcr, len(v), b.Alg.Size)
		}
		if !b.requested[pcr] {
			continue
		}
		b.value[pcr] = v
		b.valid[pcr] = true
	}
	return sc.Err()
}
