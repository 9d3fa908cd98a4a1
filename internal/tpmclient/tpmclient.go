// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

// Package tpmclient opens the platform TPM character device and exposes the
// narrow subset of TPMContext operations the rest of this repository needs:
// reading live PCR values into a pcrbank.Bank and handing out the raw
// context for the policy builder and unseal driver to drive directly.
package tpmclient

import (
	"fmt"
	"sort"

	"github.com/canonical/go-tpm2"
	"github.com/canonical/go-tpm2/linux"
	"golang.org/x/xerrors"

	"github.com/canonical/pcr-oracle/internal/tpmalg"
)

// pcrReadChunk is the largest number of PCR indices TPM2_PCR_Read is
// guaranteed to return in a single response.
const pcrReadChunk = 8

// Connection is a live connection to the platform TPM, opened through the
// Linux TPM resource manager device.
type Connection struct {
	tcti *linux.TctiDevice
	tpm  *tpm2.TPMContext
}

// Connect opens /dev/tpmrm0 (or the device named by path, when non-empty)
// and wraps it in a TPMContext.
func Connect(path string) (*Connection, error) {
	if path == "" {
		path = "/dev/tpmrm0"
	}
	tcti, err := linux.OpenDevice(path)
	if err != nil {
		return nil, xerrors.Errorf("cannot open TPM device %s: %w", path, err)
	}
	return &Connection{tcti: tcti, tpm: tpm2.NewTPMContext(tcti)}, nil
}

// TPM returns the underlying context for packages that drive TPM commands
// directly (internal/policy, internal/unseal).
func (c *Connection) TPM() *tpm2.TPMContext {
	return c.tpm
}

// Close releases the underlying device handle.
func (c *Connection) Close() error {
	return c.tpm.Close()
}

// PCRRead reads the current value of every requested PCR index under alg,
// in chunks of at most 8 indices per TPM2_PCR_Read call, and returns them
// keyed by index for pcrbank.Bank.FromCurrent.
func (c *Connection) PCRRead(alg tpmalg.Descriptor, pcrs []int) (map[int][]byte, error) {
	sorted := append([]int(nil), pcrs...)
	sort.Ints(sorted)

	hashAlg := tpm2.HashAlgorithmId(alg.ID)
	out := make(map[int][]byte, len(sorted))

	for len(sorted) > 0 {
		n := pcrReadChunk
		if n > len(sorted) {
			n = len(sorted)
		}
		chunk := sorted[:n]
		sorted = sorted[n:]

		selection := tpm2.PCRSelectionList{{Hash: hashAlg, Select: tpm2.PCRSelect(chunk)}}
		_, values, err := c.tpm.PCRRead(selection)
		if err != nil {
			return nil, xerrors.Errorf("TPM2_PCR_Read failed: %w", err)
		}

		byIndex, ok := values[hashAlg]
		if !ok {
			return nil, fmt.Errorf("TPM did not return any values for algorithm %s", alg.Name)
		}
		for _, pcr := range chunk {
			digest, ok := byIndex[pcr]
			if !ok {
				return nil, fmt.Errorf("TPM did not return a value for PCR %d", pcr)
			}
			if len(digest) != alg.Size {
				return nil, fmt.Errorf("TPM returned a %d byte digest for PCR %d, expected %d", len(digest), pcr, alg.Size)
			}
			out[pcr] = []byte(digest)
		}
	}

	return out, nil
}
