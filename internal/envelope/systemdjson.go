// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package envelope

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/canonical/go-tpm2"
)

// SystemdEntry is one element of a systemd-boot PCR signature JSON array:
// the PCR selection it covers, the signing key's fingerprint, the policy
// digest it authorizes, and the detached signature over that digest.
type SystemdEntry struct {
	PCRs []int  `json:"pcrs"`
	PKFP string `json:"pkfp"`
	Pol  string `json:"pol"`
	Sig  string `json:"sig"`
}

// SystemdDocument is the full systemd-boot PCR signature file: one entry
// array per algorithm name.
type SystemdDocument map[string][]SystemdEntry

// NewSystemdEntry builds an entry from its typed components.
func NewSystemdEntry(pcrs []int, pubkeyFingerprint, policyDigest, signature []byte) SystemdEntry {
	return SystemdEntry{
		PCRs: pcrs,
		PKFP: hex.EncodeToString(pubkeyFingerprint),
		Pol:  hex.EncodeToString(policyDigest),
		Sig:  base64.StdEncoding.EncodeToString(signature),
	}
}

// AddEntry inserts entry under algo, merging into an existing entry with
// the same pol (policy digest) rather than appending a duplicate.
func (d SystemdDocument) AddEntry(algo string, entry SystemdEntry) {
	for i, existing := range d[algo] {
		if existing.Pol == entry.Pol {
			d[algo][i] = entry
			return
		}
	}
	d[algo] = append(d[algo], entry)
}

// EncodeSystemdJSON renders the document as the JSON file systemd-boot
// reads.
func EncodeSystemdJSON(doc SystemdDocument) ([]byte, error) {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("cannot encode systemd PCR signature JSON: %w", err)
	}
	return b, nil
}

// DecodeSystemdJSON parses the JSON file systemd-boot reads.
func DecodeSystemdJSON(data []byte) (SystemdDocument, error) {
	var doc SystemdDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("cannot decode systemd PCR signature JSON: %w", err)
	}
	return doc, nil
}

// Digest decodes the hex policy digest carried by an entry, for use as the
// approvedPolicy argument to TPM2_PolicyAuthorize.
func (e SystemdEntry) Digest() (tpm2.Digest, error) {
	d, err := hex.DecodeString(e.Pol)
	if err != nil {
		return nil, fmt.Errorf("malformed pol hex in systemd entry: %w", err)
	}
	return tpm2.Digest(d), nil
}

// Signature decodes the base64 signature carried by an entry.
func (e SystemdEntry) Signature() ([]byte, error) {
	sig, err := base64.StdEncoding.DecodeString(e.Sig)
	if err != nil {
		return nil, fmt.Errorf("malformed sig base64 in systemd entry: %w", err)
	}
	return sig, nil
}
