// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package envelope

import (
	"encoding/asn1"
	"fmt"

	"github.com/canonical/go-tpm2"

	"github.com/canonical/pcr-oracle/internal/policyprog"
)

// OID arms for the two TPMKey forms this repository writes. These are the
// draft-bashir-tpm2-keys OIDs: tpmLoadableKey for an unauth (policy-only)
// key, tpmSealedData for one holding an arbitrary sealed secret.
var (
	oidLoadableKey = asn1.ObjectIdentifier{2, 23, 133, 10, 1, 3}
	oidSealedData  = asn1.ObjectIdentifier{2, 23, 133, 10, 1, 5}
)

// parentOwnerHandle is the persistent owner hierarchy handle every TPMKey
// this repository writes names as its parent.
const parentOwnerHandle = 0x40000001

type tpmKeyFile struct {
	Type       asn1.ObjectIdentifier
	EmptyAuth  bool                `asn1:"optional"`
	Policy     policyprog.Program  `asn1:"optional,tag:1"`
	AuthPolicy []authPolicyEntry   `asn1:"optional,tag:3"`
	Parent     int
	Pubkey     []byte
	Privkey    []byte
}

type authPolicyEntry struct {
	Name   string            `asn1:"optional"`
	Policy policyprog.Program
}

// TPM2KeyFile is the decoded shape of a TSSPRIVKEY DER structure.
type TPM2KeyFile struct {
	Public     *tpm2.Public
	Private    tpm2.Private
	Policy     policyprog.Program // set for the plain PCR-sealed form
	AuthPolicy []NamedAuthPolicy  // set for the authPolicy form
}

// NamedAuthPolicy is one entry of an authPolicy sequence: a name and the
// (always single-PolicyAuthorize-instruction) policy it carries.
type NamedAuthPolicy struct {
	Name   string
	Policy policyprog.Program
}

// EncodeTPM2KeyPCRSealed renders the plain PCR-policy TPM2 Key File form:
// a single PolicyPCR instruction over selection, no authPolicy entries.
func EncodeTPM2KeyPCRSealed(public *tpm2.Public, private tpm2.Private, selection tpm2.PCRSelectionList) ([]byte, error) {
	prog, err := PCRPolicyProgram(selection)
	if err != nil {
		return nil, err
	}
	return encodeTPM2Key(public, private, prog, nil)
}

// EncodeTPM2KeyAuthorized renders the authPolicy TPM2 Key File form: one
// named entry per (name, authorizing pubkey) pair, each a single
// PolicyAuthorize instruction.
func EncodeTPM2KeyAuthorized(public *tpm2.Public, private tpm2.Private, entries []NamedAuthPolicy) ([]byte, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("authPolicy TPM2 key file requires at least one named policy")
	}
	asn1Entries := make([]authPolicyEntry, len(entries))
	for i, e := range entries {
		asn1Entries[i] = authPolicyEntry{Name: e.Name, Policy: e.Policy}
	}
	return encodeTPM2Key(public, private, nil, asn1Entries)
}

func encodeTPM2Key(public *tpm2.Public, private tpm2.Private, policy policyprog.Program, authPolicy []authPolicyEntry) ([]byte, error) {
	pub, err := marshalPublic(public)
	if err != nil {
		return nil, err
	}
	priv, err := marshalPrivate(private)
	if err != nil {
		return nil, err
	}

	oid := oidLoadableKey
	if len(authPolicy) == 0 && len(policy) == 0 {
		oid = oidSealedData
	}

	key := tpmKeyFile{
		Type:       oid,
		EmptyAuth:  true,
		Policy:     policy,
		AuthPolicy: authPolicy,
		Parent:     parentOwnerHandle,
		Pubkey:     pub,
		Privkey:    priv,
	}
	der, err := asn1.Marshal(key)
	if err != nil {
		return nil, fmt.Errorf("cannot marshal TPM2 key file: %w", err)
	}
	return der, nil
}

// DecodeTPM2Key parses a TSSPRIVKEY DER structure produced by either
// EncodeTPM2KeyPCRSealed or EncodeTPM2KeyAuthorized.
func DecodeTPM2Key(der []byte) (*TPM2KeyFile, error) {
	var raw tpmKeyFile
	rest, err := asn1.Unmarshal(der, &raw)
	if err != nil {
		return nil, fmt.Errorf("cannot decode TPM2 key file: %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("TPM2 key file has %d trailing bytes", len(rest))
	}

	public, err := unmarshalPublic(raw.Pubkey)
	if err != nil {
		return nil, err
	}
	private, err := unmarshalPrivate(raw.Privkey)
	if err != nil {
		return nil, err
	}

	out := &TPM2KeyFile{Public: public, Private: private, Policy: raw.Policy}
	for _, e := range raw.AuthPolicy {
		out.AuthPolicy = append(out.AuthPolicy, NamedAuthPolicy{Name: e.Name, Policy: e.Policy})
	}
	if len(out.Policy) == 0 && len(out.AuthPolicy) == 0 {
		return nil, fmt.Errorf("TPM2 key file carries neither a policy nor an authPolicy sequence")
	}
	return out, nil
}

// Programs returns every candidate policy program this key file carries,
// in the order the unseal driver should try them: the plain PCR policy
// first if present, then one per authPolicy entry.
func (k *TPM2KeyFile) Programs() []policyprog.Program {
	var out []policyprog.Program
	if len(k.Policy) != 0 {
		out = append(out, k.Policy)
	}
	for _, e := range k.AuthPolicy {
		out = append(out, e.Policy)
	}
	return out
}
