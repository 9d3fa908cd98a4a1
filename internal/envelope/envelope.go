// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

// Package envelope implements the three on-disk sealed-secret/policy
// formats this repository writes and reads: the legacy concatenated-blob
// format, the TPM 2.0 Key File ASN.1 structure, and the systemd-boot JSON
// format. All three carry the same underlying TPM2B_PUBLIC/TPM2B_PRIVATE/
// TPMT_SIGNATURE payloads produced elsewhere (internal/policy,
// internal/tpmclient); this package only knows how to frame and parse them.
package envelope

import (
	"encoding/binary"
	"fmt"

	"github.com/canonical/go-tpm2"
	"github.com/canonical/go-tpm2/mu"

	"github.com/canonical/pcr-oracle/internal/policyprog"
)

// tpm2bLen reads the 2-byte big-endian TPM2B size prefix at the start of
// buf and returns the total length of the framed value (the 2-byte prefix
// plus the payload it announces). TPM2B framing is
// fixed by the TPM 2.0 wire format regardless of the payload's Go type, so
// this does not depend on knowing the exact struct behind the blob.
func tpm2bLen(buf []byte) (int, error) {
	if len(buf) < 2 {
		return 0, fmt.Errorf("truncated TPM2B size prefix")
	}
	size := binary.BigEndian.Uint16(buf)
	if len(buf) < 2+int(size) {
		return 0, fmt.Errorf("truncated TPM2B payload: want %d bytes, have %d", size, len(buf)-2)
	}
	return 2 + int(size), nil
}

// splitTPM2B consumes one TPM2B-framed value from the front of buf and
// returns it along with the remainder.
func splitTPM2B(buf []byte) (chunk, rest []byte, err error) {
	n, err := tpm2bLen(buf)
	if err != nil {
		return nil, nil, err
	}
	return buf[:n], buf[n:], nil
}

// marshalPublic renders a bare TPM2B_PUBLIC. The TPM2 Key File format
// stores it on its own; marshalPublicPrivate below concatenates it with the
// TPM2B_PRIVATE for the legacy format.
func marshalPublic(public *tpm2.Public) ([]byte, error) {
	b, err := mu.MarshalToBytes(public)
	if err != nil {
		return nil, fmt.Errorf("cannot marshal public area: %w", err)
	}
	return b, nil
}

func marshalPrivate(private tpm2.Private) ([]byte, error) {
	b, err := mu.MarshalToBytes(private)
	if err != nil {
		return nil, fmt.Errorf("cannot marshal private area: %w", err)
	}
	return b, nil
}

func unmarshalPublic(data []byte) (*tpm2.Public, error) {
	var public *tpm2.Public
	n, err := mu.UnmarshalFromBytes(data, &public)
	if err != nil {
		return nil, fmt.Errorf("cannot unmarshal public area: %w", err)
	}
	if n != len(data) {
		return nil, fmt.Errorf("%d trailing bytes after public area", len(data)-n)
	}
	return public, nil
}

func unmarshalPrivate(data []byte) (tpm2.Private, error) {
	var private tpm2.Private
	n, err := mu.UnmarshalFromBytes(data, &private)
	if err != nil {
		return nil, fmt.Errorf("cannot unmarshal private area: %w", err)
	}
	if n != len(data) {
		return nil, fmt.Errorf("%d trailing bytes after private area", len(data)-n)
	}
	return private, nil
}

func marshalPublicPrivate(public *tpm2.Public, private tpm2.Private) ([]byte, error) {
	pub, err := marshalPublic(public)
	if err != nil {
		return nil, err
	}
	priv, err := marshalPrivate(private)
	if err != nil {
		return nil, err
	}
	return append(pub, priv...), nil
}

// unmarshalPublicPrivate is the inverse of marshalPublicPrivate.
func unmarshalPublicPrivate(data []byte) (*tpm2.Public, tpm2.Private, error) {
	pubBytes, rest, err := splitTPM2B(data)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot split public area: %w", err)
	}
	public, err := unmarshalPublic(pubBytes)
	if err != nil {
		return nil, nil, err
	}

	privBytes, trailing, err := splitTPM2B(rest)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot split private area: %w", err)
	}
	if len(trailing) != 0 {
		return nil, nil, fmt.Errorf("%d trailing bytes after public/private areas", len(trailing))
	}
	private, err := unmarshalPrivate(privBytes)
	if err != nil {
		return nil, nil, err
	}

	return public, private, nil
}

// marshalSignature renders a bare TPMT_SIGNATURE, as used by the legacy
// signed-policy file and embedded inside authPolicy entries.
func marshalSignature(sig *tpm2.Signature) ([]byte, error) {
	b, err := mu.MarshalToBytes(sig)
	if err != nil {
		return nil, fmt.Errorf("cannot marshal signature: %w", err)
	}
	return b, nil
}

func unmarshalSignature(data []byte) (*tpm2.Signature, error) {
	var sig *tpm2.Signature
	n, err := mu.UnmarshalFromBytes(data, &sig)
	if err != nil {
		return nil, fmt.Errorf("cannot unmarshal signature: %w", err)
	}
	if n != len(data) {
		return nil, fmt.Errorf("%d trailing bytes after signature", len(data)-n)
	}
	return sig, nil
}

// PCRPolicyProgram builds the single-instruction program used by both the
// legacy and TPM2 Key File "policy" (pure PCR, no authorize step) form:
// Marshal(TPM2B_DIGEST empty) || Marshal(TPML_PCR_SELECTION). Callers
// driving the legacy format (which embeds no program of its own) use this
// to reconstruct the program from an explicit --algo/--pcrs selection.
func PCRPolicyProgram(selection tpm2.PCRSelectionList) (policyprog.Program, error) {
	emptyDigest, err := mu.MarshalToBytes(tpm2.Digest(nil))
	if err != nil {
		return nil, fmt.Errorf("cannot marshal empty digest: %w", err)
	}
	sel, err := mu.MarshalToBytes(selection)
	if err != nil {
		return nil, fmt.Errorf("cannot marshal pcr selection: %w", err)
	}
	return policyprog.Program{{
		CommandCode:   policyprog.CommandCodePolicyPCR,
		CommandPolicy: append(emptyDigest, sel...),
	}}, nil
}

// AuthorizePolicyProgram builds the single-instruction program used by the
// authPolicy form: Marshal(TPM2B_PUBLIC) || Marshal(TPM2B_DIGEST
// policy_ref) || Marshal(TPMT_SIGNATURE).
func AuthorizePolicyProgram(pubkey *tpm2.Public, policyRef tpm2.Nonce, sig *tpm2.Signature) (policyprog.Program, error) {
	pub, err := mu.MarshalToBytes(pubkey)
	if err != nil {
		return nil, fmt.Errorf("cannot marshal authorizing public key: %w", err)
	}
	ref, err := mu.MarshalToBytes(tpm2.Digest(policyRef))
	if err != nil {
		return nil, fmt.Errorf("cannot marshal policy_ref: %w", err)
	}
	sigBytes, err := marshalSignature(sig)
	if err != nil {
		return nil, err
	}
	payload := append(append(pub, ref...), sigBytes...)
	return policyprog.Program{{
		CommandCode:   policyprog.CommandCodePolicyAuthorize,
		CommandPolicy: payload,
	}}, nil
}
