// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

// Package platform implements the target-platform tagged variant: the
// three on-disk envelope shapes (legacy-grub, tpm2-key-file, systemd-json)
// and which of write_sealed_secret/write_signed_policy/unseal_secret each
// one supports. Dispatch is a plain switch over the tag, per the "tagged
// union variant and a matcher" redesign applied elsewhere to parsed events,
// rather than the source's function-pointer-per-variant struct.
package platform

import (
	"fmt"

	"github.com/canonical/go-tpm2"

	"github.com/canonical/pcr-oracle/internal/envelope"
	"github.com/canonical/pcr-oracle/internal/policyprog"
)

// Target is the tagged variant over the three envelope formats this
// repository writes and reads.
type Target int

const (
	LegacyGrub Target = iota
	TPM2KeyFile
	SystemdJSON
)

// Parse resolves a --target-platform flag value. The empty string selects
// the legacy format, matching the source's default.
func Parse(name string) (Target, error) {
	switch name {
	case "", "legacy-grub", "legacy", "oldgrub":
		return LegacyGrub, nil
	case "tpm2-key-file", "tpm2":
		return TPM2KeyFile, nil
	case "systemd-json", "systemd":
		return SystemdJSON, nil
	default:
		return 0, fmt.Errorf("unknown target platform %q", name)
	}
}

func (t Target) String() string {
	switch t {
	case LegacyGrub:
		return "legacy-grub"
	case TPM2KeyFile:
		return "tpm2-key-file"
	case SystemdJSON:
		return "systemd-json"
	default:
		return fmt.Sprintf("target(%d)", int(t))
	}
}

// Capability is a bit in a target's capability mask.
type Capability uint

const (
	NeedsInputFile Capability = 1 << iota
	NeedsOutputFile
	NeedsPCRSelection
)

// Has reports whether bit is set in c.
func (c Capability) Has(bit Capability) bool { return c&bit != 0 }

// Capabilities returns the capability mask a target requires from its CLI
// command. systemd-json has no --input blob of its own: policy-sign-systemd
// derives its signed digest from a PCR bank predicted by replaying the
// event log and a private key, not from a caller-supplied blob.
func (t Target) Capabilities() Capability {
	switch t {
	case LegacyGrub, TPM2KeyFile:
		return NeedsInputFile | NeedsOutputFile | NeedsPCRSelection
	case SystemdJSON:
		return NeedsOutputFile | NeedsPCRSelection
	default:
		return 0
	}
}

// SealedSecretInput bundles what WriteSealedSecret needs. Exactly one of
// Selection or AuthPolicy is populated: Selection for a plain PCR-sealed
// secret, AuthPolicy for one indirected through an authorized policy.
type SealedSecretInput struct {
	Public     *tpm2.Public
	Private    tpm2.Private
	Selection  tpm2.PCRSelectionList
	AuthPolicy []envelope.NamedAuthPolicy
}

// WriteSealedSecret renders in as the target's sealed-secret envelope.
// systemd-json has no sealed-secret shape at all: it carries PCR signatures
// for systemd-boot/systemd-pcrlock to verify against, never a TPM-sealed
// blob of its own, so this slot is unsupported for that target.
func (t Target) WriteSealedSecret(in SealedSecretInput) ([]byte, error) {
	switch t {
	case LegacyGrub:
		return envelope.EncodeLegacySealedSecret(in.Public, in.Private)
	case TPM2KeyFile:
		if len(in.AuthPolicy) > 0 {
			return envelope.EncodeTPM2KeyAuthorized(in.Public, in.Private, in.AuthPolicy)
		}
		return envelope.EncodeTPM2KeyPCRSealed(in.Public, in.Private, in.Selection)
	case SystemdJSON:
		return nil, fmt.Errorf("%s: does not support sealed secrets, only policy signatures", t)
	default:
		return nil, fmt.Errorf("unknown target platform %d", int(t))
	}
}

// WriteSignedPolicy renders sig as the target's standalone signed-policy
// artifact.
//
// tpm2-key-file has no standalone signed-policy shape: a TSSPRIVKEY
// structure always carries a sealed Public/Private pair alongside its
// policy, so a signature destined for that format is embedded as an
// authPolicy entry via WriteSealedSecret instead of written on its own.
//
// systemd-json's write_signed_policy is an acknowledged gap carried over
// unimplemented from the source; policy-sign-systemd reaches the codec
// directly instead of going through sign-policy --target-platform systemd.
func (t Target) WriteSignedPolicy(sig *tpm2.Signature) ([]byte, error) {
	switch t {
	case LegacyGrub:
		return envelope.EncodeLegacySignedPolicy(sig)
	case TPM2KeyFile:
		return nil, fmt.Errorf("%s: has no standalone signed-policy shape; embed the authPolicy entry via write_sealed_secret instead", t)
	case SystemdJSON:
		return nil, fmt.Errorf("%s: write_signed_policy is not implemented; use policy-sign-systemd", t)
	default:
		return nil, fmt.Errorf("unknown target platform %d", int(t))
	}
}

// DecodedSealedSecret is a target-neutral view of a sealed-secret envelope:
// the object to load and the candidate policy programs the unseal driver
// should try, in order.
type DecodedSealedSecret struct {
	Public   *tpm2.Public
	Private  tpm2.Private
	Programs []policyprog.Program
}

// DecodeSealedSecret auto-detects between the two formats unseal-secret
// accepts (tpm2-key-file's DER structure, or the legacy concatenated blob)
// and returns a target-neutral view. unseal-secret's CLI surface has no
// --target-platform flag, only --algo/--pcrs, because the legacy format
// embeds no policy program of its own — selection reconstructs the single
// PolicyPCR instruction the legacy format relies on its baked
// Public.AuthPolicy to satisfy. A tpm2-key-file envelope ignores selection
// entirely: its own stored program already names the selection it was
// sealed against.
func DecodeSealedSecret(data []byte, selection tpm2.PCRSelectionList) (*DecodedSealedSecret, error) {
	if keyFile, err := envelope.DecodeTPM2Key(data); err == nil {
		return &DecodedSealedSecret{
			Public:   keyFile.Public,
			Private:  keyFile.Private,
			Programs: keyFile.Programs(),
		}, nil
	}

	public, private, err := envelope.DecodeLegacySealedSecret(data)
	if err != nil {
		return nil, fmt.Errorf("sealed secret envelope matches neither the tpm2-key-file nor the legacy format: %w", err)
	}
	prog, err := envelope.PCRPolicyProgram(selection)
	if err != nil {
		return nil, err
	}
	return &DecodedSealedSecret{
		Public:   public,
		Private:  private,
		Programs: []policyprog.Program{prog},
	}, nil
}
