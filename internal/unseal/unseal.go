// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

// Package unseal drives the TPM through an envelope's stored policy
// program and unseals the secret it protects, mirroring the SRK-load and
// policy-session structure of secboot/tpm2's loadForUnseal/UnsealFromTPM.
package unseal

import (
	"fmt"

	"github.com/canonical/go-tpm2"
	"github.com/canonical/go-tpm2/mu"
	"golang.org/x/xerrors"

	"github.com/canonical/pcr-oracle/internal/policy"
	"github.com/canonical/pcr-oracle/internal/policyprog"
	"github.com/canonical/pcr-oracle/internal/srk"
)

// Driver unseals sealed objects against a live TPM connection.
type Driver struct {
	TPM *tpm2.TPMContext
}

// Secret holds an unsealed payload in a buffer the caller must Erase once
// it is no longer needed.
type Secret struct {
	buf []byte
}

// Bytes returns the unsealed payload.
func (s *Secret) Bytes() []byte { return s.buf }

// Erase zeroes the buffer in place, per spec.md's secret-erasing output
// buffer requirement.
func (s *Secret) Erase() {
	for i := range s.buf {
		s.buf[i] = 0
	}
	s.buf = nil
}

func (d *Driver) loadSealedObject(public *tpm2.Public, private tpm2.Private) (tpm2.ResourceContext, error) {
	srkContext, transient, err := srk.Load(d.TPM)
	if err != nil {
		return nil, err
	}
	if transient {
		defer d.TPM.FlushContext(srkContext)
	}

	obj, err := d.TPM.Load(srkContext, private, public)
	if err != nil {
		return nil, xerrors.Errorf("cannot load sealed object: %w", err)
	}
	return obj, nil
}

func decodePolicyPCRPayload(data []byte) (tpm2.Digest, tpm2.PCRSelectionList, error) {
	var digest tpm2.Digest
	var selection tpm2.PCRSelectionList
	n, err := mu.UnmarshalFromBytes(data, &digest, &selection)
	if err != nil {
		return nil, nil, fmt.Errorf("malformed PolicyPCR instruction payload: %w", err)
	}
	if n != len(data) {
		return nil, nil, fmt.Errorf("PolicyPCR instruction payload has %d trailing bytes", len(data)-n)
	}
	return digest, selection, nil
}

func decodePolicyAuthorizePayload(data []byte) (*tpm2.Public, tpm2.Digest, *tpm2.Signature, error) {
	var pubkey *tpm2.Public
	var policyRef tpm2.Digest
	var sig *tpm2.Signature
	n, err := mu.UnmarshalFromBytes(data, &pubkey, &policyRef, &sig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("malformed PolicyAuthorize instruction payload: %w", err)
	}
	if n != len(data) {
		return nil, nil, nil, fmt.Errorf("PolicyAuthorize instruction payload has %d trailing bytes", len(data)-n)
	}
	return pubkey, policyRef, sig, nil
}

// executePolicyAuthorize implements spec.md §4.7 step 4's PolicyAuthorize
// branch: hash the session's current digest plus policy_ref under the
// signature's own hash algorithm, verify the signature against a
// LoadExternal'd copy of pubkey, then assert PolicyAuthorize with the
// resulting ticket.
func (d *Driver) executePolicyAuthorize(session tpm2.SessionContext, pubkey *tpm2.Public, policyRef tpm2.Digest, sig *tpm2.Signature) error {
	approved, err := d.TPM.PolicyGetDigest(session)
	if err != nil {
		return xerrors.Errorf("cannot read current policy digest: %w", err)
	}

	_, hashAlg, err := policy.SignatureBytes(sig)
	if err != nil {
		return err
	}
	h := hashAlg.NewHash()
	h.Write(approved)
	h.Write(policyRef)

	keyContext, err := d.TPM.LoadExternal(nil, pubkey, tpm2.HandleOwner)
	if err != nil {
		return xerrors.Errorf("cannot load authorizing public key: %w", err)
	}
	defer d.TPM.FlushContext(keyContext)

	ticket, err := d.TPM.VerifySignature(keyContext, h.Sum(nil), sig)
	if err != nil {
		return xerrors.Errorf("cannot verify authorized-policy signature: %w", err)
	}

	if err := d.TPM.PolicyAuthorize(session, approved, tpm2.Nonce(policyRef), keyContext.Name(), ticket); err != nil {
		return xerrors.Errorf("TPM2_PolicyAuthorize failed: %w", err)
	}
	return nil
}

func (d *Driver) executeProgram(session tpm2.SessionContext, prog policyprog.Program) error {
	for i, inst := range prog {
		switch inst.CommandCode {
		case policyprog.CommandCodePolicyPCR:
			digest, selection, err := decodePolicyPCRPayload(inst.CommandPolicy)
			if err != nil {
				return fmt.Errorf("instruction %d: %w", i, err)
			}
			if err := d.TPM.PolicyPCR(session, digest, selection); err != nil {
				return xerrors.Errorf("instruction %d: TPM2_PolicyPCR failed: %w", i, err)
			}

		case policyprog.CommandCodePolicyAuthorize:
			pubkey, policyRef, sig, err := decodePolicyAuthorizePayload(inst.CommandPolicy)
			if err != nil {
				return fmt.Errorf("instruction %d: %w", i, err)
			}
			if err := d.executePolicyAuthorize(session, pubkey, policyRef, sig); err != nil {
				return fmt.Errorf("instruction %d: %w", i, err)
			}

		default:
			return fmt.Errorf("instruction %d: unsupported opcode %#x", i, int32(inst.CommandCode))
		}
	}
	return nil
}

// unsealOne runs the full load/policy-session/unseal sequence for one
// candidate policy program, flushing every handle it creates on every exit
// path.
func (d *Driver) unsealOne(public *tpm2.Public, private tpm2.Private, prog policyprog.Program) (*Secret, error) {
	obj, err := d.loadSealedObject(public, private)
	if err != nil {
		return nil, err
	}
	defer d.TPM.FlushContext(obj)

	session, err := d.TPM.StartAuthSession(nil, nil, tpm2.SessionTypePolicy, nil, public.NameAlg)
	if err != nil {
		return nil, xerrors.Errorf("cannot start policy session: %w", err)
	}
	defer d.TPM.FlushContext(session)

	if err := d.executeProgram(session, prog); err != nil {
		return nil, err
	}

	secretData, err := d.TPM.Unseal(obj, session)
	if err != nil {
		return nil, xerrors.Errorf("TPM2_Unseal failed: %w", err)
	}
	return &Secret{buf: []byte(secretData)}, nil
}

// Unseal tries every candidate policy program against the same sealed
// object in order, succeeding on the first that unseals — the behaviour
// spec.md §4.7 requires for envelopes with multiple named authPolicy
// entries. A single-program envelope is just the len-1 case. Every program
// is checked with Validate first: an unsupported opcode in any of them fails
// the whole call before the TPM is touched.
func (d *Driver) Unseal(public *tpm2.Public, private tpm2.Private, programs []policyprog.Program) (*Secret, error) {
	if len(programs) == 0 {
		return nil, fmt.Errorf("no policy program to unseal with")
	}
	for i, prog := range programs {
		if err := prog.Validate(); err != nil {
			return nil, fmt.Errorf("policy program %d: %w", i, err)
		}
	}

	var lastErr error
	for _, prog := range programs {
		secret, err := d.unsealOne(public, private, prog)
		if err == nil {
			return secret, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no policy program unsealed the object: %w", lastErr)
}
