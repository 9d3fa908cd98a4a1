// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

// Package policy builds the two TPM policy digests this repository seals
// secrets under: a plain pcr_policy digest, and an authorized_policy digest
// that lets a detached signature re-authorize a pcr_policy computed later.
// Both are driven through TPM trial sessions, mirroring the trial-session
// sequencing in efibootmgr's computePCRProtectionProfile.
package policy

import (
	"crypto/sha256"
	"fmt"

	"github.com/canonical/go-tpm2"
	"golang.org/x/xerrors"

	"github.com/canonical/pcr-oracle/internal/pcrbank"
	"github.com/canonical/pcr-oracle/internal/rsakey"
)

// trialSessionSymmetric is the AES-128 CFB parameter-encryption algorithm
// every trial session in this package is started with, per spec.
var trialSessionSymmetric = &tpm2.SymDef{
	Algorithm: tpm2.SymAlgorithmAES,
	KeyBits:   &tpm2.SymKeyBitsU{Sym: 128},
	Mode:      &tpm2.SymModeU{Sym: tpm2.SymModeCFB},
}

// Builder drives policy-digest computation against a live TPM. It holds no
// session state between calls; each method opens and flushes its own trial
// session.
type Builder struct {
	TPM *tpm2.TPMContext
}

// withTrialSession runs fn with a freshly started trial session, flushing
// it on every exit path.
func (b *Builder) withTrialSession(fn func(session tpm2.SessionContext) error) error {
	session, err := b.TPM.StartAuthSession(nil, nil, tpm2.SessionTypeTrial, trialSessionSymmetric, tpm2.HashAlgorithmSHA256)
	if err != nil {
		return xerrors.Errorf("cannot start trial session: %w", err)
	}
	defer b.TPM.FlushContext(session)

	return fn(session)
}

// PCRPolicy computes the policy digest binding a sealed object to every
// valid register of bank: a TPML_PCR_SELECTION over bank's valid registers
// in ascending order, the SHA-256 digest of their concatenated values, and
// the TPM2_PolicyPCR/TPM2_PolicyGetDigest result of asserting that pair on
// a trial session.
func (b *Builder) PCRPolicy(bank *pcrbank.Bank) (tpm2.Digest, error) {
	selection, pcrDigest, err := selectionAndDigest(bank)
	if err != nil {
		return nil, err
	}

	var result tpm2.Digest
	err = b.withTrialSession(func(session tpm2.SessionContext) error {
		if err := b.TPM.PolicyPCR(session, pcrDigest, selection); err != nil {
			return xerrors.Errorf("TPM2_PolicyPCR failed: %w", err)
		}
		digest, err := b.TPM.PolicyGetDigest(session)
		if err != nil {
			return xerrors.Errorf("TPM2_PolicyGetDigest failed: %w", err)
		}
		result = digest
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AuthorizedPolicy computes the policy digest that authorizes pubkey to
// re-authorize any pcr_policy digest it signs, via TPM2_PolicyAuthorize
// with an empty policy_ref.
func (b *Builder) AuthorizedPolicy(pubkey *tpm2.Public) (tpm2.Digest, error) {
	keyContext, err := b.TPM.LoadExternal(nil, pubkey, tpm2.HandleOwner)
	if err != nil {
		return nil, xerrors.Errorf("cannot load public key under owner hierarchy: %w", err)
	}
	defer b.TPM.FlushContext(keyContext)

	name := keyContext.Name()

	var result tpm2.Digest
	err = b.withTrialSession(func(session tpm2.SessionContext) error {
		// A trial session never holds a real approved-policy value yet
		// (that is produced later against the actual pcr_policy digest);
		// here we only need the PolicyAuthorize assertion recorded so the
		// digest reflects "authorized by this key, no policy_ref".
		dummyApproved := make(tpm2.Digest, sha256.Size)
		if err := b.TPM.PolicyAuthorize(session, dummyApproved, nil, name, nil); err != nil {
			return xerrors.Errorf("TPM2_PolicyAuthorize failed: %w", err)
		}
		digest, err := b.TPM.PolicyGetDigest(session)
		if err != nil {
			return xerrors.Errorf("TPM2_PolicyGetDigest failed: %w", err)
		}
		result = digest
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Sign produces the RSASSA/SHA-256 signature over a pcr_policy digest —
// the signed artifact is always the plain PCR-policy digest, never the
// authorized-policy digest it unlocks.
func Sign(key *rsakey.Key, pcrDigest tpm2.Digest) ([]byte, error) {
	sig, err := key.Sign(pcrDigest)
	if err != nil {
		return nil, fmt.Errorf("cannot sign pcr-policy digest: %w", err)
	}
	return sig, nil
}

// BuildSignature wraps a raw RSASSA/SHA-256 signature (as produced by Sign)
// in the TPMT_SIGNATURE shape the envelope codecs and unseal driver pass
// to/from the TPM. This repository never produces any other signature
// scheme, so the SigAlg/Hash arms are fixed.
func BuildSignature(sigBytes []byte) *tpm2.Signature {
	return &tpm2.Signature{
		SigAlg: tpm2.SigSchemeAlgRSASSA,
		Signature: &tpm2.SignatureU{
			RSASSA: &tpm2.SignatureRSASSA{
				Hash: tpm2.HashAlgorithmSHA256,
				Sig:  sigBytes,
			},
		},
	}
}

// SignatureBytes extracts the raw signature bytes and hash algorithm from
// a TPMT_SIGNATURE built by BuildSignature.
func SignatureBytes(sig *tpm2.Signature) ([]byte, tpm2.HashAlgorithmId, error) {
	if sig.SigAlg != tpm2.SigSchemeAlgRSASSA || sig.Signature == nil || sig.Signature.RSASSA == nil {
		return nil, 0, fmt.Errorf("unsupported signature scheme %v", sig.SigAlg)
	}
	return sig.Signature.RSASSA.Sig, sig.Signature.RSASSA.Hash, nil
}

// selectionAndDigest builds the TPML_PCR_SELECTION over bank's valid
// registers and the SHA-256 digest of their concatenated values, both in
// ascending PCR index order.
func selectionAndDigest(bank *pcrbank.Bank) (tpm2.PCRSelectionList, tpm2.Digest, error) {
	var pcrs []int
	for i := 0; i < pcrbank.NumPCRs; i++ {
		if bank.Valid(i) {
			pcrs = append(pcrs, i)
		}
	}
	if len(pcrs) == 0 {
		return nil, nil, fmt.Errorf("pcr bank has no valid registers to build a policy over")
	}

	h := sha256.New()
	for _, pcr := range pcrs {
		h.Write(bank.Value(pcr))
	}

	selection := tpm2.PCRSelectionList{{
		Hash:   tpm2.HashAlgorithmId(bank.Alg.ID),
		Select: tpm2.PCRSelect(pcrs),
	}}
	return selection, h.Sum(nil), nil
}
