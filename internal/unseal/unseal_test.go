// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package unseal

import (
	"bytes"
	"testing"

	"github.com/canonical/go-tpm2"
	"github.com/canonical/go-tpm2/mu"
)

func TestDecodePolicyPCRPayloadRoundTrip(t *testing.T) {
	wantDigest := tpm2.Digest(bytes.Repeat([]byte{0x11}, 32))
	wantSelection := tpm2.PCRSelectionList{{Hash: tpm2.HashAlgorithmSHA256, Select: tpm2.PCRSelect{0, 7}}}

	data, err := mu.MarshalToBytes(wantDigest, wantSelection)
	if err != nil {
		t.Fatal(err)
	}

	digest, selection, err := decodePolicyPCRPayload(data)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(digest, wantDigest) {
		t.Fatalf("digest = %x, want %x", digest, wantDigest)
	}
	if len(selection) != 1 || selection[0].Hash != tpm2.HashAlgorithmSHA256 {
		t.Fatalf("unexpected selection: %+v", selection)
	}
}

func TestDecodePolicyPCRPayloadRejectsTrailingBytes(t *testing.T) {
	wantDigest := tpm2.Digest(bytes.Repeat([]byte{0x11}, 32))
	wantSelection := tpm2.PCRSelectionList{{Hash: tpm2.HashAlgorithmSHA256, Select: tpm2.PCRSelect{0}}}
	data, err := mu.MarshalToBytes(wantDigest, wantSelection)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := decodePolicyPCRPayload(append(data, 0x00)); err == nil {
		t.Fatal("expected a trailing byte to be rejected")
	}
}

func TestDecodePolicyAuthorizePayloadRoundTrip(t *testing.T) {
	pubkey := &tpm2.Public{
		Type:    tpm2.ObjectTypeRSA,
		NameAlg: tpm2.HashAlgorithmSHA256,
		Params: &tpm2.PublicParamsU{
			RSADetail: &tpm2.RSAParams{
				Scheme:  tpm2.RSAScheme{Scheme: tpm2.RSASchemeRSASSA, Details: &tpm2.AsymSchemeU{RSASSA: &tpm2.SigSchemeRSASSA{HashAlg: tpm2.HashAlgorithmSHA256}}},
				KeyBits: 2048,
			},
		},
		Unique: &tpm2.PublicIDU{RSA: bytes.Repeat([]byte{0x01}, 256)},
	}
	policyRef := tpm2.Digest(bytes.Repeat([]byte{0x22}, 32))
	sig := &tpm2.Signature{
		SigAlg: tpm2.SigSchemeAlgRSASSA,
		Signature: &tpm2.SignatureU{
			RSASSA: &tpm2.SignatureRSASSA{Hash: tpm2.HashAlgorithmSHA256, Sig: bytes.Repeat([]byte{0x33}, 256)},
		},
	}

	data, err := mu.MarshalToBytes(pubkey, policyRef, sig)
	if err != nil {
		t.Fatal(err)
	}

	gotPubkey, gotRef, gotSig, err := decodePolicyAuthorizePayload(data)
	if err != nil {
		t.Fatal(err)
	}
	if gotPubkey.Type != tpm2.ObjectTypeRSA {
		t.Fatal("decoded pubkey type mismatch")
	}
	if !bytes.Equal(gotRef, policyRef) {
		t.Fatal("decoded policy_ref mismatch")
	}
	if gotSig.SigAlg != tpm2.SigSchemeAlgRSASSA || !bytes.Equal(gotSig.Signature.RSASSA.Sig, sig.Signature.RSASSA.Sig) {
		t.Fatal("decoded signature mismatch")
	}
}

func TestDecodePolicyAuthorizePayloadRejectsGarbage(t *testing.T) {
	if _, _, _, err := decodePolicyAuthorizePayload([]byte{0x00, 0x01}); err == nil {
		t.Fatal("expected garbage input to be rejected")
	}
}

func TestSecretEraseZeroesBuffer(t *testing.T) {
	s := &Secret{buf: []byte{1, 2, 3, 4}}
	buf := s.Bytes()
	s.Erase()
	for _, b := range buf {
		if b != 0 {
			t.Fatal("expected Erase to zero the underlying buffer in place")
		}
	}
	if s.Bytes() != nil {
		t.Fatal("expected Erase to clear the Secret's buffer reference")
	}
}

func TestUnsealRejectsEmptyProgramList(t *testing.T) {
	d := &Driver{}
	if _, err := d.Unseal(&tpm2.Public{}, nil, nil); err == nil {
		t.Fatal("expected an empty program list to be rejected before touching the TPM")
	}
}
