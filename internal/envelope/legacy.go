// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package envelope

import (
	"fmt"

	"github.com/canonical/go-tpm2"
)

// EncodeLegacySealedSecret renders the oldgrub sealed-secret file: the bare
// concatenation of the marshalled public and private areas. The policy
// itself lives inside public.AuthPolicy, baked in at seal time; the legacy
// format carries no separate policy program.
func EncodeLegacySealedSecret(public *tpm2.Public, private tpm2.Private) ([]byte, error) {
	return marshalPublicPrivate(public, private)
}

// DecodeLegacySealedSecret parses the oldgrub sealed-secret file.
func DecodeLegacySealedSecret(data []byte) (*tpm2.Public, tpm2.Private, error) {
	return unmarshalPublicPrivate(data)
}

// EncodeLegacySignedPolicy renders the oldgrub signed-policy file: a bare
// marshalled TPMT_SIGNATURE.
func EncodeLegacySignedPolicy(sig *tpm2.Signature) ([]byte, error) {
	return marshalSignature(sig)
}

// DecodeLegacySignedPolicy parses the oldgrub signed-policy file.
func DecodeLegacySignedPolicy(data []byte) (*tpm2.Signature, error) {
	sig, err := unmarshalSignature(data)
	if err != nil {
		return nil, fmt.Errorf("legacy signed policy file: %w", err)
	}
	return sig, nil
}
