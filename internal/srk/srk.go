// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

// Package srk provides the storage root key every sealed object in this
// repository is created or loaded under: the well-known persistent handle
// tried first, falling back to a transient primary, mirroring
// secboot/tpm2's tryPersistentSRK/tryTransientSRK unseal path.
package srk

import (
	"github.com/canonical/go-tpm2"
	"golang.org/x/xerrors"
)

// Handle is the well-known persistent handle a storage root key is
// conventionally provisioned at.
const Handle = 0x81000001

// Template is the RSA storage key template used to create a transient SRK
// when no persistent one is provisioned, matching the TCG PC Client
// profile's reference SRK (tcg.SRKTemplate in secboot/tpm2).
func Template() *tpm2.Public {
	return &tpm2.Public{
		Type:    tpm2.ObjectTypeRSA,
		NameAlg: tpm2.HashAlgorithmSHA256,
		Attrs: tpm2.AttrFixedTPM | tpm2.AttrFixedParent | tpm2.AttrSensitiveDataOrigin | tpm2.AttrUserWithAuth |
			tpm2.AttrNoDA | tpm2.AttrRestricted | tpm2.AttrDecrypt,
		Params: &tpm2.PublicParamsU{
			RSADetail: &tpm2.RSAParams{
				Symmetric: tpm2.SymDefObject{
					Algorithm: tpm2.SymObjectAlgorithmAES,
					KeyBits:   &tpm2.SymKeyBitsU{Sym: 128},
					Mode:      &tpm2.SymModeU{Sym: tpm2.SymModeCFB},
				},
				Scheme:   tpm2.RSAScheme{Scheme: tpm2.RSASchemeNull},
				KeyBits:  2048,
				Exponent: 0,
			},
		},
		Unique: &tpm2.PublicIDU{RSA: make(tpm2.PublicKeyRSA, 256)},
	}
}

// Load tries the persistent SRK at Handle first, falling back to creating a
// transient one under the owner hierarchy. The bool result reports whether
// the returned context is transient and must be flushed by the caller.
func Load(tpm *tpm2.TPMContext) (tpm2.ResourceContext, bool, error) {
	srk, err := tpm.CreateResourceContextFromTPM(tpm2.Handle(Handle))
	if err == nil {
		return srk, false, nil
	}

	srk, _, _, _, _, err = tpm.CreatePrimary(tpm.OwnerHandleContext(), nil, Template(), nil, nil, nil)
	if err != nil {
		return nil, false, xerrors.Errorf("no persistent SRK and cannot create a transient one: %w", err)
	}
	return srk, true, nil
}
