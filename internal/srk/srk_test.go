// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package srk

import (
	"testing"

	"github.com/canonical/go-tpm2"
)

func TestTemplateShape(t *testing.T) {
	tmpl := Template()

	if tmpl.Type != tpm2.ObjectTypeRSA {
		t.Fatalf("Type = %v, want ObjectTypeRSA", tmpl.Type)
	}
	if tmpl.NameAlg != tpm2.HashAlgorithmSHA256 {
		t.Fatalf("NameAlg = %v, want SHA256", tmpl.NameAlg)
	}
	want := tpm2.AttrFixedTPM | tpm2.AttrFixedParent | tpm2.AttrSensitiveDataOrigin | tpm2.AttrUserWithAuth |
		tpm2.AttrNoDA | tpm2.AttrRestricted | tpm2.AttrDecrypt
	if tmpl.Attrs != want {
		t.Fatalf("Attrs = %v, want %v", tmpl.Attrs, want)
	}
	if tmpl.Params.RSADetail.KeyBits != 2048 {
		t.Fatalf("KeyBits = %d, want 2048", tmpl.Params.RSADetail.KeyBits)
	}
	if tmpl.Params.RSADetail.Scheme.Scheme != tpm2.RSASchemeNull {
		t.Fatal("expected a null RSA scheme (storage key, not a signing key)")
	}
	if len(tmpl.Unique.RSA) != 256 {
		t.Fatalf("Unique.RSA length = %d, want 256", len(tmpl.Unique.RSA))
	}
}

func TestTemplateProducesFreshCopyEachCall(t *testing.T) {
	a := Template()
	b := Template()
	a.Unique.RSA[0] = 0xff
	if b.Unique.RSA[0] == 0xff {
		t.Fatal("expected Template() to return an independent copy on each call")
	}
}
