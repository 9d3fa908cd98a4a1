// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package envelope

import (
	"bytes"
	"testing"

	"github.com/canonical/go-tpm2"
	"gopkg.in/check.v1"

	"github.com/canonical/pcr-oracle/internal/policy"
)

func Test(t *testing.T) { check.TestingT(t) }

func testSealedObject() (*tpm2.Public, tpm2.Private) {
	public := &tpm2.Public{
		Type:       tpm2.ObjectTypeKeyedHash,
		NameAlg:    tpm2.HashAlgorithmSHA256,
		Attrs:      tpm2.AttrFixedTPM | tpm2.AttrFixedParent,
		AuthPolicy: bytes.Repeat([]byte{0x42}, 32),
		Params: &tpm2.PublicParamsU{
			KeyedHashDetail: &tpm2.KeyedHashParams{
				Scheme: tpm2.KeyedHashScheme{Scheme: tpm2.KeyedHashSchemeNull},
			},
		},
	}
	private := tpm2.Private(bytes.Repeat([]byte{0x99}, 64))
	return public, private
}

type legacySuite struct{}

var _ = check.Suite(&legacySuite{})

func (s *legacySuite) TestLegacySealedSecretRoundTrip(c *check.C) {
	public, private := testSealedObject()

	blob, err := EncodeLegacySealedSecret(public, private)
	c.Assert(err, check.IsNil)

	gotPublic, gotPrivate, err := DecodeLegacySealedSecret(blob)
	c.Assert(err, check.IsNil)

	c.Check(gotPublic.NameAlg, check.Equals, public.NameAlg)
	c.Check(gotPublic.Type, check.Equals, public.Type)
	c.Check(gotPublic.AuthPolicy, check.DeepEquals, public.AuthPolicy)
	c.Check([]byte(gotPrivate), check.DeepEquals, []byte(private))
}

func (s *legacySuite) TestLegacySealedSecretRejectsTrailingBytes(c *check.C) {
	public, private := testSealedObject()
	blob, err := EncodeLegacySealedSecret(public, private)
	c.Assert(err, check.IsNil)
	_, _, err = DecodeLegacySealedSecret(append(blob, 0x00))
	c.Check(err, check.NotNil)
}

func (s *legacySuite) TestLegacySignedPolicyRoundTrip(c *check.C) {
	sig := policy.BuildSignature(bytes.Repeat([]byte{0x7E}, 256))

	blob, err := EncodeLegacySignedPolicy(sig)
	c.Assert(err, check.IsNil)

	got, err := DecodeLegacySignedPolicy(blob)
	c.Assert(err, check.IsNil)

	sigBytes, hashAlg, err := policy.SignatureBytes(got)
	c.Assert(err, check.IsNil)
	c.Check(hashAlg, check.Equals, tpm2.HashAlgorithmSHA256)
	c.Check(sigBytes, check.DeepEquals, bytes.Repeat([]byte{0x7E}, 256))
}

func (s *legacySuite) TestDecodeLegacySignedPolicyRejectsGarbage(c *check.C) {
	_, err := DecodeLegacySignedPolicy([]byte{0x00, 0x01, 0x02})
	c.Check(err, check.NotNil)
}
