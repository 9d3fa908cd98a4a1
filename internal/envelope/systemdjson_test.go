// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package envelope

import (
	"bytes"

	"gopkg.in/check.v1"
)

type systemdJSONSuite struct{}

var _ = check.Suite(&systemdJSONSuite{})

func (s *systemdJSONSuite) TestSystemdEntryDigestAndSignatureRoundTrip(c *check.C) {
	fingerprint := bytes.Repeat([]byte{0x11}, 32)
	digest := bytes.Repeat([]byte{0x22}, 32)
	sig := bytes.Repeat([]byte{0x33}, 256)

	entry := NewSystemdEntry([]int{0, 2, 4, 7}, fingerprint, digest, sig)

	gotDigest, err := entry.Digest()
	c.Assert(err, check.IsNil)
	c.Check(gotDigest, check.DeepEquals, digest)

	gotSig, err := entry.Signature()
	c.Assert(err, check.IsNil)
	c.Check(gotSig, check.DeepEquals, sig)
}

func (s *systemdJSONSuite) TestAddEntryMergesOnMatchingPolicyDigest(c *check.C) {
	doc := SystemdDocument{}
	digest := bytes.Repeat([]byte{0x01}, 32)

	first := NewSystemdEntry([]int{0}, bytes.Repeat([]byte{0xAA}, 32), digest, []byte("sig1"))
	doc.AddEntry("sha256", first)
	c.Assert(doc["sha256"], check.HasLen, 1)

	second := NewSystemdEntry([]int{0, 7}, bytes.Repeat([]byte{0xBB}, 32), digest, []byte("sig2"))
	doc.AddEntry("sha256", second)
	c.Assert(doc["sha256"], check.HasLen, 1)
	c.Check(doc["sha256"][0].Sig, check.Equals, second.Sig)
}

func (s *systemdJSONSuite) TestAddEntryAppendsOnDifferentPolicyDigest(c *check.C) {
	doc := SystemdDocument{}
	doc.AddEntry("sha256", NewSystemdEntry([]int{0}, nil, bytes.Repeat([]byte{0x01}, 32), nil))
	doc.AddEntry("sha256", NewSystemdEntry([]int{0}, nil, bytes.Repeat([]byte{0x02}, 32), nil))
	c.Assert(doc["sha256"], check.HasLen, 2)
}

func (s *systemdJSONSuite) TestSystemdJSONEncodeDecodeRoundTrip(c *check.C) {
	doc := SystemdDocument{}
	doc.AddEntry("sha256", NewSystemdEntry([]int{0, 7}, bytes.Repeat([]byte{0x04}, 32), bytes.Repeat([]byte{0x05}, 32), []byte("sig")))

	encoded, err := EncodeSystemdJSON(doc)
	c.Assert(err, check.IsNil)

	decoded, err := DecodeSystemdJSON(encoded)
	c.Assert(err, check.IsNil)
	c.Assert(decoded["sha256"], check.HasLen, 1)
	c.Check(decoded["sha256"][0].Pol, check.Equals, doc["sha256"][0].Pol)
}

func (s *systemdJSONSuite) TestDecodeSystemdJSONRejectsGarbage(c *check.C) {
	_, err := DecodeSystemdJSON([]byte("not json"))
	c.Check(err, check.NotNil)
}
