// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package envelope

import (
	"bytes"

	"github.com/canonical/go-tpm2"
	"gopkg.in/check.v1"

	"github.com/canonical/pcr-oracle/internal/policy"
	"github.com/canonical/pcr-oracle/internal/policyprog"
)

type programSuite struct{}

var _ = check.Suite(&programSuite{})

func (s *programSuite) TestPCRPolicyProgramShape(c *check.C) {
	selection := tpm2.PCRSelectionList{{Hash: tpm2.HashAlgorithmSHA256, Select: tpm2.PCRSelect{0, 2, 4, 7}}}

	prog, err := PCRPolicyProgram(selection)
	c.Assert(err, check.IsNil)
	c.Assert(prog, check.HasLen, 1)
	c.Check(prog[0].CommandCode, check.Equals, policyprog.CommandCodePolicyPCR)
	c.Check(prog.Validate(), check.IsNil)

	der, err := prog.Marshal()
	c.Assert(err, check.IsNil)
	got, err := policyprog.Unmarshal(der)
	c.Assert(err, check.IsNil)
	c.Check(got[0].CommandPolicy, check.DeepEquals, prog[0].CommandPolicy)
}

func (s *programSuite) TestAuthorizePolicyProgramShape(c *check.C) {
	pubkey, _ := testSealedObject()
	// testSealedObject returns a keyed-hash object; AuthorizePolicyProgram
	// only marshals whatever *tpm2.Public it is given, so reusing it here
	// exercises the ASN.1 framing without needing a real RSA public area.
	sig := policy.BuildSignature(bytes.Repeat([]byte{0x01}, 256))

	prog, err := AuthorizePolicyProgram(pubkey, tpm2.Nonce("policy-ref"), sig)
	c.Assert(err, check.IsNil)
	c.Assert(prog, check.HasLen, 1)
	c.Check(prog[0].CommandCode, check.Equals, policyprog.CommandCodePolicyAuthorize)
	c.Check(prog.Validate(), check.IsNil)
}
