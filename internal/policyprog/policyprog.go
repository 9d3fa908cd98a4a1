// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

// Package policyprog is the ordered sequence of policy instructions stored
// inside a TPM 2.0 Key File envelope and replayed by the unseal driver.
package policyprog

import (
	"encoding/asn1"
	"fmt"
)

// CommandCode mirrors the TPM_CC values this program's opcodes are tagged
// with. Only the two opcodes the unseal driver understands are named;
// anything else is rejected by Validate, which the unseal driver runs over
// every candidate program before executing any of them.
type CommandCode int32

const (
	CommandCodePolicyPCR       CommandCode = 0x0000017f
	CommandCodePolicyAuthorize CommandCode = 0x0000016a
)

// Instruction is one ASN.1 SEQUENCE { CommandCode INTEGER, CommandPolicy
// OCTET STRING } element.
type Instruction struct {
	CommandCode   CommandCode
	CommandPolicy []byte
}

type asn1Instruction struct {
	CommandCode   int
	CommandPolicy []byte
}

// Program is the full ordered instruction sequence, executed strictly in
// order inside a single policy session.
type Program []Instruction

// Marshal renders the program as the ASN.1 SEQUENCE OF sequence stored in
// a TPM 2.0 Key File envelope.
func (p Program) Marshal() ([]byte, error) {
	raw := make([]asn1Instruction, len(p))
	for i, inst := range p {
		raw[i] = asn1Instruction{CommandCode: int(inst.CommandCode), CommandPolicy: inst.CommandPolicy}
	}
	return asn1.Marshal(raw)
}

// Unmarshal parses the ASN.1 SEQUENCE OF produced by Marshal.
func Unmarshal(der []byte) (Program, error) {
	var raw []asn1Instruction
	rest, err := asn1.Unmarshal(der, &raw)
	if err != nil {
		return nil, fmt.Errorf("cannot decode policy program: %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("policy program has %d trailing bytes", len(rest))
	}

	prog := make(Program, len(raw))
	for i, r := range raw {
		prog[i] = Instruction{CommandCode: CommandCode(r.CommandCode), CommandPolicy: r.CommandPolicy}
	}
	return prog, nil
}

// Validate rejects any opcode this repository's unseal driver does not
// implement — spec.md §9 requires the whole envelope to fail, never a
// silent skip, on an unsupported opcode.
func (p Program) Validate() error {
	for i, inst := range p {
		switch inst.CommandCode {
		case CommandCodePolicyPCR, CommandCodePolicyAuthorize:
		default:
			return fmt.Errorf("policy program instruction %d: unsupported opcode %#x", i, int32(inst.CommandCode))
		}
	}
	return nil
}
