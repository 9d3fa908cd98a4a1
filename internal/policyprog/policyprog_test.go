// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package policyprog

import (
	"bytes"
	"testing"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	prog := Program{
		{CommandCode: CommandCodePolicyPCR, CommandPolicy: []byte("pcr-selection")},
		{CommandCode: CommandCodePolicyAuthorize, CommandPolicy: []byte("authorize-payload")},
	}

	der, err := prog.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	got, err := Unmarshal(der)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(prog) {
		t.Fatalf("got %d instructions, want %d", len(got), len(prog))
	}
	for i := range prog {
		if got[i].CommandCode != prog[i].CommandCode {
			t.Errorf("instruction %d: command code = %#x, want %#x", i, got[i].CommandCode, prog[i].CommandCode)
		}
		if !bytes.Equal(got[i].CommandPolicy, prog[i].CommandPolicy) {
			t.Errorf("instruction %d: command policy mismatch", i)
		}
	}
}

func TestUnmarshalRejectsTrailingBytes(t *testing.T) {
	prog := Program{{CommandCode: CommandCodePolicyPCR, CommandPolicy: []byte("x")}}
	der, err := prog.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Unmarshal(append(der, 0x00)); err == nil {
		t.Fatal("expected trailing bytes to be rejected")
	}
}

func TestValidateRejectsUnsupportedOpcode(t *testing.T) {
	prog := Program{{CommandCode: 0x1, CommandPolicy: nil}}
	if err := prog.Validate(); err == nil {
		t.Fatal("expected an unrecognized opcode to be rejected")
	}
}

func TestValidateAcceptsKnownOpcodes(t *testing.T) {
	prog := Program{
		{CommandCode: CommandCodePolicyPCR},
		{CommandCode: CommandCodePolicyAuthorize},
	}
	if err := prog.Validate(); err != nil {
		t.Fatalf("expected known opcodes to validate, got %v", err)
	}
}
