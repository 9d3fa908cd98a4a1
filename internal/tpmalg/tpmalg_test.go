// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package tpmalg

import "testing"

func TestByNameKnownAlgorithms(t *testing.T) {
	cases := []struct {
		name string
		id   ID
		size int
	}{
		{"sha1", SHA1, 20},
		{"sha256", SHA256, 32},
		{"sha384", SHA384, 48},
		{"sha512", SHA512, 64},
	}
	for _, c := range cases {
		d, ok := ByName(c.name)
		if !ok {
			t.Fatalf("ByName(%q): not found", c.name)
		}
		if d.ID != c.id || d.Size != c.size {
			t.Errorf("ByName(%q) = %+v, want id=%v size=%d", c.name, d, c.id, c.size)
		}
		if h := d.New(); h == nil {
			t.Errorf("ByName(%q).New() returned nil hash", c.name)
		}
	}
}

func TestByNameUnknown(t *testing.T) {
	if _, ok := ByName("sha3-256"); ok {
		t.Fatal("expected sha3-256 to be unknown")
	}
}

func TestSM3HasNoHashImplementation(t *testing.T) {
	d, ok := ByID(SM3256)
	if !ok {
		t.Fatal("SM3256 descriptor missing from built-in table")
	}
	if d.New() != nil {
		t.Fatal("expected sm3_256 to have no available hash.Hash implementation")
	}
	if _, ok := d.CryptoHash(); ok {
		t.Fatal("expected sm3_256 CryptoHash to report unavailable")
	}
}

func TestTableDeclareAgreesWithBuiltin(t *testing.T) {
	table := NewTable()
	if err := table.Declare(SHA256, 32); err != nil {
		t.Fatalf("Declare SHA256/32: %v", err)
	}
	if err := table.Declare(SHA256, 31); err == nil {
		t.Fatal("expected Declare to reject a size disagreeing with the built-in table")
	}
}

func TestTableDeclareAndLookupExtra(t *testing.T) {
	const custom ID = 0x9999
	table := NewTable()
	if err := table.Declare(custom, 16); err != nil {
		t.Fatalf("Declare custom algorithm: %v", err)
	}
	d, ok := table.Lookup(custom)
	if !ok || d.Size != 16 {
		t.Fatalf("Lookup(custom) = %+v, %v", d, ok)
	}
	if err := table.Declare(custom, 20); err == nil {
		t.Fatal("expected Declare to reject an inconsistent redeclaration")
	}
}

func TestTableLookupFallsBackToBuiltin(t *testing.T) {
	var table *Table
	d, ok := table.Lookup(SHA1)
	if !ok || d.Size != 20 {
		t.Fatalf("nil Table should still resolve built-in algorithms: %+v, %v", d, ok)
	}
}
