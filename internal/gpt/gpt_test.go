// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package gpt

import (
	"bytes"
	"testing"

	efi "github.com/canonical/go-efilib"

	"github.com/canonical/pcr-oracle/internal/tcglog/parse"
)

func TestDecodeRoundTripsHeaderAndEntries(t *testing.T) {
	diskGUID := efi.MakeGUID(0x01020304, 0x0506, 0x0708, 0x090a, [6]byte{0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10})
	hdr := &efi.PartitionTableHeader{
		HeaderSize:               92,
		MyLBA:                    1,
		AlternateLBA:             2047,
		FirstUsableLBA:           34,
		LastUsableLBA:            2014,
		DiskGUID:                 diskGUID,
		PartitionEntryLBA:        2,
		NumberOfPartitionEntries: 1,
		SizeOfPartitionEntry:     128,
	}
	var hdrBuf bytes.Buffer
	if err := hdr.Write(&hdrBuf); err != nil {
		t.Fatal(err)
	}

	partType := efi.MakeGUID(0xebd0a0a2, 0xb9e5, 0x4433, 0x87c0, [6]byte{0x68, 0xb6, 0xb7, 0x26, 0x99, 0xc7})
	entry := &efi.PartitionEntry{
		PartitionTypeGUID:   partType,
		UniquePartitionGUID: efi.MakeGUID(0, 0, 0, 0, [6]byte{}),
		StartingLBA:         34,
		EndingLBA:           2014,
		Attributes:          0,
		PartitionName:       "EFI System Partition",
	}
	var entryBuf bytes.Buffer
	if err := entry.Write(&entryBuf); err != nil {
		t.Fatal(err)
	}

	d := &parse.EFIGPTData{
		Header:   hdrBuf.Bytes(),
		Entries:  entryBuf.Bytes(),
		NumParts: 1,
	}

	table, err := Decode(d)
	if err != nil {
		t.Fatal(err)
	}
	if table.Header.MyLBA != 1 || table.Header.AlternateLBA != 2047 {
		t.Fatalf("unexpected header: %+v", table.Header)
	}
	if table.Header.DiskGUID != diskGUID {
		t.Fatalf("DiskGUID = %v, want %v", table.Header.DiskGUID, diskGUID)
	}
	if len(table.Entries) != 1 {
		t.Fatalf("len(Entries) = %d, want 1", len(table.Entries))
	}
	if table.Entries[0].PartitionName != "EFI System Partition" {
		t.Fatalf("PartitionName = %q", table.Entries[0].PartitionName)
	}
	if table.Entries[0].PartitionTypeGUID != partType {
		t.Fatalf("PartitionTypeGUID = %v, want %v", table.Entries[0].PartitionTypeGUID, partType)
	}
}

func TestDecodeRejectsTruncatedHeader(t *testing.T) {
	d := &parse.EFIGPTData{Header: []byte{0x01, 0x02}, Entries: nil, NumParts: 0}
	if _, err := Decode(d); err == nil {
		t.Fatal("expected a truncated GPT header to be rejected")
	}
}

func TestDecodeRejectsTruncatedEntries(t *testing.T) {
	diskGUID := efi.MakeGUID(0x01020304, 0x0506, 0x0708, 0x090a, [6]byte{0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10})
	hdr := &efi.PartitionTableHeader{
		HeaderSize:               92,
		DiskGUID:                 diskGUID,
		NumberOfPartitionEntries: 1,
		SizeOfPartitionEntry:     128,
	}
	var hdrBuf bytes.Buffer
	if err := hdr.Write(&hdrBuf); err != nil {
		t.Fatal(err)
	}

	d := &parse.EFIGPTData{Header: hdrBuf.Bytes(), Entries: []byte{0x00}, NumParts: 1}
	if _, err := Decode(d); err == nil {
		t.Fatal("expected a truncated partition entry array to be rejected")
	}
}
