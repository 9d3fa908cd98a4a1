// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

// Package gpt marshals and unmarshals the GPT header/partition-entries
// payload carried by an EFI_GPT_EVENT log record, delegating the actual
// GPT struct layout to go-efilib.
package gpt

import (
	"bytes"
	"fmt"

	efi "github.com/canonical/go-efilib"

	"github.com/canonical/pcr-oracle/internal/tcglog/parse"
)

// Table is the decoded header and partition entries of an EFI_GPT_EVENT.
type Table struct {
	Header  *efi.PartitionTableHeader
	Entries []*efi.PartitionEntry
}

// Decode parses the EFIGPTData produced by the event parser registry.
func Decode(d *parse.EFIGPTData) (*Table, error) {
	hdr, err := efi.ReadPartitionTableHeader(bytes.NewReader(d.Header), false)
	if err != nil {
		return nil, fmt.Errorf("cannot decode GPT header: %w", err)
	}
	entries, err := efi.ReadPartitionEntries(bytes.NewReader(d.Entries), d.NumParts, hdr.SizeOfPartitionEntry)
	if err != nil {
		return nil, fmt.Errorf("cannot decode GPT partition entries: %w", err)
	}
	return &Table{Header: hdr, Entries: entries}, nil
}
