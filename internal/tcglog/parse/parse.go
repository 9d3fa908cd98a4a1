// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

// Package parse decodes the raw bytes of a TCG event log record into a
// typed, tagged-union "parsed event" variant. It never recomputes digests
// itself — that is the re-hash engine's job (package rehash), which
// switches on the Kind reported here.
package parse

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Kind tags which variant a Parsed value holds.
type Kind int

const (
	KindUnknown Kind = iota
	KindCopy    // empty/zero-terminator-only IPL body: preserve firmware digest verbatim
	KindEFIVariable
	KindEFIBSA
	KindEFIGPT
	KindIPLGrubFile
	KindIPLGrubCommand
	KindIPLShimVariable
	KindIPLSystemd
	KindKernelTagLoadOptions
	KindKernelTagInitrd
)

func (k Kind) String() string {
	switch k {
	case KindCopy:
		return "copy"
	case KindEFIVariable:
		return "efi-variable"
	case KindEFIBSA:
		return "efi-bsa"
	case KindEFIGPT:
		return "efi-gpt"
	case KindIPLGrubFile:
		return "ipl-grub-file"
	case KindIPLGrubCommand:
		return "ipl-grub-command"
	case KindIPLShimVariable:
		return "ipl-shim-variable"
	case KindIPLSystemd:
		return "ipl-systemd"
	case KindKernelTagLoadOptions:
		return "kernel-tag-load-options"
	case KindKernelTagInitrd:
		return "kernel-tag-initrd"
	default:
		return "unknown"
	}
}

// GrubCommandKind distinguishes the three command shapes the grub_cmd/
// kernel_cmdline keywords can take.
type GrubCommandKind int

const (
	GrubCommandPlain GrubCommandKind = iota
	GrubCommandLinux
	GrubCommandInitrd
	GrubCommandCmdline
)

// EFIVariableData is the decoded content of an EFI_VARIABLE_{AUTHORITY,
// BOOT,DRIVER_CONFIG} event.
type EFIVariableData struct {
	GUID  [16]byte
	Name  string
	Value []byte
}

// EFIBSAData is the decoded content of an EFI_BOOT_SERVICES_{APPLICATION,
// DRIVER} event.
type EFIBSAData struct {
	ImageLoadAddress uint64
	ImageLength      uint64
	DevicePath       []byte
}

// EFIGPTData is the decoded GPT header and partition entries of an
// EFI_GPT_EVENT.
type EFIGPTData struct {
	Header   []byte
	Entries  []byte
	NumParts uint32
}

// GrubFileData is a pcr-9 GRUB file measurement: either a plain path, or a
// "(device)path" form.
type GrubFileData struct {
	Device string // empty if the plain path form was used
	Path   string
}

// GrubCommandData is a pcr-8 GRUB string measurement.
type GrubCommandData struct {
	Kind GrubCommandKind
	Raw  string     // the full argument text after the "keyword: " prefix
	File GrubFileData // populated for Kind == GrubCommandLinux / GrubCommandInitrd
}

// ShimVariableData is a pcr-14 shim IPL event naming an EFI variable by a
// shim-internal alias.
type ShimVariableData struct {
	ShimName     string
	ResolvedName string
	ResolvedGUID [16]byte
}

// SystemdData is a pcr-12 systemd IPL event: raw UTF-16LE text, trailing
// NULs included, decoded to a Go string.
type SystemdData struct {
	Text string
}

// TagKind distinguishes the two EVENT_TAG payloads this repository cares
// about.
type TagKind int

const (
	TagUnknown TagKind = iota
	TagLoadOptions
	TagInitrd
)

const (
	loadOptionsEventTagID uint32 = 0x8F3B22EC
	initrdEventTagID      uint32 = 0x8F3B22ED
)

// KernelTagData is the decoded content of an EVENT_TAG event recognized as
// either the kernel's LOAD_OPTIONS (command line) or INITRD tag.
type KernelTagData struct {
	Tag  TagKind
	Data []byte
}

// Parsed is the tagged-union result of decoding one event's raw bytes.
type Parsed struct {
	Kind         Kind
	EFIVariable  *EFIVariableData
	EFIBSA       *EFIBSAData
	EFIGPT       *EFIGPTData
	GrubFile     *GrubFileData
	GrubCommand  *GrubCommandData
	ShimVariable *ShimVariableData
	Systemd      *SystemdData
	KernelTag    *KernelTagData
}

// Describe renders a short human-readable summary, in the spirit of
// tcglog-parser's EventData.String().
func (p *Parsed) Describe() string {
	if p == nil {
		return "(unparsed)"
	}
	switch p.Kind {
	case KindCopy:
		return "copy{ empty IPL body }"
	case KindEFIVariable:
		return fmt.Sprintf("efi-variable{ name=%s }", p.EFIVariable.Name)
	case KindEFIBSA:
		return fmt.Sprintf("efi-bsa{ addr=%#x len=%d }", p.EFIBSA.ImageLoadAddress, p.EFIBSA.ImageLength)
	case KindEFIGPT:
		return fmt.Sprintf("efi-gpt{ parts=%d }", p.EFIGPT.NumParts)
	case KindIPLGrubFile:
		return fmt.Sprintf("grub-file{ device=%q path=%q }", p.GrubFile.Device, p.GrubFile.Path)
	case KindIPLGrubCommand:
		return fmt.Sprintf("grub-command{ kind=%d raw=%q }", p.GrubCommand.Kind, p.GrubCommand.Raw)
	case KindIPLShimVariable:
		return fmt.Sprintf("shim-variable{ %s -> %s }", p.ShimVariable.ShimName, p.ShimVariable.ResolvedName)
	case KindIPLSystemd:
		return fmt.Sprintf("systemd{ %q }", p.Systemd.Text)
	case KindKernelTagLoadOptions:
		return fmt.Sprintf("kernel-tag-load-options{ %d bytes }", len(p.KernelTag.Data))
	case KindKernelTagInitrd:
		return fmt.Sprintf("kernel-tag-initrd{ %d bytes }", len(p.KernelTag.Data))
	default:
		return "unknown"
	}
}

// DecodeEventTag decodes an EVENT_TAG event body: u32 event_id, u32
// data_len, data_len bytes.
func DecodeEventTag(data []byte) (*Parsed, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("event tag data too short: %d bytes", len(data))
	}
	id := binary.LittleEndian.Uint32(data[0:4])
	dataLen := binary.LittleEndian.Uint32(data[4:8])
	if uint64(8+dataLen) > uint64(len(data)) {
		return nil, fmt.Errorf("event tag data_len %d overruns event body", dataLen)
	}
	body := data[8 : 8+dataLen]

	var kind TagKind
	switch id {
	case loadOptionsEventTagID:
		kind = TagLoadOptions
	case initrdEventTagID:
		kind = TagInitrd
	default:
		kind = TagUnknown
	}
	if kind == TagUnknown {
		return nil, nil
	}

	p := &Parsed{KernelTag: &KernelTagData{Tag: kind, Data: body}}
	if kind == TagLoadOptions {
		p.Kind = KindKernelTagLoadOptions
	} else {
		p.Kind = KindKernelTagInitrd
	}
	return p, nil
}

// isEmptyIPLBody reports whether an IPL body carries no real content:
// zero-length, or nothing but NUL bytes.
func isEmptyIPLBody(data []byte) bool {
	trimmed := bytes.TrimRight(data, "\x00")
	return len(trimmed) == 0
}

const (
	grubCmdPrefix          = "grub_cmd: "
	kernelCmdlinePrefix    = "kernel_cmdline: "
)

// DecodeGrubCommand decodes a pcr-8 IPL event.
func DecodeGrubCommand(data []byte) (*Parsed, error) {
	if isEmptyIPLBody(data) {
		return &Parsed{Kind: KindCopy}, nil
	}

	str := strings.TrimRight(string(data), "\x00")

	var kind GrubCommandKind
	var arg string
	switch {
	case strings.HasPrefix(str, grubCmdPrefix):
		arg = strings.TrimPrefix(str, grubCmdPrefix)
		switch {
		case strings.HasPrefix(arg, "linux "):
			kind = GrubCommandLinux
		case strings.HasPrefix(arg, "initrd "):
			kind = GrubCommandInitrd
		default:
			kind = GrubCommandPlain
		}
	case strings.HasPrefix(str, kernelCmdlinePrefix):
		arg = strings.TrimPrefix(str, kernelCmdlinePrefix)
		kind = GrubCommandCmdline
	default:
		return nil, nil
	}

	cmd := &GrubCommandData{Kind: kind, Raw: arg}
	if kind == GrubCommandLinux || kind == GrubCommandInitrd {
		fields := strings.Fields(arg)
		if len(fields) >= 2 {
			cmd.File = parseGrubFile(fields[1])
		}
	}

	return &Parsed{Kind: KindIPLGrubCommand, GrubCommand: cmd}, nil
}

// parseGrubFile parses a GRUB device-path argument, either a plain path or
// a "(device)path" form.
func parseGrubFile(s string) GrubFileData {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "(") {
		if idx := strings.Index(s, ")"); idx >= 0 {
			return GrubFileData{Device: s[1:idx], Path: s[idx+1:]}
		}
	}
	return GrubFileData{Path: s}
}

// DecodeGrubFile decodes a pcr-9 IPL event.
func DecodeGrubFile(data []byte) (*Parsed, error) {
	if isEmptyIPLBody(data) {
		return &Parsed{Kind: KindCopy}, nil
	}
	str := strings.TrimRight(string(data), "\x00")
	f := parseGrubFile(str)
	return &Parsed{Kind: KindIPLGrubFile, GrubFile: &f}, nil
}

// DecodeSystemdEvent decodes a pcr-12 IPL event: raw UTF-16LE bytes
// including trailing NULs.
func DecodeSystemdEvent(data []byte) (*Parsed, error) {
	if isEmptyIPLBody(data) {
		return &Parsed{Kind: KindCopy}, nil
	}
	dec := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	out, _, err := transform.Bytes(dec, data)
	if err != nil {
		return nil, fmt.Errorf("cannot decode systemd IPL event as UTF-16LE: %w", err)
	}
	text := strings.TrimRight(string(out), "\x00")
	return &Parsed{Kind: KindIPLSystemd, Systemd: &SystemdData{Text: text}}, nil
}

// shimVariableGUID is the GUID shim owns its MOK runtime variables under
// (605dab50-e046-4300-abb6-3dd810dd8b23), matching efiruntime's shimAliases.
var shimVariableGUID = [16]byte{0x50, 0xab, 0x5d, 0x60, 0x46, 0xe0, 0x00, 0x43, 0xab, 0xb6, 0x3d, 0xd8, 0x10, 0xdd, 0x8b, 0x23}

// shimVariableTable maps shim's internal alias for a variable to its real
// EFI runtime variable name and GUID. Shim measures a small, fixed set of
// variables under these aliases.
var shimVariableTable = map[string]struct {
	name string
	guid [16]byte
}{
	"MokList":    {name: "MokListRT", guid: shimVariableGUID},
	"MokListX":   {name: "MokListXRT", guid: shimVariableGUID},
	"MokSBState": {name: "MokSBStateRT", guid: shimVariableGUID},
	"SbatLevel":  {name: "SbatLevelRT", guid: shimVariableGUID},
}

// DecodeShimVariable decodes a pcr-14 IPL event.
func DecodeShimVariable(data []byte) (*Parsed, error) {
	if isEmptyIPLBody(data) {
		return &Parsed{Kind: KindCopy}, nil
	}
	name := strings.TrimRight(string(data), "\x00")
	resolved, ok := shimVariableTable[name]
	if !ok {
		return nil, nil
	}
	return &Parsed{Kind: KindIPLShimVariable, ShimVariable: &ShimVariableData{
		ShimName:     name,
		ResolvedName: resolved.name,
		ResolvedGUID: resolved.guid,
	}}, nil
}

// DecodeEFIVariable decodes an EFI_VARIABLE_{AUTHORITY,BOOT,DRIVER_CONFIG}
// event: GUID, u64 name length (UTF-16 units), u64 data length, name (UTF-16LE),
// data.
func DecodeEFIVariable(data []byte) (*Parsed, error) {
	if len(data) < 16+8+8 {
		return nil, fmt.Errorf("EFI variable event data too short: %d bytes", len(data))
	}
	var guid [16]byte
	copy(guid[:], data[0:16])
	nameLen := binary.LittleEndian.Uint64(data[16:24])
	dataLen := binary.LittleEndian.Uint64(data[24:32])
	rest := data[32:]

	nameBytes := nameLen * 2
	if uint64(len(rest)) < nameBytes+dataLen {
		return nil, fmt.Errorf("EFI variable event: name/data length overruns event body")
	}

	dec := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	nameUTF16, _, err := transform.Bytes(dec, rest[:nameBytes])
	if err != nil {
		return nil, fmt.Errorf("cannot decode EFI variable name: %w", err)
	}

	value := make([]byte, dataLen)
	copy(value, rest[nameBytes:nameBytes+dataLen])

	return &Parsed{Kind: KindEFIVariable, EFIVariable: &EFIVariableData{
		GUID:  guid,
		Name:  string(nameUTF16),
		Value: value,
	}}, nil
}

// DecodeEFIBSA decodes an EFI_BOOT_SERVICES_{APPLICATION,DRIVER} event:
// u64 image load address, u64 image length, u64 device path length, device path.
func DecodeEFIBSA(data []byte) (*Parsed, error) {
	if len(data) < 24 {
		return nil, fmt.Errorf("EFI BSA event data too short: %d bytes", len(data))
	}
	addr := binary.LittleEndian.Uint64(data[0:8])
	length := binary.LittleEndian.Uint64(data[8:16])
	dpLen := binary.LittleEndian.Uint64(data[16:24])
	rest := data[24:]
	if uint64(len(rest)) < dpLen {
		return nil, fmt.Errorf("EFI BSA event: device path length overruns event body")
	}

	return &Parsed{Kind: KindEFIBSA, EFIBSA: &EFIBSAData{
		ImageLoadAddress: addr,
		ImageLength:      length,
		DevicePath:       append([]byte(nil), rest[:dpLen]...),
	}}, nil
}

// DecodeEFIGPT decodes an EFI_GPT_EVENT: a marshalled GPT header followed
// by a marshalled partition entry array, prefixed with a u64 count.
func DecodeEFIGPT(data []byte) (*Parsed, error) {
	const headerLen = 92
	if len(data) < headerLen+8 {
		return nil, fmt.Errorf("EFI GPT event data too short: %d bytes", len(data))
	}
	header := data[:headerLen]
	numParts := binary.LittleEndian.Uint64(data[headerLen : headerLen+8])
	entries := data[headerLen+8:]

	return &Parsed{Kind: KindEFIGPT, EFIGPT: &EFIGPTData{
		Header:   append([]byte(nil), header...),
		Entries:  append([]byte(nil), entries...),
		NumParts: uint32(numParts),
	}}, nil
}
