// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package parse

import (
	"bytes"
	"encoding/binary"
	"testing"

	"golang.org/x/text/encoding/unicode"
)

func utf16LE(t *testing.T, s string) []byte {
	t.Helper()
	enc := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	out, err := enc.String(s)
	if err != nil {
		t.Fatal(err)
	}
	return []byte(out)
}

func TestDecodeEventTagLoadOptions(t *testing.T) {
	body := []byte("console=ttyS0")
	data := make([]byte, 8+len(body))
	binary.LittleEndian.PutUint32(data[0:4], loadOptionsEventTagID)
	binary.LittleEndian.PutUint32(data[4:8], uint32(len(body)))
	copy(data[8:], body)

	p, err := DecodeEventTag(data)
	if err != nil {
		t.Fatal(err)
	}
	if p.Kind != KindKernelTagLoadOptions {
		t.Fatalf("Kind = %v, want KindKernelTagLoadOptions", p.Kind)
	}
	if !bytes.Equal(p.KernelTag.Data, body) {
		t.Fatalf("Data = %q, want %q", p.KernelTag.Data, body)
	}
}

func TestDecodeEventTagInitrd(t *testing.T) {
	body := []byte{0xde, 0xad, 0xbe, 0xef}
	data := make([]byte, 8+len(body))
	binary.LittleEndian.PutUint32(data[0:4], initrdEventTagID)
	binary.LittleEndian.PutUint32(data[4:8], uint32(len(body)))
	copy(data[8:], body)

	p, err := DecodeEventTag(data)
	if err != nil {
		t.Fatal(err)
	}
	if p.Kind != KindKernelTagInitrd {
		t.Fatalf("Kind = %v, want KindKernelTagInitrd", p.Kind)
	}
}

func TestDecodeEventTagUnknownIDReturnsNilWithoutError(t *testing.T) {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data[0:4], 0xffffffff)
	p, err := DecodeEventTag(data)
	if err != nil {
		t.Fatal(err)
	}
	if p != nil {
		t.Fatalf("expected nil Parsed for an unrecognized tag id, got %+v", p)
	}
}

func TestDecodeEventTagRejectsOverrunLength(t *testing.T) {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data[0:4], loadOptionsEventTagID)
	binary.LittleEndian.PutUint32(data[4:8], 100)
	if _, err := DecodeEventTag(data); err == nil {
		t.Fatal("expected an overrunning data_len to be rejected")
	}
}

func TestDecodeEventTagRejectsTooShort(t *testing.T) {
	if _, err := DecodeEventTag([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected a too-short event tag body to be rejected")
	}
}

func TestDecodeGrubCommandEmptyBodyIsCopy(t *testing.T) {
	p, err := DecodeGrubCommand([]byte{0x00})
	if err != nil {
		t.Fatal(err)
	}
	if p.Kind != KindCopy {
		t.Fatalf("Kind = %v, want KindCopy", p.Kind)
	}
}

func TestDecodeGrubCommandLinux(t *testing.T) {
	data := []byte("grub_cmd: linux (hd0,gpt2)/vmlinuz root=/dev/sda2 quiet\x00")
	p, err := DecodeGrubCommand(data)
	if err != nil {
		t.Fatal(err)
	}
	if p.Kind != KindIPLGrubCommand || p.GrubCommand.Kind != GrubCommandLinux {
		t.Fatalf("unexpected parse: %+v", p.GrubCommand)
	}
	if p.GrubCommand.File.Device != "hd0,gpt2" || p.GrubCommand.File.Path != "/vmlinuz" {
		t.Fatalf("unexpected file: %+v", p.GrubCommand.File)
	}
}

func TestDecodeGrubCommandInitrd(t *testing.T) {
	data := []byte("grub_cmd: initrd /initrd.img\x00")
	p, err := DecodeGrubCommand(data)
	if err != nil {
		t.Fatal(err)
	}
	if p.GrubCommand.Kind != GrubCommandInitrd {
		t.Fatalf("Kind = %v, want GrubCommandInitrd", p.GrubCommand.Kind)
	}
	if p.GrubCommand.File.Path != "/initrd.img" {
		t.Fatalf("Path = %q, want /initrd.img", p.GrubCommand.File.Path)
	}
}

func TestDecodeGrubCommandCmdline(t *testing.T) {
	data := []byte("kernel_cmdline: root=/dev/sda2 quiet\x00")
	p, err := DecodeGrubCommand(data)
	if err != nil {
		t.Fatal(err)
	}
	if p.GrubCommand.Kind != GrubCommandCmdline {
		t.Fatalf("Kind = %v, want GrubCommandCmdline", p.GrubCommand.Kind)
	}
	if p.GrubCommand.Raw != "root=/dev/sda2 quiet" {
		t.Fatalf("Raw = %q", p.GrubCommand.Raw)
	}
}

func TestDecodeGrubCommandUnrecognizedPrefixReturnsNil(t *testing.T) {
	p, err := DecodeGrubCommand([]byte("some_other_event: whatever\x00"))
	if err != nil {
		t.Fatal(err)
	}
	if p != nil {
		t.Fatalf("expected nil for an unrecognized prefix, got %+v", p)
	}
}

func TestParseGrubFilePlainPath(t *testing.T) {
	f := parseGrubFile("/EFI/ubuntu/grubx64.efi")
	if f.Device != "" || f.Path != "/EFI/ubuntu/grubx64.efi" {
		t.Fatalf("unexpected parse: %+v", f)
	}
}

func TestParseGrubFileDevicePath(t *testing.T) {
	f := parseGrubFile("(hd0,gpt1)/EFI/ubuntu/grubx64.efi")
	if f.Device != "hd0,gpt1" || f.Path != "/EFI/ubuntu/grubx64.efi" {
		t.Fatalf("unexpected parse: %+v", f)
	}
}

func TestDecodeGrubFileEmptyBodyIsCopy(t *testing.T) {
	p, err := DecodeGrubFile([]byte{})
	if err != nil {
		t.Fatal(err)
	}
	if p.Kind != KindCopy {
		t.Fatalf("Kind = %v, want KindCopy", p.Kind)
	}
}

func TestDecodeGrubFileDevicePath(t *testing.T) {
	p, err := DecodeGrubFile([]byte("(hd0,gpt1)/EFI/ubuntu/shimx64.efi\x00"))
	if err != nil {
		t.Fatal(err)
	}
	if p.Kind != KindIPLGrubFile {
		t.Fatalf("Kind = %v, want KindIPLGrubFile", p.Kind)
	}
	if p.GrubFile.Device != "hd0,gpt1" {
		t.Fatalf("Device = %q, want hd0,gpt1", p.GrubFile.Device)
	}
}

func TestDecodeSystemdEventEmptyBodyIsCopy(t *testing.T) {
	p, err := DecodeSystemdEvent([]byte{0x00, 0x00})
	if err != nil {
		t.Fatal(err)
	}
	if p.Kind != KindCopy {
		t.Fatalf("Kind = %v, want KindCopy", p.Kind)
	}
}

func TestDecodeSystemdEventDecodesUTF16LE(t *testing.T) {
	text := "initrd=\\EFI\\ubuntu\\initrd.img quiet splash"
	data := append(utf16LE(t, text), 0, 0)

	p, err := DecodeSystemdEvent(data)
	if err != nil {
		t.Fatal(err)
	}
	if p.Kind != KindIPLSystemd {
		t.Fatalf("Kind = %v, want KindIPLSystemd", p.Kind)
	}
	if p.Systemd.Text != text {
		t.Fatalf("Text = %q, want %q", p.Systemd.Text, text)
	}
}

func TestDecodeShimVariableEmptyBodyIsCopy(t *testing.T) {
	p, err := DecodeShimVariable([]byte{0x00})
	if err != nil {
		t.Fatal(err)
	}
	if p.Kind != KindCopy {
		t.Fatalf("Kind = %v, want KindCopy", p.Kind)
	}
}

func TestDecodeShimVariableKnownAlias(t *testing.T) {
	p, err := DecodeShimVariable([]byte("MokListX\x00"))
	if err != nil {
		t.Fatal(err)
	}
	if p.Kind != KindIPLShimVariable {
		t.Fatalf("Kind = %v, want KindIPLShimVariable", p.Kind)
	}
	if p.ShimVariable.ResolvedName != "MokListXRT" {
		t.Fatalf("ResolvedName = %q, want MokListXRT", p.ShimVariable.ResolvedName)
	}
}

func TestDecodeShimVariableUnknownNameReturnsNil(t *testing.T) {
	p, err := DecodeShimVariable([]byte("SomeUnknownVar\x00"))
	if err != nil {
		t.Fatal(err)
	}
	if p != nil {
		t.Fatalf("expected nil for an unrecognized shim variable name, got %+v", p)
	}
}

func TestDecodeEFIVariableRoundTrip(t *testing.T) {
	guid := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	name := utf16LE(t, "SecureBoot")
	value := []byte{0x01}

	data := make([]byte, 0, 32+len(name)+len(value))
	data = append(data, guid[:]...)
	nameLen := make([]byte, 8)
	binary.LittleEndian.PutUint64(nameLen, uint64(len(name)/2))
	data = append(data, nameLen...)
	dataLen := make([]byte, 8)
	binary.LittleEndian.PutUint64(dataLen, uint64(len(value)))
	data = append(data, dataLen...)
	data = append(data, name...)
	data = append(data, value...)

	p, err := DecodeEFIVariable(data)
	if err != nil {
		t.Fatal(err)
	}
	if p.Kind != KindEFIVariable {
		t.Fatalf("Kind = %v, want KindEFIVariable", p.Kind)
	}
	if p.EFIVariable.GUID != guid {
		t.Fatalf("GUID = %v, want %v", p.EFIVariable.GUID, guid)
	}
	if p.EFIVariable.Name != "SecureBoot" {
		t.Fatalf("Name = %q, want SecureBoot", p.EFIVariable.Name)
	}
	if !bytes.Equal(p.EFIVariable.Value, value) {
		t.Fatalf("Value = %v, want %v", p.EFIVariable.Value, value)
	}
}

func TestDecodeEFIVariableRejectsTooShort(t *testing.T) {
	if _, err := DecodeEFIVariable(make([]byte, 10)); err == nil {
		t.Fatal("expected a too-short EFI variable event to be rejected")
	}
}

func TestDecodeEFIVariableRejectsOverrunLengths(t *testing.T) {
	data := make([]byte, 32)
	binary.LittleEndian.PutUint64(data[16:24], 1000)
	if _, err := DecodeEFIVariable(data); err == nil {
		t.Fatal("expected overrunning name/data lengths to be rejected")
	}
}

func TestDecodeEFIBSARoundTrip(t *testing.T) {
	devicePath := []byte{0xde, 0xad, 0xbe, 0xef}
	data := make([]byte, 24+len(devicePath))
	binary.LittleEndian.PutUint64(data[0:8], 0x1000)
	binary.LittleEndian.PutUint64(data[8:16], 4096)
	binary.LittleEndian.PutUint64(data[16:24], uint64(len(devicePath)))
	copy(data[24:], devicePath)

	p, err := DecodeEFIBSA(data)
	if err != nil {
		t.Fatal(err)
	}
	if p.EFIBSA.ImageLoadAddress != 0x1000 || p.EFIBSA.ImageLength != 4096 {
		t.Fatalf("unexpected header fields: %+v", p.EFIBSA)
	}
	if !bytes.Equal(p.EFIBSA.DevicePath, devicePath) {
		t.Fatalf("DevicePath = %v, want %v", p.EFIBSA.DevicePath, devicePath)
	}
}

func TestDecodeEFIBSARejectsOverrunDevicePathLength(t *testing.T) {
	data := make([]byte, 24)
	binary.LittleEndian.PutUint64(data[16:24], 100)
	if _, err := DecodeEFIBSA(data); err == nil {
		t.Fatal("expected an overrunning device path length to be rejected")
	}
}

func TestDecodeEFIGPTRoundTrip(t *testing.T) {
	header := bytes.Repeat([]byte{0xAA}, 92)
	entries := bytes.Repeat([]byte{0xBB}, 128)
	data := make([]byte, 0, 92+8+len(entries))
	data = append(data, header...)
	numParts := make([]byte, 8)
	binary.LittleEndian.PutUint64(numParts, 1)
	data = append(data, numParts...)
	data = append(data, entries...)

	p, err := DecodeEFIGPT(data)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(p.EFIGPT.Header, header) {
		t.Fatal("Header mismatch")
	}
	if !bytes.Equal(p.EFIGPT.Entries, entries) {
		t.Fatal("Entries mismatch")
	}
	if p.EFIGPT.NumParts != 1 {
		t.Fatalf("NumParts = %d, want 1", p.EFIGPT.NumParts)
	}
}

func TestDecodeEFIGPTRejectsTooShort(t *testing.T) {
	if _, err := DecodeEFIGPT(make([]byte, 50)); err == nil {
		t.Fatal("expected a too-short GPT event to be rejected")
	}
}

func TestDecodeDispatchesIPLByPCR(t *testing.T) {
	grubCmd := []byte("kernel_cmdline: quiet\x00")
	p, err := Decode(EventTypeIPL, 8, grubCmd)
	if err != nil {
		t.Fatal(err)
	}
	if p.Kind != KindIPLGrubCommand {
		t.Fatalf("Kind = %v, want KindIPLGrubCommand", p.Kind)
	}
}

func TestDecodeUnrecognizedIPLPCRReturnsNil(t *testing.T) {
	p, err := Decode(EventTypeIPL, 3, []byte("whatever"))
	if err != nil {
		t.Fatal(err)
	}
	if p != nil {
		t.Fatalf("expected nil for an unhandled IPL PCR, got %+v", p)
	}
}

func TestDecodeUnrecognizedEventTypeReturnsNil(t *testing.T) {
	p, err := Decode(EventType(0x12345678), 0, []byte("whatever"))
	if err != nil {
		t.Fatal(err)
	}
	if p != nil {
		t.Fatalf("expected nil for an unrecognized event type, got %+v", p)
	}
}

func TestDescribeNilIsUnparsed(t *testing.T) {
	var p *Parsed
	if p.Describe() != "(unparsed)" {
		t.Fatalf("Describe() = %q, want (unparsed)", p.Describe())
	}
}

func TestKindStringKnownAndUnknown(t *testing.T) {
	if KindIPLGrubFile.String() != "ipl-grub-file" {
		t.Fatalf("String() = %q", KindIPLGrubFile.String())
	}
	if Kind(999).String() != "unknown" {
		t.Fatalf("String() for an unrecognized kind = %q, want unknown", Kind(999).String())
	}
}
