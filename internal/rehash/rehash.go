// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package rehash

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"

	efi "github.com/canonical/go-efilib"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/xerrors"

	"github.com/canonical/pcr-oracle/internal/efiruntime"
	"github.com/canonical/pcr-oracle/internal/tcglog/parse"
)

// Strategy is the rehash decision for one event.
type Strategy int

const (
	// StrategyCopy reuses the firmware-supplied digest verbatim.
	StrategyCopy Strategy = iota
	// StrategyRehash substitutes a digest recomputed against the predicted
	// next boot.
	StrategyRehash
)

// Result is the outcome of rehashing one event.
type Result struct {
	Strategy Strategy
	Digest   []byte // populated only when Strategy == StrategyRehash
}

// Rehash decides and, where applicable, performs the rehash for one parsed
// event. p may be nil (the parser registry had no decoder for this event),
// in which case the result is always StrategyCopy.
//
// required, when true, turns "the rehasher had nothing to substitute" into
// an error instead of a silent fall back to copy, matching the "caller
// explicitly required rehashing" escape hatch in the component design.
func Rehash(p *parse.Parsed, ctx *Context, required bool) (Result, error) {
	if p == nil {
		return Result{Strategy: StrategyCopy}, nil
	}

	digest, ok, err := rehashVariant(p, ctx)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		if required {
			return Result{}, fmt.Errorf("rehash required but no replacement digest available for %s", p.Describe())
		}
		return Result{Strategy: StrategyCopy}, nil
	}
	return Result{Strategy: StrategyRehash, Digest: digest}, nil
}

func rehashVariant(p *parse.Parsed, ctx *Context) (digest []byte, ok bool, err error) {
	switch p.Kind {
	case parse.KindCopy:
		return nil, false, nil

	case parse.KindEFIVariable:
		return rehashEFIVariable(p.EFIVariable, ctx)

	case parse.KindIPLShimVariable:
		return rehashShimVariable(p.ShimVariable, ctx)

	case parse.KindEFIBSA:
		return rehashEFIBSA(p.EFIBSA, ctx)

	case parse.KindIPLGrubFile:
		return rehashGrubFile(p.GrubFile, ctx)

	case parse.KindIPLGrubCommand:
		return rehashGrubCommand(p.GrubCommand, ctx)

	case parse.KindIPLSystemd:
		return rehashSystemd(ctx)

	case parse.KindKernelTagLoadOptions:
		return rehashSystemd(ctx)

	case parse.KindKernelTagInitrd:
		return rehashInitrdTag(ctx)

	case parse.KindEFIGPT:
		// No rehash rule is specified for GPT events; the table is
		// predicted separately (or not at all) by the caller.
		return nil, false, nil

	default:
		return nil, false, nil
	}
}

func hashBytes(ctx *Context, data []byte) []byte {
	h := ctx.Alg.New()
	h.Write(data)
	return h.Sum(nil)
}

func rehashEFIVariable(v *parse.EFIVariableData, ctx *Context) ([]byte, bool, error) {
	guid := efi.GUID(v.GUID)
	data, err := ctx.vars().ReadVariable(ctx.goContext(), v.Name, guid)
	if err != nil {
		return nil, false, xerrors.Errorf("cannot read EFI variable %s for rehash: %w", v.Name, err)
	}
	return hashBytes(ctx, data), true, nil
}

func rehashShimVariable(v *parse.ShimVariableData, ctx *Context) ([]byte, bool, error) {
	name, guid, ok := efiruntime.ResolveShimVariable(v.ShimName)
	if !ok {
		return nil, false, nil
	}
	data, err := ctx.vars().ReadVariable(ctx.goContext(), name, guid)
	if err != nil {
		return nil, false, xerrors.Errorf("cannot read shim variable %s (%s) for rehash: %w", v.ShimName, name, err)
	}
	return hashBytes(ctx, data), true, nil
}

// lastFilePathComponent extracts the trailing "\...\file.efi" style path
// embedded in a UEFI device path's final FILE_PATH node. A FILE_PATH node
// is, byte for byte, a NUL-terminated UTF-16LE string; rather than walk
// every preceding hardware/ACPI/messaging node by its documented struct
// layout, this scans backward for the last NUL UTF-16LE code unit and then
// for the start of the printable-ASCII run feeding it. Byte-level device
// path node walking beyond this is out of scope, in the same spirit as the
// Non-goal on PE/COFF byte-level table walking.
func lastFilePathComponent(devicePath []byte) (string, bool) {
	n := len(devicePath) &^ 1 // round down to even
	end := -1
	for i := n - 2; i >= 0; i -= 2 {
		if devicePath[i] == 0 && devicePath[i+1] == 0 {
			end = i
			break
		}
	}
	if end <= 0 {
		return "", false
	}

	start := end
	for start-2 >= 0 {
		lo, hi := devicePath[start-2], devicePath[start-1]
		if hi != 0 || lo < 0x20 || lo > 0x7e {
			break
		}
		start -= 2
	}
	if start == end {
		return "", false
	}

	raw := devicePath[start:end]
	buf := make([]byte, 0, len(raw)/2)
	for i := 0; i < len(raw); i += 2 {
		buf = append(buf, raw[i])
	}
	s := string(buf)
	if !strings.Contains(s, "\\") || !strings.Contains(s, ".") {
		return "", false
	}
	return s, true
}

func rehashEFIBSA(b *parse.EFIBSAData, ctx *Context) ([]byte, bool, error) {
	p, ok := lastFilePathComponent(b.DevicePath)
	if !ok {
		return nil, false, nil
	}
	root := ctx.EFIPartitionRoot
	if root == "" {
		return nil, false, nil
	}
	full := path.Join(root, filepathFromUEFI(p))

	f, err := ctx.fs().Open(full)
	if err != nil {
		return nil, false, xerrors.Errorf("cannot open boot services application image %s: %w", full, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, false, xerrors.Errorf("cannot read boot services application image %s: %w", full, err)
	}

	cryptoHash, ok := ctx.Alg.CryptoHash()
	if !ok {
		return nil, false, fmt.Errorf("algorithm %s has no available hash implementation", ctx.Alg.Name)
	}
	d, err := efi.ComputePeImageDigest(cryptoHash, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, false, xerrors.Errorf("cannot compute authenticode digest for %s: %w", full, err)
	}
	return d, true, nil
}

// filepathFromUEFI converts a UEFI-style backslash path to a Unix-style one.
func filepathFromUEFI(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// grubFileClass is the role a grub_file path plays in booting, independent
// of which specific file a given log happened to name.
type grubFileClass int

const (
	grubFileClassOther grubFileClass = iota
	grubFileClassConfig
	grubFileClassKernel
	grubFileClassInitrd
)

// classifyGrubFileName infers a grub_file event's role from its filename,
// the way GRUB's own naming conventions do: vmlinuz*/bzImage* for kernel
// images, initrd*/initramfs* for initrd images, *.cfg/grub.cfg/grubenv for
// configuration. A future boot's file of the same class need not share a
// basename with the one the log recorded (e.g. vmlinuz-6.4 -> vmlinuz-6.5
// across a kernel upgrade).
func classifyGrubFileName(p string) grubFileClass {
	base := strings.ToLower(path.Base(filepathFromUEFI(p)))
	switch {
	case strings.HasPrefix(base, "vmlinuz") || strings.HasPrefix(base, "bzimage"):
		return grubFileClassKernel
	case strings.HasPrefix(base, "initrd") || strings.HasPrefix(base, "initramfs"):
		return grubFileClassInitrd
	case base == "grub.cfg" || base == "grubenv" || strings.HasSuffix(base, ".cfg"):
		return grubFileClassConfig
	default:
		return grubFileClassOther
	}
}

// classifyGrubFilePath resolves a pcr-9 grub_file reference to the full
// path it should be read from for the predicted next boot.
func classifyGrubFilePath(f *parse.GrubFileData, ctx *Context) (full string, ok bool) {
	if ctx.NextBoot != nil {
		switch classifyGrubFileName(f.Path) {
		case grubFileClassConfig:
			if ctx.NextBoot.ConfigPath != "" {
				return ctx.NextBoot.ConfigPath, true
			}
		case grubFileClassKernel:
			if ctx.NextBoot.ImagePath != "" && ctx.EFIPartitionRoot != "" {
				return path.Join(ctx.EFIPartitionRoot, filepathFromUEFI(ctx.NextBoot.ImagePath)), true
			}
		case grubFileClassInitrd:
			if ctx.NextBoot.InitrdPath != "" && ctx.EFIPartitionRoot != "" {
				return path.Join(ctx.EFIPartitionRoot, filepathFromUEFI(ctx.NextBoot.InitrdPath)), true
			}
		}
	}

	// Otherwise resolve via the parsed device name: GRUB's (hdN,gptM)
	// devices name the EFI system partition by convention in the logs this
	// repository has seen; anything else is treated as the system
	// (rootfs/boot) partition.
	root := ctx.SystemPartitionRoot
	if f.Device == "" || strings.HasPrefix(f.Device, "hd") {
		root = ctx.EFIPartitionRoot
	}
	if root == "" {
		return "", false
	}
	return path.Join(root, filepathFromUEFI(f.Path)), true
}

func rehashGrubFile(f *parse.GrubFileData, ctx *Context) ([]byte, bool, error) {
	full, ok := classifyGrubFilePath(f, ctx)
	if !ok {
		return nil, false, nil
	}

	file, err := ctx.fs().Open(full)
	if err != nil {
		return nil, false, xerrors.Errorf("cannot open grub file %s for rehash: %w", full, err)
	}
	defer file.Close()

	h := ctx.Alg.New()
	if h == nil {
		return nil, false, fmt.Errorf("algorithm %s has no available hash implementation", ctx.Alg.Name)
	}
	if _, err := io.Copy(h, file); err != nil {
		return nil, false, xerrors.Errorf("cannot hash grub file %s: %w", full, err)
	}
	return h.Sum(nil), true, nil
}

func rehashGrubCommand(c *parse.GrubCommandData, ctx *Context) ([]byte, bool, error) {
	if ctx.NextBoot == nil {
		return nil, false, nil
	}

	var rebuilt string
	switch c.Kind {
	case parse.GrubCommandLinux:
		rebuilt = fmt.Sprintf("grub_cmd: linux %s %s", ctx.NextBoot.ImagePath, ctx.NextBoot.Options)
	case parse.GrubCommandInitrd:
		rebuilt = fmt.Sprintf("grub_cmd: initrd %s", ctx.NextBoot.InitrdPath)
	case parse.GrubCommandCmdline:
		rebuilt = fmt.Sprintf("kernel_cmdline: %s", ctx.NextBoot.Options)
	default:
		return nil, false, nil
	}

	return hashBytes(ctx, append([]byte(rebuilt), 0)), true, nil
}

func rehashSystemd(ctx *Context) ([]byte, bool, error) {
	if ctx.NextBoot == nil {
		return nil, false, nil
	}
	text := fmt.Sprintf("initrd=%s %s", toDosPath(ctx.NextBoot.InitrdPath), ctx.NextBoot.Options)
	enc := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	out, err := enc.Bytes([]byte(text))
	if err != nil {
		return nil, false, xerrors.Errorf("cannot encode systemd IPL rebuild as UTF-16LE: %w", err)
	}
	out = append(out, 0, 0)
	return hashBytes(ctx, out), true, nil
}

func rehashInitrdTag(ctx *Context) ([]byte, bool, error) {
	if ctx.NextBoot == nil || ctx.NextBoot.InitrdPath == "" {
		return nil, false, nil
	}
	root := ctx.SystemPartitionRoot
	if root == "" {
		root = ctx.EFIPartitionRoot
	}
	full := path.Join(root, filepathFromUEFI(ctx.NextBoot.InitrdPath))

	f, err := ctx.fs().Open(full)
	if err != nil {
		return nil, false, xerrors.Errorf("cannot open initrd %s for rehash: %w", full, err)
	}
	defer f.Close()

	h := ctx.Alg.New()
	if h == nil {
		return nil, false, fmt.Errorf("algorithm %s has no available hash implementation", ctx.Alg.Name)
	}
	if _, err := io.Copy(h, f); err != nil {
		return nil, false, xerrors.Errorf("cannot hash initrd %s: %w", full, err)
	}
	return h.Sum(nil), true, nil
}

// toDosPath converts a Unix-style path to the backslash form systemd-boot
// writes into its measured initrd= option.
func toDosPath(p string) string {
	return strings.ReplaceAll(p, "/", "\\")
}
