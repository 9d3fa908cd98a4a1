// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

// Package rehash recomputes event digests against the artifacts of a
// predicted next boot, implementing the copy-vs-rehash strategy selection
// described for each parsed event variant.
package rehash

import (
	"context"

	"github.com/canonical/pcr-oracle/internal/efiruntime"
	"github.com/canonical/pcr-oracle/internal/tpmalg"
	"github.com/canonical/pcr-oracle/internal/vfs"
)

// BootEntry names the artifacts of the boot this prediction targets.
type BootEntry struct {
	// ImagePath is the next boot's kernel image path, as it will appear on
	// the EFI system partition (e.g. "/EFI/ubuntu/vmlinuz-6.5").
	ImagePath string
	// InitrdPath is the next boot's initrd path, same convention.
	InitrdPath string
	// Options is the kernel command line for the next boot.
	Options string
	// ConfigPath is the boot-loader configuration file (grub.cfg, a
	// loader entry, ...) that pcr-9 "boot-entry file" events measure.
	ConfigPath string
}

// Context is the read-only set of inputs available to a rehash rule.
type Context struct {
	// Alg is the target algorithm for the recomputed digest.
	Alg tpmalg.Descriptor

	// NextBoot describes the boot being predicted. Nil makes the grub
	// command, systemd and kernel initrd-tag rules fall back to copy; the
	// EFI variable, shim variable, boot services image and grub file rules
	// still resolve against the variables and partition roots.
	NextBoot *BootEntry

	// SystemPartitionRoot is the mount point (or rooted path) under which
	// "system partition" (rootfs/boot) file references resolve.
	SystemPartitionRoot string
	// EFIPartitionRoot is the mount point under which "EFI partition"
	// (ESP) file references resolve.
	EFIPartitionRoot string

	// Vars reads EFI runtime variables for EFI-variable and shim-variable
	// rehash rules. Nil falls back to efiruntime.Live{}.
	Vars efiruntime.VariableProvider

	// FS is the filesystem collaborator used for all file reads. Nil
	// falls back to vfs.Default.
	FS vfs.FS

	// GoContext is threaded through to efiruntime's ReadVariable calls.
	GoContext context.Context
}

func (c *Context) vars() efiruntime.VariableProvider {
	if c.Vars != nil {
		return c.Vars
	}
	return efiruntime.Live{}
}

func (c *Context) fs() vfs.FS {
	if c.FS != nil {
		return c.FS
	}
	return vfs.Default
}

func (c *Context) goContext() context.Context {
	if c.GoContext != nil {
		return c.GoContext
	}
	return context.Background()
}
