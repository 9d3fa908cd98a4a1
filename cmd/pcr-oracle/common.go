// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/canonical/pcr-oracle/internal/pcrbank"
	"github.com/canonical/pcr-oracle/internal/pcrspec"
	"github.com/canonical/pcr-oracle/internal/predict"
	"github.com/canonical/pcr-oracle/internal/rehash"
	"github.com/canonical/pcr-oracle/internal/tcglog"
	"github.com/canonical/pcr-oracle/internal/tpmalg"
	"github.com/canonical/pcr-oracle/internal/tpmclient"
)

// predictFlags are the --algo/--pcrs pair every command that touches a PCR
// bank takes, plus the next-boot/partition-root flags the re-hash engine
// needs to predict anything beyond a straight copy of firmware digests.
type predictFlags struct {
	algo        string
	pcrs        string
	eventLog    string
	tpmDevice   string
	nextImage   string
	nextInitrd  string
	nextOptions string
	bootConfig  string
	systemRoot  string
	efiRoot     string
}

func addPredictFlags(fs *flag.FlagSet, required bool) *predictFlags {
	f := &predictFlags{}
	fs.StringVar(&f.algo, "algo", "sha256", "PCR bank algorithm (sha1, sha256, sha384, sha512, sm3_256)")
	if required {
		fs.StringVar(&f.pcrs, "pcrs", "", "PCR spec: comma-separated indices and a-b ranges")
	} else {
		fs.StringVar(&f.pcrs, "pcrs", "0,2,4,7", "PCR spec: comma-separated indices and a-b ranges")
	}
	fs.StringVar(&f.eventLog, "event-log", "", "event log path (default: kernel's binary_bios_measurements)")
	fs.StringVar(&f.tpmDevice, "tpm-device", "", "TPM device path (default: /dev/tpmrm0)")
	fs.StringVar(&f.nextImage, "next-kernel", "", "next boot's kernel image path")
	fs.StringVar(&f.nextInitrd, "next-initrd", "", "next boot's initrd path")
	fs.StringVar(&f.nextOptions, "next-options", "", "next boot's kernel command line")
	fs.StringVar(&f.bootConfig, "boot-config", "", "next boot's boot-loader configuration file")
	fs.StringVar(&f.systemRoot, "system-partition", "/", "system partition mount point")
	fs.StringVar(&f.efiRoot, "efi-partition", "/boot/efi", "EFI system partition mount point")
	return f
}

// resolve builds the target algorithm, requested PCR list and rehash
// context this flag set describes.
func (f *predictFlags) resolve() (tpmalg.Descriptor, []int, *rehash.Context, error) {
	alg, ok := tpmalg.ByName(f.algo)
	if !ok {
		return tpmalg.Descriptor{}, nil, nil, fmt.Errorf("unknown algorithm %q", f.algo)
	}
	pcrs, err := pcrspec.Parse(f.pcrs)
	if err != nil {
		return tpmalg.Descriptor{}, nil, nil, err
	}

	var nextBoot *rehash.BootEntry
	if f.nextImage != "" || f.nextInitrd != "" || f.nextOptions != "" || f.bootConfig != "" {
		nextBoot = &rehash.BootEntry{
			ImagePath:  f.nextImage,
			InitrdPath: f.nextInitrd,
			Options:    f.nextOptions,
			ConfigPath: f.bootConfig,
		}
	}

	ctx := &rehash.Context{
		Alg:                 alg,
		NextBoot:            nextBoot,
		SystemPartitionRoot: f.systemRoot,
		EFIPartitionRoot:    f.efiRoot,
	}
	return alg, pcrs, ctx, nil
}

// predictBank replays the event log named by f into a fresh bank under
// ctx's algorithm, restricted to pcrs.
func predictBank(f *predictFlags, ctx *rehash.Context, pcrs []int) (*pcrbank.Bank, error) {
	bank, err := pcrbank.New(ctx.Alg, pcrs)
	if err != nil {
		return nil, err
	}

	rd, closer, err := tcglog.Open(f.eventLog)
	if err != nil {
		return nil, fmt.Errorf("cannot open event log: %w", err)
	}
	defer closer.Close()

	if err := predict.Replay(rd, bank, ctx, false); err != nil {
		return nil, fmt.Errorf("cannot predict pcr bank: %w", err)
	}
	return bank, nil
}

// connectTPM opens the TPM device named by f, defaulting to /dev/tpmrm0.
func connectTPM(f *predictFlags) (*tpmclient.Connection, error) {
	conn, err := tpmclient.Connect(f.tpmDevice)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to TPM: %w", err)
	}
	return conn, nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return data, nil
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	return nil
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "pcr-oracle: "+format+"\n", args...)
	os.Exit(1)
}
