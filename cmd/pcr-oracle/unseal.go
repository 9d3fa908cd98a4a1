// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package main

import (
	"flag"
	"fmt"

	"github.com/canonical/go-tpm2"

	"github.com/canonical/pcr-oracle/internal/platform"
	"github.com/canonical/pcr-oracle/internal/unseal"
)

func cmdUnsealSecret(args []string) error {
	fs := flag.NewFlagSet("unseal-secret", flag.ExitOnError)
	pf := addPredictFlags(fs, true)
	input := fs.String("input", "", "path to the sealed secret envelope")
	output := fs.String("output", "", "path to write the unsealed secret")
	fs.Parse(args)

	if *input == "" || *output == "" {
		return fmt.Errorf("unseal-secret requires --input and --output")
	}

	_, pcrs, ctx, err := pf.resolve()
	if err != nil {
		return err
	}

	return runUnseal(pf, *input, *output, pcrSelectionList(ctx, pcrs))
}

// runUnseal decodes the envelope at inputPath (auto-detecting format),
// drives the unseal driver against every candidate policy program it
// carries, and writes the secret to outputPath. selection is only
// consulted for the legacy format, which embeds no policy program of its
// own.
func runUnseal(pf *predictFlags, inputPath, outputPath string, selection tpm2.PCRSelectionList) error {
	data, err := readFile(inputPath)
	if err != nil {
		return err
	}

	decoded, err := platform.DecodeSealedSecret(data, selection)
	if err != nil {
		return err
	}

	conn, err := connectTPM(pf)
	if err != nil {
		return err
	}
	defer conn.Close()

	driver := &unseal.Driver{TPM: conn.TPM()}
	secret, err := driver.Unseal(decoded.Public, decoded.Private, decoded.Programs)
	if err != nil {
		return fmt.Errorf("cannot unseal secret: %w", err)
	}
	defer secret.Erase()

	return writeFile(outputPath, secret.Bytes())
}
