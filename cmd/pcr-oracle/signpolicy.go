// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/canonical/go-tpm2"

	"github.com/canonical/pcr-oracle/internal/envelope"
	"github.com/canonical/pcr-oracle/internal/policy"
	"github.com/canonical/pcr-oracle/internal/rsakey"
)

// cmdSignPolicy signs a pcr_policy digest with an RSA private key, per
// spec.md §4.5's sign(pcr_digest, private_key). --input, when given, names
// a file holding the raw 32-byte digest to sign directly (as dumped by a
// prior pcr-policy computation); when omitted, the digest is computed fresh
// by predicting a bank from --algo/--pcrs and the event log, then driving a
// trial session through TPM2_PolicyPCR/TPM2_PolicyGetDigest. --name is
// never written into the signature blob itself (the legacy signed-policy
// file is always a bare TPMT_SIGNATURE, per spec.md §6's Files list); it is
// only echoed back so the operator can track which authPolicy entry this
// signature is destined to become.
func cmdSignPolicy(args []string) error {
	fs := flag.NewFlagSet("sign-policy", flag.ExitOnError)
	pf := addPredictFlags(fs, false)
	privateKeyPath := fs.String("private-key", "", "PEM-encoded RSA private key")
	input := fs.String("input", "", "path to a precomputed pcr-policy digest (optional)")
	output := fs.String("output", "", "path to write the TPMT_SIGNATURE blob")
	name := fs.String("name", "", "policy name this signature will be filed under")
	fs.Parse(args)

	if *privateKeyPath == "" || *output == "" {
		return fmt.Errorf("sign-policy requires --private-key and --output")
	}

	keyData, err := readFile(*privateKeyPath)
	if err != nil {
		return err
	}
	key, err := rsakey.LoadPrivate(*privateKeyPath, keyData)
	if err != nil {
		return err
	}

	digest, err := resolvePolicyDigest(pf, *input)
	if err != nil {
		return err
	}

	sigBytes, err := policy.Sign(key, digest)
	if err != nil {
		return err
	}
	sig := policy.BuildSignature(sigBytes)

	blob, err := envelope.EncodeLegacySignedPolicy(sig)
	if err != nil {
		return err
	}
	if *name != "" {
		fmt.Fprintf(os.Stderr, "pcr-oracle: signed policy for %q written to %s\n", *name, *output)
	}
	return writeFile(*output, blob)
}

func resolvePolicyDigest(pf *predictFlags, inputPath string) (tpm2.Digest, error) {
	if inputPath != "" {
		data, err := readFile(inputPath)
		if err != nil {
			return nil, err
		}
		return tpm2.Digest(data), nil
	}

	_, pcrs, ctx, err := pf.resolve()
	if err != nil {
		return nil, err
	}
	bank, err := predictBank(pf, ctx, pcrs)
	if err != nil {
		return nil, err
	}

	conn, err := connectTPM(pf)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	builder := &policy.Builder{TPM: conn.TPM()}
	return builder.PCRPolicy(bank)
}
