// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package main

import (
	"crypto/sha256"
	"flag"
	"fmt"

	"github.com/canonical/go-tpm2/mu"

	"github.com/canonical/pcr-oracle/internal/envelope"
	"github.com/canonical/pcr-oracle/internal/policy"
	"github.com/canonical/pcr-oracle/internal/rsakey"
)

// cmdPolicySignSystemd implements policy-sign-systemd: the systemd-json
// codec's only write path, since systemd_write_signed_policy is an
// acknowledged gap in the source this repository reproduces (spec.md §9).
// It predicts a bank, computes pcr_policy, signs it, and merges the result
// into the JSON document at --output, keyed by algorithm name and merging
// into any existing entry with the same policy digest.
func cmdPolicySignSystemd(args []string) error {
	fs := flag.NewFlagSet("policy-sign-systemd", flag.ExitOnError)
	pf := addPredictFlags(fs, true)
	privateKeyPath := fs.String("private-key", "", "PEM-encoded RSA private key")
	output := fs.String("output", "", "path to the systemd PCR signature JSON file")
	fs.Parse(args)

	if *privateKeyPath == "" || *output == "" {
		return fmt.Errorf("policy-sign-systemd requires --private-key and --output")
	}

	keyData, err := readFile(*privateKeyPath)
	if err != nil {
		return err
	}
	key, err := rsakey.LoadPrivate(*privateKeyPath, keyData)
	if err != nil {
		return err
	}

	_, pcrs, ctx, err := pf.resolve()
	if err != nil {
		return err
	}
	bank, err := predictBank(pf, ctx, pcrs)
	if err != nil {
		return err
	}

	conn, err := connectTPM(pf)
	if err != nil {
		return err
	}
	defer conn.Close()

	builder := &policy.Builder{TPM: conn.TPM()}
	digest, err := builder.PCRPolicy(bank)
	if err != nil {
		return fmt.Errorf("cannot compute pcr policy: %w", err)
	}

	sigBytes, err := policy.Sign(key, digest)
	if err != nil {
		return err
	}

	pubBytes, err := mu.MarshalToBytes(key.TPMPublic())
	if err != nil {
		return fmt.Errorf("cannot marshal authorizing public key: %w", err)
	}
	fingerprint := sha256.Sum256(pubBytes)

	doc, err := loadOrEmptySystemdDocument(*output)
	if err != nil {
		return err
	}
	entry := envelope.NewSystemdEntry(pcrs, fingerprint[:], digest, sigBytes)
	doc.AddEntry(ctx.Alg.Name, entry)

	encoded, err := envelope.EncodeSystemdJSON(doc)
	if err != nil {
		return err
	}
	return writeFile(*output, encoded)
}

func loadOrEmptySystemdDocument(path string) (envelope.SystemdDocument, error) {
	data, err := readFile(path)
	if err != nil {
		return envelope.SystemdDocument{}, nil
	}
	doc, err := envelope.DecodeSystemdJSON(data)
	if err != nil {
		return nil, err
	}
	return doc, nil
}
