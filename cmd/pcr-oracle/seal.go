// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package main

import (
	"flag"
	"fmt"
	"sort"

	"github.com/canonical/go-tpm2"

	"github.com/canonical/pcr-oracle/internal/platform"
	"github.com/canonical/pcr-oracle/internal/policy"
	"github.com/canonical/pcr-oracle/internal/rehash"
	"github.com/canonical/pcr-oracle/internal/srk"
)

// sealedKeyedHashTemplate is the keyed-hash data object every secret in
// this repository is sealed as: AttrFixedTPM|AttrFixedParent, a null
// keyed-hash scheme (no HMAC key, plain data blob) and the policy digest
// that must be satisfied to unseal it, mirroring
// secboot/tpm2.makeSealedKeyTemplate.
func sealedKeyedHashTemplate(authPolicy tpm2.Digest) *tpm2.Public {
	return &tpm2.Public{
		Type:       tpm2.ObjectTypeKeyedHash,
		NameAlg:    tpm2.HashAlgorithmSHA256,
		Attrs:      tpm2.AttrFixedTPM | tpm2.AttrFixedParent,
		AuthPolicy: authPolicy,
		Params: &tpm2.PublicParamsU{
			KeyedHashDetail: &tpm2.KeyedHashParams{
				Scheme: tpm2.KeyedHashScheme{Scheme: tpm2.KeyedHashSchemeNull},
			},
		},
	}
}

// createSealedObject loads the SRK and creates a new sealed data object
// carrying secretData, protected by authPolicy.
func createSealedObject(tpm *tpm2.TPMContext, authPolicy tpm2.Digest, secretData []byte) (*tpm2.Public, tpm2.Private, error) {
	srkContext, transient, err := srk.Load(tpm)
	if err != nil {
		return nil, nil, err
	}
	if transient {
		defer tpm.FlushContext(srkContext)
	}

	sensitive := tpm2.SensitiveCreate{Data: secretData}
	template := sealedKeyedHashTemplate(authPolicy)

	priv, pub, _, _, _, err := tpm.Create(srkContext, &sensitive, template, nil, nil, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("TPM2_Create failed: %w", err)
	}
	return pub, priv, nil
}

func cmdSealSecret(args []string) error {
	fs := flag.NewFlagSet("seal-secret", flag.ExitOnError)
	pf := addPredictFlags(fs, true)
	input := fs.String("input", "", "path to the plaintext secret")
	output := fs.String("output", "", "path to write the sealed secret envelope")
	targetName := fs.String("target-platform", "", "envelope format: legacy-grub, tpm2-key-file, systemd-json")
	fs.Parse(args)

	target, err := platform.Parse(*targetName)
	if err != nil {
		return err
	}
	if *input == "" || *output == "" {
		return fmt.Errorf("seal-secret requires --input and --output")
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

	secret, err := readFile(*input)
	if err != nil {
		return err
	}

	public, private, err := createSealedObject(conn.TPM(), digest, secret)
	if err != nil {
		return err
	}

	envelope, err := target.WriteSealedSecret(platform.SealedSecretInput{
		Public:    public,
		Private:   private,
		Selection: pcrSelectionList(ctx, pcrs),
	})
	if err != nil {
		return err
	}
	return writeFile(*output, envelope)
}

// pcrSelectionList renders pcrs (sorted ascending) as a single-bank
// TPML_PCR_SELECTION under ctx's algorithm.
func pcrSelectionList(ctx *rehash.Context, pcrs []int) tpm2.PCRSelectionList {
	sorted := append([]int(nil), pcrs...)
	sort.Ints(sorted)
	return tpm2.PCRSelectionList{{
		Hash:   tpm2.HashAlgorithmId(ctx.Alg.ID),
		Select: tpm2.PCRSelect(sorted),
	}}
}
