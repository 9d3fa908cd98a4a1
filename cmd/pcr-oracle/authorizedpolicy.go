// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package main

import (
	"flag"
	"fmt"

	"github.com/canonical/go-tpm2"

	"github.com/canonical/pcr-oracle/internal/envelope"
	"github.com/canonical/pcr-oracle/internal/platform"
	"github.com/canonical/pcr-oracle/internal/policy"
	"github.com/canonical/pcr-oracle/internal/rsakey"
)

// cmdAuthorizedPolicy dispatches the three authorized-policy verbs named in
// spec.md §6: create (generate the RSA authorizing key pair), seal-secret
// (seal under authorized_policy(pubkey), seeded with one signed pcr_policy
// entry) and unseal-secret (identical to the top-level driver, since the
// tpm2-key-file envelope it always produces already carries every program
// to try).
func cmdAuthorizedPolicy(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("authorized-policy requires a verb: create, seal-secret or unseal-secret")
	}
	verb, rest := args[0], args[1:]
	switch verb {
	case "create":
		return cmdAuthorizedPolicyCreate(rest)
	case "seal-secret":
		return cmdAuthorizedPolicySeal(rest)
	case "unseal-secret":
		return cmdAuthorizedPolicyUnseal(rest)
	default:
		return fmt.Errorf("authorized-policy: unknown verb %q", verb)
	}
}

func cmdAuthorizedPolicyCreate(args []string) error {
	fs := flag.NewFlagSet("authorized-policy create", flag.ExitOnError)
	bits := fs.Int("bits", 2048, "RSA modulus size in bits")
	privateKeyPath := fs.String("private-key", "", "path to write the PEM private key")
	publicKeyPath := fs.String("public-key", "", "path to write the PEM public key")
	fs.Parse(args)

	if *privateKeyPath == "" || *publicKeyPath == "" {
		return fmt.Errorf("authorized-policy create requires --private-key and --public-key")
	}

	key, err := rsakey.Generate(*bits)
	if err != nil {
		return err
	}

	privPEM, err := key.PrivatePEM()
	if err != nil {
		return err
	}
	if err := writeFile(*privateKeyPath, privPEM); err != nil {
		return err
	}

	pubPEM, err := key.PublicPEM()
	if err != nil {
		return err
	}
	return writeFile(*publicKeyPath, pubPEM)
}

func cmdAuthorizedPolicySeal(args []string) error {
	fs := flag.NewFlagSet("authorized-policy seal-secret", flag.ExitOnError)
	publicKeyPath := fs.String("public-key", "", "PEM-encoded RSA public key authorizing this policy")
	signedPolicyPath := fs.String("signed-policy", "", "TPMT_SIGNATURE blob produced by sign-policy")
	name := fs.String("name", "default", "name of this authPolicy entry")
	input := fs.String("input", "", "path to the plaintext secret")
	output := fs.String("output", "", "path to write the sealed secret envelope")
	fs.Parse(args)

	if *publicKeyPath == "" || *signedPolicyPath == "" || *input == "" || *output == "" {
		return fmt.Errorf("authorized-policy seal-secret requires --public-key, --signed-policy, --input and --output")
	}

	pubKeyData, err := readFile(*publicKeyPath)
	if err != nil {
		return err
	}
	pubKey, err := rsakey.LoadPublic(*publicKeyPath, pubKeyData)
	if err != nil {
		return err
	}
	tpmPubKey := pubKey.TPMPublic()

	sigData, err := readFile(*signedPolicyPath)
	if err != nil {
		return err
	}
	sig, err := envelope.DecodeLegacySignedPolicy(sigData)
	if err != nil {
		return err
	}

	prog, err := envelope.AuthorizePolicyProgram(tpmPubKey, nil, sig)
	if err != nil {
		return err
	}

	conn, err := connectTPM(&predictFlags{})
	if err != nil {
		return err
	}
	defer conn.Close()

	builder := &policy.Builder{TPM: conn.TPM()}
	authPolicyDigest, err := builder.AuthorizedPolicy(tpmPubKey)
	if err != nil {
		return fmt.Errorf("cannot compute authorized policy digest: %w", err)
	}

	secret, err := readFile(*input)
	if err != nil {
		return err
	}

	public, private, err := createSealedObject(conn.TPM(), authPolicyDigest, secret)
	if err != nil {
		return err
	}

	envelopeBytes, err := platform.TPM2KeyFile.WriteSealedSecret(platform.SealedSecretInput{
		Public:  public,
		Private: private,
		AuthPolicy: []envelope.NamedAuthPolicy{
			{Name: *name, Policy: prog},
		},
	})
	if err != nil {
		return err
	}
	return writeFile(*output, envelopeBytes)
}

func cmdAuthorizedPolicyUnseal(args []string) error {
	fs := flag.NewFlagSet("authorized-policy unseal-secret", flag.ExitOnError)
	tpmDevice := fs.String("tpm-device", "", "TPM device path (default: /dev/tpmrm0)")
	input := fs.String("input", "", "path to the sealed secret envelope")
	output := fs.String("output", "", "path to write the unsealed secret")
	fs.Parse(args)

	if *input == "" || *output == "" {
		return fmt.Errorf("authorized-policy unseal-secret requires --input and --output")
	}

	pf := &predictFlags{tpmDevice: *tpmDevice}
	return runUnseal(pf, *input, *output, tpm2.PCRSelectionList{})
}
