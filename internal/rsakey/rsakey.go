// This file is part of pcr-oracle
// Copyright 2021 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

// Package rsakey loads and signs with the RSA key used to authorize
// policies: PEM-encoded, 1024/2048/3072/4096 bit, RSASSA-PKCS1v15/SHA-256.
package rsakey

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/canonical/go-tpm2"
)

var supportedBitSizes = map[int]bool{1024: true, 2048: true, 3072: true, 4096: true}

// Key is an RSA key handle loaded from a PEM file, public or private.
type Key struct {
	Path      string
	Public    *rsa.PublicKey
	private   *rsa.PrivateKey
	IsPrivate bool
}

// Generate creates a fresh RSA key pair of the given modulus size, for
// authorized-policy create.
func Generate(bits int) (*Key, error) {
	if !supportedBitSizes[bits] {
		return nil, fmt.Errorf("unsupported RSA modulus size %d bits", bits)
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("cannot generate RSA key: %w", err)
	}
	return &Key{Public: &priv.PublicKey, private: priv, IsPrivate: true}, nil
}

// PrivatePEM renders the private key as a PKCS#8 PEM block.
func (k *Key) PrivatePEM() ([]byte, error) {
	if !k.IsPrivate {
		return nil, fmt.Errorf("key has no private component")
	}
	der, err := x509.MarshalPKCS8PrivateKey(k.private)
	if err != nil {
		return nil, fmt.Errorf("cannot marshal RSA private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// PublicPEM renders the public key as a PKIX PEM block.
func (k *Key) PublicPEM() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(k.Public)
	if err != nil {
		return nil, fmt.Errorf("cannot marshal RSA public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// LoadPrivate decodes a PEM-encoded PKCS#1 or PKCS#8 RSA private key.
func LoadPrivate(path string, data []byte) (*Key, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%s: not a PEM file", path)
	}

	priv, err := parsePrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if !supportedBitSizes[priv.N.BitLen()] {
		return nil, fmt.Errorf("%s: unsupported RSA modulus size %d bits", path, priv.N.BitLen())
	}

	return &Key{Path: path, Public: &priv.PublicKey, private: priv, IsPrivate: true}, nil
}

// LoadPublic decodes a PEM-encoded PKIX or PKCS#1 RSA public key.
func LoadPublic(path string, data []byte) (*Key, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%s: not a PEM file", path)
	}

	pub, err := parsePublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if !supportedBitSizes[pub.N.BitLen()] {
		return nil, fmt.Errorf("%s: unsupported RSA modulus size %d bits", path, pub.N.BitLen())
	}

	return &Key{Path: path, Public: pub, IsPrivate: false}, nil
}

func parsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if k, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return k, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("cannot parse RSA private key: %w", err)
	}
	rsaKey, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key is not RSA")
	}
	return rsaKey, nil
}

func parsePublicKey(der []byte) (*rsa.PublicKey, error) {
	if k, err := x509.ParsePKCS1PublicKey(der); err == nil {
		return k, nil
	}
	k, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("cannot parse RSA public key: %w", err)
	}
	rsaKey, ok := k.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("key is not RSA")
	}
	return rsaKey, nil
}

// Sign produces an RSASSA-PKCS1v15/SHA-256 signature over digest, which
// must already be a 32-byte SHA-256 hash (per spec.md §4.5, the signed
// artifact is the raw pcr-policy digest, not a re-hash of it).
func (k *Key) Sign(digest []byte) ([]byte, error) {
	if !k.IsPrivate {
		return nil, fmt.Errorf("%s: key has no private component", k.Path)
	}
	if len(digest) != sha256.Size {
		return nil, fmt.Errorf("digest must be %d bytes, got %d", sha256.Size, len(digest))
	}
	return rsa.SignPKCS1v15(rand.Reader, k.private, crypto.SHA256, digest)
}

// Verify checks an RSASSA-PKCS1v15/SHA-256 signature.
func (k *Key) Verify(digest, sig []byte) error {
	return rsa.VerifyPKCS1v15(k.Public, crypto.SHA256, digest, sig)
}

// TPMPublic renders the public component as a *tpm2.Public suitable for
// TPMContext.LoadExternal, the shape TPM2_PolicyAuthorize's authorizing key
// and TPM2_VerifySignature need. Unrestricted signing key, RSASSA/SHA-256
// fixed scheme, mirroring createTPMPublicAreaForECDSAKey's construction for
// the ECC case.
func (k *Key) TPMPublic() *tpm2.Public {
	return &tpm2.Public{
		Type:    tpm2.ObjectTypeRSA,
		NameAlg: tpm2.HashAlgorithmSHA256,
		Attrs:   tpm2.AttrSensitiveDataOrigin | tpm2.AttrUserWithAuth | tpm2.AttrSign,
		Params: &tpm2.PublicParamsU{
			RSADetail: &tpm2.RSAParams{
				Symmetric: tpm2.SymDefObject{Algorithm: tpm2.SymObjectAlgorithmNull},
				Scheme: tpm2.RSAScheme{
					Scheme:  tpm2.RSASchemeRSASSA,
					Details: &tpm2.AsymSchemeU{RSASSA: &tpm2.SigSchemeRSASSA{HashAlg: tpm2.HashAlgorithmSHA256}},
				},
				KeyBits:  uint16(k.Public.N.BitLen()),
				Exponent: uint32(k.Public.E),
			},
		},
		Unique: &tpm2.PublicIDU{RSA: tpm2.PublicKeyRSA(k.Public.N.Bytes())},
	}
}
