// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package demobackend

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"storj.io/drivesync/pkg/driveapi"
	"storj.io/drivesync/pkg/drivenode"
)

// Crypto is a toy, fully reversible stand-in for the real client-side
// cryptography (spec §1/§6 place key derivation and encryption out of
// scope): names and blocks are XOR-folded against a fixed demo key
// instead of actually encrypted, which is enough to exercise every call
// the core makes without depending on a real crypto library the examples
// don't supply a Go binding for in this pack.
type Crypto struct{}

var demoXORKey = []byte("drivesync-demo-key")

func xorFold(data, key []byte) []byte {
	out := make([]byte, len(data))
	for i, c := range data {
		out[i] = c ^ key[i%len(key)]
	}
	return out
}

// GenerateNodeKeys implements driveapi.CryptoProvider.
func (Crypto) GenerateNodeKeys(ctx context.Context) (drivenode.NodeKeys, error) {
	return drivenode.NodeKeys{Passphrase: []byte(newID())}, nil
}

// GenerateHashKey implements driveapi.CryptoProvider.
func (Crypto) GenerateHashKey(ctx context.Context) ([]byte, error) {
	return []byte(newID()), nil
}

// HashName implements driveapi.CryptoProvider.
func (Crypto) HashName(ctx context.Context, name string, hashKey []byte) (string, error) {
	return hashName(name, hashKey), nil
}

// EncryptName implements driveapi.CryptoProvider.
func (Crypto) EncryptName(ctx context.Context, name string, parentKeys drivenode.NodeKeys) ([]byte, error) {
	return xorFold([]byte(name), demoXORKey), nil
}

// DecryptName implements driveapi.CryptoProvider.
func (Crypto) DecryptName(ctx context.Context, encrypted []byte, parentKeys drivenode.NodeKeys) (string, driveapi.VerificationStatus, error) {
	return string(xorFold(encrypted, demoXORKey)), driveapi.SignedAndValid, nil
}

// WrapPassphrase implements driveapi.CryptoProvider.
func (Crypto) WrapPassphrase(ctx context.Context, passphrase, parentPublicKey []byte) ([]byte, error) {
	return xorFold(passphrase, demoXORKey), nil
}

// UnwrapPassphrase implements driveapi.CryptoProvider.
func (Crypto) UnwrapPassphrase(ctx context.Context, wrappedPassphrase, parentPrivateKey []byte) ([]byte, error) {
	return xorFold(wrappedPassphrase, demoXORKey), nil
}

// EncryptExtendedAttributes implements driveapi.CryptoProvider.
func (Crypto) EncryptExtendedAttributes(ctx context.Context, attrs []byte, keys drivenode.NodeKeys) ([]byte, error) {
	return xorFold(attrs, demoXORKey), nil
}

// SignManifest implements driveapi.CryptoProvider.
func (Crypto) SignManifest(ctx context.Context, manifest []byte, keys drivenode.NodeKeys) ([]byte, error) {
	return xorFold(manifest, demoXORKey), nil
}

// EncryptBlock implements driveapi.CryptoProvider.
func (Crypto) EncryptBlock(ctx context.Context, plaintext io.Reader, sessionKey []byte) (io.Reader, error) {
	data, err := io.ReadAll(plaintext)
	if err != nil {
		return nil, err
	}
	key := sessionKey
	if len(key) == 0 {
		key = demoXORKey
	}
	return bytes.NewReader(xorFold(data, key)), nil
}

// DecryptBlock implements driveapi.CryptoProvider.
func (Crypto) DecryptBlock(ctx context.Context, ciphertext []byte, sessionKey []byte) ([]byte, error) {
	key := sessionKey
	if len(key) == 0 {
		key = demoXORKey
	}
	return xorFold(ciphertext, key), nil
}

func hashName(name string, hashKey []byte) string {
	h := sha256.Sum256(append([]byte(name), hashKey...))
	return hex.EncodeToString(h[:])
}
