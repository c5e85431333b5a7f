// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package block implements the block verifier and the chunk/encrypt/
// verify/upload/commit pipeline (C11), per spec §4.9.
package block

import (
	"context"
	"encoding/base64"
	"sync"

	"storj.io/drivesync/pkg/driveapi"
	"storj.io/drivesync/pkg/driveerrs"
	"storj.io/drivesync/pkg/drivenode"
)

type verificationMaterial struct {
	VerificationCode []byte
	ContentKeyPacket []byte
}

type verificationResponse struct {
	VerificationCode string `json:"verificationCode"`
	ContentKeyPacket string `json:"base64ContentKeyPacket"`
}

// BlockVerifier fetches a revision's verification material once and reuses
// it for every block of that revision, per spec §4.9.
type BlockVerifier struct {
	transport driveapi.Transport
	crypto    driveapi.CryptoProvider

	mu    sync.Mutex
	cache map[drivenode.RevisionUID]verificationMaterial
}

// NewBlockVerifier builds a BlockVerifier.
func NewBlockVerifier(transport driveapi.Transport, crypto driveapi.CryptoProvider) *BlockVerifier {
	return &BlockVerifier{transport: transport, crypto: crypto, cache: make(map[drivenode.RevisionUID]verificationMaterial)}
}

func (v *BlockVerifier) materialFor(ctx context.Context, revisionUID drivenode.RevisionUID) (verificationMaterial, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if m, ok := v.cache[revisionUID]; ok {
		return m, nil
	}

	_, _, revisionID, err := revisionUID.Split()
	if err != nil {
		return verificationMaterial{}, err
	}
	var resp verificationResponse
	if err := v.transport.Get(ctx, "/revisions/"+revisionID+"/verification", &resp); err != nil {
		return verificationMaterial{}, err
	}
	code, err := base64.StdEncoding.DecodeString(resp.VerificationCode)
	if err != nil {
		return verificationMaterial{}, driveerrs.Validation.Wrap(err)
	}
	packet, err := base64.StdEncoding.DecodeString(resp.ContentKeyPacket)
	if err != nil {
		return verificationMaterial{}, driveerrs.Validation.Wrap(err)
	}

	m := verificationMaterial{VerificationCode: code, ContentKeyPacket: packet}
	v.cache[revisionUID] = m
	return m, nil
}

// VerifyBlock decrypts encryptedBlock with the revision's content key
// packet, catching bit-flip style corruption as driveerrs.Integrity, then
// XOR-combines the revision's verification code with encryptedBlock
// (zero-padded on length mismatch) to produce a verification token, per
// spec §4.9.
func (v *BlockVerifier) VerifyBlock(ctx context.Context, revisionUID drivenode.RevisionUID, encryptedBlock []byte) ([]byte, error) {
	material, err := v.materialFor(ctx, revisionUID)
	if err != nil {
		return nil, err
	}
	if _, err := v.crypto.DecryptBlock(ctx, encryptedBlock, material.ContentKeyPacket); err != nil {
		return nil, driveerrs.Integrity.Wrap(err)
	}
	return xorZeroPad(material.VerificationCode, encryptedBlock), nil
}

func xorZeroPad(a, b []byte) []byte {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		var x, y byte
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		out[i] = x ^ y
	}
	return out
}
