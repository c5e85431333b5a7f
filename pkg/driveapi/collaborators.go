// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package driveapi defines the collaborator contracts the synchronization
// core requires from outside, per spec §6. None of these are implemented
// here: transport, cryptography, telemetry sinks, and the shares service
// are deliberately out of scope (spec §1), reduced to the interface the
// core consumes.
package driveapi

import (
	"context"
	"io"

	"storj.io/drivesync/pkg/drivenode"
)

// HTTPError is returned by Transport when the server responds with a
// non-2xx status, per spec §6.
type HTTPError struct {
	StatusCode int
}

// Error implements error.
func (e *HTTPError) Error() string {
	return "api http error"
}

// Transport is the raw HTTP collaborator, per spec §6. Implementations
// surface HTTPError/NotFoundError/RateLimitedError/ValidationError as
// needed; the core never constructs a net/http.Client directly.
type Transport interface {
	Get(ctx context.Context, path string, out interface{}) error
	Post(ctx context.Context, path string, body, out interface{}) error
	Put(ctx context.Context, path string, body, out interface{}) error
	Delete(ctx context.Context, path string, body interface{}) error
}

// VerificationStatus is the crypto provider's signature-check outcome.
type VerificationStatus int

// Verification statuses, per spec §6.
const (
	SignedAndValid VerificationStatus = iota
	SignedAndInvalid
	NotSigned
)

// CryptoProvider is the cryptographic collaborator, per spec §6. Key
// derivation, name/content encryption, and signature verification are
// deliberately out of scope (spec §1); the core only consumes this
// interface.
type CryptoProvider interface {
	GenerateNodeKeys(ctx context.Context) (drivenode.NodeKeys, error)
	GenerateHashKey(ctx context.Context) ([]byte, error)
	HashName(ctx context.Context, name string, hashKey []byte) (string, error)
	EncryptName(ctx context.Context, name string, parentKeys drivenode.NodeKeys) ([]byte, error)
	DecryptName(ctx context.Context, encrypted []byte, parentKeys drivenode.NodeKeys) (string, VerificationStatus, error)
	WrapPassphrase(ctx context.Context, passphrase, parentPublicKey []byte) ([]byte, error)
	UnwrapPassphrase(ctx context.Context, wrappedPassphrase, parentPrivateKey []byte) ([]byte, error)
	EncryptExtendedAttributes(ctx context.Context, attrs []byte, keys drivenode.NodeKeys) ([]byte, error)
	SignManifest(ctx context.Context, manifest []byte, keys drivenode.NodeKeys) ([]byte, error)
	EncryptBlock(ctx context.Context, plaintext io.Reader, sessionKey []byte) (io.Reader, error)
	DecryptBlock(ctx context.Context, ciphertext []byte, sessionKey []byte) ([]byte, error)
}

// Account resolves email addresses to verifier public keys, per spec §6.
type Account interface {
	VerifierPublicKey(ctx context.Context, email drivenode.Email) ([]byte, error)
}

// MyFilesRoot identifies the caller's own top-level volume and root node.
type MyFilesRoot struct {
	VolumeID string
	RootNodeID string
}

// SharesService is the shares collaborator, per spec §6.
type SharesService interface {
	GetMyFilesIDs(ctx context.Context) (MyFilesRoot, error)
	GetSharePrivateKey(ctx context.Context, shareID string) ([]byte, error)
	GetVolumeMetricContext(ctx context.Context, volumeID string) (string, error)
	IsOwnVolume(ctx context.Context, volumeID string) (bool, error)
	GetMyFilesShareMemberEmailKey(ctx context.Context) ([]byte, error)
	GetContextShareMemberEmailKey(ctx context.Context, shareID string) ([]byte, error)
}

// LogRecord is one structured telemetry event, per spec §6.
type LogRecord struct {
	Name   string
	Fields map[string]interface{}
}

// Telemetry is the closed-event-name telemetry sink, per spec §6.
type Telemetry interface {
	LogEvent(ctx context.Context, record LogRecord)
}

// LatestEventIDProvider lets a caller resume polling across process
// restarts, per spec §6.
type LatestEventIDProvider interface {
	GetLatestEventID(ctx context.Context, scopeID string) (string, bool, error)
}

// ClientIdentity is the SPEC_FULL addition resolving spec §9's own-draft
// open question: a stable, optional client id. When Get returns ok=false,
// own-draft detection must never succeed (spec §9).
type ClientIdentity interface {
	Get() (clientID string, ok bool)
}
