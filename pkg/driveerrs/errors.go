// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package driveerrs defines the error taxonomy the synchronization core
// surfaces to callers, per spec §6/§7.
package driveerrs

import (
	"fmt"

	"github.com/zeebo/errs"
)

// Class families. Each is a distinct errs.Class so callers can use
// errs.Is / errors.As-style matching without string comparisons.
var (
	// Base is the root of every error this module returns.
	Base = errs.Class("drivesync")

	// Validation wraps caller-supplied bad data or state.
	Validation = errs.Class("validation")

	// AlreadyExists wraps write-path naming conflicts.
	AlreadyExists = errs.Class("already exists")

	// Aborted wraps cancellation via context.
	Aborted = errs.Class("aborted")

	// RateLimited wraps transient 429-equivalent responses.
	RateLimited = errs.Class("rate limited")

	// Server wraps 5xx-equivalent responses.
	Server = errs.Class("server error")

	// Connection wraps network/offline failures.
	Connection = errs.Class("connection error")

	// Decryption wraps content/name decryption failures.
	Decryption = errs.Class("decryption error")

	// Integrity wraps block/manifest integrity failures.
	Integrity = errs.Class("integrity error")

	// Verification wraps signature verification failures (keyAuthor/nameAuthor).
	Verification = errs.Class("verification error")

	// Corrupted wraps cache deserialization failures.
	Corrupted = errs.Class("corrupted cache entry")

	// Configuration wraps missing required collaborator configuration.
	Configuration = errs.Class("configuration error")

	// NotFound wraps a cache miss.
	NotFound = errs.Class("not found")
)

// NotFoundError is returned by entitycache.Store.Get when the key is absent.
func NotFoundError(key string) error {
	return NotFound.New("key %q", key)
}

// CorruptedEntity is returned when a cached node fails schema validation on read.
func CorruptedEntity(key string, cause error) error {
	return Corrupted.Wrap(fmt.Errorf("entity %q: %w", key, cause))
}

// CorruptedKeys is returned when a cached key record is missing its passphrase.
func CorruptedKeys(uid string) error {
	return Corrupted.New("keys %q: missing passphrase", uid)
}

// ServerStatus describes the status code attached to a ServerError.
type ServerStatus struct {
	StatusCode int
}

// NodeAlreadyExistsValidationError is raised by upload draft creation when
// the conflicting node belongs to someone other than the current client (or
// draft-override was not requested).
type NodeAlreadyExistsValidationError struct {
	ExistingNodeUID  string
	HasDraftConflict bool
}

// Error implements error.
func (e *NodeAlreadyExistsValidationError) Error() string {
	return AlreadyExists.Wrap(fmt.Errorf("node already exists: existing=%q draftConflict=%v",
		e.ExistingNodeUID, e.HasDraftConflict)).Error()
}

// Unwrap allows AlreadyExists.Has(err) to succeed.
func (e *NodeAlreadyExistsValidationError) Unwrap() error {
	return AlreadyExists.New("%s", e.ExistingNodeUID)
}

// ResultErrors aggregates per-uid failures from a batch mutation
// (trash/restore/delete), per spec §4.8 and §6.
type ResultErrors struct {
	NodeErrors map[string]string
}

// Error implements error.
func (e *ResultErrors) Error() string {
	return fmt.Sprintf("drivesync: %d node operation(s) failed: %v", len(e.NodeErrors), e.NodeErrors)
}

// NewResultErrors builds a *ResultErrors, returning nil if the map is empty
// so callers can do `if err := NewResultErrors(m); err != nil { ... }`.
func NewResultErrors(nodeErrors map[string]string) error {
	if len(nodeErrors) == 0 {
		return nil
	}
	return &ResultErrors{NodeErrors: nodeErrors}
}
