// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package drivenode

import "time"

// Type enumerates the kinds of node spec §3 recognizes.
type Type int

// Node types.
const (
	TypeFile Type = iota
	TypeFolder
	TypeAlbum
)

// MemberRole enumerates a node's direct member role, per spec §3.
type MemberRole int

// Member roles.
const (
	RoleInherited MemberRole = iota
	RoleViewer
	RoleEditor
	RoleAdmin
)

// Email is a verified or claimed author email address.
type Email string

// VerificationError is surfaced in place of a verified author when a
// signature check fails, per spec §6/§9.
type VerificationError struct {
	ClaimedAuthor Email
	Reason        string
}

// Error implements error.
func (e *VerificationError) Error() string {
	return "verification failed for " + string(e.ClaimedAuthor) + ": " + e.Reason
}

// InvalidNameError is surfaced in place of a decrypted name when decryption
// or schema validation fails.
type InvalidNameError struct {
	Reason string
}

// Error implements error.
func (e *InvalidNameError) Error() string {
	return "invalid name: " + e.Reason
}

// FolderExtra carries folder-only metadata.
type FolderExtra struct {
	ClaimedModificationTime *time.Time
}

// Node is the decrypted, cached view of one remote file/folder/album, per
// spec §3.
type Node struct {
	UID              NodeUID
	ParentUID        *NodeUID // absent for volume roots
	VolumeID         string
	Hash             *string // absent for roots
	CreationTime     time.Time
	TrashTime        *time.Time
	Type             Type
	MediaType        *string
	TotalStorageSize *int64
	ShareID          *string
	IsShared         bool
	DirectMemberRole MemberRole

	Name       Result[string]
	KeyAuthor  Result[Email]
	NameAuthor Result[Email]

	ActiveRevision *Result[Revision]
	Folder         *FolderExtra

	// IsStale is derived from event processing (C7), not part of the
	// server record; it is still part of the cached row so getNode can
	// decide whether to trust the cache without a second lookup.
	IsStale bool
}

// IsRoot reports whether n is a volume root (no parent).
func (n *Node) IsRoot() bool {
	return n.ParentUID == nil
}

// IsTrashed reports whether n currently carries a trash time.
func (n *Node) IsTrashed() bool {
	return n.TrashTime != nil
}
