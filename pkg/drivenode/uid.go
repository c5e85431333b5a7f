// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package drivenode holds the core domain value types from spec §3: node
// and revision identifiers, the Node/NodeKeys/Revision records, the Event
// union, and the generic Result box used for decrypted, verifiable fields.
package drivenode

import (
	"strings"

	"storj.io/drivesync/pkg/driveerrs"
)

// sep is the bijective separator used by NodeUID/RevisionUID, chosen (as
// the teacher's path/segment codecs do) to be a byte that practically
// never appears in a volume/node/revision id.
const sep = "~"

// NodeUID is volumeID⟂nodeID.
type NodeUID string

// RevisionUID is volumeID⟂nodeID⟂revisionID.
type RevisionUID string

// NewNodeUID joins a volume and node id into a NodeUID.
func NewNodeUID(volumeID, nodeID string) NodeUID {
	return NodeUID(volumeID + sep + nodeID)
}

// Split decomposes a NodeUID into its volume and node id. It fails with a
// driveerrs.Validation-classed error on malformed input.
func (u NodeUID) Split() (volumeID, nodeID string, err error) {
	parts := strings.SplitN(string(u), sep, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", driveerrs.Validation.New("malformed node uid %q", u)
	}
	return parts[0], parts[1], nil
}

// VolumeID returns the volume id component, ignoring malformed input.
func (u NodeUID) VolumeID() string {
	volumeID, _, _ := u.Split()
	return volumeID
}

// NewRevisionUID joins a volume, node, and revision id into a RevisionUID.
func NewRevisionUID(volumeID, nodeID, revisionID string) RevisionUID {
	return RevisionUID(volumeID + sep + nodeID + sep + revisionID)
}

// Split decomposes a RevisionUID into its volume, node, and revision id.
func (u RevisionUID) Split() (volumeID, nodeID, revisionID string, err error) {
	parts := strings.SplitN(string(u), sep, 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", driveerrs.Validation.New("malformed revision uid %q", u)
	}
	return parts[0], parts[1], parts[2], nil
}

// NodeUID returns the NodeUID this revision belongs to.
func (u RevisionUID) NodeUID() (NodeUID, error) {
	volumeID, nodeID, _, err := u.Split()
	if err != nil {
		return "", err
	}
	return NewNodeUID(volumeID, nodeID), nil
}
