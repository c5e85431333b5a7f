// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package nodecache

import (
	"time"

	msgpack "gopkg.in/vmihailenco/msgpack.v2"

	"storj.io/drivesync/pkg/drivenode"
)

// record is the stable textual (binary, via msgpack) form a Node is
// serialized to, per spec §4.2. Result[T] fields are flattened into an
// ok/value/reason group (plus a claimed value for the author fields) so a verification or decryption
// failure round-trips without losing the claimed value, per spec §9.
type record struct {
	UID              string
	ParentUID        *string
	VolumeID         string
	Hash             *string
	CreationTimeUnix int64
	TrashTimeUnix    *int64
	Type             int
	MediaType        *string
	TotalStorageSize *int64
	ShareID          *string
	IsShared         bool
	DirectMemberRole int

	NameOK      bool
	Name        string
	NameReason  string

	KeyAuthorOK      bool
	KeyAuthor        string
	KeyAuthorClaimed string
	KeyAuthorReason  string

	NameAuthorOK      bool
	NameAuthor        string
	NameAuthorClaimed string
	NameAuthorReason  string

	HasActiveRevision    bool
	ActiveRevisionOK     bool
	ActiveRevisionReason string
	ActiveRevision       *revisionRecord

	HasFolderExtra            bool
	FolderClaimedModTimeUnix  *int64

	IsStale bool
}

type revisionRecord struct {
	UID                         string
	State                       int
	CreationTimeUnix            int64
	StorageSize                 int64
	ClaimedSize                 *int64
	ClaimedModificationTimeUnix *int64
	ClaimedDigests              map[string]string
	Thumbnails                  []thumbnailRecord
}

type thumbnailRecord struct {
	Type string
	Size int64
}

func unixPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	u := t.Unix()
	return &u
}

func timePtr(u *int64) *time.Time {
	if u == nil {
		return nil
	}
	t := time.Unix(*u, 0).UTC()
	return &t
}

func toRecord(n *drivenode.Node) *record {
	r := &record{
		UID:              string(n.UID),
		VolumeID:         n.VolumeID,
		Hash:             n.Hash,
		CreationTimeUnix: n.CreationTime.Unix(),
		TrashTimeUnix:    unixPtr(n.TrashTime),
		Type:             int(n.Type),
		MediaType:        n.MediaType,
		TotalStorageSize: n.TotalStorageSize,
		ShareID:          n.ShareID,
		IsShared:         n.IsShared,
		DirectMemberRole: int(n.DirectMemberRole),
		IsStale:          n.IsStale,
	}
	if n.ParentUID != nil {
		p := string(*n.ParentUID)
		r.ParentUID = &p
	}

	if name, err := n.Name.Unwrap(); err != nil {
		r.NameOK = false
		r.NameReason = err.Error()
	} else {
		r.NameOK = true
		r.Name = name
	}

	if author, err := n.KeyAuthor.Unwrap(); err != nil {
		r.KeyAuthorOK = false
		r.KeyAuthorReason = err.Error()
		if ve, ok := err.(*drivenode.VerificationError); ok {
			r.KeyAuthorClaimed = string(ve.ClaimedAuthor)
		}
	} else {
		r.KeyAuthorOK = true
		r.KeyAuthor = string(author)
	}

	if author, err := n.NameAuthor.Unwrap(); err != nil {
		r.NameAuthorOK = false
		r.NameAuthorReason = err.Error()
		if ve, ok := err.(*drivenode.VerificationError); ok {
			r.NameAuthorClaimed = string(ve.ClaimedAuthor)
		}
	} else {
		r.NameAuthorOK = true
		r.NameAuthor = string(author)
	}

	if n.ActiveRevision != nil {
		r.HasActiveRevision = true
		if rev, err := n.ActiveRevision.Unwrap(); err != nil {
			r.ActiveRevisionOK = false
			r.ActiveRevisionReason = err.Error()
		} else {
			r.ActiveRevisionOK = true
			r.ActiveRevision = revisionToRecord(&rev)
		}
	}

	if n.Folder != nil {
		r.HasFolderExtra = true
		r.FolderClaimedModTimeUnix = unixPtr(n.Folder.ClaimedModificationTime)
	}

	return r
}

func revisionToRecord(rev *drivenode.Revision) *revisionRecord {
	rr := &revisionRecord{
		UID:                         string(rev.UID),
		State:                       int(rev.State),
		CreationTimeUnix:            rev.CreationTime.Unix(),
		StorageSize:                 rev.StorageSize,
		ClaimedSize:                 rev.ClaimedSize,
		ClaimedModificationTimeUnix: unixPtr(rev.ClaimedModificationTime),
		ClaimedDigests:              rev.ClaimedDigests,
	}
	for _, th := range rev.Thumbnails {
		rr.Thumbnails = append(rr.Thumbnails, thumbnailRecord{Type: th.Type, Size: th.Size})
	}
	return rr
}

func fromRecord(r *record) *drivenode.Node {
	n := &drivenode.Node{
		UID:              drivenode.NodeUID(r.UID),
		VolumeID:         r.VolumeID,
		Hash:             r.Hash,
		CreationTime:     time.Unix(r.CreationTimeUnix, 0).UTC(),
		TrashTime:        timePtr(r.TrashTimeUnix),
		Type:             drivenode.Type(r.Type),
		MediaType:        r.MediaType,
		TotalStorageSize: r.TotalStorageSize,
		ShareID:          r.ShareID,
		IsShared:         r.IsShared,
		DirectMemberRole: drivenode.MemberRole(r.DirectMemberRole),
		IsStale:          r.IsStale,
	}
	if r.ParentUID != nil {
		p := drivenode.NodeUID(*r.ParentUID)
		n.ParentUID = &p
	}

	if r.NameOK {
		n.Name = drivenode.Ok(r.Name)
	} else {
		n.Name = drivenode.Err[string](&drivenode.InvalidNameError{Reason: r.NameReason})
	}

	if r.KeyAuthorOK {
		n.KeyAuthor = drivenode.Ok(drivenode.Email(r.KeyAuthor))
	} else {
		n.KeyAuthor = drivenode.Err[drivenode.Email](&drivenode.VerificationError{
			ClaimedAuthor: drivenode.Email(r.KeyAuthorClaimed), Reason: r.KeyAuthorReason})
	}

	if r.NameAuthorOK {
		n.NameAuthor = drivenode.Ok(drivenode.Email(r.NameAuthor))
	} else {
		n.NameAuthor = drivenode.Err[drivenode.Email](&drivenode.VerificationError{
			ClaimedAuthor: drivenode.Email(r.NameAuthorClaimed), Reason: r.NameAuthorReason})
	}

	if r.HasActiveRevision {
		var ar drivenode.Result[drivenode.Revision]
		if r.ActiveRevisionOK && r.ActiveRevision != nil {
			ar = drivenode.Ok(*revisionFromRecord(r.ActiveRevision))
		} else {
			ar = drivenode.Err[drivenode.Revision](driveErrorFromReason(r.ActiveRevisionReason))
		}
		n.ActiveRevision = &ar
	}

	if r.HasFolderExtra {
		n.Folder = &drivenode.FolderExtra{ClaimedModificationTime: timePtr(r.FolderClaimedModTimeUnix)}
	}

	return n
}

func revisionFromRecord(rr *revisionRecord) *drivenode.Revision {
	rev := &drivenode.Revision{
		UID:                     drivenode.RevisionUID(rr.UID),
		State:                   drivenode.RevisionState(rr.State),
		CreationTime:            time.Unix(rr.CreationTimeUnix, 0).UTC(),
		StorageSize:             rr.StorageSize,
		ClaimedSize:             rr.ClaimedSize,
		ClaimedModificationTime: timePtr(rr.ClaimedModificationTimeUnix),
		ClaimedDigests:          rr.ClaimedDigests,
	}
	for _, th := range rr.Thumbnails {
		rev.Thumbnails = append(rev.Thumbnails, drivenode.Thumbnail{Type: th.Type, Size: th.Size})
	}
	return rev
}

// simpleError carries a reason string across the cache boundary when the
// original error type isn't preserved (e.g. a generic revision-fetch
// failure rather than a VerificationError/InvalidNameError).
type simpleError struct{ reason string }

func (e *simpleError) Error() string { return e.reason }

func driveErrorFromReason(reason string) error {
	return &simpleError{reason: reason}
}

func marshalRecord(r *record) ([]byte, error) {
	return msgpack.Marshal(r)
}

func unmarshalRecord(data []byte) (*record, error) {
	r := new(record)
	if err := msgpack.Unmarshal(data, r); err != nil {
		return nil, err
	}
	return r, nil
}
