// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package upload implements the draft/commit protocol (C10): creating a
// draft node or draft revision, resolving naming conflicts, and committing
// a finished upload's manifest and extended attributes, per spec §4.9.
package upload

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"storj.io/drivesync/pkg/access"
	"storj.io/drivesync/pkg/cryptocache"
	"storj.io/drivesync/pkg/driveapi"
	"storj.io/drivesync/pkg/driveerrs"
	"storj.io/drivesync/pkg/drivenode"
	"storj.io/drivesync/pkg/nodecache"
	"storj.io/drivesync/pkg/nodeevents"
)

// nameBatchSize is BATCH_LOADING (10) reused for findAvailableName's
// candidate-name probing, per spec §4.9.
const nameBatchSize = 10

// maxNameBatches bounds findAvailableName's search so a pathological
// server (every candidate taken) can't loop forever.
const maxNameBatches = 100

// Upload is the C10 draft/commit layer.
type Upload struct {
	transport driveapi.Transport
	crypto    driveapi.CryptoProvider
	access    *access.Access
	nodes     *nodecache.Cache
	keys      *cryptocache.Cache
	events    *nodeevents.Handler
	identity  driveapi.ClientIdentity // optional; nil disables own-draft detection
	log       *zap.Logger
}

// New builds an Upload. identity and log may be nil.
func New(transport driveapi.Transport, crypto driveapi.CryptoProvider, acc *access.Access, nodes *nodecache.Cache, keys *cryptocache.Cache, events *nodeevents.Handler, identity driveapi.ClientIdentity, log *zap.Logger) *Upload {
	if log == nil {
		log = zap.NewNop()
	}
	return &Upload{transport: transport, crypto: crypto, access: acc, nodes: nodes, keys: keys, events: events, identity: identity, log: log}
}

// Metadata is the caller-claimed, unverified revision metadata attached to
// a draft, per spec §3's Revision.claimedSize/claimedModificationTime.
type Metadata struct {
	ClaimedSize             *int64
	ClaimedModificationTime *time.Time
	ClaimedDigests          map[string]string
}

// Draft is the handle returned by createDraftNode/createDraftRevision,
// carrying the node's own key material so the block pipeline (C11) can
// encrypt content against it without a second key lookup.
type Draft struct {
	NodeUID     drivenode.NodeUID
	RevisionUID drivenode.RevisionUID
	ParentUID   drivenode.NodeUID
	VolumeID    string
	Keys        drivenode.NodeKeys
	IsNewNode   bool // true: createDraftNode; false: createDraftRevision
}

type draftPayload struct {
	ParentID          string `json:"parentId"`
	EncryptedName     string `json:"encryptedName"`
	NameHash          string `json:"nameHash"`
	WrappedPassphrase string `json:"wrappedPassphrase"`
}

type draftResponse struct {
	NodeID     string `json:"nodeId"`
	RevisionID string `json:"revisionId"`
}

type draftConflictResponse struct {
	ExistingNodeID   string `json:"existingNodeId"`
	DraftClientID    string `json:"draftClientId"`
	HasDraftConflict bool   `json:"hasDraftConflict"`
}

// CreateDraftNode generates node+content keys, encrypts name, and calls
// createDraft, per spec §4.9. On a naming conflict: if the conflicting
// draft belongs to this client (per driveapi.ClientIdentity) or the
// caller set overrideExistingDraftByOtherClient, the existing draft is
// deleted and the call retried once; otherwise
// driveerrs.NodeAlreadyExistsValidationError is raised.
func (u *Upload) CreateDraftNode(ctx context.Context, parentUID drivenode.NodeUID, name string, overrideExistingDraftByOtherClient bool) (*Draft, error) {
	return u.createDraftNode(ctx, parentUID, name, overrideExistingDraftByOtherClient, true)
}

func (u *Upload) createDraftNode(ctx context.Context, parentUID drivenode.NodeUID, name string, overrideExistingDraftByOtherClient, allowRetry bool) (*Draft, error) {
	parent, err := u.access.GetNode(ctx, parentUID)
	if err != nil {
		return nil, err
	}
	if parent.Type != drivenode.TypeFolder {
		return nil, driveerrs.Validation.New("createDraftNode: parent %s is not a folder", parentUID)
	}
	parentKeys, err := u.access.GetParentKeys(ctx, &drivenode.Node{ParentUID: &parentUID})
	if err != nil {
		return nil, err
	}
	if len(parentKeys.HashKey) == 0 {
		return nil, driveerrs.Validation.New("createDraftNode: parent %s has no hash key", parentUID)
	}

	newKeys, err := u.crypto.GenerateNodeKeys(ctx)
	if err != nil {
		return nil, err
	}
	hashKey, err := u.crypto.GenerateHashKey(ctx)
	if err != nil {
		return nil, err
	}
	newKeys.HashKey = hashKey

	encryptedName, err := u.crypto.EncryptName(ctx, name, parentKeys)
	if err != nil {
		return nil, driveerrs.Decryption.Wrap(err)
	}
	hash, err := u.crypto.HashName(ctx, name, parentKeys.HashKey)
	if err != nil {
		return nil, err
	}
	wrapped, err := u.crypto.WrapPassphrase(ctx, newKeys.Passphrase, parentKeys.PrivateKey)
	if err != nil {
		return nil, driveerrs.Decryption.Wrap(err)
	}

	volumeID, parentID, err := parentUID.Split()
	if err != nil {
		return nil, err
	}

	var resp draftResponse
	postErr := u.transport.Post(ctx, "/nodes/drafts", draftPayload{
		ParentID:          parentID,
		EncryptedName:     string(encryptedName),
		NameHash:          hash,
		WrappedPassphrase: string(wrapped),
	}, &resp)
	if postErr == nil {
		uid := drivenode.NewNodeUID(volumeID, resp.NodeID)
		revUID := drivenode.NewRevisionUID(volumeID, resp.NodeID, resp.RevisionID)
		n := &drivenode.Node{
			UID:            uid,
			ParentUID:      &parentUID,
			VolumeID:       volumeID,
			Type:           drivenode.TypeFile,
			Name:           drivenode.Ok(name),
			KeyAuthor:      drivenode.Ok(drivenode.Email("")),
			NameAuthor:     drivenode.Ok(drivenode.Email("")),
			ActiveRevision: resultRevision(drivenode.Revision{UID: revUID, State: drivenode.RevisionDraft}),
		}
		if err := u.nodes.SetNode(ctx, n); err != nil {
			return nil, err
		}
		if err := u.keys.SetKeys(ctx, uid, newKeys); err != nil {
			return nil, err
		}
		return &Draft{NodeUID: uid, RevisionUID: revUID, ParentUID: parentUID, VolumeID: volumeID, Keys: newKeys, IsNewNode: true}, nil
	}

	if !isConflict(postErr) || !allowRetry {
		return nil, postErr
	}

	var conflict draftConflictResponse
	if err := u.transport.Get(ctx, "/nodes/drafts/conflict?parentId="+parentID+"&nameHash="+hash, &conflict); err != nil {
		return nil, postErr
	}

	isOwnDraft := false
	if u.identity != nil && conflict.DraftClientID != "" {
		if clientID, ok := u.identity.Get(); ok && clientID == conflict.DraftClientID {
			isOwnDraft = true
		}
	}
	if !isOwnDraft && !overrideExistingDraftByOtherClient {
		return nil, &driveerrs.NodeAlreadyExistsValidationError{
			ExistingNodeUID:  string(drivenode.NewNodeUID(volumeID, conflict.ExistingNodeID)),
			HasDraftConflict: conflict.HasDraftConflict,
		}
	}

	if err := u.transport.Delete(ctx, "/nodes/"+conflict.ExistingNodeID, nil); err != nil {
		return nil, err
	}
	return u.createDraftNode(ctx, parentUID, name, overrideExistingDraftByOtherClient, false)
}

type availabilityPayload struct {
	ParentID   string   `json:"parentId"`
	NameHashes []string `json:"nameHashes"`
}

type availabilityResponse struct {
	Free []bool `json:"free"`
}

// FindAvailableName probes batches of nameBatchSize candidate names of the
// form "<base> (<i>).<ext>" against the server and returns the first free
// one, per spec §4.9.
func (u *Upload) FindAvailableName(ctx context.Context, parentUID drivenode.NodeUID, name string) (string, error) {
	parentKeys, err := u.access.GetParentKeys(ctx, &drivenode.Node{ParentUID: &parentUID})
	if err != nil {
		return "", err
	}
	_, parentID, err := parentUID.Split()
	if err != nil {
		return "", err
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	for batch := 0; batch < maxNameBatches; batch++ {
		start := batch*nameBatchSize + 1
		candidates := make([]string, nameBatchSize)
		hashes := make([]string, nameBatchSize)
		for i := 0; i < nameBatchSize; i++ {
			candidates[i] = fmt.Sprintf("%s (%d)%s", base, start+i, ext)
			hash, err := u.crypto.HashName(ctx, candidates[i], parentKeys.HashKey)
			if err != nil {
				return "", err
			}
			hashes[i] = hash
		}

		var resp availabilityResponse
		if err := u.transport.Post(ctx, "/nodes/"+parentID+"/availability", availabilityPayload{
			ParentID:   parentID,
			NameHashes: hashes,
		}, &resp); err != nil {
			return "", err
		}
		for i, free := range resp.Free {
			if free {
				return candidates[i], nil
			}
		}
	}
	return "", driveerrs.Validation.New("findAvailableName: no free name found near %q", name)
}

type draftRevisionPayload struct {
	PreviousRevisionID string `json:"previousRevisionId"`
}

type draftRevisionResponse struct {
	RevisionID string `json:"revisionId"`
}

// CreateDraftRevision requires uid to be a file with an active revision,
// per spec §4.9, and creates a new draft revision pointing at it.
func (u *Upload) CreateDraftRevision(ctx context.Context, uid drivenode.NodeUID) (*Draft, error) {
	n, err := u.access.GetNode(ctx, uid)
	if err != nil {
		return nil, err
	}
	if n.Type != drivenode.TypeFile {
		return nil, driveerrs.Validation.New("createDraftRevision: %s is not a file", uid)
	}
	if n.ActiveRevision == nil {
		return nil, driveerrs.Validation.New("createDraftRevision: %s has no active revision", uid)
	}
	activeRev, err := n.ActiveRevision.Unwrap()
	if err != nil {
		return nil, err
	}

	ownKeys, err := u.keys.GetKeys(ctx, uid)
	if err != nil {
		return nil, err
	}

	volumeID, nodeID, err := uid.Split()
	if err != nil {
		return nil, err
	}
	_, _, activeRevisionID, err := activeRev.UID.Split()
	if err != nil {
		return nil, err
	}

	var resp draftRevisionResponse
	if err := u.transport.Post(ctx, "/nodes/"+nodeID+"/revisions", draftRevisionPayload{
		PreviousRevisionID: activeRevisionID,
	}, &resp); err != nil {
		return nil, err
	}

	revUID := drivenode.NewRevisionUID(volumeID, nodeID, resp.RevisionID)
	return &Draft{
		NodeUID:     uid,
		RevisionUID: revUID,
		ParentUID:   parentUIDOrEmpty(n),
		VolumeID:    volumeID,
		Keys:        ownKeys,
		IsNewNode:   false,
	}, nil
}

type commitPayload struct {
	SignedManifest          string            `json:"signedManifest"`
	EncryptedExtendedAttrs  string            `json:"encryptedExtendedAttributes"`
	ClaimedSize             *int64            `json:"claimedSize,omitempty"`
	ClaimedModificationTime *int64            `json:"claimedModificationTime,omitempty"`
	ClaimedDigests          map[string]string `json:"claimedDigests,omitempty"`
}

// CommitDraft signs manifest, encrypts extendedAttributes, calls the
// commit endpoint, then emits nodeCreated (new-node draft) or nodeUpdated
// (revision draft) to (C7), per spec §4.9.
func (u *Upload) CommitDraft(ctx context.Context, draft *Draft, manifest, extendedAttributes []byte, metadata Metadata) (*drivenode.Node, error) {
	signedManifest, err := u.crypto.SignManifest(ctx, manifest, draft.Keys)
	if err != nil {
		return nil, driveerrs.Decryption.Wrap(err)
	}
	encryptedAttrs, err := u.crypto.EncryptExtendedAttributes(ctx, extendedAttributes, draft.Keys)
	if err != nil {
		return nil, driveerrs.Decryption.Wrap(err)
	}

	_, _, revisionID, err := draft.RevisionUID.Split()
	if err != nil {
		return nil, err
	}

	var modTime *int64
	if metadata.ClaimedModificationTime != nil {
		t := metadata.ClaimedModificationTime.Unix()
		modTime = &t
	}
	if err := u.transport.Post(ctx, "/revisions/"+revisionID+"/commit", commitPayload{
		SignedManifest:          string(signedManifest),
		EncryptedExtendedAttrs:  string(encryptedAttrs),
		ClaimedSize:             metadata.ClaimedSize,
		ClaimedModificationTime: modTime,
		ClaimedDigests:          metadata.ClaimedDigests,
	}, nil); err != nil {
		return nil, err
	}

	nodes, err := u.access.LoadNodes(ctx, []drivenode.NodeUID{draft.NodeUID})
	if err != nil {
		return nil, err
	}
	n := nodes[0]

	if draft.IsNewNode {
		u.notify(ctx, drivenode.NewNodeCreated("", draft.VolumeID, draft.NodeUID, draft.ParentUID))
	} else {
		u.notify(ctx, drivenode.NewNodeUpdated("", draft.VolumeID, draft.NodeUID, draft.ParentUID, n.IsTrashed(), n.IsShared))
	}
	return n, nil
}

func (u *Upload) notify(ctx context.Context, event drivenode.Event) {
	if u.events == nil {
		return
	}
	if err := u.events.HandleEvent(ctx, event); err != nil {
		u.log.Warn("node events notification failed", zap.Error(err))
	}
}

func isConflict(err error) bool {
	var httpErr *driveapi.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 409
	}
	return driveerrs.AlreadyExists.Has(err)
}

func resultRevision(r drivenode.Revision) *drivenode.Result[drivenode.Revision] {
	res := drivenode.Ok(r)
	return &res
}

func parentUIDOrEmpty(n *drivenode.Node) drivenode.NodeUID {
	if n.ParentUID == nil {
		return ""
	}
	return *n.ParentUID
}
