// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package access implements node read access (C8): cache-first lookups
// that fall back to the API, decrypt, and write back, plus the
// listing-completeness machinery for iterateChildren, per spec §4.7.
package access

import (
	"context"
	"time"

	"go.uber.org/zap"

	"storj.io/drivesync/pkg/asyncutil"
	"storj.io/drivesync/pkg/cryptocache"
	"storj.io/drivesync/pkg/driveapi"
	"storj.io/drivesync/pkg/driveerrs"
	"storj.io/drivesync/pkg/drivenode"
	"storj.io/drivesync/pkg/nodecache"
)

// batchLoadingSize is spec §4.7's BATCH_LOADING constant: how many pending
// uids IterateNodes/iterateChildrenFromAPI accumulate before resolving them
// together through the batch loader. It happens to equal
// asyncutil.DefaultConcurrency today, but the two knobs are conceptually
// distinct (batch size here vs. concurrent in-flight fetches in
// MapConcurrently) and must stay independently named so one can change
// without silently dragging the other along.
const batchLoadingSize = 10

// Access is the C8 node-access layer, layered over pkg/nodecache and
// pkg/cryptocache and backed by the driveapi collaborators.
type Access struct {
	transport driveapi.Transport
	crypto    driveapi.CryptoProvider
	shares    driveapi.SharesService
	nodes     *nodecache.Cache
	keys      *cryptocache.Cache
	log       *zap.Logger
}

// New builds an Access. log may be nil.
func New(transport driveapi.Transport, crypto driveapi.CryptoProvider, shares driveapi.SharesService, nodes *nodecache.Cache, keys *cryptocache.Cache, log *zap.Logger) *Access {
	if log == nil {
		log = zap.NewNop()
	}
	return &Access{transport: transport, crypto: crypto, shares: shares, nodes: nodes, keys: keys, log: log}
}

// GetNode returns uid's current view: the cached row if present and
// fresh, otherwise a fetch-decrypt-writeback, per spec §4.7.
func (a *Access) GetNode(ctx context.Context, uid drivenode.NodeUID) (*drivenode.Node, error) {
	n, err := a.nodes.GetNode(ctx, uid)
	if err == nil && !n.IsStale {
		return n, nil
	}
	if err != nil && !driveerrs.NotFound.Has(err) && !driveerrs.Corrupted.Has(err) {
		return nil, err
	}
	return a.fetchAndCache(ctx, uid)
}

// LoadNodes force-refetches and decrypts every uid, bypassing the cache
// read but still writing back, per spec §4.7. Results preserve input
// order; a fetch failure for one uid fails the whole call.
func (a *Access) LoadNodes(ctx context.Context, uids []drivenode.NodeUID) ([]*drivenode.Node, error) {
	return asyncutil.MapConcurrently(ctx, asyncutil.DefaultConcurrency, uids, func(ctx context.Context, uid drivenode.NodeUID) (*drivenode.Node, error) {
		return a.fetchAndCache(ctx, uid)
	})
}

// IterateNodes walks the cache first; each miss or stale row is resolved
// through the batch loader, per spec §4.7.
func (a *Access) IterateNodes(ctx context.Context, uids []drivenode.NodeUID) ([]*drivenode.Node, error) {
	out := make([]*drivenode.Node, len(uids))
	loader := asyncutil.NewBatchLoader[int](batchLoadingSize)
	pending := make(map[int]drivenode.NodeUID)

	flush := func(indices []int) error {
		toLoad := make([]drivenode.NodeUID, 0, len(indices))
		for _, idx := range indices {
			toLoad = append(toLoad, pending[idx])
		}
		loaded, err := a.LoadNodes(ctx, toLoad)
		if err != nil {
			return err
		}
		for i, idx := range indices {
			out[idx] = loaded[i]
		}
		return nil
	}

	for i, uid := range uids {
		n, err := a.nodes.GetNode(ctx, uid)
		if err == nil && !n.IsStale {
			out[i] = n
			continue
		}
		pending[i] = uid
		if batch, ready := loader.Add(i); ready {
			if err := flush(batch); err != nil {
				return nil, err
			}
		}
	}
	if rest := loader.Flush(); len(rest) > 0 {
		if err := flush(rest); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// IterateChildren enforces listing completeness: if parentUID's children
// were already fully listed, stale cached children are refreshed via the
// batch loader; otherwise the full child set streams from the API, per
// spec §4.7.
func (a *Access) IterateChildren(ctx context.Context, parentUID drivenode.NodeUID) ([]*drivenode.Node, error) {
	loaded, err := a.nodes.IsFolderChildrenLoaded(ctx, parentUID)
	if err != nil {
		return nil, err
	}
	if loaded {
		return a.iterateCachedChildren(ctx, parentUID)
	}
	return a.iterateChildrenFromAPI(ctx, parentUID)
}

func (a *Access) iterateCachedChildren(ctx context.Context, parentUID drivenode.NodeUID) ([]*drivenode.Node, error) {
	cached, err := a.nodes.IterateChildren(ctx, parentUID)
	if err != nil {
		return nil, err
	}

	var fresh, refreshed []*drivenode.Node
	loader := asyncutil.NewBatchLoader[drivenode.NodeUID](batchLoadingSize)
	for _, n := range cached {
		if !n.IsStale {
			fresh = append(fresh, n)
			continue
		}
		if batch, ready := loader.Add(n.UID); ready {
			loaded, err := a.LoadNodes(ctx, batch)
			if err != nil {
				return nil, err
			}
			refreshed = append(refreshed, loaded...)
		}
	}
	if rest := loader.Flush(); len(rest) > 0 {
		loaded, err := a.LoadNodes(ctx, rest)
		if err != nil {
			return nil, err
		}
		refreshed = append(refreshed, loaded...)
	}
	return append(fresh, refreshed...), nil
}

// childUIDResponse is the wire shape of the children-listing stream.
type childUIDResponse struct {
	More   bool     `json:"more"`
	Cursor string   `json:"cursor"`
	NodeID []string `json:"nodeIds"`
}

func (a *Access) iterateChildrenFromAPI(ctx context.Context, parentUID drivenode.NodeUID) ([]*drivenode.Node, error) {
	volumeID, _, err := parentUID.Split()
	if err != nil {
		return nil, err
	}

	// cached and loaded accumulate separately so the result can preserve
	// spec §4.7's cached-then-loaded order: every row already resolvable
	// from the cache precedes every row that required a round trip through
	// the batch loader, regardless of where in the cursor stream each uid
	// appeared.
	var cached, loaded []*drivenode.Node
	loader := asyncutil.NewBatchLoader[drivenode.NodeUID](batchLoadingSize)
	cursor := ""
	for {
		var resp childUIDResponse
		if err := a.transport.Get(ctx, "/nodes/"+string(parentUID)+"/children?cursor="+cursor, &resp); err != nil {
			return nil, err
		}
		for _, id := range resp.NodeID {
			uid := drivenode.NewNodeUID(volumeID, id)
			n, err := a.nodes.GetNode(ctx, uid)
			if err == nil && !n.IsStale {
				cached = append(cached, n)
				continue
			}
			if batch, ready := loader.Add(uid); ready {
				refreshed, err := a.LoadNodes(ctx, batch)
				if err != nil {
					return nil, err
				}
				loaded = append(loaded, refreshed...)
			}
		}
		cursor = resp.Cursor
		if !resp.More {
			break
		}
	}
	if rest := loader.Flush(); len(rest) > 0 {
		refreshed, err := a.LoadNodes(ctx, rest)
		if err != nil {
			return nil, err
		}
		loaded = append(loaded, refreshed...)
	}

	if err := a.nodes.SetFolderChildrenLoaded(ctx, parentUID); err != nil {
		return nil, err
	}
	return append(cached, loaded...), nil
}

// trashedUIDResponse is the wire shape of the trashed-nodes stream.
type trashedUIDResponse struct {
	More   bool     `json:"more"`
	Cursor string   `json:"cursor"`
	NodeID []string `json:"nodeIds"`
}

// IterateTrashedNodes streams the caller's own-volume trashed uids from
// the API and resolves each through the batch loader, per spec §4.7.
func (a *Access) IterateTrashedNodes(ctx context.Context) ([]*drivenode.Node, error) {
	root, err := a.shares.GetMyFilesIDs(ctx)
	if err != nil {
		return nil, err
	}

	var uids []drivenode.NodeUID
	cursor := ""
	for {
		var resp trashedUIDResponse
		if err := a.transport.Get(ctx, "/volumes/"+root.VolumeID+"/trashed?cursor="+cursor, &resp); err != nil {
			return nil, err
		}
		for _, id := range resp.NodeID {
			uids = append(uids, drivenode.NewNodeUID(root.VolumeID, id))
		}
		cursor = resp.Cursor
		if !resp.More {
			break
		}
	}
	return a.IterateNodes(ctx, uids)
}

// GetParentKeys resolves the decryption keys for node's parent: the
// shares service's root key for a volume root, otherwise the cached (or
// freshly loaded) parent's key record, per spec §4.7.
func (a *Access) GetParentKeys(ctx context.Context, node *drivenode.Node) (drivenode.NodeKeys, error) {
	if node.ParentUID == nil {
		return a.shareRootKeys(ctx)
	}
	return a.getKeysFor(ctx, *node.ParentUID)
}

func (a *Access) shareRootKeys(ctx context.Context) (drivenode.NodeKeys, error) {
	key, err := a.shares.GetMyFilesShareMemberEmailKey(ctx)
	if err != nil {
		return drivenode.NodeKeys{}, err
	}
	return drivenode.NodeKeys{PrivateKey: key}, nil
}

func (a *Access) getKeysFor(ctx context.Context, uid drivenode.NodeUID) (drivenode.NodeKeys, error) {
	keys, err := a.keys.GetKeys(ctx, uid)
	if err == nil {
		return keys, nil
	}
	if !driveerrs.NotFound.Has(err) && !driveerrs.Corrupted.Has(err) {
		return drivenode.NodeKeys{}, err
	}
	if _, err := a.fetchAndCache(ctx, uid); err != nil {
		return drivenode.NodeKeys{}, err
	}
	return a.keys.GetKeys(ctx, uid)
}

// apiNode is the wire shape of a single-node fetch response. Encrypted
// payloads and signatures are opaque to this package; decryptNode hands
// them to driveapi.CryptoProvider.
type apiNode struct {
	NodeID                  string  `json:"nodeId"`
	ParentID                *string `json:"parentId"`
	VolumeID                string  `json:"volumeId"`
	Hash                    *string `json:"hash"`
	CreationTime            int64   `json:"creationTime"`
	TrashTime               *int64  `json:"trashTime"`
	Type                    int     `json:"type"`
	MediaType               *string `json:"mediaType"`
	TotalStorageSize        *int64  `json:"totalStorageSize"`
	ShareID                 *string `json:"shareId"`
	IsShared                bool    `json:"isShared"`
	DirectMemberRole        int     `json:"directMemberRole"`
	EncryptedName           string  `json:"encryptedName"`
	ClaimedSignatureEmail   string  `json:"signatureEmail"`
	ClaimedNameSignature    string  `json:"nameSignatureEmail"`
	ActiveRevisionUID       *string `json:"activeRevisionUid"`
	FolderModificationTime  *int64  `json:"folderModificationTime"`
	WrappedPassphrase       string  `json:"wrappedPassphrase"`
	PrivateKeyPacket        string  `json:"privateKeyPacket"`
	HashKeyPacket           string  `json:"hashKeyPacket,omitempty"`
}

func (a *Access) fetchRaw(ctx context.Context, uid drivenode.NodeUID) (apiNode, error) {
	_, nodeID, err := uid.Split()
	if err != nil {
		return apiNode{}, err
	}
	var raw apiNode
	err = a.transport.Get(ctx, "/nodes/"+nodeID, &raw)
	return raw, err
}

func (a *Access) fetchAndCache(ctx context.Context, uid drivenode.NodeUID) (*drivenode.Node, error) {
	raw, err := a.fetchRaw(ctx, uid)
	if err != nil {
		return nil, err
	}

	volumeID, _, err := uid.Split()
	if err != nil {
		return nil, err
	}

	var parentUID *drivenode.NodeUID
	var parentKeys drivenode.NodeKeys
	if raw.ParentID != nil {
		pu := drivenode.NewNodeUID(volumeID, *raw.ParentID)
		parentUID = &pu
		parentKeys, err = a.getKeysFor(ctx, pu)
	} else {
		parentKeys, err = a.shareRootKeys(ctx)
	}
	if err != nil {
		return nil, err
	}

	node := decryptNode(ctx, a.crypto, uid, volumeID, parentUID, raw, parentKeys)

	if err := a.nodes.SetNode(ctx, node); err != nil {
		return nil, err
	}

	if keys, ok := a.unwrapOwnKeys(ctx, raw, parentKeys); ok {
		if err := a.keys.SetKeys(ctx, uid, keys); err != nil {
			return nil, err
		}
	}
	return node, nil
}

// unwrapOwnKeys derives uid's own NodeKeys from its wrapped passphrase
// packet, so children/content fetched later can find a parent key record
// in (C3) without a second round trip. A failure here is not fatal to the
// node fetch itself, matching the cache's general tolerance for
// decryption failures surfacing only on the fields that need the key.
func (a *Access) unwrapOwnKeys(ctx context.Context, raw apiNode, parentKeys drivenode.NodeKeys) (drivenode.NodeKeys, bool) {
	if len(raw.WrappedPassphrase) == 0 {
		return drivenode.NodeKeys{}, false
	}
	passphrase, err := a.crypto.UnwrapPassphrase(ctx, []byte(raw.WrappedPassphrase), parentKeys.PrivateKey)
	if err != nil {
		a.log.Warn("unwrap node passphrase failed", zap.Error(err))
		return drivenode.NodeKeys{}, false
	}
	return drivenode.NodeKeys{
		Passphrase: passphrase,
		PrivateKey: []byte(raw.PrivateKeyPacket),
		HashKey:    []byte(raw.HashKeyPacket),
	}, true
}

// decryptNode maps raw onto a drivenode.Node, using crypto to decrypt the
// name and determine author verification, per spec §9's requirement that
// verification failures round-trip via Result instead of erroring out.
func decryptNode(ctx context.Context, crypto driveapi.CryptoProvider, uid drivenode.NodeUID, volumeID string, parentUID *drivenode.NodeUID, raw apiNode, parentKeys drivenode.NodeKeys) *drivenode.Node {
	n := &drivenode.Node{
		UID:              uid,
		ParentUID:        parentUID,
		VolumeID:         volumeID,
		Hash:             raw.Hash,
		CreationTime:     time.Unix(raw.CreationTime, 0).UTC(),
		Type:             drivenode.Type(raw.Type),
		MediaType:        raw.MediaType,
		TotalStorageSize: raw.TotalStorageSize,
		ShareID:          raw.ShareID,
		IsShared:         raw.IsShared,
		DirectMemberRole: drivenode.MemberRole(raw.DirectMemberRole),
	}
	if raw.TrashTime != nil {
		t := time.Unix(*raw.TrashTime, 0).UTC()
		n.TrashTime = &t
	}

	claimedAuthor := drivenode.Email(raw.ClaimedNameSignature)
	name, status, err := crypto.DecryptName(ctx, []byte(raw.EncryptedName), parentKeys)
	switch {
	case err != nil:
		n.Name = drivenode.Err[string](&drivenode.InvalidNameError{Reason: err.Error()})
		n.NameAuthor = drivenode.Err[drivenode.Email](&drivenode.VerificationError{ClaimedAuthor: claimedAuthor, Reason: err.Error()})
	case status == driveapi.SignedAndInvalid:
		n.Name = drivenode.Ok(name)
		n.NameAuthor = drivenode.Err[drivenode.Email](&drivenode.VerificationError{ClaimedAuthor: claimedAuthor, Reason: "signature invalid"})
	case status == driveapi.NotSigned:
		n.Name = drivenode.Ok(name)
		n.NameAuthor = drivenode.Err[drivenode.Email](&drivenode.VerificationError{ClaimedAuthor: claimedAuthor, Reason: "not signed"})
	default:
		n.Name = drivenode.Ok(name)
		n.NameAuthor = drivenode.Ok(claimedAuthor)
	}
	// Key authorship is claimed-but-unverified at this layer: the core's
	// CryptoProvider contract (spec §6) exposes signature verification
	// only for names, not for passphrase wrapping.
	n.KeyAuthor = drivenode.Ok(drivenode.Email(raw.ClaimedSignatureEmail))

	if raw.Type == int(drivenode.TypeFolder) {
		var modTime *time.Time
		if raw.FolderModificationTime != nil {
			t := time.Unix(*raw.FolderModificationTime, 0).UTC()
			modTime = &t
		}
		n.Folder = &drivenode.FolderExtra{ClaimedModificationTime: modTime}
	}

	if raw.ActiveRevisionUID != nil {
		rev := drivenode.Ok(drivenode.Revision{UID: drivenode.RevisionUID(*raw.ActiveRevisionUID), State: drivenode.RevisionActive})
		n.ActiveRevision = &rev
	}

	return n
}
