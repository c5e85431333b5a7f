// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package management implements the node mutation operations (C9):
// rename, move, trash, restore, delete, createFolder. Every mutation
// fetches via (C8), derives an encrypted payload with parent keys, calls
// the API, writes the result back to (C2)/(C3), and notifies (C7), per
// spec §4.8.
package management

import (
	"context"
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

// Management is the C9 write-path layer.
type Management struct {
	transport driveapi.Transport
	crypto    driveapi.CryptoProvider
	access    *access.Access
	nodes     *nodecache.Cache
	keys      *cryptocache.Cache
	events    *nodeevents.Handler
	log       *zap.Logger
}

// New builds a Management. log may be nil.
func New(transport driveapi.Transport, crypto driveapi.CryptoProvider, acc *access.Access, nodes *nodecache.Cache, keys *cryptocache.Cache, events *nodeevents.Handler, log *zap.Logger) *Management {
	if log == nil {
		log = zap.NewNop()
	}
	return &Management{transport: transport, crypto: crypto, access: acc, nodes: nodes, keys: keys, events: events, log: log}
}

// renamePayload is what the server expects for a rename call.
type renamePayload struct {
	EncryptedName string `json:"encryptedName"`
	NameHash      string `json:"nameHash"`
}

// RenameNode recomputes the name hash with the parent's hash key and
// updates name/nameAuthor/hash, per spec §4.8. Fails if uid has no hash
// (a volume root).
func (m *Management) RenameNode(ctx context.Context, uid drivenode.NodeUID, newName string) (*drivenode.Node, error) {
	n, err := m.access.GetNode(ctx, uid)
	if err != nil {
		return nil, err
	}
	if n.Hash == nil {
		return nil, driveerrs.Validation.New("renameNode: %s has no hash (volume root)", uid)
	}
	parentKeys, err := m.access.GetParentKeys(ctx, n)
	if err != nil {
		return nil, err
	}

	encryptedName, err := m.crypto.EncryptName(ctx, newName, parentKeys)
	if err != nil {
		return nil, driveerrs.Decryption.Wrap(err)
	}
	hash, err := m.crypto.HashName(ctx, newName, parentKeys.HashKey)
	if err != nil {
		return nil, err
	}

	_, nodeID, err := uid.Split()
	if err != nil {
		return nil, err
	}
	if err := m.transport.Put(ctx, "/nodes/"+nodeID+"/rename", renamePayload{
		EncryptedName: string(encryptedName),
		NameHash:      hash,
	}, nil); err != nil {
		return nil, err
	}

	n.Name = drivenode.Ok(newName)
	n.NameAuthor = drivenode.Ok(drivenode.Email(""))
	n.Hash = &hash
	if err := m.nodes.SetNode(ctx, n); err != nil {
		return nil, err
	}
	m.notify(ctx, drivenode.NewNodeUpdated("", n.VolumeID, uid, parentUIDOrEmpty(n), n.IsTrashed(), n.IsShared))
	return n, nil
}

// movePayload is what the server expects for a move call.
type movePayload struct {
	NewParentID string `json:"newParentId"`
	WrappedPass string `json:"wrappedPassphrase"`
	NameHash    string `json:"nameHash"`
}

// MoveNode re-wraps the node's passphrase with the new parent's key and
// updates parentUid/hash/key+name authors, per spec §4.8. Fails if uid
// has no hash, or the new parent has no hash key.
func (m *Management) MoveNode(ctx context.Context, uid, newParentUID drivenode.NodeUID, newName string) (*drivenode.Node, error) {
	n, err := m.access.GetNode(ctx, uid)
	if err != nil {
		return nil, err
	}
	if n.Hash == nil {
		return nil, driveerrs.Validation.New("moveNode: %s has no hash", uid)
	}

	newParentKeys, err := m.access.GetParentKeys(ctx, &drivenode.Node{ParentUID: &newParentUID})
	if err != nil {
		return nil, err
	}
	if len(newParentKeys.HashKey) == 0 {
		return nil, driveerrs.Validation.New("moveNode: new parent %s has no hash key", newParentUID)
	}

	ownKeys, err := m.keys.GetKeys(ctx, uid)
	if err != nil {
		return nil, err
	}
	wrapped, err := m.crypto.WrapPassphrase(ctx, ownKeys.Passphrase, newParentKeys.PrivateKey)
	if err != nil {
		return nil, driveerrs.Decryption.Wrap(err)
	}
	hash, err := m.crypto.HashName(ctx, newName, newParentKeys.HashKey)
	if err != nil {
		return nil, err
	}

	_, nodeID, err := uid.Split()
	if err != nil {
		return nil, err
	}
	_, newParentID, err := newParentUID.Split()
	if err != nil {
		return nil, err
	}
	if err := m.transport.Put(ctx, "/nodes/"+nodeID+"/move", movePayload{
		NewParentID: newParentID,
		WrappedPass: string(wrapped),
		NameHash:    hash,
	}, nil); err != nil {
		return nil, err
	}

	n.ParentUID = &newParentUID
	n.Hash = &hash
	n.KeyAuthor = drivenode.Ok(drivenode.Email(""))
	n.NameAuthor = drivenode.Ok(drivenode.Email(""))
	if err := m.nodes.SetNode(ctx, n); err != nil {
		return nil, err
	}
	m.notify(ctx, drivenode.NewNodeUpdated("", n.VolumeID, uid, newParentUID, n.IsTrashed(), n.IsShared))
	return n, nil
}

// TrashNodes groups uids by volume, calls the trash endpoint once per
// group, and marks each successfully-trashed node's trashTime.
// Per-uid failures are collected into a driveerrs.ResultErrors aggregate;
// successes are still committed to cache, per spec §4.8.
func (m *Management) TrashNodes(ctx context.Context, uids []drivenode.NodeUID) error {
	groups := groupByVolume(uids)
	failures := make(map[string]string)

	for _, group := range groups {
		nodeIDs := make([]string, 0, len(group))
		for _, uid := range group {
			_, nodeID, err := uid.Split()
			if err != nil {
				failures[string(uid)] = err.Error()
				continue
			}
			nodeIDs = append(nodeIDs, nodeID)
		}
		if err := m.transport.Post(ctx, "/nodes/trash", struct {
			NodeIDs []string `json:"nodeIds"`
		}{nodeIDs}, nil); err != nil {
			for _, uid := range group {
				failures[string(uid)] = err.Error()
			}
			continue
		}
		for _, uid := range group {
			n, err := m.access.GetNode(ctx, uid)
			if err != nil {
				failures[string(uid)] = err.Error()
				continue
			}
			now := time.Now().UTC()
			n.TrashTime = &now
			if err := m.nodes.SetNode(ctx, n); err != nil {
				failures[string(uid)] = err.Error()
				continue
			}
			m.notify(ctx, drivenode.NewNodeUpdated("", n.VolumeID, uid, parentUIDOrEmpty(n), true, n.IsShared))
		}
	}
	return driveerrs.NewResultErrors(failures)
}

// RestoreNodes requires all uids to share a volume and clears trashTime on
// success per uid, per the restore-semantics fix (spec §9): the spec's
// literal text described an early-draft anomaly where restore wrote
// trashTime instead of clearing it; that anomaly is not reproduced here.
func (m *Management) RestoreNodes(ctx context.Context, uids []drivenode.NodeUID) error {
	if err := requireSingleVolume(uids); err != nil {
		return err
	}
	failures := make(map[string]string)

	nodeIDs := make([]string, 0, len(uids))
	for _, uid := range uids {
		_, nodeID, err := uid.Split()
		if err != nil {
			failures[string(uid)] = err.Error()
			continue
		}
		nodeIDs = append(nodeIDs, nodeID)
	}
	if err := m.transport.Post(ctx, "/nodes/restore", struct {
		NodeIDs []string `json:"nodeIds"`
	}{nodeIDs}, nil); err != nil {
		return err
	}

	for _, uid := range uids {
		if _, failed := failures[string(uid)]; failed {
			continue
		}
		n, err := m.access.GetNode(ctx, uid)
		if err != nil {
			failures[string(uid)] = err.Error()
			continue
		}
		n.TrashTime = nil
		if err := m.nodes.SetNode(ctx, n); err != nil {
			failures[string(uid)] = err.Error()
			continue
		}
		m.notify(ctx, drivenode.NewNodeUpdated("", n.VolumeID, uid, parentUIDOrEmpty(n), false, n.IsShared))
	}
	return driveerrs.NewResultErrors(failures)
}

// DeleteNodes requires all uids to share a volume; successfully-deleted
// uids are removed from cache, cascading to children, per spec §4.8.
func (m *Management) DeleteNodes(ctx context.Context, uids []drivenode.NodeUID) error {
	if err := requireSingleVolume(uids); err != nil {
		return err
	}
	failures := make(map[string]string)

	var succeeded []drivenode.NodeUID
	nodeIDs := make([]string, 0, len(uids))
	for _, uid := range uids {
		_, nodeID, err := uid.Split()
		if err != nil {
			failures[string(uid)] = err.Error()
			continue
		}
		nodeIDs = append(nodeIDs, nodeID)
	}
	if err := m.transport.Post(ctx, "/nodes/delete", struct {
		NodeIDs []string `json:"nodeIds"`
	}{nodeIDs}, nil); err != nil {
		return err
	}
	for _, uid := range uids {
		if _, failed := failures[string(uid)]; !failed {
			succeeded = append(succeeded, uid)
		}
	}

	if len(succeeded) > 0 {
		if err := m.nodes.RemoveNodes(ctx, succeeded); err != nil {
			return err
		}
		if err := m.keys.RemoveKeys(ctx, succeeded); err != nil {
			return err
		}
		for _, uid := range succeeded {
			m.notify(ctx, drivenode.NewNodeDeleted("", uid.VolumeID(), uid))
		}
	}
	return driveerrs.NewResultErrors(failures)
}

// createFolderPayload is what the server expects for createFolder.
type createFolderPayload struct {
	ParentID          string `json:"parentId"`
	EncryptedName     string `json:"encryptedName"`
	NameHash          string `json:"nameHash"`
	WrappedPassphrase string `json:"wrappedPassphrase"`
}

type createFolderResponse struct {
	NodeID string `json:"nodeId"`
}

// CreateFolder generates node+hash keys, calls the API, and writes the
// new folder node into (C2) and its keys into (C3), emitting nodeCreated
// to (C7), per spec §4.8.
func (m *Management) CreateFolder(ctx context.Context, parentUID drivenode.NodeUID, name string) (*drivenode.Node, error) {
	parentKeys, err := m.access.GetParentKeys(ctx, &drivenode.Node{ParentUID: &parentUID})
	if err != nil {
		return nil, err
	}

	newKeys, err := m.crypto.GenerateNodeKeys(ctx)
	if err != nil {
		return nil, err
	}
	hashKey, err := m.crypto.GenerateHashKey(ctx)
	if err != nil {
		return nil, err
	}
	newKeys.HashKey = hashKey

	encryptedName, err := m.crypto.EncryptName(ctx, name, parentKeys)
	if err != nil {
		return nil, driveerrs.Decryption.Wrap(err)
	}
	hash, err := m.crypto.HashName(ctx, name, parentKeys.HashKey)
	if err != nil {
		return nil, err
	}
	wrapped, err := m.crypto.WrapPassphrase(ctx, newKeys.Passphrase, parentKeys.PrivateKey)
	if err != nil {
		return nil, driveerrs.Decryption.Wrap(err)
	}

	volumeID, parentID, err := parentUID.Split()
	if err != nil {
		return nil, err
	}
	var resp createFolderResponse
	if err := m.transport.Post(ctx, "/nodes/folders", createFolderPayload{
		ParentID:          parentID,
		EncryptedName:     string(encryptedName),
		NameHash:          hash,
		WrappedPassphrase: string(wrapped),
	}, &resp); err != nil {
		return nil, err
	}

	uid := drivenode.NewNodeUID(volumeID, resp.NodeID)
	n := &drivenode.Node{
		UID:        uid,
		ParentUID:  &parentUID,
		VolumeID:   volumeID,
		Hash:       &hash,
		Type:       drivenode.TypeFolder,
		Name:       drivenode.Ok(name),
		KeyAuthor:  drivenode.Ok(drivenode.Email("")),
		NameAuthor: drivenode.Ok(drivenode.Email("")),
		Folder:     &drivenode.FolderExtra{},
	}
	if err := m.nodes.SetNode(ctx, n); err != nil {
		return nil, err
	}
	if err := m.keys.SetKeys(ctx, uid, newKeys); err != nil {
		return nil, err
	}
	m.notify(ctx, drivenode.NewNodeCreated("", volumeID, uid, parentUID))
	return n, nil
}

func (m *Management) notify(ctx context.Context, event drivenode.Event) {
	if m.events == nil {
		return
	}
	if err := m.events.HandleEvent(ctx, event); err != nil {
		m.log.Warn("node events notification failed", zap.Error(err))
	}
}

func groupByVolume(uids []drivenode.NodeUID) map[string][]drivenode.NodeUID {
	groups := make(map[string][]drivenode.NodeUID)
	for _, uid := range uids {
		groups[uid.VolumeID()] = append(groups[uid.VolumeID()], uid)
	}
	return groups
}

func requireSingleVolume(uids []drivenode.NodeUID) error {
	if len(uids) == 0 {
		return nil
	}
	volumeID := uids[0].VolumeID()
	for _, uid := range uids[1:] {
		if uid.VolumeID() != volumeID {
			return driveerrs.Validation.New("uids span multiple volumes")
		}
	}
	return nil
}

func parentUIDOrEmpty(n *drivenode.Node) drivenode.NodeUID {
	if n.ParentUID == nil {
		return ""
	}
	return *n.ParentUID
}
