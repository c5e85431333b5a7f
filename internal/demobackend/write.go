// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package demobackend

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"storj.io/drivesync/pkg/driveapi"
	"storj.io/drivesync/pkg/drivenode"
)

// Post implements driveapi.Transport.
func (b *Backend) Post(ctx context.Context, path string, body, out interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case path == "/nodes/folders":
		return b.createFolder(body, out)
	case path == "/nodes/drafts":
		return b.createDraft(body, out)
	case path == "/nodes/trash":
		return b.setTrash(body, true)
	case path == "/nodes/restore":
		return b.setTrash(body, false)
	case path == "/nodes/delete":
		return b.deleteNodes(body)
	case strings.HasSuffix(path, "/availability"):
		return b.checkAvailability(body, out)
	case strings.HasSuffix(path, "/revisions") && strings.HasPrefix(path, "/nodes/"):
		return b.createDraftRevision(path, body, out)
	case strings.HasPrefix(path, "/revisions/") && strings.HasSuffix(path, "/commit"):
		return b.commitRevision(path, body)
	case strings.HasPrefix(path, "/revisions/") && strings.HasSuffix(path, "/blocks"):
		return b.requestBlockTokens(path, body, out)
	}
	return &driveapi.HTTPError{StatusCode: 404}
}

// Put implements driveapi.Transport.
func (b *Backend) Put(ctx context.Context, path string, body, out interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case strings.HasPrefix(path, "/blocks/"):
		return b.storeBlock(path)
	case strings.HasSuffix(path, "/rename"):
		return b.renameNode(path, body)
	case strings.HasSuffix(path, "/move"):
		return b.moveNode(path, body)
	}
	return &driveapi.HTTPError{StatusCode: 404}
}

// Delete implements driveapi.Transport.
func (b *Backend) Delete(ctx context.Context, path string, body interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := strings.TrimPrefix(path, "/nodes/")
	delete(b.nodes, id)
	return nil
}

func decodeBody(body interface{}, into interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, into)
}

type createFolderPayload struct {
	ParentID          string `json:"parentId"`
	EncryptedName     string `json:"encryptedName"`
	NameHash          string `json:"nameHash"`
	WrappedPassphrase string `json:"wrappedPassphrase"`
}

func (b *Backend) createFolder(body, out interface{}) error {
	var req createFolderPayload
	if err := decodeBody(body, &req); err != nil {
		return err
	}
	id := newID()
	b.nodes[id] = &node{
		id:                id,
		parentID:          req.ParentID,
		typ:               int(drivenode.TypeFolder),
		encryptedName:     req.EncryptedName,
		hash:              &req.NameHash,
		creationTime:      time.Now().UTC().Unix(),
		wrappedPassphrase: req.WrappedPassphrase,
	}
	b.children[req.ParentID] = append(b.children[req.ParentID], id)
	b.recordEvent(1, id, req.ParentID, false, false)
	return remarshal(struct {
		NodeID string `json:"nodeId"`
	}{id}, out)
}

type draftPayload struct {
	ParentID          string `json:"parentId"`
	EncryptedName     string `json:"encryptedName"`
	NameHash          string `json:"nameHash"`
	WrappedPassphrase string `json:"wrappedPassphrase"`
}

func (b *Backend) createDraft(body, out interface{}) error {
	var req draftPayload
	if err := decodeBody(body, &req); err != nil {
		return err
	}
	id := newID()
	revID := newID()
	b.nodes[id] = &node{
		id:                id,
		parentID:          req.ParentID,
		typ:               int(drivenode.TypeFile),
		encryptedName:     req.EncryptedName,
		hash:              &req.NameHash,
		creationTime:      time.Now().UTC().Unix(),
		wrappedPassphrase: req.WrappedPassphrase,
	}
	b.children[req.ParentID] = append(b.children[req.ParentID], id)
	b.revisions[revID] = &revision{
		id:               revID,
		nodeID:           id,
		state:            "draft",
		verificationCode: []byte("verification-code-" + revID),
		contentKeyPacket: []byte("content-key-packet-" + revID),
	}
	return remarshal(struct {
		NodeID     string `json:"nodeId"`
		RevisionID string `json:"revisionId"`
	}{id, revID}, out)
}

type trashRestorePayload struct {
	NodeIDs []string `json:"nodeIds"`
}

func (b *Backend) setTrash(body interface{}, trashed bool) error {
	var req trashRestorePayload
	if err := decodeBody(body, &req); err != nil {
		return err
	}
	for _, id := range req.NodeIDs {
		n, ok := b.nodes[id]
		if !ok {
			continue
		}
		if trashed {
			now := time.Now().UTC().Unix()
			n.trashTime = &now
		} else {
			n.trashTime = nil
		}
		b.recordEvent(2, n.id, n.parentID, trashed, n.isShared)
	}
	return nil
}

func (b *Backend) deleteNodes(body interface{}) error {
	var req trashRestorePayload
	if err := decodeBody(body, &req); err != nil {
		return err
	}
	for _, id := range req.NodeIDs {
		if _, ok := b.nodes[id]; !ok {
			continue
		}
		delete(b.nodes, id)
		b.recordEvent(0, id, "", false, false)
	}
	return nil
}

type availabilityPayload struct {
	ParentID   string   `json:"parentId"`
	NameHashes []string `json:"nameHashes"`
}

func (b *Backend) checkAvailability(body, out interface{}) error {
	var req availabilityPayload
	if err := decodeBody(body, &req); err != nil {
		return err
	}
	free := make([]bool, len(req.NameHashes))
	for i := range free {
		free[i] = true // the demo backend never has naming collisions
	}
	return remarshal(struct {
		Free []bool `json:"free"`
	}{free}, out)
}

type draftRevisionPayload struct {
	PreviousRevisionID string `json:"previousRevisionId"`
}

func (b *Backend) createDraftRevision(path string, body, out interface{}) error {
	nodeID := lastSegment(strings.TrimSuffix(path, "/revisions"))
	var req draftRevisionPayload
	if err := decodeBody(body, &req); err != nil {
		return err
	}
	revID := newID()
	b.revisions[revID] = &revision{
		id:                 revID,
		nodeID:             nodeID,
		state:              "draft",
		previousRevisionID: req.PreviousRevisionID,
		verificationCode:   []byte("verification-code-" + revID),
		contentKeyPacket:   []byte("content-key-packet-" + revID),
	}
	return remarshal(struct {
		RevisionID string `json:"revisionId"`
	}{revID}, out)
}

type commitPayload struct {
	SignedManifest          string            `json:"signedManifest"`
	EncryptedExtendedAttrs  string            `json:"encryptedExtendedAttributes"`
	ClaimedSize             *int64            `json:"claimedSize,omitempty"`
	ClaimedModificationTime *int64            `json:"claimedModificationTime,omitempty"`
	ClaimedDigests          map[string]string `json:"claimedDigests,omitempty"`
}

func (b *Backend) commitRevision(path string, body interface{}) error {
	revID := lastSegment(strings.TrimSuffix(path, "/commit"))
	rev, ok := b.revisions[revID]
	if !ok {
		return &driveapi.HTTPError{StatusCode: 404}
	}
	var req commitPayload
	if err := decodeBody(body, &req); err != nil {
		return err
	}
	rev.state = "active"
	n, ok := b.nodes[rev.nodeID]
	if !ok {
		return &driveapi.HTTPError{StatusCode: 404}
	}
	wasNew := n.activeRevisionID == ""
	n.activeRevisionID = revID
	// claimed size/modtime/digests are decoded but not stored, so the
	// read path never surfaces them back for files.
	eventType := 2
	if wasNew {
		eventType = 1
	}
	b.recordEvent(eventType, n.id, n.parentID, n.trashTime != nil, n.isShared)
	return nil
}

type tokenRequestPayload struct {
	BlockCount     int      `json:"blockCount"`
	ThumbnailTypes []string `json:"thumbnailTypes"`
}

func (b *Backend) requestBlockTokens(path string, body, out interface{}) error {
	revID := lastSegment(strings.TrimSuffix(path, "/blocks"))
	var req tokenRequestPayload
	if err := decodeBody(body, &req); err != nil {
		return err
	}

	type token struct {
		URL string `json:"url"`
	}
	blockTokens := make([]token, req.BlockCount)
	for i := range blockTokens {
		blockTokens[i] = token{URL: "/blocks/" + revID + "/" + newID()}
	}
	thumbTokens := make([]token, len(req.ThumbnailTypes))
	for i := range thumbTokens {
		thumbTokens[i] = token{URL: "/blocks/" + revID + "/" + newID()}
	}
	return remarshal(struct {
		BlockTokens     []token `json:"blockTokens"`
		ThumbnailTokens []token `json:"thumbnailTokens"`
	}{blockTokens, thumbTokens}, out)
}

func (b *Backend) storeBlock(path string) error {
	parts := strings.Split(strings.TrimPrefix(path, "/blocks/"), "/")
	if len(parts) != 2 {
		return &driveapi.HTTPError{StatusCode: 404}
	}
	revID := parts[0]
	if _, ok := b.revisions[revID]; !ok {
		return &driveapi.HTTPError{StatusCode: 404}
	}
	b.blocks[revID]++
	return nil
}

type renamePayload struct {
	EncryptedName string `json:"encryptedName"`
	NameHash      string `json:"nameHash"`
}

func (b *Backend) renameNode(path string, body interface{}) error {
	id := lastSegment(strings.TrimSuffix(path, "/rename"))
	n, ok := b.nodes[id]
	if !ok {
		return &driveapi.HTTPError{StatusCode: 404}
	}
	var req renamePayload
	if err := decodeBody(body, &req); err != nil {
		return err
	}
	n.encryptedName = req.EncryptedName
	n.hash = &req.NameHash
	b.recordEvent(2, n.id, n.parentID, n.trashTime != nil, n.isShared)
	return nil
}

type movePayload struct {
	NewParentID string `json:"newParentId"`
	WrappedPass string `json:"wrappedPassphrase"`
	NameHash    string `json:"nameHash"`
}

func (b *Backend) moveNode(path string, body interface{}) error {
	id := lastSegment(strings.TrimSuffix(path, "/move"))
	n, ok := b.nodes[id]
	if !ok {
		return &driveapi.HTTPError{StatusCode: 404}
	}
	var req movePayload
	if err := decodeBody(body, &req); err != nil {
		return err
	}
	oldParent := n.parentID
	n.parentID = req.NewParentID
	n.wrappedPassphrase = req.WrappedPass
	n.hash = &req.NameHash
	b.children[oldParent] = removeID(b.children[oldParent], id)
	b.children[req.NewParentID] = append(b.children[req.NewParentID], id)
	b.recordEvent(2, n.id, n.parentID, n.trashTime != nil, n.isShared)
	return nil
}

func removeID(ids []string, target string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}
