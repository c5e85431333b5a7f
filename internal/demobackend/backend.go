// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package demobackend is an in-memory stand-in for the server side of the
// driveapi collaborator contracts, wired by cmd/drivesync-demo so the
// synchronization core can run an end-to-end scenario without a network.
// Its Transport implementation mirrors the state-aware fake transports
// used throughout the pkg/*/..._test.go files (decoded field maps mutated
// in place) rather than a static response table, so that mutations made
// through pkg/management and pkg/upload are visible to later reads.
package demobackend

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"storj.io/drivesync/pkg/driveapi"
	"storj.io/drivesync/pkg/drivenode"
)

type node struct {
	id                string
	parentID          string // "" for the volume root
	typ               int
	encryptedName     string
	hash              *string
	creationTime      int64
	trashTime         *int64
	activeRevisionID  string // "" if the node has no active revision yet
	wrappedPassphrase string
	privateKeyPacket  string
	hashKeyPacket     string
	folderModTime     *int64
	isShared          bool
}

type revision struct {
	id                 string
	nodeID             string
	previousRevisionID string
	state              string
	verificationCode   []byte
	contentKeyPacket   []byte
	blockCount         int
	thumbnailCount     int
}

// Backend is a single-volume, single-process server simulation. It is
// safe for concurrent use.
type Backend struct {
	log      *zap.Logger
	volumeID string

	mu        sync.Mutex
	nodes     map[string]*node
	children  map[string][]string
	revisions map[string]*revision
	blocks    map[string]int // revisionID -> number of blocks durably stored
	eventSeq  int
	events    []volumeEvent
}

// volumeEvent mirrors pkg/events' volumeEvent wire shape.
type volumeEvent struct {
	EventID   string `json:"eventId"`
	Type      int    `json:"type"`
	NodeID    string `json:"nodeId"`
	ParentID  string `json:"parentId"`
	IsTrashed bool   `json:"isTrashed"`
	IsShared  bool   `json:"isShared"`
}

// recordEvent appends a volume-scope event, per spec §4.4's type mapping
// (0 delete, 1 create, 2/3 update). Callers hold b.mu.
func (b *Backend) recordEvent(typ int, nodeID, parentID string, isTrashed, isShared bool) {
	b.eventSeq++
	b.events = append(b.events, volumeEvent{
		EventID:   "e" + strconv.Itoa(b.eventSeq),
		Type:      typ,
		NodeID:    nodeID,
		ParentID:  parentID,
		IsTrashed: isTrashed,
		IsShared:  isShared,
	})
}

// New builds a Backend with a single volume root folder and returns the
// backend plus that root's node id.
func New(volumeID string, log *zap.Logger) (*Backend, string) {
	if log == nil {
		log = zap.NewNop()
	}
	rootID := newID()
	b := &Backend{
		log:       log,
		volumeID:  volumeID,
		nodes:     map[string]*node{},
		children:  map[string][]string{},
		revisions: map[string]*revision{},
		blocks:    map[string]int{},
	}
	// The root's own passphrase is wrapped against the shares root key so
	// Access.GetParentKeys' shareRootKeys path can unwrap it like any other
	// node's parent-wrapped passphrase.
	b.nodes[rootID] = &node{
		id:                rootID,
		parentID:          "",
		typ:               int(drivenode.TypeFolder),
		creationTime:      time.Now().UTC().Unix(),
		wrappedPassphrase: string(xorFold([]byte("root-passphrase"), demoXORKey)),
		privateKeyPacket:  "root-private-key",
		hashKeyPacket:     "root-hash-key",
	}
	return b, rootID
}

func newID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(err) // crypto/rand failing is not a condition this demo recovers from
	}
	return hex.EncodeToString(buf[:])
}

// apiNode mirrors pkg/access's wire shape exactly, so Get responses
// decode on the real client side without any demo-specific translation.
type apiNode struct {
	NodeID                 string  `json:"nodeId"`
	ParentID               *string `json:"parentId"`
	VolumeID               string  `json:"volumeId"`
	Hash                   *string `json:"hash"`
	CreationTime           int64   `json:"creationTime"`
	TrashTime              *int64  `json:"trashTime"`
	Type                   int     `json:"type"`
	MediaType              *string `json:"mediaType"`
	TotalStorageSize       *int64  `json:"totalStorageSize"`
	ShareID                *string `json:"shareId"`
	IsShared               bool    `json:"isShared"`
	DirectMemberRole       int     `json:"directMemberRole"`
	EncryptedName          string  `json:"encryptedName"`
	ClaimedSignatureEmail  string  `json:"signatureEmail"`
	ClaimedNameSignature   string  `json:"nameSignatureEmail"`
	ActiveRevisionUID      *string `json:"activeRevisionUid"`
	FolderModificationTime *int64  `json:"folderModificationTime"`
	WrappedPassphrase      string  `json:"wrappedPassphrase"`
	PrivateKeyPacket       string  `json:"privateKeyPacket"`
	HashKeyPacket          string  `json:"hashKeyPacket,omitempty"`
}

func (b *Backend) toAPINode(n *node) apiNode {
	var parentID *string
	if n.parentID != "" {
		parentID = &n.parentID
	}
	var activeRevisionUID *string
	if n.activeRevisionID != "" {
		s := string(drivenode.NewRevisionUID(b.volumeID, n.id, n.activeRevisionID))
		activeRevisionUID = &s
	}
	return apiNode{
		NodeID:                 n.id,
		ParentID:               parentID,
		VolumeID:               b.volumeID,
		Hash:                   n.hash,
		CreationTime:           n.creationTime,
		TrashTime:              n.trashTime,
		Type:                   n.typ,
		IsShared:               n.isShared,
		EncryptedName:          n.encryptedName,
		ActiveRevisionUID:      activeRevisionUID,
		FolderModificationTime: n.folderModTime,
		WrappedPassphrase:      n.wrappedPassphrase,
		PrivateKeyPacket:       n.privateKeyPacket,
		HashKeyPacket:          n.hashKeyPacket,
	}
}

// Get implements driveapi.Transport.
func (b *Backend) Get(ctx context.Context, path string, out interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case strings.HasSuffix(path, "/children"), strings.Contains(path, "/children?"):
		return b.getChildren(path, out)
	case strings.HasSuffix(path, "/verification"):
		return b.getVerification(path, out)
	case path == "/core/events/latest", strings.HasPrefix(path, "/core/events?"):
		return remarshal(struct {
			Refresh       bool   `json:"refresh"`
			SharedWithMe  bool   `json:"sharedWithMeRefresh"`
			LatestEventID string `json:"latestEventId"`
		}{LatestEventID: "core-0"}, out)
	case strings.HasSuffix(path, "/events/latest") && strings.HasPrefix(path, "/volumes/"):
		return remarshal(struct {
			LatestEventID string `json:"latestEventId"`
		}{LatestEventID: "e" + strconv.Itoa(b.eventSeq)}, out)
	case strings.Contains(path, "/events?since=") && strings.HasPrefix(path, "/volumes/"):
		return b.getVolumeEvents(path, out)
	case strings.HasPrefix(path, "/nodes/drafts/conflict"):
		return &driveapi.HTTPError{StatusCode: 404}
	case strings.HasPrefix(path, "/nodes/"):
		id := strings.TrimPrefix(path, "/nodes/")
		n, ok := b.nodes[id]
		if !ok {
			return &driveapi.HTTPError{StatusCode: 404}
		}
		return remarshal(b.toAPINode(n), out)
	}
	return &driveapi.HTTPError{StatusCode: 404}
}

func (b *Backend) getChildren(path string, out interface{}) error {
	rest := strings.TrimPrefix(path, "/nodes/")
	parentUID := rest[:strings.Index(rest, "/children")]
	_, parentID, err := drivenode.NodeUID(parentUID).Split()
	if err != nil {
		return &driveapi.HTTPError{StatusCode: 404}
	}
	ids := b.children[parentID]
	resp := struct {
		NodeID []string `json:"nodeIds"`
		More   bool     `json:"more"`
		Cursor string   `json:"cursor"`
	}{NodeID: append([]string(nil), ids...)}
	return remarshal(resp, out)
}

func (b *Backend) getVerification(path string, out interface{}) error {
	revID := lastSegment(strings.TrimSuffix(path, "/verification"))
	rev, ok := b.revisions[revID]
	if !ok {
		return &driveapi.HTTPError{StatusCode: 404}
	}
	resp := struct {
		VerificationCode       string `json:"verificationCode"`
		Base64ContentKeyPacket string `json:"base64ContentKeyPacket"`
	}{
		VerificationCode:       b64(rev.verificationCode),
		Base64ContentKeyPacket: b64(rev.contentKeyPacket),
	}
	return remarshal(resp, out)
}

func (b *Backend) getVolumeEvents(path string, out interface{}) error {
	since := path[strings.Index(path, "/events?since=")+len("/events?since="):]
	sinceSeq := 0
	if since != "" {
		if n, err := strconv.Atoi(strings.TrimPrefix(since, "e")); err == nil {
			sinceSeq = n
		}
	}

	var pending []volumeEvent
	for _, e := range b.events {
		seq, err := strconv.Atoi(strings.TrimPrefix(e.EventID, "e"))
		if err == nil && seq > sinceSeq {
			pending = append(pending, e)
		}
	}
	latest := "e" + strconv.Itoa(b.eventSeq)
	resp := struct {
		Refresh       bool          `json:"refresh"`
		More          bool          `json:"more"`
		LatestEventID string        `json:"latestEventId"`
		Events        []volumeEvent `json:"events"`
	}{LatestEventID: latest, Events: pending}
	return remarshal(resp, out)
}

func lastSegment(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

func remarshal(in, out interface{}) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func b64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
