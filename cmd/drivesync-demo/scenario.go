// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"bytes"
	"context"
	"time"

	"go.uber.org/zap"

	"storj.io/drivesync/internal/demobackend"
	"storj.io/drivesync/pkg/access"
	"storj.io/drivesync/pkg/asyncutil"
	"storj.io/drivesync/pkg/cryptocache"
	"storj.io/drivesync/pkg/drivenode"
	"storj.io/drivesync/pkg/entitycache"
	"storj.io/drivesync/pkg/events"
	"storj.io/drivesync/pkg/management"
	"storj.io/drivesync/pkg/nodecache"
	"storj.io/drivesync/pkg/nodeevents"
	"storj.io/drivesync/pkg/upload"
	"storj.io/drivesync/pkg/upload/block"
)

const demoVolumeID = "demo-volume"

// runScenario wires every synchronization-core component against an
// in-memory demobackend.Backend and drives a scripted scenario: create a
// folder, draft and upload a file, commit it, rename it, list the
// folder's children, and trash it.
func runScenario(ctx context.Context, log *zap.Logger, clientID string) error {
	backend, rootID := demobackend.New(demoVolumeID, log)
	rootUID := drivenode.NewNodeUID(demoVolumeID, rootID)

	crypto := demobackend.Crypto{}
	shares := demobackend.NewShares(demoVolumeID, rootID)
	telemetry := demobackend.NewTelemetry(log)
	identity := demobackend.NewIdentity(clientID)
	eventIDs := demobackend.NewEventIDStore()

	nodes := nodecache.New(entitycache.NewMemory(), log)
	keys := cryptocache.New(entitycache.NewMemory())

	acc := access.New(backend, crypto, shares, nodes, keys, log)
	changes := nodeevents.New(nodes, acc, log)
	mgmt := management.New(backend, crypto, acc, nodes, keys, changes, log)
	up := upload.New(backend, crypto, acc, nodes, keys, changes, identity, log)
	verifier := block.NewBlockVerifier(backend, crypto)
	pipeline := block.NewPipeline(backend, crypto, verifier, asyncutil.DefaultConcurrency, log)
	evService := events.NewService(backend, shares, telemetry, eventIDs, asyncutil.RealTimer{}, log)
	defer evService.Stop(ctx)

	sub := changes.AddSubscriber(nodeevents.Predicate{}, func(ctx context.Context, change nodeevents.Change) {
		switch change.Type {
		case nodeevents.ChangeUpdate:
			name, _ := change.Node.Name.Unwrap()
			log.Info("node change", zap.String("type", "update"), zap.String("uid", string(change.UID)), zap.String("name", name))
		case nodeevents.ChangeRemove:
			log.Info("node change", zap.String("type", "remove"), zap.String("uid", string(change.UID)))
		}
	})
	defer sub.Dispose()

	if _, err := evService.SubscribeToCoreEvents(ctx, changes.HandleEvent); err != nil {
		return err
	}
	if _, err := evService.SubscribeToTreeEvents(ctx, demoVolumeID, changes.HandleEvent); err != nil {
		return err
	}

	log.Info("creating folder", zap.String("name", "Documents"))
	folder, err := mgmt.CreateFolder(ctx, rootUID, "Documents")
	if err != nil {
		return err
	}

	log.Info("creating draft node", zap.String("name", "hello.txt"))
	draft, err := up.CreateDraftNode(ctx, folder.UID, "hello.txt", false)
	if err != nil {
		return err
	}

	content := []byte("hello, drivesync!")
	manifest, blockSizes, err := pipeline.UploadFile(ctx, draft.RevisionUID, draft.Keys.Passphrase, bytes.NewReader(content), int64(len(content)), nil)
	if err != nil {
		return err
	}
	log.Info("uploaded blocks", zap.Int("blockCount", len(blockSizes)))

	size := int64(len(content))
	modTime := time.Now().UTC()
	node, err := up.CommitDraft(ctx, draft, manifest, []byte("{}"), upload.Metadata{
		ClaimedSize:             &size,
		ClaimedModificationTime: &modTime,
	})
	if err != nil {
		return err
	}
	name, _ := node.Name.Unwrap()
	log.Info("committed draft", zap.String("uid", string(node.UID)), zap.String("name", name))

	renamed, err := mgmt.RenameNode(ctx, node.UID, "hello-renamed.txt")
	if err != nil {
		return err
	}
	renamedName, _ := renamed.Name.Unwrap()
	log.Info("renamed node", zap.String("uid", string(renamed.UID)), zap.String("name", renamedName))

	children, err := acc.IterateChildren(ctx, folder.UID)
	if err != nil {
		return err
	}
	for _, child := range children {
		childName, _ := child.Name.Unwrap()
		log.Info("folder child", zap.String("uid", string(child.UID)), zap.String("name", childName))
	}

	if err := mgmt.TrashNodes(ctx, []drivenode.NodeUID{renamed.UID}); err != nil {
		return err
	}
	log.Info("trashed node", zap.String("uid", string(renamed.UID)))

	return nil
}
