// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package demobackend

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"storj.io/drivesync/pkg/driveapi"
)

// Shares answers every pkg/access/pkg/events question about the demo's
// single volume: it is always the caller's own, un-shared "my files" root.
type Shares struct {
	volumeID string
	rootID   string
}

// NewShares builds a Shares collaborator over the single demo volume.
func NewShares(volumeID, rootID string) *Shares {
	return &Shares{volumeID: volumeID, rootID: rootID}
}

// GetMyFilesIDs implements driveapi.SharesService.
func (s *Shares) GetMyFilesIDs(ctx context.Context) (driveapi.MyFilesRoot, error) {
	return driveapi.MyFilesRoot{VolumeID: s.volumeID, RootNodeID: s.rootID}, nil
}

// GetSharePrivateKey implements driveapi.SharesService.
func (s *Shares) GetSharePrivateKey(ctx context.Context, shareID string) ([]byte, error) {
	return nil, nil
}

// GetVolumeMetricContext implements driveapi.SharesService.
func (s *Shares) GetVolumeMetricContext(ctx context.Context, volumeID string) (string, error) {
	return "own", nil
}

// IsOwnVolume implements driveapi.SharesService.
func (s *Shares) IsOwnVolume(ctx context.Context, volumeID string) (bool, error) {
	return volumeID == s.volumeID, nil
}

// GetMyFilesShareMemberEmailKey implements driveapi.SharesService.
func (s *Shares) GetMyFilesShareMemberEmailKey(ctx context.Context) ([]byte, error) {
	return []byte("my-files-root-key"), nil
}

// GetContextShareMemberEmailKey implements driveapi.SharesService.
func (s *Shares) GetContextShareMemberEmailKey(ctx context.Context, shareID string) ([]byte, error) {
	return []byte("share-root-key-" + shareID), nil
}

// Telemetry logs every LogEvent through zap at debug level, standing in
// for the real closed-event-name sink spec §6 places out of scope.
type Telemetry struct {
	log *zap.Logger
}

// NewTelemetry builds a Telemetry collaborator. log may be nil.
func NewTelemetry(log *zap.Logger) *Telemetry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Telemetry{log: log}
}

// LogEvent implements driveapi.Telemetry.
func (t *Telemetry) LogEvent(ctx context.Context, record driveapi.LogRecord) {
	fields := make([]zap.Field, 0, len(record.Fields))
	for k, v := range record.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	t.log.Debug("telemetry: "+record.Name, fields...)
}

// Identity is a fixed driveapi.ClientIdentity, resolving spec §9's
// own-draft open question with a stable per-process client id.
type Identity struct {
	clientID string
}

// NewIdentity builds an Identity carrying clientID.
func NewIdentity(clientID string) *Identity {
	return &Identity{clientID: clientID}
}

// Get implements driveapi.ClientIdentity.
func (i *Identity) Get() (string, bool) {
	return i.clientID, true
}

// EventIDStore is an in-memory driveapi.LatestEventIDProvider, standing
// in for whatever on-disk cursor store a real client would keep across
// restarts.
type EventIDStore struct {
	mu   sync.Mutex
	byID map[string]string
}

// NewEventIDStore builds an empty EventIDStore.
func NewEventIDStore() *EventIDStore {
	return &EventIDStore{byID: map[string]string{}}
}

// GetLatestEventID implements driveapi.LatestEventIDProvider.
func (s *EventIDStore) GetLatestEventID(ctx context.Context, scopeID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byID[scopeID]
	return id, ok, nil
}

// Save records scopeID's latest processed event id, for callers that want
// to persist the cursor between polls (the demo keeps it purely in
// memory).
func (s *EventIDStore) Save(scopeID, eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[scopeID] = eventID
}
