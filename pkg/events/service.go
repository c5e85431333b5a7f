// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"storj.io/drivesync/pkg/asyncutil"
	"storj.io/drivesync/pkg/driveapi"
	"storj.io/drivesync/pkg/driveerrs"
	"storj.io/drivesync/pkg/drivenode"
)

var mon = monkit.Package()

const (
	corePollingInterval       = 30 * time.Second
	ownVolumePollingInterval  = 30 * time.Second
	otherVolumePollingInterval = 60 * time.Second
)

// Service keeps a registry of scope-event managers (C6), multiplexing
// subscriptions across the core scope and one manager per volume, per
// spec §4.5.
type Service struct {
	transport  driveapi.Transport
	shares     driveapi.SharesService
	telemetry  driveapi.Telemetry
	provider   driveapi.LatestEventIDProvider
	timer      asyncutil.Timer
	log        *zap.Logger

	mu       sync.Mutex
	core     *ScopeEventManager
	volumes  map[string]*ScopeEventManager
}

// NewService builds the event service. telemetry and provider may be nil;
// subscribeToCoreEvents fails Configuration when provider is nil, per
// spec §4.5.
func NewService(transport driveapi.Transport, shares driveapi.SharesService, telemetry driveapi.Telemetry, provider driveapi.LatestEventIDProvider, timer asyncutil.Timer, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		transport: transport,
		shares:    shares,
		telemetry: telemetry,
		provider:  provider,
		timer:     timer,
		log:       log,
		volumes:   make(map[string]*ScopeEventManager),
	}
}

// SubscribeToCoreEvents lazily constructs the core manager, attaches cb,
// and starts the manager if it was not already running, per spec §4.5.
func (s *Service) SubscribeToCoreEvents(ctx context.Context, cb Listener) (*EventSubscription, error) {
	if s.provider == nil {
		return nil, driveerrs.Configuration.New("events: core subscription requires a LatestEventIDProvider")
	}

	s.mu.Lock()
	isNew := s.core == nil
	if isNew {
		s.core = NewScopeEventManager(drivenode.CoreScope, NewCoreSource(s.transport), corePollingInterval, s.timer,
			s.provider, s.log)
	}
	mgr := s.core
	s.mu.Unlock()

	sub := mgr.AddListener(cb)
	if isNew {
		mgr.Start(ctx)
	}
	s.recordSubscriptionChange(ctx)
	return sub, nil
}

// SubscribeToTreeEvents is analogous to SubscribeToCoreEvents but for a
// volume scope. On first creation of a volume manager it queries
// isOwnVolume to pick the polling interval, per spec §4.5.
func (s *Service) SubscribeToTreeEvents(ctx context.Context, volumeID string, cb Listener) (*EventSubscription, error) {
	s.mu.Lock()
	mgr, ok := s.volumes[volumeID]
	s.mu.Unlock()

	if !ok {
		interval := otherVolumePollingInterval
		if s.shares != nil {
			own, err := s.shares.IsOwnVolume(ctx, volumeID)
			if err != nil {
				return nil, err
			}
			if own {
				interval = ownVolumePollingInterval
			}
		}

		newMgr := NewScopeEventManager(volumeID, NewVolumeSource(s.transport, volumeID), interval, s.timer, s.provider, s.log)

		s.mu.Lock()
		mgr, ok = s.volumes[volumeID]
		if !ok {
			s.volumes[volumeID] = newMgr
			mgr = newMgr
			ok = false
		} else {
			ok = true
		}
		s.mu.Unlock()

		if !ok {
			sub := mgr.AddListener(cb)
			mgr.Start(ctx)
			s.recordSubscriptionChange(ctx)
			return sub, nil
		}
	}

	sub := mgr.AddListener(cb)
	s.recordSubscriptionChange(ctx)
	return sub, nil
}

// StopVolume disposes of a volume's manager entirely, e.g. when a share is
// removed. It blocks until the manager's loop has exited.
func (s *Service) StopVolume(ctx context.Context, volumeID string) {
	s.mu.Lock()
	mgr, ok := s.volumes[volumeID]
	if ok {
		delete(s.volumes, volumeID)
	}
	s.mu.Unlock()
	if ok {
		mgr.Stop(ctx)
	}
}

// Stop tears down every running manager, used on shutdown.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	core := s.core
	s.core = nil
	volumes := s.volumes
	s.volumes = make(map[string]*ScopeEventManager)
	s.mu.Unlock()

	if core != nil {
		core.Stop(ctx)
	}
	for _, mgr := range volumes {
		mgr.Stop(ctx)
	}
}

func (s *Service) recordSubscriptionChange(ctx context.Context) {
	mon.Counter("volumeEventsSubscriptionsChanged").Inc(1)
	if s.telemetry != nil {
		s.telemetry.LogEvent(ctx, driveapi.LogRecord{Name: "volumeEventsSubscriptionsChanged"})
	}
}
