// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package events implements the specialized event sources (C4), the
// per-scope polling loop (C5), and the subscription registry (C6) from
// spec §4.4/§4.5.
package events

import (
	"context"
	"errors"

	"github.com/zeebo/errs"

	"storj.io/drivesync/pkg/driveapi"
	"storj.io/drivesync/pkg/drivenode"
)

// ErrUnsubscribe is raised by a Source when the server tells the client to
// stop polling a scope entirely (spec §4.4 item 5). The manager propagates
// it and stops.
var ErrUnsubscribe = errs.Class("unsubscribe from events source")

// Yield is invoked once per event a Source produces, in server order. A
// non-nil return aborts the in-progress GetEvents call.
type Yield func(ctx context.Context, event drivenode.Event) error

// Source is the specialized per-scope event adapter (C4), implemented
// below by coreSource and volumeSource. getEvents is modeled as a
// pull-based, callback-driven iterator per spec's "async generators"
// redesign flag, rather than returning a buffered slice.
type Source interface {
	// GetLatestEventID resolves the current server-side cursor, used by
	// the manager on first start when no cursor was supplied.
	GetLatestEventID(ctx context.Context) (string, error)

	// GetEvents streams events following latestEventID by invoking yield
	// for each one, returning when the scope's feed is exhausted for this
	// poll (or on error, including ErrUnsubscribe).
	GetEvents(ctx context.Context, latestEventID string, yield Yield) error
}

// coreEventsResponse is the wire shape of the core events endpoint.
type coreEventsResponse struct {
	Refresh          bool   `json:"refresh"`
	SharedWithMe     bool   `json:"sharedWithMeRefresh"`
	LatestEventID    string `json:"latestEventId"`
}

// coreSource implements Source for the literal "core" scope, per spec
// §4.4's "core source" paragraph.
type coreSource struct {
	transport driveapi.Transport
}

// NewCoreSource builds the core-scope Source.
func NewCoreSource(transport driveapi.Transport) Source {
	return &coreSource{transport: transport}
}

// GetLatestEventID implements Source.
func (s *coreSource) GetLatestEventID(ctx context.Context) (string, error) {
	var resp coreEventsResponse
	if err := s.transport.Get(ctx, "/core/events/latest", &resp); err != nil {
		return "", err
	}
	return resp.LatestEventID, nil
}

// GetEvents implements Source. It yields exactly one SharedWithMeUpdated
// event when the server indicates a refresh is needed, otherwise nothing.
func (s *coreSource) GetEvents(ctx context.Context, latestEventID string, yield Yield) error {
	var resp coreEventsResponse
	if err := s.transport.Get(ctx, "/core/events?since="+latestEventID, &resp); err != nil {
		return err
	}
	if resp.Refresh || resp.SharedWithMe {
		return yield(ctx, drivenode.NewSharedWithMeUpdated(resp.LatestEventID))
	}
	return nil
}

// volumeEventsResponse is the wire shape of the volume events endpoint,
// per spec §4.4's "volume source" paragraph.
type volumeEventsResponse struct {
	Refresh       bool          `json:"refresh"`
	More          bool          `json:"more"`
	LatestEventID string        `json:"latestEventId"`
	Events        []volumeEvent `json:"events"`
}

type volumeEvent struct {
	EventID   string `json:"eventId"`
	Type      int    `json:"type"`
	NodeID    string `json:"nodeId"`
	ParentID  string `json:"parentId"`
	IsTrashed bool   `json:"isTrashed"`
	IsShared  bool   `json:"isShared"`
}

// volumeSource implements Source for one volume scope, per spec §4.4.
type volumeSource struct {
	transport driveapi.Transport
	volumeID  string
}

// NewVolumeSource builds the Source for volumeID.
func NewVolumeSource(transport driveapi.Transport, volumeID string) Source {
	return &volumeSource{transport: transport, volumeID: volumeID}
}

// GetLatestEventID implements Source. A NotFound response (the volume was
// removed or never existed) converts to ErrUnsubscribe, per spec §4.4.
func (s *volumeSource) GetLatestEventID(ctx context.Context) (string, error) {
	var resp volumeEventsResponse
	if err := s.transport.Get(ctx, "/volumes/"+s.volumeID+"/events/latest", &resp); err != nil {
		if isNotFound(err) {
			return "", ErrUnsubscribe.Wrap(err)
		}
		return "", err
	}
	return resp.LatestEventID, nil
}

// GetEvents implements Source, paging through more=true chunks until a
// page yields a terminal event (TreeRefresh/FastForward) or the server
// reports no more pages.
func (s *volumeSource) GetEvents(ctx context.Context, latestEventID string, yield Yield) error {
	for {
		var resp volumeEventsResponse
		err := s.transport.Get(ctx, "/volumes/"+s.volumeID+"/events?since="+latestEventID, &resp)
		if err != nil {
			if isNotFound(err) {
				yieldErr := yield(ctx, drivenode.NewTreeRemove("none", s.volumeID))
				if yieldErr != nil {
					return yieldErr
				}
				return err
			}
			return err
		}

		if resp.Refresh {
			return yield(ctx, drivenode.NewTreeRefresh(resp.LatestEventID, s.volumeID))
		}

		if len(resp.Events) == 0 {
			if resp.LatestEventID != "" && resp.LatestEventID != latestEventID {
				return yield(ctx, drivenode.NewFastForward(resp.LatestEventID, s.volumeID))
			}
			return nil
		}

		for _, raw := range resp.Events {
			event, ok := mapVolumeEvent(s.volumeID, raw)
			if !ok {
				continue
			}
			if err := yield(ctx, event); err != nil {
				return err
			}
		}

		latestEventID = resp.LatestEventID
		if !resp.More {
			return nil
		}
	}
}

// mapVolumeEvent applies spec §4.4's event-type mapping:
// 0->NodeDeleted, 1->NodeCreated, 2,3->NodeUpdated.
func mapVolumeEvent(volumeID string, raw volumeEvent) (drivenode.Event, bool) {
	nodeUID := drivenode.NewNodeUID(volumeID, raw.NodeID)
	switch raw.Type {
	case 0:
		return drivenode.NewNodeDeleted(raw.EventID, volumeID, nodeUID), true
	case 1:
		parentUID := drivenode.NewNodeUID(volumeID, raw.ParentID)
		return drivenode.NewNodeCreated(raw.EventID, volumeID, nodeUID, parentUID), true
	case 2, 3:
		parentUID := drivenode.NewNodeUID(volumeID, raw.ParentID)
		return drivenode.NewNodeUpdated(raw.EventID, volumeID, nodeUID, parentUID, raw.IsTrashed, raw.IsShared), true
	default:
		return nil, false
	}
}

func isNotFound(err error) bool {
	var httpErr *driveapi.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 404
	}
	return false
}
