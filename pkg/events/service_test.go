// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package events_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/drivesync/pkg/asyncutil"
	"storj.io/drivesync/pkg/driveapi"
	"storj.io/drivesync/pkg/drivenode"
	"storj.io/drivesync/pkg/events"
)

type stubShares struct {
	own map[string]bool
}

func (s *stubShares) GetMyFilesIDs(ctx context.Context) (driveapi.MyFilesRoot, error) {
	return driveapi.MyFilesRoot{}, nil
}
func (s *stubShares) GetSharePrivateKey(ctx context.Context, shareID string) ([]byte, error) {
	return nil, nil
}
func (s *stubShares) GetVolumeMetricContext(ctx context.Context, volumeID string) (string, error) {
	return "", nil
}
func (s *stubShares) IsOwnVolume(ctx context.Context, volumeID string) (bool, error) {
	return s.own[volumeID], nil
}
func (s *stubShares) GetMyFilesShareMemberEmailKey(ctx context.Context) ([]byte, error) {
	return nil, nil
}
func (s *stubShares) GetContextShareMemberEmailKey(ctx context.Context, shareID string) ([]byte, error) {
	return nil, nil
}

type stubProvider struct{}

func (stubProvider) GetLatestEventID(ctx context.Context, scopeID string) (string, bool, error) {
	return "", false, nil
}

type recordingTelemetry struct {
	names []string
}

func (r *recordingTelemetry) LogEvent(ctx context.Context, record driveapi.LogRecord) {
	r.names = append(r.names, record.Name)
}

func TestSubscribeToCoreEventsRequiresProvider(t *testing.T) {
	ctx := context.Background()
	svc := events.NewService(newFakeTransport(), nil, nil, nil, &asyncutil.ManualTimer{}, nil)
	_, err := svc.SubscribeToCoreEvents(ctx, func(ctx context.Context, e drivenode.Event) error { return nil })
	require.Error(t, err)
}

func TestSubscribeToCoreEventsStartsManagerAndRecordsTelemetry(t *testing.T) {
	ctx := context.Background()
	transport := newFakeTransport()
	transport.responses["/core/events/latest"] = []string{`{"latestEventId":"e0"}`}
	telemetry := &recordingTelemetry{}
	svc := events.NewService(transport, nil, telemetry, stubProvider{}, &asyncutil.ManualTimer{}, nil)

	sub, err := svc.SubscribeToCoreEvents(ctx, func(ctx context.Context, e drivenode.Event) error { return nil })
	require.NoError(t, err)
	require.NotNil(t, sub)
	require.Contains(t, telemetry.names, "volumeEventsSubscriptionsChanged")

	svc.Stop(context.Background())
}

func TestSubscribeToTreeEventsSubscribesOwnAndOtherVolumes(t *testing.T) {
	ctx := context.Background()
	transport := newFakeTransport()
	transport.responses["/volumes/mine/events/latest"] = []string{`{"latestEventId":"e0"}`}
	transport.responses["/volumes/theirs/events/latest"] = []string{`{"latestEventId":"e0"}`}
	shares := &stubShares{own: map[string]bool{"mine": true, "theirs": false}}
	svc := events.NewService(transport, shares, nil, nil, &asyncutil.ManualTimer{}, nil)

	_, err := svc.SubscribeToTreeEvents(ctx, "mine", func(ctx context.Context, e drivenode.Event) error { return nil })
	require.NoError(t, err)
	_, err = svc.SubscribeToTreeEvents(ctx, "theirs", func(ctx context.Context, e drivenode.Event) error { return nil })
	require.NoError(t, err)

	svc.Stop(context.Background())
}
