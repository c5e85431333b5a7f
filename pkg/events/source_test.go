// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package events_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/drivesync/pkg/driveapi"
	"storj.io/drivesync/pkg/drivenode"
	"storj.io/drivesync/pkg/events"
)

// fakeTransport replays a fixed sequence of JSON responses per path,
// tracked call-by-call, matching the teacher's habit of hand-rolled
// collaborator fakes over generated mocks.
type fakeTransport struct {
	mu        sync.Mutex
	responses map[string][]string
	calls     map[string]int
	errs      map[string]error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{responses: map[string][]string{}, calls: map[string]int{}, errs: map[string]error{}}
}

func (f *fakeTransport) Get(ctx context.Context, path string, out interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[path]; ok {
		return err
	}
	seq := f.responses[path]
	idx := f.calls[path]
	f.calls[path]++
	if idx >= len(seq) {
		idx = len(seq) - 1
	}
	return json.Unmarshal([]byte(seq[idx]), out)
}

func (f *fakeTransport) Post(ctx context.Context, path string, body, out interface{}) error { return nil }
func (f *fakeTransport) Put(ctx context.Context, path string, body, out interface{}) error  { return nil }
func (f *fakeTransport) Delete(ctx context.Context, path string, body interface{}) error    { return nil }

func TestCoreSourceYieldsSharedWithMeUpdated(t *testing.T) {
	ctx := context.Background()
	transport := newFakeTransport()
	transport.responses["/core/events?since="] = []string{`{"refresh":true,"latestEventId":"e2"}`}
	source := events.NewCoreSource(transport)

	var got []drivenode.Event
	err := source.GetEvents(ctx, "", func(ctx context.Context, event drivenode.Event) error {
		got = append(got, event)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	_, ok := got[0].(*drivenode.SharedWithMeUpdated)
	require.True(t, ok)
	require.Equal(t, drivenode.CoreScope, got[0].ScopeID())
}

func TestCoreSourceNoOpWhenNoRefresh(t *testing.T) {
	ctx := context.Background()
	transport := newFakeTransport()
	transport.responses["/core/events?since="] = []string{`{"refresh":false}`}
	source := events.NewCoreSource(transport)

	var got []drivenode.Event
	err := source.GetEvents(ctx, "", func(ctx context.Context, event drivenode.Event) error {
		got = append(got, event)
		return nil
	})
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestVolumeSourceMapsEventTypesInServerOrder(t *testing.T) {
	ctx := context.Background()
	transport := newFakeTransport()
	transport.responses["/volumes/v1/events?since="] = []string{
		`{"more":false,"latestEventId":"e3","events":[
			{"eventId":"e1","type":1,"nodeId":"n1","parentId":"root"},
			{"eventId":"e2","type":0,"nodeId":"n2"},
			{"eventId":"e3","type":2,"nodeId":"n3","parentId":"root","isTrashed":true}
		]}`,
	}
	source := events.NewVolumeSource(transport, "v1")

	var got []drivenode.Event
	err := source.GetEvents(ctx, "", func(ctx context.Context, event drivenode.Event) error {
		got = append(got, event)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 3)

	created, ok := got[0].(*drivenode.NodeCreated)
	require.True(t, ok)
	require.Equal(t, drivenode.NewNodeUID("v1", "n1"), created.NodeUID)

	deleted, ok := got[1].(*drivenode.NodeDeleted)
	require.True(t, ok)
	require.Equal(t, drivenode.NewNodeUID("v1", "n2"), deleted.NodeUID)

	updated, ok := got[2].(*drivenode.NodeUpdated)
	require.True(t, ok)
	require.True(t, updated.IsTrashed)
}

func TestVolumeSourceRefreshStopsPaging(t *testing.T) {
	ctx := context.Background()
	transport := newFakeTransport()
	transport.responses["/volumes/v1/events?since="] = []string{`{"refresh":true,"latestEventId":"e9"}`}
	source := events.NewVolumeSource(transport, "v1")

	var got []drivenode.Event
	err := source.GetEvents(ctx, "", func(ctx context.Context, event drivenode.Event) error {
		got = append(got, event)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	_, ok := got[0].(*drivenode.TreeRefresh)
	require.True(t, ok)
}

func TestVolumeSourceEmptyPageWithAdvancedCursorFastForwards(t *testing.T) {
	ctx := context.Background()
	transport := newFakeTransport()
	transport.responses["/volumes/v1/events?since=e1"] = []string{`{"more":false,"latestEventId":"e5","events":[]}`}
	source := events.NewVolumeSource(transport, "v1")

	var got []drivenode.Event
	err := source.GetEvents(ctx, "e1", func(ctx context.Context, event drivenode.Event) error {
		got = append(got, event)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	_, ok := got[0].(*drivenode.FastForward)
	require.True(t, ok)
}

func TestVolumeSourceNotFoundYieldsTreeRemoveThenReraises(t *testing.T) {
	ctx := context.Background()
	transport := newFakeTransport()
	transport.errs["/volumes/v1/events?since="] = &driveapi.HTTPError{StatusCode: 404}
	source := events.NewVolumeSource(transport, "v1")

	var got []drivenode.Event
	err := source.GetEvents(ctx, "", func(ctx context.Context, event drivenode.Event) error {
		got = append(got, event)
		return nil
	})
	require.Error(t, err)
	require.Len(t, got, 1)
	_, ok := got[0].(*drivenode.TreeRemove)
	require.True(t, ok)
}

func TestVolumeSourceGetLatestEventIDNotFoundUnsubscribes(t *testing.T) {
	ctx := context.Background()
	transport := newFakeTransport()
	transport.errs["/volumes/v1/events/latest"] = &driveapi.HTTPError{StatusCode: 404}
	source := events.NewVolumeSource(transport, "v1")

	_, err := source.GetLatestEventID(ctx)
	require.Error(t, err)
	require.True(t, events.ErrUnsubscribe.Has(err))
}
