// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package entitycache_test

import (
	"testing"

	"storj.io/drivesync/pkg/entitycache"
	"storj.io/drivesync/pkg/entitycache/testsuite"
)

func TestMemory(t *testing.T) {
	testsuite.RunTests(t, func() entitycache.Store {
		return entitycache.NewMemory()
	})
}
