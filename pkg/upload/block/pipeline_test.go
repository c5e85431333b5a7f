// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package block_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/drivesync/pkg/driveerrs"
	"storj.io/drivesync/pkg/drivenode"
	"storj.io/drivesync/pkg/upload/block"
)

func TestUploadFileChunksAndProducesManifest(t *testing.T) {
	ctx := context.Background()
	transport := &fakeTransport{}
	v := block.NewBlockVerifier(transport, fakeCrypto{})
	p := block.NewPipeline(transport, fakeCrypto{}, v, 0, nil)

	size := int64(2*block.FileChunkSize + 1024*1024) // 2 full blocks + a partial one
	data := make([]byte, size)
	revUID := drivenode.NewRevisionUID("v1", "n1", "rev1")

	manifest, blockSizes, err := p.UploadFile(ctx, revUID, []byte("session-key"), bytes.NewReader(data), size, nil)
	require.NoError(t, err)
	require.Len(t, blockSizes, 3)
	require.Equal(t, int64(block.FileChunkSize), blockSizes[0])
	require.Equal(t, int64(block.FileChunkSize), blockSizes[1])
	require.Equal(t, int64(1024*1024), blockSizes[2])
	require.Len(t, manifest, 20) // SHA-1 digest size
	require.Len(t, transport.puts, 3)
}

func TestUploadFileEmptyStreamProducesZeroBlocks(t *testing.T) {
	ctx := context.Background()
	transport := &fakeTransport{}
	v := block.NewBlockVerifier(transport, fakeCrypto{})
	p := block.NewPipeline(transport, fakeCrypto{}, v, 0, nil)

	revUID := drivenode.NewRevisionUID("v1", "n1", "rev1")
	manifest, blockSizes, err := p.UploadFile(ctx, revUID, []byte("session-key"), bytes.NewReader(nil), 0, nil)
	require.NoError(t, err)
	require.Empty(t, blockSizes)
	require.Len(t, manifest, 20)
	require.Empty(t, transport.puts)
}

func TestUploadFileRetriesOn404ForExpiredToken(t *testing.T) {
	ctx := context.Background()
	transport := &fakeTransport{failOnce: map[string]bool{"block-round1-1": true}}
	v := block.NewBlockVerifier(transport, fakeCrypto{})
	p := block.NewPipeline(transport, fakeCrypto{}, v, 1, nil) // serialize to keep round numbering deterministic

	size := int64(3 * block.FileChunkSize)
	data := make([]byte, size)
	revUID := drivenode.NewRevisionUID("v1", "n1", "rev1")

	_, blockSizes, err := p.UploadFile(ctx, revUID, []byte("session-key"), bytes.NewReader(data), size, nil)
	require.NoError(t, err)
	require.Len(t, blockSizes, 3)
	require.Equal(t, 2, transport.blocksRequests) // initial round + one re-requested token
	require.Len(t, transport.puts, 3)
}

func TestUploadFileSupportsThumbnails(t *testing.T) {
	ctx := context.Background()
	transport := &fakeTransport{}
	v := block.NewBlockVerifier(transport, fakeCrypto{})
	p := block.NewPipeline(transport, fakeCrypto{}, v, 0, nil)

	revUID := drivenode.NewRevisionUID("v1", "n1", "rev1")
	thumbs := []block.ThumbnailInput{{Type: "preview", Data: []byte("thumbnail-bytes")}}

	_, blockSizes, err := p.UploadFile(ctx, revUID, []byte("session-key"), bytes.NewReader(nil), 0, thumbs)
	require.NoError(t, err)
	require.Empty(t, blockSizes) // thumbnails never count toward the block-size integrity array
	require.Len(t, transport.puts, 1)
}

func TestUploadFileFailsIntegrityCheckOnSizeMismatch(t *testing.T) {
	ctx := context.Background()
	transport := &fakeTransport{}
	v := block.NewBlockVerifier(transport, fakeCrypto{})
	p := block.NewPipeline(transport, fakeCrypto{}, v, 0, nil)

	data := make([]byte, block.FileChunkSize)
	revUID := drivenode.NewRevisionUID("v1", "n1", "rev1")

	// expectedSize doesn't match the actual stream length.
	_, _, err := p.UploadFile(ctx, revUID, []byte("session-key"), bytes.NewReader(data), block.FileChunkSize*2, nil)
	require.Error(t, err)
	require.True(t, driveerrs.Integrity.Has(err))
}
