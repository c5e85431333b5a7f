// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package block

import (
	"bytes"
	"context"
	"crypto/sha1"
	"errors"
	"io"

	"go.uber.org/zap"

	"storj.io/drivesync/pkg/asyncutil"
	"storj.io/drivesync/pkg/driveapi"
	"storj.io/drivesync/pkg/driveerrs"
	"storj.io/drivesync/pkg/drivenode"
)

// FileChunkSize is FILE_CHUNK_SIZE (4 MiB), per spec §4.9.
const FileChunkSize = 4 * 1024 * 1024

// ThumbnailInput is one generated thumbnail awaiting upload.
type ThumbnailInput struct {
	Type string
	Data []byte
}

// Pipeline chunks a file into FileChunkSize blocks, encrypts and verifies
// each, uploads them with bounded concurrency and one-off retry, and
// produces the SHA-1 manifest and block-size array commitDraft needs, per
// spec §4.9.
type Pipeline struct {
	transport   driveapi.Transport
	crypto      driveapi.CryptoProvider
	verifier    *BlockVerifier
	concurrency int
	log         *zap.Logger
}

// NewPipeline builds a Pipeline. concurrency <= 0 uses
// asyncutil.DefaultConcurrency; log may be nil.
func NewPipeline(transport driveapi.Transport, crypto driveapi.CryptoProvider, verifier *BlockVerifier, concurrency int, log *zap.Logger) *Pipeline {
	if concurrency <= 0 {
		concurrency = asyncutil.DefaultConcurrency
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{transport: transport, crypto: crypto, verifier: verifier, concurrency: concurrency, log: log}
}

type preparedBlock struct {
	encrypted         []byte
	verificationToken []byte
	plainSize         int64
}

type blockToken struct {
	URL string `json:"url"`
}

type tokenRequestPayload struct {
	BlockCount     int      `json:"blockCount"`
	ThumbnailTypes []string `json:"thumbnailTypes,omitempty"`
}

type tokenResponse struct {
	BlockTokens     []blockToken `json:"blockTokens"`
	ThumbnailTokens []blockToken `json:"thumbnailTokens"`
}

type blockUploadPayload struct {
	Data              []byte `json:"data"`
	VerificationToken []byte `json:"verificationToken"`
}

// UploadFile chunks r into FileChunkSize blocks, encrypts each with
// sessionKey, verifies it through the BlockVerifier, requests upload
// tokens for every block and thumbnail in one round trip, uploads them
// with bounded concurrency, and returns the SHA-1 manifest over the
// blocks' verification tokens plus each block's original (plaintext)
// size, per spec §4.9. expectedSize drives the finishing integrity
// checks: block count equals ceil(expectedSize/FileChunkSize), and the
// sum of block sizes equals expectedSize.
func (p *Pipeline) UploadFile(ctx context.Context, revisionUID drivenode.RevisionUID, sessionKey []byte, r io.Reader, expectedSize int64, thumbnails []ThumbnailInput) (manifest []byte, blockSizes []int64, err error) {
	_, _, revisionID, err := revisionUID.Split()
	if err != nil {
		return nil, nil, err
	}

	plainBlocks, err := chunk(r)
	if err != nil {
		return nil, nil, err
	}

	prepared := make([]preparedBlock, len(plainBlocks))
	for i, plain := range plainBlocks {
		blk, err := p.prepareBlock(ctx, revisionUID, sessionKey, plain)
		if err != nil {
			return nil, nil, err
		}
		prepared[i] = blk
	}

	preparedThumbs := make([]preparedBlock, len(thumbnails))
	thumbTypes := make([]string, len(thumbnails))
	for i, th := range thumbnails {
		blk, err := p.prepareBlock(ctx, revisionUID, sessionKey, th.Data)
		if err != nil {
			return nil, nil, err
		}
		preparedThumbs[i] = blk
		thumbTypes[i] = th.Type
	}

	var resp tokenResponse
	if err := p.transport.Post(ctx, "/revisions/"+revisionID+"/blocks", tokenRequestPayload{
		BlockCount:     len(prepared),
		ThumbnailTypes: thumbTypes,
	}, &resp); err != nil {
		return nil, nil, err
	}
	if len(resp.BlockTokens) != len(prepared) {
		return nil, nil, driveerrs.Server.New("requestBlockUpload: expected %d block tokens, got %d", len(prepared), len(resp.BlockTokens))
	}
	if len(resp.ThumbnailTokens) != len(preparedThumbs) {
		return nil, nil, driveerrs.Server.New("requestBlockUpload: expected %d thumbnail tokens, got %d", len(preparedThumbs), len(resp.ThumbnailTokens))
	}

	type uploadItem struct {
		url      string
		index    int
		thumb    bool
		prepared preparedBlock
	}
	items := make([]uploadItem, 0, len(prepared)+len(preparedThumbs))
	for i, blk := range prepared {
		items = append(items, uploadItem{url: resp.BlockTokens[i].URL, index: i, prepared: blk})
	}
	for i, blk := range preparedThumbs {
		items = append(items, uploadItem{url: resp.ThumbnailTokens[i].URL, index: i, thumb: true, prepared: blk})
	}

	_, err = asyncutil.MapConcurrently(ctx, p.concurrency, items, func(ctx context.Context, item uploadItem) (struct{}, error) {
		return struct{}{}, p.uploadWithRetry(ctx, revisionID, item.index, item.thumb, item.url, item.prepared)
	})
	if err != nil {
		return nil, nil, err
	}

	hash := sha1.New()
	blockSizes = make([]int64, len(prepared))
	for i, blk := range prepared {
		hash.Write(blk.verificationToken)
		blockSizes[i] = blk.plainSize
	}
	manifest = hash.Sum(nil)

	if err := checkIntegrity(len(prepared), blockSizes, expectedSize); err != nil {
		return nil, nil, err
	}
	return manifest, blockSizes, nil
}

func (p *Pipeline) prepareBlock(ctx context.Context, revisionUID drivenode.RevisionUID, sessionKey, plain []byte) (preparedBlock, error) {
	encReader, err := p.crypto.EncryptBlock(ctx, bytes.NewReader(plain), sessionKey)
	if err != nil {
		return preparedBlock{}, err
	}
	encrypted, err := io.ReadAll(encReader)
	if err != nil {
		return preparedBlock{}, err
	}
	token, err := p.verifier.VerifyBlock(ctx, revisionUID, encrypted)
	if err != nil {
		return preparedBlock{}, err
	}
	return preparedBlock{encrypted: encrypted, verificationToken: token, plainSize: int64(len(plain))}, nil
}

// uploadWithRetry uploads one block, retrying exactly once on any
// failure; a 404 re-requests a fresh token for that block first, per spec
// §4.9 ("retries one-off failures, including re-requesting a token on
// 404").
func (p *Pipeline) uploadWithRetry(ctx context.Context, revisionID string, index int, thumbnail bool, url string, blk preparedBlock) error {
	firstErr := p.uploadBlock(ctx, url, blk)
	if firstErr == nil {
		return nil
	}

	retryURL := url
	if isNotFound(firstErr) {
		newToken, err := p.requestSingleToken(ctx, revisionID, thumbnail)
		if err != nil {
			return err
		}
		retryURL = newToken.URL
	}
	if err := p.uploadBlock(ctx, retryURL, blk); err != nil {
		p.log.Warn("block upload retry failed", zap.Int("index", index), zap.Bool("thumbnail", thumbnail), zap.Error(err))
		return err
	}
	return nil
}

func (p *Pipeline) uploadBlock(ctx context.Context, url string, blk preparedBlock) error {
	return p.transport.Put(ctx, url, blockUploadPayload{Data: blk.encrypted, VerificationToken: blk.verificationToken}, nil)
}

func (p *Pipeline) requestSingleToken(ctx context.Context, revisionID string, thumbnail bool) (blockToken, error) {
	payload := tokenRequestPayload{BlockCount: 1}
	if thumbnail {
		payload = tokenRequestPayload{ThumbnailTypes: []string{""}}
	}
	var resp tokenResponse
	if err := p.transport.Post(ctx, "/revisions/"+revisionID+"/blocks", payload, &resp); err != nil {
		return blockToken{}, err
	}
	if thumbnail {
		if len(resp.ThumbnailTokens) == 0 {
			return blockToken{}, driveerrs.Server.New("requestBlockUpload: no thumbnail token returned on retry")
		}
		return resp.ThumbnailTokens[0], nil
	}
	if len(resp.BlockTokens) == 0 {
		return blockToken{}, driveerrs.Server.New("requestBlockUpload: no block token returned on retry")
	}
	return resp.BlockTokens[0], nil
}

// chunk splits r into FileChunkSize plaintext blocks. An empty stream
// yields zero blocks, per spec §4.9's empty-file support.
func chunk(r io.Reader) ([][]byte, error) {
	var blocks [][]byte
	for {
		buf := make([]byte, FileChunkSize)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			blocks = append(blocks, buf[:n])
		}
		if err == nil {
			continue
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return blocks, nil
		}
		return nil, err
	}
}

func checkIntegrity(blockCount int, blockSizes []int64, expectedSize int64) error {
	expectedBlocks := int((expectedSize + FileChunkSize - 1) / FileChunkSize)
	if blockCount != expectedBlocks {
		return driveerrs.Integrity.New("block count %d does not match expected %d for size %d", blockCount, expectedBlocks, expectedSize)
	}
	var sum int64
	for _, s := range blockSizes {
		sum += s
	}
	if sum != expectedSize {
		return driveerrs.Integrity.New("sum of block sizes %d does not match expected size %d", sum, expectedSize)
	}
	return nil
}

func isNotFound(err error) bool {
	var httpErr *driveapi.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 404
	}
	return false
}
