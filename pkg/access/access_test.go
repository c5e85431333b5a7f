// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package access_test

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/drivesync/pkg/access"
	"storj.io/drivesync/pkg/cryptocache"
	"storj.io/drivesync/pkg/driveapi"
	"storj.io/drivesync/pkg/drivenode"
	"storj.io/drivesync/pkg/entitycache"
	"storj.io/drivesync/pkg/nodecache"
)

type fakeTransport struct {
	nodes    map[string]string // nodeId -> json
	children map[string]string // "parentUID?cursor=" -> json
	trashed  map[string]string
}

func (f *fakeTransport) Get(ctx context.Context, path string, out interface{}) error {
	if raw, ok := f.children[path]; ok {
		return json.Unmarshal([]byte(raw), out)
	}
	if raw, ok := f.trashed[path]; ok {
		return json.Unmarshal([]byte(raw), out)
	}
	if strings.HasPrefix(path, "/nodes/") {
		nodeID := strings.TrimPrefix(path, "/nodes/")
		if raw, ok := f.nodes[nodeID]; ok {
			return json.Unmarshal([]byte(raw), out)
		}
	}
	return &driveapi.HTTPError{StatusCode: 404}
}

func (f *fakeTransport) Post(ctx context.Context, path string, body, out interface{}) error { return nil }
func (f *fakeTransport) Put(ctx context.Context, path string, body, out interface{}) error  { return nil }
func (f *fakeTransport) Delete(ctx context.Context, path string, body interface{}) error    { return nil }

type fakeCrypto struct{}

func (fakeCrypto) GenerateNodeKeys(ctx context.Context) (drivenode.NodeKeys, error) {
	return drivenode.NodeKeys{}, nil
}
func (fakeCrypto) GenerateHashKey(ctx context.Context) ([]byte, error) { return nil, nil }
func (fakeCrypto) HashName(ctx context.Context, name string, hashKey []byte) (string, error) {
	return name, nil
}
func (fakeCrypto) EncryptName(ctx context.Context, name string, parentKeys drivenode.NodeKeys) ([]byte, error) {
	return []byte(name), nil
}
func (fakeCrypto) DecryptName(ctx context.Context, encrypted []byte, parentKeys drivenode.NodeKeys) (string, driveapi.VerificationStatus, error) {
	return string(encrypted), driveapi.SignedAndValid, nil
}
func (fakeCrypto) WrapPassphrase(ctx context.Context, passphrase, parentPublicKey []byte) ([]byte, error) {
	return passphrase, nil
}
func (fakeCrypto) UnwrapPassphrase(ctx context.Context, wrappedPassphrase, parentPrivateKey []byte) ([]byte, error) {
	return wrappedPassphrase, nil
}
func (fakeCrypto) EncryptExtendedAttributes(ctx context.Context, attrs []byte, keys drivenode.NodeKeys) ([]byte, error) {
	return attrs, nil
}
func (fakeCrypto) SignManifest(ctx context.Context, manifest []byte, keys drivenode.NodeKeys) ([]byte, error) {
	return manifest, nil
}
func (fakeCrypto) EncryptBlock(ctx context.Context, plaintext io.Reader, sessionKey []byte) (io.Reader, error) {
	return plaintext, nil
}
func (fakeCrypto) DecryptBlock(ctx context.Context, ciphertext []byte, sessionKey []byte) ([]byte, error) {
	return ciphertext, nil
}

type fakeShares struct{}

func (fakeShares) GetMyFilesIDs(ctx context.Context) (driveapi.MyFilesRoot, error) {
	return driveapi.MyFilesRoot{VolumeID: "v1", RootNodeID: "root"}, nil
}
func (fakeShares) GetSharePrivateKey(ctx context.Context, shareID string) ([]byte, error) { return nil, nil }
func (fakeShares) GetVolumeMetricContext(ctx context.Context, volumeID string) (string, error) {
	return "", nil
}
func (fakeShares) IsOwnVolume(ctx context.Context, volumeID string) (bool, error) { return true, nil }
func (fakeShares) GetMyFilesShareMemberEmailKey(ctx context.Context) ([]byte, error) {
	return []byte("root-key"), nil
}
func (fakeShares) GetContextShareMemberEmailKey(ctx context.Context, shareID string) ([]byte, error) {
	return nil, nil
}

func newAccess(transport *fakeTransport) (*access.Access, *nodecache.Cache, *cryptocache.Cache) {
	nodes := nodecache.New(entitycache.NewMemory(), nil)
	keys := cryptocache.New(entitycache.NewMemory())
	a := access.New(transport, fakeCrypto{}, fakeShares{}, nodes, keys, nil)
	return a, nodes, keys
}

func TestGetNodeFetchesDecryptsAndCaches(t *testing.T) {
	ctx := context.Background()
	transport := &fakeTransport{nodes: map[string]string{
		"n1": `{"nodeId":"n1","volumeId":"v1","type":0,"encryptedName":"file.txt","signatureEmail":"a@example.com","nameSignatureEmail":"a@example.com","wrappedPassphrase":"cGFzcw=="}`,
	}}
	a, nodes, keys := newAccess(transport)

	n, err := a.GetNode(ctx, drivenode.NewNodeUID("v1", "n1"))
	require.NoError(t, err)
	name, err := n.Name.Unwrap()
	require.NoError(t, err)
	require.Equal(t, "file.txt", name)

	cached, err := nodes.GetNode(ctx, drivenode.NewNodeUID("v1", "n1"))
	require.NoError(t, err)
	require.Equal(t, n.UID, cached.UID)

	_, err = keys.GetKeys(ctx, drivenode.NewNodeUID("v1", "n1"))
	require.NoError(t, err)
}

func TestGetNodeReturnsCachedWhenFresh(t *testing.T) {
	ctx := context.Background()
	transport := &fakeTransport{nodes: map[string]string{}}
	a, nodes, _ := newAccess(transport)

	n := &drivenode.Node{
		UID:          drivenode.NewNodeUID("v1", "n1"),
		VolumeID:     "v1",
		Type:         drivenode.TypeFile,
		Name:         drivenode.Ok("cached.txt"),
		KeyAuthor:    drivenode.Ok(drivenode.Email("a@example.com")),
		NameAuthor:   drivenode.Ok(drivenode.Email("a@example.com")),
	}
	require.NoError(t, nodes.SetNode(ctx, n))

	got, err := a.GetNode(ctx, n.UID)
	require.NoError(t, err)
	name, _ := got.Name.Unwrap()
	require.Equal(t, "cached.txt", name)
}

func TestIterateChildrenFromAPIMarksListingComplete(t *testing.T) {
	ctx := context.Background()
	transport := &fakeTransport{
		nodes: map[string]string{
			"root": `{"nodeId":"root","volumeId":"v1","type":1,"encryptedName":"root","wrappedPassphrase":"cm9vdA=="}`,
			"c1":   `{"nodeId":"c1","parentId":"root","volumeId":"v1","type":0,"encryptedName":"a.txt","signatureEmail":"a@example.com","nameSignatureEmail":"a@example.com"}`,
		},
		children: map[string]string{
			"/nodes/" + string(drivenode.NewNodeUID("v1", "root")) + "/children?cursor=": `{"more":false,"nodeIds":["c1"]}`,
		},
	}
	a, nodes, _ := newAccess(transport)

	out, err := a.IterateChildren(ctx, drivenode.NewNodeUID("v1", "root"))
	require.NoError(t, err)
	require.Len(t, out, 1)

	loaded, err := nodes.IsFolderChildrenLoaded(ctx, drivenode.NewNodeUID("v1", "root"))
	require.NoError(t, err)
	require.True(t, loaded)
}
