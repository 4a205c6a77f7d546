package reliability

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjectStore struct {
	objects map[string][]byte
	deleted []string
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte)}
}

func (f *fakeObjectStore) Upload(ctx context.Context, key string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.objects[key] = data
	return nil
}

func (f *fakeObjectStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, assert.AnError
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeObjectStore) Delete(ctx context.Context, key string) error {
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for k := range f.objects {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func TestBlobStore_PutGet_LocalOnly(t *testing.T) {
	bs, err := NewBlobStore(t.TempDir(), nil, zerolog.Nop())
	require.NoError(t, err)

	ref, size, err := bs.Put(context.Background(), bytes.NewReader([]byte("hello world")))
	require.NoError(t, err)
	assert.Equal(t, int64(11), size)
	assert.Contains(t, ref, "sha256:")

	rc, err := bs.Get(context.Background(), ref)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestBlobStore_Put_DedupsByContent(t *testing.T) {
	bs, err := NewBlobStore(t.TempDir(), nil, zerolog.Nop())
	require.NoError(t, err)

	ref1, _, err := bs.Put(context.Background(), bytes.NewReader([]byte("same content")))
	require.NoError(t, err)
	ref2, _, err := bs.Put(context.Background(), bytes.NewReader([]byte("same content")))
	require.NoError(t, err)
	assert.Equal(t, ref1, ref2)
}

func TestBlobStore_Put_MirrorsToRemote(t *testing.T) {
	remote := newFakeObjectStore()
	bs, err := NewBlobStore(t.TempDir(), remote, zerolog.Nop())
	require.NoError(t, err)

	ref, _, err := bs.Put(context.Background(), bytes.NewReader([]byte("mirrored")))
	require.NoError(t, err)
	assert.Contains(t, remote.objects, "models/"+ref)
}

func TestBlobStore_Get_FetchesFromRemoteWhenMissingLocally(t *testing.T) {
	remote := newFakeObjectStore()
	remote.objects["models/sha256:abc"] = []byte("remote content")

	bs, err := NewBlobStore(t.TempDir(), remote, zerolog.Nop())
	require.NoError(t, err)

	rc, err := bs.Get(context.Background(), "sha256:abc")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "remote content", string(data))
}

func TestBlobStore_Get_MissingEverywhere(t *testing.T) {
	bs, err := NewBlobStore(t.TempDir(), nil, zerolog.Nop())
	require.NoError(t, err)

	_, err = bs.Get(context.Background(), "sha256:nope")
	require.Error(t, err)
}
