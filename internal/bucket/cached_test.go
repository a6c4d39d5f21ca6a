package bucket

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b2fs4chia/b2fs/internal/rangecache"
)

type fakeClient struct {
	lsCalls int32
	listing []rangecache.FileInfo
}

func (f *fakeClient) Ls(ctx context.Context, recursive bool) ([]rangecache.FileInfo, error) {
	atomic.AddInt32(&f.lsCalls, 1)
	return f.listing, nil
}

func (f *fakeClient) DownloadRange(ctx context.Context, fileID string, inclusiveLo, inclusiveHi int64) ([]byte, error) {
	return []byte("data"), nil
}

func (f *fakeClient) DeleteFileVersion(ctx context.Context, fileID, fileName string) error {
	return nil
}

func (f *fakeClient) UploadBytes(ctx context.Context, data []byte, fileName string) error {
	return nil
}

func TestCachedBucket_MemoizesWithinTTL(t *testing.T) {
	client := &fakeClient{listing: []rangecache.FileInfo{{FileID: "a"}}}
	cached := NewCachedBucket(client, time.Minute)

	_, err := cached.Ls(context.Background(), true)
	require.NoError(t, err)
	_, err = cached.Ls(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, int32(1), client.lsCalls)
}

func TestCachedBucket_RefreshesAfterTTLExpires(t *testing.T) {
	client := &fakeClient{listing: []rangecache.FileInfo{{FileID: "a"}}}
	cached := NewCachedBucket(client, time.Millisecond)

	_, err := cached.Ls(context.Background(), true)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = cached.Ls(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, int32(2), client.lsCalls)
}

func TestCachedBucket_InvalidateForcesRefresh(t *testing.T) {
	client := &fakeClient{listing: []rangecache.FileInfo{{FileID: "a"}}}
	cached := NewCachedBucket(client, time.Hour)

	_, err := cached.Ls(context.Background(), true)
	require.NoError(t, err)
	cached.Invalidate()
	_, err = cached.Ls(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, int32(2), client.lsCalls)
}

func TestCachedBucket_PassesThroughNonListingCalls(t *testing.T) {
	client := &fakeClient{}
	cached := NewCachedBucket(client, time.Minute)

	data, err := cached.DownloadRange(context.Background(), "f1", 0, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), data)

	require.NoError(t, cached.DeleteFileVersion(context.Background(), "f1", "name"))
	require.NoError(t, cached.UploadBytes(context.Background(), []byte("x"), "name"))
}
