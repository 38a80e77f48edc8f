package cache

import (
	"context"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jmgilman/go/imageloader/internal/testutil"
)

// setupTestMinIO starts a MinIO container and returns an ObjectCache backed
// by a fresh bucket.
func setupTestMinIO(t *testing.T) (*ObjectCache, ObjectStore) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     "minioadmin",
			"MINIO_ROOT_PASSWORD": "minioadmin",
		},
		Cmd:        []string{"server", "/data"},
		WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
	}

	minioC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start MinIO container")
	t.Cleanup(func() { _ = minioC.Terminate(ctx) })

	endpoint, err := minioC.Endpoint(ctx, "")
	require.NoError(t, err, "failed to get container endpoint")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	require.NoError(t, err, "failed to create MinIO client")

	bucket := "images"
	require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}), "failed to create bucket")

	o, err := NewObjectCache(ObjectConfig{Client: client, Bucket: bucket, Prefix: "cache"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })

	return o, NewMinioStore(client, bucket)
}

func TestIntegration_ObjectCacheRoundTrip(t *testing.T) {
	o, objects := setupTestMinIO(t)
	ctx := context.Background()
	key := "https://example.com/photo.png"
	data := testutil.PNG(t, 8, 8)

	assert.Equal(t, None, query(t, o, key, QueryOptions{}).tier)

	storeEntry(t, o, data, key)
	ok, err := objects.Exists(ctx, o.ObjectName(key))
	require.NoError(t, err)
	assert.True(t, ok)

	r := query(t, o, key, QueryOptions{})
	require.NotNil(t, r.img)
	assert.Equal(t, data, r.data)
	assert.Equal(t, Disk, contains(t, o, key, All))

	ch := make(chan error, 1)
	o.Remove(ctx, key, All, func(err error) { ch <- err })
	require.NoError(t, <-ch)
	assert.Equal(t, None, contains(t, o, key, All))

	o.Remove(ctx, key, All, func(err error) { ch <- err })
	require.NoError(t, <-ch)
}

func TestIntegration_ObjectCacheClear(t *testing.T) {
	o, objects := setupTestMinIO(t)
	ctx := context.Background()

	for _, key := range []string{"a.png", "b.png", "c.png"} {
		storeEntry(t, o, testutil.PNG(t, 2, 2), key)
	}
	require.NoError(t, objects.Put(ctx, "other/keep.png", []byte("keep"), "image/png"))

	ch := make(chan error, 1)
	o.Clear(ctx, All, func(err error) { ch <- err })
	require.NoError(t, <-ch)

	for _, key := range []string{"a.png", "b.png", "c.png"} {
		assert.Equal(t, None, contains(t, o, key, All))
	}
	ok, err := objects.Exists(ctx, "other/keep.png")
	require.NoError(t, err)
	assert.True(t, ok)
}

func storeEntry(t *testing.T, o *ObjectCache, data []byte, key string) {
	t.Helper()
	store(t, o, nil, data, key, All)
}
