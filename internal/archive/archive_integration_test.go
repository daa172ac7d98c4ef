//go:build integration

package archive

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinIO_Store(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := Config{
		Endpoint:  "localhost:9000",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Bucket:    fmt.Sprintf("upgrader-test-%d", time.Now().UnixNano()),
		Prefix:    "upgrades/",
	}
	m, err := New(ctx, cfg)
	if err != nil {
		t.Skipf("MinIO not available: %v", err)
	}
	require.NoError(t, m.Ready(ctx))

	key, err := m.Store(ctx, "01JRUN", "$ git fetch --tags origin\n\n")
	require.NoError(t, err)
	assert.Equal(t, "upgrades/01JRUN.log", key)

	obj, err := m.client.GetObject(ctx, cfg.Bucket, key, minio.GetObjectOptions{})
	require.NoError(t, err)
	body, err := io.ReadAll(obj)
	require.NoError(t, err)
	assert.Equal(t, "$ git fetch --tags origin\n\n", string(body))
}
