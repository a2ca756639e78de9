//go:build integration

package journal

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgresContainer(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start postgres container")

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("host=%s port=%s user=testuser password=testpass dbname=testdb sslmode=disable", host, port.Port())

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	}
	return dsn, cleanup
}

func TestPostgresStoreSaveAndRecent(t *testing.T) {
	dsn, cleanup := setupPostgresContainer(t)
	defer cleanup()

	store, err := OpenPostgresStore(dsn)
	require.NoError(t, err)
	defer store.Close()

	j := New(nil)
	j.RecordDocIdsPushed([]string{"a", "b"}, time.Millisecond)
	snap := j.GetSnapshot()

	require.NoError(t, store.Save(snap, time.Now()))

	recs, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, int64(2), recs[0].TotalDocIdsPushed)
	require.Equal(t, int64(2), recs[0].UniqueDocIdsPushed)
}
