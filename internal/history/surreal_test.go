//go:build integration

package history

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/raphaelgruber/hydra-inbox/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startSurreal runs a throwaway SurrealDB container for the test.
func startSurreal(t *testing.T) *SurrealBackend {
	t.Helper()
	// Disable ryuk (cleanup container) as it can cause issues in some environments
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "start SurrealDB container")
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	// Workaround: testcontainers may return "null" as host in some environments
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := container.MappedPort(ctx, "8000")
	require.NoError(t, err)

	backend, err := OpenSurreal(ctx, SurrealConfig{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, port.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close(ctx) })
	return backend
}

func TestSurrealBackendRoundTrip(t *testing.T) {
	backend := startSurreal(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store := NewStore(backend, DefaultLimit, quietLogger())
	assert.Empty(t, load(t, store))

	item := completedItem("surreal-1", base)
	item.Summary = "stored remotely"
	item.KeyInsights = []string{"a", "b", "c"}
	item.Tags = []string{"x", "y"}
	item.RelevanceToHydra = "medium"

	require.NoError(t, store.Persist(ctx, []models.Item{item}))
	loaded := load(t, store)
	require.Len(t, loaded, 1)
	assert.Equal(t, item.Summary, loaded[0].Summary)
	assert.Equal(t, item.KeyInsights, loaded[0].KeyInsights)
	assert.True(t, item.CreatedAt.Equal(loaded[0].CreatedAt))

	require.NoError(t, store.Clear(ctx))
	assert.Empty(t, load(t, store))
}
