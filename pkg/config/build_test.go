package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTransportWiresMemoryNamespace(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Transport.PollGroupCount = 1

	tr, closer, err := BuildTransport(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer tr.Stop()
	defer closer()

	assert.NotNil(t, tr)
}

func TestBuildTransportRejectsUnknownBackend(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Subsystems[0].Namespaces[0].Backend = "tape"

	_, _, err := BuildTransport(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestBuildTransportRejectsUnknownSchedulingPolicy(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Transport.SchedulingPolicy = "least_loaded"

	_, _, err := BuildTransport(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestBuildTransportWithPersistenceReopensStore(t *testing.T) {
	dir := t.TempDir()
	cfg := GetDefaultConfig()
	cfg.Persistence.Enabled = true
	cfg.Persistence.Path = dir

	tr, closer, err := BuildTransport(context.Background(), cfg, nil)
	require.NoError(t, err)
	tr.Stop()
	require.NoError(t, closer())

	tr2, closer2, err := BuildTransport(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer tr2.Stop()
	defer closer2()
}
