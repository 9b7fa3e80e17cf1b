package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-runtime/mesh-go/pkg/coord"
	"github.com/mesh-runtime/mesh-go/pkg/device"
	"github.com/mesh-runtime/mesh-go/pkg/fault"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	shape, err := cfg.MeshShape()
	require.NoError(t, err)
	assert.True(t, shape.Equal(coord.MustShape(2, 4)))

	policy, err := cfg.PoolPolicy()
	require.NoError(t, err)
	assert.Equal(t, device.PolicyContiguous, policy)

	s := cfg.DispatchSettings()
	assert.Equal(t, 64, s.HostAlignment)
	assert.False(t, s.DispatchSEnabled)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "mesh.yaml", `
mesh:
  shape: 1x4
  trace_region_size: 65536
  num_command_queues: 2
dispatch:
  dispatch_s_enabled: true
  distributed_dispatcher: true
system:
  rows: 1
  cols: 4
  compute_grid: {x: 7, y: 7}
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "1x4", cfg.Mesh.Shape)
	assert.Equal(t, uint64(65536), cfg.Mesh.TraceRegionSize)
	assert.Equal(t, 2, cfg.Mesh.NumCQs)
	assert.True(t, cfg.Dispatch.DispatchSEnabled)
	assert.Equal(t, device.Grid{X: 7, Y: 7}, cfg.Properties().ComputeGrid)

	// Untouched fields keep their defaults.
	assert.Equal(t, 12, cfg.Mesh.TraceBanks)
	assert.Equal(t, "wormhole_b0", cfg.System.Arch)

	params := cfg.InitParams()
	assert.Equal(t, 2, params.NumCQs)
	assert.Equal(t, uint64(65536), params.TraceRegionSize)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "mesh.toml", `
[mesh]
shape = "2x2"
policy = "any"

[dispatch]
host_alignment = 128

[system]
rows = 2
cols = 2
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	policy, err := cfg.PoolPolicy()
	require.NoError(t, err)
	assert.Equal(t, device.PolicyAny, policy)
	assert.Equal(t, 128, cfg.DispatchSettings().HostAlignment)

	pool, err := cfg.NewSystemPool()
	require.NoError(t, err)
	assert.Equal(t, 4, pool.NumFree())
}

func TestLoadEmptyYAMLKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeFile(t, "empty.yml", ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unknown extension", "mesh.json", "{}"},
		{"unknown yaml key", "mesh.yaml", "mesh:\n  shapes: 2x4\n"},
		{"unknown toml key", "mesh.toml", "[mesh]\nshapes = \"2x4\"\n"},
		{"bad yaml", "mesh.yaml", "mesh: [\n"},
		{"bad shape", "mesh.yaml", "mesh:\n  shape: 2x0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			require.Error(t, err)
			assert.True(t, errors.Is(err, fault.ErrConfiguration), "got %v", err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.Is(err, fault.ErrConfiguration))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"mesh larger than system", func(c *Config) { c.Mesh.Shape = "4x4" }},
		{"unknown policy", func(c *Config) { c.Mesh.Policy = "random" }},
		{"too many queues", func(c *Config) { c.Mesh.NumCQs = 3 }},
		{"no queues", func(c *Config) { c.Mesh.NumCQs = 0 }},
		{"no trace banks", func(c *Config) { c.Mesh.TraceBanks = 0 }},
		{"alignment not power of two", func(c *Config) { c.Dispatch.HostAlignment = 48 }},
		{"alignment too small", func(c *Config) { c.Dispatch.HostAlignment = 8 }},
		{"zero stride", func(c *Config) { c.Dispatch.MessageStride = 0 }},
		{"empty system", func(c *Config) { c.System.Rows = 0 }},
		{"trace region beyond dram", func(c *Config) { c.Mesh.TraceRegionSize = 1 << 40 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, fault.ErrConfiguration), "got %v", err)
		})
	}
}
