package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/internal/config"
)

// smallConfig keeps pages and requests small so tests allocate little memory.
func smallConfig() *config.Config {
	cfg := config.Default()
	cfg.Router.MinPageSize = 64 << 10
	cfg.Staging.PageSize = 64 << 10
	cfg.Workload.Ops = 400
	cfg.Workload.MinSize = 16
	cfg.Workload.MaxSize = 48 << 10
	cfg.Workload.Cycles = 2
	cfg.Workload.Workers = 3
	return cfg
}

func TestRunSimulate(t *testing.T) {
	cfg := smallConfig()
	rep, err := runSimulate(cfg)
	require.NoError(t, err)

	assert.Equal(t, 2, rep.Cycles)
	assert.Equal(t, 2*cfg.Workload.Ops, rep.Allocs+rep.Frees+rep.Failures)
	assert.Zero(t, rep.Failures)
	require.NotEmpty(t, rep.Pools)
	for _, p := range rep.Pools {
		assert.LessOrEqual(t, p.BytesUsed, p.BytesReserved)
		assert.GreaterOrEqual(t, p.PageSize, cfg.Router.MinPageSize)
	}
	assert.Equal(t, 1, rep.Totals.Resets)

	var out bytes.Buffer
	rep.render(&out)
	assert.Contains(t, out.String(), "total")
	assert.Contains(t, out.String(), "seed 42")
}

func TestRunSimulate_Deterministic(t *testing.T) {
	a, err := runSimulate(smallConfig())
	require.NoError(t, err)
	b, err := runSimulate(smallConfig())
	require.NoError(t, err)
	assert.Equal(t, a.Pools, b.Pools)
	assert.Equal(t, a.Allocs, b.Allocs)
}

func TestRunSimulate_CountsBackingFailures(t *testing.T) {
	cfg := smallConfig()
	cfg.Backing.Limit = 256 << 10
	cfg.Workload.FreeRatio = 0

	rep, err := runSimulate(cfg)
	require.NoError(t, err)
	assert.NotZero(t, rep.Failures)
	assert.LessOrEqual(t, rep.Totals.BytesReserved, uint64(256<<10))
}

func TestRunStaging(t *testing.T) {
	cfg := smallConfig()
	rep, err := runStaging(context.Background(), cfg)
	require.NoError(t, err)

	require.Len(t, rep.Cycles, 2)
	for _, c := range rep.Cycles {
		assert.Equal(t, int64(cfg.Workload.Ops), c.Allocations)
		assert.NotZero(t, c.BytesUsed)
	}
	assert.Equal(t, 2, rep.Totals.Cycles)
	assert.Equal(t, "upload", rep.Kind)

	var out bytes.Buffer
	rep.render(&out)
	assert.Contains(t, out.String(), "upload pool (non-coherent)")
}

func TestRootCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heapkit.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[router]
min_page_size = 65536

[workload]
ops = 200
max_size = 32768
cycles = 1
`), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"simulate", "--config", path, "--json", "--seed", "9"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		cfgFile, jsonOut, simSeed = "", false, 0
	})
	require.NoError(t, rootCmd.Execute())

	var rep simulateReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &rep))
	assert.Equal(t, int64(9), rep.Seed)
	assert.Equal(t, 1, rep.Cycles)

	out.Reset()
	rootCmd.SetArgs([]string{"config", "--config", path})
	require.NoError(t, rootCmd.Execute())
	assert.True(t, strings.Contains(out.String(), "min_page_size = 65536"))
}
