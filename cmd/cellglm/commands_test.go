package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cellglm/internal/fsutil"
	"github.com/banshee-data/cellglm/internal/glm"
	"github.com/banshee-data/cellglm/internal/testutil"
)

func writeSession(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "rat1")
	testutil.WriteSession(t, fsutil.OSFileSystem{}, dir, 3, nil)
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "cellglm dev"), out)
}

func TestCellsCommand(t *testing.T) {
	dir := writeSession(t)

	out, err := run(t, "cells", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "synthetic tetrode 1:")
	assert.Contains(t, out, "400 pixels per metre")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[2], "1 "))
	assert.True(t, strings.HasPrefix(lines[4], "3 "))

	out, err = run(t, "cells", "--ppm", "250", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "250 pixels per metre")
}

func TestFitCommandJSON(t *testing.T) {
	dir := writeSession(t)

	out, err := run(t, "fit", dir, "--cell", "2", "--family", "poisson", "--graph", "Rate_vs_Speed", "--json")
	require.NoError(t, err)
	var fits []glm.Result
	require.NoError(t, json.Unmarshal([]byte(out), &fits))
	require.Len(t, fits, 1)
	assert.Equal(t, glm.Poisson, fits[0].Family)
	assert.True(t, fits[0].Intercept)
	assert.Len(t, fits[0].Params, 2)
}

func TestFitCommandAllFamilies(t *testing.T) {
	dir := writeSession(t)

	out, err := run(t, "fit", dir, "--family", "all")
	require.NoError(t, err)
	assert.Contains(t, out, "cell 1: Poisson GLM (link log) on time (s)")
	assert.Contains(t, out, "Negative Binomial GLM")
	assert.Contains(t, out, "Tweedie GLM")
	// Empty rate bins are outside the gamma family's support.
	assert.NotContains(t, out, "Gamma GLM")
}

func TestFitCommandConfig(t *testing.T) {
	dir := writeSession(t)
	cfgPath := filepath.Join(t.TempDir(), "cellglm.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("family: Gaussian\nintercept: false\n"), 0o644))

	out, err := run(t, "fit", dir, "--config", cfgPath, "--json")
	require.NoError(t, err)
	var fits []glm.Result
	require.NoError(t, json.Unmarshal([]byte(out), &fits))
	require.Len(t, fits, 1)
	assert.Equal(t, glm.Gaussian, fits[0].Family)
	assert.False(t, fits[0].Intercept)
	assert.Len(t, fits[0].Params, 1)
}

func TestPlotCommand(t *testing.T) {
	dir := writeSession(t)
	outDir := filepath.Join(t.TempDir(), "figs")

	out, err := run(t, "plot", dir, "--cell", "3", "--out", outDir, "--html")
	require.NoError(t, err)
	paths := strings.Fields(out)
	require.Len(t, paths, 2)
	assert.Equal(t, ".png", filepath.Ext(paths[0]))
	assert.Equal(t, ".html", filepath.Ext(paths[1]))
	for _, p := range paths {
		assert.Equal(t, outDir, filepath.Dir(p))
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
}

func TestCommandErrors(t *testing.T) {
	dir := writeSession(t)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"no session", []string{"cells"}, "requires at least 1 arg"},
		{"unknown family", []string{"fit", dir, "--family", "Weibull"}, "invalid settings"},
		{"unknown graph", []string{"fit", dir, "--graph", "Speed"}, "unknown graph"},
		{"negative ppm", []string{"cells", dir, "--ppm", "-1"}, "invalid settings"},
		{"missing tetrode", []string{"cells", dir, "--tetrode", "4"}, "tetrode not in session"},
		{"unavailable cell", []string{"fit", dir, "--cell", "9"}, "cell not available"},
		{"gamma on empty bins", []string{"fit", dir, "--family", "Gamma"}, "fitting Gamma model"},
		{"incomplete session", []string{"cells", t.TempDir()}, "not found in the directory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
