package clix

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soilscope/internal/models"
	"soilscope/internal/store"
)

func listFlags(args ...string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("list", pflag.ContinueOnError)
	fs.Int("limit", 0, "")
	fs.Int("offset", 0, "")
	fs.String("status", "", "")
	_ = fs.Parse(args)
	return fs
}

func TestParseListFilter(t *testing.T) {
	f, err := ParseListFilter(listFlags())
	require.NoError(t, err)
	assert.Equal(t, store.ListFilter{Limit: store.DefaultListLimit}, f)

	f, err = ParseListFilter(listFlags("--limit", "5", "--offset", "-3", "--status", "Completed"))
	require.NoError(t, err)
	assert.Equal(t, 5, f.Limit)
	assert.Equal(t, 0, f.Offset)
	assert.Equal(t, models.JobStatusCompleted, f.Status)

	_, err = ParseListFilter(listFlags("--status", "running"))
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestParseSubmitParams(t *testing.T) {
	path := filepath.Join(t.TempDir(), "field.geojson")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}`), 0o644))

	fs := pflag.NewFlagSet("submit", pflag.ContinueOnError)
	AddSubmitFlags(fs)
	require.NoError(t, fs.Parse([]string{"-r", path, "--start", "2024-03-01", "--end", "2024-03-31", "-n", "East"}))

	p, err := ParseSubmitParams(fs)
	require.NoError(t, err)
	assert.Equal(t, "East", p.Name)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), p.Start)
	assert.Equal(t, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), p.End)
	assert.Contains(t, string(p.Region), "Polygon")
}

func TestParseSubmitParams_Errors(t *testing.T) {
	fs := pflag.NewFlagSet("submit", pflag.ContinueOnError)
	AddSubmitFlags(fs)
	_, err := ParseSubmitParams(fs)
	assert.ErrorContains(t, err, "--region is required")

	fs = pflag.NewFlagSet("submit", pflag.ContinueOnError)
	AddSubmitFlags(fs)
	require.NoError(t, fs.Parse([]string{"-r", filepath.Join(t.TempDir(), "missing.geojson")}))
	_, err = ParseSubmitParams(fs)
	assert.ErrorContains(t, err, "read region")

	path := filepath.Join(t.TempDir(), "f.geojson")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))
	fs = pflag.NewFlagSet("submit", pflag.ContinueOnError)
	AddSubmitFlags(fs)
	require.NoError(t, fs.Parse([]string{"-r", path, "--start", "March 1"}))
	_, err = ParseSubmitParams(fs)
	assert.ErrorIs(t, err, models.ErrValidation)
}
