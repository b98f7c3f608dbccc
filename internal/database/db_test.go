package database

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildConnectionString(t *testing.T) {
	cache := buildConnectionString("/tmp/results.db", ProfileCache)
	assert.True(t, strings.HasPrefix(cache, "/tmp/results.db?_pragma=journal_mode(WAL)"))
	assert.Contains(t, cache, "synchronous(OFF)")
	assert.Contains(t, cache, "busy_timeout(5000)")

	standard := buildConnectionString("/tmp/results.db", ProfileStandard)
	assert.Contains(t, standard, "synchronous(NORMAL)")
	assert.NotContains(t, standard, "synchronous(OFF)")
}

func TestNew_CreatesDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "results.db")

	db, err := New(Config{Path: path, Profile: ProfileCache, Name: "results"})
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, path, db.Path())
	assert.Equal(t, "results", db.Name())
	assert.Equal(t, ProfileCache, db.Profile())
	assert.NoError(t, db.QuickCheck(context.Background()))

	_, err = db.Conn().Exec("CREATE TABLE t (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Positive(t, stats.PageCount)
	assert.Positive(t, stats.PageSize)
}

func TestNew_DefaultsToStandardProfile(t *testing.T) {
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "x.db"), Name: "x"})
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, ProfileStandard, db.Profile())
}
