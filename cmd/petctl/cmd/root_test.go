package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"petsim/internal/jobqueue"
	"petsim/internal/models"
	"petsim/internal/store/sqlite"
)

func useSQLite(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "petctl.db")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", path)
	t.Setenv("PETSIM_CONFIG", "")
	t.Setenv("PETCTL_OUTPUT", "")
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out, logs bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&logs)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrate(t *testing.T) {
	useSQLite(t)
	out, err := run(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "migrations applied (sqlite)")
}

func TestJobs_EnsureListShowTrigger(t *testing.T) {
	useSQLite(t)

	out, err := run(t, "jobs", "ensure")
	require.NoError(t, err)
	assert.Contains(t, out, "pet_decay every 30m0s")
	assert.Contains(t, out, "pet_auto_messages every 1h0m0s")

	out, err = run(t, "jobs", "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "NAME"))
	assert.Contains(t, out, "pending")

	out, err = run(t, "jobs", "list", "-o", "yaml")
	require.NoError(t, err)
	var listed []map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 2)
	assert.Equal(t, jobqueue.JobAutoMessages, listed[0]["name"], "sorted by name")
	assert.Equal(t, jobqueue.JobPetDecay, listed[1]["name"])
	assert.Equal(t, "30m0s", listed[1]["interval"])

	out, err = run(t, "jobs", "show", "pet_auto_messages")
	require.NoError(t, err)
	assert.Contains(t, out, "Recurring:")
	assert.Contains(t, out, "1h0m0s")

	out, err = run(t, "jobs", "trigger", "pet_decay")
	require.NoError(t, err)
	assert.Contains(t, out, "job pet_decay triggered (min interval 30m0s)")

	_, err = run(t, "jobs", "show", "nope")
	assert.ErrorIs(t, err, jobqueue.ErrJobNotFound)
}

func TestOutputFromEnvironment(t *testing.T) {
	useSQLite(t)
	_, err := run(t, "jobs", "ensure")
	require.NoError(t, err)

	t.Setenv("PETCTL_OUTPUT", "json")
	out, err := run(t, "jobs", "show", "pet_decay")
	require.NoError(t, err)
	var job map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &job))
	assert.Equal(t, "pet_decay", job["name"])

	_, err = run(t, "jobs", "list", "-o", "xml")
	assert.ErrorContains(t, err, `unknown output format "xml"`)
}

func TestPets_SearchAndRestore(t *testing.T) {
	path := useSQLite(t)
	st, err := sqlite.Open(context.Background(), path)
	require.NoError(t, err)
	lostAt := time.Now().UTC().Add(-30 * time.Hour)
	p, err := st.CreatePet(context.Background(), models.Pet{
		OwnerID: 7, Name: "Bo", Character: models.CharacterCurious, Feature: models.FeatureNormal,
		State: models.StateSick2, IsLost: true, LostAt: &lostAt, CreatedAt: lostAt, LastUpdated: lostAt,
	})
	require.NoError(t, err)
	st.Close()
	id := "1"
	require.Equal(t, int64(1), p.ID)

	_, err = run(t, "pets", "search", id)
	assert.Error(t, err, "--owner is required")

	_, err = run(t, "pets", "search", id, "--owner", "8")
	assert.Error(t, err)

	out, err := run(t, "pets", "search", id, "--owner", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "search started for Bo")

	out, err = run(t, "pets", "restore", id, "--owner", "7", "-o", "json")
	require.NoError(t, err)
	var res restoreOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "pending", res.Outcome)
	assert.NotEmpty(t, res.Remaining)

	_, err = run(t, "pets", "restore", "abc", "--owner", "7")
	assert.ErrorContains(t, err, "invalid pet id")
}
