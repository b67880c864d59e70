package api_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"petsim/internal/api"
	"petsim/internal/jobqueue"
	"petsim/internal/models"
	"petsim/internal/petservice"
	"petsim/internal/ratelimit"
	"petsim/internal/store/sqlite"
)

var now = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	srv   *httptest.Server
	store *sqlite.Store
	pets  *petservice.Service
}

func setup(t *testing.T) *fixture {
	return setupWithLimiter(t, nil)
}

func setupWithLimiter(t *testing.T, limiter api.Limiter) *fixture {
	t.Helper()
	st, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(st.Close)

	q := jobqueue.New(st, jobqueue.DefaultOptions())
	q.SetClock(func() time.Time { return now })
	_, err = q.EnsureDefaults(context.Background(), 30*time.Minute, time.Hour)
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := petservice.New(st, log)
	svc.SetClock(func() time.Time { return now })
	svc.SetDraw(func() float64 { return 0 })

	srv := httptest.NewServer(api.New(q, svc, st, limiter, log).Router())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, store: st, pets: svc}
}

func (f *fixture) do(t *testing.T, method, path, owner, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if owner != "" {
		req.Header.Set(api.OwnerHeader, owner)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	if resp.StatusCode != http.StatusNoContent && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestHealthz(t *testing.T) {
	f := setup(t)
	resp, body := f.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestJobs(t *testing.T) {
	f := setup(t)

	resp, body := f.do(t, http.MethodGet, "/jobs", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["jobs"], 2)

	resp, body = f.do(t, http.MethodGet, "/jobs/pet_decay", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "30m0s", body["interval"])
	assert.Equal(t, "pending", body["status"])

	resp, body = f.do(t, http.MethodPost, "/jobs/pet_auto_messages/trigger", "", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.NotContains(t, body, "next_run")

	resp, _ = f.do(t, http.MethodGet, "/jobs/nope", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPost, "/jobs/nope/trigger", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPets_RequireOwner(t *testing.T) {
	f := setup(t)
	resp, _ := f.do(t, http.MethodGet, "/pets/1", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/pets/1", "abc", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPets_CreateUpdateDelete(t *testing.T) {
	f := setup(t)

	resp, body := f.do(t, http.MethodPost, "/pets", "7", `{"name":"Mochi","species":"cat","character":"lazy"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, 50.0, body["hunger"])
	id := "/pets/1"

	resp, _ = f.do(t, http.MethodGet, id, "8", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = f.do(t, http.MethodPatch, id+"/stats", "7", `{"hunger":25.25,"experience":3}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 75.3, body["hunger"])
	assert.Equal(t, 3.0, body["experience"])

	resp, body = f.do(t, http.MethodPatch, id+"/stats/chances", "7", `{"happiness":{"delta":1,"chance":50,"variant":-10}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 40.0, body["happiness"], "draw 0 takes the variant")

	resp, _ = f.do(t, http.MethodPatch, id+"/stats", "7", `{`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, id, "7", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, id, "7", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPets_CreateRejectsUnknownCharacter(t *testing.T) {
	f := setup(t)

	resp, body := f.do(t, http.MethodPost, "/pets", "7", `{"name":"Rex","character":"grumpy"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "grumpy")

	resp, _ = f.do(t, http.MethodGet, "/pets/1", "7", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPets_SearchAndRestore(t *testing.T) {
	f := setup(t)
	lostAt := now.Add(-30 * time.Hour)
	p, err := f.store.CreatePet(context.Background(), models.Pet{
		OwnerID: 7, Name: "Bo", Character: models.CharacterShy, Feature: models.FeatureNormal,
		State: models.StateSick2, Stats: models.Stats{Hunger: 10, Energy: 0, Happiness: 10, Cleanliness: 10},
		IsLost: true, LostAt: &lostAt, CreatedAt: lostAt, LastUpdated: lostAt,
	})
	require.NoError(t, err)
	path := "/pets/" + strconv.FormatInt(p.ID, 10)

	resp, _ := f.do(t, http.MethodPost, path+"/restore", "7", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "search not started")

	resp, body := f.do(t, http.MethodPost, path+"/search", "7", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Contains(t, body["message"], "5 hours")

	resp, body = f.do(t, http.MethodPost, path+"/restore", "7", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pending", body["outcome"])
	assert.Equal(t, float64(5*3600), body["remaining_seconds"])

	f.pets.SetClock(func() time.Time { return now.Add(5 * time.Hour) })
	resp, body = f.do(t, http.MethodPost, path+"/restore", "7", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "restored", body["outcome"])
	require.NotNil(t, body["pet"])
	assert.Equal(t, 1.0, body["pet"].(map[string]any)["health"])

	resp, _ = f.do(t, http.MethodPost, path+"/search", "7", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "pet is no longer lost")
}

func TestMetricsMounted(t *testing.T) {
	f := setup(t)
	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPets_OwnerRateLimit(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	limiter := ratelimit.NewTokenBucket(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "petsim:api:", 2, time.Minute)
	f := setupWithLimiter(t, limiter)

	for i := 0; i < 2; i++ {
		resp, _ := f.do(t, http.MethodGet, "/pets/1", "7", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	}
	resp, _ := f.do(t, http.MethodGet, "/pets/1", "7", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/pets/1", "8", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "buckets are per owner")

	resp, _ = f.do(t, http.MethodGet, "/jobs", "7", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "job routes are not limited")
}
