package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mycoool/boneagent/internal/bone"
	"github.com/mycoool/boneagent/internal/database"
	"github.com/mycoool/boneagent/internal/license"
	"github.com/mycoool/boneagent/internal/sensor"
	"github.com/mycoool/boneagent/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	strings map[string]string
	hashes  map[string]map[string]string
}

func (f *fakeStore) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := f.strings[key]
	return v, ok, nil
}

func (f *fakeStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	out := map[string]string{}
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	return out, nil
}

type fakeSensor struct {
	network sensor.NetworkState
	syncErr error
	syncs   int
}

func (f *fakeSensor) Network() sensor.NetworkState { return f.network }

func (f *fakeSensor) LoadServiceConfig(context.Context) error {
	f.syncs++
	return f.syncErr
}

type fakeLicense struct {
	lic license.License
	err error
}

func (f fakeLicense) License() (license.License, error) { return f.lic, f.err }

func newTestRouter(store *fakeStore, s *fakeSensor, lic fakeLicense) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return InitRouter(Deps{Store: store, Sensor: s, License: lic, Hub: stream.NewHub(nil)})
}

func do(t *testing.T, g *gin.Engine, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	g.ServeHTTP(w, req)
	return w
}

func TestPing(t *testing.T) {
	g := newTestRouter(&fakeStore{}, &fakeSensor{}, fakeLicense{})
	w := do(t, g, http.MethodGet, "/ping")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestGetBoneInfo(t *testing.T) {
	store := &fakeStore{strings: map[string]string{}}
	g := newTestRouter(store, &fakeSensor{}, fakeLicense{})

	w := do(t, g, http.MethodGet, "/api/bone")
	assert.Equal(t, http.StatusNotFound, w.Code)

	store.strings[database.KeyBoneInfo] = `{"ddns":"a.com"}`
	w = do(t, g, http.MethodGet, "/api/bone")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ddns":"a.com"}`, w.Body.String())
}

func TestGetNetwork(t *testing.T) {
	store := &fakeStore{hashes: map[string]map[string]string{
		database.KeyNetworkInfo: {"ddns": `"a.com"`, "publicIp": `"1.2.3.4"`},
	}}
	s := &fakeSensor{network: sensor.NetworkState{DDNS: "a.com", PublicIP: "1.2.3.4"}}
	g := newTestRouter(store, s, fakeLicense{})

	w := do(t, g, http.MethodGet, "/api/network")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Stored  map[string]any `json:"stored"`
		Current map[string]any `json:"current"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, map[string]any{"ddns": "a.com", "publicIp": "1.2.3.4"}, body.Stored)
	assert.Equal(t, "a.com", body.Current["ddns"])
}

func TestServiceConfigEndpoints(t *testing.T) {
	store := &fakeStore{hashes: map[string]map[string]string{
		database.KeyServiceConfig: {"adblock.dns": `["1.1.1.1"]`},
	}}
	s := &fakeSensor{}
	g := newTestRouter(store, s, fakeLicense{})

	w := do(t, g, http.MethodGet, "/api/service-config")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"adblock.dns":"[\"1.1.1.1\"]"}`, w.Body.String())

	w = do(t, g, http.MethodPost, "/api/service-config/sync")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, s.syncs)

	s.syncErr = &bone.StatusError{Op: "service config", Status: http.StatusServiceUnavailable}
	w = do(t, g, http.MethodPost, "/api/service-config/sync")
	assert.Equal(t, http.StatusBadGateway, w.Code)

	s.syncErr = errors.New("store closed")
	w = do(t, g, http.MethodPost, "/api/service-config/sync")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestGetLicense(t *testing.T) {
	g := newTestRouter(&fakeStore{}, &fakeSensor{}, fakeLicense{err: license.ErrNoLicense})
	w := do(t, g, http.MethodGet, "/api/license")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"present":false}`, w.Body.String())

	lic := license.License{Raw: "x", Claims: &license.Claims{UUID: "abc"}}
	g = newTestRouter(&fakeStore{}, &fakeSensor{}, fakeLicense{lic: lic})
	w = do(t, g, http.MethodGet, "/api/license")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Present bool           `json:"present"`
		Claims  map[string]any `json:"claims"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Present)
	assert.Equal(t, "abc", body.Claims["uuid"])
}
