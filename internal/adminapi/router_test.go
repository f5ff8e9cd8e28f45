package adminapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencifsd/cifsd/internal/cifs/dispatch"
	"github.com/opencifsd/cifsd/internal/cifs/session"
	"github.com/opencifsd/cifsd/internal/config"
)

type stubSource struct {
	conns []dispatch.ConnSnapshot
}

func (s stubSource) Snapshot() []dispatch.ConnSnapshot { return s.conns }

func testCfg() *config.Config {
	return &config.Config{
		Shares: []config.ShareConfig{
			{Name: "public", Comment: "general", Writeable: true, Available: true, GuestOk: true},
		},
	}
}

func TestHealthzIsUnauthenticated(t *testing.T) {
	auth := newTokenValidator("this-is-a-thirty-two-char-secret!!")
	router := newRouter(testCfg(), stubSource{}, nil, auth, time.Now())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionsRequiresBearerToken(t *testing.T) {
	auth := newTokenValidator("this-is-a-thirty-two-char-secret!!")
	router := newRouter(testCfg(), stubSource{}, nil, auth, time.Now())

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionsWithValidTokenReturnsSnapshot(t *testing.T) {
	auth := newTokenValidator("this-is-a-thirty-two-char-secret!!")
	src := stubSource{conns: []dispatch.ConnSnapshot{
		{ID: "c1", Peer: "10.0.0.1:139", Sessions: []session.Summary{
			{UID: 1, ClientAddr: "10.0.0.1:139", Username: "alice", TreeCount: 1},
		}},
	}}
	router := newRouter(testCfg(), src, nil, auth, time.Now())

	token, err := auth.IssueToken("operator", time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got []connectionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "c1", got[0].ID)
	assert.Equal(t, "alice", got[0].Sessions[0].Username)
}

func TestSharesReportsConfiguredTable(t *testing.T) {
	auth := newTokenValidator("this-is-a-thirty-two-char-secret!!")
	router := newRouter(testCfg(), stubSource{}, nil, auth, time.Now())

	token, err := auth.IssueToken("operator", time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/shares", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got []shareView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "public", got[0].Name)
	assert.True(t, got[0].GuestOk)
}

func TestExpiredTokenIsRejected(t *testing.T) {
	auth := newTokenValidator("this-is-a-thirty-two-char-secret!!")
	router := newRouter(testCfg(), stubSource{}, nil, auth, time.Now())

	token, err := auth.IssueToken("operator", -time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/shares", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
