package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"QFMBot/core/auth"
	"QFMBot/core/codec"
	"QFMBot/core/lifecycle"
	"QFMBot/core/node"
	"QFMBot/core/player"
	"QFMBot/core/resolver"
	"QFMBot/model"
	"QFMBot/repository"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubResolver struct {
	lastQuery string
	lastScope resolver.Scope
}

func (r *stubResolver) Resolve(_ context.Context, query string, scope resolver.Scope) resolver.Result {
	r.lastQuery, r.lastScope = query, scope
	if query == "nothing" {
		return resolver.Fail(resolver.SeveritySuspicious, "no results", query)
	}
	return resolver.Tracks(model.Track{Identifier: "1", Title: query, Source: "netease"})
}

type stubPlaylists map[string]*model.StoredPlaylist

func (s stubPlaylists) GetByID(_ context.Context, id string) (*model.StoredPlaylist, error) {
	if id == "broken" {
		return nil, errors.New("db down")
	}
	p, ok := s[id]
	if !ok {
		return nil, repository.ErrPlaylistNotFound
	}
	return p, nil
}

type stubTracking map[string]*model.TrackingSnapshot

func (s stubTracking) Get(_ context.Context, id string) (*model.TrackingSnapshot, error) {
	return s[id], nil
}

type stubPlayer struct {
	id      snowflake.ID
	channel snowflake.ID

	skips   int
	paused  bool
	volume  int
	loop    lifecycle.LoopMode
	effects map[string]interface{}
}

func (p *stubPlayer) SessionID() snowflake.ID { return p.id }
func (p *stubPlayer) ChannelID() snowflake.ID { return p.channel }
func (p *stubPlayer) Playing() bool { return true }
func (p *stubPlayer) Freeze() (lifecycle.Snapshot, bool) { return lifecycle.Snapshot{SessionID: p.id}, true }
func (p *stubPlayer) Thaw() {}
func (p *stubPlayer) DetachDisplays() []lifecycle.Display { return nil }
func (p *stubPlayer) AttachDisplay(lifecycle.Display) {}
func (p *stubPlayer) Destroy(context.Context) error { return nil }

func (p *stubPlayer) Skip(context.Context) error {
	p.skips++
	return nil
}

func (p *stubPlayer) Pause(_ context.Context, paused bool) error {
	p.paused = paused
	return nil
}

func (p *stubPlayer) SetVolume(_ context.Context, volume int) error {
	p.volume = volume
	return nil
}

func (p *stubPlayer) SetEffects(_ context.Context, effects map[string]interface{}) error {
	p.effects = effects
	return nil
}

func (p *stubPlayer) SetLoop(mode lifecycle.LoopMode) error {
	p.loop = mode
	return nil
}

type stubPlayback struct {
	sessionID snowflake.ID
	channelID snowflake.ID
	tracks    []model.Track
	err       error
}

func (s *stubPlayback) Play(_ context.Context, sessionID, channelID snowflake.ID, tracks []model.Track) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	s.sessionID, s.channelID, s.tracks = sessionID, channelID, tracks
	return channelID != 0, nil
}

type stubSessions map[snowflake.ID]lifecycle.Player

func (s stubSessions) Get(id snowflake.ID) (lifecycle.Player, bool) {
	p, ok := s[id]
	return p, ok
}

func (s stubSessions) Sessions() []snowflake.ID {
	out := make([]snowflake.ID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	return out
}

type stubLifecycle struct {
	params      lifecycle.ShutdownParams
	reason      string
	shutdowns   int
	shutdownErr error
	resumeErr   error
}

func (l *stubLifecycle) Shutdown(_ context.Context, _ lifecycle.Player, params lifecycle.ShutdownParams, reason string) (lifecycle.ShutdownResult, error) {
	l.shutdowns++
	l.params, l.reason = params, reason
	if l.shutdownErr != nil {
		return lifecycle.ShutdownResult{}, l.shutdownErr
	}
	return lifecycle.ShutdownResult{ResumeID: "pl-1", Reason: reason}, nil
}

func (l *stubLifecycle) Resume(_ context.Context, _ string, sessionID, channelID snowflake.ID) (lifecycle.Player, error) {
	if l.resumeErr != nil {
		return nil, l.resumeErr
	}
	return &stubPlayer{id: sessionID, channel: channelID}, nil
}

type fixture struct {
	handler   http.Handler
	resolver  *stubResolver
	lifecycle *stubLifecycle
	playback  *stubPlayback
	player    *stubPlayer
	tokens    *auth.TokenIssuer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hash, err := auth.HashPassword("hunter2")
	require.NoError(t, err)

	f := &fixture{
		resolver:  &stubResolver{},
		lifecycle: &stubLifecycle{},
		playback:  &stubPlayback{},
		player:    &stubPlayer{id: 42, channel: 7},
		tokens:    auth.NewTokenIssuer("test-secret", time.Hour),
	}
	playlists := stubPlaylists{
		"pl-1": {ID: "pl-1", ResumeIndex: 0, Tracks: model.EncodedTrackList{{Codec: "netease", Payload: "1"}}},
	}
	tracking := stubTracking{"42": {SessionID: "42", Tracked: true}}
	f.handler = NewAPIHandler(Deps{
		Resolver:          f.resolver,
		Playlists:         playlists,
		Tracking:          tracking,
		Sessions:          stubSessions{42: f.player},
		Lifecycle:         f.lifecycle,
		Playback:          f.playback,
		Tokens:            f.tokens,
		AdminUsername:     "admin",
		AdminPasswordHash: hash,
	}).Router()
	return f
}

func (f *fixture) do(method, target, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) token(t *testing.T) string {
	t.Helper()
	token, err := f.tokens.GenerateToken("admin")
	require.NoError(t, err)
	return token
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Body.String(), `"sessions":1`)
}

func TestResolve(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/resolve?q=ncm:hello&session=42", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ncm:hello", f.resolver.lastQuery)
	assert.Equal(t, snowflake.ID(42), f.resolver.lastScope.SessionID)

	var result resolver.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.Tracks, 1)

	rec = f.do(http.MethodGet, "/api/resolve?q=nothing", "", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "no results")

	rec = f.do(http.MethodGet, "/api/resolve", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPlaylist(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/playlists/pl-1", "", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/playlists/missing", "", "").Code)
	assert.Equal(t, http.StatusInternalServerError, f.do(http.MethodGet, "/api/playlists/broken", "", "").Code)
}

func TestTracking(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/sessions/42/tracking", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"tracked":true`)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/sessions/43/tracking", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/sessions/abc/tracking", "", "").Code)
}

func TestListSessions(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/sessions", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"id":"42","channelId":"7","playing":true}]`, rec.Body.String())
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/api/auth/login", `{"username":"admin","password":"hunter2"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	claims, err := f.tokens.ParseToken(body["token"])
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username)

	rec = f.do(http.MethodPost, "/api/auth/login", `{"username":"admin","password":"nope"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestShutdownRequiresToken(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/api/sessions/42/shutdown", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/api/sessions/42/shutdown", "", "garbage").Code)
	assert.Zero(t, f.lifecycle.shutdowns)
}

func TestShutdownDefaults(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/api/sessions/42/shutdown", "", f.token(t))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, lifecycle.StoppedTitle, f.lifecycle.reason)
	assert.True(t, f.lifecycle.params.SavePlaylist)
	assert.True(t, f.lifecycle.params.ShutdownDisplays)
	assert.False(t, f.lifecycle.params.RestartPlayer)
	assert.Equal(t, "admin", f.lifecycle.params.AuthorID)
	assert.Contains(t, rec.Body.String(), "pl-1")
}

func TestShutdownOverrides(t *testing.T) {
	f := newFixture(t)
	body := `{"reason":"maintenance","savePlaylist":false,"restart":true}`
	rec := f.do(http.MethodPost, "/api/sessions/42/shutdown", body, f.token(t))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "maintenance", f.lifecycle.reason)
	assert.False(t, f.lifecycle.params.SavePlaylist)
	assert.True(t, f.lifecycle.params.RestartPlayer)

	rec = f.do(http.MethodPost, "/api/sessions/99/shutdown", "", f.token(t))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.lifecycle.shutdownErr = lifecycle.ErrShuttingDown
	rec = f.do(http.MethodPost, "/api/sessions/42/shutdown", "", f.token(t))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestResume(t *testing.T) {
	f := newFixture(t)
	body := `{"sessionId":"42","channelId":"7"}`
	rec := f.do(http.MethodPost, "/api/playlists/pl-1/resume", body, f.token(t))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sessionId":"42"`)

	cases := map[error]int{
		repository.ErrPlaylistNotFound:                   http.StatusNotFound,
		node.ErrNoAvailableNode:                          http.StatusServiceUnavailable,
		&codec.MismatchError{Op: "decode", Codec: "old"}: http.StatusConflict,
		errors.New("boom"):                               http.StatusInternalServerError,
	}
	for err, status := range cases {
		f.lifecycle.resumeErr = err
		rec = f.do(http.MethodPost, "/api/playlists/pl-1/resume", body, f.token(t))
		assert.Equal(t, status, rec.Code, err.Error())
	}

	f.lifecycle.resumeErr = nil
	rec = f.do(http.MethodPost, "/api/playlists/pl-1/resume", `{"sessionId":"x","channelId":"7"}`, f.token(t))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlay(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/api/sessions/50/play", `{"query":"x"}`, "").Code)

	rec := f.do(http.MethodPost, "/api/sessions/50/play", `{"query":"ncm:hello","channelId":"9"}`, f.token(t))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, snowflake.ID(50), f.playback.sessionID)
	assert.Equal(t, snowflake.ID(9), f.playback.channelID)
	require.Len(t, f.playback.tracks, 1)
	assert.Equal(t, "ncm:hello", f.playback.tracks[0].Title)
	assert.Contains(t, rec.Body.String(), `"created":true`)
	assert.Equal(t, snowflake.ID(50), f.resolver.lastScope.SessionID)

	rec = f.do(http.MethodPost, "/api/sessions/50/play", `{"query":"nothing"}`, f.token(t))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/sessions/50/play", `{"query":" "}`, f.token(t)).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/sessions/50/play", `{"query":"a","channelId":"x"}`, f.token(t)).Code)

	cases := map[error]int{
		player.ErrNoChannel:     http.StatusBadRequest,
		player.ErrFrozen:        http.StatusConflict,
		node.ErrNoAvailableNode: http.StatusServiceUnavailable,
		errors.New("boom"):      http.StatusInternalServerError,
	}
	for err, status := range cases {
		f.playback.err = err
		rec = f.do(http.MethodPost, "/api/sessions/50/play", `{"query":"a"}`, f.token(t))
		assert.Equal(t, status, rec.Code, err.Error())
	}
}

func TestPlayerControls(t *testing.T) {
	f := newFixture(t)
	token := f.token(t)

	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/sessions/42/skip", "", token).Code)
	assert.Equal(t, 1, f.player.skips)

	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/sessions/42/pause", `{"paused":true}`, token).Code)
	assert.True(t, f.player.paused)

	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/sessions/42/volume", `{"volume":250}`, token).Code)
	assert.Equal(t, 250, f.player.volume)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/sessions/42/volume", `{"volume":5000}`, token).Code)

	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/sessions/42/loop", `{"mode":"queue"}`, token).Code)
	assert.Equal(t, lifecycle.LoopQueue, f.player.loop)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/sessions/42/loop", `{"mode":"forever"}`, token).Code)

	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/sessions/42/effects", `{"timescale":{"speed":1.2}}`, token).Code)
	assert.Contains(t, f.player.effects, "timescale")

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/api/sessions/99/skip", "", token).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/api/sessions/42/skip", "", "").Code)
}
