package node

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"QFMBot/config"
	"QFMBot/model"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *LavalinkNode) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	n := NewLavalinkNode(config.NodeConfig{
		Name:     "test",
		Address:  strings.TrimPrefix(srv.URL, "http://"),
		Password: "secret",
	}, "42")
	return srv, n
}

func TestLoadTracksSearch(t *testing.T) {
	_, n := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v4/loadtracks", r.URL.Path)
		assert.Equal(t, "ytsearch:lofi", r.URL.Query().Get("identifier"))
		assert.Equal(t, "secret", r.Header.Get("Authorization"))
		w.Write([]byte(`{"loadType":"search","data":[
			{"encoded":"QAAA","info":{"identifier":"abc","title":"Lofi","author":"Girl","length":180000,"sourceName":"youtube","uri":"https://youtu.be/abc","artworkUrl":"https://img/abc.jpg"}}
		]}`))
	})

	res, err := n.LoadTracks(context.Background(), "ytsearch:lofi")
	require.NoError(t, err)
	assert.Equal(t, LoadSearch, res.Type)

	track, ok := res.First()
	require.True(t, ok)
	assert.Equal(t, "abc", track.Identifier)
	assert.Equal(t, 3*time.Minute, track.Duration)
	assert.Equal(t, "QAAA", track.Encoded)
	assert.True(t, track.HasArtwork())
}

func TestLoadTracksPlaylistAndError(t *testing.T) {
	responses := map[string]string{
		"list": `{"loadType":"playlist","data":{"info":{"name":"Mix","selectedTrack":1},"tracks":[
			{"encoded":"a","info":{"identifier":"1","title":"One","length":1000}},
			{"encoded":"b","info":{"identifier":"2","title":"Two","length":2000}}]}}`,
		"bad": `{"loadType":"error","data":{"message":"blocked","severity":"suspicious","cause":"403"}}`,
	}
	_, n := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(responses[r.URL.Query().Get("identifier")]))
	})

	res, err := n.LoadTracks(context.Background(), "list")
	require.NoError(t, err)
	assert.Equal(t, "Mix", res.PlaylistName)
	assert.Equal(t, 1, res.SelectedTrack)
	assert.Len(t, res.Tracks, 2)

	res, err = n.LoadTracks(context.Background(), "bad")
	require.NoError(t, err)
	require.NotNil(t, res.Exception)
	assert.Equal(t, "suspicious", res.Exception.Severity)
}

func TestStartBecomesAvailableOnReady(t *testing.T) {
	upgrader := websocket.Upgrader{}
	_, n := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "42", r.Header.Get("User-Id"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteJSON(map[string]interface{}{"op": "ready", "sessionId": "s1", "resumed": false})
		conn.WriteJSON(map[string]interface{}{"op": "stats", "players": 3})
		// 保持连接直到客户端关闭
		conn.ReadMessage()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, n.Start(ctx))
	require.NoError(t, n.WaitForReady(ctx))
	assert.Equal(t, StatusAvailable, n.Status())
	assert.Eventually(t, func() bool { return n.Players() == 3 }, time.Second, 10*time.Millisecond)

	require.NoError(t, n.Close())
	assert.Eventually(t, func() bool { return n.Status() == StatusUnavailable }, time.Second, 10*time.Millisecond)
}

func TestUpdatePlayerRequiresSession(t *testing.T) {
	_, n := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})
	err := n.UpdatePlayer(context.Background(), "1", PlayerUpdate{})
	assert.Error(t, err)
}

func TestUpdatePlayerBody(t *testing.T) {
	var body map[string]interface{}
	_, n := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/v4/sessions/s1/players/99", r.URL.Path)
		json.NewDecoder(r.Body).Decode(&body)
	})
	n.sessionID = "s1"

	vol := 80
	tr := model.Track{Encoded: "QAAA"}
	require.NoError(t, n.UpdatePlayer(context.Background(), "99", PlayerUpdate{Track: &tr, Position: 1500 * time.Millisecond, Volume: &vol}))

	assert.Equal(t, "QAAA", body["track"].(map[string]interface{})["encoded"])
	assert.EqualValues(t, 1500, body["position"])
	assert.EqualValues(t, 80, body["volume"])
}

func TestUpdatePlayerStop(t *testing.T) {
	var raw map[string]json.RawMessage
	_, n := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&raw)
	})
	n.sessionID = "s1"

	require.NoError(t, n.UpdatePlayer(context.Background(), "99", PlayerUpdate{Stop: true}))
	assert.JSONEq(t, `{"encoded":null}`, string(raw["track"]))
	assert.NotContains(t, raw, "position")
}

func TestTrackEndEvent(t *testing.T) {
	upgrader := websocket.Upgrader{}
	_, n := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteJSON(map[string]interface{}{"op": "ready", "sessionId": "s1"})
		conn.WriteJSON(map[string]interface{}{"op": "event", "type": "TrackStartEvent", "guildId": "7"})
		conn.WriteJSON(map[string]interface{}{"op": "event", "type": "TrackEndEvent", "guildId": "7", "reason": "finished"})
		conn.ReadMessage()
	})

	ended := make(chan string, 2)
	n.OnTrackEnd(func(guildID, reason string) { ended <- guildID + ":" + reason })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, n.Start(ctx))

	select {
	case got := <-ended:
		assert.Equal(t, "7:finished", got)
	case <-ctx.Done():
		t.Fatal("track end event not delivered")
	}
	require.NoError(t, n.Close())
}

func TestRawTrackRoundTrip(t *testing.T) {
	tr := model.Track{
		Identifier: "id",
		Title:      "T",
		Author:     "A",
		Duration:   2 * time.Second,
		Source:     "youtube",
		URI:        "https://x",
		Encoded:    "enc",
		Capabilities: model.Capabilities{
			ArtworkURL: "https://art",
		},
	}
	assert.Equal(t, tr, RawTrackOf(tr).ToTrack())
}
