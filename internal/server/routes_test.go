package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dallasson/lingo-connect-chatrooms/internal/hub"
	"github.com/Dallasson/lingo-connect-chatrooms/internal/protocol"
	"github.com/Dallasson/lingo-connect-chatrooms/internal/signaling"
)

func startTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	h := hub.NewHub()
	go h.Run()

	srv := httptest.NewServer(NewRouter(h))
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	return srv, wsURL
}

func fetchRooms(t *testing.T, baseURL string) []hub.Summary {
	t.Helper()
	resp, err := http.Get(baseURL + "/api/rooms")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Rooms []hub.Summary `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return payload.Rooms
}

func nextEvent(t *testing.T, ch *signaling.Channel) *protocol.Envelope {
	t.Helper()
	select {
	case env, ok := <-ch.Events():
		require.True(t, ok, "connection dropped while waiting for an event")
		return env
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for an event")
		return nil
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := startTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestRoomsEndpointStartsEmpty(t *testing.T) {
	srv, _ := startTestServer(t)

	assert.Empty(t, fetchRooms(t, srv.URL))
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := startTestServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// TestRoomFlowOverWebsocket walks two participants through the whole
// signaling exchange: join, offer relay, leave.
func TestRoomFlowOverWebsocket(t *testing.T) {
	srv, wsURL := startTestServer(t)

	ana := signaling.NewClient(wsURL)
	require.NoError(t, ana.Connect())
	anaCh, err := signaling.Attach(ana, "practice", "ana")
	require.NoError(t, err)
	defer anaCh.Detach()

	// Wait until ana's subscribe landed so ben's announcement cannot
	// outrun it.
	require.Eventually(t, func() bool {
		rooms := fetchRooms(t, srv.URL)
		return len(rooms) == 1 && len(rooms[0].Participants) == 1
	}, 3*time.Second, 20*time.Millisecond)

	ben := signaling.NewClient(wsURL)
	require.NoError(t, ben.Connect())
	benCh, err := signaling.Attach(ben, "practice", "ben")
	require.NoError(t, err)

	env := nextEvent(t, anaCh)
	require.Equal(t, protocol.EventUserJoined, env.Event)
	var presence protocol.PresencePayload
	require.NoError(t, env.DecodePayload(&presence))
	assert.Equal(t, "ben", presence.UserID)

	// Targeted offer reaches ben with the signal blob untouched.
	require.NoError(t, anaCh.Publish(protocol.EventOffer, protocol.OfferPayload{
		Signal: []byte(`{"type":"offer","sdp":"blob"}`),
		Caller: "ana",
		Target: "ben",
	}))
	env = nextEvent(t, benCh)
	require.Equal(t, protocol.EventOffer, env.Event)
	var offer protocol.OfferPayload
	require.NoError(t, env.DecodePayload(&offer))
	assert.Equal(t, "ana", offer.Caller)
	assert.JSONEq(t, `{"type":"offer","sdp":"blob"}`, string(offer.Signal))

	// Ben leaves; ana hears exactly one user-left whether the clean
	// leave or the hub's synthesized one wins the race.
	require.NoError(t, benCh.Detach())
	env = nextEvent(t, anaCh)
	require.Equal(t, protocol.EventUserLeft, env.Event)
	require.NoError(t, env.DecodePayload(&presence))
	assert.Equal(t, "ben", presence.UserID)

	require.Eventually(t, func() bool {
		rooms := fetchRooms(t, srv.URL)
		return len(rooms) == 1 && len(rooms[0].Participants) == 1
	}, 3*time.Second, 20*time.Millisecond)
}
