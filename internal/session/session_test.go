package session

import (
	"encoding/json"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dallasson/lingo-connect-chatrooms/internal/chat"
	"github.com/Dallasson/lingo-connect-chatrooms/internal/protocol"
	"github.com/Dallasson/lingo-connect-chatrooms/internal/testutil"
)

// fakeBus records publishes and exposes the events channel for tests to
// feed.
type fakeBus struct {
	mu       sync.Mutex
	events   chan *protocol.Envelope
	sent     []busEvent
	detached int
}

type busEvent struct {
	event   string
	payload any
}

func newFakeBus() *fakeBus {
	return &fakeBus{events: make(chan *protocol.Envelope, 16)}
}

func (b *fakeBus) Publish(event string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, busEvent{event: event, payload: payload})
	return nil
}

func (b *fakeBus) Events() <-chan *protocol.Envelope { return b.events }

func (b *fakeBus) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.detached++
	return nil
}

func (b *fakeBus) published() []busEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]busEvent(nil), b.sent...)
}

func (b *fakeBus) detachCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.detached
}

// fakeLink simulates the remote side: a responder link answers the offer
// it is fed, and both sides surface a track and an open chat channel once
// the handshake blob arrives.
type fakeLink struct {
	mu      sync.Mutex
	params  LinkParams
	signals []json.RawMessage
	sent    [][]byte
	closed  int
}

func (l *fakeLink) Signal(sig json.RawMessage) error {
	l.mu.Lock()
	l.signals = append(l.signals, sig)
	l.mu.Unlock()

	if l.params.Initiator {
		l.params.OnTrack(staticTrack{id: l.params.RemoteID})
		l.params.OnChannelOpen()
	} else {
		l.params.OnSignal(json.RawMessage(`{"type":"answer","sdp":"remote"}`))
		l.params.OnTrack(staticTrack{id: l.params.RemoteID})
		l.params.OnChannelOpen()
	}
	return nil
}

func (l *fakeLink) Send(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, append([]byte(nil), data...))
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed++
	return nil
}

func (l *fakeLink) closeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *fakeLink) sentMessages() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]byte(nil), l.sent...)
}

type staticTrack struct{ id string }

func (t staticTrack) ID() string    { return t.id }
func (t staticTrack) Codec() string { return "opus" }

type fakeConnector struct {
	links   []*fakeLink
	openErr error
}

func (c *fakeConnector) Open(p LinkParams) (Link, error) {
	if c.openErr != nil {
		return nil, c.openErr
	}
	l := &fakeLink{params: p}
	c.links = append(c.links, l)
	if p.Initiator {
		p.OnSignal(json.RawMessage(`{"type":"offer","sdp":"local"}`))
	}
	return l, nil
}

type fakeMedia struct {
	mu      sync.Mutex
	stopped int
}

func (m *fakeMedia) Track() webrtc.TrackLocal { return nil }

func (m *fakeMedia) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped++
}

func (m *fakeMedia) stopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

func mustEnv(t *testing.T, event string, payload any) *protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(event, "room-1", payload)
	require.NoError(t, err)
	return env
}

// drain runs every task the transport callbacks have queued, the way the
// event loop would.
func drain(s *Session) {
	for {
		select {
		case fn := <-s.tasks:
			fn()
		default:
			return
		}
	}
}

func TestJoinOpensSinglePeerRecord(t *testing.T) {
	bus := newFakeBus()
	conn := &fakeConnector{}
	s := New("room-1", "alice", bus, conn, nil)

	joined := mustEnv(t, protocol.EventUserJoined, protocol.PresencePayload{UserID: "bob"})
	s.handleEnvelope(joined)

	require.Len(t, s.peers, 1)
	assert.True(t, s.peers["bob"].initiator, "alice sorts before bob and must initiate")

	// A repeated announcement replaces the record, never duplicates it.
	s.handleEnvelope(joined)
	require.Len(t, s.peers, 1)
	require.Len(t, conn.links, 2)
	assert.Equal(t, 1, conn.links[0].closeCount(), "retired link must be closed")
}

func TestOwnJoinIgnored(t *testing.T) {
	bus := newFakeBus()
	s := New("room-1", "alice", bus, &fakeConnector{}, nil)

	s.handleEnvelope(mustEnv(t, protocol.EventUserJoined, protocol.PresencePayload{UserID: "alice"}))

	assert.Empty(t, s.peers)
	assert.Empty(t, bus.published())
}

func TestLargerIDWaitsForOffer(t *testing.T) {
	bus := newFakeBus()
	s := New("room-1", "zoe", bus, &fakeConnector{}, nil)

	s.handleEnvelope(mustEnv(t, protocol.EventUserJoined, protocol.PresencePayload{UserID: "bob"}))
	drain(s)

	require.Len(t, s.peers, 1)
	assert.False(t, s.peers["bob"].initiator)
	assert.Empty(t, bus.published(), "responder must not publish until offered")
}

func TestSmallerIDPublishesOffer(t *testing.T) {
	bus := newFakeBus()
	s := New("room-1", "alice", bus, &fakeConnector{}, nil)

	s.handleEnvelope(mustEnv(t, protocol.EventUserJoined, protocol.PresencePayload{UserID: "bob"}))
	drain(s)

	sent := bus.published()
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.EventOffer, sent[0].event)
	offer, ok := sent[0].payload.(protocol.OfferPayload)
	require.True(t, ok)
	assert.Equal(t, "alice", offer.Caller)
	assert.Equal(t, "bob", offer.Target)
	assert.NotEmpty(t, offer.Signal)
}

func TestOfferHandledAsResponder(t *testing.T) {
	bus := newFakeBus()
	conn := &fakeConnector{}
	s := New("room-1", "zoe", bus, conn, nil)

	blob := json.RawMessage(`{"type":"offer","sdp":"remote"}`)
	s.handleEnvelope(mustEnv(t, protocol.EventOffer, protocol.OfferPayload{
		Signal: blob, Caller: "bob", Target: "zoe",
	}))
	drain(s)

	require.Len(t, s.peers, 1)
	rec := s.peers["bob"]
	assert.False(t, rec.initiator)
	require.Len(t, conn.links, 1)
	require.Len(t, conn.links[0].signals, 1)
	assert.JSONEq(t, string(blob), string(conn.links[0].signals[0]))

	sent := bus.published()
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.EventAnswer, sent[0].event)
	answer, ok := sent[0].payload.(protocol.AnswerPayload)
	require.True(t, ok)
	assert.Equal(t, "zoe", answer.Caller)

	infos := s.snapshot()
	require.Len(t, infos, 1)
	assert.True(t, infos[0].HasStream)
	assert.True(t, infos[0].ChatReady)
}

func TestOfferForAnotherTargetIgnored(t *testing.T) {
	bus := newFakeBus()
	s := New("room-1", "zoe", bus, &fakeConnector{}, nil)

	s.handleEnvelope(mustEnv(t, protocol.EventOffer, protocol.OfferPayload{
		Signal: json.RawMessage(`{}`), Caller: "bob", Target: "mia",
	}))

	assert.Empty(t, s.peers)
	assert.Empty(t, bus.published())
}

func TestStaleAnswerDropped(t *testing.T) {
	bus := newFakeBus()
	s := New("room-1", "alice", bus, &fakeConnector{}, nil)

	s.handleEnvelope(mustEnv(t, protocol.EventAnswer, protocol.AnswerPayload{
		Signal: json.RawMessage(`{}`), Caller: "bob",
	}))

	assert.Empty(t, s.peers)
	assert.Empty(t, bus.published())
}

func TestAnswerCompletesHandshake(t *testing.T) {
	bus := newFakeBus()
	conn := &fakeConnector{}
	s := New("room-1", "alice", bus, conn, nil)

	s.handleEnvelope(mustEnv(t, protocol.EventUserJoined, protocol.PresencePayload{UserID: "bob"}))
	drain(s)

	s.handleEnvelope(mustEnv(t, protocol.EventAnswer, protocol.AnswerPayload{
		Signal: json.RawMessage(`{"type":"answer","sdp":"remote"}`), Caller: "bob",
	}))
	drain(s)

	infos := s.snapshot()
	require.Len(t, infos, 1)
	assert.True(t, infos[0].HasStream)
	assert.True(t, infos[0].ChatReady)

	// The open chat channel triggers exactly one hello.
	sent := conn.links[0].sentMessages()
	require.Len(t, sent, 1)
	msg, err := chat.Parse(sent[0])
	require.NoError(t, err)
	assert.Equal(t, chat.MessageTypeHello, msg.Type)
	var hello chat.HelloPayload
	require.NoError(t, msg.DecodePayload(&hello))
	assert.Equal(t, "alice", hello.UserID)
}

func TestLeaveIsIdempotent(t *testing.T) {
	bus := newFakeBus()
	conn := &fakeConnector{}
	s := New("room-1", "alice", bus, conn, nil)

	s.handleEnvelope(mustEnv(t, protocol.EventUserJoined, protocol.PresencePayload{UserID: "bob"}))
	left := mustEnv(t, protocol.EventUserLeft, protocol.PresencePayload{UserID: "bob"})

	s.handleEnvelope(left)
	assert.Empty(t, s.peers)
	assert.Equal(t, 1, conn.links[0].closeCount())

	s.handleEnvelope(left)
	assert.Empty(t, s.peers)
	assert.Equal(t, 1, conn.links[0].closeCount(), "second leave must be a no-op")
}

func TestLeaveDuringPendingHandshake(t *testing.T) {
	bus := newFakeBus()
	conn := &fakeConnector{}
	s := New("room-1", "alice", bus, conn, nil)

	// The offer blob is queued but not yet published when bob leaves.
	s.handleEnvelope(mustEnv(t, protocol.EventUserJoined, protocol.PresencePayload{UserID: "bob"}))
	s.handleEnvelope(mustEnv(t, protocol.EventUserLeft, protocol.PresencePayload{UserID: "bob"}))
	drain(s)

	assert.Empty(t, s.peers)
	assert.Equal(t, 1, conn.links[0].closeCount())
	for _, ev := range bus.published() {
		assert.NotEqual(t, protocol.EventOffer, ev.event, "retired record must not publish")
	}
}

func TestOpenLinkFailureLeavesNoRecord(t *testing.T) {
	bus := newFakeBus()
	conn := &fakeConnector{openErr: errors.New("no ice")}
	s := New("room-1", "alice", bus, conn, nil)

	s.handleEnvelope(mustEnv(t, protocol.EventUserJoined, protocol.PresencePayload{UserID: "bob"}))

	assert.Empty(t, s.peers)
}

func TestSnapshotSortedByID(t *testing.T) {
	bus := newFakeBus()
	s := New("room-1", "alice", bus, &fakeConnector{}, nil)

	s.handleEnvelope(mustEnv(t, protocol.EventUserJoined, protocol.PresencePayload{UserID: "carol"}))
	s.handleEnvelope(mustEnv(t, protocol.EventUserJoined, protocol.PresencePayload{UserID: "bob"}))

	infos := s.snapshot()
	require.Len(t, infos, 2)
	assert.Equal(t, "bob", infos[0].ID)
	assert.Equal(t, "carol", infos[1].ID)
}

func TestChatFansOutToReadyPeersOnly(t *testing.T) {
	bus := newFakeBus()
	conn := &fakeConnector{}
	s := New("room-1", "alice", bus, conn, nil)

	s.handleEnvelope(mustEnv(t, protocol.EventUserJoined, protocol.PresencePayload{UserID: "bob"}))
	s.handleEnvelope(mustEnv(t, protocol.EventUserJoined, protocol.PresencePayload{UserID: "carol"}))
	drain(s)

	// Only bob finishes the handshake.
	s.handleEnvelope(mustEnv(t, protocol.EventAnswer, protocol.AnswerPayload{
		Signal: json.RawMessage(`{"type":"answer","sdp":"remote"}`), Caller: "bob",
	}))
	drain(s)

	s.sendChat("hola")

	bobLink := conn.links[0]
	sent := bobLink.sentMessages()
	require.Len(t, sent, 2, "hello plus one chat line")
	msg, err := chat.Parse(sent[1])
	require.NoError(t, err)
	require.Equal(t, chat.MessageTypeText, msg.Type)
	var text chat.TextPayload
	require.NoError(t, msg.DecodePayload(&text))
	assert.Equal(t, "alice", text.Sender)
	assert.Equal(t, "hola", text.Body)

	assert.Empty(t, conn.links[1].sentMessages(), "pending peer must receive nothing")
}

func TestHandleDataDeliversChat(t *testing.T) {
	bus := newFakeBus()
	conn := &fakeConnector{}
	s := New("room-1", "alice", bus, conn, nil)

	var got []ChatMessage
	s.OnChat = func(msg ChatMessage) { got = append(got, msg) }

	s.handleEnvelope(mustEnv(t, protocol.EventUserJoined, protocol.PresencePayload{UserID: "bob"}))
	rec := s.peers["bob"]

	msg, err := chat.NewMessage(chat.MessageTypeText, chat.TextPayload{
		Sender: "bob", Body: "hello there", SentAt: time.Now(),
	})
	require.NoError(t, err)
	data, err := msg.Encode()
	require.NoError(t, err)

	s.handleData(rec, data)
	require.Len(t, got, 1)
	assert.Equal(t, "bob", got[0].Sender)
	assert.Equal(t, "hello there", got[0].Body)

	// Hellos and garbage never reach the chat callback.
	hello, err := chat.NewMessage(chat.MessageTypeHello, chat.HelloPayload{UserID: "bob"})
	require.NoError(t, err)
	helloData, err := hello.Encode()
	require.NoError(t, err)
	s.handleData(rec, helloData)
	s.handleData(rec, []byte{0xc1})
	assert.Len(t, got, 1)
}

func TestStopTearsDownEverything(t *testing.T) {
	baseline := runtime.NumGoroutine()

	bus := newFakeBus()
	conn := &fakeConnector{}
	media := &fakeMedia{}
	s := New("room-1", "alice", bus, conn, media)

	peerSeen := make(chan struct{}, 8)
	s.OnPeersChanged = func([]PeerInfo) { peerSeen <- struct{}{} }

	s.Start()
	bus.events <- mustEnv(t, protocol.EventUserJoined, protocol.PresencePayload{UserID: "bob"})

	select {
	case <-peerSeen:
	case <-time.After(2 * time.Second):
		t.Fatal("peer was never added")
	}

	s.Stop()
	s.Stop() // safe to repeat

	assert.Empty(t, s.peers)
	assert.Equal(t, 1, conn.links[0].closeCount())
	assert.Equal(t, 1, bus.detachCount())
	assert.Equal(t, 1, media.stopCount())

	testutil.AssertNoGoroutineLeaks(t, baseline, 2)
}

func TestDroppedChannelEndsSession(t *testing.T) {
	bus := newFakeBus()
	media := &fakeMedia{}
	s := New("room-1", "alice", bus, &fakeConnector{}, media)

	s.Start()
	close(bus.events)

	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end after the channel dropped")
	}

	assert.Equal(t, 1, bus.detachCount())
	assert.Equal(t, 1, media.stopCount())
}

func TestSendChatAfterStopReturnsClosed(t *testing.T) {
	bus := newFakeBus()
	s := New("room-1", "alice", bus, &fakeConnector{}, nil)
	s.Start()
	s.Stop()

	err := s.SendChat("too late")
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestEventsAfterShutdownIgnored(t *testing.T) {
	bus := newFakeBus()
	conn := &fakeConnector{}
	s := New("room-1", "alice", bus, conn, nil)

	s.shutdown()

	s.handleEnvelope(mustEnv(t, protocol.EventUserJoined, protocol.PresencePayload{UserID: "bob"}))
	assert.Empty(t, s.peers)
	assert.Empty(t, conn.links)
}
