// Package session drives one participant's room session: it owns the peer
// record collection, reacts to broadcast events and runs each link's
// offer/answer handshake. All state is confined to a single event loop, so
// handlers run to completion without locks.
package session

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/Dallasson/lingo-connect-chatrooms/internal/chat"
	"github.com/Dallasson/lingo-connect-chatrooms/internal/protocol"
	"github.com/Dallasson/lingo-connect-chatrooms/internal/version"
)

// Bus is the session's view of the room broadcast channel; implemented by
// signaling.Channel and by an in-memory fake in tests.
type Bus interface {
	Publish(event string, payload any) error
	Events() <-chan *protocol.Envelope
	Detach() error
}

// LocalMedia is the session's view of the local capture controller.
type LocalMedia interface {
	Track() webrtc.TrackLocal
	Stop()
}

// PeerInfo is a read-only snapshot of one peer record for the view layer.
type PeerInfo struct {
	ID        string
	Initiator bool
	HasStream bool
	ChatReady bool
}

// ChatMessage is one received room chat line.
type ChatMessage struct {
	Sender string
	Body   string
	SentAt time.Time
}

// peerRecord is one entry per known remote participant. At most one
// record exists per remote id at any time.
type peerRecord struct {
	id        string
	initiator bool
	link      Link
	remote    RemoteTrack
	chatReady bool
}

// Session is one participant's presence in one room. Create with New,
// drive with Start, end with Stop; Stop releases the peers, the channel
// and the local media in one unconditional batch.
type Session struct {
	roomID  string
	localID string

	bus       Bus
	connector Connector
	media     LocalMedia

	// OnPeersChanged and OnChat are invoked from the session loop; set
	// them before Start and do not block in them.
	OnPeersChanged func([]PeerInfo)
	OnChat         func(msg ChatMessage)

	tasks chan func()
	quit  chan struct{}
	done  chan struct{}

	// Owned by the event loop (and by tests driving handlers directly).
	peers  map[string]*peerRecord
	closed bool

	stopOnce sync.Once
}

// New assembles a session. media may be nil when local capture failed;
// links are then opened without an outgoing track.
func New(roomID, localID string, bus Bus, connector Connector, media LocalMedia) *Session {
	return &Session{
		roomID:    roomID,
		localID:   localID,
		bus:       bus,
		connector: connector,
		media:     media,
		tasks:     make(chan func(), 64),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		peers:     make(map[string]*peerRecord),
	}
}

// Start launches the event loop.
func (s *Session) Start() {
	go s.run()
}

// Stop ends the session: peers torn down, channel detached, local media
// stopped. Synchronous and safe to call more than once.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
	})
	<-s.done
}

func (s *Session) run() {
	defer close(s.done)

	for {
		select {
		case env, ok := <-s.bus.Events():
			if !ok {
				// Dropped channel: unrecoverable for the session.
				slog.Warn("signaling channel dropped", "room", s.roomID)
				s.shutdown()
				return
			}
			s.handleEnvelope(env)

		case fn := <-s.tasks:
			fn()

		case <-s.quit:
			s.shutdown()
			return
		}
	}
}

// post moves a transport callback onto the session loop. Events arriving
// after shutdown are discarded.
func (s *Session) post(fn func()) {
	select {
	case s.tasks <- fn:
	case <-s.done:
	}
}

// handleEnvelope dispatches one broadcast event. Runs on the session loop.
func (s *Session) handleEnvelope(env *protocol.Envelope) {
	if s.closed {
		return
	}

	switch env.Event {
	case protocol.EventUserJoined:
		var p protocol.PresencePayload
		if err := env.DecodePayload(&p); err != nil || p.UserID == "" {
			slog.Warn("bad user-joined payload", "err", err)
			return
		}
		if p.UserID == s.localID {
			return
		}
		s.addPeer(p.UserID)

	case protocol.EventUserLeft:
		var p protocol.PresencePayload
		if err := env.DecodePayload(&p); err != nil || p.UserID == "" {
			slog.Warn("bad user-left payload", "err", err)
			return
		}
		s.removePeer(p.UserID)

	case protocol.EventOffer:
		var p protocol.OfferPayload
		if err := env.DecodePayload(&p); err != nil {
			slog.Warn("bad offer payload", "err", err)
			return
		}
		if p.Target != s.localID {
			return
		}
		s.handleOffer(p)

	case protocol.EventAnswer:
		var p protocol.AnswerPayload
		if err := env.DecodePayload(&p); err != nil {
			slog.Warn("bad answer payload", "err", err)
			return
		}
		s.handleAnswer(p)

	case protocol.EventError:
		var p protocol.ErrorPayload
		if err := env.DecodePayload(&p); err == nil {
			slog.Warn("signaling server error", "err", p.Error)
		}

	default:
		slog.Debug("ignoring event", "event", env.Event)
	}
}

// addPeer creates a record for a newly announced participant. The
// lexicographically smaller id initiates the pair's connection, which
// resolves the symmetric-broadcast race deterministically. An existing
// record for the same id is retired first.
func (s *Session) addPeer(remoteID string) {
	if existing, ok := s.peers[remoteID]; ok {
		existing.link.Close()
		delete(s.peers, remoteID)
	}

	s.openLink(remoteID, s.localID < remoteID)
}

// handleOffer continues the handshake as the non-initiating side,
// creating the record if the offer outran our user-joined handling.
func (s *Session) handleOffer(p protocol.OfferPayload) {
	rec, ok := s.peers[p.Caller]
	if !ok || rec.initiator {
		if ok {
			rec.link.Close()
			delete(s.peers, p.Caller)
		}
		rec = s.openLink(p.Caller, false)
		if rec == nil {
			return
		}
	}

	if err := rec.link.Signal(p.Signal); err != nil {
		slog.Warn("offer signal rejected", "peer", p.Caller, "err", err)
	}
}

// handleAnswer completes the handshake. A missing record means the offer's
// record was already retired; the answer is dropped, not an error.
func (s *Session) handleAnswer(p protocol.AnswerPayload) {
	rec, ok := s.peers[p.Caller]
	if !ok {
		slog.Debug("dropping stale answer", "peer", p.Caller)
		return
	}
	if err := rec.link.Signal(p.Signal); err != nil {
		slog.Warn("answer signal rejected", "peer", p.Caller, "err", err)
	}
}

// openLink opens a connection to remoteID and registers the record.
func (s *Session) openLink(remoteID string, initiator bool) *peerRecord {
	rec := &peerRecord{id: remoteID, initiator: initiator}

	var localTrack webrtc.TrackLocal
	if s.media != nil {
		localTrack = s.media.Track()
	}

	link, err := s.connector.Open(LinkParams{
		RemoteID:   remoteID,
		Initiator:  initiator,
		LocalTrack: localTrack,
		OnSignal: func(signal json.RawMessage) {
			s.post(func() { s.publishSignal(rec, signal) })
		},
		OnTrack: func(t RemoteTrack) {
			s.post(func() { s.attachRemote(rec, t) })
		},
		OnChannelOpen: func() {
			s.post(func() { s.chatOpened(rec) })
		},
		OnMessage: func(data []byte) {
			s.post(func() { s.handleData(rec, data) })
		},
	})
	if err != nil {
		slog.Warn("open link failed", "peer", remoteID, "err", err)
		return nil
	}

	rec.link = link
	s.peers[remoteID] = rec
	slog.Info("peer added", "peer", remoteID, "initiator", initiator)
	s.notifyPeers()
	return rec
}

// removePeer releases a record's connection. No-op when absent: the peer
// already left or never completed a join.
func (s *Session) removePeer(remoteID string) {
	rec, ok := s.peers[remoteID]
	if !ok {
		return
	}
	rec.link.Close()
	delete(s.peers, remoteID)
	slog.Info("peer removed", "peer", remoteID)
	s.notifyPeers()
}

// publishSignal sends a link's local handshake blob to the remote side:
// offer when we initiated the pair, answer when responding.
func (s *Session) publishSignal(rec *peerRecord, signal json.RawMessage) {
	if s.closed || s.peers[rec.id] != rec {
		return
	}

	var err error
	if rec.initiator {
		err = s.bus.Publish(protocol.EventOffer, protocol.OfferPayload{
			Signal: signal,
			Caller: s.localID,
			Target: rec.id,
		})
	} else {
		err = s.bus.Publish(protocol.EventAnswer, protocol.AnswerPayload{
			Signal: signal,
			Caller: s.localID,
		})
	}
	if err != nil {
		slog.Warn("publish signal failed", "peer", rec.id, "err", err)
	}
}

func (s *Session) attachRemote(rec *peerRecord, t RemoteTrack) {
	if s.closed || s.peers[rec.id] != rec {
		return
	}
	rec.remote = t
	slog.Info("remote stream attached", "peer", rec.id)
	s.notifyPeers()
}

func (s *Session) chatOpened(rec *peerRecord) {
	if s.closed || s.peers[rec.id] != rec {
		return
	}
	rec.chatReady = true

	msg, err := chat.NewMessage(chat.MessageTypeHello, chat.HelloPayload{
		UserID:  s.localID,
		Version: version.Version,
	})
	if err == nil {
		if data, err := msg.Encode(); err == nil {
			rec.link.Send(data)
		}
	}
	s.notifyPeers()
}

func (s *Session) handleData(rec *peerRecord, data []byte) {
	if s.closed || s.peers[rec.id] != rec {
		return
	}

	msg, err := chat.Parse(data)
	if err != nil {
		slog.Warn("bad data channel message", "peer", rec.id, "err", err)
		return
	}

	switch msg.Type {
	case chat.MessageTypeHello:
		var hello chat.HelloPayload
		if err := msg.DecodePayload(&hello); err == nil {
			slog.Debug("peer hello", "peer", rec.id, "version", hello.Version)
		}

	case chat.MessageTypeText:
		var text chat.TextPayload
		if err := msg.DecodePayload(&text); err != nil {
			slog.Warn("bad chat payload", "peer", rec.id, "err", err)
			return
		}
		if s.OnChat != nil {
			s.OnChat(ChatMessage{Sender: text.Sender, Body: text.Body, SentAt: text.SentAt})
		}

	default:
		slog.Debug("ignoring data message", "peer", rec.id, "type", msg.Type)
	}
}

// SendChat fans a chat line out to every peer with an open channel.
// Reports ErrSessionClosed once the session has ended.
func (s *Session) SendChat(body string) error {
	select {
	case <-s.done:
		return newError("send chat", ErrSessionClosed)
	default:
	}

	select {
	case s.tasks <- func() { s.sendChat(body) }:
		return nil
	case <-s.done:
		return newError("send chat", ErrSessionClosed)
	}
}

func (s *Session) sendChat(body string) {
	if s.closed {
		return
	}

	msg, err := chat.NewMessage(chat.MessageTypeText, chat.TextPayload{
		Sender: s.localID,
		Body:   body,
		SentAt: time.Now(),
	})
	if err != nil {
		slog.Warn("encode chat failed", "err", err)
		return
	}
	data, err := msg.Encode()
	if err != nil {
		slog.Warn("encode chat failed", "err", err)
		return
	}

	for _, rec := range s.peers {
		if !rec.chatReady {
			continue
		}
		if err := rec.link.Send(data); err != nil {
			slog.Debug("chat send failed", "peer", rec.id, "err", err)
		}
	}
}

// notifyPeers pushes a fresh roster snapshot to the view layer.
func (s *Session) notifyPeers() {
	if s.OnPeersChanged == nil {
		return
	}
	s.OnPeersChanged(s.snapshot())
}

func (s *Session) snapshot() []PeerInfo {
	infos := make([]PeerInfo, 0, len(s.peers))
	for _, rec := range s.peers {
		infos = append(infos, PeerInfo{
			ID:        rec.id,
			Initiator: rec.initiator,
			HasStream: rec.remote != nil,
			ChatReady: rec.chatReady,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// shutdown is the one cleanup path: every peer link closed, the
// collection cleared, the channel detached and local media stopped. After
// it runs the session is terminal; further events have no effect.
func (s *Session) shutdown() {
	if s.closed {
		return
	}
	s.closed = true

	for id, rec := range s.peers {
		if err := rec.link.Close(); err != nil {
			slog.Debug("link close failed", "peer", id, "err", err)
		}
		delete(s.peers, id)
	}

	if err := s.bus.Detach(); err != nil {
		slog.Debug("channel detach failed", "err", err)
	}
	if s.media != nil {
		s.media.Stop()
	}

	slog.Info("session ended", "room", s.roomID, "user", s.localID)
}
