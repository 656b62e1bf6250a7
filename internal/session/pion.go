package session

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/Dallasson/lingo-connect-chatrooms/internal/config"
)

const iceGatherTimeout = 10 * time.Second

// PionConnector opens real WebRTC links. Signal blobs are full session
// descriptions: ICE gathering completes before the blob is published, so a
// pair needs exactly one offer and one answer on the broadcast channel.
type PionConnector struct {
	iceServers []webrtc.ICEServer
}

func NewPionConnector(cfg *config.Config) *PionConnector {
	iceServers := []webrtc.ICEServer{{URLs: cfg.GetSTUNServers()}}

	if turnServers := cfg.GetTURNServers(); turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	return &PionConnector{iceServers: iceServers}
}

func (c *PionConnector) Open(p LinkParams) (Link, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: c.iceServers,
	})
	if err != nil {
		return nil, newPeerError("open link", p.RemoteID, err)
	}

	l := &pionLink{pc: pc, params: p}

	if p.LocalTrack != nil {
		sender, err := pc.AddTrack(p.LocalTrack)
		if err != nil {
			pc.Close()
			return nil, newPeerError("add local track", p.RemoteID, err)
		}
		go drainRTCP(sender)
	} else {
		// No capture device; still receive the remote side's audio.
		_, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio,
			webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly})
		if err != nil {
			pc.Close()
			return nil, newPeerError("add transceiver", p.RemoteID, err)
		}
	}

	pc.OnTrack(func(t *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		slog.Debug("remote track", "peer", p.RemoteID, "codec", t.Codec().MimeType)
		if p.OnTrack != nil {
			p.OnTrack(pionRemoteTrack{t})
		}
		go drainTrack(t)
	})

	if p.Initiator {
		ordered := true
		dc, err := pc.CreateDataChannel("chat", &webrtc.DataChannelInit{Ordered: &ordered})
		if err != nil {
			pc.Close()
			return nil, newPeerError("create data channel", p.RemoteID, err)
		}
		l.setDataChannel(dc)
		go l.sendOffer()
	} else {
		pc.OnDataChannel(l.setDataChannel)
	}

	return l, nil
}

// pionLink is one live peer connection plus its chat channel.
type pionLink struct {
	pc     *webrtc.PeerConnection
	params LinkParams

	mu sync.Mutex
	dc *webrtc.DataChannel
}

func (l *pionLink) setDataChannel(dc *webrtc.DataChannel) {
	l.mu.Lock()
	l.dc = dc
	l.mu.Unlock()

	dc.OnOpen(func() {
		if l.params.OnChannelOpen != nil {
			l.params.OnChannelOpen()
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if l.params.OnMessage != nil {
			l.params.OnMessage(msg.Data)
		}
	})
}

// sendOffer runs the initiator's half of the handshake. Gathering can take
// seconds, so this never runs on the session loop.
func (l *pionLink) sendOffer() {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		slog.Warn("create offer failed", "peer", l.params.RemoteID, "err", err)
		return
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		slog.Warn("set local description failed", "peer", l.params.RemoteID, "err", err)
		return
	}
	l.emitLocalDescription()
}

// sendAnswer runs the responder's half once the remote offer arrives.
func (l *pionLink) sendAnswer(offer webrtc.SessionDescription) {
	if err := l.pc.SetRemoteDescription(offer); err != nil {
		slog.Warn("set remote description failed", "peer", l.params.RemoteID, "err", err)
		return
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		slog.Warn("create answer failed", "peer", l.params.RemoteID, "err", err)
		return
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		slog.Warn("set local description failed", "peer", l.params.RemoteID, "err", err)
		return
	}
	l.emitLocalDescription()
}

func (l *pionLink) emitLocalDescription() {
	gatherDone := webrtc.GatheringCompletePromise(l.pc)
	select {
	case <-gatherDone:
	case <-time.After(iceGatherTimeout):
		slog.Warn("ICE gathering timed out, sending partial candidates",
			"peer", l.params.RemoteID)
	}

	blob, err := json.Marshal(l.pc.LocalDescription())
	if err != nil {
		slog.Warn("marshal local description failed", "peer", l.params.RemoteID, "err", err)
		return
	}
	if l.params.OnSignal != nil {
		l.params.OnSignal(blob)
	}
}

func (l *pionLink) Signal(signal json.RawMessage) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(signal, &desc); err != nil {
		return newPeerError("parse signal", l.params.RemoteID, ErrBadSignal)
	}

	switch desc.Type {
	case webrtc.SDPTypeOffer:
		go l.sendAnswer(desc)
		return nil
	case webrtc.SDPTypeAnswer:
		if err := l.pc.SetRemoteDescription(desc); err != nil {
			return newPeerError("apply answer", l.params.RemoteID, err)
		}
		return nil
	default:
		return newPeerError("handle signal", l.params.RemoteID, ErrBadSignal)
	}
}

func (l *pionLink) Send(data []byte) error {
	l.mu.Lock()
	dc := l.dc
	l.mu.Unlock()

	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return newPeerError("send", l.params.RemoteID, ErrNoDataChannel)
	}
	return dc.Send(data)
}

func (l *pionLink) Close() error {
	return l.pc.Close()
}

// pionRemoteTrack adapts *webrtc.TrackRemote to the session's view.
type pionRemoteTrack struct {
	t *webrtc.TrackRemote
}

func (r pionRemoteTrack) ID() string {
	return r.t.ID()
}

func (r pionRemoteTrack) Codec() string {
	return r.t.Codec().MimeType
}

// drainRTCP reads and discards RTCP packets to keep the sender alive.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// drainTrack keeps consuming inbound RTP; playback is up to the view
// layer and headless sessions would otherwise stall the transport.
func drainTrack(t *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := t.Read(buf); err != nil {
			return
		}
	}
}
