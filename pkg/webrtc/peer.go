package webrtc

import (
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/randchat/matchclient/pkg/api"
	"github.com/randchat/matchclient/pkg/logger"
)

// PeerConnection is what a session needs from pion's peer connection.
type PeerConnection interface {
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	RemoteDescription() *webrtc.SessionDescription
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	Close() error
}

type Factory interface {
	NewPeer() (PeerConnection, error)
}

type Emitter interface {
	Emit(e api.Event, payload any) error
}

// RemoteTrack is an incoming media track, *webrtc.TrackRemote.
type RemoteTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

type RemoteStream struct {
	ID    string
	Room  string
	Peer  string
	Track RemoteTrack
}

// RemoteSink shows (or stores) the partner's media.
type RemoteSink interface {
	Attach(stream RemoteStream)
	Clear()
}

var (
	ErrWrongRole    = errors.New("wrong role")
	ErrNoConnection = errors.New("no connection")
	ErrClosed       = errors.New("session is closed")
)

// NegotiationError is a failed offer/answer step.
type NegotiationError struct {
	Step string
	Err  error
}

func (e *NegotiationError) Error() string { return fmt.Sprintf("negotiation: %v: %v", e.Step, e.Err) }
func (e *NegotiationError) Unwrap() error { return e.Err }

type Options struct {
	Room     string
	PeerId   api.Id
	PeerName string
	Role     api.Role
	Tracks   []webrtc.TrackLocal
}

// Session is a peer connection with one matched partner.
//
// Not safe for concurrent use, all the methods and hooks run on the owner's loop,
// pion callbacks are moved there with the post function.
type Session struct {
	Room     string
	PeerId   api.Id
	PeerName string
	Role     api.Role

	OnEstablished func()
	OnLost        func(state webrtc.PeerConnectionState)

	tracks  []webrtc.TrackLocal
	api     Factory
	ch      Emitter
	sink    RemoteSink
	post    func(func())
	conn    PeerConnection
	pending []webrtc.ICECandidateInit
	closed  bool
	log     *logger.Logger
}

func NewSession(opts Options, f Factory, ch Emitter, sink RemoteSink, post func(func()), log *logger.Logger) *Session {
	return &Session{
		Room:     opts.Room,
		PeerId:   opts.PeerId,
		PeerName: opts.PeerName,
		Role:     opts.Role,
		tracks:   opts.Tracks,
		api:      f,
		ch:       ch,
		sink:     sink,
		post:     post,
		log:      log.Extend(log.With().Str(logger.ModuleField, "peer").Str(logger.RoomField, opts.Room)),
	}
}

// CreateConnection makes the peer connection once with all the local tracks.
func (s *Session) CreateConnection() error {
	if s.closed {
		return ErrClosed
	}
	if s.conn != nil {
		return nil
	}
	conn, err := s.api.NewPeer()
	if err != nil {
		return fmt.Errorf("new peer: %w", err)
	}
	for _, track := range s.tracks {
		sender, err := conn.AddTrack(track)
		if err != nil {
			_ = conn.Close()
			return fmt.Errorf("add %v track: %w", track.Kind(), err)
		}
		go drainRTCP(sender)
		s.log.Debug().Msgf("Added [%v] track", track.Kind())
	}
	conn.OnTrack(s.handleTrack)
	conn.OnICECandidate(s.handleICECandidate)
	conn.OnConnectionStateChange(s.handleState)
	s.conn = conn
	s.log.Debug().Msg("WebRTC start")
	return nil
}

// drainRTCP reads incoming RTCP packets so interceptors could process them.
func drainRTCP(sender *webrtc.RTPSender) {
	if sender == nil {
		return
	}
	rtcpBuf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(rtcpBuf); err != nil {
			return
		}
	}
}

// CreateAndSendOffer starts the negotiation, initiator only.
func (s *Session) CreateAndSendOffer() error {
	if s.Role != api.Initiator {
		return ErrWrongRole
	}
	if err := s.CreateConnection(); err != nil {
		return err
	}
	offer, err := s.conn.CreateOffer(nil)
	if err != nil {
		return &NegotiationError{Step: "create offer", Err: err}
	}
	if err = s.conn.SetLocalDescription(offer); err != nil {
		return &NegotiationError{Step: "set local offer", Err: err}
	}
	s.log.Debug().Msg("Created Offer")
	if err = s.send(api.OfferSignal(s.Room, offer)); err != nil {
		return &NegotiationError{Step: "send offer", Err: err}
	}
	return nil
}

// ReceiveOffer answers the partner's offer, receiver only.
func (s *Session) ReceiveOffer(sdp webrtc.SessionDescription) error {
	if s.Role != api.Receiver {
		return ErrWrongRole
	}
	if err := s.CreateConnection(); err != nil {
		return err
	}
	sdp.Type = webrtc.SDPTypeOffer
	if err := s.conn.SetRemoteDescription(sdp); err != nil {
		return &NegotiationError{Step: "set remote offer", Err: err}
	}
	s.log.Debug().Msg("Set Remote Description")
	s.flush()
	answer, err := s.conn.CreateAnswer(nil)
	if err != nil {
		return &NegotiationError{Step: "create answer", Err: err}
	}
	if err = s.conn.SetLocalDescription(answer); err != nil {
		return &NegotiationError{Step: "set local answer", Err: err}
	}
	s.log.Debug().Msg("Created Answer")
	if err = s.send(api.AnswerSignal(s.Room, answer)); err != nil {
		return &NegotiationError{Step: "send answer", Err: err}
	}
	return nil
}

// ReceiveAnswer completes the negotiation, initiator only.
func (s *Session) ReceiveAnswer(sdp webrtc.SessionDescription) error {
	if s.Role != api.Initiator {
		return ErrWrongRole
	}
	if s.closed {
		return ErrClosed
	}
	if s.conn == nil {
		return &NegotiationError{Step: "set remote answer", Err: ErrNoConnection}
	}
	sdp.Type = webrtc.SDPTypeAnswer
	if err := s.conn.SetRemoteDescription(sdp); err != nil {
		return &NegotiationError{Step: "set remote answer", Err: err}
	}
	s.log.Debug().Msg("Set Remote Description")
	s.flush()
	return nil
}

// ReceiveCandidate adds the partner's candidate or queues it
// until the remote description is there.
func (s *Session) ReceiveCandidate(c webrtc.ICECandidateInit) {
	if s.closed {
		return
	}
	if !s.hasRemote() {
		s.pending = append(s.pending, c)
		s.log.Debug().Int("queue", len(s.pending)).Msg("ICE candidate is queued")
		return
	}
	s.addCandidate(c)
}

// Handle dispatches an incoming signal.
func (s *Session) Handle(sig api.Signal) error {
	switch sig.Kind {
	case api.SignalOffer:
		return s.ReceiveOffer(sig.SDP)
	case api.SignalAnswer:
		return s.ReceiveAnswer(sig.SDP)
	case api.SignalCandidate:
		s.ReceiveCandidate(sig.Candidate)
		return nil
	}
	return fmt.Errorf("unknown signal %v", sig.Kind)
}

// Teardown closes everything, can be called many times.
func (s *Session) Teardown() {
	if s.closed {
		return
	}
	s.closed = true
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.log.Warn().Err(err).Msg("WebRTC close")
		}
		s.conn = nil
	}
	if s.sink != nil {
		s.sink.Clear()
	}
	s.Room, s.PeerId, s.PeerName = "", "", ""
	s.pending = nil
	s.log.Debug().Msg("WebRTC stop")
}

func (s *Session) Closed() bool        { return s.closed }
func (s *Session) HasConnection() bool { return s.conn != nil }

// Pending returns a copy of the queued candidates.
func (s *Session) Pending() []webrtc.ICECandidateInit {
	return append([]webrtc.ICECandidateInit(nil), s.pending...)
}

func (s *Session) hasRemote() bool { return s.conn != nil && s.conn.RemoteDescription() != nil }

func (s *Session) flush() {
	if len(s.pending) == 0 {
		return
	}
	s.log.Debug().Int("queue", len(s.pending)).Msg("Flushing ICE candidates")
	queue := s.pending
	s.pending = nil
	for _, c := range queue {
		s.addCandidate(c)
	}
}

func (s *Session) addCandidate(c webrtc.ICECandidateInit) {
	if err := s.conn.AddICECandidate(c); err != nil {
		s.log.Error().Err(err).Str("candidate", c.Candidate).Msg("Couldn't add ICE candidate")
		return
	}
	s.log.Debug().Str("candidate", c.Candidate).Msg("Ice")
}

func (s *Session) send(sig api.Signal) error {
	if err := s.ch.Emit(sig.Event(), sig.Payload()); err != nil {
		return fmt.Errorf("send %v: %w", sig.Kind, err)
	}
	return nil
}

func (s *Session) handleTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	id := track.StreamID()
	if id == "" {
		id = uuid.Must(uuid.NewV4()).String()
	}
	s.post(func() {
		if s.closed {
			return
		}
		s.log.Info().Str("stream", id).Msgf("Remote [%v] track", track.Kind())
		if s.sink != nil {
			s.sink.Attach(RemoteStream{ID: id, Room: s.Room, Peer: s.PeerName, Track: track})
		}
	})
}

func (s *Session) handleICECandidate(ice *webrtc.ICECandidate) {
	// ICE gathering finish condition
	if ice == nil {
		s.log.Debug().Msg("ICE gathering was complete probably")
		return
	}
	candidate := ice.ToJSON()
	s.post(func() {
		if s.closed {
			return
		}
		if err := s.send(api.CandidateSignal(s.Room, candidate)); err != nil {
			s.log.Error().Err(err).Msg("Couldn't send ICE candidate")
		}
	})
}

func (s *Session) handleState(state webrtc.PeerConnectionState) {
	s.post(func() {
		if s.closed {
			return
		}
		s.log.Debug().Str(".state", state.String()).Msg("WebRTC")
		switch state {
		case webrtc.PeerConnectionStateConnected:
			s.log.Info().Msg("Connected")
			if s.OnEstablished != nil {
				s.OnEstablished()
			}
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateClosed:
			s.log.Warn().Msgf("Connection is %v", state)
			if s.OnLost != nil {
				s.OnLost(state)
			}
		}
	})
}
