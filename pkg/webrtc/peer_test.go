package webrtc

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/randchat/matchclient/pkg/api"
	"github.com/randchat/matchclient/pkg/config"
	"github.com/randchat/matchclient/pkg/logger"
)

type fakePC struct {
	tracks  int
	remote  *webrtc.SessionDescription
	local   *webrtc.SessionDescription
	added   []string
	closed  int
	onState func(webrtc.PeerConnectionState)
	onICE   func(*webrtc.ICECandidate)
	onTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)

	errRemote error
	errAdd    map[string]error
}

func (f *fakePC) AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error) { f.tracks++; return nil, nil }

func (f *fakePC) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver))   { f.onTrack = fn }
func (f *fakePC) OnICECandidate(fn func(*webrtc.ICECandidate))                { f.onICE = fn }
func (f *fakePC) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) { f.onState = fn }

func (f *fakePC) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}, nil
}

func (f *fakePC) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	if f.remote == nil {
		return webrtc.SessionDescription{}, errors.New("no remote")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (f *fakePC) SetLocalDescription(d webrtc.SessionDescription) error { f.local = &d; return nil }

func (f *fakePC) SetRemoteDescription(d webrtc.SessionDescription) error {
	if f.errRemote != nil {
		return f.errRemote
	}
	f.remote = &d
	return nil
}

func (f *fakePC) RemoteDescription() *webrtc.SessionDescription { return f.remote }

func (f *fakePC) AddICECandidate(c webrtc.ICECandidateInit) error {
	if err := f.errAdd[c.Candidate]; err != nil {
		return err
	}
	f.added = append(f.added, c.Candidate)
	return nil
}

func (f *fakePC) Close() error { f.closed++; return nil }

type fakeFactory struct{ pcs []*fakePC }

func (f *fakeFactory) NewPeer() (PeerConnection, error) {
	pc := &fakePC{}
	f.pcs = append(f.pcs, pc)
	return pc, nil
}

type packet struct {
	e api.Event
	p any
}

type fakeChannel struct {
	mu      sync.Mutex
	packets []packet
	err     error
}

func (f *fakeChannel) Emit(e api.Event, p any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.packets = append(f.packets, packet{e, p})
	return nil
}

func (f *fakeChannel) count(e api.Event) (n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.packets {
		if p.e == e {
			n++
		}
	}
	return
}

type fakeSink struct {
	attached []RemoteStream
	cleared  int
}

func (f *fakeSink) Attach(s RemoteStream) { f.attached = append(f.attached, s) }
func (f *fakeSink) Clear()                { f.cleared++ }

func now(fn func()) { fn() }

type fakeTrack struct {
	webrtc.TrackLocal
	kind webrtc.RTPCodecType
}

func (t fakeTrack) Kind() webrtc.RTPCodecType { return t.kind }

func newTestSession(role api.Role) (*Session, *fakeFactory, *fakeChannel, *fakeSink) {
	f, ch, sink := &fakeFactory{}, &fakeChannel{}, &fakeSink{}
	s := NewSession(Options{
		Room:     "r1",
		PeerId:   "42",
		PeerName: "Ann",
		Role:     role,
		Tracks: []webrtc.TrackLocal{
			fakeTrack{kind: webrtc.RTPCodecTypeVideo},
			fakeTrack{kind: webrtc.RTPCodecTypeAudio},
		},
	}, f, ch, sink, now, logger.Default())
	return s, f, ch, sink
}

func candidate(s string) webrtc.ICECandidateInit { return webrtc.ICECandidateInit{Candidate: s} }

func TestCreateConnectionOnce(t *testing.T) {
	s, f, _, _ := newTestSession(api.Initiator)
	for i := 0; i < 3; i++ {
		if err := s.CreateConnection(); err != nil {
			t.Fatal(err)
		}
	}
	if len(f.pcs) != 1 {
		t.Fatalf("expected one connection, got %v", len(f.pcs))
	}
	if f.pcs[0].tracks != 2 {
		t.Errorf("expected 2 tracks, got %v", f.pcs[0].tracks)
	}
}

func TestTeardownTwice(t *testing.T) {
	s, f, _, sink := newTestSession(api.Initiator)
	_ = s.CreateConnection()
	s.ReceiveCandidate(candidate("a"))

	s.Teardown()
	s.Teardown()

	if f.pcs[0].closed != 1 || sink.cleared != 1 {
		t.Errorf("closed %v times, cleared %v times", f.pcs[0].closed, sink.cleared)
	}
	if s.Room != "" || s.PeerId != "" || s.PeerName != "" {
		t.Errorf("identity is kept %+v", s)
	}
	if len(s.Pending()) != 0 || s.HasConnection() {
		t.Errorf("state is kept")
	}
	if err := s.CreateConnection(); !errors.Is(err, ErrClosed) {
		t.Errorf("closed session should not connect, %v", err)
	}
}

func TestCandidateQueue(t *testing.T) {
	s, f, ch, _ := newTestSession(api.Receiver)

	s.ReceiveCandidate(candidate("a"))
	s.ReceiveCandidate(candidate("b"))
	if p := s.Pending(); len(p) != 2 || p[0].Candidate != "a" || p[1].Candidate != "b" {
		t.Fatalf("wrong queue %v", p)
	}

	if err := s.ReceiveOffer(webrtc.SessionDescription{SDP: "offer"}); err != nil {
		t.Fatal(err)
	}
	pc := f.pcs[0]
	if strings.Join(pc.added, ",") != "a,b" {
		t.Errorf("wrong flush order %v", pc.added)
	}
	if len(s.Pending()) != 0 {
		t.Errorf("queue is not empty")
	}

	s.ReceiveCandidate(candidate("c"))
	if strings.Join(pc.added, ",") != "a,b,c" || len(s.Pending()) != 0 {
		t.Errorf("candidate after remote is queued %v", pc.added)
	}
	if n := ch.count(api.WebrtcAnswer); n != 1 {
		t.Errorf("expected one answer, got %v", n)
	}
	if ch.count(api.WebrtcOffer) != 0 {
		t.Errorf("receiver should not offer")
	}
}

func TestCandidateAddFailure(t *testing.T) {
	s, f, _, _ := newTestSession(api.Initiator)
	_ = s.CreateAndSendOffer()
	f.pcs[0].errAdd = map[string]error{"bad": errors.New("bad candidate")}
	s.ReceiveCandidate(candidate("x"))
	s.ReceiveCandidate(candidate("bad"))
	s.ReceiveCandidate(candidate("y"))

	if err := s.ReceiveAnswer(webrtc.SessionDescription{SDP: "answer"}); err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(f.pcs[0].added, ","); got != "x,y" {
		t.Errorf("a bad candidate should not stop the flush, %v", got)
	}
}

func TestRoles(t *testing.T) {
	s, _, ch, _ := newTestSession(api.Initiator)
	if err := s.CreateAndSendOffer(); err != nil {
		t.Fatal(err)
	}
	if ch.count(api.WebrtcOffer) != 1 {
		t.Errorf("expected one offer")
	}
	offer := ch.packets[0].p.(api.OfferRequest)
	if offer.Room != "r1" || offer.Offer.Type != webrtc.SDPTypeOffer {
		t.Errorf("bad offer %+v", offer)
	}
	if err := s.ReceiveOffer(webrtc.SessionDescription{SDP: "x"}); !errors.Is(err, ErrWrongRole) {
		t.Errorf("initiator accepted an offer, %v", err)
	}

	r, _, _, _ := newTestSession(api.Receiver)
	if err := r.CreateAndSendOffer(); !errors.Is(err, ErrWrongRole) {
		t.Errorf("receiver made an offer, %v", err)
	}
	if err := r.ReceiveAnswer(webrtc.SessionDescription{SDP: "x"}); !errors.Is(err, ErrWrongRole) {
		t.Errorf("receiver accepted an answer, %v", err)
	}
}

func TestNegotiationError(t *testing.T) {
	s, f, _, _ := newTestSession(api.Initiator)
	_ = s.CreateAndSendOffer()
	f.pcs[0].errRemote = errors.New("bad sdp")

	err := s.Handle(api.AnswerSignal("r1", webrtc.SessionDescription{SDP: "answer"}))
	var ne *NegotiationError
	if !errors.As(err, &ne) || ne.Step != "set remote answer" {
		t.Errorf("unexpected error %v", err)
	}

	s2, _, _, _ := newTestSession(api.Initiator)
	err = s2.ReceiveAnswer(webrtc.SessionDescription{SDP: "answer"})
	if !errors.As(err, &ne) || !errors.Is(err, ErrNoConnection) {
		t.Errorf("answer without a connection, %v", err)
	}

	r, _, ch, _ := newTestSession(api.Receiver)
	ch.err = errors.New("no connection")
	err = r.Handle(api.OfferSignal("r1", webrtc.SessionDescription{SDP: "offer"}))
	if !errors.As(err, &ne) || ne.Step != "send answer" || !errors.Is(err, ch.err) {
		t.Errorf("lost answer, %v", err)
	}
}

func TestLocalCandidates(t *testing.T) {
	s, f, ch, _ := newTestSession(api.Initiator)
	_ = s.CreateConnection()
	pc := f.pcs[0]

	pc.onICE(&webrtc.ICECandidate{
		Foundation: "1",
		Priority:   1,
		Address:    "10.0.0.1",
		Protocol:   webrtc.ICEProtocolUDP,
		Port:       5000,
		Typ:        webrtc.ICECandidateTypeHost,
		Component:  1,
	})
	pc.onICE(nil)

	if n := ch.count(api.WebrtcIce); n != 1 {
		t.Fatalf("expected one candidate, got %v", n)
	}
	c := ch.packets[0].p.(api.IceCandidateRequest)
	if c.Room != "r1" || !strings.HasPrefix(c.Candidate.Candidate, "candidate:") {
		t.Errorf("bad candidate %+v", c)
	}

	s.Teardown()
	pc.onICE(&webrtc.ICECandidate{Address: "10.0.0.2", Protocol: webrtc.ICEProtocolUDP, Typ: webrtc.ICECandidateTypeHost})
	if ch.count(api.WebrtcIce) != 1 {
		t.Errorf("candidate after teardown was sent")
	}
}

func TestStateHooks(t *testing.T) {
	s, f, _, _ := newTestSession(api.Receiver)
	var established int
	var lost []webrtc.PeerConnectionState
	s.OnEstablished = func() { established++ }
	s.OnLost = func(state webrtc.PeerConnectionState) { lost = append(lost, state) }
	_ = s.CreateConnection()
	pc := f.pcs[0]

	pc.onState(webrtc.PeerConnectionStateConnecting)
	pc.onState(webrtc.PeerConnectionStateConnected)
	pc.onState(webrtc.PeerConnectionStateFailed)
	s.Teardown()
	pc.onState(webrtc.PeerConnectionStateClosed)

	if established != 1 {
		t.Errorf("established %v times", established)
	}
	if len(lost) != 1 || lost[0] != webrtc.PeerConnectionStateFailed {
		t.Errorf("wrong losses %v", lost)
	}
}

func TestFactoryOffer(t *testing.T) {
	factory, err := NewApiFactory(config.Webrtc{LogLevel: int(logger.ErrorLevel)}, logger.Default(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "local")
	if err != nil {
		t.Fatal(err)
	}
	ch := &fakeChannel{}
	s := NewSession(Options{Room: "r1", Role: api.Initiator, Tracks: []webrtc.TrackLocal{video}},
		factory, ch, nil, func(func()) {}, logger.Default())
	defer s.Teardown()

	if err = s.CreateAndSendOffer(); err != nil {
		t.Fatal(err)
	}
	if ch.count(api.WebrtcOffer) != 1 {
		t.Fatalf("no offer")
	}
	offer := ch.packets[0].p.(api.OfferRequest)
	if !strings.Contains(offer.Offer.SDP, "m=video") {
		t.Errorf("no video in the offer:\n%v", offer.Offer.SDP)
	}
	if factory.Stats() == nil {
		t.Errorf("no stats")
	}
}
