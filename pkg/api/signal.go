package api

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v3"
)

// SDP is a session description which also accepts a bare SDP string
// on decoding, the type then comes from the event.
type SDP struct {
	webrtc.SessionDescription
}

func (s *SDP) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var raw string
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		s.SessionDescription = webrtc.SessionDescription{SDP: raw}
		return nil
	}
	return json.Unmarshal(b, &s.SessionDescription)
}

func (s SDP) MarshalJSON() ([]byte, error) { return json.Marshal(s.SessionDescription) }

type (
	OfferRequest struct {
		Room  string `json:"room,omitempty"`
		Offer SDP    `json:"offer"`
	}
	AnswerRequest struct {
		Room   string `json:"room,omitempty"`
		Answer SDP    `json:"answer"`
	}
	IceCandidateRequest struct {
		Room      string                  `json:"room,omitempty"`
		Candidate webrtc.ICECandidateInit `json:"candidate"`
	}
)

type SignalKind uint8

const (
	SignalOffer SignalKind = iota
	SignalAnswer
	SignalCandidate
)

func (k SignalKind) String() string {
	switch k {
	case SignalOffer:
		return "offer"
	case SignalAnswer:
		return "answer"
	case SignalCandidate:
		return "candidate"
	default:
		return "unknown"
	}
}

// Signal is one of offer, answer or candidate relayed through the channel.
// Only the field matching Kind is set.
type Signal struct {
	Kind      SignalKind
	Room      string
	SDP       webrtc.SessionDescription
	Candidate webrtc.ICECandidateInit
}

func (s Signal) Event() Event {
	switch s.Kind {
	case SignalOffer:
		return WebrtcOffer
	case SignalAnswer:
		return WebrtcAnswer
	default:
		return WebrtcIce
	}
}

// Payload returns the wire form of the signal.
func (s Signal) Payload() any {
	switch s.Kind {
	case SignalOffer:
		return OfferRequest{Room: s.Room, Offer: SDP{s.SDP}}
	case SignalAnswer:
		return AnswerRequest{Room: s.Room, Answer: SDP{s.SDP}}
	default:
		return IceCandidateRequest{Room: s.Room, Candidate: s.Candidate}
	}
}

func OfferSignal(room string, sdp webrtc.SessionDescription) Signal {
	return Signal{Kind: SignalOffer, Room: room, SDP: sdp}
}

func AnswerSignal(room string, sdp webrtc.SessionDescription) Signal {
	return Signal{Kind: SignalAnswer, Room: room, SDP: sdp}
}

func CandidateSignal(room string, c webrtc.ICECandidateInit) Signal {
	return Signal{Kind: SignalCandidate, Room: room, Candidate: c}
}

// DecodeSignal unwraps a signaling event payload.
func DecodeSignal(e Event, data []byte) (Signal, error) {
	switch e {
	case WebrtcOffer:
		r, err := UnwrapChecked[OfferRequest](data, nil)
		if err != nil {
			return Signal{}, err
		}
		sdp := r.Offer.SessionDescription
		sdp.Type = webrtc.SDPTypeOffer
		if sdp.SDP == "" {
			return Signal{}, fmt.Errorf("empty offer: %w", ErrMalformed)
		}
		return OfferSignal(r.Room, sdp), nil
	case WebrtcAnswer:
		r, err := UnwrapChecked[AnswerRequest](data, nil)
		if err != nil {
			return Signal{}, err
		}
		sdp := r.Answer.SessionDescription
		sdp.Type = webrtc.SDPTypeAnswer
		if sdp.SDP == "" {
			return Signal{}, fmt.Errorf("empty answer: %w", ErrMalformed)
		}
		return AnswerSignal(r.Room, sdp), nil
	case WebrtcIce:
		r, err := UnwrapChecked[IceCandidateRequest](data, nil)
		if err != nil {
			return Signal{}, err
		}
		if r.Candidate.Candidate == "" {
			return Signal{}, fmt.Errorf("empty candidate: %w", ErrMalformed)
		}
		return CandidateSignal(r.Room, r.Candidate), nil
	}
	return Signal{}, fmt.Errorf("not a signal %v", e)
}
