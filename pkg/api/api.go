// Package api defines the event channel protocol between the match client
// and the matchmaking server.
//
// Each message is a JSON-encoded "packet" of the following structure:
//
//	e - (required) one of the predefined event names;
//	p - (optional) event payload with arbitrary data.
//
// Example:
//
//	{"e":"match_confirmed","p":{"room":"r7","stranger_id":42,"stranger_name":"Ann","your_role":"initiator"}}
package api

import (
	"encoding/json"
	"fmt"
	"strconv"
)

type Event string

type In struct {
	E       Event           `json:"e"`
	Payload json.RawMessage `json:"p,omitempty"` // should be json.RawMessage for 2-pass unmarshal
}

type Out struct {
	E       Event `json:"e"`
	Payload any   `json:"p,omitempty"`
}

// Outgoing events.
const (
	StartSearch   Event = "start_search"
	WebrtcOffer   Event = "webrtc_offer"
	WebrtcAnswer  Event = "webrtc_answer"
	WebrtcIce     Event = "webrtc_ice_candidate"
	SkipStranger  Event = "skip_stranger"
	EndChat       Event = "end_chat"
	FriendRequest Event = "send_friend_request_during_chat"
)

// Incoming events.
const (
	MatchConfirmed       Event = "match_confirmed"
	StrangerDisconnected Event = "stranger_disconnected"
	StrangerSkipped      Event = "stranger_skipped"
	FriendAdded          Event = "friend_added_notification"
	Status               Event = "status"
	Error                Event = "error"
)

func (e Event) String() string { return string(e) }

var ErrMalformed = fmt.Errorf("malformed")

// Unwrap decodes a packet payload, nil means broken data.
func Unwrap[T any](data []byte) *T {
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil
	}
	return out
}

func UnwrapChecked[T any](bytes []byte, err error) (*T, error) {
	if err != nil {
		return nil, err
	}
	v := Unwrap[T](bytes)
	if v == nil {
		return nil, ErrMalformed
	}
	return v, nil
}

// Id is a user id, the server sends them as numbers or strings.
type Id string

func (i *Id) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*i = Id(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*i = Id(n)
	return nil
}

func (i Id) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(i), 10, 64); err == nil {
		return []byte(i), nil
	}
	return json.Marshal(string(i))
}

func (i Id) String() string { return string(i) }
