package api

import "fmt"

// Role tells which side of a match makes the offer.
type Role string

const (
	Initiator Role = "initiator"
	Receiver  Role = "receiver"
)

func (r Role) Valid() bool { return r == Initiator || r == Receiver }

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

type (
	MatchConfirmedResponse struct {
		Room         string `json:"room"`
		StrangerId   Id     `json:"stranger_id"`
		StrangerName string `json:"stranger_name"`
		YourRole     Role   `json:"your_role"`
	}
	StrangerDisconnectedResponse struct {
		Message string `json:"message,omitempty"`
	}
	FriendRequestRequest struct {
		Room       string `json:"room"`
		StrangerId Id     `json:"stranger_id"`
	}
	FriendAddedNotification struct {
		FromName string `json:"from_name"`
	}
)

// StatusMessage extracts a text from the status or error event payloads,
// which are either a bare string or an object with the message field.
func StatusMessage(data []byte) string {
	if s := Unwrap[string](data); s != nil {
		return *s
	}
	if m := Unwrap[struct {
		Message string `json:"message"`
	}](data); m != nil {
		return m.Message
	}
	return ""
}
