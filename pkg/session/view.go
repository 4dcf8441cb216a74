package session

import "fmt"

type Phase uint8

const (
	Idle Phase = iota
	RequestingCamera
	Searching
	Negotiating
	Connected
	Error
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case RequestingCamera:
		return "requesting camera"
	case Searching:
		return "searching"
	case Negotiating:
		return "negotiating"
	case Connected:
		return "connected"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// Active is true when there is a search or a partner to skip or end.
func (p Phase) Active() bool { return p == Searching || p == Negotiating || p == Connected }

const (
	StatusIdle        = `Click "Start" to find a stranger`
	StatusCamera      = "Requesting camera and microphone..."
	StatusSearching   = "Searching for a stranger..."
	StatusConnecting  = "Connecting to stranger..."
	StatusLost        = "Stranger disconnected. Searching..."
	StatusSkipped     = "Stranger skipped you. Searching..."
	StatusNextSearch  = "Looking for the next stranger..."
	StatusNoChannel   = "No connection to the server"
	StatusNegotiation = "Couldn't connect to the stranger"
)

// View is what the user sees: the status line and the available actions.
type View struct {
	Phase     Phase
	Status    string
	Start     bool
	Skip      bool
	End       bool
	AddFriend bool
}

// NewView describes the screen for the phase.
// An empty status is replaced with the phase default.
func NewView(phase Phase, status string) View {
	v := View{Phase: phase, Status: status}
	switch phase {
	case Idle, Error:
		v.Start = true
	case Searching, Negotiating:
		v.Skip, v.End = true, true
	case Connected:
		v.Skip, v.End, v.AddFriend = true, true, true
	}
	if v.Status == "" {
		switch phase {
		case Idle:
			v.Status = StatusIdle
		case RequestingCamera:
			v.Status = StatusCamera
		case Searching:
			v.Status = StatusSearching
		case Negotiating:
			v.Status = StatusConnecting
		case Connected:
			v.Status = "Connected!"
		case Error:
			v.Status = "Error"
		}
	}
	return v
}

func (v View) String() string { return fmt.Sprintf("[%v] %v", v.Phase, v.Status) }

// Renderer shows views to the user.
type Renderer interface {
	Render(v View)
}

type RenderFunc func(View)

func (f RenderFunc) Render(v View) { f(v) }
