// Package session drives one user through the chat lifecycle:
// camera, search, negotiation, call and the automatic retries.
//
// The Controller is an actor. User commands, channel events, peer connection
// callbacks and timers are all posted into one mailbox and run one by one
// in Run, so the state needs no locks.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	pion "github.com/pion/webrtc/v3"
	"github.com/randchat/matchclient/pkg/api"
	"github.com/randchat/matchclient/pkg/com"
	"github.com/randchat/matchclient/pkg/logger"
	"github.com/randchat/matchclient/pkg/matchmaking"
	"github.com/randchat/matchclient/pkg/media"
	"github.com/randchat/matchclient/pkg/monitoring"
	"github.com/randchat/matchclient/pkg/webrtc"
)

const (
	// ChannelTimeout is how long we wait for the event channel on start.
	ChannelTimeout = 2 * time.Second
	// SkipDelay is the pause before the next search after a skip.
	SkipDelay = 1 * time.Second
	// LossDelay is the pause before the next search after losing the partner.
	LossDelay = 2 * time.Second

	mailboxSize = 64
)

// Channel is the event channel to the matchmaking server.
type Channel interface {
	Emit(e api.Event, payload any) error
	On(e api.Event, fn com.Handler)
}

type Acquirer interface {
	Acquire(ctx context.Context) (*media.Handle, error)
}

// Preview shows the local camera.
type Preview interface {
	ShowLocal(h *media.Handle)
	HideLocal()
}

// attempt is one camera-on-to-call-ended try.
type attempt struct {
	id        string
	n         uint64
	cancel    context.CancelFunc
	peer      *webrtc.Session
	matchedAt time.Time
}

type Controller struct {
	ch       Channel
	acquirer Acquirer
	factory  webrtc.Factory
	match    *matchmaking.Client

	renderer Renderer
	preview  Preview
	sink     webrtc.RemoteSink
	metrics  *monitoring.Metrics
	opts     Options

	mailbox chan func()
	done    chan struct{}
	ctx     context.Context

	phase  Phase
	status string
	cur    *attempt
	n      uint64
	local  *media.Handle
	retry  *time.Timer
	final  bool

	log *logger.Logger
}

// New makes a controller bound to the channel events.
// The channel should be ready, see com.Client.WaitReady.
func New(ch Channel, acquirer Acquirer, factory webrtc.Factory, options ...Option) *Controller {
	opts := Options{SkipDelay: SkipDelay, LossDelay: LossDelay, SearchTimeout: matchmaking.SearchTimeout}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	c := &Controller{
		ch:       ch,
		acquirer: acquirer,
		factory:  factory,
		renderer: opts.Renderer,
		preview:  opts.Preview,
		sink:     opts.Sink,
		metrics:  opts.Metrics,
		opts:     opts,
		mailbox:  make(chan func(), mailboxSize),
		done:     make(chan struct{}),
		ctx:      context.Background(),
		log:      opts.Logger.Module("session"),
	}
	c.match = matchmaking.New(ch, c.post, opts.Logger)
	c.match.SetTimeout(opts.SearchTimeout)
	c.bind()
	return c
}

// Run processes the mailbox until Close or the context is done.
func (c *Controller) Run(ctx context.Context) {
	defer close(c.done)
	c.ctx = ctx
	c.render()
	for !c.final {
		select {
		case <-ctx.Done():
			c.unload()
		case fn := <-c.mailbox:
			fn()
		}
	}
	c.log.Debug().Msg("Session loop has ended")
}

// Done is closed when Run has returned.
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) Start()     { c.post(c.start) }
func (c *Controller) Skip()      { c.post(c.skip) }
func (c *Controller) End()       { c.post(c.end) }
func (c *Controller) AddFriend() { c.post(c.addFriend) }

// Close releases everything, the controller can't be used after.
func (c *Controller) Close() { c.post(c.unload) }

func (c *Controller) post(fn func()) {
	select {
	case c.mailbox <- fn:
	case <-c.done:
	}
}

func (c *Controller) bind() {
	c.ch.On(api.MatchConfirmed, func(data []byte) {
		m, err := api.UnwrapChecked[api.MatchConfirmedResponse](data, nil)
		if err != nil {
			c.log.Error().Err(err).Msg("Bad match")
			return
		}
		c.post(func() { c.match.Confirm(*m) })
	})
	for _, e := range []api.Event{api.WebrtcOffer, api.WebrtcAnswer, api.WebrtcIce} {
		e := e
		c.ch.On(e, func(data []byte) {
			sig, err := api.DecodeSignal(e, data)
			if err != nil {
				c.log.Error().Err(err).Msgf("Bad %v", e)
				return
			}
			c.post(func() { c.onSignal(sig) })
		})
	}
	c.ch.On(api.StrangerDisconnected, func(data []byte) {
		msg := StatusLost
		if m := api.Unwrap[api.StrangerDisconnectedResponse](data); m != nil && m.Message != "" {
			msg = m.Message
		}
		c.post(func() { c.onStrangerGone(string(api.StrangerDisconnected), msg) })
	})
	c.ch.On(api.StrangerSkipped, func([]byte) {
		c.post(func() { c.onStrangerGone(string(api.StrangerSkipped), StatusSkipped) })
	})
	c.ch.On(api.Status, func(data []byte) {
		msg := api.StatusMessage(data)
		c.post(func() { c.setStatus(msg) })
	})
	c.ch.On(api.Error, func(data []byte) {
		msg := api.StatusMessage(data)
		c.post(func() { c.onServerError(msg) })
	})
	c.ch.On(api.FriendAdded, func(data []byte) {
		m := api.Unwrap[api.FriendAddedNotification](data)
		if m == nil {
			return
		}
		c.post(func() { c.setStatus(fmt.Sprintf("%v added you as a friend!", m.FromName)) })
	})
}

func (c *Controller) start() {
	if c.phase != Idle && c.phase != Error {
		c.log.Debug().Msgf("Already in progress (%v), ignoring start", c.phase)
		return
	}
	c.stopRetry()

	c.n++
	a := &attempt{id: uuid.Must(uuid.NewV4()).String(), n: c.n}
	c.cur = a
	c.metrics.SessionStarted()
	c.log.Info().Str(logger.SessionField, a.id).Uint64("attempt", a.n).Msg("Start")
	c.setPhase(RequestingCamera, "")

	if c.local != nil && !c.local.Released() {
		c.onMedia(a, c.local, nil)
		return
	}
	ctx, cancel := context.WithCancel(c.ctx)
	a.cancel = cancel
	go func() {
		h, err := c.acquirer.Acquire(ctx)
		c.post(func() { c.onMedia(a, h, err) })
	}()
}

func (c *Controller) onMedia(a *attempt, h *media.Handle, err error) {
	if a != c.cur {
		if h != nil && h != c.local {
			h.Release()
		}
		c.log.Debug().Str(logger.SessionField, a.id).Msg("Stale media result")
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if err != nil {
		kind := media.Unknown
		var ae *media.AcquisitionError
		if errors.As(err, &ae) {
			kind = ae.Kind
		}
		c.metrics.MediaFailed(kind.String())
		c.log.Warn().Err(err).Msg("No camera")
		c.fail(kind.Message())
		return
	}
	if h != c.local {
		c.local = h
		if c.preview != nil {
			c.preview.ShowLocal(h)
		}
	}
	c.search(a)
}

func (c *Controller) search(a *attempt) {
	c.setPhase(Searching, "")
	if _, err := c.match.Search(func(m matchmaking.MatchResult, err error) { c.onMatch(a, m, err) }); err != nil {
		c.log.Error().Err(err).Msg("Couldn't search")
		c.fail(StatusNoChannel)
	}
}

func (c *Controller) onMatch(a *attempt, m matchmaking.MatchResult, err error) {
	if a != c.cur {
		return
	}
	if err != nil {
		if errors.Is(err, matchmaking.ErrNoMatch) {
			c.metrics.SearchTimedOut()
		}
		c.fail(err.Error())
		return
	}
	c.metrics.Matched(string(m.Role))
	a.matchedAt = time.Now()

	var tracks []pion.TrackLocal
	for _, t := range c.local.Tracks() {
		tracks = append(tracks, t)
	}
	peer := webrtc.NewSession(webrtc.Options{
		Room:     m.Room,
		PeerId:   m.PeerId,
		PeerName: m.PeerName,
		Role:     m.Role,
		Tracks:   tracks,
	}, c.factory, c.ch, c.sink, c.post, c.log.Extend(c.log.With().Str(logger.SessionField, a.id)))
	peer.OnEstablished = func() { c.onEstablished(a) }
	peer.OnLost = func(state pion.PeerConnectionState) { c.onLost(a, state) }
	a.peer = peer
	c.setPhase(Negotiating, "")

	if m.Role == api.Initiator {
		err = peer.CreateAndSendOffer()
	} else {
		err = peer.CreateConnection()
	}
	if err != nil {
		c.negotiationFailed(err)
	}
}

func (c *Controller) onSignal(sig api.Signal) {
	a := c.cur
	if a == nil || a.peer == nil || a.peer.Closed() {
		c.log.Debug().Str(logger.RoomField, sig.Room).Msgf("No partner for %v, dropped", sig.Kind)
		return
	}
	if sig.Room != "" && sig.Room != a.peer.Room {
		c.log.Debug().Str(logger.RoomField, sig.Room).Msgf("Stale %v, dropped", sig.Kind)
		return
	}
	err := a.peer.Handle(sig)
	if err == nil {
		return
	}
	var ne *webrtc.NegotiationError
	if errors.As(err, &ne) {
		c.negotiationFailed(err)
		return
	}
	c.log.Warn().Err(err).Msgf("Ignored %v", sig.Kind)
}

func (c *Controller) onEstablished(a *attempt) {
	if a != c.cur || a.peer == nil {
		return
	}
	c.metrics.Established(a.matchedAt)
	c.setPhase(Connected, fmt.Sprintf("Connected to %v!", a.peer.PeerName))
}

func (c *Controller) onLost(a *attempt, state pion.PeerConnectionState) {
	if a != c.cur {
		return
	}
	c.metrics.PeerLost(state.String())
	c.lose(StatusLost)
}

// onStrangerGone handles the server telling the partner has left.
// Without a partner it refers to some previous session.
func (c *Controller) onStrangerGone(reason, msg string) {
	if c.cur == nil || c.cur.peer == nil {
		c.log.Debug().Msgf("No partner, %v ignored", reason)
		return
	}
	c.log.Info().Msgf("Partner is gone: %v", reason)
	c.metrics.PeerLost(reason)
	c.lose(msg)
}

// onServerError stops a search or a negotiation the server has refused.
// Otherwise the error is only shown.
func (c *Controller) onServerError(msg string) {
	c.log.Warn().Str("error", msg).Msgf("Server error in %v", c.phase)
	if c.phase != Searching && c.phase != Negotiating {
		c.setStatus(msg)
		return
	}
	if msg == "" {
		msg = "Error"
	}
	c.fail(msg)
}

// lose keeps the camera and searches again a bit later.
func (c *Controller) lose(msg string) {
	c.teardown(false)
	c.setPhase(Error, msg)
	c.schedule(c.opts.LossDelay)
}

func (c *Controller) negotiationFailed(err error) {
	var ne *webrtc.NegotiationError
	if errors.As(err, &ne) {
		c.metrics.NegotiationFailed(ne.Step)
	}
	c.log.Error().Err(err).Msg("Negotiation failed")
	c.fail(StatusNegotiation)
}

// fail shows the error and waits for the user.
func (c *Controller) fail(msg string) {
	c.teardown(true)
	c.setPhase(Error, msg)
	c.setPhase(Idle, msg)
}

func (c *Controller) skip() {
	if !c.phase.Active() {
		c.log.Debug().Msgf("Nothing to skip (%v)", c.phase)
		return
	}
	if err := c.ch.Emit(api.SkipStranger, nil); err != nil {
		c.log.Error().Err(err).Msg("Couldn't skip")
	}
	c.teardown(false)
	c.setPhase(Idle, StatusNextSearch)
	c.schedule(c.opts.SkipDelay)
}

func (c *Controller) end() {
	if !c.phase.Active() && c.retry == nil {
		c.log.Debug().Msgf("Nothing to end (%v)", c.phase)
		return
	}
	if c.phase.Active() {
		if err := c.ch.Emit(api.EndChat, nil); err != nil {
			c.log.Error().Err(err).Msg("Couldn't end")
		}
	}
	c.stopRetry()
	c.teardown(true)
	c.setPhase(Idle, "")
}

func (c *Controller) addFriend() {
	a := c.cur
	if c.phase != Connected || a == nil || a.peer == nil || a.peer.Room == "" || a.peer.PeerId == "" {
		c.log.Debug().Msg("No partner to befriend")
		return
	}
	req := api.FriendRequestRequest{Room: a.peer.Room, StrangerId: a.peer.PeerId}
	if err := c.ch.Emit(api.FriendRequest, req); err != nil {
		c.log.Error().Err(err).Msg("Couldn't send friend request")
	}
}

func (c *Controller) unload() {
	if c.final {
		return
	}
	c.stopRetry()
	c.teardown(true)
	c.phase, c.status = Idle, ""
	c.final = true
	c.log.Info().Msg("Closed")
}

// teardown ends the current attempt,
// the local media is kept when the next attempt can reuse it.
func (c *Controller) teardown(release bool) {
	if a := c.cur; a != nil {
		if a.cancel != nil {
			a.cancel()
		}
		c.match.Cancel()
		if a.peer != nil {
			a.peer.Teardown()
		}
		c.cur = nil
		c.log.Debug().Str(logger.SessionField, a.id).Msg("Teardown")
	}
	if release && c.local != nil {
		c.local.Release()
		c.local = nil
		if c.preview != nil {
			c.preview.HideLocal()
		}
	}
}

func (c *Controller) schedule(d time.Duration) {
	c.stopRetry()
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		c.post(func() {
			if c.retry != t {
				return
			}
			c.retry = nil
			c.start()
		})
	})
	c.retry = t
	c.log.Debug().Msgf("Next try in %v", d)
}

func (c *Controller) stopRetry() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *Controller) setPhase(p Phase, status string) {
	c.phase, c.status = p, status
	c.render()
}

func (c *Controller) setStatus(status string) {
	c.status = status
	c.render()
}

func (c *Controller) render() {
	v := NewView(c.phase, c.status)
	c.log.Debug().Msgf("UI %v", v)
	if c.renderer != nil {
		c.renderer.Render(v)
	}
}
