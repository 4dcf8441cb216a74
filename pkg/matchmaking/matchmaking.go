// Package matchmaking asks the server for a random partner.
//
// The client is not safe for concurrent use, every call and every callback
// happens on the owner's event loop. Timeouts get there through the post function.
package matchmaking

import (
	"errors"
	"fmt"
	"time"

	"github.com/randchat/matchclient/pkg/api"
	"github.com/randchat/matchclient/pkg/logger"
)

// SearchTimeout is how long we wait for a partner.
const SearchTimeout = 180 * time.Second

var (
	ErrNoMatch = errors.New("No strangers available - try again later")
	ErrBadRole = errors.New("bad role")
)

type Emitter interface {
	Emit(e api.Event, payload any) error
}

type MatchResult struct {
	Room     string
	PeerId   api.Id
	PeerName string
	Role     api.Role
}

// Callback gets either a match or an error, once per search.
type Callback func(MatchResult, error)

type Client struct {
	ch      Emitter
	post    func(func())
	timeout time.Duration
	attempt uint64
	pending *search
	log     *logger.Logger
}

type search struct {
	id    uint64
	done  Callback
	timer *time.Timer
}

func New(ch Emitter, post func(func()), log *logger.Logger) *Client {
	return &Client{ch: ch, post: post, timeout: SearchTimeout, log: log.Module("match")}
}

// Search sends the search request and arms the timeout.
// A previous search, if any, is dropped silently.
func (c *Client) Search(done Callback) (uint64, error) {
	c.Cancel()
	if err := c.ch.Emit(api.StartSearch, nil); err != nil {
		return 0, fmt.Errorf("search: %w", err)
	}
	c.attempt++
	s := &search{id: c.attempt, done: done}
	s.timer = time.AfterFunc(c.timeout, func() { c.post(func() { c.expire(s.id) }) })
	c.pending = s
	c.log.Debug().Uint64("attempt", s.id).Msg("Searching")
	return s.id, nil
}

// Confirm resolves the current search with a server match.
// Returns false when nobody waits for it.
func (c *Client) Confirm(m api.MatchConfirmedResponse) bool {
	s := c.pending
	if s == nil {
		c.log.Warn().Str(logger.RoomField, m.Room).Msg("Unexpected match, ignored")
		return false
	}
	c.pending = nil
	s.timer.Stop()

	role, err := api.ParseRole(string(m.YourRole))
	if err != nil {
		s.done(MatchResult{}, fmt.Errorf("%w: %v", ErrBadRole, err))
		return true
	}
	c.log.Info().Uint64("attempt", s.id).Str(logger.RoomField, m.Room).Msgf("Matched as %v", role)
	s.done(MatchResult{Room: m.Room, PeerId: m.StrangerId, PeerName: m.StrangerName, Role: role}, nil)
	return true
}

// Cancel forgets the current search without calling back.
func (c *Client) Cancel() {
	if c.pending == nil {
		return
	}
	c.pending.timer.Stop()
	c.log.Debug().Uint64("attempt", c.pending.id).Msg("Search is cancelled")
	c.pending = nil
}

// SetTimeout changes the wait for the next searches.
func (c *Client) SetTimeout(d time.Duration) { c.timeout = d }

func (c *Client) Searching() bool { return c.pending != nil }
func (c *Client) Attempt() uint64 { return c.attempt }

func (c *Client) expire(id uint64) {
	s := c.pending
	if s == nil || s.id != id {
		c.log.Debug().Uint64("attempt", id).Msg("Stale search timeout")
		return
	}
	c.pending = nil
	c.log.Info().Uint64("attempt", id).Msg("No match")
	s.done(MatchResult{}, ErrNoMatch)
}
