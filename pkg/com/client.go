// Package com implements the realtime event channel to the matchmaking server.
package com

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/randchat/matchclient/pkg/api"
	"github.com/randchat/matchclient/pkg/logger"
	"github.com/randchat/matchclient/pkg/network"
	"github.com/randchat/matchclient/pkg/network/websocket"
)

// Handler receives raw event payloads, it is called from the socket read pump.
type Handler func(payload []byte)

type Client struct {
	address url.URL
	opts    websocket.Options
	log     *logger.Logger

	mu           sync.Mutex
	conn         *websocket.WS
	ready        chan struct{}
	handlers     map[api.Event]Handler
	onConnection func(connected bool)

	cancel context.CancelFunc
	done   chan struct{}
}

var ErrNotConnected = errors.New("not connected")

func NewClient(address url.URL, opts websocket.Options, log *logger.Logger) *Client {
	return &Client{
		address:  address,
		opts:     opts,
		log:      log.Module("com"),
		ready:    make(chan struct{}),
		handlers: make(map[api.Event]Handler),
		done:     make(chan struct{}),
	}
}

// On sets the handler of some event, replacing the previous one.
func (c *Client) On(e api.Event, fn Handler) {
	c.mu.Lock()
	c.handlers[e] = fn
	c.mu.Unlock()
}

// OnConnection sets a callback for the connection state changes.
func (c *Client) OnConnection(fn func(connected bool)) {
	c.mu.Lock()
	c.onConnection = fn
	c.mu.Unlock()
}

// Run starts connecting in the background, reconnecting on failures.
func (c *Client) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.connect(ctx)
}

func (c *Client) Shutdown(ctx context.Context) error {
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) connect(ctx context.Context) {
	defer close(c.done)
	retry := network.NewRetry()
	for {
		c.log.Debug().Msgf("Connecting to %v", c.address.String())
		ws, err := websocket.NewClient(ctx, c.address, c.opts, c.log)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := retry.Fail()
			c.log.Warn().Err(err).Msgf("Couldn't connect, next attempt in %v", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		retry.Success()
		ws.OnMessage = c.handleMessage
		c.setConn(ws)
		ws.Listen()
		c.log.Info().Msgf("Connected to %v", c.address.String())

		select {
		case <-ws.Done:
			c.setConn(nil)
			c.log.Warn().Msg("Connection lost")
		case <-ctx.Done():
			c.setConn(nil)
			ws.Close()
			<-ws.Done
			c.log.Debug().Msg("Disconnected")
			return
		}
	}
}

func (c *Client) setConn(ws *websocket.WS) {
	c.mu.Lock()
	was := c.conn != nil
	c.conn = ws
	if ws != nil {
		close(c.ready)
	} else if was {
		c.ready = make(chan struct{})
	}
	fn := c.onConnection
	c.mu.Unlock()
	if fn != nil && was != (ws != nil) {
		fn(ws != nil)
	}
}

func (c *Client) handleMessage(message []byte, err error) {
	if err != nil {
		return
	}
	var in api.In
	if err = json.Unmarshal(message, &in); err != nil {
		c.log.Error().Err(err).Msg("malformed packet")
		return
	}
	c.mu.Lock()
	fn := c.handlers[in.E]
	c.mu.Unlock()
	c.log.Debug().Str(logger.DirectionField, "←").Msgf("%v", in.E)
	if fn == nil {
		c.log.Debug().Msgf("no handler for %v", in.E)
		return
	}
	fn(in.Payload)
}

// Emit sends an event without waiting for anything.
func (c *Client) Emit(e api.Event, payload any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%v: %w", e, ErrNotConnected)
	}
	data, err := json.Marshal(api.Out{E: e, Payload: payload})
	if err != nil {
		return err
	}
	c.log.Debug().Str(logger.DirectionField, "→").Msgf("%v", e)
	return conn.Write(data)
}

// WaitReady blocks until the channel is connected or the timeout passes.
func (c *Client) WaitReady(timeout time.Duration) bool {
	c.mu.Lock()
	ready := c.ready
	c.mu.Unlock()
	select {
	case <-ready:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (c *Client) String() string { return fmt.Sprintf("com::%v", c.address.String()) }
