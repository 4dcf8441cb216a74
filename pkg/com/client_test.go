package com

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/randchat/matchclient/pkg/api"
	"github.com/randchat/matchclient/pkg/logger"
	"github.com/randchat/matchclient/pkg/network/websocket"
)

var upgrader = gws.Upgrader{}

func newServer(t *testing.T, fn func(conn *gws.Conn)) url.URL {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer func() { _ = conn.Close() }()
		fn(conn)
	}))
	t.Cleanup(srv.Close)
	u, _ := url.Parse(srv.URL)
	u.Scheme = "ws"
	return *u
}

func newClient(t *testing.T, address url.URL) *Client {
	c := NewClient(address, websocket.Options{}, logger.Default())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Shutdown(ctx)
	})
	return c
}

func TestEmitAndOn(t *testing.T) {
	address := newServer(t, func(conn *gws.Conn) {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if !strings.Contains(string(msg), `"e":"start_search"`) {
			t.Errorf("unexpected packet %s", msg)
		}
		_ = conn.WriteMessage(gws.TextMessage, []byte(`{"e":"status","p":"Searching"}`))
		// wait for the client to go away
		_, _, _ = conn.ReadMessage()
	})

	client := newClient(t, address)
	got := make(chan string, 1)
	client.On(api.Status, func(payload []byte) { got <- api.StatusMessage(payload) })
	client.Run()

	if !client.WaitReady(2 * time.Second) {
		t.Fatalf("not connected")
	}
	if err := client.Emit(api.StartSearch, nil); err != nil {
		t.Fatal(err)
	}
	select {
	case status := <-got:
		if status != "Searching" {
			t.Errorf("wrong status %v", status)
		}
	case <-time.After(2 * time.Second):
		t.Errorf("no status")
	}
}

func TestNotConnected(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	u, _ := url.Parse(srv.URL)
	u.Scheme = "ws"
	srv.Close()

	client := newClient(t, *u)
	client.Run()

	if client.WaitReady(100 * time.Millisecond) {
		t.Errorf("should not be ready")
	}
	if err := client.Emit(api.StartSearch, nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("unexpected error %v", err)
	}
}

func TestReconnect(t *testing.T) {
	var mu sync.Mutex
	n := 0
	address := newServer(t, func(conn *gws.Conn) {
		mu.Lock()
		n++
		first := n == 1
		mu.Unlock()
		if first {
			return
		}
		_, _, _ = conn.ReadMessage()
	})

	client := newClient(t, address)
	states := make(chan bool, 10)
	client.OnConnection(func(connected bool) { states <- connected })
	client.Run()

	want := []bool{true, false, true}
	for i, w := range want {
		select {
		case s := <-states:
			if s != w {
				t.Fatalf("state %v: %v != %v", i, s, w)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("no state change %v", i)
		}
	}
}
