package websocket

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/randchat/matchclient/pkg/logger"
)

const (
	maxMessageSize = 64 * 1024
	pingTime       = pongTime * 9 / 10
	pongTime       = 60 * time.Second
	writeWait      = 10 * time.Second
	closeWait      = 2 * time.Second
	dialTimeout    = 10 * time.Second
	sendBuffer     = 32
)

type WS struct {
	conn deadlinedConn
	send chan []byte

	OnMessage MessageHandler

	pingPong bool

	stop     chan struct{}
	stopOnce sync.Once
	writerWg sync.WaitGroup
	listen   sync.Once
	Done     chan struct{}

	log *logger.Logger
}

type MessageHandler func(message []byte, err error)

type Options struct {
	// Origin header of the handshake request.
	Origin string
	// PingPong makes the client ping the server and expect pongs.
	PingPong bool
}

var ErrClosed = fmt.Errorf("websocket is closed")

var dialer = websocket.Dialer{
	Proxy:            http.ProxyFromEnvironment,
	HandshakeTimeout: dialTimeout,
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
	WriteBufferPool:  &sync.Pool{},
}

// NewClient dials the address. Call Listen to start the pumps.
func NewClient(ctx context.Context, address url.URL, opts Options, log *logger.Logger) (*WS, error) {
	var header http.Header
	if opts.Origin != "" {
		header = http.Header{"Origin": []string{opts.Origin}}
	}
	conn, resp, err := dialer.DialContext(ctx, address.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return newSocket(conn, opts.PingPong, log), nil
}

func newSocket(conn *websocket.Conn, pingPong bool, log *logger.Logger) *WS {
	if log == nil {
		log = logger.Default()
	}
	return &WS{
		conn:     deadlinedConn{sock: conn, wt: writeWait},
		send:     make(chan []byte, sendBuffer),
		pingPong: pingPong,
		stop:     make(chan struct{}),
		Done:     make(chan struct{}),
		log:      log,
	}
}

// Listen starts the read and write pumps, once.
func (ws *WS) Listen() {
	ws.listen.Do(func() {
		ws.writerWg.Add(1)
		go ws.writer()
		go ws.reader()
	})
}

// reader pumps messages from the websocket connection to the OnMessage callback.
// Blocking, must be called as goroutine. Serializes all websocket reads.
func (ws *WS) reader() {
	defer func() {
		ws.halt()
		ws.writerWg.Wait()
		_ = ws.conn.close()
		close(ws.Done)
		ws.log.Debug().Msg("[ws] reader is closed")
	}()
	ws.conn.setup(func(conn *websocket.Conn) {
		conn.SetReadLimit(maxMessageSize)
		if ws.pingPong {
			_ = conn.SetReadDeadline(time.Now().Add(pongTime))
			conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(pongTime)); return nil })
		}
	})
	for {
		message, err := ws.conn.read()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ws.log.Warn().Err(err).Msg("[ws] read")
			}
			if ws.OnMessage != nil {
				ws.OnMessage(nil, err)
			}
			return
		}
		if ws.OnMessage != nil {
			ws.OnMessage(message, nil)
		}
	}
}

// writer pumps messages from the send channel to the websocket connection.
// Blocking, must be called as goroutine. Serializes all websocket writes.
func (ws *WS) writer() {
	var tick <-chan time.Time
	if ws.pingPong {
		ticker := time.NewTicker(pingTime)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer func() {
		ws.writerWg.Done()
		ws.log.Debug().Msg("[ws] writer is closed")
	}()
	for {
		select {
		case <-ws.stop:
			return
		case message := <-ws.send:
			if err := ws.conn.write(websocket.TextMessage, message); err != nil {
				ws.log.Error().Err(err).Msg("[ws] write")
				_ = ws.conn.close()
				return
			}
		case <-tick:
			if err := ws.conn.write(websocket.PingMessage, nil); err != nil {
				ws.log.Error().Err(err).Msg("[ws] ping")
				_ = ws.conn.close()
				return
			}
		}
	}
}

func (ws *WS) halt() { ws.stopOnce.Do(func() { close(ws.stop) }) }

// Write queues the data for sending.
func (ws *WS) Write(data []byte) error {
	select {
	case <-ws.stop:
		return ErrClosed
	default:
	}
	select {
	case ws.send <- data:
		return nil
	case <-ws.stop:
		return ErrClosed
	}
}

// Close says goodbye to the server and waits a bit for its reply.
func (ws *WS) Close() {
	started := true
	ws.listen.Do(func() { started = false })
	ws.halt()
	if !started {
		_ = ws.conn.close()
		close(ws.Done)
		return
	}
	ws.writerWg.Wait()
	if err := ws.conn.closeFrame(); err != nil {
		_ = ws.conn.close()
	}
	_ = ws.conn.sock.SetReadDeadline(time.Now().Add(closeWait))
	ws.log.Debug().Msg("[ws] close")
}

// Listening tells if the connection is not closed yet.
func (ws *WS) Listening() bool {
	select {
	case <-ws.Done:
		return false
	default:
		return true
	}
}
