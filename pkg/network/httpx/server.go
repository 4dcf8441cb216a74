package httpx

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/randchat/matchclient/pkg/logger"
)

type Server struct {
	http.Server

	listener *Listener
	log      *logger.Logger
}

type Options struct {
	PortRoll     bool
	IdleTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       *logger.Logger
}

type Option func(*Options)

func WithPortRoll(roll bool) Option           { return func(opts *Options) { opts.PortRoll = roll } }
func WithLogger(log *logger.Logger) Option    { return func(opts *Options) { opts.Logger = log } }
func WithWriteTimeout(t time.Duration) Option { return func(opts *Options) { opts.WriteTimeout = t } }

func NewServer(address string, handler func(*Server) http.Handler, options ...Option) (*Server, error) {
	opts := &Options{
		IdleTimeout:  120 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	for _, opt := range options {
		opt(opts)
	}
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}

	server := &Server{
		Server: http.Server{
			Addr:         address,
			IdleTimeout:  opts.IdleTimeout,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
		},
		log: opts.Logger,
	}
	// (╯°□°)╯︵ ┻━┻
	server.Handler = handler(server)

	listener, err := NewListener(address, opts.PortRoll)
	if err != nil {
		return nil, err
	}
	server.listener = listener
	server.Addr = buildAddress(address, *listener)
	return server, nil
}

func (s *Server) Run() { go s.run() }

func (s *Server) run() {
	s.log.Debug().Msgf("Starting http server on %s", s.Addr)
	err := s.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		s.log.Debug().Msg("http server was closed")
		return
	}
	s.log.Error().Err(err).Msg("http server")
}

func (s *Server) Shutdown(ctx context.Context) error { return s.Server.Shutdown(ctx) }

func (s *Server) GetPort() int { return s.listener.GetPort() }

// buildAddress joins the host of the address with the actual port of the listener.
//
// As example, address :0 and listener 0.0.0.0:43210 will be transformed to localhost:43210.
func buildAddress(address string, l Listener) string {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		host = address
	}
	if host == "" {
		host = "localhost"
	}
	if port := l.GetPort(); port > 0 {
		return net.JoinHostPort(host, strconv.Itoa(port))
	}
	return host
}
