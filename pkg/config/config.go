package config

import (
	"fmt"
	"net/url"

	"github.com/spf13/pflag"
)

type ClientConfig struct {
	Client     Client
	Signal     Signal
	Media      Media
	Recording  Recording
	Monitoring Monitoring
	Webrtc     Webrtc
}

type Client struct {
	AutoStart bool
	Debug     bool
	NoColor   bool
}

// Signal describes the realtime event channel endpoint.
type Signal struct {
	Address string `default:"ws://localhost:5000/ws"`
	// Origin header sent during the websocket handshake.
	Origin   string
	PingPong bool
}

type Media struct {
	Width        int `default:"1280"`
	Height       int `default:"720"`
	FrameRate    int `default:"30"`
	VideoBitrate int `default:"1000000"`
}

type Recording struct {
	Enabled bool
	Folder  string `default:"recordings"`
	// Name of a recording folder, supports %date:layout%, %room%, %peer% and %rand:n%.
	Name string `default:"%date:20060102-150405%-%peer%"`
}

type Monitoring struct {
	Port             int `default:"6610"`
	URLPrefix        string
	MetricEnabled    bool `json:"metric_enabled"`
	ProfilingEnabled bool `json:"profiling_enabled"`
}

func (c *Monitoring) IsEnabled() bool { return c.MetricEnabled || c.ProfilingEnabled }

// NewClientConfig loads the config from the file found in the path
// (or the default locations when empty) and the environment.
func NewClientConfig(path string) (conf ClientConfig, err error) {
	if err = LoadConfig(&conf, path); err != nil {
		return
	}
	if len(conf.Webrtc.IceServers) == 0 {
		conf.Webrtc.IceServers = append(conf.Webrtc.IceServers, DefaultIceServers...)
	}
	if err = conf.Webrtc.AddIceServersEnv(); err != nil {
		return
	}
	err = conf.Validate()
	return
}

// ParseArgs loads the config and applies command line flags on top of it.
// The file path comes from the -c/--conf flag.
func ParseArgs(args []string) (conf ClientConfig, err error) {
	var path string
	pre := pflag.NewFlagSet("conf", pflag.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	pre.Usage = func() {}
	pre.StringVarP(&path, "conf", "c", "", "")
	_ = pre.Parse(args)

	if conf, err = NewClientConfig(path); err != nil {
		return
	}
	fs := pflag.NewFlagSet("matchclient", pflag.ContinueOnError)
	fs.StringVarP(&path, "conf", "c", path, "Set custom configuration file path")
	conf.WithFlags(fs)
	if err = fs.Parse(args); err != nil {
		return
	}
	err = conf.Validate()
	return
}

// WithFlags adds command line flags which override the file values.
func (c *ClientConfig) WithFlags(fs *pflag.FlagSet) *ClientConfig {
	fs.StringVar(&c.Signal.Address, "address", c.Signal.Address, "Event channel websocket address (ws[s]://host:port/path)")
	fs.BoolVar(&c.Client.AutoStart, "auto-start", c.Client.AutoStart, "Start searching right after launch")
	fs.BoolVarP(&c.Client.Debug, "debug", "d", c.Client.Debug, "Debug logs")
	fs.BoolVar(&c.Recording.Enabled, "record", c.Recording.Enabled, "Record remote media into the recording folder")
	fs.IntVar(&c.Monitoring.Port, "monitoring.port", c.Monitoring.Port, "Monitoring server port")
	return c
}

func (c *ClientConfig) Validate() error {
	u, err := url.Parse(c.Signal.Address)
	if err != nil {
		return fmt.Errorf("signal address: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("signal address should be ws:// or wss://, got %v", c.Signal.Address)
	}
	if c.Media.Width <= 0 || c.Media.Height <= 0 {
		return fmt.Errorf("bad media size %vx%v", c.Media.Width, c.Media.Height)
	}
	return c.Webrtc.Validate()
}

// SignalURL returns the parsed channel address.
func (c *ClientConfig) SignalURL() url.URL {
	u, _ := url.Parse(c.Signal.Address)
	if u == nil {
		return url.URL{}
	}
	return *u
}
