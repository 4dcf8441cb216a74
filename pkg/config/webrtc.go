package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

type Webrtc struct {
	DisableDefaultInterceptors bool
	IceServers                 []IceServer
	IcePorts                   struct {
		Min uint16
		Max uint16
	}
	IceIpMap string
	LogLevel int
}

type IceServer struct {
	Urls       string `json:"urls,omitempty"`
	Username   string `json:"username,omitempty"`
	Credential string `json:"credential,omitempty"`
}

// DefaultIceServers is the relay/reflection set used when nothing is configured.
var DefaultIceServers = []IceServer{
	{Urls: "stun:stun.l.google.com:19302"},
	{Urls: "stun:stun1.l.google.com:19302"},
	{Urls: "stun:stun2.l.google.com:19302"},
	{Urls: "turn:openrelay.metered.ca:443", Username: "openrelayproject", Credential: "openrelayproject"},
}

func (w *Webrtc) HasPortRange() bool { return w.IcePorts.Min > 0 && w.IcePorts.Max > 0 }
func (w *Webrtc) HasIceIpMap() bool  { return w.IceIpMap != "" }

// IsTurn tells if the server is a relay which requires credentials.
func (s IceServer) IsTurn() bool {
	return strings.HasPrefix(s.Urls, "turn:") || strings.HasPrefix(s.Urls, "turns:")
}

// iceEnv matches MATCH_CLIENT_WEBRTC_ICESERVERS[n]_URLS=value and the other fields.
var iceEnv = regexp.MustCompile(`^` + EnvPrefix + `_WEBRTC_ICESERVERS\[(\d+)\]_(URLS|USERNAME|CREDENTIAL)=(.*)$`)

// AddIceServersEnv overrides ICE servers with the values
// from MATCH_CLIENT_WEBRTC_ICESERVERS[n]_URLS and so on.
// Servers with the index past the configured ones are appended.
func (w *Webrtc) AddIceServersEnv() error { return w.addIceServers(os.Environ()) }

func (w *Webrtc) addIceServers(env []string) error {
	servers := make(map[int]*IceServer)
	for _, kv := range env {
		m := iceEnv.FindStringSubmatch(kv)
		if m == nil {
			continue
		}
		i, err := strconv.Atoi(m[1])
		if err != nil {
			return fmt.Errorf("bad ICE server index in %v: %w", kv, err)
		}
		ice := servers[i]
		if ice == nil {
			ice = &IceServer{}
			servers[i] = ice
		}
		switch m[2] {
		case "URLS":
			ice.Urls = m[3]
		case "USERNAME":
			ice.Username = m[3]
		case "CREDENTIAL":
			ice.Credential = m[3]
		}
	}

	indices := make([]int, 0, len(servers))
	for i := range servers {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	for _, i := range indices {
		ice := servers[i]
		if ice.Urls == "" {
			continue
		}
		if i > len(w.IceServers)-1 {
			w.IceServers = append(w.IceServers, *ice)
		} else {
			w.IceServers[i] = *ice
		}
	}
	return nil
}

// Validate checks that every TURN server has both username and credential.
func (w *Webrtc) Validate() error {
	for _, ice := range w.IceServers {
		if ice.IsTurn() && (ice.Username == "" || ice.Credential == "") {
			return fmt.Errorf("TURN or TURNS servers should have both username and credential: %+v", ice)
		}
	}
	if w.HasPortRange() && w.IcePorts.Min > w.IcePorts.Max {
		return fmt.Errorf("bad ICE port range %v-%v", w.IcePorts.Min, w.IcePorts.Max)
	}
	return nil
}
