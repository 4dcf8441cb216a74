package webrtc

import (
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"github.com/randchat/matchclient/pkg/config"
	"github.com/randchat/matchclient/pkg/logger"
)

type ApiFactory struct {
	api   *webrtc.API
	conf  webrtc.Configuration
	stats *Stats
}

type (
	// CodecFun registers codecs in the media engine, the default codecs are used when nil.
	CodecFun  func(m *webrtc.MediaEngine) error
	ModApiFun func(m *webrtc.MediaEngine, i *interceptor.Registry, s *webrtc.SettingEngine)
)

func NewApiFactory(conf config.Webrtc, log *logger.Logger, codecs CodecFun, mod ModApiFun) (api *ApiFactory, err error) {
	m := &webrtc.MediaEngine{}
	if codecs == nil {
		codecs = func(m *webrtc.MediaEngine) error { return m.RegisterDefaultCodecs() }
	}
	if err = codecs(m); err != nil {
		return
	}
	i := &interceptor.Registry{}
	if !conf.DisableDefaultInterceptors {
		if err = webrtc.RegisterDefaultInterceptors(m, i); err != nil {
			return
		}
	}
	stats := &Stats{}
	i.Add(stats)

	customLogger := logger.NewPionLogger(log, conf.LogLevel)
	s := webrtc.SettingEngine{LoggerFactory: customLogger}
	if conf.HasPortRange() {
		if err = s.SetEphemeralUDPPortRange(conf.IcePorts.Min, conf.IcePorts.Max); err != nil {
			return
		}
	}
	if conf.HasIceIpMap() {
		s.SetNAT1To1IPs([]string{conf.IceIpMap}, webrtc.ICECandidateTypeHost)
		log.Info().Msgf("The NAT mapping is active for %v", conf.IceIpMap)
	}

	if mod != nil {
		mod(m, i, &s)
	}

	c := webrtc.Configuration{ICEServers: []webrtc.ICEServer{}}
	for _, server := range conf.IceServers {
		c.ICEServers = append(c.ICEServers, webrtc.ICEServer{
			URLs:       []string{server.Urls},
			Username:   server.Username,
			Credential: server.Credential,
		})
	}

	return &ApiFactory{
		api:   webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i), webrtc.WithSettingEngine(s)),
		conf:  c,
		stats: stats,
	}, err
}

func (a *ApiFactory) NewPeer() (PeerConnection, error) {
	pc, err := a.api.NewPeerConnection(a.conf)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

// Stats returns RTP counters of every connection made by the factory.
func (a *ApiFactory) Stats() *Stats { return a.stats }

// IceServers returns the configured ICE server URLs.
func (a *ApiFactory) IceServers() (urls []string) {
	for _, s := range a.conf.ICEServers {
		urls = append(urls, s.URLs...)
	}
	return
}
