package main

import (
	"context"
	"errors"
	"os"
	"time"

	pion "github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/randchat/matchclient/pkg/com"
	"github.com/randchat/matchclient/pkg/config"
	"github.com/randchat/matchclient/pkg/logger"
	"github.com/randchat/matchclient/pkg/media"
	"github.com/randchat/matchclient/pkg/media/devices"
	"github.com/randchat/matchclient/pkg/monitoring"
	"github.com/randchat/matchclient/pkg/network/websocket"
	xos "github.com/randchat/matchclient/pkg/os"
	"github.com/randchat/matchclient/pkg/recorder"
	"github.com/randchat/matchclient/pkg/service"
	"github.com/randchat/matchclient/pkg/session"
	"github.com/randchat/matchclient/pkg/ui"
	"github.com/randchat/matchclient/pkg/webrtc"
	"github.com/spf13/pflag"
)

var Version = "?"

const shutdownTimeout = 5 * time.Second

func main() {
	conf, err := config.ParseArgs(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		logger.Default().Fatal().Err(err).Msg("config")
	}

	log := logger.NewConsole(conf.Client.Debug, "mc", conf.Client.NoColor)
	log.Info().Msgf("version %s", Version)
	if log.GetLevel() < logger.InfoLevel {
		log.Debug().Msgf("config: %+v", conf)
	}

	lock, err := xos.NewFileLock("")
	if err != nil {
		log.Fatal().Err(err).Msg("lock")
	}
	if err = lock.TryLock(); err != nil {
		log.Fatal().Err(err).Msgf("Another client owns the camera, see %v", lock.Path())
	}
	defer func() { _ = lock.Unlock() }()

	constraints := media.Constraints{
		Width:        conf.Media.Width,
		Height:       conf.Media.Height,
		FrameRate:    conf.Media.FrameRate,
		VideoBitrate: conf.Media.VideoBitrate,
	}
	devs, err := devices.New(constraints, log)
	if err != nil {
		log.Fatal().Err(err).Msg("devices")
	}
	factory, err := webrtc.NewApiFactory(conf.Webrtc, log, func(m *pion.MediaEngine) error {
		devs.Populate(m)
		return nil
	}, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("WebRTC API")
	}
	log.Debug().Msgf("ICE servers: %v", factory.IceServers())

	client := com.NewClient(conf.SignalURL(), websocket.Options{Origin: conf.Signal.Origin, PingPong: conf.Signal.PingPong}, log)
	client.OnConnection(func(connected bool) {
		if !connected {
			log.Warn().Msg("Lost the server, reconnecting")
		}
	})

	console := ui.NewConsole(os.Stdout)
	opts := []session.Option{
		session.WithRenderer(console),
		session.WithPreview(console),
		session.WithLogger(log),
	}

	services := service.Group{}
	services.Add(client)

	var rec *recorder.Recording
	if conf.Recording.Enabled {
		rec, err = recorder.NewRecording(recorder.Options{Dir: conf.Recording.Folder, Name: conf.Recording.Name}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("recording")
		}
		opts = append(opts, session.WithSink(rec))
		log.Info().Msgf("Recording into %v", rec.Dir())
	}

	if conf.Monitoring.IsEnabled() {
		metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer, factory.Stats())
		mon, err := monitoring.New(conf.Monitoring, prometheus.DefaultGatherer, log)
		if err != nil {
			log.Fatal().Err(err).Msg("monitoring")
		}
		services.Add(mon)
		opts = append(opts, session.WithMetrics(metrics))
	}

	services.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := services.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("service shutdown errors")
		}
	}()

	if !client.WaitReady(session.ChannelTimeout) {
		log.Error().Msgf("No connection to %v", client)
		return
	}

	ctrl := session.New(client, media.NewAcquirer(devs, constraints, log), factory, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctrl.Run(ctx)

	if conf.Client.AutoStart {
		ctrl.Start()
	}
	go func() {
		quit, err := console.ReadCommands(os.Stdin, ctrl)
		if err != nil {
			log.Error().Err(err).Msg("stdin")
		}
		if !quit {
			log.Debug().Msg("No more commands")
		}
	}()

	select {
	case <-xos.ExpectTermination():
		ctrl.Close()
	case <-ctrl.Done():
	}
	select {
	case <-ctrl.Done():
	case <-time.After(shutdownTimeout):
		log.Warn().Msg("Session didn't stop in time")
	}
	if rec != nil {
		rec.Wait()
	}
}
