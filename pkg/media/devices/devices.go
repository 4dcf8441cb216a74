// Package devices opens the OS camera and microphone with pion/mediadevices.
package devices

import (
	"context"
	"fmt"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"     // registers camera drivers
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // registers microphone drivers
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v3"
	"github.com/randchat/matchclient/pkg/logger"
	"github.com/randchat/matchclient/pkg/media"
)

const (
	keyFrameInterval = 60
	audioBitrate     = 32_000
)

// Devices encodes the camera with VP8 and the microphone with Opus.
type Devices struct {
	selector *mediadevices.CodecSelector
	log      *logger.Logger
}

func New(c media.Constraints, log *logger.Logger) (*Devices, error) {
	vp8, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	if c.VideoBitrate > 0 {
		vp8.BitRate = c.VideoBitrate
	}
	vp8.KeyFrameInterval = keyFrameInterval

	op, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}
	op.BitRate = audioBitrate

	return &Devices{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vp8),
			mediadevices.WithAudioEncoders(&op),
		),
		log: log.Module("devices"),
	}, nil
}

// Populate registers the device codecs in the media engine,
// so the peer connections could negotiate them.
func (d *Devices) Populate(m *webrtc.MediaEngine) { d.selector.Populate(m) }

func (d *Devices) Open(_ context.Context, c media.Constraints) ([]media.Track, error) {
	for _, info := range mediadevices.EnumerateDevices() {
		d.log.Debug().Msgf("device %v %v (%v)", info.Kind, info.Label, info.DeviceID)
	}
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(mc *mediadevices.MediaTrackConstraints) {
			mc.Width = prop.Int(c.Width)
			mc.Height = prop.Int(c.Height)
			if c.FrameRate > 0 {
				mc.FrameRate = prop.Float(c.FrameRate)
			}
		},
		Audio: func(mc *mediadevices.MediaTrackConstraints) {},
		Codec: d.selector,
	})
	if err != nil {
		return nil, err
	}
	var tracks []media.Track
	for _, t := range stream.GetTracks() {
		tracks = append(tracks, t)
	}
	if len(tracks) == 0 {
		return nil, media.ErrNoDevice
	}
	return tracks, nil
}
