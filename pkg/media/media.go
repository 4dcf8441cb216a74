// Package media acquires local camera and microphone tracks.
package media

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/randchat/matchclient/pkg/logger"
)

// CameraTimeout is how long we wait for the devices.
const CameraTimeout = 20 * time.Second

// Track is a local track which can be sent to a peer.
type Track interface {
	webrtc.TrackLocal
	Close() error
}

type Constraints struct {
	Width        int
	Height       int
	FrameRate    int
	VideoBitrate int
}

// Devices opens the camera and the microphone.
// Open may ignore the context, the caller bounds the wait anyway.
type Devices interface {
	Open(ctx context.Context, c Constraints) ([]Track, error)
}

type Acquirer struct {
	devices     Devices
	constraints Constraints
	timeout     time.Duration
	log         *logger.Logger
}

func NewAcquirer(devices Devices, c Constraints, log *logger.Logger) *Acquirer {
	return &Acquirer{devices: devices, constraints: c, timeout: CameraTimeout, log: log.Module("media")}
}

type result struct {
	tracks []Track
	err    error
}

// Acquire requests the devices and waits no longer than CameraTimeout.
// Tracks which arrive too late are released.
func (a *Acquirer) Acquire(ctx context.Context) (*Handle, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	out := make(chan result, 1)
	go func() {
		tracks, err := a.devices.Open(ctx, a.constraints)
		out <- result{tracks: tracks, err: err}
	}()

	select {
	case r := <-out:
		if r.err != nil {
			closeTracks(r.tracks)
			err := newError(r.err)
			a.log.Warn().Err(err).Msg("Media acquisition failed")
			return nil, err
		}
		if len(r.tracks) == 0 {
			return nil, newError(ErrNoDevice)
		}
		h := NewHandle(r.tracks)
		a.log.Info().Str("h", h.ID()).Msgf("Got %v tracks", len(r.tracks))
		return h, nil
	case <-ctx.Done():
		go func() {
			if r := <-out; r.err == nil {
				a.log.Debug().Msg("Releasing late media")
				closeTracks(r.tracks)
			}
		}()
		err := newError(ctx.Err())
		a.log.Warn().Err(err).Msg("Media acquisition aborted")
		return nil, err
	}
}

// Handle owns the acquired tracks until released.
type Handle struct {
	id       string
	tracks   []Track
	once     sync.Once
	mu       sync.Mutex
	released bool
}

func NewHandle(tracks []Track) *Handle {
	return &Handle{id: uuid.Must(uuid.NewV4()).String(), tracks: tracks}
}

func (h *Handle) ID() string      { return h.id }
func (h *Handle) Tracks() []Track { return h.tracks }
func (h *Handle) Released() bool  { h.mu.Lock(); defer h.mu.Unlock(); return h.released }

// Release stops every track once, subsequent calls do nothing.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.mu.Lock()
		h.released = true
		h.mu.Unlock()
		closeTracks(h.tracks)
	})
}

// Describe lists the track kinds, e.g. [video audio].
func (h *Handle) Describe() []string {
	kinds := make([]string, 0, len(h.tracks))
	for _, t := range h.tracks {
		kinds = append(kinds, t.Kind().String())
	}
	return kinds
}

func closeTracks(tracks []Track) {
	for _, t := range tracks {
		if t != nil {
			_ = t.Close()
		}
	}
}
