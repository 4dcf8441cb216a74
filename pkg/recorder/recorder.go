// Package recorder saves the partner's media into files.
package recorder

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v3/pkg/media/oggwriter"
	"github.com/randchat/matchclient/pkg/logger"
	webrtcx "github.com/randchat/matchclient/pkg/webrtc"
)

// Recording writes every attached remote track of a call into its own folder.
// VP8 goes into IVF files, Opus into Ogg.
type Recording struct {
	sync.Mutex

	dir     string
	saveDir string
	opts    Options
	wg      sync.WaitGroup
	log     *logger.Logger
}

type Options struct {
	Dir  string
	Name string
}

type writer interface {
	WriteRTP(packet *rtp.Packet) error
	Close() error
}

// naming regexp
var (
	reDate = regexp.MustCompile(`%date:(.*?)%`)
	reRoom = regexp.MustCompile(`%room%`)
	rePeer = regexp.MustCompile(`%peer%`)
	reRand = regexp.MustCompile(`%rand:(\d+)%`)
)

const defaultName = "%date:20060102-150405%-%rand:4%"

func NewRecording(opts Options, log *logger.Logger) (*Recording, error) {
	savePath, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, err
	}
	if err = os.MkdirAll(savePath, 0755); err != nil {
		return nil, err
	}
	if opts.Name == "" {
		opts.Name = defaultName
	}
	return &Recording{dir: savePath, opts: opts, log: log.Module("rec")}, nil
}

// Attach starts writing the stream until its track ends.
func (r *Recording) Attach(s webrtcx.RemoteStream) {
	r.Lock()
	defer r.Unlock()

	if r.saveDir == "" {
		r.saveDir = filepath.Join(r.dir, parseName(r.opts.Name, s.Room, s.Peer))
		if err := os.MkdirAll(r.saveDir, 0755); err != nil {
			r.log.Error().Err(err).Msg("Couldn't make recording folder")
			r.saveDir = ""
			return
		}
		r.log.Info().Msgf("Recording into [%v]", r.saveDir)
	}

	codec := s.Track.Codec()
	name := fmt.Sprintf("%v-%v", s.Track.Kind(), sanitize(s.Track.ID()))
	w, err := newWriter(filepath.Join(r.saveDir, name), codec)
	if err != nil {
		r.log.Warn().Err(err).Msgf("Skip [%v] track", codec.MimeType)
		return
	}
	r.wg.Add(1)
	go r.write(s.Track, w)
}

func (r *Recording) write(track webrtcx.RemoteTrack, w writer) {
	defer r.wg.Done()
	n := 0
	for {
		packet, _, err := track.ReadRTP()
		if err != nil {
			break
		}
		if err = w.WriteRTP(packet); err != nil {
			r.log.Debug().Err(err).Msg("Bad packet")
			continue
		}
		n++
	}
	if err := w.Close(); err != nil {
		r.log.Error().Err(err).Msg("Couldn't close recording")
	}
	r.log.Debug().Msgf("Track [%v] is saved, %v packets", track.ID(), n)
}

// Clear ends the current call folder, next Attach starts a new one.
func (r *Recording) Clear() {
	r.Lock()
	r.saveDir = ""
	r.Unlock()
}

// Wait blocks until all track writers are done.
func (r *Recording) Wait() { r.wg.Wait() }

func (r *Recording) Dir() string { return r.dir }

func newWriter(path string, codec webrtc.RTPCodecParameters) (writer, error) {
	switch {
	case strings.EqualFold(codec.MimeType, webrtc.MimeTypeVP8):
		return ivfwriter.New(path + ".ivf")
	case strings.EqualFold(codec.MimeType, webrtc.MimeTypeOpus):
		channels := codec.Channels
		if channels == 0 {
			channels = 2
		}
		rate := codec.ClockRate
		if rate == 0 {
			rate = 48000
		}
		return oggwriter.New(path+".ogg", rate, channels)
	}
	return nil, fmt.Errorf("unsupported codec %q", codec.MimeType)
}

func parseName(name, room, peer string) (out string) {
	if d := reDate.FindStringSubmatch(name); d != nil {
		out = reDate.ReplaceAllString(name, time.Now().Format(d[1]))
	} else {
		out = name
	}
	if rnd := reRand.FindStringSubmatch(out); rnd != nil {
		out = reRand.ReplaceAllString(out, random(rnd[1]))
	}
	out = reRoom.ReplaceAllString(out, sanitize(room))
	out = rePeer.ReplaceAllString(out, sanitize(peer))
	return
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator || r < ' ' {
			return '_'
		}
		return r
	}, s)
}

const letterBytes = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

func random(num string) string {
	n, err := strconv.Atoi(num)
	if err != nil {
		return ""
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = letterBytes[rand.Int63()%int64(len(letterBytes))]
	}
	return string(b)
}
