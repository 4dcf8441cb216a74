package recorder

import (
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/randchat/matchclient/pkg/logger"
	webrtcx "github.com/randchat/matchclient/pkg/webrtc"
)

type fakeTrack struct {
	id      string
	kind    webrtc.RTPCodecType
	codec   webrtc.RTPCodecParameters
	packets []*rtp.Packet
}

func (f *fakeTrack) ID() string                       { return f.id }
func (f *fakeTrack) Kind() webrtc.RTPCodecType        { return f.kind }
func (f *fakeTrack) Codec() webrtc.RTPCodecParameters { return f.codec }
func (f *fakeTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	if len(f.packets) == 0 {
		return nil, nil, io.EOF
	}
	p := f.packets[0]
	f.packets = f.packets[1:]
	return p, nil, nil
}

func vp8Track() *fakeTrack {
	var packets []*rtp.Packet
	for i := 0; i < 5; i++ {
		packets = append(packets, &rtp.Packet{
			Header:  rtp.Header{Version: 2, SequenceNumber: uint16(i), Timestamp: uint32(i * 3000), Marker: true},
			Payload: []byte{0x10, 0x00, 0x9d, 0x01, 0x2a, 0x80, 0x02, 0xe0, 0x01, 0x00},
		})
	}
	return &fakeTrack{
		id:      "video-1",
		kind:    webrtc.RTPCodecTypeVideo,
		codec:   webrtc.RTPCodecParameters{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}},
		packets: packets,
	}
}

func TestRecording(t *testing.T) {
	dir := t.TempDir()
	rec, err := NewRecording(Options{Dir: dir, Name: "%room%-%peer%"}, logger.Default())
	if err != nil {
		t.Fatal(err)
	}

	rec.Attach(webrtcx.RemoteStream{ID: "s1", Room: "r1", Peer: "Ann", Track: vp8Track()})
	rec.Attach(webrtcx.RemoteStream{ID: "s1", Room: "r1", Peer: "Ann", Track: &fakeTrack{
		id:    "data",
		codec: webrtc.RTPCodecParameters{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: "video/H265"}},
	}})
	rec.Wait()
	rec.Clear()

	files, err := os.ReadDir(filepath.Join(dir, "r1-Ann"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Name() != "video-video-1.ivf" {
		t.Fatalf("unexpected files %v", files)
	}
	info, _ := files[0].Info()
	// the IVF file header is 32 bytes
	if info.Size() <= 32 {
		t.Errorf("no frames were written, size %v", info.Size())
	}
}

func TestName(t *testing.T) {
	tests := []struct {
		name string
		want *regexp.Regexp
	}{
		{name: "%date:20060102%-%peer%", want: regexp.MustCompile(`^\d{8}-Ann_Bob$`)},
		{name: "%room%_%rand:5%", want: regexp.MustCompile(`^r_1_[a-zA-Z]{5}$`)},
		{name: "plain", want: regexp.MustCompile(`^plain$`)},
	}
	for _, test := range tests {
		if got := parseName(test.name, "r/1", "Ann/Bob"); !test.want.MatchString(got) {
			t.Errorf("%v -> %v", test.name, got)
		}
	}
	if strings.ContainsAny(sanitize("a/b\\c"), "/\\") {
		t.Errorf("separators are kept")
	}
}
