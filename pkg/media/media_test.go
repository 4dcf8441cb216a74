package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/randchat/matchclient/pkg/logger"
)

type fakeTrack struct {
	webrtc.TrackLocal
	kind   webrtc.RTPCodecType
	closed int32
}

func (f *fakeTrack) Kind() webrtc.RTPCodecType { return f.kind }
func (f *fakeTrack) Close() error              { atomic.AddInt32(&f.closed, 1); return nil }
func (f *fakeTrack) Closed() int               { return int(atomic.LoadInt32(&f.closed)) }

type fakeDevices struct {
	tracks []Track
	err    error
	wait   chan struct{}
}

func (d *fakeDevices) Open(_ context.Context, _ Constraints) ([]Track, error) {
	if d.wait != nil {
		<-d.wait
	}
	return d.tracks, d.err
}

func newTracks() (*fakeTrack, *fakeTrack) {
	return &fakeTrack{kind: webrtc.RTPCodecTypeVideo}, &fakeTrack{kind: webrtc.RTPCodecTypeAudio}
}

func TestAcquire(t *testing.T) {
	v, a := newTracks()
	acq := NewAcquirer(&fakeDevices{tracks: []Track{v, a}}, Constraints{Width: 1280, Height: 720}, logger.Default())

	h, err := acq.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(h.Tracks()) != 2 || h.ID() == "" {
		t.Errorf("bad handle %+v", h)
	}
	if kinds := fmt.Sprintf("%v", h.Describe()); kinds != "[video audio]" {
		t.Errorf("wrong kinds %v", kinds)
	}
}

func TestAcquireErrors(t *testing.T) {
	tests := []struct {
		err  error
		kind Kind
	}{
		{err: &fs.PathError{Op: "open", Path: "/dev/video0", Err: syscall.EACCES}, kind: PermissionDenied},
		{err: fmt.Errorf("open: %w", syscall.EBUSY), kind: DeviceBusy},
		{err: errors.New("failed to find the best driver that fits the constraints"), kind: DeviceNotFound},
		{err: ErrNoDevice, kind: DeviceNotFound},
		{err: fmt.Errorf("open: %w", fs.ErrNotExist), kind: DeviceNotFound},
		{err: errors.New("boom"), kind: Unknown},
	}
	for _, test := range tests {
		t.Run(test.kind.String(), func(t *testing.T) {
			v, _ := newTracks()
			acq := NewAcquirer(&fakeDevices{tracks: []Track{v}, err: test.err}, Constraints{}, logger.Default())
			h, err := acq.Acquire(context.Background())
			if h != nil {
				t.Errorf("unexpected handle")
			}
			var ae *AcquisitionError
			if !errors.As(err, &ae) {
				t.Fatalf("not an acquisition error: %v", err)
			}
			if ae.Kind != test.kind {
				t.Errorf("%v: got %v, want %v", test.err, ae.Kind, test.kind)
			}
			if v.Closed() != 1 {
				t.Errorf("partial tracks are not released")
			}
		})
	}
}

func TestAcquireNoTracks(t *testing.T) {
	acq := NewAcquirer(&fakeDevices{}, Constraints{}, logger.Default())
	_, err := acq.Acquire(context.Background())
	if Classify(err) != DeviceNotFound {
		t.Errorf("unexpected error %v", err)
	}
}

func TestAcquireTimeout(t *testing.T) {
	v, a := newTracks()
	devices := &fakeDevices{tracks: []Track{v, a}, wait: make(chan struct{})}
	acq := NewAcquirer(devices, Constraints{}, logger.Default())
	acq.timeout = 50 * time.Millisecond

	_, err := acq.Acquire(context.Background())
	if Classify(err) != Timeout {
		t.Fatalf("expected timeout, got %v", err)
	}

	close(devices.wait)
	deadline := time.Now().Add(time.Second)
	for v.Closed() == 0 || a.Closed() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("late tracks are not released")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAcquireAborted(t *testing.T) {
	devices := &fakeDevices{wait: make(chan struct{})}
	defer close(devices.wait)
	acq := NewAcquirer(devices, Constraints{}, logger.Default())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)
	_, err := acq.Acquire(ctx)
	if Classify(err) != RequestAborted {
		t.Errorf("expected abort, got %v", err)
	}
}

func TestReleaseOnce(t *testing.T) {
	v, a := newTracks()
	h := NewHandle([]Track{v, a})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() { defer wg.Done(); h.Release() }()
	}
	wg.Wait()

	if v.Closed() != 1 || a.Closed() != 1 {
		t.Errorf("tracks should be closed exactly once, %v %v", v.Closed(), a.Closed())
	}
	if !h.Released() {
		t.Errorf("should be released")
	}
}

func TestKindMessages(t *testing.T) {
	seen := map[string]Kind{}
	for _, k := range []Kind{Unknown, PermissionDenied, DeviceNotFound, DeviceBusy, RequestAborted, Timeout} {
		m := k.Message()
		if prev, ok := seen[m]; ok {
			t.Errorf("%v and %v share the message %q", prev, k, m)
		}
		seen[m] = k
	}
}
