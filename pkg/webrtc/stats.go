package webrtc

import (
	"sync/atomic"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
)

// Stats is an interceptor which counts RTP traffic.
type Stats struct {
	interceptor.NoOp

	sentPackets uint64
	sentBytes   uint64
	recvPackets uint64
	recvBytes   uint64
}

func (s *Stats) NewInterceptor(_ string) (interceptor.Interceptor, error) { return s, nil }

// BindLocalStream counts outgoing packets.
func (s *Stats) BindLocalStream(_ *interceptor.StreamInfo, writer interceptor.RTPWriter) interceptor.RTPWriter {
	return interceptor.RTPWriterFunc(func(header *rtp.Header, payload []byte, attributes interceptor.Attributes) (int, error) {
		n, err := writer.Write(header, payload, attributes)
		if err == nil {
			atomic.AddUint64(&s.sentPackets, 1)
			atomic.AddUint64(&s.sentBytes, uint64(n))
		}
		return n, err
	})
}

// BindRemoteStream counts incoming packets.
func (s *Stats) BindRemoteStream(_ *interceptor.StreamInfo, reader interceptor.RTPReader) interceptor.RTPReader {
	return interceptor.RTPReaderFunc(func(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
		n, attr, err := reader.Read(b, a)
		if err == nil {
			atomic.AddUint64(&s.recvPackets, 1)
			atomic.AddUint64(&s.recvBytes, uint64(n))
		}
		return n, attr, err
	})
}

func (s *Stats) SentPackets() uint64 { return atomic.LoadUint64(&s.sentPackets) }
func (s *Stats) SentBytes() uint64   { return atomic.LoadUint64(&s.sentBytes) }
func (s *Stats) RecvPackets() uint64 { return atomic.LoadUint64(&s.recvPackets) }
func (s *Stats) RecvBytes() uint64   { return atomic.LoadUint64(&s.recvBytes) }
