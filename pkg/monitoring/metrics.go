package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "matchclient"

// TrafficStats is a source of RTP counters.
type TrafficStats interface {
	SentPackets() uint64
	SentBytes() uint64
	RecvPackets() uint64
	RecvBytes() uint64
}

// Metrics holds the client counters.
// A nil *Metrics is valid and does nothing.
type Metrics struct {
	sessions        prometheus.Counter
	matches         *prometheus.CounterVec
	established     prometheus.Counter
	losses          *prometheus.CounterVec
	mediaFailures   *prometheus.CounterVec
	searchTimeouts  prometheus.Counter
	timeToConnect   prometheus.Histogram
	negotiationErrs *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer, stats TrafficStats) *Metrics {
	m := &Metrics{
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_started_total",
			Help: "Number of started chat sessions.",
		}),
		matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "matches_total",
			Help: "Number of confirmed matches by the local role.",
		}, []string{"role"}),
		established: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "calls_established_total",
			Help: "Number of calls which reached the connected state.",
		}),
		losses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "peer_losses_total",
			Help: "Number of lost partners by the reason.",
		}, []string{"reason"}),
		mediaFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "media_failures_total",
			Help: "Number of failed camera/microphone requests by the kind.",
		}, []string{"kind"}),
		searchTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "search_timeouts_total",
			Help: "Number of searches with no match.",
		}),
		timeToConnect: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "time_to_connect_seconds",
			Help:    "Time from a confirmed match to the connected call.",
			Buckets: []float64{.25, .5, 1, 2, 4, 8, 16},
		}),
		negotiationErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "negotiation_errors_total",
			Help: "Number of failed SDP negotiation steps.",
		}, []string{"step"}),
	}
	reg.MustRegister(m.sessions, m.matches, m.established, m.losses, m.mediaFailures,
		m.searchTimeouts, m.timeToConnect, m.negotiationErrs)

	if stats != nil {
		traffic := func(name, help string, fn func() uint64) prometheus.Collector {
			return prometheus.NewCounterFunc(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help},
				func() float64 { return float64(fn()) })
		}
		reg.MustRegister(
			traffic("rtp_sent_packets_total", "Sent RTP packets.", stats.SentPackets),
			traffic("rtp_sent_bytes_total", "Sent RTP bytes.", stats.SentBytes),
			traffic("rtp_received_packets_total", "Received RTP packets.", stats.RecvPackets),
			traffic("rtp_received_bytes_total", "Received RTP bytes.", stats.RecvBytes),
		)
	}
	return m
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

func (m *Metrics) Matched(role string) {
	if m == nil {
		return
	}
	m.matches.WithLabelValues(role).Inc()
}

// Established records a connected call and the time it took since the match.
func (m *Metrics) Established(since time.Time) {
	if m == nil {
		return
	}
	m.established.Inc()
	if !since.IsZero() {
		m.timeToConnect.Observe(time.Since(since).Seconds())
	}
}

func (m *Metrics) PeerLost(reason string) {
	if m == nil {
		return
	}
	m.losses.WithLabelValues(reason).Inc()
}

func (m *Metrics) MediaFailed(kind string) {
	if m == nil {
		return
	}
	m.mediaFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) SearchTimedOut() {
	if m == nil {
		return
	}
	m.searchTimeouts.Inc()
}

func (m *Metrics) NegotiationFailed(step string) {
	if m == nil {
		return
	}
	m.negotiationErrs.WithLabelValues(step).Inc()
}
