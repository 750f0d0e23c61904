package webrtc

import (
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// InboundStats aggregates RTP/RTCP counters for one inbound audio stream.
// The playback collaborator polls Snapshot for its quality display.
type InboundStats struct {
	mu           sync.Mutex
	packets      uint64
	bytes        uint64
	lastSequence uint16
	fractionLost float64
	jitter       time.Duration

	logger *zap.SugaredLogger
}

// StatsSnapshot is a point-in-time copy of the inbound counters.
type StatsSnapshot struct {
	Packets      uint64
	Bytes        uint64
	FractionLost float64
	Jitter       time.Duration
}

func newInboundStats(logger *zap.SugaredLogger) *InboundStats {
	return &InboundStats{logger: logger}
}

// Snapshot returns the current counters.
func (s *InboundStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsSnapshot{
		Packets:      s.packets,
		Bytes:        s.bytes,
		FractionLost: s.fractionLost,
		Jitter:       s.jitter,
	}
}

func (s *InboundStats) readRTP(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	pkt := &rtp.Packet{}

	for {
		n, _, err := track.Read(buf)
		if err != nil {
			return
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}

		s.mu.Lock()
		s.packets++
		s.bytes += uint64(n)
		s.lastSequence = pkt.SequenceNumber
		s.mu.Unlock()
	}
}

func (s *InboundStats) readRTCP(receiver *webrtc.RTPReceiver) {
	for {
		packets, _, err := receiver.ReadRTCP()
		if err != nil {
			return
		}

		for _, packet := range packets {
			report, ok := packet.(*rtcp.ReceiverReport)
			if !ok {
				continue
			}
			for _, block := range report.Reports {
				s.mu.Lock()
				s.fractionLost = float64(block.FractionLost) / 255.0
				s.jitter = time.Duration(block.Jitter) * time.Millisecond
				s.mu.Unlock()

				s.logger.Debugw("inbound receiver report",
					"fraction_lost", float64(block.FractionLost)/255.0,
					"jitter", block.Jitter,
				)
			}
		}
	}
}
