package webrtc

import (
	"fmt"
	"net"
	"sync"

	"aircast/internal/core/domain"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// CaptureConstraints carries the capture hints the collaborator applies on
// its side of the boundary. They are forwarded, not enforced here.
type CaptureConstraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// AudioSource supplies the broadcaster's local audio track.
type AudioSource interface {
	Track() *webrtc.TrackLocalStaticRTP
	Close() error
}

// RTPSource bridges an external capture process to the local track: the
// capture collaborator (microphone pipeline) sends opus RTP packets to a
// loopback UDP port and this source forwards them onto the track. Failing
// to bind the port is the Go equivalent of a missing capture device.
type RTPSource struct {
	track *webrtc.TrackLocalStaticRTP
	conn  *net.UDPConn

	logger *zap.SugaredLogger
	once   sync.Once
	done   chan struct{}
}

// NewRTPSource binds listenAddr and starts forwarding inbound packets.
func NewRTPSource(listenAddr string, constraints CaptureConstraints, logger *zap.SugaredLogger) (*RTPSource, error) {
	addr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
	}

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"aircast-mic",
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
	}

	logger.Infow("audio capture source ready",
		"listen_addr", conn.LocalAddr().String(),
		"echo_cancellation", constraints.EchoCancellation,
		"noise_suppression", constraints.NoiseSuppression,
		"auto_gain_control", constraints.AutoGainControl,
	)

	s := &RTPSource{
		track:  track,
		conn:   conn,
		logger: logger,
		done:   make(chan struct{}),
	}
	go s.forward()
	return s, nil
}

func (s *RTPSource) Track() *webrtc.TrackLocalStaticRTP {
	return s.track
}

func (s *RTPSource) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

func (s *RTPSource) forward() {
	buf := make([]byte, 1500) // MTU size
	pkt := &rtp.Packet{}

	for {
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Warnw("error reading capture packet", "error", err)
			}
			return
		}

		if err := pkt.Unmarshal(buf[:n]); err != nil {
			s.logger.Debugw("discarding malformed capture packet", "error", err)
			continue
		}

		if err := s.track.WriteRTP(pkt); err != nil {
			// Write fails transiently while no peer is bound; keep going.
			s.logger.Debugw("error writing packet to local track", "error", err)
		}
	}
}

var _ AudioSource = (*RTPSource)(nil)
