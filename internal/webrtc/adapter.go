// Package webrtc adapts pion peer connections to the session core. The
// signaling protocol exchanges one complete description per side, so both
// description producers hold the SDP back until local candidate gathering
// finishes or the configured grace period runs out.
package webrtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"aircast/internal/core/domain"
	"aircast/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// ICEServer mirrors webrtc.ICEServer at the config boundary.
type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

// Config holds negotiation settings shared by every connection the factory
// builds.
type Config struct {
	ICEServers       []ICEServer
	GatheringTimeout time.Duration
}

// Factory builds role-specific peer connections over one pion API instance.
type Factory struct {
	cfg    Config
	source AudioSource
	logger *zap.SugaredLogger
}

// NewFactory creates a connection factory. source may be nil for
// listener-only processes.
func NewFactory(cfg Config, source AudioSource, logger *zap.SugaredLogger) *Factory {
	if cfg.GatheringTimeout <= 0 {
		cfg.GatheringTimeout = time.Second
	}
	return &Factory{cfg: cfg, source: source, logger: logger}
}

func (f *Factory) NewBroadcastConnection(ctx context.Context) (ports.PeerConnection, error) {
	if f.source == nil {
		return nil, domain.ErrDeviceUnavailable
	}

	pc, err := f.newPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNegotiationFailed, err)
	}

	sender, err := pc.AddTrack(f.source.Track())
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("%w: add local track: %v", domain.ErrNegotiationFailed, err)
	}

	// Draining the sender keeps the interceptor pipeline processing RTCP.
	go drainSender(sender)

	return f.wrap(pc, "broadcaster"), nil
}

func (f *Factory) NewListenConnection(ctx context.Context) (ports.PeerConnection, error) {
	pc, err := f.newPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNegotiationFailed, err)
	}

	if _, err := pc.AddTransceiverFromKind(
		webrtc.RTPCodecTypeAudio,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly},
	); err != nil {
		pc.Close()
		return nil, fmt.Errorf("%w: add recvonly transceiver: %v", domain.ErrNegotiationFailed, err)
	}

	conn := f.wrap(pc, "listener")
	pc.OnTrack(conn.handleRemoteTrack)
	return conn, nil
}

func (f *Factory) newPeerConnection() (*webrtc.PeerConnection, error) {
	servers := make([]webrtc.ICEServer, 0, len(f.cfg.ICEServers))
	for _, s := range f.cfg.ICEServers {
		server := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
		}
		servers = append(servers, server)
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(webrtc.SettingEngine{}))
	return api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
}

func (f *Factory) wrap(pc *webrtc.PeerConnection, role string) *peerConn {
	conn := &peerConn{
		pc:            pc,
		gatherTimeout: f.cfg.GatheringTimeout,
		role:          role,
		logger:        f.logger,
	}

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		f.logger.Infow("ice connection state changed",
			"role", role,
			"state", state.String(),
		)
		if mapped, ok := mapICEState(state); ok {
			conn.notifyState(mapped)
		}
	})

	return conn
}

func mapICEState(state webrtc.ICEConnectionState) (ports.ConnectivityState, bool) {
	switch state {
	case webrtc.ICEConnectionStateChecking:
		return ports.ConnectivityConnecting, true
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		return ports.ConnectivityConnected, true
	case webrtc.ICEConnectionStateDisconnected:
		return ports.ConnectivityDisconnected, true
	case webrtc.ICEConnectionStateFailed:
		return ports.ConnectivityFailed, true
	case webrtc.ICEConnectionStateClosed:
		return ports.ConnectivityClosed, true
	}
	return "", false
}

type peerConn struct {
	pc            *webrtc.PeerConnection
	gatherTimeout time.Duration
	role          string
	logger        *zap.SugaredLogger

	mu         sync.Mutex
	onRemote   func(ports.RemoteStream)
	onState    func(ports.ConnectivityState)
	remoteOnce sync.Once
	closeOnce  sync.Once
}

func (c *peerConn) CreateOffer(ctx context.Context) (string, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("%w: create offer: %v", domain.ErrNegotiationFailed, err)
	}

	gathered := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("%w: set local description: %v", domain.ErrNegotiationFailed, err)
	}
	if err := c.waitForGathering(ctx, gathered); err != nil {
		return "", err
	}
	return c.pc.LocalDescription().SDP, nil
}

func (c *peerConn) CreateAnswer(ctx context.Context, offerSDP string) (string, error) {
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := c.pc.SetRemoteDescription(remote); err != nil {
		return "", fmt.Errorf("%w: set remote offer: %v", domain.ErrNegotiationFailed, err)
	}

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("%w: create answer: %v", domain.ErrNegotiationFailed, err)
	}

	gathered := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("%w: set local description: %v", domain.ErrNegotiationFailed, err)
	}
	if err := c.waitForGathering(ctx, gathered); err != nil {
		return "", err
	}
	return c.pc.LocalDescription().SDP, nil
}

func (c *peerConn) AcceptAnswer(answerSDP string) error {
	// The underlying stack misbehaves on repeated remote description sets;
	// only the offer-sent phase may apply an answer.
	if c.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		return fmt.Errorf("%w: answer already applied or out of order", domain.ErrNegotiationFailed)
	}
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}
	if err := c.pc.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("%w: set remote answer: %v", domain.ErrNegotiationFailed, err)
	}
	return nil
}

func (c *peerConn) OnRemoteStream(fn func(ports.RemoteStream)) {
	c.mu.Lock()
	c.onRemote = fn
	c.mu.Unlock()
}

func (c *peerConn) OnConnectivityChange(fn func(ports.ConnectivityState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *peerConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.pc.Close()
	})
	return err
}

// waitForGathering blocks until gathering completes or the grace period
// elapses. A timeout is not an error: the published description simply
// carries the candidates collected so far.
func (c *peerConn) waitForGathering(ctx context.Context, gathered <-chan struct{}) error {
	timer := time.NewTimer(c.gatherTimeout)
	defer timer.Stop()

	select {
	case <-gathered:
		return nil
	case <-timer.C:
		c.logger.Warnw("ice gathering grace period elapsed before completion",
			"role", c.role,
			"timeout", c.gatherTimeout,
		)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", domain.ErrNegotiationFailed, ctx.Err())
	}
}

func (c *peerConn) handleRemoteTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	c.logger.Infow("remote audio track arrived",
		"track_id", track.ID(),
		"codec", track.Codec().MimeType,
	)

	stats := newInboundStats(c.logger)
	go stats.readRTP(track)
	go stats.readRTCP(receiver)

	c.remoteOnce.Do(func() {
		c.mu.Lock()
		fn := c.onRemote
		c.mu.Unlock()
		if fn != nil {
			fn(&remoteStream{track: track, stats: stats})
		}
	})
}

func (c *peerConn) notifyState(state ports.ConnectivityState) {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

// remoteStream hands the inbound track to the playback collaborator.
type remoteStream struct {
	track *webrtc.TrackRemote
	stats *InboundStats
}

func (r *remoteStream) ID() string { return r.track.ID() }

// Stats exposes the live inbound counters for this stream.
func (r *remoteStream) Stats() *InboundStats { return r.stats }

func drainSender(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

var _ ports.PeerConnection = (*peerConn)(nil)
