package session

import (
	"context"
	"sync"

	"aircast/internal/core/ports"
)

// fakePeer is a scriptable ports.PeerConnection for driving the session
// state machines without a media stack.
type fakePeer struct {
	mu       sync.Mutex
	offerSDP string
	accepted []string
	closed   bool
	onRemote func(ports.RemoteStream)
	onState  func(ports.ConnectivityState)

	offerErr  error
	answerErr error
	acceptErr error

	// answerGate, when set, blocks CreateAnswer until released. Used to
	// widen the window between offer arrival and answer publication.
	answerGate chan struct{}
}

func (p *fakePeer) CreateOffer(ctx context.Context) (string, error) {
	if p.offerErr != nil {
		return "", p.offerErr
	}
	return "offer-sdp", nil
}

func (p *fakePeer) CreateAnswer(ctx context.Context, offerSDP string) (string, error) {
	if p.answerGate != nil {
		<-p.answerGate
	}
	if p.answerErr != nil {
		return "", p.answerErr
	}
	p.mu.Lock()
	p.offerSDP = offerSDP
	p.mu.Unlock()
	return "answer-sdp", nil
}

func (p *fakePeer) AcceptAnswer(answerSDP string) error {
	if p.acceptErr != nil {
		return p.acceptErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accepted = append(p.accepted, answerSDP)
	return nil
}

func (p *fakePeer) OnRemoteStream(fn func(ports.RemoteStream)) {
	p.mu.Lock()
	p.onRemote = fn
	p.mu.Unlock()
}

func (p *fakePeer) OnConnectivityChange(fn func(ports.ConnectivityState)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) receivedOffer() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offerSDP
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) acceptedAnswers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.accepted...)
}

func (p *fakePeer) fireState(state ports.ConnectivityState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

func (p *fakePeer) fireRemote(stream ports.RemoteStream) {
	p.mu.Lock()
	fn := p.onRemote
	p.mu.Unlock()
	if fn != nil {
		fn(stream)
	}
}

type fakeStream struct{ id string }

func (s fakeStream) ID() string { return s.id }

// fakeFactory hands out fakePeers and records them in creation order.
type fakeFactory struct {
	mu    sync.Mutex
	peers []*fakePeer

	// nextErr fails the next connection build once.
	nextErr error
	// gate is installed on every created peer.
	gate chan struct{}
	// acceptErr is installed on every created peer.
	acceptErr error
}

func (f *fakeFactory) build() (ports.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nextErr != nil {
		err := f.nextErr
		f.nextErr = nil
		return nil, err
	}
	p := &fakePeer{answerGate: f.gate, acceptErr: f.acceptErr}
	f.peers = append(f.peers, p)
	return p, nil
}

func (f *fakeFactory) NewBroadcastConnection(ctx context.Context) (ports.PeerConnection, error) {
	return f.build()
}

func (f *fakeFactory) NewListenConnection(ctx context.Context) (ports.PeerConnection, error) {
	return f.build()
}

func (f *fakeFactory) peer(i int) *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.peers) {
		return nil
	}
	return f.peers[i]
}

func (f *fakeFactory) peerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

var (
	_ ports.PeerFactory    = (*fakeFactory)(nil)
	_ ports.PeerConnection = (*fakePeer)(nil)
)
