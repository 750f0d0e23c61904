package ports

import "context"

// ConnectivityState mirrors the ICE connection lifecycle of one peer
// connection as observed by the session layer.
type ConnectivityState string

const (
	ConnectivityConnecting   ConnectivityState = "connecting"
	ConnectivityConnected    ConnectivityState = "connected"
	ConnectivityDisconnected ConnectivityState = "disconnected"
	ConnectivityFailed       ConnectivityState = "failed"
	ConnectivityClosed       ConnectivityState = "closed"
)

// RemoteStream is an opaque handle to inbound audio, surfaced to the
// playback collaborator. Playback itself is outside the session core.
type RemoteStream interface {
	ID() string
}

// PeerConnection wraps one bidirectional media connection. The offer and
// answer producers block until local candidate gathering completes or the
// configured grace period elapses, whichever comes first: the channel
// exchanges one complete description at a time rather than trickling
// candidates.
type PeerConnection interface {
	// CreateOffer produces the local offer SDP (listener role, recv-only
	// audio) after the gathering grace period.
	CreateOffer(ctx context.Context) (string, error)

	// CreateAnswer applies the remote offer and produces the local answer
	// SDP (broadcaster role) after the gathering grace period.
	CreateAnswer(ctx context.Context, offerSDP string) (string, error)

	// AcceptAnswer applies the remote answer (listener role). Applying a
	// description twice in the same phase is rejected.
	AcceptAnswer(answerSDP string) error

	// OnRemoteStream registers the inbound-track callback (listener role).
	// It fires once, when the first remote audio track arrives.
	OnRemoteStream(fn func(RemoteStream))

	// OnConnectivityChange registers the connectivity observer.
	OnConnectivityChange(fn func(ConnectivityState))

	Close() error
}

// PeerFactory builds role-specific peer connections. The broadcaster
// variant has the local audio source attached before negotiation; the
// listener variant is configured receive-only.
type PeerFactory interface {
	NewBroadcastConnection(ctx context.Context) (PeerConnection, error)
	NewListenConnection(ctx context.Context) (PeerConnection, error)
}
