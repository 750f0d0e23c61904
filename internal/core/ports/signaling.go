package ports

import (
	"context"

	"aircast/internal/core/domain"
)

// CancelFunc detaches a live subscription. It is safe to call more than
// once; calls after the first are no-ops.
type CancelFunc func()

// OfferHandler is invoked once per offer child added under a session.
type OfferHandler func(id domain.ListenerID, sdp string)

// RemovedHandler is invoked once per offer child removed under a session.
type RemovedHandler func(id domain.ListenerID)

// AnswerHandler is invoked when the answer for a specific listener arrives.
// The transport may redeliver; callers guard idempotence by phase.
type AnswerHandler func(sdp string)

// SignalingChannel abstracts the rendezvous transport used to exchange
// session descriptions. All writes are observable by every other party
// subscribed to the same session; this is the only inter-process
// communication mechanism between broadcaster and listeners.
//
// Ordering: for a given listener, an offer add always fires before its
// remove. There is no ordering guarantee between distinct listeners.
type SignalingChannel interface {
	// CreateSession creates an empty record for code. It fails with
	// domain.ErrSessionExists when another broadcaster already owns the
	// code, and domain.ErrTransportUnavailable when the backing store is
	// unreachable or unconfigured.
	CreateSession(ctx context.Context, code domain.SessionCode) error

	// ResolveSession reports whether a record for code currently exists.
	ResolveSession(ctx context.Context, code domain.SessionCode) (bool, error)

	// PublishOffer upserts the offer for one listener. SDP content is not
	// validated by the transport.
	PublishOffer(ctx context.Context, code domain.SessionCode, id domain.ListenerID, sdp string) error

	// PublishAnswer upserts the answer for one listener.
	PublishAnswer(ctx context.Context, code domain.SessionCode, id domain.ListenerID, sdp string) error

	// WatchOffers subscribes to offer add/remove events under code.
	// Offers already present at subscription time are replayed as adds.
	WatchOffers(ctx context.Context, code domain.SessionCode, onAdd OfferHandler, onRemove RemovedHandler) (CancelFunc, error)

	// WatchAnswer subscribes to the answer entry for one listener.
	WatchAnswer(ctx context.Context, code domain.SessionCode, id domain.ListenerID, onAnswer AnswerHandler) (CancelFunc, error)

	// RemoveOffer deletes one offer entry. Removing a non-existent entry
	// is a no-op, not an error.
	RemoveOffer(ctx context.Context, code domain.SessionCode, id domain.ListenerID) error

	// RemoveAnswer deletes one answer entry. No-op when absent.
	RemoveAnswer(ctx context.Context, code domain.SessionCode, id domain.ListenerID) error

	// RemoveSession deletes the whole record. No-op when absent.
	RemoveSession(ctx context.Context, code domain.SessionCode) error
}
