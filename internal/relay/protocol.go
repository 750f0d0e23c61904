// Package relay implements the hosted rendezvous: a WebSocket service that
// brokers session records between broadcasters and listeners that cannot
// share a process-local channel.
package relay

// Client-to-server message types. Every request carries a req_id that the
// server echoes on the matching ack.
const (
	TypeCreate        = "create"
	TypeResolve       = "resolve"
	TypePublishOffer  = "publish_offer"
	TypePublishAnswer = "publish_answer"
	TypeWatchOffers   = "watch_offers"
	TypeUnwatchOffers = "unwatch_offers"
	TypeWatchAnswer   = "watch_answer"
	TypeUnwatchAnswer = "unwatch_answer"
	TypeRemoveOffer   = "remove_offer"
	TypeRemoveAnswer  = "remove_answer"
	TypeRemoveSession = "remove_session"
)

// Server-to-client message types. Events are pushed outside the
// request/ack cycle to connections holding a matching watch.
const (
	TypeAck          = "ack"
	TypeOfferAdded   = "offer_added"
	TypeOfferRemoved = "offer_removed"
	TypeAnswerAdded  = "answer_added"
)

// Error codes carried on nacks.
const (
	ErrCodeSessionExists = "session_exists"
	ErrCodeInvalidCode   = "invalid_code"
	ErrCodeBadRequest    = "bad_request"
	ErrCodeInternal      = "internal"
)

// Message is the single wire envelope for both directions.
type Message struct {
	Type       string `json:"type"`
	ReqID      uint64 `json:"req_id,omitempty"`
	Code       string `json:"code,omitempty"`
	ListenerID string `json:"listener_id,omitempty"`
	SDP        string `json:"sdp,omitempty"`
	Exists     *bool  `json:"exists,omitempty"`
	Error      string `json:"error,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
}
