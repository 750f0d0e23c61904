package relay

import (
	"context"
	"errors"
	"sync"

	"aircast/internal/core/domain"
	"aircast/internal/core/ports"
	"aircast/internal/signaling/memory"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// sendBuffer bounds the per-connection outbound queue. A client that stops
// reading gets disconnected rather than stalling the hub.
const sendBuffer = 64

// Hub routes protocol messages from WebSocket clients onto a shared
// in-memory channel. Watches are per-connection and torn down when the
// connection goes away, so a crashed broadcaster never leaks fan-out.
type Hub struct {
	store  *memory.Channel
	logger *zap.SugaredLogger
}

func NewHub(store *memory.Channel, logger *zap.SugaredLogger) *Hub {
	return &Hub{store: store, logger: logger}
}

// Sessions lists established session records for the admin API.
func (h *Hub) Sessions() []memory.SessionInfo {
	return h.store.Sessions()
}

// Evict force-deletes one session record, firing removals at its watchers.
func (h *Hub) Evict(ctx context.Context, code domain.SessionCode) error {
	return h.store.RemoveSession(ctx, code)
}

// client is the hub-side state of one WebSocket connection.
type client struct {
	conn *websocket.Conn
	send chan Message

	mu      sync.Mutex
	watches map[string]ports.CancelFunc
	closed  bool
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn:    conn,
		send:    make(chan Message, sendBuffer),
		watches: make(map[string]ports.CancelFunc),
	}
}

// enqueue queues msg for the writer goroutine. It reports false when the
// client's queue is full, which the caller treats as a dead connection.
func (c *client) enqueue(msg Message) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *client) addWatch(key string, cancel ports.CancelFunc) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		cancel()
		return false
	}
	if old, ok := c.watches[key]; ok {
		old()
	}
	c.watches[key] = cancel
	return true
}

func (c *client) dropWatch(key string) {
	c.mu.Lock()
	cancel, ok := c.watches[key]
	delete(c.watches, key)
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

// shutdown cancels every watch held by this connection.
func (c *client) shutdown() {
	c.mu.Lock()
	c.closed = true
	watches := c.watches
	c.watches = nil
	c.mu.Unlock()
	for _, cancel := range watches {
		cancel()
	}
}

func offersKey(code domain.SessionCode) string {
	return "offers:" + string(code)
}

func answerKey(code domain.SessionCode, id domain.ListenerID) string {
	return "answer:" + string(code) + "/" + string(id)
}

// handle dispatches one client request and returns the ack to send back.
func (h *Hub) handle(ctx context.Context, cl *client, msg Message) Message {
	ack := Message{Type: TypeAck, ReqID: msg.ReqID}

	if !domain.ValidateSessionCode(msg.Code) {
		ack.Error = "session code must be six digits"
		ack.ErrorCode = ErrCodeInvalidCode
		return ack
	}
	code := domain.SessionCode(msg.Code)
	id := domain.ListenerID(msg.ListenerID)

	switch msg.Type {
	case TypeCreate:
		if err := h.store.CreateSession(ctx, code); err != nil {
			if errors.Is(err, domain.ErrSessionExists) {
				ack.Error = err.Error()
				ack.ErrorCode = ErrCodeSessionExists
			} else {
				ack.Error = err.Error()
				ack.ErrorCode = ErrCodeInternal
			}
		}

	case TypeResolve:
		exists, err := h.store.ResolveSession(ctx, code)
		if err != nil {
			ack.Error = err.Error()
			ack.ErrorCode = ErrCodeInternal
			return ack
		}
		ack.Exists = &exists

	case TypePublishOffer:
		if id == "" || msg.SDP == "" {
			ack.Error = "publish_offer requires listener_id and sdp"
			ack.ErrorCode = ErrCodeBadRequest
			return ack
		}
		if err := h.store.PublishOffer(ctx, code, id, msg.SDP); err != nil {
			ack.Error = err.Error()
			ack.ErrorCode = ErrCodeInternal
		}

	case TypePublishAnswer:
		if id == "" || msg.SDP == "" {
			ack.Error = "publish_answer requires listener_id and sdp"
			ack.ErrorCode = ErrCodeBadRequest
			return ack
		}
		if err := h.store.PublishAnswer(ctx, code, id, msg.SDP); err != nil {
			ack.Error = err.Error()
			ack.ErrorCode = ErrCodeInternal
		}

	case TypeWatchOffers:
		cancel, err := h.store.WatchOffers(ctx, code,
			func(id domain.ListenerID, sdp string) {
				if !cl.enqueue(Message{Type: TypeOfferAdded, Code: string(code), ListenerID: string(id), SDP: sdp}) {
					h.logger.Warnw("dropping offer event, client queue full", "session_code", code)
				}
			},
			func(id domain.ListenerID) {
				if !cl.enqueue(Message{Type: TypeOfferRemoved, Code: string(code), ListenerID: string(id)}) {
					h.logger.Warnw("dropping removal event, client queue full", "session_code", code)
				}
			},
		)
		if err != nil {
			ack.Error = err.Error()
			ack.ErrorCode = ErrCodeInternal
			return ack
		}
		cl.addWatch(offersKey(code), cancel)

	case TypeUnwatchOffers:
		cl.dropWatch(offersKey(code))

	case TypeWatchAnswer:
		if id == "" {
			ack.Error = "watch_answer requires listener_id"
			ack.ErrorCode = ErrCodeBadRequest
			return ack
		}
		cancel, err := h.store.WatchAnswer(ctx, code, id, func(sdp string) {
			if !cl.enqueue(Message{Type: TypeAnswerAdded, Code: string(code), ListenerID: string(id), SDP: sdp}) {
				h.logger.Warnw("dropping answer event, client queue full", "session_code", code)
			}
		})
		if err != nil {
			ack.Error = err.Error()
			ack.ErrorCode = ErrCodeInternal
			return ack
		}
		cl.addWatch(answerKey(code, id), cancel)

	case TypeUnwatchAnswer:
		cl.dropWatch(answerKey(code, id))

	case TypeRemoveOffer:
		h.store.RemoveOffer(ctx, code, id)

	case TypeRemoveAnswer:
		h.store.RemoveAnswer(ctx, code, id)

	case TypeRemoveSession:
		h.store.RemoveSession(ctx, code)

	default:
		ack.Error = "unknown message type: " + msg.Type
		ack.ErrorCode = ErrCodeBadRequest
	}

	return ack
}
