// Package relay implements the signaling channel over a WebSocket
// connection to the hosted relay service.
package relay

import (
	"context"
	"fmt"
	"sync"

	"aircast/internal/core/domain"
	"aircast/internal/core/ports"
	wire "aircast/internal/relay"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const eventQueue = 256

type answerWatchKey struct {
	code domain.SessionCode
	id   domain.ListenerID
}

type offerWatcher struct {
	onAdd    ports.OfferHandler
	onRemove ports.RemovedHandler
}

// Channel is a ports.SignalingChannel backed by one relay connection.
// All sessions watched or written by this process share the connection.
type Channel struct {
	conn   *websocket.Conn
	logger *zap.SugaredLogger

	writeMu sync.Mutex

	mu             sync.Mutex
	nextReq        uint64
	pendingAcks    map[uint64]chan wire.Message
	offerWatchers  map[domain.SessionCode]*offerWatcher
	answerWatchers map[answerWatchKey]ports.AnswerHandler
	closed         bool
	stopOnce       sync.Once

	// Watch events run on a single worker so per-listener ordering (add
	// before remove) survives the hop off the read loop. Handlers may call
	// back into the channel; acks bypass this queue, so they cannot
	// deadlock against it.
	events chan func()
	quit   chan struct{}
}

// Dial connects to the relay at url (ws:// or wss:// ending in /ws).
func Dial(ctx context.Context, url string, logger *zap.SugaredLogger) (*Channel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing relay %s: %v", domain.ErrTransportUnavailable, url, err)
	}

	c := &Channel{
		conn:           conn,
		logger:         logger,
		pendingAcks:    make(map[uint64]chan wire.Message),
		offerWatchers:  make(map[domain.SessionCode]*offerWatcher),
		answerWatchers: make(map[answerWatchKey]ports.AnswerHandler),
		events:         make(chan func(), eventQueue),
		quit:           make(chan struct{}),
	}
	go c.readLoop()
	go c.eventLoop()
	return c, nil
}

// Close tears down the connection and fails every in-flight request.
func (c *Channel) Close() error {
	c.failPending()
	var err error
	c.stopOnce.Do(func() {
		close(c.quit)
		err = c.conn.Close()
	})
	return err
}

func (c *Channel) readLoop() {
	for {
		var msg wire.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.failPending()
			return
		}

		switch msg.Type {
		case wire.TypeAck:
			c.mu.Lock()
			ch, ok := c.pendingAcks[msg.ReqID]
			delete(c.pendingAcks, msg.ReqID)
			c.mu.Unlock()
			if ok {
				ch <- msg
			}

		case wire.TypeOfferAdded:
			c.dispatchOffer(msg, true)
		case wire.TypeOfferRemoved:
			c.dispatchOffer(msg, false)
		case wire.TypeAnswerAdded:
			c.dispatchAnswer(msg)
		default:
			c.logger.Warnw("unknown relay message type", "type", msg.Type)
		}
	}
}

func (c *Channel) eventLoop() {
	for {
		select {
		case fn := <-c.events:
			fn()
		case <-c.quit:
			return
		}
	}
}

func (c *Channel) dispatchOffer(msg wire.Message, added bool) {
	code := domain.SessionCode(msg.Code)
	id := domain.ListenerID(msg.ListenerID)

	c.mu.Lock()
	w, ok := c.offerWatchers[code]
	c.mu.Unlock()
	if !ok {
		return
	}

	var fn func()
	if added {
		sdp := msg.SDP
		fn = func() { w.onAdd(id, sdp) }
	} else {
		fn = func() { w.onRemove(id) }
	}
	c.queueEvent(fn, code)
}

func (c *Channel) dispatchAnswer(msg wire.Message) {
	key := answerWatchKey{domain.SessionCode(msg.Code), domain.ListenerID(msg.ListenerID)}

	c.mu.Lock()
	handler, ok := c.answerWatchers[key]
	c.mu.Unlock()
	if !ok {
		return
	}
	sdp := msg.SDP
	c.queueEvent(func() { handler(sdp) }, key.code)
}

func (c *Channel) queueEvent(fn func(), code domain.SessionCode) {
	select {
	case c.events <- fn:
	default:
		c.logger.Warnw("dropping relay event, queue full", "session_code", code)
	}
}

func (c *Channel) failPending() {
	c.mu.Lock()
	pending := c.pendingAcks
	c.pendingAcks = make(map[uint64]chan wire.Message)
	c.closed = true
	c.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}

// request performs one command/ack exchange.
func (c *Channel) request(ctx context.Context, msg wire.Message) (wire.Message, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return wire.Message{}, fmt.Errorf("%w: relay connection closed", domain.ErrTransportUnavailable)
	}
	c.nextReq++
	msg.ReqID = c.nextReq
	ackCh := make(chan wire.Message, 1)
	c.pendingAcks[msg.ReqID] = ackCh
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.conn.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pendingAcks, msg.ReqID)
		c.mu.Unlock()
		return wire.Message{}, fmt.Errorf("%w: writing to relay: %v", domain.ErrTransportUnavailable, err)
	}

	select {
	case ack, ok := <-ackCh:
		if !ok {
			return wire.Message{}, fmt.Errorf("%w: relay connection lost", domain.ErrTransportUnavailable)
		}
		return ack, ackError(ack)
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pendingAcks, msg.ReqID)
		c.mu.Unlock()
		return wire.Message{}, ctx.Err()
	}
}

func ackError(ack wire.Message) error {
	if ack.Error == "" {
		return nil
	}
	switch ack.ErrorCode {
	case wire.ErrCodeSessionExists:
		return domain.ErrSessionExists
	case wire.ErrCodeInvalidCode:
		return domain.ErrInvalidSessionCode
	default:
		return fmt.Errorf("%w: %s", domain.ErrTransportUnavailable, ack.Error)
	}
}

func (c *Channel) CreateSession(ctx context.Context, code domain.SessionCode) error {
	_, err := c.request(ctx, wire.Message{Type: wire.TypeCreate, Code: string(code)})
	return err
}

func (c *Channel) ResolveSession(ctx context.Context, code domain.SessionCode) (bool, error) {
	ack, err := c.request(ctx, wire.Message{Type: wire.TypeResolve, Code: string(code)})
	if err != nil {
		return false, err
	}
	return ack.Exists != nil && *ack.Exists, nil
}

func (c *Channel) PublishOffer(ctx context.Context, code domain.SessionCode, id domain.ListenerID, sdp string) error {
	_, err := c.request(ctx, wire.Message{Type: wire.TypePublishOffer, Code: string(code), ListenerID: string(id), SDP: sdp})
	return err
}

func (c *Channel) PublishAnswer(ctx context.Context, code domain.SessionCode, id domain.ListenerID, sdp string) error {
	_, err := c.request(ctx, wire.Message{Type: wire.TypePublishAnswer, Code: string(code), ListenerID: string(id), SDP: sdp})
	return err
}

func (c *Channel) WatchOffers(ctx context.Context, code domain.SessionCode, onAdd ports.OfferHandler, onRemove ports.RemovedHandler) (ports.CancelFunc, error) {
	c.mu.Lock()
	c.offerWatchers[code] = &offerWatcher{onAdd: onAdd, onRemove: onRemove}
	c.mu.Unlock()

	// The server replays existing offers as adds after this ack.
	if _, err := c.request(ctx, wire.Message{Type: wire.TypeWatchOffers, Code: string(code)}); err != nil {
		c.mu.Lock()
		delete(c.offerWatchers, code)
		c.mu.Unlock()
		return nil, err
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.offerWatchers, code)
			c.mu.Unlock()
			c.request(context.Background(), wire.Message{Type: wire.TypeUnwatchOffers, Code: string(code)})
		})
	}
	return cancel, nil
}

func (c *Channel) WatchAnswer(ctx context.Context, code domain.SessionCode, id domain.ListenerID, onAnswer ports.AnswerHandler) (ports.CancelFunc, error) {
	key := answerWatchKey{code, id}
	c.mu.Lock()
	c.answerWatchers[key] = onAnswer
	c.mu.Unlock()

	if _, err := c.request(ctx, wire.Message{Type: wire.TypeWatchAnswer, Code: string(code), ListenerID: string(id)}); err != nil {
		c.mu.Lock()
		delete(c.answerWatchers, key)
		c.mu.Unlock()
		return nil, err
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.answerWatchers, key)
			c.mu.Unlock()
			c.request(context.Background(), wire.Message{Type: wire.TypeUnwatchAnswer, Code: string(code), ListenerID: string(id)})
		})
	}
	return cancel, nil
}

func (c *Channel) RemoveOffer(ctx context.Context, code domain.SessionCode, id domain.ListenerID) error {
	_, err := c.request(ctx, wire.Message{Type: wire.TypeRemoveOffer, Code: string(code), ListenerID: string(id)})
	return err
}

func (c *Channel) RemoveAnswer(ctx context.Context, code domain.SessionCode, id domain.ListenerID) error {
	_, err := c.request(ctx, wire.Message{Type: wire.TypeRemoveAnswer, Code: string(code), ListenerID: string(id)})
	return err
}

func (c *Channel) RemoveSession(ctx context.Context, code domain.SessionCode) error {
	_, err := c.request(ctx, wire.Message{Type: wire.TypeRemoveSession, Code: string(code)})
	return err
}

var _ ports.SignalingChannel = (*Channel)(nil)
