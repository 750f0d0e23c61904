// Package memory implements the signaling channel over process-local state.
// It backs tests and single-process deployments where broadcaster and
// listeners share an embedded rendezvous.
package memory

import (
	"context"
	"sync"
	"time"

	"aircast/internal/core/domain"
	"aircast/internal/core/ports"

	"go.uber.org/zap"
)

type record struct {
	offers    map[domain.ListenerID]string
	answers   map[domain.ListenerID]string
	createdAt time.Time
}

// A record can exist implicitly (a listener published an offer before the
// broadcaster created the session); such records carry a zero createdAt and
// are adopted by a later CreateSession instead of colliding with it.
func (r *record) established() bool { return !r.createdAt.IsZero() }

type offerWatcher struct {
	onAdd    ports.OfferHandler
	onRemove ports.RemovedHandler
}

type answerWatcher struct {
	id       domain.ListenerID
	onAnswer ports.AnswerHandler
}

// Channel is an in-memory ports.SignalingChannel.
type Channel struct {
	mu             sync.Mutex
	sessions       map[domain.SessionCode]*record
	offerWatchers  map[domain.SessionCode]map[*offerWatcher]struct{}
	answerWatchers map[domain.SessionCode]map[*answerWatcher]struct{}

	logger *zap.SugaredLogger
}

// New creates an empty in-memory channel.
func New(logger *zap.SugaredLogger) *Channel {
	return &Channel{
		sessions:       make(map[domain.SessionCode]*record),
		offerWatchers:  make(map[domain.SessionCode]map[*offerWatcher]struct{}),
		answerWatchers: make(map[domain.SessionCode]map[*answerWatcher]struct{}),
		logger:         logger,
	}
}

func (c *Channel) CreateSession(ctx context.Context, code domain.SessionCode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rec, ok := c.sessions[code]; ok {
		if rec.established() {
			return domain.ErrSessionExists
		}
		rec.createdAt = time.Now()
		return nil
	}
	c.sessions[code] = &record{
		offers:    make(map[domain.ListenerID]string),
		answers:   make(map[domain.ListenerID]string),
		createdAt: time.Now(),
	}
	return nil
}

func (c *Channel) ResolveSession(ctx context.Context, code domain.SessionCode) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.sessions[code]
	return ok && rec.established(), nil
}

func (c *Channel) PublishOffer(ctx context.Context, code domain.SessionCode, id domain.ListenerID, sdp string) error {
	c.mu.Lock()
	rec := c.ensureLocked(code)
	rec.offers[id] = sdp
	handlers := c.offerAddHandlersLocked(code)
	c.mu.Unlock()

	// Callbacks run outside the lock so handlers may call back into the
	// channel (the broadcaster publishes its answer from onAdd).
	for _, h := range handlers {
		h(id, sdp)
	}
	return nil
}

func (c *Channel) PublishAnswer(ctx context.Context, code domain.SessionCode, id domain.ListenerID, sdp string) error {
	c.mu.Lock()
	rec := c.ensureLocked(code)
	rec.answers[id] = sdp
	var handlers []ports.AnswerHandler
	for w := range c.answerWatchers[code] {
		if w.id == id {
			handlers = append(handlers, w.onAnswer)
		}
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(sdp)
	}
	return nil
}

func (c *Channel) WatchOffers(ctx context.Context, code domain.SessionCode, onAdd ports.OfferHandler, onRemove ports.RemovedHandler) (ports.CancelFunc, error) {
	w := &offerWatcher{onAdd: onAdd, onRemove: onRemove}

	c.mu.Lock()
	if c.offerWatchers[code] == nil {
		c.offerWatchers[code] = make(map[*offerWatcher]struct{})
	}
	c.offerWatchers[code][w] = struct{}{}

	// Replay children already present, matching child-added semantics.
	type pending struct {
		id  domain.ListenerID
		sdp string
	}
	var replay []pending
	if rec, ok := c.sessions[code]; ok {
		for id, sdp := range rec.offers {
			replay = append(replay, pending{id, sdp})
		}
	}
	c.mu.Unlock()

	for _, p := range replay {
		onAdd(p.id, p.sdp)
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.offerWatchers[code], w)
			c.mu.Unlock()
		})
	}
	return cancel, nil
}

func (c *Channel) WatchAnswer(ctx context.Context, code domain.SessionCode, id domain.ListenerID, onAnswer ports.AnswerHandler) (ports.CancelFunc, error) {
	w := &answerWatcher{id: id, onAnswer: onAnswer}

	c.mu.Lock()
	if c.answerWatchers[code] == nil {
		c.answerWatchers[code] = make(map[*answerWatcher]struct{})
	}
	c.answerWatchers[code][w] = struct{}{}

	var existing string
	var has bool
	if rec, ok := c.sessions[code]; ok {
		existing, has = rec.answers[id]
	}
	c.mu.Unlock()

	if has {
		onAnswer(existing)
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.answerWatchers[code], w)
			c.mu.Unlock()
		})
	}
	return cancel, nil
}

func (c *Channel) RemoveOffer(ctx context.Context, code domain.SessionCode, id domain.ListenerID) error {
	c.mu.Lock()
	rec, ok := c.sessions[code]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	_, had := rec.offers[id]
	delete(rec.offers, id)
	var handlers []ports.RemovedHandler
	if had {
		for w := range c.offerWatchers[code] {
			handlers = append(handlers, w.onRemove)
		}
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(id)
	}
	return nil
}

func (c *Channel) RemoveAnswer(ctx context.Context, code domain.SessionCode, id domain.ListenerID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.sessions[code]; ok {
		delete(rec.answers, id)
	}
	return nil
}

func (c *Channel) RemoveSession(ctx context.Context, code domain.SessionCode) error {
	c.mu.Lock()
	rec, ok := c.sessions[code]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	var removed []domain.ListenerID
	for id := range rec.offers {
		removed = append(removed, id)
	}
	var handlers []ports.RemovedHandler
	for w := range c.offerWatchers[code] {
		handlers = append(handlers, w.onRemove)
	}
	delete(c.sessions, code)
	c.mu.Unlock()

	// Deleting the record fires child-removed for every remaining offer.
	for _, h := range handlers {
		for _, id := range removed {
			h(id)
		}
	}
	return nil
}

// SessionInfo summarizes one live record for administrative listings.
type SessionInfo struct {
	Code        domain.SessionCode `json:"code"`
	CreatedAt   time.Time          `json:"created_at"`
	OfferCount  int                `json:"offer_count"`
	AnswerCount int                `json:"answer_count"`
}

// Sessions returns a snapshot of all established records.
func (c *Channel) Sessions() []SessionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	infos := make([]SessionInfo, 0, len(c.sessions))
	for code, rec := range c.sessions {
		if !rec.established() {
			continue
		}
		infos = append(infos, SessionInfo{
			Code:        code,
			CreatedAt:   rec.createdAt,
			OfferCount:  len(rec.offers),
			AnswerCount: len(rec.answers),
		})
	}
	return infos
}

func (c *Channel) ensureLocked(code domain.SessionCode) *record {
	rec, ok := c.sessions[code]
	if !ok {
		rec = &record{
			offers:  make(map[domain.ListenerID]string),
			answers: make(map[domain.ListenerID]string),
		}
		c.sessions[code] = rec
	}
	return rec
}

func (c *Channel) offerAddHandlersLocked(code domain.SessionCode) []ports.OfferHandler {
	var handlers []ports.OfferHandler
	for w := range c.offerWatchers[code] {
		handlers = append(handlers, w.onAdd)
	}
	return handlers
}

var _ ports.SignalingChannel = (*Channel)(nil)
