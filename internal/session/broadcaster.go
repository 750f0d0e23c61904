package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"aircast/internal/core/domain"
	"aircast/internal/core/ports"
	"aircast/internal/monitoring"
	"aircast/pkg/tracing"

	"go.uber.org/zap"
)

// createAttempts bounds how many fresh codes a broadcaster tries when its
// generated code is already claimed by a concurrent session.
const createAttempts = 5

type attempt struct {
	cancelled bool
}

// Broadcaster owns one broadcast session: the session code, the offer
// watch, and the per-listener connection registry. One instance serves one
// session at a time; Start after Stop begins a fresh session with a fresh
// registry.
type Broadcaster struct {
	channel   ports.SignalingChannel
	factory   ports.PeerFactory
	collector *monitoring.Collector
	logger    *zap.SugaredLogger

	events chan Event

	mu          sync.Mutex
	generation  uint64
	started     bool
	code        domain.SessionCode
	cancelWatch ports.CancelFunc
	registry    *Registry
	pending     map[domain.ListenerID]*attempt
	connected   map[domain.ListenerID]time.Time
	lastErr     error
}

// NewBroadcaster wires a broadcaster over the given transport and peer
// factory. collector may be nil.
func NewBroadcaster(channel ports.SignalingChannel, factory ports.PeerFactory, collector *monitoring.Collector, logger *zap.SugaredLogger) *Broadcaster {
	return &Broadcaster{
		channel:   channel,
		factory:   factory,
		collector: collector,
		logger:    logger,
		events:    make(chan Event, eventBuffer),
	}
}

// Events exposes phase, count and status changes to the caller.
func (b *Broadcaster) Events() <-chan Event {
	return b.events
}

// Start creates the session record and begins watching for listener
// offers. It returns the generated session code.
func (b *Broadcaster) Start(ctx context.Context) (domain.SessionCode, error) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return "", domain.ErrAlreadyStarted
	}
	b.generation++
	gen := b.generation
	b.started = true
	b.lastErr = nil
	b.pending = make(map[domain.ListenerID]*attempt)
	b.connected = make(map[domain.ListenerID]time.Time)
	registry := NewRegistry(b.logger)
	registry.SetOnChange(func(count int, status string) {
		emit(b.events, Event{Type: EventCountChanged, Count: count, Status: status})
	})
	b.registry = registry
	b.mu.Unlock()

	code, err := b.createSession(ctx)
	if err != nil {
		b.failStart(err)
		return "", err
	}

	cancel, err := b.channel.WatchOffers(ctx, code,
		func(id domain.ListenerID, sdp string) { b.handleOffer(gen, id, sdp) },
		func(id domain.ListenerID) { b.handleOfferRemoved(gen, id) },
	)
	if err != nil {
		b.channel.RemoveSession(ctx, code)
		b.failStart(err)
		return "", err
	}

	b.mu.Lock()
	if !b.started || b.generation != gen {
		// Stopped while setting up; undo what the stop could not see.
		b.mu.Unlock()
		cancel()
		b.channel.RemoveSession(ctx, code)
		return "", fmt.Errorf("session stopped before start completed")
	}
	b.code = code
	b.cancelWatch = cancel
	b.mu.Unlock()

	b.collector.SessionStarted()
	b.logger.Infow("broadcast session started", "session_code", code)
	emit(b.events, Event{Type: EventStatusChanged, Status: StatusWaiting})
	return code, nil
}

// Stop tears the session down: detaches the watch, closes every peer
// connection and deletes the session record. Safe to call repeatedly and
// at any point of a partially completed Start.
func (b *Broadcaster) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = false
	b.generation++
	cancel := b.cancelWatch
	b.cancelWatch = nil
	code := b.code
	b.code = ""
	registry := b.registry
	b.pending = nil
	b.connected = nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if registry != nil {
		registry.CloseAll()
	}
	if code != "" {
		if err := b.channel.RemoveSession(ctx, code); err != nil {
			b.logger.Warnw("error removing session record", "session_code", code, "error", err)
		}
		b.collector.SessionEnded()
	}

	b.logger.Infow("broadcast session stopped", "session_code", code)
	emit(b.events, Event{Type: EventStatusChanged, Status: "stopped"})
	return nil
}

// Code returns the active session code, empty when stopped.
func (b *Broadcaster) Code() domain.SessionCode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.code
}

// Count returns the number of registered listeners.
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	registry := b.registry
	b.mu.Unlock()
	if registry == nil {
		return 0
	}
	return registry.Count()
}

// Status returns the aggregate human-facing status string.
func (b *Broadcaster) Status() string {
	b.mu.Lock()
	started := b.started
	registry := b.registry
	b.mu.Unlock()
	if !started || registry == nil {
		return "idle"
	}
	return registry.Status()
}

// Err returns the last session-level error, if any.
func (b *Broadcaster) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

// failStart rolls the broadcaster back to idle after a Start that never
// reached the watching state.
func (b *Broadcaster) failStart(err error) {
	b.mu.Lock()
	b.started = false
	b.generation++
	b.lastErr = err
	b.pending = nil
	b.connected = nil
	b.mu.Unlock()
	emit(b.events, Event{Type: EventError, Err: err})
}

func (b *Broadcaster) createSession(ctx context.Context) (domain.SessionCode, error) {
	for i := 0; i < createAttempts; i++ {
		code := domain.GenerateSessionCode()
		err := b.channel.CreateSession(ctx, code)
		if err == nil {
			return code, nil
		}
		if errors.Is(err, domain.ErrSessionExists) {
			b.logger.Warnw("session code collision, generating a new one", "session_code", code)
			continue
		}
		return "", err
	}
	return "", fmt.Errorf("%w: could not allocate an unused session code", domain.ErrTransportUnavailable)
}

func (b *Broadcaster) handleOffer(gen uint64, id domain.ListenerID, sdp string) {
	b.mu.Lock()
	if !b.started || b.generation != gen {
		b.mu.Unlock()
		return
	}
	if _, dup := b.pending[id]; dup {
		b.mu.Unlock()
		b.logger.Warnw("duplicate offer while negotiating, ignoring", "listener_id", id)
		return
	}
	registry := b.registry
	att := &attempt{}
	b.pending[id] = att
	b.mu.Unlock()

	// The channel may redeliver an add for an already-served listener.
	if registry.Has(id) {
		b.clearPending(id)
		b.logger.Warnw("offer redelivered for connected listener, ignoring", "listener_id", id)
		return
	}

	b.collector.OfferReceived()
	go b.answerOffer(gen, id, sdp, att)
}

// answerOffer drives one listener through offer-received → answer-pending
// → negotiating. Failures here are contained to this peer.
func (b *Broadcaster) answerOffer(gen uint64, id domain.ListenerID, offerSDP string, att *attempt) {
	ctx, span := tracing.TraceNegotiation(context.Background(), "answer", string(id))
	defer span.End()

	emit(b.events, Event{Type: EventPhaseChanged, ListenerID: id, Phase: domain.PhaseOfferReceived})

	pc, err := b.factory.NewBroadcastConnection(ctx)
	if err != nil {
		b.peerFailed(ctx, id, err)
		return
	}

	answerSDP, err := pc.CreateAnswer(ctx, offerSDP)
	if err != nil {
		pc.Close()
		b.peerFailed(ctx, id, err)
		return
	}

	// The gathering wait is a suspension point: the session may have been
	// stopped or the listener may have withdrawn its offer meanwhile.
	if !b.attemptAlive(gen, att) {
		pc.Close()
		return
	}

	pc.OnConnectivityChange(func(state ports.ConnectivityState) {
		b.handleConnectivity(gen, id, state)
	})

	code := b.currentCode()
	if err := b.channel.PublishAnswer(ctx, code, id, answerSDP); err != nil {
		pc.Close()
		b.peerFailed(ctx, id, err)
		return
	}
	emit(b.events, Event{Type: EventPhaseChanged, ListenerID: id, Phase: domain.PhaseAnswerPending})

	b.mu.Lock()
	stale := !b.started || b.generation != gen || att.cancelled
	registry := b.registry
	if !stale {
		delete(b.pending, id)
	}
	b.mu.Unlock()

	if stale {
		pc.Close()
		b.channel.RemoveAnswer(ctx, code, id)
		return
	}

	if registry.Add(id, pc) {
		emit(b.events, Event{Type: EventPhaseChanged, ListenerID: id, Phase: domain.PhaseNegotiating})
	}
}

func (b *Broadcaster) handleOfferRemoved(gen uint64, id domain.ListenerID) {
	b.mu.Lock()
	if !b.started || b.generation != gen {
		b.mu.Unlock()
		return
	}
	if att, ok := b.pending[id]; ok {
		att.cancelled = true
		delete(b.pending, id)
	}
	code := b.code
	registry := b.registry
	connectedSince, wasConnected := b.connected[id]
	delete(b.connected, id)
	b.mu.Unlock()

	if removed, _ := registry.Remove(id); removed {
		b.logger.Infow("listener left", "listener_id", id)
		if wasConnected {
			b.collector.ListenerDisconnected(time.Since(connectedSince))
		}
		b.channel.RemoveAnswer(context.Background(), code, id)
		emit(b.events, Event{Type: EventPhaseChanged, ListenerID: id, Phase: domain.PhaseClosed})
	}
}

func (b *Broadcaster) handleConnectivity(gen uint64, id domain.ListenerID, state ports.ConnectivityState) {
	switch state {
	case ports.ConnectivityConnected:
		b.mu.Lock()
		if !b.started || b.generation != gen {
			b.mu.Unlock()
			return
		}
		if _, already := b.connected[id]; already {
			b.mu.Unlock()
			return
		}
		b.connected[id] = time.Now()
		b.mu.Unlock()

		b.collector.ListenerConnected()
		emit(b.events, Event{Type: EventPhaseChanged, ListenerID: id, Phase: domain.PhaseConnected})

	case ports.ConnectivityDisconnected, ports.ConnectivityFailed:
		b.mu.Lock()
		if !b.started || b.generation != gen {
			b.mu.Unlock()
			return
		}
		code := b.code
		registry := b.registry
		connectedSince, wasConnected := b.connected[id]
		delete(b.connected, id)
		b.mu.Unlock()

		// Fatal for this peer only; remaining listeners are untouched and
		// the listener reconnects with a fresh offer if it wants back in.
		if removed, _ := registry.Remove(id); removed {
			b.logger.Infow("listener connectivity lost", "listener_id", id, "state", state)
			if wasConnected {
				b.collector.ListenerDisconnected(time.Since(connectedSince))
			}
			b.channel.RemoveAnswer(context.Background(), code, id)
			phase := domain.PhaseFailed
			if state == ports.ConnectivityDisconnected {
				phase = domain.PhaseDisconnected
			}
			emit(b.events, Event{Type: EventPhaseChanged, ListenerID: id, Phase: phase})
		}
	}
}

func (b *Broadcaster) peerFailed(ctx context.Context, id domain.ListenerID, err error) {
	tracing.RecordError(ctx, err)
	b.collector.NegotiationFailed()
	b.clearPending(id)
	b.logger.Warnw("peer negotiation failed", "listener_id", id, "error", err)
	emit(b.events, Event{Type: EventError, ListenerID: id, Err: err})
	emit(b.events, Event{Type: EventPhaseChanged, ListenerID: id, Phase: domain.PhaseFailed})
}

func (b *Broadcaster) attemptAlive(gen uint64, att *attempt) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started && b.generation == gen && !att.cancelled
}

func (b *Broadcaster) clearPending(id domain.ListenerID) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

func (b *Broadcaster) currentCode() domain.SessionCode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.code
}
