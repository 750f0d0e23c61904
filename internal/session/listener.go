package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"aircast/internal/core/domain"
	"aircast/internal/core/ports"
	"aircast/pkg/tracing"

	"go.uber.org/zap"
)

// StatusNoBroadcast is reported when the joined code has no live session
// record yet. The listener stays subscribed and connects if a broadcaster
// shows up later.
const StatusNoBroadcast = "waiting for the broadcast to start"

// Listener drives one join attempt against a session code. A Listener is
// single-shot: after Stop, or after a terminal connectivity failure, the
// caller creates a new Listener to retry, which gets a fresh listener ID.
type Listener struct {
	channel ports.SignalingChannel
	factory ports.PeerFactory
	logger  *zap.SugaredLogger

	events chan Event

	mu          sync.Mutex
	generation  uint64
	started     bool
	code        domain.SessionCode
	id          domain.ListenerID
	phase       domain.ConnectionPhase
	pc          ports.PeerConnection
	stream      ports.RemoteStream
	cancelWatch ports.CancelFunc
	joinedAt    time.Time
}

// NewListener wires a listener over the given transport and peer factory.
func NewListener(channel ports.SignalingChannel, factory ports.PeerFactory, logger *zap.SugaredLogger) *Listener {
	return &Listener{
		channel: channel,
		factory: factory,
		logger:  logger,
		events:  make(chan Event, eventBuffer),
		phase:   domain.PhaseIdle,
	}
}

// Events exposes phase and status changes to the caller.
func (l *Listener) Events() <-chan Event {
	return l.events
}

// Join validates rawCode (a bare 6-digit code or a join URL), publishes an
// offer under it and waits for the broadcaster's answer via the watch. It
// returns once the offer is published; connection progress is reported on
// the Events channel.
func (l *Listener) Join(ctx context.Context, rawCode string) error {
	code, err := domain.ParseJoinCode(rawCode)
	if err != nil {
		return err
	}

	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return domain.ErrAlreadyStarted
	}
	l.generation++
	gen := l.generation
	l.started = true
	l.code = code
	l.id = domain.NewListenerID()
	l.phase = domain.PhaseIdle
	id := l.id
	l.mu.Unlock()

	ctx, span := tracing.TraceSignaling(ctx, "join", string(code))
	defer span.End()

	exists, err := l.channel.ResolveSession(ctx, code)
	if err != nil {
		l.fail(gen, err)
		return err
	}
	if !exists {
		// Not an error: the code may belong to a broadcast about to start.
		l.logger.Infow("no session record yet, publishing offer anyway", "session_code", code)
		emit(l.events, Event{Type: EventStatusChanged, Status: StatusNoBroadcast})
	}

	pc, err := l.factory.NewListenConnection(ctx)
	if err != nil {
		l.fail(gen, err)
		return err
	}
	pc.OnRemoteStream(func(stream ports.RemoteStream) { l.handleRemote(gen, stream) })
	pc.OnConnectivityChange(func(state ports.ConnectivityState) { l.handleConnectivity(gen, state) })

	offerSDP, err := pc.CreateOffer(ctx)
	if err != nil {
		pc.Close()
		l.fail(gen, err)
		return err
	}

	if !l.adopt(gen, pc) {
		pc.Close()
		return fmt.Errorf("listener stopped before join completed")
	}

	// Subscribe before publishing so an immediate answer is not missed.
	cancel, err := l.channel.WatchAnswer(ctx, code, id, func(sdp string) { l.handleAnswer(gen, sdp) })
	if err != nil {
		l.teardown(gen)
		l.fail(gen, err)
		return err
	}
	l.setCancelWatch(gen, cancel)

	// Enter offer-sent before publishing: over an embedded transport the
	// answer can arrive synchronously with the publish call.
	l.setPhase(gen, domain.PhaseOfferSent)

	if err := l.channel.PublishOffer(ctx, code, id, offerSDP); err != nil {
		cancel()
		l.teardown(gen)
		l.fail(gen, err)
		return err
	}

	l.logger.Infow("offer published", "session_code", code, "listener_id", id)
	return nil
}

// Stop withdraws this listener's own offer and answer entries, closes the
// peer connection and detaches the watch. Other listeners' entries and the
// session record itself are left alone. Safe to call repeatedly.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return nil
	}
	l.started = false
	l.generation++
	code := l.code
	id := l.id
	pc := l.pc
	cancel := l.cancelWatch
	l.pc = nil
	l.stream = nil
	l.cancelWatch = nil
	l.phase = domain.PhaseClosed
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			l.logger.Warnw("error closing peer connection", "error", err)
		}
	}
	if err := l.channel.RemoveOffer(ctx, code, id); err != nil {
		l.logger.Warnw("error removing offer", "listener_id", id, "error", err)
	}
	if err := l.channel.RemoveAnswer(ctx, code, id); err != nil {
		l.logger.Warnw("error removing answer", "listener_id", id, "error", err)
	}

	l.logger.Infow("left session", "session_code", code, "listener_id", id)
	emit(l.events, Event{Type: EventPhaseChanged, ListenerID: id, Phase: domain.PhaseClosed})
	return nil
}

// Phase returns the current connection phase.
func (l *Listener) Phase() domain.ConnectionPhase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

// ID returns the listener identifier of this attempt.
func (l *Listener) ID() domain.ListenerID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.id
}

// Stream returns the inbound audio stream, nil until connected.
func (l *Listener) Stream() ports.RemoteStream {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stream
}

// handleAnswer applies the broadcaster's answer exactly once. Redelivered
// or late answers are ignored by phase.
func (l *Listener) handleAnswer(gen uint64, sdp string) {
	l.mu.Lock()
	if !l.started || l.generation != gen || l.phase != domain.PhaseOfferSent {
		l.mu.Unlock()
		return
	}
	l.phase = domain.PhaseNegotiating
	pc := l.pc
	id := l.id
	l.mu.Unlock()

	emit(l.events, Event{Type: EventPhaseChanged, ListenerID: id, Phase: domain.PhaseNegotiating})

	if err := pc.AcceptAnswer(sdp); err != nil {
		l.logger.Warnw("error applying answer", "listener_id", id, "error", err)
		l.fail(gen, err)
	}
}

func (l *Listener) handleRemote(gen uint64, stream ports.RemoteStream) {
	l.mu.Lock()
	if !l.started || l.generation != gen {
		l.mu.Unlock()
		return
	}
	l.stream = stream
	id := l.id
	l.mu.Unlock()

	l.logger.Infow("remote audio stream attached", "listener_id", id, "stream_id", stream.ID())
	emit(l.events, Event{Type: EventStatusChanged, Status: "receiving audio"})
}

func (l *Listener) handleConnectivity(gen uint64, state ports.ConnectivityState) {
	l.mu.Lock()
	if !l.started || l.generation != gen {
		l.mu.Unlock()
		return
	}
	id := l.id
	var phase domain.ConnectionPhase
	switch state {
	case ports.ConnectivityConnected:
		phase = domain.PhaseConnected
		l.joinedAt = time.Now()
	case ports.ConnectivityDisconnected:
		phase = domain.PhaseDisconnected
	case ports.ConnectivityFailed:
		phase = domain.PhaseFailed
	default:
		l.mu.Unlock()
		return
	}
	l.phase = phase
	l.mu.Unlock()

	emit(l.events, Event{Type: EventPhaseChanged, ListenerID: id, Phase: phase})

	// Terminal for this attempt. The caller rejoins with a new Listener
	// and therefore a new listener ID.
	if phase == domain.PhaseDisconnected || phase == domain.PhaseFailed {
		l.logger.Warnw("connection lost", "listener_id", id, "state", state)
		emit(l.events, Event{Type: EventError, ListenerID: id, Err: domain.ErrConnectivityLost})
	}
}

func (l *Listener) adopt(gen uint64, pc ports.PeerConnection) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started || l.generation != gen {
		return false
	}
	l.pc = pc
	return true
}

func (l *Listener) setCancelWatch(gen uint64, cancel ports.CancelFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started || l.generation != gen {
		cancel()
		return
	}
	l.cancelWatch = cancel
}

func (l *Listener) setPhase(gen uint64, phase domain.ConnectionPhase) {
	l.mu.Lock()
	if !l.started || l.generation != gen {
		l.mu.Unlock()
		return
	}
	l.phase = phase
	id := l.id
	l.mu.Unlock()
	emit(l.events, Event{Type: EventPhaseChanged, ListenerID: id, Phase: phase})
}

// teardown closes the adopted peer connection without touching signaling
// entries, for unwinding a partially completed Join.
func (l *Listener) teardown(gen uint64) {
	l.mu.Lock()
	if l.generation != gen {
		l.mu.Unlock()
		return
	}
	pc := l.pc
	l.pc = nil
	l.mu.Unlock()
	if pc != nil {
		pc.Close()
	}
}

// fail tears the attempt down after a terminal error: the watch, the peer
// connection and this listener's own signaling entries are all released, so
// a skipped Stop afterwards leaves nothing behind. Each release is guarded
// independently; one failing must not block the rest.
func (l *Listener) fail(gen uint64, err error) {
	l.mu.Lock()
	if l.generation != gen {
		l.mu.Unlock()
		return
	}
	l.started = false
	l.generation++
	l.phase = domain.PhaseFailed
	id := l.id
	code := l.code
	pc := l.pc
	cancel := l.cancelWatch
	l.pc = nil
	l.stream = nil
	l.cancelWatch = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if pc != nil {
		if cerr := pc.Close(); cerr != nil {
			l.logger.Warnw("error closing peer connection", "error", cerr)
		}
	}
	ctx := context.Background()
	if rerr := l.channel.RemoveOffer(ctx, code, id); rerr != nil {
		l.logger.Warnw("error removing offer", "listener_id", id, "error", rerr)
	}
	if rerr := l.channel.RemoveAnswer(ctx, code, id); rerr != nil {
		l.logger.Warnw("error removing answer", "listener_id", id, "error", rerr)
	}

	emit(l.events, Event{Type: EventError, ListenerID: id, Err: err})
	emit(l.events, Event{Type: EventPhaseChanged, ListenerID: id, Phase: domain.PhaseFailed})
}
