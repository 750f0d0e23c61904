package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"aircast/internal/core/domain"
	"aircast/internal/core/ports"
	"aircast/internal/signaling/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestListener(t *testing.T, factory ports.PeerFactory) (*Listener, *memory.Channel) {
	t.Helper()
	channel := memory.New(zaptest.NewLogger(t).Sugar())
	return NewListener(channel, factory, zaptest.NewLogger(t).Sugar()), channel
}

func TestListener_JoinRejectsInvalidCode(t *testing.T) {
	l, _ := newTestListener(t, &fakeFactory{})

	for _, input := range []string{"", "12345", "abc123", "1234567"} {
		err := l.Join(context.Background(), input)
		assert.ErrorIs(t, err, domain.ErrInvalidSessionCode, "input %q", input)
	}
}

func TestListener_JoinPublishesOffer(t *testing.T) {
	factory := &fakeFactory{}
	l, channel := newTestListener(t, factory)
	ctx := context.Background()

	require.NoError(t, channel.CreateSession(ctx, "482913"))

	var offers []domain.ListenerID
	cancel, err := channel.WatchOffers(ctx, "482913",
		func(id domain.ListenerID, sdp string) { offers = append(offers, id) },
		func(id domain.ListenerID) {},
	)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, l.Join(ctx, "482913"))
	defer l.Stop(ctx)

	assert.Equal(t, domain.PhaseOfferSent, l.Phase())
	require.Len(t, offers, 1)
	assert.Equal(t, l.ID(), offers[0])
}

func TestListener_JoinUnknownCodeWaits(t *testing.T) {
	// No session record for the code: the join still publishes an offer
	// and waits, in case the broadcast starts later.
	l, channel := newTestListener(t, &fakeFactory{})
	ctx := context.Background()

	require.NoError(t, l.Join(ctx, "000000"))
	defer l.Stop(ctx)

	assert.Equal(t, domain.PhaseOfferSent, l.Phase())

	// A late answer still connects this listener.
	require.NoError(t, channel.PublishAnswer(ctx, "000000", l.ID(), "late-answer"))
	assert.Equal(t, domain.PhaseNegotiating, l.Phase())
}

func TestListener_JoinAcceptsUrlInput(t *testing.T) {
	l, channel := newTestListener(t, &fakeFactory{})
	ctx := context.Background()
	require.NoError(t, channel.CreateSession(ctx, "482913"))

	require.NoError(t, l.Join(ctx, "https://aircast.local/?mode=aluno&code=482913"))
	defer l.Stop(ctx)

	assert.Equal(t, domain.PhaseOfferSent, l.Phase())
}

func TestListener_JoinTwiceFails(t *testing.T) {
	l, channel := newTestListener(t, &fakeFactory{})
	ctx := context.Background()
	require.NoError(t, channel.CreateSession(ctx, "482913"))

	require.NoError(t, l.Join(ctx, "482913"))
	defer l.Stop(ctx)

	assert.ErrorIs(t, l.Join(ctx, "482913"), domain.ErrAlreadyStarted)
}

func TestListener_DuplicateAnswerAppliedOnce(t *testing.T) {
	factory := &fakeFactory{}
	l, channel := newTestListener(t, factory)
	ctx := context.Background()
	require.NoError(t, channel.CreateSession(ctx, "482913"))

	require.NoError(t, l.Join(ctx, "482913"))
	defer l.Stop(ctx)

	require.NoError(t, channel.PublishAnswer(ctx, "482913", l.ID(), "answer-1"))
	// The transport may redeliver; only the first application counts.
	require.NoError(t, channel.PublishAnswer(ctx, "482913", l.ID(), "answer-2"))

	assert.Equal(t, []string{"answer-1"}, factory.peer(0).acceptedAnswers())
	assert.Equal(t, domain.PhaseNegotiating, l.Phase())
}

func TestListener_ConnectedPhaseAndStream(t *testing.T) {
	factory := &fakeFactory{}
	l, channel := newTestListener(t, factory)
	ctx := context.Background()
	require.NoError(t, channel.CreateSession(ctx, "482913"))

	require.NoError(t, l.Join(ctx, "482913"))
	defer l.Stop(ctx)

	require.NoError(t, channel.PublishAnswer(ctx, "482913", l.ID(), "answer-sdp"))

	peer := factory.peer(0)
	peer.fireRemote(fakeStream{id: "audio-1"})
	peer.fireState(ports.ConnectivityConnected)

	assert.Equal(t, domain.PhaseConnected, l.Phase())
	require.NotNil(t, l.Stream())
	assert.Equal(t, "audio-1", l.Stream().ID())
}

func TestListener_ConnectivityLossIsTerminal(t *testing.T) {
	factory := &fakeFactory{}
	l, channel := newTestListener(t, factory)
	ctx := context.Background()
	require.NoError(t, channel.CreateSession(ctx, "482913"))

	require.NoError(t, l.Join(ctx, "482913"))
	defer l.Stop(ctx)

	require.NoError(t, channel.PublishAnswer(ctx, "482913", l.ID(), "answer-sdp"))
	factory.peer(0).fireState(ports.ConnectivityConnected)
	factory.peer(0).fireState(ports.ConnectivityFailed)

	assert.Equal(t, domain.PhaseFailed, l.Phase())

	deadline := time.After(waitFor)
	for {
		var ev Event
		select {
		case ev = <-l.Events():
		case <-deadline:
			t.Fatal("timed out waiting for the connectivity error event")
		}
		if ev.Type == EventError {
			assert.ErrorIs(t, ev.Err, domain.ErrConnectivityLost)
			return
		}
	}
}

func TestListener_StopRemovesOwnEntriesOnly(t *testing.T) {
	ctx := context.Background()
	channel := memory.New(zaptest.NewLogger(t).Sugar())
	require.NoError(t, channel.CreateSession(ctx, "482913"))

	first := NewListener(channel, &fakeFactory{}, zaptest.NewLogger(t).Sugar())
	second := NewListener(channel, &fakeFactory{}, zaptest.NewLogger(t).Sugar())

	require.NoError(t, first.Join(ctx, "482913"))
	require.NoError(t, second.Join(ctx, "482913"))

	require.NoError(t, first.Stop(ctx))

	// Only the second listener's offer survives.
	var remaining []domain.ListenerID
	cancel, err := channel.WatchOffers(ctx, "482913",
		func(id domain.ListenerID, sdp string) { remaining = append(remaining, id) },
		func(id domain.ListenerID) {},
	)
	require.NoError(t, err)
	defer cancel()

	assert.Equal(t, []domain.ListenerID{second.ID()}, remaining)

	assert.NoError(t, second.Stop(ctx))
	// Repeated stop is a no-op.
	assert.NoError(t, first.Stop(ctx))
}

func TestListener_RejectedAnswerReleasesEverything(t *testing.T) {
	factory := &fakeFactory{acceptErr: errors.New("incompatible description")}
	l, channel := newTestListener(t, factory)
	ctx := context.Background()
	require.NoError(t, channel.CreateSession(ctx, "482913"))

	require.NoError(t, l.Join(ctx, "482913"))
	require.NoError(t, channel.PublishAnswer(ctx, "482913", l.ID(), "bad-answer"))

	assert.Eventually(t, func() bool { return l.Phase() == domain.PhaseFailed }, waitFor, tick)

	// The failure itself must release the attempt, whether or not the
	// caller still bothers to Stop.
	assert.NoError(t, l.Stop(ctx))

	assert.True(t, factory.peer(0).isClosed(), "peer connection must be closed after a rejected answer")

	var remaining []domain.ListenerID
	cancel, err := channel.WatchOffers(ctx, "482913",
		func(id domain.ListenerID, sdp string) { remaining = append(remaining, id) },
		func(id domain.ListenerID) {},
	)
	require.NoError(t, err)
	defer cancel()
	assert.Empty(t, remaining, "the listener's own offer entry must be withdrawn")

	// A late redelivery of the answer finds nothing to apply to.
	require.NoError(t, channel.PublishAnswer(ctx, "482913", l.ID(), "bad-answer"))
	assert.Equal(t, domain.PhaseFailed, l.Phase())
}

func TestListener_StopClosesPeer(t *testing.T) {
	factory := &fakeFactory{}
	l, channel := newTestListener(t, factory)
	ctx := context.Background()
	require.NoError(t, channel.CreateSession(ctx, "482913"))

	require.NoError(t, l.Join(ctx, "482913"))
	require.NoError(t, l.Stop(ctx))

	assert.True(t, factory.peer(0).isClosed())
	assert.Equal(t, domain.PhaseClosed, l.Phase())
}
