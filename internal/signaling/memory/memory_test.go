package memory

import (
	"context"
	"testing"

	"aircast/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func newTestChannel(t *testing.T) *Channel {
	t.Helper()
	return New(zaptest.NewLogger(t).Sugar())
}

func TestCreateSession_RejectsDuplicate(t *testing.T) {
	ch := newTestChannel(t)
	ctx := context.Background()

	assert.NoError(t, ch.CreateSession(ctx, "482913"))
	assert.ErrorIs(t, ch.CreateSession(ctx, "482913"), domain.ErrSessionExists)
}

func TestCreateSession_AdoptsImplicitRecord(t *testing.T) {
	ch := newTestChannel(t)
	ctx := context.Background()

	// A listener may publish its offer before the broadcaster creates the
	// record; that must not make the create collide.
	assert.NoError(t, ch.PublishOffer(ctx, "482913", "student-1", "offer-sdp"))

	exists, err := ch.ResolveSession(ctx, "482913")
	assert.NoError(t, err)
	assert.False(t, exists, "implicit record should not resolve as established")

	assert.NoError(t, ch.CreateSession(ctx, "482913"))

	exists, err = ch.ResolveSession(ctx, "482913")
	assert.NoError(t, err)
	assert.True(t, exists)

	// The early offer must be replayed to the broadcaster's watch.
	var got []domain.ListenerID
	cancel, err := ch.WatchOffers(ctx, "482913",
		func(id domain.ListenerID, sdp string) { got = append(got, id) },
		func(id domain.ListenerID) {},
	)
	assert.NoError(t, err)
	defer cancel()
	assert.Equal(t, []domain.ListenerID{"student-1"}, got)
}

func TestWatchOffers_DeliversAddsAndRemoves(t *testing.T) {
	ch := newTestChannel(t)
	ctx := context.Background()
	assert.NoError(t, ch.CreateSession(ctx, "111111"))

	var added, removed []domain.ListenerID
	cancel, err := ch.WatchOffers(ctx, "111111",
		func(id domain.ListenerID, sdp string) { added = append(added, id) },
		func(id domain.ListenerID) { removed = append(removed, id) },
	)
	assert.NoError(t, err)
	defer cancel()

	assert.NoError(t, ch.PublishOffer(ctx, "111111", "student-a", "sdp-a"))
	assert.NoError(t, ch.PublishOffer(ctx, "111111", "student-b", "sdp-b"))
	assert.NoError(t, ch.RemoveOffer(ctx, "111111", "student-a"))

	assert.Equal(t, []domain.ListenerID{"student-a", "student-b"}, added)
	assert.Equal(t, []domain.ListenerID{"student-a"}, removed)
}

func TestWatchOffers_CancelStopsDelivery(t *testing.T) {
	ch := newTestChannel(t)
	ctx := context.Background()
	assert.NoError(t, ch.CreateSession(ctx, "111111"))

	var added []domain.ListenerID
	cancel, err := ch.WatchOffers(ctx, "111111",
		func(id domain.ListenerID, sdp string) { added = append(added, id) },
		func(id domain.ListenerID) {},
	)
	assert.NoError(t, err)

	cancel()
	cancel() // repeated cancel is a no-op

	assert.NoError(t, ch.PublishOffer(ctx, "111111", "student-a", "sdp-a"))
	assert.Empty(t, added)
}

func TestWatchAnswer_ReplaysExistingAnswer(t *testing.T) {
	ch := newTestChannel(t)
	ctx := context.Background()
	assert.NoError(t, ch.CreateSession(ctx, "222222"))
	assert.NoError(t, ch.PublishAnswer(ctx, "222222", "student-a", "answer-sdp"))

	var got []string
	cancel, err := ch.WatchAnswer(ctx, "222222", "student-a", func(sdp string) { got = append(got, sdp) })
	assert.NoError(t, err)
	defer cancel()

	assert.Equal(t, []string{"answer-sdp"}, got)
}

func TestWatchAnswer_IgnoresOtherListeners(t *testing.T) {
	ch := newTestChannel(t)
	ctx := context.Background()
	assert.NoError(t, ch.CreateSession(ctx, "222222"))

	var got []string
	cancel, err := ch.WatchAnswer(ctx, "222222", "student-a", func(sdp string) { got = append(got, sdp) })
	assert.NoError(t, err)
	defer cancel()

	assert.NoError(t, ch.PublishAnswer(ctx, "222222", "student-b", "other"))
	assert.Empty(t, got)

	assert.NoError(t, ch.PublishAnswer(ctx, "222222", "student-a", "mine"))
	assert.Equal(t, []string{"mine"}, got)
}

func TestRemoveSession_FiresRemovalsForRemainingOffers(t *testing.T) {
	ch := newTestChannel(t)
	ctx := context.Background()
	assert.NoError(t, ch.CreateSession(ctx, "333333"))
	assert.NoError(t, ch.PublishOffer(ctx, "333333", "student-a", "sdp-a"))
	assert.NoError(t, ch.PublishOffer(ctx, "333333", "student-b", "sdp-b"))

	var removed []domain.ListenerID
	cancel, err := ch.WatchOffers(ctx, "333333",
		func(id domain.ListenerID, sdp string) {},
		func(id domain.ListenerID) { removed = append(removed, id) },
	)
	assert.NoError(t, err)
	defer cancel()

	assert.NoError(t, ch.RemoveSession(ctx, "333333"))
	assert.ElementsMatch(t, []domain.ListenerID{"student-a", "student-b"}, removed)

	exists, err := ch.ResolveSession(ctx, "333333")
	assert.NoError(t, err)
	assert.False(t, exists)
}

func TestRemoves_AreIdempotent(t *testing.T) {
	ch := newTestChannel(t)
	ctx := context.Background()

	// Removing entries that never existed must not error.
	assert.NoError(t, ch.RemoveOffer(ctx, "999999", "student-x"))
	assert.NoError(t, ch.RemoveAnswer(ctx, "999999", "student-x"))
	assert.NoError(t, ch.RemoveSession(ctx, "999999"))
}

func TestSessions_ListsEstablishedOnly(t *testing.T) {
	ch := newTestChannel(t)
	ctx := context.Background()

	assert.NoError(t, ch.CreateSession(ctx, "111111"))
	assert.NoError(t, ch.PublishOffer(ctx, "222222", "student-a", "sdp")) // implicit only

	infos := ch.Sessions()
	assert.Len(t, infos, 1)
	assert.Equal(t, domain.SessionCode("111111"), infos[0].Code)
}
