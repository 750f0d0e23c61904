// Package redis implements the signaling channel over a Redis instance:
// session records live in hashes, add/remove notifications fan out over
// pub/sub. Every party subscribed to the same session observes all writes.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"aircast/internal/core/domain"
	"aircast/internal/core/ports"
	"aircast/pkg/tracing"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Safety TTL: stale records from crashed broadcasters must not outlive the
// school day.
const recordTTL = 12 * time.Hour

type eventKind string

const (
	eventOfferAdded    eventKind = "offer_added"
	eventOfferRemoved  eventKind = "offer_removed"
	eventAnswerAdded   eventKind = "answer_added"
	eventSessionClosed eventKind = "session_closed"
)

type event struct {
	Kind       eventKind         `json:"kind"`
	ListenerID domain.ListenerID `json:"listener_id,omitempty"`
	SDP        string            `json:"sdp,omitempty"`
}

// Channel is a Redis-backed ports.SignalingChannel.
type Channel struct {
	client *redis.Client
	logger *zap.SugaredLogger
	prefix string
}

// Options configures the Redis connection.
type Options struct {
	Address  string
	Password string
	DB       int
	PoolSize int
}

// New connects to Redis and verifies reachability. An unreachable store
// fails here with domain.ErrTransportUnavailable rather than on first use.
func New(ctx context.Context, opts Options, logger *zap.SugaredLogger) (*Channel, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, transportErr(err)
	}
	return &Channel{client: client, logger: logger, prefix: "aircast:session:"}, nil
}

// Close releases the underlying connection pool.
func (c *Channel) Close() error {
	return c.client.Close()
}

func (c *Channel) CreateSession(ctx context.Context, code domain.SessionCode) error {
	ctx, span := tracing.TraceSignaling(ctx, "create_session", string(code))
	defer span.End()

	// SETNX gives create-if-exists semantics: two broadcasters picking the
	// same code resolve deterministically instead of silently sharing it.
	ok, err := c.client.SetNX(ctx, c.sessionKey(code), time.Now().Unix(), recordTTL).Result()
	if err != nil {
		tracing.RecordError(ctx, err)
		return transportErr(err)
	}
	if !ok {
		return domain.ErrSessionExists
	}
	return nil
}

func (c *Channel) ResolveSession(ctx context.Context, code domain.SessionCode) (bool, error) {
	n, err := c.client.Exists(ctx, c.sessionKey(code)).Result()
	if err != nil {
		return false, transportErr(err)
	}
	return n > 0, nil
}

func (c *Channel) PublishOffer(ctx context.Context, code domain.SessionCode, id domain.ListenerID, sdp string) error {
	ctx, span := tracing.TraceSignaling(ctx, "publish_offer", string(code))
	defer span.End()

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, c.offersKey(code), string(id), sdp)
	pipe.Expire(ctx, c.offersKey(code), recordTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		tracing.RecordError(ctx, err)
		return transportErr(err)
	}
	return c.publishEvent(ctx, code, event{Kind: eventOfferAdded, ListenerID: id, SDP: sdp})
}

func (c *Channel) PublishAnswer(ctx context.Context, code domain.SessionCode, id domain.ListenerID, sdp string) error {
	ctx, span := tracing.TraceSignaling(ctx, "publish_answer", string(code))
	defer span.End()

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, c.answersKey(code), string(id), sdp)
	pipe.Expire(ctx, c.answersKey(code), recordTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		tracing.RecordError(ctx, err)
		return transportErr(err)
	}
	return c.publishEvent(ctx, code, event{Kind: eventAnswerAdded, ListenerID: id, SDP: sdp})
}

func (c *Channel) WatchOffers(ctx context.Context, code domain.SessionCode, onAdd ports.OfferHandler, onRemove ports.RemovedHandler) (ports.CancelFunc, error) {
	return c.watch(ctx, code, func(ev event) {
		switch ev.Kind {
		case eventOfferAdded:
			onAdd(ev.ListenerID, ev.SDP)
		case eventOfferRemoved:
			onRemove(ev.ListenerID)
		}
	}, func(ctx context.Context) error {
		// Replay offers present before the subscription attached.
		existing, err := c.client.HGetAll(ctx, c.offersKey(code)).Result()
		if err != nil {
			return transportErr(err)
		}
		for id, sdp := range existing {
			onAdd(domain.ListenerID(id), sdp)
		}
		return nil
	})
}

func (c *Channel) WatchAnswer(ctx context.Context, code domain.SessionCode, id domain.ListenerID, onAnswer ports.AnswerHandler) (ports.CancelFunc, error) {
	return c.watch(ctx, code, func(ev event) {
		if ev.Kind == eventAnswerAdded && ev.ListenerID == id {
			onAnswer(ev.SDP)
		}
	}, func(ctx context.Context) error {
		sdp, err := c.client.HGet(ctx, c.answersKey(code), string(id)).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return transportErr(err)
		}
		onAnswer(sdp)
		return nil
	})
}

func (c *Channel) RemoveOffer(ctx context.Context, code domain.SessionCode, id domain.ListenerID) error {
	n, err := c.client.HDel(ctx, c.offersKey(code), string(id)).Result()
	if err != nil {
		return transportErr(err)
	}
	if n == 0 {
		return nil
	}
	return c.publishEvent(ctx, code, event{Kind: eventOfferRemoved, ListenerID: id})
}

func (c *Channel) RemoveAnswer(ctx context.Context, code domain.SessionCode, id domain.ListenerID) error {
	if err := c.client.HDel(ctx, c.answersKey(code), string(id)).Err(); err != nil {
		return transportErr(err)
	}
	return nil
}

func (c *Channel) RemoveSession(ctx context.Context, code domain.SessionCode) error {
	ctx, span := tracing.TraceSignaling(ctx, "remove_session", string(code))
	defer span.End()

	offers, err := c.client.HKeys(ctx, c.offersKey(code)).Result()
	if err != nil && err != redis.Nil {
		return transportErr(err)
	}

	if err := c.client.Del(ctx, c.sessionKey(code), c.offersKey(code), c.answersKey(code)).Err(); err != nil {
		return transportErr(err)
	}

	// Deleting the record fires child-removed for remaining offers, so
	// watchers observe the same teardown as with the in-memory channel.
	for _, id := range offers {
		if err := c.publishEvent(ctx, code, event{Kind: eventOfferRemoved, ListenerID: domain.ListenerID(id)}); err != nil {
			return err
		}
	}
	return c.publishEvent(ctx, code, event{Kind: eventSessionClosed})
}

// watch subscribes to the session's event channel, replays current state
// via replay, then dispatches live events to handle until cancelled.
func (c *Channel) watch(ctx context.Context, code domain.SessionCode, handle func(event), replay func(context.Context) error) (ports.CancelFunc, error) {
	pubsub := c.client.Subscribe(ctx, c.eventsKey(code))
	// Force the SUBSCRIBE round-trip so a dead store fails here.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, transportErr(err)
	}

	if err := replay(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					c.logger.Warnw("discarding malformed signaling event",
						"session_code", code,
						"error", err,
					)
					continue
				}
				handle(ev)
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			pubsub.Close()
		})
	}
	return cancel, nil
}

func (c *Channel) publishEvent(ctx context.Context, code domain.SessionCode, ev event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal signaling event: %w", err)
	}
	if err := c.client.Publish(ctx, c.eventsKey(code), data).Err(); err != nil {
		return transportErr(err)
	}
	return nil
}

func (c *Channel) sessionKey(code domain.SessionCode) string {
	return c.prefix + string(code)
}

func (c *Channel) offersKey(code domain.SessionCode) string {
	return c.prefix + string(code) + ":offers"
}

func (c *Channel) answersKey(code domain.SessionCode) string {
	return c.prefix + string(code) + ":answers"
}

func (c *Channel) eventsKey(code domain.SessionCode) string {
	return c.prefix + string(code) + ":events"
}

func transportErr(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrTransportUnavailable, err)
}

var _ ports.SignalingChannel = (*Channel)(nil)
