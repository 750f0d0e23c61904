package redis

import (
	"encoding/json"
	"errors"
	"testing"

	"aircast/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestKeyNaming(t *testing.T) {
	c := &Channel{prefix: "aircast:session:"}

	assert.Equal(t, "aircast:session:482913", c.sessionKey("482913"))
	assert.Equal(t, "aircast:session:482913:offers", c.offersKey("482913"))
	assert.Equal(t, "aircast:session:482913:answers", c.answersKey("482913"))
	assert.Equal(t, "aircast:session:482913:events", c.eventsKey("482913"))
}

func TestTransportErr_WrapsSentinel(t *testing.T) {
	err := transportErr(errors.New("connection refused"))
	assert.ErrorIs(t, err, domain.ErrTransportUnavailable)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestEvent_WireShape(t *testing.T) {
	data, err := json.Marshal(event{Kind: eventOfferAdded, ListenerID: "student-a", SDP: "sdp"})
	assert.NoError(t, err)
	assert.JSONEq(t, `{"kind":"offer_added","listener_id":"student-a","sdp":"sdp"}`, string(data))

	// Omitted fields stay off the wire for removal events.
	data, err = json.Marshal(event{Kind: eventSessionClosed})
	assert.NoError(t, err)
	assert.JSONEq(t, `{"kind":"session_closed"}`, string(data))

	var ev event
	assert.NoError(t, json.Unmarshal([]byte(`{"kind":"offer_removed","listener_id":"student-b"}`), &ev))
	assert.Equal(t, eventOfferRemoved, ev.Kind)
	assert.Equal(t, domain.ListenerID("student-b"), ev.ListenerID)
}
