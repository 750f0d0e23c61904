package relay_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"aircast/internal/core/domain"
	"aircast/internal/relay"
	"aircast/internal/signaling/memory"
	relayclient "aircast/internal/signaling/relay"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	hub := relay.NewHub(memory.New(logger), logger)
	srv := relay.NewServer(relay.Config{
		Address:         ":0",
		ShutdownTimeout: time.Second,
		AdminSecret:     "test-secret",
		TokenTTL:        time.Minute,
	}, hub, logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	return ts, wsURL
}

func dialClient(t *testing.T, wsURL string) *relayclient.Channel {
	t.Helper()
	ch, err := relayclient.Dial(context.Background(), wsURL, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { ch.Close() })
	return ch
}

func TestRelay_EndToEndSignaling(t *testing.T) {
	_, wsURL := newTestServer(t)
	ctx := context.Background()

	broadcaster := dialClient(t, wsURL)
	listener := dialClient(t, wsURL)

	require.NoError(t, broadcaster.CreateSession(ctx, "482913"))
	assert.ErrorIs(t, broadcaster.CreateSession(ctx, "482913"), domain.ErrSessionExists)

	exists, err := listener.ResolveSession(ctx, "482913")
	require.NoError(t, err)
	assert.True(t, exists)

	offers := make(chan domain.ListenerID, 4)
	removed := make(chan domain.ListenerID, 4)
	cancelOffers, err := broadcaster.WatchOffers(ctx, "482913",
		func(id domain.ListenerID, sdp string) { offers <- id },
		func(id domain.ListenerID) { removed <- id },
	)
	require.NoError(t, err)
	defer cancelOffers()

	answers := make(chan string, 4)
	cancelAnswer, err := listener.WatchAnswer(ctx, "482913", "student-a", func(sdp string) { answers <- sdp })
	require.NoError(t, err)
	defer cancelAnswer()

	require.NoError(t, listener.PublishOffer(ctx, "482913", "student-a", "offer-sdp"))
	select {
	case id := <-offers:
		assert.Equal(t, domain.ListenerID("student-a"), id)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the offer event")
	}

	require.NoError(t, broadcaster.PublishAnswer(ctx, "482913", "student-a", "answer-sdp"))
	select {
	case sdp := <-answers:
		assert.Equal(t, "answer-sdp", sdp)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the answer event")
	}

	require.NoError(t, listener.RemoveOffer(ctx, "482913", "student-a"))
	select {
	case id := <-removed:
		assert.Equal(t, domain.ListenerID("student-a"), id)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the removal event")
	}

	require.NoError(t, broadcaster.RemoveSession(ctx, "482913"))
	exists, err = listener.ResolveSession(ctx, "482913")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRelay_ClientRejectsInvalidCode(t *testing.T) {
	_, wsURL := newTestServer(t)
	ch := dialClient(t, wsURL)

	assert.ErrorIs(t, ch.CreateSession(context.Background(), "12345"), domain.ErrInvalidSessionCode)
}

func TestRelay_HealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRelay_AdminAPI(t *testing.T) {
	ts, wsURL := newTestServer(t)
	ctx := context.Background()

	ch := dialClient(t, wsURL)
	require.NoError(t, ch.CreateSession(ctx, "482913"))

	// No token: rejected.
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/sessions", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Wrong secret: no token issued, and the error carries its code.
	body, _ := json.Marshal(map[string]string{"secret": "nope"})
	resp, err = http.Post(ts.URL+"/api/v1/auth/token", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	var authErr struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&authErr))
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", authErr.Code)

	// Correct secret: token grants access.
	body, _ = json.Marshal(map[string]string{"secret": "test-secret"})
	resp, err = http.Post(ts.URL+"/api/v1/auth/token", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	var tokenResp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tokenResp))
	resp.Body.Close()
	require.NotEmpty(t, tokenResp.Token)

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/api/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+tokenResp.Token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	var listResp struct {
		Sessions []memory.SessionInfo `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listResp))
	resp.Body.Close()
	require.Len(t, listResp.Sessions, 1)
	assert.Equal(t, domain.SessionCode("482913"), listResp.Sessions[0].Code)

	// Malformed code on evict is rejected up front.
	req, _ = http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/sessions/12345", nil)
	req.Header.Set("Authorization", "Bearer "+tokenResp.Token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	var evictErr struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&evictErr))
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_INPUT", evictErr.Code)

	// Evict through the admin API.
	req, _ = http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/sessions/482913", nil)
	req.Header.Set("Authorization", "Bearer "+tokenResp.Token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	exists, err := ch.ResolveSession(ctx, "482913")
	require.NoError(t, err)
	assert.False(t, exists)
}
