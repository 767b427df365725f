package reservation

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seatctl/model"
	"seatctl/service"
)

const wait = 2 * time.Second

type channelHarness struct {
	clock    *fakeClock
	tokens   *fakeTokens
	dialer   *fakeDialer
	identity Identity
	channel  *Channel
}

func newChannelHarness(t *testing.T) *channelHarness {
	t.Helper()
	h := &channelHarness{
		clock:    newFakeClock(),
		tokens:   &fakeTokens{token: "channel-token"},
		dialer:   newFakeDialer(),
		identity: Identity{ClientID: "self"},
	}
	h.channel = NewChannel(42, h.identity, h.tokens, h.dialer, ChannelOptions{
		URL:   "ws://seats.test/ws/seats/websocket",
		Clock: h.clock,
	})
	t.Cleanup(func() { _ = h.channel.Close() })
	return h
}

func expectStatus(t *testing.T, ch <-chan ChannelEvent, want Status) StatusChanged {
	t.Helper()
	ev := recvChannelEvent(t, ch, wait)
	status, ok := ev.(StatusChanged)
	require.True(t, ok, "expected status event, got %T", ev)
	require.Equal(t, want, status.Status)
	return status
}

func TestChannel_TokenFailureNeverDials(t *testing.T) {
	h := newChannelHarness(t)
	h.tokens.err = &service.APIError{StatusCode: 401, Status: "401 Unauthorized"}

	h.channel.Open(context.Background())

	ev := expectStatus(t, h.channel.Events(), StatusConnectionFailed)
	assert.Error(t, ev.Err)
	assert.Equal(t, int32(0), h.dialer.calls.Load())
	assert.Equal(t, StatusConnectionFailed, h.channel.Status())
}

func TestChannel_InitialConnectFailureIsTerminal(t *testing.T) {
	h := newChannelHarness(t)
	h.dialer.queue(nil, errors.New("connection refused"))

	h.channel.Open(context.Background())

	expectStatus(t, h.channel.Events(), StatusConnectionFailed)
	assert.Equal(t, int32(1), h.dialer.calls.Load())
	assert.ErrorContains(t, h.channel.Err(), "connection refused")
}

func TestChannel_PresentsTokenAndDispatchesUpdates(t *testing.T) {
	h := newChannelHarness(t)
	sub := newFakeSub()
	h.dialer.queue(sub, nil)

	h.channel.Open(context.Background())
	expectStatus(t, h.channel.Events(), StatusConnected)

	req := h.dialer.lastRequest()
	assert.Equal(t, "channel-token", req.Token)
	assert.Equal(t, int64(42), req.SessionID)
	assert.Equal(t, "/topic/session/42/seats", req.Topic)
	assert.Equal(t, "ws://seats.test/ws/seats/websocket", req.URL)

	sub.msgs <- []byte("not json")
	sub.push(t, model.SeatUpdate{Id: 1, OriginId: "other", Taken: true})
	sub.push(t, model.SeatUpdate{Id: 2, OriginId: "self", Taken: true})

	first := recvChannelEvent(t, h.channel.Events(), wait).(SeatUpdated)
	assert.Equal(t, int64(1), first.Update.Id)
	assert.False(t, first.Self)

	second := recvChannelEvent(t, h.channel.Events(), wait).(SeatUpdated)
	assert.Equal(t, int64(2), second.Update.Id)
	assert.True(t, second.Self)
}

func TestChannel_TTLFiresOnceAndTearsDown(t *testing.T) {
	h := newChannelHarness(t)
	first := newFakeSub()
	second := newFakeSub()
	h.dialer.queue(first, nil)
	h.dialer.queue(second, nil)

	h.channel.Open(context.Background())
	expectStatus(t, h.channel.Events(), StatusConnected)
	assert.Equal(t, h.clock.Now().Add(DefaultTTL), h.channel.ExpiresAt())

	first.drop <- io.ErrUnexpectedEOF
	require.Eventually(t, func() bool { return h.dialer.calls.Load() == 2 }, wait, 5*time.Millisecond)
	_, ok := recvChannelEvent(t, h.channel.Events(), wait).(Reconnected)
	require.True(t, ok, "expected reconnect marker")
	assert.Equal(t, []time.Duration{DefaultReconnectDelay}, h.clock.delays())
	assert.Equal(t, 1, h.clock.timerCount(), "reconnects must not start another TTL timer")

	h.clock.Advance(DefaultTTL - time.Second)
	recvNoChannelEvent(t, h.channel.Events(), 50*time.Millisecond)

	h.clock.Advance(time.Second)
	expectStatus(t, h.channel.Events(), StatusExpired)

	select {
	case <-second.closed:
	case <-time.After(wait):
		t.Fatal("transport not torn down after expiry")
	}

	h.clock.Advance(DefaultTTL)
	recvNoChannelEvent(t, h.channel.Events(), 50*time.Millisecond)
	assert.Equal(t, StatusExpired, h.channel.Status())
}

func TestChannel_ExpiryWhileStarting(t *testing.T) {
	h := newChannelHarness(t)

	h.channel.Open(context.Background())
	h.clock.Advance(DefaultTTL)

	expectStatus(t, h.channel.Events(), StatusExpired)
}

func TestChannel_ReconnectRejectedIsTerminal(t *testing.T) {
	h := newChannelHarness(t)
	sub := newFakeSub()
	h.dialer.queue(sub, nil)
	h.dialer.queue(nil, ErrUnauthorized)

	h.channel.Open(context.Background())
	expectStatus(t, h.channel.Events(), StatusConnected)

	sub.drop <- io.EOF
	ev := expectStatus(t, h.channel.Events(), StatusConnectionFailed)
	assert.ErrorIs(t, ev.Err, ErrUnauthorized)
}

func TestChannel_ReconnectNetworkFailureKeepsRetrying(t *testing.T) {
	h := newChannelHarness(t)
	first := newFakeSub()
	second := newFakeSub()
	h.dialer.queue(first, nil)
	h.dialer.queue(nil, errors.New("connection reset"))
	h.dialer.queue(second, nil)

	h.channel.Open(context.Background())
	expectStatus(t, h.channel.Events(), StatusConnected)

	first.drop <- io.EOF
	require.Eventually(t, func() bool { return h.dialer.calls.Load() == 3 }, wait, 5*time.Millisecond)

	marker, ok := recvChannelEvent(t, h.channel.Events(), wait).(Reconnected)
	require.True(t, ok, "expected reconnect marker")
	assert.Equal(t, 2, marker.Attempt)

	second.push(t, model.SeatUpdate{Id: 9, OriginId: "other", Taken: true})
	ev := recvChannelEvent(t, h.channel.Events(), wait)
	update, ok := ev.(SeatUpdated)
	require.True(t, ok, "expected seat update, got %T", ev)
	assert.Equal(t, int64(9), update.Update.Id)
	assert.Equal(t, StatusConnected, h.channel.Status())
}

func TestChannel_ReconnectMarkerPrecedesFreshUpdates(t *testing.T) {
	h := newChannelHarness(t)
	first := newFakeSub()
	second := newFakeSub()
	h.dialer.queue(first, nil)
	h.dialer.queue(second, nil)

	h.channel.Open(context.Background())
	expectStatus(t, h.channel.Events(), StatusConnected)

	first.push(t, model.SeatUpdate{Id: 1, OriginId: "other", Taken: true, Version: 40})
	_, ok := recvChannelEvent(t, h.channel.Events(), wait).(SeatUpdated)
	require.True(t, ok)

	first.drop <- io.EOF
	_, ok = recvChannelEvent(t, h.channel.Events(), wait).(Reconnected)
	require.True(t, ok, "expected reconnect marker")

	second.push(t, model.SeatUpdate{Id: 1, OriginId: "other", Version: 3})
	update, ok := recvChannelEvent(t, h.channel.Events(), wait).(SeatUpdated)
	require.True(t, ok)
	assert.Equal(t, int64(3), update.Update.Version)
	assert.Equal(t, StatusConnected, h.channel.Status())
}

func TestChannel_CloseIsIdempotentAfterTerminalStates(t *testing.T) {
	h := newChannelHarness(t)
	h.tokens.err = errors.New("boom")

	h.channel.Open(context.Background())
	expectStatus(t, h.channel.Events(), StatusConnectionFailed)

	require.NoError(t, h.channel.Close())
	require.NoError(t, h.channel.Close())

	timer := h.clock.timers[0]
	assert.True(t, timer.isStopped())

	h.clock.Advance(DefaultTTL)
	assert.Equal(t, StatusConnectionFailed, h.channel.Status())

	_, ok := <-h.channel.Events()
	assert.False(t, ok)
}

func TestChannel_CloseTearsDownHealthyTransport(t *testing.T) {
	h := newChannelHarness(t)
	sub := newFakeSub()
	h.dialer.queue(sub, nil)

	h.channel.Open(context.Background())
	expectStatus(t, h.channel.Events(), StatusConnected)

	require.NoError(t, h.channel.Close())
	assert.Equal(t, int32(1), sub.closes.Load())
	assert.True(t, h.clock.timers[0].isStopped())
	assert.Equal(t, StatusConnected, h.channel.Status())
}

func TestChannel_CloseBeforeOpen(t *testing.T) {
	h := newChannelHarness(t)

	require.NoError(t, h.channel.Close())
	h.channel.Open(context.Background())

	assert.Equal(t, 0, h.clock.timerCount())
	assert.Equal(t, int32(0), h.tokens.calls.Load())
}

func TestChannel_RenewsExpiredTokenBeforeReconnect(t *testing.T) {
	h := newChannelHarness(t)
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": h.clock.Now().Add(-time.Minute).Unix(),
	})
	stale, err := expired.SignedString([]byte("secret"))
	require.NoError(t, err)
	h.tokens.token = stale

	first := newFakeSub()
	h.dialer.queue(first, nil)
	h.dialer.queue(newFakeSub(), nil)

	h.channel.Open(context.Background())
	expectStatus(t, h.channel.Events(), StatusConnected)

	first.drop <- io.EOF
	require.Eventually(t, func() bool { return h.dialer.calls.Load() == 2 }, wait, 5*time.Millisecond)
	assert.Equal(t, int32(2), h.tokens.calls.Load())
}

func TestTokenExpired(t *testing.T) {
	now := time.Now()
	sign := func(claims jwt.MapClaims) string {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
		require.NoError(t, err)
		return token
	}

	assert.True(t, tokenExpired(sign(jwt.MapClaims{"exp": now.Add(-time.Second).Unix()}), now))
	assert.False(t, tokenExpired(sign(jwt.MapClaims{"exp": now.Add(time.Hour).Unix()}), now))
	assert.False(t, tokenExpired(sign(jwt.MapClaims{"sub": "42"}), now))
	assert.False(t, tokenExpired("opaque-token", now))
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "connection-failed", StatusConnectionFailed.String())
	assert.True(t, StatusExpired.Terminal())
	assert.False(t, StatusConnected.Terminal())
	assert.ErrorIs(t, StatusExpired.Err(), ErrExpired)
}
