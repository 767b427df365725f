package reservation

import (
	"context"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seatctl/model"
	"seatctl/service"
)

type sessionHarness struct {
	*channelHarness
	holds    *recordingHolds
	checkout *fakeCheckout
	session  *Session
}

func newSessionHarness(t *testing.T, seats []model.Seat) *sessionHarness {
	t.Helper()
	ch := newChannelHarness(t)
	h := &sessionHarness{
		channelHarness: ch,
		holds:          &recordingHolds{fail: map[int64]error{}},
		checkout:       &fakeCheckout{res: model.BookingResponse{BookingId: 77, CheckoutId: "cs_77", CheckoutUrl: "https://pay.test/cs_77"}},
	}
	session, err := Open(context.Background(), SessionConfig{
		SessionID: 42,
		Seats:     seats,
		Identity:  ch.identity,
		Holds:     h.holds,
		Checkout:  h.checkout,
		Channel:   ch.channel,
	})
	require.NoError(t, err)
	h.session = session
	t.Cleanup(func() { _ = session.Close() })
	return h
}

func expectSessionStatus(t *testing.T, s *Session, want Status) {
	t.Helper()
	ev := recvEvent(t, s.Events(), wait)
	status, ok := ev.(StatusEvent)
	require.True(t, ok, "expected status event, got %T", ev)
	require.Equal(t, want, status.Status)
}

func expectSeatEvent(t *testing.T, s *Session) SeatEvent {
	t.Helper()
	ev := recvEvent(t, s.Events(), wait)
	seat, ok := ev.(SeatEvent)
	require.True(t, ok, "expected seat event, got %T", ev)
	return seat
}

func selectedIDs(s *Session) []int64 {
	ids := []int64{}
	for _, seat := range s.Snapshot().Selected {
		ids = append(ids, seat.Id)
	}
	return ids
}

func TestOpen_RequiresCollaborators(t *testing.T) {
	_, err := Open(context.Background(), SessionConfig{SessionID: 1})
	assert.Error(t, err)
}

func TestSession_SixthSeatRejectedWithoutHoldCall(t *testing.T) {
	h := newSessionHarness(t, testSeats())
	ctx := context.Background()

	for id := int64(1); id <= 5; id++ {
		action, err := h.session.Toggle(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, ActionReserved, action)
	}

	_, err := h.session.Toggle(ctx, 6)
	assert.ErrorIs(t, err, ErrSelectionLimit)
	assert.Equal(t, 5, h.holds.reserveCalls())
	assert.Len(t, h.session.Snapshot().Selected, MaxSelectedSeats)
	assert.Equal(t, "Seat limit reached", Describe(OpSelect, err).Title)
}

func TestSession_ConflictNeverAdds(t *testing.T) {
	h := newSessionHarness(t, testSeats())
	h.holds.fail[2] = &service.APIError{StatusCode: http.StatusConflict, Status: "409 Conflict"}

	_, err := h.session.Toggle(context.Background(), 2)

	require.Error(t, err)
	assert.True(t, service.IsConflict(err))
	assert.Empty(t, selectedIDs(h.session))
	assert.Equal(t, "This seat is already taken. Please select another seat.", Describe(OpSelect, err).Message)
}

func TestSession_ReleaseFailureKeepsSeat(t *testing.T) {
	h := newSessionHarness(t, testSeats())
	ctx := context.Background()
	_, err := h.session.Toggle(ctx, 1)
	require.NoError(t, err)

	h.holds.mu.Lock()
	h.holds.fail[-1] = &service.APIError{StatusCode: http.StatusInternalServerError, Status: "500 Internal Server Error"}
	h.holds.mu.Unlock()

	_, err = h.session.Toggle(ctx, 1)
	require.Error(t, err)
	assert.Equal(t, []int64{1}, selectedIDs(h.session))
	assert.Equal(t, Notice{Title: "Failed to deselect seat", Message: "Something went wrong on the server. Please try again later."}, Describe(OpDeselect, err))

	h.holds.mu.Lock()
	delete(h.holds.fail, -1)
	h.holds.mu.Unlock()

	action, err := h.session.Toggle(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ActionReleased, action)
	assert.Empty(t, selectedIDs(h.session))
}

func TestSession_ToggleInFlightIsInert(t *testing.T) {
	h := newSessionHarness(t, testSeats())
	h.holds.gate = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = h.session.Toggle(context.Background(), 3)
	}()
	require.Eventually(t, func() bool { return h.holds.reserveCalls() == 1 }, wait, 5*time.Millisecond)
	assert.Equal(t, map[int64]bool{3: true}, h.session.Snapshot().Pending)

	_, err := h.session.Toggle(context.Background(), 3)
	assert.ErrorIs(t, err, ErrToggleInFlight)

	_, err = h.session.Checkout(context.Background(), "ok", "cancel")
	assert.ErrorIs(t, err, ErrNoSeatsSelected)

	h.holds.gate <- struct{}{}
	wg.Wait()
	require.NoError(t, firstErr)
	assert.Equal(t, []int64{3}, selectedIDs(h.session))
	assert.Equal(t, 1, h.holds.reserveCalls())
}

func TestSession_SelfEchoUpdatesTakenKeepsSelection(t *testing.T) {
	h := newSessionHarness(t, testSeats())
	sub := newFakeSub()
	h.dialer.queue(sub, nil)
	expectSessionStatus(t, h.session, StatusConnected)

	_, err := h.session.Toggle(context.Background(), 7)
	require.NoError(t, err)

	sub.push(t, model.SeatUpdate{Id: 7, OriginId: "self", Taken: true})
	ev := expectSeatEvent(t, h.session)
	assert.True(t, ev.Self)
	assert.False(t, ev.Removed)

	snap := h.session.Snapshot()
	require.Len(t, snap.Selected, 1)
	assert.Equal(t, int64(7), snap.Selected[0].Id)
	assert.True(t, snap.Selected[0].Taken)
}

func TestSession_ReconnectAcceptsRestartedVersions(t *testing.T) {
	h := newSessionHarness(t, testSeats())
	first := newFakeSub()
	second := newFakeSub()
	h.dialer.queue(first, nil)
	h.dialer.queue(second, nil)
	expectSessionStatus(t, h.session, StatusConnected)

	first.push(t, model.SeatUpdate{Id: 1, OriginId: "other", Taken: true, Version: 40})
	assert.True(t, expectSeatEvent(t, h.session).Changed)

	first.drop <- io.EOF
	second.push(t, model.SeatUpdate{Id: 1, OriginId: "other", Version: 3})
	ev := expectSeatEvent(t, h.session)
	assert.True(t, ev.Changed)

	seat := h.session.Snapshot().Seats[0]
	assert.Equal(t, int64(1), seat.Id)
	assert.False(t, seat.Taken)
}

func TestSession_ExpirationPushRemovesSeat(t *testing.T) {
	h := newSessionHarness(t, testSeats())
	sub := newFakeSub()
	h.dialer.queue(sub, nil)
	expectSessionStatus(t, h.session, StatusConnected)

	for _, id := range []int64{3, 4} {
		_, err := h.session.Toggle(context.Background(), id)
		require.NoError(t, err)
	}

	sub.push(t, model.SeatUpdate{Id: 3, OriginId: model.ExpirationOrigin, Taken: false})
	ev := expectSeatEvent(t, h.session)
	assert.True(t, ev.Removed)
	assert.Equal(t, []int64{4}, selectedIDs(h.session))
	assert.Equal(t, 0, len(h.holds.releases), "a lapsed hold has nothing to release")
}

func TestSession_ExpiryBlocksFurtherActions(t *testing.T) {
	h := newSessionHarness(t, testSeats())
	_, err := h.session.Toggle(context.Background(), 1)
	require.NoError(t, err)

	h.clock.Advance(DefaultTTL)
	expectSessionStatus(t, h.session, StatusExpired)

	_, err = h.session.Toggle(context.Background(), 2)
	assert.ErrorIs(t, err, ErrExpired)
	_, err = h.session.Checkout(context.Background(), "ok", "cancel")
	assert.ErrorIs(t, err, ErrExpired)
	assert.Equal(t, 0, h.checkout.callCount())

	notice := Describe(OpSelect, err)
	assert.True(t, notice.Fatal)
	assert.Equal(t, "Session Expired", notice.Title)
	assert.Contains(t, notice.Message, "5 minutes")
}

func TestSession_ExpiryNoticeUsesWindowLength(t *testing.T) {
	ch := newChannelHarness(t)
	ch.channel = NewChannel(42, ch.identity, ch.tokens, ch.dialer, ChannelOptions{
		TTL:   2 * time.Minute,
		Clock: ch.clock,
	})
	session, err := Open(context.Background(), SessionConfig{
		SessionID: 42,
		Seats:     testSeats(),
		Identity:  ch.identity,
		Holds:     &recordingHolds{fail: map[int64]error{}},
		Checkout:  &fakeCheckout{},
		Channel:   ch.channel,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	ch.clock.Advance(2 * time.Minute)
	expectSessionStatus(t, session, StatusExpired)

	_, err = session.Toggle(context.Background(), 1)
	var expired *ExpiredError
	require.ErrorAs(t, err, &expired)
	assert.Equal(t, 2*time.Minute, expired.TTL)

	notice := Describe(OpSelect, err)
	assert.Contains(t, notice.Message, "expired after 2 minutes.")
	assert.NotContains(t, notice.Message, "5 minutes")
}

func TestSession_EmptyCheckoutMakesNoCall(t *testing.T) {
	h := newSessionHarness(t, testSeats())

	_, err := h.session.Checkout(context.Background(), "ok", "cancel")

	assert.ErrorIs(t, err, ErrNoSeatsSelected)
	assert.Equal(t, 0, h.checkout.callCount())
	assert.Equal(t, Notice{Title: "No seats selected", Message: "Please select at least one seat to continue."}, Describe(OpCheckout, err))
}

func TestSession_CheckoutGoneKeepsSession(t *testing.T) {
	h := newSessionHarness(t, testSeats())
	h.checkout.err = &service.APIError{StatusCode: http.StatusGone, Status: "410 Gone"}
	_, err := h.session.Toggle(context.Background(), 1)
	require.NoError(t, err)

	_, err = h.session.Checkout(context.Background(), "ok", "cancel")

	assert.True(t, service.IsGone(err))
	notice := Describe(OpCheckout, err)
	assert.Equal(t, "This session is no longer accepting bookings.", notice.Message)
	assert.True(t, notice.Fatal)
	assert.False(t, h.session.Snapshot().Closed)
}

func TestSession_CloseDiscardsLateResults(t *testing.T) {
	h := newSessionHarness(t, testSeats())
	h.holds.gate = make(chan struct{})

	result := make(chan error, 1)
	go func() {
		_, err := h.session.Toggle(context.Background(), 5)
		result <- err
	}()
	require.Eventually(t, func() bool { return h.holds.reserveCalls() == 1 }, wait, 5*time.Millisecond)

	require.NoError(t, h.session.Close())

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrSessionClosed)
	case <-time.After(wait):
		t.Fatal("in-flight toggle was not cancelled")
	}
	assert.Empty(t, selectedIDs(h.session))
	assert.True(t, h.session.Snapshot().Closed)

	require.NoError(t, h.session.Close())
	_, ok := <-h.session.Events()
	assert.False(t, ok)
}

func TestSession_EndToEndSession42SeatA1(t *testing.T) {
	seats := []model.Seat{
		{Id: 101, Row: "A", Number: 1, Category: model.SeatStandard},
		{Id: 102, Row: "A", Number: 2, Category: model.SeatStandard},
	}
	h := newSessionHarness(t, seats)
	sub := newFakeSub()
	h.dialer.queue(sub, nil)
	expectSessionStatus(t, h.session, StatusConnected)

	action, err := h.session.Toggle(context.Background(), 101)
	require.NoError(t, err)
	assert.Equal(t, ActionReserved, action)
	assert.Equal(t, h.identity.ClientID, h.holds.clientID)

	sub.push(t, model.SeatUpdate{Id: 101, OriginId: h.identity.ClientID, Taken: true})
	expectSeatEvent(t, h.session)

	snap := h.session.Snapshot()
	require.Len(t, snap.Selected, 1)
	assert.Equal(t, "A1", snap.Selected[0].Label())
	assert.True(t, snap.Selected[0].Taken)

	res, err := h.session.Checkout(context.Background(), "https://app.test/success", "https://app.test/cancel")
	require.NoError(t, err)
	assert.Equal(t, "https://pay.test/cs_77", res.CheckoutUrl)

	require.Equal(t, 1, h.checkout.callCount())
	req := h.checkout.calls[0]
	assert.Equal(t, int64(42), req.SessionId)
	assert.Equal(t, []int64{101}, req.SeatIds)
	assert.Equal(t, "https://app.test/success", req.SuccessUrl)

	assert.True(t, h.session.Snapshot().Closed)
	_, err = h.session.Toggle(context.Background(), 102)
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Equal(t, int32(1), sub.closes.Load())
}
