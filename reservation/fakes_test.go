package reservation

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"seatctl/model"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
	afters []time.Duration
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// After fires at once; the requested delay is recorded.
func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.afters = append(c.afters, d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

func (c *fakeClock) timerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *fakeClock) delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.afters...)
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (t *fakeTimer) isStopped() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	return t.stopped
}

type fakeTokens struct {
	calls atomic.Int32
	token string
	err   error
}

func (f *fakeTokens) ChannelToken(ctx context.Context, clientID string) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

type dialResult struct {
	sub *fakeSub
	err error
}

// fakeDialer hands out queued results and blocks once the queue is empty.
type fakeDialer struct {
	results chan dialResult
	calls   atomic.Int32

	mu       sync.Mutex
	requests []DialRequest
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{results: make(chan dialResult, 16)}
}

func (d *fakeDialer) queue(sub *fakeSub, err error) {
	d.results <- dialResult{sub: sub, err: err}
}

func (d *fakeDialer) Dial(ctx context.Context, req DialRequest) (Subscription, error) {
	d.calls.Add(1)
	d.mu.Lock()
	d.requests = append(d.requests, req)
	d.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-d.results:
		if r.err != nil {
			return nil, r.err
		}
		return r.sub, nil
	}
}

func (d *fakeDialer) lastRequest() DialRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests[len(d.requests)-1]
}

type fakeSub struct {
	msgs      chan []byte
	drop      chan error
	closed    chan struct{}
	closeOnce sync.Once
	closes    atomic.Int32
}

func newFakeSub() *fakeSub {
	return &fakeSub{
		msgs:   make(chan []byte, 16),
		drop:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (s *fakeSub) Next(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-s.drop:
		return nil, err
	case body := <-s.msgs:
		return body, nil
	}
}

func (s *fakeSub) Close() error {
	s.closes.Add(1)
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSub) push(t *testing.T, update model.SeatUpdate) {
	t.Helper()
	body, err := json.Marshal(update)
	if err != nil {
		t.Fatalf("marshal update: %v", err)
	}
	s.msgs <- body
}

// recordingHolds records every hold call. When gate is set, calls block
// until a value is sent on it.
type recordingHolds struct {
	mu       sync.Mutex
	reserves []int64
	releases []int64
	clientID string
	fail     map[int64]error
	gate     chan struct{}
}

func (h *recordingHolds) ReserveSeat(ctx context.Context, sessionID int64, seatID int64, clientID string) error {
	h.mu.Lock()
	h.reserves = append(h.reserves, seatID)
	h.clientID = clientID
	err := h.fail[seatID]
	gate := h.gate
	h.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (h *recordingHolds) ReleaseSeat(ctx context.Context, sessionID int64, seatID int64, clientID string) error {
	h.mu.Lock()
	h.releases = append(h.releases, seatID)
	err := h.fail[-seatID]
	gate := h.gate
	h.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (h *recordingHolds) reserveCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.reserves)
}

type fakeCheckout struct {
	mu    sync.Mutex
	calls []model.BookingRequest
	res   model.BookingResponse
	err   error
}

func (f *fakeCheckout) CreateBooking(ctx context.Context, req model.BookingRequest) (model.BookingResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return f.res, f.err
}

func (f *fakeCheckout) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func recvChannelEvent(t *testing.T, ch <-chan ChannelEvent, within time.Duration) ChannelEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatalf("channel events closed unexpectedly")
		}
		return ev
	case <-time.After(within):
		t.Fatalf("timed out waiting for channel event")
		return nil
	}
}

func recvEvent(t *testing.T, ch <-chan Event, within time.Duration) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatalf("session events closed unexpectedly")
		}
		return ev
	case <-time.After(within):
		t.Fatalf("timed out waiting for session event")
		return nil
	}
}

func recvNoChannelEvent(t *testing.T, ch <-chan ChannelEvent, within time.Duration) {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			return
		}
		t.Fatalf("expected no channel event within %v, got %+v", within, ev)
	case <-time.After(within):
	}
}

func testSeats() []model.Seat {
	return []model.Seat{
		{Id: 1, Row: "A", Number: 1, Category: model.SeatStandard},
		{Id: 2, Row: "A", Number: 2, Category: model.SeatStandard},
		{Id: 3, Row: "A", Number: 3, Category: model.SeatStandard},
		{Id: 4, Row: "B", Number: 1, Category: model.SeatVIP},
		{Id: 5, Row: "B", Number: 2, Category: model.SeatVIP},
		{Id: 6, Row: "B", Number: 3, Category: model.SeatVIP},
		{Id: 7, Row: "C", Number: 1, Category: model.SeatPWD},
	}
}
