package reservation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"seatctl/model"
)

// HoldClient places and drops short-lived seat holds. *service.Client
// satisfies it.
type HoldClient interface {
	ReserveSeat(ctx context.Context, sessionID int64, seatID int64, clientID string) error
	ReleaseSeat(ctx context.Context, sessionID int64, seatID int64, clientID string) error
}

// CheckoutClient turns held seats into a booking.
type CheckoutClient interface {
	CreateBooking(ctx context.Context, req model.BookingRequest) (model.BookingResponse, error)
}

type SessionConfig struct {
	SessionID int64
	Seats     []model.Seat
	Identity  Identity
	Holds     HoldClient
	Checkout  CheckoutClient
	// Channel is opened by the session and closed with it.
	Channel *Channel
	Logger  *zap.Logger
}

// Event is emitted by a Session after it applied something the user did not
// trigger directly.
type Event interface {
	isEvent()
}

// StatusEvent reports a channel status change.
type StatusEvent struct {
	Status Status
	Err    error
}

// SeatEvent reports a pushed seat update. Removed is set when the update
// dropped the seat from the selection.
type SeatEvent struct {
	Update  model.SeatUpdate
	Self    bool
	Changed bool
	Removed bool
}

func (StatusEvent) isEvent() {}
func (SeatEvent) isEvent()   {}

// Action is what a toggle did to the selection.
type Action int

const (
	ActionReserved Action = iota + 1
	ActionReleased
)

func (a Action) String() string {
	switch a {
	case ActionReserved:
		return "reserved"
	case ActionReleased:
		return "released"
	default:
		return "none"
	}
}

// Snapshot is a copy of a Session's state for rendering.
type Snapshot struct {
	SessionID int64
	Seats     []model.Seat
	Selected  []model.Seat
	Pending   map[int64]bool
	Status    Status
	ExpiresAt time.Time
	Closed    bool
}

// Session coordinates one user's seat selection for one movie session: it
// places holds, folds pushed updates into the selection and hands the
// result off to checkout.
type Session struct {
	id       int64
	identity Identity
	holds    HoldClient
	checkout CheckoutClient
	channel  *Channel
	logger   *zap.Logger
	events   *mailbox[Event]

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	selection  *Selection
	pending    map[int64]bool
	status     Status
	checkingIn bool
	consumed   bool
	closed     bool

	closeOnce sync.Once
	closeErr  error
}

// Open starts a session: the channel connects and the reservation window
// starts counting down.
func Open(ctx context.Context, cfg SessionConfig) (*Session, error) {
	if cfg.Holds == nil || cfg.Checkout == nil || cfg.Channel == nil {
		return nil, errors.New("reservation: holds, checkout and channel are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:        cfg.SessionID,
		identity:  cfg.Identity,
		holds:     cfg.Holds,
		checkout:  cfg.Checkout,
		channel:   cfg.Channel,
		logger:    logger.With(zap.Int64("session", cfg.SessionID)),
		events:    newMailbox[Event](),
		ctx:       sessionCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
		selection: NewSelection(cfg.Seats),
		pending:   make(map[int64]bool),
		status:    StatusStarting,
	}

	s.channel.Open(sessionCtx)
	go s.consume()
	return s, nil
}

func (s *Session) ID() int64 {
	return s.id
}

// Events delivers pushed changes in arrival order until the session closes.
func (s *Session) Events() <-chan Event {
	return s.events.Out()
}

// TTL is the length of the reservation window.
func (s *Session) TTL() time.Duration {
	return s.channel.TTL()
}

func (s *Session) consume() {
	defer close(s.done)
	for ev := range s.channel.Events() {
		switch ev := ev.(type) {
		case StatusChanged:
			s.applyStatus(ev)
		case SeatUpdated:
			s.applyUpdate(ev)
		case Reconnected:
			s.resync()
		}
	}
}

func (s *Session) applyStatus(ev StatusChanged) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.status = ev.Status
	s.events.Put(StatusEvent{Status: ev.Status, Err: ev.Err})
}

func (s *Session) resync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.selection.Apply(Resynced{})
}

func (s *Session) applyUpdate(ev SeatUpdated) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	wasSelected := s.selection.IsSelected(ev.Update.Id)
	changed := s.selection.Apply(Pushed{Update: ev.Update, Self: ev.Self})
	removed := wasSelected && !s.selection.IsSelected(ev.Update.Id)
	if removed {
		s.logger.Info("seat hold lapsed", zap.Int64("seat", ev.Update.Id))
	}
	s.events.Put(SeatEvent{Update: ev.Update, Self: ev.Self, Changed: changed, Removed: removed})
}

// usableLocked rejects actions once the window closed or the session ended.
func (s *Session) usableLocked() error {
	if s.closed || s.consumed {
		return ErrSessionClosed
	}
	if s.status == StatusExpired {
		return &ExpiredError{TTL: s.channel.TTL()}
	}
	return s.status.Err()
}

// callContext scopes a backend call to both the caller's ctx and the
// session's lifetime.
func (s *Session) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	callCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return callCtx, func() {
		stop()
		cancel()
	}
}

// Toggle reserves seatID when it is not selected and releases it when it is.
// The selection only changes once the hold call succeeds. While a toggle for
// a seat is in flight, further toggles of that seat fail with
// ErrToggleInFlight.
func (s *Session) Toggle(ctx context.Context, seatID int64) (Action, error) {
	s.mu.Lock()
	if err := s.usableLocked(); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	if s.checkingIn {
		s.mu.Unlock()
		return 0, ErrToggleInFlight
	}
	if _, busy := s.pending[seatID]; busy {
		s.mu.Unlock()
		return 0, ErrToggleInFlight
	}
	release := s.selection.IsSelected(seatID)
	if !release {
		if err := s.selection.CheckReserve(seatID, s.pendingReservesLocked()); err != nil {
			s.mu.Unlock()
			return 0, err
		}
	}
	s.pending[seatID] = !release
	s.mu.Unlock()

	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	var err error
	action := ActionReserved
	if release {
		action = ActionReleased
		err = s.holds.ReleaseSeat(callCtx, s.id, seatID, s.identity.ClientID)
	} else {
		err = s.holds.ReserveSeat(callCtx, s.id, seatID, s.identity.ClientID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, seatID)
	if s.closed || s.consumed {
		s.logger.Debug("discarding late hold result", zap.Int64("seat", seatID), zap.Stringer("action", action))
		return 0, ErrSessionClosed
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return 0, ctxErr
	}
	if err != nil {
		return 0, fmt.Errorf("%s seat %d: %w", action, seatID, err)
	}

	if release {
		s.selection.Apply(Released{SeatID: seatID})
	} else {
		s.selection.Apply(Reserved{SeatID: seatID})
	}
	return action, nil
}

func (s *Session) pendingReservesLocked() int {
	n := 0
	for _, reserve := range s.pending {
		if reserve {
			n++
		}
	}
	return n
}

// Checkout books the selected seats and returns where to send the user to
// pay. On success the session is consumed and closed.
func (s *Session) Checkout(ctx context.Context, successURL string, cancelURL string) (model.BookingResponse, error) {
	s.mu.Lock()
	if err := s.usableLocked(); err != nil {
		s.mu.Unlock()
		return model.BookingResponse{}, err
	}
	if s.selection.Len() == 0 {
		s.mu.Unlock()
		return model.BookingResponse{}, ErrNoSeatsSelected
	}
	if s.checkingIn || len(s.pending) > 0 {
		s.mu.Unlock()
		return model.BookingResponse{}, ErrToggleInFlight
	}
	s.checkingIn = true
	req := model.BookingRequest{
		SessionId:  s.id,
		SeatIds:    s.selection.SelectedIDs(),
		SuccessUrl: successURL,
		CancelUrl:  cancelURL,
	}
	s.mu.Unlock()

	callCtx, cancel := s.callContext(ctx)
	res, err := s.checkout.CreateBooking(callCtx, req)
	cancel()

	s.mu.Lock()
	s.checkingIn = false
	if s.closed {
		s.mu.Unlock()
		return model.BookingResponse{}, ErrSessionClosed
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.mu.Unlock()
		return model.BookingResponse{}, fmt.Errorf("checkout: %w", err)
	}
	s.consumed = true
	s.mu.Unlock()

	s.logger.Info("checkout created", zap.Int64("booking", res.BookingId), zap.Int("seats", len(req.SeatIds)))
	if closeErr := s.Close(); closeErr != nil {
		s.logger.Warn("closing consumed session", zap.Error(closeErr))
	}
	return res, nil
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := make(map[int64]bool, len(s.pending))
	for id, reserve := range s.pending {
		pending[id] = reserve
	}
	return Snapshot{
		SessionID: s.id,
		Seats:     s.selection.Seats(),
		Selected:  s.selection.Selected(),
		Pending:   pending,
		Status:    s.status,
		ExpiresAt: s.channel.ExpiresAt(),
		Closed:    s.closed || s.consumed,
	}
}

// Close tears the session down: in-flight calls are cancelled and their
// results discarded, the channel is closed and Events ends. It is safe to
// call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.cancel()
		s.closeErr = s.channel.Close()
		<-s.done
		s.events.Discard()
	})
	return s.closeErr
}
