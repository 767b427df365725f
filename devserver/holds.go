package devserver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrHeld is returned when another user holds the seat.
var ErrHeld = errors.New("seat is temporarily reserved by another user")

// Lapse reports a hold that expired on its own.
type Lapse struct {
	SessionID int64
	SeatID    int64
}

// HoldStore keeps short-lived seat holds. A hold belongs to a user and lapses
// after the store's TTL unless released first.
type HoldStore interface {
	// Reserve fails with ErrHeld when the seat already has a hold.
	Reserve(ctx context.Context, sessionID int64, seatID int64, userID int64) error
	// Release drops the user's hold and reports whether there was one. A
	// seat with no hold is not an error; a seat held by someone else is
	// ErrHeld.
	Release(ctx context.Context, sessionID int64, seatID int64, userID int64) (bool, error)
	// Holders maps each held seat among seatIDs to the user holding it.
	Holders(ctx context.Context, sessionID int64, seatIDs []int64) (map[int64]int64, error)
	// ClearUser drops every hold the user has in a session and returns the
	// freed seats.
	ClearUser(ctx context.Context, sessionID int64, userID int64) ([]int64, error)
	// Lapses delivers holds that expired.
	Lapses() <-chan Lapse
	Close() error
}

const lapseBuffer = 256

// seatKey and userKey name holds the same way in every store.
func seatKey(sessionID int64, seatID int64) string {
	return fmt.Sprintf("Seat:%d:%d", seatID, sessionID)
}

func userKey(userID int64) string {
	return fmt.Sprintf("UserLocks:%d", userID)
}

func holderValue(userID int64) string {
	return "UserID:" + strconv.FormatInt(userID, 10)
}

// parseSeatKey reverses seatKey.
func parseSeatKey(key string) (sessionID int64, seatID int64, ok bool) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 || parts[0] != "Seat" {
		return 0, 0, false
	}
	seat, err1 := strconv.ParseInt(parts[1], 10, 64)
	session, err2 := strconv.ParseInt(parts[2], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return session, seat, true
}

func parseHolder(value string) (int64, bool) {
	raw, ok := strings.CutPrefix(value, "UserID:")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil
}

type memoryHold struct {
	userID int64
	timer  *time.Timer
}

// MemoryHolds is a HoldStore for a single process.
type MemoryHolds struct {
	ttl    time.Duration
	logger *zap.Logger
	lapses chan Lapse

	mu     sync.Mutex
	holds  map[string]*memoryHold
	closed bool
}

func NewMemoryHolds(ttl time.Duration, logger *zap.Logger) *MemoryHolds {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryHolds{
		ttl:    ttl,
		logger: logger,
		lapses: make(chan Lapse, lapseBuffer),
		holds:  make(map[string]*memoryHold),
	}
}

func (m *MemoryHolds) Reserve(ctx context.Context, sessionID int64, seatID int64, userID int64) error {
	key := seatKey(sessionID, seatID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("hold store closed")
	}
	if _, held := m.holds[key]; held {
		return ErrHeld
	}
	hold := &memoryHold{userID: userID}
	hold.timer = time.AfterFunc(m.ttl, func() { m.lapse(key, hold) })
	m.holds[key] = hold
	return nil
}

func (m *MemoryHolds) lapse(key string, hold *memoryHold) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.holds[key] != hold {
		return
	}
	delete(m.holds, key)

	sessionID, seatID, _ := parseSeatKey(key)
	select {
	case m.lapses <- Lapse{SessionID: sessionID, SeatID: seatID}:
	default:
		m.logger.Warn("dropping hold lapse", zap.String("key", key))
	}
}

func (m *MemoryHolds) Release(ctx context.Context, sessionID int64, seatID int64, userID int64) (bool, error) {
	key := seatKey(sessionID, seatID)
	m.mu.Lock()
	defer m.mu.Unlock()
	hold, ok := m.holds[key]
	if !ok {
		return false, nil
	}
	if hold.userID != userID {
		return false, ErrHeld
	}
	hold.timer.Stop()
	delete(m.holds, key)
	return true, nil
}

func (m *MemoryHolds) Holders(ctx context.Context, sessionID int64, seatIDs []int64) (map[int64]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]int64)
	for _, seatID := range seatIDs {
		if hold, ok := m.holds[seatKey(sessionID, seatID)]; ok {
			out[seatID] = hold.userID
		}
	}
	return out, nil
}

func (m *MemoryHolds) ClearUser(ctx context.Context, sessionID int64, userID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var freed []int64
	for key, hold := range m.holds {
		session, seat, ok := parseSeatKey(key)
		if !ok || session != sessionID || hold.userID != userID {
			continue
		}
		hold.timer.Stop()
		delete(m.holds, key)
		freed = append(freed, seat)
	}
	return freed, nil
}

func (m *MemoryHolds) Lapses() <-chan Lapse {
	return m.lapses
}

func (m *MemoryHolds) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, hold := range m.holds {
		hold.timer.Stop()
	}
	clear(m.holds)
	close(m.lapses)
	return nil
}
