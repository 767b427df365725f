package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"seatctl/config"
	"seatctl/model"
	"seatctl/reservation"
)

type testItem struct {
	value string
}

func (t testItem) Title() string       { return t.value }
func (t testItem) Description() string { return "" }
func (t testItem) FilterValue() string { return strings.ToLower(t.value) }

func setTestHome(t *testing.T) {
	t.Helper()
	root := t.TempDir()
	t.Setenv("HOME", root)
	t.Setenv("XDG_CONFIG_HOME", root)
	t.Setenv("XDG_CACHE_HOME", root)
}

func newFilterModel(t *testing.T, items []list.Item) *appModel {
	setTestHome(t)
	model := New(Options{}).(appModel)
	model.state = stateSelectMovie
	model.movieList = newList("Movies")
	model.movieList.SetItems(items)
	return &model
}

func TestHandleFilterInput_AppendsRunes(t *testing.T) {
	m := newFilterModel(t, []list.Item{
		testItem{value: "Dune"},
		testItem{value: "Drive"},
	})

	if !m.handleFilterInput(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")}) {
		t.Fatal("expected filter input to be handled")
	}
	if got := m.movieList.FilterValue(); got != "d" {
		t.Fatalf("expected filter value to be %q, got %q", "d", got)
	}

	if !m.handleFilterInput(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("u")}) {
		t.Fatal("expected filter input to be handled")
	}
	if got := m.movieList.FilterValue(); got != "du" {
		t.Fatalf("expected filter value to be %q, got %q", "du", got)
	}
}

func TestHandleFilterInput_Backspace(t *testing.T) {
	m := newFilterModel(t, []list.Item{
		testItem{value: "Dune"},
		testItem{value: "Drive"},
	})

	_ = m.handleFilterInput(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})
	_ = m.handleFilterInput(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("u")})

	if !m.handleFilterInput(tea.KeyMsg{Type: tea.KeyBackspace}) {
		t.Fatal("expected backspace to be handled")
	}
	if got := m.movieList.FilterValue(); got != "d" {
		t.Fatalf("expected filter value to be %q, got %q", "d", got)
	}
}

func TestHandleFilterInput_Space(t *testing.T) {
	m := newFilterModel(t, []list.Item{
		testItem{value: "The Matrix"},
	})

	_ = m.handleFilterInput(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("the")})

	if !m.handleFilterInput(tea.KeyMsg{Type: tea.KeySpace}) {
		t.Fatal("expected space to be handled")
	}
	if got := m.movieList.FilterValue(); got != "the " {
		t.Fatalf("expected filter value to be %q, got %q", "the ", got)
	}
}

func TestHandleFilterInput_IgnoredOnSeatMap(t *testing.T) {
	m := newFilterModel(t, nil)
	m.state = stateShowSeatMap

	if m.handleFilterInput(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")}) {
		t.Fatal("expected seat map keys to bypass list filtering")
	}
}

func TestSeatRows_OrdersRowsAndNumbers(t *testing.T) {
	rows := seatRows([]model.Seat{
		{Id: 5, Row: "AA", Number: 1},
		{Id: 2, Row: "B", Number: 2},
		{Id: 1, Row: "A", Number: 2},
		{Id: 3, Row: "B", Number: 1},
		{Id: 4, Row: "A", Number: 1},
	})

	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	got := []string{}
	for _, row := range rows {
		for _, seat := range row {
			got = append(got, seat.Label())
		}
	}
	want := "A1 A2 B1 B2 AA1"
	if strings.Join(got, " ") != want {
		t.Fatalf("expected %q, got %q", want, strings.Join(got, " "))
	}
}

func TestSeatToken_OwnSeatWinsOverTaken(t *testing.T) {
	seat := model.Seat{Id: 1, Row: "A", Number: 1, Taken: true}

	if token, status := seatToken(seat, true, false); token != "<>" || status != "selected" {
		t.Fatalf("expected own seat token, got %q/%q", token, status)
	}
	if token, _ := seatToken(seat, false, false); token != "XX" {
		t.Fatalf("expected taken token, got %q", token)
	}
	if token, _ := seatToken(seat, true, true); token != ".." {
		t.Fatalf("expected pending token, got %q", token)
	}
	if token, _ := seatToken(model.Seat{Category: model.SeatVIP}, false, false); token != "VV" {
		t.Fatalf("expected vip token, got %q", token)
	}
}

func TestFormatCountdown(t *testing.T) {
	cases := map[time.Duration]string{
		5 * time.Minute:                "05:00",
		4*time.Minute + 31*time.Second: "04:31",
		-time.Second:                   "00:00",
	}
	for in, want := range cases {
		if got := formatCountdown(in); got != want {
			t.Fatalf("expected %q for %s, got %q", want, in, got)
		}
	}
}

func TestBuildSessionItems_SkipsHiddenTheaters(t *testing.T) {
	now := time.Now()
	sessions := []model.MovieSession{
		{Id: 2, TheaterId: 10, TheaterName: "Downtown", StartTime: model.LocalTime{Time: now.Add(2 * time.Hour)}},
		{Id: 1, TheaterId: 11, TheaterName: "Mall", StartTime: model.LocalTime{Time: now.Add(time.Hour)}},
		{Id: 3, TheaterId: 10, TheaterName: "Downtown", StartTime: model.LocalTime{Time: now}},
	}

	items, hidden := buildSessionItems(sessions, map[int64]bool{11: true})
	if hidden != 1 {
		t.Fatalf("expected 1 hidden session, got %d", hidden)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 visible sessions, got %d", len(items))
	}
	if first := items[0].(sessionItem); first.session.Id != 3 {
		t.Fatalf("expected earliest session first, got %d", first.session.Id)
	}

	theaters := buildTheaterVisibilityItems(sessions, map[int64]bool{11: true})
	if len(theaters) != 2 {
		t.Fatalf("expected 2 theaters, got %d", len(theaters))
	}
	mall := theaters[1].(theaterVisibilityItem)
	if !mall.hidden || mall.sessionCount != 1 {
		t.Fatalf("unexpected theater item: %+v", mall)
	}
}

type stubHolds struct{}

func (stubHolds) ReserveSeat(context.Context, int64, int64, string) error { return nil }
func (stubHolds) ReleaseSeat(context.Context, int64, int64, string) error { return nil }

type stubCheckout struct {
	calls int
}

func (c *stubCheckout) CreateBooking(_ context.Context, req model.BookingRequest) (model.BookingResponse, error) {
	c.calls++
	return model.BookingResponse{BookingId: 9, CheckoutId: "cs_9", CheckoutUrl: ""}, nil
}

type stubTokens struct {
	err error
}

func (s stubTokens) ChannelToken(context.Context, string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "token", nil
}

// idleDialer never connects; the channel stays in its starting state.
type idleDialer struct{}

func (idleDialer) Dial(ctx context.Context, _ reservation.DialRequest) (reservation.Subscription, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newSeatModel(t *testing.T, tokens reservation.TokenSource) (appModel, *stubCheckout) {
	t.Helper()
	setTestHome(t)

	detail := model.SessionDetail{
		Id:                42,
		StandardSeatPrice: 10,
		Seats: []model.Seat{
			{Id: 101, Row: "A", Number: 1, Category: model.SeatStandard},
			{Id: 102, Row: "A", Number: 2, Category: model.SeatStandard},
		},
	}
	identity := reservation.Identity{ClientID: "self"}
	channel := reservation.NewChannel(42, identity, tokens, idleDialer{}, reservation.ChannelOptions{URL: "ws://seats.test"})
	checkout := &stubCheckout{}
	session, err := reservation.Open(context.Background(), reservation.SessionConfig{
		SessionID: 42,
		Seats:     detail.Seats,
		Identity:  identity,
		Holds:     stubHolds{},
		Checkout:  checkout,
		Channel:   channel,
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })

	m := New(Options{Config: config.ClientConfig{SuccessURL: "ok", CancelURL: "cancel"}, Identity: identity}).(appModel)
	m.state = stateShowSeatMap
	m.seat = newSeatScreen(session, detail, false)
	return m, checkout
}

func TestSeatScreen_ToggleSelectsSeat(t *testing.T) {
	m, _ := newSeatModel(t, stubTokens{})

	next, cmd, handled := m.handleKey(tea.KeyMsg{Type: tea.KeySpace})
	if !handled || cmd == nil {
		t.Fatal("expected space to dispatch a toggle")
	}
	if !next.seat.pending[101] {
		t.Fatalf("expected seat 101 pending, got %+v", next.seat.pending)
	}

	_, again, _ := next.handleKey(tea.KeyMsg{Type: tea.KeySpace})
	if again != nil {
		t.Fatal("expected a second toggle of an in-flight seat to be inert")
	}

	updated, _ := next.Update(cmd())
	got := updated.(appModel)
	if len(got.seat.pending) != 0 {
		t.Fatalf("expected no pending seats, got %+v", got.seat.pending)
	}
	if !got.seat.isSelected(101) {
		t.Fatal("expected seat 101 to be selected")
	}
	if view := got.seatScreenView(); !strings.Contains(view, "Seats: A1") || !strings.Contains(view, "$10.00") {
		t.Fatalf("expected booking summary in view, got:\n%s", view)
	}
}

func TestSeatScreen_EmptyCheckoutShowsNotice(t *testing.T) {
	m, checkout := newSeatModel(t, stubTokens{})

	next, cmd, _ := m.handleKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
	if cmd == nil {
		t.Fatal("expected checkout command")
	}
	updated, _ := next.Update(cmd())
	got := updated.(appModel)

	if got.state != stateShowSeatMap {
		t.Fatalf("expected to stay on the seat map, got %v", got.state)
	}
	if got.seat.notice.Title != "No seats selected" {
		t.Fatalf("expected no seats notice, got %+v", got.seat.notice)
	}
	if checkout.calls != 0 {
		t.Fatalf("expected no checkout call, got %d", checkout.calls)
	}
}

func TestSeatScreen_CheckoutHandsOff(t *testing.T) {
	m, checkout := newSeatModel(t, stubTokens{})

	next, cmd, _ := m.handleKey(tea.KeyMsg{Type: tea.KeySpace})
	updated, _ := next.Update(cmd())
	m = updated.(appModel)

	next, cmd, _ = m.handleKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
	if !next.seat.checkingOut {
		t.Fatal("expected checkout in progress")
	}
	updated, _ = next.Update(cmd())
	got := updated.(appModel)

	if got.state != stateCheckoutReady {
		t.Fatalf("expected checkout screen, got %v", got.state)
	}
	if got.booking.BookingId != 9 || checkout.calls != 1 {
		t.Fatalf("unexpected booking %+v after %d calls", got.booking, checkout.calls)
	}
	if got.seat.session != nil {
		t.Fatal("expected the seat session to be released")
	}
}

func TestSeatScreen_ConnectionFailureBlocks(t *testing.T) {
	m, _ := newSeatModel(t, stubTokens{err: errors.New("token endpoint down")})

	msg := listenCmd(m.seat.session)()
	updated, cmd := m.Update(msg)
	got := updated.(appModel)

	if got.state != stateSessionEnded {
		t.Fatalf("expected blocking notice, got %v", got.state)
	}
	if got.seat.notice.Title != "Connection error" || !got.seat.notice.Fatal {
		t.Fatalf("unexpected notice: %+v", got.seat.notice)
	}
	if cmd == nil {
		t.Fatal("expected the listener to be re-armed")
	}

	_, blocked, handled := got.handleKey(tea.KeyMsg{Type: tea.KeySpace})
	if !handled || blocked != nil {
		t.Fatal("expected seat keys to be ignored while blocked")
	}

	back, closeCmd, _ := got.handleKey(tea.KeyMsg{Type: tea.KeyEsc})
	if back.state != stateShowSessions {
		t.Fatalf("expected esc to return to sessions, got %v", back.state)
	}
	if back.seat.session != nil || closeCmd == nil {
		t.Fatal("expected esc to close the seat session")
	}
}

func TestSeatScreen_StaleMessagesIgnored(t *testing.T) {
	m, _ := newSeatModel(t, stubTokens{})
	other, _ := newSeatModel(t, stubTokens{})

	updated, cmd := m.Update(toggleMsg{session: other.seat.session, seatID: 101, err: errors.New("late")})
	got := updated.(appModel)
	if cmd != nil || got.seat.notice.Title != "" {
		t.Fatalf("expected stale toggle result to be dropped, got %+v", got.seat.notice)
	}
}

func TestOpenSeatScreen_ClosesSessionAfterUserLeft(t *testing.T) {
	m, _ := newSeatModel(t, stubTokens{})
	session := m.seat.session
	m.seat = seatScreen{}
	m.state = stateShowSessions

	_, cmd := m.Update(seatSessionMsg{sessionID: 42, session: session})
	if cmd == nil {
		t.Fatal("expected late session to be closed")
	}
	cmd()
	if !session.Snapshot().Closed {
		t.Fatal("expected session closed")
	}
}
