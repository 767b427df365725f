package tui

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"seatctl/model"
	"seatctl/reservation"
)

// seatScreen is the state of an open seat-selection session.
type seatScreen struct {
	session  *reservation.Session
	detail   model.SessionDetail
	snapshot reservation.Snapshot
	rows     [][]model.Seat

	cursorRow int
	cursorCol int

	// pending marks seats with a toggle on its way to the server.
	pending         map[int64]bool
	notice          reservation.Notice
	checkingOut     bool
	showSeatNumbers bool
	ticking         bool
	now             time.Time
}

type seatSessionMsg struct {
	sessionID int64
	detail    model.SessionDetail
	profile   model.UserProfile
	session   *reservation.Session
	needLogin bool
	err       error
}

type sessionEventMsg struct {
	session *reservation.Session
	event   reservation.Event
}

type sessionEndedMsg struct {
	session *reservation.Session
}

type toggleMsg struct {
	session *reservation.Session
	seatID  int64
	op      reservation.Op
	action  reservation.Action
	err     error
}

type checkoutMsg struct {
	session *reservation.Session
	res     model.BookingResponse
	err     error
}

type countdownMsg struct {
	session *reservation.Session
	at      time.Time
}

// noticeError carries a notice through the generic error screen.
type noticeError reservation.Notice

func (e noticeError) Error() string {
	return e.Title + " " + e.Message
}

func newSeatScreen(session *reservation.Session, detail model.SessionDetail, showNumbers bool) seatScreen {
	s := seatScreen{
		session:         session,
		detail:          detail,
		pending:         map[int64]bool{},
		showSeatNumbers: showNumbers,
	}
	s.refresh()
	return s
}

func (s *seatScreen) refresh() {
	if s.session == nil {
		return
	}
	s.snapshot = s.session.Snapshot()
	s.rows = seatRows(s.snapshot.Seats)
	s.clampCursor()
}

func (s *seatScreen) clampCursor() {
	if len(s.rows) == 0 {
		s.cursorRow, s.cursorCol = 0, 0
		return
	}
	s.cursorRow = max(0, min(s.cursorRow, len(s.rows)-1))
	s.cursorCol = max(0, min(s.cursorCol, len(s.rows[s.cursorRow])-1))
}

func (s *seatScreen) move(dRow int, dCol int) {
	s.cursorRow += dRow
	s.cursorCol += dCol
	s.clampCursor()
}

func (s seatScreen) cursorSeat() (model.Seat, bool) {
	if s.cursorRow >= len(s.rows) || s.cursorCol >= len(s.rows[s.cursorRow]) {
		return model.Seat{}, false
	}
	return s.rows[s.cursorRow][s.cursorCol], true
}

func (s seatScreen) isSelected(seatID int64) bool {
	for _, seat := range s.snapshot.Selected {
		if seat.Id == seatID {
			return true
		}
	}
	return false
}

func (s seatScreen) remaining() (time.Duration, bool) {
	if s.snapshot.ExpiresAt.IsZero() {
		return 0, false
	}
	now := s.now
	if now.IsZero() {
		now = time.Now()
	}
	return s.snapshot.ExpiresAt.Sub(now), true
}

func (s *seatScreen) startCountdown() tea.Cmd {
	if s.ticking || s.session == nil {
		return nil
	}
	s.ticking = true
	return countdownTick(s.session)
}

func countdownTick(session *reservation.Session) tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return countdownMsg{session: session, at: t}
	})
}

// listenCmd waits for the next pushed session event. It is re-armed after
// every event until the session closes.
func listenCmd(session *reservation.Session) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-session.Events()
		if !ok {
			return sessionEndedMsg{session: session}
		}
		return sessionEventMsg{session: session, event: ev}
	}
}

func toggleSeatCmd(session *reservation.Session, seatID int64, op reservation.Op) tea.Cmd {
	return func() tea.Msg {
		action, err := session.Toggle(context.Background(), seatID)
		return toggleMsg{session: session, seatID: seatID, op: op, action: action, err: err}
	}
}

func checkoutCmd(session *reservation.Session, successURL string, cancelURL string) tea.Cmd {
	return func() tea.Msg {
		res, err := session.Checkout(context.Background(), successURL, cancelURL)
		return checkoutMsg{session: session, res: res, err: err}
	}
}

func closeSessionCmd(session *reservation.Session, logger *zap.Logger) tea.Cmd {
	return func() tea.Msg {
		if err := session.Close(); err != nil {
			logger.Warn("closing seat session", zap.Int64("session", session.ID()), zap.Error(err))
		}
		return nil
	}
}

func (m appModel) openSeatScreen(msg seatSessionMsg) (tea.Model, tea.Cmd) {
	if m.state != stateLoadingSeatMap || msg.sessionID != m.pendingSessionID {
		if msg.session != nil {
			return m, closeSessionCmd(msg.session, m.logger)
		}
		return m, nil
	}
	if msg.err != nil {
		m.pendingSessionID = 0
		notice := reservation.Describe(reservation.OpLoad, msg.err)
		return m, errWithOptionsCmd(noticeError(notice), stateShowSessions)
	}
	if msg.needLogin {
		m.state = stateLogin
		return m, m.login.begin(stateShowSessions, "Sign in to pick seats.")
	}

	m.pendingSessionID = 0
	m.profile = msg.profile
	m.seat = newSeatScreen(msg.session, msg.detail, m.seat.showSeatNumbers)
	m.state = stateShowSeatMap
	return m, tea.Batch(listenCmd(msg.session), m.seat.startCountdown())
}

// leaveSeatScreen closes the live session; its holds lapse server-side.
func (m *appModel) leaveSeatScreen() tea.Cmd {
	session := m.seat.session
	m.seat = seatScreen{showSeatNumbers: m.seat.showSeatNumbers}
	if session == nil {
		return nil
	}
	return closeSessionCmd(session, m.logger)
}

func (m appModel) handleSeatKey(msg tea.KeyMsg) (appModel, tea.Cmd, bool) {
	if msg.Type == tea.KeySpace {
		return m.toggleCursorSeat()
	}
	switch msg.String() {
	case "up", "k":
		m.seat.move(-1, 0)
	case "down", "j":
		m.seat.move(1, 0)
	case "left", "h":
		m.seat.move(0, -1)
	case "right", "l":
		m.seat.move(0, 1)
	case "n":
		m.seat.showSeatNumbers = !m.seat.showSeatNumbers
	case "enter", "x":
		return m.toggleCursorSeat()
	case "c":
		return m.startCheckout()
	}
	return m, nil, true
}

func (m appModel) toggleCursorSeat() (appModel, tea.Cmd, bool) {
	seat, ok := m.seat.cursorSeat()
	if !ok || m.seat.session == nil || m.seat.checkingOut {
		return m, nil, true
	}
	if m.seat.pending[seat.Id] {
		return m, nil, true
	}
	op := reservation.OpSelect
	if m.seat.isSelected(seat.Id) {
		op = reservation.OpDeselect
	}
	m.seat.pending[seat.Id] = true
	m.seat.notice = reservation.Notice{}
	return m, toggleSeatCmd(m.seat.session, seat.Id, op), true
}

func (m appModel) startCheckout() (appModel, tea.Cmd, bool) {
	if m.seat.session == nil || m.seat.checkingOut {
		return m, nil, true
	}
	if len(m.seat.pending) > 0 {
		m.seat.notice = reservation.Describe(reservation.OpCheckout, reservation.ErrToggleInFlight)
		return m, nil, true
	}
	m.seat.checkingOut = true
	m.seat.notice = reservation.Notice{}
	return m, checkoutCmd(m.seat.session, m.cfg.SuccessURL, m.cfg.CancelURL), true
}

func (m appModel) applySessionEvent(msg sessionEventMsg) (tea.Model, tea.Cmd) {
	if m.seat.session == nil || msg.session != m.seat.session {
		return m, nil
	}
	m.seat.refresh()
	switch ev := msg.event.(type) {
	case reservation.StatusEvent:
		if ev.Status.Terminal() {
			notice := reservation.ExpiredNotice(m.seat.session.TTL())
			if ev.Status != reservation.StatusExpired {
				notice = reservation.Describe(reservation.OpChannel, ev.Status.Err())
			}
			m.seat.notice = notice
			m.login.reset()
			m.state = stateSessionEnded
		}
	case reservation.SeatEvent:
		if ev.Removed {
			label := fmt.Sprintf("seat %d", ev.Update.Id)
			for _, seat := range m.seat.snapshot.Seats {
				if seat.Id == ev.Update.Id {
					label = seat.Label()
				}
			}
			m.seat.notice = reservation.Notice{
				Title:   "Seat released",
				Message: fmt.Sprintf("Your hold on %s lapsed and it was removed from your selection.", label),
			}
		}
	}
	return m, listenCmd(msg.session)
}

func (m appModel) applyToggle(msg toggleMsg) (tea.Model, tea.Cmd) {
	if m.seat.session == nil || msg.session != m.seat.session {
		return m, nil
	}
	delete(m.seat.pending, msg.seatID)
	m.seat.refresh()
	if msg.err != nil {
		m.logger.Debug("seat toggle failed", zap.Int64("seat", msg.seatID), zap.Error(msg.err))
		return m.showNotice(reservation.Describe(msg.op, msg.err))
	}
	return m, nil
}

func (m appModel) applyCheckout(msg checkoutMsg) (tea.Model, tea.Cmd) {
	if m.seat.session == nil || msg.session != m.seat.session {
		return m, nil
	}
	m.seat.checkingOut = false
	if msg.err != nil {
		m.seat.refresh()
		return m.showNotice(reservation.Describe(reservation.OpCheckout, msg.err))
	}

	m.booking = msg.res
	m.paymentStatus = ""
	m.seat = seatScreen{showSeatNumbers: m.seat.showSeatNumbers}
	m.state = stateCheckoutReady
	return m, openURLCmd(msg.res.CheckoutUrl)
}

func (m appModel) applyCountdown(msg countdownMsg) (tea.Model, tea.Cmd) {
	if m.seat.session == nil || msg.session != m.seat.session {
		return m, nil
	}
	m.seat.now = msg.at
	if m.state != stateShowSeatMap {
		m.seat.ticking = false
		return m, nil
	}
	m.seat.refresh()
	return m, countdownTick(msg.session)
}

// showNotice routes a notice: fatal ones block the screen, reauth ones open
// the sign-in form and the rest are shown inline.
func (m appModel) showNotice(notice reservation.Notice) (tea.Model, tea.Cmd) {
	m.seat.notice = notice
	switch {
	case notice.Fatal:
		m.state = stateSessionEnded
	case notice.Reauth:
		if m.state == stateSessionEnded {
			return m, nil
		}
		m.state = stateLogin
		return m, m.login.begin(stateShowSeatMap, notice.Message)
	}
	return m, nil
}

func (m appModel) seatScreenView() string {
	s := m.seat
	var b strings.Builder

	status := fmt.Sprintf("Live: %s", s.snapshot.Status)
	if left, ok := s.remaining(); ok {
		status += " • Time left " + formatCountdown(left)
	}
	status += fmt.Sprintf(" • Selected %d/%d", len(s.snapshot.Selected), reservation.MaxSelectedSeats)
	b.WriteString(hint(status))
	b.WriteString("\n\n")
	b.WriteString(renderSeatMap(s))

	if s.notice.Title != "" {
		b.WriteString("\n\n")
		b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true).Render(s.notice.Title))
		b.WriteString("\n")
		b.WriteString(s.notice.Message)
	}

	b.WriteString("\n\n")
	b.WriteString(bookingSummary(s.detail, s.snapshot.Selected))
	if s.checkingOut {
		b.WriteString("\n" + hint("Creating booking..."))
	}
	return b.String()
}

func bookingSummary(detail model.SessionDetail, selected []model.Seat) string {
	if len(selected) == 0 {
		return hint("No seats selected.")
	}
	parts := make([]string, 0, len(selected))
	total := 0.0
	for _, seat := range selected {
		price := detail.SeatPrice(seat)
		total += price
		parts = append(parts, fmt.Sprintf("%s %s %s", seat.Label(), strings.ToLower(string(seat.Category)), formatPrice(price)))
	}
	return fmt.Sprintf("Seats: %s\nTotal: %s", strings.Join(parts, " • "), formatPrice(total))
}

// seatRows groups seats by row letter, front row first, each row ordered by
// seat number.
func seatRows(seats []model.Seat) [][]model.Seat {
	byRow := map[string][]model.Seat{}
	for _, seat := range seats {
		byRow[seat.Row] = append(byRow[seat.Row], seat)
	}
	keys := make([]string, 0, len(byRow))
	for k := range byRow {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) < len(keys[j])
		}
		return keys[i] < keys[j]
	})

	rows := make([][]model.Seat, 0, len(keys))
	for _, k := range keys {
		row := byRow[k]
		sort.Slice(row, func(i, j int) bool { return row[i].Number < row[j].Number })
		rows = append(rows, row)
	}
	return rows
}

func renderSeatMap(s seatScreen) string {
	if len(s.rows) == 0 {
		return "No seat map data."
	}

	selected := make(map[int64]bool, len(s.snapshot.Selected))
	for _, seat := range s.snapshot.Selected {
		selected[seat.Id] = true
	}
	pending := make(map[int64]bool, len(s.pending)+len(s.snapshot.Pending))
	for id := range s.snapshot.Pending {
		pending[id] = true
	}
	for id := range s.pending {
		pending[id] = true
	}

	rowWidth := 2
	maxCols := 0
	cellWidth := 2
	for _, row := range s.rows {
		rowWidth = max(rowWidth, len(row[0].Row))
		maxCols = max(maxCols, len(row))
		if s.showSeatNumbers {
			for _, seat := range row {
				cellWidth = max(cellWidth, len(strconv.Itoa(seat.Number)))
			}
		}
	}

	seatStyleAvailable := lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	seatStyleTaken := lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	seatStyleSelected := lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	seatStylePending := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	seatStyleVIP := lipgloss.NewStyle().Foreground(lipgloss.Color("5"))
	seatStyleAccessible := lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	cursorStyle := lipgloss.NewStyle().Reverse(true)

	gridWidth := maxCols*(cellWidth+1) - 1
	screenStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("0")).
		Background(lipgloss.Color("214"))
	screenBorderStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("214")).
		Background(lipgloss.Color("236"))
	screenBar := screenBarBlock(gridWidth, "SCREEN")

	var b strings.Builder
	indent := strings.Repeat(" ", rowWidth+1)
	b.WriteString(indent + screenBorderStyle.Render(screenBar.top) + "\n")
	b.WriteString(indent + screenStyle.Render(screenBar.mid) + "\n")
	b.WriteString(indent + screenBorderStyle.Render(screenBar.bot) + "\n\n")

	available, taken := 0, 0
	for r, row := range s.rows {
		label := row[0].Row
		b.WriteString(fmt.Sprintf("%*s ", rowWidth, label))
		for c, seat := range row {
			token, status := seatToken(seat, selected[seat.Id], pending[seat.Id])
			switch status {
			case "available":
				available++
			case "taken":
				taken++
			}
			text := token
			if s.showSeatNumbers && status != "pending" {
				text = strconv.Itoa(seat.Number)
			}
			rendered := padCell(text, cellWidth)
			switch status {
			case "selected":
				rendered = seatStyleSelected.Render(rendered)
			case "pending":
				rendered = seatStylePending.Render(rendered)
			case "taken":
				rendered = seatStyleTaken.Render(rendered)
			default:
				switch seat.Category {
				case model.SeatVIP:
					rendered = seatStyleVIP.Render(rendered)
				case model.SeatPWD:
					rendered = seatStyleAccessible.Render(rendered)
				default:
					rendered = seatStyleAvailable.Render(rendered)
				}
			}
			if r == s.cursorRow && c == s.cursorCol {
				rendered = cursorStyle.Render(rendered)
			}
			b.WriteString(rendered)
			if c < len(row)-1 {
				b.WriteString(" ")
			}
		}
		b.WriteString(strings.Repeat(" ", (maxCols-len(row))*(cellWidth+1)))
		b.WriteString(fmt.Sprintf(" %*s\n", rowWidth, label))
	}

	legend := "Legend: [] available • VV vip • DD accessibility • XX taken • <> yours • .. updating"
	if s.showSeatNumbers {
		legend = "Legend: color shows status • numbers are seat numbers"
	}
	counts := fmt.Sprintf("Available: %d • Taken: %d • Yours: %d • Total: %d", available, taken, len(selected), len(s.snapshot.Seats))
	return b.String() + "\n" + hint(legend) + "\n" + hint(counts)
}

// seatToken picks the glyph for a seat. The user's own seats win over the
// taken flag, which their own holds also set.
func seatToken(seat model.Seat, selected bool, pending bool) (string, string) {
	switch {
	case pending:
		return "..", "pending"
	case selected:
		return "<>", "selected"
	case seat.Taken:
		return "XX", "taken"
	case seat.Category == model.SeatVIP:
		return "VV", "available"
	case seat.Category == model.SeatPWD:
		return "DD", "available"
	default:
		return "[]", "available"
	}
}

func padCell(text string, width int) string {
	if width <= 0 {
		return ""
	}
	if text == "" {
		return strings.Repeat(" ", width)
	}
	if len(text) >= width {
		return text[:width]
	}
	padding := width - len(text)
	left := padding / 2
	right := padding - left
	return strings.Repeat(" ", left) + text + strings.Repeat(" ", right)
}

type screenBlock struct {
	top string
	mid string
	bot string
}

func screenBarBlock(width int, label string) screenBlock {
	if width < len(label)+4 {
		width = len(label) + 4
	}
	if width < 10 {
		width = 10
	}

	border := "╭" + strings.Repeat("─", width-2) + "╮"
	bottom := "╰" + strings.Repeat("─", width-2) + "╯"

	labelText := " " + label + " "
	padding := width - len(labelText) - 2
	left := padding / 2
	right := padding - left
	mid := "│" + strings.Repeat(" ", left) + labelText + strings.Repeat(" ", right) + "│"
	return screenBlock{top: border, mid: mid, bot: bottom}
}
