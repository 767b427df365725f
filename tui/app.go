package tui

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"seatctl/config"
	"seatctl/model"
	"seatctl/reservation"
	"seatctl/service"
	"seatctl/store"
)

type appState int

const (
	stateLoadingMovies appState = iota
	stateSelectMovie
	stateLoadingSessions
	stateShowSessions
	stateManageTheaters
	stateLoadingSeatMap
	stateShowSeatMap
	stateSessionEnded
	stateCheckoutReady
	stateLogin
	stateError
)

// Options wires the TUI to the API and the live seat channel.
type Options struct {
	Client   *service.Client
	Config   config.ClientConfig
	Identity reservation.Identity
	Dialer   reservation.Dialer
	Logger   *zap.Logger
}

type appModel struct {
	client   *service.Client
	cfg      config.ClientConfig
	identity reservation.Identity
	dialer   reservation.Dialer
	logger   *zap.Logger

	state     appState
	lastState appState
	err       error

	width  int
	height int

	profile model.UserProfile

	movie       model.Movie
	moviePage   int
	movieTotal  int
	sessions    []model.MovieSession
	seatSession model.MovieSession

	movieList   list.Model
	sessionList list.Model
	theaterPref list.Model

	hiddenTheaters map[int64]bool

	seat  seatScreen
	login loginForm

	// pendingSessionID is the movie session waiting for the seat screen to
	// open, e.g. across a sign-in.
	pendingSessionID int64

	booking       model.BookingResponse
	paymentStatus string

	spinner spinner.Model
}

type errMsg struct {
	err            error
	returnState    appState
	returnStateSet bool
}

type moviesMsg struct {
	page model.Page[model.Movie]
	err  error
}

type sessionsMsg struct {
	movieID  int64
	sessions []model.MovieSession
	err      error
}

type profileMsg struct {
	profile model.UserProfile
	err     error
}

type paymentMsg struct {
	confirmed bool
	err       error
}

func New(opts Options) tea.Model {
	client := opts.Client
	if client == nil {
		client = service.NewClient(opts.Config.APIURL, nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &reservation.StompDialer{Heartbeat: opts.Config.Heartbeat, Logger: logger}
	}
	identity := opts.Identity
	if identity.ClientID == "" {
		identity = reservation.NewIdentity()
	}

	m := appModel{
		client:   client,
		cfg:      opts.Config,
		identity: identity,
		dialer:   dialer,
		logger:   logger,
		state:    stateLoadingMovies,
	}

	m.movieList = newList("Movies")
	m.sessionList = newList("Sessions")
	m.theaterPref = newList("Visible Theaters")

	m.seat.showSeatNumbers = false
	m.hiddenTheaters = make(map[int64]bool)
	if hidden, err := store.LoadHiddenTheaters(); err == nil {
		m.hiddenTheaters = hidden
	}
	m.login = newLoginForm()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("5"))
	m.spinner = sp

	return m
}

func (m appModel) Init() tea.Cmd {
	return tea.Batch(m.fetchMoviesCmd(0), m.fetchProfileCmd(), m.spinner.Tick)
}

func (m appModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeLists()
		return m, nil

	case tea.KeyMsg:
		if m.handleFilterInput(msg) {
			return m, nil
		}
		var handled bool
		m, cmd, handled := m.handleKey(msg)
		if handled {
			return m, cmd
		}
		// fallthrough to component update
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.isLoadingState() {
			return m, cmd
		}
		return m, nil

	case errMsg:
		m.err = msg.err
		if msg.returnStateSet {
			m.lastState = msg.returnState
		} else {
			m.lastState = recoverStateFrom(m.state)
		}
		m.state = stateError
		return m, nil

	case profileMsg:
		if msg.err == nil {
			m.profile = msg.profile
		}
		return m, nil

	case moviesMsg:
		if msg.err != nil {
			return m, errCmd(msg.err)
		}
		m.moviePage = msg.page.Number
		m.movieTotal = msg.page.TotalPages
		m.movieList.Title = movieListTitle(m.moviePage, m.movieTotal)
		m.movieList.SetItems(buildMovieItems(msg.page.Content))
		m.movieList.Select(0)
		m.state = stateSelectMovie
		return m, nil

	case sessionsMsg:
		if msg.err != nil {
			return m, errWithOptionsCmd(msg.err, stateSelectMovie)
		}
		if msg.movieID != m.movie.Id {
			return m, nil
		}
		if len(msg.sessions) == 0 {
			return m, errWithOptionsCmd(fmt.Errorf("no sessions scheduled for %s", m.movie.Title), stateSelectMovie)
		}
		m.sessions = msg.sessions
		m.refreshSessionLists()
		m.sessionList.Select(0)
		m.state = stateShowSessions
		return m, nil

	case seatSessionMsg:
		return m.openSeatScreen(msg)

	case sessionEventMsg:
		return m.applySessionEvent(msg)

	case sessionEndedMsg:
		return m, nil

	case toggleMsg:
		return m.applyToggle(msg)

	case checkoutMsg:
		return m.applyCheckout(msg)

	case countdownMsg:
		return m.applyCountdown(msg)

	case loginMsg:
		return m.applyLogin(msg)

	case paymentMsg:
		switch {
		case msg.err != nil:
			m.paymentStatus = reservation.Describe(reservation.OpCheckout, msg.err).Message
		case msg.confirmed:
			m.paymentStatus = "Payment confirmed. Enjoy the movie!"
		default:
			m.paymentStatus = "Payment not confirmed yet. Finish it in the browser and press p again."
		}
		return m, nil
	}

	var cmd tea.Cmd
	switch m.state {
	case stateSelectMovie:
		m.movieList, cmd = m.movieList.Update(msg)
	case stateShowSessions:
		m.sessionList, cmd = m.sessionList.Update(msg)
	case stateManageTheaters:
		m.theaterPref, cmd = m.theaterPref.Update(msg)
	case stateLogin:
		m.login, cmd = m.login.update(msg)
	}
	return m, cmd
}

func (m appModel) View() string {
	header := m.headerView()
	switch m.state {
	case stateLoadingMovies, stateLoadingSessions, stateLoadingSeatMap:
		return header + "\n\n" + m.loadingView()
	case stateSelectMovie:
		return header + "\n\n" + m.movieList.View()
	case stateShowSessions:
		return header + "\n\n" + m.sessionList.View()
	case stateManageTheaters:
		return header + "\n\n" + m.theaterPref.View()
	case stateShowSeatMap:
		return header + "\n\n" + m.seatScreenView()
	case stateSessionEnded:
		return header + "\n\n" + m.noticeDialogView(m.seat.notice, "ESC back to sessions • CTRL+C quit")
	case stateCheckoutReady:
		return header + "\n\n" + m.checkoutView()
	case stateLogin:
		return header + "\n\n" + m.login.view()
	case stateError:
		return header + "\n\n" + lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Render(m.err.Error()) + "\n\n" + hint("Press esc to go back or ctrl+c to quit.")
	default:
		return header
	}
}

func (m appModel) headerView() string {
	title := lipgloss.NewStyle().Bold(true).Render("seatctl")
	sub := []string{}
	if m.profile.UserName != "" {
		sub = append(sub, fmt.Sprintf("Signed in as %s", m.profile.UserName))
	}
	if m.movie.Title != "" && m.state != stateSelectMovie && m.state != stateLoadingMovies {
		sub = append(sub, fmt.Sprintf("Movie: %s", m.movie.Title))
	}
	if m.state == stateShowSeatMap || m.state == stateSessionEnded {
		if m.seatSession.TheaterName != "" {
			sub = append(sub, fmt.Sprintf("Theater: %s", m.seatSession.TheaterName))
		}
		if !m.seatSession.StartTime.IsZero() {
			sub = append(sub, fmt.Sprintf("Session: %s", m.seatSession.StartTime.Format("Mon 02 Jan 15:04")))
		}
	}
	meta := strings.Join(sub, " • ")
	if meta != "" {
		meta = "\n" + lipgloss.NewStyle().Faint(true).Render(meta)
	}
	hints := "ctrl+c quit • esc back • type to filter"
	switch m.state {
	case stateSelectMovie:
		hints = "ctrl+c quit • type to filter • enter sessions • ctrl+n next page • ctrl+p previous page"
	case stateShowSessions:
		hints = "ctrl+c quit • esc back • type to filter • enter pick seats • ctrl+t manage theaters"
	case stateManageTheaters:
		hints = "ctrl+c quit • esc back • type to filter • enter toggle theater visibility"
	case stateShowSeatMap:
		hints = "q quit • esc back • arrows move • space toggle seat • c checkout • n toggle numbers"
	case stateCheckoutReady:
		hints = "ctrl+c quit • esc back to movies • enter open checkout • p check payment"
	case stateLogin:
		hints = "ctrl+c quit • esc back • tab switch field • enter sign in"
	}
	filterLine := ""
	if listPtr := m.activeList(); listPtr != nil {
		if filter := listPtr.FilterValue(); filter != "" {
			filterLine = "\n" + hint(fmt.Sprintf("Filter: %s", filter))
		}
	}
	return title + meta + filterLine + "\n" + hint(hints)
}

// noticeDialogView renders a blocking notice. The only way out is back.
func (m appModel) noticeDialogView(notice reservation.Notice, footerText string) string {
	headerChip := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("0")).
		Background(lipgloss.Color("63")).
		Padding(0, 2)

	title := headerChip.Render(notice.Title)
	message := lipgloss.NewStyle().
		Foreground(lipgloss.Color("203")).
		Bold(true).
		Render(notice.Message)
	footer := hint(footerText)

	content := strings.Join([]string{title, "", message, "", footer}, "\n")

	panelStyle := lipgloss.NewStyle().
		Padding(1, 3).
		Border(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("63")).
		MarginTop(1)
	if m.width > 56 {
		cardWidth := m.width - 8
		if cardWidth > 84 {
			cardWidth = 84
		}
		panelStyle = panelStyle.Width(cardWidth)
	}
	panel := panelStyle.Render(content)
	if m.width > 0 {
		panel = lipgloss.PlaceHorizontal(m.width, lipgloss.Center, panel)
	}

	return lipgloss.NewStyle().
		Padding(0, 1).
		Render(panel)
}

func (m appModel) checkoutView() string {
	lines := []string{
		lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("Booking #%d created", m.booking.BookingId)),
		"",
		"Complete the payment in your browser:",
		lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Render(m.booking.CheckoutUrl),
	}
	if m.paymentStatus != "" {
		lines = append(lines, "", m.paymentStatus)
	}
	return strings.Join(lines, "\n")
}

func (m appModel) handleKey(msg tea.KeyMsg) (appModel, tea.Cmd, bool) {
	switch msg.String() {
	case "ctrl+c":
		return m, m.quitCmd(), true
	case "q":
		if m.state == stateShowSeatMap || m.state == stateCheckoutReady || m.state == stateError {
			return m, m.quitCmd(), true
		}
	case "esc":
		if listPtr := m.activeList(); listPtr != nil {
			if listPtr.SettingFilter() || listPtr.IsFiltered() {
				listPtr.ResetFilter()
				return m, nil, true
			}
		}
		next, cmd := m.goBack()
		return next, cmd, true
	case "ctrl+n":
		if m.state == stateSelectMovie && m.moviePage+1 < m.movieTotal {
			m.state = stateLoadingMovies
			return m, tea.Batch(m.fetchMoviesCmd(m.moviePage+1), m.spinner.Tick), true
		}
	case "ctrl+p":
		if m.state == stateSelectMovie && m.moviePage > 0 {
			m.state = stateLoadingMovies
			return m, tea.Batch(m.fetchMoviesCmd(m.moviePage-1), m.spinner.Tick), true
		}
	case "ctrl+t":
		if m.state == stateShowSessions {
			m.state = stateManageTheaters
			m.refreshSessionLists()
			return m, nil, true
		}
	}

	switch m.state {
	case stateShowSeatMap:
		return m.handleSeatKey(msg)
	case stateSessionEnded:
		// Blocking: only going back or quitting leaves this screen.
		return m, nil, true
	case stateLogin:
		return m.handleLoginKey(msg)
	case stateCheckoutReady:
		switch msg.String() {
		case "enter":
			return m, openURLCmd(m.booking.CheckoutUrl), true
		case "p":
			return m, m.confirmPaymentCmd(), true
		}
		return m, nil, true
	}

	if msg.Type == tea.KeyEnter {
		switch m.state {
		case stateSelectMovie:
			item, ok := m.movieList.SelectedItem().(movieItem)
			if !ok {
				return m, nil, true
			}
			m.movie = item.movie
			_ = store.RememberMovie(m.movie)
			m.sessionList.Title = fmt.Sprintf("Sessions • %s", m.movie.Title)
			m.state = stateLoadingSessions
			return m, tea.Batch(m.fetchSessionsCmd(m.movie.Id), m.spinner.Tick), true
		case stateShowSessions:
			item, ok := m.sessionList.SelectedItem().(sessionItem)
			if !ok {
				return m, nil, true
			}
			m.seatSession = item.session
			m.pendingSessionID = item.session.Id
			m.state = stateLoadingSeatMap
			return m, tea.Batch(m.loadSeatSessionCmd(item.session.Id), m.spinner.Tick), true
		case stateManageTheaters:
			return m.toggleTheaterVisibility()
		}
	}
	return m, nil, false
}

func (m appModel) goBack() (appModel, tea.Cmd) {
	switch m.state {
	case stateShowSessions:
		m.state = stateSelectMovie
	case stateManageTheaters:
		m.state = stateShowSessions
	case stateLoadingSeatMap:
		m.pendingSessionID = 0
		m.state = stateShowSessions
	case stateShowSeatMap, stateSessionEnded:
		cmd := m.leaveSeatScreen()
		m.state = stateShowSessions
		return m, cmd
	case stateCheckoutReady:
		m.booking = model.BookingResponse{}
		m.paymentStatus = ""
		m.state = stateSelectMovie
	case stateLogin:
		m.login.reset()
		if m.login.returnState == stateShowSeatMap && m.seat.session != nil {
			m.state = stateShowSeatMap
			return m, m.seat.startCountdown()
		}
		m.pendingSessionID = 0
		m.state = m.login.returnState
	case stateError:
		m.state = m.lastState
	default:
		return m, nil
	}
	return m, nil
}

// quitCmd releases the live session, if any, before the program exits.
func (m appModel) quitCmd() tea.Cmd {
	if m.seat.session == nil {
		return tea.Quit
	}
	return tea.Sequence(closeSessionCmd(m.seat.session, m.logger), tea.Quit)
}

func (m *appModel) handleFilterInput(msg tea.KeyMsg) bool {
	listPtr := m.activeList()
	if listPtr == nil {
		return false
	}
	if !listPtr.FilteringEnabled() {
		return false
	}
	switch msg.Type {
	case tea.KeyRunes:
		if len(msg.Runes) == 0 {
			return false
		}
		m.appendFilter(listPtr, string(msg.Runes))
		return true
	case tea.KeySpace:
		m.appendFilter(listPtr, " ")
		return true
	case tea.KeyBackspace, tea.KeyDelete:
		if listPtr.FilterValue() == "" {
			return false
		}
		m.popFilter(listPtr)
		return true
	default:
		return false
	}
}

func (m *appModel) appendFilter(listPtr *list.Model, value string) {
	if value == "" {
		return
	}
	current := listPtr.FilterValue()
	listPtr.SetFilterText(current + value)
}

func (m *appModel) popFilter(listPtr *list.Model) {
	value := listPtr.FilterValue()
	if value == "" {
		return
	}
	value = trimLastRune(value)
	if value == "" {
		listPtr.ResetFilter()
		return
	}
	listPtr.SetFilterText(value)
}

func trimLastRune(value string) string {
	runes := []rune(value)
	if len(runes) <= 1 {
		return ""
	}
	return string(runes[:len(runes)-1])
}

func (m *appModel) activeList() *list.Model {
	switch m.state {
	case stateSelectMovie:
		return &m.movieList
	case stateShowSessions:
		return &m.sessionList
	case stateManageTheaters:
		return &m.theaterPref
	default:
		return nil
	}
}

func (m appModel) isLoadingState() bool {
	return m.state == stateLoadingMovies ||
		m.state == stateLoadingSessions ||
		m.state == stateLoadingSeatMap
}

func (m appModel) loadingView() string {
	title := "Loading"
	switch m.state {
	case stateLoadingMovies:
		title = "Loading movies"
	case stateLoadingSessions:
		title = "Loading sessions"
	case stateLoadingSeatMap:
		title = "Connecting to the seat map"
	}

	return fmt.Sprintf("%s %s\n\n%s", m.spinner.View(), title, hint("Fetching data..."))
}

func (m *appModel) resizeLists() {
	if m.width == 0 || m.height == 0 {
		return
	}
	h := m.height - 6
	if h < 6 {
		h = 6
	}
	m.movieList.SetSize(m.width, h)
	m.sessionList.SetSize(m.width, h)
	m.theaterPref.SetSize(m.width, h)
}

func newList(title string) list.Model {
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	l := list.New([]list.Item{}, delegate, 0, 0)
	l.Title = title
	l.Filter = caseInsensitiveFilter
	l.SetFilteringEnabled(true)
	l.SetShowFilter(true)
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	return l
}

func hint(text string) string {
	return lipgloss.NewStyle().Faint(true).Render(text)
}

func errCmd(err error) tea.Cmd {
	return func() tea.Msg {
		return errMsg{err: err}
	}
}

func errWithOptionsCmd(err error, returnState appState) tea.Cmd {
	return func() tea.Msg {
		return errMsg{
			err:            err,
			returnState:    returnState,
			returnStateSet: true,
		}
	}
}

func recoverStateFrom(state appState) appState {
	switch state {
	case stateLoadingMovies:
		return stateSelectMovie
	case stateLoadingSessions:
		return stateSelectMovie
	case stateLoadingSeatMap:
		return stateShowSessions
	case stateError:
		return stateSelectMovie
	default:
		return state
	}
}

func caseInsensitiveFilter(term string, targets []string) []list.Rank {
	term = strings.ToLower(term)
	lower := make([]string, len(targets))
	for i, t := range targets {
		lower[i] = strings.ToLower(t)
	}
	return list.DefaultFilter(term, lower)
}

func openURLCmd(url string) tea.Cmd {
	return func() tea.Msg {
		if url == "" {
			return nil
		}
		if err := openURL(url); err != nil {
			return errMsg{err: err}
		}
		return nil
	}
}

func openURL(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "linux":
		return exec.Command("xdg-open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return fmt.Errorf("unsupported OS for opening browser: %s", runtime.GOOS)
	}
}

func (m appModel) fetchProfileCmd() tea.Cmd {
	return func() tea.Msg {
		profile, err := m.client.GetProfile(context.Background())
		return profileMsg{profile: profile, err: err}
	}
}

func (m appModel) fetchMoviesCmd(page int) tea.Cmd {
	return func() tea.Msg {
		if cached, fresh, err := store.LoadMovieCache(page, "", "all"); err == nil && fresh && len(cached.Content) > 0 {
			return moviesMsg{page: cached}
		}
		ctx := context.Background()
		movies, err := m.client.GetMovies(ctx, page, "", "all")
		if err == nil && len(movies.Content) > 0 {
			_ = store.SaveMovieCache(page, "", "all", movies)
		}
		return moviesMsg{page: movies, err: err}
	}
}

// fetchSessionsCmd loads every page of a movie's sessions.
func (m appModel) fetchSessionsCmd(movieID int64) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		var all []model.MovieSession
		for page := 0; ; page++ {
			sessions, err := m.loadSessionPage(ctx, movieID, page)
			if err != nil {
				if service.IsNotFound(err) {
					return sessionsMsg{movieID: movieID}
				}
				return sessionsMsg{movieID: movieID, err: err}
			}
			all = append(all, sessions.Content...)
			if sessions.Last || page+1 >= sessions.TotalPages || len(sessions.Content) == 0 {
				break
			}
		}
		return sessionsMsg{movieID: movieID, sessions: all}
	}
}

func (m appModel) loadSessionPage(ctx context.Context, movieID int64, page int) (model.Page[model.MovieSession], error) {
	if cached, fresh, err := store.LoadSessionCache(movieID, page); err == nil && fresh && len(cached.Content) > 0 {
		return cached, nil
	}
	sessions, err := m.client.GetMovieSessions(ctx, movieID, page)
	if err != nil {
		return model.Page[model.MovieSession]{}, err
	}
	if len(sessions.Content) > 0 {
		_ = store.SaveSessionCache(movieID, page, sessions)
	}
	return sessions, nil
}

// loadSeatSessionCmd fetches the seat layout and the signed-in user in
// parallel, then opens the reservation session.
func (m appModel) loadSeatSessionCmd(sessionID int64) tea.Cmd {
	return func() tea.Msg {
		g, ctx := errgroup.WithContext(context.Background())

		var detail model.SessionDetail
		var profile model.UserProfile
		var profileErr error
		g.Go(func() error {
			var err error
			detail, err = m.client.GetSession(ctx, sessionID)
			return err
		})
		g.Go(func() error {
			profile, profileErr = m.client.GetProfile(ctx)
			return nil
		})
		if err := g.Wait(); err != nil {
			return seatSessionMsg{sessionID: sessionID, err: err}
		}
		if profileErr != nil {
			if service.IsAuthExpired(profileErr) {
				return seatSessionMsg{sessionID: sessionID, detail: detail, needLogin: true}
			}
			return seatSessionMsg{sessionID: sessionID, err: profileErr}
		}

		channel := reservation.NewChannel(sessionID, m.identity, m.client, m.dialer, reservation.ChannelOptions{
			URL:            m.cfg.WSURL,
			TTL:            m.cfg.ReservationTTL,
			ReconnectDelay: m.cfg.ReconnectDelay,
			Logger:         m.logger,
		})
		session, err := reservation.Open(context.Background(), reservation.SessionConfig{
			SessionID: sessionID,
			Seats:     detail.Seats,
			Identity:  m.identity,
			Holds:     m.client,
			Checkout:  m.client,
			Channel:   channel,
			Logger:    m.logger,
		})
		if err != nil {
			return seatSessionMsg{sessionID: sessionID, err: err}
		}
		return seatSessionMsg{sessionID: sessionID, detail: detail, profile: profile, session: session}
	}
}

func (m appModel) confirmPaymentCmd() tea.Cmd {
	booking := m.booking
	return func() tea.Msg {
		if booking.BookingId == 0 {
			return paymentMsg{err: errors.New("no booking to confirm")}
		}
		confirmed, err := m.client.TryConfirmingPayment(context.Background(), booking.BookingId, booking.CheckoutId)
		return paymentMsg{confirmed: confirmed, err: err}
	}
}

func (m *appModel) refreshSessionLists() {
	items, hidden := buildSessionItems(m.sessions, m.hiddenTheaters)
	title := fmt.Sprintf("Sessions • %s", m.movie.Title)
	if hidden > 0 {
		title = fmt.Sprintf("%s • %d hidden", title, hidden)
	}
	m.sessionList.Title = title
	m.sessionList.SetItems(items)
	m.theaterPref.SetItems(buildTheaterVisibilityItems(m.sessions, m.hiddenTheaters))
}

func (m appModel) toggleTheaterVisibility() (appModel, tea.Cmd, bool) {
	item, ok := m.theaterPref.SelectedItem().(theaterVisibilityItem)
	if !ok {
		return m, nil, true
	}
	hidden := !item.hidden
	if err := store.SetTheaterHidden(item.theaterID, hidden); err != nil {
		return m, errCmd(err), true
	}
	if m.hiddenTheaters == nil {
		m.hiddenTheaters = map[int64]bool{}
	}
	if hidden {
		m.hiddenTheaters[item.theaterID] = true
	} else {
		delete(m.hiddenTheaters, item.theaterID)
	}

	index := m.theaterPref.Index()
	m.refreshSessionLists()
	if count := len(m.theaterPref.Items()); count > 0 {
		if index >= count {
			index = count - 1
		}
		m.theaterPref.Select(index)
	}
	return m, nil, true
}

func movieListTitle(page int, total int) string {
	if total <= 1 {
		return "Movies"
	}
	return fmt.Sprintf("Movies • page %d/%d", page+1, total)
}

func formatPrice(price float64) string {
	if price <= 0 {
		return "-"
	}
	return fmt.Sprintf("$%.2f", price)
}

func formatCountdown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	return fmt.Sprintf("%02d:%02d", int(d/time.Minute), int(d%time.Minute/time.Second))
}
