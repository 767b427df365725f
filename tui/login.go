package tui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"seatctl/model"
	"seatctl/service"
	"seatctl/store"
)

type loginForm struct {
	email    textinput.Model
	password textinput.Model
	focus    int

	returnState appState
	reason      string
	err         string
	submitting  bool
}

type loginMsg struct {
	profile model.UserProfile
	err     error
}

func newLoginForm() loginForm {
	email := textinput.New()
	email.Placeholder = "you@example.com"
	email.Prompt = "Email    "
	email.CharLimit = 254

	password := textinput.New()
	password.Placeholder = "password"
	password.Prompt = "Password "
	password.EchoMode = textinput.EchoPassword
	password.EchoCharacter = '•'
	password.CharLimit = 128

	return loginForm{email: email, password: password}
}

// begin shows the form; after a successful sign-in the app goes on to
// returnState.
func (f *loginForm) begin(returnState appState, reason string) tea.Cmd {
	f.reset()
	f.returnState = returnState
	f.reason = reason
	return tea.Batch(f.setFocus(0), textinput.Blink)
}

func (f *loginForm) reset() {
	f.email.Reset()
	f.password.Reset()
	f.err = ""
	f.submitting = false
	f.setFocus(0)
}

func (f *loginForm) setFocus(index int) tea.Cmd {
	f.focus = index
	if index == 0 {
		f.password.Blur()
		return f.email.Focus()
	}
	f.email.Blur()
	return f.password.Focus()
}

func (f loginForm) update(msg tea.Msg) (loginForm, tea.Cmd) {
	var cmd tea.Cmd
	if f.focus == 0 {
		f.email, cmd = f.email.Update(msg)
	} else {
		f.password, cmd = f.password.Update(msg)
	}
	return f, cmd
}

func (f loginForm) view() string {
	lines := []string{lipgloss.NewStyle().Bold(true).Render("Sign in")}
	if f.reason != "" {
		lines = append(lines, hint(f.reason))
	}
	lines = append(lines, "", f.email.View(), f.password.View())
	if f.submitting {
		lines = append(lines, "", hint("Signing in..."))
	}
	if f.err != "" {
		lines = append(lines, "", lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Render(f.err))
	}
	return strings.Join(lines, "\n")
}

func (m appModel) handleLoginKey(msg tea.KeyMsg) (appModel, tea.Cmd, bool) {
	switch msg.String() {
	case "tab", "shift+tab", "up", "down":
		return m, m.login.setFocus(1 - m.login.focus), true
	case "enter":
		if m.login.focus == 0 {
			return m, m.login.setFocus(1), true
		}
		if m.login.submitting {
			return m, nil, true
		}
		email := strings.TrimSpace(m.login.email.Value())
		password := m.login.password.Value()
		if email == "" || password == "" {
			m.login.err = "Email and password are required."
			return m, nil, true
		}
		m.login.err = ""
		m.login.submitting = true
		return m, m.loginCmd(email, password), true
	}
	return m, nil, false
}

// loginCmd signs in and persists the session cookies so the next run starts
// signed in.
func (m appModel) loginCmd(email string, password string) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		if err := m.client.Login(ctx, service.Credentials{Email: email, Password: password}); err != nil {
			return loginMsg{err: err}
		}
		if err := store.SaveCookies(m.client.BaseURL(), m.client.SessionCookies()); err != nil {
			m.logger.Warn("saving credentials", zap.Error(err))
		}
		profile, err := m.client.GetProfile(ctx)
		if err != nil {
			m.logger.Debug("loading profile after login", zap.Error(err))
		}
		return loginMsg{profile: profile}
	}
}

func (m appModel) applyLogin(msg loginMsg) (tea.Model, tea.Cmd) {
	if m.state != stateLogin {
		return m, nil
	}
	m.login.submitting = false
	if msg.err != nil {
		m.login.err = loginErrorText(msg.err)
		return m, nil
	}
	m.profile = msg.profile
	returnState := m.login.returnState
	m.login.reset()

	if m.pendingSessionID != 0 {
		m.state = stateLoadingSeatMap
		return m, tea.Batch(m.loadSeatSessionCmd(m.pendingSessionID), m.spinner.Tick)
	}
	if returnState == stateShowSeatMap && m.seat.session != nil {
		m.seat.notice.Title = ""
		m.seat.notice.Message = ""
		m.state = stateShowSeatMap
		return m, m.seat.startCountdown()
	}
	m.state = returnState
	return m, nil
}

func loginErrorText(err error) string {
	switch service.StatusOf(err) {
	case 400, 401, 403:
		return "Invalid email or password."
	case 0:
		return "Couldn't reach the server. Please try again later."
	}
	return "Sign in failed: " + err.Error()
}
