package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/list"

	"seatctl/model"
	"seatctl/store"
)

type movieItem struct {
	movie  model.Movie
	recent bool
}

func (m movieItem) Title() string {
	return m.movie.Title
}

func (m movieItem) Description() string {
	parts := []string{}
	if m.recent {
		parts = append(parts, "Recent")
	}
	if m.movie.Genre != "" {
		parts = append(parts, strings.ToLower(m.movie.Genre))
	}
	if m.movie.FormattedDuration != "" {
		parts = append(parts, m.movie.FormattedDuration)
	}
	if !m.movie.HasSessions {
		parts = append(parts, "no sessions")
	}
	return strings.Join(parts, " • ")
}

func (m movieItem) FilterValue() string {
	return strings.ToLower(strings.Join([]string{m.movie.Title, m.movie.Genre}, " "))
}

type sessionItem struct {
	session model.MovieSession
}

func (s sessionItem) Title() string {
	timeLabel := s.session.StartTime.Format("Mon 02 Jan 15:04")
	screen := strings.TrimSpace(s.session.ScreenName)
	if screen == "" {
		screen = "Screen"
	}
	return fmt.Sprintf("%s • %s • %s", timeLabel, s.session.TheaterName, screen)
}

func (s sessionItem) Description() string {
	parts := []string{}
	if s.session.AudioLanguage != "" {
		parts = append(parts, s.session.AudioLanguage)
	}
	if s.session.HasSubtitles {
		parts = append(parts, "subtitled")
	}
	if s.session.ThreeD {
		parts = append(parts, "3D")
	}
	parts = append(parts,
		"Standard "+formatPrice(s.session.StandardSeatPrice),
		"VIP "+formatPrice(s.session.VipSeatPrice),
		"PWD "+formatPrice(s.session.PwdSeatPrice),
	)
	if !s.session.HasFreeSeats {
		parts = append(parts, "sold out")
	}
	return strings.Join(parts, " • ")
}

func (s sessionItem) FilterValue() string {
	return strings.ToLower(strings.Join([]string{s.session.TheaterName, s.session.ScreenName, s.session.AudioLanguage}, " "))
}

type theaterVisibilityItem struct {
	theaterID    int64
	name         string
	hidden       bool
	sessionCount int
}

func (t theaterVisibilityItem) Title() string {
	if t.hidden {
		return fmt.Sprintf("[ ] %s", t.name)
	}
	return fmt.Sprintf("[x] %s", t.name)
}

func (t theaterVisibilityItem) Description() string {
	status := "Visible"
	if t.hidden {
		status = "Hidden"
	}
	return fmt.Sprintf("%s • %d sessions", status, t.sessionCount)
}

func (t theaterVisibilityItem) FilterValue() string {
	return strings.ToLower(t.name)
}

// buildMovieItems lists recently opened movies first, then the rest in API
// order.
func buildMovieItems(movies []model.Movie) []list.Item {
	recents, _ := store.LoadRecentMovies()
	byID := make(map[int64]model.Movie, len(movies))
	for _, movie := range movies {
		byID[movie.Id] = movie
	}

	var items []list.Item
	used := map[int64]bool{}
	for _, recent := range recents {
		if movie, ok := byID[recent.ID]; ok && !used[movie.Id] {
			items = append(items, movieItem{movie: movie, recent: true})
			used[movie.Id] = true
		}
	}
	for _, movie := range movies {
		if !used[movie.Id] {
			items = append(items, movieItem{movie: movie})
		}
	}
	return items
}

// buildSessionItems returns the sessions of visible theaters in start order
// and how many were hidden.
func buildSessionItems(sessions []model.MovieSession, hidden map[int64]bool) ([]list.Item, int) {
	visible := make([]model.MovieSession, 0, len(sessions))
	hiddenCount := 0
	for _, session := range sessions {
		if hidden[session.TheaterId] {
			hiddenCount++
			continue
		}
		visible = append(visible, session)
	}
	sort.SliceStable(visible, func(i, j int) bool {
		return visible[i].StartTime.Before(visible[j].StartTime.Time)
	})

	items := make([]list.Item, 0, len(visible))
	for _, session := range visible {
		items = append(items, sessionItem{session: session})
	}
	return items, hiddenCount
}

func buildTheaterVisibilityItems(sessions []model.MovieSession, hidden map[int64]bool) []list.Item {
	byTheater := map[int64]*theaterVisibilityItem{}
	for _, session := range sessions {
		if session.TheaterId == 0 {
			continue
		}
		item, ok := byTheater[session.TheaterId]
		if !ok {
			item = &theaterVisibilityItem{
				theaterID: session.TheaterId,
				name:      session.TheaterName,
				hidden:    hidden[session.TheaterId],
			}
			byTheater[session.TheaterId] = item
		}
		item.sessionCount++
	}

	theaters := make([]theaterVisibilityItem, 0, len(byTheater))
	for _, item := range byTheater {
		theaters = append(theaters, *item)
	}
	sort.Slice(theaters, func(i, j int) bool {
		return strings.ToLower(theaters[i].name) < strings.ToLower(theaters[j].name)
	})

	items := make([]list.Item, 0, len(theaters))
	for _, theater := range theaters {
		items = append(items, theater)
	}
	return items
}
