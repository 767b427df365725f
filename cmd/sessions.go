package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"seatctl/model"
	"seatctl/store"
)

const maxSessionPages = 20

var moviesCmd = &cobra.Command{
	Use:   "movies",
	Short: "List movies on display",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := setup(false)
		if err != nil {
			return err
		}
		defer env.close()

		search, _ := cmd.Flags().GetString("search")
		genre, _ := cmd.Flags().GetString("genre")
		page, _ := cmd.Flags().GetInt("page")

		movies, err := env.client.GetMovies(cmd.Context(), page, search, genre)
		if err != nil {
			return err
		}
		renderMovies(cmd.OutOrStdout(), movies)
		return nil
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions [movie-id]",
	Short: "Find the upcoming sessions of a movie",
	Long: `Find the upcoming sessions of a movie. Without a movie id you pick
one from the movies on display.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := setup(false)
		if err != nil {
			return err
		}
		defer env.close()
		ctx := cmd.Context()

		var movieID int64
		if len(args) == 1 {
			if movieID, err = strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("invalid movie id %q", args[0])
			}
		} else {
			movies, err := env.client.GetMovies(ctx, 0, "", "")
			if err != nil {
				return err
			}
			if movieID, err = promptSelectMovie(movies.Content); err != nil {
				return err
			}
		}

		sessions, err := fetchAllSessions(ctx, env, movieID)
		if err != nil {
			return err
		}
		showHidden, _ := cmd.Flags().GetBool("all")
		hidden := map[int64]bool{}
		if !showHidden {
			if hidden, err = store.LoadHiddenTheaters(); err != nil {
				return err
			}
		}
		renderSessions(cmd.OutOrStdout(), sessions, hidden)
		return nil
	},
}

func init() {
	moviesCmd.Flags().String("search", "", "filter by title")
	moviesCmd.Flags().String("genre", "", "filter by genre, e.g. ACTION")
	moviesCmd.Flags().Int("page", 0, "page number, starting at 0")
	sessionsCmd.Flags().Bool("all", false, "include theaters hidden in the TUI")
}

func fetchAllSessions(ctx context.Context, env *cliEnv, movieID int64) ([]model.MovieSession, error) {
	var sessions []model.MovieSession
	for page := 0; page < maxSessionPages; page++ {
		result, err := env.client.GetMovieSessions(ctx, movieID, page)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, result.Content...)
		if result.Last || page+1 >= result.TotalPages {
			break
		}
	}
	return sessions, nil
}

func promptSelectMovie(movies []model.Movie) (int64, error) {
	if len(movies) == 0 {
		return 0, errors.New("no movies on display")
	}
	movieIDByTitle := make(map[string]int64)
	for _, movie := range movies {
		movieIDByTitle[movie.Title] = movie.Id
	}
	titles := maps.Keys(movieIDByTitle)
	slices.Sort(titles)

	searcher := func(input string, index int) bool {
		return strings.Contains(strings.ToLower(titles[index]), strings.ToLower(strings.TrimSpace(input)))
	}

	selectMovie := promptui.Select{
		Label:    "Select Movie",
		Items:    titles,
		Size:     10,
		Searcher: searcher,
	}
	_, title, err := selectMovie.Run()
	if err != nil {
		return 0, err
	}
	movieID, ok := movieIDByTitle[title]
	if !ok {
		return 0, errors.New("invalid movie")
	}
	return movieID, nil
}

func renderMovies(out io.Writer, movies model.Page[model.Movie]) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"ID", "Title", "Genre", "Duration", "Sessions"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, WidthMax: 40},
	})
	for _, movie := range movies.Content {
		sessions := "no"
		if movie.HasSessions {
			sessions = "yes"
		}
		t.AppendRow(table.Row{movie.Id, movie.Title, strings.ToLower(movie.Genre), movie.FormattedDuration, sessions})
	}
	t.SetCaption("page %d of %d", movies.Number+1, max(movies.TotalPages, 1))
	t.Render()
}

// renderSessions prints one block per day with theaters merged, the way a
// printed cinema listing reads.
func renderSessions(out io.Writer, sessions []model.MovieSession, hidden map[int64]bool) {
	rowConfigAutoMerge := table.RowConfig{AutoMerge: true}
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Day", "Theater", "Time", "Session", "Screen", "Type", "Standard", "VIP", "PWD"}, rowConfigAutoMerge)
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, AutoMerge: true},
		{Number: 2, AutoMerge: true, WidthMax: 24},
		{Number: 6, AutoMerge: true},
	})
	t.Style().Options.SeparateRows = true

	visible := make([]model.MovieSession, 0, len(sessions))
	for _, session := range sessions {
		if !hidden[session.TheaterId] {
			visible = append(visible, session)
		}
	}
	slices.SortStableFunc(visible, func(a, b model.MovieSession) int {
		return a.StartTime.Compare(b.StartTime.Time)
	})

	lastDay := ""
	var items []table.Row
	for _, session := range visible {
		day := session.StartTime.Format("Mon 02 Jan")
		if day != lastDay && len(items) > 0 {
			t.AppendRows(items, rowConfigAutoMerge)
			t.AppendSeparator()
			items = nil
		}
		lastDay = day
		items = append(items, table.Row{
			day,
			session.TheaterName,
			session.StartTime.Format("15:04"),
			session.Id,
			session.ScreenName,
			sessionType(session),
			formatPrice(session.StandardSeatPrice),
			formatPrice(session.VipSeatPrice),
			formatPrice(session.PwdSeatPrice),
		})
	}
	t.AppendRows(items, rowConfigAutoMerge)
	if skipped := len(sessions) - len(visible); skipped > 0 {
		t.SetCaption("%d sessions in hidden theaters not shown", skipped)
	}
	t.Render()
}

func sessionType(session model.MovieSession) string {
	parts := []string{}
	if session.AudioLanguage != "" {
		parts = append(parts, session.AudioLanguage)
	}
	if session.HasSubtitles {
		parts = append(parts, "subtitled")
	}
	if session.ThreeD {
		parts = append(parts, "3D")
	}
	if !session.HasFreeSeats {
		parts = append(parts, "sold out")
	}
	return strings.Join(parts, ", ")
}

func formatPrice(value float64) string {
	if value <= 0 {
		return "-"
	}
	return fmt.Sprintf("$%.2f", value)
}
