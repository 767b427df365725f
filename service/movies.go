package service

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"seatctl/model"
)

// GetMovies lists movies on display, optionally filtered by a title search
// and a genre. "all" means no genre filter.
func (c *Client) GetMovies(ctx context.Context, page int, search string, genre string) (model.Page[model.Movie], error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	if search = strings.TrimSpace(search); search != "" {
		params.Set("search", search)
	}
	if genre = strings.TrimSpace(genre); genre != "" && !strings.EqualFold(genre, "all") {
		params.Set("genres", genre)
	}

	var out model.Page[model.Movie]
	if err := c.getJSON(ctx, "/api/movies?"+params.Encode(), &out); err != nil {
		return model.Page[model.Movie]{}, err
	}
	return out, nil
}

func (c *Client) GetMovie(ctx context.Context, movieID int64) (model.Movie, error) {
	var out model.Movie
	if err := c.getJSON(ctx, fmt.Sprintf("/api/movies/%d", movieID), &out); err != nil {
		return model.Movie{}, err
	}
	return out, nil
}

// GetMovieSessions lists the upcoming sessions of a movie.
func (c *Client) GetMovieSessions(ctx context.Context, movieID int64, page int) (model.Page[model.MovieSession], error) {
	path := fmt.Sprintf("/api/movies/%d/sessions?page=%d", movieID, page)
	var out model.Page[model.MovieSession]
	if err := c.getJSON(ctx, path, &out); err != nil {
		return model.Page[model.MovieSession]{}, err
	}
	return out, nil
}
