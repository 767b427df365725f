package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"seatctl/model"
)

const (
	appDirName       = "seatctl"
	movieCacheTTL    = time.Hour
	sessionCacheTTL  = 10 * time.Minute
	maxRecentMovies  = 8
	credentialsFile  = "credentials.json"
	recentMoviesFile = "history.json"
	visibilityFile   = "theater_visibility.json"
)

var unsafeKeyChars = regexp.MustCompile(`[^a-z0-9_-]+`)

type cacheEnvelope[T any] struct {
	UpdatedAt time.Time `json:"updated_at"`
	Data      T         `json:"data"`
}

type RecentMovie struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

type movieHistory struct {
	Movies []RecentMovie `json:"movies"`
}

type theaterVisibility struct {
	Hidden []int64 `json:"hidden"`
}

type savedCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type credentials struct {
	BaseURL string        `json:"base_url"`
	Cookies []savedCookie `json:"cookies"`
}

// LoadMovieCache returns a cached catalog page and whether it is still fresh.
// A missing cache is an empty, stale page.
func LoadMovieCache(page int, search string, genre string) (model.Page[model.Movie], bool, error) {
	path, err := cachePath(movieCacheName(page, search, genre))
	if err != nil {
		return model.Page[model.Movie]{}, false, err
	}
	cache, err := loadCache[model.Page[model.Movie]](path)
	if err != nil {
		return model.Page[model.Movie]{}, false, err
	}
	return cache.Data, time.Since(cache.UpdatedAt) <= movieCacheTTL, nil
}

func SaveMovieCache(page int, search string, genre string, movies model.Page[model.Movie]) error {
	path, err := cachePath(movieCacheName(page, search, genre))
	if err != nil {
		return err
	}
	return saveCache(path, movies)
}

func LoadSessionCache(movieID int64, page int) (model.Page[model.MovieSession], bool, error) {
	path, err := cachePath(fmt.Sprintf("sessions_%d_%d.json", movieID, page))
	if err != nil {
		return model.Page[model.MovieSession]{}, false, err
	}
	cache, err := loadCache[model.Page[model.MovieSession]](path)
	if err != nil {
		return model.Page[model.MovieSession]{}, false, err
	}
	return cache.Data, time.Since(cache.UpdatedAt) <= sessionCacheTTL, nil
}

func SaveSessionCache(movieID int64, page int, sessions model.Page[model.MovieSession]) error {
	path, err := cachePath(fmt.Sprintf("sessions_%d_%d.json", movieID, page))
	if err != nil {
		return err
	}
	return saveCache(path, sessions)
}

func movieCacheName(page int, search string, genre string) string {
	key := func(s string) string {
		s = unsafeKeyChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "-")
		if s == "" {
			return "all"
		}
		return s
	}
	return fmt.Sprintf("movies_%d_%s_%s.json", page, key(search), key(genre))
}

func LoadRecentMovies() ([]RecentMovie, error) {
	path, err := configPath(recentMoviesFile)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var history movieHistory
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, errors.New("invalid movie history format")
	}
	return history.Movies, nil
}

// RememberMovie moves movie to the front of the recently opened list.
func RememberMovie(movie model.Movie) error {
	history, _ := LoadRecentMovies()
	next := []RecentMovie{{ID: movie.Id, Title: movie.Title}}

	for _, existing := range history {
		if existing.ID == movie.Id {
			continue
		}
		next = append(next, existing)
		if len(next) >= maxRecentMovies {
			break
		}
	}

	return writeJSON(configPath, recentMoviesFile, movieHistory{Movies: next}, 0o644)
}

func LoadHiddenTheaters() (map[int64]bool, error) {
	visibility, err := loadTheaterVisibility()
	if err != nil {
		return nil, err
	}
	result := make(map[int64]bool, len(visibility.Hidden))
	for _, id := range visibility.Hidden {
		result[id] = true
	}
	return result, nil
}

// SetTheaterHidden hides or shows a theater's sessions in listings.
func SetTheaterHidden(theaterID int64, hidden bool) error {
	if theaterID <= 0 {
		return errors.New("theater id is required")
	}

	visibility, err := loadTheaterVisibility()
	if err != nil {
		return err
	}

	index := -1
	for i, id := range visibility.Hidden {
		if id == theaterID {
			index = i
			break
		}
	}

	if hidden {
		if index < 0 {
			visibility.Hidden = append(visibility.Hidden, theaterID)
		}
	} else if index >= 0 {
		visibility.Hidden = append(visibility.Hidden[:index], visibility.Hidden[index+1:]...)
	}

	sort.Slice(visibility.Hidden, func(i, j int) bool { return visibility.Hidden[i] < visibility.Hidden[j] })
	return writeJSON(configPath, visibilityFile, visibility, 0o644)
}

// SaveCookies persists the API session cookies so a login survives restarts.
func SaveCookies(baseURL string, cookies []*http.Cookie) error {
	creds := credentials{BaseURL: baseURL}
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		creds.Cookies = append(creds.Cookies, savedCookie{Name: c.Name, Value: c.Value})
	}
	return writeJSON(configPath, credentialsFile, creds, 0o600)
}

// LoadCookies returns the cookies saved for baseURL. Cookies saved for
// another API are ignored.
func LoadCookies(baseURL string) ([]*http.Cookie, error) {
	path, err := configPath(credentialsFile)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var creds credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, errors.New("invalid credentials format")
	}
	if creds.BaseURL != baseURL {
		return nil, nil
	}
	cookies := make([]*http.Cookie, 0, len(creds.Cookies))
	for _, c := range creds.Cookies {
		cookies = append(cookies, &http.Cookie{Name: c.Name, Value: c.Value, Path: "/"})
	}
	return cookies, nil
}

func ClearCookies() error {
	path, err := configPath(credentialsFile)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func loadCache[T any](path string) (cacheEnvelope[T], error) {
	var cache cacheEnvelope[T]
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cache, nil
		}
		return cache, err
	}
	if err := json.Unmarshal(data, &cache); err != nil {
		return cache, err
	}
	return cache, nil
}

func saveCache[T any](path string, data T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	cache := cacheEnvelope[T]{
		UpdatedAt: time.Now(),
		Data:      data,
	}
	payload, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o644)
}

func writeJSON(locate func(string) (string, error), name string, v any, perm os.FileMode) error {
	path, err := locate(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, perm)
}

func loadTheaterVisibility() (theaterVisibility, error) {
	path, err := configPath(visibilityFile)
	if err != nil {
		return theaterVisibility{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return theaterVisibility{}, nil
		}
		return theaterVisibility{}, err
	}

	var visibility theaterVisibility
	if err := json.Unmarshal(data, &visibility); err != nil {
		return theaterVisibility{}, errors.New("invalid theater visibility format")
	}
	return visibility, nil
}

func configPath(name string) (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appDirName, name), nil
}

func cachePath(name string) (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appDirName, name), nil
}
