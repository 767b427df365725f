package store

import (
	"net/http"
	"testing"

	"seatctl/model"
)

func setTestConfigDir(t *testing.T) {
	t.Helper()
	root := t.TempDir()
	t.Setenv("HOME", root)
	t.Setenv("XDG_CONFIG_HOME", root)
	t.Setenv("XDG_CACHE_HOME", root)
}

func TestSetTheaterHidden_RoundTrip(t *testing.T) {
	setTestConfigDir(t)

	hidden, err := LoadHiddenTheaters()
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(hidden) != 0 {
		t.Fatalf("expected no hidden theaters, got %+v", hidden)
	}

	if err := SetTheaterHidden(10, true); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if err := SetTheaterHidden(11, true); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	hidden, err = LoadHiddenTheaters()
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !hidden[10] || !hidden[11] {
		t.Fatalf("expected theaters to be hidden, got %+v", hidden)
	}

	if err := SetTheaterHidden(10, false); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	hidden, err = LoadHiddenTheaters()
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if hidden[10] {
		t.Fatalf("expected theater 10 visible, got %+v", hidden)
	}
	if !hidden[11] {
		t.Fatalf("expected theater 11 hidden, got %+v", hidden)
	}
}

func TestSetTheaterHidden_InvalidInput(t *testing.T) {
	setTestConfigDir(t)

	if err := SetTheaterHidden(0, true); err == nil {
		t.Fatal("expected error for empty theater id")
	}
}

func TestMovieCache_FreshAfterSave(t *testing.T) {
	setTestConfigDir(t)

	_, fresh, err := LoadMovieCache(0, "", "all")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if fresh {
		t.Fatal("expected missing cache to be stale")
	}

	page := model.Page[model.Movie]{Content: []model.Movie{{Id: 3, Title: "Dune"}}, TotalPages: 1}
	if err := SaveMovieCache(0, "Dune Part/Two", "", page); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	cached, fresh, err := LoadMovieCache(0, "dune part/two", "")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !fresh {
		t.Fatal("expected fresh cache")
	}
	if len(cached.Content) != 1 || cached.Content[0].Title != "Dune" {
		t.Fatalf("unexpected cached page: %+v", cached)
	}
}

func TestRememberMovie_MovesToFront(t *testing.T) {
	setTestConfigDir(t)

	for _, movie := range []model.Movie{{Id: 1, Title: "One"}, {Id: 2, Title: "Two"}, {Id: 1, Title: "One"}} {
		if err := RememberMovie(movie); err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
	}

	recent, err := LoadRecentMovies()
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(recent) != 2 || recent[0].ID != 1 || recent[1].ID != 2 {
		t.Fatalf("unexpected history: %+v", recent)
	}
}

func TestCookies_RoundTripPerBaseURL(t *testing.T) {
	setTestConfigDir(t)

	cookies := []*http.Cookie{{Name: "accessToken", Value: "a"}, {Name: "refreshToken", Value: "r"}}
	if err := SaveCookies("http://localhost:8888", cookies); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	loaded, err := LoadCookies("http://localhost:8888")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(loaded) != 2 || loaded[0].Value != "a" || loaded[1].Name != "refreshToken" {
		t.Fatalf("unexpected cookies: %+v", loaded)
	}

	other, err := LoadCookies("https://elsewhere.example")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("expected no cookies for another API, got %+v", other)
	}

	if err := ClearCookies(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	loaded, _ = LoadCookies("http://localhost:8888")
	if len(loaded) != 0 {
		t.Fatalf("expected cookies cleared, got %+v", loaded)
	}
}
