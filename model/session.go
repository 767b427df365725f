package model

type Movie struct {
	Id                int64  `json:"id"`
	Title             string `json:"title"`
	Description       string `json:"description"`
	Genre             string `json:"genre"`
	FormattedDuration string `json:"formattedDuration"`
	IsOnDisplay       bool   `json:"isOnDisplay"`
	HasSessions       bool   `json:"hasSessions"`
	PosterUrl         string `json:"posterUrl,omitempty"`
	ReleaseDate       string `json:"releaseDate"`
}

// MovieSession is one scheduled showtime as listed under a movie.
type MovieSession struct {
	Id                int64     `json:"id"`
	StartTime         LocalTime `json:"startTime"`
	EndTime           LocalTime `json:"endTime"`
	AudioLanguage     string    `json:"audioLanguage"`
	HasSubtitles      bool      `json:"hasSubtitles"`
	ThreeD            bool      `json:"threeD"`
	StandardSeatPrice float64   `json:"standardSeatPrice"`
	VipSeatPrice      float64   `json:"vipSeatPrice"`
	PwdSeatPrice      float64   `json:"pwdSeatPrice"`
	TheaterId         int64     `json:"theaterId"`
	TheaterName       string    `json:"theaterName"`
	TheaterLogoUrl    string    `json:"theaterLogoUrl"`
	TheaterAddress    string    `json:"theaterAddress"`
	ScreenName        string    `json:"screenName"`
	HasFreeSeats      bool      `json:"hasFreeSeats"`
}

// SessionDetail is the seat-selection payload of GET /api/sessions/{id}.
type SessionDetail struct {
	Id                int64     `json:"id"`
	StartTime         LocalTime `json:"startTime"`
	EndTime           LocalTime `json:"endTime"`
	AudioLanguage     string    `json:"audioLanguage"`
	HasSubtitles      bool      `json:"hasSubtitles"`
	ThreeD            bool      `json:"threeD"`
	StandardSeatPrice float64   `json:"standardSeatPrice"`
	VipSeatPrice      float64   `json:"vipSeatPrice"`
	PwdSeatPrice      float64   `json:"pwdSeatPrice"`
	TheaterId         int64     `json:"theaterId"`
	TheaterName       string    `json:"theaterName"`
	TheaterLogoUrl    string    `json:"theaterLogoUrl"`
	TheaterAddress    string    `json:"theaterAddress"`
	ScreenName        string    `json:"screenName"`
	Movie             Movie     `json:"movie"`
	Seats             []Seat    `json:"seats"`
}

// SeatPrice returns the price the session charges for the seat's category.
func (s SessionDetail) SeatPrice(seat Seat) float64 {
	switch seat.Category {
	case SeatVIP:
		return s.VipSeatPrice
	case SeatPWD:
		return s.PwdSeatPrice
	default:
		return s.StandardSeatPrice
	}
}
