package model

import "strconv"

// SeatCategory is the pricing category of a seat.
type SeatCategory string

const (
	SeatStandard SeatCategory = "STANDARD"
	SeatVIP      SeatCategory = "VIP"
	SeatPWD      SeatCategory = "PWD"
)

// ExpirationOrigin is the origin id the server uses when a seat hold lapses on its own.
const ExpirationOrigin = "redis-expiration-listener"

type Seat struct {
	Id       int64        `json:"id"`
	Row      string       `json:"seatRow"`
	Number   int          `json:"seatNumber"`
	Category SeatCategory `json:"seatType"`
	Taken    bool         `json:"taken"`
}

// Label returns the row letter followed by the seat number, e.g. "A1".
func (s Seat) Label() string {
	return s.Row + strconv.Itoa(s.Number)
}

// SeatUpdate is pushed on the live channel whenever a seat is taken or freed.
// Version is optional; servers that do not send it get arrival-order semantics.
type SeatUpdate struct {
	Id       int64  `json:"id"`
	OriginId string `json:"originId"`
	Taken    bool   `json:"taken"`
	Version  int64  `json:"version,omitempty"`
}

// Expired reports whether the update signals a hold that lapsed server-side.
func (u SeatUpdate) Expired() bool {
	return u.OriginId == ExpirationOrigin
}
