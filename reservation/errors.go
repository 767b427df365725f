package reservation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"seatctl/service"
)

var (
	ErrSelectionLimit   = errors.New("selection limit reached")
	ErrNoSeatsSelected  = errors.New("no seats selected")
	ErrToggleInFlight   = errors.New("seat update already in progress")
	ErrUnknownSeat      = errors.New("seat does not belong to this session")
	ErrSessionClosed    = errors.New("reservation session closed")
	ErrExpired          = errors.New("reservation session expired")
	ErrConnectionFailed = errors.New("seat channel connection failed")
	// ErrUnauthorized marks a transport rejection of the channel credentials.
	ErrUnauthorized = errors.New("seat channel rejected credentials")
)

// ExpiredError is ErrExpired for a reservation window of known length.
type ExpiredError struct {
	TTL time.Duration
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("%s after %s", ErrExpired, e.TTL)
}

func (e *ExpiredError) Unwrap() error {
	return ErrExpired
}

// Op names the user-facing action an error came from.
type Op int

const (
	OpLoad Op = iota
	OpSelect
	OpDeselect
	OpCheckout
	OpChannel
)

// Notice is a human-readable rendering of a failure.
type Notice struct {
	Title   string
	Message string
	// Fatal notices end the seat-selection flow; the only way on is back.
	Fatal bool
	// Reauth notices ask the user to sign in again.
	Reauth bool
}

const (
	msgGeneric     = "Something went wrong. Please try again later."
	msgServer      = "Something went wrong on the server. Please try again later."
	msgTaken       = "This seat is already taken. Please select another seat."
	msgGone        = "This session is no longer accepting bookings."
	msgLimit       = "You can only select up to 5 seats."
	msgNoSeats     = "Please select at least one seat to continue."
	msgInFlight    = "This seat is still being updated. Please wait a moment."
	msgClosed      = "This seat selection is no longer active. Please go back to sessions."
	msgUnknownSeat = "That seat is not part of this session."
	msgReauth      = "Your login has expired. Please sign in again."
	msgConnFailed  = "Couldn't connect to the seat reservation server. Please go back to sessions and try again later."
)

func (op Op) title() string {
	switch op {
	case OpLoad:
		return "Error loading session data."
	case OpSelect:
		return "Failed to select seat"
	case OpDeselect:
		return "Failed to deselect seat"
	case OpCheckout:
		return "Failed to create booking"
	default:
		return "Connection error"
	}
}

// Describe turns err into the notice shown for op. It returns the zero
// Notice for a nil error.
func Describe(op Op, err error) Notice {
	if err == nil {
		return Notice{}
	}

	switch {
	case errors.Is(err, ErrSelectionLimit):
		return Notice{Title: "Seat limit reached", Message: msgLimit}
	case errors.Is(err, ErrNoSeatsSelected):
		return Notice{Title: "No seats selected", Message: msgNoSeats}
	case errors.Is(err, ErrToggleInFlight):
		return Notice{Title: op.title(), Message: msgInFlight}
	case errors.Is(err, ErrUnknownSeat):
		return Notice{Title: op.title(), Message: msgUnknownSeat}
	case errors.Is(err, ErrExpired):
		ttl := DefaultTTL
		var expired *ExpiredError
		if errors.As(err, &expired) && expired.TTL > 0 {
			ttl = expired.TTL
		}
		return ExpiredNotice(ttl)
	case errors.Is(err, ErrConnectionFailed):
		return Notice{Title: "Connection error", Message: msgConnFailed, Fatal: true}
	case errors.Is(err, ErrSessionClosed), errors.Is(err, context.Canceled):
		return Notice{Title: op.title(), Message: msgClosed}
	}

	status := service.StatusOf(err)
	switch service.KindOf(err) {
	case service.KindAuthExpired:
		return Notice{Title: "Sign in required", Message: msgReauth, Reauth: true}
	case service.KindConflict:
		if op == OpSelect {
			return Notice{Title: op.title(), Message: msgTaken}
		}
	case service.KindGone:
		if op != OpSelect && op != OpDeselect {
			return Notice{Title: op.title(), Message: msgGone, Fatal: true}
		}
	case service.KindServerError:
		return Notice{Title: op.title(), Message: msgServer}
	}
	if status != 0 {
		return Notice{Title: op.title(), Message: fmt.Sprintf("Failed with status %d. Please try again later.", status)}
	}
	return Notice{Title: op.title(), Message: msgGeneric}
}

// ExpiredNotice is shown once the reservation window of ttl has elapsed.
func ExpiredNotice(ttl time.Duration) Notice {
	return Notice{
		Title:   "Session Expired",
		Message: fmt.Sprintf("Your seat selection session expired after %s. Please go back to sessions to try again.", formatTTL(ttl)),
		Fatal:   true,
	}
}

func formatTTL(ttl time.Duration) string {
	if ttl < time.Minute {
		return fmt.Sprintf("%d seconds", int(math.Round(ttl.Seconds())))
	}
	minutes := ttl.Minutes()
	suffix := "s"
	if minutes == 1 {
		suffix = ""
	}
	return fmt.Sprintf("%.0f minute%s", minutes, suffix)
}
