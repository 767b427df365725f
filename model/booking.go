package model

type BookingStatus string

const (
	BookingAwaitingPayment      BookingStatus = "AWAITING_PAYMENT"
	BookingPaymentRetry         BookingStatus = "PAYMENT_RETRY"
	BookingPaymentConfirmed     BookingStatus = "PAYMENT_CONFIRMED"
	BookingAwaitingCancellation BookingStatus = "AWAITING_CANCELLATION"
	BookingCancelled            BookingStatus = "CANCELLED"
	BookingExpired              BookingStatus = "EXPIRED"
	BookingPast                 BookingStatus = "PAST"
)

// BookingRequest is the checkout payload for POST /api/bookings.
type BookingRequest struct {
	SessionId  int64   `json:"sessionId"`
	SeatIds    []int64 `json:"seatIds"`
	SuccessUrl string  `json:"successUrl"`
	CancelUrl  string  `json:"cancelUrl"`
}

type BookingResponse struct {
	BookingId   int64  `json:"bookingId"`
	CheckoutId  string `json:"checkoutId"`
	CheckoutUrl string `json:"checkoutUrl"`
}

type BookedSeat struct {
	Id       int64        `json:"id"`
	Row      string       `json:"seatRow"`
	Number   int          `json:"seatNumber"`
	Category SeatCategory `json:"seatType"`
	Price    float64      `json:"seatPrice"`
	QrCode   string       `json:"qrCode,omitempty"`
}

type BookingDetail struct {
	Id                int64         `json:"id"`
	Status            BookingStatus `json:"bookingStatus"`
	TotalPrice        float64       `json:"totalPrice"`
	CheckoutId        string        `json:"checkoutId"`
	CheckoutUrl       string        `json:"checkoutUrl"`
	CreatedAt         LocalTime     `json:"createdAt"`
	UpdatedAt         LocalTime     `json:"updatedAt"`
	ExpiresAt         LocalTime     `json:"expiresAt"`
	CheckoutCompleted bool          `json:"checkoutCompleted"`
	Movie             Movie         `json:"movie"`
	Session           MovieSession  `json:"session"`
	BookedSeats       []BookedSeat  `json:"bookedSeats"`
}

// Page mirrors the paginated envelope the API wraps list responses in.
type Page[T any] struct {
	Content       []T  `json:"content"`
	TotalPages    int  `json:"totalPages"`
	TotalElements int  `json:"totalElements"`
	Size          int  `json:"size"`
	Number        int  `json:"number"`
	First         bool `json:"first"`
	Last          bool `json:"last"`
}

type UserProfile struct {
	Id       int64  `json:"id"`
	UserName string `json:"userName"`
	Email    string `json:"email"`
	UserRole string `json:"userRole"`
}
