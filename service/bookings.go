package service

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"seatctl/model"
)

// CreateBooking turns held seats into a booking and returns the payment
// checkout to hand the user off to.
func (c *Client) CreateBooking(ctx context.Context, req model.BookingRequest) (model.BookingResponse, error) {
	var out model.BookingResponse
	if err := c.send(ctx, http.MethodPost, "/api/bookings", req, &out); err != nil {
		return model.BookingResponse{}, err
	}
	return out, nil
}

// GetBookings lists the user's bookings. An empty status or "all" returns
// every booking; the statuses the server splits into two are merged back.
func (c *Client) GetBookings(ctx context.Context, page int, status string) (model.Page[model.BookingDetail], error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("statuses", strings.Join(expandStatuses(status), ","))

	var out model.Page[model.BookingDetail]
	if err := c.getJSON(ctx, "/api/bookings?"+params.Encode(), &out); err != nil {
		return model.Page[model.BookingDetail]{}, err
	}
	return out, nil
}

func expandStatuses(status string) []string {
	status = strings.ToUpper(strings.TrimSpace(status))
	if status == "" || status == "ALL" {
		return nil
	}
	statuses := []string{status}
	switch model.BookingStatus(status) {
	case model.BookingAwaitingPayment:
		statuses = append(statuses, string(model.BookingPaymentRetry))
	case model.BookingCancelled:
		statuses = append(statuses, string(model.BookingAwaitingCancellation))
	}
	return statuses
}

// CancelBooking requests cancellation of a booking.
func (c *Client) CancelBooking(ctx context.Context, bookingID int64) error {
	return c.send(ctx, http.MethodPatch, fmt.Sprintf("/api/bookings/%d/cancel", bookingID), nil, nil)
}

// TryConfirmingPayment asks the server to reconcile a booking with its
// checkout. It reports whether the payment is now confirmed.
func (c *Client) TryConfirmingPayment(ctx context.Context, bookingID int64, checkoutID string) (bool, error) {
	body := map[string]any{"checkoutId": nil}
	if checkoutID != "" {
		body["checkoutId"] = checkoutID
	}
	var confirmed bool
	if err := c.send(ctx, http.MethodPatch, fmt.Sprintf("/api/bookings/%d/try-confirming", bookingID), body, &confirmed); err != nil {
		return false, err
	}
	return confirmed, nil
}
