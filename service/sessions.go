package service

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"seatctl/model"
)

// GetSession fetches a session with its full seat map.
func (c *Client) GetSession(ctx context.Context, sessionID int64) (model.SessionDetail, error) {
	var out model.SessionDetail
	if err := c.getJSON(ctx, fmt.Sprintf("/api/sessions/%d", sessionID), &out); err != nil {
		return model.SessionDetail{}, err
	}
	return out, nil
}

// ReserveSeat asks the server to hold seatID for clientID. A held seat yields
// a KindConflict error.
func (c *Client) ReserveSeat(ctx context.Context, sessionID int64, seatID int64, clientID string) error {
	return c.send(ctx, http.MethodPost, seatCachePath(sessionID, seatID, clientID), nil, nil)
}

// ReleaseSeat drops the hold clientID has on seatID.
func (c *Client) ReleaseSeat(ctx context.Context, sessionID int64, seatID int64, clientID string) error {
	return c.send(ctx, http.MethodDelete, seatCachePath(sessionID, seatID, clientID), nil, nil)
}

func seatCachePath(sessionID int64, seatID int64, clientID string) string {
	path := fmt.Sprintf("/api/sessions/%d/seats/%d/cache", sessionID, seatID)
	if clientID == "" {
		return path
	}
	return path + "?" + url.Values{"clientId": {clientID}}.Encode()
}
