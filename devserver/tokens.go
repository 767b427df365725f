package devserver

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenIssuer     = "seatctl-devserver"
	kindAccess      = "access"
	kindChannel     = "ws"
	channelTokenTTL = 2 * time.Minute
)

type claims struct {
	UserID   int64  `json:"userId"`
	Role     string `json:"role,omitempty"`
	ClientID string `json:"clientId,omitempty"`
	Kind     string `json:"kind"`
	jwt.RegisteredClaims
}

// tokens signs and checks the HS256 JWTs the devserver hands out.
type tokens struct {
	secret    []byte
	accessTTL time.Duration
	now       func() time.Time
}

func newTokens(secret string, accessTTL time.Duration, now func() time.Time) *tokens {
	if now == nil {
		now = time.Now
	}
	return &tokens{secret: []byte(secret), accessTTL: accessTTL, now: now}
}

func (t *tokens) sign(c claims, ttl time.Duration) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(ttl)
	c.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   strconv.FormatInt(c.UserID, 10),
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Access issues the token carried in the accessToken cookie.
func (t *tokens) Access(userID int64, role string) (string, time.Time, error) {
	return t.sign(claims{UserID: userID, Role: "ROLE_" + role, Kind: kindAccess}, t.accessTTL)
}

// Channel issues the short-lived token the seat channel presents on CONNECT.
func (t *tokens) Channel(userID int64, clientID string) (string, error) {
	signed, _, err := t.sign(claims{UserID: userID, ClientID: clientID, Kind: kindChannel}, channelTokenTTL)
	return signed, err
}

// Parse validates raw and checks that it is a token of the given kind.
func (t *tokens) Parse(raw string, kind string) (claims, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(tok *jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return claims{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if c.Kind != kind || c.UserID == 0 {
		return claims{}, fmt.Errorf("%w: wrong token kind", ErrUnauthorized)
	}
	return c, nil
}
