package devserver

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"seatctl/model"
)

const (
	accessCookie  = "accessToken"
	refreshCookie = "refreshToken"
	ctxUserID     = "user_id"
)

func (s *Server) routes() {
	e := s.echo
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	auth := e.Group("/api/auth")
	auth.POST("/login", s.login)
	auth.POST("/signup", s.signup)
	auth.POST("/refresh-token", s.refreshToken)
	auth.DELETE("/logout", s.logout)
	auth.GET("/check", s.check, s.requireUser)
	auth.POST("/ws", s.channelToken, s.requireUser)

	e.GET("/api/users/fromToken", s.profile, s.requireUser)

	e.GET("/api/movies", s.listMovies)
	e.GET("/api/movies/:id", s.getMovie)
	e.GET("/api/movies/:id/sessions", s.listMovieSessions)
	e.GET("/api/sessions/:id", s.getSession)
	e.POST("/api/sessions/:id/seats/:seatId/cache", s.reserveSeat, s.requireUser)
	e.DELETE("/api/sessions/:id/seats/:seatId/cache", s.releaseSeat, s.requireUser)

	bookings := e.Group("/api/bookings", s.requireUser)
	bookings.POST("", s.createBooking)
	bookings.GET("", s.listBookings)
	bookings.PATCH("/:id/cancel", s.cancelBooking)
	bookings.PATCH("/:id/try-confirming", s.confirmBooking)

	e.GET("/checkout/:checkoutId", s.completeCheckout)
	e.GET("/ws/seats/websocket", echo.WrapHandler(s.broker))
}

// requireUser admits requests carrying a valid access cookie.
func (s *Server) requireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		cookie, err := c.Cookie(accessCookie)
		if err != nil || cookie.Value == "" {
			return fmt.Errorf("missing access token: %w", ErrUnauthorized)
		}
		cl, err := s.tokens.Parse(cookie.Value, kindAccess)
		if err != nil {
			return err
		}
		c.Set(ctxUserID, cl.UserID)
		return next(c)
	}
}

func userID(c echo.Context) int64 {
	id, _ := c.Get(ctxUserID).(int64)
	return id
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signupRequest struct {
	UserName string `json:"userName"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	profile, err := s.catalog.Authenticate(req.Email, req.Password)
	if err != nil {
		return fmt.Errorf("invalid email or password: %w", ErrUnauthorized)
	}
	if err := s.issueCookies(c, profile, s.catalog.GrantRefresh(profile.Id)); err != nil {
		return err
	}
	s.logger.Info("user signed in", zap.Int64("user", profile.Id))
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) signup(c echo.Context) error {
	var req signupRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	id, err := s.catalog.Signup(req.UserName, req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, id)
}

func (s *Server) refreshToken(c echo.Context) error {
	cookie, err := c.Cookie(refreshCookie)
	if err != nil || cookie.Value == "" {
		return fmt.Errorf("missing refresh token: %w", ErrUnauthorized)
	}
	id, rotated, err := s.catalog.RotateRefresh(cookie.Value)
	if err != nil {
		return err
	}
	profile, err := s.catalog.User(id)
	if err != nil {
		return fmt.Errorf("unknown user: %w", ErrUnauthorized)
	}
	if err := s.issueCookies(c, profile, rotated); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) logout(c echo.Context) error {
	if cookie, err := c.Cookie(refreshCookie); err == nil {
		s.catalog.RevokeRefresh(cookie.Value)
	}
	for _, name := range []string{accessCookie, refreshCookie} {
		c.SetCookie(sessionCookie(name, "", -1))
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) check(c echo.Context) error {
	return c.NoContent(http.StatusNoContent)
}

// channelToken issues the bearer token the seat channel connects with.
func (s *Server) channelToken(c echo.Context) error {
	clientID := strings.TrimSpace(c.QueryParam("clientId"))
	if clientID == "" {
		return fmt.Errorf("clientId is required: %w", ErrBadRequest)
	}
	token, err := s.tokens.Channel(userID(c), clientID)
	if err != nil {
		return err
	}
	return c.String(http.StatusCreated, token)
}

func (s *Server) profile(c echo.Context) error {
	profile, err := s.catalog.User(userID(c))
	if err != nil {
		return fmt.Errorf("unknown user: %w", ErrUnauthorized)
	}
	return c.JSON(http.StatusOK, profile)
}

func (s *Server) issueCookies(c echo.Context, profile model.UserProfile, refresh string) error {
	access, _, err := s.tokens.Access(profile.Id, profile.UserRole)
	if err != nil {
		return err
	}
	c.SetCookie(sessionCookie(accessCookie, access, int(s.cfg.TokenTTL.Seconds())))
	c.SetCookie(sessionCookie(refreshCookie, refresh, int(refreshTTL.Seconds())))
	return nil
}

func sessionCookie(name string, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

func (s *Server) listMovies(c echo.Context) error {
	page, err := queryPage(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.catalog.Movies(c.QueryParam("search"), splitList(c.QueryParam("genres")), page))
}

func (s *Server) getMovie(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	movie, err := s.catalog.Movie(id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, movie)
}

func (s *Server) listMovieSessions(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	page, err := queryPage(c)
	if err != nil {
		return err
	}
	sessions, err := s.catalog.MovieSessions(id, page)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sessions)
}

// getSession marks seats with a live hold as taken.
func (s *Server) getSession(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	holders, err := s.holds.Holders(c.Request().Context(), id, s.catalog.SeatIDs(id))
	if err != nil {
		return err
	}
	held := make(map[int64]bool, len(holders))
	for seatID := range holders {
		held[seatID] = true
	}
	detail, err := s.catalog.Session(id, held)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, detail)
}

func (s *Server) seatParams(c echo.Context) (int64, int64, string, error) {
	sessionID, err := pathID(c, "id")
	if err != nil {
		return 0, 0, "", err
	}
	seatID, err := pathID(c, "seatId")
	if err != nil {
		return 0, 0, "", err
	}
	return sessionID, seatID, strings.TrimSpace(c.QueryParam("clientId")), nil
}

func (s *Server) reserveSeat(c echo.Context) error {
	sessionID, seatID, clientID, err := s.seatParams(c)
	if err != nil {
		return err
	}
	if err := s.catalog.CheckHoldable(sessionID, seatID); err != nil {
		return err
	}
	if err := s.holds.Reserve(c.Request().Context(), sessionID, seatID, userID(c)); err != nil {
		return err
	}
	s.broker.Publish(sessionID, model.SeatUpdate{Id: seatID, OriginId: clientID, Taken: true})
	return c.NoContent(http.StatusCreated)
}

func (s *Server) releaseSeat(c echo.Context) error {
	sessionID, seatID, clientID, err := s.seatParams(c)
	if err != nil {
		return err
	}
	released, err := s.holds.Release(c.Request().Context(), sessionID, seatID, userID(c))
	if err != nil {
		return err
	}
	if released {
		s.broker.Publish(sessionID, model.SeatUpdate{Id: seatID, OriginId: clientID})
	}
	return c.NoContent(http.StatusNoContent)
}

// createBooking books the seats, converting the caller's holds on them into
// the booking.
func (s *Server) createBooking(c echo.Context) error {
	var req model.BookingRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	ctx := c.Request().Context()
	uid := userID(c)

	holders, err := s.holds.Holders(ctx, req.SessionId, req.SeatIds)
	if err != nil {
		return err
	}
	heldByOthers := map[int64]bool{}
	for seatID, holder := range holders {
		if holder != uid {
			heldByOthers[seatID] = true
		}
	}

	res, err := s.catalog.CreateBooking(uid, req, heldByOthers, c.Scheme()+"://"+c.Request().Host)
	if err != nil {
		return err
	}
	for _, seatID := range req.SeatIds {
		if _, err := s.holds.Release(ctx, req.SessionId, seatID, uid); err != nil {
			s.logger.Warn("dropping booked seat hold", zap.Int64("seat", seatID), zap.Error(err))
		}
		s.broker.Publish(req.SessionId, model.SeatUpdate{Id: seatID, OriginId: OriginBooking, Taken: true})
	}
	s.logger.Info("booking created", zap.Int64("booking", res.BookingId), zap.Int64("user", uid), zap.Int("seats", len(req.SeatIds)))
	return c.JSON(http.StatusCreated, res)
}

func (s *Server) listBookings(c echo.Context) error {
	page, err := queryPage(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.catalog.Bookings(userID(c), splitList(c.QueryParam("statuses")), page))
}

func (s *Server) cancelBooking(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	sessionID, seatIDs, err := s.catalog.CancelBooking(userID(c), id)
	if err != nil {
		return err
	}
	for _, seatID := range seatIDs {
		s.broker.Publish(sessionID, model.SeatUpdate{Id: seatID, OriginId: OriginCancel})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) confirmBooking(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req struct {
		CheckoutID *string `json:"checkoutId"`
	}
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	checkoutID := ""
	if req.CheckoutID != nil {
		checkoutID = *req.CheckoutID
	}
	paid, err := s.catalog.ConfirmPayment(userID(c), id, checkoutID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, paid)
}

// completeCheckout stands in for the payment page.
func (s *Server) completeCheckout(c echo.Context) error {
	bookingID, err := s.catalog.CompleteCheckout(c.Param("checkoutId"))
	if err != nil {
		return err
	}
	return c.String(http.StatusOK, fmt.Sprintf("Booking %d is paid. You can close this tab.\n", bookingID))
}

func pathID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q: %w", name, c.Param(name), ErrBadRequest)
	}
	return id, nil
}

func queryPage(c echo.Context) (int, error) {
	raw := c.QueryParam("page")
	if raw == "" {
		return 0, nil
	}
	page, err := strconv.Atoi(raw)
	if err != nil || page < 0 {
		return 0, fmt.Errorf("invalid page %q: %w", raw, ErrBadRequest)
	}
	return page, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
