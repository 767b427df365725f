package devserver

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"seatctl/model"
)

const (
	pageSize       = 10
	bookingExpiry  = 10 * time.Minute
	refreshTTL     = 7 * 24 * time.Hour
	customerRole   = "CUSTOMER"
	seedUserEmail  = "demo@seatctl.dev"
	seedUserPass   = "demo1234"
	seedUserName   = "demo"
	checkoutPrefix = "cs_dev_"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrGone         = errors.New("session already started")
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("unauthorized")
)

type user struct {
	id           int64
	userName     string
	email        string
	passwordHash []byte
	role         string
}

func (u *user) profile() model.UserProfile {
	return model.UserProfile{Id: u.id, UserName: u.userName, Email: u.email, UserRole: u.role}
}

type screening struct {
	session model.MovieSession
	movieID int64
	seats   []model.Seat
}

type booking struct {
	detail    model.BookingDetail
	userID    int64
	sessionID int64
	seatIDs   []int64
}

type refreshGrant struct {
	userID    int64
	expiresAt time.Time
}

// Catalog is the in-memory state of the development backend: movies,
// sessions, users and bookings.
type Catalog struct {
	mu         sync.RWMutex
	now        func() time.Time
	cutoff     time.Duration
	movies     []model.Movie
	screenings map[int64]*screening
	users      map[int64]*user
	byEmail    map[string]int64
	bookings   map[int64]*booking
	booked     map[int64]map[int64]int64
	refresh    map[string]refreshGrant
	nextUserID int64
	nextBooked int64
}

// NewCatalog seeds a small catalog relative to now. Sessions stop taking
// holds and bookings cutoff after they start.
func NewCatalog(now func() time.Time, cutoff time.Duration) (*Catalog, error) {
	if now == nil {
		now = time.Now
	}
	c := &Catalog{
		now:        now,
		cutoff:     cutoff,
		screenings: make(map[int64]*screening),
		users:      make(map[int64]*user),
		byEmail:    make(map[string]int64),
		bookings:   make(map[int64]*booking),
		booked:     make(map[int64]map[int64]int64),
		refresh:    make(map[string]refreshGrant),
		nextUserID: 1,
		nextBooked: 1,
	}
	if _, err := c.Signup(seedUserName, seedUserEmail, seedUserPass); err != nil {
		return nil, fmt.Errorf("seed user: %w", err)
	}
	c.seed()
	return c, nil
}

func (c *Catalog) seed() {
	c.movies = []model.Movie{
		{Id: 1, Title: "Arrival", Genre: "SCIENCE_FICTION", FormattedDuration: "1h 56m", IsOnDisplay: true, HasSessions: true, ReleaseDate: "2016-11-11"},
		{Id: 2, Title: "Paddington 2", Genre: "FAMILY", FormattedDuration: "1h 43m", IsOnDisplay: true, HasSessions: true, ReleaseDate: "2017-11-10"},
		{Id: 3, Title: "Heat", Genre: "CRIME", FormattedDuration: "2h 50m", IsOnDisplay: true, HasSessions: true, ReleaseDate: "1995-12-15"},
		{Id: 4, Title: "The Third Man", Genre: "THRILLER", FormattedDuration: "1h 44m", IsOnDisplay: true, ReleaseDate: "1949-09-02"},
	}

	type theater struct {
		id      int64
		name    string
		address string
	}
	downtown := theater{1, "Downtown Cinema", "1 Main St"}
	harbor := theater{2, "Harbor Screens", "40 Pier Rd"}

	today := c.now().Truncate(time.Hour)
	nextID := int64(1)
	add := func(movieID int64, t theater, screen string, start time.Time, audio string, threeD bool) {
		id := nextID
		nextID++
		c.screenings[id] = &screening{
			movieID: movieID,
			seats:   seatPlan(id),
			session: model.MovieSession{
				Id:                id,
				StartTime:         model.LocalTime{Time: start},
				EndTime:           model.LocalTime{Time: start.Add(2 * time.Hour)},
				AudioLanguage:     audio,
				HasSubtitles:      audio != "English",
				ThreeD:            threeD,
				StandardSeatPrice: 10,
				VipSeatPrice:      15,
				PwdSeatPrice:      8,
				TheaterId:         t.id,
				TheaterName:       t.name,
				TheaterAddress:    t.address,
				ScreenName:        screen,
				HasFreeSeats:      true,
			},
		}
	}
	add(1, downtown, "Screen 1", today.Add(3*time.Hour), "English", false)
	add(1, harbor, "Hall A", today.Add(5*time.Hour), "English", true)
	add(1, downtown, "Screen 2", today.Add(27*time.Hour), "French", false)
	add(2, harbor, "Hall B", today.Add(2*time.Hour), "English", false)
	add(2, downtown, "Screen 1", today.Add(26*time.Hour), "English", false)
	add(3, downtown, "Screen 3", today.Add(4*time.Hour), "English", false)
	// Already running; holds and bookings are refused.
	add(3, harbor, "Hall A", c.now().Add(-2*c.cutoff-time.Minute), "English", false)
}

// seatPlan lays out rows A-F of ten seats. Row A has PWD places at both
// ends and row F is VIP.
func seatPlan(sessionID int64) []model.Seat {
	const rows = "ABCDEF"
	seats := make([]model.Seat, 0, len(rows)*10)
	for r, row := range rows {
		for n := 1; n <= 10; n++ {
			category := model.SeatStandard
			switch {
			case row == 'A' && (n <= 2 || n >= 9):
				category = model.SeatPWD
			case row == 'F':
				category = model.SeatVIP
			}
			seats = append(seats, model.Seat{
				Id:       sessionID*1000 + int64(r*10+n),
				Row:      string(row),
				Number:   n,
				Category: category,
			})
		}
	}
	return seats
}

// Movies pages through the catalog, filtered by a case-insensitive title
// search and a set of genres.
func (c *Catalog) Movies(search string, genres []string, page int) model.Page[model.Movie] {
	c.mu.RLock()
	defer c.mu.RUnlock()

	search = strings.ToLower(strings.TrimSpace(search))
	wanted := map[string]bool{}
	for _, g := range genres {
		if g = strings.ToUpper(strings.TrimSpace(g)); g != "" {
			wanted[g] = true
		}
	}

	var matched []model.Movie
	for _, movie := range c.movies {
		if search != "" && !strings.Contains(strings.ToLower(movie.Title), search) {
			continue
		}
		if len(wanted) > 0 && !wanted[movie.Genre] {
			continue
		}
		movie.HasSessions = c.hasUpcomingLocked(movie.Id)
		matched = append(matched, movie)
	}
	return paginate(matched, page)
}

func (c *Catalog) Movie(id int64) (model.Movie, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, movie := range c.movies {
		if movie.Id == id {
			movie.HasSessions = c.hasUpcomingLocked(id)
			return movie, nil
		}
	}
	return model.Movie{}, ErrNotFound
}

// MovieSessions lists the sessions of a movie that have not passed their
// cutoff, in start order.
func (c *Catalog) MovieSessions(movieID int64, page int) (model.Page[model.MovieSession], error) {
	if _, err := c.Movie(movieID); err != nil {
		return model.Page[model.MovieSession]{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	var sessions []model.MovieSession
	for _, s := range c.screenings {
		if s.movieID != movieID || c.pastCutoffLocked(s) {
			continue
		}
		session := s.session
		session.HasFreeSeats = len(c.booked[session.Id]) < len(s.seats)
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartTime.Before(sessions[j].StartTime.Time)
	})
	return paginate(sessions, page), nil
}

// Session returns the seat map of a session. held marks seats with a live
// hold; booked seats are always taken.
func (c *Catalog) Session(id int64, held map[int64]bool) (model.SessionDetail, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.screenings[id]
	if !ok {
		return model.SessionDetail{}, ErrNotFound
	}
	movie, _ := c.movieLocked(s.movieID)

	seats := make([]model.Seat, len(s.seats))
	for i, seat := range s.seats {
		_, booked := c.booked[id][seat.Id]
		seat.Taken = booked || held[seat.Id]
		seats[i] = seat
	}
	session := s.session
	return model.SessionDetail{
		Id:                session.Id,
		StartTime:         session.StartTime,
		EndTime:           session.EndTime,
		AudioLanguage:     session.AudioLanguage,
		HasSubtitles:      session.HasSubtitles,
		ThreeD:            session.ThreeD,
		StandardSeatPrice: session.StandardSeatPrice,
		VipSeatPrice:      session.VipSeatPrice,
		PwdSeatPrice:      session.PwdSeatPrice,
		TheaterId:         session.TheaterId,
		TheaterName:       session.TheaterName,
		TheaterAddress:    session.TheaterAddress,
		ScreenName:        session.ScreenName,
		Movie:             movie,
		Seats:             seats,
	}, nil
}

// SeatIDs returns the ids of every seat in a session.
func (c *Catalog) SeatIDs(sessionID int64) []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.screenings[sessionID]
	if !ok {
		return nil
	}
	ids := make([]int64, len(s.seats))
	for i, seat := range s.seats {
		ids[i] = seat.Id
	}
	return ids
}

// CheckHoldable reports whether a seat may be held right now: the session
// must exist and not have passed its cutoff, and the seat must not be
// booked.
func (c *Catalog) CheckHoldable(sessionID int64, seatID int64) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.screenings[sessionID]
	if !ok {
		return ErrNotFound
	}
	if !s.hasSeat(seatID) {
		return fmt.Errorf("seat %d: %w", seatID, ErrNotFound)
	}
	if c.pastCutoffLocked(s) {
		return ErrGone
	}
	if _, booked := c.booked[sessionID][seatID]; booked {
		return fmt.Errorf("seat %d already booked: %w", seatID, ErrConflict)
	}
	return nil
}

// CreateBooking books seats for a user. heldByOthers lists the seats that
// another user currently holds.
func (c *Catalog) CreateBooking(userID int64, req model.BookingRequest, heldByOthers map[int64]bool, checkoutBase string) (model.BookingResponse, error) {
	if len(req.SeatIds) == 0 {
		return model.BookingResponse{}, fmt.Errorf("no seats: %w", ErrBadRequest)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.users[userID]; !ok {
		return model.BookingResponse{}, ErrUnauthorized
	}
	s, ok := c.screenings[req.SessionId]
	if !ok {
		return model.BookingResponse{}, ErrNotFound
	}
	if c.pastCutoffLocked(s) {
		return model.BookingResponse{}, ErrGone
	}

	seen := map[int64]bool{}
	var seats []model.BookedSeat
	total := 0.0
	for _, seatID := range req.SeatIds {
		seat, ok := s.seat(seatID)
		if !ok || seen[seatID] {
			return model.BookingResponse{}, fmt.Errorf("seat %d: %w", seatID, ErrNotFound)
		}
		seen[seatID] = true
		if _, booked := c.booked[req.SessionId][seatID]; booked || heldByOthers[seatID] {
			return model.BookingResponse{}, fmt.Errorf("seat %d unavailable: %w", seatID, ErrConflict)
		}
		price := priceOf(s.session, seat.Category)
		total += price
		seats = append(seats, model.BookedSeat{Id: seat.Id, Row: seat.Row, Number: seat.Number, Category: seat.Category, Price: price})
	}

	id := c.nextBooked
	c.nextBooked++
	now := c.now()
	checkoutID := checkoutPrefix + uuid.NewString()
	movie, _ := c.movieLocked(s.movieID)
	b := &booking{
		userID:    userID,
		sessionID: req.SessionId,
		seatIDs:   append([]int64(nil), req.SeatIds...),
		detail: model.BookingDetail{
			Id:          id,
			Status:      model.BookingAwaitingPayment,
			TotalPrice:  total,
			CheckoutId:  checkoutID,
			CheckoutUrl: strings.TrimRight(checkoutBase, "/") + "/checkout/" + checkoutID,
			CreatedAt:   model.LocalTime{Time: now},
			UpdatedAt:   model.LocalTime{Time: now},
			ExpiresAt:   model.LocalTime{Time: now.Add(bookingExpiry)},
			Movie:       movie,
			Session:     s.session,
			BookedSeats: seats,
		},
	}
	c.bookings[id] = b
	if c.booked[req.SessionId] == nil {
		c.booked[req.SessionId] = make(map[int64]int64)
	}
	for _, seatID := range req.SeatIds {
		c.booked[req.SessionId][seatID] = id
	}

	return model.BookingResponse{BookingId: id, CheckoutId: checkoutID, CheckoutUrl: b.detail.CheckoutUrl}, nil
}

// Bookings pages through a user's bookings, newest first. An empty status
// list matches every booking.
func (c *Catalog) Bookings(userID int64, statuses []string, page int) model.Page[model.BookingDetail] {
	c.mu.Lock()
	defer c.mu.Unlock()

	wanted := map[model.BookingStatus]bool{}
	for _, s := range statuses {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			wanted[model.BookingStatus(s)] = true
		}
	}

	var out []model.BookingDetail
	for _, b := range c.bookings {
		if b.userID != userID {
			continue
		}
		c.expireLocked(b)
		if len(wanted) > 0 && !wanted[b.detail.Status] {
			continue
		}
		out = append(out, b.detail)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id > out[j].Id })
	return paginate(out, page)
}

// CancelBooking cancels a user's unpaid or paid booking and frees its seats,
// which are returned.
func (c *Catalog) CancelBooking(userID int64, bookingID int64) (int64, []int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.bookings[bookingID]
	if !ok || b.userID != userID {
		return 0, nil, ErrNotFound
	}
	c.expireLocked(b)
	switch b.detail.Status {
	case model.BookingCancelled, model.BookingAwaitingCancellation, model.BookingExpired, model.BookingPast:
		return 0, nil, fmt.Errorf("booking is %s: %w", strings.ToLower(string(b.detail.Status)), ErrGone)
	}
	b.detail.Status = model.BookingCancelled
	b.detail.UpdatedAt = model.LocalTime{Time: c.now()}
	c.freeLocked(b)
	return b.sessionID, b.seatIDs, nil
}

// ConfirmPayment reports whether a booking is paid, settling it first when
// checkoutID matches its checkout.
func (c *Catalog) ConfirmPayment(userID int64, bookingID int64, checkoutID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.bookings[bookingID]
	if !ok || b.userID != userID {
		return false, ErrNotFound
	}
	if checkoutID != "" && checkoutID == b.detail.CheckoutId {
		c.payLocked(b)
	}
	return b.detail.Status == model.BookingPaymentConfirmed, nil
}

// CompleteCheckout settles the booking behind a checkout id, standing in
// for the payment provider's redirect.
func (c *Catalog) CompleteCheckout(checkoutID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range c.bookings {
		if b.detail.CheckoutId != checkoutID {
			continue
		}
		c.expireLocked(b)
		if b.detail.Status == model.BookingExpired || b.detail.Status == model.BookingCancelled {
			return 0, ErrGone
		}
		c.payLocked(b)
		return b.detail.Id, nil
	}
	return 0, ErrNotFound
}

func (c *Catalog) payLocked(b *booking) {
	if b.detail.Status != model.BookingAwaitingPayment && b.detail.Status != model.BookingPaymentRetry {
		return
	}
	b.detail.Status = model.BookingPaymentConfirmed
	b.detail.CheckoutCompleted = true
	b.detail.UpdatedAt = model.LocalTime{Time: c.now()}
}

// expireLocked lapses an unpaid booking whose checkout window closed.
func (c *Catalog) expireLocked(b *booking) {
	if b.detail.Status != model.BookingAwaitingPayment && b.detail.Status != model.BookingPaymentRetry {
		return
	}
	if c.now().Before(b.detail.ExpiresAt.Time) {
		return
	}
	b.detail.Status = model.BookingExpired
	b.detail.UpdatedAt = model.LocalTime{Time: c.now()}
	c.freeLocked(b)
}

func (c *Catalog) freeLocked(b *booking) {
	for _, seatID := range b.seatIDs {
		if c.booked[b.sessionID][seatID] == b.detail.Id {
			delete(c.booked[b.sessionID], seatID)
		}
	}
}

// Signup registers a customer and returns its id.
func (c *Catalog) Signup(userName string, email string, password string) (int64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	userName = strings.TrimSpace(userName)
	if email == "" || userName == "" || len(password) < 6 {
		return 0, fmt.Errorf("user name, email and a password of at least 6 characters are required: %w", ErrBadRequest)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.byEmail[email]; exists {
		return 0, fmt.Errorf("email %s: %w", email, ErrConflict)
	}
	id := c.nextUserID
	c.nextUserID++
	c.users[id] = &user{id: id, userName: userName, email: email, passwordHash: hash, role: customerRole}
	c.byEmail[email] = id
	return id, nil
}

// Authenticate checks credentials and returns the user's profile.
func (c *Catalog) Authenticate(email string, password string) (model.UserProfile, error) {
	c.mu.RLock()
	id, ok := c.byEmail[strings.ToLower(strings.TrimSpace(email))]
	u := c.users[id]
	c.mu.RUnlock()
	if !ok || u == nil {
		return model.UserProfile{}, ErrUnauthorized
	}
	if bcrypt.CompareHashAndPassword(u.passwordHash, []byte(password)) != nil {
		return model.UserProfile{}, ErrUnauthorized
	}
	return u.profile(), nil
}

func (c *Catalog) User(id int64) (model.UserProfile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.users[id]
	if !ok {
		return model.UserProfile{}, ErrNotFound
	}
	return u.profile(), nil
}

// GrantRefresh issues an opaque refresh token for a user.
func (c *Catalog) GrantRefresh(userID int64) string {
	token := uuid.NewString()
	c.mu.Lock()
	c.refresh[token] = refreshGrant{userID: userID, expiresAt: c.now().Add(refreshTTL)}
	c.mu.Unlock()
	return token
}

// RotateRefresh exchanges a refresh token for the user id and a new token.
func (c *Catalog) RotateRefresh(token string) (int64, string, error) {
	c.mu.Lock()
	grant, ok := c.refresh[token]
	delete(c.refresh, token)
	c.mu.Unlock()
	if !ok || !c.now().Before(grant.expiresAt) {
		return 0, "", ErrUnauthorized
	}
	return grant.userID, c.GrantRefresh(grant.userID), nil
}

// RefreshValid reports whether token is a live refresh token.
func (c *Catalog) RefreshValid(token string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	grant, ok := c.refresh[token]
	return ok && c.now().Before(grant.expiresAt)
}

func (c *Catalog) RevokeRefresh(token string) {
	c.mu.Lock()
	delete(c.refresh, token)
	c.mu.Unlock()
}

func (c *Catalog) movieLocked(id int64) (model.Movie, bool) {
	for _, movie := range c.movies {
		if movie.Id == id {
			return movie, true
		}
	}
	return model.Movie{}, false
}

func (c *Catalog) hasUpcomingLocked(movieID int64) bool {
	for _, s := range c.screenings {
		if s.movieID == movieID && !c.pastCutoffLocked(s) {
			return true
		}
	}
	return false
}

func (c *Catalog) pastCutoffLocked(s *screening) bool {
	return s.session.StartTime.Add(c.cutoff).Before(c.now())
}

func (s *screening) seat(id int64) (model.Seat, bool) {
	for _, seat := range s.seats {
		if seat.Id == id {
			return seat, true
		}
	}
	return model.Seat{}, false
}

func (s *screening) hasSeat(id int64) bool {
	_, ok := s.seat(id)
	return ok
}

func priceOf(session model.MovieSession, category model.SeatCategory) float64 {
	switch category {
	case model.SeatVIP:
		return session.VipSeatPrice
	case model.SeatPWD:
		return session.PwdSeatPrice
	}
	return session.StandardSeatPrice
}

func paginate[T any](items []T, page int) model.Page[T] {
	if page < 0 {
		page = 0
	}
	total := len(items)
	pages := (total + pageSize - 1) / pageSize
	start := min(page*pageSize, total)
	end := min(start+pageSize, total)
	content := items[start:end]
	if content == nil {
		content = []T{}
	}
	return model.Page[T]{
		Content:       content,
		TotalPages:    pages,
		TotalElements: total,
		Size:          pageSize,
		Number:        page,
		First:         page == 0,
		Last:          page >= pages-1,
	}
}
