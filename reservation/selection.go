package reservation

import (
	"seatctl/model"
)

// MaxSelectedSeats caps how many seats one user may hold in a session.
const MaxSelectedSeats = 5

// Input is one event folded into a Selection: a confirmed local hold
// outcome or a pushed seat update.
type Input interface {
	isInput()
}

// Reserved records a successful hold on a seat.
type Reserved struct {
	SeatID int64
}

// Released records a successful release of a held seat.
type Released struct {
	SeatID int64
}

// Resynced forgets the update versions seen so far, after the live channel
// reconnected to a publisher that may number updates afresh.
type Resynced struct{}

// Pushed carries a seat update received from the live channel. Self marks
// updates that echo this client's own holds.
type Pushed struct {
	Update model.SeatUpdate
	Self   bool
}

func (Reserved) isInput() {}
func (Released) isInput() {}
func (Pushed) isInput()   {}
func (Resynced) isInput() {}

// Selection is the seat map of one session together with the seats the
// local user holds, in the order they were picked. It is not safe for
// concurrent use.
type Selection struct {
	seats    []model.Seat
	index    map[int64]int
	selected []int64
	versions map[int64]int64
}

func NewSelection(seats []model.Seat) *Selection {
	s := &Selection{
		seats:    make([]model.Seat, len(seats)),
		index:    make(map[int64]int, len(seats)),
		versions: make(map[int64]int64),
	}
	copy(s.seats, seats)
	for i, seat := range s.seats {
		s.index[seat.Id] = i
	}
	return s
}

// Apply folds in into the selection and reports whether anything changed.
func (s *Selection) Apply(in Input) bool {
	switch in := in.(type) {
	case Reserved:
		if _, ok := s.index[in.SeatID]; !ok || s.IsSelected(in.SeatID) {
			return false
		}
		s.selected = append(s.selected, in.SeatID)
		return true
	case Released:
		return s.remove(in.SeatID)
	case Pushed:
		return s.push(in)
	case Resynced:
		clear(s.versions)
	}
	return false
}

func (s *Selection) push(in Pushed) bool {
	update := in.Update
	i, ok := s.index[update.Id]
	if !ok {
		return false
	}
	if update.Version > 0 {
		if last, seen := s.versions[update.Id]; seen && update.Version <= last {
			return false
		}
		s.versions[update.Id] = update.Version
	}

	changed := s.seats[i].Taken != update.Taken
	s.seats[i].Taken = update.Taken
	if !in.Self && update.Expired() {
		if s.remove(update.Id) {
			changed = true
		}
	}
	return changed
}

func (s *Selection) remove(seatID int64) bool {
	for i, id := range s.selected {
		if id == seatID {
			s.selected = append(s.selected[:i], s.selected[i+1:]...)
			return true
		}
	}
	return false
}

// CheckReserve reports whether one more seat may be reserved while pending
// reserve calls are still in flight.
func (s *Selection) CheckReserve(seatID int64, pending int) error {
	if _, ok := s.index[seatID]; !ok {
		return ErrUnknownSeat
	}
	if len(s.selected)+pending >= MaxSelectedSeats {
		return ErrSelectionLimit
	}
	return nil
}

func (s *Selection) IsSelected(seatID int64) bool {
	for _, id := range s.selected {
		if id == seatID {
			return true
		}
	}
	return false
}

func (s *Selection) Seat(seatID int64) (model.Seat, bool) {
	i, ok := s.index[seatID]
	if !ok {
		return model.Seat{}, false
	}
	return s.seats[i], true
}

func (s *Selection) Len() int {
	return len(s.selected)
}

func (s *Selection) SelectedIDs() []int64 {
	out := make([]int64, len(s.selected))
	copy(out, s.selected)
	return out
}

// Selected returns the held seats in pick order.
func (s *Selection) Selected() []model.Seat {
	out := make([]model.Seat, 0, len(s.selected))
	for _, id := range s.selected {
		out = append(out, s.seats[s.index[id]])
	}
	return out
}

// Seats returns the full seat map as last reported by the server.
func (s *Selection) Seats() []model.Seat {
	out := make([]model.Seat, len(s.seats))
	copy(out, s.seats)
	return out
}
