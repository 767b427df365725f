package reservation

import "time"

// Clock is the time source for the reservation TTL and reconnect backoff.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
	After(d time.Duration) <-chan time.Time
}

type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
