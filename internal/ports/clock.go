package ports

import "time"

// Clock abstracts time so tests can advance virtual time instead of
// sleeping. The expiry sweep, ledgers, caches and rate-limit windows all
// read time through this seam.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
