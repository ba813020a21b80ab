package clock

import "time"

// Clock abstracts time so billing windows can be tested deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func New() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now().UTC() }

// StartOfMonth returns midnight UTC of the first day of t's month.
func StartOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// StartOfCurrentMonth is StartOfMonth(c.Now()).
func StartOfCurrentMonth(c Clock) time.Time {
	return StartOfMonth(c.Now())
}
