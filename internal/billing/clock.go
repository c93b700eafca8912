package billing

import "time"

// Clock supplies the current time to billing math so period boundaries and
// backoff schedules can be tested against a frozen instant.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns a Clock backed by time.Now in UTC.
func SystemClock() Clock { return systemClock{} }
