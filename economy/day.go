package economy

import (
	"fmt"
	"time"
)

// =============================================================================
// DAY - Bucket key for counter points (midnight UTC)
// =============================================================================

const DayLayout = "2006-01-02"

// Day is a calendar date truncated to midnight UTC.
type Day struct {
	t time.Time
}

// NewDay builds a day from its calendar components.
func NewDay(year int, month time.Month, day int) Day {
	return Day{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DayOf truncates t to its calendar day in t's own location.
func DayOf(t time.Time) Day {
	return NewDay(t.Year(), t.Month(), t.Day())
}

// ParseDay parses YYYY-MM-DD.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return Day{}, &InvalidArgumentError{Field: "day", Reason: fmt.Sprintf("malformed day bucket %q", s)}
	}
	return DayOf(t), nil
}

func (d Day) Time() time.Time { return d.t }
func (d Day) IsZero() bool { return d.t.IsZero() }
func (d Day) AddDays(n int) Day { return Day{t: d.t.AddDate(0, 0, n)} }
func (d Day) Before(o Day) bool { return d.t.Before(o.t) }
func (d Day) After(o Day) bool { return d.t.After(o.t) }
func (d Day) Equal(o Day) bool { return d.t.Equal(o.t) }
func (d Day) String() string { return d.t.Format(DayLayout) }
