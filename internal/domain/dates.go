package domain

import "time"

const (
	DateLayout   = "2006-01-02"
	PeriodLayout = "2006-01"
)

// Date truncates t to its calendar day in t's location and returns that day
// at UTC midnight, the form DATE columns are scanned into.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddMonths moves a date forward by whole months, clamping to the last day of
// the target month (Jan 31 + 1 month = Feb 28 or 29).
func AddMonths(date time.Time, months int) time.Time {
	y, m, d := date.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, date.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, date.Location())
}

// ValidityWindow holds the dates stamped on a coupon issued on a given day.
type ValidityWindow struct {
	IssuedAt  time.Time
	ExpiresAt time.Time
	Period    string
}

// NewValidityWindow computes the window for a request made at now: usable from
// the next day, void after one calendar month.
func NewValidityWindow(now time.Time) ValidityWindow {
	today := Date(now)
	return ValidityWindow{
		IssuedAt:  today.AddDate(0, 0, 1),
		ExpiresAt: AddMonths(today, 1),
		Period:    today.Format(PeriodLayout),
	}
}
