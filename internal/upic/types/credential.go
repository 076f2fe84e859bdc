package types

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the on-disk form of expiration dates.
const DateLayout = "2006-01-02"

// Date is a calendar date without a time-of-day component.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// dateLayouts are the forms ParseDate accepts: a bare date, and the
// timestamp forms YAML recognises (T or space separator, optional
// fraction, optional zone). Only the date part is kept.
var dateLayouts = []string{
	DateLayout,
	"2006-1-2",
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999 -07:00",
}

// ParseDate parses s with the first matching layout and returns its
// calendar date in the timestamp's own zone.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return DateOf(t), nil
		}
	}
	return Date{}, fmt.Errorf("invalid date %q", s)
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

func (d Date) After(o Date) bool { return o.Before(d) }

func (d Date) IsZero() bool { return d.Year == 0 && d.Month == 0 && d.Day == 0 }

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Field is a key/value pair the reader does not interpret. Value holds
// whatever the scalar parser produced (bool, int, float64, string, ...).
type Field struct {
	Key   string
	Value any
}

// CredentialRecord is one issued badge as read from the credential file.
type CredentialRecord struct {
	ID           string
	FullName     string
	Organization string
	Department   string

	// ExpirationDate is nil for permanent credentials and for values that
	// could not be parsed. ExpirationRaw keeps the literal text whenever
	// the key was present, so the two cases stay distinguishable.
	ExpirationDate *Date
	ExpirationRaw  string

	IsTemporary bool

	Extra []Field
}

// HasExpiration reports whether the record carried an expiration key.
func (r CredentialRecord) HasExpiration() bool {
	return r.ExpirationDate != nil || strings.TrimSpace(r.ExpirationRaw) != ""
}

// Permanent is true when no expiration was set at issuance.
func (r CredentialRecord) Permanent() bool { return !r.HasExpiration() }
